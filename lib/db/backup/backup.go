package backup

import (
	"bufio"
	"encoding/binary"
	"io"

	"github.com/ValentinKolb/nsKV/lib/db"
	"github.com/cockroachdb/errors"
	"github.com/lni/dragonboat/v4/logger"
)

var log = logger.GetLogger("backup")

// --------------------------------------------------------------------------
// Constants
// --------------------------------------------------------------------------

const (
	magicNum      = "NSKVDMP\x00"
	formatVersion = 1

	tagRecord uint8 = 1
	tagEnd    uint8 = 0

	bufferSize = 1024 * 1024 // 1 MB
	batchSize  = 1000        // entries per PutAll on load
)

// --------------------------------------------------------------------------
// Save
// --------------------------------------------------------------------------

// Save writes the content of the given namespaces (all namespaces if none
// are given) to w and returns the number of entries written.
//
// Format (little endian):
//
//	magic "NSKVDMP\x00" | version uint8
//	{ tag=1 uint8 | ns uint16+bytes | key uint16+bytes | value uint32+bytes }*
//	tag=0 uint8 | count uint64
func Save(s db.Store, w io.Writer, namespaces ...db.Namespace) (count uint64, err error) {
	if len(namespaces) == 0 {
		namespaces = db.Namespaces()
	}

	bw := bufio.NewWriterSize(w, bufferSize)

	// Write file header
	if _, err := bw.WriteString(magicNum); err != nil {
		return 0, err
	}
	if err := binary.Write(bw, binary.LittleEndian, uint8(formatVersion)); err != nil {
		return 0, err
	}

	for _, ns := range namespaces {
		err := db.ForEach(s, ns, func(item db.TransactionItem) error {
			count++
			return writeRecord(bw, item)
		})
		if err != nil {
			return count, err
		}
	}

	// Write trailer
	if err := binary.Write(bw, binary.LittleEndian, tagEnd); err != nil {
		return count, err
	}
	if err := binary.Write(bw, binary.LittleEndian, count); err != nil {
		return count, err
	}

	if err := bw.Flush(); err != nil {
		return count, err
	}
	log.Infof("saved %d entries of %d namespaces", count, len(namespaces))
	return count, nil
}

func writeRecord(w *bufio.Writer, item db.TransactionItem) error {
	if err := binary.Write(w, binary.LittleEndian, tagRecord); err != nil {
		return err
	}
	if err := writeString16(w, string(item.Namespace)); err != nil {
		return err
	}
	if err := writeString16(w, item.Key); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(len(item.Value))); err != nil {
		return err
	}
	_, err := w.WriteString(item.Value)
	return err
}

func writeString16(w *bufio.Writer, s string) error {
	if len(s) > 0xFFFF {
		return db.NewError(db.ErrCInvalidArgument, "string of %d bytes is too long for a dump", len(s))
	}
	if err := binary.Write(w, binary.LittleEndian, uint16(len(s))); err != nil {
		return err
	}
	_, err := w.WriteString(s)
	return err
}

// --------------------------------------------------------------------------
// Load
// --------------------------------------------------------------------------

// Read parses a dump and calls fn for every entry in the order they were
// saved. The trailer count is verified after the last entry.
func Read(r io.Reader, fn func(item db.TransactionItem) error) (count uint64, err error) {
	br := bufio.NewReaderSize(r, bufferSize)

	// Read and verify magic number
	magicBytes := make([]byte, len(magicNum))
	if _, err := io.ReadFull(br, magicBytes); err != nil {
		return 0, errors.Wrap(err, "reading dump header")
	}
	if string(magicBytes) != magicNum {
		return 0, db.NewError(db.ErrCInvalidArgument, "invalid dump format: magic number mismatch")
	}

	// Read and verify version
	var version uint8
	if err := binary.Read(br, binary.LittleEndian, &version); err != nil {
		return 0, errors.Wrap(err, "reading dump version")
	}
	if version != formatVersion {
		return 0, db.NewError(db.ErrCInvalidArgument, "unsupported dump version: %d (expected %d)", version, formatVersion)
	}

	for {
		var tag uint8
		if err := binary.Read(br, binary.LittleEndian, &tag); err != nil {
			return count, errors.Wrapf(err, "reading record %d", count)
		}

		if tag == tagEnd {
			var expected uint64
			if err := binary.Read(br, binary.LittleEndian, &expected); err != nil {
				return count, errors.Wrap(err, "reading dump trailer")
			}
			if expected != count {
				return count, db.NewError(db.ErrCInvalidArgument, "dump is truncated: read %d of %d entries", count, expected)
			}
			return count, nil
		}
		if tag != tagRecord {
			return count, db.NewError(db.ErrCInvalidArgument, "invalid record tag %d at record %d", tag, count)
		}

		item, err := readRecord(br)
		if err != nil {
			return count, errors.Wrapf(err, "reading record %d", count)
		}
		if err := fn(item); err != nil {
			return count, err
		}
		count++
	}
}

func readRecord(r *bufio.Reader) (db.TransactionItem, error) {
	ns, err := readString16(r)
	if err != nil {
		return db.TransactionItem{}, err
	}
	key, err := readString16(r)
	if err != nil {
		return db.TransactionItem{}, err
	}
	var valueLen uint32
	if err := binary.Read(r, binary.LittleEndian, &valueLen); err != nil {
		return db.TransactionItem{}, err
	}
	value := make([]byte, valueLen)
	if _, err := io.ReadFull(r, value); err != nil {
		return db.TransactionItem{}, err
	}
	return db.TransactionItem{Namespace: db.Namespace(ns), Key: key, Value: string(value)}, nil
}

func readString16(r *bufio.Reader) (string, error) {
	var n uint16
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return "", err
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", err
	}
	return string(b), nil
}

// Load replays a dump into s. Entries are written with PutAll in batches per
// namespace, existing keys are overwritten and other keys are kept.
func Load(s db.Store, r io.Reader) (uint64, error) {
	var (
		batchNs db.Namespace
		batch   = make(map[string]string, batchSize)
	)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := s.PutAll(batchNs, batch); err != nil {
			return err
		}
		batch = make(map[string]string, batchSize)
		return nil
	}

	count, err := Read(r, func(item db.TransactionItem) error {
		if item.Namespace != batchNs || len(batch) >= batchSize {
			if err := flush(); err != nil {
				return err
			}
			batchNs = item.Namespace
		}
		batch[item.Key] = item.Value
		return nil
	})
	if err != nil {
		return count, err
	}
	if err := flush(); err != nil {
		return count, err
	}
	log.Infof("loaded %d entries", count)
	return count, nil
}
