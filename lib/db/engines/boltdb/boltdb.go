package boltdb

import (
	"bytes"
	"os"
	"path/filepath"
	"time"

	"github.com/ValentinKolb/nsKV/lib/db"
	"github.com/cockroachdb/errors"
	"github.com/lni/dragonboat/v4/logger"
	bolt "go.etcd.io/bbolt"
)

var log = logger.GetLogger("bolt")

// --------------------------------------------------------------------------
// Constants
// --------------------------------------------------------------------------

const (
	fileName = "nskv.bolt"

	defaultTimeout           = time.Second
	defaultTruncateThreshold = 10_000
	defaultTruncateChunk     = 1_000
	defaultTruncatePause     = 5 * time.Millisecond
	defaultPageSize          = 256
)

var knownParams = []string{"timeoutMs", "noSync", "truncateThreshold", "truncateChunk", "truncatePauseMs", "pageSize"}

// --------------------------------------------------------------------------
// Core bolt store structure
// --------------------------------------------------------------------------

// boltImpl stores every namespace in its own bbolt bucket inside a single
// paged file.
type boltImpl struct {
	db.Lifecycle
	bdb       *bolt.DB
	iterators *db.IteratorGuard

	truncateThreshold int
	truncateChunk     int
	truncatePause     time.Duration
	pageSize          int
}

// NewBoltDB creates a new, not yet opened, paged-file store.
//
// Supported init params:
//   - timeoutMs: how long to wait for the file lock
//   - noSync: skip fsync after every commit (default false)
//   - truncateThreshold: namespaces larger than this are truncated incrementally
//   - truncateChunk: keys removed per transaction during incremental truncation
//   - truncatePauseMs: pause between two chunks
//   - pageSize: entries prefetched per iterator page
func NewBoltDB() db.Store {
	return &boltImpl{
		iterators:         db.NewIteratorGuard(),
		truncateThreshold: defaultTruncateThreshold,
		truncateChunk:     defaultTruncateChunk,
		truncatePause:     defaultTruncatePause,
		pageSize:          defaultPageSize,
	}
}

// translate converts bolt errors at the store boundary
func translate(err error, op string, ns db.Namespace) error {
	if err == nil {
		return nil
	}
	return db.WrapError(db.ErrCStoreUnavailable, errors.Wrapf(err, "bolt %s", op), "%s failed on namespace %s", op, ns)
}

// --------------------------------------------------------------------------
// Lifecycle
// --------------------------------------------------------------------------

func (b *boltImpl) Open(location string, params db.InitParams) (err error) {
	done, err := b.BeginOpen(location)
	if err != nil || done {
		return err
	}
	defer func() { b.EndOpen(err) }()

	opts, err := b.parseParams(params)
	if err != nil {
		return db.Reclassify(db.ErrCStoreUnavailable, err, "invalid bolt params")
	}
	if unknown := params.Unknown(knownParams...); len(unknown) > 0 {
		log.Warningf("ignoring unknown init params %v", unknown)
	}

	if err := os.MkdirAll(location, 0o755); err != nil {
		return db.WrapError(db.ErrCStoreUnavailable, err, "can not create directory %s", location)
	}

	path := filepath.Join(location, fileName)
	bdb, err := bolt.Open(path, 0o600, opts)
	if err != nil {
		return db.WrapError(db.ErrCStoreUnavailable, err, "can not open bolt file %s", path)
	}
	b.bdb = bdb

	log.Infof("opened bolt store at %s", path)
	return nil
}

func (b *boltImpl) parseParams(params db.InitParams) (*bolt.Options, error) {
	timeout, err := params.GetMillis("timeoutMs", defaultTimeout)
	if err != nil {
		return nil, err
	}
	noSync, err := params.GetBool("noSync", false)
	if err != nil {
		return nil, err
	}
	if b.truncateThreshold, err = params.GetInt("truncateThreshold", b.truncateThreshold); err != nil {
		return nil, err
	}
	if b.truncateChunk, err = params.GetInt("truncateChunk", b.truncateChunk); err != nil {
		return nil, err
	}
	if b.truncatePause, err = params.GetMillis("truncatePauseMs", b.truncatePause); err != nil {
		return nil, err
	}
	if b.pageSize, err = params.GetInt("pageSize", b.pageSize); err != nil {
		return nil, err
	}
	if b.truncateChunk <= 0 || b.pageSize <= 0 {
		return nil, db.NewError(db.ErrCInvalidArgument, "truncateChunk and pageSize must be positive")
	}

	return &bolt.Options{Timeout: timeout, NoSync: noSync}, nil
}

func (b *boltImpl) Close() error {
	if !b.BeginClose() {
		return nil
	}
	if err := b.bdb.Close(); err != nil {
		return db.WrapError(db.ErrCStoreUnavailable, err, "closing bolt store")
	}
	log.Infof("closed bolt store at %s", b.Location())
	return nil
}

// --------------------------------------------------------------------------
// Read Operations
// --------------------------------------------------------------------------

func (b *boltImpl) Get(ns db.Namespace, key string) (value string, found bool, err error) {
	if err := b.Enter(); err != nil {
		return "", false, err
	}
	defer b.Leave()
	err = b.bdb.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(ns))
		if bucket == nil {
			return nil
		}
		if v, ok := lookup(bucket, []byte(key)); ok {
			// v is only valid during the transaction
			value, found = string(v), true
		}
		return nil
	})
	return value, found, translate(err, "get", ns)
}

// lookup finds key with a cursor, Bucket.Get can not tell an empty value
// from a missing key
func lookup(bucket *bolt.Bucket, key []byte) ([]byte, bool) {
	k, v := bucket.Cursor().Seek(key)
	if k == nil || !bytes.Equal(k, key) {
		return nil, false
	}
	return v, true
}

func (b *boltImpl) Contains(ns db.Namespace, key string) (bool, error) {
	_, found, err := b.Get(ns, key)
	return found, err
}

// Size walks the bucket, callers should wrap the store with the size caching
// decorator.
func (b *boltImpl) Size(ns db.Namespace) (int64, error) {
	if err := b.Enter(); err != nil {
		return 0, err
	}
	defer b.Leave()
	return b.size(ns)
}

func (b *boltImpl) size(ns db.Namespace) (n int64, err error) {
	err = b.bdb.View(func(tx *bolt.Tx) error {
		if bucket := tx.Bucket([]byte(ns)); bucket != nil {
			n = int64(bucket.Stats().KeyN)
		}
		return nil
	})
	return n, translate(err, "size", ns)
}

func (b *boltImpl) Iterate(ns db.Namespace) (db.Iterator, error) {
	if err := b.Enter(); err != nil {
		return nil, err
	}
	defer b.Leave()
	if err := b.iterators.Acquire(ns); err != nil {
		return nil, err
	}
	it := &boltIterator{
		store:   b,
		ns:      ns,
		release: func() { b.iterators.Release(ns) },
	}
	it.fillLocked()
	return it, nil
}

// --------------------------------------------------------------------------
// Write Operations
// --------------------------------------------------------------------------

func (b *boltImpl) Put(ns db.Namespace, key, value string) (existed bool, err error) {
	if err := b.Enter(); err != nil {
		return false, err
	}
	defer b.Leave()
	err = b.bdb.Update(func(tx *bolt.Tx) error {
		bucket, err := tx.CreateBucketIfNotExists([]byte(ns))
		if err != nil {
			return err
		}
		_, existed = lookup(bucket, []byte(key))
		return bucket.Put([]byte(key), []byte(value))
	})
	return existed, translate(err, "put", ns)
}

// PutAll writes all entries in one transaction, on error nothing is written
func (b *boltImpl) PutAll(ns db.Namespace, entries map[string]string) error {
	if err := b.Enter(); err != nil {
		return err
	}
	defer b.Leave()
	err := b.bdb.Update(func(tx *bolt.Tx) error {
		bucket, err := tx.CreateBucketIfNotExists([]byte(ns))
		if err != nil {
			return err
		}
		for k, v := range entries {
			if err := bucket.Put([]byte(k), []byte(v)); err != nil {
				return err
			}
		}
		return nil
	})
	return translate(err, "putAll", ns)
}

func (b *boltImpl) Remove(ns db.Namespace, key string) (existed bool, err error) {
	if err := b.Enter(); err != nil {
		return false, err
	}
	defer b.Leave()
	err = b.bdb.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(ns))
		if bucket == nil {
			return nil
		}
		if _, ok := lookup(bucket, []byte(key)); !ok {
			return nil
		}
		existed = true
		return bucket.Delete([]byte(key))
	})
	return existed, translate(err, "remove", ns)
}

func (b *boltImpl) RemoveAll(ns db.Namespace, keys []string) error {
	if err := b.Enter(); err != nil {
		return err
	}
	defer b.Leave()
	err := b.bdb.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(ns))
		if bucket == nil {
			return nil
		}
		for _, k := range keys {
			if err := bucket.Delete([]byte(k)); err != nil {
				return err
			}
		}
		return nil
	})
	return translate(err, "removeAll", ns)
}

// Truncate drops and recreates the bucket. Large buckets are emptied in chunks
// first with a short pause between two chunks, so a huge truncate does not
// hold the write lock (and grow the freelist) in one go.
func (b *boltImpl) Truncate(ns db.Namespace) error {
	if err := b.Enter(); err != nil {
		return err
	}
	defer b.Leave()

	size, err := b.size(ns)
	if err != nil {
		return err
	}
	if size > int64(b.truncateThreshold) {
		log.Infof("truncating %d entries of namespace %s incrementally", size, ns)
		for {
			removed, err := b.removeChunk(ns)
			if err != nil {
				return err
			}
			if removed < b.truncateChunk {
				break
			}
			time.Sleep(b.truncatePause)
		}
	}

	err = b.bdb.Update(func(tx *bolt.Tx) error {
		if tx.Bucket([]byte(ns)) != nil {
			if err := tx.DeleteBucket([]byte(ns)); err != nil {
				return err
			}
		}
		_, err := tx.CreateBucket([]byte(ns))
		return err
	})
	return translate(err, "truncate", ns)
}

// removeChunk deletes up to truncateChunk keys from the start of the bucket
func (b *boltImpl) removeChunk(ns db.Namespace) (removed int, err error) {
	err = b.bdb.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(ns))
		if bucket == nil {
			return nil
		}
		c := bucket.Cursor()
		for k, _ := c.First(); k != nil && removed < b.truncateChunk; k, _ = c.First() {
			if err := c.Delete(); err != nil {
				return err
			}
			removed++
		}
		return nil
	})
	return removed, translate(err, "truncate", ns)
}

// --------------------------------------------------------------------------
// Metadata
// --------------------------------------------------------------------------

func (b *boltImpl) DiskSpaceUsed() int64 {
	if b.Enter() != nil {
		return 0
	}
	defer b.Leave()
	return b.diskSize()
}

func (b *boltImpl) diskSize() (size int64) {
	_ = b.bdb.View(func(tx *bolt.Tx) error {
		size = tx.Size()
		return nil
	})
	return size
}

func (b *boltImpl) Info() db.DatabaseInfo {
	info := db.DatabaseInfo{
		DbType:   db.ImplBolt,
		Status:   b.Status().String(),
		Location: b.Location(),
	}
	if b.Enter() != nil {
		return info
	}
	defer b.Leave()

	stats := b.bdb.Stats()
	info.SizeBytes = b.diskSize()
	info.Metadata = &struct {
		FreePages     int    `json:"free_pages"`
		PendingPages  int    `json:"pending_pages"`
		OpenReadTx    int    `json:"open_read_tx"`
		TruncateChunk int    `json:"truncate_chunk"`
		Info          string `json:"info"`
	}{
		FreePages:     stats.FreePageN,
		PendingPages:  stats.PendingPageN,
		OpenReadTx:    stats.OpenTxN,
		TruncateChunk: b.truncateChunk,
		Info:          "Size() walks the namespace bucket.",
	}
	return info
}

// --------------------------------------------------------------------------
// Iterator
// --------------------------------------------------------------------------

// boltIterator reads the bucket in pages of pageSize entries. Every page is
// read in its own short read transaction, so no transaction stays open between
// two calls. The next page is fetched eagerly as soon as the current one is
// consumed, which keeps Next() O(1) for buffered items.
type boltIterator struct {
	store     *boltImpl
	ns        db.Namespace
	buffer    []db.TransactionItem
	lastKey   []byte
	exhausted bool
	closed    bool
	item      db.TransactionItem
	err       error
	release   func()
}

// fill reads the next page after lastKey into the buffer
func (it *boltIterator) fill() {
	if it.exhausted || it.err != nil {
		return
	}
	if err := it.store.Enter(); err != nil {
		it.err = err
		return
	}
	defer it.store.Leave()
	it.fillLocked()
}

// fillLocked is fill for callers that already entered the store
func (it *boltIterator) fillLocked() {
	if it.exhausted || it.err != nil {
		return
	}
	page := make([]db.TransactionItem, 0, it.store.pageSize)

	err := it.store.bdb.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(it.ns))
		if bucket == nil {
			return nil
		}
		c := bucket.Cursor()

		var k, v []byte
		if it.lastKey == nil {
			k, v = c.First()
		} else {
			k, v = c.Seek(it.lastKey)
			if k != nil && bytes.Equal(k, it.lastKey) {
				k, v = c.Next()
			}
		}
		for ; k != nil && len(page) < it.store.pageSize; k, v = c.Next() {
			page = append(page, db.TransactionItem{Namespace: it.ns, Key: string(k), Value: string(v)})
		}
		return nil
	})
	if err != nil {
		it.err = translate(err, "iterate", it.ns)
		return
	}

	if len(page) < it.store.pageSize {
		it.exhausted = true
	}
	if len(page) > 0 {
		it.lastKey = []byte(page[len(page)-1].Key)
	}
	it.buffer = page
}

func (it *boltIterator) Next() bool {
	if it.closed || it.err != nil {
		return false
	}
	if len(it.buffer) == 0 {
		return false
	}
	it.item = it.buffer[0]
	it.buffer = it.buffer[1:]
	if len(it.buffer) == 0 {
		it.fill()
	}
	return true
}

func (it *boltIterator) Item() db.TransactionItem {
	return it.item
}

func (it *boltIterator) Err() error {
	return it.err
}

func (it *boltIterator) Close() error {
	if !it.closed {
		it.closed = true
		it.buffer = nil
		it.release()
	}
	return nil
}
