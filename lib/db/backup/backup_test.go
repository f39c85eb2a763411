package backup

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strings"
	"testing"

	"github.com/ValentinKolb/nsKV/lib/db"
	"github.com/ValentinKolb/nsKV/lib/db/engines/boltdb"
	"github.com/ValentinKolb/nsKV/lib/db/engines/memory"
	"github.com/cockroachdb/errors"
)

func openMemory(t *testing.T) db.Store {
	t.Helper()
	s := memory.NewMemoryDB(nil)
	if err := s.Open("", nil); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func fill(t *testing.T, s db.Store) {
	t.Helper()
	batch := map[string]string{}
	for i := 0; i < 2500; i++ {
		batch[fmt.Sprintf("key-%04d", i)] = fmt.Sprintf("value-%d", i)
	}
	if err := s.PutAll(db.NsTemp, batch); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Put(db.NsCache, "wide", strings.Repeat("ü", db.MaxValueLength)); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Put(db.NsCache, "empty", ""); err != nil {
		t.Fatal(err)
	}
}

func dump(t *testing.T, s db.Store, namespaces ...db.Namespace) []byte {
	t.Helper()
	var buf bytes.Buffer
	if _, err := Save(s, &buf, namespaces...); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	return buf.Bytes()
}

func TestRoundTripAcrossEngines(t *testing.T) {
	src := openMemory(t)
	fill(t, src)

	var buf bytes.Buffer
	n, err := Save(src, &buf)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2502 {
		t.Errorf("Expected 2502 saved entries, got %d", n)
	}

	dst := boltdb.NewBoltDB()
	if err := dst.Open(t.TempDir(), db.InitParams{"noSync": "true"}); err != nil {
		t.Fatal(err)
	}
	defer dst.Close()
	if _, err := dst.Put(db.NsTemp, "unrelated", "kept"); err != nil {
		t.Fatal(err)
	}

	loaded, err := Load(dst, &buf)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded != n {
		t.Errorf("Expected %d loaded entries, got %d", n, loaded)
	}

	if size, _ := dst.Size(db.NsTemp); size != 2501 {
		t.Errorf("Expected 2501 entries in TEMP, got %d", size)
	}
	if v, _, _ := dst.Get(db.NsTemp, "key-1234"); v != "value-1234" {
		t.Errorf("Unexpected value %q", v)
	}
	if v, _, _ := dst.Get(db.NsCache, "wide"); v != strings.Repeat("ü", db.MaxValueLength) {
		t.Errorf("Multi byte value was not restored (len %d)", len(v))
	}
	if found, _ := dst.Contains(db.NsCache, "empty"); !found {
		t.Errorf("Expected the empty value to be restored")
	}
}

func TestSaveSelectedNamespaces(t *testing.T) {
	src := openMemory(t)
	fill(t, src)

	var items []db.TransactionItem
	n, err := Read(bytes.NewReader(dump(t, src, db.NsCache)), func(item db.TransactionItem) error {
		items = append(items, item)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 || len(items) != 2 {
		t.Fatalf("Expected 2 entries, got %d", n)
	}
	for _, item := range items {
		if item.Namespace != db.NsCache {
			t.Errorf("Unexpected namespace %s", item.Namespace)
		}
	}
}

func TestEmptyStore(t *testing.T) {
	data := dump(t, openMemory(t))
	n, err := Load(openMemory(t), bytes.NewReader(data))
	if err != nil || n != 0 {
		t.Errorf("Expected an empty load, got %d (%v)", n, err)
	}
}

func TestRejectsInvalidDumps(t *testing.T) {
	src := openMemory(t)
	fill(t, src)
	data := dump(t, src)

	wrongCount := bytes.Clone(data)
	binary.LittleEndian.PutUint64(wrongCount[len(wrongCount)-8:], 9999)

	wrongVersion := bytes.Clone(data)
	wrongVersion[len(magicNum)] = 42

	badTag := bytes.Clone(data)
	badTag[len(magicNum)+1] = 7

	cases := map[string][]byte{
		"empty":         {},
		"bad magic":     append([]byte("NOTADUMP"), data[len(magicNum):]...),
		"wrong version": wrongVersion,
		"bad tag":       badTag,
		"truncated":     data[:len(data)/2],
		"no trailer":    data[:len(data)-9],
		"wrong count":   wrongCount,
	}
	for name, input := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Load(openMemory(t), bytes.NewReader(input)); err == nil {
				t.Errorf("Expected Load to fail")
			}
		})
	}

	if _, err := Read(bytes.NewReader(wrongCount), func(db.TransactionItem) error { return nil }); !errors.Is(err, db.ErrInvalidArgument) {
		t.Errorf("Expected InvalidArgument for a count mismatch, got %v", err)
	}
}

func TestReadStopsOnCallbackError(t *testing.T) {
	src := openMemory(t)
	fill(t, src)

	stop := errors.New("stop")
	n, err := Read(bytes.NewReader(dump(t, src)), func(db.TransactionItem) error { return stop })
	if !errors.Is(err, stop) {
		t.Errorf("Expected the callback error, got %v", err)
	}
	if n != 0 {
		t.Errorf("Expected no completed entries, got %d", n)
	}
}
