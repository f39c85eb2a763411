package boltdb

import (
	"fmt"
	"testing"

	"github.com/ValentinKolb/nsKV/lib/db"
	dbtesting "github.com/ValentinKolb/nsKV/lib/db/testing"
)

func factory() (db.Store, db.InitParams) {
	return NewBoltDB(), db.InitParams{"noSync": "true"}
}

func Test(t *testing.T) {
	dbtesting.RunStoreTests(t, "BoltDB", factory)
	dbtesting.RunPersistenceTests(t, "BoltDB", factory)
}

func Benchmark(b *testing.B) {
	dbtesting.RunStoreBenchmarks(b, "BoltDB", factory)
}

func TestIncrementalTruncate(t *testing.T) {
	s := NewBoltDB()
	params := db.InitParams{
		"noSync":            "true",
		"truncateThreshold": "100",
		"truncateChunk":     "30",
		"truncatePauseMs":   "1",
	}
	if err := s.Open(t.TempDir(), params); err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	batch := map[string]string{}
	for i := 0; i < 250; i++ {
		batch[fmt.Sprintf("key-%03d", i)] = "value"
	}
	if err := s.PutAll(db.NsTemp, batch); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Put(db.NsCache, "keep", "me"); err != nil {
		t.Fatal(err)
	}

	if err := s.Truncate(db.NsTemp); err != nil {
		t.Fatalf("Truncate failed: %v", err)
	}
	if n, _ := s.Size(db.NsTemp); n != 0 {
		t.Errorf("Expected size 0 after incremental truncate, got %d", n)
	}
	if ok, _ := s.Contains(db.NsCache, "keep"); !ok {
		t.Errorf("Truncate removed entries of another namespace")
	}
}

func TestIteratorPages(t *testing.T) {
	s := NewBoltDB()
	if err := s.Open(t.TempDir(), db.InitParams{"noSync": "true", "pageSize": "7"}); err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	batch := map[string]string{}
	for i := 0; i < 50; i++ {
		batch[fmt.Sprintf("key-%03d", i)] = fmt.Sprintf("%d", i)
	}
	if err := s.PutAll(db.NsTemp, batch); err != nil {
		t.Fatal(err)
	}

	it, err := s.Iterate(db.NsTemp)
	if err != nil {
		t.Fatal(err)
	}
	defer it.Close()

	// the next page is buffered before Next is called
	bi := it.(*boltIterator)
	if len(bi.buffer) != 7 {
		t.Errorf("Expected first page of 7 items to be buffered, got %d", len(bi.buffer))
	}

	i := 0
	for it.Next() {
		if want := fmt.Sprintf("key-%03d", i); it.Item().Key != want {
			t.Fatalf("Expected key %s, got %s", want, it.Item().Key)
		}
		i++
	}
	if i != 50 {
		t.Errorf("Expected 50 items, got %d", i)
	}
}

func TestSecondOpenOfSameFileTimesOut(t *testing.T) {
	location := t.TempDir()
	first := NewBoltDB()
	if err := first.Open(location, db.InitParams{"noSync": "true"}); err != nil {
		t.Fatal(err)
	}
	defer first.Close()

	second := NewBoltDB()
	err := second.Open(location, db.InitParams{"timeoutMs": "50"})
	if db.CodeOf(err) != db.ErrCStoreUnavailable {
		t.Errorf("Expected StoreUnavailable for a locked file, got %v", err)
	}
}
