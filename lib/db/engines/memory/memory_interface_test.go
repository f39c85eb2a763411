package memory

import (
	"testing"

	"github.com/ValentinKolb/nsKV/lib/db"
	dbtesting "github.com/ValentinKolb/nsKV/lib/db/testing"
)

func factory() (db.Store, db.InitParams) {
	return NewMemoryDB(nil), nil
}

func Test(t *testing.T) {
	dbtesting.RunStoreTests(t, "MemoryDB", factory)
}

func Benchmark(b *testing.B) {
	dbtesting.RunStoreBenchmarks(b, "MemoryDB", factory)
}

func TestPresizedNamespaces(t *testing.T) {
	s := NewMemoryDB(&DBOptions{InitialCapacity: 1024})
	if err := s.Open("", db.InitParams{"initialCapacity": "2048"}); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer s.Close()

	if _, err := s.Put(db.NsTemp, "key", "value"); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if n, _ := s.Size(db.NsTemp); n != 1 {
		t.Errorf("Expected size 1, got %d", n)
	}
}

func TestInvalidParams(t *testing.T) {
	s := NewMemoryDB(nil)
	err := s.Open("", db.InitParams{"initialCapacity": "lots"})
	if db.CodeOf(err) != db.ErrCStoreUnavailable {
		t.Fatalf("Expected StoreUnavailable for invalid params, got %v", err)
	}
	if s.Status() != db.StatusNew {
		t.Errorf("Expected status NEW after failed open, got %s", s.Status())
	}
	if err := s.Open("", nil); err != nil {
		t.Errorf("Open after failed Open should succeed: %v", err)
	}
	_ = s.Close()
}

func TestIteratorIsSortedSnapshot(t *testing.T) {
	s, _ := factory()
	if err := s.Open("", nil); err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	for _, k := range []string{"c", "a", "b"} {
		if _, err := s.Put(db.NsTemp, k, k); err != nil {
			t.Fatal(err)
		}
	}

	it, err := s.Iterate(db.NsTemp)
	if err != nil {
		t.Fatal(err)
	}
	defer it.Close()

	// not visible to the snapshot
	if _, err := s.Put(db.NsTemp, "d", "d"); err != nil {
		t.Fatal(err)
	}

	var keys []string
	for it.Next() {
		keys = append(keys, it.Item().Key)
	}
	if len(keys) != 3 || keys[0] != "a" || keys[1] != "b" || keys[2] != "c" {
		t.Errorf("Expected sorted snapshot [a b c], got %v", keys)
	}
}

func TestInfoEstimatesSize(t *testing.T) {
	s, _ := factory()
	if err := s.Open("", nil); err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	if s.Info().SizeBytes != 0 {
		t.Errorf("Expected size 0 for an empty store")
	}
	for i := 0; i < 100; i++ {
		if _, err := s.Put(db.NsTemp, string(rune('a'+i%26))+string(rune('a'+i/26)), "0123456789"); err != nil {
			t.Fatal(err)
		}
	}
	if info := s.Info(); info.SizeBytes <= 0 {
		t.Errorf("Expected a positive size estimate, got %d", info.SizeBytes)
	}
	if s.DiskSpaceUsed() != 0 {
		t.Errorf("Expected DiskSpaceUsed to be 0")
	}
}
