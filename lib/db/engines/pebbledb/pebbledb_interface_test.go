package pebbledb

import (
	"fmt"
	"testing"
	"time"

	"github.com/ValentinKolb/nsKV/lib/db"
	dbtesting "github.com/ValentinKolb/nsKV/lib/db/testing"
)

// fsync is off to keep the suite fast, durability is not under test here
func factory() (db.Store, db.InitParams) {
	return NewPebbleDB(), db.InitParams{"sync": "false", "cacheSize": "1048576"}
}

func Test(t *testing.T) {
	dbtesting.RunStoreTests(t, "PebbleDB", factory)
	dbtesting.RunPersistenceTests(t, "PebbleDB", factory)
}

func Benchmark(b *testing.B) {
	dbtesting.RunStoreBenchmarks(b, "PebbleDB", factory)
}

func TestKeyEncoding(t *testing.T) {
	lower, upper := nsBounds(db.NsTemp)
	key := encodeKey(db.NsTemp, "key")
	if string(key) < string(lower) || string(key) >= string(upper) {
		t.Errorf("Encoded key %q is outside of the namespace bounds [%q, %q)", key, lower, upper)
	}

	// EMAIL_QUEUE must not include keys of a namespace named EMAIL_QUEUEX
	other := encodeKey(db.Namespace(string(db.NsEmailQueue)+"X"), "key")
	lower, upper = nsBounds(db.NsEmailQueue)
	if string(other) >= string(lower) && string(other) < string(upper) {
		t.Errorf("Key %q of another namespace is inside the bounds of %s", other, db.NsEmailQueue)
	}
}

func TestInvalidParams(t *testing.T) {
	s := NewPebbleDB()
	err := s.Open(t.TempDir(), db.InitParams{"sync": "sometimes"})
	if db.CodeOf(err) != db.ErrCStoreUnavailable {
		t.Errorf("Expected StoreUnavailable for invalid params, got %v", err)
	}
}

// waitForCompactions waits until at least n background compactions finished
func waitForCompactions(t *testing.T, p *pebbleImpl, n int64) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for p.compactions.Load() < n && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if got := p.compactions.Load(); got < n {
		t.Fatalf("Expected at least %d background compactions, got %d", n, got)
	}
}

func TestOpenStartsCompaction(t *testing.T) {
	location := t.TempDir()

	// leave some data behind for the next open
	s, params := factory()
	if err := s.Open(location, params); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 100; i++ {
		if _, err := s.Put(db.NsTemp, fmt.Sprintf("key-%d", i), "value"); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	s, params = factory()
	if err := s.Open(location, params); err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	waitForCompactions(t, s.(*pebbleImpl), 1)

	if n, _ := s.Size(db.NsTemp); n != 100 {
		t.Errorf("Expected size 100 after compaction, got %d", n)
	}
}

func TestOpenWithoutCompaction(t *testing.T) {
	s := NewPebbleDB()
	if err := s.Open(t.TempDir(), db.InitParams{"sync": "false", "compaction": "false"}); err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	if err := s.Truncate(db.NsTemp); err != nil {
		t.Fatal(err)
	}
	time.Sleep(50 * time.Millisecond)
	if got := s.(*pebbleImpl).compactions.Load(); got != 0 {
		t.Errorf("Expected no background compaction, got %d", got)
	}
}

func TestTruncateStartsSingleCompaction(t *testing.T) {
	s, params := factory()
	if err := s.Open(t.TempDir(), params); err != nil {
		t.Fatal(err)
	}
	p := s.(*pebbleImpl)

	batch := map[string]string{}
	for i := 0; i < 5000; i++ {
		batch[fmt.Sprintf("key-%d", i)] = "value"
	}
	if err := s.PutAll(db.NsTemp, batch); err != nil {
		t.Fatal(err)
	}

	// several truncates in a row never run more than one compaction
	for i := 0; i < 5; i++ {
		if err := s.Truncate(db.NsTemp); err != nil {
			t.Fatal(err)
		}
	}

	// foreground operations keep working while compacting
	if _, err := s.Put(db.NsTemp, "during", "compaction"); err != nil {
		t.Fatalf("Put during compaction failed: %v", err)
	}

	deadline := time.Now().Add(10 * time.Second)
	for p.compactionIsRunning.Load() && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if p.compactionIsRunning.Load() {
		t.Errorf("Compaction did not finish")
	}

	if n, _ := s.Size(db.NsTemp); n != 1 {
		t.Errorf("Expected size 1, got %d", n)
	}
	if err := s.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
}

func TestCloseWaitsForCompaction(t *testing.T) {
	s, params := factory()
	if err := s.Open(t.TempDir(), params); err != nil {
		t.Fatal(err)
	}
	if err := s.Truncate(db.NsTemp); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if s.(*pebbleImpl).compactionIsRunning.Load() {
		t.Errorf("Compaction still running after Close")
	}
}
