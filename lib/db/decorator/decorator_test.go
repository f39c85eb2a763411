package decorator

import (
	"bytes"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/ValentinKolb/nsKV/lib/db"
	"github.com/ValentinKolb/nsKV/lib/db/engines/memory"
	dbtesting "github.com/ValentinKolb/nsKV/lib/db/testing"
	"github.com/cockroachdb/errors"
)

// --------------------------------------------------------------------------
// Conformance of the decorator chains
// --------------------------------------------------------------------------

func TestChains(t *testing.T) {
	dbtesting.RunStoreTests(t, "Validating", func() (db.Store, db.InitParams) {
		return NewValidating(memory.NewMemoryDB(nil)), nil
	})
	dbtesting.RunStoreTests(t, "SizeCaching", func() (db.Store, db.InitParams) {
		return NewSizeCaching(memory.NewMemoryDB(nil)), nil
	})
	dbtesting.RunStoreTests(t, "Metered", func() (db.Store, db.InitParams) {
		return NewMetered(memory.NewMemoryDB(nil), "memory"), nil
	})
	dbtesting.RunStoreTests(t, "FullChain", func() (db.Store, db.InitParams) {
		return NewValidating(NewMetered(NewSizeCaching(memory.NewMemoryDB(nil)), "memory")), nil
	})
}

func openMemory(t *testing.T) db.Store {
	t.Helper()
	s := memory.NewMemoryDB(nil)
	if err := s.Open("", nil); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// --------------------------------------------------------------------------
// Validating
// --------------------------------------------------------------------------

func TestValidatingRejectsWithoutStateChange(t *testing.T) {
	inner := openMemory(t)
	s := NewValidating(inner)

	cases := []struct {
		name  string
		ns    db.Namespace
		key   string
		value string
	}{
		{"empty key", db.NsTemp, "", "value"},
		{"key too long", db.NsTemp, strings.Repeat("k", db.MaxKeyLength+1), "value"},
		{"value too long", db.NsTemp, "key", strings.Repeat("v", db.MaxValueLength+1)},
		{"multi byte value too long", db.NsTemp, "key", strings.Repeat("ü", db.MaxValueLength+1)},
		{"unknown namespace", db.Namespace("NOPE"), "key", "value"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, err := s.Put(c.ns, c.key, c.value)
			if !errors.Is(err, db.ErrInvalidArgument) {
				t.Errorf("Expected InvalidArgument, got %v", err)
			}
			err = s.PutAll(c.ns, map[string]string{"ok": "ok", c.key: c.value})
			if !errors.Is(err, db.ErrInvalidArgument) {
				t.Errorf("Expected InvalidArgument from PutAll, got %v", err)
			}
			if n, _ := inner.Size(db.NsTemp); n != 0 {
				t.Errorf("Expected no state change, inner size is %d", n)
			}
		})
	}
}

func TestValidatingAcceptsLimits(t *testing.T) {
	s := NewValidating(openMemory(t))

	// limits are counted in characters, not bytes
	key := strings.Repeat("ß", db.MaxKeyLength)
	value := strings.Repeat("€", db.MaxValueLength)
	if _, err := s.Put(db.NsTemp, key, value); err != nil {
		t.Fatalf("Put at the limits failed: %v", err)
	}
	if _, err := s.Put(db.NsTemp, "k", ""); err != nil {
		t.Errorf("Put of an empty value failed: %v", err)
	}
}

func TestValidatingKeyChecksOnReads(t *testing.T) {
	s := NewValidating(openMemory(t))

	if _, _, err := s.Get(db.NsTemp, ""); !errors.Is(err, db.ErrInvalidArgument) {
		t.Errorf("Expected InvalidArgument from Get, got %v", err)
	}
	if _, err := s.Contains(db.NsTemp, strings.Repeat("k", 200)); !errors.Is(err, db.ErrInvalidArgument) {
		t.Errorf("Expected InvalidArgument from Contains, got %v", err)
	}
	if _, err := s.Remove(db.NsTemp, ""); !errors.Is(err, db.ErrInvalidArgument) {
		t.Errorf("Expected InvalidArgument from Remove, got %v", err)
	}
	if err := s.RemoveAll(db.NsTemp, []string{"ok", ""}); !errors.Is(err, db.ErrInvalidArgument) {
		t.Errorf("Expected InvalidArgument from RemoveAll, got %v", err)
	}
	if _, err := s.Iterate(db.Namespace("")); !errors.Is(err, db.ErrInvalidArgument) {
		t.Errorf("Expected InvalidArgument from Iterate, got %v", err)
	}
	if err := s.Truncate(db.Namespace("x")); !errors.Is(err, db.ErrInvalidArgument) {
		t.Errorf("Expected InvalidArgument from Truncate, got %v", err)
	}
}

func TestUnwrapChain(t *testing.T) {
	engine := memory.NewMemoryDB(nil)
	chain := NewValidating(NewMetered(NewSizeCaching(engine), "memory"))
	if db.Innermost(chain) != engine {
		t.Errorf("Innermost did not return the engine")
	}
	if records := db.HealthOf(chain); len(records) != 1 || records[0].Severity != db.HealthGood {
		t.Errorf("Expected a single GOOD record, got %v", records)
	}
}

// --------------------------------------------------------------------------
// SizeCaching
// --------------------------------------------------------------------------

func TestSizeCacheReadOnlyRecountsOnce(t *testing.T) {
	c := NewSizeCaching(openMemory(t))
	if err := c.PutAll(db.NsTemp, map[string]string{"a": "1", "b": "2"}); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 10; i++ {
		n, err := c.Size(db.NsTemp)
		if err != nil {
			t.Fatal(err)
		}
		if n != 2 {
			t.Fatalf("Expected size 2, got %d", n)
		}
	}
	if r := c.Recounts(); r != 1 {
		t.Errorf("Expected exactly 1 recount for a read-only workload, got %d", r)
	}

	// concurrent readers also share one recount
	if err := c.RemoveAll(db.NsTemp, []string{"a"}); err != nil {
		t.Fatal(err)
	}
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if n, _ := c.Size(db.NsTemp); n != 1 {
				t.Errorf("Expected size 1, got %d", n)
			}
		}()
	}
	wg.Wait()
	if r := c.Recounts(); r != 2 {
		t.Errorf("Expected 2 recounts in total, got %d", r)
	}
}

func TestSizeCacheSingleWritesAdjust(t *testing.T) {
	c := NewSizeCaching(openMemory(t))
	if _, err := c.Size(db.NsTemp); err != nil {
		t.Fatal(err)
	}

	steps := []struct {
		op   func() error
		want int64
	}{
		{func() error { _, err := c.Put(db.NsTemp, "a", "1"); return err }, 1},
		{func() error { _, err := c.Put(db.NsTemp, "a", "2"); return err }, 1},
		{func() error { _, err := c.Put(db.NsTemp, "b", "1"); return err }, 2},
		{func() error { _, err := c.Remove(db.NsTemp, "missing"); return err }, 2},
		{func() error { _, err := c.Remove(db.NsTemp, "a"); return err }, 1},
	}
	for i, step := range steps {
		if err := step.op(); err != nil {
			t.Fatal(err)
		}
		if n, _ := c.Size(db.NsTemp); n != step.want {
			t.Errorf("Step %d: expected size %d, got %d", i, step.want, n)
		}
	}
	if r := c.Recounts(); r != 1 {
		t.Errorf("Single writes must not trigger recounts, got %d recounts", r)
	}
}

func TestSizeCacheBatchesInvalidate(t *testing.T) {
	c := NewSizeCaching(openMemory(t))
	_, _ = c.Size(db.NsTemp)

	if err := c.PutAll(db.NsTemp, map[string]string{"a": "1", "b": "2", "c": "3"}); err != nil {
		t.Fatal(err)
	}
	if n, _ := c.Size(db.NsTemp); n != 3 {
		t.Errorf("Expected size 3 after PutAll, got %d", n)
	}
	if err := c.RemoveAll(db.NsTemp, []string{"a", "x"}); err != nil {
		t.Fatal(err)
	}
	if n, _ := c.Size(db.NsTemp); n != 2 {
		t.Errorf("Expected size 2 after RemoveAll, got %d", n)
	}
	if err := c.Truncate(db.NsTemp); err != nil {
		t.Fatal(err)
	}
	if n, _ := c.Size(db.NsTemp); n != 0 {
		t.Errorf("Expected size 0 after Truncate, got %d", n)
	}
	if r := c.Recounts(); r != 4 {
		t.Errorf("Expected 4 recounts, got %d", r)
	}
}

func TestSizeCacheConvergesUnderConcurrentWrites(t *testing.T) {
	inner := openMemory(t)
	c := NewSizeCaching(inner)

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(2)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				key := fmt.Sprintf("w%d-%d", w, i%50)
				if i%3 == 0 {
					_, _ = c.Remove(db.NsTemp, key)
				} else {
					_, _ = c.Put(db.NsTemp, key, "v")
				}
			}
		}(w)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				_, _ = c.Size(db.NsTemp)
			}
		}()
	}
	wg.Wait()

	// a batch operation always forces an exact recount
	if err := c.PutAll(db.NsTemp, map[string]string{}); err != nil {
		t.Fatal(err)
	}
	want, _ := inner.Size(db.NsTemp)
	if got, _ := c.Size(db.NsTemp); got != want {
		t.Errorf("Cache did not converge: cached %d, actual %d", got, want)
	}
}

// --------------------------------------------------------------------------
// Metered
// --------------------------------------------------------------------------

func TestMeteredCountsCallsAndErrors(t *testing.T) {
	m := NewMetered(openMemory(t), "memory")

	for i := 0; i < 3; i++ {
		if _, err := m.Put(db.NsTemp, fmt.Sprintf("k%d", i), "v"); err != nil {
			t.Fatal(err)
		}
	}
	_, _, _ = m.Get(db.NsTemp, "k0")

	it, err := m.Iterate(db.NsTemp)
	if err != nil {
		t.Fatal(err)
	}
	// second iterator fails
	if _, err := m.Iterate(db.NsTemp); err == nil {
		t.Fatal("Expected the second iterator to fail")
	}
	_ = it.Close()

	if c := m.Calls("put"); c != 3 {
		t.Errorf("Expected 3 put calls, got %d", c)
	}
	if c := m.Calls("get"); c != 1 {
		t.Errorf("Expected 1 get call, got %d", c)
	}
	if e := m.Errors("iterate"); e != 1 {
		t.Errorf("Expected 1 iterate error, got %d", e)
	}
	if e := m.Errors("put"); e != 0 {
		t.Errorf("Expected no put errors, got %d", e)
	}

	var buf bytes.Buffer
	m.WritePrometheus(&buf)
	if !strings.Contains(buf.String(), `nskv_ops_total{engine="memory",op="put"} 3`) {
		t.Errorf("Prometheus output misses the put counter:\n%s", buf.String())
	}
	if !strings.Contains(buf.String(), `nskv_op_duration_seconds_bucket{engine="memory",op="put"`) {
		t.Errorf("Prometheus output misses the put histogram:\n%s", buf.String())
	}
}
