package testing

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ValentinKolb/nsKV/lib/db"
	"github.com/cockroachdb/errors"
)

// DBFactory creates a new, not yet opened, store and the init params it is
// opened with
type DBFactory func() (db.Store, db.InitParams)

// RunStoreTests runs the conformance suite every db.Store has to pass.
// Each sub test opens a fresh store in its own temporary directory.
func RunStoreTests(t *testing.T, name string, factory DBFactory) {
	t.Run(name, func(t *testing.T) {
		t.Run("Lifecycle", func(t *testing.T) {
			testLifecycle(t, factory)
		})

		t.Run("CloseDuringOperations", func(t *testing.T) {
			testCloseDuringOperations(t, factory)
		})

		t.Run("Put&Get", func(t *testing.T) {
			testPutGet(t, openStore(t, factory))
		})

		t.Run("Remove", func(t *testing.T) {
			testRemove(t, openStore(t, factory))
		})

		t.Run("NamespaceIsolation", func(t *testing.T) {
			testNamespaceIsolation(t, openStore(t, factory))
		})

		t.Run("PutAll&RemoveAll", func(t *testing.T) {
			testBatches(t, openStore(t, factory))
		})

		t.Run("SizeMatchesContains", func(t *testing.T) {
			testSizeMatchesContains(t, openStore(t, factory))
		})

		t.Run("Truncate", func(t *testing.T) {
			testTruncate(t, openStore(t, factory))
		})

		t.Run("Iterate", func(t *testing.T) {
			testIterate(t, openStore(t, factory))
		})

		t.Run("IteratorExclusive", func(t *testing.T) {
			testIteratorExclusive(t, openStore(t, factory))
		})

		t.Run("LargeValues", func(t *testing.T) {
			testLargeValues(t, openStore(t, factory))
		})

		t.Run("Concurrent", func(t *testing.T) {
			testConcurrent(t, openStore(t, factory))
		})

		t.Run("Metadata", func(t *testing.T) {
			testMetadata(t, openStore(t, factory))
		})
	})
}

// RunPersistenceTests checks that data survives closing and reopening a
// store at the same location. Only for engines that persist.
func RunPersistenceTests(t *testing.T, name string, factory DBFactory) {
	t.Run(name, func(t *testing.T) {
		t.Run("Reopen", func(t *testing.T) {
			testReopen(t, factory)
		})

		t.Run("TruncateSurvivesReopen", func(t *testing.T) {
			testTruncateReopen(t, factory)
		})
	})
}

// --------------------------------------------------------------------------
// Helper functions
// --------------------------------------------------------------------------

// openStore opens a store from the factory in a new temp dir. The store is
// closed when the test ends.
func openStore(tb testing.TB, factory DBFactory) db.Store {
	tb.Helper()
	s, params := factory()
	if err := s.Open(tb.TempDir(), params); err != nil {
		tb.Fatalf("Failed to open store: %v", err)
	}
	tb.Cleanup(func() {
		_ = s.Close()
	})
	return s
}

func mustPut(tb testing.TB, s db.Store, ns db.Namespace, key, value string) {
	tb.Helper()
	if _, err := s.Put(ns, key, value); err != nil {
		tb.Fatalf("Put(%s, %q) failed: %v", ns, key, err)
	}
}

func mustSize(tb testing.TB, s db.Store, ns db.Namespace) int64 {
	tb.Helper()
	n, err := s.Size(ns)
	if err != nil {
		tb.Fatalf("Size(%s) failed: %v", ns, err)
	}
	return n
}

// collect reads the whole namespace into a map
func collect(tb testing.TB, s db.Store, ns db.Namespace) map[string]string {
	tb.Helper()
	out := map[string]string{}
	err := db.ForEach(s, ns, func(item db.TransactionItem) error {
		if item.Namespace != ns {
			return fmt.Errorf("item of namespace %s returned while iterating %s", item.Namespace, ns)
		}
		if _, dup := out[item.Key]; dup {
			return fmt.Errorf("key %q returned twice", item.Key)
		}
		out[item.Key] = item.Value
		return nil
	})
	if err != nil {
		tb.Fatalf("Iterating %s failed: %v", ns, err)
	}
	return out
}

func expectCode(tb testing.TB, err error, target error, what string) {
	tb.Helper()
	if !errors.Is(err, target) {
		tb.Errorf("%s: expected %v, got %v", what, target, err)
	}
}

// --------------------------------------------------------------------------
// Test functions
// --------------------------------------------------------------------------

func testLifecycle(t *testing.T, factory DBFactory) {
	s, params := factory()
	location := t.TempDir()

	if s.Status() != db.StatusNew {
		t.Errorf("Expected status NEW, got %s", s.Status())
	}

	_, _, err := s.Get(db.NsTemp, "key")
	expectCode(t, err, db.ErrIllegalState, "Get before Open")
	_, err = s.Put(db.NsTemp, "key", "value")
	expectCode(t, err, db.ErrIllegalState, "Put before Open")

	if err := s.Open(location, params); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if s.Status() != db.StatusOpen {
		t.Errorf("Expected status OPEN, got %s", s.Status())
	}

	// opening again at the same location is a no-op
	if err := s.Open(location, params); err != nil {
		t.Errorf("Second Open at the same location failed: %v", err)
	}
	err = s.Open(t.TempDir(), params)
	expectCode(t, err, db.ErrIllegalState, "Open at another location")

	mustPut(t, s, db.NsTemp, "key", "value")

	if err := s.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
	if s.Status() != db.StatusClosed {
		t.Errorf("Expected status CLOSED, got %s", s.Status())
	}
	if err := s.Close(); err != nil {
		t.Errorf("Second Close failed: %v", err)
	}

	_, _, err = s.Get(db.NsTemp, "key")
	expectCode(t, err, db.ErrIllegalState, "Get after Close")
	_, err = s.Iterate(db.NsTemp)
	expectCode(t, err, db.ErrIllegalState, "Iterate after Close")
	err = s.Open(location, params)
	expectCode(t, err, db.ErrIllegalState, "Open after Close")
}

// testCloseDuringOperations closes the store while other goroutines use it.
// Every operation either succeeds or fails with ErrIllegalState.
func testCloseDuringOperations(t *testing.T, factory DBFactory) {
	s, params := factory()
	if err := s.Open(t.TempDir(), params); err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	const workers = 8
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; ; i++ {
				key := fmt.Sprintf("worker-%d-%d", w, i%50)
				var err error
				switch i % 4 {
				case 0:
					_, err = s.Put(db.NsTemp, key, "value")
				case 1:
					_, _, err = s.Get(db.NsTemp, key)
				case 2:
					_, err = s.Remove(db.NsTemp, key)
				case 3:
					_, err = s.Size(db.NsTemp)
				}
				if err != nil {
					errs <- err
					return
				}
			}
		}(w)
	}

	time.Sleep(20 * time.Millisecond)
	if err := s.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		expectCode(t, err, db.ErrIllegalState, "Operation racing Close")
	}
}

func testPutGet(t *testing.T, s db.Store) {
	testKey := "test-key"

	existed, err := s.Put(db.NsTemp, testKey, "value1")
	if err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if existed {
		t.Errorf("Expected existed=false for a new key")
	}

	value, found, err := s.Get(db.NsTemp, testKey)
	if err != nil || !found {
		t.Fatalf("Expected key %s to exist after Put (err %v)", testKey, err)
	}
	if value != "value1" {
		t.Errorf("Expected value %q, got %q", "value1", value)
	}

	existed, err = s.Put(db.NsTemp, testKey, "value2")
	if err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if !existed {
		t.Errorf("Expected existed=true when updating a key")
	}

	value, _, _ = s.Get(db.NsTemp, testKey)
	if value != "value2" {
		t.Errorf("Expected updated value %q, got %q", "value2", value)
	}

	if _, found, _ := s.Get(db.NsTemp, "nonexistent-key"); found {
		t.Errorf("Expected nonexistent key to return found=false")
	}

	ok, err := s.Contains(db.NsTemp, testKey)
	if err != nil || !ok {
		t.Errorf("Expected Contains to return true (err %v)", err)
	}
	ok, _ = s.Contains(db.NsTemp, "nonexistent-key")
	if ok {
		t.Errorf("Expected Contains to return false for nonexistent key")
	}

	// empty values are values
	mustPut(t, s, db.NsTemp, "empty", "")
	value, found, _ = s.Get(db.NsTemp, "empty")
	if !found || value != "" {
		t.Errorf("Expected empty value to be stored, got %q (found %t)", value, found)
	}

	// unicode keys and values
	mustPut(t, s, db.NsTemp, "schlüssel-ключ-鍵", "wert-значение-値")
	value, _, _ = s.Get(db.NsTemp, "schlüssel-ключ-鍵")
	if value != "wert-значение-値" {
		t.Errorf("Unicode round trip failed, got %q", value)
	}
}

func testRemove(t *testing.T, s db.Store) {
	mustPut(t, s, db.NsTemp, "delete-me", "value")

	existed, err := s.Remove(db.NsTemp, "delete-me")
	if err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if !existed {
		t.Errorf("Expected existed=true when removing an existing key")
	}

	if ok, _ := s.Contains(db.NsTemp, "delete-me"); ok {
		t.Errorf("Expected key to be gone after Remove")
	}

	existed, err = s.Remove(db.NsTemp, "delete-me")
	if err != nil {
		t.Fatalf("Removing an absent key failed: %v", err)
	}
	if existed {
		t.Errorf("Expected existed=false when removing an absent key")
	}
}

func testNamespaceIsolation(t *testing.T, s db.Store) {
	mustPut(t, s, db.NsTemp, "shared", "temp")
	mustPut(t, s, db.NsCache, "shared", "cache")

	v1, _, _ := s.Get(db.NsTemp, "shared")
	v2, _, _ := s.Get(db.NsCache, "shared")
	if v1 != "temp" || v2 != "cache" {
		t.Errorf("Namespaces are not isolated: got %q and %q", v1, v2)
	}

	// a namespace name that is a prefix of another must not leak
	mustPut(t, s, db.NsEmailQueue, "k", "v")
	if n := mustSize(t, s, db.NsMeta); n != 0 {
		t.Errorf("Expected empty namespace %s, got size %d", db.NsMeta, n)
	}

	if _, err := s.Remove(db.NsTemp, "shared"); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if ok, _ := s.Contains(db.NsCache, "shared"); !ok {
		t.Errorf("Remove in one namespace affected another")
	}

	if err := s.Truncate(db.NsCache); err != nil {
		t.Fatalf("Truncate failed: %v", err)
	}
	if ok, _ := s.Contains(db.NsEmailQueue, "k"); !ok {
		t.Errorf("Truncate of one namespace affected another")
	}
}

func testBatches(t *testing.T, s db.Store) {
	entries := map[string]string{}
	for i := 0; i < 100; i++ {
		entries[fmt.Sprintf("batch-%03d", i)] = fmt.Sprintf("value-%d", i)
	}

	if err := s.PutAll(db.NsTemp, entries); err != nil {
		t.Fatalf("PutAll failed: %v", err)
	}
	if n := mustSize(t, s, db.NsTemp); n != 100 {
		t.Errorf("Expected size 100 after PutAll, got %d", n)
	}
	for k, want := range entries {
		if got, _, _ := s.Get(db.NsTemp, k); got != want {
			t.Errorf("Expected %q for %s, got %q", want, k, got)
		}
	}

	// PutAll overwrites
	if err := s.PutAll(db.NsTemp, map[string]string{"batch-000": "new"}); err != nil {
		t.Fatalf("PutAll failed: %v", err)
	}
	if got, _, _ := s.Get(db.NsTemp, "batch-000"); got != "new" {
		t.Errorf("Expected PutAll to overwrite, got %q", got)
	}

	keys := []string{"nonexistent"}
	for i := 0; i < 50; i++ {
		keys = append(keys, fmt.Sprintf("batch-%03d", i))
	}
	if err := s.RemoveAll(db.NsTemp, keys); err != nil {
		t.Fatalf("RemoveAll failed: %v", err)
	}
	if n := mustSize(t, s, db.NsTemp); n != 50 {
		t.Errorf("Expected size 50 after RemoveAll, got %d", n)
	}

	// empty batches are no-ops
	if err := s.PutAll(db.NsTemp, map[string]string{}); err != nil {
		t.Errorf("Empty PutAll failed: %v", err)
	}
	if err := s.RemoveAll(db.NsTemp, nil); err != nil {
		t.Errorf("Empty RemoveAll failed: %v", err)
	}
}

func testSizeMatchesContains(t *testing.T, s db.Store) {
	model := map[string]bool{}
	check := func(step string) {
		t.Helper()
		n := mustSize(t, s, db.NsTemp)
		if n != int64(len(model)) {
			t.Fatalf("%s: expected size %d, got %d", step, len(model), n)
		}
		for k := range model {
			if ok, _ := s.Contains(db.NsTemp, k); !ok {
				t.Fatalf("%s: expected key %s to exist", step, k)
			}
		}
	}

	check("empty")

	for i := 0; i < 20; i++ {
		k := fmt.Sprintf("k%02d", i%15)
		mustPut(t, s, db.NsTemp, k, "v")
		model[k] = true
	}
	check("put")

	for _, k := range []string{"k00", "k01", "missing"} {
		if _, err := s.Remove(db.NsTemp, k); err != nil {
			t.Fatal(err)
		}
		delete(model, k)
	}
	check("remove")

	batch := map[string]string{"k02": "x", "b1": "y", "b2": "z"}
	if err := s.PutAll(db.NsTemp, batch); err != nil {
		t.Fatal(err)
	}
	for k := range batch {
		model[k] = true
	}
	check("putAll")

	if err := s.RemoveAll(db.NsTemp, []string{"b1", "k03", "missing"}); err != nil {
		t.Fatal(err)
	}
	delete(model, "b1")
	delete(model, "k03")
	check("removeAll")

	if err := s.Truncate(db.NsTemp); err != nil {
		t.Fatal(err)
	}
	model = map[string]bool{}
	check("truncate")

	mustPut(t, s, db.NsTemp, "after", "truncate")
	model["after"] = true
	check("put after truncate")
}

func testTruncate(t *testing.T, s db.Store) {
	entries := map[string]string{}
	for i := 0; i < 500; i++ {
		entries[fmt.Sprintf("key-%d", i)] = "value"
	}
	if err := s.PutAll(db.NsTemp, entries); err != nil {
		t.Fatalf("PutAll failed: %v", err)
	}

	if err := s.Truncate(db.NsTemp); err != nil {
		t.Fatalf("Truncate failed: %v", err)
	}
	if n := mustSize(t, s, db.NsTemp); n != 0 {
		t.Errorf("Expected size 0 after Truncate, got %d", n)
	}
	if _, found, _ := s.Get(db.NsTemp, "key-1"); found {
		t.Errorf("Expected key to be gone after Truncate")
	}
	if len(collect(t, s, db.NsTemp)) != 0 {
		t.Errorf("Expected iterator to be empty after Truncate")
	}

	// truncating an empty or unused namespace works
	if err := s.Truncate(db.NsTemp); err != nil {
		t.Errorf("Truncate of an empty namespace failed: %v", err)
	}
	if err := s.Truncate(db.NsSpeedHistory); err != nil {
		t.Errorf("Truncate of an unused namespace failed: %v", err)
	}

	// the namespace is usable afterwards
	mustPut(t, s, db.NsTemp, "fresh", "value")
	if n := mustSize(t, s, db.NsTemp); n != 1 {
		t.Errorf("Expected size 1 after Truncate and Put, got %d", n)
	}
}

func testIterate(t *testing.T, s db.Store) {
	if got := collect(t, s, db.NsTemp); len(got) != 0 {
		t.Errorf("Expected empty namespace, got %d items", len(got))
	}

	// more entries than one iterator page
	entries := map[string]string{}
	for i := 0; i < 1000; i++ {
		entries[fmt.Sprintf("iter-%04d", i)] = fmt.Sprintf("value-%d", i)
	}
	if err := s.PutAll(db.NsTemp, entries); err != nil {
		t.Fatalf("PutAll failed: %v", err)
	}
	mustPut(t, s, db.NsCache, "other", "namespace")

	got := collect(t, s, db.NsTemp)
	if len(got) != len(entries) {
		t.Fatalf("Expected %d items, got %d", len(entries), len(got))
	}
	for k, want := range entries {
		if got[k] != want {
			t.Errorf("Expected %q for %s, got %q", want, k, got[k])
		}
	}

	// iterating stops when the iterator is closed
	it, err := s.Iterate(db.NsTemp)
	if err != nil {
		t.Fatalf("Iterate failed: %v", err)
	}
	if !it.Next() {
		t.Fatalf("Expected at least one item")
	}
	if err := it.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
	if it.Next() {
		t.Errorf("Expected Next to return false after Close")
	}
	if err := it.Close(); err != nil {
		t.Errorf("Second Close failed: %v", err)
	}
}

func testIteratorExclusive(t *testing.T, s db.Store) {
	mustPut(t, s, db.NsTemp, "a", "1")

	first, err := s.Iterate(db.NsTemp)
	if err != nil {
		t.Fatalf("Iterate failed: %v", err)
	}

	_, err = s.Iterate(db.NsTemp)
	expectCode(t, err, db.ErrIllegalState, "Second iterator on the same namespace")

	// other namespaces are independent
	other, err := s.Iterate(db.NsCache)
	if err != nil {
		t.Errorf("Iterator on another namespace failed: %v", err)
	} else {
		_ = other.Close()
	}

	// writes are allowed while iterating
	mustPut(t, s, db.NsTemp, "b", "2")

	if err := first.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	second, err := s.Iterate(db.NsTemp)
	if err != nil {
		t.Fatalf("Iterate after Close failed: %v", err)
	}
	_ = second.Close()

	// ForEach releases the iterator also on error
	stop := errors.New("stop")
	err = db.ForEach(s, db.NsTemp, func(db.TransactionItem) error { return stop })
	if !errors.Is(err, stop) {
		t.Errorf("Expected ForEach to return the callback error, got %v", err)
	}
	third, err := s.Iterate(db.NsTemp)
	if err != nil {
		t.Fatalf("Iterate after ForEach failed: %v", err)
	}
	_ = third.Close()
}

func testLargeValues(t *testing.T, s db.Store) {
	maxKey := strings.Repeat("k", db.MaxKeyLength)
	maxValue := strings.Repeat("v", db.MaxValueLength)
	mustPut(t, s, db.NsTemp, maxKey, maxValue)

	got, found, err := s.Get(db.NsTemp, maxKey)
	if err != nil || !found {
		t.Fatalf("Expected max sized entry to exist (err %v)", err)
	}
	if got != maxValue {
		t.Errorf("Max sized value was not stored completely (len %d)", len(got))
	}

	// multi byte characters
	wide := strings.Repeat("ä", db.MaxValueLength)
	mustPut(t, s, db.NsTemp, "wide", wide)
	if got, _, _ := s.Get(db.NsTemp, "wide"); got != wide {
		t.Errorf("Multi byte value was not stored completely (len %d)", len(got))
	}
}

func testConcurrent(t *testing.T, s db.Store) {
	const (
		workers = 8
		perWork = 50
	)

	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWork; i++ {
				key := fmt.Sprintf("w%d-%d", w, i)
				if _, err := s.Put(db.NsTemp, key, key); err != nil {
					errs <- err
					return
				}
				if _, _, err := s.Get(db.NsTemp, key); err != nil {
					errs <- err
					return
				}
			}
		}(w)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("Concurrent operation failed: %v", err)
	}

	if n := mustSize(t, s, db.NsTemp); n != workers*perWork {
		t.Errorf("Expected size %d, got %d", workers*perWork, n)
	}

	keys := make([]string, 0, workers*perWork)
	for k := range collect(t, s, db.NsTemp) {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	if len(keys) != workers*perWork {
		t.Errorf("Expected %d keys, iterated %d", workers*perWork, len(keys))
	}
}

func testMetadata(t *testing.T, s db.Store) {
	for i := 0; i < 100; i++ {
		mustPut(t, s, db.NsTemp, fmt.Sprintf("meta-%d", i), strings.Repeat("x", 100))
	}

	if used := s.DiskSpaceUsed(); used < 0 {
		t.Errorf("Expected DiskSpaceUsed >= 0, got %d", used)
	}

	info := s.Info()
	if info.Status != db.StatusOpen.String() {
		t.Errorf("Expected info status OPEN, got %s", info.Status)
	}
	if info.DbType == "" {
		t.Errorf("Expected info to name the engine")
	}
	if info.SizeBytes < 0 {
		t.Errorf("Expected SizeBytes >= 0, got %d", info.SizeBytes)
	}
}

func testReopen(t *testing.T, factory DBFactory) {
	location := t.TempDir()

	s, params := factory()
	if err := s.Open(location, params); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	mustPut(t, s, db.NsTemp, "persistent", "value")
	mustPut(t, s, db.NsCache, "other", "value")
	if err := s.PutAll(db.NsTemp, map[string]string{"a": "1", "b": "2"}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Remove(db.NsTemp, "a"); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	reopened, params := factory()
	if err := reopened.Open(location, params); err != nil {
		t.Fatalf("Reopen failed: %v", err)
	}
	defer reopened.Close()

	if v, found, _ := reopened.Get(db.NsTemp, "persistent"); !found || v != "value" {
		t.Errorf("Expected value to survive reopen, got %q (found %t)", v, found)
	}
	if ok, _ := reopened.Contains(db.NsTemp, "a"); ok {
		t.Errorf("Expected removed key to stay removed after reopen")
	}
	if n := mustSize(t, reopened, db.NsTemp); n != 2 {
		t.Errorf("Expected size 2 after reopen, got %d", n)
	}
	if n := mustSize(t, reopened, db.NsCache); n != 1 {
		t.Errorf("Expected size 1 after reopen, got %d", n)
	}
}

func testTruncateReopen(t *testing.T, factory DBFactory) {
	location := t.TempDir()

	s, params := factory()
	if err := s.Open(location, params); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	mustPut(t, s, db.NsTemp, "gone", "value")
	if err := s.Truncate(db.NsTemp); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	reopened, params := factory()
	if err := reopened.Open(location, params); err != nil {
		t.Fatalf("Reopen failed: %v", err)
	}
	defer reopened.Close()

	if n := mustSize(t, reopened, db.NsTemp); n != 0 {
		t.Errorf("Expected truncated namespace to stay empty, got size %d", n)
	}
}
