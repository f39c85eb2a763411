package db

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
)

// --------------------------------------------------------------------------
// Init params
// --------------------------------------------------------------------------

func TestParseInitParams(t *testing.T) {
	p, err := ParseInitParams(" cacheSize = 1048576 ;sync=false;;timeoutMs=250 ")
	if err != nil {
		t.Fatal(err)
	}
	if len(p) != 3 {
		t.Errorf("Expected 3 params, got %v", p)
	}
	if v, _ := p.GetInt64("cacheSize", 0); v != 1048576 {
		t.Errorf("Expected cacheSize 1048576, got %d", v)
	}
	if v, _ := p.GetBool("sync", true); v {
		t.Errorf("Expected sync false")
	}
	if v, _ := p.GetMillis("timeoutMs", time.Second); v != 250*time.Millisecond {
		t.Errorf("Expected 250ms, got %s", v)
	}
	if v, _ := p.GetInt("missing", 7); v != 7 {
		t.Errorf("Expected the default for a missing key, got %d", v)
	}
	if v := p.GetString("missing", "def"); v != "def" {
		t.Errorf("Expected the default for a missing key, got %s", v)
	}
	if p.String() != "cacheSize=1048576;sync=false;timeoutMs=250" {
		t.Errorf("Unexpected formatting %q", p.String())
	}

	if empty, err := ParseInitParams(""); err != nil || len(empty) != 0 {
		t.Errorf("Expected no params for an empty string, got %v (%v)", empty, err)
	}
	for _, bad := range []string{"novalue", "=value", "a=1;broken"} {
		if _, err := ParseInitParams(bad); !errors.Is(err, ErrInvalidArgument) {
			t.Errorf("Expected InvalidArgument for %q, got %v", bad, err)
		}
	}
}

func TestInitParamsTypeErrors(t *testing.T) {
	p := InitParams{"n": "x", "b": "maybe"}
	if _, err := p.GetInt("n", 0); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("Expected InvalidArgument, got %v", err)
	}
	if _, err := p.GetMillis("n", 0); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("Expected InvalidArgument, got %v", err)
	}
	if _, err := p.GetBool("b", false); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("Expected InvalidArgument, got %v", err)
	}
	if unknown := p.Unknown("n"); len(unknown) != 1 || unknown[0] != "b" {
		t.Errorf("Expected [b] to be unknown, got %v", unknown)
	}
}

// --------------------------------------------------------------------------
// Errors
// --------------------------------------------------------------------------

func TestErrorClassification(t *testing.T) {
	cause := errors.New("disk on fire")

	wrapped := WrapError(ErrCStoreUnavailable, cause, "writing %s", "TEMP")
	if !errors.Is(wrapped, ErrStoreUnavailable) || errors.Is(wrapped, ErrIllegalState) {
		t.Errorf("Unexpected classification of %v", wrapped)
	}
	if !errors.Is(wrapped, cause) {
		t.Errorf("Expected the cause to be reachable")
	}
	if !strings.Contains(wrapped.Error(), "writing TEMP") || !strings.Contains(wrapped.Error(), "disk on fire") {
		t.Errorf("Unexpected message %q", wrapped.Error())
	}

	// an existing classification is kept
	inner := NewError(ErrCInvalidArgument, "bad key")
	if CodeOf(WrapError(ErrCStoreUnavailable, inner, "outer")) != ErrCInvalidArgument {
		t.Errorf("WrapError must keep the original code")
	}
	if CodeOf(errors.Wrap(inner, "context")) != ErrCInvalidArgument {
		t.Errorf("CodeOf must see through wrapping")
	}

	// unless it is reclassified
	re := Reclassify(ErrCStoreUnavailable, inner, "engine %s", "bolt")
	if CodeOf(re) != ErrCStoreUnavailable || !errors.Is(re, ErrStoreUnavailable) {
		t.Errorf("Expected StoreUnavailable after Reclassify, got %v", re)
	}

	if WrapError(ErrCUnknown, nil, "x") != nil || Reclassify(ErrCUnknown, nil, "x") != nil {
		t.Errorf("Wrapping nil must return nil")
	}
	if CodeOf(cause) != ErrCUnknown {
		t.Errorf("Expected Unknown for a plain error")
	}
	if ErrCDataReset.String() != "DataReset" || ErrCode(99).String() != "Unknown" {
		t.Errorf("Unexpected code names")
	}
}

// --------------------------------------------------------------------------
// Lifecycle
// --------------------------------------------------------------------------

func TestLifecycle(t *testing.T) {
	var l Lifecycle
	if l.Status() != StatusNew {
		t.Fatalf("Expected NEW, got %s", l.Status())
	}
	if err := l.CheckOpen(); !errors.Is(err, ErrIllegalState) {
		t.Errorf("Expected IllegalState before open, got %v", err)
	}

	// failed open returns to NEW
	done, err := l.BeginOpen("/a")
	if done || err != nil {
		t.Fatalf("BeginOpen failed: %v", err)
	}
	l.EndOpen(errors.New("boom"))
	if l.Status() != StatusNew || l.Location() != "" {
		t.Errorf("Expected NEW without location after a failed open")
	}

	if _, err := l.BeginOpen("/a"); err != nil {
		t.Fatal(err)
	}
	l.EndOpen(nil)
	if err := l.CheckOpen(); err != nil {
		t.Errorf("Expected the store to be open, got %v", err)
	}
	if done, err := l.BeginOpen("/a"); !done || err != nil {
		t.Errorf("Expected reopening the same location to be a no-op")
	}
	if _, err := l.BeginOpen("/b"); !errors.Is(err, ErrIllegalState) {
		t.Errorf("Expected IllegalState for another location, got %v", err)
	}

	if !l.BeginClose() {
		t.Errorf("Expected the first close to release resources")
	}
	if l.BeginClose() {
		t.Errorf("Expected the second close to be a no-op")
	}
	if _, err := l.BeginOpen("/a"); !errors.Is(err, ErrIllegalState) {
		t.Errorf("Expected IllegalState after close, got %v", err)
	}
}

func TestCloseWaitsForRunningOperations(t *testing.T) {
	var l Lifecycle
	if err := l.Enter(); !errors.Is(err, ErrIllegalState) {
		t.Errorf("Expected IllegalState when entering before open, got %v", err)
	}
	if _, err := l.BeginOpen("/a"); err != nil {
		t.Fatal(err)
	}
	l.EndOpen(nil)

	if err := l.Enter(); err != nil {
		t.Fatalf("Enter failed: %v", err)
	}

	closed := make(chan struct{})
	go func() {
		l.BeginClose()
		close(closed)
	}()

	select {
	case <-closed:
		t.Fatal("BeginClose returned while an operation was running")
	case <-time.After(50 * time.Millisecond):
	}

	l.Leave()
	select {
	case <-closed:
	case <-time.After(5 * time.Second):
		t.Fatal("BeginClose did not return after the operation left")
	}

	if err := l.Enter(); !errors.Is(err, ErrIllegalState) {
		t.Errorf("Expected IllegalState when entering after close, got %v", err)
	}
}

func TestConcurrentOpenOnlyOneWins(t *testing.T) {
	var (
		l    Lifecycle
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if done, err := l.BeginOpen("/a"); err == nil && !done {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if wins != 1 {
		t.Errorf("Expected exactly one opener, got %d", wins)
	}
}

func TestIteratorGuard(t *testing.T) {
	g := NewIteratorGuard()
	if err := g.Acquire(NsTemp); err != nil {
		t.Fatal(err)
	}
	if err := g.Acquire(NsTemp); !errors.Is(err, ErrIllegalState) {
		t.Errorf("Expected IllegalState for a second iterator, got %v", err)
	}
	if err := g.Acquire(NsCache); err != nil {
		t.Errorf("Other namespaces must be independent: %v", err)
	}
	if g.Outstanding() != 2 {
		t.Errorf("Expected 2 outstanding iterators, got %d", g.Outstanding())
	}
	g.Release(NsTemp)
	if err := g.Acquire(NsTemp); err != nil {
		t.Errorf("Expected Acquire after Release to succeed, got %v", err)
	}
}

// --------------------------------------------------------------------------
// Namespaces
// --------------------------------------------------------------------------

func TestNamespaces(t *testing.T) {
	all := Namespaces()
	if len(all) != len(allNamespaces) {
		t.Fatalf("Expected %d namespaces, got %d", len(allNamespaces), len(all))
	}
	seen := map[Namespace]bool{}
	for _, ns := range all {
		if seen[ns] {
			t.Errorf("Duplicate namespace %s", ns)
		}
		seen[ns] = true
		if !ns.Valid() {
			t.Errorf("Expected %s to be known", ns)
		}
	}
	if Namespace("NOPE").Valid() || Namespace("").Valid() {
		t.Errorf("Unknown namespaces must be rejected")
	}

	// callers can not modify the registry
	all[0] = "CHANGED"
	if Namespaces()[0] == "CHANGED" {
		t.Errorf("Namespaces must return a copy")
	}
}
