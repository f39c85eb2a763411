package db

import (
	"sync"
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v3"
)

// --------------------------------------------------------------------------
// Lifecycle
// --------------------------------------------------------------------------

// Lifecycle tracks the Status of an engine. Engines embed it and wrap every
// operation touching a backend resource in Enter/Leave (engines without one
// may just call CheckOpen). BeginClose waits until all
// entered operations have left, so the backend is never used after it was
// released.
//
// Thread-safety: All methods are thread-safe. Enter must not be called again
// by a goroutine that already entered.
type Lifecycle struct {
	status   atomic.Int32
	location atomic.Pointer[string]

	// ops is held shared by running operations and exclusively by BeginClose
	ops sync.RWMutex
}

// Status returns the current lifecycle phase
func (l *Lifecycle) Status() Status {
	return Status(l.status.Load())
}

// Location returns the location the store was opened with ("" before Open)
func (l *Lifecycle) Location() string {
	if p := l.location.Load(); p != nil {
		return *p
	}
	return ""
}

// BeginOpen moves the store from NEW to OPENING.
// done is true if the store is already open against the same location, the
// caller must then return nil without opening again.
func (l *Lifecycle) BeginOpen(location string) (done bool, err error) {
	if l.status.CompareAndSwap(int32(StatusNew), int32(StatusOpening)) {
		l.location.Store(&location)
		return false, nil
	}

	switch l.Status() {
	case StatusOpen:
		if l.Location() == location {
			return true, nil
		}
		return false, NewError(ErrCIllegalState, "store already open at %q, can not open at %q", l.Location(), location)
	case StatusClosed:
		return false, NewError(ErrCIllegalState, "store is closed")
	default:
		return false, NewError(ErrCIllegalState, "store is currently opening")
	}
}

// EndOpen finishes the open call. On failure the store goes back to NEW so
// the caller may retry Open.
func (l *Lifecycle) EndOpen(err error) {
	if err != nil {
		l.location.Store(nil)
		l.status.Store(int32(StatusNew))
		return
	}
	l.status.Store(int32(StatusOpen))
}

// BeginClose marks the store as closed. It returns false if the store was
// already closed, the caller must then not release resources again.
func (l *Lifecycle) BeginClose() bool {
	l.ops.Lock()
	defer l.ops.Unlock()
	for {
		current := l.status.Load()
		if Status(current) == StatusClosed {
			return false
		}
		if l.status.CompareAndSwap(current, int32(StatusClosed)) {
			return Status(current) != StatusNew
		}
	}
}

// CheckOpen returns ErrIllegalState unless the store is open
func (l *Lifecycle) CheckOpen() error {
	if s := l.Status(); s != StatusOpen {
		return NewError(ErrCIllegalState, "store is not open (status %s)", s)
	}
	return nil
}

// Enter starts an operation. It returns ErrIllegalState unless the store is
// open. On success the caller must call Leave once it no longer uses the
// backend.
func (l *Lifecycle) Enter() error {
	l.ops.RLock()
	if err := l.CheckOpen(); err != nil {
		l.ops.RUnlock()
		return err
	}
	return nil
}

// Leave ends an operation started with Enter
func (l *Lifecycle) Leave() {
	l.ops.RUnlock()
}

// --------------------------------------------------------------------------
// Iterator Guard
// --------------------------------------------------------------------------

// IteratorGuard enforces that at most one iterator per namespace is
// outstanding.
//
// Thread-safety: All methods are thread-safe.
type IteratorGuard struct {
	open *xsync.MapOf[Namespace, struct{}]
}

// NewIteratorGuard creates a new guard with no open iterators
func NewIteratorGuard() *IteratorGuard {
	return &IteratorGuard{open: xsync.NewMapOf[Namespace, struct{}]()}
}

// Acquire reserves the namespace. It fails with ErrIllegalState if an iterator
// is already open on it.
func (g *IteratorGuard) Acquire(ns Namespace) error {
	if _, loaded := g.open.LoadOrStore(ns, struct{}{}); loaded {
		return NewError(ErrCIllegalState, "an iterator is already open on namespace %s", ns)
	}
	return nil
}

// Release frees the namespace again
func (g *IteratorGuard) Release(ns Namespace) {
	g.open.Delete(ns)
}

// Outstanding returns the number of open iterators
func (g *IteratorGuard) Outstanding() int {
	return g.open.Size()
}
