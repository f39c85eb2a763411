package decorator

import (
	"sync"
	"sync/atomic"

	"github.com/ValentinKolb/nsKV/lib/db"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
)

var log = logger.GetLogger("decorator")

// --------------------------------------------------------------------------
// Size State
// --------------------------------------------------------------------------

type sizeKind uint8

const (
	sizeUnknown sizeKind = iota
	sizeComputing
	sizeKnown
)

// sizeState is the cached size of one namespace. A missing map entry is
// equivalent to sizeUnknown.
type sizeState struct {
	kind sizeKind
	n    int64
}

// --------------------------------------------------------------------------
// Size Caching Store
// --------------------------------------------------------------------------

// SizeCaching caches Size per namespace for engines where counting requires
// a scan.
//
// Single Put/Remove calls adjust a known size by one when the inner store
// reports whether the key existed. Batch operations and Truncate mark the
// namespace unknown. An unknown size is recounted by the next Size call; only
// one recount per namespace runs at a time.
//
// A recount only publishes its result if no mutation touched the namespace
// while it was running. A write that completed in the inner store right
// before a recount started, but adjusts the cache right after it published,
// can leave the cached size off by one until the next batch operation. The
// cache converges, it is not linearizable.
type SizeCaching struct {
	inner    db.Store
	states   *xsync.MapOf[db.Namespace, sizeState]
	counting *xsync.MapOf[db.Namespace, *sync.Mutex]
	recounts atomic.Int64
}

// NewSizeCaching wraps inner with a size cache
func NewSizeCaching(inner db.Store) *SizeCaching {
	return &SizeCaching{
		inner:    inner,
		states:   xsync.NewMapOf[db.Namespace, sizeState](),
		counting: xsync.NewMapOf[db.Namespace, *sync.Mutex](),
	}
}

func (c *SizeCaching) Unwrap() db.Store {
	return c.inner
}

// Recounts returns how often the inner store was asked for its size
func (c *SizeCaching) Recounts() int64 {
	return c.recounts.Load()
}

// adjust applies delta to a known size. Any other state becomes unknown, so a
// running recount will not publish.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (c *SizeCaching) adjust(ns db.Namespace, delta int64) {
	c.states.Compute(ns, func(old sizeState, loaded bool) (sizeState, bool) {
		if loaded && old.kind == sizeKnown {
			return sizeState{kind: sizeKnown, n: old.n + delta}, false
		}
		return sizeState{}, true
	})
}

// invalidate marks the size of the namespace unknown
func (c *SizeCaching) invalidate(ns db.Namespace) {
	c.states.Delete(ns)
}

// known returns the cached size if there is one
func (c *SizeCaching) known(ns db.Namespace) (int64, bool) {
	s, ok := c.states.Load(ns)
	if ok && s.kind == sizeKnown {
		return s.n, true
	}
	return 0, false
}

// Size returns the cached size or recounts it
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (c *SizeCaching) Size(ns db.Namespace) (int64, error) {
	if n, ok := c.known(ns); ok {
		return n, nil
	}

	mu, _ := c.counting.LoadOrCompute(ns, func() *sync.Mutex { return &sync.Mutex{} })
	mu.Lock()
	defer mu.Unlock()

	// a recount may have finished while we were waiting
	if n, ok := c.known(ns); ok {
		return n, nil
	}

	c.states.Store(ns, sizeState{kind: sizeComputing})
	c.recounts.Add(1)
	n, err := c.inner.Size(ns)
	if err != nil {
		c.states.Compute(ns, func(old sizeState, loaded bool) (sizeState, bool) {
			return old, !loaded || old.kind == sizeComputing
		})
		return 0, err
	}

	published := false
	c.states.Compute(ns, func(old sizeState, loaded bool) (sizeState, bool) {
		if loaded && old.kind == sizeComputing {
			published = true
			return sizeState{kind: sizeKnown, n: n}, false
		}
		return old, !loaded
	})
	if !published {
		log.Debugf("size of %s changed during recount, not caching %d", ns, n)
	}
	return n, nil
}

// --------------------------------------------------------------------------
// Write Operations
// --------------------------------------------------------------------------

func (c *SizeCaching) Put(ns db.Namespace, key, value string) (bool, error) {
	existed, err := c.inner.Put(ns, key, value)
	if err != nil {
		c.invalidate(ns)
		return existed, err
	}
	if !existed {
		c.adjust(ns, 1)
	}
	return existed, nil
}

func (c *SizeCaching) PutAll(ns db.Namespace, entries map[string]string) error {
	defer c.invalidate(ns)
	return c.inner.PutAll(ns, entries)
}

func (c *SizeCaching) Remove(ns db.Namespace, key string) (bool, error) {
	existed, err := c.inner.Remove(ns, key)
	if err != nil {
		c.invalidate(ns)
		return existed, err
	}
	if existed {
		c.adjust(ns, -1)
	}
	return existed, nil
}

func (c *SizeCaching) RemoveAll(ns db.Namespace, keys []string) error {
	defer c.invalidate(ns)
	return c.inner.RemoveAll(ns, keys)
}

func (c *SizeCaching) Truncate(ns db.Namespace) error {
	defer c.invalidate(ns)
	return c.inner.Truncate(ns)
}

// --------------------------------------------------------------------------
// Pass-through
// --------------------------------------------------------------------------

func (c *SizeCaching) Open(location string, params db.InitParams) error {
	return c.inner.Open(location, params)
}

func (c *SizeCaching) Status() db.Status {
	return c.inner.Status()
}

// Close drops all cached sizes
func (c *SizeCaching) Close() error {
	c.states.Clear()
	return c.inner.Close()
}

func (c *SizeCaching) Get(ns db.Namespace, key string) (string, bool, error) {
	return c.inner.Get(ns, key)
}

func (c *SizeCaching) Contains(ns db.Namespace, key string) (bool, error) {
	return c.inner.Contains(ns, key)
}

func (c *SizeCaching) Iterate(ns db.Namespace) (db.Iterator, error) {
	return c.inner.Iterate(ns)
}

func (c *SizeCaching) DiskSpaceUsed() int64 {
	return c.inner.DiskSpaceUsed()
}

func (c *SizeCaching) Info() db.DatabaseInfo {
	return c.inner.Info()
}
