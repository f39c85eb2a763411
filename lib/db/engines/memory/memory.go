package memory

import (
	"sort"

	"github.com/ValentinKolb/nsKV/lib/db"
	"github.com/ValentinKolb/nsKV/lib/db/util"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
)

var log = logger.GetLogger("memory")

// --------------------------------------------------------------------------
// Constants
// --------------------------------------------------------------------------

const (
	entryOverhead   = 48  // string headers of key and value plus map bucket share
	samplesPerNs    = 100 // entries sampled per namespace by Info()
	defaultCapacity = 0
)

// --------------------------------------------------------------------------
// Core memory store structure
// --------------------------------------------------------------------------

// memoryImpl keeps one concurrent map per namespace. Nothing is persisted.
type memoryImpl struct {
	db.Lifecycle
	namespaces *xsync.MapOf[db.Namespace, *xsync.MapOf[string, string]]
	iterators  *db.IteratorGuard
	capacity   int
}

// DBOptions configures the memory store
type DBOptions struct {
	// InitialCapacity is the presized capacity of every namespace map (0 = xsync default)
	InitialCapacity int
}

// DefaultOptions returns the default options
func DefaultOptions() *DBOptions {
	return &DBOptions{InitialCapacity: defaultCapacity}
}

// NewMemoryDB creates a new, not yet opened, in-memory store.
// Supported init params: initialCapacity.
func NewMemoryDB(opts *DBOptions) db.Store {
	if opts == nil {
		opts = DefaultOptions()
	}
	return &memoryImpl{
		namespaces: xsync.NewMapOf[db.Namespace, *xsync.MapOf[string, string]](),
		iterators:  db.NewIteratorGuard(),
		capacity:   opts.InitialCapacity,
	}
}

// --------------------------------------------------------------------------
// Lifecycle
// --------------------------------------------------------------------------

func (m *memoryImpl) Open(location string, params db.InitParams) (err error) {
	done, err := m.BeginOpen(location)
	if err != nil || done {
		return err
	}
	defer func() { m.EndOpen(err) }()

	if m.capacity, err = params.GetInt("initialCapacity", m.capacity); err != nil {
		return db.Reclassify(db.ErrCStoreUnavailable, err, "invalid memory store params")
	}
	if unknown := params.Unknown("initialCapacity"); len(unknown) > 0 {
		log.Warningf("ignoring unknown init params %v", unknown)
	}

	log.Infof("opened in-memory store (location %q is ignored)", location)
	return nil
}

func (m *memoryImpl) Close() error {
	if m.BeginClose() {
		m.namespaces.Clear()
		log.Infof("closed in-memory store")
	}
	return nil
}

// ns returns the map of a namespace, creating it on first use
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (m *memoryImpl) ns(ns db.Namespace) *xsync.MapOf[string, string] {
	data, _ := m.namespaces.LoadOrCompute(ns, func() *xsync.MapOf[string, string] {
		if m.capacity > 0 {
			return xsync.NewMapOf[string, string](xsync.WithPresize(m.capacity))
		}
		return xsync.NewMapOf[string, string]()
	})
	return data
}

// --------------------------------------------------------------------------
// Read Operations
// --------------------------------------------------------------------------

func (m *memoryImpl) Get(ns db.Namespace, key string) (string, bool, error) {
	if err := m.CheckOpen(); err != nil {
		return "", false, err
	}
	v, ok := m.ns(ns).Load(key)
	return v, ok, nil
}

func (m *memoryImpl) Contains(ns db.Namespace, key string) (bool, error) {
	if err := m.CheckOpen(); err != nil {
		return false, err
	}
	_, ok := m.ns(ns).Load(key)
	return ok, nil
}

// Size is O(1) for this engine
func (m *memoryImpl) Size(ns db.Namespace) (int64, error) {
	if err := m.CheckOpen(); err != nil {
		return 0, err
	}
	return int64(m.ns(ns).Size()), nil
}

// Iterate takes a sorted snapshot of the namespace. Writes after this call are
// not visible to the iterator.
func (m *memoryImpl) Iterate(ns db.Namespace) (db.Iterator, error) {
	if err := m.CheckOpen(); err != nil {
		return nil, err
	}
	if err := m.iterators.Acquire(ns); err != nil {
		return nil, err
	}

	var items []db.TransactionItem
	m.ns(ns).Range(func(k, v string) bool {
		items = append(items, db.TransactionItem{Namespace: ns, Key: k, Value: v})
		return true
	})
	sort.Slice(items, func(i, j int) bool { return items[i].Key < items[j].Key })

	return &snapshotIterator{items: items, pos: -1, release: func() { m.iterators.Release(ns) }}, nil
}

// --------------------------------------------------------------------------
// Write Operations
// --------------------------------------------------------------------------

func (m *memoryImpl) Put(ns db.Namespace, key, value string) (bool, error) {
	if err := m.CheckOpen(); err != nil {
		return false, err
	}
	var existed bool
	m.ns(ns).Compute(key, func(_ string, loaded bool) (string, bool) {
		existed = loaded
		return value, false
	})
	return existed, nil
}

func (m *memoryImpl) PutAll(ns db.Namespace, entries map[string]string) error {
	if err := m.CheckOpen(); err != nil {
		return err
	}
	data := m.ns(ns)
	for k, v := range entries {
		data.Store(k, v)
	}
	return nil
}

func (m *memoryImpl) Remove(ns db.Namespace, key string) (bool, error) {
	if err := m.CheckOpen(); err != nil {
		return false, err
	}
	_, existed := m.ns(ns).LoadAndDelete(key)
	return existed, nil
}

func (m *memoryImpl) RemoveAll(ns db.Namespace, keys []string) error {
	if err := m.CheckOpen(); err != nil {
		return err
	}
	data := m.ns(ns)
	for _, k := range keys {
		data.Delete(k)
	}
	return nil
}

func (m *memoryImpl) Truncate(ns db.Namespace) error {
	if err := m.CheckOpen(); err != nil {
		return err
	}
	m.ns(ns).Clear()
	return nil
}

// --------------------------------------------------------------------------
// Metadata
// --------------------------------------------------------------------------

// DiskSpaceUsed is always 0, nothing is written to disk
func (m *memoryImpl) DiskSpaceUsed() int64 {
	return 0
}

// Info estimates the memory used by sampling entry sizes of every namespace
func (m *memoryImpl) Info() db.DatabaseInfo {
	histogram := util.NewSizeHistogram()
	var (
		total  int64
		counts = map[db.Namespace]int{}
		sizes  []float64
	)

	m.namespaces.Range(func(ns db.Namespace, data *xsync.MapOf[string, string]) bool {
		n := data.Size()
		if n == 0 {
			return true
		}
		counts[ns] = n
		total += int64(n)
		sizes = append(sizes, float64(n))

		sampled := 0
		data.Range(func(k, v string) bool {
			histogram.AddSample(len(k) + len(v))
			sampled++
			return sampled < samplesPerNs
		})
		return true
	})

	meta := &struct {
		Entries      int64                `json:"entries"`
		Namespaces   map[db.Namespace]int `json:"namespaces"`
		Distribution util.Stats           `json:"distribution"`
		Info         string               `json:"info"`
	}{
		Entries:      total,
		Namespaces:   counts,
		Distribution: util.NewStats(sizes),
		Info:         "SizeBytes is an estimate based on sampled entries.",
	}

	return db.DatabaseInfo{
		SizeBytes: histogram.EstimateTotal(total, entryOverhead),
		DbType:    db.ImplMemory,
		Status:    m.Status().String(),
		Location:  m.Location(),
		Metadata:  meta,
	}
}

// --------------------------------------------------------------------------
// Iterator
// --------------------------------------------------------------------------

// snapshotIterator iterates over a pre-collected slice of items
type snapshotIterator struct {
	items   []db.TransactionItem
	pos     int
	closed  bool
	release func()
}

func (it *snapshotIterator) Next() bool {
	if it.closed || it.pos+1 >= len(it.items) {
		return false
	}
	it.pos++
	return true
}

func (it *snapshotIterator) Item() db.TransactionItem {
	if it.pos < 0 || it.pos >= len(it.items) {
		return db.TransactionItem{}
	}
	return it.items[it.pos]
}

func (it *snapshotIterator) Err() error {
	return nil
}

func (it *snapshotIterator) Close() error {
	if !it.closed {
		it.closed = true
		it.items = nil
		it.release()
	}
	return nil
}
