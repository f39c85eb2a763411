package pebbledb

import (
	"os"
	"sync"
	"sync/atomic"

	"github.com/ValentinKolb/nsKV/lib/db"
	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/pebble"
	"github.com/lni/dragonboat/v4/logger"
)

var log = logger.GetLogger("pebble")

// --------------------------------------------------------------------------
// Constants
// --------------------------------------------------------------------------

const (
	nsSeparator = 0x00 // separates namespace and key in the engine keyspace
	nsEnd       = 0x01 // exclusive upper bound suffix of a namespace

	defaultCacheSize    = 8 << 20
	defaultMaxOpenFiles = 1000
)

var knownParams = []string{"cacheSize", "maxOpenFiles", "l0CompactionThreshold", "sync", "compaction"}

// --------------------------------------------------------------------------
// Core pebble store structure
// --------------------------------------------------------------------------

// pebbleImpl stores all namespaces in one pebble LSM tree. Keys are prefixed
// with the namespace name.
type pebbleImpl struct {
	db.Lifecycle
	pdb       *pebble.DB
	writeOpts *pebble.WriteOptions
	iterators *db.IteratorGuard

	// writeLock serializes single key writes so Put/Remove can report whether
	// the key existed before
	writeLock sync.Mutex

	// background compaction
	compactionEnabled   bool
	compactionIsRunning atomic.Bool
	compactionWg        sync.WaitGroup
	compactions         atomic.Int64 // finished background compactions
}

// NewPebbleDB creates a new, not yet opened, log-structured store.
//
// Supported init params:
//   - cacheSize: block cache size in bytes
//   - maxOpenFiles: max number of open sstables
//   - l0CompactionThreshold: number of L0 files that trigger a compaction
//   - sync: whether writes are fsynced (default true)
//   - compaction: whether a manual compaction runs after open/truncate (default true)
func NewPebbleDB() db.Store {
	return &pebbleImpl{
		iterators: db.NewIteratorGuard(),
	}
}

// --------------------------------------------------------------------------
// Key Helper Functions
// --------------------------------------------------------------------------

// encodeKey returns ns + 0x00 + key
func encodeKey(ns db.Namespace, key string) []byte {
	b := make([]byte, 0, len(ns)+1+len(key))
	b = append(b, ns...)
	b = append(b, nsSeparator)
	return append(b, key...)
}

// nsBounds returns the [lower, upper) range covering a namespace
func nsBounds(ns db.Namespace) (lower, upper []byte) {
	lower = append([]byte(ns), nsSeparator)
	upper = append([]byte(ns), nsEnd)
	return lower, upper
}

// translate converts pebble errors at the store boundary
func translate(err error, op string, ns db.Namespace) error {
	if err == nil {
		return nil
	}
	return db.WrapError(db.ErrCStoreUnavailable, errors.Wrapf(err, "pebble %s", op), "%s failed on namespace %s", op, ns)
}

// --------------------------------------------------------------------------
// Lifecycle
// --------------------------------------------------------------------------

func (p *pebbleImpl) Open(location string, params db.InitParams) (err error) {
	done, err := p.BeginOpen(location)
	if err != nil || done {
		return err
	}
	defer func() {
		p.EndOpen(err)
		if err == nil && p.Enter() == nil {
			p.startCompaction()
			p.Leave()
		}
	}()

	opts, syncWrites, compaction, err := parseParams(params)
	if err != nil {
		return db.Reclassify(db.ErrCStoreUnavailable, err, "invalid pebble params")
	}
	if unknown := params.Unknown(knownParams...); len(unknown) > 0 {
		log.Warningf("ignoring unknown init params %v", unknown)
	}

	if err := os.MkdirAll(location, 0o755); err != nil {
		return db.WrapError(db.ErrCStoreUnavailable, err, "can not create directory %s", location)
	}

	pdb, err := pebble.Open(location, opts)
	if opts.Cache != nil {
		// the db holds its own reference
		opts.Cache.Unref()
	}
	if err != nil {
		return db.WrapError(db.ErrCStoreUnavailable, err, "can not open pebble store at %s", location)
	}

	p.pdb = pdb
	p.writeOpts = pebble.NoSync
	if syncWrites {
		p.writeOpts = pebble.Sync
	}
	p.compactionEnabled = compaction

	log.Infof("opened pebble store at %s (sync=%t)", location, syncWrites)
	return nil
}

func parseParams(params db.InitParams) (opts *pebble.Options, syncWrites, compaction bool, err error) {
	cacheSize, err := params.GetInt64("cacheSize", defaultCacheSize)
	if err != nil {
		return nil, false, false, err
	}
	maxOpenFiles, err := params.GetInt("maxOpenFiles", defaultMaxOpenFiles)
	if err != nil {
		return nil, false, false, err
	}
	l0Threshold, err := params.GetInt("l0CompactionThreshold", 0)
	if err != nil {
		return nil, false, false, err
	}
	if syncWrites, err = params.GetBool("sync", true); err != nil {
		return nil, false, false, err
	}
	if compaction, err = params.GetBool("compaction", true); err != nil {
		return nil, false, false, err
	}

	opts = &pebble.Options{
		Cache:        pebble.NewCache(cacheSize),
		MaxOpenFiles: maxOpenFiles,
	}
	if l0Threshold > 0 {
		opts.L0CompactionThreshold = l0Threshold
	}
	return opts, syncWrites, compaction, nil
}

// Close waits for a running compaction and closes the pebble db
func (p *pebbleImpl) Close() error {
	if !p.BeginClose() {
		return nil
	}
	p.compactionWg.Wait()
	if err := p.pdb.Close(); err != nil {
		return db.WrapError(db.ErrCStoreUnavailable, err, "closing pebble store")
	}
	log.Infof("closed pebble store at %s", p.Location())
	return nil
}

// --------------------------------------------------------------------------
// Background Compaction
// --------------------------------------------------------------------------

// startCompaction starts a detached manual compaction of the whole keyspace.
// If a compaction is already running, this function does nothing. The caller
// must have entered the lifecycle, so Close can not miss the new goroutine.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (p *pebbleImpl) startCompaction() {
	if !p.compactionEnabled {
		return
	}
	if !p.compactionIsRunning.CompareAndSwap(false, true) {
		return
	}
	p.compactionWg.Add(1)
	go p.compact()
}

// compact reclaims the space of range tombstones left by Truncate.
// WARNING: this method should never be called directly, use startCompaction()
func (p *pebbleImpl) compact() {
	defer p.compactionWg.Done()
	defer p.compactionIsRunning.Store(false)

	if err := p.pdb.Compact([]byte{0x00}, []byte{0xff}, true); err != nil {
		log.Warningf("background compaction failed: %v", err)
		return
	}
	p.compactions.Add(1)
	log.Debugf("background compaction finished")
}

// --------------------------------------------------------------------------
// Read Operations
// --------------------------------------------------------------------------

func (p *pebbleImpl) Get(ns db.Namespace, key string) (string, bool, error) {
	if err := p.Enter(); err != nil {
		return "", false, err
	}
	defer p.Leave()
	return p.get(ns, key)
}

func (p *pebbleImpl) get(ns db.Namespace, key string) (string, bool, error) {
	value, closer, err := p.pdb.Get(encodeKey(ns, key))
	if errors.Is(err, pebble.ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, translate(err, "get", ns)
	}
	// value is only valid until closer is closed
	result := string(value)
	_ = closer.Close()
	return result, true, nil
}

func (p *pebbleImpl) Contains(ns db.Namespace, key string) (bool, error) {
	_, found, err := p.Get(ns, key)
	return found, err
}

// Size scans the whole namespace, callers should wrap the store with the
// size caching decorator.
func (p *pebbleImpl) Size(ns db.Namespace) (int64, error) {
	if err := p.Enter(); err != nil {
		return 0, err
	}
	defer p.Leave()
	lower, upper := nsBounds(ns)
	iter := p.pdb.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upper})

	var n int64
	for iter.First(); iter.Valid(); iter.Next() {
		n++
	}
	if err := iter.Close(); err != nil {
		return 0, translate(err, "size", ns)
	}
	return n, nil
}

func (p *pebbleImpl) Iterate(ns db.Namespace) (db.Iterator, error) {
	if err := p.Enter(); err != nil {
		return nil, err
	}
	defer p.Leave()
	if err := p.iterators.Acquire(ns); err != nil {
		return nil, err
	}
	lower, upper := nsBounds(ns)
	return &pebbleIterator{
		ns:      ns,
		iter:    p.pdb.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upper}),
		prefix:  len(lower),
		release: func() { p.iterators.Release(ns) },
	}, nil
}

// --------------------------------------------------------------------------
// Write Operations
// --------------------------------------------------------------------------

func (p *pebbleImpl) Put(ns db.Namespace, key, value string) (bool, error) {
	if err := p.Enter(); err != nil {
		return false, err
	}
	defer p.Leave()
	p.writeLock.Lock()
	defer p.writeLock.Unlock()

	_, existed, err := p.get(ns, key)
	if err != nil {
		return false, err
	}
	if err := p.pdb.Set(encodeKey(ns, key), []byte(value), p.writeOpts); err != nil {
		return false, translate(err, "put", ns)
	}
	return existed, nil
}

// PutAll writes all entries in one atomic batch
func (p *pebbleImpl) PutAll(ns db.Namespace, entries map[string]string) error {
	if err := p.Enter(); err != nil {
		return err
	}
	defer p.Leave()
	batch := p.pdb.NewBatch()
	defer batch.Close()

	for k, v := range entries {
		if err := batch.Set(encodeKey(ns, k), []byte(v), nil); err != nil {
			return translate(err, "putAll", ns)
		}
	}

	p.writeLock.Lock()
	defer p.writeLock.Unlock()
	return translate(batch.Commit(p.writeOpts), "putAll", ns)
}

func (p *pebbleImpl) Remove(ns db.Namespace, key string) (bool, error) {
	if err := p.Enter(); err != nil {
		return false, err
	}
	defer p.Leave()
	p.writeLock.Lock()
	defer p.writeLock.Unlock()

	_, existed, err := p.get(ns, key)
	if err != nil || !existed {
		return false, err
	}
	if err := p.pdb.Delete(encodeKey(ns, key), p.writeOpts); err != nil {
		return false, translate(err, "remove", ns)
	}
	return true, nil
}

// RemoveAll deletes all keys in one atomic batch
func (p *pebbleImpl) RemoveAll(ns db.Namespace, keys []string) error {
	if err := p.Enter(); err != nil {
		return err
	}
	defer p.Leave()
	batch := p.pdb.NewBatch()
	defer batch.Close()

	for _, k := range keys {
		if err := batch.Delete(encodeKey(ns, k), nil); err != nil {
			return translate(err, "removeAll", ns)
		}
	}

	p.writeLock.Lock()
	defer p.writeLock.Unlock()
	return translate(batch.Commit(p.writeOpts), "removeAll", ns)
}

// Truncate writes a range tombstone over the namespace and starts a background
// compaction to reclaim the space.
func (p *pebbleImpl) Truncate(ns db.Namespace) error {
	if err := p.Enter(); err != nil {
		return err
	}
	defer p.Leave()
	lower, upper := nsBounds(ns)

	p.writeLock.Lock()
	err := p.pdb.DeleteRange(lower, upper, p.writeOpts)
	p.writeLock.Unlock()
	if err != nil {
		return translate(err, "truncate", ns)
	}

	p.startCompaction()
	return nil
}

// --------------------------------------------------------------------------
// Metadata
// --------------------------------------------------------------------------

func (p *pebbleImpl) DiskSpaceUsed() int64 {
	if p.Enter() != nil {
		return 0
	}
	defer p.Leave()
	return int64(p.pdb.Metrics().DiskSpaceUsage())
}

func (p *pebbleImpl) Info() db.DatabaseInfo {
	info := db.DatabaseInfo{
		DbType:   db.ImplPebble,
		Status:   p.Status().String(),
		Location: p.Location(),
	}
	if p.Enter() != nil {
		return info
	}
	defer p.Leave()

	m := p.pdb.Metrics()
	info.SizeBytes = int64(m.DiskSpaceUsage())
	info.Metadata = &struct {
		CompactionRunning bool   `json:"compaction_running"`
		Background        int64  `json:"background_compactions"`
		Compactions       int64  `json:"compactions"`
		MemTableBytes     uint64 `json:"memtable_bytes"`
		WALBytes          uint64 `json:"wal_bytes"`
		Info              string `json:"info"`
	}{
		CompactionRunning: p.compactionIsRunning.Load(),
		Background:        p.compactions.Load(),
		Compactions:       m.Compact.Count,
		MemTableBytes:     m.MemTable.Size,
		WALBytes:          m.WAL.Size,
		Info:              "Size() requires a full namespace scan.",
	}
	return info
}

// --------------------------------------------------------------------------
// Iterator
// --------------------------------------------------------------------------

// pebbleIterator wraps a pebble iterator bounded to one namespace.
// It reads from an implicit snapshot taken when the iterator was created.
type pebbleIterator struct {
	ns      db.Namespace
	iter    *pebble.Iterator
	prefix  int
	started bool
	closed  bool
	item    db.TransactionItem
	err     error
	release func()
}

func (it *pebbleIterator) Next() bool {
	if it.closed || it.err != nil {
		return false
	}

	var valid bool
	if !it.started {
		it.started = true
		valid = it.iter.First()
	} else {
		valid = it.iter.Next()
	}
	if !valid {
		if err := it.iter.Error(); err != nil {
			it.err = translate(err, "iterate", it.ns)
		}
		return false
	}

	it.item = db.TransactionItem{
		Namespace: it.ns,
		Key:       string(it.iter.Key()[it.prefix:]),
		Value:     string(it.iter.Value()),
	}
	return true
}

func (it *pebbleIterator) Item() db.TransactionItem {
	return it.item
}

func (it *pebbleIterator) Err() error {
	return it.err
}

func (it *pebbleIterator) Close() error {
	if it.closed {
		return nil
	}
	it.closed = true
	defer it.release()
	return translate(it.iter.Close(), "iterate", it.ns)
}
