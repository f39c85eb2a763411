package queue

import (
	"sync"

	"github.com/ValentinKolb/nsKV/lib/db"
	"github.com/lni/dragonboat/v4/logger"
)

var log = logger.GetLogger("queue")

// --------------------------------------------------------------------------
// Constants
// --------------------------------------------------------------------------

// Version is the layout version stored with every queue. A queue stored with
// another version is discarded on Open.
const Version = "3"

// Metadata keys, they can not collide with 6 character position keys
const (
	keyHead    = "_HEAD"
	keyTail    = "_TAIL"
	keyVersion = "_VERSION"
)

// --------------------------------------------------------------------------
// Options
// --------------------------------------------------------------------------

type options struct {
	maxSize uint64
}

// Option configures a Queue
type Option func(*options)

// WithMaxSize limits the number of entries. Adding beyond the limit evicts
// the oldest entries. Values of 0 or above DefaultMaxSize are ignored.
func WithMaxSize(n uint64) Option {
	return func(o *options) {
		if n > 0 && n <= DefaultMaxSize {
			o.maxSize = n
		}
	}
}

// --------------------------------------------------------------------------
// Queue
// --------------------------------------------------------------------------

// Queue is a FIFO stored in one namespace of a db.Store. Entries live in the
// half-open range [tail, head) of the position ring, head is the slot the
// next entry is written to.
//
// Add writes the entries in one PutAll and persists the new head afterwards.
// A crash between the two writes loses the new entries (they are beyond the
// persisted head and are overwritten later), the queue itself stays
// consistent only as far as the engine orders these two writes.
//
// Thread-safety: All methods are thread-safe. Reads share a read lock,
// mutations are fully serialized.
type Queue struct {
	mu      sync.RWMutex
	store   db.Store
	ns      db.Namespace
	head    Position
	tail    Position
	maxSize uint64
}

// Open loads the queue stored in ns, initializing it on first use. If the
// stored version differs from Version the namespace is truncated and an empty
// queue is returned.
func Open(store db.Store, ns db.Namespace, opts ...Option) (*Queue, error) {
	o := &options{maxSize: DefaultMaxSize}
	for _, opt := range opts {
		opt(o)
	}

	q := &Queue{store: store, ns: ns, maxSize: o.maxSize}
	q.mu.Lock()
	defer q.mu.Unlock()

	if err := q.load(); err != nil {
		return nil, err
	}
	return q, nil
}

// load reads the metadata, resetting the namespace if it is incompatible
func (q *Queue) load() error {
	version, found, err := q.store.Get(q.ns, keyVersion)
	if err != nil {
		return err
	}
	if !found {
		log.Infof("initializing queue %s", q.ns)
		return q.reset()
	}
	if version != Version {
		log.Warningf("queue %s has version %q, expected %q: discarding all entries", q.ns, version, Version)
		return q.reset()
	}

	head, err := q.readPosition(keyHead)
	if err != nil {
		log.Warningf("queue %s has an invalid head (%v): discarding all entries", q.ns, err)
		return q.reset()
	}
	tail, err := q.readPosition(keyTail)
	if err != nil {
		log.Warningf("queue %s has an invalid tail (%v): discarding all entries", q.ns, err)
		return q.reset()
	}

	q.head, q.tail = head, tail
	log.Debugf("opened queue %s (tail %s, head %s, size %d)", q.ns, tail, head, q.size())
	return nil
}

func (q *Queue) readPosition(key string) (Position, error) {
	v, found, err := q.store.Get(q.ns, key)
	if err != nil {
		return 0, err
	}
	if !found {
		return 0, db.NewError(db.ErrCDataReset, "missing %s", key)
	}
	return ParsePosition(v)
}

// reset truncates the namespace and writes fresh metadata
func (q *Queue) reset() error {
	if err := q.store.Truncate(q.ns); err != nil {
		return err
	}
	q.head, q.tail = 0, 0
	return q.store.PutAll(q.ns, map[string]string{
		keyHead:    q.head.String(),
		keyTail:    q.tail.String(),
		keyVersion: Version,
	})
}

// Namespace returns the namespace of the queue
func (q *Queue) Namespace() db.Namespace {
	return q.ns
}

// MaxSize returns the capacity of the queue
func (q *Queue) MaxSize() uint64 {
	return q.maxSize
}

// --------------------------------------------------------------------------
// Mutations
// --------------------------------------------------------------------------

// Add appends values, the last value becomes the head. If the queue would
// exceed its capacity the oldest entries are evicted first. If more values
// than the capacity are given only the newest ones are kept.
func (q *Queue) Add(values ...string) error {
	if len(values) == 0 {
		return nil
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if uint64(len(values)) > q.maxSize {
		values = values[uint64(len(values))-q.maxSize:]
	}
	m := uint64(len(values))

	if size := q.size(); size+m > q.maxSize {
		if err := q.removeTail(size + m - q.maxSize); err != nil {
			return err
		}
	}

	entries := make(map[string]string, len(values))
	for i, v := range values {
		entries[q.head.Add(uint64(i)).String()] = v
	}
	if err := q.store.PutAll(q.ns, entries); err != nil {
		return err
	}

	head := q.head.Add(m)
	if _, err := q.store.Put(q.ns, keyHead, head.String()); err != nil {
		return err
	}
	q.head = head
	return nil
}

// RemoveTail removes up to n of the oldest entries
func (q *Queue) RemoveTail(n uint64) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.removeTail(n)
}

func (q *Queue) removeTail(n uint64) error {
	if size := q.size(); n > size {
		n = size
	}
	if n == 0 {
		return nil
	}

	keys := make([]string, 0, n)
	for i := uint64(0); i < n; i++ {
		keys = append(keys, q.tail.Add(i).String())
	}
	if err := q.store.RemoveAll(q.ns, keys); err != nil {
		return err
	}

	tail := q.tail.Add(n)
	if _, err := q.store.Put(q.ns, keyTail, tail.String()); err != nil {
		return err
	}
	q.tail = tail
	return nil
}

// Clear removes all entries. Head and tail keep their positions.
func (q *Queue) Clear() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if err := q.store.Truncate(q.ns); err != nil {
		return err
	}
	q.tail = q.head
	return q.store.PutAll(q.ns, map[string]string{
		keyHead:    q.head.String(),
		keyTail:    q.tail.String(),
		keyVersion: Version,
	})
}

// --------------------------------------------------------------------------
// Reads
// --------------------------------------------------------------------------

func (q *Queue) size() uint64 {
	return q.tail.DistanceToHead(q.head)
}

// Size returns the number of entries
func (q *Queue) Size() uint64 {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.size()
}

// IsEmpty reports whether the queue has no entries
func (q *Queue) IsEmpty() bool {
	return q.Size() == 0
}

// Positions returns the current tail and head
func (q *Queue) Positions() (tail, head Position) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.tail, q.head
}

// Head returns the newest entry without removing it
func (q *Queue) Head() (string, bool, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.size() == 0 {
		return "", false, nil
	}
	return q.store.Get(q.ns, q.head.Previous().String())
}

// Tail returns the oldest entry without removing it
func (q *Queue) Tail() (string, bool, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.size() == 0 {
		return "", false, nil
	}
	return q.store.Get(q.ns, q.tail.String())
}

// Iterator returns the entries newest first. The iterator reads lazily and
// stops at the tail or at the first position without an entry.
func (q *Queue) Iterator() *Iterator {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return &Iterator{q: q, next: q.head.Previous(), remaining: q.size()}
}

// --------------------------------------------------------------------------
// Iterator
// --------------------------------------------------------------------------

// Iterator walks a queue from head to tail. It does not hold the queue lock
// between calls and does not support removal.
type Iterator struct {
	q         *Queue
	next      Position
	remaining uint64
	value     string
	err       error
}

// Next advances to the next older entry
func (it *Iterator) Next() bool {
	if it.remaining == 0 || it.err != nil {
		return false
	}

	it.q.mu.RLock()
	v, found, err := it.q.store.Get(it.q.ns, it.next.String())
	it.q.mu.RUnlock()

	if err != nil {
		it.err = err
		it.remaining = 0
		return false
	}
	if !found {
		it.remaining = 0
		return false
	}

	it.value = v
	it.next = it.next.Previous()
	it.remaining--
	return true
}

// Value returns the current entry
func (it *Iterator) Value() string {
	return it.value
}

// Err returns the error that stopped the iteration
func (it *Iterator) Err() error {
	return it.err
}
