package db

// --------------------------------------------------------------------------
// Helper Types
// --------------------------------------------------------------------------

// Implementation is the logical name of a storage engine.
// The store factory uses it to select the engine constructor.
type Implementation string

const (
	ImplMemory Implementation = "memory"
	ImplPebble Implementation = "pebble"
	ImplBolt   Implementation = "bolt"
	ImplSQL    Implementation = "sql"
)

// Status is the lifecycle phase of a Store
type Status int32

const (
	StatusNew Status = iota
	StatusOpening
	StatusOpen
	StatusClosed
)

func (s Status) String() string {
	switch s {
	case StatusNew:
		return "NEW"
	case StatusOpening:
		return "OPENING"
	case StatusOpen:
		return "OPEN"
	case StatusClosed:
		return "CLOSED"
	default:
		return "Unknown"
	}
}

// Size limits enforced by the validating decorator.
const (
	MaxKeyLength   = 128
	MaxValueLength = 10240
)

// Entry is a single key-value pair
type Entry struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// TransactionItem is an in-flight (namespace, key, value) tuple produced while
// iterating or replaying the contents of a store.
type TransactionItem struct {
	Namespace Namespace `json:"namespace"`
	Key       string    `json:"key"`
	Value     string    `json:"value"`
}

// DatabaseInfo describes the state of a store.
// All numbers are best-effort estimates.
type DatabaseInfo struct {
	SizeBytes int64          `json:"size_bytes"`
	DbType    Implementation `json:"db_type"`
	Status    string         `json:"status"`
	Location  string         `json:"location"`
	Metadata  interface{}    `json:"metadata"`
}

// --------------------------------------------------------------------------
// Store Interface
// --------------------------------------------------------------------------

// Store defines the contract every storage engine and decorator satisfies.
// All engines are required to behave identically at this level, they only
// differ in persistence and performance characteristics.
//
// Errors returned by a Store are always *Error values (see errors.go), backend
// specific errors never cross this interface.
type Store interface {

	// --------------------------------------------------------------------------
	// Lifecycle
	// --------------------------------------------------------------------------

	// Open opens the store against a location (a directory for embedded engines,
	// a connection target for the sql engine). Calling Open again with the same
	// location is a no-op. Fails with ErrStoreUnavailable if the location is
	// inaccessible or the params are invalid.
	Open(location string, params InitParams) (err error)

	// Status returns the current lifecycle phase.
	Status() (status Status)

	// Close releases all resources. Calling Close more than once is allowed.
	Close() (err error)

	// --------------------------------------------------------------------------
	// Read Operations
	// --------------------------------------------------------------------------

	// Get returns the value for a key. found is false if the key does not exist.
	Get(ns Namespace, key string) (value string, found bool, err error)

	// Contains reports whether the key exists in the namespace.
	Contains(ns Namespace, key string) (found bool, err error)

	// Size returns the number of keys in the namespace.
	Size(ns Namespace) (size int64, err error)

	// Iterate opens an iterator over the namespace. Only one iterator per
	// namespace may be outstanding, a second call fails with ErrIllegalState
	// until the first iterator is closed.
	Iterate(ns Namespace) (it Iterator, err error)

	// --------------------------------------------------------------------------
	// Write Operations
	// --------------------------------------------------------------------------

	// Put inserts or updates a key. existed is true if the key was present before.
	Put(ns Namespace, key, value string) (existed bool, err error)

	// PutAll writes all entries. Transactional engines apply all or nothing.
	PutAll(ns Namespace, entries map[string]string) (err error)

	// Remove deletes a key. existed is false (and err nil) for absent keys.
	Remove(ns Namespace, key string) (existed bool, err error)

	// RemoveAll deletes all given keys, absent keys are ignored.
	RemoveAll(ns Namespace, keys []string) (err error)

	// Truncate removes every entry of the namespace.
	Truncate(ns Namespace) (err error)

	// --------------------------------------------------------------------------
	// Metadata
	// --------------------------------------------------------------------------

	// DiskSpaceUsed returns the bytes used on disk, 0 if unsupported.
	DiskSpaceUsed() (bytes int64)

	// Info returns metadata about the store.
	Info() (info DatabaseInfo)
}

// Iterator walks the entries of one namespace.
//
// Usage:
//
//	it, err := s.Iterate(db.NsTemp)
//	if err != nil {
//		return err
//	}
//	defer it.Close()
//	for it.Next() {
//		item := it.Item()
//		...
//	}
//	return it.Err()
type Iterator interface {
	// Next advances to the next item and reports whether there is one.
	Next() bool
	// Item returns the current item. Only valid after Next returned true.
	Item() TransactionItem
	// Err returns the first error encountered during iteration.
	Err() error
	// Close releases the iterator. Calling Close more than once is allowed.
	Close() error
}

// Wrapper is implemented by decorators to expose the wrapped store
type Wrapper interface {
	Unwrap() Store
}

// Innermost follows the Unwrap chain and returns the concrete engine
func Innermost(s Store) Store {
	for {
		w, ok := s.(Wrapper)
		if !ok {
			return s
		}
		s = w.Unwrap()
	}
}

// ForEach iterates the namespace and calls fn for every item.
// The iterator is always closed, also if fn returns an error.
func ForEach(s Store, ns Namespace, fn func(item TransactionItem) error) (err error) {
	it, err := s.Iterate(ns)
	if err != nil {
		return err
	}
	defer func() {
		if cErr := it.Close(); err == nil {
			err = cErr
		}
	}()

	for it.Next() {
		if err = fn(it.Item()); err != nil {
			return err
		}
	}
	return it.Err()
}
