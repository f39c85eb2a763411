package decorator

import (
	"unicode/utf8"

	"github.com/ValentinKolb/nsKV/lib/db"
)

// validating rejects malformed input before it reaches the wrapped store.
// Rejected calls never change any state.
type validating struct {
	inner db.Store
}

// NewValidating wraps inner with argument validation:
//   - the namespace must be one of db.Namespaces()
//   - keys must be 1 to db.MaxKeyLength characters long
//   - values must be at most db.MaxValueLength characters long
//
// Violations fail with db.ErrInvalidArgument.
func NewValidating(inner db.Store) db.Store {
	return &validating{inner: inner}
}

func (v *validating) Unwrap() db.Store {
	return v.inner
}

// --------------------------------------------------------------------------
// Checks
// --------------------------------------------------------------------------

func checkNamespace(ns db.Namespace) error {
	if !ns.Valid() {
		return db.NewError(db.ErrCInvalidArgument, "unknown namespace %q", ns)
	}
	return nil
}

func checkKey(ns db.Namespace, key string) error {
	if err := checkNamespace(ns); err != nil {
		return err
	}
	n := utf8.RuneCountInString(key)
	if n == 0 {
		return db.NewError(db.ErrCInvalidArgument, "key must not be empty")
	}
	if n > db.MaxKeyLength {
		return db.NewError(db.ErrCInvalidArgument, "key length %d exceeds the maximum of %d", n, db.MaxKeyLength)
	}
	return nil
}

func checkEntry(ns db.Namespace, key, value string) error {
	if err := checkKey(ns, key); err != nil {
		return err
	}
	if n := utf8.RuneCountInString(value); n > db.MaxValueLength {
		return db.NewError(db.ErrCInvalidArgument, "value length %d of key %q exceeds the maximum of %d", n, key, db.MaxValueLength)
	}
	return nil
}

// --------------------------------------------------------------------------
// Store
// --------------------------------------------------------------------------

func (v *validating) Open(location string, params db.InitParams) error {
	return v.inner.Open(location, params)
}

func (v *validating) Status() db.Status {
	return v.inner.Status()
}

func (v *validating) Close() error {
	return v.inner.Close()
}

func (v *validating) Get(ns db.Namespace, key string) (string, bool, error) {
	if err := checkKey(ns, key); err != nil {
		return "", false, err
	}
	return v.inner.Get(ns, key)
}

func (v *validating) Contains(ns db.Namespace, key string) (bool, error) {
	if err := checkKey(ns, key); err != nil {
		return false, err
	}
	return v.inner.Contains(ns, key)
}

func (v *validating) Size(ns db.Namespace) (int64, error) {
	if err := checkNamespace(ns); err != nil {
		return 0, err
	}
	return v.inner.Size(ns)
}

func (v *validating) Iterate(ns db.Namespace) (db.Iterator, error) {
	if err := checkNamespace(ns); err != nil {
		return nil, err
	}
	return v.inner.Iterate(ns)
}

func (v *validating) Put(ns db.Namespace, key, value string) (bool, error) {
	if err := checkEntry(ns, key, value); err != nil {
		return false, err
	}
	return v.inner.Put(ns, key, value)
}

// PutAll validates every entry first, a single bad entry rejects the batch
func (v *validating) PutAll(ns db.Namespace, entries map[string]string) error {
	if err := checkNamespace(ns); err != nil {
		return err
	}
	for k, val := range entries {
		if err := checkEntry(ns, k, val); err != nil {
			return err
		}
	}
	return v.inner.PutAll(ns, entries)
}

func (v *validating) Remove(ns db.Namespace, key string) (bool, error) {
	if err := checkKey(ns, key); err != nil {
		return false, err
	}
	return v.inner.Remove(ns, key)
}

func (v *validating) RemoveAll(ns db.Namespace, keys []string) error {
	if err := checkNamespace(ns); err != nil {
		return err
	}
	for _, k := range keys {
		if err := checkKey(ns, k); err != nil {
			return err
		}
	}
	return v.inner.RemoveAll(ns, keys)
}

func (v *validating) Truncate(ns db.Namespace) error {
	if err := checkNamespace(ns); err != nil {
		return err
	}
	return v.inner.Truncate(ns)
}

func (v *validating) DiskSpaceUsed() int64 {
	return v.inner.DiskSpaceUsed()
}

func (v *validating) Info() db.DatabaseInfo {
	return v.inner.Info()
}
