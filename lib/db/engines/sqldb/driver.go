package sqldb

import (
	"database/sql"
	"database/sql/driver"
	"os"
	"plugin"
	"slices"
	"sync"

	"github.com/ValentinKolb/nsKV/lib/db"
	"github.com/cockroachdb/errors"
)

// driverSymbol is the symbol a driver plugin must export. It is either a
// variable of type driver.Driver or a func() driver.Driver.
const driverSymbol = "Driver"

var registerLock sync.Mutex

// LoadDriver registers a database/sql driver from the raw bytes of a Go
// plugin (a shared object built with -buildmode=plugin). The plugin is only
// asked for its Driver symbol and the result is registered under name, nothing
// else of the plugin is used.
//
// Loading the same name twice is a no-op.
func LoadDriver(name string, pluginBytes []byte) error {
	registerLock.Lock()
	defer registerLock.Unlock()

	if slices.Contains(sql.Drivers(), name) {
		return nil
	}
	if len(pluginBytes) == 0 {
		return db.NewError(db.ErrCInvalidArgument, "driver plugin for %s is empty", name)
	}

	f, err := os.CreateTemp("", "nskv-driver-*.so")
	if err != nil {
		return db.WrapError(db.ErrCStoreUnavailable, err, "can not stage driver plugin %s", name)
	}
	path := f.Name()
	defer os.Remove(path)

	if _, err := f.Write(pluginBytes); err != nil {
		_ = f.Close()
		return db.WrapError(db.ErrCStoreUnavailable, err, "can not stage driver plugin %s", name)
	}
	if err := f.Close(); err != nil {
		return db.WrapError(db.ErrCStoreUnavailable, err, "can not stage driver plugin %s", name)
	}

	drv, err := lookupDriver(path)
	if err != nil {
		return db.WrapError(db.ErrCStoreUnavailable, err, "can not load driver plugin %s", name)
	}

	sql.Register(name, drv)
	log.Infof("registered sql driver %s from plugin (%d bytes)", name, len(pluginBytes))
	return nil
}

// LoadDriverFile is LoadDriver for a plugin file on disk
func LoadDriverFile(name, path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return db.WrapError(db.ErrCStoreUnavailable, err, "can not read driver plugin %s", path)
	}
	return LoadDriver(name, b)
}

func lookupDriver(path string) (driver.Driver, error) {
	p, err := plugin.Open(path)
	if err != nil {
		return nil, err
	}
	sym, err := p.Lookup(driverSymbol)
	if err != nil {
		return nil, err
	}

	switch v := sym.(type) {
	case *driver.Driver:
		if *v == nil {
			return nil, errors.Newf("plugin symbol %s is nil", driverSymbol)
		}
		return *v, nil
	case func() driver.Driver:
		return v(), nil
	default:
		return nil, errors.Newf("plugin symbol %s has unsupported type %T", driverSymbol, sym)
	}
}
