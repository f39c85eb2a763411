package store

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/ValentinKolb/nsKV/lib/db"
	"github.com/ValentinKolb/nsKV/lib/db/decorator"
	"github.com/ValentinKolb/nsKV/lib/db/engines/boltdb"
	"github.com/ValentinKolb/nsKV/lib/db/engines/memory"
	"github.com/ValentinKolb/nsKV/lib/db/engines/pebbledb"
	"github.com/ValentinKolb/nsKV/lib/db/engines/sqldb"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
)

var log = logger.GetLogger("store")

// --------------------------------------------------------------------------
// Engine Registry
// --------------------------------------------------------------------------

// DBFactory creates a new, not yet opened, engine instance
type DBFactory func() db.Store

// Engine describes a registered storage engine
type Engine struct {
	// New creates the engine
	New DBFactory
	// ExpensiveSize marks engines that have to scan to count a namespace,
	// they are wrapped with the size cache
	ExpensiveSize bool
}

// --------------------------------------------------------------------------
// Configuration
// --------------------------------------------------------------------------

// Config selects and configures the store opened by the factory
type Config struct {
	// Engine is the logical engine name (see db.ImplMemory, ...)
	Engine db.Implementation
	// Location is a directory for embedded engines or a connection target
	Location string
	// Init is the engine specific init string ("key=value;key=value")
	Init string
}

// String returns a formatted string representation of the configuration
func (c Config) String() string {
	var sb strings.Builder

	addSection := func(title string) {
		sb.WriteString(fmt.Sprintf("\n%s:\n", title))
	}
	addField := func(name string, value interface{}) {
		sb.WriteString(fmt.Sprintf("  %-12s %v\n", name+":", value))
	}

	addSection("Store Configuration")
	addField("Engine", c.Engine)
	addField("Location", c.Location)
	if c.Init == "" {
		addField("Init", "(none)")
	} else {
		addField("Init", c.Init)
	}
	return sb.String()
}

// key returns the identity used for the one-instance-per-location rule
func (c Config) key() string {
	if c.Location == "" {
		return ""
	}
	return filepath.Clean(c.Location)
}

// --------------------------------------------------------------------------
// Factory
// --------------------------------------------------------------------------

// Factory opens stores and keeps exactly one instance per location.
//
// Thread-safety: All methods are thread-safe.
type Factory struct {
	registryLock sync.RWMutex
	registry     map[db.Implementation]Engine

	// openLock serializes opening, lookups only use the instances map
	openLock  sync.Mutex
	instances *xsync.MapOf[string, *Handle]
}

// NewFactory creates a factory with the built-in engines registered
func NewFactory() *Factory {
	f := &Factory{
		registry:  map[db.Implementation]Engine{},
		instances: xsync.NewMapOf[string, *Handle](),
	}
	f.Register(db.ImplMemory, Engine{New: func() db.Store { return memory.NewMemoryDB(nil) }})
	f.Register(db.ImplPebble, Engine{New: pebbledb.NewPebbleDB, ExpensiveSize: true})
	f.Register(db.ImplBolt, Engine{New: boltdb.NewBoltDB, ExpensiveSize: true})
	f.Register(db.ImplSQL, Engine{New: sqldb.NewSQLDB})
	return f
}

// Register adds or replaces an engine
func (f *Factory) Register(name db.Implementation, engine Engine) {
	f.registryLock.Lock()
	defer f.registryLock.Unlock()
	f.registry[name] = engine
}

// Engines returns the names of all registered engines (sorted)
func (f *Factory) Engines() []db.Implementation {
	f.registryLock.RLock()
	defer f.registryLock.RUnlock()
	names := make([]db.Implementation, 0, len(f.registry))
	for name := range f.registry {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}

func (f *Factory) engine(name db.Implementation) (Engine, bool) {
	f.registryLock.RLock()
	defer f.registryLock.RUnlock()
	e, ok := f.registry[name]
	return e, ok
}

// Compose wraps an engine with the decorators in factory order:
// Validating(Metered(SizeCaching(engine))), the size cache only if
// expensiveSize is set.
func Compose(engine db.Store, name db.Implementation, expensiveSize bool) db.Store {
	s := engine
	if expensiveSize {
		s = decorator.NewSizeCaching(s)
	}
	s = decorator.NewMetered(s, string(name))
	return decorator.NewValidating(s)
}

// Open returns the store for cfg.Location, opening it on first use.
// Repeated calls for the same location return the same handle. Asking for a
// different engine on an already open location fails with ErrIllegalState.
// Open failures are returned as ErrStoreUnavailable naming the engine.
func (f *Factory) Open(cfg Config) (*Handle, error) {
	key := cfg.key()
	if h, ok := f.instances.Load(key); ok {
		return h.checkEngine(cfg.Engine)
	}

	f.openLock.Lock()
	defer f.openLock.Unlock()

	if h, ok := f.instances.Load(key); ok {
		return h.checkEngine(cfg.Engine)
	}

	engine, ok := f.engine(cfg.Engine)
	if !ok {
		return nil, db.NewError(db.ErrCStoreUnavailable, "unknown engine %q (available: %v)", cfg.Engine, f.Engines())
	}
	params, err := db.ParseInitParams(cfg.Init)
	if err != nil {
		return nil, db.Reclassify(db.ErrCStoreUnavailable, err, "invalid init string for engine %s", cfg.Engine)
	}

	s := Compose(engine.New(), cfg.Engine, engine.ExpensiveSize)
	if err := s.Open(cfg.Location, params); err != nil {
		_ = s.Close()
		return nil, db.Reclassify(db.ErrCStoreUnavailable, err, "can not open %s store at %q", cfg.Engine, cfg.Location)
	}

	h := &Handle{Store: s, engine: cfg.Engine, key: key, factory: f}
	f.instances.Store(key, h)
	log.Infof("opened %s store at %q", cfg.Engine, cfg.Location)
	return h, nil
}

// Len returns the number of open stores
func (f *Factory) Len() int {
	return f.instances.Size()
}

// CloseAll closes every open store and returns the first error
func (f *Factory) CloseAll() error {
	var first error
	f.instances.Range(func(_ string, h *Handle) bool {
		if err := h.Close(); err != nil && first == nil {
			first = err
		}
		return true
	})
	return first
}

// --------------------------------------------------------------------------
// Handle
// --------------------------------------------------------------------------

// Handle is a store opened by a Factory. Closing it removes it from the
// factory, the next Open for the location creates a new instance.
type Handle struct {
	db.Store
	engine  db.Implementation
	key     string
	factory *Factory
}

func (h *Handle) checkEngine(engine db.Implementation) (*Handle, error) {
	if h.engine != engine {
		return nil, db.NewError(db.ErrCIllegalState, "location %q is already open with engine %s", h.key, h.engine)
	}
	return h, nil
}

// Engine returns the name of the engine behind the handle
func (h *Handle) Engine() db.Implementation {
	return h.engine
}

func (h *Handle) Unwrap() db.Store {
	return h.Store
}

// Metered returns the metering decorator of the chain
func (h *Handle) Metered() *decorator.Metered {
	var s db.Store = h.Store
	for {
		if m, ok := s.(*decorator.Metered); ok {
			return m
		}
		w, ok := s.(db.Wrapper)
		if !ok {
			return nil
		}
		s = w.Unwrap()
	}
}

// Close closes the store and forgets the instance
func (h *Handle) Close() error {
	h.factory.instances.Compute(h.key, func(old *Handle, loaded bool) (*Handle, bool) {
		return old, !loaded || old == h
	})
	return h.Store.Close()
}

// --------------------------------------------------------------------------
// Default Factory
// --------------------------------------------------------------------------

var defaultFactory = NewFactory()

// Open opens a store with the default factory
func Open(cfg Config) (*Handle, error) {
	return defaultFactory.Open(cfg)
}

// Register registers an engine with the default factory
func Register(name db.Implementation, engine Engine) {
	defaultFactory.Register(name, engine)
}

// CloseAll closes all stores of the default factory
func CloseAll() error {
	return defaultFactory.CloseAll()
}
