package sqldb

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/ValentinKolb/nsKV/lib/db"
	"github.com/cockroachdb/errors"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"

	_ "modernc.org/sqlite"
)

var log = logger.GetLogger("sqldb")

// --------------------------------------------------------------------------
// Constants
// --------------------------------------------------------------------------

const (
	defaultDriver       = "sqlite"
	sqliteFileName      = "nskv.sqlite"
	sqlitePragmas       = "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	tablePrefix         = "nskv_"
	defaultProbeTimeout = 5 * time.Second
	defaultHealthWindow = 5 * time.Minute
	defaultPageSize     = 256
	defaultMaxOpenConns = 4
)

var knownParams = []string{
	"driver", "dsn", "driverPlugin", "placeholder",
	"probeTimeoutMs", "healthWindowSec", "pageSize", "maxOpenConns",
}

// --------------------------------------------------------------------------
// Core sql store structure
// --------------------------------------------------------------------------

// sqlImpl stores every namespace in its own table with a key and a value
// column. The connection is probed before every operation and reopened once
// if the probe fails.
type sqlImpl struct {
	db.Lifecycle
	iterators *db.IteratorGuard
	health    *healthTracker

	connLock sync.RWMutex // guards conn, taken exclusively only to swap it
	conn     *sql.DB

	// writeLock serializes all write operations
	writeLock sync.Mutex

	// tables holds the namespaces whose table is known to exist
	tables *xsync.MapOf[db.Namespace, struct{}]

	driverName   string
	dsn          string
	dollar       bool
	probeTimeout time.Duration
	pageSize     int
	maxOpenConns int
}

// NewSQLDB creates a new, not yet opened, relational store.
//
// Supported init params:
//   - driver: registered database/sql driver name (default sqlite)
//   - dsn: data source name; for sqlite it defaults to <location>/nskv.sqlite,
//     for other drivers the location is used
//   - driverPlugin: path of a Go plugin exporting the driver, registered under the driver name
//   - placeholder: "question" (default) or "dollar" bind variables
//   - probeTimeoutMs: timeout of the liveness probe
//   - healthWindowSec: how long a recovered failure is still reported
//   - pageSize: rows fetched per iterator page
//   - maxOpenConns: connection pool size
func NewSQLDB() db.Store {
	return &sqlImpl{
		iterators: db.NewIteratorGuard(),
		health:    newHealthTracker(defaultHealthWindow),
		tables:    xsync.NewMapOf[db.Namespace, struct{}](),
	}
}

// tableName returns the table used for a namespace
func tableName(ns db.Namespace) string {
	return tablePrefix + strings.ToLower(string(ns))
}

// bind returns the n-th (1-based) bind variable of the configured dialect
func (s *sqlImpl) bind(n int) string {
	if s.dollar {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

// connectionLost reports errors caused by the connection rather than by the
// statement
func connectionLost(err error) bool {
	return errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone)
}

// translate converts driver errors at the store boundary. The namespace table
// is checked again by the next operation, lost connections are recorded for
// health reporting.
func (s *sqlImpl) translate(err error, op string, ns db.Namespace) error {
	if err == nil {
		return nil
	}
	if db.CodeOf(err) != db.ErrCUnknown {
		return err
	}
	s.tables.Delete(ns)
	if connectionLost(err) {
		s.health.failure(err)
	}
	return db.WrapError(db.ErrCStoreUnavailable, errors.Wrapf(err, "sql %s", op), "%s failed on namespace %s", op, ns)
}

// --------------------------------------------------------------------------
// Lifecycle
// --------------------------------------------------------------------------

func (s *sqlImpl) Open(location string, params db.InitParams) (err error) {
	done, err := s.BeginOpen(location)
	if err != nil || done {
		return err
	}
	defer func() { s.EndOpen(err) }()

	if err := s.parseParams(location, params); err != nil {
		return db.Reclassify(db.ErrCStoreUnavailable, err, "invalid sql params")
	}
	if unknown := params.Unknown(knownParams...); len(unknown) > 0 {
		log.Warningf("ignoring unknown init params %v", unknown)
	}

	conn, err := s.connect()
	if err != nil {
		s.health.failure(err)
		return db.WrapError(db.ErrCStoreUnavailable, err, "can not connect to %s database", s.driverName)
	}
	s.conn = conn

	log.Infof("opened sql store (driver %s)", s.driverName)
	return nil
}

func (s *sqlImpl) parseParams(location string, params db.InitParams) (err error) {
	s.driverName = params.GetString("driver", defaultDriver)
	s.dollar = params.GetString("placeholder", "question") == "dollar"
	if s.probeTimeout, err = params.GetMillis("probeTimeoutMs", defaultProbeTimeout); err != nil {
		return err
	}
	windowSec, err := params.GetInt("healthWindowSec", int(defaultHealthWindow/time.Second))
	if err != nil {
		return err
	}
	s.health.window = time.Duration(windowSec) * time.Second
	if s.pageSize, err = params.GetInt("pageSize", defaultPageSize); err != nil {
		return err
	}
	if s.maxOpenConns, err = params.GetInt("maxOpenConns", defaultMaxOpenConns); err != nil {
		return err
	}
	if s.pageSize <= 0 {
		return db.NewError(db.ErrCInvalidArgument, "pageSize must be positive")
	}

	if pluginPath := params.GetString("driverPlugin", ""); pluginPath != "" {
		if err := LoadDriverFile(s.driverName, pluginPath); err != nil {
			return err
		}
	}

	s.dsn = params.GetString("dsn", "")
	if s.dsn == "" {
		if s.driverName != defaultDriver {
			s.dsn = location
		} else {
			if err := os.MkdirAll(location, 0o755); err != nil {
				return err
			}
			s.dsn = filepath.Join(location, sqliteFileName) + sqlitePragmas
		}
	}
	return nil
}

// connect opens a new pool and pings it once
func (s *sqlImpl) connect() (*sql.DB, error) {
	conn, err := sql.Open(s.driverName, s.dsn)
	if err != nil {
		return nil, err
	}
	conn.SetMaxOpenConns(s.maxOpenConns)

	ctx, cancel := context.WithTimeout(context.Background(), s.probeTimeout)
	defer cancel()
	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return conn, nil
}

// db returns a live connection pool. The current pool is probed first, if the
// probe fails the pool is reopened exactly once. The error of a failed reopen
// is returned as ErrStoreUnavailable, the next call tries again.
// The caller must have entered the lifecycle.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (s *sqlImpl) db() (*sql.DB, error) {
	s.connLock.RLock()
	current := s.conn
	s.connLock.RUnlock()

	ctx, cancel := context.WithTimeout(context.Background(), s.probeTimeout)
	probeErr := current.PingContext(ctx)
	cancel()
	if probeErr == nil {
		s.health.reachable()
		return current, nil
	}

	log.Warningf("liveness probe failed, reopening connection: %v", probeErr)
	s.health.failure(probeErr)

	s.connLock.Lock()
	defer s.connLock.Unlock()

	// another goroutine reopened in the meantime
	if s.conn != current {
		return s.conn, nil
	}

	fresh, err := s.connect()
	if err != nil {
		s.health.failure(err)
		return nil, db.WrapError(db.ErrCStoreUnavailable, err, "reopening %s database failed", s.driverName)
	}
	_ = current.Close()
	s.conn = fresh
	s.tables.Clear()
	s.health.recovered()
	log.Infof("reopened %s database connection", s.driverName)
	return fresh, nil
}

func (s *sqlImpl) Close() error {
	if !s.BeginClose() {
		return nil
	}
	s.connLock.Lock()
	defer s.connLock.Unlock()
	if err := s.conn.Close(); err != nil {
		return db.WrapError(db.ErrCStoreUnavailable, err, "closing sql store")
	}
	log.Infof("closed sql store (driver %s)", s.driverName)
	return nil
}

// Health reports the availability of the database connection
func (s *sqlImpl) Health() []db.HealthRecord {
	return s.health.records(s.driverName)
}

// --------------------------------------------------------------------------
// Table Management
// --------------------------------------------------------------------------

// ensureTable makes sure the namespace table exists. Existence is checked by
// reading from the table, the table and its index are created if that fails.
func (s *sqlImpl) ensureTable(conn *sql.DB, ns db.Namespace) error {
	if _, ok := s.tables.Load(ns); ok {
		return nil
	}

	table := tableName(ns)
	probe := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE id = %s", table, s.bind(1))
	var n int
	if err := conn.QueryRow(probe, "").Scan(&n); err == nil {
		s.tables.Store(ns, struct{}{})
		return nil
	}

	log.Infof("creating table %s", table)
	create := fmt.Sprintf("CREATE TABLE %s (id VARCHAR(%d) NOT NULL PRIMARY KEY, value TEXT)", table, db.MaxKeyLength)
	index := fmt.Sprintf("CREATE UNIQUE INDEX %s_idx ON %s (id)", table, table)
	if _, err := conn.Exec(create); err != nil {
		// the table may have been created concurrently
		if rErr := conn.QueryRow(probe, "").Scan(&n); rErr != nil {
			return err
		}
	} else if _, err := conn.Exec(index); err != nil {
		return err
	}

	s.tables.Store(ns, struct{}{})
	return nil
}

// prepare returns a live connection with the namespace table in place
func (s *sqlImpl) prepare(ns db.Namespace, op string) (*sql.DB, error) {
	conn, err := s.db()
	if err != nil {
		return nil, err
	}
	if err := s.ensureTable(conn, ns); err != nil {
		return nil, s.translate(err, op, ns)
	}
	return conn, nil
}

// --------------------------------------------------------------------------
// Read Operations
// --------------------------------------------------------------------------

func (s *sqlImpl) Get(ns db.Namespace, key string) (string, bool, error) {
	if err := s.Enter(); err != nil {
		return "", false, err
	}
	defer s.Leave()
	conn, err := s.prepare(ns, "get")
	if err != nil {
		return "", false, err
	}
	var value sql.NullString
	q := fmt.Sprintf("SELECT value FROM %s WHERE id = %s", tableName(ns), s.bind(1))
	err = conn.QueryRow(q, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, s.translate(err, "get", ns)
	}
	return value.String, true, nil
}

func (s *sqlImpl) Contains(ns db.Namespace, key string) (bool, error) {
	if err := s.Enter(); err != nil {
		return false, err
	}
	defer s.Leave()
	conn, err := s.prepare(ns, "contains")
	if err != nil {
		return false, err
	}
	var n int
	q := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE id = %s", tableName(ns), s.bind(1))
	if err := conn.QueryRow(q, key).Scan(&n); err != nil {
		return false, s.translate(err, "contains", ns)
	}
	return n > 0, nil
}

func (s *sqlImpl) Size(ns db.Namespace) (int64, error) {
	if err := s.Enter(); err != nil {
		return 0, err
	}
	defer s.Leave()
	conn, err := s.prepare(ns, "size")
	if err != nil {
		return 0, err
	}
	var n int64
	if err := conn.QueryRow(fmt.Sprintf("SELECT COUNT(*) FROM %s", tableName(ns))).Scan(&n); err != nil {
		return 0, s.translate(err, "size", ns)
	}
	return n, nil
}

func (s *sqlImpl) Iterate(ns db.Namespace) (db.Iterator, error) {
	if err := s.Enter(); err != nil {
		return nil, err
	}
	defer s.Leave()
	if _, err := s.prepare(ns, "iterate"); err != nil {
		return nil, err
	}
	if err := s.iterators.Acquire(ns); err != nil {
		return nil, err
	}
	it := &sqlIterator{
		store:   s,
		ns:      ns,
		release: func() { s.iterators.Release(ns) },
	}
	it.fillLocked()
	return it, nil
}

// --------------------------------------------------------------------------
// Write Operations
// --------------------------------------------------------------------------

// upsert writes one entry inside tx and reports whether it existed
func (s *sqlImpl) upsert(tx *sql.Tx, ns db.Namespace, key, value string) (bool, error) {
	table := tableName(ns)
	var n int
	if err := tx.QueryRow(fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE id = %s", table, s.bind(1)), key).Scan(&n); err != nil {
		return false, err
	}
	if n > 0 {
		_, err := tx.Exec(fmt.Sprintf("UPDATE %s SET value = %s WHERE id = %s", table, s.bind(1), s.bind(2)), value, key)
		return true, err
	}
	_, err := tx.Exec(fmt.Sprintf("INSERT INTO %s (id, value) VALUES (%s, %s)", table, s.bind(1), s.bind(2)), key, value)
	return false, err
}

// inTx runs fn in a transaction under the write lock. The transaction is
// rolled back if fn fails.
func (s *sqlImpl) inTx(ns db.Namespace, op string, fn func(tx *sql.Tx) error) error {
	if err := s.Enter(); err != nil {
		return err
	}
	defer s.Leave()
	conn, err := s.prepare(ns, op)
	if err != nil {
		return err
	}

	s.writeLock.Lock()
	defer s.writeLock.Unlock()

	tx, err := conn.Begin()
	if err != nil {
		return s.translate(err, op, ns)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return s.translate(err, op, ns)
	}
	return s.translate(tx.Commit(), op, ns)
}

func (s *sqlImpl) Put(ns db.Namespace, key, value string) (existed bool, err error) {
	err = s.inTx(ns, "put", func(tx *sql.Tx) error {
		existed, err = s.upsert(tx, ns, key, value)
		return err
	})
	return existed, err
}

func (s *sqlImpl) PutAll(ns db.Namespace, entries map[string]string) error {
	return s.inTx(ns, "putAll", func(tx *sql.Tx) error {
		for k, v := range entries {
			if _, err := s.upsert(tx, ns, k, v); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *sqlImpl) Remove(ns db.Namespace, key string) (existed bool, err error) {
	err = s.inTx(ns, "remove", func(tx *sql.Tx) error {
		res, err := tx.Exec(fmt.Sprintf("DELETE FROM %s WHERE id = %s", tableName(ns), s.bind(1)), key)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		existed = n > 0
		return err
	})
	return existed, err
}

func (s *sqlImpl) RemoveAll(ns db.Namespace, keys []string) error {
	return s.inTx(ns, "removeAll", func(tx *sql.Tx) error {
		q := fmt.Sprintf("DELETE FROM %s WHERE id = %s", tableName(ns), s.bind(1))
		for _, k := range keys {
			if _, err := tx.Exec(q, k); err != nil {
				return err
			}
		}
		return nil
	})
}

// Truncate drops the namespace table and creates it again
func (s *sqlImpl) Truncate(ns db.Namespace) error {
	if err := s.Enter(); err != nil {
		return err
	}
	defer s.Leave()
	conn, err := s.prepare(ns, "truncate")
	if err != nil {
		return err
	}

	s.writeLock.Lock()
	defer s.writeLock.Unlock()

	if _, err := conn.Exec(fmt.Sprintf("DROP TABLE %s", tableName(ns))); err != nil {
		return s.translate(err, "truncate", ns)
	}
	s.tables.Delete(ns)
	return s.translate(s.ensureTable(conn, ns), "truncate", ns)
}

// --------------------------------------------------------------------------
// Metadata
// --------------------------------------------------------------------------

// DiskSpaceUsed is only supported for sqlite (page_count * page_size)
func (s *sqlImpl) DiskSpaceUsed() int64 {
	if s.Enter() != nil {
		return 0
	}
	defer s.Leave()
	return s.diskSize()
}

func (s *sqlImpl) diskSize() int64 {
	if s.driverName != defaultDriver {
		return 0
	}
	s.connLock.RLock()
	conn := s.conn
	s.connLock.RUnlock()

	var pages, pageSize int64
	if err := conn.QueryRow("PRAGMA page_count").Scan(&pages); err != nil {
		return 0
	}
	if err := conn.QueryRow("PRAGMA page_size").Scan(&pageSize); err != nil {
		return 0
	}
	return pages * pageSize
}

func (s *sqlImpl) Info() db.DatabaseInfo {
	info := db.DatabaseInfo{
		DbType:   db.ImplSQL,
		Status:   s.Status().String(),
		Location: s.Location(),
	}
	if s.Enter() != nil {
		return info
	}
	defer s.Leave()

	s.connLock.RLock()
	stats := s.conn.Stats()
	s.connLock.RUnlock()

	info.SizeBytes = s.diskSize()
	info.Metadata = &struct {
		Driver        string            `json:"driver"`
		OpenConns     int               `json:"open_connections"`
		InUse         int               `json:"in_use"`
		KnownTables   int               `json:"known_tables"`
		Health        []db.HealthRecord `json:"health"`
		HealthWindowS float64           `json:"health_window_seconds"`
	}{
		Driver:        s.driverName,
		OpenConns:     stats.OpenConnections,
		InUse:         stats.InUse,
		KnownTables:   s.tables.Size(),
		Health:        s.Health(),
		HealthWindowS: s.health.window.Seconds(),
	}
	return info
}

// --------------------------------------------------------------------------
// Iterator
// --------------------------------------------------------------------------

// sqlIterator reads the table in key order, one page per query. No cursor or
// connection is held between two calls; the next page is read as soon as the
// current one is consumed.
type sqlIterator struct {
	store     *sqlImpl
	ns        db.Namespace
	buffer    []db.TransactionItem
	lastKey   *string
	exhausted bool
	closed    bool
	item      db.TransactionItem
	err       error
	release   func()
}

func (it *sqlIterator) fill() {
	if it.exhausted || it.err != nil {
		return
	}
	if err := it.store.Enter(); err != nil {
		it.err = err
		return
	}
	defer it.store.Leave()
	it.fillLocked()
}

// fillLocked is fill for callers that already entered the store
func (it *sqlIterator) fillLocked() {
	if it.exhausted || it.err != nil {
		return
	}
	s := it.store
	conn, err := s.db()
	if err != nil {
		it.err = err
		return
	}

	table := tableName(it.ns)
	var rows *sql.Rows
	if it.lastKey == nil {
		rows, err = conn.Query(fmt.Sprintf("SELECT id, value FROM %s ORDER BY id LIMIT %d", table, s.pageSize))
	} else {
		rows, err = conn.Query(fmt.Sprintf("SELECT id, value FROM %s WHERE id > %s ORDER BY id LIMIT %d",
			table, s.bind(1), s.pageSize), *it.lastKey)
	}
	if err != nil {
		it.err = s.translate(err, "iterate", it.ns)
		return
	}
	defer rows.Close()

	page := make([]db.TransactionItem, 0, s.pageSize)
	for rows.Next() {
		var (
			key   string
			value sql.NullString
		)
		if err := rows.Scan(&key, &value); err != nil {
			it.err = s.translate(err, "iterate", it.ns)
			return
		}
		page = append(page, db.TransactionItem{Namespace: it.ns, Key: key, Value: value.String})
	}
	if err := rows.Err(); err != nil {
		it.err = s.translate(err, "iterate", it.ns)
		return
	}

	if len(page) < s.pageSize {
		it.exhausted = true
	}
	if len(page) > 0 {
		last := page[len(page)-1].Key
		it.lastKey = &last
	}
	it.buffer = page
}

func (it *sqlIterator) Next() bool {
	if it.closed || it.err != nil || len(it.buffer) == 0 {
		return false
	}
	it.item = it.buffer[0]
	it.buffer = it.buffer[1:]
	if len(it.buffer) == 0 {
		it.fill()
	}
	return true
}

func (it *sqlIterator) Item() db.TransactionItem {
	return it.item
}

func (it *sqlIterator) Err() error {
	return it.err
}

func (it *sqlIterator) Close() error {
	if !it.closed {
		it.closed = true
		it.buffer = nil
		it.release()
	}
	return nil
}
