package sqldb

import (
	"database/sql"
	"database/sql/driver"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/ValentinKolb/nsKV/lib/db"
	dbtesting "github.com/ValentinKolb/nsKV/lib/db/testing"
	"github.com/cockroachdb/errors"
)

func factory() (db.Store, db.InitParams) {
	return NewSQLDB(), nil
}

func Test(t *testing.T) {
	dbtesting.RunStoreTests(t, "SQLite", factory)
	dbtesting.RunPersistenceTests(t, "SQLite", factory)
}

func Benchmark(b *testing.B) {
	dbtesting.RunStoreBenchmarks(b, "SQLite", factory)
}

func openSQL(t *testing.T, params db.InitParams) *sqlImpl {
	t.Helper()
	s := NewSQLDB()
	if err := s.Open(t.TempDir(), params); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s.(*sqlImpl)
}

func TestIteratorPages(t *testing.T) {
	s := openSQL(t, db.InitParams{"pageSize": "7"})

	batch := map[string]string{}
	for i := 0; i < 30; i++ {
		batch[fmt.Sprintf("key-%02d", i)] = fmt.Sprintf("value-%02d", i)
	}
	if err := s.PutAll(db.NsTemp, batch); err != nil {
		t.Fatal(err)
	}

	it, err := s.Iterate(db.NsTemp)
	if err != nil {
		t.Fatal(err)
	}
	defer it.Close()

	if n := len(it.(*sqlIterator).buffer); n != 7 {
		t.Errorf("Expected a first page of 7 rows, got %d", n)
	}

	i := 0
	for it.Next() {
		want := fmt.Sprintf("key-%02d", i)
		if it.Item().Key != want {
			t.Fatalf("Expected %s at position %d, got %s", want, i, it.Item().Key)
		}
		i++
	}
	if err := it.Err(); err != nil {
		t.Fatal(err)
	}
	if i != 30 {
		t.Errorf("Expected 30 items, got %d", i)
	}
}

func TestNamespaceTables(t *testing.T) {
	s := openSQL(t, nil)

	if tableName(db.NsEmailQueue) != "nskv_email_queue" {
		t.Errorf("Unexpected table name %s", tableName(db.NsEmailQueue))
	}

	// reads of an untouched namespace create its table
	if n, err := s.Size(db.NsEmailQueue); err != nil || n != 0 {
		t.Fatalf("Expected an empty namespace, got %d (%v)", n, err)
	}
	if _, ok := s.tables.Load(db.NsEmailQueue); !ok {
		t.Errorf("Expected the table to be remembered")
	}
}

func TestReopensLostConnection(t *testing.T) {
	s := openSQL(t, nil)
	if _, err := s.Put(db.NsTemp, "before", "value"); err != nil {
		t.Fatal(err)
	}
	if records := s.Health(); records[0].Severity != db.HealthGood {
		t.Errorf("Expected GOOD health, got %v", records)
	}

	// pull the pool away under the store
	s.connLock.RLock()
	_ = s.conn.Close()
	s.connLock.RUnlock()

	v, found, err := s.Get(db.NsTemp, "before")
	if err != nil || !found || v != "value" {
		t.Fatalf("Expected the store to reopen transparently, got %q (found %t, err %v)", v, found, err)
	}
	records := s.Health()
	if len(records) != 1 || records[0].Severity != db.HealthCaution {
		t.Errorf("Expected a CAUTION record after recovery, got %v", records)
	}
}

func TestRecreatesDroppedTable(t *testing.T) {
	s := openSQL(t, nil)
	if _, err := s.Put(db.NsTemp, "key", "value"); err != nil {
		t.Fatal(err)
	}

	// drop the table behind the store's back
	other, err := sql.Open(s.driverName, s.dsn)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := other.Exec("DROP TABLE " + tableName(db.NsTemp)); err != nil {
		t.Fatal(err)
	}
	_ = other.Close()

	// the first call may still see the missing table, the next one heals it
	_, _, _ = s.Get(db.NsTemp, "key")
	if _, found, err := s.Get(db.NsTemp, "key"); err != nil || found {
		t.Fatalf("Expected the table to be recreated empty, got found=%t err=%v", found, err)
	}
	if _, err := s.Put(db.NsTemp, "key", "again"); err != nil {
		t.Fatalf("Put after recreating the table failed: %v", err)
	}
	if v, _, _ := s.Get(db.NsTemp, "key"); v != "again" {
		t.Errorf("Expected value again, got %q", v)
	}

	// statement errors do not make the database unavailable
	if records := s.Health(); records[0].Severity != db.HealthGood {
		t.Errorf("Expected GOOD health after a statement error, got %v", records)
	}
}

func TestProbeMarksDatabaseReachable(t *testing.T) {
	s := openSQL(t, nil)

	s.health.failure(fmt.Errorf("read: %w", driver.ErrBadConn))
	if records := s.Health(); records[0].Severity != db.HealthWarn {
		t.Fatalf("Expected WARN after a lost connection, got %v", records)
	}

	if _, _, err := s.Get(db.NsTemp, "key"); err != nil {
		t.Fatal(err)
	}
	records := s.Health()
	if records[0].Severity != db.HealthCaution {
		t.Errorf("Expected CAUTION once the probe succeeds again, got %v", records)
	}
}

func TestConnectionLost(t *testing.T) {
	for _, tc := range []struct {
		err  error
		lost bool
	}{
		{driver.ErrBadConn, true},
		{fmt.Errorf("exec: %w", driver.ErrBadConn), true},
		{sql.ErrConnDone, true},
		{errors.New("SQL logic error: no such table: nskv_temp"), false},
		{errors.New("database is locked (5) (SQLITE_BUSY)"), false},
	} {
		if got := connectionLost(tc.err); got != tc.lost {
			t.Errorf("connectionLost(%v) = %t, expected %t", tc.err, got, tc.lost)
		}
	}
}

func TestUnknownDriver(t *testing.T) {
	s := NewSQLDB()
	err := s.Open(t.TempDir(), db.InitParams{"driver": "does-not-exist", "dsn": "x"})
	if !errors.Is(err, db.ErrStoreUnavailable) {
		t.Errorf("Expected StoreUnavailable, got %v", err)
	}
}

func TestInvalidParams(t *testing.T) {
	s := NewSQLDB()
	err := s.Open(t.TempDir(), db.InitParams{"pageSize": "many"})
	if !errors.Is(err, db.ErrStoreUnavailable) {
		t.Errorf("Expected StoreUnavailable, got %v", err)
	}
}

func TestBindVariables(t *testing.T) {
	question := &sqlImpl{}
	dollar := &sqlImpl{dollar: true}
	if question.bind(2) != "?" {
		t.Errorf("Expected ?, got %s", question.bind(2))
	}
	if dollar.bind(2) != "$2" {
		t.Errorf("Expected $2, got %s", dollar.bind(2))
	}
}

func TestLoadDriver(t *testing.T) {
	// already registered by the import
	if err := LoadDriver("sqlite", nil); err != nil {
		t.Errorf("Expected a registered driver to be a no-op, got %v", err)
	}
	if err := LoadDriver("nskv-empty", nil); !errors.Is(err, db.ErrInvalidArgument) {
		t.Errorf("Expected InvalidArgument for an empty plugin, got %v", err)
	}
	if err := LoadDriverFile("nskv-missing", t.TempDir()+"/missing.so"); !errors.Is(err, db.ErrStoreUnavailable) {
		t.Errorf("Expected StoreUnavailable for a missing file, got %v", err)
	}
}

func TestHealthTracker(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	h := newHealthTracker(5 * time.Minute)
	h.now = func() time.Time { return now }

	if r := h.records("db"); r[0].Severity != db.HealthGood {
		t.Errorf("Expected GOOD, got %v", r[0])
	}

	h.failure(errors.New("connection refused"))
	r := h.records("db")
	if r[0].Severity != db.HealthWarn || !strings.Contains(r[0].Message, "connection refused") {
		t.Errorf("Expected WARN naming the error, got %v", r[0])
	}
	if r[0].Topic != healthTopic {
		t.Errorf("Expected topic %s, got %s", healthTopic, r[0].Topic)
	}

	h.recovered()
	now = now.Add(time.Minute)
	if r := h.records("db"); r[0].Severity != db.HealthCaution {
		t.Errorf("Expected CAUTION within the window, got %v", r[0])
	}

	now = now.Add(10 * time.Minute)
	if r := h.records("db"); r[0].Severity != db.HealthGood {
		t.Errorf("Expected GOOD after the window, got %v", r[0])
	}
}
