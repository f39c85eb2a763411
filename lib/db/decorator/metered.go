package decorator

import (
	"fmt"
	"io"
	"time"

	"github.com/ValentinKolb/nsKV/lib/db"
	"github.com/VictoriaMetrics/metrics"
)

// opMetrics are the metrics of one operation
type opMetrics struct {
	calls    *metrics.Counter
	errors   *metrics.Counter
	duration *metrics.Histogram
}

// Metered records call counts, error counts and latencies of every store
// operation in a VictoriaMetrics set.
//
// Metric names:
//
//	nskv_ops_total{engine="<name>",op="<op>"}
//	nskv_op_errors_total{engine="<name>",op="<op>"}
//	nskv_op_duration_seconds{engine="<name>",op="<op>"}
type Metered struct {
	inner db.Store
	name  string
	set   *metrics.Set
	ops   map[string]*opMetrics
}

var meteredOps = []string{
	"open", "close", "get", "contains", "size", "iterate",
	"put", "putAll", "remove", "removeAll", "truncate",
}

// NewMetered wraps inner, name is used as the engine label
func NewMetered(inner db.Store, name string) *Metered {
	m := &Metered{
		inner: inner,
		name:  name,
		set:   metrics.NewSet(),
		ops:   make(map[string]*opMetrics, len(meteredOps)),
	}
	for _, op := range meteredOps {
		labels := fmt.Sprintf(`{engine=%q,op=%q}`, name, op)
		m.ops[op] = &opMetrics{
			calls:    m.set.GetOrCreateCounter("nskv_ops_total" + labels),
			errors:   m.set.GetOrCreateCounter("nskv_op_errors_total" + labels),
			duration: m.set.GetOrCreateHistogram("nskv_op_duration_seconds" + labels),
		}
	}
	return m
}

func (m *Metered) Unwrap() db.Store {
	return m.inner
}

// WritePrometheus writes all metrics in the prometheus text format
func (m *Metered) WritePrometheus(w io.Writer) {
	m.set.WritePrometheus(w)
}

// Calls returns the number of calls of op so far
func (m *Metered) Calls(op string) uint64 {
	if o, ok := m.ops[op]; ok {
		return o.calls.Get()
	}
	return 0
}

// Errors returns the number of failed calls of op so far
func (m *Metered) Errors(op string) uint64 {
	if o, ok := m.ops[op]; ok {
		return o.errors.Get()
	}
	return 0
}

// observe records one call of op that started at start
func (m *Metered) observe(op string, start time.Time, err error) {
	o := m.ops[op]
	o.calls.Inc()
	if err != nil {
		o.errors.Inc()
	}
	o.duration.UpdateDuration(start)
}

// --------------------------------------------------------------------------
// Store
// --------------------------------------------------------------------------

func (m *Metered) Open(location string, params db.InitParams) error {
	start := time.Now()
	err := m.inner.Open(location, params)
	m.observe("open", start, err)
	return err
}

func (m *Metered) Status() db.Status {
	return m.inner.Status()
}

func (m *Metered) Close() error {
	start := time.Now()
	err := m.inner.Close()
	m.observe("close", start, err)
	return err
}

func (m *Metered) Get(ns db.Namespace, key string) (string, bool, error) {
	start := time.Now()
	v, found, err := m.inner.Get(ns, key)
	m.observe("get", start, err)
	return v, found, err
}

func (m *Metered) Contains(ns db.Namespace, key string) (bool, error) {
	start := time.Now()
	found, err := m.inner.Contains(ns, key)
	m.observe("contains", start, err)
	return found, err
}

func (m *Metered) Size(ns db.Namespace) (int64, error) {
	start := time.Now()
	n, err := m.inner.Size(ns)
	m.observe("size", start, err)
	return n, err
}

func (m *Metered) Iterate(ns db.Namespace) (db.Iterator, error) {
	start := time.Now()
	it, err := m.inner.Iterate(ns)
	m.observe("iterate", start, err)
	return it, err
}

func (m *Metered) Put(ns db.Namespace, key, value string) (bool, error) {
	start := time.Now()
	existed, err := m.inner.Put(ns, key, value)
	m.observe("put", start, err)
	return existed, err
}

func (m *Metered) PutAll(ns db.Namespace, entries map[string]string) error {
	start := time.Now()
	err := m.inner.PutAll(ns, entries)
	m.observe("putAll", start, err)
	return err
}

func (m *Metered) Remove(ns db.Namespace, key string) (bool, error) {
	start := time.Now()
	existed, err := m.inner.Remove(ns, key)
	m.observe("remove", start, err)
	return existed, err
}

func (m *Metered) RemoveAll(ns db.Namespace, keys []string) error {
	start := time.Now()
	err := m.inner.RemoveAll(ns, keys)
	m.observe("removeAll", start, err)
	return err
}

func (m *Metered) Truncate(ns db.Namespace) error {
	start := time.Now()
	err := m.inner.Truncate(ns)
	m.observe("truncate", start, err)
	return err
}

func (m *Metered) DiskSpaceUsed() int64 {
	return m.inner.DiskSpaceUsed()
}

func (m *Metered) Info() db.DatabaseInfo {
	return m.inner.Info()
}
