package sqldb

import (
	"fmt"
	"sync"
	"time"

	"github.com/ValentinKolb/nsKV/lib/db"
)

const healthTopic = "LocalDB"

// healthTracker remembers the most recent connection failure for a bounded
// window so a monitor can tell "unavailable" from "recently recovered".
//
// Thread-safety: All methods are thread-safe.
type healthTracker struct {
	mu          sync.Mutex
	window      time.Duration
	available   bool
	lastErr     error
	lastFailure time.Time
	reopens     int
	now         func() time.Time
}

func newHealthTracker(window time.Duration) *healthTracker {
	return &healthTracker{window: window, available: true, now: time.Now}
}

// failure records a failed probe, connect or a lost connection
func (h *healthTracker) failure(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.available = false
	h.lastErr = err
	h.lastFailure = h.now()
}

// reachable records a successful liveness probe. A failure recorded since is
// then reported as recovered instead of unavailable.
func (h *healthTracker) reachable() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.available = true
}

// recovered records a successful reopen after a failure
func (h *healthTracker) recovered() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.available = true
	h.reopens++
}

func (h *healthTracker) records(target string) []db.HealthRecord {
	h.mu.Lock()
	defer h.mu.Unlock()

	now := h.now()
	switch {
	case !h.available:
		return []db.HealthRecord{{
			Severity: db.HealthWarn,
			Topic:    healthTopic,
			Message:  fmt.Sprintf("database %s is unavailable: %v", target, h.lastErr),
			Time:     now,
		}}
	case h.lastErr != nil && now.Sub(h.lastFailure) < h.window:
		return []db.HealthRecord{{
			Severity: db.HealthCaution,
			Topic:    healthTopic,
			Message: fmt.Sprintf("database %s recovered, last error %s ago: %v",
				target, now.Sub(h.lastFailure).Round(time.Second), h.lastErr),
			Time: now,
		}}
	default:
		return []db.HealthRecord{{
			Severity: db.HealthGood,
			Topic:    healthTopic,
			Message:  fmt.Sprintf("database %s is available", target),
			Time:     now,
		}}
	}
}
