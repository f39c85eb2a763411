package db

import "time"

// HealthSeverity classifies a health record
type HealthSeverity string

const (
	HealthGood    HealthSeverity = "GOOD"
	HealthCaution HealthSeverity = "CAUTION" // recently recovered
	HealthWarn    HealthSeverity = "WARN"    // currently unavailable
)

// HealthRecord is a structured health message for external monitoring
type HealthRecord struct {
	Severity HealthSeverity `json:"severity"`
	Topic    string         `json:"topic"`
	Message  string         `json:"message"`
	Time     time.Time      `json:"time"`
}

// HealthReporter is implemented by engines that track their availability.
// Health must never block on the backend.
type HealthReporter interface {
	Health() []HealthRecord
}

// HealthOf walks the decorator chain and returns the health records of the
// first HealthReporter found. Stores without one are reported as healthy.
func HealthOf(s Store) []HealthRecord {
	for {
		if hr, ok := s.(HealthReporter); ok {
			return hr.Health()
		}
		w, ok := s.(Wrapper)
		if !ok {
			break
		}
		s = w.Unwrap()
	}
	return []HealthRecord{{
		Severity: HealthGood,
		Topic:    "LocalDB",
		Message:  "store status " + s.Status().String(),
		Time:     time.Now(),
	}}
}
