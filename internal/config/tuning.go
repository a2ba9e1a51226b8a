package config

import (
	"time"
)

// Hot-reloadable tuning keys. The serve loop re-applies these on config file
// change without a restart.
const (
	KeyLockTTL        = "locks.default-ttl"
	KeyIdempotencyTTL = "idempotency.ttl"
	KeyIdempotencyMax = "idempotency.max-entries"
)

// TuningSettings contains the runtime knobs the serve loop pushes into the
// lock manager and idempotency cache.
type TuningSettings struct {
	// LockTTL is the lease length applied when an agent does not choose one
	// (default: 15s)
	LockTTL time.Duration `json:"lock_ttl" yaml:"lock-ttl"`

	// IdempotencyTTL is how long a memoized command response stays
	// replayable (default: 5m)
	IdempotencyTTL time.Duration `json:"idempotency_ttl" yaml:"idempotency-ttl"`

	// IdempotencyMaxEntries caps the replay cache size (default: 500)
	IdempotencyMaxEntries int `json:"idempotency_max_entries" yaml:"idempotency-max-entries"`
}

// RegisterTuningDefaults registers default values for the tuning keys.
// Called from Initialize() in config.go.
func RegisterTuningDefaults() {
	if v == nil {
		return
	}

	// Defaults match locks.DefaultTTL, idempotency.DefaultTTL and
	// idempotency.DefaultMaxEntries. Kept literal here so config stays a
	// leaf package.
	v.SetDefault(KeyLockTTL, "15s")
	v.SetDefault(KeyIdempotencyTTL, "5m")
	v.SetDefault(KeyIdempotencyMax, 500)
}

// GetTuningSettings returns the current tuning configuration. Zero or
// negative values are passed through; the lock manager and cache treat those
// as "keep the current setting".
func GetTuningSettings() TuningSettings {
	return TuningSettings{
		LockTTL:               GetDuration(KeyLockTTL),
		IdempotencyTTL:        GetDuration(KeyIdempotencyTTL),
		IdempotencyMaxEntries: GetInt(KeyIdempotencyMax),
	}
}
