package ingest

import (
	"time"

	"go.uber.org/atomic"
)

// Stats holds counters accumulated over the lifetime of a Loop.
type Stats struct {
	passes        *atomic.Int64
	fetches       *atomic.Int64
	fetchFailures *atomic.Int64
	malformed     *atomic.Int64
	emits         *atomic.Int64
	emitFailures  *atomic.Int64

	lastPassID       *atomic.String
	lastPassDuration *atomic.Duration
}

func newStats() *Stats {
	return &Stats{
		passes:           atomic.NewInt64(0),
		fetches:          atomic.NewInt64(0),
		fetchFailures:    atomic.NewInt64(0),
		malformed:        atomic.NewInt64(0),
		emits:            atomic.NewInt64(0),
		emitFailures:     atomic.NewInt64(0),
		lastPassID:       atomic.NewString(""),
		lastPassDuration: atomic.NewDuration(0),
	}
}

// StatsSnapshot is a point-in-time copy of Stats, shaped for JSON.
type StatsSnapshot struct {
	Passes           int64         `json:"passes"`
	Fetches          int64         `json:"fetches"`
	FetchFailures    int64         `json:"fetchFailures"`
	Malformed        int64         `json:"malformed"`
	Emits            int64         `json:"emits"`
	EmitFailures     int64         `json:"emitFailures"`
	LastPassID       string        `json:"lastPassId,omitempty"`
	LastPassDuration time.Duration `json:"lastPassDurationNs"`
}

// Snapshot copies the current counter values.
func (s *Stats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		Passes:           s.passes.Load(),
		Fetches:          s.fetches.Load(),
		FetchFailures:    s.fetchFailures.Load(),
		Malformed:        s.malformed.Load(),
		Emits:            s.emits.Load(),
		EmitFailures:     s.emitFailures.Load(),
		LastPassID:       s.lastPassID.Load(),
		LastPassDuration: s.lastPassDuration.Load(),
	}
}
