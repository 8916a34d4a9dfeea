package appsync

import (
	"sync/atomic"
	"time"
)

// Phase names reported by OperationStatus.
const (
	PhaseAuth       = "authenticating"
	PhaseFetch      = "fetching"
	PhasePush       = "pushing"
	PhasePull       = "pulling"
	PhaseDeletions  = "detecting deletions"
	PhaseFinalizing = "finalizing"
)

// operation tracks one in-flight sync pass.
//
// The run loop reads the cancel flag between items and between phases;
// CancelSync sets it from any goroutine. Phase and item progress are
// updated by the run loop and read by Status snapshots.
type operation struct {
	provider  Provider
	startedAt time.Time

	cancelled atomic.Bool
	phase     atomic.Value // string
	itemsDone atomic.Int64
}

func newOperation(provider Provider) *operation {
	op := &operation{
		provider:  provider,
		startedAt: time.Now().UTC(),
	}
	op.phase.Store(PhaseAuth)
	return op
}

// cancel requests cooperative cancellation.
func (op *operation) cancel() {
	op.cancelled.Store(true)
}

// isCancelled reports whether cancellation was requested.
func (op *operation) isCancelled() bool {
	return op.cancelled.Load()
}

func (op *operation) setPhase(phase string) {
	op.phase.Store(phase)
}

func (op *operation) itemDone() {
	op.itemsDone.Add(1)
}

// OperationStatus is a point-in-time snapshot of a running sync pass.
type OperationStatus struct {
	Provider  Provider  `json:"provider"`
	StartedAt time.Time `json:"started_at"`
	Phase     string    `json:"phase"`
	ItemsDone int64     `json:"items_done"`
	Cancelled bool      `json:"cancelled"`
}

func (op *operation) status() OperationStatus {
	return OperationStatus{
		Provider:  op.provider,
		StartedAt: op.startedAt,
		Phase:     op.phase.Load().(string),
		ItemsDone: op.itemsDone.Load(),
		Cancelled: op.cancelled.Load(),
	}
}
