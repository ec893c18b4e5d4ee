// Package lifecycle implements the query lifecycle manager from
// spec.md §4.8: it registers a compiled pipeline graph, starts and
// stops it, and tracks per-stage status, guarded by a single
// per-query mutex per spec.md §5's shared-resource policy.
package lifecycle

import (
	"sync"

	"github.com/google/uuid"

	"github.com/nebulastream/nebula-core/internal/pipeline"
)

// Status is the query lifecycle state from spec.md §4.8.
type Status int

const (
	Registered Status = iota
	Scheduled
	Running
	SoftStopRequested
	HardStopRequested
	Stopped
	Failed
)

func (s Status) String() string {
	switch s {
	case Registered:
		return "Registered"
	case Scheduled:
		return "Scheduled"
	case Running:
		return "Running"
	case SoftStopRequested:
		return "SoftStopRequested"
	case HardStopRequested:
		return "HardStopRequested"
	case Stopped:
		return "Stopped"
	case Failed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// StageStatus mirrors a single stage's lifecycle, per spec.md §3's
// Created -> Scheduled -> Running -> {Stopped | Failed}.
type StageStatus int

const (
	StageCreated StageStatus = iota
	StageScheduled
	StageRunning
	StageStopped
	StageFailed
)

// Query is one registered pipeline graph and its current lifecycle
// state. All mutable fields are guarded by mu; transitions are meant
// to be short, per spec.md §5.
type Query struct {
	ID uuid.UUID

	mu           sync.Mutex
	status       Status
	stageStatus  map[pipeline.StageID]StageStatus
	failureCause error
}

// NewQuery creates a freshly Registered query over the given stage ids.
func NewQuery(stageIDs []pipeline.StageID) *Query {
	q := &Query{
		ID:          uuid.New(),
		status:      Registered,
		stageStatus: make(map[pipeline.StageID]StageStatus, len(stageIDs)),
	}
	for _, id := range stageIDs {
		q.stageStatus[id] = StageCreated
	}
	return q
}

// Status returns the query's current lifecycle status.
func (q *Query) Status() Status {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.status
}

// FailureCause returns the error that failed the query, if any.
func (q *Query) FailureCause() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.failureCause
}

// StageStatus returns stage id's current status.
func (q *Query) StageStatus(id pipeline.StageID) StageStatus {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.stageStatus[id]
}

func (q *Query) setStageStatus(id pipeline.StageID, s StageStatus) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.stageStatus[id] = s
}

func (q *Query) setStatus(s Status) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.status = s
}

func (q *Query) compareAndSetStatus(from, to Status) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.status != from {
		return false
	}
	q.status = to
	return true
}

func (q *Query) fail(cause error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.status == Failed {
		return
	}
	q.status = Failed
	q.failureCause = cause
	for id := range q.stageStatus {
		q.stageStatus[id] = StageFailed
	}
}
