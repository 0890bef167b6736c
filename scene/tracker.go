package scene

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// RunState captures pipeline run lifecycle.
type RunState string

const (
	RunRunning   RunState = "running"
	RunCompleted RunState = "completed"
	RunFailed    RunState = "failed"
)

// RunRecord captures one pipeline run.
type RunRecord struct {
	ID          string
	Job         string
	State       RunState
	SessionID   string
	Artifacts   []ArtifactRef
	ErrorKind   ErrorKind
	Error       string
	CreatedAt   time.Time
	CompletedAt time.Time
}

// RunFilter filters tracker lists. Limit <= 0 returns every match.
type RunFilter struct {
	Job   string
	State RunState
	Since time.Time
	Until time.Time
	Limit int
}

// Matches reports whether record passes the filter criteria, ignoring Limit.
func (f RunFilter) Matches(record RunRecord) bool {
	if f.Job != "" && record.Job != f.Job {
		return false
	}
	if f.State != "" && record.State != f.State {
		return false
	}
	if !f.Since.IsZero() && record.CreatedAt.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && record.CreatedAt.After(f.Until) {
		return false
	}
	return true
}

// RunTracker records pipeline run history.
type RunTracker interface {
	Start(ctx context.Context, record RunRecord) (string, error)
	AddArtifact(ctx context.Context, id string, ref ArtifactRef) error
	Complete(ctx context.Context, id string) error
	Fail(ctx context.Context, id string, err error) error
	Status(ctx context.Context, id string) (RunRecord, error)
	List(ctx context.Context, filter RunFilter) ([]RunRecord, error)
}

// MemoryTracker stores run history in memory for the life of the process.
type MemoryTracker struct {
	Now func() time.Time

	mu      sync.RWMutex
	records map[string]RunRecord
	counter uint64
}

// NewMemoryTracker creates an in-memory tracker.
func NewMemoryTracker() *MemoryTracker {
	return &MemoryTracker{Now: time.Now, records: make(map[string]RunRecord)}
}

// Start creates a new record.
func (t *MemoryTracker) Start(ctx context.Context, record RunRecord) (string, error) {
	_ = ctx
	if record.ID == "" {
		record.ID = t.nextID()
	}
	if record.State == "" {
		record.State = RunRunning
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = t.now()
	}

	t.mu.Lock()
	t.records[record.ID] = record
	t.mu.Unlock()
	return record.ID, nil
}

// AddArtifact appends a persisted artifact to the run.
func (t *MemoryTracker) AddArtifact(ctx context.Context, id string, ref ArtifactRef) error {
	_ = ctx
	return t.update(id, func(record *RunRecord) {
		record.Artifacts = append(record.Artifacts, ref)
	})
}

// Complete marks the run as completed.
func (t *MemoryTracker) Complete(ctx context.Context, id string) error {
	_ = ctx
	return t.update(id, func(record *RunRecord) {
		record.State = RunCompleted
		record.CompletedAt = t.now()
	})
}

// Fail records failure state.
func (t *MemoryTracker) Fail(ctx context.Context, id string, err error) error {
	_ = ctx
	return t.update(id, func(record *RunRecord) {
		record.State = RunFailed
		record.CompletedAt = t.now()
		if err != nil {
			record.ErrorKind = KindFromError(err)
			record.Error = err.Error()
		}
	})
}

// Status returns a record by ID.
func (t *MemoryTracker) Status(ctx context.Context, id string) (RunRecord, error) {
	_ = ctx
	t.mu.RLock()
	record, ok := t.records[id]
	t.mu.RUnlock()
	if !ok {
		return RunRecord{}, NewError(KindNotFound, fmt.Sprintf("run %q not found", id), nil)
	}
	return record, nil
}

// List returns records matching a filter, newest first.
func (t *MemoryTracker) List(ctx context.Context, filter RunFilter) ([]RunRecord, error) {
	_ = ctx
	result := []RunRecord{}

	t.mu.RLock()
	for _, record := range t.records {
		if filter.Matches(record) {
			result = append(result, record)
		}
	}
	t.mu.RUnlock()

	sort.SliceStable(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

func (t *MemoryTracker) update(id string, fn func(*RunRecord)) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	record, ok := t.records[id]
	if !ok {
		return NewError(KindNotFound, fmt.Sprintf("run %q not found", id), nil)
	}
	fn(&record)
	t.records[id] = record
	return nil
}

func (t *MemoryTracker) now() time.Time {
	if t.Now != nil {
		return t.Now()
	}
	return time.Now()
}

func (t *MemoryTracker) nextID() string {
	id := atomic.AddUint64(&t.counter, 1)
	return fmt.Sprintf("run-%d", id)
}
