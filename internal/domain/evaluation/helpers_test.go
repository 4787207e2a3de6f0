package evaluation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type countingCounters struct {
	mu        sync.Mutex
	recompute int
	conflicts int
	skipped   int
}

func (c *countingCounters) WeightRecomputed() {
	c.mu.Lock()
	c.recompute++
	c.mu.Unlock()
}

func (c *countingCounters) ConflictRetried() {
	c.mu.Lock()
	c.conflicts++
	c.mu.Unlock()
}

func (c *countingCounters) ProgressRowSkipped() {
	c.mu.Lock()
	c.skipped++
	c.mu.Unlock()
}

type fixture struct {
	store    *MemoryStore
	engine   *Engine
	clock    *testClock
	counters *countingCounters
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := NewMemoryStore()
	clock := newTestClock()
	counters := &countingCounters{}
	seq := 0
	var seqMu sync.Mutex
	engine := NewEngine(store.Deps(), Options{
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		Counters: counters,
		Now:      clock.Now,
		NewID: func() string {
			seqMu.Lock()
			defer seqMu.Unlock()
			seq++
			return fmt.Sprintf("id-%03d", seq)
		},
	})
	store.PutPeriod(EvaluationPeriod{
		ID:      "p1",
		Name:    "2026 H1",
		MaxRate: 120,
		GradeBands: []GradeBand{
			{Grade: "S", MinScore: 110, MaxScore: 120},
			{Grade: "A", MinScore: 90, MaxScore: 109.99},
			{Grade: "B", MinScore: 60, MaxScore: 89.99},
			{Grade: "C", MinScore: 0, MaxScore: 59.99},
		},
	})
	return &fixture{store: store, engine: engine, clock: clock, counters: counters}
}

// item assigns a work item of project to the employee.
func (f *fixture) item(employeeID, projectID, workItemID string, order int) WorkItemAssignment {
	return f.store.PutAssignment(WorkItemAssignment{
		ID:           "wa-" + employeeID + "-" + workItemID,
		PeriodID:     "p1",
		EmployeeID:   employeeID,
		ProjectID:    projectID,
		WorkItemID:   workItemID,
		DisplayOrder: order,
	})
}

func (f *fixture) score(employeeID, evaluatorID, workItemID string, round RoundType, score float64) EvaluationRecord {
	return f.store.PutEvaluation(EvaluationRecord{
		ID:          fmt.Sprintf("ev-%s-%s-%s-%s", employeeID, evaluatorID, workItemID, round),
		PeriodID:    "p1",
		EmployeeID:  employeeID,
		EvaluatorID: evaluatorID,
		WorkItemID:  workItemID,
		Round:       round,
		Score:       &score,
		UpdatedAt:   f.clock.Now(),
	})
}

func (f *fixture) blank(employeeID, evaluatorID, workItemID string, round RoundType) EvaluationRecord {
	return f.store.PutEvaluation(EvaluationRecord{
		ID:          fmt.Sprintf("ev-%s-%s-%s-%s", employeeID, evaluatorID, workItemID, round),
		PeriodID:    "p1",
		EmployeeID:  employeeID,
		EvaluatorID: evaluatorID,
		WorkItemID:  workItemID,
		Round:       round,
		UpdatedAt:   f.clock.Now(),
	})
}

func (f *fixture) line(employeeID, evaluatorID string, round RoundType) {
	f.store.AddLine(EvaluationLine{PeriodID: "p1", EmployeeID: employeeID, EvaluatorID: evaluatorID, Round: round})
}

const weightTolerance = 0.01

func floatPtr(v float64) *float64 { return &v }

func approxEqual(a, b float64) bool {
	d := a - b
	if d < 0 {
		d = -d
	}
	return d < weightTolerance
}

func sumWeights(items []WorkItemAssignment) float64 {
	total := 0.0
	for _, item := range items {
		total += item.Weight
	}
	return total
}

func mustStatus(t *testing.T, f *fixture, employeeID string, step Step) ApprovalStatus {
	t.Helper()
	view, err := f.engine.Approvals.GetStepApproval(context.Background(), "p1", employeeID)
	if err != nil {
		t.Fatalf("get step approval: %v", err)
	}
	return view.Status(step)
}

func evaluatorStatus(t *testing.T, f *fixture, employeeID, evaluatorID string, step Step) ApprovalStatus {
	t.Helper()
	row, ok, err := f.store.GetEvaluatorApproval(context.Background(), "p1", employeeID, evaluatorID, step)
	if err != nil {
		t.Fatalf("get evaluator approval: %v", err)
	}
	if !ok {
		return StatusPending
	}
	return row.Status
}

type failingNotifier struct{}

func (failingNotifier) Notify(context.Context, string, string, string, string) error {
	return errors.New("smtp down")
}

func isNotFound(err error) bool   { return errors.Is(err, ErrNotFound) }
func isValidation(err error) bool { return errors.Is(err, ErrValidation) }
