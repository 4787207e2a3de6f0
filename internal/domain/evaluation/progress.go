package evaluation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"perfreview/internal/platform/tracing"
)

type ProgressStatusAggregator struct {
	assignments AssignmentStore
	records     EvaluationRecordStore
	periods     periodReader
	lines       EvaluationLineStore
	criteria    CriteriaCounter
	approvals   ApprovalStore
	views       ActivityLogReader
	concurrency int
	logger      *slog.Logger
	counters    Counters
}

type progressSnapshot struct {
	period        EvaluationPeriod
	requesterID   string
	assignments   map[string][]WorkItemAssignment
	records       map[string][]EvaluationRecord
	selfEvals     map[string][]SelfEvaluation
	criteria      map[string]CriteriaCounts
	lines         map[string][]EvaluationLine
	steps         map[string]StepApproval
	evaluatorRows map[string][]EvaluatorStepApproval
	views         map[string]time.Time
}

func (a *ProgressStatusAggregator) GetEmployeeProgress(ctx context.Context, periodID, employeeID, requesterID string) (EmployeeProgress, error) {
	if err := requireIDs("employee id", employeeID, "requesting evaluator id", requesterID); err != nil {
		return EmployeeProgress{}, err
	}
	snap, err := a.prefetch(ctx, periodID, requesterID, []string{employeeID})
	if err != nil {
		return EmployeeProgress{}, err
	}
	return deriveSafely(snap, employeeID)
}

func (a *ProgressStatusAggregator) GetMyTargetsProgress(ctx context.Context, periodID, evaluatorID string) (rows []EmployeeProgress, err error) {
	ctx, span := tracing.StartSpan(ctx, "evaluation.GetMyTargetsProgress",
		attribute.String("period.id", periodID),
		attribute.String("evaluator.id", evaluatorID),
	)
	defer func() { tracing.End(span, err) }()

	if err := requireIDs("period id", periodID, "evaluator id", evaluatorID); err != nil {
		return nil, err
	}
	employeeIDs, err := a.lines.ListTargetEmployees(ctx, periodID, evaluatorID)
	if err != nil {
		return nil, err
	}
	if len(employeeIDs) == 0 {
		if _, err := a.periods.get(ctx, periodID); err != nil {
			return nil, err
		}
		return []EmployeeProgress{}, nil
	}
	snap, err := a.prefetch(ctx, periodID, evaluatorID, employeeIDs)
	if err != nil {
		return nil, err
	}

	results := make([]*EmployeeProgress, len(employeeIDs))
	var g errgroup.Group
	g.SetLimit(a.concurrency)
	for i, employeeID := range employeeIDs {
		g.Go(func() error {
			row, err := deriveSafely(snap, employeeID)
			if err != nil {
				a.counters.ProgressRowSkipped()
				a.logger.WarnContext(ctx, "progress row skipped", "periodId", periodID, "employeeId", employeeID, "err", err)
				return nil
			}
			results[i] = &row
			return nil
		})
	}
	_ = g.Wait()

	rows = make([]EmployeeProgress, 0, len(results))
	for _, row := range results {
		if row != nil {
			rows = append(rows, *row)
		}
	}
	return rows, nil
}

func (a *ProgressStatusAggregator) prefetch(ctx context.Context, periodID, requesterID string, employeeIDs []string) (*progressSnapshot, error) {
	period, err := a.periods.get(ctx, periodID)
	if err != nil {
		return nil, err
	}
	snap := &progressSnapshot{period: period, requesterID: requesterID}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		list, err := a.assignments.ListAssignments(gctx, periodID, employeeIDs)
		snap.assignments = groupBy(list, func(v WorkItemAssignment) string { return v.EmployeeID })
		return wrapFetch("assignments", err)
	})
	g.Go(func() error {
		list, err := a.records.ListEvaluations(gctx, periodID, employeeIDs)
		snap.records = groupBy(list, func(v EvaluationRecord) string { return v.EmployeeID })
		return wrapFetch("evaluations", err)
	})
	g.Go(func() error {
		list, err := a.records.ListSelfEvaluations(gctx, periodID, employeeIDs)
		snap.selfEvals = groupBy(list, func(v SelfEvaluation) string { return v.EmployeeID })
		return wrapFetch("self evaluations", err)
	})
	g.Go(func() error {
		counts, err := a.criteria.CriteriaCounts(gctx, periodID, employeeIDs)
		snap.criteria = counts
		return wrapFetch("criteria counts", err)
	})
	g.Go(func() error {
		list, err := a.lines.ListEvaluationLines(gctx, periodID, employeeIDs)
		snap.lines = groupBy(list, func(v EvaluationLine) string { return v.EmployeeID })
		return wrapFetch("evaluation lines", err)
	})
	g.Go(func() error {
		list, err := a.approvals.ListStepApprovals(gctx, periodID, employeeIDs)
		snap.steps = make(map[string]StepApproval, len(list))
		for _, row := range list {
			snap.steps[row.EmployeeID] = row
		}
		return wrapFetch("step approvals", err)
	})
	g.Go(func() error {
		list, err := a.approvals.ListEvaluatorApprovals(gctx, periodID, employeeIDs)
		snap.evaluatorRows = groupBy(list, func(v EvaluatorStepApproval) string { return v.EmployeeID })
		return wrapFetch("evaluator approvals", err)
	})
	g.Go(func() error {
		if a.views == nil {
			snap.views = map[string]time.Time{}
			return nil
		}
		views, err := a.views.LatestActivity(gctx, periodID, requesterID, ActivityEvaluationViewed, employeeIDs)
		snap.views = views
		return wrapFetch("views", err)
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return snap, nil
}

func wrapFetch(source string, err error) error {
	if err != nil {
		return fmt.Errorf("prefetch %s: %w", source, err)
	}
	return nil
}

func groupBy[T any](items []T, key func(T) string) map[string][]T {
	out := make(map[string][]T)
	for _, item := range items {
		k := key(item)
		out[k] = append(out[k], item)
	}
	return out
}

func deriveSafely(snap *progressSnapshot, employeeID string) (row EmployeeProgress, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("derive progress for %s: %v", employeeID, recovered)
		}
	}()
	return derive(snap, employeeID)
}

func derive(snap *progressSnapshot, employeeID string) (EmployeeProgress, error) {
	assignments := snap.assignments[employeeID]
	records := snap.records[employeeID]
	selfEvals := snap.selfEvals[employeeID]
	lines := snap.lines[employeeID]
	evaluatorRows := snap.evaluatorRows[employeeID]
	counts := snap.criteria[employeeID]

	step, ok := snap.steps[employeeID]
	if !ok {
		step = newStepApproval(snap.period.ID, employeeID)
	}
	for _, s := range []Step{StepCriteriaSetting, StepSelfEvaluation} {
		if !step.Status(s).Valid() {
			return EmployeeProgress{}, fmt.Errorf("employee %s has invalid %s status %q", employeeID, s, step.Status(s))
		}
	}
	for _, row := range evaluatorRows {
		if !row.Status.Valid() {
			return EmployeeProgress{}, fmt.Errorf("employee %s has invalid %s status %q for evaluator %s", employeeID, row.Step, row.Status, row.EvaluatorID)
		}
	}

	workItems := len(assignments)
	row := EmployeeProgress{
		PeriodID:               snap.period.ID,
		EmployeeID:             employeeID,
		WorkItemCount:          workItems,
		CriteriaStatus:         presenceStatus(counts.ProjectCount > 0, workItems > 0),
		WBSCriteriaStatus:      ratioStatus(counts.WorkItemsWithCriteria, workItems),
		EvaluationLineStatus:   presenceStatus(len(evaluatorsFor(lines, RoundPrimary)) > 0, len(evaluatorsFor(lines, RoundSecondary)) > 0),
		PerformanceInputStatus: ratioStatus(performanceInputs(selfEvals), workItems),
		MyRounds:               []RoundType{},
		Steps: StepStatuses{
			CriteriaSetting:     step.CriteriaSetting,
			SelfEvaluation:      step.SelfEvaluation,
			PrimaryEvaluation:   CompositeStatus(compositeInputs(lines, evaluatorRows, RoundPrimary)),
			SecondaryEvaluation: CompositeStatus(compositeInputs(lines, evaluatorRows, RoundSecondary)),
		},
	}

	selfSubmitted := 0
	var selfSubmittedAt *time.Time
	for _, rec := range selfEvals {
		if rec.SubmittedToEvaluator {
			selfSubmitted++
			selfSubmittedAt = latest(selfSubmittedAt, rec.SubmittedToEvaluatorAt)
		}
	}
	row.SelfEvaluationStatus = CountStatus(len(selfEvals), selfSubmitted)

	var primaryCompletedAt *time.Time
	mine := map[RoundType]bool{}
	for _, line := range lines {
		if line.EvaluatorID == snap.requesterID {
			mine[line.Round] = true
		}
	}
	roundCounts := map[RoundType][2]int{}
	myAssigned, myCompleted := 0, 0
	for _, rec := range records {
		c := roundCounts[rec.Round]
		c[0]++
		if rec.Completed {
			c[1]++
			if rec.Round == RoundPrimary {
				primaryCompletedAt = latest(primaryCompletedAt, rec.CompletedAt)
			}
		}
		roundCounts[rec.Round] = c
		if rec.EvaluatorID == snap.requesterID && mine[rec.Round] {
			myAssigned++
			if rec.Completed {
				myCompleted++
			}
		}
	}
	row.PrimaryEvaluationStatus = CountStatus(roundCounts[RoundPrimary][0], roundCounts[RoundPrimary][1])
	row.SecondaryEvaluationStatus = CountStatus(roundCounts[RoundSecondary][0], roundCounts[RoundSecondary][1])
	row.DownwardEvaluationStatus = IntegratedStatus(row.PrimaryEvaluationStatus, row.SecondaryEvaluationStatus)
	row.MyEvaluationStatus = CountStatus(myAssigned, myCompleted)
	for _, round := range Rounds {
		if mine[round] {
			row.MyRounds = append(row.MyRounds, round)
		}
	}

	row.Primary = roundResult(snap.period.GradeBands, WeightedScore(assignments, records, RoundPrimary, snap.period.MaxRate))
	if mine[RoundSecondary] {
		secondary := roundResult(snap.period.GradeBands, WeightedScore(assignments, records, RoundSecondary, snap.period.MaxRate))
		row.Secondary = &secondary
	}

	view, viewed := snap.views[employeeID]
	row.ViewedSelfEvaluation = ViewedFlag(view, viewed, selfSubmittedAt)
	row.ViewedPrimaryEvaluation = ViewedFlag(view, viewed, primaryCompletedAt)
	return row, nil
}

func CountStatus(assigned, completed int) ProgressState {
	switch {
	case assigned <= 0:
		return ProgressNone
	case completed >= assigned:
		return ProgressComplete
	}
	return ProgressInProgress
}

func ratioStatus(done, total int) ProgressState {
	switch {
	case total <= 0 || done <= 0:
		return ProgressNone
	case done >= total:
		return ProgressComplete
	}
	return ProgressInProgress
}

func presenceStatus(a, b bool) ProgressState {
	switch {
	case a && b:
		return ProgressComplete
	case a || b:
		return ProgressInProgress
	}
	return ProgressNone
}

// IntegratedStatus merges the two downward rounds; either round complete
// makes the whole complete.
func IntegratedStatus(primary, secondary ProgressState) ProgressState {
	switch {
	case primary == ProgressComplete || secondary == ProgressComplete:
		return ProgressComplete
	case primary == ProgressInProgress || secondary == ProgressInProgress:
		return ProgressInProgress
	}
	return ProgressNone
}

// ViewedFlag is nil until something was submitted. A view at the same
// instant as the submission counts as viewed.
func ViewedFlag(lastView time.Time, hasView bool, submittedAt *time.Time) *bool {
	if submittedAt == nil {
		return nil
	}
	seen := hasView && !lastView.Before(*submittedAt)
	return &seen
}

func performanceInputs(selfEvals []SelfEvaluation) int {
	n := 0
	for _, rec := range selfEvals {
		if strings.TrimSpace(rec.PerformanceResult) != "" {
			n++
		}
	}
	return n
}

func latest(current, candidate *time.Time) *time.Time {
	if candidate == nil {
		return current
	}
	if current == nil || candidate.After(*current) {
		t := *candidate
		return &t
	}
	return current
}
