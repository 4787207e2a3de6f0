package evaluation

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"perfreview/internal/platform/tracing"
)

// CompositeStatus folds evaluator sub-statuses into one step status. An open
// revision request wins, then full completion, then full approval.
func CompositeStatus(statuses []ApprovalStatus) ApprovalStatus {
	if len(statuses) == 0 {
		return StatusPending
	}
	allCompleted := true
	allApproved := true
	for _, status := range statuses {
		if status == StatusRevisionRequested {
			return StatusRevisionRequested
		}
		if status != StatusRevisionCompleted {
			allCompleted = false
		}
		if status != StatusApproved {
			allApproved = false
		}
	}
	switch {
	case allCompleted:
		return StatusRevisionCompleted
	case allApproved:
		return StatusApproved
	}
	return StatusPending
}

// compositeInputs counts evaluators on the line without a row as pending.
func compositeInputs(lines []EvaluationLine, rows []EvaluatorStepApproval, round RoundType) []ApprovalStatus {
	byEvaluator := make(map[string]ApprovalStatus)
	for _, row := range rows {
		if row.Step == round.Step() {
			byEvaluator[row.EvaluatorID] = row.Status
		}
	}
	evaluators := evaluatorsFor(lines, round)
	if len(evaluators) == 0 {
		for id := range byEvaluator {
			evaluators = append(evaluators, id)
		}
		sort.Strings(evaluators)
	}
	statuses := make([]ApprovalStatus, 0, len(evaluators))
	for _, id := range evaluators {
		status, ok := byEvaluator[id]
		if !ok {
			status = StatusPending
		}
		statuses = append(statuses, status)
	}
	return statuses
}

func evaluatorsFor(lines []EvaluationLine, round RoundType) []string {
	seen := make(map[string]struct{})
	var ids []string
	for _, line := range lines {
		if line.Round != round {
			continue
		}
		if _, ok := seen[line.EvaluatorID]; ok {
			continue
		}
		seen[line.EvaluatorID] = struct{}{}
		ids = append(ids, line.EvaluatorID)
	}
	sort.Strings(ids)
	return ids
}

type transitionGuard func(current ApprovalStatus) (bool, error)

func always(ApprovalStatus) (bool, error) { return true, nil }

func onlyFrom(from ApprovalStatus) transitionGuard {
	return func(current ApprovalStatus) (bool, error) {
		return current == from, nil
	}
}

type approvalRows struct {
	approvals ApprovalStore
	lines     EvaluationLineStore
	counters  Counters
	now       func() time.Time
}

func (r *approvalRows) stepRow(ctx context.Context, periodID, employeeID string) (StepApproval, error) {
	row, ok, err := r.approvals.GetStepApproval(ctx, periodID, employeeID)
	if err != nil {
		return StepApproval{}, err
	}
	if !ok {
		return newStepApproval(periodID, employeeID), nil
	}
	return row, nil
}

func (r *approvalRows) evaluatorRow(ctx context.Context, periodID, employeeID, evaluatorID string, step Step) (EvaluatorStepApproval, error) {
	row, ok, err := r.approvals.GetEvaluatorApproval(ctx, periodID, employeeID, evaluatorID, step)
	if err != nil {
		return EvaluatorStepApproval{}, err
	}
	if !ok {
		return EvaluatorStepApproval{
			PeriodID:    periodID,
			EmployeeID:  employeeID,
			EvaluatorID: evaluatorID,
			Step:        step,
			Status:      StatusPending,
		}, nil
	}
	return row, nil
}

func (r *approvalRows) setStepStatus(ctx context.Context, periodID, employeeID string, step Step, status ApprovalStatus, actor string, guard transitionGuard) (StepApproval, error) {
	var out StepApproval
	err := retryOnConflict(ctx, r.counters, func() error {
		row, err := r.stepRow(ctx, periodID, employeeID)
		if err != nil {
			return err
		}
		out = row
		if row.Status(step) == status {
			return nil
		}
		apply, err := guard(row.Status(step))
		if err != nil || !apply {
			return err
		}
		row.SetStatus(step, status)
		row.UpdatedBy = actor
		row.UpdatedAt = r.now()
		out, err = r.approvals.SaveStepApproval(ctx, row)
		return err
	})
	return out, err
}

func (r *approvalRows) setEvaluatorStatus(ctx context.Context, periodID, employeeID, evaluatorID string, step Step, status ApprovalStatus, actor string, guard transitionGuard) (EvaluatorStepApproval, error) {
	var out EvaluatorStepApproval
	err := retryOnConflict(ctx, r.counters, func() error {
		row, err := r.evaluatorRow(ctx, periodID, employeeID, evaluatorID, step)
		if err != nil {
			return err
		}
		out = row
		if row.Status == status {
			return nil
		}
		apply, err := guard(row.Status)
		if err != nil || !apply {
			return err
		}
		now := r.now()
		row.Status = status
		row.UpdatedAt = now
		if status == StatusApproved {
			row.ApprovedBy = actor
			row.ApprovedAt = &now
		}
		out, err = r.approvals.SaveEvaluatorApproval(ctx, row)
		return err
	})
	return out, err
}

func (r *approvalRows) syncComposite(ctx context.Context, periodID, employeeID string, round RoundType, actor string) (StepApproval, error) {
	lines, err := r.lines.ListEvaluationLines(ctx, periodID, []string{employeeID})
	if err != nil {
		return StepApproval{}, err
	}
	rows, err := r.approvals.ListEvaluatorApprovals(ctx, periodID, []string{employeeID})
	if err != nil {
		return StepApproval{}, err
	}
	composite := CompositeStatus(compositeInputs(lines, rows, round))
	return r.setStepStatus(ctx, periodID, employeeID, round.Step(), composite, actor, always)
}

func (r *approvalRows) roundEvaluators(ctx context.Context, periodID, employeeID string, round RoundType) ([]string, error) {
	lines, err := r.lines.ListEvaluationLines(ctx, periodID, []string{employeeID})
	if err != nil {
		return nil, err
	}
	return evaluatorsFor(lines, round), nil
}

func (r *approvalRows) view(ctx context.Context, periodID, employeeID string) (StepStatusView, error) {
	row, err := r.stepRow(ctx, periodID, employeeID)
	if err != nil {
		return StepStatusView{}, err
	}
	evaluators, err := r.approvals.ListEvaluatorApprovals(ctx, periodID, []string{employeeID})
	if err != nil {
		return StepStatusView{}, err
	}
	sort.Slice(evaluators, func(i, j int) bool {
		if evaluators[i].Step != evaluators[j].Step {
			return evaluators[i].Step < evaluators[j].Step
		}
		return evaluators[i].EvaluatorID < evaluators[j].EvaluatorID
	})
	if evaluators == nil {
		evaluators = []EvaluatorStepApproval{}
	}
	return StepStatusView{StepApproval: row, Evaluators: evaluators}, nil
}

type StepApprovalStateMachine struct {
	rows      *approvalRows
	revisions *RevisionRequestManager
	activity  ActivityRecorder
	logger    *slog.Logger
}

func (m *StepApprovalStateMachine) GetStepApproval(ctx context.Context, periodID, employeeID string) (StepStatusView, error) {
	if err := requireIDs("period id", periodID, "employee id", employeeID); err != nil {
		return StepStatusView{}, err
	}
	return m.rows.view(ctx, periodID, employeeID)
}

func (m *StepApprovalStateMachine) Approve(ctx context.Context, in ApproveInput) (view StepStatusView, err error) {
	ctx, span := tracing.StartSpan(ctx, "evaluation.Approve",
		attribute.String("step", string(in.Step)),
		attribute.String("employee.id", in.EmployeeID),
		attribute.String("period.id", in.PeriodID),
	)
	defer func() { tracing.End(span, err) }()

	if !in.Step.Valid() {
		return StepStatusView{}, validationError("unknown step %q", in.Step)
	}
	if err := requireIDs("period id", in.PeriodID, "employee id", in.EmployeeID, "approver id", in.ApproverID); err != nil {
		return StepStatusView{}, err
	}

	round, downward := in.Step.Round()
	var changed bool
	if !downward {
		changed, err = m.approveStep(ctx, in)
	} else {
		changed, err = m.approveDownward(ctx, in, round)
	}
	if err != nil {
		return StepStatusView{}, err
	}

	if changed {
		recordActivity(ctx, m.logger, m.activity, Activity{
			PeriodID:   in.PeriodID,
			EmployeeID: in.EmployeeID,
			ActorID:    in.ApproverID,
			Type:       ActivityStepApproved,
			Details:    map[string]any{"step": in.Step, "evaluatorId": in.EvaluatorID},
		})
	}
	return m.rows.view(ctx, in.PeriodID, in.EmployeeID)
}

func (m *StepApprovalStateMachine) approveStep(ctx context.Context, in ApproveInput) (bool, error) {
	before, err := m.rows.stepRow(ctx, in.PeriodID, in.EmployeeID)
	if err != nil {
		return false, err
	}
	after, err := m.rows.setStepStatus(ctx, in.PeriodID, in.EmployeeID, in.Step, StatusApproved, in.ApproverID, approvable)
	if err != nil {
		return false, err
	}
	return before.Status(in.Step) != after.Status(in.Step), nil
}

func (m *StepApprovalStateMachine) approveDownward(ctx context.Context, in ApproveInput, round RoundType) (bool, error) {
	current, err := m.rows.roundEvaluators(ctx, in.PeriodID, in.EmployeeID, round)
	if err != nil {
		return false, err
	}
	targets := current
	if in.EvaluatorID != "" {
		if !contains(current, in.EvaluatorID) {
			return false, fmt.Errorf("evaluator %s holds no %s round for employee %s: %w", in.EvaluatorID, round, in.EmployeeID, ErrNotFound)
		}
		targets = []string{in.EvaluatorID}
	}
	if len(targets) == 0 {
		return false, validationError("no %s evaluator assigned to employee %s", round, in.EmployeeID)
	}

	changed := false
	for _, evaluatorID := range targets {
		row, err := m.rows.evaluatorRow(ctx, in.PeriodID, in.EmployeeID, evaluatorID, in.Step)
		if err != nil {
			return false, err
		}
		if _, err := approvable(row.Status); err != nil {
			return false, fmt.Errorf("evaluator %s: %w", evaluatorID, err)
		}
		if row.Status != StatusApproved {
			changed = true
		}
	}
	for _, evaluatorID := range targets {
		if _, err := m.rows.setEvaluatorStatus(ctx, in.PeriodID, in.EmployeeID, evaluatorID, in.Step, StatusApproved, in.ApproverID, approvable); err != nil {
			return false, err
		}
	}
	_, err = m.rows.syncComposite(ctx, in.PeriodID, in.EmployeeID, round, in.ApproverID)
	return changed, err
}

func (m *StepApprovalStateMachine) RequestRevision(ctx context.Context, in RevisionInput) (RevisionRequest, error) {
	if !in.Step.Valid() {
		return RevisionRequest{}, validationError("unknown step %q", in.Step)
	}
	if err := requireIDs("period id", in.PeriodID, "employee id", in.EmployeeID); err != nil {
		return RevisionRequest{}, err
	}

	var targets []RecipientSpec
	round, downward := in.Step.Round()
	if !downward {
		targets = []RecipientSpec{{RecipientID: in.EmployeeID, RecipientType: RecipientEmployee}}
	} else {
		evaluators, err := m.rows.roundEvaluators(ctx, in.PeriodID, in.EmployeeID, round)
		if err != nil {
			return RevisionRequest{}, err
		}
		if in.EvaluatorID != "" {
			if !contains(evaluators, in.EvaluatorID) {
				return RevisionRequest{}, fmt.Errorf("evaluator %s holds no %s round for employee %s: %w", in.EvaluatorID, round, in.EmployeeID, ErrNotFound)
			}
			evaluators = []string{in.EvaluatorID}
		}
		for _, id := range evaluators {
			targets = append(targets, RecipientSpec{RecipientID: id, RecipientType: RecipientEvaluator})
		}
	}
	return m.revisions.CreateRevisionRequest(ctx, in.PeriodID, in.EmployeeID, in.Step, in.Comment, in.RequestedBy, targets)
}

func (m *StepApprovalStateMachine) MarkRevisionComplete(ctx context.Context, recipientID, responseComment string) (RevisionRequest, error) {
	if err := requireIDs("recipient id", recipientID); err != nil {
		return RevisionRequest{}, err
	}
	recipient, err := m.revisions.revisions.GetRecipient(ctx, recipientID)
	if err != nil {
		return RevisionRequest{}, err
	}
	return m.revisions.CompleteForRecipient(ctx, recipient.RequestID, recipient.RecipientID, responseComment)
}

func approvable(current ApprovalStatus) (bool, error) {
	if current == StatusRevisionRequested {
		return false, fmt.Errorf("%w: cannot approve while a revision is requested", ErrInvalidTransition)
	}
	return true, nil
}

func contains(values []string, want string) bool {
	for _, v := range values {
		if v == want {
			return true
		}
	}
	return false
}
