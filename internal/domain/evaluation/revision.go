package evaluation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"perfreview/internal/platform/effect"
	"perfreview/internal/platform/tracing"
)

type RevisionRequestManager struct {
	revisions       RevisionStore
	writer          recordWriter
	rows            *approvalRows
	activity        ActivityRecorder
	notifier        NotificationSender
	logger          *slog.Logger
	counters        Counters
	now             func() time.Time
	newID           func() string
	resubmitComment string
}

// CreateRevisionRequest returns the open request when an identical one is
// still open.
func (m *RevisionRequestManager) CreateRevisionRequest(ctx context.Context, periodID, employeeID string, step Step, comment, requestedBy string, targets []RecipientSpec) (req RevisionRequest, err error) {
	ctx, span := tracing.StartSpan(ctx, "evaluation.CreateRevisionRequest",
		attribute.String("step", string(step)),
		attribute.String("employee.id", employeeID),
		attribute.String("period.id", periodID),
	)
	defer func() { tracing.End(span, err) }()

	targets, err = validateRevision(periodID, employeeID, step, comment, requestedBy, targets)
	if err != nil {
		return RevisionRequest{}, err
	}
	comment = strings.TrimSpace(comment)
	if err := m.checkOnLine(ctx, periodID, employeeID, step, targets); err != nil {
		return RevisionRequest{}, err
	}

	if existing, ok, err := m.openDuplicate(ctx, periodID, employeeID, step, comment, targets); err != nil {
		return RevisionRequest{}, err
	} else if ok {
		// A request whose rows never moved (an earlier failed attempt) is
		// finished here instead of being opened twice.
		moved, err := m.markRequested(ctx, periodID, employeeID, step, targets, requestedBy)
		if err != nil {
			return RevisionRequest{}, err
		}
		if moved {
			m.afterRequest(ctx, existing, targets)
		}
		return existing, nil
	}

	req = RevisionRequest{
		ID:          m.newID(),
		PeriodID:    periodID,
		EmployeeID:  employeeID,
		Step:        step,
		Comment:     comment,
		RequestedBy: requestedBy,
		RequestedAt: m.now(),
	}
	for _, target := range targets {
		req.Recipients = append(req.Recipients, RevisionRecipient{
			ID:            m.newID(),
			RequestID:     req.ID,
			RecipientID:   target.RecipientID,
			RecipientType: target.RecipientType,
		})
	}
	req, err = m.revisions.CreateRevisionRequest(ctx, req)
	if err != nil {
		return RevisionRequest{}, err
	}
	if _, err := m.markRequested(ctx, periodID, employeeID, step, targets, requestedBy); err != nil {
		return RevisionRequest{}, err
	}
	m.afterRequest(ctx, req, targets)
	return req, nil
}

func (m *RevisionRequestManager) afterRequest(ctx context.Context, req RevisionRequest, targets []RecipientSpec) {
	periodID, employeeID, step := req.PeriodID, req.EmployeeID, req.Step
	for _, target := range targets {
		effect.BestEffort(ctx, m.logger, "revision submission reset", func(ctx context.Context) error {
			return m.resetSubmission(ctx, periodID, employeeID, step, target.RecipientID)
		}, "step", step, "employeeId", employeeID, "recipientId", target.RecipientID)
		notify(ctx, m.logger, m.notifier, target.RecipientID, NotificationRevisionRequested,
			"Revision requested",
			fmt.Sprintf("A revision was requested for the %s step: %s", stepLabel(step), req.Comment))
	}
	recordActivity(ctx, m.logger, m.activity, Activity{
		PeriodID:   periodID,
		EmployeeID: employeeID,
		ActorID:    req.RequestedBy,
		Type:       ActivityRevisionRequested,
		Details:    map[string]any{"step": step, "requestId": req.ID, "recipients": len(targets)},
	})
}

func validateRevision(periodID, employeeID string, step Step, comment, requestedBy string, targets []RecipientSpec) ([]RecipientSpec, error) {
	if !step.Valid() {
		return nil, validationError("unknown step %q", step)
	}
	if err := requireIDs("period id", periodID, "employee id", employeeID, "requested by", requestedBy, "comment", comment); err != nil {
		return nil, err
	}
	if len(targets) == 0 {
		return nil, validationError("at least one recipient is required")
	}
	_, downward := step.Round()
	seen := make(map[string]struct{}, len(targets))
	out := make([]RecipientSpec, 0, len(targets))
	for _, target := range targets {
		if strings.TrimSpace(target.RecipientID) == "" {
			return nil, validationError("recipient id is required")
		}
		switch {
		case downward && target.RecipientType != RecipientEvaluator:
			return nil, validationError("%s step revisions must target evaluators", step)
		case !downward && (target.RecipientType != RecipientEmployee || target.RecipientID != employeeID):
			return nil, validationError("%s step revisions must target the employee", step)
		}
		if _, ok := seen[target.RecipientID]; ok {
			continue
		}
		seen[target.RecipientID] = struct{}{}
		out = append(out, target)
	}
	return out, nil
}

func (m *RevisionRequestManager) checkOnLine(ctx context.Context, periodID, employeeID string, step Step, targets []RecipientSpec) error {
	round, downward := step.Round()
	if !downward {
		return nil
	}
	evaluators, err := m.rows.roundEvaluators(ctx, periodID, employeeID, round)
	if err != nil || len(evaluators) == 0 {
		return err
	}
	for _, target := range targets {
		if !contains(evaluators, target.RecipientID) {
			return fmt.Errorf("evaluator %s holds no %s round for employee %s: %w", target.RecipientID, round, employeeID, ErrNotFound)
		}
	}
	return nil
}

func (m *RevisionRequestManager) markRequested(ctx context.Context, periodID, employeeID string, step Step, targets []RecipientSpec, requestedBy string) (bool, error) {
	round, downward := step.Round()
	if !downward {
		row, err := m.rows.stepRow(ctx, periodID, employeeID)
		if err != nil {
			return false, err
		}
		if _, err := m.rows.setStepStatus(ctx, periodID, employeeID, step, StatusRevisionRequested, requestedBy, always); err != nil {
			return false, err
		}
		return row.Status(step) != StatusRevisionRequested, nil
	}
	moved := false
	for _, target := range targets {
		row, err := m.rows.evaluatorRow(ctx, periodID, employeeID, target.RecipientID, step)
		if err != nil {
			return false, err
		}
		if row.Status != StatusRevisionRequested {
			moved = true
		}
		if _, err := m.rows.setEvaluatorStatus(ctx, periodID, employeeID, target.RecipientID, step, StatusRevisionRequested, requestedBy, always); err != nil {
			return false, err
		}
	}
	_, err := m.rows.syncComposite(ctx, periodID, employeeID, round, requestedBy)
	return moved, err
}

func (m *RevisionRequestManager) openDuplicate(ctx context.Context, periodID, employeeID string, step Step, comment string, targets []RecipientSpec) (RevisionRequest, bool, error) {
	open, err := m.revisions.ListOpenRecipients(ctx, periodID, employeeID, step, "")
	if err != nil {
		return RevisionRequest{}, false, err
	}
	if len(open) == 0 {
		return RevisionRequest{}, false, nil
	}
	covered := make(map[string]map[string]struct{})
	for _, rec := range open {
		if covered[rec.RequestID] == nil {
			covered[rec.RequestID] = make(map[string]struct{})
		}
		covered[rec.RequestID][rec.RecipientID] = struct{}{}
	}

	for requestID, recipients := range covered {
		if !coversAll(recipients, targets) {
			continue
		}
		req, err := m.revisions.GetRevisionRequest(ctx, requestID)
		if err != nil {
			return RevisionRequest{}, false, err
		}
		if req.Comment == comment {
			return req, true, nil
		}
	}
	return RevisionRequest{}, false, nil
}

func coversAll(recipients map[string]struct{}, targets []RecipientSpec) bool {
	for _, target := range targets {
		if _, ok := recipients[target.RecipientID]; !ok {
			return false
		}
	}
	return true
}

func (m *RevisionRequestManager) resetSubmission(ctx context.Context, periodID, employeeID string, step Step, recipientID string) error {
	switch step {
	case StepPrimary, StepSecondary:
		round, _ := step.Round()
		records, err := m.writer.records.ListEvaluations(ctx, periodID, []string{employeeID})
		if err != nil {
			return err
		}
		for _, rec := range records {
			if rec.EvaluatorID != recipientID || rec.Round != round || !rec.Completed {
				continue
			}
			if _, err := m.writer.updateEvaluation(ctx, rec.ID, func(r *EvaluationRecord) (bool, error) {
				if !r.Completed {
					return false, nil
				}
				r.Completed = false
				r.CompletedAt = nil
				r.UpdatedAt = m.now()
				return true, nil
			}); err != nil {
				return err
			}
		}
	case StepSelfEvaluation:
		selfEvals, err := m.writer.records.ListSelfEvaluations(ctx, periodID, []string{employeeID})
		if err != nil {
			return err
		}
		for _, rec := range selfEvals {
			if !rec.SubmittedToEvaluator {
				continue
			}
			if _, err := m.writer.updateSelfEvaluation(ctx, rec.ID, func(r *SelfEvaluation) bool {
				if !r.SubmittedToEvaluator {
					return false
				}
				r.SubmittedToEvaluator = false
				r.SubmittedToEvaluatorAt = nil
				r.UpdatedAt = m.now()
				return true
			}); err != nil {
				return err
			}
		}
	}
	return nil
}

// CompleteForRecipient is a no-op for an already completed entry.
func (m *RevisionRequestManager) CompleteForRecipient(ctx context.Context, requestID, recipientID, responseComment string) (req RevisionRequest, err error) {
	ctx, span := tracing.StartSpan(ctx, "evaluation.CompleteForRecipient",
		attribute.String("request.id", requestID),
		attribute.String("recipient.id", recipientID),
	)
	defer func() { tracing.End(span, err) }()

	if err := requireIDs("request id", requestID, "recipient id", recipientID); err != nil {
		return RevisionRequest{}, err
	}
	req, err = m.revisions.GetRevisionRequest(ctx, requestID)
	if err != nil {
		return RevisionRequest{}, err
	}
	var entry *RevisionRecipient
	for i := range req.Recipients {
		if req.Recipients[i].RecipientID == recipientID {
			entry = &req.Recipients[i]
			break
		}
	}
	if entry == nil {
		return RevisionRequest{}, notFound("revision recipient", recipientID)
	}
	if _, err := m.complete(ctx, req, entry.ID, responseComment); err != nil {
		return RevisionRequest{}, err
	}
	return m.revisions.GetRevisionRequest(ctx, requestID)
}

func (m *RevisionRequestManager) AutoCompleteOnResubmission(ctx context.Context, periodID, employeeID string, step Step, recipientID, responseComment string) (int, error) {
	if !step.Valid() {
		return 0, validationError("unknown step %q", step)
	}
	if err := requireIDs("period id", periodID, "employee id", employeeID, "recipient id", recipientID); err != nil {
		return 0, err
	}
	if strings.TrimSpace(responseComment) == "" {
		responseComment = m.resubmitComment
	}
	open, err := m.revisions.ListOpenRecipients(ctx, periodID, employeeID, step, recipientID)
	if err != nil {
		return 0, err
	}
	completed := 0
	for _, entry := range open {
		req, err := m.revisions.GetRevisionRequest(ctx, entry.RequestID)
		if err != nil {
			return completed, err
		}
		done, err := m.complete(ctx, req, entry.ID, responseComment)
		if err != nil {
			return completed, err
		}
		if done {
			completed++
		}
	}
	return completed, nil
}

func (m *RevisionRequestManager) MarkRead(ctx context.Context, recipientRowID string) (RevisionRecipient, error) {
	if err := requireIDs("recipient id", recipientRowID); err != nil {
		return RevisionRecipient{}, err
	}
	var out RevisionRecipient
	err := retryOnConflict(ctx, m.counters, func() error {
		rec, err := m.revisions.GetRecipient(ctx, recipientRowID)
		if err != nil {
			return err
		}
		out = rec
		if rec.IsRead {
			return nil
		}
		now := m.now()
		rec.IsRead = true
		rec.ReadAt = &now
		out, err = m.revisions.UpdateRecipient(ctx, rec)
		return err
	})
	return out, err
}

func (m *RevisionRequestManager) GetRecipient(ctx context.Context, recipientRowID string) (RevisionRecipient, error) {
	if err := requireIDs("recipient id", recipientRowID); err != nil {
		return RevisionRecipient{}, err
	}
	return m.revisions.GetRecipient(ctx, recipientRowID)
}

func (m *RevisionRequestManager) ListRevisionRequests(ctx context.Context, periodID, employeeID string) ([]RevisionRequest, error) {
	if err := requireIDs("period id", periodID, "employee id", employeeID); err != nil {
		return nil, err
	}
	return m.revisions.ListRevisionRequests(ctx, periodID, employeeID)
}

func (m *RevisionRequestManager) complete(ctx context.Context, req RevisionRequest, recipientRowID, responseComment string) (bool, error) {
	var entry RevisionRecipient
	completedNow := false
	err := retryOnConflict(ctx, m.counters, func() error {
		rec, err := m.revisions.GetRecipient(ctx, recipientRowID)
		if err != nil {
			return err
		}
		entry = rec
		completedNow = false
		if rec.IsCompleted {
			return nil
		}
		now := m.now()
		rec.IsCompleted = true
		rec.CompletedAt = &now
		rec.ResponseComment = strings.TrimSpace(responseComment)
		if !rec.IsRead {
			rec.IsRead = true
			rec.ReadAt = &now
		}
		entry, err = m.revisions.UpdateRecipient(ctx, rec)
		if err == nil {
			completedNow = true
		}
		return err
	})
	if err != nil || !completedNow {
		return false, err
	}

	stillOpen, err := m.revisions.ListOpenRecipients(ctx, req.PeriodID, req.EmployeeID, req.Step, entry.RecipientID)
	if err != nil {
		return true, err
	}
	if len(stillOpen) == 0 {
		if round, downward := req.Step.Round(); downward {
			if _, err := m.rows.setEvaluatorStatus(ctx, req.PeriodID, req.EmployeeID, entry.RecipientID, req.Step, StatusRevisionCompleted, entry.RecipientID, onlyFrom(StatusRevisionRequested)); err != nil {
				return true, err
			}
			if _, err := m.rows.syncComposite(ctx, req.PeriodID, req.EmployeeID, round, entry.RecipientID); err != nil {
				return true, err
			}
		} else if _, err := m.rows.setStepStatus(ctx, req.PeriodID, req.EmployeeID, req.Step, StatusRevisionCompleted, entry.RecipientID, onlyFrom(StatusRevisionRequested)); err != nil {
			return true, err
		}
	}

	notify(ctx, m.logger, m.notifier, req.RequestedBy, NotificationRevisionCompleted,
		"Revision completed",
		fmt.Sprintf("The requested revision of the %s step was completed.", stepLabel(req.Step)))
	recordActivity(ctx, m.logger, m.activity, Activity{
		PeriodID:   req.PeriodID,
		EmployeeID: req.EmployeeID,
		ActorID:    entry.RecipientID,
		Type:       ActivityRevisionCompleted,
		Details:    map[string]any{"step": req.Step, "requestId": req.ID},
	})
	return true, nil
}

func stepLabel(step Step) string {
	switch step {
	case StepCriteriaSetting:
		return "criteria setting"
	case StepSelfEvaluation:
		return "self-evaluation"
	case StepPrimary:
		return "primary evaluation"
	case StepSecondary:
		return "secondary evaluation"
	}
	return string(step)
}
