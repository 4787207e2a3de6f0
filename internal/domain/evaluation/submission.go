package evaluation

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"perfreview/internal/platform/effect"
	"perfreview/internal/platform/tracing"
)

type SubmissionWorkflow struct {
	records   EvaluationRecordStore
	writer    recordWriter
	periods   periodReader
	revisions *RevisionRequestManager
	activity  ActivityRecorder
	notifier  NotificationSender
	logger    *slog.Logger
	now       func() time.Time
}

func (w *SubmissionWorkflow) SaveDownwardScore(ctx context.Context, in SaveScoreInput) (EvaluationRecord, error) {
	if !in.Round.Valid() {
		return EvaluationRecord{}, validationError("unknown round %q", in.Round)
	}
	if err := requireIDs("employee id", in.EmployeeID, "evaluator id", in.EvaluatorID, "work item id", in.WorkItemID); err != nil {
		return EvaluationRecord{}, err
	}
	period, err := w.periods.get(ctx, in.PeriodID)
	if err != nil {
		return EvaluationRecord{}, err
	}
	if in.Score < 0 || in.Score > period.MaxRate {
		return EvaluationRecord{}, validationError("score %.2f outside 0..%.2f", in.Score, period.MaxRate)
	}

	rec, err := w.records.FindEvaluation(ctx, in.PeriodID, in.EmployeeID, in.EvaluatorID, in.WorkItemID, in.Round)
	if err != nil {
		return EvaluationRecord{}, err
	}
	score := in.Score
	return w.writer.updateEvaluation(ctx, rec.ID, func(r *EvaluationRecord) (bool, error) {
		if r.Completed {
			return false, ErrAlreadySubmitted
		}
		r.Score = &score
		r.Comment = strings.TrimSpace(in.Comment)
		r.UpdatedAt = w.now()
		return true, nil
	})
}

// SubmitDownwardEvaluation keeps the completion time of already complete records.
func (w *SubmissionWorkflow) SubmitDownwardEvaluation(ctx context.Context, periodID, employeeID, evaluatorID string, round RoundType) (out []EvaluationRecord, err error) {
	ctx, span := tracing.StartSpan(ctx, "evaluation.SubmitDownwardEvaluation",
		attribute.String("employee.id", employeeID),
		attribute.String("evaluator.id", evaluatorID),
		attribute.String("round", string(round)),
	)
	defer func() { tracing.End(span, err) }()

	if !round.Valid() {
		return nil, validationError("unknown round %q", round)
	}
	if err := requireIDs("period id", periodID, "employee id", employeeID, "evaluator id", evaluatorID); err != nil {
		return nil, err
	}
	records, err := w.records.ListEvaluations(ctx, periodID, []string{employeeID})
	if err != nil {
		return nil, err
	}

	submittedAt := w.now()
	newlyCompleted := 0
	for _, rec := range records {
		if rec.EvaluatorID != evaluatorID || rec.Round != round {
			continue
		}
		changed := false
		updated, err := w.writer.updateEvaluation(ctx, rec.ID, func(r *EvaluationRecord) (bool, error) {
			changed = !r.Completed
			if !changed {
				return false, nil
			}
			r.Completed = true
			r.CompletedAt = &submittedAt
			r.UpdatedAt = submittedAt
			return true, nil
		})
		if err != nil {
			return nil, err
		}
		if changed {
			newlyCompleted++
		}
		out = append(out, updated)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%s evaluation of employee %s by %s: %w", round, employeeID, evaluatorID, ErrNotFound)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].WorkItemID < out[j].WorkItemID })

	w.autoComplete(ctx, periodID, employeeID, round.Step(), evaluatorID)
	if newlyCompleted > 0 {
		recordActivity(ctx, w.logger, w.activity, Activity{
			PeriodID:   periodID,
			EmployeeID: employeeID,
			ActorID:    evaluatorID,
			Type:       ActivityDownwardSubmitted,
			Details:    map[string]any{"round": round, "items": newlyCompleted},
		})
		notify(ctx, w.logger, w.notifier, employeeID, NotificationEvaluationDone,
			"Evaluation submitted",
			fmt.Sprintf("Your %s evaluation was submitted.", stepLabel(round.Step())))
	}
	return out, nil
}

func (w *SubmissionWorkflow) SubmitSelfEvaluation(ctx context.Context, periodID, employeeID string) ([]SelfEvaluation, error) {
	if err := requireIDs("period id", periodID, "employee id", employeeID); err != nil {
		return nil, err
	}
	selfEvals, err := w.records.ListSelfEvaluations(ctx, periodID, []string{employeeID})
	if err != nil {
		return nil, err
	}
	if len(selfEvals) == 0 {
		return nil, fmt.Errorf("self evaluation of employee %s: %w", employeeID, ErrNotFound)
	}

	submittedAt := w.now()
	newlySubmitted := 0
	out := make([]SelfEvaluation, 0, len(selfEvals))
	for _, rec := range selfEvals {
		changed := false
		updated, err := w.writer.updateSelfEvaluation(ctx, rec.ID, func(r *SelfEvaluation) bool {
			changed = !r.SubmittedToEvaluator
			if !changed {
				return false
			}
			r.SubmittedToEvaluator = true
			r.SubmittedToEvaluatorAt = &submittedAt
			r.UpdatedAt = submittedAt
			return true
		})
		if err != nil {
			return nil, err
		}
		if changed {
			newlySubmitted++
		}
		out = append(out, updated)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].WorkItemID < out[j].WorkItemID })

	w.autoComplete(ctx, periodID, employeeID, StepSelfEvaluation, employeeID)
	if newlySubmitted > 0 {
		recordActivity(ctx, w.logger, w.activity, Activity{
			PeriodID:   periodID,
			EmployeeID: employeeID,
			ActorID:    employeeID,
			Type:       ActivitySelfSubmitted,
			Details:    map[string]any{"items": newlySubmitted},
		})
	}
	return out, nil
}

func (w *SubmissionWorkflow) RecordView(ctx context.Context, periodID, employeeID, evaluatorID string) error {
	if err := requireIDs("period id", periodID, "employee id", employeeID, "evaluator id", evaluatorID); err != nil {
		return err
	}
	if w.activity == nil {
		return fmt.Errorf("activity recorder not configured")
	}
	return w.activity.RecordActivity(ctx, Activity{
		PeriodID:   periodID,
		EmployeeID: employeeID,
		ActorID:    evaluatorID,
		Type:       ActivityEvaluationViewed,
		CreatedAt:  w.now(),
	})
}

func (w *SubmissionWorkflow) autoComplete(ctx context.Context, periodID, employeeID string, step Step, recipientID string) {
	effect.BestEffort(ctx, w.logger, "revision auto-complete", func(ctx context.Context) error {
		_, err := w.revisions.AutoCompleteOnResubmission(ctx, periodID, employeeID, step, recipientID, "")
		return err
	}, "step", step, "employeeId", employeeID, "recipientId", recipientID)
}
