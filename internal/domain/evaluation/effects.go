package evaluation

import (
	"context"
	"log/slog"

	"perfreview/internal/platform/effect"
)

func recordActivity(ctx context.Context, logger *slog.Logger, recorder ActivityRecorder, activity Activity) {
	if recorder == nil {
		return
	}
	effect.BestEffort(ctx, logger, "activity log", func(ctx context.Context) error {
		return recorder.RecordActivity(ctx, activity)
	}, "type", activity.Type, "employeeId", activity.EmployeeID)
}

func notify(ctx context.Context, logger *slog.Logger, notifier NotificationSender, recipientID, ntype, title, body string) {
	if notifier == nil || recipientID == "" {
		return
	}
	effect.BestEffort(ctx, logger, "notification", func(ctx context.Context) error {
		return notifier.Notify(ctx, recipientID, ntype, title, body)
	}, "type", ntype, "recipientId", recipientID)
}

type recordWriter struct {
	records  EvaluationRecordStore
	counters Counters
}

func (w recordWriter) updateEvaluation(ctx context.Context, id string, mutate func(rec *EvaluationRecord) (bool, error)) (EvaluationRecord, error) {
	var out EvaluationRecord
	err := retryOnConflict(ctx, w.counters, func() error {
		rec, err := w.records.GetEvaluation(ctx, id)
		if err != nil {
			return err
		}
		out = rec
		changed, err := mutate(&rec)
		if err != nil || !changed {
			return err
		}
		out, err = w.records.UpdateEvaluation(ctx, rec)
		return err
	})
	return out, err
}

func (w recordWriter) updateSelfEvaluation(ctx context.Context, id string, mutate func(rec *SelfEvaluation) bool) (SelfEvaluation, error) {
	var out SelfEvaluation
	err := retryOnConflict(ctx, w.counters, func() error {
		rec, err := w.records.GetSelfEvaluation(ctx, id)
		if err != nil {
			return err
		}
		out = rec
		if !mutate(&rec) {
			return nil
		}
		out, err = w.records.UpdateSelfEvaluation(ctx, rec)
		return err
	})
	return out, err
}
