package evaluation

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestSaveDownwardScore(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.blank("e1", "m1", "w1", RoundPrimary)
	submissions := f.engine.Submissions

	in := SaveScoreInput{PeriodID: "p1", EmployeeID: "e1", EvaluatorID: "m1", WorkItemID: "w1", Round: RoundPrimary, Score: 95, Comment: " solid "}
	rec, err := submissions.SaveDownwardScore(ctx, in)
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if rec.Score == nil || *rec.Score != 95 || rec.Comment != "solid" || rec.Version != 2 {
		t.Fatalf("unexpected record: %+v", rec)
	}

	for _, score := range []float64{-0.5, 120.01} {
		bad := in
		bad.Score = score
		if _, err := submissions.SaveDownwardScore(ctx, bad); !isValidation(err) {
			t.Fatalf("score %v: expected validation error, got %v", score, err)
		}
	}
	for _, score := range []float64{0, 120} {
		edge := in
		edge.Score = score
		if _, err := submissions.SaveDownwardScore(ctx, edge); err != nil {
			t.Fatalf("score %v must be accepted: %v", score, err)
		}
	}

	missing := in
	missing.WorkItemID = "w9"
	if _, err := submissions.SaveDownwardScore(ctx, missing); !isNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}

	if _, err := submissions.SubmitDownwardEvaluation(ctx, "p1", "e1", "m1", RoundPrimary); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := submissions.SaveDownwardScore(ctx, in); !errors.Is(err, ErrAlreadySubmitted) {
		t.Fatalf("expected ErrAlreadySubmitted, got %v", err)
	}
}

func TestSubmitDownwardEvaluationIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.score("e1", "m1", "w1", RoundPrimary, 90)
	f.score("e1", "m1", "w2", RoundPrimary, 70)
	f.score("e1", "m1", "w1", RoundSecondary, 50)
	submissions := f.engine.Submissions

	first, err := submissions.SubmitDownwardEvaluation(ctx, "p1", "e1", "m1", RoundPrimary)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if len(first) != 2 {
		t.Fatalf("expected 2 primary records, got %d", len(first))
	}
	for _, rec := range first {
		if !rec.Completed || rec.CompletedAt == nil {
			t.Fatalf("expected completed record, got %+v", rec)
		}
	}

	f.clock.Advance(time.Hour)
	second, err := submissions.SubmitDownwardEvaluation(ctx, "p1", "e1", "m1", RoundPrimary)
	if err != nil {
		t.Fatalf("resubmit: %v", err)
	}
	for i := range second {
		if !second[i].CompletedAt.Equal(*first[i].CompletedAt) || second[i].Version != first[i].Version {
			t.Fatalf("resubmission changed record %s", second[i].ID)
		}
	}

	secondary, _ := f.store.GetEvaluation(ctx, "ev-e1-m1-w1-secondary")
	if secondary.Completed {
		t.Fatalf("secondary record must not be submitted with the primary round")
	}

	submitted := 0
	for _, a := range f.store.Activities() {
		if a.Type == ActivityDownwardSubmitted {
			submitted++
		}
	}
	if submitted != 1 {
		t.Fatalf("expected one submission activity, got %d", submitted)
	}

	if _, err := submissions.SubmitDownwardEvaluation(ctx, "p1", "e1", "nobody", RoundPrimary); !isNotFound(err) {
		t.Fatalf("expected not found without records, got %v", err)
	}
}

func TestResubmissionAfterRevisionGetsNewTimestamp(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.line("e1", "m1", RoundPrimary)
	f.score("e1", "m1", "w1", RoundPrimary, 90)

	first, err := f.engine.Submissions.SubmitDownwardEvaluation(ctx, "p1", "e1", "m1", RoundPrimary)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := f.engine.Approvals.RequestRevision(ctx, RevisionInput{
		Step: StepPrimary, PeriodID: "p1", EmployeeID: "e1", Comment: "lower w1", RequestedBy: "hr", EvaluatorID: "m1",
	}); err != nil {
		t.Fatalf("request revision: %v", err)
	}
	f.clock.Advance(time.Hour)

	if _, err := f.engine.Submissions.SaveDownwardScore(ctx, SaveScoreInput{
		PeriodID: "p1", EmployeeID: "e1", EvaluatorID: "m1", WorkItemID: "w1", Round: RoundPrimary, Score: 80,
	}); err != nil {
		t.Fatalf("rescore: %v", err)
	}
	second, err := f.engine.Submissions.SubmitDownwardEvaluation(ctx, "p1", "e1", "m1", RoundPrimary)
	if err != nil {
		t.Fatalf("resubmit: %v", err)
	}
	if !second[0].CompletedAt.After(*first[0].CompletedAt) {
		t.Fatalf("expected a fresh completion time")
	}

	if got := evaluatorStatus(t, f, "e1", "m1", StepPrimary); got != StatusRevisionCompleted {
		t.Fatalf("expected the revision auto-completed, got %s", got)
	}
	open, _ := f.store.ListOpenRecipients(ctx, "p1", "e1", StepPrimary, "m1")
	if len(open) != 0 {
		t.Fatalf("expected no open requests, got %d", len(open))
	}
}

func TestSubmitSelfEvaluation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.store.PutSelfEvaluation(SelfEvaluation{ID: "se1", PeriodID: "p1", EmployeeID: "e1", WorkItemID: "w1", PerformanceResult: "done"})
	f.store.PutSelfEvaluation(SelfEvaluation{ID: "se2", PeriodID: "p1", EmployeeID: "e1", WorkItemID: "w2"})

	req, err := f.engine.Approvals.RequestRevision(ctx, RevisionInput{
		Step: StepSelfEvaluation, PeriodID: "p1", EmployeeID: "e1", Comment: "fill w2", RequestedBy: "m1",
	})
	if err != nil {
		t.Fatalf("request revision: %v", err)
	}

	first, err := f.engine.Submissions.SubmitSelfEvaluation(ctx, "p1", "e1")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if len(first) != 2 || !first[0].SubmittedToEvaluator || first[0].SubmittedToEvaluatorAt == nil {
		t.Fatalf("unexpected submission: %+v", first)
	}
	if got := mustStatus(t, f, "e1", StepSelfEvaluation); got != StatusRevisionCompleted {
		t.Fatalf("expected self step revision_completed, got %s", got)
	}
	updated, _ := f.store.GetRevisionRequest(ctx, req.ID)
	if !updated.Recipients[0].IsCompleted || updated.Recipients[0].ResponseComment != DefaultResubmitComment {
		t.Fatalf("expected auto-completed recipient, got %+v", updated.Recipients[0])
	}

	f.clock.Advance(time.Minute)
	second, err := f.engine.Submissions.SubmitSelfEvaluation(ctx, "p1", "e1")
	if err != nil {
		t.Fatalf("resubmit: %v", err)
	}
	if !second[0].SubmittedToEvaluatorAt.Equal(*first[0].SubmittedToEvaluatorAt) {
		t.Fatalf("resubmission moved the submission time")
	}

	if _, err := f.engine.Submissions.SubmitSelfEvaluation(ctx, "p1", "e9"); !isNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestRecordView(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if err := f.engine.Submissions.RecordView(ctx, "p1", "e1", "m1"); err != nil {
		t.Fatalf("record view: %v", err)
	}
	views, err := f.store.LatestActivity(ctx, "p1", "m1", ActivityEvaluationViewed, []string{"e1"})
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if !views["e1"].Equal(f.clock.Now()) {
		t.Fatalf("expected view at %v, got %v", f.clock.Now(), views["e1"])
	}
	if err := f.engine.Submissions.RecordView(ctx, "p1", "", "m1"); !isValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}
