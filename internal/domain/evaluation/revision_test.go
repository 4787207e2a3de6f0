package evaluation

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"
)

func evaluatorTarget(id string) []RecipientSpec {
	return []RecipientSpec{{RecipientID: id, RecipientType: RecipientEvaluator}}
}

func TestCreateRevisionRequestIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.line("e1", "m1", RoundPrimary)
	revisions := f.engine.Revisions

	first, err := revisions.CreateRevisionRequest(ctx, "p1", "e1", StepPrimary, "rescore w1", "hr", evaluatorTarget("m1"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	second, err := revisions.CreateRevisionRequest(ctx, "p1", "e1", StepPrimary, "  rescore w1 ", "hr", evaluatorTarget("m1"))
	if err != nil {
		t.Fatalf("create again: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("expected the open request %s, got %s", first.ID, second.ID)
	}

	other, err := revisions.CreateRevisionRequest(ctx, "p1", "e1", StepPrimary, "different", "hr", evaluatorTarget("m1"))
	if err != nil {
		t.Fatalf("create different: %v", err)
	}
	if other.ID == first.ID {
		t.Fatalf("a different comment must open a new request")
	}

	list, err := revisions.ListRevisionRequests(ctx, "p1", "e1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 requests, got %d", len(list))
	}
}

func TestCreateRevisionRequestRejectsEvaluatorOffLine(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.line("e1", "m1", RoundPrimary)
	if _, err := f.engine.Approvals.Approve(ctx, ApproveInput{Step: StepPrimary, PeriodID: "p1", EmployeeID: "e1", ApproverID: "hr"}); err != nil {
		t.Fatalf("approve: %v", err)
	}

	_, err := f.engine.Revisions.CreateRevisionRequest(ctx, "p1", "e1", StepPrimary, "redo", "hr", evaluatorTarget("m2"))
	if !isNotFound(err) {
		t.Fatalf("expected not found for an evaluator outside the line, got %v", err)
	}
	if got := evaluatorStatus(t, f, "e1", "m2", StepPrimary); got != StatusPending {
		t.Fatalf("off-line evaluator row must stay untouched, got %s", got)
	}
	if got := mustStatus(t, f, "e1", StepPrimary); got != StatusApproved {
		t.Fatalf("expected primary to stay approved, got %s", got)
	}
	list, err := f.engine.Revisions.ListRevisionRequests(ctx, "p1", "e1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 0 {
		t.Fatalf("expected no request, got %d", len(list))
	}

	if _, err := f.engine.Revisions.CreateRevisionRequest(ctx, "p1", "e1", StepPrimary, "redo", "hr", evaluatorTarget("m1")); err != nil {
		t.Fatalf("line evaluator: %v", err)
	}
	if got := mustStatus(t, f, "e1", StepPrimary); got != StatusRevisionRequested {
		t.Fatalf("expected primary revision_requested, got %s", got)
	}
}

type flakyApprovals struct {
	*MemoryStore
	failures int
}

func (s *flakyApprovals) SaveEvaluatorApproval(ctx context.Context, row EvaluatorStepApproval) (EvaluatorStepApproval, error) {
	if s.failures > 0 {
		s.failures--
		return EvaluatorStepApproval{}, errors.New("db down")
	}
	return s.MemoryStore.SaveEvaluatorApproval(ctx, row)
}

func TestCreateRevisionRequestRetryAfterRowFailure(t *testing.T) {
	store := NewMemoryStore()
	store.PutPeriod(EvaluationPeriod{ID: "p1", MaxRate: 120})
	store.AddLine(EvaluationLine{PeriodID: "p1", EmployeeID: "e1", EvaluatorID: "m1", Round: RoundPrimary})
	deps := store.Deps()
	deps.Approvals = &flakyApprovals{MemoryStore: store, failures: 1}
	engine := NewEngine(deps, Options{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})
	ctx := context.Background()

	if _, err := engine.Revisions.CreateRevisionRequest(ctx, "p1", "e1", StepPrimary, "redo", "hr", evaluatorTarget("m1")); err == nil {
		t.Fatalf("expected the row failure to surface")
	}
	retried, err := engine.Revisions.CreateRevisionRequest(ctx, "p1", "e1", StepPrimary, "redo", "hr", evaluatorTarget("m1"))
	if err != nil {
		t.Fatalf("retry: %v", err)
	}

	list, err := engine.Revisions.ListRevisionRequests(ctx, "p1", "e1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 || list[0].ID != retried.ID {
		t.Fatalf("expected the retry to reuse the open request, got %+v", list)
	}
	row, ok, err := store.GetEvaluatorApproval(ctx, "p1", "e1", "m1", StepPrimary)
	if err != nil || !ok || row.Status != StatusRevisionRequested {
		t.Fatalf("expected m1 revision_requested, got %+v ok=%v err=%v", row, ok, err)
	}
	if notes := store.Notifications(); len(notes) != 1 || notes[0].RecipientID != "m1" {
		t.Fatalf("expected one notification to m1, got %+v", notes)
	}

	if _, err := engine.Revisions.CreateRevisionRequest(ctx, "p1", "e1", StepPrimary, "redo", "hr", evaluatorTarget("m1")); err != nil {
		t.Fatalf("repeat: %v", err)
	}
	if notes := store.Notifications(); len(notes) != 1 {
		t.Fatalf("a repeat of a settled request must not notify again, got %d", len(notes))
	}
}

func TestCreateRevisionRequestValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	revisions := f.engine.Revisions

	tests := []struct {
		name    string
		step    Step
		comment string
		targets []RecipientSpec
	}{
		{name: "blank comment", step: StepPrimary, comment: " ", targets: evaluatorTarget("m1")},
		{name: "no targets", step: StepPrimary, comment: "x"},
		{name: "employee on downward step", step: StepPrimary, comment: "x", targets: []RecipientSpec{{RecipientID: "e1", RecipientType: RecipientEmployee}}},
		{name: "evaluator on self step", step: StepSelfEvaluation, comment: "x", targets: evaluatorTarget("m1")},
		{name: "other employee on criteria step", step: StepCriteriaSetting, comment: "x", targets: []RecipientSpec{{RecipientID: "e2", RecipientType: RecipientEmployee}}},
		{name: "unknown step", step: Step("bogus"), comment: "x", targets: evaluatorTarget("m1")},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := revisions.CreateRevisionRequest(ctx, "p1", "e1", tc.step, tc.comment, "hr", tc.targets)
			if !isValidation(err) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
}

func TestCreateRevisionRequestResetsSubmissions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.line("e1", "m1", RoundPrimary)
	f.line("e1", "m2", RoundPrimary)
	f.score("e1", "m1", "w1", RoundPrimary, 80)
	f.score("e1", "m2", "w1", RoundPrimary, 90)
	for _, evaluator := range []string{"m1", "m2"} {
		if _, err := f.engine.Submissions.SubmitDownwardEvaluation(ctx, "p1", "e1", evaluator, RoundPrimary); err != nil {
			t.Fatalf("submit %s: %v", evaluator, err)
		}
	}

	if _, err := f.engine.Revisions.CreateRevisionRequest(ctx, "p1", "e1", StepPrimary, "redo", "hr", evaluatorTarget("m1")); err != nil {
		t.Fatalf("create: %v", err)
	}

	m1, _ := f.store.GetEvaluation(ctx, "ev-e1-m1-w1-primary")
	if m1.Completed || m1.CompletedAt != nil {
		t.Fatalf("expected m1 record reopened, got %+v", m1)
	}
	m2, _ := f.store.GetEvaluation(ctx, "ev-e1-m2-w1-primary")
	if !m2.Completed {
		t.Fatalf("m2 record must stay submitted")
	}
	if got := evaluatorStatus(t, f, "e1", "m2", StepPrimary); got != StatusPending {
		t.Fatalf("m2 sub-status must not change, got %s", got)
	}
}

func TestCreateRevisionRequestResetsSelfEvaluation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.store.PutSelfEvaluation(SelfEvaluation{ID: "se1", PeriodID: "p1", EmployeeID: "e1", WorkItemID: "w1", PerformanceResult: "shipped"})
	if _, err := f.engine.Submissions.SubmitSelfEvaluation(ctx, "p1", "e1"); err != nil {
		t.Fatalf("submit: %v", err)
	}

	if _, err := f.engine.Revisions.CreateRevisionRequest(ctx, "p1", "e1", StepSelfEvaluation, "expand", "m1",
		[]RecipientSpec{{RecipientID: "e1", RecipientType: RecipientEmployee}}); err != nil {
		t.Fatalf("create: %v", err)
	}
	rec, _ := f.store.GetSelfEvaluation(ctx, "se1")
	if rec.SubmittedToEvaluator || rec.SubmittedToEvaluatorAt != nil {
		t.Fatalf("expected self evaluation reopened, got %+v", rec)
	}
}

func TestCreateRevisionRequestWithoutRecordsStillSucceeds(t *testing.T) {
	f := newFixture(t)
	req, err := f.engine.Revisions.CreateRevisionRequest(context.Background(), "p1", "e1", StepSecondary, "check", "hr", evaluatorTarget("s1"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if len(req.Recipients) != 1 {
		t.Fatalf("expected one recipient, got %d", len(req.Recipients))
	}
	if got := evaluatorStatus(t, f, "e1", "s1", StepSecondary); got != StatusRevisionRequested {
		t.Fatalf("expected revision_requested, got %s", got)
	}
}

func TestCompleteForRecipient(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.line("e1", "m1", RoundPrimary)
	revisions := f.engine.Revisions

	req, err := revisions.CreateRevisionRequest(ctx, "p1", "e1", StepPrimary, "redo", "hr", evaluatorTarget("m1"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	f.clock.Advance(time.Minute)

	done, err := revisions.CompleteForRecipient(ctx, req.ID, "m1", " updated ")
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	entry := done.Recipients[0]
	if !entry.IsCompleted || entry.CompletedAt == nil || entry.ResponseComment != "updated" || !entry.IsRead {
		t.Fatalf("unexpected recipient: %+v", entry)
	}
	if got := evaluatorStatus(t, f, "e1", "m1", StepPrimary); got != StatusRevisionCompleted {
		t.Fatalf("expected revision_completed, got %s", got)
	}
	if got := mustStatus(t, f, "e1", StepPrimary); got != StatusRevisionCompleted {
		t.Fatalf("expected composite revision_completed, got %s", got)
	}

	f.clock.Advance(time.Minute)
	again, err := revisions.CompleteForRecipient(ctx, req.ID, "m1", "other")
	if err != nil {
		t.Fatalf("complete again: %v", err)
	}
	if !again.Recipients[0].CompletedAt.Equal(*entry.CompletedAt) || again.Recipients[0].ResponseComment != "updated" {
		t.Fatalf("second completion must not change the recipient: %+v", again.Recipients[0])
	}

	if _, err := revisions.CompleteForRecipient(ctx, req.ID, "stranger", ""); !isNotFound(err) {
		t.Fatalf("expected not found for foreign recipient, got %v", err)
	}
	if _, err := revisions.CompleteForRecipient(ctx, "missing", "m1", ""); !isNotFound(err) {
		t.Fatalf("expected not found for unknown request, got %v", err)
	}
}

func TestCompletionWaitsForEveryOpenRequest(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.line("e1", "m1", RoundPrimary)
	revisions := f.engine.Revisions

	first, err := revisions.CreateRevisionRequest(ctx, "p1", "e1", StepPrimary, "first", "hr", evaluatorTarget("m1"))
	if err != nil {
		t.Fatalf("create first: %v", err)
	}
	second, err := revisions.CreateRevisionRequest(ctx, "p1", "e1", StepPrimary, "second", "hr", evaluatorTarget("m1"))
	if err != nil {
		t.Fatalf("create second: %v", err)
	}

	if _, err := revisions.CompleteForRecipient(ctx, first.ID, "m1", "ok"); err != nil {
		t.Fatalf("complete first: %v", err)
	}
	if got := evaluatorStatus(t, f, "e1", "m1", StepPrimary); got != StatusRevisionRequested {
		t.Fatalf("expected revision_requested while the second request is open, got %s", got)
	}
	if _, err := revisions.CompleteForRecipient(ctx, second.ID, "m1", "ok"); err != nil {
		t.Fatalf("complete second: %v", err)
	}
	if got := evaluatorStatus(t, f, "e1", "m1", StepPrimary); got != StatusRevisionCompleted {
		t.Fatalf("expected revision_completed, got %s", got)
	}
}

func TestAutoCompleteOnResubmission(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.line("e1", "m1", RoundPrimary)
	f.line("e1", "m2", RoundPrimary)
	revisions := f.engine.Revisions

	for _, comment := range []string{"one", "two"} {
		if _, err := revisions.CreateRevisionRequest(ctx, "p1", "e1", StepPrimary, comment, "hr", evaluatorTarget("m1")); err != nil {
			t.Fatalf("create %s: %v", comment, err)
		}
	}
	if _, err := revisions.CreateRevisionRequest(ctx, "p1", "e1", StepPrimary, "three", "hr", evaluatorTarget("m2")); err != nil {
		t.Fatalf("create for m2: %v", err)
	}

	n, err := revisions.AutoCompleteOnResubmission(ctx, "p1", "e1", StepPrimary, "m1", "")
	if err != nil {
		t.Fatalf("auto-complete: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 completions, got %d", n)
	}

	open, _ := f.store.ListOpenRecipients(ctx, "p1", "e1", StepPrimary, "")
	if len(open) != 1 || open[0].RecipientID != "m2" {
		t.Fatalf("expected only m2 open, got %+v", open)
	}
	requests, _ := revisions.ListRevisionRequests(ctx, "p1", "e1")
	for _, req := range requests {
		for _, r := range req.Recipients {
			if r.RecipientID == "m1" && r.ResponseComment != DefaultResubmitComment {
				t.Fatalf("expected default comment, got %q", r.ResponseComment)
			}
		}
	}
	if got := mustStatus(t, f, "e1", StepPrimary); got != StatusRevisionRequested {
		t.Fatalf("m2 still open keeps the step revision_requested, got %s", got)
	}

	n, err = revisions.AutoCompleteOnResubmission(ctx, "p1", "e1", StepPrimary, "m1", "")
	if err != nil || n != 0 {
		t.Fatalf("expected nothing left to complete, got n=%d err=%v", n, err)
	}
}

func TestMarkRead(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req, err := f.engine.Revisions.CreateRevisionRequest(ctx, "p1", "e1", StepCriteriaSetting, "add one", "m1",
		[]RecipientSpec{{RecipientID: "e1", RecipientType: RecipientEmployee}})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	read, err := f.engine.Revisions.MarkRead(ctx, req.Recipients[0].ID)
	if err != nil {
		t.Fatalf("mark read: %v", err)
	}
	if !read.IsRead || read.ReadAt == nil {
		t.Fatalf("expected read recipient, got %+v", read)
	}
	f.clock.Advance(time.Hour)
	again, err := f.engine.Revisions.MarkRead(ctx, req.Recipients[0].ID)
	if err != nil {
		t.Fatalf("mark read again: %v", err)
	}
	if !again.ReadAt.Equal(*read.ReadAt) {
		t.Fatalf("read time moved on repeat")
	}
}

func TestRevisionSurvivesNotificationFailure(t *testing.T) {
	store := NewMemoryStore()
	store.PutPeriod(EvaluationPeriod{ID: "p1", MaxRate: 120})
	deps := store.Deps()
	deps.Notifier = failingNotifier{}
	engine := NewEngine(deps, Options{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})

	req, err := engine.Revisions.CreateRevisionRequest(context.Background(), "p1", "e1", StepSecondary, "check", "hr", evaluatorTarget("s1"))
	if err != nil {
		t.Fatalf("notification failure must not fail the request: %v", err)
	}
	if _, err := engine.Revisions.CompleteForRecipient(context.Background(), req.ID, "s1", "done"); err != nil {
		t.Fatalf("notification failure must not fail completion: %v", err)
	}
}

func TestRevisionNotifiesAndLogsActivity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req, err := f.engine.Revisions.CreateRevisionRequest(ctx, "p1", "e1", StepSecondary, "check", "hr", evaluatorTarget("s1"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := f.engine.Revisions.CompleteForRecipient(ctx, req.ID, "s1", "done"); err != nil {
		t.Fatalf("complete: %v", err)
	}

	notes := f.store.Notifications()
	if len(notes) != 2 {
		t.Fatalf("expected 2 notifications, got %d", len(notes))
	}
	if notes[0].RecipientID != "s1" || notes[0].Type != NotificationRevisionRequested {
		t.Fatalf("unexpected first notification: %+v", notes[0])
	}
	if notes[1].RecipientID != "hr" || notes[1].Type != NotificationRevisionCompleted {
		t.Fatalf("unexpected second notification: %+v", notes[1])
	}

	types := map[string]int{}
	for _, a := range f.store.Activities() {
		types[a.Type]++
	}
	if types[ActivityRevisionRequested] != 1 || types[ActivityRevisionCompleted] != 1 {
		t.Fatalf("unexpected activities: %v", types)
	}
}
