package evaluation

import (
	"context"
	"time"
)

// AssignmentStore lists active work-item assignments. Cancelled or
// soft-removed assignments, and those whose project assignment was
// cancelled, are never returned.
type AssignmentStore interface {
	ListAssignments(ctx context.Context, periodID string, employeeIDs []string) ([]WorkItemAssignment, error)
	// UpdateWeights must return ErrConflict when weights does not cover exactly
	// the employee's current active assignments.
	UpdateWeights(ctx context.Context, periodID, employeeID string, weights []AssignmentWeight) error
}

type ProjectDirectory interface {
	ProjectGrades(ctx context.Context, projectIDs []string) (map[string]string, error)
}

type PeriodConfigStore interface {
	GetPeriod(ctx context.Context, periodID string) (EvaluationPeriod, error)
}

// EvaluationRecordStore updates are compare-and-swap on Version and return
// ErrConflict when the stored version moved.
type EvaluationRecordStore interface {
	ListEvaluations(ctx context.Context, periodID string, employeeIDs []string) ([]EvaluationRecord, error)
	GetEvaluation(ctx context.Context, id string) (EvaluationRecord, error)
	FindEvaluation(ctx context.Context, periodID, employeeID, evaluatorID, workItemID string, round RoundType) (EvaluationRecord, error)
	UpdateEvaluation(ctx context.Context, rec EvaluationRecord) (EvaluationRecord, error)
	ListSelfEvaluations(ctx context.Context, periodID string, employeeIDs []string) ([]SelfEvaluation, error)
	GetSelfEvaluation(ctx context.Context, id string) (SelfEvaluation, error)
	UpdateSelfEvaluation(ctx context.Context, rec SelfEvaluation) (SelfEvaluation, error)
}

type EvaluationLineStore interface {
	ListEvaluationLines(ctx context.Context, periodID string, employeeIDs []string) ([]EvaluationLine, error)
	ListTargetEmployees(ctx context.Context, periodID, evaluatorID string) ([]string, error)
}

type CriteriaCounter interface {
	CriteriaCounts(ctx context.Context, periodID string, employeeIDs []string) (map[string]CriteriaCounts, error)
}

// ApprovalStore saves are compare-and-swap on Version. Version 0 means the
// row does not exist yet and must be inserted.
type ApprovalStore interface {
	GetStepApproval(ctx context.Context, periodID, employeeID string) (StepApproval, bool, error)
	SaveStepApproval(ctx context.Context, row StepApproval) (StepApproval, error)
	ListStepApprovals(ctx context.Context, periodID string, employeeIDs []string) ([]StepApproval, error)
	GetEvaluatorApproval(ctx context.Context, periodID, employeeID, evaluatorID string, step Step) (EvaluatorStepApproval, bool, error)
	SaveEvaluatorApproval(ctx context.Context, row EvaluatorStepApproval) (EvaluatorStepApproval, error)
	ListEvaluatorApprovals(ctx context.Context, periodID string, employeeIDs []string) ([]EvaluatorStepApproval, error)
}

type RevisionStore interface {
	CreateRevisionRequest(ctx context.Context, req RevisionRequest) (RevisionRequest, error)
	GetRevisionRequest(ctx context.Context, requestID string) (RevisionRequest, error)
	ListRevisionRequests(ctx context.Context, periodID, employeeID string) ([]RevisionRequest, error)
	GetRecipient(ctx context.Context, id string) (RevisionRecipient, error)
	ListOpenRecipients(ctx context.Context, periodID, employeeID string, step Step, recipientID string) ([]RevisionRecipient, error)
	UpdateRecipient(ctx context.Context, rec RevisionRecipient) (RevisionRecipient, error)
}

type ActivityLogReader interface {
	LatestActivity(ctx context.Context, periodID, actorID, activityType string, employeeIDs []string) (map[string]time.Time, error)
}

type ActivityRecorder interface {
	RecordActivity(ctx context.Context, activity Activity) error
}

type NotificationSender interface {
	Notify(ctx context.Context, recipientID, ntype, title, body string) error
}

type Counters interface {
	WeightRecomputed()
	ConflictRetried()
	ProgressRowSkipped()
}

type noopCounters struct{}

func (noopCounters) WeightRecomputed()   {}
func (noopCounters) ConflictRetried()    {}
func (noopCounters) ProgressRowSkipped() {}
