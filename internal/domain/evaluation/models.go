package evaluation

import "time"

type EvaluationPeriod struct {
	ID         string      `json:"id"`
	Name       string      `json:"name"`
	MaxRate    float64     `json:"maxRate"`
	GradeBands []GradeBand `json:"gradeBands"`
}

type GradeBand struct {
	Grade    string  `json:"grade"`
	MinScore float64 `json:"minScore"`
	MaxScore float64 `json:"maxScore"`
}

type WorkItemAssignment struct {
	ID           string  `json:"id"`
	PeriodID     string  `json:"periodId"`
	EmployeeID   string  `json:"employeeId"`
	ProjectID    string  `json:"projectId"`
	WorkItemID   string  `json:"workItemId"`
	Weight       float64 `json:"weight"`
	DisplayOrder int     `json:"displayOrder"`
}

type AssignmentWeight struct {
	AssignmentID string
	Weight       float64
}

type EvaluationRecord struct {
	ID          string     `json:"id"`
	PeriodID    string     `json:"periodId"`
	EmployeeID  string     `json:"employeeId"`
	EvaluatorID string     `json:"evaluatorId"`
	WorkItemID  string     `json:"workItemId"`
	Round       RoundType  `json:"round"`
	Score       *float64   `json:"score"`
	Comment     string     `json:"comment,omitempty"`
	Completed   bool       `json:"completed"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	UpdatedAt   time.Time  `json:"updatedAt"`
	Version     int64      `json:"version"`
}

type SelfEvaluation struct {
	ID                     string     `json:"id"`
	PeriodID               string     `json:"periodId"`
	EmployeeID             string     `json:"employeeId"`
	WorkItemID             string     `json:"workItemId"`
	PerformanceResult      string     `json:"performanceResult"`
	Score                  *float64   `json:"score"`
	SubmittedToEvaluator   bool       `json:"submittedToEvaluator"`
	SubmittedToEvaluatorAt *time.Time `json:"submittedToEvaluatorAt,omitempty"`
	UpdatedAt              time.Time  `json:"updatedAt"`
	Version                int64      `json:"version"`
}

// EvaluationLine says which evaluator holds which round for an employee.
type EvaluationLine struct {
	PeriodID    string    `json:"periodId"`
	EmployeeID  string    `json:"employeeId"`
	EvaluatorID string    `json:"evaluatorId"`
	Round       RoundType `json:"round"`
}

type CriteriaCounts struct {
	ProjectCount          int `json:"projectCount"`
	WorkItemsWithCriteria int `json:"workItemsWithCriteria"`
}

type StepApproval struct {
	PeriodID            string         `json:"periodId"`
	EmployeeID          string         `json:"employeeId"`
	CriteriaSetting     ApprovalStatus `json:"criteriaSetting"`
	SelfEvaluation      ApprovalStatus `json:"selfEvaluation"`
	PrimaryEvaluation   ApprovalStatus `json:"primaryEvaluation"`
	SecondaryEvaluation ApprovalStatus `json:"secondaryEvaluation"`
	UpdatedBy           string         `json:"updatedBy,omitempty"`
	UpdatedAt           time.Time      `json:"updatedAt"`
	Version             int64          `json:"version"`
}

func newStepApproval(periodID, employeeID string) StepApproval {
	return StepApproval{
		PeriodID:            periodID,
		EmployeeID:          employeeID,
		CriteriaSetting:     StatusPending,
		SelfEvaluation:      StatusPending,
		PrimaryEvaluation:   StatusPending,
		SecondaryEvaluation: StatusPending,
	}
}

func (a StepApproval) Status(step Step) ApprovalStatus {
	switch step {
	case StepCriteriaSetting:
		return a.CriteriaSetting
	case StepSelfEvaluation:
		return a.SelfEvaluation
	case StepPrimary:
		return a.PrimaryEvaluation
	case StepSecondary:
		return a.SecondaryEvaluation
	}
	return ""
}

func (a *StepApproval) SetStatus(step Step, status ApprovalStatus) {
	switch step {
	case StepCriteriaSetting:
		a.CriteriaSetting = status
	case StepSelfEvaluation:
		a.SelfEvaluation = status
	case StepPrimary:
		a.PrimaryEvaluation = status
	case StepSecondary:
		a.SecondaryEvaluation = status
	}
}

type EvaluatorStepApproval struct {
	PeriodID    string         `json:"periodId"`
	EmployeeID  string         `json:"employeeId"`
	EvaluatorID string         `json:"evaluatorId"`
	Step        Step           `json:"step"`
	Status      ApprovalStatus `json:"status"`
	ApprovedBy  string         `json:"approvedBy,omitempty"`
	ApprovedAt  *time.Time     `json:"approvedAt,omitempty"`
	UpdatedAt   time.Time      `json:"updatedAt"`
	Version     int64          `json:"version"`
}

type StepStatusView struct {
	StepApproval
	Evaluators []EvaluatorStepApproval `json:"evaluators"`
}

type RevisionRequest struct {
	ID          string              `json:"id"`
	PeriodID    string              `json:"periodId"`
	EmployeeID  string              `json:"employeeId"`
	Step        Step                `json:"step"`
	Comment     string              `json:"comment"`
	RequestedBy string              `json:"requestedBy"`
	RequestedAt time.Time           `json:"requestedAt"`
	Recipients  []RevisionRecipient `json:"recipients"`
}

type RevisionRecipient struct {
	ID              string        `json:"id"`
	RequestID       string        `json:"requestId"`
	RecipientID     string        `json:"recipientId"`
	RecipientType   RecipientType `json:"recipientType"`
	IsRead          bool          `json:"isRead"`
	ReadAt          *time.Time    `json:"readAt,omitempty"`
	IsCompleted     bool          `json:"isCompleted"`
	CompletedAt     *time.Time    `json:"completedAt,omitempty"`
	ResponseComment string        `json:"responseComment,omitempty"`
	Version         int64         `json:"version"`
}

type RecipientSpec struct {
	RecipientID   string
	RecipientType RecipientType
}

type Activity struct {
	ID         string         `json:"id"`
	PeriodID   string         `json:"periodId"`
	EmployeeID string         `json:"employeeId"`
	ActorID    string         `json:"actorId"`
	Type       string         `json:"type"`
	Details    map[string]any `json:"details,omitempty"`
	CreatedAt  time.Time      `json:"createdAt"`
}

type RoundResult struct {
	Score *float64 `json:"score"`
	Grade *string  `json:"grade"`
}

type StepStatuses struct {
	CriteriaSetting     ApprovalStatus `json:"criteriaSetting"`
	SelfEvaluation      ApprovalStatus `json:"selfEvaluation"`
	PrimaryEvaluation   ApprovalStatus `json:"primaryEvaluation"`
	SecondaryEvaluation ApprovalStatus `json:"secondaryEvaluation"`
}

type EmployeeProgress struct {
	PeriodID                  string        `json:"periodId"`
	EmployeeID                string        `json:"employeeId"`
	WorkItemCount             int           `json:"workItemCount"`
	CriteriaStatus            ProgressState `json:"criteriaStatus"`
	WBSCriteriaStatus         ProgressState `json:"wbsCriteriaStatus"`
	EvaluationLineStatus      ProgressState `json:"evaluationLineStatus"`
	PerformanceInputStatus    ProgressState `json:"performanceInputStatus"`
	SelfEvaluationStatus      ProgressState `json:"selfEvaluationStatus"`
	PrimaryEvaluationStatus   ProgressState `json:"primaryEvaluationStatus"`
	SecondaryEvaluationStatus ProgressState `json:"secondaryEvaluationStatus"`
	DownwardEvaluationStatus  ProgressState `json:"downwardEvaluationStatus"`
	MyEvaluationStatus        ProgressState `json:"myEvaluationStatus"`
	MyRounds                  []RoundType   `json:"myRounds"`
	Steps                     StepStatuses  `json:"steps"`
	Primary                   RoundResult   `json:"primary"`
	Secondary                 *RoundResult  `json:"secondary,omitempty"`
	ViewedSelfEvaluation      *bool         `json:"viewedSelfEvaluation,omitempty"`
	ViewedPrimaryEvaluation   *bool         `json:"viewedPrimaryEvaluation,omitempty"`
}

type SaveScoreInput struct {
	PeriodID    string
	EmployeeID  string
	EvaluatorID string
	WorkItemID  string
	Round       RoundType
	Score       float64
	Comment     string
}

type ApproveInput struct {
	Step        Step
	PeriodID    string
	EmployeeID  string
	ApproverID  string
	EvaluatorID string
}

type RevisionInput struct {
	Step        Step
	PeriodID    string
	EmployeeID  string
	Comment     string
	RequestedBy string
	EvaluatorID string
}
