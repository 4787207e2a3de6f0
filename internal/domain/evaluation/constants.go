package evaluation

type RoundType string

const (
	RoundPrimary   RoundType = "primary"
	RoundSecondary RoundType = "secondary"
)

var Rounds = []RoundType{RoundPrimary, RoundSecondary}

func (r RoundType) Valid() bool {
	return r == RoundPrimary || r == RoundSecondary
}

func (r RoundType) Step() Step {
	return Step(r)
}

type Step string

const (
	StepCriteriaSetting Step = "criteria_setting"
	StepSelfEvaluation  Step = "self_evaluation"
	StepPrimary         Step = "primary"
	StepSecondary       Step = "secondary"
)

var Steps = []Step{StepCriteriaSetting, StepSelfEvaluation, StepPrimary, StepSecondary}

func (s Step) Valid() bool {
	switch s {
	case StepCriteriaSetting, StepSelfEvaluation, StepPrimary, StepSecondary:
		return true
	}
	return false
}

// Round reports the downward round behind s. Criteria and self steps have none.
func (s Step) Round() (RoundType, bool) {
	switch s {
	case StepPrimary:
		return RoundPrimary, true
	case StepSecondary:
		return RoundSecondary, true
	}
	return "", false
}

type ApprovalStatus string

const (
	StatusPending           ApprovalStatus = "pending"
	StatusApproved          ApprovalStatus = "approved"
	StatusRevisionRequested ApprovalStatus = "revision_requested"
	StatusRevisionCompleted ApprovalStatus = "revision_completed"
)

func (s ApprovalStatus) Valid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusRevisionRequested, StatusRevisionCompleted:
		return true
	}
	return false
}

type ProgressState string

const (
	ProgressNone       ProgressState = "none"
	ProgressInProgress ProgressState = "in_progress"
	ProgressComplete   ProgressState = "complete"
)

type RecipientType string

const (
	RecipientEvaluator RecipientType = "evaluator"
	RecipientEmployee  RecipientType = "employee"
)

const (
	ActivityEvaluationViewed      = "evaluation_viewed"
	ActivitySelfSubmitted         = "self_evaluation_submitted"
	ActivityDownwardSubmitted     = "downward_evaluation_submitted"
	ActivityStepApproved          = "step_approved"
	ActivityRevisionRequested     = "revision_requested"
	ActivityRevisionCompleted     = "revision_completed"
	NotificationRevisionRequested = "revision_requested"
	NotificationRevisionCompleted = "revision_completed"
	NotificationEvaluationDone    = "evaluation_submitted"
)

const (
	DefaultMaxRate         = 120.0
	DefaultResubmitComment = "Resubmitted after revision"
	maxConflictRetries     = 3
)
