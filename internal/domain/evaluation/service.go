package evaluation

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"perfreview/internal/platform/keylock"
)

type Options struct {
	DefaultMaxRate   float64
	GradePriorities  map[string]int
	ResubmitComment  string
	BatchConcurrency int
	Logger           *slog.Logger
	Counters         Counters
	Now              func() time.Time
	NewID            func() string
}

func (o Options) withDefaults() Options {
	if o.DefaultMaxRate <= 0 {
		o.DefaultMaxRate = DefaultMaxRate
	}
	if len(o.GradePriorities) == 0 {
		o.GradePriorities = DefaultGradePriorities()
	}
	if strings.TrimSpace(o.ResubmitComment) == "" {
		o.ResubmitComment = DefaultResubmitComment
	}
	if o.BatchConcurrency <= 0 {
		o.BatchConcurrency = 8
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Counters == nil {
		o.Counters = noopCounters{}
	}
	if o.Now == nil {
		o.Now = func() time.Time { return time.Now().UTC() }
	}
	if o.NewID == nil {
		o.NewID = uuid.NewString
	}
	return o
}

func DefaultGradePriorities() map[string]int {
	return map[string]int{"1A": 6, "1B": 5, "2A": 4, "2B": 3, "3A": 2, "3B": 1}
}

type Deps struct {
	Assignments    AssignmentStore
	Projects       ProjectDirectory
	Periods        PeriodConfigStore
	Records        EvaluationRecordStore
	Lines          EvaluationLineStore
	Criteria       CriteriaCounter
	Approvals      ApprovalStore
	Revisions      RevisionStore
	ActivityReader ActivityLogReader
	Activity       ActivityRecorder
	Notifier       NotificationSender
}

type Engine struct {
	Weights     *WeightCalculator
	Scores      *ScoreAggregator
	Approvals   *StepApprovalStateMachine
	Revisions   *RevisionRequestManager
	Submissions *SubmissionWorkflow
	Progress    *ProgressStatusAggregator
}

func NewEngine(deps Deps, opts Options) *Engine {
	opts = opts.withDefaults()
	periods := periodReader{store: deps.Periods, defaultMaxRate: opts.DefaultMaxRate}
	rows := &approvalRows{approvals: deps.Approvals, lines: deps.Lines, counters: opts.Counters, now: opts.Now}
	writer := recordWriter{records: deps.Records, counters: opts.Counters}

	revisions := &RevisionRequestManager{
		revisions:       deps.Revisions,
		writer:          writer,
		rows:            rows,
		activity:        deps.Activity,
		notifier:        deps.Notifier,
		logger:          opts.Logger,
		counters:        opts.Counters,
		now:             opts.Now,
		newID:           opts.NewID,
		resubmitComment: opts.ResubmitComment,
	}

	return &Engine{
		Weights: &WeightCalculator{
			assignments: deps.Assignments,
			projects:    deps.Projects,
			periods:     periods,
			priorities:  normalizePriorities(opts.GradePriorities),
			locks:       keylock.New(),
			counters:    opts.Counters,
			logger:      opts.Logger,
		},
		Scores: &ScoreAggregator{
			assignments: deps.Assignments,
			records:     deps.Records,
			periods:     periods,
		},
		Approvals: &StepApprovalStateMachine{
			rows:      rows,
			revisions: revisions,
			activity:  deps.Activity,
			logger:    opts.Logger,
		},
		Revisions: revisions,
		Submissions: &SubmissionWorkflow{
			records:   deps.Records,
			writer:    writer,
			periods:   periods,
			revisions: revisions,
			activity:  deps.Activity,
			notifier:  deps.Notifier,
			logger:    opts.Logger,
			now:       opts.Now,
		},
		Progress: &ProgressStatusAggregator{
			assignments: deps.Assignments,
			records:     deps.Records,
			periods:     periods,
			lines:       deps.Lines,
			criteria:    deps.Criteria,
			approvals:   deps.Approvals,
			views:       deps.ActivityReader,
			concurrency: opts.BatchConcurrency,
			logger:      opts.Logger,
			counters:    opts.Counters,
		},
	}
}

type periodReader struct {
	store          PeriodConfigStore
	defaultMaxRate float64
}

func (p periodReader) get(ctx context.Context, periodID string) (EvaluationPeriod, error) {
	if strings.TrimSpace(periodID) == "" {
		return EvaluationPeriod{}, validationError("period id is required")
	}
	period, err := p.store.GetPeriod(ctx, periodID)
	if err != nil {
		return EvaluationPeriod{}, err
	}
	if period.MaxRate <= 0 {
		period.MaxRate = p.defaultMaxRate
	}
	return period, nil
}

func requireIDs(pairs ...string) error {
	for i := 0; i+1 < len(pairs); i += 2 {
		if strings.TrimSpace(pairs[i+1]) == "" {
			return validationError("%s is required", pairs[i])
		}
	}
	return nil
}
