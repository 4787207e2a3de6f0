package evaluation

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

type memoryProjectAssignment struct {
	EmployeeID string
	ProjectID  string
	Cancelled  bool
}

type memoryProject struct {
	Grade   string
	Deleted bool
}

type memoryAssignment struct {
	WorkItemAssignment
	Removed bool
}

type memoryCriterion struct {
	PeriodID   string
	EmployeeID string
	WorkItemID string
}

type Notification struct {
	RecipientID string
	Type        string
	Title       string
	Body        string
}

type MemoryStore struct {
	mu                 sync.RWMutex
	periods            map[string]EvaluationPeriod
	projects           map[string]memoryProject
	projectAssignments map[string][]memoryProjectAssignment
	assignments        map[string]*memoryAssignment
	criteria           []memoryCriterion
	lines              []EvaluationLine
	evaluations        map[string]EvaluationRecord
	selfEvals          map[string]SelfEvaluation
	steps              map[string]StepApproval
	evaluatorRows      map[string]EvaluatorStepApproval
	requests           map[string]RevisionRequest
	recipients         map[string]RevisionRecipient
	activities         []Activity
	notifications      []Notification
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		periods:            make(map[string]EvaluationPeriod),
		projects:           make(map[string]memoryProject),
		projectAssignments: make(map[string][]memoryProjectAssignment),
		assignments:        make(map[string]*memoryAssignment),
		evaluations:        make(map[string]EvaluationRecord),
		selfEvals:          make(map[string]SelfEvaluation),
		steps:              make(map[string]StepApproval),
		evaluatorRows:      make(map[string]EvaluatorStepApproval),
		requests:           make(map[string]RevisionRequest),
		recipients:         make(map[string]RevisionRecipient),
	}
}

func key(parts ...string) string {
	return strings.Join(parts, "|")
}

func idSet(ids []string) map[string]struct{} {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

func (s *MemoryStore) PutPeriod(period EvaluationPeriod) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.periods[period.ID] = period
}

func (s *MemoryStore) PutProject(projectID, grade string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.projects[projectID] = memoryProject{Grade: grade}
}

func (s *MemoryStore) DeleteProject(projectID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.projects[projectID]
	p.Deleted = true
	s.projects[projectID] = p
}

func (s *MemoryStore) AssignProject(periodID, employeeID, projectID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.projectAssignments[periodID] = append(s.projectAssignments[periodID], memoryProjectAssignment{EmployeeID: employeeID, ProjectID: projectID})
}

func (s *MemoryStore) CancelProjectAssignment(periodID, employeeID, projectID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, pa := range s.projectAssignments[periodID] {
		if pa.EmployeeID == employeeID && pa.ProjectID == projectID {
			s.projectAssignments[periodID][i].Cancelled = true
		}
	}
}

func (s *MemoryStore) PutAssignment(a WorkItemAssignment) WorkItemAssignment {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	found := false
	for _, pa := range s.projectAssignments[a.PeriodID] {
		if pa.EmployeeID == a.EmployeeID && pa.ProjectID == a.ProjectID {
			found = true
			break
		}
	}
	if !found {
		s.projectAssignments[a.PeriodID] = append(s.projectAssignments[a.PeriodID], memoryProjectAssignment{EmployeeID: a.EmployeeID, ProjectID: a.ProjectID})
	}
	s.assignments[a.ID] = &memoryAssignment{WorkItemAssignment: a}
	return a
}

func (s *MemoryStore) RemoveAssignment(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.assignments[id]; ok {
		a.Removed = true
	}
}

func (s *MemoryStore) AddCriterion(periodID, employeeID, workItemID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.criteria = append(s.criteria, memoryCriterion{PeriodID: periodID, EmployeeID: employeeID, WorkItemID: workItemID})
}

func (s *MemoryStore) AddLine(line EvaluationLine) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lines = append(s.lines, line)
}

func (s *MemoryStore) RemoveLine(periodID, employeeID, evaluatorID string, round RoundType) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.lines[:0]
	for _, line := range s.lines {
		if line.PeriodID == periodID && line.EmployeeID == employeeID && line.EvaluatorID == evaluatorID && line.Round == round {
			continue
		}
		kept = append(kept, line)
	}
	s.lines = kept
}

func (s *MemoryStore) PutEvaluation(rec EvaluationRecord) EvaluationRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Version == 0 {
		rec.Version = 1
	}
	s.evaluations[rec.ID] = rec
	return rec
}

func (s *MemoryStore) PutSelfEvaluation(rec SelfEvaluation) SelfEvaluation {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Version == 0 {
		rec.Version = 1
	}
	s.selfEvals[rec.ID] = rec
	return rec
}

func (s *MemoryStore) Activities() []Activity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Activity, len(s.activities))
	copy(out, s.activities)
	return out
}

func (s *MemoryStore) Notifications() []Notification {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Notification, len(s.notifications))
	copy(out, s.notifications)
	return out
}

func (s *MemoryStore) GetPeriod(ctx context.Context, periodID string) (EvaluationPeriod, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	period, ok := s.periods[periodID]
	if !ok {
		return EvaluationPeriod{}, notFound("period", periodID)
	}
	period.GradeBands = append([]GradeBand(nil), period.GradeBands...)
	return period, nil
}

func (s *MemoryStore) activeAssignmentsLocked(periodID string, employees map[string]struct{}) []WorkItemAssignment {
	activeProjects := make(map[string]struct{})
	for _, pa := range s.projectAssignments[periodID] {
		if pa.Cancelled || s.projects[pa.ProjectID].Deleted {
			continue
		}
		activeProjects[key(pa.EmployeeID, pa.ProjectID)] = struct{}{}
	}
	var out []WorkItemAssignment
	for _, a := range s.assignments {
		if a.Removed || a.PeriodID != periodID {
			continue
		}
		if _, ok := employees[a.EmployeeID]; !ok {
			continue
		}
		if _, ok := activeProjects[key(a.EmployeeID, a.ProjectID)]; !ok {
			continue
		}
		out = append(out, a.WorkItemAssignment)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].EmployeeID != out[j].EmployeeID {
			return out[i].EmployeeID < out[j].EmployeeID
		}
		if out[i].DisplayOrder != out[j].DisplayOrder {
			return out[i].DisplayOrder < out[j].DisplayOrder
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (s *MemoryStore) ListAssignments(ctx context.Context, periodID string, employeeIDs []string) ([]WorkItemAssignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.activeAssignmentsLocked(periodID, idSet(employeeIDs)), nil
}

func (s *MemoryStore) UpdateWeights(ctx context.Context, periodID, employeeID string, weights []AssignmentWeight) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	active := s.activeAssignmentsLocked(periodID, idSet([]string{employeeID}))
	if len(active) != len(weights) {
		return ErrConflict
	}
	activeIDs := make(map[string]struct{}, len(active))
	for _, a := range active {
		activeIDs[a.ID] = struct{}{}
	}
	for _, w := range weights {
		if _, ok := activeIDs[w.AssignmentID]; !ok {
			return ErrConflict
		}
	}
	for _, w := range weights {
		s.assignments[w.AssignmentID].Weight = w.Weight
	}
	return nil
}

func (s *MemoryStore) ProjectGrades(ctx context.Context, projectIDs []string) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]string, len(projectIDs))
	for _, id := range projectIDs {
		out[id] = s.projects[id].Grade
	}
	return out, nil
}

func (s *MemoryStore) ListEvaluations(ctx context.Context, periodID string, employeeIDs []string) ([]EvaluationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	employees := idSet(employeeIDs)
	var out []EvaluationRecord
	for _, rec := range s.evaluations {
		if rec.PeriodID != periodID {
			continue
		}
		if _, ok := employees[rec.EmployeeID]; ok {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) GetEvaluation(ctx context.Context, id string) (EvaluationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.evaluations[id]
	if !ok {
		return EvaluationRecord{}, notFound("evaluation", id)
	}
	return rec, nil
}

func (s *MemoryStore) FindEvaluation(ctx context.Context, periodID, employeeID, evaluatorID, workItemID string, round RoundType) (EvaluationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, rec := range s.evaluations {
		if rec.PeriodID == periodID && rec.EmployeeID == employeeID && rec.EvaluatorID == evaluatorID && rec.WorkItemID == workItemID && rec.Round == round {
			return rec, nil
		}
	}
	return EvaluationRecord{}, notFound("evaluation", key(periodID, employeeID, evaluatorID, workItemID, string(round)))
}

func (s *MemoryStore) UpdateEvaluation(ctx context.Context, rec EvaluationRecord) (EvaluationRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.evaluations[rec.ID]
	if !ok {
		return EvaluationRecord{}, notFound("evaluation", rec.ID)
	}
	if current.Version != rec.Version {
		return EvaluationRecord{}, ErrConflict
	}
	rec.Version++
	s.evaluations[rec.ID] = rec
	return rec, nil
}

func (s *MemoryStore) ListSelfEvaluations(ctx context.Context, periodID string, employeeIDs []string) ([]SelfEvaluation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	employees := idSet(employeeIDs)
	var out []SelfEvaluation
	for _, rec := range s.selfEvals {
		if rec.PeriodID != periodID {
			continue
		}
		if _, ok := employees[rec.EmployeeID]; ok {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) GetSelfEvaluation(ctx context.Context, id string) (SelfEvaluation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.selfEvals[id]
	if !ok {
		return SelfEvaluation{}, notFound("self evaluation", id)
	}
	return rec, nil
}

func (s *MemoryStore) UpdateSelfEvaluation(ctx context.Context, rec SelfEvaluation) (SelfEvaluation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.selfEvals[rec.ID]
	if !ok {
		return SelfEvaluation{}, notFound("self evaluation", rec.ID)
	}
	if current.Version != rec.Version {
		return SelfEvaluation{}, ErrConflict
	}
	rec.Version++
	s.selfEvals[rec.ID] = rec
	return rec, nil
}

func (s *MemoryStore) ListEvaluationLines(ctx context.Context, periodID string, employeeIDs []string) ([]EvaluationLine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	employees := idSet(employeeIDs)
	var out []EvaluationLine
	for _, line := range s.lines {
		if line.PeriodID != periodID {
			continue
		}
		if _, ok := employees[line.EmployeeID]; ok {
			out = append(out, line)
		}
	}
	return out, nil
}

func (s *MemoryStore) ListTargetEmployees(ctx context.Context, periodID, evaluatorID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[string]struct{})
	var out []string
	for _, line := range s.lines {
		if line.PeriodID != periodID || line.EvaluatorID != evaluatorID {
			continue
		}
		if _, ok := seen[line.EmployeeID]; ok {
			continue
		}
		seen[line.EmployeeID] = struct{}{}
		out = append(out, line.EmployeeID)
	}
	sort.Strings(out)
	return out, nil
}

func (s *MemoryStore) CriteriaCounts(ctx context.Context, periodID string, employeeIDs []string) (map[string]CriteriaCounts, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	employees := idSet(employeeIDs)
	out := make(map[string]CriteriaCounts, len(employeeIDs))
	for _, pa := range s.projectAssignments[periodID] {
		if _, ok := employees[pa.EmployeeID]; !ok || pa.Cancelled || s.projects[pa.ProjectID].Deleted {
			continue
		}
		c := out[pa.EmployeeID]
		c.ProjectCount++
		out[pa.EmployeeID] = c
	}
	active := s.activeAssignmentsLocked(periodID, employees)
	activeItems := make(map[string]struct{}, len(active))
	for _, a := range active {
		activeItems[key(a.EmployeeID, a.WorkItemID)] = struct{}{}
	}
	counted := make(map[string]struct{})
	for _, c := range s.criteria {
		k := key(c.EmployeeID, c.WorkItemID)
		if c.PeriodID != periodID {
			continue
		}
		if _, ok := activeItems[k]; !ok {
			continue
		}
		if _, ok := counted[k]; ok {
			continue
		}
		counted[k] = struct{}{}
		counts := out[c.EmployeeID]
		counts.WorkItemsWithCriteria++
		out[c.EmployeeID] = counts
	}
	return out, nil
}

func (s *MemoryStore) GetStepApproval(ctx context.Context, periodID, employeeID string) (StepApproval, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row, ok := s.steps[key(periodID, employeeID)]
	return row, ok, nil
}

func (s *MemoryStore) SaveStepApproval(ctx context.Context, row StepApproval) (StepApproval, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key(row.PeriodID, row.EmployeeID)
	current, exists := s.steps[k]
	switch {
	case row.Version == 0 && exists:
		return StepApproval{}, ErrConflict
	case row.Version != 0 && (!exists || current.Version != row.Version):
		return StepApproval{}, ErrConflict
	}
	row.Version++
	s.steps[k] = row
	return row, nil
}

func (s *MemoryStore) ListStepApprovals(ctx context.Context, periodID string, employeeIDs []string) ([]StepApproval, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []StepApproval
	for _, id := range employeeIDs {
		if row, ok := s.steps[key(periodID, id)]; ok {
			out = append(out, row)
		}
	}
	return out, nil
}

func (s *MemoryStore) GetEvaluatorApproval(ctx context.Context, periodID, employeeID, evaluatorID string, step Step) (EvaluatorStepApproval, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row, ok := s.evaluatorRows[key(periodID, employeeID, evaluatorID, string(step))]
	return row, ok, nil
}

func (s *MemoryStore) SaveEvaluatorApproval(ctx context.Context, row EvaluatorStepApproval) (EvaluatorStepApproval, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key(row.PeriodID, row.EmployeeID, row.EvaluatorID, string(row.Step))
	current, exists := s.evaluatorRows[k]
	switch {
	case row.Version == 0 && exists:
		return EvaluatorStepApproval{}, ErrConflict
	case row.Version != 0 && (!exists || current.Version != row.Version):
		return EvaluatorStepApproval{}, ErrConflict
	}
	row.Version++
	s.evaluatorRows[k] = row
	return row, nil
}

func (s *MemoryStore) ListEvaluatorApprovals(ctx context.Context, periodID string, employeeIDs []string) ([]EvaluatorStepApproval, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	employees := idSet(employeeIDs)
	var out []EvaluatorStepApproval
	for _, row := range s.evaluatorRows {
		if row.PeriodID != periodID {
			continue
		}
		if _, ok := employees[row.EmployeeID]; ok {
			out = append(out, row)
		}
	}
	return out, nil
}

func (s *MemoryStore) CreateRevisionRequest(ctx context.Context, req RevisionRequest) (RevisionRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.requests[req.ID]; exists {
		return RevisionRequest{}, ErrConflict
	}
	for i := range req.Recipients {
		req.Recipients[i].RequestID = req.ID
		req.Recipients[i].Version = 1
		s.recipients[req.Recipients[i].ID] = req.Recipients[i]
	}
	header := req
	header.Recipients = nil
	s.requests[req.ID] = header
	return s.requestLocked(req.ID), nil
}

func (s *MemoryStore) requestLocked(id string) RevisionRequest {
	req := s.requests[id]
	req.Recipients = nil
	for _, rec := range s.recipients {
		if rec.RequestID == id {
			req.Recipients = append(req.Recipients, rec)
		}
	}
	sort.Slice(req.Recipients, func(i, j int) bool { return req.Recipients[i].RecipientID < req.Recipients[j].RecipientID })
	return req
}

func (s *MemoryStore) GetRevisionRequest(ctx context.Context, requestID string) (RevisionRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.requests[requestID]; !ok {
		return RevisionRequest{}, notFound("revision request", requestID)
	}
	return s.requestLocked(requestID), nil
}

func (s *MemoryStore) ListRevisionRequests(ctx context.Context, periodID, employeeID string) ([]RevisionRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []RevisionRequest
	for id, req := range s.requests {
		if req.PeriodID == periodID && req.EmployeeID == employeeID {
			out = append(out, s.requestLocked(id))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].RequestedAt.Equal(out[j].RequestedAt) {
			return out[i].RequestedAt.Before(out[j].RequestedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *MemoryStore) GetRecipient(ctx context.Context, id string) (RevisionRecipient, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.recipients[id]
	if !ok {
		return RevisionRecipient{}, notFound("revision recipient", id)
	}
	return rec, nil
}

func (s *MemoryStore) ListOpenRecipients(ctx context.Context, periodID, employeeID string, step Step, recipientID string) ([]RevisionRecipient, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []RevisionRecipient
	for _, rec := range s.recipients {
		if rec.IsCompleted || (recipientID != "" && rec.RecipientID != recipientID) {
			continue
		}
		req := s.requests[rec.RequestID]
		if req.PeriodID == periodID && req.EmployeeID == employeeID && req.Step == step {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) UpdateRecipient(ctx context.Context, rec RevisionRecipient) (RevisionRecipient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.recipients[rec.ID]
	if !ok {
		return RevisionRecipient{}, notFound("revision recipient", rec.ID)
	}
	if current.Version != rec.Version {
		return RevisionRecipient{}, ErrConflict
	}
	rec.Version++
	s.recipients[rec.ID] = rec
	return rec, nil
}

func (s *MemoryStore) RecordActivity(ctx context.Context, activity Activity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if activity.ID == "" {
		activity.ID = uuid.NewString()
	}
	if activity.CreatedAt.IsZero() {
		activity.CreatedAt = time.Now().UTC()
	}
	s.activities = append(s.activities, activity)
	return nil
}

func (s *MemoryStore) LatestActivity(ctx context.Context, periodID, actorID, activityType string, employeeIDs []string) (map[string]time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	employees := idSet(employeeIDs)
	out := make(map[string]time.Time)
	for _, a := range s.activities {
		if a.PeriodID != periodID || a.ActorID != actorID || a.Type != activityType {
			continue
		}
		if _, ok := employees[a.EmployeeID]; !ok {
			continue
		}
		if current, ok := out[a.EmployeeID]; !ok || a.CreatedAt.After(current) {
			out[a.EmployeeID] = a.CreatedAt
		}
	}
	return out, nil
}

func (s *MemoryStore) Notify(ctx context.Context, recipientID, ntype, title, body string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notifications = append(s.notifications, Notification{RecipientID: recipientID, Type: ntype, Title: title, Body: body})
	return nil
}

func (s *MemoryStore) Deps() Deps {
	return Deps{
		Assignments:    s,
		Projects:       s,
		Periods:        s,
		Records:        s,
		Lines:          s,
		Criteria:       s,
		Approvals:      s,
		Revisions:      s,
		ActivityReader: s,
		Activity:       s,
		Notifier:       s,
	}
}
