package evaluation

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"perfreview/internal/platform/querier"
)

type Store struct {
	DB querier.Querier
}

func NewStore(db querier.Querier) *Store {
	return &Store{DB: db}
}

func (s *Store) Deps() Deps {
	return Deps{
		Assignments: s,
		Projects:    s,
		Periods:     s,
		Records:     s,
		Lines:       s,
		Criteria:    s,
		Approvals:   s,
		Revisions:   s,
	}
}

type rowQuerier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

const activeAssignmentsFrom = `
    FROM work_item_assignments w
    JOIN project_assignments pa
      ON pa.period_id = w.period_id AND pa.employee_id = w.employee_id AND pa.project_id = w.project_id
    JOIN projects p ON p.id = w.project_id
    WHERE w.period_id = $1
      AND w.employee_id = ANY($2)
      AND w.deleted_at IS NULL
      AND pa.cancelled_at IS NULL
      AND pa.deleted_at IS NULL
      AND p.deleted_at IS NULL
`

func (s *Store) GetPeriod(ctx context.Context, periodID string) (EvaluationPeriod, error) {
	var period EvaluationPeriod
	if err := s.DB.QueryRow(ctx, `
    SELECT id, name, COALESCE(max_rate, 0)
    FROM evaluation_periods
    WHERE id = $1
  `, periodID).Scan(&period.ID, &period.Name, &period.MaxRate); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return EvaluationPeriod{}, notFound("period", periodID)
		}
		return EvaluationPeriod{}, err
	}

	rows, err := s.DB.Query(ctx, `
    SELECT grade, min_score, max_score
    FROM period_grade_bands
    WHERE period_id = $1
    ORDER BY min_score DESC
  `, periodID)
	if err != nil {
		return EvaluationPeriod{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var band GradeBand
		if err := rows.Scan(&band.Grade, &band.MinScore, &band.MaxScore); err != nil {
			return EvaluationPeriod{}, err
		}
		period.GradeBands = append(period.GradeBands, band)
	}
	return period, rows.Err()
}

func (s *Store) ListAssignments(ctx context.Context, periodID string, employeeIDs []string) ([]WorkItemAssignment, error) {
	return listAssignments(ctx, s.DB, periodID, employeeIDs)
}

func listAssignments(ctx context.Context, q rowQuerier, periodID string, employeeIDs []string) ([]WorkItemAssignment, error) {
	rows, err := q.Query(ctx, `
    SELECT w.id, w.period_id, w.employee_id, w.project_id, w.work_item_id, w.weight, w.display_order
  `+activeAssignmentsFrom+`
    ORDER BY w.employee_id, w.display_order, w.id
  `, periodID, employeeIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []WorkItemAssignment
	for rows.Next() {
		var a WorkItemAssignment
		if err := rows.Scan(&a.ID, &a.PeriodID, &a.EmployeeID, &a.ProjectID, &a.WorkItemID, &a.Weight, &a.DisplayOrder); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// UpdateWeights writes weights under a transaction-scoped advisory lock on
// the (period, employee) key.
func (s *Store) UpdateWeights(ctx context.Context, periodID, employeeID string, weights []AssignmentWeight) error {
	return querier.InTx(ctx, s.DB, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock(hashtext($1))", periodID+"/"+employeeID); err != nil {
			return err
		}
		active, err := listAssignments(ctx, tx, periodID, []string{employeeID})
		if err != nil {
			return err
		}
		if len(active) != len(weights) {
			return ErrConflict
		}
		ids := make(map[string]struct{}, len(active))
		for _, a := range active {
			ids[a.ID] = struct{}{}
		}
		for _, w := range weights {
			if _, ok := ids[w.AssignmentID]; !ok {
				return ErrConflict
			}
		}

		batch := &pgx.Batch{}
		for _, w := range weights {
			batch.Queue("UPDATE work_item_assignments SET weight = $1, updated_at = now() WHERE id = $2", w.Weight, w.AssignmentID)
		}
		return tx.SendBatch(ctx, batch).Close()
	})
}

func (s *Store) ProjectGrades(ctx context.Context, projectIDs []string) (map[string]string, error) {
	rows, err := s.DB.Query(ctx, "SELECT id, COALESCE(grade, '') FROM projects WHERE id = ANY($1)", projectIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]string, len(projectIDs))
	for rows.Next() {
		var id, grade string
		if err := rows.Scan(&id, &grade); err != nil {
			return nil, err
		}
		out[id] = grade
	}
	return out, rows.Err()
}

const evaluationColumns = `id, period_id, employee_id, evaluator_id, work_item_id, round, score, comment, completed, completed_at, updated_at, version`

func scanEvaluation(row pgx.Row) (EvaluationRecord, error) {
	var rec EvaluationRecord
	err := row.Scan(&rec.ID, &rec.PeriodID, &rec.EmployeeID, &rec.EvaluatorID, &rec.WorkItemID, &rec.Round, &rec.Score, &rec.Comment, &rec.Completed, &rec.CompletedAt, &rec.UpdatedAt, &rec.Version)
	return rec, err
}

func (s *Store) ListEvaluations(ctx context.Context, periodID string, employeeIDs []string) ([]EvaluationRecord, error) {
	rows, err := s.DB.Query(ctx, `
    SELECT `+evaluationColumns+`
    FROM downward_evaluations
    WHERE period_id = $1 AND employee_id = ANY($2)
    ORDER BY id
  `, periodID, employeeIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []EvaluationRecord
	for rows.Next() {
		rec, err := scanEvaluation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *Store) GetEvaluation(ctx context.Context, id string) (EvaluationRecord, error) {
	rec, err := scanEvaluation(s.DB.QueryRow(ctx, "SELECT "+evaluationColumns+" FROM downward_evaluations WHERE id = $1", id))
	if errors.Is(err, pgx.ErrNoRows) {
		return EvaluationRecord{}, notFound("evaluation", id)
	}
	return rec, err
}

func (s *Store) FindEvaluation(ctx context.Context, periodID, employeeID, evaluatorID, workItemID string, round RoundType) (EvaluationRecord, error) {
	rec, err := scanEvaluation(s.DB.QueryRow(ctx, `
    SELECT `+evaluationColumns+`
    FROM downward_evaluations
    WHERE period_id = $1 AND employee_id = $2 AND evaluator_id = $3 AND work_item_id = $4 AND round = $5
  `, periodID, employeeID, evaluatorID, workItemID, string(round)))
	if errors.Is(err, pgx.ErrNoRows) {
		return EvaluationRecord{}, fmt.Errorf("%s evaluation of %s by %s on %s: %w", round, employeeID, evaluatorID, workItemID, ErrNotFound)
	}
	return rec, err
}

func (s *Store) UpdateEvaluation(ctx context.Context, rec EvaluationRecord) (EvaluationRecord, error) {
	updated, err := scanEvaluation(s.DB.QueryRow(ctx, `
    UPDATE downward_evaluations
    SET score = $1, comment = $2, completed = $3, completed_at = $4, updated_at = $5, version = version + 1
    WHERE id = $6 AND version = $7
    RETURNING `+evaluationColumns,
		rec.Score, rec.Comment, rec.Completed, rec.CompletedAt, rec.UpdatedAt, rec.ID, rec.Version))
	if errors.Is(err, pgx.ErrNoRows) {
		return EvaluationRecord{}, s.missingOrConflict(ctx, "downward_evaluations", "evaluation", rec.ID)
	}
	return updated, err
}

const selfEvaluationColumns = `id, period_id, employee_id, work_item_id, performance_result, score, submitted_to_evaluator, submitted_to_evaluator_at, updated_at, version`

func scanSelfEvaluation(row pgx.Row) (SelfEvaluation, error) {
	var rec SelfEvaluation
	err := row.Scan(&rec.ID, &rec.PeriodID, &rec.EmployeeID, &rec.WorkItemID, &rec.PerformanceResult, &rec.Score, &rec.SubmittedToEvaluator, &rec.SubmittedToEvaluatorAt, &rec.UpdatedAt, &rec.Version)
	return rec, err
}

func (s *Store) ListSelfEvaluations(ctx context.Context, periodID string, employeeIDs []string) ([]SelfEvaluation, error) {
	rows, err := s.DB.Query(ctx, `
    SELECT `+selfEvaluationColumns+`
    FROM self_evaluations
    WHERE period_id = $1 AND employee_id = ANY($2)
    ORDER BY id
  `, periodID, employeeIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SelfEvaluation
	for rows.Next() {
		rec, err := scanSelfEvaluation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *Store) GetSelfEvaluation(ctx context.Context, id string) (SelfEvaluation, error) {
	rec, err := scanSelfEvaluation(s.DB.QueryRow(ctx, "SELECT "+selfEvaluationColumns+" FROM self_evaluations WHERE id = $1", id))
	if errors.Is(err, pgx.ErrNoRows) {
		return SelfEvaluation{}, notFound("self evaluation", id)
	}
	return rec, err
}

func (s *Store) UpdateSelfEvaluation(ctx context.Context, rec SelfEvaluation) (SelfEvaluation, error) {
	updated, err := scanSelfEvaluation(s.DB.QueryRow(ctx, `
    UPDATE self_evaluations
    SET performance_result = $1, score = $2, submitted_to_evaluator = $3, submitted_to_evaluator_at = $4, updated_at = $5, version = version + 1
    WHERE id = $6 AND version = $7
    RETURNING `+selfEvaluationColumns,
		rec.PerformanceResult, rec.Score, rec.SubmittedToEvaluator, rec.SubmittedToEvaluatorAt, rec.UpdatedAt, rec.ID, rec.Version))
	if errors.Is(err, pgx.ErrNoRows) {
		return SelfEvaluation{}, s.missingOrConflict(ctx, "self_evaluations", "self evaluation", rec.ID)
	}
	return updated, err
}

func (s *Store) missingOrConflict(ctx context.Context, table, what, id string) error {
	var exists bool
	if err := s.DB.QueryRow(ctx, "SELECT EXISTS (SELECT 1 FROM "+table+" WHERE id = $1)", id).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return notFound(what, id)
	}
	return ErrConflict
}

func (s *Store) ListEvaluationLines(ctx context.Context, periodID string, employeeIDs []string) ([]EvaluationLine, error) {
	rows, err := s.DB.Query(ctx, `
    SELECT period_id, employee_id, evaluator_id, round
    FROM evaluation_lines
    WHERE period_id = $1 AND employee_id = ANY($2) AND deleted_at IS NULL
    ORDER BY employee_id, round, evaluator_id
  `, periodID, employeeIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []EvaluationLine
	for rows.Next() {
		var line EvaluationLine
		if err := rows.Scan(&line.PeriodID, &line.EmployeeID, &line.EvaluatorID, &line.Round); err != nil {
			return nil, err
		}
		out = append(out, line)
	}
	return out, rows.Err()
}

func (s *Store) ListTargetEmployees(ctx context.Context, periodID, evaluatorID string) ([]string, error) {
	rows, err := s.DB.Query(ctx, `
    SELECT DISTINCT employee_id
    FROM evaluation_lines
    WHERE period_id = $1 AND evaluator_id = $2 AND deleted_at IS NULL
    ORDER BY employee_id
  `, periodID, evaluatorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (s *Store) CriteriaCounts(ctx context.Context, periodID string, employeeIDs []string) (map[string]CriteriaCounts, error) {
	out := make(map[string]CriteriaCounts, len(employeeIDs))

	projectRows, err := s.DB.Query(ctx, `
    SELECT pa.employee_id, COUNT(*)
    FROM project_assignments pa
    JOIN projects p ON p.id = pa.project_id
    WHERE pa.period_id = $1
      AND pa.employee_id = ANY($2)
      AND pa.cancelled_at IS NULL
      AND pa.deleted_at IS NULL
      AND p.deleted_at IS NULL
    GROUP BY pa.employee_id
  `, periodID, employeeIDs)
	if err != nil {
		return nil, err
	}
	for projectRows.Next() {
		var employeeID string
		var n int
		if err := projectRows.Scan(&employeeID, &n); err != nil {
			projectRows.Close()
			return nil, err
		}
		c := out[employeeID]
		c.ProjectCount = n
		out[employeeID] = c
	}
	projectRows.Close()
	if err := projectRows.Err(); err != nil {
		return nil, err
	}

	criteriaRows, err := s.DB.Query(ctx, `
    SELECT w.employee_id, COUNT(DISTINCT w.work_item_id)
  `+activeAssignmentsFrom+`
      AND EXISTS (
        SELECT 1 FROM work_item_criteria c
        WHERE c.period_id = w.period_id
          AND c.employee_id = w.employee_id
          AND c.work_item_id = w.work_item_id
          AND c.deleted_at IS NULL
      )
    GROUP BY w.employee_id
  `, periodID, employeeIDs)
	if err != nil {
		return nil, err
	}
	defer criteriaRows.Close()
	for criteriaRows.Next() {
		var employeeID string
		var n int
		if err := criteriaRows.Scan(&employeeID, &n); err != nil {
			return nil, err
		}
		c := out[employeeID]
		c.WorkItemsWithCriteria = n
		out[employeeID] = c
	}
	return out, criteriaRows.Err()
}

const stepApprovalColumns = `period_id, employee_id, criteria_setting_status, self_evaluation_status, primary_evaluation_status, secondary_evaluation_status, COALESCE(updated_by, ''), updated_at, version`

func scanStepApproval(row pgx.Row) (StepApproval, error) {
	var a StepApproval
	err := row.Scan(&a.PeriodID, &a.EmployeeID, &a.CriteriaSetting, &a.SelfEvaluation, &a.PrimaryEvaluation, &a.SecondaryEvaluation, &a.UpdatedBy, &a.UpdatedAt, &a.Version)
	return a, err
}

func (s *Store) GetStepApproval(ctx context.Context, periodID, employeeID string) (StepApproval, bool, error) {
	row, err := scanStepApproval(s.DB.QueryRow(ctx, "SELECT "+stepApprovalColumns+" FROM step_approvals WHERE period_id = $1 AND employee_id = $2", periodID, employeeID))
	if errors.Is(err, pgx.ErrNoRows) {
		return StepApproval{}, false, nil
	}
	if err != nil {
		return StepApproval{}, false, err
	}
	return row, true, nil
}

func (s *Store) SaveStepApproval(ctx context.Context, row StepApproval) (StepApproval, error) {
	var saved StepApproval
	var err error
	if row.Version == 0 {
		saved, err = scanStepApproval(s.DB.QueryRow(ctx, `
      INSERT INTO step_approvals (period_id, employee_id, criteria_setting_status, self_evaluation_status, primary_evaluation_status, secondary_evaluation_status, updated_by, updated_at, version)
      VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), $8, 1)
      ON CONFLICT (period_id, employee_id) DO NOTHING
      RETURNING `+stepApprovalColumns,
			row.PeriodID, row.EmployeeID, row.CriteriaSetting, row.SelfEvaluation, row.PrimaryEvaluation, row.SecondaryEvaluation, row.UpdatedBy, row.UpdatedAt))
	} else {
		saved, err = scanStepApproval(s.DB.QueryRow(ctx, `
      UPDATE step_approvals
      SET criteria_setting_status = $3, self_evaluation_status = $4, primary_evaluation_status = $5, secondary_evaluation_status = $6,
          updated_by = NULLIF($7, ''), updated_at = $8, version = version + 1
      WHERE period_id = $1 AND employee_id = $2 AND version = $9
      RETURNING `+stepApprovalColumns,
			row.PeriodID, row.EmployeeID, row.CriteriaSetting, row.SelfEvaluation, row.PrimaryEvaluation, row.SecondaryEvaluation, row.UpdatedBy, row.UpdatedAt, row.Version))
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return StepApproval{}, ErrConflict
	}
	return saved, err
}

func (s *Store) ListStepApprovals(ctx context.Context, periodID string, employeeIDs []string) ([]StepApproval, error) {
	rows, err := s.DB.Query(ctx, "SELECT "+stepApprovalColumns+" FROM step_approvals WHERE period_id = $1 AND employee_id = ANY($2)", periodID, employeeIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []StepApproval
	for rows.Next() {
		row, err := scanStepApproval(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

const evaluatorApprovalColumns = `period_id, employee_id, evaluator_id, step, status, COALESCE(approved_by, ''), approved_at, updated_at, version`

func scanEvaluatorApproval(row pgx.Row) (EvaluatorStepApproval, error) {
	var a EvaluatorStepApproval
	err := row.Scan(&a.PeriodID, &a.EmployeeID, &a.EvaluatorID, &a.Step, &a.Status, &a.ApprovedBy, &a.ApprovedAt, &a.UpdatedAt, &a.Version)
	return a, err
}

func (s *Store) GetEvaluatorApproval(ctx context.Context, periodID, employeeID, evaluatorID string, step Step) (EvaluatorStepApproval, bool, error) {
	row, err := scanEvaluatorApproval(s.DB.QueryRow(ctx, `
    SELECT `+evaluatorApprovalColumns+`
    FROM evaluator_step_approvals
    WHERE period_id = $1 AND employee_id = $2 AND evaluator_id = $3 AND step = $4
  `, periodID, employeeID, evaluatorID, string(step)))
	if errors.Is(err, pgx.ErrNoRows) {
		return EvaluatorStepApproval{}, false, nil
	}
	if err != nil {
		return EvaluatorStepApproval{}, false, err
	}
	return row, true, nil
}

func (s *Store) SaveEvaluatorApproval(ctx context.Context, row EvaluatorStepApproval) (EvaluatorStepApproval, error) {
	var saved EvaluatorStepApproval
	var err error
	if row.Version == 0 {
		saved, err = scanEvaluatorApproval(s.DB.QueryRow(ctx, `
      INSERT INTO evaluator_step_approvals (period_id, employee_id, evaluator_id, step, status, approved_by, approved_at, updated_at, version)
      VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7, $8, 1)
      ON CONFLICT (period_id, employee_id, evaluator_id, step) DO NOTHING
      RETURNING `+evaluatorApprovalColumns,
			row.PeriodID, row.EmployeeID, row.EvaluatorID, string(row.Step), string(row.Status), row.ApprovedBy, row.ApprovedAt, row.UpdatedAt))
	} else {
		saved, err = scanEvaluatorApproval(s.DB.QueryRow(ctx, `
      UPDATE evaluator_step_approvals
      SET status = $5, approved_by = NULLIF($6, ''), approved_at = $7, updated_at = $8, version = version + 1
      WHERE period_id = $1 AND employee_id = $2 AND evaluator_id = $3 AND step = $4 AND version = $9
      RETURNING `+evaluatorApprovalColumns,
			row.PeriodID, row.EmployeeID, row.EvaluatorID, string(row.Step), string(row.Status), row.ApprovedBy, row.ApprovedAt, row.UpdatedAt, row.Version))
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return EvaluatorStepApproval{}, ErrConflict
	}
	return saved, err
}

func (s *Store) ListEvaluatorApprovals(ctx context.Context, periodID string, employeeIDs []string) ([]EvaluatorStepApproval, error) {
	rows, err := s.DB.Query(ctx, `
    SELECT `+evaluatorApprovalColumns+`
    FROM evaluator_step_approvals
    WHERE period_id = $1 AND employee_id = ANY($2)
    ORDER BY employee_id, step, evaluator_id
  `, periodID, employeeIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []EvaluatorStepApproval
	for rows.Next() {
		row, err := scanEvaluatorApproval(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

const recipientColumns = `id, request_id, recipient_id, recipient_type, is_read, read_at, is_completed, completed_at, response_comment, version`

func scanRecipient(row pgx.Row) (RevisionRecipient, error) {
	var r RevisionRecipient
	err := row.Scan(&r.ID, &r.RequestID, &r.RecipientID, &r.RecipientType, &r.IsRead, &r.ReadAt, &r.IsCompleted, &r.CompletedAt, &r.ResponseComment, &r.Version)
	return r, err
}

func (s *Store) CreateRevisionRequest(ctx context.Context, req RevisionRequest) (RevisionRequest, error) {
	err := querier.InTx(ctx, s.DB, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
      INSERT INTO revision_requests (id, period_id, employee_id, step, comment, requested_by, requested_at)
      VALUES ($1, $2, $3, $4, $5, $6, $7)
    `, req.ID, req.PeriodID, req.EmployeeID, string(req.Step), req.Comment, req.RequestedBy, req.RequestedAt); err != nil {
			return err
		}
		batch := &pgx.Batch{}
		for _, r := range req.Recipients {
			batch.Queue(`
        INSERT INTO revision_request_recipients (id, request_id, recipient_id, recipient_type)
        VALUES ($1, $2, $3, $4)
      `, r.ID, req.ID, r.RecipientID, string(r.RecipientType))
		}
		return tx.SendBatch(ctx, batch).Close()
	})
	if err != nil {
		return RevisionRequest{}, err
	}
	return s.GetRevisionRequest(ctx, req.ID)
}

func (s *Store) GetRevisionRequest(ctx context.Context, requestID string) (RevisionRequest, error) {
	requests, err := s.revisionRequests(ctx, "id = $1", requestID)
	if err != nil {
		return RevisionRequest{}, err
	}
	if len(requests) == 0 {
		return RevisionRequest{}, notFound("revision request", requestID)
	}
	return requests[0], nil
}

func (s *Store) ListRevisionRequests(ctx context.Context, periodID, employeeID string) ([]RevisionRequest, error) {
	return s.revisionRequests(ctx, "period_id = $1 AND employee_id = $2", periodID, employeeID)
}

func (s *Store) revisionRequests(ctx context.Context, where string, args ...any) ([]RevisionRequest, error) {
	rows, err := s.DB.Query(ctx, `
    SELECT id, period_id, employee_id, step, comment, requested_by, requested_at
    FROM revision_requests
    WHERE `+where+`
    ORDER BY requested_at, id
  `, args...)
	if err != nil {
		return nil, err
	}
	var out []RevisionRequest
	index := make(map[string]int)
	for rows.Next() {
		var req RevisionRequest
		if err := rows.Scan(&req.ID, &req.PeriodID, &req.EmployeeID, &req.Step, &req.Comment, &req.RequestedBy, &req.RequestedAt); err != nil {
			rows.Close()
			return nil, err
		}
		index[req.ID] = len(out)
		out = append(out, req)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return out, nil
	}

	ids := make([]string, 0, len(out))
	for _, req := range out {
		ids = append(ids, req.ID)
	}
	recipientRows, err := s.DB.Query(ctx, `
    SELECT `+recipientColumns+`
    FROM revision_request_recipients
    WHERE request_id = ANY($1)
    ORDER BY recipient_id
  `, ids)
	if err != nil {
		return nil, err
	}
	defer recipientRows.Close()
	for recipientRows.Next() {
		r, err := scanRecipient(recipientRows)
		if err != nil {
			return nil, err
		}
		i := index[r.RequestID]
		out[i].Recipients = append(out[i].Recipients, r)
	}
	return out, recipientRows.Err()
}

func (s *Store) GetRecipient(ctx context.Context, id string) (RevisionRecipient, error) {
	r, err := scanRecipient(s.DB.QueryRow(ctx, "SELECT "+recipientColumns+" FROM revision_request_recipients WHERE id = $1", id))
	if errors.Is(err, pgx.ErrNoRows) {
		return RevisionRecipient{}, notFound("revision recipient", id)
	}
	return r, err
}

func (s *Store) ListOpenRecipients(ctx context.Context, periodID, employeeID string, step Step, recipientID string) ([]RevisionRecipient, error) {
	rows, err := s.DB.Query(ctx, `
    SELECT r.id, r.request_id, r.recipient_id, r.recipient_type, r.is_read, r.read_at, r.is_completed, r.completed_at, r.response_comment, r.version
    FROM revision_request_recipients r
    JOIN revision_requests q ON q.id = r.request_id
    WHERE q.period_id = $1 AND q.employee_id = $2 AND q.step = $3
      AND r.is_completed = false
      AND ($4 = '' OR r.recipient_id = $4)
    ORDER BY r.id
  `, periodID, employeeID, string(step), recipientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RevisionRecipient
	for rows.Next() {
		r, err := scanRecipient(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) UpdateRecipient(ctx context.Context, rec RevisionRecipient) (RevisionRecipient, error) {
	updated, err := scanRecipient(s.DB.QueryRow(ctx, `
    UPDATE revision_request_recipients
    SET is_read = $1, read_at = $2, is_completed = $3, completed_at = $4, response_comment = $5, version = version + 1
    WHERE id = $6 AND version = $7
    RETURNING `+recipientColumns,
		rec.IsRead, rec.ReadAt, rec.IsCompleted, rec.CompletedAt, rec.ResponseComment, rec.ID, rec.Version))
	if errors.Is(err, pgx.ErrNoRows) {
		return RevisionRecipient{}, s.missingOrConflict(ctx, "revision_request_recipients", "revision recipient", rec.ID)
	}
	return updated, err
}
