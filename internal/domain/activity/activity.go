package activity

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"perfreview/internal/domain/evaluation"
	"perfreview/internal/platform/querier"
)

type Filter struct {
	EmployeeID string
	ActorID    string
	Type       string
	Since      time.Time
}

type Service struct {
	DB querier.Querier
}

func New(db querier.Querier) *Service {
	return &Service{DB: db}
}

func (s *Service) RecordActivity(ctx context.Context, a evaluation.Activity) error {
	var details []byte
	if a.Details != nil {
		payload, err := json.Marshal(a.Details)
		if err != nil {
			return err
		}
		details = payload
	}
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}

	_, err := s.DB.Exec(ctx, `
    INSERT INTO activity_logs (id, period_id, employee_id, actor_id, activity_type, details, created_at)
    VALUES ($1,$2,$3,$4,$5,$6,$7)
  `, a.ID, a.PeriodID, a.EmployeeID, a.ActorID, a.Type, details, a.CreatedAt)
	return err
}

func (s *Service) LatestActivity(ctx context.Context, periodID, actorID, activityType string, employeeIDs []string) (map[string]time.Time, error) {
	rows, err := s.DB.Query(ctx, `
    SELECT employee_id, MAX(created_at)
    FROM activity_logs
    WHERE period_id = $1 AND actor_id = $2 AND activity_type = $3 AND employee_id = ANY($4)
    GROUP BY employee_id
  `, periodID, actorID, activityType, employeeIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]time.Time)
	for rows.Next() {
		var employeeID string
		var at time.Time
		if err := rows.Scan(&employeeID, &at); err != nil {
			return nil, err
		}
		out[employeeID] = at
	}
	return out, rows.Err()
}

func (s *Service) List(ctx context.Context, periodID string, filter Filter, limit, offset int) ([]evaluation.Activity, error) {
	query, args := buildBaseQuery("SELECT id, period_id, employee_id, actor_id, activity_type, details, created_at", periodID, filter)
	limitPos := len(args) + 1
	offsetPos := len(args) + 2
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", limitPos, offsetPos)
	args = append(args, limit, offset)

	rows, err := s.DB.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []evaluation.Activity
	for rows.Next() {
		var a evaluation.Activity
		var details []byte
		if err := rows.Scan(&a.ID, &a.PeriodID, &a.EmployeeID, &a.ActorID, &a.Type, &details, &a.CreatedAt); err != nil {
			return nil, err
		}
		if len(details) > 0 {
			if err := json.Unmarshal(details, &a.Details); err != nil {
				return nil, err
			}
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func buildBaseQuery(prefix, periodID string, filter Filter) (string, []any) {
	query := prefix + " FROM activity_logs WHERE period_id = $1"
	args := []any{periodID}
	if filter.EmployeeID != "" {
		query += fmt.Sprintf(" AND employee_id = $%d", len(args)+1)
		args = append(args, filter.EmployeeID)
	}
	if filter.ActorID != "" {
		query += fmt.Sprintf(" AND actor_id = $%d", len(args)+1)
		args = append(args, filter.ActorID)
	}
	if filter.Type != "" {
		query += fmt.Sprintf(" AND activity_type = $%d", len(args)+1)
		args = append(args, filter.Type)
	}
	if !filter.Since.IsZero() {
		query += fmt.Sprintf(" AND created_at >= $%d", len(args)+1)
		args = append(args, filter.Since)
	}
	return query, args
}
