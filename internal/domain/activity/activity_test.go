package activity

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"perfreview/internal/domain/evaluation"
	"perfreview/internal/platform/db"
	"perfreview/internal/platform/db/migrations"
)

func TestBuildBaseQuery(t *testing.T) {
	tests := []struct {
		name   string
		filter Filter
		query  string
		args   int
	}{
		{name: "period only", query: "SELECT 1 FROM activity_logs WHERE period_id = $1", args: 1},
		{name: "employee", filter: Filter{EmployeeID: "e1"}, query: "SELECT 1 FROM activity_logs WHERE period_id = $1 AND employee_id = $2", args: 2},
		{
			name:   "all filters",
			filter: Filter{EmployeeID: "e1", ActorID: "m1", Type: evaluation.ActivityEvaluationViewed},
			query:  "SELECT 1 FROM activity_logs WHERE period_id = $1 AND employee_id = $2 AND actor_id = $3 AND activity_type = $4",
			args:   4,
		},
		{name: "type only", filter: Filter{Type: "x"}, query: "SELECT 1 FROM activity_logs WHERE period_id = $1 AND activity_type = $2", args: 2},
		{
			name:   "since",
			filter: Filter{Since: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)},
			query:  "SELECT 1 FROM activity_logs WHERE period_id = $1 AND created_at >= $2",
			args:   2,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			query, args := buildBaseQuery("SELECT 1", "p1", tc.filter)
			if query != tc.query {
				t.Fatalf("expected %q, got %q", tc.query, query)
			}
			if len(args) != tc.args {
				t.Fatalf("expected %d args, got %d", tc.args, len(args))
			}
		})
	}
}

func TestServiceRoundTrip(t *testing.T) {
	dbURL := os.Getenv("TEST_DATABASE_URL")
	if dbURL == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer pool.Close()
	if err := db.Migrate(ctx, pool, migrations.Files); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	svc := New(pool)
	period := "period-" + uuid.NewString()[:8]
	first := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	for i, at := range []time.Time{first, first.Add(time.Hour)} {
		if err := svc.RecordActivity(ctx, evaluation.Activity{
			PeriodID:   period,
			EmployeeID: "e1",
			ActorID:    "m1",
			Type:       evaluation.ActivityEvaluationViewed,
			Details:    map[string]any{"n": i},
			CreatedAt:  at,
		}); err != nil {
			t.Fatalf("record: %v", err)
		}
	}

	latest, err := svc.LatestActivity(ctx, period, "m1", evaluation.ActivityEvaluationViewed, []string{"e1", "e2"})
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if !latest["e1"].Equal(first.Add(time.Hour)) {
		t.Fatalf("expected latest view at %v, got %v", first.Add(time.Hour), latest["e1"])
	}
	if _, ok := latest["e2"]; ok {
		t.Fatalf("e2 has no views")
	}

	list, err := svc.List(ctx, period, Filter{EmployeeID: "e1"}, 10, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 || list[0].Details["n"] != float64(1) {
		t.Fatalf("unexpected list: %+v", list)
	}
}
