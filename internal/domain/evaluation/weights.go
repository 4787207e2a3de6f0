package evaluation

import (
	"context"
	"log/slog"
	"sort"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"perfreview/internal/platform/keylock"
	"perfreview/internal/platform/tracing"
)

type WeightCalculator struct {
	assignments AssignmentStore
	projects    ProjectDirectory
	periods     periodReader
	priorities  map[string]int
	locks       *keylock.Map
	counters    Counters
	logger      *slog.Logger
}

func (c *WeightCalculator) RecomputeWeights(ctx context.Context, employeeID, periodID string) (result []WorkItemAssignment, err error) {
	ctx, span := tracing.StartSpan(ctx, "evaluation.RecomputeWeights",
		attribute.String("employee.id", employeeID),
		attribute.String("period.id", periodID),
	)
	defer func() { tracing.End(span, err) }()

	if err := requireIDs("employee id", employeeID); err != nil {
		return nil, err
	}
	period, err := c.periods.get(ctx, periodID)
	if err != nil {
		return nil, err
	}

	unlock := c.locks.Lock(periodID + "/" + employeeID)
	defer unlock()

	err = retryOnConflict(ctx, c.counters, func() error {
		assignments, err := c.assignments.ListAssignments(ctx, periodID, []string{employeeID})
		if err != nil {
			return err
		}
		if len(assignments) == 0 {
			result = []WorkItemAssignment{}
			return nil
		}
		grades, err := c.projects.ProjectGrades(ctx, projectIDs(assignments))
		if err != nil {
			return err
		}
		result = ComputeWeights(assignments, grades, c.priorities, period.MaxRate)

		weights := make([]AssignmentWeight, 0, len(result))
		for _, a := range result {
			weights = append(weights, AssignmentWeight{AssignmentID: a.ID, Weight: a.Weight})
		}
		return c.assignments.UpdateWeights(ctx, periodID, employeeID, weights)
	})
	if err != nil {
		return nil, err
	}
	c.counters.WeightRecomputed()
	c.logger.DebugContext(ctx, "weights recomputed", "periodId", periodID, "employeeId", employeeID, "items", len(result))
	return result, nil
}

// ComputeWeights gives items of ungraded projects weight 0.
func ComputeWeights(assignments []WorkItemAssignment, grades map[string]string, priorities map[string]int, maxRate float64) []WorkItemAssignment {
	perProject := make(map[string]int, len(assignments))
	for _, a := range assignments {
		perProject[a.ProjectID]++
	}

	raw := make([]float64, len(assignments))
	totalRaw := 0.0
	for i, a := range assignments {
		priority := priorities[normalizeGrade(grades[a.ProjectID])]
		if priority <= 0 {
			continue
		}
		raw[i] = float64(priority) / float64(perProject[a.ProjectID])
		totalRaw += raw[i]
	}

	out := make([]WorkItemAssignment, len(assignments))
	copy(out, assignments)
	for i := range out {
		if totalRaw > 0 {
			out[i].Weight = raw[i] / totalRaw * maxRate
		} else {
			out[i].Weight = 0
		}
	}
	return out
}

func projectIDs(assignments []WorkItemAssignment) []string {
	seen := make(map[string]struct{}, len(assignments))
	ids := make([]string, 0, len(assignments))
	for _, a := range assignments {
		if _, ok := seen[a.ProjectID]; ok {
			continue
		}
		seen[a.ProjectID] = struct{}{}
		ids = append(ids, a.ProjectID)
	}
	sort.Strings(ids)
	return ids
}

func normalizeGrade(grade string) string {
	return strings.ToUpper(strings.TrimSpace(grade))
}

func normalizePriorities(in map[string]int) map[string]int {
	out := make(map[string]int, len(in))
	for grade, priority := range in {
		out[normalizeGrade(grade)] = priority
	}
	return out
}
