package evaluation

import (
	"context"
	"math"
	"sort"

	"go.opentelemetry.io/otel/attribute"

	"perfreview/internal/platform/tracing"
)

type ScoreAggregator struct {
	assignments AssignmentStore
	records     EvaluationRecordStore
	periods     periodReader
}

func (a *ScoreAggregator) ComputeWeightedScore(ctx context.Context, employeeID, periodID string, round RoundType) (score *float64, err error) {
	ctx, span := tracing.StartSpan(ctx, "evaluation.ComputeWeightedScore",
		attribute.String("employee.id", employeeID),
		attribute.String("period.id", periodID),
		attribute.String("round", string(round)),
	)
	defer func() { tracing.End(span, err) }()

	if !round.Valid() {
		return nil, validationError("unknown round %q", round)
	}
	if err := requireIDs("employee id", employeeID); err != nil {
		return nil, err
	}
	period, err := a.periods.get(ctx, periodID)
	if err != nil {
		return nil, err
	}
	assignments, err := a.assignments.ListAssignments(ctx, periodID, []string{employeeID})
	if err != nil {
		return nil, err
	}
	records, err := a.records.ListEvaluations(ctx, periodID, []string{employeeID})
	if err != nil {
		return nil, err
	}
	return WeightedScore(assignments, records, round, period.MaxRate), nil
}

func (a *ScoreAggregator) LookupGrade(ctx context.Context, periodID string, score float64) (string, bool, error) {
	period, err := a.periods.get(ctx, periodID)
	if err != nil {
		return "", false, err
	}
	grade, ok := GradeFor(period.GradeBands, score)
	return grade, ok, nil
}

// WeightedScore computes Σ weight/maxRate × score over the scored items of
// round, rescaled by maxRate/totalWeight when the scored weights do not add
// up to maxRate, and rounded to two decimals.
func WeightedScore(assignments []WorkItemAssignment, records []EvaluationRecord, round RoundType, maxRate float64) *float64 {
	if maxRate <= 0 {
		return nil
	}
	weights := make(map[string]float64, len(assignments))
	for _, a := range assignments {
		weights[a.WorkItemID] = a.Weight
	}

	observed := observations(records, round, weights)
	if len(observed) == 0 {
		return nil
	}

	items := make([]string, 0, len(observed))
	for item := range observed {
		items = append(items, item)
	}
	sort.Strings(items)

	weighted := 0.0
	totalWeight := 0.0
	for _, item := range items {
		weight := weights[item]
		weighted += weight / maxRate * observed[item]
		totalWeight += weight
	}
	if totalWeight <= 0 {
		return nil
	}
	if math.Abs(totalWeight-maxRate) > 1e-9 {
		weighted *= maxRate / totalWeight
	}
	rounded := round2(weighted)
	return &rounded
}

// observations: primary takes the latest record per item, secondary the mean.
func observations(records []EvaluationRecord, round RoundType, active map[string]float64) map[string]float64 {
	latest := make(map[string]EvaluationRecord)
	sums := make(map[string]float64)
	counts := make(map[string]int)
	for _, rec := range records {
		if rec.Round != round || rec.Score == nil {
			continue
		}
		if _, ok := active[rec.WorkItemID]; !ok {
			continue
		}
		switch round {
		case RoundPrimary:
			current, ok := latest[rec.WorkItemID]
			if !ok || rec.UpdatedAt.After(current.UpdatedAt) || (rec.UpdatedAt.Equal(current.UpdatedAt) && rec.ID > current.ID) {
				latest[rec.WorkItemID] = rec
			}
		case RoundSecondary:
			sums[rec.WorkItemID] += *rec.Score
			counts[rec.WorkItemID]++
		}
	}

	out := make(map[string]float64, len(latest)+len(sums))
	for item, rec := range latest {
		out[item] = *rec.Score
	}
	for item, sum := range sums {
		out[item] = sum / float64(counts[item])
	}
	return out
}

func GradeFor(bands []GradeBand, score float64) (string, bool) {
	for _, band := range bands {
		if score >= band.MinScore && score <= band.MaxScore {
			return band.Grade, true
		}
	}
	return "", false
}

func ValidateGradeBands(bands []GradeBand) error {
	sorted := make([]GradeBand, len(bands))
	copy(sorted, bands)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].MinScore < sorted[j].MinScore })
	for i, band := range sorted {
		if band.Grade == "" {
			return validationError("grade band without grade")
		}
		if band.MinScore > band.MaxScore {
			return validationError("grade band %s has min above max", band.Grade)
		}
		if i > 0 && band.MinScore <= sorted[i-1].MaxScore {
			return validationError("grade bands %s and %s overlap", sorted[i-1].Grade, band.Grade)
		}
	}
	return nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func roundResult(bands []GradeBand, score *float64) RoundResult {
	result := RoundResult{Score: score}
	if score == nil {
		return result
	}
	if grade, ok := GradeFor(bands, *score); ok {
		result.Grade = &grade
	}
	return result
}
