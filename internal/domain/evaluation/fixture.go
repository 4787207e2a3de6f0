package evaluation

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Fixture struct {
	Periods []struct {
		ID         string  `yaml:"id"`
		Name       string  `yaml:"name"`
		MaxRate    float64 `yaml:"max_rate"`
		GradeBands []struct {
			Grade string  `yaml:"grade"`
			Min   float64 `yaml:"min"`
			Max   float64 `yaml:"max"`
		} `yaml:"grade_bands"`
	} `yaml:"periods"`
	Projects []struct {
		ID    string `yaml:"id"`
		Grade string `yaml:"grade"`
	} `yaml:"projects"`
	Assignments []struct {
		PeriodID   string `yaml:"period"`
		EmployeeID string `yaml:"employee"`
		ProjectID  string `yaml:"project"`
		WorkItems  []struct {
			ID       string `yaml:"id"`
			Criteria int    `yaml:"criteria"`
		} `yaml:"work_items"`
	} `yaml:"assignments"`
	Lines []struct {
		PeriodID    string    `yaml:"period"`
		EmployeeID  string    `yaml:"employee"`
		EvaluatorID string    `yaml:"evaluator"`
		Round       RoundType `yaml:"round"`
	} `yaml:"lines"`
}

func LoadFixtureFile(store *MemoryStore, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read fixture: %w", err)
	}
	return LoadFixture(store, raw)
}

func LoadFixture(store *MemoryStore, raw []byte) error {
	var fx Fixture
	if err := yaml.Unmarshal(raw, &fx); err != nil {
		return fmt.Errorf("parse fixture: %w", err)
	}

	for _, p := range fx.Periods {
		if p.ID == "" {
			return validationError("fixture period without id")
		}
		period := EvaluationPeriod{ID: p.ID, Name: p.Name, MaxRate: p.MaxRate}
		for _, b := range p.GradeBands {
			period.GradeBands = append(period.GradeBands, GradeBand{Grade: b.Grade, MinScore: b.Min, MaxScore: b.Max})
		}
		if err := ValidateGradeBands(period.GradeBands); err != nil {
			return fmt.Errorf("period %s: %w", p.ID, err)
		}
		store.PutPeriod(period)
	}
	for _, p := range fx.Projects {
		store.PutProject(p.ID, p.Grade)
	}
	for _, l := range fx.Lines {
		if !l.Round.Valid() {
			return validationError("line %s/%s has unknown round %q", l.EmployeeID, l.EvaluatorID, l.Round)
		}
		store.AddLine(EvaluationLine{PeriodID: l.PeriodID, EmployeeID: l.EmployeeID, EvaluatorID: l.EvaluatorID, Round: l.Round})
	}

	order := 0
	for _, a := range fx.Assignments {
		store.AssignProject(a.PeriodID, a.EmployeeID, a.ProjectID)
		for _, item := range a.WorkItems {
			order++
			store.PutAssignment(WorkItemAssignment{
				ID:           fmt.Sprintf("%s-%s-%s", a.PeriodID, a.EmployeeID, item.ID),
				PeriodID:     a.PeriodID,
				EmployeeID:   a.EmployeeID,
				ProjectID:    a.ProjectID,
				WorkItemID:   item.ID,
				DisplayOrder: order,
			})
			for i := 0; i < item.Criteria; i++ {
				store.AddCriterion(a.PeriodID, a.EmployeeID, item.ID)
			}
			store.PutSelfEvaluation(SelfEvaluation{
				ID:         fmt.Sprintf("self-%s-%s-%s", a.PeriodID, a.EmployeeID, item.ID),
				PeriodID:   a.PeriodID,
				EmployeeID: a.EmployeeID,
				WorkItemID: item.ID,
			})
			for _, l := range fx.Lines {
				if l.PeriodID != a.PeriodID || l.EmployeeID != a.EmployeeID {
					continue
				}
				store.PutEvaluation(EvaluationRecord{
					ID:          fmt.Sprintf("%s-%s-%s-%s-%s", l.Round, a.PeriodID, a.EmployeeID, l.EvaluatorID, item.ID),
					PeriodID:    a.PeriodID,
					EmployeeID:  a.EmployeeID,
					EvaluatorID: l.EvaluatorID,
					WorkItemID:  item.ID,
					Round:       l.Round,
				})
			}
		}
	}
	return nil
}
