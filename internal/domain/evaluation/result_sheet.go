package evaluation

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/jung-kurt/gofpdf"
)

type ResultSheet struct {
	Period      EvaluationPeriod
	EmployeeID  string
	Items       []WorkItemAssignment
	Primary     RoundResult
	Secondary   RoundResult
	Steps       StepStatuses
	GeneratedAt time.Time
}

func (e *Engine) BuildResultSheet(ctx context.Context, periodID, employeeID string) (ResultSheet, error) {
	if err := requireIDs("employee id", employeeID); err != nil {
		return ResultSheet{}, err
	}
	period, err := e.Scores.periods.get(ctx, periodID)
	if err != nil {
		return ResultSheet{}, err
	}
	items, err := e.Scores.assignments.ListAssignments(ctx, periodID, []string{employeeID})
	if err != nil {
		return ResultSheet{}, err
	}
	records, err := e.Scores.records.ListEvaluations(ctx, periodID, []string{employeeID})
	if err != nil {
		return ResultSheet{}, err
	}
	view, err := e.Approvals.GetStepApproval(ctx, periodID, employeeID)
	if err != nil {
		return ResultSheet{}, err
	}

	return ResultSheet{
		Period:     period,
		EmployeeID: employeeID,
		Items:      items,
		Primary:    roundResult(period.GradeBands, WeightedScore(items, records, RoundPrimary, period.MaxRate)),
		Secondary:  roundResult(period.GradeBands, WeightedScore(items, records, RoundSecondary, period.MaxRate)),
		Steps: StepStatuses{
			CriteriaSetting:     view.CriteriaSetting,
			SelfEvaluation:      view.SelfEvaluation,
			PrimaryEvaluation:   view.PrimaryEvaluation,
			SecondaryEvaluation: view.SecondaryEvaluation,
		},
		GeneratedAt: e.Submissions.now(),
	}, nil
}

func RenderResultSheet(w io.Writer, sheet ResultSheet) error {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.AddPage()
	pdf.SetFont("Helvetica", "B", 16)
	pdf.Cell(40, 10, "Evaluation Result Sheet")
	pdf.Ln(12)

	pdf.SetFont("Helvetica", "", 12)
	periodName := sheet.Period.Name
	if periodName == "" {
		periodName = sheet.Period.ID
	}
	pdf.Cell(0, 8, fmt.Sprintf("Period: %s", periodName))
	pdf.Ln(7)
	pdf.Cell(0, 8, fmt.Sprintf("Employee: %s", sheet.EmployeeID))
	pdf.Ln(7)
	pdf.Cell(0, 8, fmt.Sprintf("Generated: %s", sheet.GeneratedAt.Format("2006-01-02 15:04 MST")))
	pdf.Ln(12)

	pdf.SetFont("Helvetica", "B", 12)
	pdf.CellFormat(60, 8, "Project", "1", 0, "L", false, 0, "")
	pdf.CellFormat(80, 8, "Work item", "1", 0, "L", false, 0, "")
	pdf.CellFormat(30, 8, "Weight", "1", 1, "R", false, 0, "")
	pdf.SetFont("Helvetica", "", 11)
	for _, item := range sheet.Items {
		pdf.CellFormat(60, 7, item.ProjectID, "1", 0, "L", false, 0, "")
		pdf.CellFormat(80, 7, item.WorkItemID, "1", 0, "L", false, 0, "")
		pdf.CellFormat(30, 7, fmt.Sprintf("%.2f", item.Weight), "1", 1, "R", false, 0, "")
	}
	pdf.Ln(6)

	pdf.SetFont("Helvetica", "", 12)
	pdf.Cell(0, 8, "Primary evaluation: "+formatResult(sheet.Primary))
	pdf.Ln(7)
	pdf.Cell(0, 8, "Secondary evaluation: "+formatResult(sheet.Secondary))
	pdf.Ln(10)

	pdf.SetFont("Helvetica", "B", 12)
	pdf.Cell(0, 8, "Approval")
	pdf.Ln(8)
	pdf.SetFont("Helvetica", "", 11)
	for _, step := range Steps {
		pdf.Cell(0, 7, fmt.Sprintf("%s: %s", stepLabel(step), sheet.Steps.status(step)))
		pdf.Ln(6)
	}

	return pdf.Output(w)
}

func formatResult(r RoundResult) string {
	if r.Score == nil {
		return "not scored"
	}
	grade := "-"
	if r.Grade != nil {
		grade = *r.Grade
	}
	return fmt.Sprintf("%.2f (grade %s)", *r.Score, grade)
}

func (s StepStatuses) status(step Step) ApprovalStatus {
	switch step {
	case StepCriteriaSetting:
		return s.CriteriaSetting
	case StepSelfEvaluation:
		return s.SelfEvaluation
	case StepPrimary:
		return s.PrimaryEvaluation
	case StepSecondary:
		return s.SecondaryEvaluation
	}
	return ""
}
