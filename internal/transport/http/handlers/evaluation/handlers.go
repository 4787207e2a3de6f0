package evaluationhandler

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"perfreview/internal/domain/activity"
	"perfreview/internal/domain/auth"
	"perfreview/internal/domain/evaluation"
	"perfreview/internal/transport/http/api"
	"perfreview/internal/transport/http/middleware"
	"perfreview/internal/transport/http/shared"
)

// ActivityLister serves the activity history. It is optional; without it the
// route is not registered.
type ActivityLister interface {
	List(ctx context.Context, periodID string, filter activity.Filter, limit, offset int) ([]evaluation.Activity, error)
}

type Handler struct {
	Engine   *evaluation.Engine
	Perms    middleware.PermissionStore
	Activity ActivityLister
}

func NewHandler(engine *evaluation.Engine, perms middleware.PermissionStore, activities ActivityLister) *Handler {
	return &Handler{Engine: engine, Perms: perms, Activity: activities}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	read := middleware.RequirePermission(auth.PermEvaluationRead, h.Perms)
	write := middleware.RequirePermission(auth.PermEvaluationWrite, h.Perms)
	approve := middleware.RequirePermission(auth.PermEvaluationApprove, h.Perms)
	revise := middleware.RequirePermission(auth.PermEvaluationRevise, h.Perms)

	r.Route("/periods/{periodID}", func(r chi.Router) {
		r.With(read).Get("/my-targets/progress", h.handleMyTargetsProgress)

		r.Route("/employees/{employeeID}", func(r chi.Router) {
			r.With(middleware.RequirePermission(auth.PermWeightsManage, h.Perms)).Post("/weights/recompute", h.handleRecomputeWeights)
			r.With(read).Get("/scores/{round}", h.handleScore)
			r.With(read).Get("/steps", h.handleSteps)
			r.With(approve).Post("/steps/{step}/approve", h.handleApprove)
			r.With(approve).Post("/steps/{step}/revision-requests", h.handleRequestRevision)
			r.With(read).Get("/revision-requests", h.handleListRevisionRequests)
			r.With(write).Put("/evaluations/{round}/items/{workItemID}", h.handleSaveScore)
			r.With(write).Post("/evaluations/{round}/submit", h.handleSubmitDownward)
			r.With(write).Post("/self-evaluation/submit", h.handleSubmitSelf)
			r.With(read).Post("/views", h.handleRecordView)
			r.With(read).Get("/progress", h.handleEmployeeProgress)
			r.With(middleware.RequirePermission(auth.PermResultExport, h.Perms)).Get("/result-sheet.pdf", h.handleResultSheet)
			if h.Activity != nil {
				r.With(middleware.RequirePermission(auth.PermActivityRead, h.Perms)).Get("/activities", h.handleListActivities)
			}
		})
	})

	r.Route("/revision-recipients/{recipientID}", func(r chi.Router) {
		r.With(revise).Post("/complete", h.handleCompleteRevision)
		r.With(revise).Post("/read", h.handleMarkRead)
	})
}

func (h *Handler) handleRecomputeWeights(w http.ResponseWriter, r *http.Request) {
	periodID, employeeID := chi.URLParam(r, "periodID"), chi.URLParam(r, "employeeID")
	assignments, err := h.Engine.Weights.RecomputeWeights(r.Context(), employeeID, periodID)
	if err != nil {
		writeError(w, r, err, "weights_recompute_failed")
		return
	}
	api.Success(w, assignments, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleScore(w http.ResponseWriter, r *http.Request) {
	periodID, employeeID := chi.URLParam(r, "periodID"), chi.URLParam(r, "employeeID")
	round, ok := parseRound(w, r)
	if !ok {
		return
	}

	score, err := h.Engine.Scores.ComputeWeightedScore(r.Context(), employeeID, periodID, round)
	if err != nil {
		writeError(w, r, err, "score_failed")
		return
	}
	result := evaluation.RoundResult{Score: score}
	if score != nil {
		grade, found, err := h.Engine.Scores.LookupGrade(r.Context(), periodID, *score)
		if err != nil {
			writeError(w, r, err, "grade_lookup_failed")
			return
		}
		if found {
			result.Grade = &grade
		}
	}
	api.Success(w, result, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleSteps(w http.ResponseWriter, r *http.Request) {
	view, err := h.Engine.Approvals.GetStepApproval(r.Context(), chi.URLParam(r, "periodID"), chi.URLParam(r, "employeeID"))
	if err != nil {
		writeError(w, r, err, "steps_failed")
		return
	}
	api.Success(w, view, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleApprove(w http.ResponseWriter, r *http.Request) {
	user, _ := middleware.GetUser(r.Context())
	step, ok := parseStep(w, r)
	if !ok {
		return
	}

	var payload struct {
		EvaluatorID string `json:"evaluatorId"`
	}
	if r.ContentLength != 0 && !shared.DecodeJSON(w, r, &payload, middleware.GetRequestID(r.Context())) {
		return
	}

	view, err := h.Engine.Approvals.Approve(r.Context(), evaluation.ApproveInput{
		Step:        step,
		PeriodID:    chi.URLParam(r, "periodID"),
		EmployeeID:  chi.URLParam(r, "employeeID"),
		ApproverID:  user.EmployeeID,
		EvaluatorID: payload.EvaluatorID,
	})
	if err != nil {
		writeError(w, r, err, "approve_failed")
		return
	}
	api.Success(w, view, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleRequestRevision(w http.ResponseWriter, r *http.Request) {
	user, _ := middleware.GetUser(r.Context())
	step, ok := parseStep(w, r)
	if !ok {
		return
	}

	var payload struct {
		Comment     string `json:"comment" validate:"required,max=2000"`
		EvaluatorID string `json:"evaluatorId"`
	}
	if !shared.DecodeJSON(w, r, &payload, middleware.GetRequestID(r.Context())) {
		return
	}

	req, err := h.Engine.Approvals.RequestRevision(r.Context(), evaluation.RevisionInput{
		Step:        step,
		PeriodID:    chi.URLParam(r, "periodID"),
		EmployeeID:  chi.URLParam(r, "employeeID"),
		Comment:     payload.Comment,
		RequestedBy: user.EmployeeID,
		EvaluatorID: payload.EvaluatorID,
	})
	if err != nil {
		writeError(w, r, err, "revision_request_failed")
		return
	}
	api.Created(w, req, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleListRevisionRequests(w http.ResponseWriter, r *http.Request) {
	reqs, err := h.Engine.Revisions.ListRevisionRequests(r.Context(), chi.URLParam(r, "periodID"), chi.URLParam(r, "employeeID"))
	if err != nil {
		writeError(w, r, err, "revision_list_failed")
		return
	}
	if reqs == nil {
		reqs = []evaluation.RevisionRequest{}
	}
	api.Success(w, reqs, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleCompleteRevision(w http.ResponseWriter, r *http.Request) {
	recipientID := chi.URLParam(r, "recipientID")
	if !h.ownsRecipient(w, r, recipientID) {
		return
	}

	var payload struct {
		ResponseComment string `json:"responseComment" validate:"max=2000"`
	}
	if r.ContentLength != 0 && !shared.DecodeJSON(w, r, &payload, middleware.GetRequestID(r.Context())) {
		return
	}

	req, err := h.Engine.Approvals.MarkRevisionComplete(r.Context(), recipientID, payload.ResponseComment)
	if err != nil {
		writeError(w, r, err, "revision_complete_failed")
		return
	}
	api.Success(w, req, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	recipientID := chi.URLParam(r, "recipientID")
	if !h.ownsRecipient(w, r, recipientID) {
		return
	}
	rec, err := h.Engine.Revisions.MarkRead(r.Context(), recipientID)
	if err != nil {
		writeError(w, r, err, "revision_read_failed")
		return
	}
	api.Success(w, rec, middleware.GetRequestID(r.Context()))
}

// ownsRecipient lets only the addressed employee act on a recipient row. HR
// may act for anyone.
func (h *Handler) ownsRecipient(w http.ResponseWriter, r *http.Request, recipientID string) bool {
	user, _ := middleware.GetUser(r.Context())
	rec, err := h.Engine.Revisions.GetRecipient(r.Context(), recipientID)
	if err != nil {
		writeError(w, r, err, "revision_lookup_failed")
		return false
	}
	if rec.RecipientID != user.EmployeeID && user.Role != auth.RoleHR {
		api.Fail(w, http.StatusForbidden, "forbidden", "revision request is addressed to someone else", middleware.GetRequestID(r.Context()))
		return false
	}
	return true
}

func (h *Handler) handleSaveScore(w http.ResponseWriter, r *http.Request) {
	user, _ := middleware.GetUser(r.Context())
	round, ok := parseRound(w, r)
	if !ok {
		return
	}

	var payload struct {
		Score   *float64 `json:"score" validate:"required,gte=0"`
		Comment string   `json:"comment" validate:"max=4000"`
	}
	if !shared.DecodeJSON(w, r, &payload, middleware.GetRequestID(r.Context())) {
		return
	}

	rec, err := h.Engine.Submissions.SaveDownwardScore(r.Context(), evaluation.SaveScoreInput{
		PeriodID:    chi.URLParam(r, "periodID"),
		EmployeeID:  chi.URLParam(r, "employeeID"),
		EvaluatorID: user.EmployeeID,
		WorkItemID:  chi.URLParam(r, "workItemID"),
		Round:       round,
		Score:       *payload.Score,
		Comment:     payload.Comment,
	})
	if err != nil {
		writeError(w, r, err, "score_save_failed")
		return
	}
	api.Success(w, rec, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleSubmitDownward(w http.ResponseWriter, r *http.Request) {
	user, _ := middleware.GetUser(r.Context())
	round, ok := parseRound(w, r)
	if !ok {
		return
	}
	records, err := h.Engine.Submissions.SubmitDownwardEvaluation(r.Context(), chi.URLParam(r, "periodID"), chi.URLParam(r, "employeeID"), user.EmployeeID, round)
	if err != nil {
		writeError(w, r, err, "submit_failed")
		return
	}
	api.Success(w, records, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleSubmitSelf(w http.ResponseWriter, r *http.Request) {
	user, _ := middleware.GetUser(r.Context())
	employeeID := chi.URLParam(r, "employeeID")
	if user.EmployeeID != employeeID && user.Role != auth.RoleHR {
		api.Fail(w, http.StatusForbidden, "forbidden", "only the employee can submit a self evaluation", middleware.GetRequestID(r.Context()))
		return
	}
	records, err := h.Engine.Submissions.SubmitSelfEvaluation(r.Context(), chi.URLParam(r, "periodID"), employeeID)
	if err != nil {
		writeError(w, r, err, "submit_failed")
		return
	}
	api.Success(w, records, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleRecordView(w http.ResponseWriter, r *http.Request) {
	user, _ := middleware.GetUser(r.Context())
	if err := h.Engine.Submissions.RecordView(r.Context(), chi.URLParam(r, "periodID"), chi.URLParam(r, "employeeID"), user.EmployeeID); err != nil {
		writeError(w, r, err, "view_record_failed")
		return
	}
	api.Success(w, map[string]string{"status": "recorded"}, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleEmployeeProgress(w http.ResponseWriter, r *http.Request) {
	user, _ := middleware.GetUser(r.Context())
	row, err := h.Engine.Progress.GetEmployeeProgress(r.Context(), chi.URLParam(r, "periodID"), chi.URLParam(r, "employeeID"), user.EmployeeID)
	if err != nil {
		writeError(w, r, err, "progress_failed")
		return
	}
	api.Success(w, row, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleMyTargetsProgress(w http.ResponseWriter, r *http.Request) {
	user, _ := middleware.GetUser(r.Context())
	rows, err := h.Engine.Progress.GetMyTargetsProgress(r.Context(), chi.URLParam(r, "periodID"), user.EmployeeID)
	if err != nil {
		writeError(w, r, err, "progress_failed")
		return
	}
	if rows == nil {
		rows = []evaluation.EmployeeProgress{}
	}
	w.Header().Set("X-Total-Count", strconv.Itoa(len(rows)))
	api.Success(w, rows, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleResultSheet(w http.ResponseWriter, r *http.Request) {
	periodID, employeeID := chi.URLParam(r, "periodID"), chi.URLParam(r, "employeeID")
	sheet, err := h.Engine.BuildResultSheet(r.Context(), periodID, employeeID)
	if err != nil {
		writeError(w, r, err, "result_sheet_failed")
		return
	}

	var buf bytes.Buffer
	if err := evaluation.RenderResultSheet(&buf, sheet); err != nil {
		slog.Error("result sheet render failed", "period", periodID, "employee", employeeID, "err", err)
		api.Fail(w, http.StatusInternalServerError, "result_sheet_failed", "failed to render result sheet", middleware.GetRequestID(r.Context()))
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=result-%s-%s.pdf", periodID, employeeID))
	if _, err := w.Write(buf.Bytes()); err != nil {
		slog.Warn("result sheet write failed", "err", err)
	}
}

func (h *Handler) handleListActivities(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())
	filter := activity.Filter{
		EmployeeID: chi.URLParam(r, "employeeID"),
		ActorID:    r.URL.Query().Get("actorId"),
		Type:       r.URL.Query().Get("type"),
	}
	if raw := r.URL.Query().Get("since"); raw != "" {
		v := shared.NewValidator()
		since, ok := v.Date("since", raw)
		if !ok {
			v.Reject(w, requestID)
			return
		}
		filter.Since = since
	}

	page := shared.ParsePagination(r, 50, 500)
	items, err := h.Activity.List(r.Context(), chi.URLParam(r, "periodID"), filter, page.Limit, page.Offset)
	if err != nil {
		writeError(w, r, err, "activity_list_failed")
		return
	}
	if items == nil {
		items = []evaluation.Activity{}
	}
	api.Success(w, items, requestID)
}

func parseRound(w http.ResponseWriter, r *http.Request) (evaluation.RoundType, bool) {
	round := evaluation.RoundType(chi.URLParam(r, "round"))
	if !round.Valid() {
		v := shared.NewValidator()
		v.Add("round", "must be primary or secondary")
		v.Reject(w, middleware.GetRequestID(r.Context()))
		return "", false
	}
	return round, true
}

func parseStep(w http.ResponseWriter, r *http.Request) (evaluation.Step, bool) {
	step := evaluation.Step(chi.URLParam(r, "step"))
	if !step.Valid() {
		v := shared.NewValidator()
		v.Add("step", "must be one of criteria_setting, self_evaluation, primary, secondary")
		v.Reject(w, middleware.GetRequestID(r.Context()))
		return "", false
	}
	return step, true
}
