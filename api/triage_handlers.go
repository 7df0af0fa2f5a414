package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"aegis/core"
	"aegis/service"
	"aegis/storage"
)

// triageFailure is the error body triage endpoints return when the AI
// pipeline fails after the alert was located.
type triageFailure struct {
	Success          bool   `json:"success"`
	Error            string `json:"error"`
	ProcessingTimeMs int64  `json:"processingTimeMs"`
	AlertID          string `json:"alertId"`
	Title            string `json:"title,omitempty"`
	Severity         int    `json:"severity,omitempty"`
}

// requestIdentity pulls the caller identity injected by the auth middleware.
func (a *API) requestIdentity(w http.ResponseWriter, r *http.Request) (org, user string, ok bool) {
	org, okOrg := GetOrganizationID(r.Context())
	user, okUser := GetUsername(r.Context())
	if !okOrg || !okUser || org == "" {
		http.Error(w, "Authorization required", http.StatusUnauthorized)
		return "", "", false
	}
	return org, user, true
}

// alertIDParam validates the {id} path parameter.
func (a *API) alertIDParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := mux.Vars(r)["id"]
	if err := validateResourceID(id); err != nil {
		a.writeError(w, r, "invalid alert ID", http.StatusBadRequest)
		return "", false
	}
	return id, true
}

// writeTriageError maps a triage pipeline error onto the HTTP surface:
// 404 for unknown alerts, 400 for missing preconditions, and the structured
// 500 failure body for provider or parse failures.
func (a *API) writeTriageError(w http.ResponseWriter, r *http.Request, alertID, organizationID string, err error, elapsed time.Duration) {
	switch {
	case errors.Is(err, storage.ErrAlertNotFound):
		a.writeError(w, r, "alert not found", http.StatusNotFound)
		return
	case errors.Is(err, service.ErrAnalysisRequired):
		a.writeError(w, r, err.Error(), http.StatusBadRequest)
		return
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		// Provider timeouts wrap context.DeadlineExceeded too; only a dead
		// request context means the caller actually went away.
		if r.Context().Err() != nil {
			a.writeError(w, r, "request cancelled", http.StatusServiceUnavailable)
			return
		}
	}

	a.logger.Errorw("Triage operation failed",
		"alertId", alertID,
		"path", r.URL.Path,
		"error", err)

	failure := triageFailure{
		Success:          false,
		Error:            sanitizeErrorMessage(err.Error()),
		ProcessingTimeMs: elapsed.Milliseconds(),
		AlertID:          alertID,
	}
	// Best effort: include alert context in the failure body when the row
	// is still readable.
	if alert, lookErr := a.deps.Alerts.GetAlert(r.Context(), alertID, organizationID); lookErr == nil {
		failure.Title = alert.Title
		failure.Severity = alert.Severity
	}
	a.writeJSON(w, http.StatusInternalServerError, failure)
}

// handleAIAnalysis runs the full AI analysis for an alert.
//
//	@Summary	Analyze an alert
//	@Tags		triage
//	@Produce	json
//	@Param		id	path		string	true	"Alert ID"
//	@Success	200	{object}	service.AnalysisResult
//	@Failure	404	{string}	string	"alert not found"
//	@Failure	500	{object}	triageFailure
//	@Security	BearerAuth
//	@Router		/api/alerts/{id}/ai-analysis [post]
func (a *API) handleAIAnalysis(w http.ResponseWriter, r *http.Request) {
	alertID, ok := a.alertIDParam(w, r)
	if !ok {
		return
	}
	org, user, ok := a.requestIdentity(w, r)
	if !ok {
		return
	}

	start := time.Now()
	result, err := a.deps.Analysis.PerformAnalysis(r.Context(), alertID, org, user)
	if err != nil {
		a.writeTriageError(w, r, alertID, org, err, time.Since(start))
		return
	}
	a.writeJSON(w, http.StatusOK, result)
}

type classificationRequest struct {
	RefreshAnalysis bool `json:"refreshAnalysis"`
}

// handleAIClassification runs the focused event-type classification.
//
//	@Summary	Classify an alert
//	@Tags		triage
//	@Accept		json
//	@Produce	json
//	@Param		id		path		string					true	"Alert ID"
//	@Param		body	body		classificationRequest	false	"Options"
//	@Success	200		{object}	service.ClassificationResult
//	@Failure	404		{string}	string	"alert not found"
//	@Failure	500		{object}	triageFailure
//	@Security	BearerAuth
//	@Router		/api/alerts/{id}/ai-classification [post]
func (a *API) handleAIClassification(w http.ResponseWriter, r *http.Request) {
	alertID, ok := a.alertIDParam(w, r)
	if !ok {
		return
	}
	org, user, ok := a.requestIdentity(w, r)
	if !ok {
		return
	}

	var req classificationRequest
	if r.URL.Query().Get("refreshAnalysis") == "true" {
		req.RefreshAnalysis = true
	}
	if r.ContentLength > 0 {
		if err := decodeJSONBodyWithLimit(w, r, &req, a.config.Security.JSONBodyLimit); err != nil {
			a.writeError(w, r, err.Error(), http.StatusBadRequest)
			return
		}
	}

	start := time.Now()
	result, err := a.deps.Classification.PerformClassification(r.Context(), alertID, org, user, req.RefreshAnalysis)
	if err != nil {
		a.writeTriageError(w, r, alertID, org, err, time.Since(start))
		return
	}
	a.writeJSON(w, http.StatusOK, result)
}

type generatePlaybooksRequest struct {
	ForceRegenerate bool `json:"forceRegenerate"`
}

// handleGeneratePlaybooks generates both typed playbooks for an alert.
// 201 for fresh or forced generation (including partial success), 200 when
// existing playbooks are reused untouched.
//
//	@Summary	Generate response playbooks
//	@Tags		triage
//	@Accept		json
//	@Produce	json
//	@Param		id		path		string						true	"Alert ID"
//	@Param		body	body		generatePlaybooksRequest	false	"Options"
//	@Success	200		{object}	service.GenerationOutcome	"existing playbooks reused"
//	@Success	201		{object}	service.GenerationOutcome	"playbooks generated"
//	@Failure	400		{string}	string	"analysis required"
//	@Failure	404		{string}	string	"alert not found"
//	@Failure	500		{object}	triageFailure	"both generations failed"
//	@Security	BearerAuth
//	@Router		/api/alerts/{id}/generate-playbooks [post]
func (a *API) handleGeneratePlaybooks(w http.ResponseWriter, r *http.Request) {
	alertID, ok := a.alertIDParam(w, r)
	if !ok {
		return
	}
	org, user, ok := a.requestIdentity(w, r)
	if !ok {
		return
	}

	var req generatePlaybooksRequest
	if r.ContentLength > 0 {
		if err := decodeJSONBodyWithLimit(w, r, &req, a.config.Security.JSONBodyLimit); err != nil {
			a.writeError(w, r, err.Error(), http.StatusBadRequest)
			return
		}
	}

	start := time.Now()
	outcome, err := a.deps.Playbooks.GeneratePlaybooks(r.Context(), alertID, org, user, req.ForceRegenerate)
	if err != nil {
		a.writeTriageError(w, r, alertID, org, err, time.Since(start))
		return
	}

	status := http.StatusCreated
	if outcome.Reused {
		status = http.StatusOK
	}
	a.writeJSON(w, status, outcome)
}

func (a *API) handleGenerateImmediatePlaybook(w http.ResponseWriter, r *http.Request) {
	a.handleGenerateSingle(w, r, core.PlaybookTypeImmediateAction)
}

func (a *API) handleGenerateInvestigationPlaybook(w http.ResponseWriter, r *http.Request) {
	a.handleGenerateSingle(w, r, core.PlaybookTypeInvestigation)
}

// handleGenerateSingle generates one playbook type: 201 on create, 200 on
// in-place regeneration.
func (a *API) handleGenerateSingle(w http.ResponseWriter, r *http.Request, playbookType core.PlaybookType) {
	alertID, ok := a.alertIDParam(w, r)
	if !ok {
		return
	}
	org, user, ok := a.requestIdentity(w, r)
	if !ok {
		return
	}

	start := time.Now()
	var outcome *service.SinglePlaybookOutcome
	var err error
	if playbookType == core.PlaybookTypeImmediateAction {
		outcome, err = a.deps.Playbooks.GenerateImmediatePlaybook(r.Context(), alertID, org, user)
	} else {
		outcome, err = a.deps.Playbooks.GenerateInvestigationPlaybook(r.Context(), alertID, org, user)
	}
	if err != nil {
		a.writeTriageError(w, r, alertID, org, err, time.Since(start))
		return
	}

	status := http.StatusCreated
	if outcome.Updated {
		status = http.StatusOK
	}
	a.writeJSON(w, status, outcome)
}

// handleListAlertPlaybooks returns the AI-generated playbooks for an alert.
//
//	@Summary	List alert playbooks
//	@Tags		triage
//	@Produce	json
//	@Param		id	path	string	true	"Alert ID"
//	@Success	200	{array}	core.Playbook
//	@Security	BearerAuth
//	@Router		/api/alerts/{id}/playbooks [get]
func (a *API) handleListAlertPlaybooks(w http.ResponseWriter, r *http.Request) {
	alertID, ok := a.alertIDParam(w, r)
	if !ok {
		return
	}
	org, _, ok := a.requestIdentity(w, r)
	if !ok {
		return
	}

	// A missing alert is a 404 even when it simply has no playbooks.
	if _, err := a.deps.Alerts.GetAlert(r.Context(), alertID, org); err != nil {
		if errors.Is(err, storage.ErrAlertNotFound) {
			a.writeError(w, r, "alert not found", http.StatusNotFound)
		} else {
			a.writeError(w, r, "failed to load alert", http.StatusInternalServerError)
		}
		return
	}

	playbooks, err := a.deps.PlaybookReader.ListPlaybooksForAlert(r.Context(), alertID, org)
	if err != nil {
		a.writeError(w, r, "failed to list playbooks", http.StatusInternalServerError)
		return
	}
	if playbooks == nil {
		playbooks = []core.Playbook{}
	}
	a.writeJSON(w, http.StatusOK, playbooks)
}

// handleDeleteAlertPlaybooks removes all AI-generated playbooks for an alert
// and clears the alert's references.
//
//	@Summary	Delete alert playbooks
//	@Tags		triage
//	@Produce	json
//	@Param		id	path		string	true	"Alert ID"
//	@Success	200	{object}	map[string]interface{}
//	@Security	BearerAuth
//	@Router		/api/alerts/{id}/playbooks [delete]
func (a *API) handleDeleteAlertPlaybooks(w http.ResponseWriter, r *http.Request) {
	alertID, ok := a.alertIDParam(w, r)
	if !ok {
		return
	}
	org, user, ok := a.requestIdentity(w, r)
	if !ok {
		return
	}

	start := time.Now()
	deleted, err := a.deps.Playbooks.DeleteGeneratedPlaybooks(r.Context(), alertID, org, user)
	if err != nil {
		a.writeTriageError(w, r, alertID, org, err, time.Since(start))
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":      true,
		"deletedCount": deleted,
	})
}

func (a *API) handleGenerationStatus(w http.ResponseWriter, r *http.Request) {
	alertID, ok := a.alertIDParam(w, r)
	if !ok {
		return
	}
	org, _, ok := a.requestIdentity(w, r)
	if !ok {
		return
	}

	status, err := a.deps.Playbooks.GetGenerationStatus(r.Context(), alertID, org)
	if err != nil {
		if errors.Is(err, storage.ErrAlertNotFound) {
			a.writeError(w, r, "alert not found", http.StatusNotFound)
			return
		}
		a.writeError(w, r, "failed to load generation status", http.StatusInternalServerError)
		return
	}
	a.writeJSON(w, http.StatusOK, status)
}

func (a *API) handleGenerationPreview(w http.ResponseWriter, r *http.Request) {
	alertID, ok := a.alertIDParam(w, r)
	if !ok {
		return
	}
	org, _, ok := a.requestIdentity(w, r)
	if !ok {
		return
	}

	preview, err := a.deps.Playbooks.BuildGenerationPreview(r.Context(), alertID, org)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrAlertNotFound):
			a.writeError(w, r, "alert not found", http.StatusNotFound)
		case errors.Is(err, service.ErrAnalysisRequired):
			a.writeError(w, r, err.Error(), http.StatusBadRequest)
		default:
			a.writeError(w, r, "failed to build preview", http.StatusInternalServerError)
		}
		return
	}
	a.writeJSON(w, http.StatusOK, preview)
}

// handleGetPlaybook fetches one playbook by ID, org-scoped.
func (a *API) handleGetPlaybook(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := validateResourceID(id); err != nil {
		a.writeError(w, r, "invalid playbook ID", http.StatusBadRequest)
		return
	}
	org, _, ok := a.requestIdentity(w, r)
	if !ok {
		return
	}

	playbook, err := a.deps.PlaybookReader.GetPlaybook(r.Context(), id, org)
	if err != nil {
		if errors.Is(err, storage.ErrPlaybookNotFound) {
			a.writeError(w, r, "playbook not found", http.StatusNotFound)
			return
		}
		a.writeError(w, r, "failed to load playbook", http.StatusInternalServerError)
		return
	}
	a.writeJSON(w, http.StatusOK, playbook)
}
