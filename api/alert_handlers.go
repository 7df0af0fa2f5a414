package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"aegis/core"
	"aegis/storage"
)

type createAlertRequest struct {
	Title          string                 `json:"title" validate:"required,max=512"`
	Description    string                 `json:"description" validate:"max=10000"`
	Severity       int                    `json:"severity" validate:"required,min=1,max=5"`
	Status         string                 `json:"status" validate:"omitempty,oneof=open investigating resolved closed"`
	SourceSystem   string                 `json:"sourceSystem" validate:"max=128"`
	AssetID        *string                `json:"assetId"`
	RawData        map[string]interface{} `json:"rawData"`
	EnrichmentData map[string]interface{} `json:"enrichmentData"`
}

// handleCreateAlert ingests an alert. This is the stand-in for upstream
// SIEM/EDR ingestion; triage endpoints operate on the stored row.
//
//	@Summary	Create an alert
//	@Tags		alerts
//	@Accept		json
//	@Produce	json
//	@Param		alert	body		createAlertRequest	true	"Alert"
//	@Success	201		{object}	core.Alert
//	@Failure	400		{string}	string	"validation failure"
//	@Security	BearerAuth
//	@Router		/api/alerts [post]
func (a *API) handleCreateAlert(w http.ResponseWriter, r *http.Request) {
	org, user, ok := a.requestIdentity(w, r)
	if !ok {
		return
	}

	var req createAlertRequest
	if err := decodeJSONBodyWithLimit(w, r, &req, a.config.Security.JSONBodyLimit); err != nil {
		a.writeError(w, r, err.Error(), http.StatusBadRequest)
		return
	}
	if err := requestValidator.Struct(&req); err != nil {
		a.writeError(w, r, validationMessage(err), http.StatusBadRequest)
		return
	}

	alert := core.NewAlert(org, req.Title, req.Severity)
	alert.Description = req.Description
	alert.SourceSystem = req.SourceSystem
	alert.AssetID = req.AssetID
	alert.RawData = req.RawData
	alert.EnrichmentData = req.EnrichmentData
	alert.CreatedBy = user
	if req.Status != "" {
		alert.Status = core.AlertStatus(req.Status)
	}

	if err := alert.Validate(); err != nil {
		a.writeError(w, r, err.Error(), http.StatusBadRequest)
		return
	}

	if err := a.deps.Alerts.CreateAlert(r.Context(), alert); err != nil {
		a.writeError(w, r, "failed to create alert", http.StatusInternalServerError)
		return
	}
	a.writeJSON(w, http.StatusCreated, alert)
}

// handleListAlerts lists alerts for the caller's organization with optional
// severity/status filters.
//
//	@Summary	List alerts
//	@Tags		alerts
//	@Produce	json
//	@Param		limit		query	int		false	"Page size (max 200)"
//	@Param		offset		query	int		false	"Offset"
//	@Param		severity	query	int		false	"Exact severity filter"
//	@Param		status		query	string	false	"Status filter"
//	@Success	200			{array}	core.Alert
//	@Security	BearerAuth
//	@Router		/api/alerts [get]
func (a *API) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	org, _, ok := a.requestIdentity(w, r)
	if !ok {
		return
	}
	limit, offset := parseLimitOffset(r, 50, 200)

	alerts, err := a.deps.Alerts.ListAlerts(r.Context(), org, limit, offset)
	if err != nil {
		a.writeError(w, r, "failed to list alerts", http.StatusInternalServerError)
		return
	}

	filtered := alerts[:0]
	severityFilter := -1
	if s := r.URL.Query().Get("severity"); s != "" {
		if parsed, err := strconv.Atoi(s); err == nil {
			severityFilter = parsed
		}
	}
	statusFilter := r.URL.Query().Get("status")
	for _, alert := range alerts {
		if severityFilter >= 0 && alert.Severity != severityFilter {
			continue
		}
		if statusFilter != "" && string(alert.Status) != statusFilter {
			continue
		}
		filtered = append(filtered, alert)
	}
	if filtered == nil {
		filtered = []core.Alert{}
	}
	a.writeJSON(w, http.StatusOK, filtered)
}

// handleGetAlert fetches one alert, org-scoped.
//
//	@Summary	Get an alert
//	@Tags		alerts
//	@Produce	json
//	@Param		id	path		string	true	"Alert ID"
//	@Success	200	{object}	core.Alert
//	@Failure	404	{string}	string	"alert not found"
//	@Security	BearerAuth
//	@Router		/api/alerts/{id} [get]
func (a *API) handleGetAlert(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := validateResourceID(id); err != nil {
		a.writeError(w, r, "invalid alert ID", http.StatusBadRequest)
		return
	}
	org, _, ok := a.requestIdentity(w, r)
	if !ok {
		return
	}

	alert, err := a.deps.Alerts.GetAlert(r.Context(), id, org)
	if err != nil {
		if errors.Is(err, storage.ErrAlertNotFound) {
			a.writeError(w, r, "alert not found", http.StatusNotFound)
			return
		}
		a.writeError(w, r, "failed to load alert", http.StatusInternalServerError)
		return
	}
	a.writeJSON(w, http.StatusOK, alert)
}
