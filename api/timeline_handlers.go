package api

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"aegis/core"
	"aegis/storage"
)

// handleGetTimeline returns the audit timeline for an alert, newest first.
//
//	@Summary	Get alert timeline
//	@Tags		timeline
//	@Produce	json
//	@Param		id		path		string	true	"Alert ID"
//	@Param		limit	query		int		false	"Page size (max 500)"
//	@Param		offset	query		int		false	"Offset"
//	@Success	200		{object}	map[string]interface{}
//	@Security	BearerAuth
//	@Router		/api/alerts/{id}/timeline [get]
func (a *API) handleGetTimeline(w http.ResponseWriter, r *http.Request) {
	alertID, ok := a.alertIDParam(w, r)
	if !ok {
		return
	}
	org, _, ok := a.requestIdentity(w, r)
	if !ok {
		return
	}
	limit, offset := parseLimitOffset(r, 100, 500)

	events, err := a.deps.Recorder.ListTimeline(r.Context(), alertID, org, limit, offset)
	if err != nil {
		a.writeError(w, r, "failed to load timeline", http.StatusInternalServerError)
		return
	}
	if events == nil {
		events = []core.TimelineEvent{}
	}
	a.writeJSON(w, http.StatusOK, map[string]interface{}{
		"alertId": alertID,
		"events":  events,
		"count":   len(events),
	})
}

// handleDeleteTimelineEvent removes a single timeline event.
//
//	@Summary	Delete a timeline event
//	@Tags		timeline
//	@Produce	json
//	@Param		id		path		string	true	"Alert ID"
//	@Param		eventId	path		string	true	"Timeline event ID"
//	@Success	200		{object}	map[string]interface{}
//	@Failure	404		{string}	string	"event not found"
//	@Security	BearerAuth
//	@Router		/api/alerts/{id}/timeline/{eventId} [delete]
func (a *API) handleDeleteTimelineEvent(w http.ResponseWriter, r *http.Request) {
	alertID, ok := a.alertIDParam(w, r)
	if !ok {
		return
	}
	eventID := mux.Vars(r)["eventId"]
	if err := validateResourceID(eventID); err != nil {
		a.writeError(w, r, "invalid event ID", http.StatusBadRequest)
		return
	}
	org, _, ok := a.requestIdentity(w, r)
	if !ok {
		return
	}

	if err := a.deps.Recorder.DeleteTimelineEvent(r.Context(), eventID, alertID, org); err != nil {
		if errors.Is(err, storage.ErrTimelineEventNotFound) {
			a.writeError(w, r, "timeline event not found", http.StatusNotFound)
			return
		}
		a.writeError(w, r, "failed to delete timeline event", http.StatusInternalServerError)
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

// handleActivityLog returns the AI activity audit log for the caller's
// organization, optionally filtered by agent.
//
//	@Summary	Get AI activity log
//	@Tags		activity
//	@Produce	json
//	@Param		agent	query		string	false	"Agent name filter"
//	@Param		limit	query		int		false	"Max entries (max 500)"
//	@Success	200		{object}	map[string]interface{}
//	@Security	BearerAuth
//	@Router		/api/activity-log [get]
func (a *API) handleActivityLog(w http.ResponseWriter, r *http.Request) {
	org, _, ok := a.requestIdentity(w, r)
	if !ok {
		return
	}
	limit, _ := parseLimitOffset(r, 50, 500)
	agent := r.URL.Query().Get("agent")

	entries, err := a.deps.Recorder.ListActivity(r.Context(), org, agent, limit)
	if err != nil {
		a.writeError(w, r, "failed to load activity log", http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []core.ActivityLogEntry{}
	}
	a.writeJSON(w, http.StatusOK, map[string]interface{}{
		"entries": entries,
		"count":   len(entries),
	})
}
