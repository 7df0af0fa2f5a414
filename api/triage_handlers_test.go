package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"aegis/aigateway"
	"aegis/core"
	"aegis/service"
	"aegis/storage"
)

func doRequest(a *API, method, path string, body []byte) *httptest.ResponseRecorder {
	var req *http.Request
	if body != nil {
		req = httptest.NewRequest(method, path, bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	a.Router().ServeHTTP(rec, req)
	return rec
}

func TestHandleAIAnalysis_Success(t *testing.T) {
	a, m := newTestAPI(testConfig())

	result := &service.AnalysisResult{
		AlertID:  "alert-1",
		Title:    "Suspicious outbound traffic",
		Severity: 4,
		Analysis: &core.AIAnalysis{
			Summary:           "C2 beaconing detected",
			SecurityEventType: "malware_infection",
			Confidence:        0.9,
		},
		Usage:            aigateway.Usage{PromptTokens: 500, CompletionTokens: 300},
		ProcessingTimeMs: 1200,
	}
	m.analysis.On("PerformAnalysis", mock.Anything, "alert-1", "org-1", "anonymous").Return(result, nil)

	rec := doRequest(a, "POST", "/api/alerts/alert-1/ai-analysis", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var got service.AnalysisResult
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	assert.Equal(t, "alert-1", got.AlertID)
	assert.Equal(t, "malware_infection", got.Analysis.SecurityEventType)
	m.analysis.AssertExpectations(t)
}

func TestHandleAIAnalysis_AlertNotFound(t *testing.T) {
	a, m := newTestAPI(testConfig())
	m.analysis.On("PerformAnalysis", mock.Anything, "alert-missing", "org-1", "anonymous").
		Return(nil, storage.ErrAlertNotFound)

	rec := doRequest(a, "POST", "/api/alerts/alert-missing/ai-analysis", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleAIAnalysis_ProviderFailureShape(t *testing.T) {
	a, m := newTestAPI(testConfig())
	// The client classifies a provider timeout by wrapping the deadline
	// error; it must still render as the structured 500 failure, not as a
	// caller cancellation.
	m.analysis.On("PerformAnalysis", mock.Anything, "alert-1", "org-1", "anonymous").
		Return(nil, &aigateway.TimeoutError{Provider: "openai", Err: context.DeadlineExceeded})
	m.alerts.On("GetAlert", mock.Anything, "alert-1", "org-1").
		Return(&core.Alert{ID: "alert-1", Title: "Beaconing", Severity: 4}, nil)

	rec := doRequest(a, "POST", "/api/alerts/alert-1/ai-analysis", nil)
	require.Equal(t, http.StatusInternalServerError, rec.Code)

	var failure map[string]interface{}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&failure))
	assert.Equal(t, false, failure["success"])
	assert.Equal(t, "alert-1", failure["alertId"])
	assert.Equal(t, "Beaconing", failure["title"])
	assert.Equal(t, float64(4), failure["severity"])
	assert.NotEmpty(t, failure["error"])
	assert.Contains(t, failure, "processingTimeMs")
}

func TestHandleAIAnalysis_CallerCancelled(t *testing.T) {
	a, m := newTestAPI(testConfig())
	m.analysis.On("PerformAnalysis", mock.Anything, "alert-1", "org-1", "anonymous").
		Return(nil, context.Canceled)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest("POST", "/api/alerts/alert-1/ai-analysis", nil).WithContext(ctx)
	rec := httptest.NewRecorder()
	a.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHandleAIAnalysis_InvalidID(t *testing.T) {
	a, _ := newTestAPI(testConfig())
	rec := doRequest(a, "POST", "/api/alerts/%2e%2e%2fetc/ai-analysis", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleAIClassification_RefreshFromBody(t *testing.T) {
	a, m := newTestAPI(testConfig())
	result := &service.ClassificationResult{AlertID: "alert-1", SecurityEventType: "data_exfiltration"}
	m.classification.On("PerformClassification", mock.Anything, "alert-1", "org-1", "anonymous", true).
		Return(result, nil)

	rec := doRequest(a, "POST", "/api/alerts/alert-1/ai-classification", []byte(`{"refreshAnalysis":true}`))
	require.Equal(t, http.StatusOK, rec.Code)
	m.classification.AssertExpectations(t)
}

func TestHandleAIClassification_DefaultsToCached(t *testing.T) {
	a, m := newTestAPI(testConfig())
	result := &service.ClassificationResult{AlertID: "alert-1", SecurityEventType: "phishing_attempt", Cached: true}
	m.classification.On("PerformClassification", mock.Anything, "alert-1", "org-1", "anonymous", false).
		Return(result, nil)

	rec := doRequest(a, "POST", "/api/alerts/alert-1/ai-classification", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var got service.ClassificationResult
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	assert.True(t, got.Cached)
}

func TestHandleAIClassification_RejectsUnknownFields(t *testing.T) {
	a, _ := newTestAPI(testConfig())
	rec := doRequest(a, "POST", "/api/alerts/alert-1/ai-classification", []byte(`{"refresh":true}`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleGeneratePlaybooks_Created(t *testing.T) {
	a, m := newTestAPI(testConfig())
	outcome := &service.GenerationOutcome{
		ImmediatePlaybook:     &core.Playbook{ID: "pb-imm00001"},
		InvestigationPlaybook: &core.Playbook{ID: "pb-inv00001"},
		InputTokens:           900,
		OutputTokens:          700,
	}
	m.playbooks.On("GeneratePlaybooks", mock.Anything, "alert-1", "org-1", "anonymous", false).
		Return(outcome, nil)

	rec := doRequest(a, "POST", "/api/alerts/alert-1/generate-playbooks", nil)
	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestHandleGeneratePlaybooks_ReuseReturns200(t *testing.T) {
	a, m := newTestAPI(testConfig())
	outcome := &service.GenerationOutcome{
		ImmediatePlaybook:     &core.Playbook{ID: "pb-imm00001"},
		InvestigationPlaybook: &core.Playbook{ID: "pb-inv00001"},
		Reused:                true,
	}
	m.playbooks.On("GeneratePlaybooks", mock.Anything, "alert-1", "org-1", "anonymous", false).
		Return(outcome, nil)

	rec := doRequest(a, "POST", "/api/alerts/alert-1/generate-playbooks", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var got service.GenerationOutcome
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	assert.False(t, got.Regenerated)
	assert.True(t, got.Reused)
}

func TestHandleGeneratePlaybooks_ForceFlag(t *testing.T) {
	a, m := newTestAPI(testConfig())
	outcome := &service.GenerationOutcome{Regenerated: true}
	m.playbooks.On("GeneratePlaybooks", mock.Anything, "alert-1", "org-1", "anonymous", true).
		Return(outcome, nil)

	rec := doRequest(a, "POST", "/api/alerts/alert-1/generate-playbooks", []byte(`{"forceRegenerate":true}`))
	assert.Equal(t, http.StatusCreated, rec.Code)
	m.playbooks.AssertExpectations(t)
}

func TestHandleGeneratePlaybooks_PartialFailureStill201(t *testing.T) {
	a, m := newTestAPI(testConfig())
	outcome := &service.GenerationOutcome{
		ImmediatePlaybook: &core.Playbook{ID: "pb-imm00001"},
		PartialFailure: &service.PartialFailure{
			FailedType: core.PlaybookTypeInvestigation,
			Error:      "request to openai timed out",
		},
	}
	m.playbooks.On("GeneratePlaybooks", mock.Anything, "alert-1", "org-1", "anonymous", false).
		Return(outcome, nil)

	rec := doRequest(a, "POST", "/api/alerts/alert-1/generate-playbooks", nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	var got service.GenerationOutcome
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	require.NotNil(t, got.PartialFailure)
	assert.Equal(t, core.PlaybookTypeInvestigation, got.PartialFailure.FailedType)
}

func TestHandleGeneratePlaybooks_AnalysisRequired(t *testing.T) {
	a, m := newTestAPI(testConfig())
	m.playbooks.On("GeneratePlaybooks", mock.Anything, "alert-1", "org-1", "anonymous", false).
		Return(nil, service.ErrAnalysisRequired)

	rec := doRequest(a, "POST", "/api/alerts/alert-1/generate-playbooks", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleGenerateSingle_CreatedAndUpdated(t *testing.T) {
	a, m := newTestAPI(testConfig())
	m.playbooks.On("GenerateImmediatePlaybook", mock.Anything, "alert-1", "org-1", "anonymous").
		Return(&service.SinglePlaybookOutcome{Playbook: &core.Playbook{ID: "pb-imm00001"}, Updated: false}, nil)
	m.playbooks.On("GenerateInvestigationPlaybook", mock.Anything, "alert-1", "org-1", "anonymous").
		Return(&service.SinglePlaybookOutcome{Playbook: &core.Playbook{ID: "pb-inv00001"}, Updated: true}, nil)

	rec := doRequest(a, "POST", "/api/alerts/alert-1/generate-immediate-playbook", nil)
	assert.Equal(t, http.StatusCreated, rec.Code)

	rec = doRequest(a, "POST", "/api/alerts/alert-1/generate-investigation-playbook", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleListAlertPlaybooks(t *testing.T) {
	a, m := newTestAPI(testConfig())
	m.alerts.On("GetAlert", mock.Anything, "alert-1", "org-1").
		Return(&core.Alert{ID: "alert-1"}, nil)
	m.playbookReader.On("ListPlaybooksForAlert", mock.Anything, "alert-1", "org-1").
		Return([]core.Playbook{{ID: "pb-imm00001"}, {ID: "pb-inv00001"}}, nil)

	rec := doRequest(a, "GET", "/api/alerts/alert-1/playbooks", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var got []core.Playbook
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	assert.Len(t, got, 2)
}

func TestHandleListAlertPlaybooks_UnknownAlert(t *testing.T) {
	a, m := newTestAPI(testConfig())
	m.alerts.On("GetAlert", mock.Anything, "alert-missing", "org-1").
		Return(nil, storage.ErrAlertNotFound)

	rec := doRequest(a, "GET", "/api/alerts/alert-missing/playbooks", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleDeleteAlertPlaybooks(t *testing.T) {
	a, m := newTestAPI(testConfig())
	m.playbooks.On("DeleteGeneratedPlaybooks", mock.Anything, "alert-1", "org-1", "anonymous").
		Return(int64(2), nil)

	rec := doRequest(a, "DELETE", "/api/alerts/alert-1/playbooks", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var got map[string]interface{}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	assert.Equal(t, true, got["success"])
	assert.Equal(t, float64(2), got["deletedCount"])
}

func TestHandleGenerationStatus(t *testing.T) {
	a, m := newTestAPI(testConfig())
	m.playbooks.On("GetGenerationStatus", mock.Anything, "alert-1", "org-1").
		Return(&service.GenerationStatus{
			AlertID:              "alert-1",
			HasAIAnalysis:        true,
			CanGeneratePlaybooks: true,
			TriageState:          "analyzed",
		}, nil)

	rec := doRequest(a, "GET", "/api/alerts/alert-1/playbooks/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var got service.GenerationStatus
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	assert.True(t, got.CanGeneratePlaybooks)
}

func TestHandleGenerationPreview_RequiresAnalysis(t *testing.T) {
	a, m := newTestAPI(testConfig())
	m.playbooks.On("BuildGenerationPreview", mock.Anything, "alert-1", "org-1").
		Return(nil, service.ErrAnalysisRequired)

	rec := doRequest(a, "GET", "/api/alerts/alert-1/playbooks/preview", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleGetPlaybook(t *testing.T) {
	a, m := newTestAPI(testConfig())
	m.playbookReader.On("GetPlaybook", mock.Anything, "pb-imm00001", "org-1").
		Return(&core.Playbook{ID: "pb-imm00001", Name: "Containment"}, nil)
	m.playbookReader.On("GetPlaybook", mock.Anything, "pb-nothere", "org-1").
		Return(nil, storage.ErrPlaybookNotFound)

	rec := doRequest(a, "GET", "/api/playbooks/pb-imm00001", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(a, "GET", "/api/playbooks/pb-nothere", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleCreateAlert(t *testing.T) {
	a, m := newTestAPI(testConfig())
	m.alerts.On("CreateAlert", mock.Anything, mock.MatchedBy(func(alert *core.Alert) bool {
		return alert.OrganizationID == "org-1" && alert.Title == "Lateral movement" && alert.Severity == 5
	})).Return(nil)

	body := []byte(`{"title":"Lateral movement","description":"psexec from workstation","severity":5,"sourceSystem":"edr"}`)
	rec := doRequest(a, "POST", "/api/alerts", body)
	require.Equal(t, http.StatusCreated, rec.Code)

	var got core.Alert
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	assert.NotEmpty(t, got.ID)
	assert.Equal(t, core.AlertStatusOpen, got.Status)
	assert.Equal(t, int64(1), got.Version)
}

func TestHandleCreateAlert_RejectsInvalidSeverity(t *testing.T) {
	a, _ := newTestAPI(testConfig())
	rec := doRequest(a, "POST", "/api/alerts", []byte(`{"title":"x","severity":9}`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleListAlerts_SeverityFilter(t *testing.T) {
	a, m := newTestAPI(testConfig())
	m.alerts.On("ListAlerts", mock.Anything, "org-1", 50, 0).Return([]core.Alert{
		{ID: "alert-1", Severity: 5, Status: core.AlertStatusOpen},
		{ID: "alert-2", Severity: 3, Status: core.AlertStatusOpen},
		{ID: "alert-3", Severity: 5, Status: core.AlertStatusClosed},
	}, nil)

	rec := doRequest(a, "GET", "/api/alerts?severity=5&status=open", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var got []core.Alert
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	require.Len(t, got, 1)
	assert.Equal(t, "alert-1", got[0].ID)
}

func TestHandleGetTimeline(t *testing.T) {
	a, m := newTestAPI(testConfig())
	m.timeline.events = []core.TimelineEvent{
		{ID: "tl-1", AlertID: "alert-1", OrganizationID: "org-1", Title: "AI analysis completed"},
		{ID: "tl-2", AlertID: "alert-1", OrganizationID: "org-2", Title: "other org"},
	}

	rec := doRequest(a, "GET", "/api/alerts/alert-1/timeline", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var got struct {
		AlertID string               `json:"alertId"`
		Events  []core.TimelineEvent `json:"events"`
		Count   int                  `json:"count"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	assert.Equal(t, 1, got.Count)
	assert.Equal(t, "tl-1", got.Events[0].ID)
}

func TestHandleDeleteTimelineEvent(t *testing.T) {
	a, m := newTestAPI(testConfig())
	m.timeline.events = []core.TimelineEvent{
		{ID: "tl-1", AlertID: "alert-1", OrganizationID: "org-1"},
	}

	rec := doRequest(a, "DELETE", "/api/alerts/alert-1/timeline/tl-1", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, m.timeline.events)

	rec = doRequest(a, "DELETE", "/api/alerts/alert-1/timeline/tl-1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleActivityLog(t *testing.T) {
	a, m := newTestAPI(testConfig())
	m.activity.entries = []core.ActivityLogEntry{
		{ID: "act-1", OrganizationID: "org-1", AgentName: core.AgentAlertAnalysis},
		{ID: "act-2", OrganizationID: "org-1", AgentName: core.AgentPlaybookGeneration},
		{ID: "act-3", OrganizationID: "org-2", AgentName: core.AgentAlertAnalysis},
	}

	rec := doRequest(a, "GET", "/api/activity-log?agent=alert_analysis", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var got struct {
		Entries []core.ActivityLogEntry `json:"entries"`
		Count   int                     `json:"count"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	require.Equal(t, 1, got.Count)
	assert.Equal(t, "act-1", got.Entries[0].ID)
}

func TestHandleHealth_NoChecksIsOK(t *testing.T) {
	a, _ := newTestAPI(testConfig())
	rec := doRequest(a, "GET", "/api/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var got healthStatus
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	assert.Equal(t, "ok", got.Status)
}
