package service

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"aegis/aigateway"
	"aegis/config"
	"aegis/core"
	"aegis/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// Full triage run against a real SQLite store: analyze, generate, reuse,
// force-regenerate, delete. The AI side stays scripted.

func setupTriageWorkflow(t *testing.T) (*AnalysisServiceImpl, *PlaybookGenServiceImpl, *storage.SQLite, *scriptedGenerator) {
	t.Helper()

	logger := zap.NewNop().Sugar()
	sqlite, err := storage.NewSQLite(filepath.Join(t.TempDir(), "triage.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { sqlite.Close() })

	gen := newScriptedGenerator()
	recorder := NewTriageRecorder(sqlite, sqlite, nil, logger)
	aiCfg := config.AIConfig{Model: "gpt-4o-mini", MaxTokens: 2048, Temperature: 0.3}

	analysis := NewAnalysisService(sqlite, nil, gen, recorder, core.DefaultPromptPack(), aiCfg, logger)
	playbooks := NewPlaybookGenService(sqlite, sqlite, nil, gen, recorder, nil, core.DefaultPromptPack(), aiCfg, logger)
	return analysis, playbooks, sqlite, gen
}

func seedWorkflowAlert(t *testing.T, sqlite *storage.SQLite) *core.Alert {
	t.Helper()

	now := time.Now().UTC()
	alert := &core.Alert{
		ID:             "alert-wf",
		OrganizationID: "org-1",
		Title:          "Suspicious outbound traffic",
		Description:    "Host 10.0.0.5 contacted a known C2 domain",
		Severity:       4,
		Status:         core.AlertStatusOpen,
		RawData:        map[string]interface{}{"dest": "evil.example"},
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	require.NoError(t, sqlite.CreateAlert(context.Background(), alert))
	return alert
}

func TestTriageWorkflow_EndToEnd(t *testing.T) {
	analysis, playbookGen, sqlite, gen := setupTriageWorkflow(t)
	ctx := context.Background()
	seedWorkflowAlert(t, sqlite)

	// Generation before analysis is rejected and leaves no rows behind.
	_, err := playbookGen.GeneratePlaybooks(ctx, "alert-wf", "org-1", "analyst1", false)
	require.ErrorIs(t, err, ErrAnalysisRequired)
	rows, err := sqlite.ListPlaybooksForAlert(ctx, "alert-wf", "org-1")
	require.NoError(t, err)
	assert.Empty(t, rows)

	// Analysis persists and unlocks generation.
	gen.script("analysis", validAnalysisJSON, aigateway.Usage{PromptTokens: 800, CompletionTokens: 400})
	result, err := analysis.PerformAnalysis(ctx, "alert-wf", "org-1", "analyst1")
	require.NoError(t, err)
	require.NotNil(t, result.Analysis)

	stored, err := sqlite.GetAlert(ctx, "alert-wf", "org-1")
	require.NoError(t, err)
	assert.True(t, stored.HasAnalysis())

	// First generation creates both playbooks and stamps the alert.
	gen.script("playbook_immediate", validImmediateJSON, aigateway.Usage{PromptTokens: 500, CompletionTokens: 300})
	gen.script("playbook_investigation", validInvestigationJSON, aigateway.Usage{PromptTokens: 512, CompletionTokens: 460})

	first, err := playbookGen.GeneratePlaybooks(ctx, "alert-wf", "org-1", "analyst1", false)
	require.NoError(t, err)
	require.NotNil(t, first.ImmediatePlaybook)
	require.NotNil(t, first.InvestigationPlaybook)
	assert.False(t, first.Reused)
	assert.Nil(t, first.PartialFailure)

	stored, err = sqlite.GetAlert(ctx, "alert-wf", "org-1")
	require.NoError(t, err)
	assert.Len(t, stored.GeneratedPlaybookIDs, 2)
	require.NotNil(t, stored.PlaybooksGeneratedAt)

	rows, err = sqlite.ListPlaybooksForAlert(ctx, "alert-wf", "org-1")
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	// Repeating without force returns the existing pair, same ids, still
	// two rows at rest and no further AI calls.
	callsBefore := gen.callCount("playbook_immediate")
	second, err := playbookGen.GeneratePlaybooks(ctx, "alert-wf", "org-1", "analyst1", false)
	require.NoError(t, err)
	assert.True(t, second.Reused)
	assert.Equal(t, first.ImmediatePlaybook.ID, second.ImmediatePlaybook.ID)
	assert.Equal(t, first.InvestigationPlaybook.ID, second.InvestigationPlaybook.ID)
	assert.Equal(t, callsBefore, gen.callCount("playbook_immediate"))

	rows, err = sqlite.ListPlaybooksForAlert(ctx, "alert-wf", "org-1")
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	// Force regeneration keeps the ids and replaces the steps in place.
	gen.script("playbook_immediate", `{
		"name": "Immediate Response: C2 Traffic (revised)",
		"description": "Revised containment",
		"steps": [
			{"name": "Quarantine via EDR", "type": "automated", "timeout": 180, "isRequired": true},
			{"name": "Notify on-call", "type": "manual", "isRequired": true}
		]
	}`, aigateway.Usage{PromptTokens: 490, CompletionTokens: 210})

	forced, err := playbookGen.GeneratePlaybooks(ctx, "alert-wf", "org-1", "analyst1", true)
	require.NoError(t, err)
	assert.True(t, forced.Regenerated)
	assert.Equal(t, first.ImmediatePlaybook.ID, forced.ImmediatePlaybook.ID)
	assert.Equal(t, first.InvestigationPlaybook.ID, forced.InvestigationPlaybook.ID)

	refetched, err := sqlite.GetPlaybookForAlert(ctx, "alert-wf", "org-1", core.PlaybookTypeImmediateAction)
	require.NoError(t, err)
	require.Len(t, refetched.Steps, 2)
	assert.Equal(t, "Quarantine via EDR", refetched.Steps[0].Name)

	rows, err = sqlite.ListPlaybooksForAlert(ctx, "alert-wf", "org-1")
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	// A manually authored playbook tied to the same alert must survive the
	// cleanup below.
	alertID := "alert-wf"
	manual := &core.Playbook{
		ID:             "pb-manual",
		OrganizationID: "org-1",
		Name:           "Analyst runbook",
		SourceAlertID:  &alertID,
		AIGenerated:    false,
		TriggerType:    core.TriggerManual,
		IsActive:       true,
		CreatedBy:      "analyst1",
		CreatedAt:      time.Now().UTC(),
		UpdatedAt:      time.Now().UTC(),
	}
	require.NoError(t, sqlite.CreatePlaybook(ctx, manual))

	deleted, err := playbookGen.DeleteGeneratedPlaybooks(ctx, "alert-wf", "org-1", "analyst1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)

	stored, err = sqlite.GetAlert(ctx, "alert-wf", "org-1")
	require.NoError(t, err)
	assert.Empty(t, stored.GeneratedPlaybookIDs)
	assert.Nil(t, stored.PlaybooksGeneratedAt)

	rows, err = sqlite.ListPlaybooksForAlert(ctx, "alert-wf", "org-1")
	require.NoError(t, err)
	assert.Empty(t, rows)

	survivor, err := sqlite.GetPlaybook(ctx, "pb-manual", "org-1")
	require.NoError(t, err)
	assert.False(t, survivor.AIGenerated)
}
