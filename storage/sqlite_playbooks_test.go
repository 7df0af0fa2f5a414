package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aegis/core"
)

func seedAlertWithAnalysis(t *testing.T, sqlite *SQLite, orgID string) *core.Alert {
	t.Helper()
	alert := testAlert(orgID, "Playbook target", 4)
	alert.AIAnalysis = testAnalysis()
	ts := alert.CreatedAt
	alert.AIAnalysisTimestamp = &ts
	require.NoError(t, sqlite.CreateAlert(context.Background(), alert))
	return alert
}

func testGeneratedPlaybook(alert *core.Alert, playbookType core.PlaybookType) *core.Playbook {
	playbook := core.NewGeneratedPlaybook(alert, playbookType)
	playbook.Name = "Malware Response: " + alert.Title
	playbook.Description = "Generated response steps"
	playbook.SetSteps([]core.PlaybookStep{
		{Name: "Isolate host", Type: core.StepTypeAutomated, Timeout: 300, IsRequired: true},
		{Name: "Collect evidence", Type: core.StepTypeManual, Timeout: 900, IsRequired: true},
	})
	return playbook
}

func TestCreatePlaybook_AndGet(t *testing.T) {
	sqlite := setupTestSQLite(t)
	ctx := context.Background()

	alert := seedAlertWithAnalysis(t, sqlite, "org-1")
	playbook := testGeneratedPlaybook(alert, core.PlaybookTypeImmediateAction)
	require.NoError(t, sqlite.CreatePlaybook(ctx, playbook))

	got, err := sqlite.GetPlaybook(ctx, playbook.ID, "org-1")
	require.NoError(t, err)

	assert.Equal(t, playbook.ID, got.ID)
	assert.Equal(t, core.PlaybookTypeImmediateAction, got.PlaybookType)
	assert.True(t, got.AIGenerated)
	require.NotNil(t, got.SourceAlertID)
	assert.Equal(t, alert.ID, *got.SourceAlertID)
	require.Len(t, got.Steps, 2)
	assert.Equal(t, "step-1", got.Steps[0].ID)
	assert.Equal(t, 1, got.Steps[0].Order)
	assert.Equal(t, core.StepTypeAutomated, got.Steps[0].Type)
	assert.Equal(t, 1200, got.EstimatedTime, "Estimated time should be the sum of step timeouts")
	assert.True(t, got.IsActive)
}

func TestCreatePlaybook_DuplicateTypeForAlert(t *testing.T) {
	sqlite := setupTestSQLite(t)
	ctx := context.Background()

	alert := seedAlertWithAnalysis(t, sqlite, "org-1")
	first := testGeneratedPlaybook(alert, core.PlaybookTypeImmediateAction)
	require.NoError(t, sqlite.CreatePlaybook(ctx, first))

	second := testGeneratedPlaybook(alert, core.PlaybookTypeImmediateAction)
	err := sqlite.CreatePlaybook(ctx, second)
	assert.ErrorIs(t, err, ErrDuplicatePlaybook,
		"Second generated playbook of the same type for the same alert must be rejected")
}

func TestCreatePlaybook_DifferentTypesAllowed(t *testing.T) {
	sqlite := setupTestSQLite(t)
	ctx := context.Background()

	alert := seedAlertWithAnalysis(t, sqlite, "org-1")
	require.NoError(t, sqlite.CreatePlaybook(ctx, testGeneratedPlaybook(alert, core.PlaybookTypeImmediateAction)))
	require.NoError(t, sqlite.CreatePlaybook(ctx, testGeneratedPlaybook(alert, core.PlaybookTypeInvestigation)))

	playbooks, err := sqlite.ListPlaybooksForAlert(ctx, alert.ID, "org-1")
	require.NoError(t, err)
	assert.Len(t, playbooks, 2)
}

func TestGetPlaybookForAlert(t *testing.T) {
	sqlite := setupTestSQLite(t)
	ctx := context.Background()

	alert := seedAlertWithAnalysis(t, sqlite, "org-1")
	playbook := testGeneratedPlaybook(alert, core.PlaybookTypeInvestigation)
	require.NoError(t, sqlite.CreatePlaybook(ctx, playbook))

	got, err := sqlite.GetPlaybookForAlert(ctx, alert.ID, "org-1", core.PlaybookTypeInvestigation)
	require.NoError(t, err)
	assert.Equal(t, playbook.ID, got.ID)

	_, err = sqlite.GetPlaybookForAlert(ctx, alert.ID, "org-1", core.PlaybookTypeImmediateAction)
	assert.ErrorIs(t, err, ErrPlaybookNotFound)
}

func TestGetPlaybook_NotFoundAndWrongOrg(t *testing.T) {
	sqlite := setupTestSQLite(t)
	ctx := context.Background()

	_, err := sqlite.GetPlaybook(ctx, "pb-missing", "org-1")
	assert.ErrorIs(t, err, ErrPlaybookNotFound)

	alert := seedAlertWithAnalysis(t, sqlite, "org-1")
	playbook := testGeneratedPlaybook(alert, core.PlaybookTypeImmediateAction)
	require.NoError(t, sqlite.CreatePlaybook(ctx, playbook))

	_, err = sqlite.GetPlaybook(ctx, playbook.ID, "org-2")
	assert.ErrorIs(t, err, ErrPlaybookNotFound)
}

func TestUpdatePlaybook(t *testing.T) {
	sqlite := setupTestSQLite(t)
	ctx := context.Background()

	alert := seedAlertWithAnalysis(t, sqlite, "org-1")
	playbook := testGeneratedPlaybook(alert, core.PlaybookTypeImmediateAction)
	require.NoError(t, sqlite.CreatePlaybook(ctx, playbook))

	playbook.Name = "Updated response"
	playbook.SetSteps([]core.PlaybookStep{
		{Name: "Block C2 address", Type: core.StepTypeAutomated, Timeout: 120, IsRequired: true},
	})
	require.NoError(t, sqlite.UpdatePlaybook(ctx, playbook))

	got, err := sqlite.GetPlaybook(ctx, playbook.ID, "org-1")
	require.NoError(t, err)
	assert.Equal(t, "Updated response", got.Name)
	require.Len(t, got.Steps, 1)
	assert.Equal(t, "Block C2 address", got.Steps[0].Name)
	assert.Equal(t, 120, got.EstimatedTime)
	assert.Equal(t, playbook.ID, got.ID, "Update must keep the playbook ID stable")
}

func TestUpdatePlaybook_NotFound(t *testing.T) {
	sqlite := setupTestSQLite(t)

	alert := seedAlertWithAnalysis(t, sqlite, "org-1")
	playbook := testGeneratedPlaybook(alert, core.PlaybookTypeImmediateAction)

	err := sqlite.UpdatePlaybook(context.Background(), playbook)
	assert.ErrorIs(t, err, ErrPlaybookNotFound)
}

func TestDeleteGeneratedPlaybooks(t *testing.T) {
	sqlite := setupTestSQLite(t)
	ctx := context.Background()

	alert := seedAlertWithAnalysis(t, sqlite, "org-1")
	require.NoError(t, sqlite.CreatePlaybook(ctx, testGeneratedPlaybook(alert, core.PlaybookTypeImmediateAction)))
	require.NoError(t, sqlite.CreatePlaybook(ctx, testGeneratedPlaybook(alert, core.PlaybookTypeInvestigation)))

	deleted, err := sqlite.DeleteGeneratedPlaybooks(ctx, alert.ID, "org-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)

	playbooks, err := sqlite.ListPlaybooksForAlert(ctx, alert.ID, "org-1")
	require.NoError(t, err)
	assert.Empty(t, playbooks)

	deleted, err = sqlite.DeleteGeneratedPlaybooks(ctx, alert.ID, "org-1")
	require.NoError(t, err)
	assert.Zero(t, deleted, "Deleting again should be a no-op")
}

func TestDeleteGeneratedPlaybooks_ScopedToOrganization(t *testing.T) {
	sqlite := setupTestSQLite(t)
	ctx := context.Background()

	alert := seedAlertWithAnalysis(t, sqlite, "org-1")
	require.NoError(t, sqlite.CreatePlaybook(ctx, testGeneratedPlaybook(alert, core.PlaybookTypeImmediateAction)))

	deleted, err := sqlite.DeleteGeneratedPlaybooks(ctx, alert.ID, "org-2")
	require.NoError(t, err)
	assert.Zero(t, deleted, "Another organization must not delete the playbooks")

	playbooks, err := sqlite.ListPlaybooksForAlert(ctx, alert.ID, "org-1")
	require.NoError(t, err)
	assert.Len(t, playbooks, 1)
}

func TestManualPlaybooksNotSubjectToGeneratedUniqueness(t *testing.T) {
	sqlite := setupTestSQLite(t)
	ctx := context.Background()

	now := time.Now().UTC()
	manual := &core.Playbook{
		ID:             "pb-manual-1",
		OrganizationID: "org-1",
		Name:           "Manual escalation",
		TriggerType:    core.TriggerManual,
		IsActive:       true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	require.NoError(t, sqlite.CreatePlaybook(ctx, manual))

	second := *manual
	second.ID = "pb-manual-2"
	assert.NoError(t, sqlite.CreatePlaybook(ctx, &second),
		"Manual playbooks are not constrained by the generated-playbook unique index")
}
