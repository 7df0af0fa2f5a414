package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aegis/core"
)

func testAlert(orgID, title string, severity int) *core.Alert {
	alert := core.NewAlert(orgID, title, severity)
	alert.Description = "suspicious activity observed"
	alert.SourceSystem = "edr"
	alert.RawData = map[string]interface{}{"process": "powershell.exe", "pid": float64(4242)}
	alert.EnrichmentData = map[string]interface{}{"geo": "internal"}
	return alert
}

func testAnalysis() *core.AIAnalysis {
	return &core.AIAnalysis{
		Summary:           "Encoded PowerShell download cradle on a workstation",
		SecurityEventType: core.SecurityEventMalwareInfection.String(),
		RiskAssessment: core.RiskAssessment{
			Level:          core.RiskLevelHigh,
			Factors:        []string{"encoded command line", "external C2 address"},
			BusinessImpact: "Workstation compromise with lateral movement potential",
		},
		Confidence:         0.87,
		RecommendedActions: []string{"Isolate host", "Capture memory"},
		ContextualTags:     []string{"powershell", "t1059.001"},
	}
}

func TestCreateAlert_AndGet(t *testing.T) {
	sqlite := setupTestSQLite(t)
	ctx := context.Background()

	alert := testAlert("org-1", "Suspicious PowerShell", 4)
	require.NoError(t, sqlite.CreateAlert(ctx, alert))

	got, err := sqlite.GetAlert(ctx, alert.ID, "org-1")
	require.NoError(t, err)

	assert.Equal(t, alert.ID, got.ID)
	assert.Equal(t, "org-1", got.OrganizationID)
	assert.Equal(t, "Suspicious PowerShell", got.Title)
	assert.Equal(t, 4, got.Severity)
	assert.Equal(t, core.AlertStatusOpen, got.Status)
	assert.Equal(t, "edr", got.SourceSystem)
	assert.Equal(t, "powershell.exe", got.RawData["process"])
	assert.Equal(t, "internal", got.EnrichmentData["geo"])
	assert.Equal(t, int64(1), got.Version)
	assert.Nil(t, got.AIAnalysis)
	assert.Nil(t, got.AIAnalysisTimestamp)
	assert.Empty(t, got.GeneratedPlaybookIDs)
	assert.False(t, got.HasAnalysis())
	assert.False(t, got.HasGeneratedPlaybooks())
}

func TestCreateAlert_Invalid(t *testing.T) {
	sqlite := setupTestSQLite(t)

	alert := testAlert("org-1", "", 3)
	err := sqlite.CreateAlert(context.Background(), alert)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "title cannot be empty")
}

func TestCreateAlert_Duplicate(t *testing.T) {
	sqlite := setupTestSQLite(t)
	ctx := context.Background()

	alert := testAlert("org-1", "Dup alert", 3)
	require.NoError(t, sqlite.CreateAlert(ctx, alert))

	err := sqlite.CreateAlert(ctx, alert)
	assert.ErrorIs(t, err, ErrConstraintViolation)
}

func TestGetAlert_NotFound(t *testing.T) {
	sqlite := setupTestSQLite(t)

	_, err := sqlite.GetAlert(context.Background(), "alert-missing", "org-1")
	assert.ErrorIs(t, err, ErrAlertNotFound)
}

func TestGetAlert_WrongOrganization(t *testing.T) {
	sqlite := setupTestSQLite(t)
	ctx := context.Background()

	alert := testAlert("org-1", "Org scoped", 3)
	require.NoError(t, sqlite.CreateAlert(ctx, alert))

	_, err := sqlite.GetAlert(ctx, alert.ID, "org-2")
	assert.ErrorIs(t, err, ErrAlertNotFound, "Alert must not be visible to another organization")
}

func TestListAlerts_NewestFirstAndScoped(t *testing.T) {
	sqlite := setupTestSQLite(t)
	ctx := context.Background()

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	var ids []string
	for i := 0; i < 3; i++ {
		alert := testAlert("org-1", "Alert", 3)
		alert.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		alert.UpdatedAt = alert.CreatedAt
		require.NoError(t, sqlite.CreateAlert(ctx, alert))
		ids = append(ids, alert.ID)
	}

	other := testAlert("org-2", "Other org", 3)
	require.NoError(t, sqlite.CreateAlert(ctx, other))

	alerts, err := sqlite.ListAlerts(ctx, "org-1", 10, 0)
	require.NoError(t, err)
	require.Len(t, alerts, 3)

	assert.Equal(t, ids[2], alerts[0].ID, "Newest alert should come first")
	assert.Equal(t, ids[0], alerts[2].ID)
	for _, a := range alerts {
		assert.Equal(t, "org-1", a.OrganizationID)
	}
}

func TestSaveAIAnalysis_Success(t *testing.T) {
	sqlite := setupTestSQLite(t)
	ctx := context.Background()

	alert := testAlert("org-1", "Analyzable", 4)
	require.NoError(t, sqlite.CreateAlert(ctx, alert))

	analyzedAt := time.Date(2025, 6, 2, 9, 30, 0, 0, time.UTC)
	err := sqlite.SaveAIAnalysis(ctx, alert.ID, "org-1", testAnalysis(), analyzedAt, 1)
	require.NoError(t, err)

	got, err := sqlite.GetAlert(ctx, alert.ID, "org-1")
	require.NoError(t, err)

	require.True(t, got.HasAnalysis())
	assert.Equal(t, core.SecurityEventMalwareInfection.String(), got.AIAnalysis.SecurityEventType)
	assert.Equal(t, core.RiskLevelHigh, got.AIAnalysis.RiskAssessment.Level)
	assert.InDelta(t, 0.87, got.AIAnalysis.Confidence, 0.001)
	assert.Len(t, got.AIAnalysis.RecommendedActions, 2)
	assert.True(t, got.AIAnalysisTimestamp.Equal(analyzedAt))
	assert.Equal(t, int64(2), got.Version, "Analysis write should bump the version")
}

func TestSaveAIAnalysis_VersionConflict(t *testing.T) {
	sqlite := setupTestSQLite(t)
	ctx := context.Background()

	alert := testAlert("org-1", "Contended", 4)
	require.NoError(t, sqlite.CreateAlert(ctx, alert))

	require.NoError(t, sqlite.SaveAIAnalysis(ctx, alert.ID, "org-1", testAnalysis(), time.Now(), 1))

	// Second writer still holds version 1.
	err := sqlite.SaveAIAnalysis(ctx, alert.ID, "org-1", testAnalysis(), time.Now(), 1)
	assert.ErrorIs(t, err, ErrVersionConflict)
}

func TestSaveAIAnalysis_AlertNotFound(t *testing.T) {
	sqlite := setupTestSQLite(t)

	err := sqlite.SaveAIAnalysis(context.Background(), "alert-missing", "org-1", testAnalysis(), time.Now(), 1)
	assert.ErrorIs(t, err, ErrAlertNotFound)
}

func TestSaveAIAnalysis_NilAnalysis(t *testing.T) {
	sqlite := setupTestSQLite(t)
	ctx := context.Background()

	alert := testAlert("org-1", "Nil analysis", 3)
	require.NoError(t, sqlite.CreateAlert(ctx, alert))

	err := sqlite.SaveAIAnalysis(ctx, alert.ID, "org-1", nil, time.Now(), 1)
	assert.Error(t, err)
}

func TestUpdateGeneratedPlaybookRefs_SetAndClear(t *testing.T) {
	sqlite := setupTestSQLite(t)
	ctx := context.Background()

	alert := testAlert("org-1", "With playbooks", 5)
	require.NoError(t, sqlite.CreateAlert(ctx, alert))

	generatedAt := time.Date(2025, 6, 3, 15, 0, 0, 0, time.UTC)
	err := sqlite.UpdateGeneratedPlaybookRefs(ctx, alert.ID, "org-1",
		[]string{"pb-11111111", "pb-22222222"}, &generatedAt, 1)
	require.NoError(t, err)

	got, err := sqlite.GetAlert(ctx, alert.ID, "org-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"pb-11111111", "pb-22222222"}, got.GeneratedPlaybookIDs)
	require.NotNil(t, got.PlaybooksGeneratedAt)
	assert.True(t, got.PlaybooksGeneratedAt.Equal(generatedAt))
	assert.True(t, got.HasGeneratedPlaybooks())
	assert.Equal(t, int64(2), got.Version)

	// Clearing uses the bumped version and a nil timestamp.
	err = sqlite.UpdateGeneratedPlaybookRefs(ctx, alert.ID, "org-1", nil, nil, 2)
	require.NoError(t, err)

	got, err = sqlite.GetAlert(ctx, alert.ID, "org-1")
	require.NoError(t, err)
	assert.Empty(t, got.GeneratedPlaybookIDs)
	assert.Nil(t, got.PlaybooksGeneratedAt)
	assert.False(t, got.HasGeneratedPlaybooks())
	assert.Equal(t, int64(3), got.Version)
}

func TestUpdateGeneratedPlaybookRefs_VersionConflict(t *testing.T) {
	sqlite := setupTestSQLite(t)
	ctx := context.Background()

	alert := testAlert("org-1", "Contended refs", 4)
	require.NoError(t, sqlite.CreateAlert(ctx, alert))

	now := time.Now().UTC()
	require.NoError(t, sqlite.UpdateGeneratedPlaybookRefs(ctx, alert.ID, "org-1", []string{"pb-1"}, &now, 1))

	err := sqlite.UpdateGeneratedPlaybookRefs(ctx, alert.ID, "org-1", []string{"pb-2"}, &now, 1)
	assert.ErrorIs(t, err, ErrVersionConflict)
}

func TestAlertWithAssetReference(t *testing.T) {
	sqlite := setupTestSQLite(t)
	ctx := context.Background()

	asset := core.NewAsset("org-1", "db-server-01", "server")
	require.NoError(t, sqlite.CreateAsset(ctx, asset))

	alert := testAlert("org-1", "Asset linked", 3)
	alert.AssetID = &asset.ID
	require.NoError(t, sqlite.CreateAlert(ctx, alert))

	got, err := sqlite.GetAlert(ctx, alert.ID, "org-1")
	require.NoError(t, err)
	require.NotNil(t, got.AssetID)
	assert.Equal(t, asset.ID, *got.AssetID)
}
