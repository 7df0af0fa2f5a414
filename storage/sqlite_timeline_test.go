package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aegis/core"
)

func TestAddTimelineEvent_AndGetChronological(t *testing.T) {
	sqlite := setupTestSQLite(t)
	ctx := context.Background()

	alert := testAlert("org-1", "Timeline alert", 3)
	require.NoError(t, sqlite.CreateAlert(ctx, alert))

	base := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

	// Insert out of order; reads must come back chronological.
	late := core.NewTimelineEvent(alert.ID, "org-1", core.TimelinePlaybookGenerated, "Playbook generated")
	late.Timestamp = base.Add(10 * time.Minute)
	late.AISource = "openai"
	late.AIConfidence = 0.9

	early := core.NewTimelineEvent(alert.ID, "org-1", core.TimelineAIAnalysisCompleted, "AI Analysis Completed")
	early.Timestamp = base
	early.Metadata = map[string]interface{}{"securityEventType": "malware"}

	require.NoError(t, sqlite.AddTimelineEvent(ctx, late))
	require.NoError(t, sqlite.AddTimelineEvent(ctx, early))

	events, err := sqlite.GetTimeline(ctx, alert.ID, "org-1")
	require.NoError(t, err)
	require.Len(t, events, 2)

	assert.Equal(t, early.ID, events[0].ID, "Earliest event should come first")
	assert.Equal(t, late.ID, events[1].ID)
	assert.Equal(t, core.TimelineAIAnalysisCompleted, events[0].Type)
	assert.Equal(t, "malware", events[0].Metadata["securityEventType"])
	assert.Equal(t, "openai", events[1].AISource)
	assert.InDelta(t, 0.9, events[1].AIConfidence, 0.001)
}

func TestAddTimelineEvent_Invalid(t *testing.T) {
	sqlite := setupTestSQLite(t)

	event := core.NewTimelineEvent("", "org-1", core.TimelineUserAction, "Missing alert")
	err := sqlite.AddTimelineEvent(context.Background(), event)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "alert ID cannot be empty")
}

func TestGetTimeline_ScopedToOrganization(t *testing.T) {
	sqlite := setupTestSQLite(t)
	ctx := context.Background()

	alert := testAlert("org-1", "Scoped timeline", 3)
	require.NoError(t, sqlite.CreateAlert(ctx, alert))

	event := core.NewTimelineEvent(alert.ID, "org-1", core.TimelineUserAction, "Analyst note")
	require.NoError(t, sqlite.AddTimelineEvent(ctx, event))

	events, err := sqlite.GetTimeline(ctx, alert.ID, "org-2")
	require.NoError(t, err)
	assert.Empty(t, events, "Timeline must not leak across organizations")
}

func TestDeleteTimelineEvent(t *testing.T) {
	sqlite := setupTestSQLite(t)
	ctx := context.Background()

	alert := testAlert("org-1", "Deletable timeline", 3)
	require.NoError(t, sqlite.CreateAlert(ctx, alert))

	keep := core.NewTimelineEvent(alert.ID, "org-1", core.TimelineAIAnalysisCompleted, "AI Analysis Completed")
	drop := core.NewTimelineEvent(alert.ID, "org-1", core.TimelineUserAction, "Mistaken note")
	require.NoError(t, sqlite.AddTimelineEvent(ctx, keep))
	require.NoError(t, sqlite.AddTimelineEvent(ctx, drop))

	require.NoError(t, sqlite.DeleteTimelineEvent(ctx, drop.ID, alert.ID, "org-1"))

	events, err := sqlite.GetTimeline(ctx, alert.ID, "org-1")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, keep.ID, events[0].ID)

	// Deleting again, or from the wrong org, reports not found.
	err = sqlite.DeleteTimelineEvent(ctx, drop.ID, alert.ID, "org-1")
	assert.ErrorIs(t, err, ErrTimelineEventNotFound)

	err = sqlite.DeleteTimelineEvent(ctx, keep.ID, alert.ID, "org-2")
	assert.ErrorIs(t, err, ErrTimelineEventNotFound)
}

func TestGetTimeline_EmptyForUnknownAlert(t *testing.T) {
	sqlite := setupTestSQLite(t)

	events, err := sqlite.GetTimeline(context.Background(), "alert-unknown", "org-1")
	require.NoError(t, err)
	assert.Empty(t, events)
}
