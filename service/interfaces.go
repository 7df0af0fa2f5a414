package service

import (
	"context"
	"time"

	"aegis/core"
)

// Storage interfaces are defined here, in the consumer package, so each
// engine declares exactly the persistence surface it needs. The SQLite
// store satisfies all of them; the timeline and activity interfaces are
// also satisfied by the MongoDB and ClickHouse backends.

// AlertStore is the alert persistence surface the triage engines need.
type AlertStore interface {
	GetAlert(ctx context.Context, id, organizationID string) (*core.Alert, error)
	SaveAIAnalysis(ctx context.Context, alertID, organizationID string, analysis *core.AIAnalysis, analyzedAt time.Time, expectedVersion int64) error
	UpdateGeneratedPlaybookRefs(ctx context.Context, alertID, organizationID string, playbookIDs []string, generatedAt *time.Time, expectedVersion int64) error
}

// PlaybookStore is the playbook persistence surface for generation.
type PlaybookStore interface {
	CreatePlaybook(ctx context.Context, playbook *core.Playbook) error
	UpdatePlaybook(ctx context.Context, playbook *core.Playbook) error
	GetPlaybookForAlert(ctx context.Context, alertID, organizationID string, playbookType core.PlaybookType) (*core.Playbook, error)
	ListPlaybooksForAlert(ctx context.Context, alertID, organizationID string) ([]core.Playbook, error)
	DeleteGeneratedPlaybooks(ctx context.Context, alertID, organizationID string) (int64, error)
}

// TimelineStore persists the per-alert investigation timeline.
type TimelineStore interface {
	AddTimelineEvent(ctx context.Context, event *core.TimelineEvent) error
	GetTimeline(ctx context.Context, alertID, organizationID string) ([]core.TimelineEvent, error)
	DeleteTimelineEvent(ctx context.Context, eventID, alertID, organizationID string) error
}

// ActivityStore persists the AI agent activity log.
type ActivityStore interface {
	AddActivityEntry(ctx context.Context, entry *core.ActivityLogEntry) error
	ListActivityEntries(ctx context.Context, organizationID, agentName string, limit int) ([]core.ActivityLogEntry, error)
}

// AssetReader resolves asset context for prompts. Satisfied by both the
// SQLite store and the LRU asset cache in front of it.
type AssetReader interface {
	GetAsset(ctx context.Context, id, organizationID string) (*core.Asset, error)
}

// TimelineBroadcaster pushes timeline events to live subscribers. The
// WebSocket hub implements it; a nil broadcaster disables pushes.
type TimelineBroadcaster interface {
	BroadcastTimelineEvent(event *core.TimelineEvent)
}

// TriageNotifier announces generated playbooks out of band. The notify
// package implements it; a nil notifier disables notifications.
type TriageNotifier interface {
	NotifyPlaybooksGenerated(alert *core.Alert, playbooks []*core.Playbook)
}
