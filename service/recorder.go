package service

import (
	"context"
	"time"

	"aegis/core"
	"aegis/metrics"

	"go.uber.org/zap"
)

// auditWriteTimeout bounds detached timeline/activity writes.
const auditWriteTimeout = 5 * time.Second

// TriageRecorder writes timeline events and activity log entries on behalf
// of the triage engines. Writes are best-effort: failures are logged and
// counted, never returned, and run on a context detached from the caller so
// a client disconnect cannot cancel the audit trail.
type TriageRecorder struct {
	timeline    TimelineStore
	activity    ActivityStore
	broadcaster TimelineBroadcaster
	logger      *zap.SugaredLogger
}

// NewTriageRecorder creates a recorder. The broadcaster is optional.
func NewTriageRecorder(timeline TimelineStore, activity ActivityStore, broadcaster TimelineBroadcaster, logger *zap.SugaredLogger) *TriageRecorder {
	if timeline == nil {
		panic("timeline store is required")
	}
	if activity == nil {
		panic("activity store is required")
	}
	if logger == nil {
		panic("logger is required")
	}
	return &TriageRecorder{
		timeline:    timeline,
		activity:    activity,
		broadcaster: broadcaster,
		logger:      logger,
	}
}

// detachedCtx carries the caller's values but not its cancellation, bounded
// by the audit write timeout.
func detachedCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), auditWriteTimeout)
}

// RecordTimeline appends a timeline event and pushes it to live
// subscribers. Never returns an error.
func (r *TriageRecorder) RecordTimeline(ctx context.Context, event *core.TimelineEvent) {
	if event == nil {
		return
	}
	if err := event.Validate(); err != nil {
		r.logger.Warnw("Dropping invalid timeline event",
			"alertId", event.AlertID, "type", event.Type, "error", err)
		metrics.TimelineWriteFailures.Inc()
		return
	}

	wctx, cancel := detachedCtx(ctx)
	defer cancel()

	if err := r.timeline.AddTimelineEvent(wctx, event); err != nil {
		r.logger.Warnw("Timeline write failed",
			"alertId", event.AlertID, "type", event.Type, "error", err)
		metrics.TimelineWriteFailures.Inc()
		return
	}

	if r.broadcaster != nil {
		r.broadcaster.BroadcastTimelineEvent(event)
	}
}

// RecordActivity appends an activity log entry. Never returns an error.
func (r *TriageRecorder) RecordActivity(ctx context.Context, entry *core.ActivityLogEntry) {
	if entry == nil {
		return
	}
	if err := entry.Validate(); err != nil {
		r.logger.Warnw("Dropping invalid activity entry",
			"agent", entry.AgentName, "action", entry.Action, "error", err)
		metrics.ActivityLogWriteFailures.Inc()
		return
	}

	wctx, cancel := detachedCtx(ctx)
	defer cancel()

	if err := r.activity.AddActivityEntry(wctx, entry); err != nil {
		r.logger.Warnw("Activity log write failed",
			"agent", entry.AgentName, "action", entry.Action, "error", err)
		metrics.ActivityLogWriteFailures.Inc()
	}
}

// ListTimeline returns a page of the alert's timeline, oldest first.
func (r *TriageRecorder) ListTimeline(ctx context.Context, alertID, organizationID string, limit, offset int) ([]core.TimelineEvent, error) {
	events, err := r.timeline.GetTimeline(ctx, alertID, organizationID)
	if err != nil {
		return nil, err
	}
	if offset >= len(events) {
		return []core.TimelineEvent{}, nil
	}
	events = events[offset:]
	if limit > 0 && limit < len(events) {
		events = events[:limit]
	}
	return events, nil
}

// DeleteTimelineEvent removes a single timeline event.
func (r *TriageRecorder) DeleteTimelineEvent(ctx context.Context, eventID, alertID, organizationID string) error {
	return r.timeline.DeleteTimelineEvent(ctx, eventID, alertID, organizationID)
}

// ListActivity returns recent activity entries, newest first, optionally
// filtered by agent name.
func (r *TriageRecorder) ListActivity(ctx context.Context, organizationID, agentName string, limit int) ([]core.ActivityLogEntry, error) {
	return r.activity.ListActivityEntries(ctx, organizationID, agentName, limit)
}
