package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"aegis/core"
)

// AddTimelineEvent appends an event to an alert's timeline. Timeline rows are
// append-only; there is no update path.
func (s *SQLite) AddTimelineEvent(ctx context.Context, event *core.TimelineEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := event.Validate(); err != nil {
		return fmt.Errorf("invalid timeline event: %w", err)
	}

	var metadataJSON interface{}
	if event.Metadata != nil {
		data, err := json.Marshal(event.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata: %w", err)
		}
		metadataJSON = string(data)
	}

	query := `
		INSERT INTO timeline_events (id, alert_id, organization_id, timestamp, type,
		                             title, description, ai_source, ai_confidence,
		                             metadata, created_by)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.WriteDB.ExecContext(ctx, query,
		event.ID,
		event.AlertID,
		event.OrganizationID,
		event.Timestamp.UTC().Format(time.RFC3339),
		event.Type.String(),
		event.Title,
		nullIfEmpty(event.Description),
		nullIfEmpty(event.AISource),
		event.AIConfidence,
		metadataJSON,
		nullIfEmpty(event.CreatedBy),
	)
	if err != nil {
		return fmt.Errorf("failed to add timeline event: %w", err)
	}
	return nil
}

const timelineColumns = `id, alert_id, organization_id, timestamp, type, title,
	description, ai_source, ai_confidence, metadata, created_by`

// GetTimeline returns an alert's timeline in chronological order.
func (s *SQLite) GetTimeline(ctx context.Context, alertID, organizationID string) ([]core.TimelineEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	query := `SELECT ` + timelineColumns + ` FROM timeline_events
		WHERE alert_id = ? AND organization_id = ?
		ORDER BY timestamp ASC, id ASC`

	rows, err := s.ReadDB.QueryContext(ctx, query, alertID, organizationID)
	if err != nil {
		return nil, fmt.Errorf("failed to get timeline: %w", err)
	}
	defer rows.Close()

	events := make([]core.TimelineEvent, 0)
	for rows.Next() {
		event, err := scanTimelineEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan timeline event: %w", err)
		}
		events = append(events, *event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate timeline: %w", err)
	}
	return events, nil
}

// DeleteTimelineEvent removes a single timeline event. This is the only
// destructive timeline operation; it exists for explicit, user-initiated
// removal of one entry.
func (s *SQLite) DeleteTimelineEvent(ctx context.Context, eventID, alertID, organizationID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	query := `DELETE FROM timeline_events
		WHERE id = ? AND alert_id = ? AND organization_id = ?`

	result, err := s.WriteDB.ExecContext(ctx, query, eventID, alertID, organizationID)
	if err != nil {
		return fmt.Errorf("failed to delete timeline event: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected == 0 {
		return ErrTimelineEventNotFound
	}
	return nil
}

func scanTimelineEvent(row scanner) (*core.TimelineEvent, error) {
	var event core.TimelineEvent
	var description, aiSource, metadataJSON, createdBy sql.NullString
	var eventType, timestamp string

	err := row.Scan(
		&event.ID,
		&event.AlertID,
		&event.OrganizationID,
		&timestamp,
		&eventType,
		&event.Title,
		&description,
		&aiSource,
		&event.AIConfidence,
		&metadataJSON,
		&createdBy,
	)
	if err != nil {
		return nil, err
	}

	event.Type = core.TimelineEventType(eventType)
	event.Description = description.String
	event.AISource = aiSource.String
	event.CreatedBy = createdBy.String
	event.Timestamp, _ = time.Parse(time.RFC3339, timestamp)

	if metadataJSON.Valid && metadataJSON.String != "" {
		if err := json.Unmarshal([]byte(metadataJSON.String), &event.Metadata); err != nil {
			return nil, fmt.Errorf("failed to parse metadata: %w", err)
		}
	}
	return &event, nil
}
