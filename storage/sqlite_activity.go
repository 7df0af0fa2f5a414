package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"aegis/core"
)

// AddActivityEntry records one AI agent invocation in the audit log.
func (s *SQLite) AddActivityEntry(ctx context.Context, entry *core.ActivityLogEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := entry.Validate(); err != nil {
		return fmt.Errorf("invalid activity entry: %w", err)
	}

	var metadataJSON interface{}
	if entry.Metadata != nil {
		data, err := json.Marshal(entry.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata: %w", err)
		}
		metadataJSON = string(data)
	}

	query := `
		INSERT INTO activity_log (id, organization_id, user_id, agent_name, action,
		                          success, error_message, prompt_tokens, completion_tokens,
		                          execution_time_ms, timestamp, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.WriteDB.ExecContext(ctx, query,
		entry.ID,
		entry.OrganizationID,
		nullIfEmpty(entry.UserID),
		entry.AgentName,
		entry.Action,
		boolToInt(entry.Success),
		nullIfEmpty(entry.ErrorMessage),
		entry.PromptTokens,
		entry.CompletionTokens,
		entry.ExecutionTimeMs,
		entry.Timestamp.UTC().Format(time.RFC3339),
		metadataJSON,
	)
	if err != nil {
		return fmt.Errorf("failed to add activity entry: %w", err)
	}
	return nil
}

const activityColumns = `id, organization_id, user_id, agent_name, action, success,
	error_message, prompt_tokens, completion_tokens, execution_time_ms, timestamp, metadata`

// ListActivityEntries returns recent AI agent activity for an organization,
// newest first. An empty agentName matches all agents.
func (s *SQLite) ListActivityEntries(ctx context.Context, organizationID, agentName string, limit int) ([]core.ActivityLogEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	query := `SELECT ` + activityColumns + ` FROM activity_log WHERE organization_id = ?`
	args := []interface{}{organizationID}
	if agentName != "" {
		query += ` AND agent_name = ?`
		args = append(args, agentName)
	}
	query += ` ORDER BY timestamp DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.ReadDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list activity entries: %w", err)
	}
	defer rows.Close()

	entries := make([]core.ActivityLogEntry, 0)
	for rows.Next() {
		entry, err := scanActivityEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan activity entry: %w", err)
		}
		entries = append(entries, *entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate activity entries: %w", err)
	}
	return entries, nil
}

func scanActivityEntry(row scanner) (*core.ActivityLogEntry, error) {
	var entry core.ActivityLogEntry
	var userID, errorMessage, metadataJSON sql.NullString
	var success int
	var timestamp string

	err := row.Scan(
		&entry.ID,
		&entry.OrganizationID,
		&userID,
		&entry.AgentName,
		&entry.Action,
		&success,
		&errorMessage,
		&entry.PromptTokens,
		&entry.CompletionTokens,
		&entry.ExecutionTimeMs,
		&timestamp,
		&metadataJSON,
	)
	if err != nil {
		return nil, err
	}

	entry.UserID = userID.String
	entry.ErrorMessage = errorMessage.String
	entry.Success = success != 0
	entry.Timestamp, _ = time.Parse(time.RFC3339, timestamp)

	if metadataJSON.Valid && metadataJSON.String != "" {
		if err := json.Unmarshal([]byte(metadataJSON.String), &entry.Metadata); err != nil {
			return nil, fmt.Errorf("failed to parse metadata: %w", err)
		}
	}
	return &entry, nil
}
