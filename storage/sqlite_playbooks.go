package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"aegis/core"
)

// CreatePlaybook inserts a playbook row. For AI-generated playbooks the
// schema enforces one playbook per (source alert, type) pair; a second
// insert surfaces as ErrDuplicatePlaybook.
func (s *SQLite) CreatePlaybook(ctx context.Context, playbook *core.Playbook) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := playbook.Validate(); err != nil {
		return fmt.Errorf("invalid playbook: %w", err)
	}

	stepsJSON, err := json.Marshal(playbook.Steps)
	if err != nil {
		return fmt.Errorf("failed to marshal steps: %w", err)
	}

	var metadataJSON interface{}
	if playbook.Metadata != nil {
		data, err := json.Marshal(playbook.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata: %w", err)
		}
		metadataJSON = string(data)
	}

	var sourceAlertID interface{}
	if playbook.SourceAlertID != nil {
		sourceAlertID = *playbook.SourceAlertID
	}

	var playbookType interface{}
	if playbook.PlaybookType != "" {
		playbookType = playbook.PlaybookType.String()
	}

	query := `
		INSERT INTO playbooks (id, organization_id, name, description, category,
		                       playbook_type, source_alert_id, ai_generated, trigger_type,
		                       steps, estimated_time, complexity_level, is_active,
		                       metadata, created_by, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = s.WriteDB.ExecContext(ctx, query,
		playbook.ID,
		playbook.OrganizationID,
		playbook.Name,
		nullIfEmpty(playbook.Description),
		nullIfEmpty(playbook.Category),
		playbookType,
		sourceAlertID,
		boolToInt(playbook.AIGenerated),
		playbook.TriggerType.String(),
		string(stepsJSON),
		playbook.EstimatedTime,
		nullIfEmpty(playbook.ComplexityLevel.String()),
		boolToInt(playbook.IsActive),
		metadataJSON,
		nullIfEmpty(playbook.CreatedBy),
		playbook.CreatedAt.UTC().Format(time.RFC3339),
		playbook.UpdatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintErr(err) {
			alertRef := ""
			if playbook.SourceAlertID != nil {
				alertRef = *playbook.SourceAlertID
			}
			return fmt.Errorf("%w: alert %s type %s", ErrDuplicatePlaybook, alertRef, playbook.PlaybookType)
		}
		return fmt.Errorf("failed to create playbook: %w", err)
	}

	s.Logger.Infof("Created playbook %s (%s) for org %s", playbook.ID, playbook.PlaybookType, playbook.OrganizationID)
	return nil
}

const playbookColumns = `id, organization_id, name, description, category,
	playbook_type, source_alert_id, ai_generated, trigger_type, steps,
	estimated_time, complexity_level, is_active, metadata, created_by,
	created_at, updated_at`

// GetPlaybook retrieves one playbook scoped to an organization.
func (s *SQLite) GetPlaybook(ctx context.Context, id, organizationID string) (*core.Playbook, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	query := `SELECT ` + playbookColumns + ` FROM playbooks WHERE id = ? AND organization_id = ?`
	row := s.ReadDB.QueryRowContext(ctx, query, id, organizationID)

	playbook, err := scanPlaybook(row)
	if err == sql.ErrNoRows {
		return nil, ErrPlaybookNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get playbook: %w", err)
	}
	return playbook, nil
}

// GetPlaybookForAlert finds the AI-generated playbook of a given type for an
// alert, if one exists.
func (s *SQLite) GetPlaybookForAlert(ctx context.Context, alertID, organizationID string, playbookType core.PlaybookType) (*core.Playbook, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	query := `SELECT ` + playbookColumns + ` FROM playbooks
		WHERE source_alert_id = ? AND organization_id = ? AND playbook_type = ? AND ai_generated = 1`
	row := s.ReadDB.QueryRowContext(ctx, query, alertID, organizationID, playbookType.String())

	playbook, err := scanPlaybook(row)
	if err == sql.ErrNoRows {
		return nil, ErrPlaybookNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get playbook for alert: %w", err)
	}
	return playbook, nil
}

// ListPlaybooksForAlert returns all AI-generated playbooks attached to an
// alert, oldest first.
func (s *SQLite) ListPlaybooksForAlert(ctx context.Context, alertID, organizationID string) ([]core.Playbook, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	query := `SELECT ` + playbookColumns + ` FROM playbooks
		WHERE source_alert_id = ? AND organization_id = ? AND ai_generated = 1
		ORDER BY created_at ASC`

	rows, err := s.ReadDB.QueryContext(ctx, query, alertID, organizationID)
	if err != nil {
		return nil, fmt.Errorf("failed to list playbooks: %w", err)
	}
	defer rows.Close()

	playbooks := make([]core.Playbook, 0)
	for rows.Next() {
		playbook, err := scanPlaybook(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan playbook: %w", err)
		}
		playbooks = append(playbooks, *playbook)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate playbooks: %w", err)
	}
	return playbooks, nil
}

// UpdatePlaybook rewrites the mutable fields of an existing playbook.
func (s *SQLite) UpdatePlaybook(ctx context.Context, playbook *core.Playbook) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := playbook.Validate(); err != nil {
		return fmt.Errorf("invalid playbook: %w", err)
	}

	stepsJSON, err := json.Marshal(playbook.Steps)
	if err != nil {
		return fmt.Errorf("failed to marshal steps: %w", err)
	}

	var metadataJSON interface{}
	if playbook.Metadata != nil {
		data, err := json.Marshal(playbook.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata: %w", err)
		}
		metadataJSON = string(data)
	}

	query := `
		UPDATE playbooks
		SET name = ?, description = ?, category = ?, trigger_type = ?, steps = ?,
		    estimated_time = ?, complexity_level = ?, is_active = ?, metadata = ?, updated_at = ?
		WHERE id = ? AND organization_id = ?
	`

	result, err := s.WriteDB.ExecContext(ctx, query,
		playbook.Name,
		nullIfEmpty(playbook.Description),
		nullIfEmpty(playbook.Category),
		playbook.TriggerType.String(),
		string(stepsJSON),
		playbook.EstimatedTime,
		nullIfEmpty(playbook.ComplexityLevel.String()),
		boolToInt(playbook.IsActive),
		metadataJSON,
		time.Now().UTC().Format(time.RFC3339),
		playbook.ID,
		playbook.OrganizationID,
	)
	if err != nil {
		return fmt.Errorf("failed to update playbook: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected == 0 {
		return ErrPlaybookNotFound
	}
	return nil
}

// DeleteGeneratedPlaybooks removes all AI-generated playbooks for an alert
// and reports how many were deleted.
func (s *SQLite) DeleteGeneratedPlaybooks(ctx context.Context, alertID, organizationID string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	query := `DELETE FROM playbooks
		WHERE source_alert_id = ? AND organization_id = ? AND ai_generated = 1`

	result, err := s.WriteDB.ExecContext(ctx, query, alertID, organizationID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete playbooks: %w", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read affected rows: %w", err)
	}
	if deleted > 0 {
		s.Logger.Infof("Deleted %d generated playbooks for alert %s", deleted, alertID)
	}
	return deleted, nil
}

func scanPlaybook(row scanner) (*core.Playbook, error) {
	var playbook core.Playbook
	var description, category, playbookType, sourceAlertID sql.NullString
	var complexity, metadataJSON, createdBy sql.NullString
	var aiGenerated, isActive int
	var triggerType, stepsJSON, createdAt, updatedAt string

	err := row.Scan(
		&playbook.ID,
		&playbook.OrganizationID,
		&playbook.Name,
		&description,
		&category,
		&playbookType,
		&sourceAlertID,
		&aiGenerated,
		&triggerType,
		&stepsJSON,
		&playbook.EstimatedTime,
		&complexity,
		&isActive,
		&metadataJSON,
		&createdBy,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	playbook.Description = description.String
	playbook.Category = category.String
	playbook.PlaybookType = core.PlaybookType(playbookType.String)
	playbook.AIGenerated = aiGenerated != 0
	playbook.TriggerType = core.TriggerType(triggerType)
	playbook.ComplexityLevel = core.ComplexityLevel(complexity.String)
	playbook.IsActive = isActive != 0
	playbook.CreatedBy = createdBy.String

	if sourceAlertID.Valid {
		v := sourceAlertID.String
		playbook.SourceAlertID = &v
	}

	if err := json.Unmarshal([]byte(stepsJSON), &playbook.Steps); err != nil {
		return nil, fmt.Errorf("failed to parse steps: %w", err)
	}
	if metadataJSON.Valid && metadataJSON.String != "" {
		if err := json.Unmarshal([]byte(metadataJSON.String), &playbook.Metadata); err != nil {
			return nil, fmt.Errorf("failed to parse metadata: %w", err)
		}
	}

	playbook.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	playbook.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)

	return &playbook, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
