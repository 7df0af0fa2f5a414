package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"aegis/core"
)

// CreateAlert inserts a new alert row.
func (s *SQLite) CreateAlert(ctx context.Context, alert *core.Alert) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := alert.Validate(); err != nil {
		return fmt.Errorf("invalid alert: %w", err)
	}

	rawJSON, err := json.Marshal(alert.RawData)
	if err != nil {
		return fmt.Errorf("failed to marshal raw data: %w", err)
	}
	enrichmentJSON, err := json.Marshal(alert.EnrichmentData)
	if err != nil {
		return fmt.Errorf("failed to marshal enrichment data: %w", err)
	}

	var analysisJSON interface{}
	if alert.AIAnalysis != nil {
		data, err := json.Marshal(alert.AIAnalysis)
		if err != nil {
			return fmt.Errorf("failed to marshal AI analysis: %w", err)
		}
		analysisJSON = string(data)
	}

	idsJSON, err := json.Marshal(alert.GeneratedPlaybookIDs)
	if err != nil {
		return fmt.Errorf("failed to marshal playbook ids: %w", err)
	}

	if alert.Version == 0 {
		alert.Version = 1
	}
	if alert.Status == "" {
		alert.Status = core.AlertStatusOpen
	}

	query := `
		INSERT INTO alerts (id, organization_id, title, description, severity, status,
		                    source_system, asset_id, raw_data, enrichment_data,
		                    ai_analysis, ai_analysis_timestamp, generated_playbook_ids,
		                    playbooks_generated_at, version, created_by, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	var assetID interface{}
	if alert.AssetID != nil {
		assetID = *alert.AssetID
	}

	_, err = s.WriteDB.ExecContext(ctx, query,
		alert.ID,
		alert.OrganizationID,
		alert.Title,
		nullIfEmpty(alert.Description),
		alert.Severity,
		alert.Status.String(),
		nullIfEmpty(alert.SourceSystem),
		assetID,
		string(rawJSON),
		string(enrichmentJSON),
		analysisJSON,
		nullIfNilTime(alert.AIAnalysisTimestamp),
		string(idsJSON),
		nullIfNilTime(alert.PlaybooksGeneratedAt),
		alert.Version,
		nullIfEmpty(alert.CreatedBy),
		alert.CreatedAt.UTC().Format(time.RFC3339),
		alert.UpdatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintErr(err) {
			return fmt.Errorf("%w: alert %s", ErrConstraintViolation, alert.ID)
		}
		return fmt.Errorf("failed to create alert: %w", err)
	}

	s.Logger.Infof("Created alert %s (org %s, severity %d)", alert.ID, alert.OrganizationID, alert.Severity)
	return nil
}

const alertColumns = `id, organization_id, title, description, severity, status,
	source_system, asset_id, raw_data, enrichment_data, ai_analysis,
	ai_analysis_timestamp, generated_playbook_ids, playbooks_generated_at,
	version, created_by, created_at, updated_at`

// GetAlert retrieves one alert scoped to an organization.
func (s *SQLite) GetAlert(ctx context.Context, id, organizationID string) (*core.Alert, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	query := `SELECT ` + alertColumns + ` FROM alerts WHERE id = ? AND organization_id = ?`
	row := s.ReadDB.QueryRowContext(ctx, query, id, organizationID)

	alert, err := scanAlert(row)
	if err == sql.ErrNoRows {
		return nil, ErrAlertNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get alert: %w", err)
	}
	return alert, nil
}

// ListAlerts returns alerts for an organization, newest first.
func (s *SQLite) ListAlerts(ctx context.Context, organizationID string, limit, offset int) ([]core.Alert, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	query := `SELECT ` + alertColumns + ` FROM alerts
		WHERE organization_id = ?
		ORDER BY created_at DESC
		LIMIT ? OFFSET ?`

	rows, err := s.ReadDB.QueryContext(ctx, query, organizationID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list alerts: %w", err)
	}
	defer rows.Close()

	alerts := make([]core.Alert, 0)
	for rows.Next() {
		alert, err := scanAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}
		alerts = append(alerts, *alert)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate alerts: %w", err)
	}
	return alerts, nil
}

// SaveAIAnalysis persists an analysis result on the alert with an optimistic
// concurrency check: the write succeeds only if the alert still carries
// expectedVersion, and bumps the version on success.
func (s *SQLite) SaveAIAnalysis(ctx context.Context, alertID, organizationID string, analysis *core.AIAnalysis, analyzedAt time.Time, expectedVersion int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if analysis == nil {
		return fmt.Errorf("analysis cannot be nil")
	}

	analysisJSON, err := json.Marshal(analysis)
	if err != nil {
		return fmt.Errorf("failed to marshal AI analysis: %w", err)
	}

	query := `
		UPDATE alerts
		SET ai_analysis = ?, ai_analysis_timestamp = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND organization_id = ? AND version = ?
	`

	result, err := s.WriteDB.ExecContext(ctx, query,
		string(analysisJSON),
		analyzedAt.UTC().Format(time.RFC3339),
		time.Now().UTC().Format(time.RFC3339),
		alertID,
		organizationID,
		expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("failed to save AI analysis: %w", err)
	}

	return s.checkAlertWriteOutcome(ctx, result, alertID, organizationID)
}

// UpdateGeneratedPlaybookRefs replaces the generated-playbook bookkeeping on
// the alert under the same optimistic concurrency check as SaveAIAnalysis.
// A nil generatedAt clears the timestamp (used when deleting playbooks).
func (s *SQLite) UpdateGeneratedPlaybookRefs(ctx context.Context, alertID, organizationID string, playbookIDs []string, generatedAt *time.Time, expectedVersion int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if playbookIDs == nil {
		playbookIDs = []string{}
	}

	idsJSON, err := json.Marshal(playbookIDs)
	if err != nil {
		return fmt.Errorf("failed to marshal playbook ids: %w", err)
	}

	query := `
		UPDATE alerts
		SET generated_playbook_ids = ?, playbooks_generated_at = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND organization_id = ? AND version = ?
	`

	result, err := s.WriteDB.ExecContext(ctx, query,
		string(idsJSON),
		nullIfNilTime(generatedAt),
		time.Now().UTC().Format(time.RFC3339),
		alertID,
		organizationID,
		expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("failed to update playbook refs: %w", err)
	}

	return s.checkAlertWriteOutcome(ctx, result, alertID, organizationID)
}

// checkAlertWriteOutcome disambiguates a zero-row CAS update: the alert is
// either gone or was modified concurrently.
func (s *SQLite) checkAlertWriteOutcome(ctx context.Context, result sql.Result, alertID, organizationID string) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected > 0 {
		return nil
	}

	var version int64
	err = s.WriteDB.QueryRowContext(ctx,
		`SELECT version FROM alerts WHERE id = ? AND organization_id = ?`,
		alertID, organizationID).Scan(&version)
	if err == sql.ErrNoRows {
		return ErrAlertNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to check alert version: %w", err)
	}
	return ErrVersionConflict
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanAlert(row scanner) (*core.Alert, error) {
	var alert core.Alert
	var description, sourceSystem, assetID, analysisJSON sql.NullString
	var analysisTS, playbooksAt, createdBy sql.NullString
	var status, rawJSON, enrichmentJSON, idsJSON string
	var createdAt, updatedAt string

	err := row.Scan(
		&alert.ID,
		&alert.OrganizationID,
		&alert.Title,
		&description,
		&alert.Severity,
		&status,
		&sourceSystem,
		&assetID,
		&rawJSON,
		&enrichmentJSON,
		&analysisJSON,
		&analysisTS,
		&idsJSON,
		&playbooksAt,
		&alert.Version,
		&createdBy,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	alert.Status = core.AlertStatus(status)
	alert.Description = description.String
	alert.SourceSystem = sourceSystem.String
	alert.CreatedBy = createdBy.String
	if assetID.Valid {
		v := assetID.String
		alert.AssetID = &v
	}

	if err := json.Unmarshal([]byte(rawJSON), &alert.RawData); err != nil {
		return nil, fmt.Errorf("failed to parse raw data: %w", err)
	}
	if err := json.Unmarshal([]byte(enrichmentJSON), &alert.EnrichmentData); err != nil {
		return nil, fmt.Errorf("failed to parse enrichment data: %w", err)
	}
	if err := json.Unmarshal([]byte(idsJSON), &alert.GeneratedPlaybookIDs); err != nil {
		return nil, fmt.Errorf("failed to parse playbook ids: %w", err)
	}

	if analysisJSON.Valid && analysisJSON.String != "" {
		var analysis core.AIAnalysis
		if err := json.Unmarshal([]byte(analysisJSON.String), &analysis); err != nil {
			return nil, fmt.Errorf("failed to parse AI analysis: %w", err)
		}
		alert.AIAnalysis = &analysis
	}
	if analysisTS.Valid {
		if t, err := time.Parse(time.RFC3339, analysisTS.String); err == nil {
			alert.AIAnalysisTimestamp = &t
		}
	}
	if playbooksAt.Valid {
		if t, err := time.Parse(time.RFC3339, playbooksAt.String); err == nil {
			alert.PlaybooksGeneratedAt = &t
		}
	}

	alert.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	alert.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)

	return &alert, nil
}
