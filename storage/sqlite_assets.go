package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"aegis/core"
)

// CreateAsset inserts a new asset row.
func (s *SQLite) CreateAsset(ctx context.Context, asset *core.Asset) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := asset.Validate(); err != nil {
		return fmt.Errorf("invalid asset: %w", err)
	}

	tagsJSON, err := json.Marshal(asset.Tags)
	if err != nil {
		return fmt.Errorf("failed to marshal tags: %w", err)
	}

	var metadataJSON interface{}
	if asset.Metadata != nil {
		data, err := json.Marshal(asset.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata: %w", err)
		}
		metadataJSON = string(data)
	}

	query := `
		INSERT INTO assets (id, organization_id, name, asset_type, ip_address, hostname,
		                    criticality, owner, environment, tags, metadata, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = s.WriteDB.ExecContext(ctx, query,
		asset.ID,
		asset.OrganizationID,
		asset.Name,
		nullIfEmpty(asset.AssetType),
		nullIfEmpty(asset.IPAddress),
		nullIfEmpty(asset.Hostname),
		asset.Criticality,
		nullIfEmpty(asset.Owner),
		nullIfEmpty(asset.Environment),
		string(tagsJSON),
		metadataJSON,
		asset.CreatedAt.UTC().Format(time.RFC3339),
		asset.UpdatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintErr(err) {
			return fmt.Errorf("%w: asset %s", ErrConstraintViolation, asset.ID)
		}
		return fmt.Errorf("failed to create asset: %w", err)
	}

	s.Logger.Infof("Created asset %s (%s) for org %s", asset.ID, asset.Name, asset.OrganizationID)
	return nil
}

const assetColumns = `id, organization_id, name, asset_type, ip_address, hostname,
	criticality, owner, environment, tags, metadata, created_at, updated_at`

// GetAsset retrieves one asset scoped to an organization.
func (s *SQLite) GetAsset(ctx context.Context, id, organizationID string) (*core.Asset, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	query := `SELECT ` + assetColumns + ` FROM assets WHERE id = ? AND organization_id = ?`
	row := s.ReadDB.QueryRowContext(ctx, query, id, organizationID)

	asset, err := scanAsset(row)
	if err == sql.ErrNoRows {
		return nil, ErrAssetNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get asset: %w", err)
	}
	return asset, nil
}

// ListAssets returns assets for an organization, name order.
func (s *SQLite) ListAssets(ctx context.Context, organizationID string, limit, offset int) ([]core.Asset, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	query := `SELECT ` + assetColumns + ` FROM assets
		WHERE organization_id = ?
		ORDER BY name ASC
		LIMIT ? OFFSET ?`

	rows, err := s.ReadDB.QueryContext(ctx, query, organizationID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list assets: %w", err)
	}
	defer rows.Close()

	assets := make([]core.Asset, 0)
	for rows.Next() {
		asset, err := scanAsset(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan asset: %w", err)
		}
		assets = append(assets, *asset)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate assets: %w", err)
	}
	return assets, nil
}

func scanAsset(row scanner) (*core.Asset, error) {
	var asset core.Asset
	var assetType, ipAddress, hostname, owner, environment sql.NullString
	var metadataJSON sql.NullString
	var tagsJSON, createdAt, updatedAt string

	err := row.Scan(
		&asset.ID,
		&asset.OrganizationID,
		&asset.Name,
		&assetType,
		&ipAddress,
		&hostname,
		&asset.Criticality,
		&owner,
		&environment,
		&tagsJSON,
		&metadataJSON,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	asset.AssetType = assetType.String
	asset.IPAddress = ipAddress.String
	asset.Hostname = hostname.String
	asset.Owner = owner.String
	asset.Environment = environment.String

	if err := json.Unmarshal([]byte(tagsJSON), &asset.Tags); err != nil {
		return nil, fmt.Errorf("failed to parse tags: %w", err)
	}
	if metadataJSON.Valid && metadataJSON.String != "" {
		if err := json.Unmarshal([]byte(metadataJSON.String), &asset.Metadata); err != nil {
			return nil, fmt.Errorf("failed to parse metadata: %w", err)
		}
	}

	asset.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	asset.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)

	return &asset, nil
}
