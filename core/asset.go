package core

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Asset is an inventory record the triage engines use for business context:
// what a host is, how critical it is, and who owns it.
type Asset struct {
	ID             string                 `json:"id" bson:"_id" example:"asset-7"`
	OrganizationID string                 `json:"organizationId" bson:"organizationId" example:"org-1"`
	Name           string                 `json:"name" bson:"name" example:"finance-db-01"`
	AssetType      string                 `json:"assetType" bson:"assetType" example:"database_server"`
	IPAddress      string                 `json:"ipAddress,omitempty" bson:"ipAddress,omitempty" example:"10.0.0.5"`
	Hostname       string                 `json:"hostname,omitempty" bson:"hostname,omitempty" example:"finance-db-01.corp.local"`
	Criticality    string                 `json:"criticality" bson:"criticality" example:"high"`
	Owner          string                 `json:"owner,omitempty" bson:"owner,omitempty" example:"dba-team"`
	Environment    string                 `json:"environment,omitempty" bson:"environment,omitempty" example:"production"`
	Tags           []string               `json:"tags,omitempty" bson:"tags,omitempty"`
	Metadata       map[string]interface{} `json:"metadata,omitempty" bson:"metadata,omitempty"`
	CreatedAt      time.Time              `json:"createdAt" bson:"createdAt" swaggertype:"string"`
	UpdatedAt      time.Time              `json:"updatedAt" bson:"updatedAt" swaggertype:"string"`
}

// Asset criticality grades.
const (
	CriticalityCritical = "critical"
	CriticalityHigh     = "high"
	CriticalityMedium   = "medium"
	CriticalityLow      = "low"
)

// NewAsset creates an asset with a generated ID and initialized timestamps.
func NewAsset(organizationID, name, assetType string) *Asset {
	now := time.Now().UTC()
	return &Asset{
		ID:             fmt.Sprintf("asset-%s", uuid.New().String()[:8]),
		OrganizationID: organizationID,
		Name:           name,
		AssetType:      assetType,
		Criticality:    CriticalityMedium,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// Validate checks asset fields before persistence.
func (a *Asset) Validate() error {
	if strings.TrimSpace(a.ID) == "" {
		return errors.New("asset ID cannot be empty")
	}
	if strings.TrimSpace(a.OrganizationID) == "" {
		return errors.New("asset organization ID cannot be empty")
	}
	if strings.TrimSpace(a.Name) == "" {
		return errors.New("asset name cannot be empty")
	}
	switch a.Criticality {
	case "", CriticalityCritical, CriticalityHigh, CriticalityMedium, CriticalityLow:
	default:
		return fmt.Errorf("invalid asset criticality: %s", a.Criticality)
	}
	return nil
}

// ContextSummary renders the asset as a short prompt fragment for the
// analysis engines.
func (a *Asset) ContextSummary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Asset: %s (type=%s, criticality=%s)", a.Name, a.AssetType, a.Criticality)
	if a.Hostname != "" {
		fmt.Fprintf(&b, ", hostname=%s", a.Hostname)
	}
	if a.IPAddress != "" {
		fmt.Fprintf(&b, ", ip=%s", a.IPAddress)
	}
	if a.Environment != "" {
		fmt.Fprintf(&b, ", environment=%s", a.Environment)
	}
	if a.Owner != "" {
		fmt.Fprintf(&b, ", owner=%s", a.Owner)
	}
	return b.String()
}
