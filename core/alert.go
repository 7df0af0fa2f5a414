package core

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Alert represents a security alert under triage. Alerts are tenant-scoped:
// every read and write is filtered by OrganizationID.
type Alert struct {
	ID             string                 `json:"id" bson:"_id" example:"alert-123"`
	OrganizationID string                 `json:"organizationId" bson:"organizationId" example:"org-1"`
	Title          string                 `json:"title" bson:"title" example:"Suspicious outbound traffic"`
	Description    string                 `json:"description" bson:"description" example:"Host 10.0.0.5 contacted a known C2 domain"`
	Severity       int                    `json:"severity" bson:"severity" example:"4"`
	Status         AlertStatus            `json:"status" bson:"status" example:"open"`
	SourceSystem   string                 `json:"sourceSystem,omitempty" bson:"sourceSystem,omitempty" example:"suricata"`
	AssetID        *string                `json:"assetId,omitempty" bson:"assetId,omitempty" example:"asset-7"`
	RawData        map[string]interface{} `json:"rawData,omitempty" bson:"rawData,omitempty"`
	EnrichmentData map[string]interface{} `json:"enrichmentData,omitempty" bson:"enrichmentData,omitempty"`

	// AI triage state. AIAnalysis is nil until the analysis engine has run.
	AIAnalysis           *AIAnalysis `json:"aiAnalysis,omitempty" bson:"aiAnalysis,omitempty"`
	AIAnalysisTimestamp  *time.Time  `json:"aiAnalysisTimestamp,omitempty" bson:"aiAnalysisTimestamp,omitempty" swaggertype:"string"`
	GeneratedPlaybookIDs []string    `json:"generatedPlaybookIds,omitempty" bson:"generatedPlaybookIds,omitempty"`
	PlaybooksGeneratedAt *time.Time  `json:"playbooksGeneratedAt,omitempty" bson:"playbooksGeneratedAt,omitempty" swaggertype:"string"`

	// Version guards concurrent triage updates. Storage increments it on
	// every successful write and rejects stale writers.
	Version int64 `json:"version" bson:"version" example:"3"`

	CreatedBy string    `json:"createdBy,omitempty" bson:"createdBy,omitempty" example:"ingest"`
	CreatedAt time.Time `json:"createdAt" bson:"createdAt" swaggertype:"string" example:"2025-10-31T12:00:00Z"`
	UpdatedAt time.Time `json:"updatedAt" bson:"updatedAt" swaggertype:"string" example:"2025-10-31T12:05:00Z"`
}

// AlertStatus tracks the operational disposition of an alert, independent of
// its triage progress.
type AlertStatus string

const (
	AlertStatusOpen          AlertStatus = "open"
	AlertStatusInvestigating AlertStatus = "investigating"
	AlertStatusResolved      AlertStatus = "resolved"
	AlertStatusClosed        AlertStatus = "closed"
)

func (s AlertStatus) String() string {
	return string(s)
}

// IsValid checks if the alert status is one of the supported values.
func (s AlertStatus) IsValid() bool {
	switch s {
	case AlertStatusOpen, AlertStatusInvestigating, AlertStatusResolved, AlertStatusClosed:
		return true
	}
	return false
}

// AIAnalysis is the structured result of the alert analysis engine. It is
// persisted on the alert and reused by classification and playbook
// generation until refreshed.
type AIAnalysis struct {
	Summary            string         `json:"summary" bson:"summary" example:"Likely C2 beaconing from a compromised workstation"`
	SecurityEventType  string         `json:"securityEventType" bson:"securityEventType" example:"malware_infection"`
	RiskAssessment     RiskAssessment `json:"riskAssessment" bson:"riskAssessment"`
	Confidence         float64        `json:"confidence" bson:"confidence" example:"0.82"`
	RecommendedActions []string       `json:"recommendedActions" bson:"recommendedActions"`
	ContextualTags     []string       `json:"contextualTags,omitempty" bson:"contextualTags,omitempty"`

	// Degraded marks an analysis assembled from a malformed provider
	// response. Degraded analyses are served but never treated as a basis
	// for classification caching.
	Degraded bool `json:"degraded,omitempty" bson:"degraded,omitempty"`
}

// RiskAssessment captures the analysis engine's risk verdict.
type RiskAssessment struct {
	Level          string   `json:"level" bson:"level" example:"high"`
	Factors        []string `json:"factors,omitempty" bson:"factors,omitempty"`
	BusinessImpact string   `json:"businessImpact,omitempty" bson:"businessImpact,omitempty" example:"Potential data loss on finance segment"`
}

// EventType returns the analysis event type normalized to the supported
// taxonomy.
func (a *AIAnalysis) EventType() SecurityEventType {
	return NormalizeEventType(a.SecurityEventType)
}

// NewAlert creates an alert with a generated UUID and initialized timestamps.
func NewAlert(organizationID, title string, severity int) *Alert {
	now := time.Now().UTC()
	return &Alert{
		ID:             fmt.Sprintf("alert-%s", uuid.New().String()),
		OrganizationID: organizationID,
		Title:          title,
		Severity:       severity,
		Status:         AlertStatusOpen,
		Version:        1,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// Validate checks alert fields against the constraints the API enforces on
// ingest. Storage assumes validated alerts.
func (a *Alert) Validate() error {
	if strings.TrimSpace(a.ID) == "" {
		return errors.New("alert ID cannot be empty")
	}
	if strings.TrimSpace(a.OrganizationID) == "" {
		return errors.New("alert organization ID cannot be empty")
	}
	if strings.TrimSpace(a.Title) == "" {
		return errors.New("alert title cannot be empty")
	}
	if a.Severity < SeverityMin || a.Severity > SeverityMax {
		return fmt.Errorf("alert severity must be between %d and %d, got %d", SeverityMin, SeverityMax, a.Severity)
	}
	if a.Status != "" && !a.Status.IsValid() {
		return fmt.Errorf("invalid alert status: %s", a.Status)
	}
	return nil
}

// HasAnalysis reports whether a completed AI analysis is persisted on the
// alert.
func (a *Alert) HasAnalysis() bool {
	return a.AIAnalysis != nil && a.AIAnalysisTimestamp != nil
}

// HasGeneratedPlaybooks reports whether the alert currently references any
// AI-generated playbooks.
func (a *Alert) HasGeneratedPlaybooks() bool {
	return len(a.GeneratedPlaybookIDs) > 0
}

// ReferencesPlaybook reports whether the alert already tracks the given
// playbook ID.
func (a *Alert) ReferencesPlaybook(playbookID string) bool {
	for _, id := range a.GeneratedPlaybookIDs {
		if id == playbookID {
			return true
		}
	}
	return false
}
