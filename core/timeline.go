package core

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// TimelineEvent is one append-only entry on an alert's investigation
// timeline. Events are never mutated after creation; the only destructive
// operation is the explicit single-event delete.
type TimelineEvent struct {
	ID             string                 `json:"id" bson:"_id" example:"tl-evt-123"`
	AlertID        string                 `json:"alertId" bson:"alertId" example:"alert-123"`
	OrganizationID string                 `json:"organizationId" bson:"organizationId" example:"org-1"`
	Timestamp      time.Time              `json:"timestamp" bson:"timestamp" swaggertype:"string" example:"2025-10-31T12:00:00Z"`
	Type           TimelineEventType      `json:"type" bson:"type" example:"ai_analysis_completed"`
	Title          string                 `json:"title" bson:"title" example:"AI Analysis Completed"`
	Description    string                 `json:"description,omitempty" bson:"description,omitempty"`
	AISource       string                 `json:"aiSource,omitempty" bson:"aiSource,omitempty" example:"openai"`
	AIConfidence   float64                `json:"aiConfidence,omitempty" bson:"aiConfidence,omitempty" example:"0.82"`
	Metadata       map[string]interface{} `json:"metadata,omitempty" bson:"metadata,omitempty"`
	CreatedBy      string                 `json:"createdBy,omitempty" bson:"createdBy,omitempty" example:"analyst1"`
}

// NewTimelineEvent creates a timeline event with a generated ID and the
// current timestamp.
func NewTimelineEvent(alertID, organizationID string, eventType TimelineEventType, title string) *TimelineEvent {
	return &TimelineEvent{
		ID:             fmt.Sprintf("tl-%s", uuid.New().String()),
		AlertID:        alertID,
		OrganizationID: organizationID,
		Timestamp:      time.Now().UTC(),
		Type:           eventType,
		Title:          title,
		Metadata:       make(map[string]interface{}),
	}
}

// Validate checks timeline event fields before persistence.
func (e *TimelineEvent) Validate() error {
	if strings.TrimSpace(e.ID) == "" {
		return errors.New("timeline event ID cannot be empty")
	}
	if strings.TrimSpace(e.AlertID) == "" {
		return errors.New("timeline event alert ID cannot be empty")
	}
	if strings.TrimSpace(e.OrganizationID) == "" {
		return errors.New("timeline event organization ID cannot be empty")
	}
	if !e.Type.IsValid() {
		return fmt.Errorf("invalid timeline event type: %s", e.Type)
	}
	if strings.TrimSpace(e.Title) == "" {
		return errors.New("timeline event title cannot be empty")
	}
	return nil
}
