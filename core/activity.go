package core

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ActivityLogEntry is one operational record of an AI agent invocation:
// which engine ran, for whom, whether it succeeded, and what it cost.
// Distinct from the per-alert timeline, which narrates the investigation.
type ActivityLogEntry struct {
	ID               string                 `json:"id" bson:"_id" example:"act-123"`
	OrganizationID   string                 `json:"organizationId" bson:"organizationId" example:"org-1"`
	UserID           string                 `json:"userId,omitempty" bson:"userId,omitempty" example:"analyst1"`
	AgentName        string                 `json:"agentName" bson:"agentName" example:"alert_analysis"`
	Action           string                 `json:"action" bson:"action" example:"analyze_alert"`
	Success          bool                   `json:"success" bson:"success" example:"true"`
	ErrorMessage     string                 `json:"errorMessage,omitempty" bson:"errorMessage,omitempty"`
	PromptTokens     int                    `json:"promptTokens,omitempty" bson:"promptTokens,omitempty" example:"812"`
	CompletionTokens int                    `json:"completionTokens,omitempty" bson:"completionTokens,omitempty" example:"460"`
	ExecutionTimeMs  int64                  `json:"executionTimeMs,omitempty" bson:"executionTimeMs,omitempty" example:"2150"`
	Timestamp        time.Time              `json:"timestamp" bson:"timestamp" swaggertype:"string" example:"2025-10-31T12:00:00Z"`
	Metadata         map[string]interface{} `json:"metadata,omitempty" bson:"metadata,omitempty"`
}

// Agent names recorded in the activity log.
const (
	AgentAlertAnalysis      = "alert_analysis"
	AgentAlertClassifier    = "alert_classifier"
	AgentPlaybookGeneration = "playbook_generation"
)

// NewActivityLogEntry creates an activity entry with a generated ID and the
// current timestamp.
func NewActivityLogEntry(organizationID, userID, agentName, action string) *ActivityLogEntry {
	return &ActivityLogEntry{
		ID:             fmt.Sprintf("act-%s", uuid.New().String()),
		OrganizationID: organizationID,
		UserID:         userID,
		AgentName:      agentName,
		Action:         action,
		Timestamp:      time.Now().UTC(),
		Metadata:       make(map[string]interface{}),
	}
}

// Validate checks activity entry fields before persistence.
func (e *ActivityLogEntry) Validate() error {
	if strings.TrimSpace(e.ID) == "" {
		return errors.New("activity entry ID cannot be empty")
	}
	if strings.TrimSpace(e.OrganizationID) == "" {
		return errors.New("activity entry organization ID cannot be empty")
	}
	if strings.TrimSpace(e.AgentName) == "" {
		return errors.New("activity entry agent name cannot be empty")
	}
	if strings.TrimSpace(e.Action) == "" {
		return errors.New("activity entry action cannot be empty")
	}
	return nil
}

// MarkFailure records a failed invocation outcome on the entry.
func (e *ActivityLogEntry) MarkFailure(err error) {
	e.Success = false
	if err != nil {
		e.ErrorMessage = err.Error()
	}
}

// MarkSuccess records a successful invocation with its token usage.
func (e *ActivityLogEntry) MarkSuccess(promptTokens, completionTokens int) {
	e.Success = true
	e.ErrorMessage = ""
	e.PromptTokens = promptTokens
	e.CompletionTokens = completionTokens
}
