package core

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Playbook is a structured response procedure. Manually authored playbooks
// stand alone; AI-generated ones are tied to the alert they were generated
// for via SourceAlertID and PlaybookType.
type Playbook struct {
	ID             string       `json:"id" bson:"_id" example:"pb-1a2b3c4d"`
	OrganizationID string       `json:"organizationId" bson:"organizationId" example:"org-1"`
	Name           string       `json:"name" bson:"name" example:"Immediate Response: Suspicious outbound traffic"`
	Description    string       `json:"description" bson:"description"`
	Category       string       `json:"category" bson:"category" example:"Malware Response"`
	PlaybookType   PlaybookType `json:"playbookType,omitempty" bson:"playbookType,omitempty" example:"immediate_action"`
	SourceAlertID  *string      `json:"sourceAlertId,omitempty" bson:"sourceAlertId,omitempty" example:"alert-123"`
	AIGenerated    bool         `json:"aiGenerated" bson:"aiGenerated" example:"true"`
	TriggerType    TriggerType  `json:"triggerType" bson:"triggerType" example:"automatic"`

	Steps           []PlaybookStep  `json:"steps" bson:"steps"`
	EstimatedTime   int             `json:"estimatedTime" bson:"estimatedTime" example:"5400"`
	ComplexityLevel ComplexityLevel `json:"complexityLevel" bson:"complexityLevel" example:"intermediate"`
	IsActive        bool            `json:"isActive" bson:"isActive" example:"true"`

	Metadata map[string]interface{} `json:"metadata,omitempty" bson:"metadata,omitempty"`

	CreatedBy string    `json:"createdBy,omitempty" bson:"createdBy,omitempty" example:"analyst1"`
	CreatedAt time.Time `json:"createdAt" bson:"createdAt" swaggertype:"string" example:"2025-10-31T12:00:00Z"`
	UpdatedAt time.Time `json:"updatedAt" bson:"updatedAt" swaggertype:"string" example:"2025-10-31T12:05:00Z"`
}

// PlaybookStep is one ordered action inside a playbook.
type PlaybookStep struct {
	ID          string   `json:"id" bson:"id" example:"step-1"`
	Name        string   `json:"name" bson:"name" example:"Isolate affected host"`
	Description string   `json:"description" bson:"description"`
	Type        StepType `json:"type" bson:"type" example:"automated"`
	Timeout     int      `json:"timeout" bson:"timeout" example:"900"`
	IsRequired  bool     `json:"isRequired" bson:"isRequired" example:"true"`
	Order       int      `json:"order" bson:"order" example:"1"`
}

// MetadataKeyAIGeneration is the Metadata key holding AI provenance for
// generated playbooks.
const MetadataKeyAIGeneration = "aiGenerationMetadata"

// AIGenerationMetadata records the provenance of a generated playbook.
type AIGenerationMetadata struct {
	Model            string    `json:"model" bson:"model" example:"gpt-4o-mini"`
	Provider         string    `json:"provider" bson:"provider" example:"openai"`
	IsFallback       bool      `json:"isFallback" bson:"isFallback" example:"false"`
	PromptTokens     int       `json:"promptTokens" bson:"promptTokens" example:"812"`
	CompletionTokens int       `json:"completionTokens" bson:"completionTokens" example:"460"`
	ProcessingTimeMs int64     `json:"processingTimeMs" bson:"processingTimeMs" example:"2150"`
	GeneratedAt      time.Time `json:"generatedAt" bson:"generatedAt" swaggertype:"string"`
}

// NewGeneratedPlaybook creates an AI-generated playbook shell for the given
// alert and type. Steps, timing, and metadata are filled in by the
// generation engine.
func NewGeneratedPlaybook(alert *Alert, playbookType PlaybookType) *Playbook {
	now := time.Now().UTC()
	alertID := alert.ID
	return &Playbook{
		ID:             fmt.Sprintf("pb-%s", uuid.New().String()[:8]),
		OrganizationID: alert.OrganizationID,
		PlaybookType:   playbookType,
		SourceAlertID:  &alertID,
		AIGenerated:    true,
		TriggerType:    TriggerForSeverity(alert.Severity),
		IsActive:       true,
		Metadata:       make(map[string]interface{}),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// Validate checks playbook fields before persistence.
func (p *Playbook) Validate() error {
	if strings.TrimSpace(p.ID) == "" {
		return errors.New("playbook ID cannot be empty")
	}
	if strings.TrimSpace(p.OrganizationID) == "" {
		return errors.New("playbook organization ID cannot be empty")
	}
	if strings.TrimSpace(p.Name) == "" {
		return errors.New("playbook name cannot be empty")
	}
	if p.AIGenerated {
		if p.SourceAlertID == nil || strings.TrimSpace(*p.SourceAlertID) == "" {
			return errors.New("AI-generated playbook must reference a source alert")
		}
		if !p.PlaybookType.IsValid() {
			return fmt.Errorf("invalid playbook type: %s", p.PlaybookType)
		}
	}
	for i := range p.Steps {
		if err := p.Steps[i].Validate(); err != nil {
			return fmt.Errorf("step %d: %w", i+1, err)
		}
	}
	return nil
}

// Validate checks a single step.
func (s *PlaybookStep) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return errors.New("step name cannot be empty")
	}
	if s.Type != "" && !s.Type.IsValid() {
		return fmt.Errorf("invalid step type: %s", s.Type)
	}
	if s.Timeout < 0 {
		return fmt.Errorf("step timeout cannot be negative, got %d", s.Timeout)
	}
	return nil
}

// SetSteps replaces the playbook's steps, normalizing IDs and order, and
// recomputes the derived estimate and complexity fields.
func (p *Playbook) SetSteps(steps []PlaybookStep) {
	for i := range steps {
		steps[i].ID = fmt.Sprintf("step-%d", i+1)
		steps[i].Order = i + 1
		if steps[i].Type == "" {
			steps[i].Type = StepTypeManual
		}
	}
	p.Steps = steps
	p.EstimatedTime = TotalStepTime(steps)
	p.ComplexityLevel = ComplexityForSteps(len(steps))
}

// SetGenerationMetadata records AI provenance on the playbook.
func (p *Playbook) SetGenerationMetadata(meta AIGenerationMetadata) {
	if p.Metadata == nil {
		p.Metadata = make(map[string]interface{})
	}
	p.Metadata[MetadataKeyAIGeneration] = map[string]interface{}{
		"model":            meta.Model,
		"provider":         meta.Provider,
		"isFallback":       meta.IsFallback,
		"promptTokens":     meta.PromptTokens,
		"completionTokens": meta.CompletionTokens,
		"processingTimeMs": meta.ProcessingTimeMs,
		"generatedAt":      meta.GeneratedAt.Format(time.RFC3339),
	}
}

// TotalStepTime sums step timeouts in seconds.
func TotalStepTime(steps []PlaybookStep) int {
	total := 0
	for i := range steps {
		total += steps[i].Timeout
	}
	return total
}

// MatchesAlert reports whether this playbook is the AI-generated row for the
// given alert and type.
func (p *Playbook) MatchesAlert(alertID string, playbookType PlaybookType) bool {
	return p.AIGenerated &&
		p.SourceAlertID != nil && *p.SourceAlertID == alertID &&
		p.PlaybookType == playbookType
}
