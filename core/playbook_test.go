package core

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewGeneratedPlaybook(t *testing.T) {
	alert := NewAlert("org-1", "C2 beacon detected", 5)
	pb := NewGeneratedPlaybook(alert, PlaybookTypeImmediateAction)

	assert.True(t, strings.HasPrefix(pb.ID, "pb-"))
	assert.Len(t, pb.ID, len("pb-")+8)
	assert.Equal(t, "org-1", pb.OrganizationID)
	assert.Equal(t, PlaybookTypeImmediateAction, pb.PlaybookType)
	require.NotNil(t, pb.SourceAlertID)
	assert.Equal(t, alert.ID, *pb.SourceAlertID)
	assert.True(t, pb.AIGenerated)
	assert.True(t, pb.IsActive)
	assert.Equal(t, TriggerAutomatic, pb.TriggerType)

	// Low severity alerts get manual triggering
	lowAlert := NewAlert("org-1", "low", 2)
	lowPb := NewGeneratedPlaybook(lowAlert, PlaybookTypeInvestigation)
	assert.Equal(t, TriggerManual, lowPb.TriggerType)
}

func TestPlaybook_SetSteps(t *testing.T) {
	alert := NewAlert("org-1", "t", 4)
	pb := NewGeneratedPlaybook(alert, PlaybookTypeImmediateAction)

	pb.SetSteps([]PlaybookStep{
		{Name: "Isolate host", Type: StepTypeAutomated, Timeout: 900, IsRequired: true},
		{Name: "Block IOCs", Type: StepTypeAutomated, Timeout: 600, IsRequired: true},
		{Name: "Notify owner", Timeout: 300},
	})

	require.Len(t, pb.Steps, 3)
	assert.Equal(t, "step-1", pb.Steps[0].ID)
	assert.Equal(t, 1, pb.Steps[0].Order)
	assert.Equal(t, "step-3", pb.Steps[2].ID)
	assert.Equal(t, 3, pb.Steps[2].Order)
	// Untyped steps default to manual
	assert.Equal(t, StepTypeManual, pb.Steps[2].Type)

	assert.Equal(t, 1800, pb.EstimatedTime)
	assert.Equal(t, ComplexityBeginner, pb.ComplexityLevel)
}

func TestPlaybook_Validate(t *testing.T) {
	alert := NewAlert("org-1", "t", 4)

	valid := func() *Playbook {
		pb := NewGeneratedPlaybook(alert, PlaybookTypeImmediateAction)
		pb.Name = "Immediate Response"
		pb.SetSteps([]PlaybookStep{{Name: "Isolate", Type: StepTypeAutomated, Timeout: 900}})
		return pb
	}

	testCases := []struct {
		name    string
		mutate  func(*Playbook)
		wantErr string
	}{
		{"valid", func(p *Playbook) {}, ""},
		{"empty name", func(p *Playbook) { p.Name = "" }, "playbook name cannot be empty"},
		{"empty org", func(p *Playbook) { p.OrganizationID = "" }, "organization ID cannot be empty"},
		{"generated without source alert", func(p *Playbook) { p.SourceAlertID = nil }, "must reference a source alert"},
		{"generated with bad type", func(p *Playbook) { p.PlaybookType = "bogus" }, "invalid playbook type"},
		{"step without name", func(p *Playbook) { p.Steps[0].Name = "" }, "step name cannot be empty"},
		{"step with bad type", func(p *Playbook) { p.Steps[0].Type = "bogus" }, "invalid step type"},
		{"step with negative timeout", func(p *Playbook) { p.Steps[0].Timeout = -1 }, "timeout cannot be negative"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			pb := valid()
			tc.mutate(pb)
			err := pb.Validate()
			if tc.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tc.wantErr)
			}
		})
	}
}

func TestPlaybook_ManualPlaybookValidates(t *testing.T) {
	pb := &Playbook{
		ID:             "pb-manual1",
		OrganizationID: "org-1",
		Name:           "Quarterly access review",
		AIGenerated:    false,
	}
	assert.NoError(t, pb.Validate())
}

func TestPlaybook_SetGenerationMetadata(t *testing.T) {
	alert := NewAlert("org-1", "t", 4)
	pb := NewGeneratedPlaybook(alert, PlaybookTypeInvestigation)
	pb.Metadata = nil

	generatedAt := time.Date(2025, 10, 31, 12, 0, 0, 0, time.UTC)
	pb.SetGenerationMetadata(AIGenerationMetadata{
		Model:            "gpt-4o-mini",
		Provider:         "openai",
		IsFallback:       true,
		PromptTokens:     812,
		CompletionTokens: 460,
		ProcessingTimeMs: 2150,
		GeneratedAt:      generatedAt,
	})

	require.Contains(t, pb.Metadata, MetadataKeyAIGeneration)
	meta, ok := pb.Metadata[MetadataKeyAIGeneration].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "openai", meta["provider"])
	assert.Equal(t, true, meta["isFallback"])
	assert.Equal(t, 812, meta["promptTokens"])
	assert.Equal(t, "2025-10-31T12:00:00Z", meta["generatedAt"])
}

func TestPlaybook_MatchesAlert(t *testing.T) {
	alert := NewAlert("org-1", "t", 4)
	pb := NewGeneratedPlaybook(alert, PlaybookTypeImmediateAction)

	assert.True(t, pb.MatchesAlert(alert.ID, PlaybookTypeImmediateAction))
	assert.False(t, pb.MatchesAlert(alert.ID, PlaybookTypeInvestigation))
	assert.False(t, pb.MatchesAlert("alert-other", PlaybookTypeImmediateAction))

	manual := &Playbook{ID: "pb-m", OrganizationID: "org-1", Name: "m"}
	assert.False(t, manual.MatchesAlert(alert.ID, PlaybookTypeImmediateAction))
}

func TestTotalStepTime(t *testing.T) {
	assert.Equal(t, 0, TotalStepTime(nil))
	assert.Equal(t, 2100, TotalStepTime([]PlaybookStep{
		{Timeout: 900}, {Timeout: 600}, {Timeout: 600},
	}))
}
