package core

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// PromptPack holds the instruction templates for the AI triage engines.
// Templates are fmt-style: the services interpolate alert context into the
// %s/%d verbs. Operators can override individual templates from a YAML file;
// anything left empty falls back to the built-in default.
type PromptPack struct {
	AnalysisSystem        string `yaml:"analysisSystem"`
	Analysis              string `yaml:"analysis"`
	ClassificationSystem  string `yaml:"classificationSystem"`
	Classification        string `yaml:"classification"`
	PlaybookSystem        string `yaml:"playbookSystem"`
	ImmediatePlaybook     string `yaml:"immediatePlaybook"`
	InvestigationPlaybook string `yaml:"investigationPlaybook"`
}

const defaultAnalysisSystem = `You are a senior SOC analyst. Respond with a single JSON object and nothing else. No markdown fences, no commentary.`

// Verbs: title, severity, description, raw data, enrichment, asset context.
const defaultAnalysisPrompt = `Analyze this security alert and respond with JSON matching exactly this shape:
{"summary": string, "securityEventType": string, "riskAssessment": {"level": "critical"|"high"|"medium"|"low", "factors": [string], "businessImpact": string}, "confidence": number between 0 and 1, "recommendedActions": [string], "contextualTags": [string]}

securityEventType must be one of: malware_infection, data_exfiltration, unauthorized_access, network_intrusion, insider_threat, phishing_attack, vulnerability_exploitation, denial_of_service, false_positive, requires_investigation.

Alert title: %s
Severity: %d of 5
Description: %s
Raw data: %s
Enrichment: %s
%s`

// Verbs: title, severity, description, prior analysis summary.
const defaultClassificationPrompt = `Classify this security alert and respond with JSON matching exactly this shape:
{"securityEventType": string, "contextualTags": [string], "confidence": number between 0 and 1, "reasoning": string}

securityEventType must be one of: malware_infection, data_exfiltration, unauthorized_access, network_intrusion, insider_threat, phishing_attack, vulnerability_exploitation, denial_of_service, false_positive, requires_investigation.

Alert title: %s
Severity: %d of 5
Description: %s
Prior analysis: %s`

const defaultPlaybookSystem = `You are a SOC automation engineer writing incident response playbooks. Respond with a single JSON object and nothing else. No markdown fences, no commentary.`

// Verbs: title, severity, event type, analysis summary, recommended actions.
const defaultImmediatePlaybookPrompt = `Write an immediate containment playbook for this alert. Respond with JSON matching exactly this shape:
{"name": string, "description": string, "steps": [{"name": string, "description": string, "type": "automated"|"manual"|"decision", "timeout": seconds, "isRequired": bool}]}

Focus on containment within the first hour: isolate, block, preserve. 4 to 8 steps.

Alert title: %s
Severity: %d of 5
Event type: %s
Analysis summary: %s
Recommended actions: %s`

// Verbs: title, severity, event type, analysis summary, risk factors.
const defaultInvestigationPlaybookPrompt = `Write an investigation playbook for this alert. Respond with JSON matching exactly this shape:
{"name": string, "description": string, "steps": [{"name": string, "description": string, "type": "automated"|"manual"|"decision", "timeout": seconds, "isRequired": bool}]}

Focus on evidence collection, scoping, and root cause. 5 to 10 steps.

Alert title: %s
Severity: %d of 5
Event type: %s
Analysis summary: %s
Risk factors: %s`

// DefaultPromptPack returns the built-in templates.
func DefaultPromptPack() *PromptPack {
	return &PromptPack{
		AnalysisSystem:        defaultAnalysisSystem,
		Analysis:              defaultAnalysisPrompt,
		ClassificationSystem:  defaultAnalysisSystem,
		Classification:        defaultClassificationPrompt,
		PlaybookSystem:        defaultPlaybookSystem,
		ImmediatePlaybook:     defaultImmediatePlaybookPrompt,
		InvestigationPlaybook: defaultInvestigationPlaybookPrompt,
	}
}

// LoadPromptPack reads template overrides from a YAML file and merges them
// over the defaults. A missing file is not an error; the defaults apply.
func LoadPromptPack(path string) (*PromptPack, error) {
	pack := DefaultPromptPack()
	if path == "" {
		return pack, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return pack, nil
		}
		return nil, fmt.Errorf("reading prompt pack %s: %w", path, err)
	}

	var overrides PromptPack
	if err := yaml.Unmarshal(data, &overrides); err != nil {
		return nil, fmt.Errorf("parsing prompt pack %s: %w", path, err)
	}

	pack.merge(&overrides)
	return pack, nil
}

func (p *PromptPack) merge(o *PromptPack) {
	if o.AnalysisSystem != "" {
		p.AnalysisSystem = o.AnalysisSystem
	}
	if o.Analysis != "" {
		p.Analysis = o.Analysis
	}
	if o.ClassificationSystem != "" {
		p.ClassificationSystem = o.ClassificationSystem
	}
	if o.Classification != "" {
		p.Classification = o.Classification
	}
	if o.PlaybookSystem != "" {
		p.PlaybookSystem = o.PlaybookSystem
	}
	if o.ImmediatePlaybook != "" {
		p.ImmediatePlaybook = o.ImmediatePlaybook
	}
	if o.InvestigationPlaybook != "" {
		p.InvestigationPlaybook = o.InvestigationPlaybook
	}
}
