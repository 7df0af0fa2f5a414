package service

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"aegis/aigateway"
	"aegis/core"
	"aegis/metrics"

	"github.com/dlclark/regexp2"
	"github.com/xeipuuv/gojsonschema"
)

// ============================================================================
// Response payload shapes
// ============================================================================

// analysisPayload is the JSON shape the analysis prompt demands.
type analysisPayload struct {
	Summary           string `json:"summary"`
	SecurityEventType string `json:"securityEventType"`
	RiskAssessment    struct {
		Level          string   `json:"level"`
		Factors        []string `json:"factors"`
		BusinessImpact string   `json:"businessImpact"`
	} `json:"riskAssessment"`
	Confidence         float64  `json:"confidence"`
	RecommendedActions []string `json:"recommendedActions"`
	ContextualTags     []string `json:"contextualTags"`
}

// classificationPayload is the JSON shape the classification prompt demands.
type classificationPayload struct {
	SecurityEventType string   `json:"securityEventType"`
	ContextualTags    []string `json:"contextualTags"`
	Confidence        float64  `json:"confidence"`
	Reasoning         string   `json:"reasoning"`
}

// playbookPayload is the JSON shape both playbook prompts demand.
type playbookPayload struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Steps       []struct {
		Name        string `json:"name"`
		Description string `json:"description"`
		Type        string `json:"type"`
		Timeout     int    `json:"timeout"`
		IsRequired  bool   `json:"isRequired"`
	} `json:"steps"`
}

// ============================================================================
// Schemas
// ============================================================================

const analysisSchema = `{
	"type": "object",
	"required": ["summary", "securityEventType", "riskAssessment", "confidence", "recommendedActions"],
	"properties": {
		"summary": {"type": "string", "minLength": 1},
		"securityEventType": {"type": "string", "minLength": 1},
		"riskAssessment": {
			"type": "object",
			"required": ["level"],
			"properties": {
				"level": {"type": "string", "enum": ["critical", "high", "medium", "low"]},
				"factors": {"type": "array", "items": {"type": "string"}},
				"businessImpact": {"type": "string"}
			}
		},
		"confidence": {"type": "number", "minimum": 0, "maximum": 1},
		"recommendedActions": {"type": "array", "items": {"type": "string"}},
		"contextualTags": {"type": "array", "items": {"type": "string"}}
	}
}`

const classificationSchema = `{
	"type": "object",
	"required": ["securityEventType", "confidence"],
	"properties": {
		"securityEventType": {"type": "string", "minLength": 1},
		"contextualTags": {"type": "array", "items": {"type": "string"}},
		"confidence": {"type": "number", "minimum": 0, "maximum": 1},
		"reasoning": {"type": "string"}
	}
}`

const playbookSchema = `{
	"type": "object",
	"required": ["name", "steps"],
	"properties": {
		"name": {"type": "string", "minLength": 1},
		"description": {"type": "string"},
		"steps": {
			"type": "array",
			"minItems": 1,
			"items": {
				"type": "object",
				"required": ["name"],
				"properties": {
					"name": {"type": "string", "minLength": 1},
					"description": {"type": "string"},
					"type": {"type": "string", "enum": ["automated", "manual", "decision"]},
					"timeout": {"type": "integer", "minimum": 0},
					"isRequired": {"type": "boolean"}
				}
			}
		}
	}
}`

var (
	analysisSchemaLoader       = gojsonschema.NewStringLoader(analysisSchema)
	classificationSchemaLoader = gojsonschema.NewStringLoader(classificationSchema)
	playbookSchemaLoader       = gojsonschema.NewStringLoader(playbookSchema)
)

// ============================================================================
// JSON extraction
// ============================================================================

// fencedJSONPattern pulls a JSON object out of a markdown code fence.
// Bounded with a match timeout so a pathological response cannot stall the
// request goroutine.
var fencedJSONPattern = func() *regexp2.Regexp {
	re := regexp2.MustCompile("```(?:json)?\\s*(\\{[\\s\\S]*?\\})\\s*```", regexp2.None)
	re.MatchTimeout = 2 * time.Second
	return re
}()

// extractJSON locates the JSON object inside a model response: raw JSON,
// a fenced block, or the outermost braces of mixed prose.
func extractJSON(response string) (string, error) {
	trimmed := strings.TrimSpace(response)
	if trimmed == "" {
		return "", fmt.Errorf("empty response")
	}
	if strings.HasPrefix(trimmed, "{") && strings.HasSuffix(trimmed, "}") {
		return trimmed, nil
	}

	if m, err := fencedJSONPattern.FindStringMatch(trimmed); err == nil && m != nil {
		if g := m.GroupByNumber(1); g != nil {
			return g.String(), nil
		}
	}

	// Outermost braces fallback for prose-wrapped JSON.
	start := strings.Index(trimmed, "{")
	end := strings.LastIndex(trimmed, "}")
	if start >= 0 && end > start {
		return trimmed[start : end+1], nil
	}

	return "", fmt.Errorf("no JSON object found in response")
}

// validateAgainst runs schema validation over the extracted document.
func validateAgainst(schema gojsonschema.JSONLoader, doc string) error {
	result, err := gojsonschema.Validate(schema, gojsonschema.NewStringLoader(doc))
	if err != nil {
		return fmt.Errorf("schema validation: %w", err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return fmt.Errorf("response failed schema validation: %s", strings.Join(msgs, "; "))
	}
	return nil
}

// ============================================================================
// Decoders
// ============================================================================

// decodeAnalysis turns a model response into an AIAnalysis. A schema-invalid
// response that still carries a summary and event type is recovered as a
// degraded analysis rather than discarded; anything less fails closed with a
// ParseError.
func decodeAnalysis(provider, response string) (*core.AIAnalysis, error) {
	doc, err := extractJSON(response)
	if err != nil {
		return nil, &aigateway.ParseError{Provider: provider, Err: err}
	}

	if schemaErr := validateAgainst(analysisSchemaLoader, doc); schemaErr != nil {
		if degraded := recoverDegradedAnalysis(doc); degraded != nil {
			metrics.AnalysesDegraded.Inc()
			return degraded, nil
		}
		return nil, &aigateway.ParseError{Provider: provider, Err: schemaErr}
	}

	var payload analysisPayload
	if err := json.Unmarshal([]byte(doc), &payload); err != nil {
		return nil, &aigateway.ParseError{Provider: provider, Err: err}
	}

	return &core.AIAnalysis{
		Summary:           payload.Summary,
		SecurityEventType: core.NormalizeEventType(payload.SecurityEventType).String(),
		RiskAssessment: core.RiskAssessment{
			Level:          payload.RiskAssessment.Level,
			Factors:        payload.RiskAssessment.Factors,
			BusinessImpact: payload.RiskAssessment.BusinessImpact,
		},
		Confidence:         clampConfidence(payload.Confidence),
		RecommendedActions: payload.RecommendedActions,
		ContextualTags:     payload.ContextualTags,
	}, nil
}

// recoverDegradedAnalysis salvages a minimal analysis from a schema-invalid
// document. Requires summary and securityEventType; everything else gets
// conservative defaults.
func recoverDegradedAnalysis(doc string) *core.AIAnalysis {
	var partial struct {
		Summary            string   `json:"summary"`
		SecurityEventType  string   `json:"securityEventType"`
		RecommendedActions []string `json:"recommendedActions"`
	}
	if err := json.Unmarshal([]byte(doc), &partial); err != nil {
		return nil
	}
	if strings.TrimSpace(partial.Summary) == "" || strings.TrimSpace(partial.SecurityEventType) == "" {
		return nil
	}
	return &core.AIAnalysis{
		Summary:           partial.Summary,
		SecurityEventType: core.NormalizeEventType(partial.SecurityEventType).String(),
		RiskAssessment: core.RiskAssessment{
			Level: core.RiskLevelMedium,
		},
		Confidence:         0,
		RecommendedActions: partial.RecommendedActions,
		Degraded:           true,
	}
}

// decodeClassification turns a model response into a classification result.
// Fails closed: no degraded path.
func decodeClassification(provider, response string) (*classificationPayload, error) {
	doc, err := extractJSON(response)
	if err != nil {
		return nil, &aigateway.ParseError{Provider: provider, Err: err}
	}
	if err := validateAgainst(classificationSchemaLoader, doc); err != nil {
		return nil, &aigateway.ParseError{Provider: provider, Err: err}
	}

	var payload classificationPayload
	if err := json.Unmarshal([]byte(doc), &payload); err != nil {
		return nil, &aigateway.ParseError{Provider: provider, Err: err}
	}
	payload.SecurityEventType = core.NormalizeEventType(payload.SecurityEventType).String()
	payload.Confidence = clampConfidence(payload.Confidence)
	return &payload, nil
}

// decodePlaybook turns a model response into a playbook payload. Fails
// closed: no degraded path.
func decodePlaybook(provider, response string) (*playbookPayload, error) {
	doc, err := extractJSON(response)
	if err != nil {
		return nil, &aigateway.ParseError{Provider: provider, Err: err}
	}
	if err := validateAgainst(playbookSchemaLoader, doc); err != nil {
		return nil, &aigateway.ParseError{Provider: provider, Err: err}
	}

	var payload playbookPayload
	if err := json.Unmarshal([]byte(doc), &payload); err != nil {
		return nil, &aigateway.ParseError{Provider: provider, Err: err}
	}
	return &payload, nil
}

func clampConfidence(c float64) float64 {
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}
