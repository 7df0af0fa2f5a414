package core

// Severity bounds for alerts. Severity is an ordinal where 5 is the most
// critical and 1 the least.
const (
	SeverityMin = 1
	SeverityMax = 5

	// SeverityAutoTrigger is the threshold at or above which generated
	// playbooks default to automatic triggering.
	SeverityAutoTrigger = 4
)

// MaxErrorMessageLength caps error text returned to API clients.
const MaxErrorMessageLength = 500

// SecurityEventType classifies an alert into one of the supported incident
// categories. The AI engines emit these values; anything unrecognized is
// normalized to SecurityEventRequiresInvestigation.
type SecurityEventType string

const (
	SecurityEventMalwareInfection          SecurityEventType = "malware_infection"
	SecurityEventDataExfiltration          SecurityEventType = "data_exfiltration"
	SecurityEventUnauthorizedAccess        SecurityEventType = "unauthorized_access"
	SecurityEventNetworkIntrusion          SecurityEventType = "network_intrusion"
	SecurityEventInsiderThreat             SecurityEventType = "insider_threat"
	SecurityEventPhishingAttack            SecurityEventType = "phishing_attack"
	SecurityEventVulnerabilityExploitation SecurityEventType = "vulnerability_exploitation"
	SecurityEventDenialOfService           SecurityEventType = "denial_of_service"
	SecurityEventFalsePositive             SecurityEventType = "false_positive"
	SecurityEventRequiresInvestigation     SecurityEventType = "requires_investigation"
)

// String returns the string representation of the event type.
func (t SecurityEventType) String() string {
	return string(t)
}

// IsValid checks if the event type is one of the supported values.
func (t SecurityEventType) IsValid() bool {
	switch t {
	case SecurityEventMalwareInfection, SecurityEventDataExfiltration,
		SecurityEventUnauthorizedAccess, SecurityEventNetworkIntrusion,
		SecurityEventInsiderThreat, SecurityEventPhishingAttack,
		SecurityEventVulnerabilityExploitation, SecurityEventDenialOfService,
		SecurityEventFalsePositive, SecurityEventRequiresInvestigation:
		return true
	}
	return false
}

// NormalizeEventType maps an arbitrary AI-emitted string to a supported
// SecurityEventType, falling back to requires_investigation.
func NormalizeEventType(s string) SecurityEventType {
	t := SecurityEventType(s)
	if t.IsValid() {
		return t
	}
	return SecurityEventRequiresInvestigation
}

// eventTypeCategories maps event types to response playbook categories.
var eventTypeCategories = map[SecurityEventType]string{
	SecurityEventMalwareInfection:          "Malware Response",
	SecurityEventNetworkIntrusion:          "Network Security",
	SecurityEventDataExfiltration:          "Data Protection",
	SecurityEventPhishingAttack:            "Email Security",
	SecurityEventUnauthorizedAccess:        "Access Control",
	SecurityEventVulnerabilityExploitation: "Vulnerability Management",
	SecurityEventDenialOfService:           "Service Availability",
	SecurityEventInsiderThreat:             "Insider Threat Response",
}

// CategoryForEventType returns the playbook category for a security event
// type. Unmapped types fall back to the generic response category.
func CategoryForEventType(t SecurityEventType) string {
	if c, ok := eventTypeCategories[t]; ok {
		return c
	}
	return "General Security Response"
}

// PlaybookType discriminates the two AI-generated playbook variants.
// Manually authored playbooks carry an empty type.
type PlaybookType string

const (
	PlaybookTypeImmediateAction PlaybookType = "immediate_action"
	PlaybookTypeInvestigation   PlaybookType = "investigation"
)

func (t PlaybookType) String() string {
	return string(t)
}

// IsValid checks if the playbook type is one of the generated variants.
func (t PlaybookType) IsValid() bool {
	return t == PlaybookTypeImmediateAction || t == PlaybookTypeInvestigation
}

// StepType describes how a playbook step is carried out.
type StepType string

const (
	StepTypeAutomated StepType = "automated"
	StepTypeManual    StepType = "manual"
	StepTypeDecision  StepType = "decision"
)

func (t StepType) String() string {
	return string(t)
}

// IsValid checks if the step type is supported.
func (t StepType) IsValid() bool {
	switch t {
	case StepTypeAutomated, StepTypeManual, StepTypeDecision:
		return true
	}
	return false
}

// TriggerType describes how a playbook is expected to be launched.
type TriggerType string

const (
	TriggerAutomatic TriggerType = "automatic"
	TriggerManual    TriggerType = "manual"
)

func (t TriggerType) String() string {
	return string(t)
}

// TriggerForSeverity returns the trigger type policy for an alert severity:
// critical and high severity alerts get automatic playbooks.
func TriggerForSeverity(severity int) TriggerType {
	if severity >= SeverityAutoTrigger {
		return TriggerAutomatic
	}
	return TriggerManual
}

// ComplexityLevel grades a playbook by the effort its steps demand.
type ComplexityLevel string

const (
	ComplexityBeginner     ComplexityLevel = "beginner"
	ComplexityIntermediate ComplexityLevel = "intermediate"
	ComplexityAdvanced     ComplexityLevel = "advanced"
)

func (c ComplexityLevel) String() string {
	return string(c)
}

// ComplexityForSteps derives the complexity level from the step count.
func ComplexityForSteps(stepCount int) ComplexityLevel {
	switch {
	case stepCount <= 4:
		return ComplexityBeginner
	case stepCount <= 7:
		return ComplexityIntermediate
	default:
		return ComplexityAdvanced
	}
}

// TimelineEventType enumerates the kinds of entries on an alert timeline.
type TimelineEventType string

const (
	TimelineAIAnalysisCompleted       TimelineEventType = "ai_analysis_completed"
	TimelineAIClassificationCompleted TimelineEventType = "ai_classification_completed"
	TimelinePlaybookGenerated         TimelineEventType = "playbook_generated"
	TimelinePlaybookUpdated           TimelineEventType = "playbook_updated"
	TimelinePlaybooksDeleted          TimelineEventType = "playbooks_deleted"
	TimelineUserAction                TimelineEventType = "user_action"
)

func (t TimelineEventType) String() string {
	return string(t)
}

// IsValid checks if the timeline event type is supported.
func (t TimelineEventType) IsValid() bool {
	switch t {
	case TimelineAIAnalysisCompleted, TimelineAIClassificationCompleted,
		TimelinePlaybookGenerated, TimelinePlaybookUpdated,
		TimelinePlaybooksDeleted, TimelineUserAction:
		return true
	}
	return false
}

// RiskLevel values emitted by the analysis engine.
const (
	RiskLevelCritical = "critical"
	RiskLevelHigh     = "high"
	RiskLevelMedium   = "medium"
	RiskLevelLow      = "low"
)

// Step timeout policy, in seconds. Evidence collection gets a tighter bound
// on critical/high alerts; recovery gets a longer window either way.
const (
	EvidenceTimeoutUrgent  = 900
	EvidenceTimeoutDefault = 1800
	RecoveryTimeoutUrgent  = 3600
	RecoveryTimeoutDefault = 7200
)

// EvidenceTimeoutForSeverity returns the evidence-collection step timeout in
// seconds for the given alert severity.
func EvidenceTimeoutForSeverity(severity int) int {
	if severity >= SeverityAutoTrigger {
		return EvidenceTimeoutUrgent
	}
	return EvidenceTimeoutDefault
}

// RecoveryTimeoutForSeverity returns the recovery step timeout in seconds
// for the given alert severity.
func RecoveryTimeoutForSeverity(severity int) int {
	if severity >= SeverityMax {
		return RecoveryTimeoutUrgent
	}
	return RecoveryTimeoutDefault
}
