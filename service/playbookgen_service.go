package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"aegis/aigateway"
	"aegis/config"
	"aegis/core"
	"aegis/metrics"
	"aegis/storage"
	"aegis/util/goroutine"

	"go.uber.org/zap"
)

// ErrAnalysisRequired is returned when playbook generation is attempted on
// an alert that has not been analyzed yet.
var ErrAnalysisRequired = errors.New("AI analysis must be completed before generating playbooks")

// PlaybookGenServiceImpl generates the two typed response playbooks for an
// alert: immediate containment and investigation. The two AI calls run
// concurrently and fail independently; at most one playbook row exists per
// (alert, type) pair, regeneration updates it in place.
type PlaybookGenServiceImpl struct {
	alerts    AlertStore
	playbooks PlaybookStore
	assets    AssetReader
	gateway   aigateway.Generator
	recorder  *TriageRecorder
	notifier  TriageNotifier
	prompts   *core.PromptPack
	aiCfg     config.AIConfig
	logger    *zap.SugaredLogger
}

// PartialFailure describes the failed half of a generation run.
type PartialFailure struct {
	FailedType core.PlaybookType `json:"failedType"`
	Error      string            `json:"error"`
}

// GenerationOutcome is what the generate-playbooks endpoint returns.
type GenerationOutcome struct {
	ImmediatePlaybook     *core.Playbook  `json:"immediateActionPlaybook,omitempty"`
	InvestigationPlaybook *core.Playbook  `json:"investigationPlaybook,omitempty"`
	Regenerated           bool            `json:"regenerated"`
	Reused                bool            `json:"reused"`
	PartialFailure        *PartialFailure `json:"partialFailure,omitempty"`
	InputTokens           int             `json:"inputTokens"`
	OutputTokens          int             `json:"outputTokens"`
	ProcessingTimeMs      int64           `json:"processingTimeMs"`
}

// SinglePlaybookOutcome is what the single-type generation endpoints return.
type SinglePlaybookOutcome struct {
	Playbook         *core.Playbook  `json:"playbook"`
	Updated          bool            `json:"updated"`
	Usage            aigateway.Usage `json:"usage"`
	ProcessingTimeMs int64           `json:"processingTimeMs"`
}

// GenerationStatus is the pure-read triage progress view for an alert.
type GenerationStatus struct {
	AlertID               string   `json:"alertId"`
	HasAIAnalysis         bool     `json:"hasAiAnalysis"`
	HasGeneratedPlaybooks bool     `json:"hasGeneratedPlaybooks"`
	CanGeneratePlaybooks  bool     `json:"canGeneratePlaybooks"`
	PlaybookIDs           []string `json:"playbookIds"`
	TriageState           string   `json:"triageState"`
}

// GenerationPreview is the dry-run view of what generation would produce.
type GenerationPreview struct {
	AlertID             string           `json:"alertId"`
	SecurityEventType   string           `json:"securityEventType"`
	Category            string           `json:"category"`
	TriggerType         core.TriggerType `json:"triggerType"`
	EvidenceTimeout     int              `json:"evidenceTimeoutSeconds"`
	RecoveryTimeout     int              `json:"recoveryTimeoutSeconds"`
	HasAssetContext     bool             `json:"hasAssetContext"`
	ExistingPlaybookIDs []string         `json:"existingPlaybookIds"`
}

// NewPlaybookGenService creates the generation engine. Assets and notifier
// are optional.
func NewPlaybookGenService(alerts AlertStore, playbooks PlaybookStore, assets AssetReader, gateway aigateway.Generator, recorder *TriageRecorder, notifier TriageNotifier, prompts *core.PromptPack, aiCfg config.AIConfig, logger *zap.SugaredLogger) *PlaybookGenServiceImpl {
	if alerts == nil {
		panic("alert store is required")
	}
	if playbooks == nil {
		panic("playbook store is required")
	}
	if gateway == nil {
		panic("AI gateway is required")
	}
	if recorder == nil {
		panic("recorder is required")
	}
	if logger == nil {
		panic("logger is required")
	}
	if prompts == nil {
		prompts = core.DefaultPromptPack()
	}
	return &PlaybookGenServiceImpl{
		alerts:    alerts,
		playbooks: playbooks,
		assets:    assets,
		gateway:   gateway,
		recorder:  recorder,
		notifier:  notifier,
		prompts:   prompts,
		aiCfg:     aiCfg,
		logger:    logger,
	}
}

// sideResult is the outcome of generating one playbook type.
type sideResult struct {
	playbookType core.PlaybookType
	playbook     *core.Playbook
	updated      bool
	usage        aigateway.Usage
	err          error
}

// GeneratePlaybooks generates (or regenerates) both typed playbooks for an
// alert. When both already exist and forceRegenerate is false, the existing
// rows are returned without touching the gateway.
func (s *PlaybookGenServiceImpl) GeneratePlaybooks(ctx context.Context, alertID, organizationID, user string, forceRegenerate bool) (*GenerationOutcome, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	start := time.Now()

	alert, err := s.alerts.GetAlert(ctx, alertID, organizationID)
	if err != nil {
		return nil, err
	}
	if err := core.RequiresAnalysis(alert); err != nil {
		return nil, ErrAnalysisRequired
	}

	existingImmediate, err := s.lookupExisting(ctx, alert, core.PlaybookTypeImmediateAction)
	if err != nil {
		return nil, err
	}
	existingInvestigation, err := s.lookupExisting(ctx, alert, core.PlaybookTypeInvestigation)
	if err != nil {
		return nil, err
	}

	if existingImmediate != nil && existingInvestigation != nil && !forceRegenerate {
		return &GenerationOutcome{
			ImmediatePlaybook:     existingImmediate,
			InvestigationPlaybook: existingInvestigation,
			Regenerated:           false,
			Reused:                true,
			ProcessingTimeMs:      time.Since(start).Milliseconds(),
		}, nil
	}

	assetCtx := s.assetContext(ctx, alert)

	// Both sides run concurrently; one failing never aborts the other.
	var wg sync.WaitGroup
	results := make([]sideResult, 2)
	sides := []struct {
		idx          int
		playbookType core.PlaybookType
		existing     *core.Playbook
	}{
		{0, core.PlaybookTypeImmediateAction, existingImmediate},
		{1, core.PlaybookTypeInvestigation, existingInvestigation},
	}
	for _, side := range sides {
		wg.Add(1)
		side := side
		go func() {
			defer wg.Done()
			results[side.idx] = s.generateSide(ctx, alert, side.playbookType, side.existing, assetCtx, user)
		}()
	}
	wg.Wait()

	immediate, investigation := results[0], results[1]

	if immediate.err != nil && investigation.err != nil {
		s.logger.Errorw("Both playbook generations failed",
			"alertId", alert.ID,
			"immediateError", immediate.err,
			"investigationError", investigation.err)
		return nil, fmt.Errorf("playbook generation failed: %w", immediate.err)
	}

	outcome := &GenerationOutcome{
		Regenerated: immediate.updated || investigation.updated,
	}
	var produced []*core.Playbook
	for _, side := range []sideResult{immediate, investigation} {
		if side.err != nil {
			metrics.PlaybookGenerationPartial.Inc()
			outcome.PartialFailure = &PartialFailure{
				FailedType: side.playbookType,
				Error:      side.err.Error(),
			}
			continue
		}
		if side.playbookType == core.PlaybookTypeImmediateAction {
			outcome.ImmediatePlaybook = side.playbook
		} else {
			outcome.InvestigationPlaybook = side.playbook
		}
		outcome.InputTokens += side.usage.PromptTokens
		outcome.OutputTokens += side.usage.CompletionTokens
		produced = append(produced, side.playbook)
	}

	if err := s.updateAlertRefs(ctx, alert, produced); err != nil {
		return nil, err
	}

	s.notify(ctx, alert, produced)

	outcome.ProcessingTimeMs = time.Since(start).Milliseconds()
	s.logger.Infow("Playbook generation completed",
		"alertId", alert.ID,
		"organizationId", organizationID,
		"regenerated", outcome.Regenerated,
		"partial", outcome.PartialFailure != nil,
		"elapsedMs", outcome.ProcessingTimeMs)
	return outcome, nil
}

// GenerateImmediatePlaybook generates or regenerates only the immediate
// containment playbook.
func (s *PlaybookGenServiceImpl) GenerateImmediatePlaybook(ctx context.Context, alertID, organizationID, user string) (*SinglePlaybookOutcome, error) {
	return s.generateSingle(ctx, alertID, organizationID, user, core.PlaybookTypeImmediateAction)
}

// GenerateInvestigationPlaybook generates or regenerates only the
// investigation playbook.
func (s *PlaybookGenServiceImpl) GenerateInvestigationPlaybook(ctx context.Context, alertID, organizationID, user string) (*SinglePlaybookOutcome, error) {
	return s.generateSingle(ctx, alertID, organizationID, user, core.PlaybookTypeInvestigation)
}

func (s *PlaybookGenServiceImpl) generateSingle(ctx context.Context, alertID, organizationID, user string, playbookType core.PlaybookType) (*SinglePlaybookOutcome, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	start := time.Now()

	alert, err := s.alerts.GetAlert(ctx, alertID, organizationID)
	if err != nil {
		return nil, err
	}
	if err := core.RequiresAnalysis(alert); err != nil {
		return nil, ErrAnalysisRequired
	}

	existing, err := s.lookupExisting(ctx, alert, playbookType)
	if err != nil {
		return nil, err
	}

	result := s.generateSide(ctx, alert, playbookType, existing, s.assetContext(ctx, alert), user)
	if result.err != nil {
		return nil, result.err
	}

	if err := s.updateAlertRefs(ctx, alert, []*core.Playbook{result.playbook}); err != nil {
		return nil, err
	}
	s.notify(ctx, alert, []*core.Playbook{result.playbook})

	return &SinglePlaybookOutcome{
		Playbook:         result.playbook,
		Updated:          result.updated,
		Usage:            result.usage,
		ProcessingTimeMs: time.Since(start).Milliseconds(),
	}, nil
}

// DeleteGeneratedPlaybooks removes all AI-generated playbooks for an alert
// and clears the alert's references to them. Manually authored playbooks
// are untouched.
func (s *PlaybookGenServiceImpl) DeleteGeneratedPlaybooks(ctx context.Context, alertID, organizationID, user string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	alert, err := s.alerts.GetAlert(ctx, alertID, organizationID)
	if err != nil {
		return 0, err
	}

	deleted, err := s.playbooks.DeleteGeneratedPlaybooks(ctx, alertID, organizationID)
	if err != nil {
		return 0, err
	}

	err = s.alerts.UpdateGeneratedPlaybookRefs(ctx, alertID, organizationID, nil, nil, alert.Version)
	if errors.Is(err, storage.ErrVersionConflict) {
		fresh, getErr := s.alerts.GetAlert(ctx, alertID, organizationID)
		if getErr != nil {
			return 0, getErr
		}
		err = s.alerts.UpdateGeneratedPlaybookRefs(ctx, alertID, organizationID, nil, nil, fresh.Version)
	}
	if err != nil {
		return 0, err
	}

	event := core.NewTimelineEvent(alertID, organizationID, core.TimelinePlaybooksDeleted, "Generated Playbooks Deleted")
	event.Description = fmt.Sprintf("%d AI-generated playbook(s) deleted", deleted)
	event.CreatedBy = user
	event.Metadata["deletedCount"] = deleted
	s.recorder.RecordTimeline(ctx, event)

	s.logger.Infow("Generated playbooks deleted",
		"alertId", alertID, "organizationId", organizationID, "count", deleted, "user", user)
	return deleted, nil
}

// GetGenerationStatus reports triage progress for an alert without side
// effects.
func (s *PlaybookGenServiceImpl) GetGenerationStatus(ctx context.Context, alertID, organizationID string) (*GenerationStatus, error) {
	alert, err := s.alerts.GetAlert(ctx, alertID, organizationID)
	if err != nil {
		return nil, err
	}
	ids := alert.GeneratedPlaybookIDs
	if ids == nil {
		ids = []string{}
	}
	return &GenerationStatus{
		AlertID:               alert.ID,
		HasAIAnalysis:         alert.HasAnalysis(),
		HasGeneratedPlaybooks: alert.HasGeneratedPlaybooks(),
		CanGeneratePlaybooks:  alert.HasAnalysis(),
		PlaybookIDs:           ids,
		TriageState:           core.TriageStateOf(alert).String(),
	}, nil
}

// BuildGenerationPreview reports what generation would produce for an
// alert: category, trigger policy, and step timeout bounds. No AI calls.
func (s *PlaybookGenServiceImpl) BuildGenerationPreview(ctx context.Context, alertID, organizationID string) (*GenerationPreview, error) {
	alert, err := s.alerts.GetAlert(ctx, alertID, organizationID)
	if err != nil {
		return nil, err
	}
	if err := core.RequiresAnalysis(alert); err != nil {
		return nil, ErrAnalysisRequired
	}

	eventType := alert.AIAnalysis.EventType()
	ids := alert.GeneratedPlaybookIDs
	if ids == nil {
		ids = []string{}
	}
	return &GenerationPreview{
		AlertID:             alert.ID,
		SecurityEventType:   eventType.String(),
		Category:            core.CategoryForEventType(eventType),
		TriggerType:         core.TriggerForSeverity(alert.Severity),
		EvidenceTimeout:     core.EvidenceTimeoutForSeverity(alert.Severity),
		RecoveryTimeout:     core.RecoveryTimeoutForSeverity(alert.Severity),
		HasAssetContext:     alert.AssetID != nil && *alert.AssetID != "",
		ExistingPlaybookIDs: ids,
	}, nil
}

// ============================================================================
// Internals
// ============================================================================

// lookupExisting fetches the current AI-generated row for a type, mapping
// not-found to nil.
func (s *PlaybookGenServiceImpl) lookupExisting(ctx context.Context, alert *core.Alert, playbookType core.PlaybookType) (*core.Playbook, error) {
	pb, err := s.playbooks.GetPlaybookForAlert(ctx, alert.ID, alert.OrganizationID, playbookType)
	if errors.Is(err, storage.ErrPlaybookNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return pb, nil
}

func (s *PlaybookGenServiceImpl) assetContext(ctx context.Context, alert *core.Alert) string {
	if s.assets == nil || alert.AssetID == nil || *alert.AssetID == "" {
		return ""
	}
	asset, err := s.assets.GetAsset(ctx, *alert.AssetID, alert.OrganizationID)
	if err != nil {
		s.logger.Warnw("Asset context lookup failed, generating without it",
			"alertId", alert.ID, "assetId", *alert.AssetID, "error", err)
		return ""
	}
	return asset.ContextSummary()
}

// generateSide runs one prompt, decodes it, and persists the playbook as
// either an in-place update of the existing row or a new insert.
func (s *PlaybookGenServiceImpl) generateSide(ctx context.Context, alert *core.Alert, playbookType core.PlaybookType, existing *core.Playbook, assetCtx, user string) sideResult {
	res := sideResult{playbookType: playbookType}
	start := time.Now()

	prompt := s.buildPlaybookPrompt(alert, playbookType, assetCtx)

	operation := "playbook_immediate"
	if playbookType == core.PlaybookTypeInvestigation {
		operation = "playbook_investigation"
	}

	genResult, err := s.gateway.Generate(ctx, &aigateway.GenerateRequest{
		Operation:      operation,
		System:         s.prompts.PlaybookSystem,
		Prompt:         prompt,
		Model:          s.aiCfg.Model,
		MaxTokens:      s.aiCfg.MaxTokens,
		Temperature:    s.aiCfg.Temperature,
		OrganizationID: alert.OrganizationID,
	})
	if err != nil {
		res.err = err
		s.recordSideOutcome(ctx, alert, playbookType, nil, false, aigateway.Usage{}, time.Since(start), user, err)
		return res
	}

	payload, err := decodePlaybook(genResult.Provider.Type, genResult.Response)
	if err != nil {
		res.err = err
		s.recordSideOutcome(ctx, alert, playbookType, nil, false, genResult.Usage, time.Since(start), user, err)
		return res
	}

	pb, updated, err := s.persistPlaybook(ctx, alert, playbookType, existing, payload, genResult, time.Since(start))
	if err != nil {
		res.err = err
		s.recordSideOutcome(ctx, alert, playbookType, nil, false, genResult.Usage, time.Since(start), user, err)
		return res
	}

	mode := "create"
	if updated {
		mode = "update"
	}
	metrics.PlaybooksGenerated.WithLabelValues(playbookType.String(), mode).Inc()

	res.playbook = pb
	res.updated = updated
	res.usage = genResult.Usage
	s.recordSideOutcome(ctx, alert, playbookType, pb, updated, genResult.Usage, time.Since(start), user, nil)
	return res
}

// buildPlaybookPrompt interpolates alert and analysis context into the
// template for the requested type.
func (s *PlaybookGenServiceImpl) buildPlaybookPrompt(alert *core.Alert, playbookType core.PlaybookType, assetCtx string) string {
	analysis := alert.AIAnalysis
	eventType := analysis.EventType().String()

	var prompt string
	if playbookType == core.PlaybookTypeImmediateAction {
		actions := "(none)"
		if len(analysis.RecommendedActions) > 0 {
			actions = strings.Join(analysis.RecommendedActions, "; ")
		}
		prompt = fmt.Sprintf(s.prompts.ImmediatePlaybook,
			alert.Title, alert.Severity, eventType, analysis.Summary, actions)
	} else {
		factors := "(none)"
		if len(analysis.RiskAssessment.Factors) > 0 {
			factors = strings.Join(analysis.RiskAssessment.Factors, "; ")
		}
		prompt = fmt.Sprintf(s.prompts.InvestigationPlaybook,
			alert.Title, alert.Severity, eventType, analysis.Summary, factors)
	}

	if assetCtx != "" {
		prompt += "\n" + assetCtx
	}
	return prompt
}

// persistPlaybook writes the decoded payload as the single AI-generated row
// for (alert, type): in-place update when a row exists, insert otherwise. A
// concurrent duplicate insert loses the race and is retried as an update.
func (s *PlaybookGenServiceImpl) persistPlaybook(ctx context.Context, alert *core.Alert, playbookType core.PlaybookType, existing *core.Playbook, payload *playbookPayload, genResult *aigateway.GenerateResult, elapsed time.Duration) (*core.Playbook, bool, error) {
	pb := existing
	updated := existing != nil
	if pb == nil {
		pb = core.NewGeneratedPlaybook(alert, playbookType)
	}

	pb.Name = payload.Name
	pb.Description = payload.Description
	pb.Category = core.CategoryForEventType(alert.AIAnalysis.EventType())
	pb.TriggerType = core.TriggerForSeverity(alert.Severity)
	pb.UpdatedAt = time.Now().UTC()
	pb.SetSteps(s.buildSteps(alert, playbookType, payload))
	pb.SetGenerationMetadata(core.AIGenerationMetadata{
		Model:            s.aiCfg.Model,
		Provider:         genResult.Provider.Type,
		IsFallback:       genResult.Provider.IsFallback,
		PromptTokens:     genResult.Usage.PromptTokens,
		CompletionTokens: genResult.Usage.CompletionTokens,
		ProcessingTimeMs: elapsed.Milliseconds(),
		GeneratedAt:      time.Now().UTC(),
	})

	if updated {
		if err := s.playbooks.UpdatePlaybook(ctx, pb); err != nil {
			return nil, false, err
		}
		return pb, true, nil
	}

	err := s.playbooks.CreatePlaybook(ctx, pb)
	if errors.Is(err, storage.ErrDuplicatePlaybook) {
		// Lost a concurrent insert race; adopt the winner's row.
		winner, getErr := s.playbooks.GetPlaybookForAlert(ctx, alert.ID, alert.OrganizationID, playbookType)
		if getErr != nil {
			return nil, false, getErr
		}
		pb.ID = winner.ID
		pb.CreatedAt = winner.CreatedAt
		if err := s.playbooks.UpdatePlaybook(ctx, pb); err != nil {
			return nil, false, err
		}
		return pb, true, nil
	}
	if err != nil {
		return nil, false, err
	}
	return pb, false, nil
}

// buildSteps converts payload steps, applying the severity timeout policy:
// zero timeouts get the evidence-collection default for the type, and no
// step may exceed the recovery bound.
func (s *PlaybookGenServiceImpl) buildSteps(alert *core.Alert, playbookType core.PlaybookType, payload *playbookPayload) []core.PlaybookStep {
	defaultTimeout := core.EvidenceTimeoutForSeverity(alert.Severity)
	if playbookType == core.PlaybookTypeImmediateAction {
		defaultTimeout = core.EvidenceTimeoutUrgent
	}
	maxTimeout := core.RecoveryTimeoutForSeverity(alert.Severity)

	steps := make([]core.PlaybookStep, 0, len(payload.Steps))
	for _, raw := range payload.Steps {
		timeout := raw.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		if timeout > maxTimeout {
			timeout = maxTimeout
		}
		steps = append(steps, core.PlaybookStep{
			Name:        raw.Name,
			Description: raw.Description,
			Type:        core.StepType(raw.Type),
			Timeout:     timeout,
			IsRequired:  raw.IsRequired,
		})
	}
	return steps
}

// updateAlertRefs merges the produced playbook IDs onto the alert with a
// version check and single retry.
func (s *PlaybookGenServiceImpl) updateAlertRefs(ctx context.Context, alert *core.Alert, produced []*core.Playbook) error {
	if len(produced) == 0 {
		return nil
	}

	now := time.Now().UTC()
	apply := func(current *core.Alert) error {
		ids := mergePlaybookIDs(current.GeneratedPlaybookIDs, produced)
		return s.alerts.UpdateGeneratedPlaybookRefs(ctx, current.ID, current.OrganizationID, ids, &now, current.Version)
	}

	err := apply(alert)
	if !errors.Is(err, storage.ErrVersionConflict) {
		return err
	}

	fresh, getErr := s.alerts.GetAlert(ctx, alert.ID, alert.OrganizationID)
	if getErr != nil {
		return getErr
	}
	return apply(fresh)
}

// mergePlaybookIDs appends produced IDs onto the existing set, dedup'd and
// order-preserving.
func mergePlaybookIDs(existing []string, produced []*core.Playbook) []string {
	seen := make(map[string]bool, len(existing)+len(produced))
	ids := make([]string, 0, len(existing)+len(produced))
	for _, id := range existing {
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	for _, pb := range produced {
		if !seen[pb.ID] {
			seen[pb.ID] = true
			ids = append(ids, pb.ID)
		}
	}
	return ids
}

// recordSideOutcome writes the timeline and activity records for one
// generation side.
func (s *PlaybookGenServiceImpl) recordSideOutcome(ctx context.Context, alert *core.Alert, playbookType core.PlaybookType, pb *core.Playbook, updated bool, usage aigateway.Usage, elapsed time.Duration, user string, attemptErr error) {
	action := "generate_" + playbookType.String()
	entry := core.NewActivityLogEntry(alert.OrganizationID, user, core.AgentPlaybookGeneration, action)
	entry.ExecutionTimeMs = elapsed.Milliseconds()
	entry.Metadata["alertId"] = alert.ID

	if attemptErr != nil {
		entry.MarkFailure(attemptErr)
		s.recorder.RecordActivity(ctx, entry)
		return
	}

	entry.MarkSuccess(usage.PromptTokens, usage.CompletionTokens)
	entry.Metadata["playbookId"] = pb.ID
	s.recorder.RecordActivity(ctx, entry)

	eventType := core.TimelinePlaybookGenerated
	title := "Playbook Generated"
	if updated {
		eventType = core.TimelinePlaybookUpdated
		title = "Playbook Updated"
	}
	event := core.NewTimelineEvent(alert.ID, alert.OrganizationID, eventType, title)
	event.Description = pb.Name
	event.CreatedBy = user
	event.Metadata["playbookId"] = pb.ID
	event.Metadata["playbookType"] = playbookType.String()
	event.Metadata["stepCount"] = len(pb.Steps)
	event.Metadata["securityEventType"] = alert.AIAnalysis.SecurityEventType
	s.recorder.RecordTimeline(ctx, event)
}

// notify fans the produced playbooks out to the notifier without holding up
// the response.
func (s *PlaybookGenServiceImpl) notify(ctx context.Context, alert *core.Alert, produced []*core.Playbook) {
	if s.notifier == nil || len(produced) == 0 {
		return
	}
	goroutine.Go("playbook-notify", s.logger, func() {
		s.notifier.NotifyPlaybooksGenerated(alert, produced)
	})
}
