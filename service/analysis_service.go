package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"aegis/aigateway"
	"aegis/config"
	"aegis/core"
	"aegis/storage"

	"go.uber.org/zap"
)

// AnalysisServiceImpl runs AI analysis over a single alert: prompt
// construction, gateway call, strict decode, and version-guarded
// persistence of the result onto the alert.
type AnalysisServiceImpl struct {
	alerts   AlertStore
	assets   AssetReader
	gateway  aigateway.Generator
	recorder *TriageRecorder
	prompts  *core.PromptPack
	aiCfg    config.AIConfig
	logger   *zap.SugaredLogger
}

// AnalysisResult is what the analysis endpoint returns.
type AnalysisResult struct {
	AlertID          string                 `json:"alertId"`
	Title            string                 `json:"title"`
	Severity         int                    `json:"severity"`
	Analysis         *core.AIAnalysis       `json:"analysis"`
	Usage            aigateway.Usage        `json:"usage"`
	Provider         aigateway.ProviderInfo `json:"provider"`
	ProcessingTimeMs int64                  `json:"processingTimeMs"`
}

// NewAnalysisService creates the analysis engine. The asset reader is
// optional; without it prompts carry no asset context.
func NewAnalysisService(alerts AlertStore, assets AssetReader, gateway aigateway.Generator, recorder *TriageRecorder, prompts *core.PromptPack, aiCfg config.AIConfig, logger *zap.SugaredLogger) *AnalysisServiceImpl {
	if alerts == nil {
		panic("alert store is required")
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
	return &AnalysisServiceImpl{
		alerts:   alerts,
		assets:   assets,
		gateway:  gateway,
		recorder: recorder,
		prompts:  prompts,
		aiCfg:    aiCfg,
		logger:   logger,
	}
}

// PerformAnalysis analyzes one alert and persists the result.
func (s *AnalysisServiceImpl) PerformAnalysis(ctx context.Context, alertID, organizationID, user string) (*AnalysisResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	start := time.Now()

	alert, err := s.alerts.GetAlert(ctx, alertID, organizationID)
	if err != nil {
		return nil, err
	}

	prompt := s.buildPrompt(ctx, alert)

	result, err := s.gateway.Generate(ctx, &aigateway.GenerateRequest{
		Operation:      "analysis",
		System:         s.prompts.AnalysisSystem,
		Prompt:         prompt,
		Model:          s.aiCfg.Model,
		MaxTokens:      s.aiCfg.MaxTokens,
		Temperature:    s.aiCfg.Temperature,
		OrganizationID: organizationID,
	})
	if err != nil {
		s.recordOutcome(ctx, alert, user, nil, aigateway.Usage{}, time.Since(start), err)
		return nil, err
	}

	analysis, err := decodeAnalysis(result.Provider.Type, result.Response)
	if err != nil {
		s.recordOutcome(ctx, alert, user, nil, result.Usage, time.Since(start), err)
		return nil, err
	}

	analyzedAt := time.Now().UTC()
	if err := s.saveAnalysis(ctx, alert, analysis, analyzedAt); err != nil {
		return nil, err
	}

	elapsed := time.Since(start)
	s.recordOutcome(ctx, alert, user, analysis, result.Usage, elapsed, nil)

	s.logger.Infow("Alert analysis completed",
		"alertId", alert.ID,
		"organizationId", organizationID,
		"eventType", analysis.SecurityEventType,
		"degraded", analysis.Degraded,
		"provider", result.Provider.Type,
		"fallback", result.Provider.IsFallback,
		"elapsedMs", elapsed.Milliseconds())

	return &AnalysisResult{
		AlertID:          alert.ID,
		Title:            alert.Title,
		Severity:         alert.Severity,
		Analysis:         analysis,
		Usage:            result.Usage,
		Provider:         result.Provider,
		ProcessingTimeMs: elapsed.Milliseconds(),
	}, nil
}

// buildPrompt interpolates alert context into the analysis template. Asset
// lookup failures degrade to a prompt without asset context.
func (s *AnalysisServiceImpl) buildPrompt(ctx context.Context, alert *core.Alert) string {
	assetCtx := ""
	if s.assets != nil && alert.AssetID != nil && *alert.AssetID != "" {
		asset, err := s.assets.GetAsset(ctx, *alert.AssetID, alert.OrganizationID)
		if err != nil {
			s.logger.Warnw("Asset context lookup failed, analyzing without it",
				"alertId", alert.ID, "assetId", *alert.AssetID, "error", err)
		} else {
			assetCtx = asset.ContextSummary()
		}
	}

	return fmt.Sprintf(s.prompts.Analysis,
		alert.Title,
		alert.Severity,
		alert.Description,
		compactJSON(alert.RawData),
		compactJSON(alert.EnrichmentData),
		assetCtx)
}

// saveAnalysis persists the analysis with a version check, retrying once on
// a concurrent-writer conflict.
func (s *AnalysisServiceImpl) saveAnalysis(ctx context.Context, alert *core.Alert, analysis *core.AIAnalysis, analyzedAt time.Time) error {
	err := s.alerts.SaveAIAnalysis(ctx, alert.ID, alert.OrganizationID, analysis, analyzedAt, alert.Version)
	if !errors.Is(err, storage.ErrVersionConflict) {
		return err
	}

	s.logger.Warnw("Version conflict persisting analysis, retrying once",
		"alertId", alert.ID, "staleVersion", alert.Version)
	fresh, getErr := s.alerts.GetAlert(ctx, alert.ID, alert.OrganizationID)
	if getErr != nil {
		return getErr
	}
	alert.Version = fresh.Version
	return s.alerts.SaveAIAnalysis(ctx, alert.ID, alert.OrganizationID, analysis, analyzedAt, fresh.Version)
}

// recordOutcome writes the timeline event and activity entry for one
// analysis attempt. Failed attempts get only the activity entry.
func (s *AnalysisServiceImpl) recordOutcome(ctx context.Context, alert *core.Alert, user string, analysis *core.AIAnalysis, usage aigateway.Usage, elapsed time.Duration, attemptErr error) {
	entry := core.NewActivityLogEntry(alert.OrganizationID, user, core.AgentAlertAnalysis, "analyze_alert")
	entry.ExecutionTimeMs = elapsed.Milliseconds()
	entry.Metadata["alertId"] = alert.ID

	if attemptErr != nil {
		entry.MarkFailure(attemptErr)
		s.recorder.RecordActivity(ctx, entry)
		return
	}

	entry.MarkSuccess(usage.PromptTokens, usage.CompletionTokens)
	s.recorder.RecordActivity(ctx, entry)

	event := core.NewTimelineEvent(alert.ID, alert.OrganizationID, core.TimelineAIAnalysisCompleted, "AI Analysis Completed")
	event.Description = analysis.Summary
	event.AIConfidence = analysis.Confidence
	event.CreatedBy = user
	event.Metadata["eventType"] = analysis.SecurityEventType
	event.Metadata["riskLevel"] = analysis.RiskAssessment.Level
	if analysis.Degraded {
		event.Metadata["degraded"] = true
	}
	s.recorder.RecordTimeline(ctx, event)
}

// compactJSON renders a map for prompt interpolation; empty maps become a
// placeholder so the prompt stays readable.
func compactJSON(m map[string]interface{}) string {
	if len(m) == 0 {
		return "(none)"
	}
	data, err := json.Marshal(m)
	if err != nil {
		return "(unrenderable)"
	}
	return string(data)
}
