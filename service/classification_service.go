package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"aegis/aigateway"
	"aegis/config"
	"aegis/core"
	"aegis/metrics"
	"aegis/storage"

	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"
)

// ClassificationServiceImpl classifies an alert into the security event
// taxonomy. Results are cached in Redis under a per-org key with a
// configurable TTL so repeated classification of the same alert is free
// until refreshed.
type ClassificationServiceImpl struct {
	alerts   AlertStore
	cache    *core.RedisCache
	cacheTTL time.Duration
	gateway  aigateway.Generator
	recorder *TriageRecorder
	prompts  *core.PromptPack
	aiCfg    config.AIConfig
	logger   *zap.SugaredLogger
}

// ClassificationResult is what the classification endpoint returns.
type ClassificationResult struct {
	AlertID           string                 `json:"alertId"`
	SecurityEventType string                 `json:"securityEventType"`
	ContextualTags    []string               `json:"contextualTags,omitempty"`
	Confidence        float64                `json:"confidence"`
	Reasoning         string                 `json:"reasoning,omitempty"`
	Cached            bool                   `json:"cached"`
	Usage             aigateway.Usage        `json:"usage"`
	Provider          aigateway.ProviderInfo `json:"provider"`
	ProcessingTimeMs  int64                  `json:"processingTimeMs"`
}

// cachedClassification is the msgpack-encoded Redis cache entry.
type cachedClassification struct {
	SecurityEventType string    `msgpack:"eventType"`
	ContextualTags    []string  `msgpack:"tags"`
	Confidence        float64   `msgpack:"confidence"`
	Reasoning         string    `msgpack:"reasoning"`
	ClassifiedAt      time.Time `msgpack:"classifiedAt"`
}

// NewClassificationService creates the classification engine. The cache is
// optional; without it every call hits the gateway.
func NewClassificationService(alerts AlertStore, cache *core.RedisCache, cacheTTL time.Duration, gateway aigateway.Generator, recorder *TriageRecorder, prompts *core.PromptPack, aiCfg config.AIConfig, logger *zap.SugaredLogger) *ClassificationServiceImpl {
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
	if cacheTTL <= 0 {
		cacheTTL = time.Hour
	}
	return &ClassificationServiceImpl{
		alerts:   alerts,
		cache:    cache,
		cacheTTL: cacheTTL,
		gateway:  gateway,
		recorder: recorder,
		prompts:  prompts,
		aiCfg:    aiCfg,
		logger:   logger,
	}
}

// PerformClassification classifies one alert. When refreshAnalysis is false
// a fresh cached result is served without a gateway call; true bypasses and
// overwrites the cache.
func (s *ClassificationServiceImpl) PerformClassification(ctx context.Context, alertID, organizationID, user string, refreshAnalysis bool) (*ClassificationResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	start := time.Now()

	alert, err := s.alerts.GetAlert(ctx, alertID, organizationID)
	if err != nil {
		return nil, err
	}

	if !refreshAnalysis {
		if cached := s.lookupCache(ctx, organizationID, alertID); cached != nil {
			return &ClassificationResult{
				AlertID:           alertID,
				SecurityEventType: cached.SecurityEventType,
				ContextualTags:    cached.ContextualTags,
				Confidence:        cached.Confidence,
				Reasoning:         cached.Reasoning,
				Cached:            true,
				ProcessingTimeMs:  time.Since(start).Milliseconds(),
			}, nil
		}
	}

	priorAnalysis := "(none)"
	if alert.AIAnalysis != nil && alert.AIAnalysis.Summary != "" {
		priorAnalysis = alert.AIAnalysis.Summary
	}

	prompt := fmt.Sprintf(s.prompts.Classification,
		alert.Title,
		alert.Severity,
		alert.Description,
		priorAnalysis)

	result, err := s.gateway.Generate(ctx, &aigateway.GenerateRequest{
		Operation:      "classification",
		System:         s.prompts.ClassificationSystem,
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

	payload, err := decodeClassification(result.Provider.Type, result.Response)
	if err != nil {
		s.recordOutcome(ctx, alert, user, nil, result.Usage, time.Since(start), err)
		return nil, err
	}

	if err := s.mergeIntoAnalysis(ctx, alert, payload); err != nil {
		return nil, err
	}

	s.storeCache(ctx, organizationID, alertID, payload)

	elapsed := time.Since(start)
	s.recordOutcome(ctx, alert, user, payload, result.Usage, elapsed, nil)

	s.logger.Infow("Alert classification completed",
		"alertId", alert.ID,
		"organizationId", organizationID,
		"eventType", payload.SecurityEventType,
		"refresh", refreshAnalysis,
		"provider", result.Provider.Type,
		"elapsedMs", elapsed.Milliseconds())

	return &ClassificationResult{
		AlertID:           alertID,
		SecurityEventType: payload.SecurityEventType,
		ContextualTags:    payload.ContextualTags,
		Confidence:        payload.Confidence,
		Reasoning:         payload.Reasoning,
		Usage:             result.Usage,
		Provider:          result.Provider,
		ProcessingTimeMs:  elapsed.Milliseconds(),
	}, nil
}

// lookupCache returns a fresh cached classification or nil. Cache errors
// degrade to a miss.
func (s *ClassificationServiceImpl) lookupCache(ctx context.Context, organizationID, alertID string) *cachedClassification {
	if s.cache == nil {
		return nil
	}
	key := core.GetClassificationCacheKey(organizationID, alertID)
	data, found, err := s.cache.GetBytes(ctx, key)
	if err != nil {
		s.logger.Warnw("Classification cache read failed", "alertId", alertID, "error", err)
		metrics.CacheErrors.WithLabelValues("classification", "get").Inc()
		return nil
	}
	if !found {
		metrics.CacheMisses.WithLabelValues("classification").Inc()
		return nil
	}

	var cached cachedClassification
	if err := msgpack.Unmarshal(data, &cached); err != nil {
		s.logger.Warnw("Discarding undecodable classification cache entry", "alertId", alertID, "error", err)
		metrics.CacheErrors.WithLabelValues("classification", "decode").Inc()
		return nil
	}
	metrics.CacheHits.WithLabelValues("classification").Inc()
	return &cached
}

// storeCache writes the classification to Redis, best-effort.
func (s *ClassificationServiceImpl) storeCache(ctx context.Context, organizationID, alertID string, payload *classificationPayload) {
	if s.cache == nil {
		return
	}
	data, err := msgpack.Marshal(&cachedClassification{
		SecurityEventType: payload.SecurityEventType,
		ContextualTags:    payload.ContextualTags,
		Confidence:        payload.Confidence,
		Reasoning:         payload.Reasoning,
		ClassifiedAt:      time.Now().UTC(),
	})
	if err != nil {
		s.logger.Warnw("Classification cache encode failed", "alertId", alertID, "error", err)
		metrics.CacheErrors.WithLabelValues("classification", "encode").Inc()
		return
	}
	key := core.GetClassificationCacheKey(organizationID, alertID)
	if err := s.cache.SetBytes(ctx, key, data, s.cacheTTL); err != nil {
		s.logger.Warnw("Classification cache write failed", "alertId", alertID, "error", err)
		metrics.CacheErrors.WithLabelValues("classification", "set").Inc()
	}
}

// mergeIntoAnalysis folds the classification into the alert's persisted
// analysis, touching only the event type and tags. An alert with no prior
// analysis gets a minimal one so the classification survives.
func (s *ClassificationServiceImpl) mergeIntoAnalysis(ctx context.Context, alert *core.Alert, payload *classificationPayload) error {
	merged := &core.AIAnalysis{}
	analyzedAt := time.Now().UTC()
	if alert.AIAnalysis != nil {
		copied := *alert.AIAnalysis
		merged = &copied
		if alert.AIAnalysisTimestamp != nil {
			analyzedAt = *alert.AIAnalysisTimestamp
		}
	}
	merged.SecurityEventType = payload.SecurityEventType
	merged.ContextualTags = payload.ContextualTags

	err := s.alerts.SaveAIAnalysis(ctx, alert.ID, alert.OrganizationID, merged, analyzedAt, alert.Version)
	if !errors.Is(err, storage.ErrVersionConflict) {
		return err
	}
	// One retry against a concurrent writer.
	fresh, getErr := s.alerts.GetAlert(ctx, alert.ID, alert.OrganizationID)
	if getErr != nil {
		return getErr
	}
	if fresh.AIAnalysis != nil {
		copied := *fresh.AIAnalysis
		copied.SecurityEventType = payload.SecurityEventType
		copied.ContextualTags = payload.ContextualTags
		merged = &copied
		if fresh.AIAnalysisTimestamp != nil {
			analyzedAt = *fresh.AIAnalysisTimestamp
		}
	}
	return s.alerts.SaveAIAnalysis(ctx, alert.ID, alert.OrganizationID, merged, analyzedAt, fresh.Version)
}

// recordOutcome writes the timeline event and activity entry for one
// classification attempt.
func (s *ClassificationServiceImpl) recordOutcome(ctx context.Context, alert *core.Alert, user string, payload *classificationPayload, usage aigateway.Usage, elapsed time.Duration, attemptErr error) {
	entry := core.NewActivityLogEntry(alert.OrganizationID, user, core.AgentAlertClassifier, "classify_alert")
	entry.ExecutionTimeMs = elapsed.Milliseconds()
	entry.Metadata["alertId"] = alert.ID

	if attemptErr != nil {
		entry.MarkFailure(attemptErr)
		s.recorder.RecordActivity(ctx, entry)
		return
	}

	entry.MarkSuccess(usage.PromptTokens, usage.CompletionTokens)
	s.recorder.RecordActivity(ctx, entry)

	event := core.NewTimelineEvent(alert.ID, alert.OrganizationID, core.TimelineAIClassificationCompleted, "AI Classification Completed")
	event.Description = payload.Reasoning
	event.AIConfidence = payload.Confidence
	event.CreatedBy = user
	event.Metadata["eventType"] = payload.SecurityEventType
	s.recorder.RecordTimeline(ctx, event)
}
