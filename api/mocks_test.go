package api

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"

	"aegis/config"
	"aegis/core"
	"aegis/service"
	"aegis/storage"
)

type MockAnalysisService struct{ mock.Mock }

func (m *MockAnalysisService) PerformAnalysis(ctx context.Context, alertID, organizationID, user string) (*service.AnalysisResult, error) {
	args := m.Called(ctx, alertID, organizationID, user)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.AnalysisResult), args.Error(1)
}

type MockClassificationService struct{ mock.Mock }

func (m *MockClassificationService) PerformClassification(ctx context.Context, alertID, organizationID, user string, refreshAnalysis bool) (*service.ClassificationResult, error) {
	args := m.Called(ctx, alertID, organizationID, user, refreshAnalysis)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.ClassificationResult), args.Error(1)
}

type MockPlaybookService struct{ mock.Mock }

func (m *MockPlaybookService) GeneratePlaybooks(ctx context.Context, alertID, organizationID, user string, forceRegenerate bool) (*service.GenerationOutcome, error) {
	args := m.Called(ctx, alertID, organizationID, user, forceRegenerate)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.GenerationOutcome), args.Error(1)
}

func (m *MockPlaybookService) GenerateImmediatePlaybook(ctx context.Context, alertID, organizationID, user string) (*service.SinglePlaybookOutcome, error) {
	args := m.Called(ctx, alertID, organizationID, user)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.SinglePlaybookOutcome), args.Error(1)
}

func (m *MockPlaybookService) GenerateInvestigationPlaybook(ctx context.Context, alertID, organizationID, user string) (*service.SinglePlaybookOutcome, error) {
	args := m.Called(ctx, alertID, organizationID, user)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.SinglePlaybookOutcome), args.Error(1)
}

func (m *MockPlaybookService) DeleteGeneratedPlaybooks(ctx context.Context, alertID, organizationID, user string) (int64, error) {
	args := m.Called(ctx, alertID, organizationID, user)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockPlaybookService) GetGenerationStatus(ctx context.Context, alertID, organizationID string) (*service.GenerationStatus, error) {
	args := m.Called(ctx, alertID, organizationID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.GenerationStatus), args.Error(1)
}

func (m *MockPlaybookService) BuildGenerationPreview(ctx context.Context, alertID, organizationID string) (*service.GenerationPreview, error) {
	args := m.Called(ctx, alertID, organizationID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.GenerationPreview), args.Error(1)
}

type MockAlertStore struct{ mock.Mock }

func (m *MockAlertStore) CreateAlert(ctx context.Context, alert *core.Alert) error {
	return m.Called(ctx, alert).Error(0)
}

func (m *MockAlertStore) GetAlert(ctx context.Context, id, organizationID string) (*core.Alert, error) {
	args := m.Called(ctx, id, organizationID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*core.Alert), args.Error(1)
}

func (m *MockAlertStore) ListAlerts(ctx context.Context, organizationID string, limit, offset int) ([]core.Alert, error) {
	args := m.Called(ctx, organizationID, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]core.Alert), args.Error(1)
}

type MockAssetStore struct{ mock.Mock }

func (m *MockAssetStore) CreateAsset(ctx context.Context, asset *core.Asset) error {
	return m.Called(ctx, asset).Error(0)
}

func (m *MockAssetStore) GetAsset(ctx context.Context, id, organizationID string) (*core.Asset, error) {
	args := m.Called(ctx, id, organizationID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*core.Asset), args.Error(1)
}

func (m *MockAssetStore) ListAssets(ctx context.Context, organizationID string, limit, offset int) ([]core.Asset, error) {
	args := m.Called(ctx, organizationID, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]core.Asset), args.Error(1)
}

type MockPlaybookReader struct{ mock.Mock }

func (m *MockPlaybookReader) GetPlaybook(ctx context.Context, id, organizationID string) (*core.Playbook, error) {
	args := m.Called(ctx, id, organizationID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*core.Playbook), args.Error(1)
}

func (m *MockPlaybookReader) ListPlaybooksForAlert(ctx context.Context, alertID, organizationID string) ([]core.Playbook, error) {
	args := m.Called(ctx, alertID, organizationID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]core.Playbook), args.Error(1)
}

type MockUserStore struct{ mock.Mock }

func (m *MockUserStore) GetUserByUsername(ctx context.Context, username string) (*storage.User, error) {
	args := m.Called(ctx, username)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*storage.User), args.Error(1)
}

func (m *MockUserStore) RecordFailedLogin(ctx context.Context, username string, maxAttempts int, lockout time.Duration) (bool, error) {
	args := m.Called(ctx, username, maxAttempts, lockout)
	return args.Bool(0), args.Error(1)
}

func (m *MockUserStore) ResetFailedLogins(ctx context.Context, username string) error {
	return m.Called(ctx, username).Error(0)
}

// stubTimelineStore keeps events in memory for recorder-backed handlers.
type stubTimelineStore struct {
	events []core.TimelineEvent
}

func (s *stubTimelineStore) AddTimelineEvent(ctx context.Context, event *core.TimelineEvent) error {
	s.events = append(s.events, *event)
	return nil
}

func (s *stubTimelineStore) GetTimeline(ctx context.Context, alertID, organizationID string) ([]core.TimelineEvent, error) {
	var out []core.TimelineEvent
	for _, event := range s.events {
		if event.AlertID == alertID && event.OrganizationID == organizationID {
			out = append(out, event)
		}
	}
	return out, nil
}

func (s *stubTimelineStore) DeleteTimelineEvent(ctx context.Context, eventID, alertID, organizationID string) error {
	for i, event := range s.events {
		if event.ID == eventID && event.AlertID == alertID && event.OrganizationID == organizationID {
			s.events = append(s.events[:i], s.events[i+1:]...)
			return nil
		}
	}
	return storage.ErrTimelineEventNotFound
}

type stubActivityStore struct {
	entries []core.ActivityLogEntry
}

func (s *stubActivityStore) AddActivityEntry(ctx context.Context, entry *core.ActivityLogEntry) error {
	s.entries = append(s.entries, *entry)
	return nil
}

func (s *stubActivityStore) ListActivityEntries(ctx context.Context, organizationID, agentName string, limit int) ([]core.ActivityLogEntry, error) {
	var out []core.ActivityLogEntry
	for _, entry := range s.entries {
		if entry.OrganizationID != organizationID {
			continue
		}
		if agentName != "" && entry.AgentName != agentName {
			continue
		}
		out = append(out, entry)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

type apiMocks struct {
	analysis       *MockAnalysisService
	classification *MockClassificationService
	playbooks      *MockPlaybookService
	alerts         *MockAlertStore
	assets         *MockAssetStore
	playbookReader *MockPlaybookReader
	users          *MockUserStore
	timeline       *stubTimelineStore
	activity       *stubActivityStore
	hub            *TimelineHub
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.API.Port = 8081
	cfg.API.AllowedOrigins = []string{"http://localhost:3000"}
	cfg.API.RateLimit.Login = config.RateTier{Limit: 3, Window: time.Minute, Burst: 3}
	cfg.API.RateLimit.API = config.RateTier{Limit: 1000, Window: time.Minute, Burst: 1000}
	cfg.API.RateLimit.Global = config.RateTier{Limit: 10000, Window: time.Second, Burst: 10000}
	cfg.Auth.Enabled = false
	cfg.Auth.OrganizationID = "org-1"
	cfg.Auth.JWTSecret = "test-secret-test-secret-test-secret!"
	cfg.Auth.JWTExpiry = time.Hour
	cfg.Auth.LockoutThreshold = 5
	cfg.Auth.LockoutDuration = 15 * time.Minute
	cfg.Security.JSONBodyLimit = 1 << 20
	cfg.Security.LoginBodyLimit = 4096
	return cfg
}

// newTestAPI builds an API with auth disabled and every dependency mocked.
func newTestAPI(cfg *config.Config) (*API, *apiMocks) {
	logger := zap.NewNop().Sugar()
	m := &apiMocks{
		analysis:       &MockAnalysisService{},
		classification: &MockClassificationService{},
		playbooks:      &MockPlaybookService{},
		alerts:         &MockAlertStore{},
		assets:         &MockAssetStore{},
		playbookReader: &MockPlaybookReader{},
		users:          &MockUserStore{},
		timeline:       &stubTimelineStore{},
		activity:       &stubActivityStore{},
		hub:            NewTimelineHub(logger),
	}
	recorder := service.NewTriageRecorder(m.timeline, m.activity, m.hub, logger)
	a := NewAPI(cfg, Dependencies{
		Analysis:       m.analysis,
		Classification: m.classification,
		Playbooks:      m.playbooks,
		Alerts:         m.alerts,
		Assets:         m.assets,
		PlaybookReader: m.playbookReader,
		Recorder:       recorder,
		Users:          m.users,
		Hub:            m.hub,
	}, logger)
	return a, m
}
