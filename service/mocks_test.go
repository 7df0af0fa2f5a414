package service

import (
	"context"
	"sync"
	"time"

	"aegis/aigateway"
	"aegis/core"

	"github.com/stretchr/testify/mock"
)

// ============================================================================
// Mock Implementations
// ============================================================================

// MockAlertStore is a mock implementation of AlertStore.
type MockAlertStore struct {
	mock.Mock
}

func (m *MockAlertStore) GetAlert(ctx context.Context, id, organizationID string) (*core.Alert, error) {
	args := m.Called(ctx, id, organizationID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*core.Alert), args.Error(1)
}

func (m *MockAlertStore) SaveAIAnalysis(ctx context.Context, alertID, organizationID string, analysis *core.AIAnalysis, analyzedAt time.Time, expectedVersion int64) error {
	args := m.Called(ctx, alertID, organizationID, analysis, analyzedAt, expectedVersion)
	return args.Error(0)
}

func (m *MockAlertStore) UpdateGeneratedPlaybookRefs(ctx context.Context, alertID, organizationID string, playbookIDs []string, generatedAt *time.Time, expectedVersion int64) error {
	args := m.Called(ctx, alertID, organizationID, playbookIDs, generatedAt, expectedVersion)
	return args.Error(0)
}

// MockPlaybookStore is a mock implementation of PlaybookStore.
type MockPlaybookStore struct {
	mock.Mock
}

func (m *MockPlaybookStore) CreatePlaybook(ctx context.Context, playbook *core.Playbook) error {
	args := m.Called(ctx, playbook)
	return args.Error(0)
}

func (m *MockPlaybookStore) UpdatePlaybook(ctx context.Context, playbook *core.Playbook) error {
	args := m.Called(ctx, playbook)
	return args.Error(0)
}

func (m *MockPlaybookStore) GetPlaybookForAlert(ctx context.Context, alertID, organizationID string, playbookType core.PlaybookType) (*core.Playbook, error) {
	args := m.Called(ctx, alertID, organizationID, playbookType)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*core.Playbook), args.Error(1)
}

func (m *MockPlaybookStore) ListPlaybooksForAlert(ctx context.Context, alertID, organizationID string) ([]core.Playbook, error) {
	args := m.Called(ctx, alertID, organizationID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]core.Playbook), args.Error(1)
}

func (m *MockPlaybookStore) DeleteGeneratedPlaybooks(ctx context.Context, alertID, organizationID string) (int64, error) {
	args := m.Called(ctx, alertID, organizationID)
	return args.Get(0).(int64), args.Error(1)
}

// MockTimelineStore is a mock implementation of TimelineStore.
type MockTimelineStore struct {
	mock.Mock
}

func (m *MockTimelineStore) AddTimelineEvent(ctx context.Context, event *core.TimelineEvent) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

func (m *MockTimelineStore) GetTimeline(ctx context.Context, alertID, organizationID string) ([]core.TimelineEvent, error) {
	args := m.Called(ctx, alertID, organizationID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]core.TimelineEvent), args.Error(1)
}

func (m *MockTimelineStore) DeleteTimelineEvent(ctx context.Context, eventID, alertID, organizationID string) error {
	args := m.Called(ctx, eventID, alertID, organizationID)
	return args.Error(0)
}

// MockActivityStore is a mock implementation of ActivityStore.
type MockActivityStore struct {
	mock.Mock
}

func (m *MockActivityStore) AddActivityEntry(ctx context.Context, entry *core.ActivityLogEntry) error {
	args := m.Called(ctx, entry)
	return args.Error(0)
}

func (m *MockActivityStore) ListActivityEntries(ctx context.Context, organizationID, agentName string, limit int) ([]core.ActivityLogEntry, error) {
	args := m.Called(ctx, organizationID, agentName, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]core.ActivityLogEntry), args.Error(1)
}

// MockAssetReader is a mock implementation of AssetReader.
type MockAssetReader struct {
	mock.Mock
}

func (m *MockAssetReader) GetAsset(ctx context.Context, id, organizationID string) (*core.Asset, error) {
	args := m.Called(ctx, id, organizationID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*core.Asset), args.Error(1)
}

// ============================================================================
// Scripted AI gateway
// ============================================================================

// scriptedGenerator returns canned responses keyed by operation name,
// recording every request it sees. A missing script entry is returned as
// the configured default error.
type scriptedGenerator struct {
	mu        sync.Mutex
	responses map[string]*aigateway.GenerateResult
	errors    map[string]error
	requests  []*aigateway.GenerateRequest
}

func newScriptedGenerator() *scriptedGenerator {
	return &scriptedGenerator{
		responses: make(map[string]*aigateway.GenerateResult),
		errors:    make(map[string]error),
	}
}

func (g *scriptedGenerator) script(operation, response string, usage aigateway.Usage) {
	delete(g.errors, operation)
	g.responses[operation] = &aigateway.GenerateResult{
		Response: response,
		Usage:    usage,
		Provider: aigateway.ProviderInfo{Type: "openai"},
	}
}

func (g *scriptedGenerator) scriptError(operation string, err error) {
	g.errors[operation] = err
}

func (g *scriptedGenerator) Generate(ctx context.Context, req *aigateway.GenerateRequest) (*aigateway.GenerateResult, error) {
	g.mu.Lock()
	g.requests = append(g.requests, req)
	g.mu.Unlock()

	if err, ok := g.errors[req.Operation]; ok {
		return nil, err
	}
	if resp, ok := g.responses[req.Operation]; ok {
		return resp, nil
	}
	return nil, &aigateway.ConnectionError{Provider: "openai"}
}

func (g *scriptedGenerator) callCount(operation string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for _, req := range g.requests {
		if req.Operation == operation {
			n++
		}
	}
	return n
}
