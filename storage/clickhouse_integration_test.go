package storage

import (
	"context"
	"fmt"
	"io"
	"testing"
	"time"

	"aegis/config"
	"aegis/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"
)

// ClickHouse test container configuration
const (
	clickhouseImage       = "clickhouse/clickhouse-server:latest"
	clickhouseNativePort  = "9000/tcp"
	clickhouseHTTPPort    = "8123/tcp"
	testDatabaseName      = "aegis_integration_test"
	containerStartTimeout = 120 * time.Second
)

// clickhouseTestContainer encapsulates testcontainer lifecycle
type clickhouseTestContainer struct {
	container testcontainers.Container
	host      string
	port      string
	cleanup   func()
}

// setupClickHouseTestContainer creates and starts a ClickHouse testcontainer.
func setupClickHouseTestContainer(t *testing.T) *clickhouseTestContainer {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        clickhouseImage,
		ExposedPorts: []string{clickhouseNativePort, clickhouseHTTPPort},
		Env: map[string]string{
			"CLICKHOUSE_DB":                        testDatabaseName,
			"CLICKHOUSE_USER":                      "default",
			"CLICKHOUSE_PASSWORD":                  "testpassword",
			"CLICKHOUSE_DEFAULT_ACCESS_MANAGEMENT": "1",
		},
		// ClickHouse answers on the HTTP port once it is ready to serve,
		// which is more reliable than log matching.
		WaitingFor: wait.ForHTTP("/").
			WithPort(clickhouseHTTPPort).
			WithStartupTimeout(containerStartTimeout).
			WithResponseMatcher(func(body io.Reader) bool {
				buf, _ := io.ReadAll(body)
				return len(buf) > 0
			}),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err, "Failed to start ClickHouse container")

	host, err := container.Host(ctx)
	require.NoError(t, err, "Failed to get container host")

	mappedPort, err := container.MappedPort(ctx, "9000")
	require.NoError(t, err, "Failed to get mapped port")

	cleanup := func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("Warning: failed to terminate ClickHouse container: %v", err)
		}
	}

	t.Logf("ClickHouse container started at %s:%s", host, mappedPort.Port())

	return &clickhouseTestContainer{
		container: container,
		host:      host,
		port:      mappedPort.Port(),
		cleanup:   cleanup,
	}
}

// createClickHouseConnection connects to the test container.
func createClickHouseConnection(t *testing.T, testContainer *clickhouseTestContainer) *ClickHouse {
	logger := zap.NewNop().Sugar()
	cfg := &config.Config{}
	cfg.ClickHouse.Addr = fmt.Sprintf("%s:%s", testContainer.host, testContainer.port)
	cfg.ClickHouse.Database = testDatabaseName
	cfg.ClickHouse.Username = "default"
	cfg.ClickHouse.Password = "testpassword"
	cfg.ClickHouse.TLS = false
	cfg.ClickHouse.MaxPoolSize = 10
	cfg.ClickHouse.BatchSize = 10
	cfg.ClickHouse.FlushInterval = 1 // 1 second for faster tests
	cfg.ClickHouse.WorkerCount = 1

	ch, err := NewClickHouse(cfg, logger)
	require.NoError(t, err, "Failed to connect to ClickHouse")
	require.NotNil(t, ch, "ClickHouse connection should not be nil")

	return ch
}

func TestClickHouseIntegration_HealthCheck(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	testContainer := setupClickHouseTestContainer(t)
	defer testContainer.cleanup()

	ch := createClickHouseConnection(t, testContainer)
	defer ch.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	assert.NoError(t, ch.HealthCheck(ctx))
}

func TestClickHouseIntegration_ActivitySinkRoundTrip(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	testContainer := setupClickHouseTestContainer(t)
	defer testContainer.cleanup()

	ch := createClickHouseConnection(t, testContainer)
	defer ch.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()
	require.NoError(t, ch.CreateActivityTable(ctx))

	cfg := &config.Config{}
	cfg.ClickHouse.BatchSize = 10
	cfg.ClickHouse.FlushInterval = 1
	sink := NewClickHouseActivitySink(ctx, ch, cfg, zap.NewNop().Sugar())
	sink.Start(1)

	entries := []*core.ActivityLogEntry{
		{
			ID:              "act-it-1",
			OrganizationID:  "org-it",
			AgentName:       core.AgentAlertAnalysis,
			Action:          "analyze_alert",
			Success:         true,
			ExecutionTimeMs: 1200,
			Timestamp:       time.Now().UTC(),
		},
		{
			ID:             "act-it-2",
			OrganizationID: "org-it",
			AgentName:      core.AgentPlaybookGeneration,
			Action:         "generate_playbooks",
			Success:        false,
			ErrorMessage:   "provider timeout",
			Timestamp:      time.Now().UTC(),
		},
	}
	for _, entry := range entries {
		require.NoError(t, sink.AddActivityEntry(ctx, entry))
	}

	// Stop flushes the remaining batch before returning.
	require.NoError(t, sink.Stop())

	listed, err := sink.ListActivityEntries(ctx, "org-it", "", 10)
	require.NoError(t, err)
	require.Len(t, listed, 2)

	byID := map[string]core.ActivityLogEntry{}
	for _, e := range listed {
		byID[e.ID] = e
	}
	assert.True(t, byID["act-it-1"].Success)
	assert.Equal(t, "provider timeout", byID["act-it-2"].ErrorMessage)

	// Agent filter narrows to one entry.
	filtered, err := sink.ListActivityEntries(ctx, "org-it", core.AgentAlertAnalysis, 10)
	require.NoError(t, err)
	require.Len(t, filtered, 1)
	assert.Equal(t, "act-it-1", filtered[0].ID)
}
