package cmd

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunCheck(t *testing.T) {
	outputJSON = true // suppress terminal rendering in tests
	defer func() { outputJSON = false }()

	t.Run("skipped check never runs", func(t *testing.T) {
		ran := false
		result := runCheck("redis", true, func(ctx context.Context) (string, error) {
			ran = true
			return "", nil
		})
		assert.False(t, ran)
		assert.Equal(t, "skipped", result.Status)
	})

	t.Run("successful check records detail", func(t *testing.T) {
		result := runCheck("sqlite", false, func(ctx context.Context) (string, error) {
			return "./data/aegis.db", nil
		})
		assert.Equal(t, "ok", result.Status)
		assert.Equal(t, "./data/aegis.db", result.Detail)
	})

	t.Run("failed check carries the error", func(t *testing.T) {
		result := runCheck("ai", false, func(ctx context.Context) (string, error) {
			return "", errors.New("connection refused")
		})
		assert.Equal(t, "failed", result.Status)
		assert.Contains(t, result.Detail, "connection refused")
	})

	t.Run("check context has a deadline", func(t *testing.T) {
		result := runCheck("ai", false, func(ctx context.Context) (string, error) {
			_, ok := ctx.Deadline()
			require.True(t, ok)
			return "deadline set", nil
		})
		assert.Equal(t, "ok", result.Status)
	})
}

func TestProbeReportHealth(t *testing.T) {
	report := probeReport{Healthy: true}

	report.add(probeResult{Name: "sqlite", Status: "ok"})
	report.add(probeResult{Name: "redis", Status: "skipped"})
	assert.True(t, report.Healthy)

	report.add(probeResult{Name: "ai", Status: "failed", Detail: "timeout"})
	assert.False(t, report.Healthy)
	assert.Len(t, report.Checks, 3)
}

func TestNewProbeCmdFlags(t *testing.T) {
	cmd := NewProbeCmd()

	for _, flag := range []string{"json", "no-color", "skip-ai", "skip-redis", "skip-db"} {
		assert.NotNil(t, cmd.Flags().Lookup(flag), "missing flag %s", flag)
	}
	assert.Equal(t, "probe", cmd.Use)
}
