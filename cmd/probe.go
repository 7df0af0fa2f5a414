// Package cmd provides command-line interface commands for Aegis.
package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"aegis/aigateway"
	"aegis/config"
	"aegis/core"
	"aegis/storage"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// CLI output formatters
var (
	successColor = color.New(color.FgGreen, color.Bold)
	errorColor   = color.New(color.FgRed, color.Bold)
	warningColor = color.New(color.FgYellow)
	headerColor  = color.New(color.FgBlue, color.Bold)
)

// Global flags for the probe command
var (
	outputJSON bool
	noColor    bool
	skipAI     bool
	skipRedis  bool
	skipDB     bool
)

const defaultProbeTimeout = 60 * time.Second

// probeResult is the outcome of one connectivity check.
type probeResult struct {
	Name      string `json:"name"`
	Status    string `json:"status"` // ok, failed, skipped
	Detail    string `json:"detail,omitempty"`
	ElapsedMs int64  `json:"elapsedMs"`
}

// probeReport aggregates all check outcomes for --json output.
type probeReport struct {
	Healthy bool          `json:"healthy"`
	Checks  []probeResult `json:"checks"`
}

// NewProbeCmd creates the probe command that verifies connectivity to the
// configured backends: SQLite, Redis and the AI provider.
func NewProbeCmd() *cobra.Command {
	probeCmd := &cobra.Command{
		Use:   "probe",
		Short: "Check connectivity to configured backends",
		Long: `Probe verifies that Aegis can reach its configured dependencies.

It opens the SQLite database, pings Redis (when enabled), and issues a
minimal request to the configured AI provider. Each check reports ok,
failed, or skipped; the command exits non-zero if any check fails.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if noColor {
				color.NoColor = true
			}
		},
		RunE: runProbe,
	}

	probeCmd.Flags().BoolVar(&outputJSON, "json", false, "Output in JSON format")
	probeCmd.Flags().BoolVar(&noColor, "no-color", false, "Disable colored output")
	probeCmd.Flags().BoolVar(&skipAI, "skip-ai", false, "Skip the AI provider check")
	probeCmd.Flags().BoolVar(&skipRedis, "skip-redis", false, "Skip the Redis check")
	probeCmd.Flags().BoolVar(&skipDB, "skip-db", false, "Skip the SQLite check")

	return probeCmd
}

func runProbe(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := config.LoadSecrets(cfg); err != nil {
		return fmt.Errorf("failed to load secrets: %w", err)
	}

	// Probes should not spam structured logs over the CLI output.
	sugar := zap.NewNop().Sugar()

	report := probeReport{Healthy: true}

	if !outputJSON {
		headerColor.Println("Aegis connectivity probe")
		fmt.Println()
	}

	report.add(runCheck("sqlite", skipDB, func(ctx context.Context) (string, error) {
		return probeSQLite(cfg, sugar)
	}))
	report.add(runCheck("redis", skipRedis || !cfg.Redis.Enabled, func(ctx context.Context) (string, error) {
		return probeRedis(ctx, cfg, sugar)
	}))
	report.add(runCheck("ai", skipAI, func(ctx context.Context) (string, error) {
		return probeAI(ctx, cfg, sugar)
	}))

	if outputJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			return err
		}
	} else {
		fmt.Println()
		if report.Healthy {
			successColor.Println("All checks passed")
		} else {
			errorColor.Println("One or more checks failed")
		}
	}

	if !report.Healthy {
		return fmt.Errorf("probe failed")
	}
	return nil
}

func (r *probeReport) add(result probeResult) {
	r.Checks = append(r.Checks, result)
	if result.Status == "failed" {
		r.Healthy = false
	}
}

// runCheck executes one probe with a spinner and renders its outcome.
func runCheck(name string, skip bool, check func(ctx context.Context) (string, error)) probeResult {
	if skip {
		if !outputJSON {
			warningColor.Printf("  - %-8s skipped\n", name)
		}
		return probeResult{Name: name, Status: "skipped"}
	}

	var s *spinner.Spinner
	if !outputJSON {
		s = spinner.New(spinner.CharSets[14], 100*time.Millisecond)
		s.Suffix = fmt.Sprintf(" Checking %s...", name)
		s.Start()
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultProbeTimeout)
	defer cancel()

	start := time.Now()
	detail, err := check(ctx)
	elapsed := time.Since(start)

	if s != nil {
		s.Stop()
	}

	result := probeResult{Name: name, ElapsedMs: elapsed.Milliseconds()}
	if err != nil {
		result.Status = "failed"
		result.Detail = err.Error()
		if !outputJSON {
			errorColor.Printf("  ✗ %-8s %v (%s)\n", name, err, elapsed.Round(time.Millisecond))
		}
		return result
	}

	result.Status = "ok"
	result.Detail = detail
	if !outputJSON {
		successColor.Printf("  ✓ %-8s %s (%s)\n", name, detail, elapsed.Round(time.Millisecond))
	}
	return result
}

func probeSQLite(cfg *config.Config, sugar *zap.SugaredLogger) (string, error) {
	sqlite, err := storage.NewSQLite(cfg.GetSQLitePath(), sugar)
	if err != nil {
		return "", err
	}
	defer sqlite.Close()

	if err := sqlite.HealthCheck(); err != nil {
		return "", err
	}
	return cfg.GetSQLitePath(), nil
}

func probeRedis(ctx context.Context, cfg *config.Config, sugar *zap.SugaredLogger) (string, error) {
	cache := core.NewRedisCache(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.PoolSize, sugar)
	defer cache.Close()

	if err := cache.Ping(ctx); err != nil {
		return "", err
	}
	return cfg.Redis.Addr, nil
}

func probeAI(ctx context.Context, cfg *config.Config, sugar *zap.SugaredLogger) (string, error) {
	client, err := aigateway.NewClient(cfg.AI, sugar)
	if err != nil {
		return "", err
	}

	timeout := cfg.AI.ProbeTimeout
	if timeout <= 0 {
		timeout = defaultProbeTimeout
	}
	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result, err := client.Generate(probeCtx, &aigateway.GenerateRequest{
		Operation: "probe",
		Prompt:    "Reply with the single word OK.",
		MaxTokens: 8,
	})
	if err != nil {
		return "", err
	}

	detail := result.Provider.Type
	if result.Provider.IsFallback {
		detail += " (fallback)"
	}
	return detail, nil
}
