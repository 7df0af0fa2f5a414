package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"aegis/metrics"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// SQLite holds the SQLite database connections for triage storage.
// Separate read and write pools leverage WAL mode's concurrency model:
// unlimited concurrent readers plus exactly one writer.
type SQLite struct {
	DB      *sql.DB // Write connection pool (same as WriteDB, kept for transaction helpers)
	WriteDB *sql.DB // Write-only pool (MaxOpenConns=1 for WAL single writer)
	ReadDB  *sql.DB // Read-only pool (MaxOpenConns=10 for concurrent reads)
	Path    string
	Logger  *zap.SugaredLogger

	// Previous counter values so pool metrics publish deltas; Prometheus
	// counters must only increase.
	prevWriteWaitCount int64
	prevReadWaitCount  int64
}

// configureSQLiteConnection sets up WAL mode, foreign keys, and busy timeout
// for a connection pool. SQLite disables foreign keys by default, so they
// are enabled and verified explicitly.
func configureSQLiteConnection(db *sql.DB, logger *zap.SugaredLogger, dbPath string, poolType string) error {
	// Connection string params are not reliable for this; use PRAGMA
	_, err := db.Exec("PRAGMA journal_mode=WAL")
	if err != nil {
		return fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	_, err = db.Exec("PRAGMA foreign_keys=ON")
	if err != nil {
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	var fkEnabled int
	err = db.QueryRow("PRAGMA foreign_keys").Scan(&fkEnabled)
	if err != nil {
		return fmt.Errorf("failed to verify foreign keys: %w", err)
	}
	if fkEnabled != 1 {
		return fmt.Errorf("foreign keys not enabled (got: %d, expected: 1)", fkEnabled)
	}

	_, err = db.Exec("PRAGMA busy_timeout=5000")
	if err != nil {
		return fmt.Errorf("failed to set busy timeout: %w", err)
	}

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to ping SQLite database: %w", err)
	}

	// In-memory databases report "memory" journal mode, not "wal"
	var journalMode string
	err = db.QueryRow("PRAGMA journal_mode").Scan(&journalMode)
	if err != nil {
		return fmt.Errorf("failed to query journal mode: %w", err)
	}
	if dbPath != ":memory:" && journalMode != "wal" {
		return fmt.Errorf("WAL mode not enabled (got: %s, expected: wal)", journalMode)
	}
	logger.Infof("SQLite %s pool: journal mode %s, foreign keys on", poolType, journalMode)

	return nil
}

// NewSQLite opens the database, configures both pools, and creates tables.
func NewSQLite(dbPath string, logger *zap.SugaredLogger) (*SQLite, error) {
	if err := validateDatabasePath(dbPath); err != nil {
		return nil, fmt.Errorf("invalid database path: %w", err)
	}

	dir := filepath.Dir(dbPath)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	// In-memory databases need shared cache so both pools see one database
	actualPath := dbPath
	if dbPath == ":memory:" {
		actualPath = "file::memory:?cache=shared"
	}

	writeDB, err := sql.Open("sqlite", actualPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite write database: %w", err)
	}

	if err := configureSQLiteConnection(writeDB, logger, dbPath, "write"); err != nil {
		_ = writeDB.Close()
		return nil, fmt.Errorf("failed to configure write connection: %w", err)
	}

	// WAL mode requires exactly one writer at a time
	writeDB.SetMaxOpenConns(1)
	writeDB.SetMaxIdleConns(1)
	writeDB.SetConnMaxLifetime(0) // Connections never expire (matters for in-memory databases)
	writeDB.SetConnMaxIdleTime(10 * time.Minute)

	readDB, err := sql.Open("sqlite", actualPath)
	if err != nil {
		_ = writeDB.Close()
		return nil, fmt.Errorf("failed to open SQLite read database: %w", err)
	}

	if err := configureSQLiteConnection(readDB, logger, dbPath, "read"); err != nil {
		_ = writeDB.Close()
		_ = readDB.Close()
		return nil, fmt.Errorf("failed to configure read connection: %w", err)
	}

	// Enforce read-only access at the SQLite level
	_, err = readDB.Exec("PRAGMA query_only=ON")
	if err != nil {
		_ = writeDB.Close()
		_ = readDB.Close()
		return nil, fmt.Errorf("failed to enable query_only mode on read pool: %w", err)
	}

	var queryOnly int
	err = readDB.QueryRow("PRAGMA query_only").Scan(&queryOnly)
	if err != nil || queryOnly != 1 {
		_ = writeDB.Close()
		_ = readDB.Close()
		return nil, fmt.Errorf("query_only mode not enabled on read pool (got: %d, err: %v)", queryOnly, err)
	}

	readDB.SetMaxOpenConns(10)
	readDB.SetMaxIdleConns(5)
	readDB.SetConnMaxLifetime(5 * time.Minute)
	readDB.SetConnMaxIdleTime(10 * time.Minute)

	sqlite := &SQLite{
		DB:      writeDB,
		WriteDB: writeDB,
		ReadDB:  readDB,
		Path:    dbPath,
		Logger:  logger,
	}

	if err := sqlite.createTables(); err != nil {
		_ = writeDB.Close()
		_ = readDB.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	logger.Infof("SQLite database initialized at %s with separate read/write pools", dbPath)

	return sqlite, nil
}

// WithTransaction executes a function within a database transaction,
// rolling back on error or panic.
func (s *SQLite) WithTransaction(fn func(*sql.Tx) error) error {
	tx, err := s.DB.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p) // Re-panic after rollback
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("failed to rollback transaction (original error: %w, rollback error: %v)", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// createTables creates all necessary tables
func (s *SQLite) createTables() error {
	schema := `
	-- Assets table: inventory context referenced by alerts
	CREATE TABLE IF NOT EXISTS assets (
		id TEXT PRIMARY KEY,
		organization_id TEXT NOT NULL,
		name TEXT NOT NULL,
		asset_type TEXT NOT NULL,
		ip_address TEXT,
		hostname TEXT,
		criticality TEXT NOT NULL DEFAULT 'medium',
		owner TEXT,
		environment TEXT,
		tags TEXT, -- JSON array
		metadata TEXT, -- JSON object
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_assets_org ON assets(organization_id);
	CREATE INDEX IF NOT EXISTS idx_assets_org_type ON assets(organization_id, asset_type);

	-- Alerts table: triage state lives on the alert row
	CREATE TABLE IF NOT EXISTS alerts (
		id TEXT PRIMARY KEY,
		organization_id TEXT NOT NULL,
		title TEXT NOT NULL,
		description TEXT,
		severity INTEGER NOT NULL DEFAULT 3,
		status TEXT NOT NULL DEFAULT 'open',
		source_system TEXT,
		asset_id TEXT,
		raw_data TEXT, -- JSON object
		enrichment_data TEXT, -- JSON object
		ai_analysis TEXT, -- JSON object
		ai_analysis_timestamp DATETIME,
		generated_playbook_ids TEXT, -- JSON array
		playbooks_generated_at DATETIME,
		version INTEGER NOT NULL DEFAULT 1, -- optimistic concurrency guard
		created_by TEXT,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		FOREIGN KEY (asset_id) REFERENCES assets(id) ON DELETE SET NULL
	);
	CREATE INDEX IF NOT EXISTS idx_alerts_org ON alerts(organization_id);
	CREATE INDEX IF NOT EXISTS idx_alerts_org_status ON alerts(organization_id, status);
	CREATE INDEX IF NOT EXISTS idx_alerts_org_created ON alerts(organization_id, created_at DESC);
	CREATE INDEX IF NOT EXISTS idx_alerts_asset ON alerts(asset_id);

	-- Playbooks table: manual and AI-generated response procedures
	CREATE TABLE IF NOT EXISTS playbooks (
		id TEXT PRIMARY KEY,
		organization_id TEXT NOT NULL,
		name TEXT NOT NULL,
		description TEXT,
		category TEXT,
		playbook_type TEXT, -- 'immediate_action' or 'investigation', NULL for manual
		source_alert_id TEXT, -- NULL for manually authored playbooks
		ai_generated INTEGER NOT NULL DEFAULT 0,
		trigger_type TEXT NOT NULL DEFAULT 'manual',
		steps TEXT NOT NULL DEFAULT '[]', -- JSON array
		estimated_time INTEGER NOT NULL DEFAULT 0,
		complexity_level TEXT,
		is_active INTEGER NOT NULL DEFAULT 1,
		metadata TEXT, -- JSON object
		created_by TEXT,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		FOREIGN KEY (source_alert_id) REFERENCES alerts(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_playbooks_org ON playbooks(organization_id);
	CREATE INDEX IF NOT EXISTS idx_playbooks_alert ON playbooks(source_alert_id);
	-- At most one AI-generated playbook per (alert, type)
	CREATE UNIQUE INDEX IF NOT EXISTS uq_playbooks_alert_type
		ON playbooks(source_alert_id, playbook_type) WHERE ai_generated = 1;

	-- Timeline events: append-only investigation narrative per alert
	CREATE TABLE IF NOT EXISTS timeline_events (
		id TEXT PRIMARY KEY,
		alert_id TEXT NOT NULL,
		organization_id TEXT NOT NULL,
		timestamp DATETIME NOT NULL,
		type TEXT NOT NULL,
		title TEXT NOT NULL,
		description TEXT,
		ai_source TEXT,
		ai_confidence REAL NOT NULL DEFAULT 0,
		metadata TEXT, -- JSON object
		created_by TEXT,
		FOREIGN KEY (alert_id) REFERENCES alerts(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_timeline_alert_ts ON timeline_events(alert_id, timestamp);
	CREATE INDEX IF NOT EXISTS idx_timeline_org ON timeline_events(organization_id);

	-- Activity log: operational record of AI agent invocations
	CREATE TABLE IF NOT EXISTS activity_log (
		id TEXT PRIMARY KEY,
		organization_id TEXT NOT NULL,
		user_id TEXT,
		agent_name TEXT NOT NULL,
		action TEXT NOT NULL,
		success INTEGER NOT NULL DEFAULT 1,
		error_message TEXT,
		prompt_tokens INTEGER NOT NULL DEFAULT 0,
		completion_tokens INTEGER NOT NULL DEFAULT 0,
		execution_time_ms INTEGER NOT NULL DEFAULT 0,
		timestamp DATETIME NOT NULL,
		metadata TEXT -- JSON object
	);
	CREATE INDEX IF NOT EXISTS idx_activity_org_ts ON activity_log(organization_id, timestamp DESC);
	CREATE INDEX IF NOT EXISTS idx_activity_agent ON activity_log(agent_name);

	-- Users table
	CREATE TABLE IF NOT EXISTS users (
		username TEXT PRIMARY KEY,
		password_hash TEXT NOT NULL,
		organization_id TEXT NOT NULL,
		active INTEGER NOT NULL DEFAULT 1,
		totp_secret TEXT, -- TOTP secret for MFA
		mfa_enabled INTEGER NOT NULL DEFAULT 0,
		failed_login_attempts INTEGER NOT NULL DEFAULT 0,
		locked_until DATETIME,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_users_org ON users(organization_id);
	`

	if _, err := s.WriteDB.Exec(schema); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	return nil
}

// Close closes both connection pools.
func (s *SQLite) Close() error {
	var writeErr, readErr error

	if s.WriteDB != nil {
		writeErr = s.WriteDB.Close()
	}
	if s.ReadDB != nil {
		readErr = s.ReadDB.Close()
	}

	if writeErr != nil {
		return fmt.Errorf("failed to close write pool: %w", writeErr)
	}
	if readErr != nil {
		return fmt.Errorf("failed to close read pool: %w", readErr)
	}

	return nil
}

// HealthCheck verifies the database connection is alive
func (s *SQLite) HealthCheck() error {
	return s.DB.Ping()
}

// ConnectionPoolStats returns statistics about the read and write connection pools
type ConnectionPoolStats struct {
	WritePool PoolStats `json:"writePool"`
	ReadPool  PoolStats `json:"readPool"`
}

type PoolStats struct {
	MaxOpenConnections int           `json:"maxOpenConnections"`
	OpenConnections    int           `json:"openConnections"`
	InUse              int           `json:"inUse"`
	Idle               int           `json:"idle"`
	WaitCount          int64         `json:"waitCount"`
	WaitDuration       time.Duration `json:"waitDuration"`
}

// GetConnectionPoolStats returns current pool statistics for monitoring.
func (s *SQLite) GetConnectionPoolStats() ConnectionPoolStats {
	writeStats := s.WriteDB.Stats()
	readStats := s.ReadDB.Stats()

	return ConnectionPoolStats{
		WritePool: PoolStats{
			MaxOpenConnections: writeStats.MaxOpenConnections,
			OpenConnections:    writeStats.OpenConnections,
			InUse:              writeStats.InUse,
			Idle:               writeStats.Idle,
			WaitCount:          writeStats.WaitCount,
			WaitDuration:       writeStats.WaitDuration,
		},
		ReadPool: PoolStats{
			MaxOpenConnections: readStats.MaxOpenConnections,
			OpenConnections:    readStats.OpenConnections,
			InUse:              readStats.InUse,
			Idle:               readStats.Idle,
			WaitCount:          readStats.WaitCount,
			WaitDuration:       readStats.WaitDuration,
		},
	}
}

// StartMetricsCollection periodically publishes pool stats to Prometheus.
// Call after NewSQLite; stops when the context is cancelled.
func (s *SQLite) StartMetricsCollection(ctx context.Context, interval time.Duration) {
	s.updatePoolMetrics()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				s.Logger.Info("SQLite metrics collection stopped")
				return
			case <-ticker.C:
				s.updatePoolMetrics()
			}
		}
	}()

	s.Logger.Infof("SQLite metrics collection started (interval: %v)", interval)
}

func (s *SQLite) updatePoolMetrics() {
	s.updatePoolMetricsForType("write", s.WriteDB.Stats(), &s.prevWriteWaitCount)
	s.updatePoolMetricsForType("read", s.ReadDB.Stats(), &s.prevReadWaitCount)
}

func (s *SQLite) updatePoolMetricsForType(poolType string, stats sql.DBStats, prevWaitCount *int64) {
	metrics.SQLitePoolOpenConnections.WithLabelValues(poolType).Set(float64(stats.OpenConnections))
	metrics.SQLitePoolInUse.WithLabelValues(poolType).Set(float64(stats.InUse))
	metrics.SQLitePoolIdle.WithLabelValues(poolType).Set(float64(stats.Idle))

	// Publish the delta; the sql.DBStats counter is cumulative
	if delta := stats.WaitCount - *prevWaitCount; delta > 0 {
		metrics.SQLitePoolWaitCount.WithLabelValues(poolType).Add(float64(delta))
		*prevWaitCount = stats.WaitCount
	}
}

// validateDatabasePath rejects paths that could escape the data directory
// or hit special device files.
func validateDatabasePath(dbPath string) error {
	if dbPath == "" {
		return fmt.Errorf("database path cannot be empty")
	}

	if len(dbPath) > 512 {
		return fmt.Errorf("database path exceeds maximum length of 512 characters")
	}

	// Absolute paths bypass the working-directory restriction; allow
	// :memory: and temp directories (tests) only
	if filepath.IsAbs(dbPath) && dbPath != ":memory:" {
		if !strings.Contains(dbPath, os.TempDir()) {
			return fmt.Errorf("absolute paths not allowed: %s", dbPath)
		}
	}

	if strings.Contains(dbPath, "..") {
		return fmt.Errorf("path traversal not allowed (..): %s", dbPath)
	}

	if strings.Contains(dbPath, "\x00") {
		return fmt.Errorf("null bytes not allowed in path")
	}

	// Windows reserved device names hang or bypass filesystem semantics
	base := filepath.Base(dbPath)
	reserved := []string{"CON", "PRN", "AUX", "NUL", "COM1", "COM2", "COM3", "COM4",
		"COM5", "COM6", "COM7", "COM8", "COM9", "LPT1", "LPT2", "LPT3", "LPT4",
		"LPT5", "LPT6", "LPT7", "LPT8", "LPT9"}

	baseUpper := strings.ToUpper(base)
	for _, r := range reserved {
		if baseUpper == r || strings.HasPrefix(baseUpper, r+".") {
			return fmt.Errorf("reserved name not allowed: %s", base)
		}
	}

	absPath, err := filepath.Abs(dbPath)
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}

	if strings.Contains(absPath, os.TempDir()) {
		return nil
	}

	wd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("failed to get working directory: %w", err)
	}

	rel, err := filepath.Rel(wd, absPath)
	if err != nil {
		return fmt.Errorf("failed to compute relative path: %w", err)
	}

	if strings.HasPrefix(rel, "..") {
		return fmt.Errorf("path escapes working directory: %s resolves to %s", dbPath, absPath)
	}

	return nil
}

// nullIfEmpty converts empty strings to NULL for optional columns.
func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// nullIfNilTime converts a nil time pointer to NULL, otherwise RFC3339 text.
func nullIfNilTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}

// isUniqueConstraintErr detects SQLite unique-index violations. The modernc
// driver surfaces them as plain errors carrying the SQLite message text.
func isUniqueConstraintErr(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "constraint failed")
}
