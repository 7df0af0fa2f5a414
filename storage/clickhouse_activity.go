package storage

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net"
	"regexp"
	"sync"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"go.uber.org/zap"

	"aegis/config"
	"aegis/core"
	"aegis/metrics"
	"aegis/util/goroutine"
)

// validDatabaseNameRegex ensures database names are safe from SQL injection
var validDatabaseNameRegex = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)

// ClickHouse holds the ClickHouse connection
type ClickHouse struct {
	Conn   driver.Conn
	Logger *zap.SugaredLogger
}

// NewClickHouse creates a new ClickHouse connection
func NewClickHouse(cfg *config.Config, logger *zap.SugaredLogger) (*ClickHouse, error) {
	options := &clickhouse.Options{
		Addr: []string{cfg.ClickHouse.Addr},
		Auth: clickhouse.Auth{
			Database: cfg.ClickHouse.Database,
			Username: cfg.ClickHouse.Username,
			Password: cfg.ClickHouse.Password,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
		DialTimeout: 10 * time.Second,
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
		MaxOpenConns:     cfg.ClickHouse.MaxPoolSize,
		MaxIdleConns:     cfg.ClickHouse.MaxPoolSize / 2,
		ConnMaxLifetime:  1 * time.Hour,
		ConnOpenStrategy: clickhouse.ConnOpenInOrder,
		DialContext: func(ctx context.Context, addr string) (net.Conn, error) {
			var d net.Dialer
			d.Timeout = 10 * time.Second
			d.KeepAlive = 30 * time.Second
			return d.DialContext(ctx, "tcp", addr)
		},
	}

	if cfg.ClickHouse.TLS {
		options.TLS = &tls.Config{
			MinVersion: tls.VersionTLS13,
			CipherSuites: []uint16{
				tls.TLS_AES_128_GCM_SHA256,
				tls.TLS_AES_256_GCM_SHA384,
				tls.TLS_CHACHA20_POLY1305_SHA256,
			},
		}
	}

	conn, err := clickhouse.Open(options)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := conn.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}

	logger.Info("Connected to ClickHouse successfully")

	if err := ensureDatabase(ctx, conn, cfg.ClickHouse.Database, logger); err != nil {
		return nil, fmt.Errorf("failed to ensure database exists: %w", err)
	}

	return &ClickHouse{
		Conn:   conn,
		Logger: logger,
	}, nil
}

// validateDatabaseName ensures the database name is safe from SQL injection
func validateDatabaseName(database string) error {
	if database == "" {
		return fmt.Errorf("database name cannot be empty")
	}
	if len(database) > 64 {
		return fmt.Errorf("database name too long (max 64 characters)")
	}
	if !validDatabaseNameRegex.MatchString(database) {
		return fmt.Errorf("database name contains invalid characters (only alphanumeric and underscore allowed)")
	}
	return nil
}

// ensureDatabase creates the database if it doesn't exist
func ensureDatabase(ctx context.Context, conn driver.Conn, database string, logger *zap.SugaredLogger) error {
	if err := validateDatabaseName(database); err != nil {
		return fmt.Errorf("invalid database name: %w", err)
	}

	query := fmt.Sprintf("CREATE DATABASE IF NOT EXISTS `%s`", database)
	if err := conn.Exec(ctx, query); err != nil {
		return fmt.Errorf("failed to create database: %w", err)
	}
	logger.Infof("Database '%s' is ready", database)
	return nil
}

// HealthCheck performs a health check on the ClickHouse connection
func (ch *ClickHouse) HealthCheck(ctx context.Context) error {
	return ch.Conn.Ping(ctx)
}

// Close closes the ClickHouse connection
func (ch *ClickHouse) Close() error {
	return ch.Conn.Close()
}

// CreateActivityTable creates the ai_activity table if it doesn't exist.
func (ch *ClickHouse) CreateActivityTable(ctx context.Context) error {
	table := `
	CREATE TABLE IF NOT EXISTS ai_activity (
		id String,
		organization_id LowCardinality(String),
		user_id String,
		agent_name LowCardinality(String),
		action String,
		success UInt8,
		error_message String,
		prompt_tokens UInt32,
		completion_tokens UInt32,
		execution_time_ms UInt64,
		timestamp DateTime64(3, 'UTC'),
		metadata String,
		INDEX idx_agent_name agent_name TYPE set(0) GRANULARITY 1
	) ENGINE = MergeTree()
	PARTITION BY toYYYYMM(timestamp)
	ORDER BY (organization_id, timestamp)
	TTL toDateTime(timestamp) + INTERVAL 90 DAY
	SETTINGS index_granularity = 8192
	`

	if err := ch.Conn.Exec(ctx, table); err != nil {
		return fmt.Errorf("failed to create ai_activity table: %w", err)
	}
	return nil
}

// ClickHouseActivitySink buffers AI activity entries and writes them to
// ClickHouse in batches. Deployments with heavy AI traffic point the audit
// trail here instead of the SQLite activity_log table.
type ClickHouseActivitySink struct {
	clickhouse    *ClickHouse
	entryCh       chan *core.ActivityLogEntry
	batchSize     int
	flushInterval time.Duration
	wg            sync.WaitGroup
	logger        *zap.SugaredLogger
	ctx           context.Context
	cancel        context.CancelFunc
}

// NewClickHouseActivitySink creates the sink and its buffered channel. Workers
// are not started until Start is called.
func NewClickHouseActivitySink(parentCtx context.Context, ch *ClickHouse, cfg *config.Config, logger *zap.SugaredLogger) *ClickHouseActivitySink {
	batchSize := cfg.ClickHouse.BatchSize
	if batchSize <= 0 {
		batchSize = 500
	}
	flushInterval := 5 * time.Second
	if cfg.ClickHouse.FlushInterval > 0 {
		flushInterval = time.Duration(cfg.ClickHouse.FlushInterval) * time.Second
	}

	ctx, cancel := context.WithCancel(parentCtx)

	return &ClickHouseActivitySink{
		clickhouse:    ch,
		entryCh:       make(chan *core.ActivityLogEntry, batchSize*4),
		batchSize:     batchSize,
		flushInterval: flushInterval,
		logger:        logger,
		ctx:           ctx,
		cancel:        cancel,
	}
}

// Start starts the batch flush workers.
func (cas *ClickHouseActivitySink) Start(numWorkers int) {
	if numWorkers <= 0 {
		numWorkers = 1
	}
	for i := 0; i < numWorkers; i++ {
		cas.wg.Add(1)
		workerID := i
		go cas.worker(workerID)
	}
}

// AddActivityEntry enqueues an entry for batch insertion. The write is
// asynchronous; a full buffer drops the entry rather than blocking the
// calling operation.
func (cas *ClickHouseActivitySink) AddActivityEntry(ctx context.Context, entry *core.ActivityLogEntry) error {
	if err := entry.Validate(); err != nil {
		return fmt.Errorf("invalid activity entry: %w", err)
	}

	select {
	case cas.entryCh <- entry:
		return nil
	default:
		metrics.ActivityLogWriteFailures.Inc()
		return fmt.Errorf("activity buffer full, entry %s dropped", entry.ID)
	}
}

func (cas *ClickHouseActivitySink) worker(workerID int) {
	defer cas.wg.Done()
	defer goroutine.Recover("clickhouse-activity-worker", cas.logger)

	batch := make([]*core.ActivityLogEntry, 0, cas.batchSize)
	flushTicker := time.NewTicker(cas.flushInterval)
	defer flushTicker.Stop()

	for {
		select {
		case entry := <-cas.entryCh:
			batch = append(batch, entry)
			if len(batch) >= cas.batchSize {
				if err := cas.insertBatch(cas.ctx, batch); err != nil {
					cas.logger.Errorw("Failed to insert activity batch on size threshold",
						"error", err,
						"entry_count", len(batch))
				}
				batch = batch[:0]
				flushTicker.Reset(cas.flushInterval)
			}

		case <-flushTicker.C:
			if len(batch) > 0 {
				if err := cas.insertBatch(cas.ctx, batch); err != nil {
					cas.logger.Errorw("Failed to insert activity batch on timer flush",
						"error", err,
						"entry_count", len(batch),
						"worker_id", workerID)
				}
				batch = batch[:0]
			}

		case <-cas.ctx.Done():
			// Final flush uses a fresh context, the parent one is already cancelled.
			if len(batch) > 0 {
				flushCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				if err := cas.insertBatch(flushCtx, batch); err != nil {
					cas.logger.Errorw("Failed to flush activity entries during shutdown",
						"error", err,
						"entry_count", len(batch),
						"worker_id", workerID)
				}
				cancel()
			}
			return
		}
	}
}

func (cas *ClickHouseActivitySink) insertBatch(ctx context.Context, batch []*core.ActivityLogEntry) error {
	if cas.clickhouse == nil || cas.clickhouse.Conn == nil {
		cas.logger.Warn("Skipping activity batch insert, ClickHouse connection not available")
		return nil
	}

	start := time.Now()

	prepareBatch, err := cas.clickhouse.Conn.PrepareBatch(ctx, `
		INSERT INTO ai_activity (
			id, organization_id, user_id, agent_name, action, success,
			error_message, prompt_tokens, completion_tokens, execution_time_ms,
			timestamp, metadata
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare batch: %w", err)
	}

	for _, entry := range batch {
		metadataData := ""
		if len(entry.Metadata) > 0 {
			if data, err := json.Marshal(entry.Metadata); err == nil {
				metadataData = string(data)
			}
		}

		err := prepareBatch.Append(
			entry.ID,
			entry.OrganizationID,
			entry.UserID,
			entry.AgentName,
			entry.Action,
			uint8(boolToInt(entry.Success)),
			entry.ErrorMessage,
			uint32(entry.PromptTokens),
			uint32(entry.CompletionTokens),
			uint64(entry.ExecutionTimeMs),
			entry.Timestamp,
			metadataData,
		)
		if err != nil {
			cas.logger.Errorf("Failed to append activity entry %s: %v", entry.ID, err)
		}
	}

	if err := prepareBatch.Send(); err != nil {
		return fmt.Errorf("failed to send batch: %w", err)
	}

	cas.logger.Debugf("Inserted %d activity entries in %v", len(batch), time.Since(start))
	return nil
}

// ListActivityEntries returns recent AI agent activity for an organization,
// newest first. An empty agentName matches all agents.
func (cas *ClickHouseActivitySink) ListActivityEntries(ctx context.Context, organizationID, agentName string, limit int) ([]core.ActivityLogEntry, error) {
	if cas.clickhouse == nil || cas.clickhouse.Conn == nil {
		return nil, fmt.Errorf("ClickHouse connection not available")
	}
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	query := `
		SELECT id, organization_id, user_id, agent_name, action, success,
		       error_message, prompt_tokens, completion_tokens, execution_time_ms,
		       timestamp, metadata
		FROM ai_activity
		WHERE organization_id = ?
	`
	args := []interface{}{organizationID}
	if agentName != "" {
		query += ` AND agent_name = ?`
		args = append(args, agentName)
	}
	query += ` ORDER BY timestamp DESC LIMIT ?`
	args = append(args, limit)

	rows, err := cas.clickhouse.Conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query activity: %w", err)
	}
	defer rows.Close()

	entries := make([]core.ActivityLogEntry, 0)
	for rows.Next() {
		var entry core.ActivityLogEntry
		var success uint8
		var promptTokens, completionTokens uint32
		var executionTimeMs uint64
		var metadataData string

		err := rows.Scan(
			&entry.ID,
			&entry.OrganizationID,
			&entry.UserID,
			&entry.AgentName,
			&entry.Action,
			&success,
			&entry.ErrorMessage,
			&promptTokens,
			&completionTokens,
			&executionTimeMs,
			&entry.Timestamp,
			&metadataData,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan activity entry: %w", err)
		}

		entry.Success = success != 0
		entry.PromptTokens = int(promptTokens)
		entry.CompletionTokens = int(completionTokens)
		entry.ExecutionTimeMs = int64(executionTimeMs)
		if metadataData != "" {
			_ = json.Unmarshal([]byte(metadataData), &entry.Metadata)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate activity entries: %w", err)
	}
	return entries, nil
}

// Stop signals workers to flush and exit, waiting up to 30 seconds.
func (cas *ClickHouseActivitySink) Stop() error {
	if cas.cancel != nil {
		cas.cancel()
	}

	done := make(chan struct{})
	go func() {
		defer goroutine.Recover("clickhouse-activity-shutdown", cas.logger)
		cas.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(30 * time.Second):
		return fmt.Errorf("timed out waiting for activity workers to stop")
	}
}
