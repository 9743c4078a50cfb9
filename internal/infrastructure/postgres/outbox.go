// Package postgres provides PostgreSQL infrastructure components.
// Implements the transactional outbox that queues rendered HL7 messages for
// delivery to the clinic records system.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// advisory lock key shared by all relay instances; only one drains at a time
const relayLockID = int64(771204)

// OutboxEntry is one queued HL7 message awaiting publication
type OutboxEntry struct {
	ID           int64
	ConversionID string
	Topic        string
	Key          string
	Payload      []byte
	Filename     string
	CreatedAt    time.Time
	ProcessedAt  *time.Time
	RetryCount   int
	LastError    *string
}

// OutboxConfig holds configuration for the relay
type OutboxConfig struct {
	// BatchSize is the number of entries fetched per poll
	BatchSize int
	// PollInterval is how often to poll for new entries
	PollInterval time.Duration
	// MaxRetries is the retry budget before an entry is dead-lettered
	MaxRetries int
	// DeadLetterTopic receives entries that exhaust the retry budget
	DeadLetterTopic string
}

// DefaultOutboxConfig returns sensible defaults
func DefaultOutboxConfig() OutboxConfig {
	return OutboxConfig{
		BatchSize:       50,
		PollInterval:    250 * time.Millisecond,
		MaxRetries:      5,
		DeadLetterTopic: "dead.letter",
	}
}

// Publisher publishes outbox payloads to the delivery transport
type Publisher interface {
	Publish(ctx context.Context, topic, key string, value []byte) error
}

// Outbox polls queued entries and publishes them in arrival order
type Outbox struct {
	pool      *pgxpool.Pool
	config    OutboxConfig
	publisher Publisher
	logger    *zap.Logger
	tracer    trace.Tracer

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewOutbox creates a new relay
func NewOutbox(pool *pgxpool.Pool, publisher Publisher, cfg OutboxConfig, logger *zap.Logger) *Outbox {
	if logger == nil {
		logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Outbox{
		pool:      pool,
		config:    cfg,
		publisher: publisher,
		logger:    logger,
		tracer:    otel.Tracer("hl7-outbox"),
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
}

// WriteEntry queues a message inside the caller's transaction. Callers pass
// the same transaction that commits the domain event, so a built message can
// never commit without its delivery entry or vice versa.
func WriteEntry(ctx context.Context, tx pgx.Tx, entry *OutboxEntry) error {
	query := `
		INSERT INTO hl7_outbox (conversion_id, topic, key, payload, filename)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at
	`

	err := tx.QueryRow(ctx, query,
		entry.ConversionID,
		entry.Topic,
		entry.Key,
		entry.Payload,
		entry.Filename,
	).Scan(&entry.ID, &entry.CreatedAt)

	if err != nil {
		return fmt.Errorf("write outbox entry: %w", err)
	}
	return nil
}

// Start begins polling and publishing queued entries
func (o *Outbox) Start() {
	go o.relayLoop()
	o.logger.Info("outbox relay started",
		zap.Int("batch_size", o.config.BatchSize),
		zap.Duration("poll_interval", o.config.PollInterval))
}

// Stop gracefully stops the relay
func (o *Outbox) Stop() {
	o.cancel()
	<-o.done
	o.logger.Info("outbox relay stopped")
}

func (o *Outbox) relayLoop() {
	defer close(o.done)

	ticker := time.NewTicker(o.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-o.ctx.Done():
			return
		case <-ticker.C:
			o.relayBatch()
		}
	}
}

func (o *Outbox) relayBatch() {
	ctx, span := o.tracer.Start(o.ctx, "outbox_relay_batch")
	defer span.End()

	var acquired bool
	if err := o.pool.QueryRow(ctx, "SELECT pg_try_advisory_lock($1)", relayLockID).Scan(&acquired); err != nil || !acquired {
		return // another relay holds the lock
	}
	defer o.pool.Exec(ctx, "SELECT pg_advisory_unlock($1)", relayLockID)

	entries, err := o.fetchPending(ctx)
	if err != nil {
		o.logger.Error("fetch outbox entries failed", zap.Error(err))
		span.RecordError(err)
		return
	}
	if len(entries) == 0 {
		return
	}
	span.SetAttributes(attribute.Int("batch_size", len(entries)))

	for _, entry := range entries {
		if err := o.relayEntry(ctx, entry); err != nil {
			o.logger.Error("relay entry failed",
				zap.Int64("id", entry.ID),
				zap.String("conversion_id", entry.ConversionID),
				zap.Error(err))
		}
	}
}

func (o *Outbox) fetchPending(ctx context.Context) ([]*OutboxEntry, error) {
	query := `
		SELECT id, conversion_id, topic, key, payload, filename,
		       created_at, retry_count, last_error
		FROM hl7_outbox
		WHERE processed_at IS NULL
		ORDER BY created_at ASC
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`

	rows, err := o.pool.Query(ctx, query, o.config.BatchSize)
	if err != nil {
		return nil, fmt.Errorf("query pending: %w", err)
	}
	defer rows.Close()

	var entries []*OutboxEntry
	for rows.Next() {
		entry := &OutboxEntry{}
		err := rows.Scan(
			&entry.ID, &entry.ConversionID, &entry.Topic, &entry.Key,
			&entry.Payload, &entry.Filename, &entry.CreatedAt,
			&entry.RetryCount, &entry.LastError,
		)
		if err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// relayEntry publishes one entry. Entries that exhaust the retry budget are
// forwarded to the dead-letter topic instead, then marked processed either way.
func (o *Outbox) relayEntry(ctx context.Context, entry *OutboxEntry) error {
	ctx, span := o.tracer.Start(ctx, "outbox_relay_entry",
		trace.WithAttributes(
			attribute.Int64("entry_id", entry.ID),
			attribute.String("conversion_id", entry.ConversionID),
			attribute.String("topic", entry.Topic),
		))
	defer span.End()

	if entry.RetryCount >= o.config.MaxRetries {
		return o.deadLetter(ctx, entry)
	}

	if err := o.publisher.Publish(ctx, entry.Topic, entry.Key, entry.Payload); err != nil {
		errStr := err.Error()
		if _, updateErr := o.pool.Exec(ctx,
			`UPDATE hl7_outbox SET retry_count = retry_count + 1, last_error = $1 WHERE id = $2`,
			errStr, entry.ID); updateErr != nil {
			o.logger.Error("update retry count failed", zap.Error(updateErr))
		}
		span.RecordError(err)
		return fmt.Errorf("publish: %w", err)
	}

	if err := o.markProcessed(ctx, entry.ID); err != nil {
		span.RecordError(err)
		return err
	}

	o.logger.Debug("outbox entry relayed",
		zap.Int64("id", entry.ID),
		zap.String("topic", entry.Topic))
	return nil
}

func (o *Outbox) deadLetter(ctx context.Context, entry *OutboxEntry) error {
	payload, _ := json.Marshal(map[string]interface{}{
		"original_topic": entry.Topic,
		"conversion_id":  entry.ConversionID,
		"filename":       entry.Filename,
		"payload":        entry.Payload,
		"retry_count":    entry.RetryCount,
		"last_error":     entry.LastError,
		"created_at":     entry.CreatedAt,
	})

	if err := o.publisher.Publish(ctx, o.config.DeadLetterTopic, entry.Key, payload); err != nil {
		return fmt.Errorf("dead-letter publish: %w", err)
	}

	o.logger.Warn("outbox entry dead-lettered",
		zap.Int64("id", entry.ID),
		zap.String("conversion_id", entry.ConversionID),
		zap.Int("retries", entry.RetryCount))

	return o.markProcessed(ctx, entry.ID)
}

func (o *Outbox) markProcessed(ctx context.Context, id int64) error {
	if _, err := o.pool.Exec(ctx,
		`UPDATE hl7_outbox SET processed_at = NOW() WHERE id = $1`, id); err != nil {
		return fmt.Errorf("mark processed: %w", err)
	}
	return nil
}

// PendingCount reports entries still awaiting publication, for the metrics gauge
func (o *Outbox) PendingCount(ctx context.Context) (int64, error) {
	var n int64
	err := o.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM hl7_outbox WHERE processed_at IS NULL`).Scan(&n)
	return n, err
}

// CleanupProcessed removes entries published longer ago than the given age
func (o *Outbox) CleanupProcessed(ctx context.Context, olderThan time.Duration) (int64, error) {
	result, err := o.pool.Exec(ctx,
		`DELETE FROM hl7_outbox WHERE processed_at IS NOT NULL AND processed_at < NOW() - $1::interval`,
		olderThan.String())
	if err != nil {
		return 0, fmt.Errorf("cleanup: %w", err)
	}
	return result.RowsAffected(), nil
}
