// Package conversion provides the event store repository.
package conversion

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/medihost/hl7-intake/internal/infrastructure/postgres"
)

// Repository provides event sourcing persistence for conversions
type Repository struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewRepository creates a new repository
func NewRepository(pool *pgxpool.Pool, logger *zap.Logger) *Repository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Repository{pool: pool, logger: logger}
}

// Save persists new events for an aggregate. Outbox entries passed alongside
// are written in the same transaction, so queueing an HL7 message for
// delivery commits atomically with its ConversionBuilt event.
func (r *Repository) Save(ctx context.Context, agg *Aggregate, outbox ...*postgres.OutboxEntry) error {
	if len(agg.Changes()) == 0 && len(outbox) == 0 {
		return nil
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	for i, event := range agg.Changes() {
		event.Version = agg.Version() - len(agg.Changes()) + i + 1
		if err := r.insertEvent(ctx, tx, event); err != nil {
			return err
		}
	}

	for _, entry := range outbox {
		if err := postgres.WriteEntry(ctx, tx, entry); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	agg.ClearChanges()
	return nil
}

func (r *Repository) insertEvent(ctx context.Context, tx pgx.Tx, event *Event) error {
	query := `
		INSERT INTO conversion_events
		(aggregate_id, event_type, event_data, version, document_hash, correlation_id)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := tx.Exec(ctx, query,
		event.AggregateID,
		event.EventType,
		event.EventData,
		event.Version,
		event.DocumentHash,
		event.CorrelationID,
	)
	return err
}

// Load retrieves an aggregate by ID
func (r *Repository) Load(ctx context.Context, id string) (*Aggregate, error) {
	events, err := r.GetEvents(ctx, id)
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, fmt.Errorf("conversion not found: %s", id)
	}

	agg := NewAggregate(id)
	agg.LoadFromHistory(events)
	return agg, nil
}

// GetEvents retrieves all events for an aggregate
func (r *Repository) GetEvents(ctx context.Context, aggregateID string) ([]*Event, error) {
	query := `
		SELECT aggregate_id, event_type, event_data, version, timestamp,
		       document_hash, correlation_id
		FROM conversion_events
		WHERE aggregate_id = $1
		ORDER BY version ASC
	`

	rows, err := r.pool.Query(ctx, query, aggregateID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		e := &Event{}
		err := rows.Scan(
			&e.AggregateID, &e.EventType, &e.EventData, &e.Version,
			&e.Timestamp, &e.DocumentHash, &e.CorrelationID,
		)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// FindByDocumentHash returns the most recent conversion recorded for a
// document hash, for duplicate submission detection.
func (r *Repository) FindByDocumentHash(ctx context.Context, hash string) (string, bool, error) {
	query := `
		SELECT aggregate_id
		FROM conversion_events
		WHERE event_type = $1 AND document_hash = $2
		ORDER BY timestamp DESC
		LIMIT 1
	`

	var id string
	err := r.pool.QueryRow(ctx, query, EventConversionReceived, hash).Scan(&id)
	if isNoRows(err) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return id, true, nil
}

// isNoRows treats an empty result as "no conversion yet", even when the
// driver hands the sentinel back wrapped.
func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
