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

	"github.com/medassure/go-dispense/internal/port"
)

// outboxWriter stages events in the outbox table inside the unit-of-work
// transaction, so an event exists exactly when its state change committed
type outboxWriter struct {
	tx pgx.Tx
}

func (w *outboxWriter) Write(ctx context.Context, event *port.OutboxEvent) error {
	_, err := w.tx.Exec(ctx, `
		INSERT INTO outbox (aggregate_id, aggregate_type, event_type, topic, key, payload)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, event.AggregateID, event.AggregateType, event.EventType, event.Topic, event.Key, event.Payload)
	if err != nil {
		return fmt.Errorf("write outbox event: %w", err)
	}
	return nil
}

// RelayPublisher pushes a staged event to the broker
type RelayPublisher interface {
	Publish(ctx context.Context, topic, key string, value []byte) error
}

// RelayConfig tunes the outbox relay
type RelayConfig struct {
	BatchSize    int
	PollInterval time.Duration
	MaxRetries   int
}

// DefaultRelayConfig returns the defaults used by the relay binary
func DefaultRelayConfig() RelayConfig {
	return RelayConfig{
		BatchSize:    100,
		PollInterval: 100 * time.Millisecond,
		MaxRetries:   5,
	}
}

// relayLockID is the advisory lock shared by relay instances so only one
// polls the table at a time
const relayLockID = int64(7_431_002)

// Relay drains the outbox table to the broker. Multiple instances may run;
// an advisory lock elects one active poller.
type Relay struct {
	pool      *pgxpool.Pool
	config    RelayConfig
	publisher RelayPublisher
	logger    *zap.Logger
	tracer    trace.Tracer

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewRelay creates an outbox relay on the given pool
func NewRelay(pool *pgxpool.Pool, publisher RelayPublisher, cfg RelayConfig, logger *zap.Logger) *Relay {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Relay{
		pool:      pool,
		config:    cfg,
		publisher: publisher,
		logger:    logger,
		tracer:    otel.Tracer("outbox-relay"),
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
}

// Start begins polling for staged events
func (r *Relay) Start() {
	go r.loop()
	r.logger.Info("outbox relay started",
		zap.Int("batch_size", r.config.BatchSize),
		zap.Duration("poll_interval", r.config.PollInterval))
}

// Stop waits for the current batch to finish and stops polling
func (r *Relay) Stop() {
	r.cancel()
	<-r.done
	r.logger.Info("outbox relay stopped")
}

func (r *Relay) loop() {
	defer close(r.done)

	ticker := time.NewTicker(r.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			r.processBatch()
		}
	}
}

// relayRow is an outbox row as the relay sees it
type relayRow struct {
	ID          int64
	AggregateID string
	EventType   string
	Topic       string
	Key         string
	Payload     json.RawMessage
	RetryCount  int
	LastError   *string
	CreatedAt   time.Time
}

func (r *Relay) processBatch() {
	ctx, span := r.tracer.Start(r.ctx, "outbox_relay_batch")
	defer span.End()

	// Advisory locks are session-scoped, so the lock and unlock must run on
	// the same pooled connection.
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		r.logger.Error("acquire relay connection", zap.Error(err))
		span.RecordError(err)
		return
	}
	defer conn.Release()

	var acquired bool
	if err := conn.QueryRow(ctx, "SELECT pg_try_advisory_lock($1)", relayLockID).Scan(&acquired); err != nil || !acquired {
		return
	}
	defer conn.Exec(context.WithoutCancel(ctx), "SELECT pg_advisory_unlock($1)", relayLockID)

	rows, err := r.fetchPending(ctx)
	if err != nil {
		r.logger.Error("fetch outbox rows", zap.Error(err))
		span.RecordError(err)
		return
	}
	if len(rows) == 0 {
		return
	}
	span.SetAttributes(attribute.Int("batch_size", len(rows)))

	for _, row := range rows {
		if err := r.publishRow(ctx, row); err != nil {
			r.logger.Error("publish outbox row",
				zap.Int64("id", row.ID),
				zap.String("event_type", row.EventType),
				zap.Error(err))
		}
	}
}

func (r *Relay) fetchPending(ctx context.Context) ([]*relayRow, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, aggregate_id, event_type, topic, key, payload, retry_count, last_error, created_at
		FROM outbox
		WHERE processed_at IS NULL
		  AND retry_count < $1
		ORDER BY created_at ASC
		LIMIT $2
		FOR UPDATE SKIP LOCKED
	`, r.config.MaxRetries, r.config.BatchSize)
	if err != nil {
		return nil, fmt.Errorf("query outbox: %w", err)
	}
	defer rows.Close()

	var pending []*relayRow
	for rows.Next() {
		row := &relayRow{}
		if err := rows.Scan(
			&row.ID, &row.AggregateID, &row.EventType, &row.Topic, &row.Key,
			&row.Payload, &row.RetryCount, &row.LastError, &row.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan outbox row: %w", err)
		}
		pending = append(pending, row)
	}
	return pending, rows.Err()
}

func (r *Relay) publishRow(ctx context.Context, row *relayRow) error {
	ctx, span := r.tracer.Start(ctx, "outbox_relay_publish",
		trace.WithAttributes(
			attribute.Int64("entry_id", row.ID),
			attribute.String("event_type", row.EventType),
			attribute.String("aggregate_id", row.AggregateID),
		))
	defer span.End()

	if err := r.publisher.Publish(ctx, row.Topic, row.Key, row.Payload); err != nil {
		errStr := err.Error()
		if _, updateErr := r.pool.Exec(ctx, `
			UPDATE outbox SET retry_count = retry_count + 1, last_error = $1 WHERE id = $2
		`, errStr, row.ID); updateErr != nil {
			r.logger.Error("update retry count", zap.Error(updateErr))
		}
		span.RecordError(err)
		return fmt.Errorf("publish: %w", err)
	}

	if _, err := r.pool.Exec(ctx, "UPDATE outbox SET processed_at = NOW() WHERE id = $1", row.ID); err != nil {
		span.RecordError(err)
		return fmt.Errorf("mark processed: %w", err)
	}

	r.logger.Debug("outbox row published",
		zap.Int64("id", row.ID),
		zap.String("topic", row.Topic))
	return nil
}

// MoveToDeadLetter publishes rows that exhausted their retries to the dead
// letter topic and closes them out
func (r *Relay) MoveToDeadLetter(ctx context.Context) (int64, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, aggregate_id, event_type, topic, key, payload, retry_count, last_error, created_at
		FROM outbox
		WHERE processed_at IS NULL
		  AND retry_count >= $1
		FOR UPDATE SKIP LOCKED
	`, r.config.MaxRetries)
	if err != nil {
		return 0, fmt.Errorf("query outbox: %w", err)
	}
	defer rows.Close()

	var count int64
	for rows.Next() {
		row := &relayRow{}
		if err := rows.Scan(
			&row.ID, &row.AggregateID, &row.EventType, &row.Topic, &row.Key,
			&row.Payload, &row.RetryCount, &row.LastError, &row.CreatedAt,
		); err != nil {
			continue
		}

		dlPayload, _ := json.Marshal(map[string]interface{}{
			"original_topic": row.Topic,
			"event_type":     row.EventType,
			"aggregate_id":   row.AggregateID,
			"payload":        row.Payload,
			"retry_count":    row.RetryCount,
			"last_error":     row.LastError,
			"created_at":     row.CreatedAt,
		})
		if err := r.publisher.Publish(ctx, port.TopicDeadLetter, row.Key, dlPayload); err != nil {
			r.logger.Error("publish to dead letter", zap.Error(err))
			continue
		}
		if _, err := r.pool.Exec(ctx, "UPDATE outbox SET processed_at = NOW() WHERE id = $1", row.ID); err != nil {
			r.logger.Error("close dead-lettered row", zap.Error(err))
			continue
		}
		count++
	}
	return count, nil
}

// PendingCount reports how many rows still await publication
func (r *Relay) PendingCount(ctx context.Context) (int64, error) {
	var count int64
	err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM outbox WHERE processed_at IS NULL").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count pending outbox rows: %w", err)
	}
	return count, nil
}

// CleanupProcessed deletes published rows older than the retention window
func (r *Relay) CleanupProcessed(ctx context.Context, olderThan time.Duration) (int64, error) {
	result, err := r.pool.Exec(ctx, `
		DELETE FROM outbox
		WHERE processed_at IS NOT NULL
		  AND processed_at < NOW() - $1::interval
	`, olderThan.String())
	if err != nil {
		return 0, fmt.Errorf("cleanup outbox: %w", err)
	}
	return result.RowsAffected(), nil
}
