package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	audit "boxoffice/pkg/platform/audit"
	txcontext "boxoffice/pkg/platform/tx"
)

// Store implements audit.Store using the transactional outbox pattern.
// Events are written to the outbox table in the caller's transaction and
// published to Kafka by the outbox worker.
type Store struct {
	db *sql.DB
}

// New creates a new PostgreSQL audit store that writes to the outbox.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) execer(ctx context.Context) txcontext.Executor {
	return txcontext.Conn(ctx, s.db)
}

// Payload is the JSON structure published to Kafka.
type Payload struct {
	ID               string `json:"id"`
	Category         string `json:"category"`
	Timestamp        string `json:"timestamp"`
	Action           string `json:"action"`
	Subject          string `json:"subject"`
	CorrelationToken string `json:"correlation_token,omitempty"`
	ReceiptID        string `json:"receipt_id,omitempty"`
	Reason           string `json:"reason,omitempty"`
	Severity         string `json:"severity,omitempty"`
	RequestID        string `json:"request_id,omitempty"`
	SourceIP         string `json:"source_ip,omitempty"`
}

// Append writes an audit event to the outbox table for Kafka publishing.
func (s *Store) Append(ctx context.Context, event audit.Event) error {
	eventID := uuid.New()
	event = event.Normalize(time.Now())

	payload := Payload{
		ID:               eventID.String(),
		Category:         string(event.Category),
		Timestamp:        event.Timestamp.Format(time.RFC3339Nano),
		Action:           event.Action,
		Subject:          event.Subject,
		CorrelationToken: event.CorrelationToken,
		ReceiptID:        event.ReceiptID,
		Reason:           event.Reason,
		Severity:         string(event.Severity),
		RequestID:        event.RequestID,
		SourceIP:         event.SourceIP,
	}
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal audit payload: %w", err)
	}

	aggregateID := event.Subject
	if aggregateID == "" {
		aggregateID = eventID.String()
	}

	query := `
		INSERT INTO outbox (id, aggregate_type, aggregate_id, category, event_type, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err = s.execer(ctx).ExecContext(ctx, query,
		eventID,
		"order",
		aggregateID,
		string(event.Category),
		event.Action,
		payloadBytes,
		event.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert outbox entry: %w", err)
	}
	return nil
}

// OutboxEntry is an unpublished outbox row.
type OutboxEntry struct {
	ID          uuid.UUID
	AggregateID string
	Category    audit.EventCategory
	EventType   string
	Payload     []byte
	CreatedAt   time.Time
}

// ProcessPending locks up to limit unpublished rows (oldest first), hands them
// to publish and marks them published when publish succeeds. Rows locked by
// another relay are skipped. Delivery is at-least-once: a crash after publish
// and before commit republishes the batch, so consumers dedupe on payload id.
func (s *Store) ProcessPending(ctx context.Context, limit int, publish func(context.Context, []OutboxEntry) error) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin outbox batch: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	rows, err := tx.QueryContext(ctx, `
		SELECT id, aggregate_id, category, event_type, payload, created_at
		FROM outbox
		WHERE published_at IS NULL
		ORDER BY created_at, id
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`, limit)
	if err != nil {
		return 0, fmt.Errorf("select pending outbox: %w", err)
	}
	var entries []OutboxEntry
	for rows.Next() {
		var e OutboxEntry
		var category string
		if err := rows.Scan(&e.ID, &e.AggregateID, &category, &e.EventType, &e.Payload, &e.CreatedAt); err != nil {
			rows.Close()
			return 0, fmt.Errorf("scan outbox entry: %w", err)
		}
		e.Category = audit.EventCategory(category)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return 0, fmt.Errorf("iterate outbox entries: %w", err)
	}
	rows.Close()

	if len(entries) == 0 {
		return 0, nil
	}
	if err := publish(ctx, entries); err != nil {
		return 0, err
	}

	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.ID.String()
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE outbox SET published_at = $2 WHERE id = ANY($1::uuid[])`,
		pq.Array(ids), time.Now().UTC(),
	); err != nil {
		return 0, fmt.Errorf("mark outbox published: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit outbox batch: %w", err)
	}
	return len(entries), nil
}

// CountPending reports the outbox backlog.
func (s *Store) CountPending(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM outbox WHERE published_at IS NULL`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count pending outbox: %w", err)
	}
	return n, nil
}

// ListByAggregate returns payloads for one aggregate, oldest first.
func (s *Store) ListByAggregate(ctx context.Context, aggregateID string) ([]Payload, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT payload FROM outbox WHERE aggregate_id = $1 ORDER BY created_at, id
	`, aggregateID)
	if err != nil {
		return nil, fmt.Errorf("query outbox by aggregate: %w", err)
	}
	defer rows.Close()

	var out []Payload
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan outbox payload: %w", err)
		}
		var p Payload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("decode outbox payload: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outbox payloads: %w", err)
	}
	return out, nil
}
