package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"boxoffice/internal/inventory/models"
	id "boxoffice/pkg/domain"
	"boxoffice/pkg/platform/sentinel"
	txcontext "boxoffice/pkg/platform/tx"
)

// PostgresStore persists tickets in the ticket_instances table. Methods join
// the transaction carried in ctx when there is one.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) conn(ctx context.Context) txcontext.Executor {
	return txcontext.Conn(ctx, s.db)
}

func (s *PostgresStore) CountAvailable(ctx context.Context, categoryID id.CategoryID) (int, error) {
	var n int
	err := s.conn(ctx).QueryRowContext(ctx,
		`SELECT COUNT(*) FROM ticket_instances WHERE category_id = $1 AND status = 'available'`,
		uuid.UUID(categoryID),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count available tickets: %w", err)
	}
	return n, nil
}

// Claim reserves the quantity lowest-id available tickets in one statement.
// Rows locked by concurrent claims are skipped rather than waited on. When
// fewer than quantity rows were claimed the partial claim is undone and
// ErrInsufficientInventory is returned.
func (s *PostgresStore) Claim(ctx context.Context, categoryID id.CategoryID, quantity int, orderID id.OrderID, at time.Time) ([]id.TicketID, error) {
	query := `
		UPDATE ticket_instances t
		SET status = 'reserved', order_id = $3, reserved_at = $4
		FROM (
			SELECT id FROM ticket_instances
			WHERE category_id = $1 AND status = 'available'
			ORDER BY id
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		) candidate
		WHERE t.id = candidate.id
		RETURNING t.id
	`
	claimed, err := s.queryIDs(ctx, query, uuid.UUID(categoryID), quantity, uuid.UUID(orderID), at)
	if err != nil {
		return nil, fmt.Errorf("claim tickets: %w", err)
	}
	if len(claimed) < quantity {
		if err := s.unclaim(ctx, claimed); err != nil {
			return nil, err
		}
		return nil, sentinel.ErrInsufficientInventory
	}
	sortIDs(claimed)
	return claimed, nil
}

// ClaimSpecific reserves exactly ticketIDs if all of them are available.
func (s *PostgresStore) ClaimSpecific(ctx context.Context, ticketIDs []id.TicketID, orderID id.OrderID, at time.Time) (bool, error) {
	if len(ticketIDs) == 0 {
		return false, nil
	}
	query := `
		UPDATE ticket_instances
		SET status = 'reserved', order_id = $2, reserved_at = $3
		WHERE id = ANY($1) AND status = 'available'
		RETURNING id
	`
	claimed, err := s.queryIDs(ctx, query, pq.Array(id.TicketIDsToInt64(ticketIDs)), uuid.UUID(orderID), at)
	if err != nil {
		return false, fmt.Errorf("claim specific tickets: %w", err)
	}
	if len(claimed) != len(ticketIDs) {
		if err := s.unclaim(ctx, claimed); err != nil {
			return false, err
		}
		return false, nil
	}
	return true, nil
}

func (s *PostgresStore) Release(ctx context.Context, ticketIDs []id.TicketID) error {
	query := `
		UPDATE ticket_instances
		SET status = 'available', order_id = NULL, reserved_at = NULL
		WHERE id = ANY($1) AND status = 'reserved'
	`
	return s.transition(ctx, "release tickets", query, ticketIDs)
}

func (s *PostgresStore) MarkSold(ctx context.Context, ticketIDs []id.TicketID) error {
	query := `
		UPDATE ticket_instances
		SET status = 'sold'
		WHERE id = ANY($1) AND status = 'reserved'
	`
	return s.transition(ctx, "mark tickets sold", query, ticketIDs)
}

func (s *PostgresStore) transition(ctx context.Context, op, query string, ticketIDs []id.TicketID) error {
	if len(ticketIDs) == 0 {
		return nil
	}
	result, err := s.conn(ctx).ExecContext(ctx, query, pq.Array(id.TicketIDsToInt64(ticketIDs)))
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows affected: %w", op, err)
	}
	if int(rows) != len(ticketIDs) {
		return fmt.Errorf("%s: %d of %d tickets not reserved: %w", op, len(ticketIDs)-int(rows), len(ticketIDs), sentinel.ErrInvalidState)
	}
	return nil
}

// Stock creates capacity available tickets and returns their ids ascending.
func (s *PostgresStore) Stock(ctx context.Context, categoryID id.CategoryID, capacity int) ([]id.TicketID, error) {
	if capacity <= 0 {
		return nil, nil
	}
	query := `
		INSERT INTO ticket_instances (category_id, status)
		SELECT $1::uuid, 'available' FROM generate_series(1, $2::int)
		RETURNING id
	`
	created, err := s.queryIDs(ctx, query, uuid.UUID(categoryID), capacity)
	if err != nil {
		return nil, fmt.Errorf("stock tickets: %w", err)
	}
	sortIDs(created)
	return created, nil
}

func (s *PostgresStore) ListByOrder(ctx context.Context, orderID id.OrderID) ([]*models.Ticket, error) {
	rows, err := s.conn(ctx).QueryContext(ctx, `
		SELECT id, category_id, status, order_id, reserved_at
		FROM ticket_instances
		WHERE order_id = $1
		ORDER BY id
	`, uuid.UUID(orderID))
	if err != nil {
		return nil, fmt.Errorf("list tickets by order: %w", err)
	}
	defer rows.Close()

	var out []*models.Ticket
	for rows.Next() {
		var (
			t          models.Ticket
			ticketID   int64
			categoryID uuid.UUID
			status     string
			owner      uuid.NullUUID
			reservedAt sql.NullTime
		)
		if err := rows.Scan(&ticketID, &categoryID, &status, &owner, &reservedAt); err != nil {
			return nil, fmt.Errorf("scan ticket: %w", err)
		}
		t.ID = id.TicketID(ticketID)
		t.CategoryID = id.CategoryID(categoryID)
		t.Status = models.TicketStatus(status)
		if owner.Valid {
			o := id.OrderID(owner.UUID)
			t.OrderID = &o
		}
		if reservedAt.Valid {
			r := reservedAt.Time
			t.ReservedAt = &r
		}
		out = append(out, &t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tickets: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) unclaim(ctx context.Context, ticketIDs []id.TicketID) error {
	if len(ticketIDs) == 0 {
		return nil
	}
	_, err := s.conn(ctx).ExecContext(ctx, `
		UPDATE ticket_instances
		SET status = 'available', order_id = NULL, reserved_at = NULL
		WHERE id = ANY($1)
	`, pq.Array(id.TicketIDsToInt64(ticketIDs)))
	if err != nil {
		return fmt.Errorf("revert partial claim: %w", err)
	}
	return nil
}

func (s *PostgresStore) queryIDs(ctx context.Context, query string, args ...any) ([]id.TicketID, error) {
	rows, err := s.conn(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []id.TicketID
	for rows.Next() {
		var n int64
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		out = append(out, id.TicketID(n))
	}
	return out, rows.Err()
}
