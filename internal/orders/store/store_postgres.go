package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"boxoffice/internal/orders/models"
	"boxoffice/internal/platform/postgres"
	id "boxoffice/pkg/domain"
	"boxoffice/pkg/platform/sentinel"
	txcontext "boxoffice/pkg/platform/tx"
)

// PostgresStore persists the ledger in the orders and callback_records tables.
// Methods join the transaction carried in ctx when there is one.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) conn(ctx context.Context) txcontext.Executor {
	return txcontext.Conn(ctx, s.db)
}

const orderColumns = `id, buyer_id, category_id, quantity, ticket_ids, status, correlation_token,
	last_receipt_id, last_result_code, created_at, updated_at`

func (s *PostgresStore) CreateOrder(ctx context.Context, order *models.Order) error {
	query := `
		INSERT INTO orders (id, buyer_id, category_id, quantity, ticket_ids, status, correlation_token, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := s.conn(ctx).ExecContext(ctx, query,
		uuid.UUID(order.ID),
		uuid.UUID(order.BuyerID),
		uuid.UUID(order.CategoryID),
		order.Quantity,
		pq.Array(id.TicketIDsToInt64(order.TicketIDs)),
		string(order.Status),
		order.CorrelationToken,
		order.CreatedAt,
		order.UpdatedAt,
	)
	if err != nil {
		if postgres.IsUniqueViolation(err) {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("create order: %w", err)
	}
	return nil
}

// UpdateStatus is a compare-and-swap on the status column.
func (s *PostgresStore) UpdateStatus(ctx context.Context, orderID id.OrderID, expected, next models.Status, at time.Time) (bool, error) {
	result, err := s.conn(ctx).ExecContext(ctx,
		`UPDATE orders SET status = $3, updated_at = $4 WHERE id = $1 AND status = $2`,
		uuid.UUID(orderID), string(expected), string(next), at,
	)
	if err != nil {
		return false, fmt.Errorf("update order status: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update order status rows affected: %w", err)
	}
	if rows == 1 {
		return true, nil
	}
	if _, err := s.GetOrder(ctx, orderID); err != nil {
		return false, err
	}
	return false, nil
}

func (s *PostgresStore) GetOrder(ctx context.Context, orderID id.OrderID) (*models.Order, error) {
	row := s.conn(ctx).QueryRowContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id = $1`, uuid.UUID(orderID))
	order, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("get order: %w", err)
	}
	return order, nil
}

func (s *PostgresStore) FindByCorrelationToken(ctx context.Context, token string) (*models.Order, error) {
	row := s.conn(ctx).QueryRowContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE correlation_token = $1`, token)
	order, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find order by correlation token: %w", err)
	}
	return order, nil
}

// RecordCallback inserts the record unless its key exists. Concurrent
// deliveries of the same key serialize on the primary key: the loser blocks
// until the winner commits and then sees alreadyProcessed.
func (s *PostgresStore) RecordCallback(ctx context.Context, record models.CallbackRecord) (bool, *models.CallbackRecord, error) {
	result, err := s.conn(ctx).ExecContext(ctx, `
		INSERT INTO callback_records (correlation_token, receipt_id, payload_digest, result_code, outcome, processed_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (correlation_token, receipt_id) DO NOTHING
	`, record.CorrelationToken, record.ReceiptID, record.PayloadDigest, record.ResultCode, string(record.Outcome), record.ProcessedAt)
	if err != nil {
		return false, nil, fmt.Errorf("record callback: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, nil, fmt.Errorf("record callback rows affected: %w", err)
	}
	if rows == 1 {
		return false, nil, nil
	}
	prev, err := s.GetCallback(ctx, record.Key())
	if err != nil {
		return false, nil, err
	}
	return true, prev, nil
}

func (s *PostgresStore) SetCallbackOutcome(ctx context.Context, key models.CallbackKey, outcome models.Outcome) error {
	result, err := s.conn(ctx).ExecContext(ctx,
		`UPDATE callback_records SET outcome = $3 WHERE correlation_token = $1 AND receipt_id = $2`,
		key.CorrelationToken, key.ReceiptID, string(outcome),
	)
	if err != nil {
		return fmt.Errorf("set callback outcome: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("set callback outcome rows affected: %w", err)
	}
	if rows == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) GetCallback(ctx context.Context, key models.CallbackKey) (*models.CallbackRecord, error) {
	var (
		r       models.CallbackRecord
		outcome string
	)
	err := s.conn(ctx).QueryRowContext(ctx, `
		SELECT correlation_token, receipt_id, payload_digest, result_code, outcome, processed_at
		FROM callback_records
		WHERE correlation_token = $1 AND receipt_id = $2
	`, key.CorrelationToken, key.ReceiptID).Scan(
		&r.CorrelationToken, &r.ReceiptID, &r.PayloadDigest, &r.ResultCode, &outcome, &r.ProcessedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("get callback: %w", err)
	}
	r.Outcome = models.Outcome(outcome)
	return &r, nil
}

func (s *PostgresStore) SetLastCallback(ctx context.Context, orderID id.OrderID, receiptID string, resultCode int) error {
	result, err := s.conn(ctx).ExecContext(ctx,
		`UPDATE orders SET last_receipt_id = $2, last_result_code = $3 WHERE id = $1`,
		uuid.UUID(orderID), receiptID, resultCode,
	)
	if err != nil {
		return fmt.Errorf("set last callback: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("set last callback rows affected: %w", err)
	}
	if rows == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

// ListExpirable returns reserved orders created before cutoff, oldest first.
func (s *PostgresStore) ListExpirable(ctx context.Context, cutoff time.Time, limit int) ([]*models.Order, error) {
	rows, err := s.conn(ctx).QueryContext(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE status = 'reserved' AND created_at < $1
		ORDER BY created_at, id
		LIMIT $2
	`, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("list expirable orders: %w", err)
	}
	defer rows.Close()

	var out []*models.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan expirable order: %w", err)
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate expirable orders: %w", err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanOrder(row scanner) (*models.Order, error) {
	var (
		o                            models.Order
		orderID, buyerID, categoryID uuid.UUID
		ticketIDs                    pq.Int64Array
		status                       string
		lastReceipt                  sql.NullString
		lastResult                   sql.NullInt64
	)
	if err := row.Scan(&orderID, &buyerID, &categoryID, &o.Quantity, &ticketIDs, &status,
		&o.CorrelationToken, &lastReceipt, &lastResult, &o.CreatedAt, &o.UpdatedAt); err != nil {
		return nil, err
	}
	o.ID = id.OrderID(orderID)
	o.BuyerID = id.BuyerID(buyerID)
	o.CategoryID = id.CategoryID(categoryID)
	o.Status = models.Status(status)
	o.TicketIDs = make([]id.TicketID, len(ticketIDs))
	for i, t := range ticketIDs {
		o.TicketIDs[i] = id.TicketID(t)
	}
	if lastReceipt.Valid {
		o.LastCallback = &models.LastCallback{ReceiptID: lastReceipt.String, ResultCode: int(lastResult.Int64)}
	}
	return &o, nil
}
