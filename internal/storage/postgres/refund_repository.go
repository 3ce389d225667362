package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/vladislavdragonenkov/refunds/internal/domain"
)

type refundRepository struct {
	db *sql.DB
}

// NewRefundRepository создаёт PostgreSQL-реализацию RefundRepository.
func NewRefundRepository(store *Store) domain.RefundRepository {
	return &refundRepository{db: store.DB()}
}

func (r *refundRepository) Get(id string) (domain.Refund, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	var refund domain.Refund
	err := r.db.QueryRowContext(ctx, `
		SELECT id, order_id, amount_in_cents, created_at, updated_at
		FROM refunds
		WHERE id = $1
	`, id).Scan(&refund.ID, &refund.OrderID, &refund.AmountInCents, &refund.CreatedAt, &refund.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Refund{}, domain.ErrRefundNotFound
		}
		return domain.Refund{}, fmt.Errorf("select refund: %w", err)
	}

	return refund, nil
}

func (r *refundRepository) ListByOrder(orderID string) ([]domain.Refund, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	var id string
	err := r.db.QueryRowContext(ctx, `SELECT id FROM orders WHERE id = $1`, orderID).Scan(&id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrOrderNotFound
		}
		return nil, fmt.Errorf("check order exists: %w", err)
	}

	return loadRefunds(ctx, r.db, orderID)
}

// querier покрывает *sql.DB и *sql.Tx.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func loadRefunds(ctx context.Context, q querier, orderID string) ([]domain.Refund, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, order_id, amount_in_cents, created_at, updated_at
		FROM refunds
		WHERE order_id = $1
		ORDER BY created_at ASC, id ASC
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("load refunds: %w", err)
	}
	defer rows.Close()

	refunds := make([]domain.Refund, 0)
	for rows.Next() {
		var refund domain.Refund
		if err := rows.Scan(&refund.ID, &refund.OrderID, &refund.AmountInCents, &refund.CreatedAt, &refund.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan refund: %w", err)
		}
		refunds = append(refunds, refund)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate refunds: %w", err)
	}

	return refunds, nil
}

var _ domain.RefundRepository = (*refundRepository)(nil)
