package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmehdipour/order-pipeline/internal/model"
	"github.com/jmehdipour/order-pipeline/internal/util"
	"github.com/jmoiron/sqlx"
)

var (
	ErrNotFound          = errors.New("order not found")
	ErrInvalidTransition = errors.New("invalid status transition")
)

// OrdersRepository is the order record store. It is the single source of truth for
// order status.
type OrdersRepository interface {
	Create(ctx context.Context, item string, quantity int) (*model.Order, error)
	GetByID(ctx context.Context, id string) (*model.Order, error)
	ListNewestFirst(ctx context.Context, limit, offset int) ([]model.Order, error)
	DeleteByID(ctx context.Context, id string) (bool, error)
	// UpdateStatus moves a Pending order to status. Any transition out of a
	// terminal state fails with ErrInvalidTransition.
	UpdateStatus(ctx context.Context, id string, status model.OrderStatus) (*model.Order, error)

	// ListStalePending returns Pending orders not touched since before, oldest first.
	ListStalePending(ctx context.Context, before time.Time, limit int) ([]model.Order, error)
	// Touch bumps updated_at of a Pending order.
	Touch(ctx context.Context, id string) error
	Ping(ctx context.Context) error
}

const orderColumns = `id, item, quantity, status, created_at, updated_at`

type OrdersRepositoryImpl struct {
	db *sqlx.DB
}

func NewOrdersRepository(db *sqlx.DB) *OrdersRepositoryImpl {
	return &OrdersRepositoryImpl{db: db}
}

var _ OrdersRepository = (*OrdersRepositoryImpl)(nil)

func (r *OrdersRepositoryImpl) withTx(ctx context.Context, fn func(*sqlx.Tx) error) error {
	t, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = t.Rollback() }()
	if err := fn(t); err != nil {
		return err
	}
	return t.Commit()
}

// Create inserts a Pending order with a fresh ULID and returns the stored row,
// including the timestamps assigned by the database.
func (r *OrdersRepositoryImpl) Create(ctx context.Context, item string, quantity int) (*model.Order, error) {
	item = strings.TrimSpace(item)
	if err := model.ValidateOrder(item, quantity); err != nil {
		return nil, err
	}

	const q = `
		INSERT INTO orders
		    (id, item, quantity, status, created_at, updated_at)
		VALUES
		    (?,  ?,    ?,        'Pending', NOW(6), NOW(6))
	`
	id := util.New()
	var o model.Order
	err := r.withTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, q, id, item, quantity); err != nil {
			return fmt.Errorf("insert order: %w", err)
		}
		return tx.GetContext(ctx, &o, `SELECT `+orderColumns+` FROM orders WHERE id = ?`, id)
	})
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (r *OrdersRepositoryImpl) GetByID(ctx context.Context, id string) (*model.Order, error) {
	var o model.Order
	err := r.db.GetContext(ctx, &o, `SELECT `+orderColumns+` FROM orders WHERE id = ? LIMIT 1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &o, nil
}

// ListNewestFirst orders by created_at, then by id: ULIDs break timestamp ties.
func (r *OrdersRepositoryImpl) ListNewestFirst(ctx context.Context, limit, offset int) ([]model.Order, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	rows := []model.Order{}
	err := r.db.SelectContext(ctx, &rows, `
		SELECT `+orderColumns+`
		  FROM orders
		 ORDER BY created_at DESC, id DESC
		 LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *OrdersRepositoryImpl) DeleteByID(ctx context.Context, id string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM orders WHERE id = ?`, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// UpdateStatus locks the row so that concurrent settlements (duplicate deliveries,
// reconciler re-publishes) observe each other and only the first one wins.
func (r *OrdersRepositoryImpl) UpdateStatus(ctx context.Context, id string, status model.OrderStatus) (*model.Order, error) {
	if !status.Terminal() {
		return nil, fmt.Errorf("%w: target %q is not terminal", ErrInvalidTransition, status)
	}

	var o model.Order
	err := r.withTx(ctx, func(tx *sqlx.Tx) error {
		var cur model.Order
		err := tx.GetContext(ctx, &cur, `SELECT `+orderColumns+` FROM orders WHERE id = ? FOR UPDATE`, id)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		if cur.Status != model.StatusPending {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, cur.Status, status)
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE orders SET status = ?, updated_at = NOW(6) WHERE id = ?`,
			status.String(), id,
		); err != nil {
			return fmt.Errorf("update status: %w", err)
		}
		return tx.GetContext(ctx, &o, `SELECT `+orderColumns+` FROM orders WHERE id = ?`, id)
	})
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (r *OrdersRepositoryImpl) ListStalePending(ctx context.Context, before time.Time, limit int) ([]model.Order, error) {
	if limit <= 0 {
		limit = 100
	}
	rows := []model.Order{}
	err := r.db.SelectContext(ctx, &rows, `
		SELECT `+orderColumns+`
		  FROM orders
		 WHERE status = 'Pending' AND updated_at < ?
		 ORDER BY updated_at ASC, id ASC
		 LIMIT ?
	`, before, limit)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *OrdersRepositoryImpl) Touch(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE orders SET updated_at = NOW(6) WHERE id = ? AND status = 'Pending'`, id)
	return err
}

func (r *OrdersRepositoryImpl) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}
