package repository

import (
	"context"
	"fmt"

	"github.com/jmehdipour/order-pipeline/internal/model"
	"github.com/jmoiron/sqlx"
)

// OrderEventsRepository reads and writes the order lifecycle history kept in ClickHouse.
type OrderEventsRepository interface {
	ListByOrder(ctx context.Context, orderID string, limit int) ([]model.OrderEvent, error)
	List(ctx context.Context, typ model.EventType, limit, offset int) ([]model.OrderEvent, error)
	InsertBatch(ctx context.Context, events []model.OrderEvent) error
}

type orderEventsRepository struct {
	ch *sqlx.DB // ClickHouse connection
}

func NewOrderEventsRepository(ch *sqlx.DB) OrderEventsRepository {
	return &orderEventsRepository{ch: ch}
}

func (r *orderEventsRepository) ListByOrder(ctx context.Context, orderID string, limit int) ([]model.OrderEvent, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	rows := []model.OrderEvent{}
	err := r.ch.SelectContext(ctx, &rows, `
		SELECT order_id, type, status, reason, at
		FROM order_events
		WHERE order_id = ?
		ORDER BY at ASC
		LIMIT ?
	`, orderID, limit)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *orderEventsRepository) List(ctx context.Context, typ model.EventType, limit, offset int) ([]model.OrderEvent, error) {
	if limit <= 0 || limit > 1000 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	q := `
		SELECT order_id, type, status, reason, at
		FROM order_events
	`
	args := []any{}

	if typ != "" {
		q += " WHERE type = ?"
		args = append(args, typ.String())
	}

	q += " ORDER BY at DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	rows := []model.OrderEvent{}
	if err := r.ch.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, err
	}
	return rows, nil
}

// InsertBatch writes events in one ClickHouse block: the driver buffers every
// Exec of the prepared statement and sends them on Commit.
func (r *orderEventsRepository) InsertBatch(ctx context.Context, events []model.OrderEvent) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := r.ch.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin batch: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PreparexContext(ctx, `INSERT INTO order_events (order_id, type, status, reason, at)`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}
	defer stmt.Close()

	for _, e := range events {
		if _, err := stmt.ExecContext(ctx, e.OrderID, e.Type.String(), e.Status.String(), e.Reason, e.At); err != nil {
			return fmt.Errorf("append event %s/%s: %w", e.OrderID, e.Type, err)
		}
	}

	return tx.Commit()
}
