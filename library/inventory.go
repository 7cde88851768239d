package library

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
)

// Inventory reads and adjusts book availability counts. Each call runs on the
// handle it is given, so the circulation engine can pass its open transaction.
type Inventory struct {
	sq squirrel.StatementBuilderType
}

// Inventory returns the availability accessor for this store.
func (d *Database) Inventory() Inventory { return Inventory{sq: d.sq} }

// Available returns the number of copies of bookID on the shelf.
func (inv Inventory) Available(ctx context.Context, q sqlx.QueryerContext, bookID int64) (int, error) {
	var available int
	err := getRow(ctx, q, &available, inv.sq.
		Select("available_copies").
		From("books").
		Where(squirrel.Eq{"id": bookID}))
	if errors.Is(err, sql.ErrNoRows) {
		return 0, notFound("book", bookID)
	}
	if err != nil {
		return 0, storeError("read availability", err)
	}
	return available, nil
}

// Adjust moves the availability of bookID by delta, which must be +1 or -1.
// The update is conditional on the result staying within [0, total_copies],
// so a stale read can never push the count out of range: a decrement with
// nothing on the shelf fails with ErrUnavailable.
func (inv Inventory) Adjust(ctx context.Context, q sqlx.ExtContext, bookID int64, delta int) error {
	upd := inv.sq.Update("books").Where(squirrel.Eq{"id": bookID})
	switch delta {
	case -1:
		upd = upd.Set("available_copies", squirrel.Expr("available_copies - 1")).
			Where("available_copies > 0")
	case 1:
		upd = upd.Set("available_copies", squirrel.Expr("available_copies + 1")).
			Where("available_copies < total_copies")
	default:
		return fmt.Errorf("adjust availability of book %d: delta must be +1 or -1, got %d", bookID, delta)
	}

	n, err := execAffected(ctx, q, upd)
	if err != nil {
		return storeError("adjust availability", err)
	}
	if n == 1 {
		return nil
	}

	// Nothing matched: either the book is gone or the guard held.
	if _, err := inv.Available(ctx, q, bookID); err != nil {
		return err
	}
	if delta < 0 {
		return fmt.Errorf("book %d: %w", bookID, ErrUnavailable)
	}
	return &StatementError{
		Op:  "adjust availability",
		Err: fmt.Errorf("book %d already has every copy available", bookID),
	}
}
