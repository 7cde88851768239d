package library

import (
	"context"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
)

// Circulation issues and returns book copies. Both operations write an issue
// record and move the book's availability in a single transaction.
type Circulation struct {
	db  *Database
	inv Inventory
	now func() time.Time
}

// CirculationOption configures a Circulation.
type CirculationOption func(*Circulation)

// WithClock replaces time.Now as the source of issue and return dates.
func WithClock(now func() time.Time) CirculationOption {
	return func(c *Circulation) { c.now = now }
}

// NewCirculation returns a circulation engine over db.
func NewCirculation(db *Database, opts ...CirculationOption) *Circulation {
	c := &Circulation{db: db, inv: db.Inventory(), now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// today is the current calendar date as UTC midnight, the form dates are stored in.
func (c *Circulation) today() time.Time {
	y, m, d := c.now().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Issue lends one copy of bookID to memberID. It fails with ErrNotFound when
// either does not exist and with ErrUnavailable when no copy is on the shelf,
// leaving the store untouched in both cases.
func (c *Circulation) Issue(ctx context.Context, bookID, memberID int64) (Issue, error) {
	var issue Issue
	err := c.db.withTx(ctx, "issue book", func(tx *sqlx.Tx) error {
		available, err := c.inv.Available(ctx, tx, bookID)
		if err != nil {
			return err
		}
		if available <= 0 {
			return fmt.Errorf("book %d: %w", bookID, ErrUnavailable)
		}
		if err := c.db.memberExists(ctx, tx, memberID); err != nil {
			return err
		}

		// The guarded decrement, not the read above, decides who gets the last copy.
		if err := c.inv.Adjust(ctx, tx, bookID, -1); err != nil {
			return err
		}

		issue = Issue{BookID: bookID, MemberID: memberID, IssueDate: c.today()}
		issue.ID, err = c.db.insertIssue(ctx, tx, issue)
		return err
	})
	if err != nil {
		return Issue{}, err
	}
	return issue, nil
}

// Return closes issueID and puts the copy back on the shelf. It fails with
// ErrNotFound for an unknown issue and ErrAlreadyReturned for a closed one.
func (c *Circulation) Return(ctx context.Context, issueID int64) (Issue, error) {
	var issue Issue
	err := c.db.withTx(ctx, "return book", func(tx *sqlx.Tx) error {
		current, err := c.db.getIssue(ctx, tx, issueID)
		if err != nil {
			return err
		}
		if current.Returned {
			return fmt.Errorf("issue %d: %w", issueID, ErrAlreadyReturned)
		}

		returnDate := c.today()
		n, err := execAffected(ctx, tx, c.db.sq.
			Update("issues").
			Set("returned", true).
			Set("return_date", returnDate).
			Where(squirrel.Eq{"id": issueID, "returned": false}))
		if err != nil {
			return storeError("mark returned", err)
		}
		if n == 0 {
			return fmt.Errorf("issue %d: %w", issueID, ErrAlreadyReturned)
		}

		if err := c.inv.Adjust(ctx, tx, current.BookID, 1); err != nil {
			return err
		}

		issue = *current
		issue.Returned = true
		issue.ReturnDate = &returnDate
		return nil
	})
	if err != nil {
		return Issue{}, err
	}
	return issue, nil
}
