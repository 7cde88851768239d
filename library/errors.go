package library

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrNotFound is returned when a referenced book, member or issue does not exist.
	ErrNotFound = errors.New("not found")
	// ErrUnavailable is returned when a book has no copies left to issue.
	ErrUnavailable = errors.New("no copies available to issue")
	// ErrAlreadyReturned is returned when an issue has already been closed.
	ErrAlreadyReturned = errors.New("issue already returned")
	// ErrConnection marks a lost or unreachable catalog store. Callers treat it as fatal.
	ErrConnection = errors.New("catalog store connection failure")
)

// StatementError reports a statement the catalog store rejected. The current
// operation is aborted but the connection remains usable.
type StatementError struct {
	Op  string
	Err error
}

func (e *StatementError) Error() string { return e.Op + ": " + e.Err.Error() }

func (e *StatementError) Unwrap() error { return e.Err }

func notFound(kind string, id int64) error {
	return fmt.Errorf("%s %d: %w", kind, id, ErrNotFound)
}

// storeError classifies a driver error raised while running op.
func storeError(op string, err error) error {
	if err == nil {
		return nil
	}
	if IsConnectionFailure(err) {
		return fmt.Errorf("%s: %w: %w", op, ErrConnection, err)
	}
	return &StatementError{Op: op, Err: err}
}

// IsConnectionFailure reports whether err means the store can no longer be reached.
func IsConnectionFailure(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrConnection) || errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) {
		return true
	}
	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return pgconn.Timeout(err) || errors.Is(err, context.DeadlineExceeded)
}
