package library

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStoreErrorClassification(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		fatal bool
	}{
		{"bad conn", driver.ErrBadConn, true},
		{"conn done", fmt.Errorf("exec: %w", sql.ErrConnDone), true},
		{"dial", &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}, true},
		{"deadline", context.DeadlineExceeded, true},
		{"constraint", errors.New("FOREIGN KEY constraint failed"), false},
		{"syntax", errors.New(`syntax error at or near "SELEC"`), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := storeError("list books", tt.err)
			assert.ErrorIs(t, err, tt.err)
			assert.Equal(t, tt.fatal, IsConnectionFailure(err))
			assert.Equal(t, tt.fatal, errors.Is(err, ErrConnection))

			var stmtErr *StatementError
			assert.Equal(t, !tt.fatal, errors.As(err, &stmtErr))
			assert.Contains(t, err.Error(), "list books")
		})
	}
}

func TestStoreErrorNil(t *testing.T) {
	assert.NoError(t, storeError("noop", nil))
	assert.False(t, IsConnectionFailure(nil))
}

func TestNotFoundNamesEntity(t *testing.T) {
	err := notFound("issue", 42)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, "issue 42: not found", err.Error())
}
