package library

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// LibraryManager is a thin façade over the Database and the circulation
// engine, keeping CLI code simple.
type LibraryManager struct {
	db   *Database
	circ *Circulation
	log  *zap.Logger
}

// NewLibraryManager wires a manager around an open store handle.
func NewLibraryManager(db *Database, logger *zap.Logger, opts ...CirculationOption) *LibraryManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LibraryManager{db: db, circ: NewCirculation(db, opts...), log: logger}
}

// Close closes the underlying database.
func (lm *LibraryManager) Close() error { return lm.db.Close() }

// logFailure records store level failures. Operator mistakes (unknown ids,
// nothing to issue) are reported by the caller and only logged at debug.
func (lm *LibraryManager) logFailure(op string, err error, fields ...zap.Field) {
	fields = append(fields, zap.Error(err))
	switch {
	case errors.Is(err, ErrConnection):
		lm.log.Error(op+" lost the catalog store", fields...)
	case errors.As(err, new(*StatementError)):
		lm.log.Error(op+" rejected by the catalog store", fields...)
	default:
		lm.log.Debug(op+" refused", fields...)
	}
}

// ------------------ Book helpers ------------------

func (lm *LibraryManager) AddBook(ctx context.Context, nb NewBook) (Book, error) {
	b, err := lm.db.AddBook(ctx, nb)
	if err != nil {
		lm.logFailure("add book", err, zap.String("title", nb.Title))
		return Book{}, err
	}
	lm.log.Info("book added", zap.Int64("book_id", b.ID), zap.Int("total_copies", b.TotalCopies))
	return b, nil
}

func (lm *LibraryManager) RemoveBook(ctx context.Context, id int64) error {
	if err := lm.db.RemoveBook(ctx, id); err != nil {
		lm.logFailure("remove book", err, zap.Int64("book_id", id))
		return err
	}
	lm.log.Info("book removed", zap.Int64("book_id", id))
	return nil
}

func (lm *LibraryManager) GetBook(ctx context.Context, id int64) (*Book, error) {
	return lm.db.GetBook(ctx, id)
}

func (lm *LibraryManager) ListBooks(ctx context.Context) ([]*Book, error) { return lm.db.ListBooks(ctx) }

func (lm *LibraryManager) SearchBooks(ctx context.Context, term string) ([]*Book, error) {
	return lm.db.SearchBooks(ctx, term)
}

// ------------------ Member helpers ------------------

func (lm *LibraryManager) AddMember(ctx context.Context, nm NewMember) (Member, error) {
	m, err := lm.db.AddMember(ctx, nm)
	if err != nil {
		lm.logFailure("add member", err)
		return Member{}, err
	}
	lm.log.Info("member registered", zap.Int64("member_id", m.ID))
	return m, nil
}

func (lm *LibraryManager) GetMember(ctx context.Context, id int64) (*Member, error) {
	return lm.db.GetMember(ctx, id)
}

func (lm *LibraryManager) ListMembers(ctx context.Context) ([]*Member, error) {
	return lm.db.ListMembers(ctx)
}

// ------------------ Circulation ------------------

// IssueBook lends a copy of bookID to memberID.
func (lm *LibraryManager) IssueBook(ctx context.Context, bookID, memberID int64) (Issue, error) {
	is, err := lm.circ.Issue(ctx, bookID, memberID)
	if err != nil {
		lm.logFailure("issue book", err, zap.Int64("book_id", bookID), zap.Int64("member_id", memberID))
		return Issue{}, err
	}
	lm.log.Info("book issued",
		zap.Int64("issue_id", is.ID), zap.Int64("book_id", bookID), zap.Int64("member_id", memberID))
	return is, nil
}

// ReturnBook closes an issue and returns the updated record.
func (lm *LibraryManager) ReturnBook(ctx context.Context, issueID int64) (Issue, error) {
	is, err := lm.circ.Return(ctx, issueID)
	if err != nil {
		lm.logFailure("return book", err, zap.Int64("issue_id", issueID))
		return Issue{}, err
	}
	lm.log.Info("book returned", zap.Int64("issue_id", issueID), zap.Int64("book_id", is.BookID))
	return is, nil
}

// ReturnBookWithDetails returns the book and also yields the book record after
// the return, so the caller can show the restored availability.
func (lm *LibraryManager) ReturnBookWithDetails(ctx context.Context, issueID int64) (Issue, *Book, error) {
	is, err := lm.ReturnBook(ctx, issueID)
	if err != nil {
		return Issue{}, nil, err
	}
	return is, lm.bookAfterReturn(ctx, is.BookID), nil
}

// bookAfterReturn re-reads a book once its return has committed. A failure
// here does not undo the return, so it is logged and the book left out.
func (lm *LibraryManager) bookAfterReturn(ctx context.Context, bookID int64) *Book {
	b, err := lm.db.GetBook(ctx, bookID)
	if err != nil {
		lm.logFailure("read returned book", err, zap.Int64("book_id", bookID))
		return nil
	}
	return b
}

func (lm *LibraryManager) GetIssue(ctx context.Context, id int64) (*Issue, error) {
	return lm.db.GetIssue(ctx, id)
}

func (lm *LibraryManager) ListIssues(ctx context.Context, f IssueFilter) ([]*IssueDetail, error) {
	return lm.db.ListIssues(ctx, f)
}

// ------------------ Utilities ------------------

// PrettyBook formats a book for lists.
func PrettyBook(b *Book) string {
	return fmt.Sprintf("%-5d %-30s %-20s %-18s %-8d %-10d",
		b.ID, Truncate(b.Title, 30), Truncate(b.Author, 20), Truncate(b.ISBN, 18), b.TotalCopies, b.AvailableCopies)
}

// Truncate shortens s to maxLen runes, marking the cut with "...".
func Truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return string(r[:maxLen])
	}
	return string(r[:maxLen-3]) + "..."
}
