package library

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
)

var bookColumns = []string{"id", "title", "author", "isbn", "total_copies", "available_copies"}

var memberColumns = []string{"id", "name", "email", "phone"}

var issueColumns = []string{"id", "book_id", "member_id", "issue_date", "return_date", "returned"}

// ---------------------------------------------------------------------------
// Books
// ---------------------------------------------------------------------------

// AddBook inserts a catalog entry with every copy available.
func (d *Database) AddBook(ctx context.Context, nb NewBook) (Book, error) {
	nb.Title = strings.TrimSpace(nb.Title)
	if nb.Title == "" {
		return Book{}, fmt.Errorf("title cannot be empty")
	}
	if nb.TotalCopies < 0 {
		return Book{}, fmt.Errorf("total copies cannot be negative, got %d", nb.TotalCopies)
	}

	b := Book{
		Title:           nb.Title,
		Author:          strings.TrimSpace(nb.Author),
		ISBN:            strings.TrimSpace(nb.ISBN),
		TotalCopies:     nb.TotalCopies,
		AvailableCopies: nb.TotalCopies,
	}
	err := d.addBookStmt.QueryRowxContext(ctx, b.Title, b.Author, b.ISBN, b.TotalCopies, b.AvailableCopies).Scan(&b.ID)
	if err != nil {
		return Book{}, storeError("add book", err)
	}
	return b, nil
}

// RemoveBook deletes a book. Books with issue history are kept by the store's
// foreign keys and the delete fails with a StatementError.
func (d *Database) RemoveBook(ctx context.Context, id int64) error {
	n, err := execAffected(ctx, d.db, d.sq.Delete("books").Where(squirrel.Eq{"id": id}))
	if err != nil {
		return storeError("remove book", err)
	}
	if n == 0 {
		return notFound("book", id)
	}
	return nil
}

// GetBook fetches a single book.
func (d *Database) GetBook(ctx context.Context, id int64) (*Book, error) {
	var b Book
	err := getRow(ctx, d.db, &b, d.sq.Select(bookColumns...).From("books").Where(squirrel.Eq{"id": id}))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("book", id)
	}
	if err != nil {
		return nil, storeError("get book", err)
	}
	return &b, nil
}

// ListBooks returns every book ordered by id.
func (d *Database) ListBooks(ctx context.Context) ([]*Book, error) {
	books := []*Book{}
	if err := selectRows(ctx, d.db, &books, d.sq.Select(bookColumns...).From("books").OrderBy("id")); err != nil {
		return nil, storeError("list books", err)
	}
	return books, nil
}

// SearchBooks returns books whose title, author or isbn contains term,
// ignoring case. LIKE wildcards in term match literally. Each column gets its
// own bound copy of the pattern.
func (d *Database) SearchBooks(ctx context.Context, term string) ([]*Book, error) {
	term = strings.TrimSpace(term)
	if term == "" {
		return d.ListBooks(ctx)
	}
	pattern := "%" + escapeLike(term) + "%"

	q := d.sq.Select(bookColumns...).
		From("books").
		Where(squirrel.Or{
			squirrel.Expr(`LOWER(title) LIKE LOWER(?) ESCAPE '\'`, pattern),
			squirrel.Expr(`LOWER(author) LIKE LOWER(?) ESCAPE '\'`, pattern),
			squirrel.Expr(`LOWER(isbn) LIKE LOWER(?) ESCAPE '\'`, pattern),
		}).
		OrderBy("id")

	books := []*Book{}
	if err := selectRows(ctx, d.db, &books, q); err != nil {
		return nil, storeError("search books", err)
	}
	return books, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string { return likeEscaper.Replace(s) }

// ---------------------------------------------------------------------------
// Members
// ---------------------------------------------------------------------------

// AddMember registers a member.
func (d *Database) AddMember(ctx context.Context, nm NewMember) (Member, error) {
	m := Member{
		Name:  strings.TrimSpace(nm.Name),
		Email: strings.TrimSpace(nm.Email),
		Phone: strings.TrimSpace(nm.Phone),
	}
	if m.Name == "" {
		return Member{}, fmt.Errorf("name cannot be empty")
	}
	if err := d.addMemberStmt.QueryRowxContext(ctx, m.Name, m.Email, m.Phone).Scan(&m.ID); err != nil {
		return Member{}, storeError("add member", err)
	}
	return m, nil
}

// GetMember fetches a single member.
func (d *Database) GetMember(ctx context.Context, id int64) (*Member, error) {
	var m Member
	err := getRow(ctx, d.db, &m, d.sq.Select(memberColumns...).From("members").Where(squirrel.Eq{"id": id}))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("member", id)
	}
	if err != nil {
		return nil, storeError("get member", err)
	}
	return &m, nil
}

// ListMembers returns all members.
func (d *Database) ListMembers(ctx context.Context) ([]*Member, error) {
	members := []*Member{}
	if err := selectRows(ctx, d.db, &members, d.sq.Select(memberColumns...).From("members").OrderBy("id")); err != nil {
		return nil, storeError("list members", err)
	}
	return members, nil
}

func (d *Database) memberExists(ctx context.Context, q sqlx.QueryerContext, id int64) error {
	var found int64
	err := getRow(ctx, q, &found, d.sq.Select("id").From("members").Where(squirrel.Eq{"id": id}))
	if errors.Is(err, sql.ErrNoRows) {
		return notFound("member", id)
	}
	if err != nil {
		return storeError("check member", err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Issues
// ---------------------------------------------------------------------------

// GetIssue fetches a single issue record.
func (d *Database) GetIssue(ctx context.Context, id int64) (*Issue, error) {
	return d.getIssue(ctx, d.db, id)
}

func (d *Database) getIssue(ctx context.Context, q sqlx.QueryerContext, id int64) (*Issue, error) {
	var is Issue
	err := getRow(ctx, q, &is, d.sq.Select(issueColumns...).From("issues").Where(squirrel.Eq{"id": id}))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("issue", id)
	}
	if err != nil {
		return nil, storeError("get issue", err)
	}
	return &is, nil
}

func (d *Database) insertIssue(ctx context.Context, q sqlx.QueryerContext, is Issue) (int64, error) {
	var id int64
	err := getRow(ctx, q, &id, d.sq.
		Insert("issues").
		Columns("book_id", "member_id", "issue_date", "returned").
		Values(is.BookID, is.MemberID, is.IssueDate, false).
		Suffix("RETURNING id"))
	if err != nil {
		return 0, storeError("record issue", err)
	}
	return id, nil
}

// ListIssues returns issue records with their book title and member name,
// newest first.
func (d *Database) ListIssues(ctx context.Context, f IssueFilter) ([]*IssueDetail, error) {
	q := d.sq.Select(
		"i.id", "i.book_id", "i.member_id", "i.issue_date", "i.return_date", "i.returned",
		"b.title AS book_title", "m.name AS member_name",
	).
		From("issues i").
		Join("books b ON b.id = i.book_id").
		Join("members m ON m.id = i.member_id").
		OrderBy("i.issue_date DESC", "i.id DESC")
	if f.OpenOnly {
		q = q.Where(squirrel.Eq{"i.returned": false})
	}

	issues := []*IssueDetail{}
	if err := selectRows(ctx, d.db, &issues, q); err != nil {
		return nil, storeError("list issues", err)
	}
	return issues, nil
}
