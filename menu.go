package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"library-catalog/library"

	"github.com/samber/lo"
)

// errInputClosed ends the session when stdin runs out mid-prompt.
var errInputClosed = errors.New("input closed")

// errInvalidInput aborts the current operation after the operator typed
// something unusable. The message has already been printed.
var errInvalidInput = errors.New("invalid input")

type session struct {
	ctx context.Context
	mgr *library.LibraryManager
	sc  *bufio.Scanner
	out io.Writer
}

func newSession(ctx context.Context, mgr *library.LibraryManager, sc *bufio.Scanner, out io.Writer) *session {
	return &session{ctx: ctx, mgr: mgr, sc: sc, out: out}
}

func (s *session) printMenu() {
	fmt.Fprint(s.out, `
--- Library Management ---
1. Add Book
2. Remove Book
3. List All Books
4. Search Books (title/author/isbn)
5. Register Member
6. List Members
7. Issue Book
8. Return Book
9. List Issued Books
0. Exit
Choose: `)
}

// run drives the menu until the operator exits or input ends. Only a lost
// catalog store is returned as an error; every other failure is reported and
// the loop continues.
func (s *session) run() error {
	handlers := map[int]func() error{
		1: s.handleAddBook,
		2: s.handleRemoveBook,
		3: s.handleListBooks,
		4: s.handleSearchBooks,
		5: s.handleRegisterMember,
		6: s.handleListMembers,
		7: s.handleIssueBook,
		8: s.handleReturnBook,
		9: s.handleListIssued,
	}

	for {
		s.printMenu()
		if !s.sc.Scan() {
			fmt.Fprintln(s.out)
			return s.sc.Err()
		}
		line := strings.TrimSpace(s.sc.Text())
		choice, err := strconv.Atoi(line)
		if err != nil {
			fmt.Fprintln(s.out, "Invalid choice")
			continue
		}
		if choice == 0 {
			fmt.Fprintln(s.out, "Exiting...")
			return nil
		}
		handle, ok := handlers[choice]
		if !ok {
			fmt.Fprintln(s.out, "Invalid choice")
			continue
		}

		err = handle()
		switch {
		case err == nil, errors.Is(err, errInvalidInput):
		case errors.Is(err, errInputClosed):
			fmt.Fprintln(s.out)
			return s.sc.Err()
		case library.IsConnectionFailure(err):
			return err
		default:
			fmt.Fprintln(s.out, describeError(err))
		}
	}
}

// describeError turns an operation failure into the line shown to the operator.
func describeError(err error) string {
	switch {
	case errors.Is(err, library.ErrUnavailable):
		return "No copies available to issue."
	case errors.Is(err, library.ErrAlreadyReturned):
		return "This book is already returned."
	case errors.Is(err, library.ErrNotFound):
		return fmt.Sprintf("Not found: %v", err)
	default:
		return fmt.Sprintf("Error: %v", err)
	}
}

// ------------------ Input helpers ------------------

func (s *session) prompt(label string) (string, error) {
	fmt.Fprint(s.out, label)
	if !s.sc.Scan() {
		return "", errInputClosed
	}
	return strings.TrimSpace(s.sc.Text()), nil
}

func (s *session) promptID(label, what string) (int64, error) {
	raw, err := s.prompt(label)
	if err != nil {
		return 0, err
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		fmt.Fprintf(s.out, "Invalid %s: %s\n", what, raw)
		return 0, errInvalidInput
	}
	return id, nil
}

// ------------------ Books ------------------

func (s *session) handleAddBook() error {
	title, err := s.prompt("Title: ")
	if err != nil {
		return err
	}
	author, err := s.prompt("Author: ")
	if err != nil {
		return err
	}
	isbn, err := s.prompt("ISBN: ")
	if err != nil {
		return err
	}
	rawTotal, err := s.prompt("Total copies: ")
	if err != nil {
		return err
	}
	total, err := strconv.Atoi(rawTotal)
	if err != nil || total < 0 {
		fmt.Fprintf(s.out, "Invalid number of copies: %s\n", rawTotal)
		return errInvalidInput
	}

	b, err := s.mgr.AddBook(s.ctx, library.NewBook{Title: title, Author: author, ISBN: isbn, TotalCopies: total})
	if err != nil {
		return fmt.Errorf("failed to add book: %w", err)
	}
	fmt.Fprintf(s.out, "Book added successfully. Book ID: %d\n", b.ID)
	return nil
}

func (s *session) handleRemoveBook() error {
	id, err := s.promptID("Book ID to remove: ", "book ID")
	if err != nil {
		return err
	}
	if err := s.mgr.RemoveBook(s.ctx, id); err != nil {
		return fmt.Errorf("failed to remove book: %w", err)
	}
	fmt.Fprintln(s.out, "Book removed.")
	return nil
}

func (s *session) printBooks(books []*library.Book) {
	if len(books) == 0 {
		fmt.Fprintln(s.out, "No books found.")
		return
	}
	fmt.Fprintf(s.out, "%-5s %-30s %-20s %-18s %-8s %-10s\n", "ID", "Title", "Author", "ISBN", "Total", "Available")
	fmt.Fprintln(s.out, strings.Repeat("-", 95))
	for _, b := range books {
		fmt.Fprintln(s.out, library.PrettyBook(b))
	}
}

func (s *session) handleListBooks() error {
	books, err := s.mgr.ListBooks(s.ctx)
	if err != nil {
		return err
	}
	s.printBooks(books)
	return nil
}

func (s *session) handleSearchBooks() error {
	term, err := s.prompt("Enter search term (title/author/isbn): ")
	if err != nil {
		return err
	}
	books, err := s.mgr.SearchBooks(s.ctx, term)
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}
	if len(books) == 0 {
		fmt.Fprintf(s.out, "No books found matching '%s'.\n", term)
		return nil
	}
	fmt.Fprintf(s.out, "Found %d book(s) matching '%s':\n", len(books), term)
	s.printBooks(books)
	return nil
}

// ------------------ Members ------------------

func (s *session) handleRegisterMember() error {
	name, err := s.prompt("Name: ")
	if err != nil {
		return err
	}
	email, err := s.prompt("Email: ")
	if err != nil {
		return err
	}
	phone, err := s.prompt("Phone: ")
	if err != nil {
		return err
	}

	m, err := s.mgr.AddMember(s.ctx, library.NewMember{Name: name, Email: email, Phone: phone})
	if err != nil {
		return fmt.Errorf("failed to register member: %w", err)
	}
	fmt.Fprintf(s.out, "Member registered successfully. Member ID: %d\n", m.ID)
	return nil
}

func (s *session) handleListMembers() error {
	members, err := s.mgr.ListMembers(s.ctx)
	if err != nil {
		return err
	}
	if len(members) == 0 {
		fmt.Fprintln(s.out, "No members found.")
		return nil
	}
	fmt.Fprintf(s.out, "%-5s %-25s %-30s %-15s\n", "ID", "Name", "Email", "Phone")
	fmt.Fprintln(s.out, strings.Repeat("-", 75))
	for _, m := range members {
		fmt.Fprintf(s.out, "%-5d %-25s %-30s %-15s\n",
			m.ID, library.Truncate(m.Name, 25), library.Truncate(m.Email, 30), library.Truncate(m.Phone, 15))
	}
	return nil
}

// ------------------ Circulation ------------------

func (s *session) handleIssueBook() error {
	bookID, err := s.promptID("Book ID: ", "book ID")
	if err != nil {
		return err
	}
	memberID, err := s.promptID("Member ID: ", "member ID")
	if err != nil {
		return err
	}

	is, err := s.mgr.IssueBook(s.ctx, bookID, memberID)
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "Book issued successfully. Issue ID: %d (issued %s)\n", is.ID, is.IssueDate.Format(library.DateLayout))
	return nil
}

func (s *session) handleReturnBook() error {
	issueID, err := s.promptID("Issue ID to return: ", "issue ID")
	if err != nil {
		return err
	}

	is, book, err := s.mgr.ReturnBookWithDetails(s.ctx, issueID)
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "Book returned successfully on %s.\n", is.ReturnDate.Format(library.DateLayout))
	if book != nil {
		fmt.Fprintf(s.out, "'%s' now has %d of %d copies available.\n", book.Title, book.AvailableCopies, book.TotalCopies)
	}
	return nil
}

func (s *session) handleListIssued() error {
	issues, err := s.mgr.ListIssues(s.ctx, library.IssueFilter{})
	if err != nil {
		return err
	}
	if len(issues) == 0 {
		fmt.Fprintln(s.out, "No issued records.")
		return nil
	}
	fmt.Fprintf(s.out, "%-5s %-30s %-20s %-12s %-12s %-8s\n", "ID", "Book", "Member", "Issued", "Returned", "Status")
	fmt.Fprintln(s.out, strings.Repeat("-", 95))
	for _, row := range formatIssueRows(issues) {
		fmt.Fprintln(s.out, row)
	}
	return nil
}

func formatIssueRows(issues []*library.IssueDetail) []string {
	return lo.Map(issues, func(is *library.IssueDetail, _ int) string {
		returned := "N/A"
		if is.ReturnDate != nil {
			returned = is.ReturnDate.Format(library.DateLayout)
		}
		return fmt.Sprintf("%-5d %-30s %-20s %-12s %-12s %-8s",
			is.ID,
			library.Truncate(is.BookTitle, 30),
			library.Truncate(is.MemberName, 20),
			is.IssueDate.Format(library.DateLayout),
			returned,
			lo.Ternary(is.Returned, "Yes", "No"))
	})
}
