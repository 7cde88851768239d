package library

import "time"

// DateLayout is how issue and return dates are shown to the operator.
const DateLayout = "2006-01-02"

// Book represents a catalog title and how many of its copies are on the shelf.
// AvailableCopies always stays within [0, TotalCopies].
type Book struct {
	ID              int64  `db:"id" json:"id"`
	Title           string `db:"title" json:"title"`
	Author          string `db:"author" json:"author"`
	ISBN            string `db:"isbn" json:"isbn"`
	TotalCopies     int    `db:"total_copies" json:"total_copies"`
	AvailableCopies int    `db:"available_copies" json:"available_copies"`
}

// OnLoan is the number of copies currently issued.
func (b *Book) OnLoan() int { return b.TotalCopies - b.AvailableCopies }

// NewBook holds the operator supplied fields for a catalog entry.
type NewBook struct {
	Title       string
	Author      string
	ISBN        string
	TotalCopies int
}

// Member represents a registered library member.
type Member struct {
	ID    int64  `db:"id" json:"id"`
	Name  string `db:"name" json:"name"`
	Email string `db:"email" json:"email"`
	Phone string `db:"phone" json:"phone"`
}

// NewMember holds the operator supplied fields for a registration.
type NewMember struct {
	Name  string
	Email string
	Phone string
}

// Issue is one loan of one book copy to one member. ReturnDate is nil until
// Returned is set.
type Issue struct {
	ID         int64      `db:"id" json:"id"`
	BookID     int64      `db:"book_id" json:"book_id"`
	MemberID   int64      `db:"member_id" json:"member_id"`
	IssueDate  time.Time  `db:"issue_date" json:"issue_date"`
	ReturnDate *time.Time `db:"return_date" json:"return_date,omitempty"`
	Returned   bool       `db:"returned" json:"returned"`
}

// IssueDetail is an Issue joined with the book title and member name for listings.
type IssueDetail struct {
	Issue
	BookTitle  string `db:"book_title" json:"book_title"`
	MemberName string `db:"member_name" json:"member_name"`
}

// IssueFilter narrows ListIssues.
type IssueFilter struct {
	OpenOnly bool
}
