package library

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func fixedClock(year int, month time.Month, day int) *testClock {
	return &testClock{t: time.Date(year, month, day, 15, 30, 0, 0, time.Local)}
}

func (c *testClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) advance(days int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.AddDate(0, 0, days)
}

type circulationFixture struct {
	db     *Database
	circ   *Circulation
	clock  *testClock
	book   Book
	member Member
}

func newCirculationFixture(t *testing.T, db *Database, copies int) *circulationFixture {
	t.Helper()
	ctx := context.Background()
	b, err := db.AddBook(ctx, NewBook{Title: "Things Fall Apart", Author: "Achebe", ISBN: "978-0385474542", TotalCopies: copies})
	require.NoError(t, err)
	m, err := db.AddMember(ctx, NewMember{Name: "Okonkwo", Email: "okonkwo@example.com", Phone: "555-0107"})
	require.NoError(t, err)

	clock := fixedClock(2026, 10, 19)
	return &circulationFixture{
		db:     db,
		circ:   NewCirculation(db, WithClock(clock.now)),
		clock:  clock,
		book:   b,
		member: m,
	}
}

func (f *circulationFixture) available(t *testing.T) int {
	t.Helper()
	b, err := f.db.GetBook(context.Background(), f.book.ID)
	require.NoError(t, err)
	return b.AvailableCopies
}

func (f *circulationFixture) issueCount(t *testing.T, openOnly bool) int {
	t.Helper()
	q := f.db.sq.Select("COUNT(*)").From("issues").Where(squirrel.Eq{"book_id": f.book.ID})
	if openOnly {
		q = q.Where(squirrel.Eq{"returned": false})
	}
	var n int
	require.NoError(t, getRow(context.Background(), f.db.db, &n, q))
	return n
}

// requireConsistent checks available = total - open issues, within range.
func (f *circulationFixture) requireConsistent(t *testing.T) {
	t.Helper()
	b, err := f.db.GetBook(context.Background(), f.book.ID)
	require.NoError(t, err)
	require.GreaterOrEqual(t, b.AvailableCopies, 0)
	require.LessOrEqual(t, b.AvailableCopies, b.TotalCopies)
	require.Equal(t, b.TotalCopies-f.issueCount(t, true), b.AvailableCopies)
}

func TestIssueThenReturnExample(t *testing.T) {
	forEachBackend(t, func(t *testing.T, db *Database) {
		ctx := context.Background()
		f := newCirculationFixture(t, db, 3)

		is, err := f.circ.Issue(ctx, f.book.ID, f.member.ID)
		require.NoError(t, err)
		assert.NotZero(t, is.ID)
		assert.Equal(t, f.book.ID, is.BookID)
		assert.Equal(t, f.member.ID, is.MemberID)
		assert.False(t, is.Returned)
		assert.Nil(t, is.ReturnDate)
		assert.Equal(t, "2026-10-19", is.IssueDate.Format(DateLayout))
		assert.Equal(t, 2, f.available(t))

		stored, err := db.GetIssue(ctx, is.ID)
		require.NoError(t, err)
		assert.False(t, stored.Returned)
		assert.Nil(t, stored.ReturnDate)
		assert.Equal(t, "2026-10-19", stored.IssueDate.Format(DateLayout))

		f.clock.advance(14)
		ret, err := f.circ.Return(ctx, is.ID)
		require.NoError(t, err)
		assert.True(t, ret.Returned)
		require.NotNil(t, ret.ReturnDate)
		assert.Equal(t, "2026-11-02", ret.ReturnDate.Format(DateLayout))
		assert.Equal(t, 3, f.available(t))

		stored, err = db.GetIssue(ctx, is.ID)
		require.NoError(t, err)
		assert.True(t, stored.Returned)
		require.NotNil(t, stored.ReturnDate)
		assert.Equal(t, "2026-11-02", stored.ReturnDate.Format(DateLayout))
		f.requireConsistent(t)
	})
}

func TestIssueWithNoCopiesLeftChangesNothing(t *testing.T) {
	forEachBackend(t, func(t *testing.T, db *Database) {
		ctx := context.Background()
		f := newCirculationFixture(t, db, 1)

		_, err := f.circ.Issue(ctx, f.book.ID, f.member.ID)
		require.NoError(t, err)

		_, err = f.circ.Issue(ctx, f.book.ID, f.member.ID)
		assert.ErrorIs(t, err, ErrUnavailable)
		assert.Equal(t, 0, f.available(t))
		assert.Equal(t, 1, f.issueCount(t, false))
		f.requireConsistent(t)
	})
}

func TestIssueOfZeroCopyBook(t *testing.T) {
	db := tempDB(t)
	f := newCirculationFixture(t, db, 0)

	_, err := f.circ.Issue(context.Background(), f.book.ID, f.member.ID)
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, 0, f.issueCount(t, false))
}

func TestIssueDecrementsByExactlyOne(t *testing.T) {
	forEachBackend(t, func(t *testing.T, db *Database) {
		ctx := context.Background()
		f := newCirculationFixture(t, db, 5)

		for want := 4; want >= 0; want-- {
			_, err := f.circ.Issue(ctx, f.book.ID, f.member.ID)
			require.NoError(t, err)
			assert.Equal(t, want, f.available(t))
			assert.Equal(t, 5-want, f.issueCount(t, true))
			f.requireConsistent(t)
		}
	})
}

func TestIssueUnknownBookOrMember(t *testing.T) {
	forEachBackend(t, func(t *testing.T, db *Database) {
		ctx := context.Background()
		f := newCirculationFixture(t, db, 2)

		_, err := f.circ.Issue(ctx, f.book.ID+99, f.member.ID)
		assert.ErrorIs(t, err, ErrNotFound)

		_, err = f.circ.Issue(ctx, f.book.ID, f.member.ID+99)
		assert.ErrorIs(t, err, ErrNotFound)

		// Neither attempt may leave a decrement or a dangling issue behind.
		assert.Equal(t, 2, f.available(t))
		assert.Equal(t, 0, f.issueCount(t, false))
	})
}

func TestReturnTwiceFailsSecondTime(t *testing.T) {
	forEachBackend(t, func(t *testing.T, db *Database) {
		ctx := context.Background()
		f := newCirculationFixture(t, db, 2)

		is, err := f.circ.Issue(ctx, f.book.ID, f.member.ID)
		require.NoError(t, err)
		_, err = f.circ.Return(ctx, is.ID)
		require.NoError(t, err)
		assert.Equal(t, 2, f.available(t))

		f.clock.advance(1)
		_, err = f.circ.Return(ctx, is.ID)
		assert.ErrorIs(t, err, ErrAlreadyReturned)
		assert.Equal(t, 2, f.available(t))

		// The first return date sticks.
		stored, err := db.GetIssue(ctx, is.ID)
		require.NoError(t, err)
		require.NotNil(t, stored.ReturnDate)
		assert.Equal(t, "2026-10-19", stored.ReturnDate.Format(DateLayout))
		f.requireConsistent(t)
	})
}

func TestReturnUnknownIssue(t *testing.T) {
	forEachBackend(t, func(t *testing.T, db *Database) {
		f := newCirculationFixture(t, db, 1)
		_, err := f.circ.Return(context.Background(), 12345)
		assert.ErrorIs(t, err, ErrNotFound)
		assert.Equal(t, 1, f.available(t))
	})
}

func TestRoundTripRestoresAvailability(t *testing.T) {
	forEachBackend(t, func(t *testing.T, db *Database) {
		ctx := context.Background()
		f := newCirculationFixture(t, db, 3)
		other, err := db.AddMember(ctx, NewMember{Name: "Ezinma"})
		require.NoError(t, err)

		a, err := f.circ.Issue(ctx, f.book.ID, f.member.ID)
		require.NoError(t, err)
		f.requireConsistent(t)
		b, err := f.circ.Issue(ctx, f.book.ID, other.ID)
		require.NoError(t, err)
		f.requireConsistent(t)

		_, err = f.circ.Return(ctx, b.ID)
		require.NoError(t, err)
		f.requireConsistent(t)
		_, err = f.circ.Return(ctx, a.ID)
		require.NoError(t, err)
		f.requireConsistent(t)

		book, err := db.GetBook(ctx, f.book.ID)
		require.NoError(t, err)
		assert.Equal(t, 3, book.AvailableCopies)
		assert.Equal(t, 3, book.TotalCopies)
		assert.Equal(t, 0, f.issueCount(t, true))
		assert.Equal(t, 2, f.issueCount(t, false))
	})
}

func TestConcurrentIssueOfLastCopy(t *testing.T) {
	forEachBackend(t, func(t *testing.T, db *Database) {
		ctx := context.Background()
		f := newCirculationFixture(t, db, 1)

		const attempts = 6
		var wg sync.WaitGroup
		errs := make([]error, attempts)
		start := make(chan struct{})
		for i := 0; i < attempts; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				<-start
				_, errs[i] = f.circ.Issue(ctx, f.book.ID, f.member.ID)
			}(i)
		}
		close(start)
		wg.Wait()

		succeeded := 0
		for _, err := range errs {
			if err == nil {
				succeeded++
				continue
			}
			assert.ErrorIs(t, err, ErrUnavailable)
		}
		assert.Equal(t, 1, succeeded)
		assert.Equal(t, 0, f.available(t))
		assert.Equal(t, 1, f.issueCount(t, false))
		f.requireConsistent(t)
	})
}
