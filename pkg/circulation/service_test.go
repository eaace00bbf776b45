package circulation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shelfmark/shelfmark/pkg/config"
	"github.com/shelfmark/shelfmark/pkg/database"
	"github.com/shelfmark/shelfmark/pkg/errcodes"
	"github.com/shelfmark/shelfmark/pkg/migrations"
	"github.com/shelfmark/shelfmark/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

func newTestDB(t *testing.T) *bun.DB {
	t.Helper()

	sqldb, err := sql.Open(sqliteshim.ShimName, ":memory:")
	require.NoError(t, err)
	// One connection so every query sees the same in-memory database.
	sqldb.SetMaxOpenConns(1)

	db := bun.NewDB(sqldb, sqlitedialect.New())

	_, err = db.Exec("PRAGMA foreign_keys=ON")
	require.NoError(t, err)

	_, err = migrations.BringUpToDate(context.Background(), db)
	require.NoError(t, err)

	t.Cleanup(func() {
		db.Close()
	})

	return db
}

func newTestService(t *testing.T) (*Service, *bun.DB, *config.Config) {
	t.Helper()
	db := newTestDB(t)
	cfg := config.NewForTest()
	return NewService(db, cfg), db, cfg
}

func seedMember(t *testing.T, db *bun.DB, email string) *models.Member {
	t.Helper()
	now := time.Now()
	member := &models.Member{
		FirstName: "Test",
		LastName:  "Member",
		Email:     email,
		JoinedAt:  now,
		Status:    models.MemberStatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err := db.NewInsert().Model(member).Exec(context.Background())
	require.NoError(t, err)
	return member
}

func seedBook(t *testing.T, db *bun.DB, isbn string, copies int) *models.Book {
	t.Helper()
	now := time.Now()
	book := &models.Book{
		Title:           "Test Book",
		ISBN:            isbn,
		TotalCopies:     copies,
		AvailableCopies: copies,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	_, err := db.NewInsert().Model(book).Exec(context.Background())
	require.NoError(t, err)
	return book
}

func bookCounters(t *testing.T, db *bun.DB, bookID int) (total, available int) {
	t.Helper()
	book := &models.Book{}
	err := db.NewSelect().Model(book).Where("b.id = ?", bookID).Scan(context.Background())
	require.NoError(t, err)
	return book.TotalCopies, book.AvailableCopies
}

func TestCheckout(t *testing.T) {
	t.Parallel()

	svc, db, cfg := newTestService(t)
	ctx := context.Background()

	member := seedMember(t, db, "reader@example.org")
	book := seedBook(t, db, "9780306406157", 2)

	loan, err := svc.Checkout(ctx, CheckoutPayload{MemberID: member.ID, BookID: book.ID})
	require.NoError(t, err)
	assert.NotZero(t, loan.ID)
	assert.NotEmpty(t, loan.UID)
	assert.Equal(t, models.LoanStatusActive, loan.Status)
	assert.WithinDuration(t, loan.LoanDate.AddDate(0, 0, cfg.LoanPeriodDays), loan.DueDate, time.Second)

	_, available := bookCounters(t, db, book.ID)
	assert.Equal(t, 1, available)
}

func TestCheckout_NoCopies(t *testing.T) {
	t.Parallel()

	svc, db, _ := newTestService(t)
	ctx := context.Background()

	member := seedMember(t, db, "reader@example.org")
	book := seedBook(t, db, "9780306406157", 0)

	_, err := svc.Checkout(ctx, CheckoutPayload{MemberID: member.ID, BookID: book.ID})
	require.Error(t, err)
	assert.ErrorIs(t, err, errcodes.CapacityExceeded())

	// The failed checkout leaves nothing behind.
	count, err := db.NewSelect().Model((*models.Loan)(nil)).Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
	_, available := bookCounters(t, db, book.ID)
	assert.Zero(t, available)
}

func TestCheckout_MemberEligibility(t *testing.T) {
	t.Parallel()

	svc, db, _ := newTestService(t)
	ctx := context.Background()

	book := seedBook(t, db, "9780306406157", 1)

	_, err := svc.Checkout(ctx, CheckoutPayload{MemberID: 999, BookID: book.ID})
	assert.ErrorIs(t, err, errcodes.NotFound("Member"))

	suspended := seedMember(t, db, "suspended@example.org")
	suspended.Status = models.MemberStatusSuspended
	_, err = db.NewUpdate().Model(suspended).Column("status").WherePK().Exec(ctx)
	require.NoError(t, err)

	_, err = svc.Checkout(ctx, CheckoutPayload{MemberID: suspended.ID, BookID: book.ID})
	assert.ErrorIs(t, err, errcodes.NotEligible("Member account is suspended."))
}

func TestCheckout_MaxOpenLoans(t *testing.T) {
	t.Parallel()

	svc, db, cfg := newTestService(t)
	cfg.MaxOpenLoansPerMember = 1
	ctx := context.Background()

	member := seedMember(t, db, "reader@example.org")
	first := seedBook(t, db, "9780306406157", 1)
	second := seedBook(t, db, "9780131103627", 1)

	_, err := svc.Checkout(ctx, CheckoutPayload{MemberID: member.ID, BookID: first.ID})
	require.NoError(t, err)

	_, err = svc.Checkout(ctx, CheckoutPayload{MemberID: member.ID, BookID: second.ID})
	assert.ErrorIs(t, err, errcodes.NotEligible("Member already has 1 open loans."))
}

func TestCheckoutReturnCycle(t *testing.T) {
	t.Parallel()

	svc, db, _ := newTestService(t)
	ctx := context.Background()

	alice := seedMember(t, db, "alice@example.org")
	bob := seedMember(t, db, "bob@example.org")
	carol := seedMember(t, db, "carol@example.org")
	book := seedBook(t, db, "9780306406157", 2)

	aliceLoan, err := svc.Checkout(ctx, CheckoutPayload{MemberID: alice.ID, BookID: book.ID})
	require.NoError(t, err)
	_, err = svc.Checkout(ctx, CheckoutPayload{MemberID: bob.ID, BookID: book.ID})
	require.NoError(t, err)

	// Both copies are out, so the third member is turned away.
	_, err = svc.Checkout(ctx, CheckoutPayload{MemberID: carol.ID, BookID: book.ID})
	assert.ErrorIs(t, err, errcodes.CapacityExceeded())

	_, err = svc.Return(ctx, aliceLoan.ID, ReturnPayload{})
	require.NoError(t, err)

	_, available := bookCounters(t, db, book.ID)
	assert.Equal(t, 1, available)

	_, err = svc.Checkout(ctx, CheckoutPayload{MemberID: carol.ID, BookID: book.ID})
	require.NoError(t, err)
}

func TestReturn(t *testing.T) {
	t.Parallel()

	svc, db, _ := newTestService(t)
	ctx := context.Background()

	member := seedMember(t, db, "reader@example.org")
	book := seedBook(t, db, "9780306406157", 3)

	loan, err := svc.Checkout(ctx, CheckoutPayload{MemberID: member.ID, BookID: book.ID})
	require.NoError(t, err)

	returned, err := svc.Return(ctx, loan.ID, ReturnPayload{})
	require.NoError(t, err)
	assert.Equal(t, models.LoanStatusReturned, returned.Status)
	require.NotNil(t, returned.ReturnDate)
	assert.Zero(t, returned.FineCents)

	// The copy goes back exactly once.
	_, available := bookCounters(t, db, book.ID)
	assert.Equal(t, 3, available)

	_, err = svc.Return(ctx, loan.ID, ReturnPayload{})
	assert.ErrorIs(t, err, errcodes.InvalidTransition("Loan", models.LoanStatusReturned, models.LoanStatusReturned))

	_, err = svc.Return(ctx, 999, ReturnPayload{})
	assert.ErrorIs(t, err, errcodes.NotFound("Loan"))
}

func TestReturn_OverdueFine(t *testing.T) {
	t.Parallel()

	svc, db, cfg := newTestService(t)
	ctx := context.Background()

	member := seedMember(t, db, "reader@example.org")
	book := seedBook(t, db, "9780306406157", 1)

	// Backdate the loan so it comes back four days late.
	loanDate := time.Now().AddDate(0, 0, -(cfg.LoanPeriodDays + 4))
	loan, err := svc.Checkout(ctx, CheckoutPayload{MemberID: member.ID, BookID: book.ID, LoanDate: &loanDate})
	require.NoError(t, err)

	returned, err := svc.Return(ctx, loan.ID, ReturnPayload{})
	require.NoError(t, err)
	assert.Equal(t, 4*cfg.OverdueFineCentsPerDay, returned.FineCents)
}

func TestReturn_PromotesOldestPending(t *testing.T) {
	t.Parallel()

	svc, db, cfg := newTestService(t)
	ctx := context.Background()

	borrower := seedMember(t, db, "borrower@example.org")
	first := seedMember(t, db, "first@example.org")
	second := seedMember(t, db, "second@example.org")
	book := seedBook(t, db, "9780306406157", 1)

	loan, err := svc.Checkout(ctx, CheckoutPayload{MemberID: borrower.ID, BookID: book.ID})
	require.NoError(t, err)

	firstRes, err := svc.Reserve(ctx, ReservePayload{MemberID: first.ID, BookID: book.ID})
	require.NoError(t, err)
	secondRes, err := svc.Reserve(ctx, ReservePayload{MemberID: second.ID, BookID: book.ID})
	require.NoError(t, err)

	_, err = svc.Return(ctx, loan.ID, ReturnPayload{})
	require.NoError(t, err)

	got, err := svc.RetrieveReservation(ctx, RetrieveReservationOptions{ID: &firstRes.ID})
	require.NoError(t, err)
	assert.Equal(t, models.ReservationStatusAvailable, got.Status)
	require.NotNil(t, got.PickupBy)
	assert.WithinDuration(t, time.Now().AddDate(0, 0, cfg.ReservationPickupDays), *got.PickupBy, time.Minute)

	// The younger reservation stays in line.
	got, err = svc.RetrieveReservation(ctx, RetrieveReservationOptions{ID: &secondRes.ID})
	require.NoError(t, err)
	assert.Equal(t, models.ReservationStatusPending, got.Status)
}

func TestMarkLost(t *testing.T) {
	t.Parallel()

	svc, db, cfg := newTestService(t)
	ctx := context.Background()

	member := seedMember(t, db, "reader@example.org")
	book := seedBook(t, db, "9780306406157", 2)

	loan, err := svc.Checkout(ctx, CheckoutPayload{MemberID: member.ID, BookID: book.ID})
	require.NoError(t, err)

	lost, err := svc.MarkLost(ctx, loan.ID)
	require.NoError(t, err)
	assert.Equal(t, models.LoanStatusLost, lost.Status)
	assert.Equal(t, cfg.LostBookFeeCents, lost.FineCents)

	// The copy leaves circulation entirely.
	total, available := bookCounters(t, db, book.ID)
	assert.Equal(t, 1, total)
	assert.Equal(t, 1, available)

	_, err = svc.MarkLost(ctx, loan.ID)
	assert.ErrorIs(t, err, errcodes.InvalidTransition("Loan", models.LoanStatusLost, models.LoanStatusLost))
}

func TestMarkLost_OverdueFineAccrues(t *testing.T) {
	t.Parallel()

	svc, db, cfg := newTestService(t)
	ctx := context.Background()

	member := seedMember(t, db, "reader@example.org")
	book := seedBook(t, db, "9780306406157", 1)

	loanDate := time.Now().AddDate(0, 0, -(cfg.LoanPeriodDays + 2))
	loan, err := svc.Checkout(ctx, CheckoutPayload{MemberID: member.ID, BookID: book.ID, LoanDate: &loanDate})
	require.NoError(t, err)

	lost, err := svc.MarkLost(ctx, loan.ID)
	require.NoError(t, err)
	assert.Equal(t, 2*cfg.OverdueFineCentsPerDay+cfg.LostBookFeeCents, lost.FineCents)
}

func TestListLoans_OverdueOnly(t *testing.T) {
	t.Parallel()

	svc, db, cfg := newTestService(t)
	ctx := context.Background()

	member := seedMember(t, db, "reader@example.org")
	current := seedBook(t, db, "9780306406157", 1)
	late := seedBook(t, db, "9780131103627", 1)

	_, err := svc.Checkout(ctx, CheckoutPayload{MemberID: member.ID, BookID: current.ID})
	require.NoError(t, err)

	loanDate := time.Now().AddDate(0, 0, -(cfg.LoanPeriodDays + 1))
	lateLoan, err := svc.Checkout(ctx, CheckoutPayload{MemberID: member.ID, BookID: late.ID, LoanDate: &loanDate})
	require.NoError(t, err)

	loans, total, err := svc.ListLoansWithTotal(ctx, ListLoansOptions{OverdueOnly: true})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, loans, 1)
	assert.Equal(t, lateLoan.ID, loans[0].ID)
	// The stored status stays active; overdue is derived per read.
	assert.Equal(t, models.LoanStatusActive, loans[0].Status)
	assert.Equal(t, models.LoanStatusOverdue, loans[0].StatusAt(time.Now()))
}

func TestReserve(t *testing.T) {
	t.Parallel()

	svc, db, _ := newTestService(t)
	ctx := context.Background()

	member := seedMember(t, db, "reader@example.org")
	book := seedBook(t, db, "9780306406157", 0)

	reservation, err := svc.Reserve(ctx, ReservePayload{MemberID: member.ID, BookID: book.ID})
	require.NoError(t, err)
	assert.NotEmpty(t, reservation.UID)
	assert.Equal(t, models.ReservationStatusPending, reservation.Status)
	assert.Nil(t, reservation.PickupBy)

	// One open reservation per member and book.
	_, err = svc.Reserve(ctx, ReservePayload{MemberID: member.ID, BookID: book.ID})
	assert.ErrorIs(t, err, errcodes.Conflict("Reservation", "book"))

	_, err = svc.Reserve(ctx, ReservePayload{MemberID: member.ID, BookID: 999})
	assert.ErrorIs(t, err, errcodes.NotFound("Book"))
}

func TestReserve_MaxOpenReservations(t *testing.T) {
	t.Parallel()

	svc, db, cfg := newTestService(t)
	cfg.MaxReservationsPerMember = 1
	ctx := context.Background()

	member := seedMember(t, db, "reader@example.org")
	first := seedBook(t, db, "9780306406157", 0)
	second := seedBook(t, db, "9780131103627", 0)

	_, err := svc.Reserve(ctx, ReservePayload{MemberID: member.ID, BookID: first.ID})
	require.NoError(t, err)

	_, err = svc.Reserve(ctx, ReservePayload{MemberID: member.ID, BookID: second.ID})
	assert.ErrorIs(t, err, errcodes.NotEligible("Member already has 1 open reservations."))
}

func TestCancelReservation(t *testing.T) {
	t.Parallel()

	svc, db, _ := newTestService(t)
	ctx := context.Background()

	member := seedMember(t, db, "reader@example.org")
	book := seedBook(t, db, "9780306406157", 0)

	reservation, err := svc.Reserve(ctx, ReservePayload{MemberID: member.ID, BookID: book.ID})
	require.NoError(t, err)

	cancelled, err := svc.CancelReservation(ctx, reservation.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ReservationStatusCancelled, cancelled.Status)

	_, err = svc.CancelReservation(ctx, reservation.ID)
	assert.ErrorIs(t, err, errcodes.InvalidTransition("Reservation", models.ReservationStatusCancelled, models.ReservationStatusCancelled))
}

func TestCancelReservation_AvailablePassesToNext(t *testing.T) {
	t.Parallel()

	svc, db, _ := newTestService(t)
	ctx := context.Background()

	borrower := seedMember(t, db, "borrower@example.org")
	first := seedMember(t, db, "first@example.org")
	second := seedMember(t, db, "second@example.org")
	book := seedBook(t, db, "9780306406157", 1)

	loan, err := svc.Checkout(ctx, CheckoutPayload{MemberID: borrower.ID, BookID: book.ID})
	require.NoError(t, err)

	firstRes, err := svc.Reserve(ctx, ReservePayload{MemberID: first.ID, BookID: book.ID})
	require.NoError(t, err)
	secondRes, err := svc.Reserve(ctx, ReservePayload{MemberID: second.ID, BookID: book.ID})
	require.NoError(t, err)

	// The return promotes the first reservation to available.
	_, err = svc.Return(ctx, loan.ID, ReturnPayload{})
	require.NoError(t, err)

	_, err = svc.CancelReservation(ctx, firstRes.ID)
	require.NoError(t, err)

	// The held copy passes straight to the next member in line.
	got, err := svc.RetrieveReservation(ctx, RetrieveReservationOptions{ID: &secondRes.ID})
	require.NoError(t, err)
	assert.Equal(t, models.ReservationStatusAvailable, got.Status)
}

func TestCompleteReservation(t *testing.T) {
	t.Parallel()

	svc, db, cfg := newTestService(t)
	ctx := context.Background()

	borrower := seedMember(t, db, "borrower@example.org")
	holder := seedMember(t, db, "holder@example.org")
	book := seedBook(t, db, "9780306406157", 1)

	loan, err := svc.Checkout(ctx, CheckoutPayload{MemberID: borrower.ID, BookID: book.ID})
	require.NoError(t, err)

	reservation, err := svc.Reserve(ctx, ReservePayload{MemberID: holder.ID, BookID: book.ID})
	require.NoError(t, err)

	// Completing a reservation that isn't available yet is rejected.
	_, _, err = svc.CompleteReservation(ctx, reservation.ID)
	assert.ErrorIs(t, err, errcodes.InvalidTransition("Reservation", models.ReservationStatusPending, models.ReservationStatusCompleted))

	_, err = svc.Return(ctx, loan.ID, ReturnPayload{})
	require.NoError(t, err)

	completed, newLoan, err := svc.CompleteReservation(ctx, reservation.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ReservationStatusCompleted, completed.Status)
	assert.Equal(t, holder.ID, newLoan.MemberID)
	assert.Equal(t, book.ID, newLoan.BookID)
	assert.Equal(t, models.LoanStatusActive, newLoan.Status)
	assert.WithinDuration(t, newLoan.LoanDate.AddDate(0, 0, cfg.LoanPeriodDays), newLoan.DueDate, time.Second)

	// The held copy went to the holder, not back to the shelf.
	_, available := bookCounters(t, db, book.ID)
	assert.Zero(t, available)
}

// TestConcurrentCheckouts races more members than there are copies and
// verifies exactly one checkout per copy wins.
func TestConcurrentCheckouts(t *testing.T) {
	t.Parallel()

	cfg := config.NewForTest()
	cfg.DatabaseFilePath = filepath.Join(t.TempDir(), "test.db")
	db, err := database.New(cfg)
	require.NoError(t, err)
	defer db.Close()

	ctx := context.Background()
	_, err = migrations.BringUpToDate(ctx, db)
	require.NoError(t, err)

	svc := NewService(db, cfg)

	const copies = 5
	const contenders = 20

	book := seedBook(t, db, "9780306406157", copies)
	members := make([]*models.Member, contenders)
	for i := range members {
		members[i] = seedMember(t, db, fmt.Sprintf("member%d@example.org", i))
	}

	var wg sync.WaitGroup
	var won atomic.Int32
	var turnedAway atomic.Int32

	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func(memberID int) {
			defer wg.Done()
			_, err := svc.Checkout(ctx, CheckoutPayload{MemberID: memberID, BookID: book.ID})
			switch {
			case err == nil:
				won.Add(1)
			case errors.Is(err, errcodes.CapacityExceeded()):
				turnedAway.Add(1)
			default:
				t.Errorf("unexpected checkout error: %v", err)
			}
		}(members[i].ID)
	}
	wg.Wait()

	assert.Equal(t, int32(copies), won.Load())
	assert.Equal(t, int32(contenders-copies), turnedAway.Load())

	_, available := bookCounters(t, db, book.ID)
	assert.Zero(t, available)
}
