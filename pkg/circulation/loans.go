package circulation

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shelfmark/shelfmark/pkg/errcodes"
	"github.com/shelfmark/shelfmark/pkg/integrity"
	"github.com/shelfmark/shelfmark/pkg/models"
	"github.com/shelfmark/shelfmark/pkg/validate"
	"github.com/uptrace/bun"
)

type RetrieveLoanOptions struct {
	ID  *int
	UID *string

	IncludeMember bool
	IncludeBook   bool
}

type ListLoansOptions struct {
	Limit       *int
	Offset      *int
	MemberID    *int
	BookID      *int
	Status      *string
	OverdueOnly bool

	includeTotal bool
}

// Checkout creates an active loan and takes one available copy off the
// shelf. It fails with CapacityExceeded when no copies are free; the caller
// may create a reservation instead.
func (svc *Service) Checkout(ctx context.Context, opts CheckoutPayload) (*models.Loan, error) {
	if err := validate.Check(ctx, &opts); err != nil {
		return nil, err
	}

	now := time.Now()
	loanDate := now
	if opts.LoanDate != nil {
		loanDate = *opts.LoanDate
	}
	dueDate := loanDate.AddDate(0, 0, svc.cfg.LoanPeriodDays)
	if opts.DueDate != nil {
		dueDate = *opts.DueDate
	}

	loan := &models.Loan{
		UID:       uuid.NewString(),
		MemberID:  opts.MemberID,
		BookID:    opts.BookID,
		LoanDate:  loanDate,
		DueDate:   dueDate,
		Status:    models.LoanStatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := integrity.CheckLoan(loan); err != nil {
		return nil, err
	}

	err := svc.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		if err := svc.checkMemberEligibility(ctx, tx, opts.MemberID); err != nil {
			return err
		}

		openLoans, err := tx.NewSelect().
			Model((*models.Loan)(nil)).
			Where("member_id = ? AND status = ?", opts.MemberID, models.LoanStatusActive).
			Count(ctx)
		if err != nil {
			return errors.WithStack(err)
		}
		if openLoans >= svc.cfg.MaxOpenLoansPerMember {
			return errcodes.NotEligible(fmt.Sprintf("Member already has %d open loans.", openLoans))
		}

		if err := svc.takeCopy(ctx, tx, opts.BookID); err != nil {
			return err
		}

		_, err = tx.NewInsert().
			Model(loan).
			Returning("*").
			Exec(ctx)
		return errors.WithStack(err)
	})
	if err != nil {
		return nil, err
	}

	return loan, nil
}

// Return transitions an active loan to returned, puts the copy back on the
// shelf, accrues any overdue fine, and promotes the oldest pending
// reservation for the book.
func (svc *Service) Return(ctx context.Context, loanID int, opts ReturnPayload) (*models.Loan, error) {
	if err := validate.Check(ctx, &opts); err != nil {
		return nil, err
	}

	now := time.Now()
	returnedAt := now
	if opts.ReturnedAt != nil {
		returnedAt = *opts.ReturnedAt
	}

	loan := &models.Loan{}
	err := svc.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		err := tx.NewSelect().
			Model(loan).
			Where("ln.id = ?", loanID).
			Scan(ctx)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return errcodes.NotFound("Loan")
			}
			return errors.WithStack(err)
		}
		if loan.Status != models.LoanStatusActive {
			return errcodes.InvalidTransition("Loan", loan.Status, models.LoanStatusReturned)
		}

		loan.Status = models.LoanStatusReturned
		loan.ReturnDate = &returnedAt
		loan.FineCents += int64(loan.DaysOverdue(returnedAt)) * svc.cfg.OverdueFineCentsPerDay
		loan.UpdatedAt = now
		if err := integrity.CheckLoan(loan); err != nil {
			return err
		}

		_, err = tx.NewUpdate().
			Model(loan).
			Column("status", "return_date", "fine_cents", "updated_at").
			WherePK().
			Exec(ctx)
		if err != nil {
			return errors.WithStack(err)
		}

		if err := svc.returnCopy(ctx, tx, loan.BookID); err != nil {
			return err
		}

		_, err = svc.promoteOldestPending(ctx, tx, loan.BookID, now)
		return err
	})
	if err != nil {
		return nil, err
	}

	return loan, nil
}

// MarkLost transitions an active loan to lost. The copy leaves circulation
// (total shrinks instead of available growing back) and the replacement fee
// lands on the loan's fine. AdjustCopies is the restock path if the book
// ever turns up.
func (svc *Service) MarkLost(ctx context.Context, loanID int) (*models.Loan, error) {
	now := time.Now()

	loan := &models.Loan{}
	err := svc.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		err := tx.NewSelect().
			Model(loan).
			Where("ln.id = ?", loanID).
			Scan(ctx)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return errcodes.NotFound("Loan")
			}
			return errors.WithStack(err)
		}
		if loan.Status != models.LoanStatusActive {
			return errcodes.InvalidTransition("Loan", loan.Status, models.LoanStatusLost)
		}

		loan.Status = models.LoanStatusLost
		loan.FineCents += int64(loan.DaysOverdue(now))*svc.cfg.OverdueFineCentsPerDay + svc.cfg.LostBookFeeCents
		loan.UpdatedAt = now
		if err := integrity.CheckLoan(loan); err != nil {
			return err
		}

		_, err = tx.NewUpdate().
			Model(loan).
			Column("status", "fine_cents", "updated_at").
			WherePK().
			Exec(ctx)
		if err != nil {
			return errors.WithStack(err)
		}

		// The lost copy was on loan, so available stays put and total
		// drops by one. The guard keeps available <= total even if the
		// counters have drifted.
		res, err := tx.NewUpdate().
			Model((*models.Book)(nil)).
			Set("total_copies = total_copies - 1").
			Set("updated_at = ?", now).
			Where("id = ?", loan.BookID).
			Where("total_copies - 1 >= available_copies").
			Exec(ctx)
		if err != nil {
			return errors.WithStack(err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return errors.Errorf("book %d copy counters out of sync on lost loan %d", loan.BookID, loanID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return loan, nil
}

func (svc *Service) RetrieveLoan(ctx context.Context, opts RetrieveLoanOptions) (*models.Loan, error) {
	loan := &models.Loan{}

	q := svc.db.
		NewSelect().
		Model(loan)

	if opts.ID != nil {
		q = q.Where("ln.id = ?", *opts.ID)
	}
	if opts.UID != nil {
		q = q.Where("ln.uid = ?", *opts.UID)
	}
	if opts.IncludeMember {
		q = q.Relation("Member")
	}
	if opts.IncludeBook {
		q = q.Relation("Book")
	}

	err := q.Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errcodes.NotFound("Loan")
		}
		return nil, errors.WithStack(err)
	}

	return loan, nil
}

func (svc *Service) ListLoans(ctx context.Context, opts ListLoansOptions) ([]*models.Loan, error) {
	l, _, err := svc.listLoansWithTotal(ctx, opts)
	return l, errors.WithStack(err)
}

func (svc *Service) ListLoansWithTotal(ctx context.Context, opts ListLoansOptions) ([]*models.Loan, int, error) {
	opts.includeTotal = true
	return svc.listLoansWithTotal(ctx, opts)
}

func (svc *Service) listLoansWithTotal(ctx context.Context, opts ListLoansOptions) ([]*models.Loan, int, error) {
	var loans []*models.Loan
	var total int
	var err error

	q := svc.db.
		NewSelect().
		Model(&loans).
		Order("ln.loan_date DESC", "ln.id DESC")

	if opts.MemberID != nil {
		q = q.Where("ln.member_id = ?", *opts.MemberID)
	}
	if opts.BookID != nil {
		q = q.Where("ln.book_id = ?", *opts.BookID)
	}
	if opts.Status != nil {
		q = q.Where("ln.status = ?", *opts.Status)
	}
	if opts.OverdueOnly {
		// Overdue is derived, so the filter is a date predicate over
		// active loans rather than a stored status.
		q = q.Where("ln.status = ? AND ln.due_date < ?", models.LoanStatusActive, time.Now())
	}
	if opts.Limit != nil {
		q = q.Limit(*opts.Limit)
	}
	if opts.Offset != nil {
		q = q.Offset(*opts.Offset)
	}

	if opts.includeTotal {
		total, err = q.ScanAndCount(ctx)
	} else {
		err = q.Scan(ctx)
	}
	if err != nil {
		return nil, 0, errors.WithStack(err)
	}

	return loans, total, nil
}

// takeCopy decrements a book's available count. The predicate makes the
// decrement safe under concurrency: of two racing transactions, only one
// can observe available_copies > 0 for the last copy.
func (svc *Service) takeCopy(ctx context.Context, tx bun.Tx, bookID int) error {
	res, err := tx.NewUpdate().
		Model((*models.Book)(nil)).
		Set("available_copies = available_copies - 1").
		Set("updated_at = ?", time.Now()).
		Where("id = ?", bookID).
		Where("deleted_at IS NULL").
		Where("available_copies > 0").
		Exec(ctx)
	if err != nil {
		return errors.WithStack(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		exists, err := tx.NewSelect().
			Model((*models.Book)(nil)).
			Where("id = ?", bookID).
			Exists(ctx)
		if err != nil {
			return errors.WithStack(err)
		}
		if !exists {
			return errcodes.NotFound("Book")
		}
		return errcodes.CapacityExceeded()
	}
	return nil
}

// returnCopy increments a book's available count, guarded so the counter
// can never pass total_copies.
func (svc *Service) returnCopy(ctx context.Context, tx bun.Tx, bookID int) error {
	res, err := tx.NewUpdate().
		Model((*models.Book)(nil)).
		Set("available_copies = available_copies + 1").
		Set("updated_at = ?", time.Now()).
		Where("id = ?", bookID).
		Where("available_copies < total_copies").
		Exec(ctx)
	if err != nil {
		return errors.WithStack(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.Errorf("book %d available copies already at total; counters out of sync", bookID)
	}
	return nil
}

func (svc *Service) checkMemberEligibility(ctx context.Context, tx bun.Tx, memberID int) error {
	member := &models.Member{}
	err := tx.NewSelect().
		Model(member).
		Where("m.id = ?", memberID).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return errcodes.NotFound("Member")
		}
		return errors.WithStack(err)
	}
	if !member.CanBorrow() {
		return errcodes.NotEligible(fmt.Sprintf("Member account is %s.", member.Status))
	}
	return nil
}
