package circulation

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shelfmark/shelfmark/pkg/errcodes"
	"github.com/shelfmark/shelfmark/pkg/models"
	"github.com/shelfmark/shelfmark/pkg/validate"
	"github.com/uptrace/bun"
)

type RetrieveReservationOptions struct {
	ID  *int
	UID *string

	IncludeMember bool
	IncludeBook   bool
}

type ListReservationsOptions struct {
	Limit    *int
	Offset   *int
	MemberID *int
	BookID   *int
	Status   *string

	includeTotal bool
}

// Reserve creates a pending reservation for a member. A member holds at
// most one open reservation per book.
func (svc *Service) Reserve(ctx context.Context, opts ReservePayload) (*models.Reservation, error) {
	if err := validate.Check(ctx, &opts); err != nil {
		return nil, err
	}

	now := time.Now()
	reservation := &models.Reservation{
		UID:        uuid.NewString(),
		MemberID:   opts.MemberID,
		BookID:     opts.BookID,
		ReservedAt: now,
		Status:     models.ReservationStatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	err := svc.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		if err := svc.checkMemberEligibility(ctx, tx, opts.MemberID); err != nil {
			return err
		}

		exists, err := tx.NewSelect().
			Model((*models.Book)(nil)).
			Where("id = ?", opts.BookID).
			Exists(ctx)
		if err != nil {
			return errors.WithStack(err)
		}
		if !exists {
			return errcodes.NotFound("Book")
		}

		duplicate, err := tx.NewSelect().
			Model((*models.Reservation)(nil)).
			Where("member_id = ? AND book_id = ? AND status IN (?)", opts.MemberID, opts.BookID, bun.In([]string{
				models.ReservationStatusPending,
				models.ReservationStatusAvailable,
			})).
			Exists(ctx)
		if err != nil {
			return errors.WithStack(err)
		}
		if duplicate {
			return errcodes.Conflict("Reservation", "book")
		}

		open, err := tx.NewSelect().
			Model((*models.Reservation)(nil)).
			Where("member_id = ? AND status IN (?)", opts.MemberID, bun.In([]string{
				models.ReservationStatusPending,
				models.ReservationStatusAvailable,
			})).
			Count(ctx)
		if err != nil {
			return errors.WithStack(err)
		}
		if open >= svc.cfg.MaxReservationsPerMember {
			return errcodes.NotEligible(fmt.Sprintf("Member already has %d open reservations.", open))
		}

		_, err = tx.NewInsert().
			Model(reservation).
			Returning("*").
			Exec(ctx)
		return errors.WithStack(err)
	})
	if err != nil {
		return nil, err
	}

	return reservation, nil
}

// CancelReservation cancels a pending or available reservation. Cancelling
// an available one passes the offered copy to the next member in line.
func (svc *Service) CancelReservation(ctx context.Context, reservationID int) (*models.Reservation, error) {
	now := time.Now()

	reservation := &models.Reservation{}
	err := svc.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		err := tx.NewSelect().
			Model(reservation).
			Where("r.id = ?", reservationID).
			Scan(ctx)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return errcodes.NotFound("Reservation")
			}
			return errors.WithStack(err)
		}
		if !reservation.Open() {
			return errcodes.InvalidTransition("Reservation", reservation.Status, models.ReservationStatusCancelled)
		}
		wasAvailable := reservation.Status == models.ReservationStatusAvailable

		reservation.Status = models.ReservationStatusCancelled
		reservation.UpdatedAt = now
		_, err = tx.NewUpdate().
			Model(reservation).
			Column("status", "updated_at").
			WherePK().
			Exec(ctx)
		if err != nil {
			return errors.WithStack(err)
		}

		if wasAvailable {
			_, err = svc.promoteOldestPending(ctx, tx, reservation.BookID, now)
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return reservation, nil
}

// CompleteReservation turns an available reservation into an active loan in
// one transaction, so the held copy never transits through the open pool.
func (svc *Service) CompleteReservation(ctx context.Context, reservationID int) (*models.Reservation, *models.Loan, error) {
	now := time.Now()

	reservation := &models.Reservation{}
	loan := &models.Loan{}
	err := svc.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		err := tx.NewSelect().
			Model(reservation).
			Where("r.id = ?", reservationID).
			Scan(ctx)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return errcodes.NotFound("Reservation")
			}
			return errors.WithStack(err)
		}
		if reservation.Status != models.ReservationStatusAvailable {
			return errcodes.InvalidTransition("Reservation", reservation.Status, models.ReservationStatusCompleted)
		}

		if err := svc.checkMemberEligibility(ctx, tx, reservation.MemberID); err != nil {
			return err
		}

		reservation.Status = models.ReservationStatusCompleted
		reservation.UpdatedAt = now
		_, err = tx.NewUpdate().
			Model(reservation).
			Column("status", "updated_at").
			WherePK().
			Exec(ctx)
		if err != nil {
			return errors.WithStack(err)
		}

		if err := svc.takeCopy(ctx, tx, reservation.BookID); err != nil {
			return err
		}

		*loan = models.Loan{
			UID:       uuid.NewString(),
			MemberID:  reservation.MemberID,
			BookID:    reservation.BookID,
			LoanDate:  now,
			DueDate:   now.AddDate(0, 0, svc.cfg.LoanPeriodDays),
			Status:    models.LoanStatusActive,
			CreatedAt: now,
			UpdatedAt: now,
		}
		_, err = tx.NewInsert().
			Model(loan).
			Returning("*").
			Exec(ctx)
		return errors.WithStack(err)
	})
	if err != nil {
		return nil, nil, err
	}

	return reservation, loan, nil
}

func (svc *Service) RetrieveReservation(ctx context.Context, opts RetrieveReservationOptions) (*models.Reservation, error) {
	reservation := &models.Reservation{}

	q := svc.db.
		NewSelect().
		Model(reservation)

	if opts.ID != nil {
		q = q.Where("r.id = ?", *opts.ID)
	}
	if opts.UID != nil {
		q = q.Where("r.uid = ?", *opts.UID)
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
			return nil, errcodes.NotFound("Reservation")
		}
		return nil, errors.WithStack(err)
	}

	return reservation, nil
}

func (svc *Service) ListReservations(ctx context.Context, opts ListReservationsOptions) ([]*models.Reservation, error) {
	r, _, err := svc.listReservationsWithTotal(ctx, opts)
	return r, errors.WithStack(err)
}

func (svc *Service) ListReservationsWithTotal(ctx context.Context, opts ListReservationsOptions) ([]*models.Reservation, int, error) {
	opts.includeTotal = true
	return svc.listReservationsWithTotal(ctx, opts)
}

func (svc *Service) listReservationsWithTotal(ctx context.Context, opts ListReservationsOptions) ([]*models.Reservation, int, error) {
	var reservations []*models.Reservation
	var total int
	var err error

	q := svc.db.
		NewSelect().
		Model(&reservations).
		Order("r.reserved_at ASC", "r.id ASC")

	if opts.MemberID != nil {
		q = q.Where("r.member_id = ?", *opts.MemberID)
	}
	if opts.BookID != nil {
		q = q.Where("r.book_id = ?", *opts.BookID)
	}
	if opts.Status != nil {
		q = q.Where("r.status = ?", *opts.Status)
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

	return reservations, total, nil
}

// promoteOldestPending moves the oldest pending reservation for a book to
// available, as long as a copy is actually free to hold. Fulfillment order
// is reservation time, ties broken by id.
func (svc *Service) promoteOldestPending(ctx context.Context, tx bun.Tx, bookID int, now time.Time) (*models.Reservation, error) {
	free, err := tx.NewSelect().
		Model((*models.Book)(nil)).
		Where("id = ? AND available_copies > 0", bookID).
		Exists(ctx)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	if !free {
		return nil, nil
	}

	reservation := &models.Reservation{}
	err = tx.NewSelect().
		Model(reservation).
		Where("r.book_id = ? AND r.status = ?", bookID, models.ReservationStatusPending).
		Order("r.reserved_at ASC", "r.id ASC").
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, errors.WithStack(err)
	}

	pickupBy := now.AddDate(0, 0, svc.cfg.ReservationPickupDays)
	reservation.Status = models.ReservationStatusAvailable
	reservation.PickupBy = &pickupBy
	reservation.UpdatedAt = now

	_, err = tx.NewUpdate().
		Model(reservation).
		Column("status", "pickup_by", "updated_at").
		WherePK().
		Exec(ctx)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	return reservation, nil
}
