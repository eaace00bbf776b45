package members

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/shelfmark/shelfmark/pkg/config"
	"github.com/shelfmark/shelfmark/pkg/errcodes"
	"github.com/shelfmark/shelfmark/pkg/models"
	"github.com/shelfmark/shelfmark/pkg/validate"
	"github.com/uptrace/bun"
)

type RetrieveMemberOptions struct {
	ID    *int
	Email *string
}

type ListMembersOptions struct {
	Limit  *int
	Offset *int
	Status *string
	Search *string

	includeTotal bool
}

type UpdateMemberOptions struct {
	Columns []string
}

type Service struct {
	db  *bun.DB
	cfg *config.Config
}

func NewService(db *bun.DB, cfg *config.Config) *Service {
	return &Service{db, cfg}
}

func (svc *Service) CreateMember(ctx context.Context, opts CreateMemberPayload) (*models.Member, error) {
	if err := validate.Check(ctx, &opts); err != nil {
		return nil, err
	}

	now := time.Now()
	joinedAt := now
	if opts.JoinedAt != nil {
		joinedAt = *opts.JoinedAt
	}
	member := &models.Member{
		FirstName: opts.FirstName,
		LastName:  opts.LastName,
		Email:     opts.Email,
		JoinedAt:  joinedAt,
		Status:    opts.Status,
		CreatedAt: now,
		UpdatedAt: now,
	}

	_, err := svc.db.
		NewInsert().
		Model(member).
		Returning("*").
		Exec(ctx)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") {
			return nil, errcodes.Conflict("Member", "email")
		}
		return nil, errors.WithStack(err)
	}

	return member, nil
}

func (svc *Service) RetrieveMember(ctx context.Context, opts RetrieveMemberOptions) (*models.Member, error) {
	member := &models.Member{}

	q := svc.db.
		NewSelect().
		Model(member)

	if opts.ID != nil {
		q = q.Where("m.id = ?", *opts.ID)
	}
	if opts.Email != nil {
		q = q.Where("LOWER(m.email) = LOWER(?)", *opts.Email)
	}

	err := q.Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errcodes.NotFound("Member")
		}
		return nil, errors.WithStack(err)
	}

	return member, nil
}

func (svc *Service) ListMembers(ctx context.Context, opts ListMembersOptions) ([]*models.Member, error) {
	m, _, err := svc.listMembersWithTotal(ctx, opts)
	return m, errors.WithStack(err)
}

func (svc *Service) ListMembersWithTotal(ctx context.Context, opts ListMembersOptions) ([]*models.Member, int, error) {
	opts.includeTotal = true
	return svc.listMembersWithTotal(ctx, opts)
}

func (svc *Service) listMembersWithTotal(ctx context.Context, opts ListMembersOptions) ([]*models.Member, int, error) {
	var members []*models.Member
	var total int
	var err error

	q := svc.db.
		NewSelect().
		Model(&members).
		Order("m.last_name ASC", "m.first_name ASC")

	if opts.Status != nil {
		q = q.Where("m.status = ?", *opts.Status)
	}
	if opts.Search != nil && *opts.Search != "" {
		search := "%" + strings.ToLower(*opts.Search) + "%"
		q = q.Where("LOWER(m.first_name || ' ' || m.last_name || ' ' || m.email) LIKE ?", search)
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

	return members, total, nil
}

func (svc *Service) UpdateMember(ctx context.Context, member *models.Member, opts UpdateMemberOptions) error {
	if len(opts.Columns) == 0 {
		return nil
	}

	member.UpdatedAt = time.Now()
	columns := append(opts.Columns, "updated_at")

	_, err := svc.db.
		NewUpdate().
		Model(member).
		Column(columns...).
		WherePK().
		Exec(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return errcodes.NotFound("Member")
		}
		if strings.Contains(err.Error(), "UNIQUE constraint") {
			return errcodes.Conflict("Member", "email")
		}
		return errors.WithStack(err)
	}
	return nil
}

// SetStatus moves a member between active, suspended, and inactive.
func (svc *Service) SetStatus(ctx context.Context, memberID int, status string) (*models.Member, error) {
	payload := setStatusPayload{Status: status}
	if err := validate.Check(ctx, &payload); err != nil {
		return nil, err
	}

	member, err := svc.RetrieveMember(ctx, RetrieveMemberOptions{ID: &memberID})
	if err != nil {
		return nil, err
	}

	member.Status = payload.Status
	err = svc.UpdateMember(ctx, member, UpdateMemberOptions{Columns: []string{"status"}})
	if err != nil {
		return nil, err
	}
	return member, nil
}

// DeleteMember removes a member. Copies they still hold go back on the
// shelf first and any hold they had passes to the next member in line;
// their loan and reservation history then goes with them through the
// foreign key cascade.
func (svc *Service) DeleteMember(ctx context.Context, memberID int) error {
	now := time.Now()
	return svc.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		// Capture what the member holds before the cascade erases it.
		var loanedBooks []int
		err := tx.NewSelect().
			Model((*models.Loan)(nil)).
			Column("book_id").
			Where("member_id = ? AND status = ?", memberID, models.LoanStatusActive).
			Scan(ctx, &loanedBooks)
		if err != nil {
			return errors.WithStack(err)
		}

		var heldBooks []int
		err = tx.NewSelect().
			Model((*models.Reservation)(nil)).
			Column("book_id").
			Where("member_id = ? AND status = ?", memberID, models.ReservationStatusAvailable).
			Scan(ctx, &heldBooks)
		if err != nil {
			return errors.WithStack(err)
		}

		res, err := tx.NewDelete().
			Model((*models.Member)(nil)).
			Where("id = ?", memberID).
			Exec(ctx)
		if err != nil {
			return errors.WithStack(err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return errcodes.NotFound("Member")
		}

		for _, bookID := range loanedBooks {
			res, err := tx.NewUpdate().
				Model((*models.Book)(nil)).
				Set("available_copies = available_copies + 1").
				Set("updated_at = ?", now).
				Where("id = ?", bookID).
				Where("available_copies < total_copies").
				Exec(ctx)
			if err != nil {
				return errors.WithStack(err)
			}
			if n, _ := res.RowsAffected(); n == 0 {
				return errors.Errorf("book %d available copies already at total; counters out of sync", bookID)
			}
		}

		// Freed copies and released holds both open the book to the next
		// pending reservation.
		seen := map[int]bool{}
		for _, bookID := range append(loanedBooks, heldBooks...) {
			if seen[bookID] {
				continue
			}
			seen[bookID] = true
			if err := svc.promoteOldestPending(ctx, tx, bookID, now); err != nil {
				return err
			}
		}
		return nil
	})
}

// promoteOldestPending moves the oldest pending reservation for a book to
// available while a copy is free to hold, mirroring what a return does.
func (svc *Service) promoteOldestPending(ctx context.Context, tx bun.Tx, bookID int, now time.Time) error {
	free, err := tx.NewSelect().
		Model((*models.Book)(nil)).
		Where("id = ? AND available_copies > 0", bookID).
		Exists(ctx)
	if err != nil {
		return errors.WithStack(err)
	}
	if !free {
		return nil
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
			return nil
		}
		return errors.WithStack(err)
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
	return errors.WithStack(err)
}
