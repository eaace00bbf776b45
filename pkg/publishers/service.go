package publishers

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/shelfmark/shelfmark/pkg/errcodes"
	"github.com/shelfmark/shelfmark/pkg/models"
	"github.com/shelfmark/shelfmark/pkg/validate"
	"github.com/uptrace/bun"
)

type RetrievePublisherOptions struct {
	ID   *int
	Name *string
}

type ListPublishersOptions struct {
	Limit  *int
	Offset *int
	Search *string

	includeTotal bool
}

type UpdatePublisherOptions struct {
	Columns []string
}

type Service struct {
	db *bun.DB
}

func NewService(db *bun.DB) *Service {
	return &Service{db}
}

func (svc *Service) CreatePublisher(ctx context.Context, opts CreatePublisherPayload) (*models.Publisher, error) {
	if err := validate.Check(ctx, &opts); err != nil {
		return nil, err
	}

	now := time.Now()
	publisher := &models.Publisher{
		Name:      opts.Name,
		Address:   opts.Address,
		CreatedAt: now,
		UpdatedAt: now,
	}

	_, err := svc.db.
		NewInsert().
		Model(publisher).
		Returning("*").
		Exec(ctx)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") {
			return nil, errcodes.Conflict("Publisher", "name")
		}
		return nil, errors.WithStack(err)
	}

	return publisher, nil
}

func (svc *Service) RetrievePublisher(ctx context.Context, opts RetrievePublisherOptions) (*models.Publisher, error) {
	publisher := &models.Publisher{}

	q := svc.db.
		NewSelect().
		Model(publisher)

	if opts.ID != nil {
		q = q.Where("pub.id = ?", *opts.ID)
	}
	if opts.Name != nil {
		// Case-insensitive match
		q = q.Where("LOWER(pub.name) = LOWER(?)", *opts.Name)
	}

	err := q.Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errcodes.NotFound("Publisher")
		}
		return nil, errors.WithStack(err)
	}

	return publisher, nil
}

func (svc *Service) ListPublishers(ctx context.Context, opts ListPublishersOptions) ([]*models.Publisher, error) {
	p, _, err := svc.listPublishersWithTotal(ctx, opts)
	return p, errors.WithStack(err)
}

func (svc *Service) ListPublishersWithTotal(ctx context.Context, opts ListPublishersOptions) ([]*models.Publisher, int, error) {
	opts.includeTotal = true
	return svc.listPublishersWithTotal(ctx, opts)
}

func (svc *Service) listPublishersWithTotal(ctx context.Context, opts ListPublishersOptions) ([]*models.Publisher, int, error) {
	var publishers []*models.Publisher
	var total int
	var err error

	q := svc.db.
		NewSelect().
		Model(&publishers).
		Order("pub.name ASC")

	if opts.Search != nil && *opts.Search != "" {
		search := "%" + strings.ToLower(*opts.Search) + "%"
		q = q.Where("LOWER(pub.name) LIKE ?", search)
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

	return publishers, total, nil
}

func (svc *Service) UpdatePublisher(ctx context.Context, publisher *models.Publisher, opts UpdatePublisherOptions) error {
	if len(opts.Columns) == 0 {
		return nil
	}

	publisher.UpdatedAt = time.Now()
	columns := append(opts.Columns, "updated_at")

	_, err := svc.db.
		NewUpdate().
		Model(publisher).
		Column(columns...).
		WherePK().
		Exec(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return errcodes.NotFound("Publisher")
		}
		if strings.Contains(err.Error(), "UNIQUE constraint") {
			return errcodes.Conflict("Publisher", "name")
		}
		return errors.WithStack(err)
	}
	return nil
}

// DeletePublisher soft-deletes a publisher and clears publisher_id from all
// books that referenced it.
func (svc *Service) DeletePublisher(ctx context.Context, publisherID int) error {
	return svc.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		res, err := tx.NewDelete().
			Model((*models.Publisher)(nil)).
			Where("id = ?", publisherID).
			Exec(ctx)
		if err != nil {
			return errors.WithStack(err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return errcodes.NotFound("Publisher")
		}

		_, err = tx.NewUpdate().
			Model((*models.Book)(nil)).
			Set("publisher_id = NULL").
			Where("publisher_id = ?", publisherID).
			Exec(ctx)
		return errors.WithStack(err)
	})
}

// GetBookCount returns the count of books with this publisher.
func (svc *Service) GetBookCount(ctx context.Context, publisherID int) (int, error) {
	count, err := svc.db.NewSelect().
		Model((*models.Book)(nil)).
		Where("publisher_id = ?", publisherID).
		Count(ctx)
	return count, errors.WithStack(err)
}
