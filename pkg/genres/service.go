package genres

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

type RetrieveGenreOptions struct {
	ID   *int
	Name *string
}

type ListGenresOptions struct {
	Limit  *int
	Offset *int
	Search *string

	includeTotal bool
}

type UpdateGenreOptions struct {
	Columns []string
}

type Service struct {
	db *bun.DB
}

func NewService(db *bun.DB) *Service {
	return &Service{db}
}

func (svc *Service) CreateGenre(ctx context.Context, opts CreateGenrePayload) (*models.Genre, error) {
	if err := validate.Check(ctx, &opts); err != nil {
		return nil, err
	}

	now := time.Now()
	genre := &models.Genre{
		Name:      opts.Name,
		CreatedAt: now,
		UpdatedAt: now,
	}

	_, err := svc.db.
		NewInsert().
		Model(genre).
		Returning("*").
		Exec(ctx)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") {
			return nil, errcodes.Conflict("Genre", "name")
		}
		return nil, errors.WithStack(err)
	}

	return genre, nil
}

func (svc *Service) RetrieveGenre(ctx context.Context, opts RetrieveGenreOptions) (*models.Genre, error) {
	genre := &models.Genre{}

	q := svc.db.
		NewSelect().
		Model(genre)

	if opts.ID != nil {
		q = q.Where("g.id = ?", *opts.ID)
	}
	if opts.Name != nil {
		// Case-insensitive match
		q = q.Where("LOWER(g.name) = LOWER(?)", *opts.Name)
	}

	err := q.Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errcodes.NotFound("Genre")
		}
		return nil, errors.WithStack(err)
	}

	return genre, nil
}

func (svc *Service) ListGenres(ctx context.Context, opts ListGenresOptions) ([]*models.Genre, error) {
	g, _, err := svc.listGenresWithTotal(ctx, opts)
	return g, errors.WithStack(err)
}

func (svc *Service) ListGenresWithTotal(ctx context.Context, opts ListGenresOptions) ([]*models.Genre, int, error) {
	opts.includeTotal = true
	return svc.listGenresWithTotal(ctx, opts)
}

func (svc *Service) listGenresWithTotal(ctx context.Context, opts ListGenresOptions) ([]*models.Genre, int, error) {
	var genres []*models.Genre
	var total int
	var err error

	q := svc.db.
		NewSelect().
		Model(&genres).
		Order("g.name ASC")

	if opts.Search != nil && *opts.Search != "" {
		search := "%" + strings.ToLower(*opts.Search) + "%"
		q = q.Where("LOWER(g.name) LIKE ?", search)
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

	return genres, total, nil
}

func (svc *Service) UpdateGenre(ctx context.Context, genre *models.Genre, opts UpdateGenreOptions) error {
	if len(opts.Columns) == 0 {
		return nil
	}

	genre.UpdatedAt = time.Now()
	columns := append(opts.Columns, "updated_at")

	_, err := svc.db.
		NewUpdate().
		Model(genre).
		Column(columns...).
		WherePK().
		Exec(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return errcodes.NotFound("Genre")
		}
		if strings.Contains(err.Error(), "UNIQUE constraint") {
			return errcodes.Conflict("Genre", "name")
		}
		return errors.WithStack(err)
	}
	return nil
}

// DeleteGenre soft-deletes a genre and clears genre_id from all books that
// referenced it.
func (svc *Service) DeleteGenre(ctx context.Context, genreID int) error {
	return svc.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		res, err := tx.NewDelete().
			Model((*models.Genre)(nil)).
			Where("id = ?", genreID).
			Exec(ctx)
		if err != nil {
			return errors.WithStack(err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return errcodes.NotFound("Genre")
		}

		_, err = tx.NewUpdate().
			Model((*models.Book)(nil)).
			Set("genre_id = NULL").
			Where("genre_id = ?", genreID).
			Exec(ctx)
		return errors.WithStack(err)
	})
}

// GetBookCount returns the count of books in this genre.
func (svc *Service) GetBookCount(ctx context.Context, genreID int) (int, error) {
	count, err := svc.db.NewSelect().
		Model((*models.Book)(nil)).
		Where("genre_id = ?", genreID).
		Count(ctx)
	return count, errors.WithStack(err)
}
