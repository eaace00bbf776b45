package books

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/shelfmark/shelfmark/pkg/errcodes"
	"github.com/shelfmark/shelfmark/pkg/integrity"
	"github.com/shelfmark/shelfmark/pkg/models"
	"github.com/shelfmark/shelfmark/pkg/validate"
	"github.com/uptrace/bun"
)

type RetrieveBookOptions struct {
	ID   *int
	ISBN *string

	IncludeAuthors   bool
	IncludeGenre     bool
	IncludePublisher bool
}

type ListBooksOptions struct {
	Limit         *int
	Offset        *int
	GenreID       *int
	PublisherID   *int
	AuthorID      *int
	AvailableOnly bool
	Search        *string

	includeTotal bool
}

type UpdateBookOptions struct {
	Columns []string
}

type Service struct {
	db *bun.DB
}

func NewService(db *bun.DB) *Service {
	return &Service{db}
}

func (svc *Service) CreateBook(ctx context.Context, opts CreateBookPayload) (*models.Book, error) {
	if err := validate.Check(ctx, &opts); err != nil {
		return nil, err
	}

	now := time.Now()
	book := &models.Book{
		Title:           opts.Title,
		ISBN:            opts.ISBN,
		PublicationYear: opts.PublicationYear,
		GenreID:         opts.GenreID,
		PublisherID:     opts.PublisherID,
		TotalCopies:     opts.TotalCopies,
		AvailableCopies: opts.TotalCopies,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := integrity.CheckBook(book); err != nil {
		return nil, err
	}

	err := svc.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		if opts.GenreID != nil {
			exists, err := tx.NewSelect().
				Model((*models.Genre)(nil)).
				Where("id = ?", *opts.GenreID).
				Exists(ctx)
			if err != nil {
				return errors.WithStack(err)
			}
			if !exists {
				return errcodes.NotFound("Genre")
			}
		}
		if opts.PublisherID != nil {
			exists, err := tx.NewSelect().
				Model((*models.Publisher)(nil)).
				Where("id = ?", *opts.PublisherID).
				Exists(ctx)
			if err != nil {
				return errors.WithStack(err)
			}
			if !exists {
				return errcodes.NotFound("Publisher")
			}
		}

		_, err := tx.NewInsert().
			Model(book).
			Returning("*").
			Exec(ctx)
		if err != nil {
			if strings.Contains(err.Error(), "UNIQUE constraint") {
				return errcodes.Conflict("Book", "isbn")
			}
			return errors.WithStack(err)
		}

		return svc.setAuthors(ctx, tx, book.ID, opts.AuthorIDs)
	})
	if err != nil {
		return nil, err
	}

	return book, nil
}

func (svc *Service) RetrieveBook(ctx context.Context, opts RetrieveBookOptions) (*models.Book, error) {
	book := &models.Book{}

	q := svc.db.
		NewSelect().
		Model(book)

	if opts.ID != nil {
		q = q.Where("b.id = ?", *opts.ID)
	}
	if opts.ISBN != nil {
		q = q.Where("b.isbn = ?", *opts.ISBN)
	}
	if opts.IncludeAuthors {
		q = q.Relation("Authors")
	}
	if opts.IncludeGenre {
		q = q.Relation("Genre")
	}
	if opts.IncludePublisher {
		q = q.Relation("Publisher")
	}

	err := q.Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errcodes.NotFound("Book")
		}
		return nil, errors.WithStack(err)
	}

	return book, nil
}

func (svc *Service) ListBooks(ctx context.Context, opts ListBooksOptions) ([]*models.Book, error) {
	b, _, err := svc.listBooksWithTotal(ctx, opts)
	return b, errors.WithStack(err)
}

func (svc *Service) ListBooksWithTotal(ctx context.Context, opts ListBooksOptions) ([]*models.Book, int, error) {
	opts.includeTotal = true
	return svc.listBooksWithTotal(ctx, opts)
}

func (svc *Service) listBooksWithTotal(ctx context.Context, opts ListBooksOptions) ([]*models.Book, int, error) {
	var books []*models.Book
	var total int
	var err error

	q := svc.db.
		NewSelect().
		Model(&books).
		Order("b.title ASC")

	if opts.GenreID != nil {
		q = q.Where("b.genre_id = ?", *opts.GenreID)
	}
	if opts.PublisherID != nil {
		q = q.Where("b.publisher_id = ?", *opts.PublisherID)
	}
	if opts.AuthorID != nil {
		q = q.Where("b.id IN (SELECT book_id FROM book_authors WHERE author_id = ?)", *opts.AuthorID)
	}
	if opts.AvailableOnly {
		q = q.Where("b.available_copies > 0")
	}
	if opts.Search != nil && *opts.Search != "" {
		search := "%" + strings.ToLower(*opts.Search) + "%"
		q = q.Where("(LOWER(b.title) LIKE ? OR b.isbn LIKE ?)", search, search)
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

	return books, total, nil
}

func (svc *Service) UpdateBook(ctx context.Context, book *models.Book, opts UpdateBookOptions) error {
	if len(opts.Columns) == 0 {
		return nil
	}
	if err := integrity.CheckBook(book); err != nil {
		return err
	}

	book.UpdatedAt = time.Now()
	columns := append(opts.Columns, "updated_at")

	_, err := svc.db.
		NewUpdate().
		Model(book).
		Column(columns...).
		WherePK().
		Exec(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return errcodes.NotFound("Book")
		}
		if strings.Contains(err.Error(), "UNIQUE constraint") {
			return errcodes.Conflict("Book", "isbn")
		}
		return errors.WithStack(err)
	}
	return nil
}

// SetAuthors replaces the book's author links with the given set.
func (svc *Service) SetAuthors(ctx context.Context, bookID int, authorIDs []int) error {
	return svc.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
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

		_, err = tx.NewDelete().
			Model((*models.BookAuthor)(nil)).
			Where("book_id = ?", bookID).
			Exec(ctx)
		if err != nil {
			return errors.WithStack(err)
		}

		return svc.setAuthors(ctx, tx, bookID, authorIDs)
	})
}

func (svc *Service) setAuthors(ctx context.Context, tx bun.Tx, bookID int, authorIDs []int) error {
	if len(authorIDs) == 0 {
		return nil
	}

	count, err := tx.NewSelect().
		Model((*models.Author)(nil)).
		Where("id IN (?)", bun.In(authorIDs)).
		Count(ctx)
	if err != nil {
		return errors.WithStack(err)
	}
	if count != len(authorIDs) {
		return errcodes.NotFound("Author")
	}

	links := make([]*models.BookAuthor, 0, len(authorIDs))
	for _, authorID := range authorIDs {
		links = append(links, &models.BookAuthor{BookID: bookID, AuthorID: authorID})
	}
	_, err = tx.NewInsert().
		Model(&links).
		Exec(ctx)
	return errors.WithStack(err)
}

// AdjustCopies changes a book's stock by delta, keeping the copy-count
// invariant inside a single guarded statement. A negative delta can't take
// either counter below zero.
func (svc *Service) AdjustCopies(ctx context.Context, bookID int, delta int) (*models.Book, error) {
	book := &models.Book{}
	err := svc.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		res, err := tx.NewUpdate().
			Model((*models.Book)(nil)).
			Set("total_copies = total_copies + ?", delta).
			Set("available_copies = available_copies + ?", delta).
			Set("updated_at = ?", time.Now()).
			Where("id = ?", bookID).
			Where("deleted_at IS NULL").
			Where("total_copies + ? >= 0", delta).
			Where("available_copies + ? >= 0", delta).
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
			return errcodes.ValidationError(`"total_copies" can't drop below the number of copies on loan`)
		}

		err = tx.NewSelect().
			Model(book).
			Where("b.id = ?", bookID).
			Scan(ctx)
		if err != nil {
			return errors.WithStack(err)
		}
		return integrity.CheckBook(book)
	})
	if err != nil {
		return nil, err
	}
	return book, nil
}

// DeleteBook soft-deletes a book. The delete is blocked while open loans or
// reservations still reference the book; author links go with it.
func (svc *Service) DeleteBook(ctx context.Context, bookID int) error {
	return svc.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		openLoans, err := tx.NewSelect().
			Model((*models.Loan)(nil)).
			Where("book_id = ? AND status = ?", bookID, models.LoanStatusActive).
			Count(ctx)
		if err != nil {
			return errors.WithStack(err)
		}
		if openLoans > 0 {
			return errcodes.ReferentialBlock("Book", "active loans")
		}

		openReservations, err := tx.NewSelect().
			Model((*models.Reservation)(nil)).
			Where("book_id = ? AND status IN (?)", bookID, bun.In([]string{
				models.ReservationStatusPending,
				models.ReservationStatusAvailable,
			})).
			Count(ctx)
		if err != nil {
			return errors.WithStack(err)
		}
		if openReservations > 0 {
			return errcodes.ReferentialBlock("Book", "open reservations")
		}

		res, err := tx.NewDelete().
			Model((*models.Book)(nil)).
			Where("id = ?", bookID).
			Exec(ctx)
		if err != nil {
			return errors.WithStack(err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return errcodes.NotFound("Book")
		}

		_, err = tx.NewDelete().
			Model((*models.BookAuthor)(nil)).
			Where("book_id = ?", bookID).
			Exec(ctx)
		return errors.WithStack(err)
	})
}
