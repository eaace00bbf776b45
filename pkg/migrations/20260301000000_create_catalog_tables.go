package migrations

import (
	"context"

	"github.com/pkg/errors"
	"github.com/uptrace/bun"
)

func init() {
	up := func(_ context.Context, db *bun.DB) error {
		_, err := db.Exec(`
			CREATE TABLE authors (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
				updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
				first_name TEXT NOT NULL,
				last_name TEXT NOT NULL,
				biography TEXT,
				deleted_at TIMESTAMPTZ
			)
`)
		if err != nil {
			return errors.WithStack(err)
		}
		_, err = db.Exec(`
			CREATE TABLE genres (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
				updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
				name TEXT NOT NULL,
				deleted_at TIMESTAMPTZ
			)
`)
		if err != nil {
			return errors.WithStack(err)
		}
		// Case-insensitive unique constraint (only for non-deleted records)
		_, err = db.Exec(`CREATE UNIQUE INDEX ux_genres_name ON genres (name COLLATE NOCASE) WHERE deleted_at IS NULL`)
		if err != nil {
			return errors.WithStack(err)
		}
		_, err = db.Exec(`
			CREATE TABLE publishers (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
				updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
				name TEXT NOT NULL,
				address TEXT,
				deleted_at TIMESTAMPTZ
			)
`)
		if err != nil {
			return errors.WithStack(err)
		}
		_, err = db.Exec(`CREATE UNIQUE INDEX ux_publishers_name ON publishers (name COLLATE NOCASE) WHERE deleted_at IS NULL`)
		if err != nil {
			return errors.WithStack(err)
		}
		_, err = db.Exec(`
			CREATE TABLE books (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
				updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
				title TEXT NOT NULL,
				isbn TEXT NOT NULL,
				publication_year INTEGER,
				genre_id INTEGER REFERENCES genres (id),
				publisher_id INTEGER REFERENCES publishers (id),
				total_copies INTEGER NOT NULL DEFAULT 0 CHECK (total_copies >= 0),
				available_copies INTEGER NOT NULL DEFAULT 0 CHECK (available_copies >= 0 AND available_copies <= total_copies),
				deleted_at TIMESTAMPTZ
			)
`)
		if err != nil {
			return errors.WithStack(err)
		}
		_, err = db.Exec(`CREATE UNIQUE INDEX ux_books_isbn ON books (isbn) WHERE deleted_at IS NULL`)
		if err != nil {
			return errors.WithStack(err)
		}
		_, err = db.Exec(`CREATE INDEX ix_books_genre_id ON books (genre_id)`)
		if err != nil {
			return errors.WithStack(err)
		}
		_, err = db.Exec(`CREATE INDEX ix_books_publisher_id ON books (publisher_id)`)
		if err != nil {
			return errors.WithStack(err)
		}
		_, err = db.Exec(`
			CREATE TABLE book_authors (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				book_id INTEGER NOT NULL REFERENCES books (id) ON DELETE CASCADE,
				author_id INTEGER NOT NULL REFERENCES authors (id) ON DELETE CASCADE,
				UNIQUE (book_id, author_id)
			)
`)
		if err != nil {
			return errors.WithStack(err)
		}
		_, err = db.Exec(`CREATE INDEX ix_book_authors_author_id ON book_authors (author_id)`)
		if err != nil {
			return errors.WithStack(err)
		}
		_, err = db.Exec(`
			CREATE TABLE members (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
				updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
				first_name TEXT NOT NULL,
				last_name TEXT NOT NULL,
				email TEXT NOT NULL,
				joined_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
				status TEXT NOT NULL DEFAULT 'active' CHECK (status IN ('active', 'suspended', 'inactive'))
			)
`)
		if err != nil {
			return errors.WithStack(err)
		}
		// Members are hard-deleted so the loan/reservation cascade can
		// fire; inactive accounts are a status, not a soft delete.
		_, err = db.Exec(`CREATE UNIQUE INDEX ux_members_email ON members (email COLLATE NOCASE)`)
		if err != nil {
			return errors.WithStack(err)
		}
		// Book deletes are RESTRICTed in the service layer (soft delete
		// blocked by open circulation records), so only member_id carries
		// a cascade.
		_, err = db.Exec(`
			CREATE TABLE loans (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				uid TEXT NOT NULL UNIQUE,
				created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
				updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
				member_id INTEGER NOT NULL REFERENCES members (id) ON DELETE CASCADE,
				book_id INTEGER NOT NULL REFERENCES books (id),
				loan_date TIMESTAMPTZ NOT NULL,
				due_date TIMESTAMPTZ NOT NULL CHECK (due_date >= loan_date),
				return_date TIMESTAMPTZ CHECK (return_date IS NULL OR return_date >= loan_date),
				status TEXT NOT NULL DEFAULT 'active' CHECK (status IN ('active', 'returned', 'lost')),
				fine_cents INTEGER NOT NULL DEFAULT 0
			)
`)
		if err != nil {
			return errors.WithStack(err)
		}
		_, err = db.Exec(`CREATE INDEX ix_loans_member_id ON loans (member_id)`)
		if err != nil {
			return errors.WithStack(err)
		}
		_, err = db.Exec(`CREATE INDEX ix_loans_book_id_status ON loans (book_id, status)`)
		if err != nil {
			return errors.WithStack(err)
		}
		_, err = db.Exec(`
			CREATE TABLE reservations (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				uid TEXT NOT NULL UNIQUE,
				created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
				updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
				member_id INTEGER NOT NULL REFERENCES members (id) ON DELETE CASCADE,
				book_id INTEGER NOT NULL REFERENCES books (id),
				reserved_at TIMESTAMPTZ NOT NULL,
				status TEXT NOT NULL DEFAULT 'pending' CHECK (status IN ('pending', 'available', 'cancelled', 'completed')),
				pickup_by TIMESTAMPTZ
			)
`)
		if err != nil {
			return errors.WithStack(err)
		}
		_, err = db.Exec(`CREATE INDEX ix_reservations_member_id ON reservations (member_id)`)
		if err != nil {
			return errors.WithStack(err)
		}
		// Promotion picks the oldest pending reservation per book.
		_, err = db.Exec(`CREATE INDEX ix_reservations_book_id_status_reserved_at ON reservations (book_id, status, reserved_at)`)
		return errors.WithStack(err)
	}
	down := func(ctx context.Context, db *bun.DB) error {
		for _, table := range []string{"reservations", "loans", "members", "book_authors", "books", "publishers", "genres", "authors"} {
			_, err := db.NewDropTable().Table(table).IfExists().Exec(ctx)
			if err != nil {
				return errors.WithStack(err)
			}
		}
		return nil
	}

	Migrations.MustRegister(up, down)
}
