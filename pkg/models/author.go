package models

import (
	"time"

	"github.com/uptrace/bun"
)

type Author struct {
	bun.BaseModel `bun:"table:authors,alias:a"`

	ID        int        `bun:",pk,nullzero" json:"id"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	FirstName string     `bun:",nullzero" json:"first_name"`
	LastName  string     `bun:",nullzero" json:"last_name"`
	Biography *string    `json:"biography,omitempty"`
	DeletedAt *time.Time `bun:",soft_delete" json:"-"`

	Books []*Book `bun:"m2m:book_authors,join:Author=Book" json:"books,omitempty"`
}

// BookAuthor joins books to authors. Deleting either side cascades the link.
type BookAuthor struct {
	bun.BaseModel `bun:"table:book_authors,alias:ba"`

	ID       int     `bun:",pk,nullzero" json:"id"`
	BookID   int     `bun:",nullzero" json:"book_id"`
	AuthorID int     `bun:",nullzero" json:"author_id"`
	Book     *Book   `bun:"rel:belongs-to,join:book_id=id" json:"book,omitempty"`
	Author   *Author `bun:"rel:belongs-to,join:author_id=id" json:"author,omitempty"`
}
