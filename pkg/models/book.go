package models

import (
	"time"

	"github.com/uptrace/bun"
)

type Book struct {
	bun.BaseModel `bun:"table:books,alias:b"`

	ID              int        `bun:",pk,nullzero" json:"id"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
	Title           string     `bun:",nullzero" json:"title"`
	ISBN            string     `bun:"isbn,nullzero" json:"isbn"`
	PublicationYear *int       `json:"publication_year,omitempty"`
	GenreID         *int       `json:"genre_id,omitempty"`
	PublisherID     *int       `json:"publisher_id,omitempty"`
	TotalCopies     int        `json:"total_copies"`
	AvailableCopies int        `json:"available_copies"`
	DeletedAt       *time.Time `bun:",soft_delete" json:"-"`

	Genre     *Genre     `bun:"rel:belongs-to,join:genre_id=id" json:"genre,omitempty"`
	Publisher *Publisher `bun:"rel:belongs-to,join:publisher_id=id" json:"publisher,omitempty"`
	Authors   []*Author  `bun:"m2m:book_authors,join:Book=Author" json:"authors,omitempty"`
}

// OnLoan returns how many copies are currently checked out.
func (b *Book) OnLoan() int {
	return b.TotalCopies - b.AvailableCopies
}
