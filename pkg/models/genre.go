package models

import (
	"time"

	"github.com/uptrace/bun"
)

type Genre struct {
	bun.BaseModel `bun:"table:genres,alias:g"`

	ID        int        `bun:",pk,nullzero" json:"id"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	Name      string     `bun:",nullzero" json:"name"`
	DeletedAt *time.Time `bun:",soft_delete" json:"-"`

	BookCount int `bun:",scanonly" json:"book_count"`
}
