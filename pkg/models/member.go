package models

import (
	"time"

	"github.com/uptrace/bun"
)

// Membership status constants.
const (
	MemberStatusActive    = "active"
	MemberStatusSuspended = "suspended"
	MemberStatusInactive  = "inactive"
)

type Member struct {
	bun.BaseModel `bun:"table:members,alias:m"`

	ID        int       `bun:",pk,nullzero" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	FirstName string    `bun:",nullzero" json:"first_name"`
	LastName  string    `bun:",nullzero" json:"last_name"`
	Email     string    `bun:",nullzero" json:"email"`
	JoinedAt  time.Time `json:"joined_at"`
	Status    string    `bun:",nullzero,default:'active'" json:"status"`

	Loans        []*Loan        `bun:"rel:has-many,join:id=member_id" json:"loans,omitempty"`
	Reservations []*Reservation `bun:"rel:has-many,join:id=member_id" json:"reservations,omitempty"`
}

// CanBorrow reports whether the member is in good standing for new loans
// and reservations.
func (m *Member) CanBorrow() bool {
	return m.Status == MemberStatusActive
}
