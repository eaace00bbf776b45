package models

import (
	"time"

	"github.com/uptrace/bun"
)

// Reservation status constants.
const (
	ReservationStatusPending   = "pending"
	ReservationStatusAvailable = "available"
	ReservationStatusCancelled = "cancelled"
	ReservationStatusCompleted = "completed"
)

type Reservation struct {
	bun.BaseModel `bun:"table:reservations,alias:r"`

	ID         int        `bun:",pk,nullzero" json:"id"`
	UID        string     `bun:"uid,nullzero" json:"uid"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	MemberID   int        `bun:",nullzero" json:"member_id"`
	BookID     int        `bun:",nullzero" json:"book_id"`
	ReservedAt time.Time  `json:"reserved_at"`
	Status     string     `bun:",nullzero,default:'pending'" json:"status"`
	PickupBy   *time.Time `json:"pickup_by,omitempty"`

	Member *Member `bun:"rel:belongs-to,join:member_id=id" json:"member,omitempty"`
	Book   *Book   `bun:"rel:belongs-to,join:book_id=id" json:"book,omitempty"`
}

// Open reports whether the reservation is still waiting on or holding a
// copy.
func (r *Reservation) Open() bool {
	return r.Status == ReservationStatusPending || r.Status == ReservationStatusAvailable
}
