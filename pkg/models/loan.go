package models

import (
	"time"

	"github.com/uptrace/bun"
)

// Persisted loan status constants. Overdue is intentionally absent: it is
// derived from the due date on read, never stored, so it can't drift.
const (
	LoanStatusActive   = "active"
	LoanStatusReturned = "returned"
	LoanStatusLost     = "lost"
)

// LoanStatusOverdue is a derived status returned by StatusAt. It never
// appears in the status column.
const LoanStatusOverdue = "overdue"

type Loan struct {
	bun.BaseModel `bun:"table:loans,alias:ln"`

	ID         int        `bun:",pk,nullzero" json:"id"`
	UID        string     `bun:"uid,nullzero" json:"uid"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	MemberID   int        `bun:",nullzero" json:"member_id"`
	BookID     int        `bun:",nullzero" json:"book_id"`
	LoanDate   time.Time  `json:"loan_date"`
	DueDate    time.Time  `json:"due_date"`
	ReturnDate *time.Time `json:"return_date,omitempty"`
	Status     string     `bun:",nullzero,default:'active'" json:"status"`
	FineCents  int64      `json:"fine_cents"`

	Member *Member `bun:"rel:belongs-to,join:member_id=id" json:"member,omitempty"`
	Book   *Book   `bun:"rel:belongs-to,join:book_id=id" json:"book,omitempty"`
}

// Open reports whether the loan still holds a copy (i.e. it hasn't reached
// a terminal state).
func (l *Loan) Open() bool {
	return l.Status == LoanStatusActive
}

// Overdue reports whether the loan is past due at the given time.
func (l *Loan) Overdue(now time.Time) bool {
	return l.Status == LoanStatusActive && now.After(l.DueDate)
}

// StatusAt returns the effective status at the given time, deriving
// overdue from the due date.
func (l *Loan) StatusAt(now time.Time) string {
	if l.Overdue(now) {
		return LoanStatusOverdue
	}
	return l.Status
}

// DaysOverdue returns whole days past due at the given time, zero if the
// loan isn't overdue. A returned loan counts days between due and return.
func (l *Loan) DaysOverdue(now time.Time) int {
	end := now
	if l.ReturnDate != nil {
		end = *l.ReturnDate
	}
	if !end.After(l.DueDate) {
		return 0
	}
	return int(end.Sub(l.DueDate).Hours() / 24)
}
