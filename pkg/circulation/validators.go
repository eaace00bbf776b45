package circulation

import "time"

type CheckoutPayload struct {
	MemberID int        `json:"member_id" validate:"required,min=1"`
	BookID   int        `json:"book_id" validate:"required,min=1"`
	LoanDate *time.Time `json:"loan_date,omitempty"`
	DueDate  *time.Time `json:"due_date,omitempty"`
}

type ReturnPayload struct {
	ReturnedAt *time.Time `json:"returned_at,omitempty"`
}

type ReservePayload struct {
	MemberID int `json:"member_id" validate:"required,min=1"`
	BookID   int `json:"book_id" validate:"required,min=1"`
}
