package members

import "time"

type CreateMemberPayload struct {
	FirstName string     `json:"first_name" mod:"trim" validate:"required,min=1,max=100"`
	LastName  string     `json:"last_name" mod:"trim" validate:"required,min=1,max=100"`
	Email     string     `json:"email" mod:"trim,lcase" validate:"required,email,max=254"`
	JoinedAt  *time.Time `json:"joined_at,omitempty"`
	Status    string     `json:"status,omitempty" default:"active" validate:"oneof=active suspended inactive"`
}

type setStatusPayload struct {
	Status string `json:"status" validate:"required,oneof=active suspended inactive"`
}
