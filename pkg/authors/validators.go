package authors

type CreateAuthorPayload struct {
	FirstName string  `json:"first_name" mod:"trim" validate:"required,min=1,max=100"`
	LastName  string  `json:"last_name" mod:"trim" validate:"required,min=1,max=100"`
	Biography *string `json:"biography,omitempty" mod:"trim" validate:"omitempty,max=5000"`
}
