package publishers

type CreatePublisherPayload struct {
	Name    string  `json:"name" mod:"trim" validate:"required,min=1,max=300"`
	Address *string `json:"address,omitempty" mod:"trim" validate:"omitempty,max=500"`
}
