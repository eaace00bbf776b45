package genres

type CreateGenrePayload struct {
	Name string `json:"name" mod:"trim" validate:"required,min=1,max=100"`
}
