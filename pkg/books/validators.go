package books

type CreateBookPayload struct {
	Title           string `json:"title" mod:"trim" validate:"required,min=1,max=500"`
	ISBN            string `json:"isbn" mod:"trim" validate:"required,isbn13,len=13"`
	PublicationYear *int   `json:"publication_year,omitempty" validate:"omitempty,min=0,max=2100"`
	GenreID         *int   `json:"genre_id,omitempty" validate:"omitempty,min=1"`
	PublisherID     *int   `json:"publisher_id,omitempty" validate:"omitempty,min=1"`
	TotalCopies     int    `json:"total_copies" validate:"min=0"`
	AuthorIDs       []int  `json:"author_ids,omitempty" validate:"omitempty,dive,min=1"`
}
