package library

type ImportBookPayload struct {
	FilePath string  `json:"file_path" validate:"required,max=1000"`
	Title    *string `json:"title,omitempty" validate:"omitempty,max=300"`
}

type ListBooksQuery struct {
	Limit         int     `query:"limit" json:"limit,omitempty" default:"50" validate:"min=1,max=200"`
	Offset        int     `query:"offset" json:"offset,omitempty" validate:"min=0"`
	Favorite      *bool   `query:"favorite" json:"favorite,omitempty"`
	ReadingStatus *string `query:"reading_status" json:"reading_status,omitempty" validate:"omitempty,oneof=unread reading finished"`
}

type UpdateBookPayload struct {
	Title         *string `json:"title,omitempty" validate:"omitempty,max=300"`
	Favorite      *bool   `json:"favorite,omitempty"`
	ReadingStatus *string `json:"reading_status,omitempty" validate:"omitempty,oneof=unread reading finished"`
	TotalPages    *int    `json:"total_pages,omitempty" validate:"omitempty,min=0"`
}

type UpdateProgressPayload struct {
	CurrentPage int `json:"current_page" validate:"min=0"`
}

type CreateBookmarkPayload struct {
	Name *string `json:"name,omitempty" validate:"omitempty,max=200"`
	Page int     `json:"page" validate:"min=0"`
}

type CreateGroupPayload struct {
	Name        string  `json:"name" validate:"required,max=200"`
	Description *string `json:"description,omitempty" validate:"omitempty,max=1000"`
}

type UpdateGroupPayload struct {
	Name        *string `json:"name,omitempty" validate:"omitempty,max=200"`
	Description *string `json:"description,omitempty" validate:"omitempty,max=1000"`
}

type AddGroupItemPayload struct {
	BookIdentity string `json:"book_identity" validate:"required,uuid4"`
	Position     int    `json:"position" validate:"min=0"`
}

type UpdateBookSettingsPayload struct {
	ReadingDirection *string `json:"reading_direction,omitempty" validate:"omitempty,oneof=ltr rtl vertical"`
	PageDisplayMode  *string `json:"page_display_mode,omitempty" validate:"omitempty,oneof=single double"`
	ImageFitMode     *string `json:"image_fit_mode,omitempty" validate:"omitempty,oneof=fit-width fit-height original"`
	ReaderBackground *string `json:"reader_background,omitempty" validate:"omitempty,oneof=black gray white"`
}
