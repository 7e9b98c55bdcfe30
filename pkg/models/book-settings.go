package models

import (
	"time"

	"github.com/uptrace/bun"
)

const (
	ReadingDirectionLTR      = "ltr"
	ReadingDirectionRTL      = "rtl"
	ReadingDirectionVertical = "vertical"

	PageDisplaySingle = "single"
	PageDisplayDouble = "double"

	ImageFitWidth    = "fit-width"
	ImageFitHeight   = "fit-height"
	ImageFitOriginal = "original"

	ReaderBackgroundBlack = "black"
	ReaderBackgroundGray  = "gray"
	ReaderBackgroundWhite = "white"
)

// BookSettings holds per-book reader preferences, keyed by the book's sync
// identity so settings follow the book across devices. book_identity is not
// unique at the schema level: two devices can each mint a row for the same
// book before syncing, and the merge tombstones the loser rather than the
// insert failing.
type BookSettings struct {
	bun.BaseModel `bun:"table:book_settings,alias:bs"`

	ID               int        `bun:",pk,autoincrement" json:"id"`
	Identity         string     `bun:",notnull,unique" json:"identity"`
	CreatedAt        time.Time  `bun:",nullzero,notnull,default:current_timestamp" json:"created_at"`
	UpdatedAt        time.Time  `bun:",nullzero,notnull" json:"updated_at"`
	DeletedAt        *time.Time `json:"deleted_at,omitempty"`
	BookIdentity     string     `bun:",notnull" json:"book_identity"`
	ReadingDirection string     `bun:",notnull,default:'ltr'" json:"reading_direction"`
	PageDisplayMode  string     `bun:",notnull,default:'single'" json:"page_display_mode"`
	ImageFitMode     string     `bun:",notnull,default:'fit-height'" json:"image_fit_mode"`
	ReaderBackground string     `bun:",notnull,default:'black'" json:"reader_background"`
}

// DefaultBookSettings returns BookSettings with default values.
func DefaultBookSettings() *BookSettings {
	return &BookSettings{
		ReadingDirection: ReadingDirectionLTR,
		PageDisplayMode:  PageDisplaySingle,
		ImageFitMode:     ImageFitHeight,
		ReaderBackground: ReaderBackgroundBlack,
	}
}

func (bs *BookSettings) SyncIdentity() string      { return bs.Identity }
func (bs *BookSettings) SyncUpdatedAt() time.Time  { return bs.UpdatedAt }
func (bs *BookSettings) SyncDeletedAt() *time.Time { return bs.DeletedAt }
