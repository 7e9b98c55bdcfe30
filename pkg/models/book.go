package models

import (
	"strings"
	"time"

	"github.com/uptrace/bun"
)

const (
	ReadingStatusUnread   = "unread"
	ReadingStatusReading  = "reading"
	ReadingStatusFinished = "finished"
)

// CloudFilePathPrefix marks a book whose archive only exists in the remote
// snapshot store. The suffix is the book's sync identity.
const CloudFilePathPrefix = "cloud://"

type Book struct {
	bun.BaseModel `bun:"table:books,alias:b"`

	ID            int        `bun:",pk,autoincrement" json:"id"`
	Identity      string     `bun:",notnull,unique" json:"identity"`
	CreatedAt     time.Time  `bun:",nullzero,notnull,default:current_timestamp" json:"created_at"`
	UpdatedAt     time.Time  `bun:",nullzero,notnull" json:"updated_at"`
	DeletedAt     *time.Time `json:"deleted_at,omitempty"`
	Title         string     `bun:",nullzero" json:"title"`
	Filename      string     `bun:",nullzero" json:"filename"`
	FilePath      string     `bun:",nullzero" json:"file_path"`
	FileHash      *string    `json:"file_hash,omitempty"`
	FileSize      *int64     `json:"file_size,omitempty"`
	CurrentPage   int        `bun:",notnull,default:0" json:"current_page"`
	TotalPages    int        `bun:",notnull,default:0" json:"total_pages"`
	Favorite      bool       `bun:",notnull,default:false" json:"favorite"`
	ReadingStatus string     `bun:",notnull,default:'unread'" json:"reading_status"`
	LastReadAt    *time.Time `json:"last_read_at,omitempty"`
}

// IsCloudOnly reports whether the book's archive hasn't been downloaded to
// this device yet.
func (b *Book) IsCloudOnly() bool {
	return strings.HasPrefix(b.FilePath, CloudFilePathPrefix)
}

func (b *Book) SyncIdentity() string      { return b.Identity }
func (b *Book) SyncUpdatedAt() time.Time  { return b.UpdatedAt }
func (b *Book) SyncDeletedAt() *time.Time { return b.DeletedAt }
