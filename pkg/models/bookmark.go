package models

import (
	"time"

	"github.com/uptrace/bun"
)

type Bookmark struct {
	bun.BaseModel `bun:"table:bookmarks,alias:bm"`

	ID           int        `bun:",pk,autoincrement" json:"id"`
	Identity     string     `bun:",notnull,unique" json:"identity"`
	CreatedAt    time.Time  `bun:",nullzero,notnull,default:current_timestamp" json:"created_at"`
	UpdatedAt    time.Time  `bun:",nullzero,notnull" json:"updated_at"`
	DeletedAt    *time.Time `json:"deleted_at,omitempty"`
	BookIdentity string     `bun:",notnull" json:"book_identity"`
	Name         *string    `json:"name,omitempty"`
	Page         int        `bun:",notnull,default:0" json:"page"`
}

func (bm *Bookmark) SyncIdentity() string      { return bm.Identity }
func (bm *Bookmark) SyncUpdatedAt() time.Time  { return bm.UpdatedAt }
func (bm *Bookmark) SyncDeletedAt() *time.Time { return bm.DeletedAt }
