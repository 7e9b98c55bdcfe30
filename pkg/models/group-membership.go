package models

import (
	"time"

	"github.com/uptrace/bun"
)

type GroupMembership struct {
	bun.BaseModel `bun:"table:group_memberships,alias:gm"`

	ID            int        `bun:",pk,autoincrement" json:"id"`
	Identity      string     `bun:",notnull,unique" json:"identity"`
	CreatedAt     time.Time  `bun:",nullzero,notnull,default:current_timestamp" json:"created_at"`
	UpdatedAt     time.Time  `bun:",nullzero,notnull" json:"updated_at"`
	DeletedAt     *time.Time `json:"deleted_at,omitempty"`
	GroupIdentity string     `bun:",notnull" json:"group_identity"`
	BookIdentity  string     `bun:",notnull" json:"book_identity"`
	Position      int        `bun:",notnull,default:0" json:"position"`
}

func (gm *GroupMembership) SyncIdentity() string      { return gm.Identity }
func (gm *GroupMembership) SyncUpdatedAt() time.Time  { return gm.UpdatedAt }
func (gm *GroupMembership) SyncDeletedAt() *time.Time { return gm.DeletedAt }
