package models

import (
	"time"

	"github.com/uptrace/bun"
)

type Group struct {
	bun.BaseModel `bun:"table:groups,alias:g"`

	ID          int        `bun:",pk,autoincrement" json:"id"`
	Identity    string     `bun:",notnull,unique" json:"identity"`
	CreatedAt   time.Time  `bun:",nullzero,notnull,default:current_timestamp" json:"created_at"`
	UpdatedAt   time.Time  `bun:",nullzero,notnull" json:"updated_at"`
	DeletedAt   *time.Time `json:"deleted_at,omitempty"`
	Name        string     `bun:",nullzero" json:"name"`
	Description *string    `json:"description,omitempty"`
}

func (g *Group) SyncIdentity() string      { return g.Identity }
func (g *Group) SyncUpdatedAt() time.Time  { return g.UpdatedAt }
func (g *Group) SyncDeletedAt() *time.Time { return g.DeletedAt }
