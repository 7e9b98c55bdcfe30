package models

import (
	"time"

	"github.com/uptrace/bun"
)

// SyncStateID is the primary key of the singleton sync_state row.
const SyncStateID = 1

// SyncState is a single-row table tracking this device's sync bookkeeping.
// device_id is assigned once when the row is created and never changes.
type SyncState struct {
	bun.BaseModel `bun:"table:sync_state,alias:ss"`

	ID               int        `bun:",pk" json:"id"`
	DeviceID         string     `bun:",notnull" json:"device_id"`
	LastSyncAt       *time.Time `json:"last_sync_at,omitempty"`
	LastSyncDevice   *string    `json:"last_sync_device,omitempty"`
	RemoteSnapshotID *string    `json:"remote_snapshot_id,omitempty"`
}
