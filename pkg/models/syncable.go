package models

import "time"

// Syncable is implemented by every entity that participates in snapshot sync.
// Identity is a v4 UUID assigned at creation and never reassigned. UpdatedAt
// is bumped on every mutation, including soft deletes.
type Syncable interface {
	SyncIdentity() string
	SyncUpdatedAt() time.Time
	SyncDeletedAt() *time.Time
}
