package sync

import (
	gosync "sync"
	"time"
)

const (
	StateNeverSynced = "never_synced"
	StateSyncing     = "syncing"
	StateSynced      = "synced"
	StateFailed      = "failed"
	StateDisabled    = "disabled"
)

// SyncStatus is what the presentation shell polls to render the sync
// indicator.
type SyncStatus struct {
	State      string     `json:"state"`
	LastSyncAt *time.Time `json:"last_sync_at,omitempty"`
	LastError  *string    `json:"last_error,omitempty"`
}

// statusPublisher remembers the outcome of the most recent sync pass. A
// failure keeps the previous successful last_sync_at; the next success
// clears it.
type statusPublisher struct {
	mu        gosync.Mutex
	lastError *string
}

func (p *statusPublisher) setError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	msg := err.Error()
	p.lastError = &msg
}

func (p *statusPublisher) clearError() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastError = nil
}

func (p *statusPublisher) getError() *string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastError
}
