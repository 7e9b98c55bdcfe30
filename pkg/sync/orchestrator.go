package sync

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/kumoshelf/kumoshelf/pkg/auth"
	"github.com/kumoshelf/kumoshelf/pkg/config"
	"github.com/kumoshelf/kumoshelf/pkg/drive"
	"github.com/kumoshelf/kumoshelf/pkg/errcodes"
	"github.com/kumoshelf/kumoshelf/pkg/library"
	"github.com/kumoshelf/kumoshelf/pkg/models"
	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/logger"
	"github.com/uptrace/bun"
)

// SyncCounters tallies one entity category's outcome. Conflicts are counted
// separately from uploads and downloads.
type SyncCounters struct {
	Uploaded          int `json:"uploaded"`
	Downloaded        int `json:"downloaded"`
	ConflictsResolved int `json:"conflicts_resolved"`
}

// SyncResult summarizes one sync pass, broken out per entity category with
// aggregate totals alongside. Errors holds the entity types that were skipped
// without failing the pass; whatever did succeed is committed and pushed.
type SyncResult struct {
	Books            SyncCounters `json:"books"`
	Bookmarks        SyncCounters `json:"bookmarks"`
	Groups           SyncCounters `json:"groups"`
	GroupMemberships SyncCounters `json:"group_memberships"`
	BookSettings     SyncCounters `json:"book_settings"`

	Uploaded          int      `json:"uploaded"`
	Downloaded        int      `json:"downloaded"`
	ConflictsResolved int      `json:"conflicts_resolved"`
	Errors            []string `json:"errors,omitempty"`
}

func (r *SyncResult) count(c *SyncCounters, uploads, downloads, conflicts int) {
	c.Uploaded += uploads
	c.Downloaded += downloads
	c.ConflictsResolved += conflicts
	r.Uploaded += uploads
	r.Downloaded += downloads
	r.ConflictsResolved += conflicts
}

func (r *SyncResult) skip(entityType string, err error) {
	r.Errors = append(r.Errors, entityType+": "+err.Error())
}

// remoteStore is the slice of the Drive client the orchestrator depends on.
type remoteStore interface {
	FetchSnapshot(ctx context.Context, cachedID string) ([]byte, string, error)
	PushSnapshot(ctx context.Context, data []byte, fileID string) (string, error)
	FetchItemPayload(ctx context.Context, identity string) ([]byte, error)
	PushItemPayload(ctx context.Context, identity string, data []byte) error
	DeleteItemPayload(ctx context.Context, identity string) error
}

// Service runs the pull-merge-push cycle. At most one pass runs at a time;
// a second request while one is in flight is rejected, not queued.
type Service struct {
	cfg            *config.Config
	libraryService *library.Service
	authService    *auth.Service
	driveClient    remoteStore
	log            logger.Logger

	running atomic.Bool
	status  statusPublisher
}

func NewService(cfg *config.Config, db *bun.DB, authService *auth.Service) *Service {
	return &Service{
		cfg:            cfg,
		libraryService: library.NewService(db),
		authService:    authService,
		driveClient:    drive.NewClient(cfg, authService),
		log:            logger.New(),
	}
}

func (s *Service) enabled() bool {
	return s.cfg.UserConfig.SyncEnabled && s.authService.IsSignedIn()
}

// Status derives the published state. Disabled pre-empts everything and
// never touches the network.
func (s *Service) Status(ctx context.Context) (*SyncStatus, error) {
	if !s.enabled() {
		return &SyncStatus{State: StateDisabled}, nil
	}

	state, err := s.libraryService.RetrieveSyncState(ctx)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	if s.running.Load() {
		return &SyncStatus{State: StateSyncing, LastSyncAt: state.LastSyncAt}, nil
	}
	if lastError := s.status.getError(); lastError != nil {
		return &SyncStatus{State: StateFailed, LastSyncAt: state.LastSyncAt, LastError: lastError}, nil
	}
	if state.LastSyncAt == nil {
		return &SyncStatus{State: StateNeverSynced}, nil
	}
	return &SyncStatus{State: StateSynced, LastSyncAt: state.LastSyncAt}, nil
}

// SyncNow runs one pull-merge-push pass.
func (s *Service) SyncNow(ctx context.Context) (*SyncResult, error) {
	if !s.enabled() {
		return nil, errcodes.SyncDisabled()
	}

	if !s.running.CompareAndSwap(false, true) {
		return nil, errcodes.SyncInProgress()
	}
	defer s.running.Store(false)

	start := time.Now()
	result, err := s.run(ctx, start)
	if err != nil {
		s.status.setError(err)
		s.log.Err(err).Error("sync failed")
		return nil, err
	}

	s.status.clearError()
	s.log.Info("sync finished", logger.Data{
		"uploaded":   result.Uploaded,
		"downloaded": result.Downloaded,
		"conflicts":  result.ConflictsResolved,
		"errors":     len(result.Errors),
		"duration":   time.Since(start).String(),
	})
	return result, nil
}

func (s *Service) run(ctx context.Context, start time.Time) (*SyncResult, error) {
	state, err := s.libraryService.RetrieveSyncState(ctx)
	if err != nil {
		return nil, err
	}

	lastSync := time.Time{}
	if state.LastSyncAt != nil {
		lastSync = *state.LastSyncAt
	}

	cachedID := ""
	if state.RemoteSnapshotID != nil {
		cachedID = *state.RemoteSnapshotID
	}

	data, fileID, err := s.driveClient.FetchSnapshot(ctx, cachedID)
	if err != nil {
		return nil, err
	}

	remote := &Snapshot{Version: SnapshotVersion}
	if data != nil {
		remote, err = UnmarshalSnapshot(data)
		if err != nil {
			return nil, err
		}
	}

	result := &SyncResult{}
	merged := &Snapshot{
		Version:     SnapshotVersion,
		GeneratedAt: time.Now().UTC(),
		DeviceID:    state.DeviceID,
	}

	syncLibrary := s.cfg.UserConfig.SyncLibrary
	syncProgress := s.cfg.UserConfig.SyncReadingProgress

	// A failed entity type is reported and carried over from the remote side
	// unchanged; it never takes the rest of the pass down with it.

	// Books take part when either library or progress sync is on; progress-
	// only mode restricts what gets written locally.
	if syncLibrary || syncProgress {
		merged.Books = s.mergeBooks(ctx, remote.Books, lastSync, syncLibrary, result)
	} else {
		merged.Books = remote.Books
	}

	if syncLibrary {
		merged.Bookmarks = s.mergeBookmarks(ctx, remote.Bookmarks, lastSync, result)
		merged.Groups = s.mergeGroups(ctx, remote.Groups, lastSync, result)
		merged.GroupMemberships = s.mergeGroupMemberships(ctx, remote.GroupMemberships, lastSync, result)
		merged.BookSettings = s.mergeBookSettings(ctx, remote.BookSettings, lastSync, result)
	} else {
		merged.Bookmarks = remote.Bookmarks
		merged.Groups = remote.Groups
		merged.GroupMemberships = remote.GroupMemberships
		merged.BookSettings = remote.BookSettings
	}

	if s.cfg.UserConfig.SyncPayloadFiles && syncLibrary {
		s.syncPayloads(ctx, lastSync, result)
	}

	// Local state is committed; finish the push even if the caller's context
	// is canceled from here on.
	pushCtx := context.WithoutCancel(ctx)

	snapshotData, err := MarshalSnapshot(merged)
	if err != nil {
		return nil, err
	}
	newFileID, err := s.driveClient.PushSnapshot(pushCtx, snapshotData, fileID)
	if err != nil {
		return nil, err
	}

	now := start
	state.LastSyncAt = &now
	state.LastSyncDevice = &state.DeviceID
	state.RemoteSnapshotID = &newFileID
	if err := s.libraryService.UpdateSyncState(pushCtx, state); err != nil {
		return nil, err
	}

	return result, nil
}

// mergeBooks merges the book set. With full library sync, merged remote
// versions are applied wholesale; in progress-only mode just the reading
// progress of locally present books is written.
func (s *Service) mergeBooks(ctx context.Context, remote []*BookVersion, lastSync time.Time, fullApply bool, result *SyncResult) []*BookVersion {
	localBooks, err := s.libraryService.SnapshotBooks(ctx, time.Time{})
	if err != nil {
		result.skip("books", err)
		return remote
	}

	existing := make(map[string]*models.Book, len(localBooks))
	local := make([]*BookVersion, 0, len(localBooks))
	for _, b := range localBooks {
		existing[b.Identity] = b
		local = append(local, NewBookVersion(b))
	}

	r, err := Merge("books", local, remote, lastSync)
	if err != nil {
		result.skip("books", err)
		return remote
	}

	toApply := make([]*models.Book, 0, len(r.ToApply))
	for _, v := range r.ToApply {
		toApply = append(toApply, v.Model(existing[v.Identity]))
	}

	if fullApply {
		err = s.libraryService.ApplyBooks(ctx, toApply)
	} else {
		err = s.libraryService.ApplyBookProgress(ctx, toApply)
	}
	if err != nil {
		result.skip("books", err)
		return remote
	}

	result.count(&result.Books, r.Uploads, r.Downloads, r.Conflicts)
	return r.Merged
}

func (s *Service) mergeBookmarks(ctx context.Context, remote []*BookmarkVersion, lastSync time.Time, result *SyncResult) []*BookmarkVersion {
	localRows, err := s.libraryService.SnapshotBookmarks(ctx, time.Time{})
	if err != nil {
		result.skip("bookmarks", err)
		return remote
	}

	existing := make(map[string]*models.Bookmark, len(localRows))
	local := make([]*BookmarkVersion, 0, len(localRows))
	for _, row := range localRows {
		existing[row.Identity] = row
		local = append(local, NewBookmarkVersion(row))
	}

	r, err := Merge("bookmarks", local, remote, lastSync)
	if err != nil {
		result.skip("bookmarks", err)
		return remote
	}

	toApply := make([]*models.Bookmark, 0, len(r.ToApply))
	for _, v := range r.ToApply {
		toApply = append(toApply, v.Model(existing[v.Identity]))
	}
	if err := s.libraryService.ApplyBookmarks(ctx, toApply); err != nil {
		result.skip("bookmarks", err)
		return remote
	}

	result.count(&result.Bookmarks, r.Uploads, r.Downloads, r.Conflicts)
	return r.Merged
}

func (s *Service) mergeGroups(ctx context.Context, remote []*GroupVersion, lastSync time.Time, result *SyncResult) []*GroupVersion {
	localRows, err := s.libraryService.SnapshotGroups(ctx, time.Time{})
	if err != nil {
		result.skip("groups", err)
		return remote
	}

	existing := make(map[string]*models.Group, len(localRows))
	local := make([]*GroupVersion, 0, len(localRows))
	for _, row := range localRows {
		existing[row.Identity] = row
		local = append(local, NewGroupVersion(row))
	}

	r, err := Merge("groups", local, remote, lastSync)
	if err != nil {
		result.skip("groups", err)
		return remote
	}

	toApply := make([]*models.Group, 0, len(r.ToApply))
	for _, v := range r.ToApply {
		toApply = append(toApply, v.Model(existing[v.Identity]))
	}
	if err := s.libraryService.ApplyGroups(ctx, toApply); err != nil {
		result.skip("groups", err)
		return remote
	}

	result.count(&result.Groups, r.Uploads, r.Downloads, r.Conflicts)
	return r.Merged
}

func (s *Service) mergeGroupMemberships(ctx context.Context, remote []*GroupMembershipVersion, lastSync time.Time, result *SyncResult) []*GroupMembershipVersion {
	localRows, err := s.libraryService.SnapshotGroupMemberships(ctx, time.Time{})
	if err != nil {
		result.skip("group_memberships", err)
		return remote
	}

	existing := make(map[string]*models.GroupMembership, len(localRows))
	local := make([]*GroupMembershipVersion, 0, len(localRows))
	for _, row := range localRows {
		existing[row.Identity] = row
		local = append(local, NewGroupMembershipVersion(row))
	}

	r, err := Merge("group_memberships", local, remote, lastSync)
	if err != nil {
		result.skip("group_memberships", err)
		return remote
	}

	toApply := make([]*models.GroupMembership, 0, len(r.ToApply))
	for _, v := range r.ToApply {
		toApply = append(toApply, v.Model(existing[v.Identity]))
	}
	if err := s.libraryService.ApplyGroupMemberships(ctx, toApply); err != nil {
		result.skip("group_memberships", err)
		return remote
	}

	result.count(&result.GroupMemberships, r.Uploads, r.Downloads, r.Conflicts)
	return r.Merged
}

func (s *Service) mergeBookSettings(ctx context.Context, remote []*BookSettingsVersion, lastSync time.Time, result *SyncResult) []*BookSettingsVersion {
	localRows, err := s.libraryService.SnapshotBookSettings(ctx, time.Time{})
	if err != nil {
		result.skip("book_settings", err)
		return remote
	}

	existing := make(map[string]*models.BookSettings, len(localRows))
	local := make([]*BookSettingsVersion, 0, len(localRows))
	for _, row := range localRows {
		existing[row.Identity] = row
		local = append(local, NewBookSettingsVersion(row))
	}

	r, err := Merge("book_settings", local, remote, lastSync)
	if err != nil {
		result.skip("book_settings", err)
		return remote
	}

	// Two devices can mint a settings row for the same book independently,
	// each with its own identity. Collapse the duplicates so every device
	// converges on one live row per book.
	merged, demoted := collapseSettingsDuplicates(r.Merged)

	demotedByID := make(map[string]*BookSettingsVersion, len(demoted))
	for _, v := range demoted {
		demotedByID[v.Identity] = v
	}

	toApply := make([]*models.BookSettings, 0, len(r.ToApply)+len(demoted))
	applied := make(map[string]bool, len(r.ToApply))
	for _, v := range r.ToApply {
		if d, ok := demotedByID[v.Identity]; ok {
			v = d
		}
		toApply = append(toApply, v.Model(existing[v.Identity]))
		applied[v.Identity] = true
	}
	for _, v := range demoted {
		if applied[v.Identity] {
			continue
		}
		if row, ok := existing[v.Identity]; ok {
			toApply = append(toApply, v.Model(row))
		}
	}

	if err := s.libraryService.ApplyBookSettings(ctx, toApply); err != nil {
		result.skip("book_settings", err)
		return remote
	}

	result.count(&result.BookSettings, r.Uploads, r.Downloads, r.Conflicts)
	return merged
}

// syncPayloads pushes archives for books changed since the last sync and
// deletes the payloads of tombstoned ones. Payload failures don't fail the
// pass; they're reported and retried next time.
func (s *Service) syncPayloads(ctx context.Context, lastSync time.Time, result *SyncResult) {
	changed, err := s.libraryService.SnapshotBooks(ctx, lastSync)
	if err != nil {
		result.Errors = append(result.Errors, err.Error())
		return
	}

	for _, book := range changed {
		if book.DeletedAt != nil {
			if err := s.driveClient.DeleteItemPayload(ctx, book.Identity); err != nil {
				result.Errors = append(result.Errors, err.Error())
			}
			continue
		}
		if book.IsCloudOnly() {
			continue
		}

		data, err := os.ReadFile(book.FilePath)
		if err != nil {
			result.Errors = append(result.Errors, err.Error())
			continue
		}
		if err := s.driveClient.PushItemPayload(ctx, book.Identity, data); err != nil {
			result.Errors = append(result.Errors, err.Error())
			if drive.IsQuota(err) {
				// Out of storage; pushing more payloads won't help.
				return
			}
		}
	}
}

// DownloadCloudItem materializes a cloud-only book's archive on this device.
// The file path is device-local, so updated_at is not bumped.
func (s *Service) DownloadCloudItem(ctx context.Context, identity string) (*models.Book, error) {
	book, err := s.libraryService.RetrieveBook(ctx, library.RetrieveBookOptions{Identity: &identity})
	if err != nil {
		return nil, err
	}

	if !book.IsCloudOnly() {
		return book, nil
	}

	data, err := s.driveClient.FetchItemPayload(ctx, identity)
	if errors.Is(err, drive.ErrNotFound) {
		return nil, errcodes.NotFound("Item payload")
	} else if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(s.cfg.DataDir, 0755); err != nil {
		return nil, errors.WithStack(err)
	}

	filename := book.Filename
	if filename == "" {
		filename = identity + ".cbz"
	}
	path := filepath.Join(s.cfg.DataDir, identity+"_"+filename)
	if err := os.WriteFile(path, data, 0644); err != nil { //nolint:gosec
		return nil, errors.WithStack(err)
	}

	if err := s.libraryService.SetBookFilePath(ctx, book, path); err != nil {
		return nil, err
	}

	return book, nil
}
