package sync

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/kumoshelf/kumoshelf/pkg/auth"
	"github.com/kumoshelf/kumoshelf/pkg/config"
	"github.com/kumoshelf/kumoshelf/pkg/drive"
	"github.com/kumoshelf/kumoshelf/pkg/errcodes"
	"github.com/kumoshelf/kumoshelf/pkg/library"
	"github.com/kumoshelf/kumoshelf/pkg/migrations"
	"github.com/kumoshelf/kumoshelf/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

func newTestDB(t *testing.T) *bun.DB {
	t.Helper()

	sqldb, err := sql.Open(sqliteshim.ShimName, ":memory:")
	require.NoError(t, err)

	db := bun.NewDB(sqldb, sqlitedialect.New())

	_, err = migrations.BringUpToDate(context.Background(), db)
	require.NoError(t, err)

	t.Cleanup(func() {
		db.Close()
	})

	return db
}

func newSyncTestService(t *testing.T, signedIn bool, userConfig *config.UserConfig) *Service {
	t.Helper()

	dir := t.TempDir()
	cfg := &config.Config{
		DataDir:              filepath.Join(dir, "library"),
		DriveMaxRetries:      1,
		OAuthCallbackPort:    8085,
		OAuthCallbackTimeout: time.Minute,
		UserConfig:           userConfig,
		VaultPassphrase:      "test passphrase",
		VaultPath:            filepath.Join(dir, "credentials.vault"),
	}

	if signedIn {
		vault, err := auth.NewVault(cfg.VaultPath, cfg.VaultPassphrase)
		require.NoError(t, err)
		require.NoError(t, vault.Save(&auth.Credentials{
			AccessToken:  "ya29.access",
			RefreshToken: "1//refresh",
			Expiry:       time.Now().Add(time.Hour),
		}))
	}

	authService, err := auth.NewService(cfg)
	require.NoError(t, err)

	return NewService(cfg, newTestDB(t), authService)
}

func enabledUserConfig() *config.UserConfig {
	return &config.UserConfig{
		SyncEnabled:         true,
		SyncIntervalMinutes: 60,
		SyncLibrary:         true,
		SyncPayloadFiles:    true,
		SyncReadingProgress: true,
	}
}

// fakeRemote is an in-memory snapshot store standing in for Drive.
type fakeRemote struct {
	snapshot []byte
	fileID   string
	pushes   int
	payloads map[string][]byte
}

func (f *fakeRemote) FetchSnapshot(_ context.Context, _ string) ([]byte, string, error) {
	if f.snapshot == nil {
		return nil, "", nil
	}
	return f.snapshot, f.fileID, nil
}

func (f *fakeRemote) PushSnapshot(_ context.Context, data []byte, _ string) (string, error) {
	f.pushes++
	f.snapshot = data
	if f.fileID == "" {
		f.fileID = "snapshot-file-1"
	}
	return f.fileID, nil
}

func (f *fakeRemote) FetchItemPayload(_ context.Context, identity string) ([]byte, error) {
	data, ok := f.payloads[identity]
	if !ok {
		return nil, drive.ErrNotFound
	}
	return data, nil
}

func (f *fakeRemote) PushItemPayload(_ context.Context, identity string, data []byte) error {
	if f.payloads == nil {
		f.payloads = map[string][]byte{}
	}
	f.payloads[identity] = data
	return nil
}

func (f *fakeRemote) DeleteItemPayload(_ context.Context, identity string) error {
	delete(f.payloads, identity)
	return nil
}

func (f *fakeRemote) decode(t *testing.T) *Snapshot {
	t.Helper()
	require.NotNil(t, f.snapshot)
	s, err := UnmarshalSnapshot(f.snapshot)
	require.NoError(t, err)
	return s
}

func importTestBook(t *testing.T, svc *Service, title string) *models.Book {
	t.Helper()

	path := filepath.Join(t.TempDir(), title+".cbz")
	require.NoError(t, os.WriteFile(path, []byte("archive of "+title), 0600))

	book, err := svc.libraryService.ImportBook(context.Background(), path, title)
	require.NoError(t, err)
	return book
}

func TestSyncNow_FirstPassUploadsLibrary(t *testing.T) {
	t.Parallel()

	svc := newSyncTestService(t, true, enabledUserConfig())
	remote := &fakeRemote{}
	svc.driveClient = remote
	ctx := context.Background()

	alpha := importTestBook(t, svc, "alpha")
	beta := importTestBook(t, svc, "beta")

	result, err := svc.SyncNow(ctx)
	require.NoError(t, err)
	assert.Empty(t, result.Errors)
	assert.Equal(t, 2, result.Books.Uploaded)
	assert.Equal(t, 0, result.Books.Downloaded)
	assert.Equal(t, 2, result.Uploaded)
	assert.Equal(t, 0, result.Downloaded)
	assert.Equal(t, 0, result.ConflictsResolved)

	snapshot := remote.decode(t)
	assert.Len(t, snapshot.Books, 2)
	assert.Contains(t, remote.payloads, alpha.Identity)
	assert.Contains(t, remote.payloads, beta.Identity)

	state, err := svc.libraryService.RetrieveSyncState(ctx)
	require.NoError(t, err)
	require.NotNil(t, state.LastSyncAt)
	require.NotNil(t, state.RemoteSnapshotID)
	assert.Equal(t, remote.fileID, *state.RemoteSnapshotID)
	require.NotNil(t, state.LastSyncDevice)
	assert.Equal(t, state.DeviceID, *state.LastSyncDevice)
}

func TestSyncNow_SecondPassHasNothingToDo(t *testing.T) {
	t.Parallel()

	svc := newSyncTestService(t, true, enabledUserConfig())
	remote := &fakeRemote{}
	svc.driveClient = remote
	ctx := context.Background()

	importTestBook(t, svc, "alpha")
	importTestBook(t, svc, "beta")

	_, err := svc.SyncNow(ctx)
	require.NoError(t, err)

	result, err := svc.SyncNow(ctx)
	require.NoError(t, err)
	assert.Empty(t, result.Errors)
	assert.Equal(t, SyncCounters{}, result.Books)
	assert.Equal(t, SyncCounters{}, result.Bookmarks)
	assert.Equal(t, SyncCounters{}, result.Groups)
	assert.Equal(t, SyncCounters{}, result.GroupMemberships)
	assert.Equal(t, SyncCounters{}, result.BookSettings)
	assert.Equal(t, 0, result.Uploaded)
	assert.Equal(t, 0, result.Downloaded)
	assert.Equal(t, 0, result.ConflictsResolved)
	assert.Equal(t, 2, remote.pushes)
}

func TestSyncNow_DownloadsRemoteBooks(t *testing.T) {
	t.Parallel()

	svc := newSyncTestService(t, true, enabledUserConfig())
	ctx := context.Background()

	identity := "00000000-0000-4000-8000-00000000000a"
	data, err := MarshalSnapshot(&Snapshot{
		Version:     SnapshotVersion,
		GeneratedAt: time.Now().UTC(),
		DeviceID:    "other-device",
		Books: []*BookVersion{{
			Identity:      identity,
			UpdatedAt:     wireTime(time.Now()),
			Title:         "Gamma",
			Filename:      "gamma.cbz",
			ReadingStatus: "unread",
		}},
	})
	require.NoError(t, err)

	remote := &fakeRemote{
		snapshot: data,
		fileID:   "snapshot-file-1",
		payloads: map[string][]byte{identity: []byte("gamma archive")},
	}
	svc.driveClient = remote

	result, err := svc.SyncNow(ctx)
	require.NoError(t, err)
	assert.Empty(t, result.Errors)
	assert.Equal(t, 1, result.Books.Downloaded)
	assert.Equal(t, 0, result.Books.Uploaded)

	book, err := svc.libraryService.RetrieveBook(ctx, library.RetrieveBookOptions{Identity: &identity})
	require.NoError(t, err)
	assert.True(t, book.IsCloudOnly())
	assert.Equal(t, "Gamma", book.Title)

	// The archive can be materialized on demand.
	book, err = svc.DownloadCloudItem(ctx, identity)
	require.NoError(t, err)
	assert.False(t, book.IsCloudOnly())
	content, err := os.ReadFile(book.FilePath)
	require.NoError(t, err)
	assert.Equal(t, []byte("gamma archive"), content)
}

func TestSyncNow_ConvergesDuplicateBookSettings(t *testing.T) {
	t.Parallel()

	svc := newSyncTestService(t, true, enabledUserConfig())
	ctx := context.Background()

	book := importTestBook(t, svc, "alpha")

	local, err := svc.libraryService.RetrieveOrCreateBookSettings(ctx, book.Identity)
	require.NoError(t, err)

	// Another device auto-created its own settings row for the same book.
	remoteIdentity := "ffffffff-ffff-4fff-8fff-ffffffffffff"
	data, err := MarshalSnapshot(&Snapshot{
		Version:     SnapshotVersion,
		GeneratedAt: time.Now().UTC(),
		DeviceID:    "other-device",
		BookSettings: []*BookSettingsVersion{{
			Identity:         remoteIdentity,
			UpdatedAt:        wireTime(time.Now().Add(time.Minute)),
			BookIdentity:     book.Identity,
			ReadingDirection: "rtl",
			PageDisplayMode:  "single",
			ImageFitMode:     "fit-height",
			ReaderBackground: "black",
		}},
	})
	require.NoError(t, err)

	remote := &fakeRemote{snapshot: data, fileID: "snapshot-file-1"}
	svc.driveClient = remote

	result, err := svc.SyncNow(ctx)
	require.NoError(t, err)
	assert.Empty(t, result.Errors)
	assert.Equal(t, 1, result.BookSettings.Downloaded)

	// The older local row is tombstoned; the later remote row is the one
	// live row for the book.
	rows, err := svc.libraryService.SnapshotBookSettings(ctx, time.Time{})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	for _, row := range rows {
		if row.Identity == local.Identity {
			assert.NotNil(t, row.DeletedAt)
		} else {
			assert.Equal(t, remoteIdentity, row.Identity)
			assert.Nil(t, row.DeletedAt)
			assert.Equal(t, "rtl", row.ReadingDirection)
		}
	}

	settings, err := svc.libraryService.RetrieveOrCreateBookSettings(ctx, book.Identity)
	require.NoError(t, err)
	assert.Equal(t, remoteIdentity, settings.Identity)

	// Both rows made it into the pushed snapshot, tombstone included, so
	// every other device converges the same way.
	snapshot := remote.decode(t)
	require.Len(t, snapshot.BookSettings, 2)

	// A second pass has nothing left to reconcile.
	result, err = svc.SyncNow(ctx)
	require.NoError(t, err)
	assert.Empty(t, result.Errors)
	assert.Equal(t, SyncCounters{}, result.BookSettings)
}

func TestSyncNow_SkipsFailingEntityTypeAndStillPushes(t *testing.T) {
	t.Parallel()

	svc := newSyncTestService(t, true, enabledUserConfig())
	ctx := context.Background()

	// A corrupt remote bookmark set must not take the rest of the pass down.
	dup := "00000000-0000-4000-8000-00000000000d"
	data, err := MarshalSnapshot(&Snapshot{
		Version:     SnapshotVersion,
		GeneratedAt: time.Now().UTC(),
		DeviceID:    "other-device",
		Books: []*BookVersion{{
			Identity:      "00000000-0000-4000-8000-00000000000b",
			UpdatedAt:     wireTime(time.Now()),
			Title:         "Delta",
			Filename:      "delta.cbz",
			ReadingStatus: "unread",
		}},
		Bookmarks: []*BookmarkVersion{
			{Identity: dup, UpdatedAt: wireTime(time.Now()), BookIdentity: "b", Page: 1},
			{Identity: dup, UpdatedAt: wireTime(time.Now()), BookIdentity: "b", Page: 2},
		},
	})
	require.NoError(t, err)

	remote := &fakeRemote{snapshot: data, fileID: "snapshot-file-1"}
	svc.driveClient = remote

	result, err := svc.SyncNow(ctx)
	require.NoError(t, err)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "bookmarks")
	assert.Equal(t, SyncCounters{}, result.Bookmarks)
	assert.Equal(t, 1, result.Books.Downloaded)

	// The skipped type is carried over from the remote side unchanged and
	// the pass still pushes and records its bookkeeping.
	snapshot := remote.decode(t)
	assert.Len(t, snapshot.Bookmarks, 2)

	state, err := svc.libraryService.RetrieveSyncState(ctx)
	require.NoError(t, err)
	require.NotNil(t, state.LastSyncAt)
}

func TestSyncNow_DeletesTombstonedPayloads(t *testing.T) {
	t.Parallel()

	svc := newSyncTestService(t, true, enabledUserConfig())
	remote := &fakeRemote{}
	svc.driveClient = remote
	ctx := context.Background()

	book := importTestBook(t, svc, "alpha")

	_, err := svc.SyncNow(ctx)
	require.NoError(t, err)
	assert.Contains(t, remote.payloads, book.Identity)

	require.NoError(t, svc.libraryService.DeleteBook(ctx, book))

	_, err = svc.SyncNow(ctx)
	require.NoError(t, err)
	assert.NotContains(t, remote.payloads, book.Identity)
}

func TestSyncNow_DisabledWhenSyncOff(t *testing.T) {
	t.Parallel()

	userConfig := enabledUserConfig()
	userConfig.SyncEnabled = false
	svc := newSyncTestService(t, true, userConfig)

	_, err := svc.SyncNow(context.Background())
	e := &errcodes.Error{}
	require.ErrorAs(t, err, &e)
	assert.Equal(t, "sync_disabled", e.Code)
}

func TestSyncNow_DisabledWhenSignedOut(t *testing.T) {
	t.Parallel()

	svc := newSyncTestService(t, false, enabledUserConfig())

	_, err := svc.SyncNow(context.Background())
	e := &errcodes.Error{}
	require.ErrorAs(t, err, &e)
	assert.Equal(t, "sync_disabled", e.Code)
}

func TestSyncNow_RejectsConcurrentPass(t *testing.T) {
	t.Parallel()

	svc := newSyncTestService(t, true, enabledUserConfig())

	// Simulate an in-flight pass holding the slot.
	require.True(t, svc.running.CompareAndSwap(false, true))
	defer svc.running.Store(false)

	_, err := svc.SyncNow(context.Background())
	e := &errcodes.Error{}
	require.ErrorAs(t, err, &e)
	assert.Equal(t, "sync_in_progress", e.Code)
}

func TestStatus(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("disabled pre-empts everything", func(t *testing.T) {
		t.Parallel()

		userConfig := enabledUserConfig()
		userConfig.SyncEnabled = false
		svc := newSyncTestService(t, true, userConfig)
		svc.status.setError(assert.AnError)

		status, err := svc.Status(ctx)
		require.NoError(t, err)
		assert.Equal(t, StateDisabled, status.State)
		assert.Nil(t, status.LastError)
	})

	t.Run("disabled when signed out", func(t *testing.T) {
		t.Parallel()

		svc := newSyncTestService(t, false, enabledUserConfig())

		status, err := svc.Status(ctx)
		require.NoError(t, err)
		assert.Equal(t, StateDisabled, status.State)
	})

	t.Run("never synced", func(t *testing.T) {
		t.Parallel()

		svc := newSyncTestService(t, true, enabledUserConfig())

		status, err := svc.Status(ctx)
		require.NoError(t, err)
		assert.Equal(t, StateNeverSynced, status.State)
		assert.Nil(t, status.LastSyncAt)
	})

	t.Run("syncing while a pass is running", func(t *testing.T) {
		t.Parallel()

		svc := newSyncTestService(t, true, enabledUserConfig())
		svc.running.Store(true)
		defer svc.running.Store(false)

		status, err := svc.Status(ctx)
		require.NoError(t, err)
		assert.Equal(t, StateSyncing, status.State)
	})

	t.Run("failed keeps the previous sync time", func(t *testing.T) {
		t.Parallel()

		svc := newSyncTestService(t, true, enabledUserConfig())

		state, err := svc.libraryService.RetrieveSyncState(ctx)
		require.NoError(t, err)
		lastSync := time.Now().UTC().Truncate(time.Millisecond)
		state.LastSyncAt = &lastSync
		require.NoError(t, svc.libraryService.UpdateSyncState(ctx, state))

		svc.status.setError(assert.AnError)

		status, err := svc.Status(ctx)
		require.NoError(t, err)
		assert.Equal(t, StateFailed, status.State)
		require.NotNil(t, status.LastSyncAt)
		assert.True(t, status.LastSyncAt.Equal(lastSync))
		require.NotNil(t, status.LastError)
	})

	t.Run("synced after a successful pass", func(t *testing.T) {
		t.Parallel()

		svc := newSyncTestService(t, true, enabledUserConfig())

		state, err := svc.libraryService.RetrieveSyncState(ctx)
		require.NoError(t, err)
		lastSync := time.Now().UTC().Truncate(time.Millisecond)
		state.LastSyncAt = &lastSync
		require.NoError(t, svc.libraryService.UpdateSyncState(ctx, state))

		status, err := svc.Status(ctx)
		require.NoError(t, err)
		assert.Equal(t, StateSynced, status.State)
		require.NotNil(t, status.LastSyncAt)
	})
}

func TestStatusPublisher(t *testing.T) {
	t.Parallel()

	p := &statusPublisher{}
	assert.Nil(t, p.getError())

	p.setError(assert.AnError)
	require.NotNil(t, p.getError())
	assert.Equal(t, assert.AnError.Error(), *p.getError())

	p.clearError()
	assert.Nil(t, p.getError())
}

func TestDownloadCloudItem_LocalBookIsReturnedAsIs(t *testing.T) {
	t.Parallel()

	svc := newSyncTestService(t, true, enabledUserConfig())
	ctx := context.Background()

	path := filepath.Join(t.TempDir(), "alpha.cbz")
	require.NoError(t, os.WriteFile(path, []byte("archive"), 0600))

	book, err := svc.libraryService.ImportBook(ctx, path, "Alpha")
	require.NoError(t, err)

	got, err := svc.DownloadCloudItem(ctx, book.Identity)
	require.NoError(t, err)
	assert.Equal(t, path, got.FilePath)
	assert.False(t, got.IsCloudOnly())
}

func TestDownloadCloudItem_UnknownIdentity(t *testing.T) {
	t.Parallel()

	svc := newSyncTestService(t, true, enabledUserConfig())

	_, err := svc.DownloadCloudItem(context.Background(), "00000000-0000-4000-8000-000000000009")
	e := &errcodes.Error{}
	require.ErrorAs(t, err, &e)
	assert.Equal(t, "not_found", e.Code)
}
