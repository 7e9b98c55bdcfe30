package library

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/kumoshelf/kumoshelf/pkg/errcodes"
	"github.com/kumoshelf/kumoshelf/pkg/models"
	"github.com/pkg/errors"
	"github.com/uptrace/bun"
)

// VerifyIdentities rejects entity sets with missing or duplicate sync
// identities. A violation aborts syncing that entity type.
func VerifyIdentities[T models.Syncable](entityType string, entities []T) error {
	seen := make(map[string]struct{}, len(entities))
	for _, e := range entities {
		identity := e.SyncIdentity()
		if identity == "" {
			return errcodes.IntegrityError(fmt.Sprintf("%s row is missing a sync identity.", entityType))
		}
		if _, ok := seen[identity]; ok {
			return errcodes.IntegrityError(fmt.Sprintf("%s has a duplicate sync identity %q.", entityType, identity))
		}
		seen[identity] = struct{}{}
	}
	return nil
}

func snapshotEntities[T models.Syncable](ctx context.Context, db *bun.DB, entityType string, since time.Time) ([]T, error) {
	entities := []T{}

	q := db.NewSelect().Model(&entities)
	if !since.IsZero() {
		q = q.Where("updated_at > ?", since)
	}

	err := q.Order("identity ASC").Scan(ctx)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	if err := VerifyIdentities(entityType, entities); err != nil {
		return nil, err
	}

	return entities, nil
}

// SnapshotBooks returns every book row, tombstones included, ordered by
// identity. Pass a non-zero since to restrict to rows changed after it.
func (svc *Service) SnapshotBooks(ctx context.Context, since time.Time) ([]*models.Book, error) {
	return snapshotEntities[*models.Book](ctx, svc.db, "books", since)
}

func (svc *Service) SnapshotBookmarks(ctx context.Context, since time.Time) ([]*models.Bookmark, error) {
	return snapshotEntities[*models.Bookmark](ctx, svc.db, "bookmarks", since)
}

func (svc *Service) SnapshotGroups(ctx context.Context, since time.Time) ([]*models.Group, error) {
	return snapshotEntities[*models.Group](ctx, svc.db, "groups", since)
}

func (svc *Service) SnapshotGroupMemberships(ctx context.Context, since time.Time) ([]*models.GroupMembership, error) {
	return snapshotEntities[*models.GroupMembership](ctx, svc.db, "group_memberships", since)
}

func (svc *Service) SnapshotBookSettings(ctx context.Context, since time.Time) ([]*models.BookSettings, error) {
	return snapshotEntities[*models.BookSettings](ctx, svc.db, "book_settings", since)
}

// Columns written when applying a merged entity over an existing local row.
// Local-only columns (id, created_at, and file_path for books) are never
// overwritten by a remote version.
var (
	bookSyncColumns = []string{
		"updated_at", "deleted_at", "title", "filename", "file_hash", "file_size",
		"current_page", "total_pages", "favorite", "reading_status", "last_read_at",
	}
	bookmarkSyncColumns        = []string{"updated_at", "deleted_at", "book_identity", "name", "page"}
	groupSyncColumns           = []string{"updated_at", "deleted_at", "name", "description"}
	groupMembershipSyncColumns = []string{"updated_at", "deleted_at", "group_identity", "book_identity", "position"}
	bookSettingsSyncColumns    = []string{
		"updated_at", "deleted_at", "book_identity", "reading_direction",
		"page_display_mode", "image_fit_mode", "reader_background",
	}
	bookProgressColumns = []string{"updated_at", "current_page", "reading_status", "last_read_at"}
)

func applyEntities[T models.Syncable](ctx context.Context, tx bun.Tx, entities []T, columns []string) error {
	for _, e := range entities {
		q := tx.NewInsert().Model(e).On("CONFLICT (identity) DO UPDATE")
		for _, col := range columns {
			q = q.Set(col + " = EXCLUDED." + col)
		}
		if _, err := q.Exec(ctx); err != nil {
			return errors.WithStack(err)
		}
	}
	return nil
}

// ApplyBooks upserts merged book versions by identity in one transaction.
func (svc *Service) ApplyBooks(ctx context.Context, books []*models.Book) error {
	err := svc.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		return applyEntities(ctx, tx, books, bookSyncColumns)
	})
	return errors.WithStack(err)
}

func (svc *Service) ApplyBookmarks(ctx context.Context, bookmarks []*models.Bookmark) error {
	err := svc.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		return applyEntities(ctx, tx, bookmarks, bookmarkSyncColumns)
	})
	return errors.WithStack(err)
}

func (svc *Service) ApplyGroups(ctx context.Context, groups []*models.Group) error {
	err := svc.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		return applyEntities(ctx, tx, groups, groupSyncColumns)
	})
	return errors.WithStack(err)
}

func (svc *Service) ApplyGroupMemberships(ctx context.Context, memberships []*models.GroupMembership) error {
	err := svc.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		return applyEntities(ctx, tx, memberships, groupMembershipSyncColumns)
	})
	return errors.WithStack(err)
}

func (svc *Service) ApplyBookSettings(ctx context.Context, settings []*models.BookSettings) error {
	err := svc.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		return applyEntities(ctx, tx, settings, bookSettingsSyncColumns)
	})
	return errors.WithStack(err)
}

// ApplyBookProgress writes only the reading-progress columns of merged books
// to rows that already exist locally. Books unknown to this device are
// skipped. Used when library sync is off but progress sync is on.
func (svc *Service) ApplyBookProgress(ctx context.Context, books []*models.Book) error {
	err := svc.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		for _, book := range books {
			_, err := tx.
				NewUpdate().
				Model(book).
				Column(bookProgressColumns...).
				Where("identity = ?", book.Identity).
				Exec(ctx)
			if err != nil {
				return errors.WithStack(err)
			}
		}
		return nil
	})
	return errors.WithStack(err)
}

// SetBookFilePath records where the book's archive lives on this device.
// The path is device-local, so updated_at is deliberately not bumped.
func (svc *Service) SetBookFilePath(ctx context.Context, book *models.Book, path string) error {
	book.FilePath = path

	_, err := svc.db.
		NewUpdate().
		Model(book).
		Column("file_path").
		WherePK().
		Exec(ctx)
	if err != nil {
		return errors.WithStack(err)
	}

	return nil
}

// RetrieveSyncState returns the singleton sync bookkeeping row.
func (svc *Service) RetrieveSyncState(ctx context.Context) (*models.SyncState, error) {
	state := &models.SyncState{}

	err := svc.db.
		NewSelect().
		Model(state).
		Where("ss.id = ?", models.SyncStateID).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errcodes.IntegrityError("The sync_state row is missing.")
	} else if err != nil {
		return nil, errors.WithStack(err)
	}

	return state, nil
}

// UpdateSyncState persists the bookkeeping columns after a successful sync.
// device_id is assigned at migration time and never rewritten.
func (svc *Service) UpdateSyncState(ctx context.Context, state *models.SyncState) error {
	_, err := svc.db.
		NewUpdate().
		Model(state).
		Column("last_sync_at", "last_sync_device", "remote_snapshot_id").
		WherePK().
		Exec(ctx)
	if err != nil {
		return errors.WithStack(err)
	}

	return nil
}
