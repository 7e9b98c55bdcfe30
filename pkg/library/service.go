package library

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/kumoshelf/kumoshelf/pkg/errcodes"
	"github.com/kumoshelf/kumoshelf/pkg/models"
	"github.com/pkg/errors"
	"github.com/uptrace/bun"
)

type RetrieveBookOptions struct {
	ID             *int
	Identity       *string
	IncludeDeleted bool
}

type ListBooksOptions struct {
	Limit         *int
	Offset        *int
	Favorite      *bool
	ReadingStatus *string
}

type UpdateBookOptions struct {
	Columns []string
}

type ListBookmarksOptions struct {
	BookIdentity *string
}

type ListGroupsOptions struct{}

type UpdateGroupOptions struct {
	Columns []string
}

type UpdateBookSettingsOptions struct {
	Columns []string
}

type Service struct {
	db *bun.DB
}

func NewService(db *bun.DB) *Service {
	return &Service{db}
}

func newIdentity() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", errors.WithStack(err)
	}
	return id.String(), nil
}

// ImportBook registers a local archive file as a new book. The identity is
// assigned here and never changes afterwards.
func (svc *Service) ImportBook(ctx context.Context, path string, title string) (*models.Book, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	hash, err := hashFile(path)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	filename := filepath.Base(path)
	if title == "" {
		title = filename[:len(filename)-len(filepath.Ext(filename))]
	}

	identity, err := newIdentity()
	if err != nil {
		return nil, err
	}

	now := time.Now()
	size := info.Size()
	book := &models.Book{
		Identity:      identity,
		CreatedAt:     now,
		UpdatedAt:     now,
		Title:         title,
		Filename:      filename,
		FilePath:      path,
		FileHash:      &hash,
		FileSize:      &size,
		ReadingStatus: models.ReadingStatusUnread,
	}

	_, err = svc.db.NewInsert().Model(book).Returning("*").Exec(ctx)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	return book, nil
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", errors.WithStack(err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", errors.WithStack(err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func (svc *Service) RetrieveBook(ctx context.Context, opts RetrieveBookOptions) (*models.Book, error) {
	book := &models.Book{}

	q := svc.db.NewSelect().Model(book)
	if opts.ID != nil {
		q = q.Where("b.id = ?", *opts.ID)
	}
	if opts.Identity != nil {
		q = q.Where("b.identity = ?", *opts.Identity)
	}
	if !opts.IncludeDeleted {
		q = q.Where("b.deleted_at IS NULL")
	}

	err := q.Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errcodes.NotFound("Book")
	} else if err != nil {
		return nil, errors.WithStack(err)
	}

	return book, nil
}

func (svc *Service) ListBooks(ctx context.Context, opts ListBooksOptions) ([]*models.Book, int, error) {
	books := []*models.Book{}

	q := svc.db.NewSelect().Model(&books).Where("b.deleted_at IS NULL")
	if opts.Favorite != nil {
		q = q.Where("b.favorite = ?", *opts.Favorite)
	}
	if opts.ReadingStatus != nil {
		q = q.Where("b.reading_status = ?", *opts.ReadingStatus)
	}
	if opts.Limit != nil {
		q = q.Limit(*opts.Limit)
	}
	if opts.Offset != nil {
		q = q.Offset(*opts.Offset)
	}

	total, err := q.Order("b.title ASC").ScanAndCount(ctx)
	if err != nil {
		return nil, 0, errors.WithStack(err)
	}

	return books, total, nil
}

// UpdateBook persists the given columns and bumps updated_at. The identity
// column is never written.
func (svc *Service) UpdateBook(ctx context.Context, book *models.Book, opts UpdateBookOptions) error {
	if len(opts.Columns) == 0 {
		// No updates.
		return nil
	}

	book.UpdatedAt = time.Now()
	opts.Columns = append(opts.Columns, "updated_at")

	_, err := svc.db.
		NewUpdate().
		Model(book).
		Column(opts.Columns...).
		WherePK().
		Returning("*").
		Exec(ctx)
	if err != nil {
		return errors.WithStack(err)
	}

	return nil
}

// DeleteBook soft-deletes the book and tombstones its bookmarks, settings,
// and group memberships in the same transaction. Tombstones keep their rows
// so the deletion propagates to other devices.
func (svc *Service) DeleteBook(ctx context.Context, book *models.Book) error {
	now := time.Now()

	err := svc.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		book.DeletedAt = &now
		book.UpdatedAt = now
		_, err := tx.
			NewUpdate().
			Model(book).
			Column("deleted_at", "updated_at").
			WherePK().
			Exec(ctx)
		if err != nil {
			return errors.WithStack(err)
		}

		for _, table := range []string{"bookmarks", "book_settings", "group_memberships"} {
			_, err = tx.Exec(
				"UPDATE "+table+" SET deleted_at = ?, updated_at = ? WHERE book_identity = ? AND deleted_at IS NULL",
				now, now, book.Identity,
			)
			if err != nil {
				return errors.WithStack(err)
			}
		}

		return nil
	})
	if err != nil {
		return errors.WithStack(err)
	}

	return nil
}

func (svc *Service) CreateBookmark(ctx context.Context, bookmark *models.Bookmark) error {
	identity, err := newIdentity()
	if err != nil {
		return err
	}

	now := time.Now()
	bookmark.Identity = identity
	bookmark.CreatedAt = now
	bookmark.UpdatedAt = now

	_, err = svc.db.NewInsert().Model(bookmark).Returning("*").Exec(ctx)
	if err != nil {
		return errors.WithStack(err)
	}

	return nil
}

func (svc *Service) RetrieveBookmark(ctx context.Context, identity string) (*models.Bookmark, error) {
	bookmark := &models.Bookmark{}

	err := svc.db.
		NewSelect().
		Model(bookmark).
		Where("bm.identity = ?", identity).
		Where("bm.deleted_at IS NULL").
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errcodes.NotFound("Bookmark")
	} else if err != nil {
		return nil, errors.WithStack(err)
	}

	return bookmark, nil
}

func (svc *Service) ListBookmarks(ctx context.Context, opts ListBookmarksOptions) ([]*models.Bookmark, error) {
	bookmarks := []*models.Bookmark{}

	q := svc.db.NewSelect().Model(&bookmarks).Where("bm.deleted_at IS NULL")
	if opts.BookIdentity != nil {
		q = q.Where("bm.book_identity = ?", *opts.BookIdentity)
	}

	err := q.Order("bm.page ASC").Scan(ctx)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	return bookmarks, nil
}

func (svc *Service) DeleteBookmark(ctx context.Context, bookmark *models.Bookmark) error {
	now := time.Now()
	bookmark.DeletedAt = &now
	bookmark.UpdatedAt = now

	_, err := svc.db.
		NewUpdate().
		Model(bookmark).
		Column("deleted_at", "updated_at").
		WherePK().
		Exec(ctx)
	if err != nil {
		return errors.WithStack(err)
	}

	return nil
}

func (svc *Service) CreateGroup(ctx context.Context, group *models.Group) error {
	identity, err := newIdentity()
	if err != nil {
		return err
	}

	now := time.Now()
	group.Identity = identity
	group.CreatedAt = now
	group.UpdatedAt = now

	_, err = svc.db.NewInsert().Model(group).Returning("*").Exec(ctx)
	if err != nil {
		return errors.WithStack(err)
	}

	return nil
}

func (svc *Service) RetrieveGroup(ctx context.Context, identity string) (*models.Group, error) {
	group := &models.Group{}

	err := svc.db.
		NewSelect().
		Model(group).
		Where("g.identity = ?", identity).
		Where("g.deleted_at IS NULL").
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errcodes.NotFound("Group")
	} else if err != nil {
		return nil, errors.WithStack(err)
	}

	return group, nil
}

func (svc *Service) ListGroups(ctx context.Context, _ ListGroupsOptions) ([]*models.Group, error) {
	groups := []*models.Group{}

	err := svc.db.
		NewSelect().
		Model(&groups).
		Where("g.deleted_at IS NULL").
		Order("g.name ASC").
		Scan(ctx)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	return groups, nil
}

func (svc *Service) UpdateGroup(ctx context.Context, group *models.Group, opts UpdateGroupOptions) error {
	if len(opts.Columns) == 0 {
		// No updates.
		return nil
	}

	group.UpdatedAt = time.Now()
	opts.Columns = append(opts.Columns, "updated_at")

	_, err := svc.db.
		NewUpdate().
		Model(group).
		Column(opts.Columns...).
		WherePK().
		Returning("*").
		Exec(ctx)
	if err != nil {
		return errors.WithStack(err)
	}

	return nil
}

// DeleteGroup soft-deletes the group and tombstones its memberships.
func (svc *Service) DeleteGroup(ctx context.Context, group *models.Group) error {
	now := time.Now()

	err := svc.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		group.DeletedAt = &now
		group.UpdatedAt = now
		_, err := tx.
			NewUpdate().
			Model(group).
			Column("deleted_at", "updated_at").
			WherePK().
			Exec(ctx)
		if err != nil {
			return errors.WithStack(err)
		}

		_, err = tx.Exec(
			"UPDATE group_memberships SET deleted_at = ?, updated_at = ? WHERE group_identity = ? AND deleted_at IS NULL",
			now, now, group.Identity,
		)
		return errors.WithStack(err)
	})
	if err != nil {
		return errors.WithStack(err)
	}

	return nil
}

func (svc *Service) AddGroupMembership(ctx context.Context, membership *models.GroupMembership) error {
	identity, err := newIdentity()
	if err != nil {
		return err
	}

	now := time.Now()
	membership.Identity = identity
	membership.CreatedAt = now
	membership.UpdatedAt = now

	_, err = svc.db.NewInsert().Model(membership).Returning("*").Exec(ctx)
	if err != nil {
		return errors.WithStack(err)
	}

	return nil
}

func (svc *Service) ListGroupMemberships(ctx context.Context, groupIdentity string) ([]*models.GroupMembership, error) {
	memberships := []*models.GroupMembership{}

	err := svc.db.
		NewSelect().
		Model(&memberships).
		Where("gm.group_identity = ?", groupIdentity).
		Where("gm.deleted_at IS NULL").
		Order("gm.position ASC").
		Scan(ctx)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	return memberships, nil
}

func (svc *Service) RemoveGroupMembership(ctx context.Context, groupIdentity, bookIdentity string) error {
	membership := &models.GroupMembership{}

	err := svc.db.
		NewSelect().
		Model(membership).
		Where("gm.group_identity = ?", groupIdentity).
		Where("gm.book_identity = ?", bookIdentity).
		Where("gm.deleted_at IS NULL").
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return errcodes.NotFound("Group membership")
	} else if err != nil {
		return errors.WithStack(err)
	}

	now := time.Now()
	membership.DeletedAt = &now
	membership.UpdatedAt = now

	_, err = svc.db.
		NewUpdate().
		Model(membership).
		Column("deleted_at", "updated_at").
		WherePK().
		Exec(ctx)
	if err != nil {
		return errors.WithStack(err)
	}

	return nil
}

// RetrieveOrCreateBookSettings returns the settings row for the book,
// creating it with defaults the first time it's requested.
func (svc *Service) RetrieveOrCreateBookSettings(ctx context.Context, bookIdentity string) (*models.BookSettings, error) {
	settings := &models.BookSettings{}

	err := svc.db.
		NewSelect().
		Model(settings).
		Where("bs.book_identity = ?", bookIdentity).
		Where("bs.deleted_at IS NULL").
		// Two live rows can coexist briefly mid-sync; prefer the newer one.
		Order("bs.updated_at DESC").
		Limit(1).
		Scan(ctx)
	if err == nil {
		return settings, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, errors.WithStack(err)
	}

	identity, err := newIdentity()
	if err != nil {
		return nil, err
	}

	now := time.Now()
	settings = models.DefaultBookSettings()
	settings.Identity = identity
	settings.CreatedAt = now
	settings.UpdatedAt = now
	settings.BookIdentity = bookIdentity

	_, err = svc.db.NewInsert().Model(settings).Returning("*").Exec(ctx)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	return settings, nil
}

func (svc *Service) UpdateBookSettings(ctx context.Context, settings *models.BookSettings, opts UpdateBookSettingsOptions) error {
	if len(opts.Columns) == 0 {
		// No updates.
		return nil
	}

	settings.UpdatedAt = time.Now()
	opts.Columns = append(opts.Columns, "updated_at")

	_, err := svc.db.
		NewUpdate().
		Model(settings).
		Column(opts.Columns...).
		WherePK().
		Returning("*").
		Exec(ctx)
	if err != nil {
		return errors.WithStack(err)
	}

	return nil
}
