package migrations

import (
	"context"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/uptrace/bun"
)

func init() {
	up := func(_ context.Context, db *bun.DB) error {
		_, err := db.Exec(`
			CREATE TABLE books (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				identity TEXT NOT NULL UNIQUE,
				created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
				updated_at TIMESTAMPTZ NOT NULL,
				deleted_at TIMESTAMPTZ,
				title TEXT NOT NULL,
				filename TEXT NOT NULL,
				file_path TEXT NOT NULL,
				file_hash TEXT,
				file_size INTEGER,
				current_page INTEGER NOT NULL DEFAULT 0,
				total_pages INTEGER NOT NULL DEFAULT 0,
				favorite BOOLEAN NOT NULL DEFAULT FALSE,
				reading_status TEXT NOT NULL DEFAULT 'unread',
				last_read_at TIMESTAMPTZ
			)
`)
		if err != nil {
			return errors.WithStack(err)
		}
		_, err = db.Exec(`CREATE INDEX ix_books_updated_at ON books (updated_at)`)
		if err != nil {
			return errors.WithStack(err)
		}
		_, err = db.Exec(`
			CREATE TABLE bookmarks (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				identity TEXT NOT NULL UNIQUE,
				created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
				updated_at TIMESTAMPTZ NOT NULL,
				deleted_at TIMESTAMPTZ,
				book_identity TEXT NOT NULL,
				name TEXT,
				page INTEGER NOT NULL DEFAULT 0
			)
`)
		if err != nil {
			return errors.WithStack(err)
		}
		_, err = db.Exec(`CREATE INDEX ix_bookmarks_book_identity ON bookmarks (book_identity)`)
		if err != nil {
			return errors.WithStack(err)
		}
		_, err = db.Exec(`
			CREATE TABLE groups (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				identity TEXT NOT NULL UNIQUE,
				created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
				updated_at TIMESTAMPTZ NOT NULL,
				deleted_at TIMESTAMPTZ,
				name TEXT NOT NULL,
				description TEXT
			)
`)
		if err != nil {
			return errors.WithStack(err)
		}
		_, err = db.Exec(`
			CREATE TABLE group_memberships (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				identity TEXT NOT NULL UNIQUE,
				created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
				updated_at TIMESTAMPTZ NOT NULL,
				deleted_at TIMESTAMPTZ,
				group_identity TEXT NOT NULL,
				book_identity TEXT NOT NULL,
				position INTEGER NOT NULL DEFAULT 0
			)
`)
		if err != nil {
			return errors.WithStack(err)
		}
		_, err = db.Exec(`CREATE INDEX ix_group_memberships_group_identity ON group_memberships (group_identity)`)
		if err != nil {
			return errors.WithStack(err)
		}
		_, err = db.Exec(`
			CREATE TABLE book_settings (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				identity TEXT NOT NULL UNIQUE,
				created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
				updated_at TIMESTAMPTZ NOT NULL,
				deleted_at TIMESTAMPTZ,
				book_identity TEXT NOT NULL,
				reading_direction TEXT NOT NULL DEFAULT 'ltr',
				page_display_mode TEXT NOT NULL DEFAULT 'single',
				image_fit_mode TEXT NOT NULL DEFAULT 'fit-height',
				reader_background TEXT NOT NULL DEFAULT 'black'
			)
`)
		if err != nil {
			return errors.WithStack(err)
		}
		_, err = db.Exec(`CREATE INDEX ix_book_settings_book_identity ON book_settings (book_identity)`)
		if err != nil {
			return errors.WithStack(err)
		}
		_, err = db.Exec(`
			CREATE TABLE sync_state (
				id INTEGER PRIMARY KEY,
				device_id TEXT NOT NULL,
				last_sync_at TIMESTAMPTZ,
				last_sync_device TEXT,
				remote_snapshot_id TEXT
			)
`)
		if err != nil {
			return errors.WithStack(err)
		}

		// The device ID is assigned exactly once, here.
		deviceID, err := uuid.NewRandom()
		if err != nil {
			return errors.WithStack(err)
		}
		_, err = db.Exec(`INSERT INTO sync_state (id, device_id) VALUES (1, ?)`, deviceID.String())
		return errors.WithStack(err)
	}

	down := func(_ context.Context, db *bun.DB) error {
		_, err := db.Exec("DROP TABLE IF EXISTS sync_state")
		if err != nil {
			return errors.WithStack(err)
		}
		_, err = db.Exec("DROP TABLE IF EXISTS book_settings")
		if err != nil {
			return errors.WithStack(err)
		}
		_, err = db.Exec("DROP TABLE IF EXISTS group_memberships")
		if err != nil {
			return errors.WithStack(err)
		}
		_, err = db.Exec("DROP TABLE IF EXISTS groups")
		if err != nil {
			return errors.WithStack(err)
		}
		_, err = db.Exec("DROP TABLE IF EXISTS bookmarks")
		if err != nil {
			return errors.WithStack(err)
		}
		_, err = db.Exec("DROP TABLE IF EXISTS books")
		return errors.WithStack(err)
	}

	Migrations.MustRegister(up, down)
}
