package migrations

import (
	"context"

	"github.com/pkg/errors"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/migrate"
)

// Migrations is the registry every migration file in this package adds
// itself to via init.
var Migrations = migrate.NewMigrations()

// BringUpToDate applies any unapplied migrations. The app runs it on boot so
// a fresh install gets its schema, and its sync_state row, without a separate
// step; the CLI under cmd/migrations drives the same registry by hand.
func BringUpToDate(ctx context.Context, db *bun.DB) (*migrate.MigrationGroup, error) {
	migrator := migrate.NewMigrator(db, Migrations)
	err := migrator.Init(ctx)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	group, err := migrator.Migrate(ctx)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return group, nil
}
