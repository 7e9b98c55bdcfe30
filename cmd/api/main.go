package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"

	"github.com/kumoshelf/kumoshelf/pkg/auth"
	"github.com/kumoshelf/kumoshelf/pkg/config"
	"github.com/kumoshelf/kumoshelf/pkg/database"
	"github.com/kumoshelf/kumoshelf/pkg/migrations"
	"github.com/kumoshelf/kumoshelf/pkg/server"
	"github.com/kumoshelf/kumoshelf/pkg/sync"
	"github.com/kumoshelf/kumoshelf/pkg/version"
	"github.com/kumoshelf/kumoshelf/pkg/worker"
	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/logger"
	"github.com/robinjoseph08/golib/signals"
)

func main() {
	ctx := context.Background()
	log := logger.New()

	log.Info("starting kumoshelf", logger.Data{"version": version.Version})

	cfg, err := config.New()
	if err != nil {
		log.Err(err).Fatal("config error")
	}

	if err := initDataDir(cfg.DataDir); err != nil {
		log.Err(err).Fatal("data directory error")
	}

	db, err := database.New(cfg)
	if err != nil {
		log.Err(err).Fatal("database error")
	}

	group, err := migrations.BringUpToDate(ctx, db)
	if err != nil {
		log.Err(err).Fatal("migrations error")
	}
	if group.ID == 0 {
		log.Info("no new migrations to run")
	} else {
		log.Info("migrated to new group", logger.Data{"group_id": group.ID, "migration_names": group.Migrations.String()})
	}

	authService, err := auth.NewService(cfg)
	if err != nil {
		log.Err(err).Fatal("auth error")
	}

	syncService := sync.NewService(cfg, db, authService)
	wrkr := worker.New(cfg, syncService)

	srv, err := server.New(cfg, db, authService, syncService)
	if err != nil {
		log.Err(err).Fatal("server error")
	}

	graceful := signals.Setup()

	go func() {
		addr := fmt.Sprintf("%s:%d", cfg.ServerHost, cfg.ServerPort)
		lc := net.ListenConfig{}
		listener, err := lc.Listen(ctx, "tcp", addr)
		if err != nil {
			log.Err(err).Fatal("failed to bind port")
		}

		actualPort := listener.Addr().(*net.TCPAddr).Port
		log.Info("server started", logger.Data{"port": actualPort})

		err = srv.Serve(listener)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Err(err).Fatal("server stopped")
		}
		log.Info("server stopped")
	}()

	wrkr.Start()
	log.Info("worker started")

	<-graceful
	log.Info("starting graceful shutdown")

	err = srv.Shutdown(ctx)
	if err != nil {
		log.Err(err).Error("server shutdown error")
	}
	log.Info("server shutdown")

	wrkr.Shutdown()
	log.Info("worker shutdown")

	err = db.Close()
	if err != nil {
		log.Err(err).Error("database close error")
	}
	log.Info("database closed")
}

// initDataDir creates the library data directory and verifies write
// permissions.
func initDataDir(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.Wrapf(err, "failed to create data directory: %s", dir)
	}

	testFile := dir + "/.write_test"
	if err := os.WriteFile(testFile, []byte("test"), 0644); err != nil { //nolint:gosec
		return errors.Wrapf(err, "data directory is not writable: %s", dir)
	}
	return errors.WithStack(os.Remove(testFile))
}
