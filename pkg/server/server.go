package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/kumoshelf/kumoshelf/pkg/auth"
	"github.com/kumoshelf/kumoshelf/pkg/binder"
	"github.com/kumoshelf/kumoshelf/pkg/config"
	"github.com/kumoshelf/kumoshelf/pkg/errcodes"
	"github.com/kumoshelf/kumoshelf/pkg/library"
	"github.com/kumoshelf/kumoshelf/pkg/sync"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/echo/v4/health"
	"github.com/robinjoseph08/golib/echo/v4/middleware/logger"
	"github.com/robinjoseph08/golib/echo/v4/middleware/recovery"
	"github.com/uptrace/bun"
)

// New builds the local command surface consumed by the presentation shell.
// It binds to loopback only; there is no remote access story.
func New(cfg *config.Config, db *bun.DB, authService *auth.Service, syncService *sync.Service) (*http.Server, error) {
	e := echo.New()

	b, err := binder.New()
	if err != nil {
		return nil, errors.WithStack(err)
	}
	e.Binder = b

	e.Use(logger.Middleware())
	e.Use(recovery.Middleware())
	e.Use(middleware.CORS())

	health.RegisterRoutes(e)

	auth.RegisterRoutes(e, authService)
	library.RegisterRoutes(e, db)
	sync.RegisterRoutes(e, syncService)
	config.RegisterRoutes(e, cfg)

	echo.NotFoundHandler = notFoundHandler
	e.HTTPErrorHandler = errcodes.NewHandler().Handle

	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.ServerHost, cfg.ServerPort),
		Handler:           e,
		ReadHeaderTimeout: 3 * time.Second,
	}

	return srv, nil
}

func notFoundHandler(c echo.Context) error {
	c.SetPath("/:path")
	return errcodes.NotFound("Page")
}
