package sync

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
)

type handler struct {
	syncService *Service
}

func (h *handler) status(c echo.Context) error {
	ctx := c.Request().Context()

	status, err := h.syncService.Status(ctx)
	if err != nil {
		return errors.WithStack(err)
	}

	return errors.WithStack(c.JSON(http.StatusOK, status))
}

func (h *handler) syncNow(c echo.Context) error {
	ctx := c.Request().Context()

	result, err := h.syncService.SyncNow(ctx)
	if err != nil {
		return errors.WithStack(err)
	}

	return errors.WithStack(c.JSON(http.StatusOK, result))
}

func (h *handler) downloadItem(c echo.Context) error {
	ctx := c.Request().Context()
	identity := c.Param("identity")

	book, err := h.syncService.DownloadCloudItem(ctx, identity)
	if err != nil {
		return errors.WithStack(err)
	}

	return errors.WithStack(c.JSON(http.StatusOK, book))
}
