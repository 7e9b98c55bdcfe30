package sync

import (
	"github.com/labstack/echo/v4"
)

func RegisterRoutes(e *echo.Echo, syncService *Service) {
	h := &handler{syncService: syncService}

	e.GET("/sync/status", h.status)
	e.POST("/sync/now", h.syncNow)
	e.POST("/library/items/:identity/download", h.downloadItem)
}
