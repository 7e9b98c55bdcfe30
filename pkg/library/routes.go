package library

import (
	"github.com/labstack/echo/v4"
	"github.com/uptrace/bun"
)

func RegisterRoutes(e *echo.Echo, db *bun.DB) {
	libraryService := NewService(db)
	h := &handler{libraryService: libraryService}

	g := e.Group("/library")

	g.POST("/items", h.importBook)
	g.GET("/items", h.listBooks)
	g.GET("/items/:identity", h.retrieveBook)
	g.POST("/items/:identity", h.updateBook)
	g.DELETE("/items/:identity", h.deleteBook)
	g.POST("/items/:identity/progress", h.updateProgress)
	g.GET("/items/:identity/bookmarks", h.listBookmarks)
	g.POST("/items/:identity/bookmarks", h.createBookmark)
	g.GET("/items/:identity/settings", h.retrieveBookSettings)
	g.POST("/items/:identity/settings", h.updateBookSettings)
	g.DELETE("/bookmarks/:identity", h.deleteBookmark)
	g.GET("/groups", h.listGroups)
	g.POST("/groups", h.createGroup)
	g.POST("/groups/:identity", h.updateGroup)
	g.DELETE("/groups/:identity", h.deleteGroup)
	g.GET("/groups/:identity/items", h.listGroupItems)
	g.POST("/groups/:identity/items", h.addGroupItem)
	g.DELETE("/groups/:identity/items/:bookIdentity", h.removeGroupItem)
}
