package library

import (
	"net/http"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/kumoshelf/kumoshelf/pkg/errcodes"
	"github.com/kumoshelf/kumoshelf/pkg/models"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
)

type handler struct {
	libraryService *Service
}

func (h *handler) importBook(c echo.Context) error {
	ctx := c.Request().Context()

	params := ImportBookPayload{}
	if err := c.Bind(&params); err != nil {
		return errors.WithStack(err)
	}

	mtype, err := mimetype.DetectFile(params.FilePath)
	if err != nil {
		return errcodes.NotFound("File")
	}
	if !mtype.Is("application/zip") {
		return errcodes.ValidationError(`"file_path" must point to a zip-based archive`)
	}

	title := ""
	if params.Title != nil {
		title = *params.Title
	}

	book, err := h.libraryService.ImportBook(ctx, params.FilePath, title)
	if err != nil {
		return errors.WithStack(err)
	}

	return errors.WithStack(c.JSON(http.StatusCreated, book))
}

func (h *handler) listBooks(c echo.Context) error {
	ctx := c.Request().Context()

	params := ListBooksQuery{}
	if err := c.Bind(&params); err != nil {
		return errors.WithStack(err)
	}

	books, total, err := h.libraryService.ListBooks(ctx, ListBooksOptions{
		Limit:         &params.Limit,
		Offset:        &params.Offset,
		Favorite:      params.Favorite,
		ReadingStatus: params.ReadingStatus,
	})
	if err != nil {
		return errors.WithStack(err)
	}

	resp := struct {
		Books []*models.Book `json:"books"`
		Total int            `json:"total"`
	}{books, total}

	return errors.WithStack(c.JSON(http.StatusOK, resp))
}

func (h *handler) retrieveBook(c echo.Context) error {
	ctx := c.Request().Context()
	identity := c.Param("identity")

	book, err := h.libraryService.RetrieveBook(ctx, RetrieveBookOptions{Identity: &identity})
	if err != nil {
		return errors.WithStack(err)
	}

	return errors.WithStack(c.JSON(http.StatusOK, book))
}

func (h *handler) updateBook(c echo.Context) error {
	ctx := c.Request().Context()
	identity := c.Param("identity")

	params := UpdateBookPayload{}
	if err := c.Bind(&params); err != nil {
		return errors.WithStack(err)
	}

	book, err := h.libraryService.RetrieveBook(ctx, RetrieveBookOptions{Identity: &identity})
	if err != nil {
		return errors.WithStack(err)
	}

	// Keep track of what's been changed.
	opts := UpdateBookOptions{Columns: []string{}}

	if params.Title != nil && *params.Title != book.Title {
		book.Title = *params.Title
		opts.Columns = append(opts.Columns, "title")
	}
	if params.Favorite != nil && *params.Favorite != book.Favorite {
		book.Favorite = *params.Favorite
		opts.Columns = append(opts.Columns, "favorite")
	}
	if params.ReadingStatus != nil && *params.ReadingStatus != book.ReadingStatus {
		book.ReadingStatus = *params.ReadingStatus
		opts.Columns = append(opts.Columns, "reading_status")
	}
	if params.TotalPages != nil && *params.TotalPages != book.TotalPages {
		book.TotalPages = *params.TotalPages
		opts.Columns = append(opts.Columns, "total_pages")
	}

	err = h.libraryService.UpdateBook(ctx, book, opts)
	if err != nil {
		return errors.WithStack(err)
	}

	return errors.WithStack(c.JSON(http.StatusOK, book))
}

func (h *handler) updateProgress(c echo.Context) error {
	ctx := c.Request().Context()
	identity := c.Param("identity")

	params := UpdateProgressPayload{}
	if err := c.Bind(&params); err != nil {
		return errors.WithStack(err)
	}

	book, err := h.libraryService.RetrieveBook(ctx, RetrieveBookOptions{Identity: &identity})
	if err != nil {
		return errors.WithStack(err)
	}

	now := time.Now()
	book.CurrentPage = params.CurrentPage
	book.LastReadAt = &now
	opts := UpdateBookOptions{Columns: []string{"current_page", "last_read_at"}}

	// Advance the reading status alongside the page.
	switch {
	case book.TotalPages > 0 && book.CurrentPage >= book.TotalPages-1 && book.ReadingStatus != models.ReadingStatusFinished:
		book.ReadingStatus = models.ReadingStatusFinished
		opts.Columns = append(opts.Columns, "reading_status")
	case book.CurrentPage > 0 && book.ReadingStatus == models.ReadingStatusUnread:
		book.ReadingStatus = models.ReadingStatusReading
		opts.Columns = append(opts.Columns, "reading_status")
	}

	err = h.libraryService.UpdateBook(ctx, book, opts)
	if err != nil {
		return errors.WithStack(err)
	}

	return errors.WithStack(c.JSON(http.StatusOK, book))
}

func (h *handler) deleteBook(c echo.Context) error {
	ctx := c.Request().Context()
	identity := c.Param("identity")

	book, err := h.libraryService.RetrieveBook(ctx, RetrieveBookOptions{Identity: &identity})
	if err != nil {
		return errors.WithStack(err)
	}

	if err := h.libraryService.DeleteBook(ctx, book); err != nil {
		return errors.WithStack(err)
	}

	return errors.WithStack(c.NoContent(http.StatusNoContent))
}

func (h *handler) listBookmarks(c echo.Context) error {
	ctx := c.Request().Context()
	identity := c.Param("identity")

	bookmarks, err := h.libraryService.ListBookmarks(ctx, ListBookmarksOptions{BookIdentity: &identity})
	if err != nil {
		return errors.WithStack(err)
	}

	return errors.WithStack(c.JSON(http.StatusOK, bookmarks))
}

func (h *handler) createBookmark(c echo.Context) error {
	ctx := c.Request().Context()
	identity := c.Param("identity")

	params := CreateBookmarkPayload{}
	if err := c.Bind(&params); err != nil {
		return errors.WithStack(err)
	}

	// The book has to exist and be live.
	book, err := h.libraryService.RetrieveBook(ctx, RetrieveBookOptions{Identity: &identity})
	if err != nil {
		return errors.WithStack(err)
	}

	bookmark := &models.Bookmark{
		BookIdentity: book.Identity,
		Name:         params.Name,
		Page:         params.Page,
	}
	if err := h.libraryService.CreateBookmark(ctx, bookmark); err != nil {
		return errors.WithStack(err)
	}

	return errors.WithStack(c.JSON(http.StatusCreated, bookmark))
}

func (h *handler) deleteBookmark(c echo.Context) error {
	ctx := c.Request().Context()
	identity := c.Param("identity")

	bookmark, err := h.libraryService.RetrieveBookmark(ctx, identity)
	if err != nil {
		return errors.WithStack(err)
	}

	if err := h.libraryService.DeleteBookmark(ctx, bookmark); err != nil {
		return errors.WithStack(err)
	}

	return errors.WithStack(c.NoContent(http.StatusNoContent))
}

func (h *handler) listGroups(c echo.Context) error {
	ctx := c.Request().Context()

	groups, err := h.libraryService.ListGroups(ctx, ListGroupsOptions{})
	if err != nil {
		return errors.WithStack(err)
	}

	return errors.WithStack(c.JSON(http.StatusOK, groups))
}

func (h *handler) createGroup(c echo.Context) error {
	ctx := c.Request().Context()

	params := CreateGroupPayload{}
	if err := c.Bind(&params); err != nil {
		return errors.WithStack(err)
	}

	group := &models.Group{
		Name:        params.Name,
		Description: params.Description,
	}
	if err := h.libraryService.CreateGroup(ctx, group); err != nil {
		return errors.WithStack(err)
	}

	return errors.WithStack(c.JSON(http.StatusCreated, group))
}

func (h *handler) updateGroup(c echo.Context) error {
	ctx := c.Request().Context()
	identity := c.Param("identity")

	params := UpdateGroupPayload{}
	if err := c.Bind(&params); err != nil {
		return errors.WithStack(err)
	}

	group, err := h.libraryService.RetrieveGroup(ctx, identity)
	if err != nil {
		return errors.WithStack(err)
	}

	opts := UpdateGroupOptions{Columns: []string{}}

	if params.Name != nil && *params.Name != group.Name {
		group.Name = *params.Name
		opts.Columns = append(opts.Columns, "name")
	}
	if params.Description != nil {
		group.Description = params.Description
		opts.Columns = append(opts.Columns, "description")
	}

	if err := h.libraryService.UpdateGroup(ctx, group, opts); err != nil {
		return errors.WithStack(err)
	}

	return errors.WithStack(c.JSON(http.StatusOK, group))
}

func (h *handler) deleteGroup(c echo.Context) error {
	ctx := c.Request().Context()
	identity := c.Param("identity")

	group, err := h.libraryService.RetrieveGroup(ctx, identity)
	if err != nil {
		return errors.WithStack(err)
	}

	if err := h.libraryService.DeleteGroup(ctx, group); err != nil {
		return errors.WithStack(err)
	}

	return errors.WithStack(c.NoContent(http.StatusNoContent))
}

func (h *handler) listGroupItems(c echo.Context) error {
	ctx := c.Request().Context()
	identity := c.Param("identity")

	group, err := h.libraryService.RetrieveGroup(ctx, identity)
	if err != nil {
		return errors.WithStack(err)
	}

	memberships, err := h.libraryService.ListGroupMemberships(ctx, group.Identity)
	if err != nil {
		return errors.WithStack(err)
	}

	return errors.WithStack(c.JSON(http.StatusOK, memberships))
}

func (h *handler) addGroupItem(c echo.Context) error {
	ctx := c.Request().Context()
	identity := c.Param("identity")

	params := AddGroupItemPayload{}
	if err := c.Bind(&params); err != nil {
		return errors.WithStack(err)
	}

	group, err := h.libraryService.RetrieveGroup(ctx, identity)
	if err != nil {
		return errors.WithStack(err)
	}
	book, err := h.libraryService.RetrieveBook(ctx, RetrieveBookOptions{Identity: &params.BookIdentity})
	if err != nil {
		return errors.WithStack(err)
	}

	membership := &models.GroupMembership{
		GroupIdentity: group.Identity,
		BookIdentity:  book.Identity,
		Position:      params.Position,
	}
	if err := h.libraryService.AddGroupMembership(ctx, membership); err != nil {
		return errors.WithStack(err)
	}

	return errors.WithStack(c.JSON(http.StatusCreated, membership))
}

func (h *handler) removeGroupItem(c echo.Context) error {
	ctx := c.Request().Context()
	identity := c.Param("identity")
	bookIdentity := c.Param("bookIdentity")

	err := h.libraryService.RemoveGroupMembership(ctx, identity, bookIdentity)
	if err != nil {
		return errors.WithStack(err)
	}

	return errors.WithStack(c.NoContent(http.StatusNoContent))
}

func (h *handler) retrieveBookSettings(c echo.Context) error {
	ctx := c.Request().Context()
	identity := c.Param("identity")

	book, err := h.libraryService.RetrieveBook(ctx, RetrieveBookOptions{Identity: &identity})
	if err != nil {
		return errors.WithStack(err)
	}

	settings, err := h.libraryService.RetrieveOrCreateBookSettings(ctx, book.Identity)
	if err != nil {
		return errors.WithStack(err)
	}

	return errors.WithStack(c.JSON(http.StatusOK, settings))
}

func (h *handler) updateBookSettings(c echo.Context) error {
	ctx := c.Request().Context()
	identity := c.Param("identity")

	params := UpdateBookSettingsPayload{}
	if err := c.Bind(&params); err != nil {
		return errors.WithStack(err)
	}

	book, err := h.libraryService.RetrieveBook(ctx, RetrieveBookOptions{Identity: &identity})
	if err != nil {
		return errors.WithStack(err)
	}

	settings, err := h.libraryService.RetrieveOrCreateBookSettings(ctx, book.Identity)
	if err != nil {
		return errors.WithStack(err)
	}

	opts := UpdateBookSettingsOptions{Columns: []string{}}

	if params.ReadingDirection != nil && *params.ReadingDirection != settings.ReadingDirection {
		settings.ReadingDirection = *params.ReadingDirection
		opts.Columns = append(opts.Columns, "reading_direction")
	}
	if params.PageDisplayMode != nil && *params.PageDisplayMode != settings.PageDisplayMode {
		settings.PageDisplayMode = *params.PageDisplayMode
		opts.Columns = append(opts.Columns, "page_display_mode")
	}
	if params.ImageFitMode != nil && *params.ImageFitMode != settings.ImageFitMode {
		settings.ImageFitMode = *params.ImageFitMode
		opts.Columns = append(opts.Columns, "image_fit_mode")
	}
	if params.ReaderBackground != nil && *params.ReaderBackground != settings.ReaderBackground {
		settings.ReaderBackground = *params.ReaderBackground
		opts.Columns = append(opts.Columns, "reader_background")
	}

	if err := h.libraryService.UpdateBookSettings(ctx, settings, opts); err != nil {
		return errors.WithStack(err)
	}

	return errors.WithStack(c.JSON(http.StatusOK, settings))
}
