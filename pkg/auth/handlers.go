package auth

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
)

type handler struct {
	authService *Service
}

func (h *handler) signIn(c echo.Context) error {
	ctx := c.Request().Context()

	url, err := h.authService.StartSignIn(ctx)
	if err != nil {
		return errors.WithStack(err)
	}

	resp := struct {
		AuthURL string      `json:"auth_url"`
		Status  *AuthStatus `json:"status"`
	}{url, h.authService.Status(ctx)}

	return errors.WithStack(c.JSON(http.StatusOK, resp))
}

func (h *handler) signOut(c echo.Context) error {
	ctx := c.Request().Context()

	if err := h.authService.SignOut(ctx); err != nil {
		return errors.WithStack(err)
	}

	return errors.WithStack(c.JSON(http.StatusOK, h.authService.Status(ctx)))
}

func (h *handler) refresh(c echo.Context) error {
	ctx := c.Request().Context()

	if _, err := h.authService.ForceRefresh(ctx); err != nil {
		return errors.WithStack(err)
	}

	return errors.WithStack(c.JSON(http.StatusOK, h.authService.Status(ctx)))
}

func (h *handler) status(c echo.Context) error {
	ctx := c.Request().Context()

	return errors.WithStack(c.JSON(http.StatusOK, h.authService.Status(ctx)))
}
