package auth

import (
	"github.com/labstack/echo/v4"
)

func RegisterRoutes(e *echo.Echo, authService *Service) {
	h := &handler{authService: authService}

	e.POST("/auth/google/signin", h.signIn)
	e.POST("/auth/google/signout", h.signOut)
	e.POST("/auth/google/refresh", h.refresh)
	e.GET("/auth/status", h.status)
}
