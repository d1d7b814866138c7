package api

import (
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// SetupRouter creates and configures the echo router with all routes and middleware.
func SetupRouter(handler *Handler) *echo.Echo {
	e := echo.New()
	e.HideBanner = true

	// Global middleware
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET", "POST", "OPTIONS"},
		AllowHeaders: []string{"Content-Type"},
	}))
	e.Use(RequestLogger())

	// Health & stats
	e.GET("/health", handler.HandleHealth)
	e.GET("/api/stats", handler.HandleStats)

	// Upload
	e.POST("/api/upload", handler.HandleUpload)

	// Download: GET describes (or streams password-free links),
	// POST submits a password and streams.
	e.GET("/d/:link", handler.HandleLinkInfo)
	e.POST("/d/:link", handler.HandleDownload)

	// Analytics
	e.GET("/a/:link", handler.HandleAnalytics)

	return e
}
