package router // package router defines how HTTP routes are registered for the API

import (
	"github.com/labstack/echo/v4" // import the Echo web framework to handle routing

	"github.com/iliyamo/song-service/internal/handler" // import the handlers that implement the song endpoints
)

// RegisterRoutes registers the health check and the song endpoints on the
// provided Echo instance.  Reads are always open; writeGuard wraps the
// create, update and delete routes (it may be a pass-through).
func RegisterRoutes(e *echo.Echo, songs *handler.SongHandler, writeGuard echo.MiddlewareFunc) {
	// Map GET /health to the Health handler.  Load balancers and
	// monitoring systems use it to verify the service is up.
	e.GET("/health", handler.Health)

	// Number of stored songs.
	e.GET("/count", songs.Count)

	// Collection and item reads.
	e.GET("/song", songs.List)
	e.GET("/song/:id", songs.Get)

	// Writes go through the optional JWT guard.
	e.POST("/song", songs.Create, writeGuard)
	e.PUT("/song/:id", songs.Update, writeGuard)
	e.DELETE("/song/:id", songs.Delete, writeGuard)
}
