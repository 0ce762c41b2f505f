// Package handler defines the HTTP handlers of the song service.  Each
// handler translates one request into a single repository call (two for
// create and update, which check for the target first) and maps the result
// onto a status code.  Store failures are surfaced as 500 with the error
// text.
package handler

import (
	"context"  // context bounds every store call
	"fmt"      // fmt formats the duplicate-id message
	"io"       // io reads the raw request body
	"net/http" // http provides status code constants
	"strconv"  // strconv parses the path id
	"time"     // time defines the store timeout

	"github.com/charmbracelet/log" // structured application logger
	"github.com/juju/errors"       // errors matches repository sentinels
	"github.com/labstack/echo/v4"  // echo is the web framework used for handlers

	"github.com/iliyamo/song-service/internal/model"      // Song document type
	"github.com/iliyamo/song-service/internal/queue"      // song event payloads
	"github.com/iliyamo/song-service/internal/repository" // sentinel errors
)

// storeTimeout bounds a single repository call made on behalf of a request.
const storeTimeout = 5 * time.Second

// SongStore is the subset of the song repository used by the handlers.
type SongStore interface {
	Count(ctx context.Context) (int64, error)
	List(ctx context.Context) ([]model.Song, error)
	GetByID(ctx context.Context, id int64) (model.Song, error)
	Create(ctx context.Context, s model.Song) (string, error)
	Update(ctx context.Context, id int64, fields model.Song) error
	Delete(ctx context.Context, id int64) error
}

// EventPublisher delivers song events to the broker.
type EventPublisher interface {
	PublishSongChanged(ctx context.Context, ev queue.SongChangedEvent) error
}

// SongHandler bundles the dependencies of the song endpoints.
type SongHandler struct {
	Store     SongStore      // Store persists songs
	Publisher EventPublisher // Publisher may be nil; events are then dropped
	Logger    *log.Logger    // Logger records store and publish failures
}

// NewSongHandler constructs a SongHandler and panics if the store or logger is nil.
func NewSongHandler(store SongStore, pub EventPublisher, logger *log.Logger) *SongHandler {
	if store == nil || logger == nil {
		panic("nil dependency passed to NewSongHandler")
	}
	return &SongHandler{Store: store, Publisher: pub, Logger: logger}
}

// Count handles GET /count.
func (h *SongHandler) Count(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), storeTimeout)
	defer cancel()

	n, err := h.Store.Count(ctx)
	if err != nil {
		return h.storeError(c, "counting documents", err)
	}
	return c.JSON(http.StatusOK, echo.Map{"count": n})
}

// List handles GET /song and returns every stored song.
func (h *SongHandler) List(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), storeTimeout)
	defer cancel()

	songs, err := h.Store.List(ctx)
	if err != nil {
		return h.storeError(c, "retrieving songs", err)
	}
	return c.JSON(http.StatusOK, echo.Map{"songs": songs})
}

// Get handles GET /song/:id.
func (h *SongHandler) Get(c echo.Context) error {
	id, ok := songID(c)
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"message": "invalid id"})
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), storeTimeout)
	defer cancel()

	song, err := h.Store.GetByID(ctx, id)
	if errors.Is(err, repository.ErrSongNotFound) {
		return c.JSON(http.StatusNotFound, echo.Map{"message": "song with id not found"})
	}
	if err != nil {
		return h.storeError(c, "retrieving song by id", err)
	}
	return c.JSON(http.StatusOK, song)
}

// Create handles POST /song.  A song whose id is already stored is answered
// with 302 Found.
func (h *SongHandler) Create(c echo.Context) error {
	song, err := readSong(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"message": "invalid JSON body"})
	}
	if len(song) == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"message": "No data provided"})
	}
	id, ok := song.ID()
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"message": "integer id is required"})
	}
	song[model.FieldID] = id

	ctx, cancel := context.WithTimeout(c.Request().Context(), storeTimeout)
	defer cancel()

	_, err = h.Store.GetByID(ctx, id)
	switch {
	case err == nil:
		return duplicate(c, id)
	case !errors.Is(err, repository.ErrSongNotFound):
		return h.storeError(c, "creating song", err)
	}

	storeID, err := h.Store.Create(ctx, song)
	if errors.Is(err, repository.ErrDuplicateID) { // lost a race with a concurrent create
		return duplicate(c, id)
	}
	if err != nil {
		return h.storeError(c, "creating song", err)
	}

	ev := queue.NewSongChangedEvent(queue.ActionCreated, id)
	ev.StoreID = storeID
	ev.Title = titleOf(song)
	h.publish(c, ev)
	return c.JSON(http.StatusCreated, echo.Map{"message": "Song created", "id": storeID})
}

// Update handles PUT /song/:id.  Only the fields present in the body are
// overwritten.  When title and lyrics are both unchanged nothing is written.
func (h *SongHandler) Update(c echo.Context) error {
	id, ok := songID(c)
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"message": "invalid id"})
	}
	body, readErr := readSong(c)

	ctx, cancel := context.WithTimeout(c.Request().Context(), storeTimeout)
	defer cancel()

	current, err := h.Store.GetByID(ctx, id)
	if errors.Is(err, repository.ErrSongNotFound) {
		return c.JSON(http.StatusNotFound, echo.Map{"message": "song with id not found"})
	}
	if err != nil {
		return h.storeError(c, "updating song", err)
	}
	if readErr != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"message": "invalid JSON body"})
	}
	if len(body) == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"message": "No data provided"})
	}
	if _, present := body[model.FieldID]; present {
		if bodyID, ok := body.ID(); !ok || bodyID != id {
			return c.JSON(http.StatusBadRequest, echo.Map{"message": "id in body does not match path"})
		}
		body[model.FieldID] = id
	}
	if current.SameContent(body) {
		return c.JSON(http.StatusOK, echo.Map{"message": "song found, but nothing updated"})
	}

	err = h.Store.Update(ctx, id, body)
	if errors.Is(err, repository.ErrSongNotFound) { // deleted between the lookup and the write
		return c.JSON(http.StatusNotFound, echo.Map{"message": "song not found"})
	}
	if err != nil {
		return h.storeError(c, "updating song", err)
	}

	ev := queue.NewSongChangedEvent(queue.ActionUpdated, id)
	ev.Title = titleOf(body)
	if ev.Title == "" {
		ev.Title = titleOf(current)
	}
	h.publish(c, ev)
	return c.JSON(http.StatusOK, echo.Map{"message": "Song updated"})
}

// Delete handles DELETE /song/:id and answers 204 with an empty body.
func (h *SongHandler) Delete(c echo.Context) error {
	id, ok := songID(c)
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"message": "invalid id"})
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), storeTimeout)
	defer cancel()

	err := h.Store.Delete(ctx, id)
	if errors.Is(err, repository.ErrSongNotFound) {
		return c.JSON(http.StatusNotFound, echo.Map{"message": "song not found"})
	}
	if err != nil {
		return h.storeError(c, "deleting song", err)
	}

	h.publish(c, queue.NewSongChangedEvent(queue.ActionDeleted, id))
	return c.NoContent(http.StatusNoContent)
}

// storeError logs a store failure and answers 500 with the raw message.
func (h *SongHandler) storeError(c echo.Context, op string, err error) error {
	h.Logger.Error("store operation failed",
		"op", op,
		"err", err,
		"request_id", c.Response().Header().Get(echo.HeaderXRequestID),
	)
	return c.JSON(http.StatusInternalServerError, echo.Map{"error": err.Error()})
}

// publish sends ev without affecting the response; failures are only logged.
func (h *SongHandler) publish(c echo.Context, ev queue.SongChangedEvent) {
	if h.Publisher == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(c.Request().Context()), 2*time.Second)
	defer cancel()
	if err := h.Publisher.PublishSongChanged(ctx, ev); err != nil {
		h.Logger.Warn("song event not published", "action", ev.Action, "song_id", ev.SongID, "err", err)
	}
}

func duplicate(c echo.Context, id int64) error {
	return c.JSON(http.StatusFound, echo.Map{"message": fmt.Sprintf("song with id %d already present", id)})
}

// songID parses the :id path parameter as a base-10 integer.
func songID(c echo.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	return id, err == nil
}

// readSong decodes the request body.  An empty body yields an empty song.
func readSong(c echo.Context) (model.Song, error) {
	data, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, nil
	}
	return model.DecodeSong(data)
}

func titleOf(s model.Song) string {
	t, _ := s.Title().(string)
	return t
}
