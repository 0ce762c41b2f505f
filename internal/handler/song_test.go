package handler_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/song-service/internal/handler"
	"github.com/iliyamo/song-service/internal/model"
	"github.com/iliyamo/song-service/internal/queue"
	"github.com/iliyamo/song-service/internal/repository"
	"github.com/iliyamo/song-service/internal/router"
)

// memStore is an in-memory SongStore keyed by application id.
type memStore struct {
	mu      sync.Mutex
	songs   map[int64]model.Song
	nextOID int
	err     error // returned by every call when set
	updates int
}

func newMemStore(songs ...model.Song) *memStore {
	s := &memStore{songs: map[int64]model.Song{}}
	for _, song := range songs {
		id, _ := song.ID()
		s.songs[id] = song
	}
	return s
}

func (s *memStore) Count(context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return 0, s.err
	}
	return int64(len(s.songs)), nil
}

func (s *memStore) List(context.Context) ([]model.Song, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	out := []model.Song{}
	for _, song := range s.songs {
		out = append(out, song)
	}
	sort.Slice(out, func(i, j int) bool {
		a, _ := out[i].ID()
		b, _ := out[j].ID()
		return a < b
	})
	return out, nil
}

func (s *memStore) GetByID(_ context.Context, id int64) (model.Song, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	song, ok := s.songs[id]
	if !ok {
		return nil, repository.ErrSongNotFound
	}
	return song, nil
}

func (s *memStore) Create(_ context.Context, song model.Song) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return "", s.err
	}
	id, _ := song.ID()
	if _, ok := s.songs[id]; ok {
		return "", repository.ErrDuplicateID
	}
	s.nextOID++
	oid := strings.Repeat("0", 23) + string(rune('0'+s.nextOID%10))
	stored := song.Fields()
	stored[model.FieldStoreID] = oid
	s.songs[id] = stored
	return oid, nil
}

func (s *memStore) Update(_ context.Context, id int64, fields model.Song) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	song, ok := s.songs[id]
	if !ok {
		return repository.ErrSongNotFound
	}
	for k, v := range fields.Fields() {
		song[k] = v
	}
	s.updates++
	return nil
}

func (s *memStore) Delete(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	if _, ok := s.songs[id]; !ok {
		return repository.ErrSongNotFound
	}
	delete(s.songs, id)
	return nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []queue.SongChangedEvent
	err    error
}

func (p *recordingPublisher) PublishSongChanged(_ context.Context, ev queue.SongChangedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return p.err
}

func seedSongs() []model.Song {
	return []model.Song{
		{"id": int64(1), "title": "A", "lyrics": "L"},
		{"id": int64(2), "title": "B", "lyrics": "M", "album": "X"},
	}
}

func newServer(t *testing.T, store handler.SongStore, pub handler.EventPublisher) *echo.Echo {
	t.Helper()
	e := echo.New()
	h := handler.NewSongHandler(store, pub, log.New(io.Discard))
	router.RegisterRoutes(e, h, func(next echo.HandlerFunc) echo.HandlerFunc { return next })
	return e
}

func do(t *testing.T, e *echo.Echo, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestHealth(t *testing.T) {
	e := newServer(t, newMemStore(), nil)
	rec := do(t, e, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]any{"status": "OK"}, decode(t, rec))
}

func TestCountEqualsListLength(t *testing.T) {
	e := newServer(t, newMemStore(seedSongs()...), nil)

	count := decode(t, do(t, e, http.MethodGet, "/count", ""))
	list := decode(t, do(t, e, http.MethodGet, "/song", ""))

	songs, ok := list["songs"].([]any)
	require.True(t, ok)
	assert.EqualValues(t, len(songs), count["count"])
	assert.EqualValues(t, 2, count["count"])
}

func TestListEmptyCollection(t *testing.T) {
	rec := do(t, newServer(t, newMemStore(), nil), http.MethodGet, "/song", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"songs": []}`, rec.Body.String())
}

func TestGetByID(t *testing.T) {
	e := newServer(t, newMemStore(seedSongs()...), nil)

	rec := do(t, e, http.MethodGet, "/song/2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"id": 2, "title": "B", "lyrics": "M", "album": "X"}`, rec.Body.String())

	rec = do(t, e, http.MethodGet, "/song/99", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "song with id not found", decode(t, rec)["message"])
}

func TestNonIntegerIDIsBadRequest(t *testing.T) {
	e := newServer(t, newMemStore(seedSongs()...), nil)
	for _, method := range []string{http.MethodGet, http.MethodPut, http.MethodDelete} {
		rec := do(t, e, method, "/song/abc", `{"title": "x"}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code, method)
	}
}

func TestCreate(t *testing.T) {
	store := newMemStore(seedSongs()...)
	pub := &recordingPublisher{}
	e := newServer(t, store, pub)

	rec := do(t, e, http.MethodPost, "/song", `{"id": 3, "title": "C", "lyrics": "N", "year": 2001}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "Song created", body["message"])
	assert.NotEmpty(t, body["id"])

	got := decode(t, do(t, e, http.MethodGet, "/song/3", ""))
	assert.Equal(t, "C", got["title"])
	assert.EqualValues(t, 2001, got["year"])

	require.Len(t, pub.events, 1)
	assert.Equal(t, queue.ActionCreated, pub.events[0].Action)
	assert.Equal(t, int64(3), pub.events[0].SongID)
	assert.Equal(t, body["id"], pub.events[0].StoreID)
}

func TestCreateRejectsMissingBody(t *testing.T) {
	e := newServer(t, newMemStore(), nil)

	for _, body := range []string{"", "{}", "null"} {
		rec := do(t, e, http.MethodPost, "/song", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
		assert.Equal(t, "No data provided", decode(t, rec)["message"], body)
	}

	rec := do(t, e, http.MethodPost, "/song", `{"id": `)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateRequiresIntegerID(t *testing.T) {
	e := newServer(t, newMemStore(), nil)
	for _, body := range []string{
		`{"title": "no id"}`,
		`{"id": "1"}`,
		`{"id": 1.5}`,
		`{"id": 1e19}`,
		`{"id": 9223372036854775808}`,
		`{"id": -1e300}`,
	} {
		assert.Equal(t, http.StatusBadRequest, do(t, e, http.MethodPost, "/song", body).Code, body)
	}
}

func TestCreateDuplicateDoesNotMutate(t *testing.T) {
	store := newMemStore(seedSongs()...)
	pub := &recordingPublisher{}
	e := newServer(t, store, pub)

	rec := do(t, e, http.MethodPost, "/song", `{"id": 1, "title": "other", "lyrics": "other"}`)
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "song with id 1 already present", decode(t, rec)["message"])

	got := decode(t, do(t, e, http.MethodGet, "/song/1", ""))
	assert.Equal(t, "A", got["title"])
	assert.Empty(t, pub.events)
}

func TestUpdate(t *testing.T) {
	store := newMemStore(seedSongs()...)
	pub := &recordingPublisher{}
	e := newServer(t, store, pub)

	rec := do(t, e, http.MethodPut, "/song/2", `{"title": "B2"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Song updated", decode(t, rec)["message"])

	got := decode(t, do(t, e, http.MethodGet, "/song/2", ""))
	assert.Equal(t, "B2", got["title"])
	assert.Equal(t, "M", got["lyrics"], "fields missing from the body are kept")
	assert.Equal(t, "X", got["album"])

	require.Len(t, pub.events, 1)
	assert.Equal(t, queue.ActionUpdated, pub.events[0].Action)
	assert.Equal(t, "B2", pub.events[0].Title)
}

func TestUpdateNoOp(t *testing.T) {
	store := newMemStore(seedSongs()...)
	pub := &recordingPublisher{}
	e := newServer(t, store, pub)

	rec := do(t, e, http.MethodPut, "/song/1", `{"title": "A", "lyrics": "L"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "song found, but nothing updated", decode(t, rec)["message"])
	assert.Zero(t, store.updates)
	assert.Empty(t, pub.events)
}

func TestUpdateErrors(t *testing.T) {
	e := newServer(t, newMemStore(seedSongs()...), nil)

	assert.Equal(t, http.StatusNotFound, do(t, e, http.MethodPut, "/song/99", `{"title": "x"}`).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, e, http.MethodPut, "/song/1", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(t, e, http.MethodPut, "/song/1", `{"id": 2, "title": "x"}`).Code)
	assert.Equal(t, http.StatusOK, do(t, e, http.MethodPut, "/song/1", `{"id": 1, "title": "x"}`).Code)
}

func TestUpdateMalformedBody(t *testing.T) {
	store := newMemStore(seedSongs()...)
	e := newServer(t, store, nil)

	rec := do(t, e, http.MethodPut, "/song/99", `{"title": `)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "song with id not found", decode(t, rec)["message"])

	rec = do(t, e, http.MethodPut, "/song/1", `{"title": `)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid JSON body", decode(t, rec)["message"])
	assert.Zero(t, store.updates)
}

func TestDeleteTwice(t *testing.T) {
	pub := &recordingPublisher{}
	e := newServer(t, newMemStore(seedSongs()...), pub)

	rec := do(t, e, http.MethodDelete, "/song/1", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, rec.Body.String())

	rec = do(t, e, http.MethodDelete, "/song/1", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	require.Len(t, pub.events, 1)
	assert.Equal(t, queue.ActionDeleted, pub.events[0].Action)
}

func TestStoreErrorsAre500(t *testing.T) {
	store := newMemStore(seedSongs()...)
	store.err = errors.New("connection refused")
	e := newServer(t, store, nil)

	cases := []struct{ method, target, body string }{
		{http.MethodGet, "/count", ""},
		{http.MethodGet, "/song", ""},
		{http.MethodGet, "/song/1", ""},
		{http.MethodPost, "/song", `{"id": 5}`},
		{http.MethodPut, "/song/1", `{"title": "x"}`},
		{http.MethodDelete, "/song/1", ""},
	}
	for _, tc := range cases {
		rec := do(t, e, tc.method, tc.target, tc.body)
		assert.Equal(t, http.StatusInternalServerError, rec.Code, tc.method+" "+tc.target)
		assert.Equal(t, "connection refused", decode(t, rec)["error"])
	}
}

func TestPublishFailureDoesNotChangeResponse(t *testing.T) {
	pub := &recordingPublisher{err: errors.New("broker down")}
	e := newServer(t, newMemStore(), pub)

	rec := do(t, e, http.MethodPost, "/song", `{"id": 9, "title": "T", "lyrics": "L"}`)
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Len(t, pub.events, 1)
}

func TestSeedScenario(t *testing.T) {
	e := newServer(t, newMemStore(model.Song{"id": int64(1), "title": "A", "lyrics": "L"}), nil)

	rec := do(t, e, http.MethodGet, "/song/1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"id": 1, "title": "A", "lyrics": "L"}`, rec.Body.String())

	rec = do(t, e, http.MethodPut, "/song/1", `{"title": "A", "lyrics": "L"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "song found, but nothing updated", decode(t, rec)["message"])

	rec = do(t, e, http.MethodPut, "/song/1", `{"title": "B", "lyrics": "L"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Song updated", decode(t, rec)["message"])
	assert.Equal(t, "B", decode(t, do(t, e, http.MethodGet, "/song/1", ""))["title"])

	assert.Equal(t, http.StatusNoContent, do(t, e, http.MethodDelete, "/song/1", "").Code)
	assert.Equal(t, http.StatusNotFound, do(t, e, http.MethodGet, "/song/1", "").Code)
}

func TestNewSongHandlerPanicsOnNilStore(t *testing.T) {
	assert.Panics(t, func() { handler.NewSongHandler(nil, nil, log.New(io.Discard)) })
}
