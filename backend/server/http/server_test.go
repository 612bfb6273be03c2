package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/adwski/badminton-live/backend/model"
	"github.com/adwski/badminton-live/backend/storage/memory"
	_switch "github.com/adwski/badminton-live/backend/switch"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type response struct {
	Message string          `json:"message"`
	Error   string          `json:"error"`
	Data    json.RawMessage `json:"data"`
}

func newTestServer(t *testing.T) (*Server, *memory.MemStore) {
	t.Helper()
	logger := zerolog.Nop()
	store := memory.NewMemStore(memory.Config{
		Logger: &logger,
		Switch: _switch.NewSwitch(&logger, nil),
		Clock:  clockwork.NewFakeClock(),
	})
	srv := NewServer(Config{
		Logger:      &logger,
		RoomService: store,
		MetricsHandler: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("metrics"))
		}),
	})
	return srv, store
}

func do(t *testing.T, srv *Server, req *http.Request) (*httptest.ResponseRecorder, response) {
	t.Helper()
	rec := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, req)
	var resp response
	if rec.Header().Get("Content-Type") == "application/json" {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	}
	return rec, resp
}

func TestGetRoom(t *testing.T) {
	srv, store := newTestServer(t)
	_, err := store.CreateRoom(context.Background(), "R1", "Ana", "Bo",
		memory.Endpoint{ID: "admin", TX: make(chan model.Message, 4)})
	require.NoError(t, err)

	rec, resp := do(t, srv, httptest.NewRequest(http.MethodGet, "/api/room/R1", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var st model.MatchState
	require.NoError(t, json.Unmarshal(resp.Data, &st))
	assert.Equal(t, model.NewMatchState("R1", "Ana", "Bo"), st)
}

func TestGetRoomErrors(t *testing.T) {
	srv, _ := newTestServer(t)

	rec, resp := do(t, srv, httptest.NewRequest(http.MethodGet, "/api/room/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, memory.ErrRoomNotFound.Error(), resp.Error)

	rec, _ = do(t, srv, httptest.NewRequest(http.MethodGet, "/api/room/ELEVENCHARS", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListRooms(t *testing.T) {
	srv, store := newTestServer(t)
	for _, id := range []string{"B", "A"} {
		_, err := store.CreateRoom(context.Background(), id, "Ana", "Bo",
			memory.Endpoint{ID: "admin-" + id, TX: make(chan model.Message, 4)})
		require.NoError(t, err)
	}

	rec, resp := do(t, srv, httptest.NewRequest(http.MethodGet, "/api/rooms", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var stats []memory.RoomStats
	require.NoError(t, json.Unmarshal(resp.Data, &stats))
	require.Len(t, stats, 2)
	assert.Equal(t, "A", stats[0].State.RoomID)
	assert.True(t, stats[1].HasAdmin)
}

func TestHealthAndMetrics(t *testing.T) {
	srv, _ := newTestServer(t)

	rec, resp := do(t, srv, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", resp.Message)

	rec, _ = do(t, srv, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "metrics", rec.Body.String())
}

func TestCORSPreflight(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/rooms", nil)
	req.Header.Set("Origin", "http://example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)

	rec, _ := do(t, srv, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}
