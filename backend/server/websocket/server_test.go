package websocket

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/adwski/badminton-live/backend/service"
	"github.com/adwski/badminton-live/backend/storage/memory"
	_switch "github.com/adwski/badminton-live/backend/switch"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type frame map[string]any

func newTestURL(t *testing.T) string {
	t.Helper()
	logger := zerolog.Nop()
	store := memory.NewMemStore(memory.Config{
		Logger: &logger,
		Switch: _switch.NewSwitch(&logger, nil),
		Clock:  clockwork.NewFakeClock(),
	})
	srv := NewServer(Config{
		Logger:      &logger,
		SyncService: service.NewService(service.Config{Registry: store, Logger: &logger}),
	})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, f frame) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(f))
}

func recv(t *testing.T, conn *websocket.Conn) frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var f frame
	require.NoError(t, conn.ReadJSON(&f))
	return f
}

func recvType(t *testing.T, conn *websocket.Conn, typ string) frame {
	t.Helper()
	for {
		if f := recv(t, conn); f["type"] == typ {
			return f
		}
	}
}

func TestCreateJoinAndPush(t *testing.T) {
	url := newTestURL(t)
	admin := dial(t, url)
	viewer := dial(t, url)

	send(t, admin, frame{"type": "create_room", "roomId": "R1", "player1": "Ana", "player2": "Bo"})
	info := recvType(t, admin, "client_info")
	assert.Equal(t, true, info["isAdmin"])
	assert.NotEmpty(t, info["adminToken"])

	send(t, viewer, frame{"type": "join_room", "roomId": "R1"})
	st := recvType(t, viewer, "room_state")
	assert.Equal(t, frame{
		"type": "room_state", "roomId": "R1",
		"player1": "Ana", "player2": "Bo",
		"score1": float64(0), "score2": float64(0),
		"pset1": float64(0), "pset2": float64(0),
	}, st)
	info = recvType(t, viewer, "client_info")
	assert.Equal(t, false, info["isAdmin"])

	send(t, admin, frame{"type": "update_score", "roomId": "R1", "score1": 21, "score2": 19, "pset1": 0, "pset2": 0})
	st = recvType(t, viewer, "room_state")
	assert.Equal(t, float64(1), st["pset1"])
	assert.Equal(t, float64(0), st["score1"])
	assert.Equal(t, float64(0), st["score2"])
	notice := recv(t, viewer)
	assert.Equal(t, "set_complete", notice["type"])
	assert.Equal(t, "Ana", notice["winner"])
}

func TestViewerPushIsForbidden(t *testing.T) {
	url := newTestURL(t)
	admin := dial(t, url)
	viewer := dial(t, url)

	send(t, admin, frame{"type": "create_room", "roomId": "R1", "player1": "Ana", "player2": "Bo"})
	recvType(t, admin, "client_info")
	send(t, viewer, frame{"type": "join_room", "roomId": "R1"})
	recvType(t, viewer, "client_info")

	send(t, viewer, frame{"type": "update_score", "roomId": "R1", "score1": 5})
	e := recvType(t, viewer, "error")
	assert.Equal(t, "forbidden", e["code"])
	assert.NotEmpty(t, e["error"])
}

func TestMalformedFrameKeepsConnectionOpen(t *testing.T) {
	url := newTestURL(t)
	conn := dial(t, url)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	assert.Equal(t, "bad_request", recvType(t, conn, "error")["code"])

	send(t, conn, frame{"type": "launch_rocket"})
	assert.Equal(t, "bad_request", recvType(t, conn, "error")["code"])

	send(t, conn, frame{"type": "join_room", "roomId": "nope"})
	assert.Equal(t, "room_not_found", recvType(t, conn, "error")["code"])

	send(t, conn, frame{"type": "create_room", "roomId": "R1", "player1": "Ana", "player2": "Bo"})
	assert.Equal(t, true, recvType(t, conn, "client_info")["isAdmin"])
}
