package client

import (
	"context"
	"net"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/adwski/badminton-live/backend/model"
	"github.com/adwski/badminton-live/backend/protocol"
	wsserver "github.com/adwski/badminton-live/backend/server/websocket"
	"github.com/adwski/badminton-live/backend/service"
	"github.com/adwski/badminton-live/backend/storage/memory"
	_switch "github.com/adwski/badminton-live/backend/switch"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const waitFor = 2 * time.Second

// trackingListener remembers accepted connections so a test can cut them all.
type trackingListener struct {
	net.Listener
	mx    sync.Mutex
	conns []net.Conn
}

func (l *trackingListener) Accept() (net.Conn, error) {
	conn, err := l.Listener.Accept()
	if err == nil {
		l.mx.Lock()
		l.conns = append(l.conns, conn)
		l.mx.Unlock()
	}
	return conn, err
}

func (l *trackingListener) dropAll() {
	l.mx.Lock()
	defer l.mx.Unlock()
	for _, conn := range l.conns {
		_ = conn.Close()
	}
	l.conns = nil
}

type testServer struct {
	url      string
	listener *trackingListener
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	logger := zerolog.Nop()
	store := memory.NewMemStore(memory.Config{
		Logger: &logger,
		Switch: _switch.NewSwitch(&logger, nil),
		Clock:  clockwork.NewFakeClock(),
	})
	svc := service.NewService(service.Config{Registry: store, Logger: &logger})
	ws := wsserver.NewServer(wsserver.Config{Logger: &logger, SyncService: svc})

	srv := httptest.NewUnstartedServer(ws.Handler())
	tl := &trackingListener{Listener: srv.Listener}
	srv.Listener = tl
	srv.Start()
	t.Cleanup(func() {
		tl.dropAll()
		srv.Close()
	})
	return &testServer{
		url:      "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws",
		listener: tl,
	}
}

type testClient struct {
	*Client
	t       *testing.T
	states  chan model.MatchState
	notices chan Notice
	done    chan struct{}
	runErr  error
}

func (ts *testServer) dial(t *testing.T, policy ReconnectPolicy) *testClient {
	t.Helper()
	tc := &testClient{
		t:       t,
		states:  make(chan model.MatchState, 64),
		notices: make(chan Notice, 64),
		done:    make(chan struct{}),
	}
	logger := zerolog.Nop()
	c, err := Dial(context.Background(), Config{
		URL:       ts.url,
		Logger:    &logger,
		Reconnect: policy,
		OnState:   func(s model.MatchState) { tc.states <- s },
		OnNotice:  func(n Notice) { tc.notices <- n },
	})
	require.NoError(t, err)
	tc.Client = c

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		defer close(tc.done)
		tc.runErr = c.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-tc.done:
		case <-time.After(waitFor):
		}
	})
	return tc
}

func (tc *testClient) waitState(pred func(model.MatchState) bool) model.MatchState {
	tc.t.Helper()
	deadline := time.After(waitFor)
	for {
		select {
		case s := <-tc.states:
			if pred(s) {
				return s
			}
		case <-deadline:
			tc.t.Fatal("timed out waiting for state")
			return model.MatchState{}
		}
	}
}

func (tc *testClient) waitNotice(kind NoticeKind) Notice {
	tc.t.Helper()
	deadline := time.After(waitFor)
	for {
		select {
		case n := <-tc.notices:
			if n.Kind == kind {
				return n
			}
		case <-deadline:
			tc.t.Fatal("timed out waiting for notice")
			return Notice{}
		}
	}
}

func (tc *testClient) waitRole(role Role) {
	tc.t.Helper()
	require.Eventually(tc.t, func() bool { return tc.Role() == role }, waitFor, 5*time.Millisecond)
}

func TestCreateJoinAndScore(t *testing.T) {
	ctx := context.Background()
	ts := newTestServer(t)
	admin := ts.dial(t, ReconnectPolicy{})
	viewer := ts.dial(t, ReconnectPolicy{})

	require.NoError(t, admin.CreateRoom(ctx, "R1", "Ana", "Bo"))
	admin.waitRole(RoleAdmin)
	assert.NotEmpty(t, admin.AdminToken())

	require.NoError(t, viewer.JoinRoom(ctx, "R1"))
	st := viewer.waitState(func(s model.MatchState) bool { return s.RoomID == "R1" })
	assert.Equal(t, model.NewMatchState("R1", "Ana", "Bo"), st)
	viewer.waitRole(RoleViewer)

	require.NoError(t, admin.AddPoint(ctx, model.SideOne, 1))
	assert.Equal(t, 1, admin.State().Score1)
	viewer.waitState(func(s model.MatchState) bool { return s.Score1 == 1 })

	score1, score2 := 21, 19
	require.NoError(t, admin.PushScore(ctx, model.Snapshot{Score1: &score1, Score2: &score2}))
	st = viewer.waitState(func(s model.MatchState) bool { return s.Set1 == 1 })
	assert.Equal(t, 0, st.Score1)
	assert.Equal(t, 0, st.Score2)
	assert.Equal(t, "Ana", viewer.waitNotice(NoticeSetComplete).Winner)

	require.NoError(t, admin.Swap(ctx))
	viewer.waitState(func(s model.MatchState) bool { return s.Player1 == "Bo" && s.Set2 == 1 })

	require.NoError(t, admin.Rename(ctx, model.SideOne, "Cy"))
	viewer.waitState(func(s model.MatchState) bool { return s.Player1 == "Cy" })

	require.NoError(t, admin.Reset(ctx))
	st = viewer.waitState(func(s model.MatchState) bool { return s.Set2 == 0 })
	assert.Equal(t, model.NewMatchState("R1", "Cy", "Ana"), st)
}

func TestLocalChecksFailFast(t *testing.T) {
	ctx := context.Background()
	ts := newTestServer(t)
	admin := ts.dial(t, ReconnectPolicy{})
	viewer := ts.dial(t, ReconnectPolicy{})

	require.ErrorIs(t, admin.CreateRoom(ctx, "ELEVENCHARS", "Ana", "Bo"), protocol.ErrValidation)
	require.ErrorIs(t, admin.CreateRoom(ctx, "R1", " ", "Bo"), protocol.ErrValidation)
	require.ErrorIs(t, admin.AddPoint(ctx, model.SideOne, 1), ErrNotAdmin)

	require.NoError(t, admin.CreateRoom(ctx, "R1", "Ana", "Bo"))
	admin.waitRole(RoleAdmin)
	require.ErrorIs(t, admin.JoinRoom(ctx, "R1"), ErrAlreadyBound)
	require.ErrorIs(t, admin.Rename(ctx, model.SideOne, "  "), protocol.ErrValidation)
	negative := -1
	require.ErrorIs(t, admin.PushScore(ctx, model.Snapshot{Score1: &negative}), protocol.ErrValidation)

	require.NoError(t, viewer.JoinRoom(ctx, "R1"))
	viewer.waitRole(RoleViewer)
	require.ErrorIs(t, viewer.AddPoint(ctx, model.SideOne, 1), ErrNotAdmin)
	require.ErrorIs(t, viewer.Reset(ctx), ErrNotAdmin)
}

func TestRejectedCreateIsReported(t *testing.T) {
	ctx := context.Background()
	ts := newTestServer(t)
	first := ts.dial(t, ReconnectPolicy{})
	second := ts.dial(t, ReconnectPolicy{})

	require.NoError(t, first.CreateRoom(ctx, "R1", "Ana", "Bo"))
	first.waitRole(RoleAdmin)

	require.NoError(t, second.CreateRoom(ctx, "R1", "Cy", "Dee"))
	n := second.waitNotice(NoticeError)
	assert.Equal(t, protocol.CodeRoomExists, n.Code)
	require.Eventually(t, func() bool { return second.RoomID() == "" }, waitFor, 5*time.Millisecond)
	assert.Equal(t, RoleUnassigned, second.Role())

	require.NoError(t, second.JoinRoom(ctx, "R1"))
	st := second.waitState(func(s model.MatchState) bool { return s.RoomID == "R1" })
	assert.Equal(t, "Ana", st.Player1)
}

func TestSetsKeepCountingWithoutTermination(t *testing.T) {
	ctx := context.Background()
	ts := newTestServer(t)
	admin := ts.dial(t, ReconnectPolicy{})

	require.NoError(t, admin.CreateRoom(ctx, "R1", "Ana", "Bo"))
	admin.waitRole(RoleAdmin)

	// The server runs without match termination; sets keep counting.
	for set := 1; set <= 3; set++ {
		s1, s2 := 21, 0
		require.NoError(t, admin.PushScore(ctx, model.Snapshot{Score1: &s1, Score2: &s2}))
		admin.waitState(func(s model.MatchState) bool { return s.Set1 == set })
		admin.waitNotice(NoticeSetComplete)
	}
	assert.False(t, admin.State().Finished())
}

func TestTransportFailureWithoutReconnect(t *testing.T) {
	ctx := context.Background()
	ts := newTestServer(t)
	viewer := ts.dial(t, ReconnectPolicy{})
	admin := ts.dial(t, ReconnectPolicy{})

	require.NoError(t, admin.CreateRoom(ctx, "R1", "Ana", "Bo"))
	admin.waitRole(RoleAdmin)
	require.NoError(t, viewer.JoinRoom(ctx, "R1"))
	viewer.waitRole(RoleViewer)

	ts.listener.dropAll()

	n := viewer.waitNotice(NoticeTransport)
	require.ErrorIs(t, n.Err, ErrTransport)
	select {
	case <-viewer.done:
		require.ErrorIs(t, viewer.runErr, ErrTransport)
	case <-time.After(waitFor):
		t.Fatal("Run did not return")
	}
	assert.Equal(t, "R1", viewer.State().RoomID)
}

func TestReconnectResubscribes(t *testing.T) {
	ctx := context.Background()
	ts := newTestServer(t)
	policy := ReconnectPolicy{Attempts: 5, Delay: 10 * time.Millisecond, MaxDelay: 50 * time.Millisecond}
	admin := ts.dial(t, policy)
	viewer := ts.dial(t, policy)

	require.NoError(t, admin.CreateRoom(ctx, "R1", "Ana", "Bo"))
	admin.waitRole(RoleAdmin)
	token := admin.AdminToken()
	require.NoError(t, viewer.JoinRoom(ctx, "R1"))
	viewer.waitRole(RoleViewer)

	require.NoError(t, admin.AddPoint(ctx, model.SideOne, 1))
	viewer.waitState(func(s model.MatchState) bool { return s.Score1 == 1 })

	ts.listener.dropAll()

	admin.waitNotice(NoticeReconnected)
	viewer.waitNotice(NoticeReconnected)
	admin.waitRole(RoleAdmin)
	viewer.waitRole(RoleViewer)
	assert.Equal(t, token, admin.AdminToken())

	require.NoError(t, admin.AddPoint(ctx, model.SideTwo, 1))
	st := viewer.waitState(func(s model.MatchState) bool { return s.Score2 == 1 })
	assert.Equal(t, 1, st.Score1)
}

func TestResumeAdminFromNewClient(t *testing.T) {
	ctx := context.Background()
	ts := newTestServer(t)
	admin := ts.dial(t, ReconnectPolicy{})

	require.NoError(t, admin.CreateRoom(ctx, "R1", "Ana", "Bo"))
	admin.waitRole(RoleAdmin)

	other := ts.dial(t, ReconnectPolicy{})
	require.NoError(t, other.ResumeAdmin(ctx, "R1", admin.AdminToken()))
	other.waitRole(RoleAdmin)
	admin.waitRole(RoleViewer)

	require.NoError(t, other.AddPoint(ctx, model.SideTwo, 1))
	admin.waitState(func(s model.MatchState) bool { return s.Score2 == 1 })
	require.ErrorIs(t, admin.AddPoint(ctx, model.SideOne, 1), ErrNotAdmin)
}
