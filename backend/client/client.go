// Package client keeps one scoreboard screen connected to a room.
//
// A Client holds the last state received from the server and replaces it
// wholesale on every room_state. Admin operations are applied to the local
// copy first and sent afterwards; the next room_state overrides the local
// guess either way.
package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/adwski/badminton-live/backend/model"
	"github.com/adwski/badminton-live/backend/protocol"
	"github.com/adwski/badminton-live/backend/score"
	"github.com/avast/retry-go/v4"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	defaultHandshakeTimeout = 5 * time.Second
	defaultWriteDeadline    = 5 * time.Second

	// Server pings arrive every few seconds; silence for longer means the link is gone.
	defaultReadWait = 15 * time.Second
)

var (
	ErrTransport    = errors.New("transport failure")
	ErrNotAdmin     = errors.New("this connection is not the room admin")
	ErrNotConnected = errors.New("client is not connected")
	ErrAlreadyBound = errors.New("client is already bound to a room")
)

type Role int

const (
	RoleUnassigned Role = iota
	RoleAdmin
	RoleViewer
)

func (r Role) String() string {
	switch r {
	case RoleAdmin:
		return "admin"
	case RoleViewer:
		return "viewer"
	}
	return "unassigned"
}

type NoticeKind int

const (
	NoticeError NoticeKind = iota
	NoticeSetComplete
	NoticeMatchComplete
	NoticeTransport
	NoticeReconnected
)

// Notice is something the user should be told about. State changes are not notices.
type Notice struct {
	Kind    NoticeKind
	Code    string
	Message string
	Winner  string
	Err     error
}

// ReconnectPolicy is disabled when Attempts is zero.
type ReconnectPolicy struct {
	Attempts uint
	Delay    time.Duration
	MaxDelay time.Duration
}

func (p ReconnectPolicy) Enabled() bool {
	return p.Attempts > 0
}

type Config struct {
	URL       string
	Header    http.Header
	Logger    *zerolog.Logger
	Dialer    *websocket.Dialer
	Rules     score.Rules
	Reconnect ReconnectPolicy

	// Callbacks run on the goroutine that called Run, one at a time.
	OnState  func(model.MatchState)
	OnNotice func(Notice)
}

type Client struct {
	url       string
	header    http.Header
	dialer    *websocket.Dialer
	engine    *score.Engine
	reconnect ReconnectPolicy
	onState   func(model.MatchState)
	onNotice  func(Notice)
	logger    zerolog.Logger

	writeMx *sync.Mutex
	mx      *sync.Mutex
	conn    *websocket.Conn
	role    Role
	roomID  string
	token   string
	state   model.MatchState
	closed  bool
}

// Dial opens the connection. The client is Unassigned until it creates or joins a room.
func Dial(ctx context.Context, cfg Config) (*Client, error) {
	c := &Client{
		url:       cfg.URL,
		header:    cfg.Header,
		dialer:    cfg.Dialer,
		engine:    score.NewEngine(cfg.Rules),
		reconnect: cfg.Reconnect,
		onState:   cfg.OnState,
		onNotice:  cfg.OnNotice,
		logger:    cfg.Logger.With().Str("component", "client").Str("url", cfg.URL).Logger(),
		writeMx:   &sync.Mutex{},
		mx:        &sync.Mutex{},
	}
	if c.dialer == nil {
		c.dialer = &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: defaultHandshakeTimeout,
		}
	}
	if c.onState == nil {
		c.onState = func(model.MatchState) {}
	}
	if c.onNotice == nil {
		c.onNotice = func(Notice) {}
	}

	conn, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}
	c.conn = conn
	return c, nil
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	conn, _, err := c.dialer.DialContext(ctx, c.url, c.header)
	if err != nil {
		return nil, errors.Join(ErrTransport, err)
	}
	conn.SetPingHandler(func(appData string) error {
		if err := conn.SetReadDeadline(time.Now().Add(defaultReadWait)); err != nil {
			return err
		}
		err := conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(defaultWriteDeadline))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})
	c.logger.Debug().Msg("connected")
	return conn, nil
}

func (c *Client) Role() Role {
	c.mx.Lock()
	defer c.mx.Unlock()
	return c.role
}

func (c *Client) RoomID() string {
	c.mx.Lock()
	defer c.mx.Unlock()
	return c.roomID
}

func (c *Client) AdminToken() string {
	c.mx.Lock()
	defer c.mx.Unlock()
	return c.token
}

// State returns the last known state, including not yet confirmed local changes.
func (c *Client) State() model.MatchState {
	c.mx.Lock()
	defer c.mx.Unlock()
	return c.state
}

// CreateRoom asks for a new room. The role becomes Admin when the server confirms.
func (c *Client) CreateRoom(ctx context.Context, roomID, player1, player2 string) error {
	return c.subscribe(ctx, model.CreateRoom{RoomID: roomID, Player1: player1, Player2: player2})
}

func (c *Client) JoinRoom(ctx context.Context, roomID string) error {
	return c.subscribe(ctx, model.JoinRoom{RoomID: roomID})
}

// ResumeAdmin reclaims the admin slot of a room this user created from another connection.
func (c *Client) ResumeAdmin(ctx context.Context, roomID, token string) error {
	return c.subscribe(ctx, model.ResumeAdmin{RoomID: roomID, AdminToken: token})
}

func (c *Client) subscribe(ctx context.Context, msg model.Message) error {
	valid, err := protocol.Validate(msg)
	if err != nil {
		return err
	}
	var roomID, token string
	switch m := valid.(type) {
	case model.CreateRoom:
		roomID = m.RoomID
	case model.JoinRoom:
		roomID = m.RoomID
	case model.ResumeAdmin:
		roomID, token = m.RoomID, m.AdminToken
	}

	c.mx.Lock()
	if c.roomID != "" {
		c.mx.Unlock()
		return ErrAlreadyBound
	}
	c.roomID, c.token = roomID, token
	c.mx.Unlock()

	if err = c.send(ctx, valid); err != nil {
		c.mx.Lock()
		c.roomID, c.token = "", ""
		c.mx.Unlock()
		return err
	}
	return nil
}

func (c *Client) AddPoint(ctx context.Context, side model.Side, delta int) error {
	return c.mutate(ctx, func(roomID string) model.Message {
		return model.AddPoint{RoomID: roomID, Side: side, Delta: delta}
	}, c.engine.Point(side, delta))
}

// PushScore sends a full-state push. Absent fields keep their current values.
func (c *Client) PushScore(ctx context.Context, p model.Snapshot) error {
	return c.mutate(ctx, func(roomID string) model.Message {
		p.RoomID = roomID
		return model.UpdateScore{Snapshot: p}
	}, c.engine.Push(p))
}

func (c *Client) Rename(ctx context.Context, side model.Side, name string) error {
	return c.mutate(ctx, func(roomID string) model.Message {
		return model.UpdatePlayer{RoomID: roomID, PlayerNumber: side, PlayerName: name}
	}, score.RenameOp(side, name))
}

func (c *Client) Reset(ctx context.Context) error {
	return c.mutate(ctx, func(roomID string) model.Message {
		return model.ResetMatch{RoomID: roomID}
	}, score.ResetOp())
}

func (c *Client) Swap(ctx context.Context) error {
	return c.mutate(ctx, func(roomID string) model.Message {
		return model.SwapSides{RoomID: roomID}
	}, score.SwapOp())
}

// mutate fails fast on anything the server would reject, then applies op locally and sends msg.
func (c *Client) mutate(ctx context.Context, build func(roomID string) model.Message, op score.Op) error {
	c.mx.Lock()
	if c.role != RoleAdmin {
		c.mx.Unlock()
		return ErrNotAdmin
	}
	valid, err := protocol.Validate(build(c.roomID))
	if err != nil {
		c.mx.Unlock()
		return err
	}
	next, _, err := op(c.state)
	if err != nil {
		c.mx.Unlock()
		return err
	}
	c.state = next
	c.mx.Unlock()

	return c.send(ctx, valid)
}

func (c *Client) send(ctx context.Context, msg model.Message) error {
	b, err := protocol.Encode(msg)
	if err != nil {
		return err
	}

	c.writeMx.Lock()
	defer c.writeMx.Unlock()

	c.mx.Lock()
	conn := c.conn
	c.mx.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	deadline := time.Now().Add(defaultWriteDeadline)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err = conn.SetWriteDeadline(deadline); err != nil {
		return errors.Join(ErrTransport, err)
	}
	if err = conn.WriteMessage(websocket.TextMessage, b); err != nil {
		return errors.Join(ErrTransport, err)
	}
	c.logger.Trace().Str("type", string(msg.Type())).Msg("message sent")
	return nil
}

// Run reads server messages until ctx is done or the connection fails for good.
// It returns nil when ctx is done.
func (c *Client) Run(ctx context.Context) error {
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			c.closeConn()
		case <-stop:
		}
	}()

	for {
		err := c.readLoop(ctx)
		if ctx.Err() != nil || c.isClosed() {
			return nil
		}
		c.logger.Warn().Err(err).Msg("connection lost")
		c.onNotice(Notice{Kind: NoticeTransport, Message: err.Error(), Err: err})

		if !c.reconnect.Enabled() {
			c.closeConn()
			return err
		}
		if err = c.redial(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.closeConn()
			c.onNotice(Notice{Kind: NoticeTransport, Message: err.Error(), Err: err})
			return err
		}
		c.onNotice(Notice{Kind: NoticeReconnected})
	}
}

func (c *Client) readLoop(ctx context.Context) error {
	c.mx.Lock()
	conn := c.conn
	c.mx.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	if err := conn.SetReadDeadline(time.Now().Add(defaultReadWait)); err != nil {
		return errors.Join(ErrTransport, err)
	}

	for {
		_, b, err := conn.ReadMessage()
		if err != nil {
			return errors.Join(ErrTransport, err)
		}
		if err = conn.SetReadDeadline(time.Now().Add(defaultReadWait)); err != nil {
			return errors.Join(ErrTransport, err)
		}
		msg, err := protocol.Decode(b)
		if err != nil {
			c.logger.Warn().Err(err).Msg("failed to decode server message")
			continue
		}
		c.handle(msg)
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

func (c *Client) handle(msg model.Message) {
	switch m := msg.(type) {
	case model.RoomState:
		c.mx.Lock()
		next := m.Over(c.state)
		next.Winner = m.Winner
		c.state = next
		c.mx.Unlock()
		c.onState(next)

	case model.ClientInfo:
		c.mx.Lock()
		if m.IsAdmin {
			c.role = RoleAdmin
			if m.AdminToken != "" {
				c.token = m.AdminToken
			}
		} else {
			c.role = RoleViewer
		}
		role := c.role
		c.mx.Unlock()
		c.logger.Debug().Stringer("role", role).Msg("role assigned")

	case model.Error:
		c.mx.Lock()
		if c.role == RoleUnassigned {
			// The subscription was refused.
			c.roomID, c.token = "", ""
		}
		c.mx.Unlock()
		c.logger.Debug().Str("code", m.Code).Str("error", m.Error).Msg("server rejected request")
		c.onNotice(Notice{Kind: NoticeError, Code: m.Code, Message: m.Error})

	case model.SetComplete:
		c.onNotice(Notice{Kind: NoticeSetComplete, Winner: m.Winner, Message: fmt.Sprintf("%s wins the set", m.Winner)})

	case model.MatchComplete:
		c.onNotice(Notice{Kind: NoticeMatchComplete, Winner: m.Winner, Message: fmt.Sprintf("%s wins the match", m.Winner)})

	default:
		c.logger.Warn().Str("type", string(msg.Type())).Msg("unexpected message from server")
	}
}

// redial replaces the connection and subscribes again with the role held before the drop.
func (c *Client) redial(ctx context.Context) error {
	c.closeConn()

	opts := []retry.Option{
		retry.Attempts(c.reconnect.Attempts),
		retry.DelayType(retry.CombineDelay(retry.BackOffDelay, retry.RandomDelay)),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			c.logger.Debug().Uint("attempt", n+1).Err(err).Msg("reconnect failed")
		}),
	}
	if c.reconnect.Delay > 0 {
		opts = append(opts, retry.Delay(c.reconnect.Delay), retry.MaxJitter(c.reconnect.Delay))
	}
	if c.reconnect.MaxDelay > 0 {
		opts = append(opts, retry.MaxDelay(c.reconnect.MaxDelay))
	}

	return retry.Do(func() error {
		conn, err := c.dial(ctx)
		if err != nil {
			return err
		}
		c.mx.Lock()
		c.conn = conn
		resub := c.resubscription()
		c.role = RoleUnassigned
		c.mx.Unlock()

		if resub == nil {
			return nil
		}
		if err = c.send(ctx, resub); err != nil {
			c.closeConn()
			return err
		}
		c.logger.Debug().Str("type", string(resub.Type())).Msg("subscribed again")
		return nil
	}, opts...)
}

// resubscription must be called with mx held.
func (c *Client) resubscription() model.Message {
	switch {
	case c.roomID == "":
		return nil
	case c.role == RoleAdmin && c.token != "":
		return model.ResumeAdmin{RoomID: c.roomID, AdminToken: c.token}
	case c.role == RoleUnassigned && c.token != "":
		// A previous resume did not finish before the drop.
		return model.ResumeAdmin{RoomID: c.roomID, AdminToken: c.token}
	}
	return model.JoinRoom{RoomID: c.roomID}
}

func (c *Client) closeConn() {
	c.mx.Lock()
	conn := c.conn
	c.conn = nil
	c.mx.Unlock()
	if conn == nil {
		return
	}
	c.writeMx.Lock()
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(defaultWriteDeadline))
	c.writeMx.Unlock()
	_ = conn.Close()
}

// Close ends the connection. A running Run returns nil once it notices.
func (c *Client) Close() {
	c.mx.Lock()
	c.closed = true
	c.mx.Unlock()
	c.closeConn()
}

func (c *Client) isClosed() bool {
	c.mx.Lock()
	defer c.mx.Unlock()
	return c.closed
}
