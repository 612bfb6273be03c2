package service

import (
	"context"
	"errors"
	"sync"

	"github.com/adwski/badminton-live/backend/model"
	"github.com/adwski/badminton-live/backend/protocol"
	"github.com/adwski/badminton-live/backend/score"
	"github.com/adwski/badminton-live/backend/storage/memory"
	"github.com/rs/zerolog"
)

var (
	ErrSessionExists   = errors.New("session already exists")
	ErrSessionNotFound = errors.New("session is not found")
	ErrAlreadyBound    = errors.New("connection is already bound to a room")
	ErrServerOnly      = errors.New("message type is sent by the server only")
)

type (
	Registry interface {
		CreateRoom(ctx context.Context, roomID, player1, player2 string, ep memory.Endpoint) (*memory.Admission, error)
		JoinRoom(ctx context.Context, roomID string, ep memory.Endpoint) (model.MatchState, error)
		ResumeAdmin(ctx context.Context, roomID, token string, ep memory.Endpoint) (model.MatchState, error)
		Mutate(ctx context.Context, roomID, requester string, op score.Op) (model.MatchState, error)
		Leave(ctx context.Context, roomID, endpoint string) error
	}

	Metrics interface {
		SessionOpened()
		SessionClosed()
		MessageReceived(model.MessageType)
		ErrorSent(code string)
	}

	Service struct {
		registry Registry
		engine   *score.Engine
		metrics  Metrics
		logger   zerolog.Logger

		mx       *sync.Mutex
		sessions map[string]*session
	}

	Config struct {
		Registry Registry
		Engine   *score.Engine
		Metrics  Metrics
		Logger   *zerolog.Logger
	}
)

func NewService(cfg Config) *Service {
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = nopMetrics{}
	}
	engine := cfg.Engine
	if engine == nil {
		engine = score.NewEngine(score.Rules{})
	}
	return &Service{
		registry: cfg.Registry,
		engine:   engine,
		metrics:  metrics,
		logger:   cfg.Logger.With().Str("component", "sync").Logger(),
		mx:       &sync.Mutex{},
		sessions: make(map[string]*session),
	}
}

// OpenSession registers a freshly connected client. It starts Unassigned.
func (svc *Service) OpenSession(_ context.Context, connID string, wire model.Wire) error {
	svc.mx.Lock()
	defer svc.mx.Unlock()
	if _, ok := svc.sessions[connID]; ok {
		return ErrSessionExists
	}
	svc.sessions[connID] = &session{
		id:     connID,
		wire:   wire,
		logger: svc.logger.With().Str("connID", connID).Logger(),
	}
	svc.metrics.SessionOpened()
	svc.logger.Debug().Str("connID", connID).Msg("session opened")
	return nil
}

// Serve dispatches inbound messages of a session until ctx is done or RX is closed.
func (svc *Service) Serve(ctx context.Context, connID string) error {
	s, err := svc.session(connID)
	if err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-s.wire.RX:
			if !ok {
				return nil
			}
			svc.metrics.MessageReceived(msg.Type())
			s.logger.Trace().Str("type", string(msg.Type())).Msg("message received")
			svc.dispatch(ctx, s, msg)
		}
	}
}

// CloseSession moves the session to Closed and detaches it from its room.
func (svc *Service) CloseSession(ctx context.Context, connID string) error {
	svc.mx.Lock()
	s, ok := svc.sessions[connID]
	delete(svc.sessions, connID)
	svc.mx.Unlock()
	if !ok {
		return ErrSessionNotFound
	}
	svc.metrics.SessionClosed()

	roomID := s.roomID
	s.role = RoleClosed
	if roomID == "" {
		s.logger.Debug().Msg("session closed")
		return nil
	}
	if err := svc.registry.Leave(ctx, roomID, connID); err != nil && !errors.Is(err, memory.ErrRoomNotFound) {
		return err
	}
	s.logger.Debug().Str("roomID", roomID).Msg("session closed")
	return nil
}

func (svc *Service) session(connID string) (*session, error) {
	svc.mx.Lock()
	defer svc.mx.Unlock()
	s, ok := svc.sessions[connID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

func (svc *Service) dispatch(ctx context.Context, s *session, msg model.Message) {
	valid, err := protocol.Validate(msg)
	if err != nil {
		svc.reject(ctx, s, msg, err)
		return
	}

	switch m := valid.(type) {
	case model.CreateRoom:
		err = svc.createRoom(ctx, s, m)
	case model.JoinRoom:
		err = svc.joinRoom(ctx, s, m)
	case model.ResumeAdmin:
		err = svc.resumeAdmin(ctx, s, m)
	case model.UpdateScore:
		err = svc.mutate(ctx, s, m.RoomID, svc.engine.Push(m.Snapshot))
	case model.UpdatePlayer:
		err = svc.mutate(ctx, s, m.RoomID, score.RenameOp(m.PlayerNumber, m.PlayerName))
	case model.AddPoint:
		err = svc.mutate(ctx, s, m.RoomID, svc.engine.Point(m.Side, m.Delta))
	case model.ResetMatch:
		err = svc.mutate(ctx, s, m.RoomID, score.ResetOp())
	case model.SwapSides:
		err = svc.mutate(ctx, s, m.RoomID, score.SwapOp())
	case model.RoomState, model.ClientInfo, model.Error, model.SetComplete, model.MatchComplete:
		err = ErrServerOnly
	default:
		err = protocol.ErrUnsupported
	}
	if err != nil {
		svc.reject(ctx, s, msg, err)
	}
}

func (svc *Service) createRoom(ctx context.Context, s *session, m model.CreateRoom) error {
	if s.role != RoleUnassigned {
		return ErrAlreadyBound
	}
	adm, err := svc.registry.CreateRoom(ctx, m.RoomID, m.Player1, m.Player2, s.endpoint())
	if err != nil {
		return err
	}
	s.bind(RoleAdmin, m.RoomID)
	s.reply(ctx, model.ClientInfo{IsAdmin: true, AdminToken: adm.AdminToken})
	return nil
}

func (svc *Service) joinRoom(ctx context.Context, s *session, m model.JoinRoom) error {
	if s.role != RoleUnassigned {
		return ErrAlreadyBound
	}
	if _, err := svc.registry.JoinRoom(ctx, m.RoomID, s.endpoint()); err != nil {
		return err
	}
	s.bind(RoleViewer, m.RoomID)
	s.reply(ctx, model.ClientInfo{IsAdmin: false})
	return nil
}

func (svc *Service) resumeAdmin(ctx context.Context, s *session, m model.ResumeAdmin) error {
	if s.role != RoleUnassigned {
		return ErrAlreadyBound
	}
	if _, err := svc.registry.ResumeAdmin(ctx, m.RoomID, m.AdminToken, s.endpoint()); err != nil {
		return err
	}
	s.bind(RoleAdmin, m.RoomID)
	s.reply(ctx, model.ClientInfo{IsAdmin: true, AdminToken: m.AdminToken})
	return nil
}

// mutate leaves the admin check to the registry, which knows the current admin binding.
// An admin session refused by the registry was demoted by a resume elsewhere.
func (svc *Service) mutate(ctx context.Context, s *session, roomID string, op score.Op) error {
	_, err := svc.registry.Mutate(ctx, roomID, s.id, op)
	if errors.Is(err, memory.ErrForbidden) && s.role == RoleAdmin {
		s.role = RoleViewer
		s.logger.Debug().Msg("admin slot taken over, session demoted to viewer")
	}
	return err
}

func (svc *Service) reject(ctx context.Context, s *session, msg model.Message, err error) {
	code := CodeOf(err)
	svc.metrics.ErrorSent(code)
	ev := s.logger.Debug()
	if code == protocol.CodeInternal {
		ev = s.logger.Error()
	}
	ev.Err(err).Str("code", code).Str("type", typeOf(msg)).Msg("request rejected")
	s.reply(ctx, model.Error{Code: code, Error: err.Error()})
}

// CodeOf maps an error to the code sent in error frames.
func CodeOf(err error) string {
	switch {
	case errors.Is(err, protocol.ErrValidation):
		return protocol.CodeValidation
	case errors.Is(err, memory.ErrRoomNotFound):
		return protocol.CodeRoomNotFound
	case errors.Is(err, memory.ErrRoomExists):
		return protocol.CodeRoomExists
	case errors.Is(err, memory.ErrForbidden):
		return protocol.CodeForbidden
	case errors.Is(err, memory.ErrInvalidToken):
		return protocol.CodeInvalidToken
	case errors.Is(err, score.ErrMatchComplete):
		return protocol.CodeMatchComplete
	case errors.Is(err, score.ErrInvalidSide),
		errors.Is(err, protocol.ErrMalformed),
		errors.Is(err, protocol.ErrUnsupported),
		errors.Is(err, ErrAlreadyBound),
		errors.Is(err, ErrServerOnly):
		return protocol.CodeBadRequest
	}
	return protocol.CodeInternal
}

func typeOf(msg model.Message) string {
	if msg == nil {
		return ""
	}
	return string(msg.Type())
}
