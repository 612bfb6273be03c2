package service

import (
	"context"

	"github.com/adwski/badminton-live/backend/model"
	"github.com/adwski/badminton-live/backend/storage/memory"
	"github.com/rs/zerolog"
)

// Role is the per-connection protocol state.
type Role int

const (
	RoleUnassigned Role = iota
	RoleAdmin
	RoleViewer
	RoleClosed
)

func (r Role) String() string {
	switch r {
	case RoleUnassigned:
		return "unassigned"
	case RoleAdmin:
		return "admin"
	case RoleViewer:
		return "viewer"
	case RoleClosed:
		return "closed"
	}
	return "unknown"
}

// session is touched only by the goroutine running Serve until CloseSession.
// role follows the registry lazily: a demotion is picked up on the next refused mutation.
type session struct {
	id     string
	wire   model.Wire
	role   Role
	roomID string
	logger zerolog.Logger
}

func (s *session) endpoint() memory.Endpoint {
	return memory.Endpoint{ID: s.id, TX: s.wire.TX}
}

func (s *session) bind(role Role, roomID string) {
	s.role = role
	s.roomID = roomID
	s.logger = s.logger.With().Str("roomID", roomID).Logger()
	s.logger.Debug().Str("role", role.String()).Msg("session bound")
}

func (s *session) reply(ctx context.Context, msg model.Message) {
	select {
	case s.wire.TX <- msg:
	case <-ctx.Done():
	}
}

type nopMetrics struct{}

func (nopMetrics) SessionOpened()                    {}
func (nopMetrics) SessionClosed()                    {}
func (nopMetrics) MessageReceived(model.MessageType) {}
func (nopMetrics) ErrorSent(string)                  {}
