package memory

import (
	"context"
	"time"

	"github.com/adwski/badminton-live/backend/model"
	"github.com/adwski/badminton-live/backend/score"
	"github.com/rs/zerolog"
)

type (
	result struct {
		state  model.MatchState
		token  string
		stats  RoomStats
		closed bool
		err    error
	}

	request struct {
		fn    func(*room) result
		reply chan result
	}

	// room is owned by its run goroutine; requests are applied one at a time in arrival order.
	room struct {
		id       string
		sw       Switch
		logger   zerolog.Logger
		requests chan request
		quit     chan struct{}

		state     model.MatchState
		admin     string
		token     string
		viewers   map[string]struct{}
		idleSince time.Time
		closed    bool
	}
)

func newRoom(id string, sw Switch, now time.Time, logger zerolog.Logger) *room {
	return &room{
		id:        id,
		sw:        sw,
		logger:    logger.With().Str("roomID", id).Logger(),
		requests:  make(chan request, defaultRoomQueueSize),
		quit:      make(chan struct{}),
		state:     model.NewMatchState(id, "", ""),
		viewers:   make(map[string]struct{}),
		idleSince: now,
	}
}

func (r *room) run() {
	for req := range r.requests {
		req.reply <- req.fn(r)
		if r.closed {
			close(r.quit)
			return
		}
	}
}

func (r *room) submit(ctx context.Context, fn func(*room) result) (result, error) {
	req := request{fn: fn, reply: make(chan result, 1)}
	select {
	case r.requests <- req:
	case <-r.quit:
		return result{}, errRoomClosed
	case <-ctx.Done():
		return result{}, ctx.Err()
	}
	select {
	case res := <-req.reply:
		return res, nil
	case <-r.quit:
		// The room may have closed while req was still queued.
		select {
		case res := <-req.reply:
			return res, nil
		default:
			return result{}, errRoomClosed
		}
	case <-ctx.Done():
		return result{}, ctx.Err()
	}
}

func (r *room) bindAdmin(player1, player2 string, ep Endpoint) result {
	if r.admin != "" {
		return result{err: ErrRoomExists}
	}
	r.state = model.NewMatchState(r.id, player1, player2)
	r.admin = ep.ID
	r.token = newAdminToken()
	delete(r.viewers, ep.ID)
	r.sw.Connect(r.id, ep.ID, ep.TX)
	r.sw.Broadcast(r.id, model.RoomStateOf(r.state))
	return result{state: r.state, token: r.token}
}

// bound reports whether an admin has ever been bound. Until then the room is
// registered but holds no match and is hidden from viewers.
func (r *room) bound() bool {
	return r.token != ""
}

func (r *room) addViewer(ep Endpoint) result {
	if !r.bound() {
		return result{err: ErrRoomNotFound}
	}
	r.viewers[ep.ID] = struct{}{}
	r.sw.Connect(r.id, ep.ID, ep.TX)
	r.sw.Send(r.id, ep.ID, model.RoomStateOf(r.state))
	r.logger.Debug().Str("endpoint", ep.ID).Int("viewers", len(r.viewers)).Msg("viewer joined")
	return result{state: r.state}
}

func (r *room) resumeAdmin(token string, ep Endpoint) result {
	if !r.bound() {
		return result{err: ErrRoomNotFound}
	}
	if token != r.token {
		return result{err: ErrInvalidToken}
	}
	if r.admin != "" && r.admin != ep.ID {
		r.viewers[r.admin] = struct{}{}
		r.sw.Send(r.id, r.admin, model.ClientInfo{IsAdmin: false})
		r.logger.Debug().Str("endpoint", r.admin).Msg("previous admin demoted to viewer")
	}
	r.admin = ep.ID
	delete(r.viewers, ep.ID)
	r.sw.Connect(r.id, ep.ID, ep.TX)
	r.sw.Send(r.id, ep.ID, model.RoomStateOf(r.state))
	r.logger.Debug().Str("endpoint", ep.ID).Msg("admin resumed")
	return result{state: r.state}
}

func (r *room) mutate(requester string, op score.Op) result {
	if r.admin == "" || requester != r.admin {
		return result{state: r.state, err: ErrForbidden}
	}
	next, events, err := op(r.state)
	if err != nil {
		return result{state: r.state, err: err}
	}
	r.state = next
	r.sw.Broadcast(r.id, model.RoomStateOf(next))
	for _, ev := range events {
		r.sw.Broadcast(r.id, notice(r.id, ev))
	}
	return result{state: next}
}

func (r *room) leave(endpoint string, now time.Time) {
	if endpoint == r.admin {
		r.admin = ""
		r.logger.Debug().Str("endpoint", endpoint).Msg("admin left, room has no writer")
	}
	delete(r.viewers, endpoint)
	r.sw.Disconnect(r.id, endpoint)
	if r.empty() {
		r.idleSince = now
	}
}

func (r *room) empty() bool {
	return r.admin == "" && len(r.viewers) == 0
}

func (r *room) closeIfIdle(now time.Time, ttl time.Duration) bool {
	if !r.empty() || now.Sub(r.idleSince) < ttl {
		return false
	}
	r.closed = true
	return true
}

func (r *room) stats() RoomStats {
	return RoomStats{
		State:    r.state,
		Viewers:  len(r.viewers),
		HasAdmin: r.admin != "",
	}
}

func notice(roomID string, ev score.Event) model.Message {
	if ev.Kind == score.EventMatchComplete {
		return model.MatchComplete{RoomID: roomID, Winner: ev.Winner}
	}
	return model.SetComplete{RoomID: roomID, Side: ev.Side, Winner: ev.Winner}
}
