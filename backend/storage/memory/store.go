package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/adwski/badminton-live/backend/model"
	"github.com/adwski/badminton-live/backend/score"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
)

const (
	defaultIdleTTL       = 10 * time.Minute
	defaultSweepInterval = time.Minute

	// requests queued per room before submitters start waiting.
	defaultRoomQueueSize = 64
)

var (
	ErrRoomNotFound = errors.New("room is not found")
	ErrRoomExists   = errors.New("room already exists")
	ErrForbidden    = errors.New("only the room admin can change the match")
	ErrInvalidToken = errors.New("admin token is not valid for this room")

	errRoomClosed = errors.New("room is closed")
)

type (
	// Switch delivers messages to the endpoints attached to a room.
	Switch interface {
		Connect(room, endpoint string, tx chan<- model.Message)
		Disconnect(room, endpoint string)
		Send(room, endpoint string, msg model.Message) bool
		Broadcast(room string, msg model.Message) int
	}

	// Endpoint is one live connection as seen by the registry.
	Endpoint struct {
		ID string
		TX chan<- model.Message
	}

	// Admission is returned to the connection that created or seized a room.
	Admission struct {
		AdminToken string
		State      model.MatchState
	}

	RoomStats struct {
		State    model.MatchState `json:"state"`
		Viewers  int              `json:"viewers"`
		HasAdmin bool             `json:"hasAdmin"`
	}

	Config struct {
		Logger        *zerolog.Logger
		Switch        Switch
		Clock         clockwork.Clock
		IdleTTL       time.Duration
		SweepInterval time.Duration
	}

	// MemStore is the room registry. The map is guarded by mx; everything inside a
	// room is owned by that room's goroutine.
	MemStore struct {
		logger        zerolog.Logger
		sw            Switch
		clock         clockwork.Clock
		idleTTL       time.Duration
		sweepInterval time.Duration

		mx *sync.RWMutex
		db map[string]*room
	}
)

func NewMemStore(cfg Config) *MemStore {
	ms := &MemStore{
		logger:        cfg.Logger.With().Str("component", "registry").Logger(),
		sw:            cfg.Switch,
		clock:         cfg.Clock,
		idleTTL:       cfg.IdleTTL,
		sweepInterval: cfg.SweepInterval,
		mx:            &sync.RWMutex{},
		db:            make(map[string]*room),
	}
	if ms.clock == nil {
		ms.clock = clockwork.NewRealClock()
	}
	if ms.idleTTL <= 0 {
		ms.idleTTL = defaultIdleTTL
	}
	if ms.sweepInterval <= 0 {
		ms.sweepInterval = defaultSweepInterval
	}
	return ms
}

func (ms *MemStore) lookup(roomID string) (*room, bool) {
	ms.mx.RLock()
	r, ok := ms.db[roomID]
	ms.mx.RUnlock()
	return r, ok
}

func (ms *MemStore) forget(r *room) {
	ms.mx.Lock()
	if ms.db[r.id] == r {
		delete(ms.db, r.id)
	}
	ms.mx.Unlock()
}

// CreateRoom registers a room with a fresh match and binds ep as its admin.
// An existing room whose admin slot is vacant is seized and its match restarted.
func (ms *MemStore) CreateRoom(ctx context.Context, roomID, player1, player2 string, ep Endpoint) (*Admission, error) {
	for {
		ms.mx.Lock()
		r, ok := ms.db[roomID]
		if !ok {
			r = newRoom(roomID, ms.sw, ms.clock.Now(), ms.logger)
			ms.db[roomID] = r
			go r.run()
		}
		ms.mx.Unlock()

		res, err := r.submit(ctx, func(r *room) result {
			return r.bindAdmin(player1, player2, ep)
		})
		if errors.Is(err, errRoomClosed) {
			ms.forget(r)
			continue
		}
		if err != nil {
			return nil, err
		}
		if res.err != nil {
			return nil, res.err
		}
		if ok {
			ms.logger.Debug().Str("roomID", roomID).Str("endpoint", ep.ID).Msg("vacant room seized")
		} else {
			ms.logger.Debug().Str("roomID", roomID).Str("endpoint", ep.ID).Msg("room created")
		}
		return &Admission{AdminToken: res.token, State: res.state}, nil
	}
}

// JoinRoom subscribes ep to the room as a viewer. The current snapshot is queued to ep
// before any later broadcast and also returned.
func (ms *MemStore) JoinRoom(ctx context.Context, roomID string, ep Endpoint) (model.MatchState, error) {
	return ms.exec(ctx, roomID, func(r *room) result {
		return r.addViewer(ep)
	})
}

// ResumeAdmin rebinds the admin slot to ep when token matches the one issued at creation.
// A previously bound admin connection is demoted to viewer.
func (ms *MemStore) ResumeAdmin(ctx context.Context, roomID, token string, ep Endpoint) (model.MatchState, error) {
	return ms.exec(ctx, roomID, func(r *room) result {
		return r.resumeAdmin(token, ep)
	})
}

// Mutate applies op on behalf of requester and broadcasts the result to the whole room.
func (ms *MemStore) Mutate(ctx context.Context, roomID, requester string, op score.Op) (model.MatchState, error) {
	return ms.exec(ctx, roomID, func(r *room) result {
		return r.mutate(requester, op)
	})
}

// Leave detaches an endpoint from the room, clearing the admin slot if it held it.
func (ms *MemStore) Leave(ctx context.Context, roomID, endpoint string) error {
	_, err := ms.exec(ctx, roomID, func(r *room) result {
		r.leave(endpoint, ms.clock.Now())
		return result{state: r.state}
	})
	return err
}

// Snapshot returns the current state of a room.
func (ms *MemStore) Snapshot(ctx context.Context, roomID string) (model.MatchState, error) {
	return ms.exec(ctx, roomID, func(r *room) result {
		if !r.bound() {
			return result{err: ErrRoomNotFound}
		}
		return result{state: r.state}
	})
}

// Stats reports every live room ordered by id.
func (ms *MemStore) Stats(ctx context.Context) []RoomStats {
	ms.mx.RLock()
	rooms := make([]*room, 0, len(ms.db))
	for _, r := range ms.db {
		rooms = append(rooms, r)
	}
	ms.mx.RUnlock()

	stats := make([]RoomStats, 0, len(rooms))
	for _, r := range rooms {
		res, err := r.submit(ctx, func(r *room) result {
			return result{stats: r.stats()}
		})
		if err != nil {
			continue
		}
		stats = append(stats, res.stats)
	}
	sort.Slice(stats, func(i, j int) bool {
		return stats[i].State.RoomID < stats[j].State.RoomID
	})
	return stats
}

// Len returns the number of live rooms.
func (ms *MemStore) Len() int {
	ms.mx.RLock()
	defer ms.mx.RUnlock()
	return len(ms.db)
}

func (ms *MemStore) exec(ctx context.Context, roomID string, fn func(*room) result) (model.MatchState, error) {
	r, ok := ms.lookup(roomID)
	if !ok {
		return model.MatchState{}, ErrRoomNotFound
	}
	res, err := r.submit(ctx, fn)
	if errors.Is(err, errRoomClosed) {
		ms.forget(r)
		return model.MatchState{}, ErrRoomNotFound
	}
	if err != nil {
		return model.MatchState{}, err
	}
	return res.state, res.err
}

// Sweep reclaims rooms that have had no connections for the idle TTL.
func (ms *MemStore) Sweep(ctx context.Context) int {
	ms.mx.RLock()
	rooms := make([]*room, 0, len(ms.db))
	for _, r := range ms.db {
		rooms = append(rooms, r)
	}
	ms.mx.RUnlock()

	now := ms.clock.Now()
	var reclaimed int
	for _, r := range rooms {
		res, err := r.submit(ctx, func(r *room) result {
			return result{closed: r.closeIfIdle(now, ms.idleTTL)}
		})
		if err != nil && !errors.Is(err, errRoomClosed) {
			continue
		}
		if errors.Is(err, errRoomClosed) || res.closed {
			ms.forget(r)
			reclaimed++
			ms.logger.Debug().Str("roomID", r.id).Msg("idle room reclaimed")
		}
	}
	return reclaimed
}

// Run sweeps idle rooms periodically until ctx is done.
func (ms *MemStore) Run(ctx context.Context, wg *sync.WaitGroup) {
	ticker := ms.clock.NewTicker(ms.sweepInterval)
	defer func() {
		ticker.Stop()
		ms.logger.Debug().Msg("registry janitor stopped")
		wg.Done()
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			if n := ms.Sweep(ctx); n > 0 {
				ms.logger.Info().Int("reclaimed", n).Int("rooms", ms.Len()).Msg("idle rooms reclaimed")
			}
		}
	}
}

// newAdminToken issues the capability that lets a reconnecting admin reclaim its room.
func newAdminToken() string {
	return uuid.NewString()
}
