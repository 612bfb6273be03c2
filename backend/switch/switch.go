package _switch

import (
	"sync"

	"github.com/adwski/badminton-live/backend/model"
	"github.com/rs/zerolog"
)

// DropCounter is notified whenever an outbound message could not be queued.
type DropCounter interface {
	DeliveryDropped(msgType model.MessageType)
}

type Switch struct {
	logger zerolog.Logger
	drops  DropCounter
	mx     *sync.RWMutex
	fwd    map[string]map[string]chan<- model.Message
}

func NewSwitch(logger *zerolog.Logger, drops DropCounter) *Switch {
	return &Switch{
		logger: logger.With().Str("component", "switch").Logger(),
		drops:  drops,
		mx:     &sync.RWMutex{},
		fwd:    make(map[string]map[string]chan<- model.Message),
	}
}

// Connect attaches an endpoint's outbound channel to a room.
func (sw *Switch) Connect(room, endpoint string, tx chan<- model.Message) {
	sw.mx.Lock()
	defer func() {
		sw.mx.Unlock()
		sw.logger.Debug().
			Str("room", room).
			Str("endpoint", endpoint).
			Msg("endpoint connected")
	}()

	inst, ok := sw.fwd[room]
	if !ok {
		inst = make(map[string]chan<- model.Message)
		sw.fwd[room] = inst
	}
	inst[endpoint] = tx
}

func (sw *Switch) Disconnect(room, endpoint string) {
	sw.mx.Lock()
	defer func() {
		sw.mx.Unlock()
		sw.logger.Debug().
			Str("room", room).
			Str("endpoint", endpoint).
			Msg("endpoint disconnected")
	}()

	inst, ok := sw.fwd[room]
	if ok {
		delete(inst, endpoint)
		if len(inst) == 0 {
			delete(sw.fwd, room)
		}
	}
}

// Send delivers a message to one endpoint of a room.
func (sw *Switch) Send(room, endpoint string, msg model.Message) bool {
	sw.mx.RLock()
	tx, ok := sw.fwd[room][endpoint]
	sw.mx.RUnlock()
	if !ok {
		sw.logger.Debug().
			Str("room", room).
			Str("dst", endpoint).
			Msg("cannot forward, dst not found")
		return false
	}
	return sw.send(room, endpoint, msg, tx)
}

// Broadcast delivers a message to every endpoint of a room and returns how many accepted it.
func (sw *Switch) Broadcast(room string, msg model.Message) int {
	sw.mx.RLock()
	targets := make(map[string]chan<- model.Message, len(sw.fwd[room]))
	for endpoint, tx := range sw.fwd[room] {
		targets[endpoint] = tx
	}
	sw.mx.RUnlock()

	var sent int
	for endpoint, tx := range targets {
		if sw.send(room, endpoint, msg, tx) {
			sent++
		}
	}
	if sent == 0 {
		sw.logger.Debug().
			Str("room", room).
			Str("type", string(msg.Type())).
			Msg("broadcast did not reach anyone")
	}
	return sent
}

// send never blocks: an endpoint whose queue is full misses the message
// and catches up with the next snapshot.
func (sw *Switch) send(room, endpoint string, msg model.Message, tx chan<- model.Message) bool {
	select {
	case tx <- msg:
		sw.logger.Trace().
			Str("room", room).
			Str("dst", endpoint).
			Str("type", string(msg.Type())).
			Msg("message is forwarded")
		return true
	default:
		sw.logger.Warn().
			Str("room", room).
			Str("dst", endpoint).
			Str("type", string(msg.Type())).
			Msg("slow endpoint, message dropped")
		if sw.drops != nil {
			sw.drops.DeliveryDropped(msg.Type())
		}
		return false
	}
}

// Endpoints returns the number of endpoints attached to a room.
func (sw *Switch) Endpoints(room string) int {
	sw.mx.RLock()
	defer sw.mx.RUnlock()
	return len(sw.fwd[room])
}
