// Package protocol converts between JSON wire frames and model messages.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/adwski/badminton-live/backend/model"
)

var (
	ErrMalformed   = errors.New("malformed message")
	ErrUnsupported = errors.New("unsupported message type")
)

// Error codes carried by error frames.
const (
	CodeBadRequest    = "bad_request"
	CodeValidation    = "validation_failed"
	CodeRoomNotFound  = "room_not_found"
	CodeRoomExists    = "room_exists"
	CodeForbidden     = "forbidden"
	CodeInvalidToken  = "invalid_token"
	CodeMatchComplete = "match_complete"
	CodeInternal      = "internal"
)

// frame is the flat JSON object every message is carried in.
type frame struct {
	Type         model.MessageType `json:"type"`
	RoomID       string            `json:"roomId,omitempty"`
	Player1      *string           `json:"player1,omitempty"`
	Player2      *string           `json:"player2,omitempty"`
	Score1       *int              `json:"score1,omitempty"`
	Score2       *int              `json:"score2,omitempty"`
	Set1         *int              `json:"pset1,omitempty"`
	Set2         *int              `json:"pset2,omitempty"`
	PlayerNumber int               `json:"playerNumber,omitempty"`
	PlayerName   string            `json:"playerName,omitempty"`
	Side         int               `json:"side,omitempty"`
	Delta        int               `json:"delta,omitempty"`
	AdminToken   string            `json:"adminToken,omitempty"`
	IsAdmin      *bool             `json:"isAdmin,omitempty"`
	Winner       string            `json:"winner,omitempty"`
	Code         string            `json:"code,omitempty"`
	Error        string            `json:"error,omitempty"`
}

func (f *frame) setSnapshot(p model.Snapshot) {
	f.RoomID = p.RoomID
	f.Player1, f.Player2 = p.Player1, p.Player2
	f.Score1, f.Score2 = p.Score1, p.Score2
	f.Set1, f.Set2 = p.Set1, p.Set2
}

func (f *frame) snapshot() model.Snapshot {
	return model.Snapshot{
		RoomID:  f.RoomID,
		Player1: f.Player1,
		Player2: f.Player2,
		Score1:  f.Score1,
		Score2:  f.Score2,
		Set1:    f.Set1,
		Set2:    f.Set2,
	}
}

// Encode marshals a message into its wire frame.
func Encode(msg model.Message) ([]byte, error) {
	f := frame{Type: msg.Type()}
	switch m := msg.(type) {
	case model.CreateRoom:
		f.RoomID = m.RoomID
		f.Player1, f.Player2 = &m.Player1, &m.Player2
	case model.JoinRoom:
		f.RoomID = m.RoomID
	case model.ResumeAdmin:
		f.RoomID, f.AdminToken = m.RoomID, m.AdminToken
	case model.UpdateScore:
		f.setSnapshot(m.Snapshot)
	case model.UpdatePlayer:
		f.RoomID = m.RoomID
		f.PlayerNumber, f.PlayerName = int(m.PlayerNumber), m.PlayerName
	case model.AddPoint:
		f.RoomID, f.Side, f.Delta = m.RoomID, int(m.Side), m.Delta
	case model.ResetMatch:
		f.RoomID = m.RoomID
	case model.SwapSides:
		f.RoomID = m.RoomID
	case model.RoomState:
		f.setSnapshot(m.Snapshot)
		f.Winner = m.Winner
	case model.ClientInfo:
		f.IsAdmin, f.AdminToken = &m.IsAdmin, m.AdminToken
	case model.Error:
		f.Code, f.Error = m.Code, m.Error
	case model.SetComplete:
		f.RoomID, f.Side, f.Winner = m.RoomID, int(m.Side), m.Winner
	case model.MatchComplete:
		f.RoomID, f.Winner = m.RoomID, m.Winner
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnsupported, msg)
	}
	return json.Marshal(&f)
}

// Decode unmarshals a wire frame into a message. Field-level validation is left to Validate.
func Decode(b []byte) (model.Message, error) {
	var f frame
	if err := json.Unmarshal(b, &f); err != nil {
		return nil, errors.Join(ErrMalformed, err)
	}
	switch f.Type {
	case model.TypeCreateRoom:
		return model.CreateRoom{RoomID: f.RoomID, Player1: deref(f.Player1), Player2: deref(f.Player2)}, nil
	case model.TypeJoinRoom:
		return model.JoinRoom{RoomID: f.RoomID}, nil
	case model.TypeResumeAdmin:
		return model.ResumeAdmin{RoomID: f.RoomID, AdminToken: f.AdminToken}, nil
	case model.TypeUpdateScore:
		return model.UpdateScore{Snapshot: f.snapshot()}, nil
	case model.TypeUpdatePlayer:
		return model.UpdatePlayer{RoomID: f.RoomID, PlayerNumber: model.Side(f.PlayerNumber), PlayerName: f.PlayerName}, nil
	case model.TypeAddPoint:
		return model.AddPoint{RoomID: f.RoomID, Side: model.Side(f.Side), Delta: f.Delta}, nil
	case model.TypeResetMatch:
		return model.ResetMatch{RoomID: f.RoomID}, nil
	case model.TypeSwapSides:
		return model.SwapSides{RoomID: f.RoomID}, nil
	case model.TypeRoomState:
		return model.RoomState{Snapshot: f.snapshot(), Winner: f.Winner}, nil
	case model.TypeClientInfo:
		return model.ClientInfo{IsAdmin: deref(f.IsAdmin), AdminToken: f.AdminToken}, nil
	case model.TypeError:
		return model.Error{Code: f.Code, Error: f.Error}, nil
	case model.TypeSetComplete:
		return model.SetComplete{RoomID: f.RoomID, Side: model.Side(f.Side), Winner: f.Winner}, nil
	case model.TypeMatchComplete:
		return model.MatchComplete{RoomID: f.RoomID, Winner: f.Winner}, nil
	case "":
		return nil, fmt.Errorf("%w: missing type", ErrMalformed)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnsupported, f.Type)
}

func deref[T any](v *T) T {
	var zero T
	if v == nil {
		return zero
	}
	return *v
}
