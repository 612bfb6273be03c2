package protocol

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/adwski/badminton-live/backend/model"
	"github.com/adwski/badminton-live/backend/score"
)

const (
	MaxRoomIDLength = 10

	// MaxDelta bounds a single add_point adjustment.
	MaxDelta = score.SetPointCap
)

var ErrValidation = errors.New("validation failed")

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrValidation}, args...)...)
}

// NormalizeRoomID trims the room key and checks it is 1-10 printable characters.
func NormalizeRoomID(roomID string) (string, error) {
	roomID = strings.TrimSpace(roomID)
	if roomID == "" {
		return "", invalid("room id is required")
	}
	if utf8.RuneCountInString(roomID) > MaxRoomIDLength {
		return "", invalid("room id must be %d characters or less", MaxRoomIDLength)
	}
	for _, r := range roomID {
		if !unicode.IsPrint(r) {
			return "", invalid("room id must contain printable characters only")
		}
	}
	return roomID, nil
}

func normalizeName(field, name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", invalid("%s is required", field)
	}
	return name, nil
}

// Validate checks a client request and returns it with room ids and names trimmed.
// Server-originated messages pass through unchanged.
func Validate(msg model.Message) (model.Message, error) {
	var err error
	switch m := msg.(type) {
	case model.CreateRoom:
		if m.RoomID, err = NormalizeRoomID(m.RoomID); err != nil {
			return nil, err
		}
		if m.Player1, err = normalizeName("player1", m.Player1); err != nil {
			return nil, err
		}
		if m.Player2, err = normalizeName("player2", m.Player2); err != nil {
			return nil, err
		}
		return m, nil
	case model.JoinRoom:
		m.RoomID, err = NormalizeRoomID(m.RoomID)
		return m, err
	case model.ResumeAdmin:
		if m.RoomID, err = NormalizeRoomID(m.RoomID); err != nil {
			return nil, err
		}
		if strings.TrimSpace(m.AdminToken) == "" {
			return nil, invalid("adminToken is required")
		}
		return m, nil
	case model.UpdateScore:
		if m.RoomID, err = NormalizeRoomID(m.RoomID); err != nil {
			return nil, err
		}
		for _, v := range []*int{m.Score1, m.Score2, m.Set1, m.Set2} {
			if v != nil && *v < 0 {
				return nil, invalid("scores and sets must not be negative")
			}
		}
		for _, v := range []*int{m.Score1, m.Score2} {
			if v != nil && *v > score.SetPointCap {
				return nil, invalid("scores must not exceed %d", score.SetPointCap)
			}
		}
		if m.Score1 != nil && m.Score2 != nil && *m.Score1 >= score.SetPointCap && *m.Score2 >= score.SetPointCap {
			return nil, invalid("only one side can reach %d", score.SetPointCap)
		}
		return m, nil
	case model.UpdatePlayer:
		if m.RoomID, err = NormalizeRoomID(m.RoomID); err != nil {
			return nil, err
		}
		if !m.PlayerNumber.Valid() {
			return nil, invalid("playerNumber must be 1 or 2")
		}
		if m.PlayerName, err = normalizeName("playerName", m.PlayerName); err != nil {
			return nil, err
		}
		return m, nil
	case model.AddPoint:
		if m.RoomID, err = NormalizeRoomID(m.RoomID); err != nil {
			return nil, err
		}
		if !m.Side.Valid() {
			return nil, invalid("side must be 1 or 2")
		}
		if m.Delta == 0 {
			return nil, invalid("delta is required")
		}
		if m.Delta > MaxDelta || m.Delta < -MaxDelta {
			return nil, invalid("delta must be within ±%d", MaxDelta)
		}
		return m, nil
	case model.ResetMatch:
		m.RoomID, err = NormalizeRoomID(m.RoomID)
		return m, err
	case model.SwapSides:
		m.RoomID, err = NormalizeRoomID(m.RoomID)
		return m, err
	}
	return msg, nil
}
