package protocol

import (
	"math"
	"testing"

	"github.com/adwski/badminton-live/backend/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeRoomID(t *testing.T) {
	id, err := NormalizeRoomID("  R1 ")
	require.NoError(t, err)
	assert.Equal(t, "R1", id)

	_, err = NormalizeRoomID("0123456789")
	require.NoError(t, err)

	for _, bad := range []string{"", "   ", "01234567890", "R\x001"} {
		_, err = NormalizeRoomID(bad)
		require.ErrorIs(t, err, ErrValidation, "room id %q", bad)
	}
}

func TestValidateCreateRoom(t *testing.T) {
	msg, err := Validate(model.CreateRoom{RoomID: " R1", Player1: " Ana ", Player2: "Bo"})
	require.NoError(t, err)
	assert.Equal(t, model.CreateRoom{RoomID: "R1", Player1: "Ana", Player2: "Bo"}, msg)

	_, err = Validate(model.CreateRoom{RoomID: "R1", Player1: "Ana", Player2: "  "})
	require.ErrorIs(t, err, ErrValidation)
}

func TestValidateMutations(t *testing.T) {
	neg, thirty, twentyNine, over := -1, 30, 29, 35
	tests := []struct {
		name string
		msg  model.Message
		ok   bool
	}{
		{name: "point", msg: model.AddPoint{RoomID: "R1", Side: model.SideOne, Delta: 1}, ok: true},
		{name: "point without delta", msg: model.AddPoint{RoomID: "R1", Side: model.SideOne}},
		{name: "point bad side", msg: model.AddPoint{RoomID: "R1", Side: 3, Delta: 1}},
		{name: "rename", msg: model.UpdatePlayer{RoomID: "R1", PlayerNumber: model.SideTwo, PlayerName: "Cy"}, ok: true},
		{name: "rename blank", msg: model.UpdatePlayer{RoomID: "R1", PlayerNumber: model.SideTwo, PlayerName: " "}},
		{name: "rename bad number", msg: model.UpdatePlayer{RoomID: "R1", PlayerNumber: 0, PlayerName: "Cy"}},
		{name: "push negative", msg: model.UpdateScore{Snapshot: model.Snapshot{RoomID: "R1", Score1: &neg}}},
		{name: "push missing room", msg: model.UpdateScore{}},
		{name: "push past cap", msg: model.UpdateScore{Snapshot: model.Snapshot{RoomID: "R1", Score1: &over}}},
		{name: "push both at cap", msg: model.UpdateScore{Snapshot: model.Snapshot{RoomID: "R1", Score1: &thirty, Score2: &thirty}}},
		{name: "push cap set point", msg: model.UpdateScore{Snapshot: model.Snapshot{RoomID: "R1", Score1: &thirty, Score2: &twentyNine}}, ok: true},
		{name: "point huge delta", msg: model.AddPoint{RoomID: "R1", Side: model.SideOne, Delta: math.MaxInt}},
		{name: "point huge negative delta", msg: model.AddPoint{RoomID: "R1", Side: model.SideTwo, Delta: -MaxDelta - 1}},
		{name: "point max delta", msg: model.AddPoint{RoomID: "R1", Side: model.SideTwo, Delta: -MaxDelta}, ok: true},
		{name: "resume without token", msg: model.ResumeAdmin{RoomID: "R1"}},
		{name: "reset", msg: model.ResetMatch{RoomID: "R1"}, ok: true},
		{name: "swap long room", msg: model.SwapSides{RoomID: "R1234567890"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Validate(tt.msg)
			if tt.ok {
				require.NoError(t, err)
			} else {
				require.ErrorIs(t, err, ErrValidation)
			}
		})
	}
}
