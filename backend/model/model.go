package model

import "strings"

// Side identifies one of two contestants. Values match playerNumber on the wire.
type Side int

const (
	SideOne Side = 1
	SideTwo Side = 2
)

func (s Side) Valid() bool {
	return s == SideOne || s == SideTwo
}

func (s Side) Other() Side {
	if s == SideOne {
		return SideTwo
	}
	return SideOne
}

// deuceThreshold is the rally score at which the scoreboard highlights a side.
const deuceThreshold = 20

// MatchState is an immutable snapshot of a match. Every change produces a new value.
type MatchState struct {
	RoomID  string `json:"roomId"`
	Player1 string `json:"player1"`
	Player2 string `json:"player2"`
	Score1  int    `json:"score1"`
	Score2  int    `json:"score2"`
	Set1    int    `json:"pset1"`
	Set2    int    `json:"pset2"`

	// Winner is set only when match termination is enabled and a side has won enough sets.
	Winner string `json:"winner,omitempty"`
}

func NewMatchState(roomID, player1, player2 string) MatchState {
	return MatchState{
		RoomID:  roomID,
		Player1: player1,
		Player2: player2,
	}
}

func (s MatchState) Name(side Side) string {
	if side == SideOne {
		return s.Player1
	}
	return s.Player2
}

func (s MatchState) Score(side Side) int {
	if side == SideOne {
		return s.Score1
	}
	return s.Score2
}

func (s MatchState) Sets(side Side) int {
	if side == SideOne {
		return s.Set1
	}
	return s.Set2
}

func (s MatchState) Finished() bool {
	return s.Winner != ""
}

// Deuce reports whether either side reached the late-set plateau.
func (s MatchState) Deuce() bool {
	return s.Score1 >= deuceThreshold || s.Score2 >= deuceThreshold
}

// Snapshot is a possibly partial MatchState as it travels on the wire.
// Nil pointers and empty strings mean "unchanged".
type Snapshot struct {
	RoomID  string
	Player1 *string
	Player2 *string
	Score1  *int
	Score2  *int
	Set1    *int
	Set2    *int
}

// SnapshotOf returns a snapshot with every field present.
func SnapshotOf(s MatchState) Snapshot {
	return Snapshot{
		RoomID:  s.RoomID,
		Player1: &s.Player1,
		Player2: &s.Player2,
		Score1:  &s.Score1,
		Score2:  &s.Score2,
		Set1:    &s.Set1,
		Set2:    &s.Set2,
	}
}

// Over lays the snapshot over prev, falling back to prev for every absent field.
func (p Snapshot) Over(prev MatchState) MatchState {
	next := prev
	if p.RoomID != "" {
		next.RoomID = p.RoomID
	}
	next.Player1 = pickName(p.Player1, prev.Player1)
	next.Player2 = pickName(p.Player2, prev.Player2)
	next.Score1 = pickInt(p.Score1, prev.Score1)
	next.Score2 = pickInt(p.Score2, prev.Score2)
	next.Set1 = pickInt(p.Set1, prev.Set1)
	next.Set2 = pickInt(p.Set2, prev.Set2)
	return next
}

func pickName(v *string, prev string) string {
	if v == nil || strings.TrimSpace(*v) == "" {
		return prev
	}
	return *v
}

func pickInt(v *int, prev int) int {
	if v == nil {
		return prev
	}
	return *v
}
