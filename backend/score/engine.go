// Package score implements rally-point badminton scoring over model.MatchState.
// All functions are pure: they take a state and return a new one.
package score

import (
	"errors"
	"math/rand"
	"strings"

	"github.com/adwski/badminton-live/backend/model"
)

const (
	pointsToWinSet = 21
	minSetLead     = 2

	// SetPointCap is the score that ends a set regardless of the lead. No score exceeds it.
	SetPointCap = 30
)

var (
	ErrMatchComplete = errors.New("match is complete, reset the match to start a new one")
	ErrInvalidSide   = errors.New("invalid side")
	ErrInvalidRules  = errors.New("best-of must be zero or a positive odd number")
)

// EventKind distinguishes the notifications produced by scoring.
type EventKind int

const (
	EventSetComplete EventKind = iota + 1
	EventMatchComplete
)

// Event is emitted by scoring when a set or the whole match is decided.
type Event struct {
	Kind   EventKind
	Side   model.Side
	Winner string
}

// Rules controls match termination. BestOf == 0 means sets are counted without limit.
type Rules struct {
	BestOf int
}

func (r Rules) Validate() error {
	if r.BestOf < 0 || (r.BestOf > 0 && r.BestOf%2 == 0) {
		return ErrInvalidRules
	}
	return nil
}

// SetsToWin returns the number of sets that ends the match, or 0 when unbounded.
func (r Rules) SetsToWin() int {
	if r.BestOf == 0 {
		return 0
	}
	return r.BestOf/2 + 1
}

// Op is a single mutation of match state.
type Op func(model.MatchState) (model.MatchState, []Event, error)

// IsSetComplete evaluates the set-ending condition on the scores after a point.
func IsSetComplete(a, b int) bool {
	if a == SetPointCap || b == SetPointCap {
		return true
	}
	return max(a, b) >= pointsToWinSet && abs(a-b) >= minSetLead
}

// Engine applies Rules to the scoring primitives.
type Engine struct {
	rules Rules
}

func NewEngine(rules Rules) *Engine {
	return &Engine{rules: rules}
}

func (e *Engine) Rules() Rules {
	return e.rules
}

// ApplyPoint adds delta to one side's score, clamping at zero, and settles the set.
func (e *Engine) ApplyPoint(s model.MatchState, side model.Side, delta int) (model.MatchState, []Event, error) {
	if !side.Valid() {
		return s, nil, ErrInvalidSide
	}
	if s.Finished() {
		return s, nil, ErrMatchComplete
	}
	delta = max(-SetPointCap, min(SetPointCap, delta))
	if side == model.SideOne {
		s.Score1 = clampScore(s.Score1 + delta)
	} else {
		s.Score2 = clampScore(s.Score2 + delta)
	}
	if !IsSetComplete(s.Score1, s.Score2) {
		return s, nil, nil
	}
	return e.closeSet(s, leader(s))
}

// Normalize settles an admin-pushed state: scores are clamped into [0, SetPointCap] and a
// completed set is awarded to the leading side.
func (e *Engine) Normalize(s model.MatchState) (model.MatchState, []Event, error) {
	s.Score1 = clampScore(s.Score1)
	s.Score2 = clampScore(s.Score2)
	s.Set1 = max(0, s.Set1)
	s.Set2 = max(0, s.Set2)
	s.Winner = ""
	if winner := e.matchWinner(s); winner != "" {
		s.Winner = winner
		s.Score1, s.Score2 = 0, 0
		return s, nil, nil
	}
	if !IsSetComplete(s.Score1, s.Score2) {
		return s, nil, nil
	}
	return e.closeSet(s, leader(s))
}

func clampScore(v int) int {
	return max(0, min(SetPointCap, v))
}

// leader is the side ahead on rally points; ties go to side one.
func leader(s model.MatchState) model.Side {
	if s.Score2 > s.Score1 {
		return model.SideTwo
	}
	return model.SideOne
}

func (e *Engine) closeSet(s model.MatchState, side model.Side) (model.MatchState, []Event, error) {
	if side == model.SideOne {
		s.Set1++
	} else {
		s.Set2++
	}
	s.Score1, s.Score2 = 0, 0
	events := []Event{{Kind: EventSetComplete, Side: side, Winner: s.Name(side)}}

	if winner := e.matchWinner(s); winner != "" {
		s.Winner = winner
		events = append(events, Event{Kind: EventMatchComplete, Side: side, Winner: winner})
	}
	return s, events, nil
}

func (e *Engine) matchWinner(s model.MatchState) string {
	need := e.rules.SetsToWin()
	if need == 0 {
		return ""
	}
	switch {
	case s.Set1 >= need:
		return s.Player1
	case s.Set2 >= need:
		return s.Player2
	}
	return ""
}

// Point returns an Op applying a point delta.
func (e *Engine) Point(side model.Side, delta int) Op {
	return func(s model.MatchState) (model.MatchState, []Event, error) {
		return e.ApplyPoint(s, side, delta)
	}
}

// Push returns an Op laying an admin snapshot over the current state.
func (e *Engine) Push(p model.Snapshot) Op {
	return func(s model.MatchState) (model.MatchState, []Event, error) {
		p.RoomID = s.RoomID
		return e.Normalize(p.Over(s))
	}
}

func ResetOp() Op {
	return func(s model.MatchState) (model.MatchState, []Event, error) {
		return Reset(s), nil, nil
	}
}

func SwapOp() Op {
	return func(s model.MatchState) (model.MatchState, []Event, error) {
		return SwapSides(s), nil, nil
	}
}

func RenameOp(side model.Side, name string) Op {
	return func(s model.MatchState) (model.MatchState, []Event, error) {
		if !side.Valid() {
			return s, nil, ErrInvalidSide
		}
		return RenamePlayer(s, side, name), nil, nil
	}
}

// Reset zeroes scores and sets and reopens a finished match. Names and room are kept.
func Reset(s model.MatchState) model.MatchState {
	s.Score1, s.Score2 = 0, 0
	s.Set1, s.Set2 = 0, 0
	s.Winner = ""
	return s
}

// SwapSides exchanges the two contestants entirely.
func SwapSides(s model.MatchState) model.MatchState {
	s.Player1, s.Player2 = s.Player2, s.Player1
	s.Score1, s.Score2 = s.Score2, s.Score1
	s.Set1, s.Set2 = s.Set2, s.Set1
	return s
}

// RenamePlayer sets a side's display name. Blank names leave the state untouched.
func RenamePlayer(s model.MatchState, side model.Side, name string) model.MatchState {
	name = strings.TrimSpace(name)
	if name == "" {
		return s
	}
	oldName := s.Name(side)
	switch side {
	case model.SideOne:
		s.Player1 = name
	case model.SideTwo:
		s.Player2 = name
	default:
		return s
	}
	if s.Winner != "" && s.Winner == oldName {
		s.Winner = name
	}
	return s
}

// Toss picks the side that serves first.
func Toss(r *rand.Rand) model.Side {
	if r.Intn(2) == 0 {
		return model.SideOne
	}
	return model.SideTwo
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
