package model

// MessageType is the mandatory "type" tag of every wire message.
type MessageType string

// Client to server.
const (
	TypeCreateRoom   MessageType = "create_room"
	TypeJoinRoom     MessageType = "join_room"
	TypeResumeAdmin  MessageType = "resume_admin"
	TypeUpdateScore  MessageType = "update_score"
	TypeUpdatePlayer MessageType = "update_player"
	TypeAddPoint     MessageType = "add_point"
	TypeResetMatch   MessageType = "reset_match"
	TypeSwapSides    MessageType = "swap_sides"
)

// Server to client.
const (
	TypeRoomState     MessageType = "room_state"
	TypeClientInfo    MessageType = "client_info"
	TypeError         MessageType = "error"
	TypeSetComplete   MessageType = "set_complete"
	TypeMatchComplete MessageType = "match_complete"
)

// Message is the closed set of protocol messages.
type Message interface {
	Type() MessageType
}

type (
	CreateRoom struct {
		RoomID  string
		Player1 string
		Player2 string
	}

	JoinRoom struct {
		RoomID string
	}

	// ResumeAdmin rebinds the admin slot of a room to the sending connection.
	ResumeAdmin struct {
		RoomID     string
		AdminToken string
	}

	// UpdateScore is the admin's full-state push.
	UpdateScore struct {
		Snapshot
	}

	UpdatePlayer struct {
		RoomID       string
		PlayerNumber Side
		PlayerName   string
	}

	AddPoint struct {
		RoomID string
		Side   Side
		Delta  int
	}

	ResetMatch struct {
		RoomID string
	}

	SwapSides struct {
		RoomID string
	}

	RoomState struct {
		Snapshot
		Winner string
	}

	ClientInfo struct {
		IsAdmin    bool
		AdminToken string
	}

	Error struct {
		Code  string
		Error string
	}

	SetComplete struct {
		RoomID string
		Side   Side
		Winner string
	}

	MatchComplete struct {
		RoomID string
		Winner string
	}
)

func (CreateRoom) Type() MessageType    { return TypeCreateRoom }
func (JoinRoom) Type() MessageType      { return TypeJoinRoom }
func (ResumeAdmin) Type() MessageType   { return TypeResumeAdmin }
func (UpdateScore) Type() MessageType   { return TypeUpdateScore }
func (UpdatePlayer) Type() MessageType  { return TypeUpdatePlayer }
func (AddPoint) Type() MessageType      { return TypeAddPoint }
func (ResetMatch) Type() MessageType    { return TypeResetMatch }
func (SwapSides) Type() MessageType     { return TypeSwapSides }
func (RoomState) Type() MessageType     { return TypeRoomState }
func (ClientInfo) Type() MessageType    { return TypeClientInfo }
func (Error) Type() MessageType         { return TypeError }
func (SetComplete) Type() MessageType   { return TypeSetComplete }
func (MatchComplete) Type() MessageType { return TypeMatchComplete }

// RoomStateOf wraps a full state into its authoritative broadcast form.
func RoomStateOf(s MatchState) RoomState {
	return RoomState{
		Snapshot: SnapshotOf(s),
		Winner:   s.Winner,
	}
}

// Wire is a pair of channels connecting one transport session to the service.
type Wire struct {
	RX chan Message
	TX chan Message
}

func NewWire(sendBuffer int) Wire {
	return Wire{
		RX: make(chan Message),
		TX: make(chan Message, sendBuffer),
	}
}
