package websocket

import (
	"cmp"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/wricardo/sensor-game-hub/game/room"
)

var (
	ErrMalformedEnvelope = errors.New("malformed envelope")
	ErrUnknownType       = errors.New("unknown envelope type")
)

// Inbound envelope types.
const (
	TypeRegisterHubClient     = "register_hub_client"
	TypeRegisterGameClient    = "register_game_client"
	TypeRegisterSensorClient  = "register_sensor_client"
	TypeCreateSessionCode     = "create_session_code"
	TypeJoinSessionCode       = "join_session_code"
	TypeSensorData            = "sensor_data"
	TypeCreateRoom            = "create_room"
	TypeJoinRoom              = "join_room"
	TypeStartGame             = "start_game"
	TypeEndGame               = "end_game"
	TypeLeaveRoom             = "leave_room"
	TypeMultiplayerEvent      = "multiplayer_event"
	TypeMultiplayerSensorData = "multiplayer_sensor_data"
	TypePing                  = "ping"
)

// Outbound envelope types not shared with inbound ones.
const (
	TypeRegistrationSuccess = "registration_success"
	TypeRegistrationFailed  = "registration_failed"
	TypeSessionCodeCreated  = "session_code_created"
	TypeSensorMatched       = "sensor_matched"
	TypeSessionJoined       = "session_joined"
	TypeSessionJoinFailed   = "session_join_failed"
	TypeSessionEnded        = "session_ended"
	TypeRoomCreated         = "room_created"
	TypeRoomJoined          = "room_joined"
	TypeRoomJoinFailed      = "room_join_failed"
	TypePlayerJoined        = "player_joined"
	TypePlayerLeft          = "player_left"
	TypeRoomClosed          = "room_closed"
	TypeGameStart           = "game_start"
	TypeGameStartFailed     = "game_start_failed"
	TypeGameEnd             = "game_end"
	TypeError               = "error"
	TypePong                = "pong"
)

// Inbound is a message sent by a client. The set of implementations is
// closed; the router switches over all of them.
type Inbound interface {
	envelopeType() string
}

type RegisterHubClient struct {
	Timestamp int64 `json:"timestamp,omitempty"`
}

type RegisterGameClient struct {
	GameID           string   `json:"gameId"`
	GameName         string   `json:"gameName,omitempty"`
	GameType         string   `json:"gameType,omitempty"`
	RequestedSensors []string `json:"requestedSensors,omitempty"`
	Timestamp        int64    `json:"timestamp,omitempty"`
}

type RegisterSensorClient struct {
	DeviceID         string          `json:"deviceId"`
	SupportedSensors []string        `json:"supportedSensors,omitempty"`
	DeviceInfo       json.RawMessage `json:"deviceInfo,omitempty"`
	Timestamp        int64           `json:"timestamp,omitempty"`
}

type CreateSessionCode struct {
	GameID    string `json:"gameId"`
	Timestamp int64  `json:"timestamp,omitempty"`
}

type JoinSessionCode struct {
	SessionCode string `json:"sessionCode"`
	DeviceID    string `json:"deviceId,omitempty"`
	Timestamp   int64  `json:"timestamp,omitempty"`
}

// SensorSample carries one reading from a matched sensor.
type SensorSample struct {
	SessionID  string          `json:"sessionId"`
	SensorData json.RawMessage `json:"sensorData"`
	Timestamp  int64           `json:"timestamp,omitempty"`
}

type CreateRoom struct {
	GameID    string          `json:"gameId"`
	Settings  json.RawMessage `json:"settings,omitempty"`
	Timestamp int64           `json:"timestamp,omitempty"`
}

type JoinRoom struct {
	Password  string `json:"password"`
	Nickname  string `json:"nickname,omitempty"`
	DeviceID  string `json:"deviceId,omitempty"`
	Timestamp int64  `json:"timestamp,omitempty"`
}

type StartGame struct {
	Timestamp int64 `json:"timestamp,omitempty"`
}

type EndGame struct {
	Timestamp int64 `json:"timestamp,omitempty"`
}

type LeaveRoom struct {
	Timestamp int64 `json:"timestamp,omitempty"`
}

// RoomEvent is a game event a participant shares with the rest of its room.
type RoomEvent struct {
	EventType string          `json:"eventType"`
	EventData json.RawMessage `json:"eventData,omitempty"`
	Timestamp int64           `json:"timestamp,omitempty"`
}

// RoomSensorSample is a member's reading destined for the room host.
type RoomSensorSample struct {
	SensorData json.RawMessage `json:"sensorData"`
	Timestamp  int64           `json:"timestamp,omitempty"`
}

type Ping struct {
	Timestamp int64 `json:"timestamp"`
}

func (*RegisterHubClient) envelopeType() string    { return TypeRegisterHubClient }
func (*RegisterGameClient) envelopeType() string   { return TypeRegisterGameClient }
func (*RegisterSensorClient) envelopeType() string { return TypeRegisterSensorClient }
func (*CreateSessionCode) envelopeType() string    { return TypeCreateSessionCode }
func (*JoinSessionCode) envelopeType() string      { return TypeJoinSessionCode }
func (*SensorSample) envelopeType() string         { return TypeSensorData }
func (*CreateRoom) envelopeType() string           { return TypeCreateRoom }
func (*JoinRoom) envelopeType() string             { return TypeJoinRoom }
func (*StartGame) envelopeType() string            { return TypeStartGame }
func (*EndGame) envelopeType() string              { return TypeEndGame }
func (*LeaveRoom) envelopeType() string            { return TypeLeaveRoom }
func (*RoomEvent) envelopeType() string            { return TypeMultiplayerEvent }
func (*RoomSensorSample) envelopeType() string     { return TypeMultiplayerSensorData }
func (*Ping) envelopeType() string                 { return TypePing }

// DecodeInbound parses one frame. The type tag is checked before the body
// is decoded into its concrete message.
func DecodeInbound(data []byte) (Inbound, error) {
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("%w: invalid JSON", ErrMalformedEnvelope)
	}

	tag := gjson.GetBytes(data, "type")
	if tag.Type != gjson.String || tag.Str == "" {
		return nil, fmt.Errorf("%w: missing type", ErrMalformedEnvelope)
	}

	var msg Inbound
	switch tag.Str {
	case TypeRegisterHubClient:
		msg = &RegisterHubClient{}
	case TypeRegisterGameClient:
		msg = &RegisterGameClient{}
	case TypeRegisterSensorClient:
		msg = &RegisterSensorClient{}
	case TypeCreateSessionCode:
		msg = &CreateSessionCode{}
	case TypeJoinSessionCode:
		msg = &JoinSessionCode{}
	case TypeSensorData:
		msg = &SensorSample{}
	case TypeCreateRoom:
		msg = &CreateRoom{}
	case TypeJoinRoom:
		msg = &JoinRoom{}
	case TypeStartGame:
		msg = &StartGame{}
	case TypeEndGame:
		msg = &EndGame{}
	case TypeLeaveRoom:
		msg = &LeaveRoom{}
	case TypeMultiplayerEvent:
		msg = &RoomEvent{}
	case TypeMultiplayerSensorData:
		msg = &RoomSensorSample{}
	case TypePing:
		msg = &Ping{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, tag.Str)
	}

	if err := json.Unmarshal(data, msg); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformedEnvelope, tag.Str, err)
	}
	return msg, nil
}

// Outbound is a message sent by the server. stamp fills in the type tag.
type Outbound interface {
	stamp()
}

type RegistrationSuccess struct {
	Type          string `json:"type"`
	ClientID      string `json:"clientId"`
	Role          Role   `json:"role"`
	ServerVersion string `json:"serverVersion"`
	GameID        string `json:"gameId,omitempty"`
	DeviceID      string `json:"deviceId,omitempty"`
	Timestamp     int64  `json:"timestamp"`
}

type RegistrationFailed struct {
	Type  string `json:"type"`
	Error string `json:"error"`
	Code  string `json:"code"`
}

// SessionCodeCreated answers create_session_code. On failure Success is
// false and Error and Code are set.
type SessionCodeCreated struct {
	Type        string `json:"type"`
	Success     bool   `json:"success"`
	SessionCode string `json:"sessionCode,omitempty"`
	GameID      string `json:"gameId,omitempty"`
	ExpiresAt   int64  `json:"expiresAt,omitempty"`
	Error       string `json:"error,omitempty"`
	Code        string `json:"code,omitempty"`
}

type SensorMatched struct {
	Type        string `json:"type"`
	SessionID   string `json:"sessionId"`
	DeviceID    string `json:"deviceId"`
	SessionCode string `json:"sessionCode"`
}

type SessionJoined struct {
	Type        string `json:"type"`
	Success     bool   `json:"success"`
	SessionID   string `json:"sessionId"`
	GameID      string `json:"gameId"`
	SessionCode string `json:"sessionCode"`
}

type SessionJoinFailed struct {
	Type  string `json:"type"`
	Error string `json:"error"`
	Code  string `json:"code"`
}

type SessionEnded struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
	Reason    string `json:"reason"`
}

// SensorDataRelay is a sensor reading forwarded to the producer with the
// server's receive time.
type SensorDataRelay struct {
	Type       string          `json:"type"`
	SessionID  string          `json:"sessionId"`
	SensorData json.RawMessage `json:"sensorData"`
	Timestamp  int64           `json:"timestamp"`
}

type RoomCreated struct {
	Type       string `json:"type"`
	Success    bool   `json:"success"`
	RoomID     string `json:"roomId,omitempty"`
	Password   string `json:"password,omitempty"`
	GameID     string `json:"gameId,omitempty"`
	MaxPlayers int    `json:"maxPlayers,omitempty"`
	Error      string `json:"error,omitempty"`
	Code       string `json:"code,omitempty"`
}

type RoomJoined struct {
	Type           string       `json:"type"`
	Success        bool         `json:"success"`
	RoomID         string       `json:"roomId"`
	PlayerID       string       `json:"playerId"`
	CurrentPlayers int          `json:"currentPlayers"`
	RoomData       RoomSnapshot `json:"roomData"`
}

// RoomSnapshot is the view of a room shared with its members. It carries
// no password, connection ids or device ids.
type RoomSnapshot struct {
	RoomID         string           `json:"roomId"`
	GameID         string           `json:"gameId"`
	Status         room.Status      `json:"status"`
	CurrentPlayers int              `json:"currentPlayers"`
	MaxPlayers     int              `json:"maxPlayers"`
	Players        []PlayerSnapshot `json:"players"`
}

type PlayerSnapshot struct {
	PlayerID string `json:"playerId"`
	Nickname string `json:"nickname"`
	JoinedAt int64  `json:"joinedAt"`
	Ready    bool   `json:"isReady"`
}

// newRoomSnapshot lists the players in join order.
func newRoomSnapshot(rm room.Room) RoomSnapshot {
	players := make([]PlayerSnapshot, 0, len(rm.Players))
	for _, p := range rm.Players {
		players = append(players, PlayerSnapshot{
			PlayerID: p.ID,
			Nickname: p.Nickname,
			JoinedAt: p.JoinedAt.UnixMilli(),
			Ready:    p.Ready,
		})
	}
	slices.SortFunc(players, func(a, b PlayerSnapshot) int {
		if c := cmp.Compare(a.JoinedAt, b.JoinedAt); c != 0 {
			return c
		}
		return strings.Compare(a.PlayerID, b.PlayerID)
	})

	return RoomSnapshot{
		RoomID:         rm.ID,
		GameID:         rm.GameID,
		Status:         rm.Status,
		CurrentPlayers: rm.CurrentPlayers,
		MaxPlayers:     rm.MaxPlayers,
		Players:        players,
	}
}

type RoomJoinFailed struct {
	Type  string `json:"type"`
	Error string `json:"error"`
	Code  string `json:"code"`
}

type PlayerJoined struct {
	Type           string `json:"type"`
	RoomID         string `json:"roomId"`
	PlayerID       string `json:"playerId"`
	Nickname       string `json:"nickname"`
	CurrentPlayers int    `json:"currentPlayers"`
}

type PlayerLeft struct {
	Type           string `json:"type"`
	RoomID         string `json:"roomId"`
	PlayerID       string `json:"playerId"`
	Nickname       string `json:"nickname"`
	CurrentPlayers int    `json:"currentPlayers"`
}

type RoomClosed struct {
	Type   string `json:"type"`
	RoomID string `json:"roomId"`
	Reason string `json:"reason"`
}

type GameStart struct {
	Type   string `json:"type"`
	GameID string `json:"gameId"`
	RoomID string `json:"roomId"`
}

type GameStartFailed struct {
	Type  string `json:"type"`
	Error string `json:"error"`
	Code  string `json:"code"`
}

type GameEnd struct {
	Type   string `json:"type"`
	GameID string `json:"gameId"`
	RoomID string `json:"roomId"`
}

// RoomEventRelay is a RoomEvent as delivered to the other participants.
type RoomEventRelay struct {
	Type      string          `json:"type"`
	RoomID    string          `json:"roomId"`
	PlayerID  string          `json:"playerId"`
	EventType string          `json:"eventType"`
	EventData json.RawMessage `json:"eventData,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// RoomSensorRelay is a RoomSensorSample as delivered to the host.
type RoomSensorRelay struct {
	Type       string          `json:"type"`
	RoomID     string          `json:"roomId"`
	PlayerID   string          `json:"playerId"`
	SensorData json.RawMessage `json:"sensorData"`
	Timestamp  int64           `json:"timestamp"`
}

// ErrorReply rejects a request that has no dedicated failure message.
type ErrorReply struct {
	Type    string `json:"type"`
	Request string `json:"request"`
	Error   string `json:"error"`
	Code    string `json:"code"`
}

type Pong struct {
	Type       string `json:"type"`
	Timestamp  int64  `json:"timestamp"`
	ServerTime int64  `json:"serverTime"`
}

func (m *RegistrationSuccess) stamp() { m.Type = TypeRegistrationSuccess }
func (m *RegistrationFailed) stamp()  { m.Type = TypeRegistrationFailed }
func (m *SessionCodeCreated) stamp()  { m.Type = TypeSessionCodeCreated }
func (m *SensorMatched) stamp()       { m.Type = TypeSensorMatched }
func (m *SessionJoined) stamp()       { m.Type = TypeSessionJoined }
func (m *SessionJoinFailed) stamp()   { m.Type = TypeSessionJoinFailed }
func (m *SessionEnded) stamp()        { m.Type = TypeSessionEnded }
func (m *SensorDataRelay) stamp()     { m.Type = TypeSensorData }
func (m *RoomCreated) stamp()         { m.Type = TypeRoomCreated }
func (m *RoomJoined) stamp()          { m.Type = TypeRoomJoined }
func (m *RoomJoinFailed) stamp()      { m.Type = TypeRoomJoinFailed }
func (m *PlayerJoined) stamp()        { m.Type = TypePlayerJoined }
func (m *PlayerLeft) stamp()          { m.Type = TypePlayerLeft }
func (m *RoomClosed) stamp()          { m.Type = TypeRoomClosed }
func (m *GameStart) stamp()           { m.Type = TypeGameStart }
func (m *GameStartFailed) stamp()     { m.Type = TypeGameStartFailed }
func (m *GameEnd) stamp()             { m.Type = TypeGameEnd }
func (m *RoomEventRelay) stamp()      { m.Type = TypeMultiplayerEvent }
func (m *RoomSensorRelay) stamp()     { m.Type = TypeMultiplayerSensorData }
func (m *ErrorReply) stamp()          { m.Type = TypeError }
func (m *Pong) stamp()                { m.Type = TypePong }

// Encode serializes an outbound message as a single JSON object.
func Encode(msg Outbound) ([]byte, error) {
	msg.stamp()
	return json.Marshal(msg)
}
