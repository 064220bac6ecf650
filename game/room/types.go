package room

import (
	"encoding/json"
	"time"
)

// DefaultMaxPlayers applies when neither the settings nor the game say otherwise.
const DefaultMaxPlayers = 4

// Status is the lifecycle state of a room.
type Status string

const (
	StatusWaiting  Status = "waiting"
	StatusPlaying  Status = "playing"
	StatusFinished Status = "finished"
)

// Reasons reported when a room is closed.
const (
	ReasonHostDisconnected = "host_disconnected"
	ReasonHostLeft         = "host_left"
	ReasonExpired          = "expired"
)

// Settings are the host's creation options. Raw is kept verbatim and
// echoed to players.
type Settings struct {
	MaxPlayers int
	Raw        json.RawMessage
}

// PlayerInfo describes a player asking to join.
type PlayerInfo struct {
	ConnID   string
	Nickname string
	DeviceID string
}

// Player is a room member.
type Player struct {
	ID       string    `json:"playerId"`
	ConnID   string    `json:"-"`
	Nickname string    `json:"nickname"`
	DeviceID string    `json:"deviceId,omitempty"`
	JoinedAt time.Time `json:"joinedAt"`
	Ready    bool      `json:"isReady"`
}

// Room is a snapshot of a room. Mutating it does not affect the manager.
type Room struct {
	ID             string            `json:"roomId"`
	Password       string            `json:"password"`
	GameID         string            `json:"gameId"`
	HostConnID     string            `json:"hostId"`
	MaxPlayers     int               `json:"maxPlayers"`
	CurrentPlayers int               `json:"currentPlayers"`
	Status         Status            `json:"status"`
	CreatedAt      time.Time         `json:"createdAt"`
	Settings       json.RawMessage   `json:"settings,omitempty"`
	Players        map[string]Player `json:"players"`
}

// Members returns the connection ids of all members.
func (r Room) Members() []string {
	ids := make([]string, 0, len(r.Players))
	for _, p := range r.Players {
		ids = append(ids, p.ConnID)
	}
	return ids
}

// Participants returns the members plus the host.
func (r Room) Participants() []string {
	return append(r.Members(), r.HostConnID)
}

// Joined is the result of a successful join.
type Joined struct {
	Room   Room
	Player Player
}

// Departure describes a connection leaving a room.
//
// When Closed is true the room has been deleted and Recipients are the
// connections to receive a closure notice. Otherwise Player left and
// Recipients are the remaining participants.
type Departure struct {
	Room       Room
	Closed     bool
	Reason     string
	Player     Player
	Recipients []string
}

// Peers is the room context of a connection.
type Peers struct {
	Room     Room
	PlayerID string
	IsHost   bool
	// Others holds every participant except the connection itself.
	Others []string
}
