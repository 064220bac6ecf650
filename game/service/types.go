package service

import (
	"time"

	"github.com/wricardo/sensor-game-hub/game/room"
	"github.com/wricardo/sensor-game-hub/game/session"
)

// RoomSummary is the public view of a waiting room. It omits the password.
type RoomSummary struct {
	RoomID         string      `json:"roomId"`
	GameID         string      `json:"gameId"`
	CurrentPlayers int         `json:"currentPlayers"`
	MaxPlayers     int         `json:"maxPlayers"`
	Status         room.Status `json:"status"`
	CreatedAt      time.Time   `json:"createdAt"`
}

// CodeInfo describes a session code without exposing connection ids
type CodeInfo struct {
	Code      string         `json:"sessionCode"`
	GameID    string         `json:"gameId"`
	Status    session.Status `json:"status"`
	CreatedAt time.Time      `json:"createdAt"`
	ExpiresAt time.Time      `json:"expiresAt"`
	JoinURL   string         `json:"joinUrl,omitempty"`
}

// HealthInfo is the liveness summary
type HealthInfo struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version"`
	Uptime    string    `json:"uptime"`
	Sessions  int       `json:"sessions"`
	Rooms     int       `json:"rooms"`
	Clients   int       `json:"clients"`
}

// StatusInfo is the aggregate server status
type StatusInfo struct {
	Uptime             string         `json:"uptime"`
	UptimeSeconds      int64          `json:"uptimeSeconds"`
	TotalGames         int            `json:"totalGames"`
	ActiveSessionCodes int            `json:"activeSessionCodes"`
	ActiveSessions     int            `json:"activeSessions"`
	ActiveRooms        int            `json:"activeRooms"`
	ConnectedClients   int            `json:"connectedClients"`
	ClientsByRole      map[string]int `json:"clientsByRole"`
	SessionsByGame     map[string]int `json:"sessionsByGame"`
	RecentSessionCodes int            `json:"recentSessionCodes"`
	Memory             MemoryStats    `json:"memory"`
	Timestamp          time.Time      `json:"timestamp"`
}

// MemoryStats is a slice of runtime.MemStats
type MemoryStats struct {
	AllocBytes uint64 `json:"allocBytes"`
	SysBytes   uint64 `json:"sysBytes"`
	NumGC      uint32 `json:"numGC"`
	Goroutines int    `json:"goroutines"`
}
