package service

import (
	"context"
	"time"

	"github.com/wricardo/sensor-game-hub/game/catalog"
	"github.com/wricardo/sensor-game-hub/game/room"
	"github.com/wricardo/sensor-game-hub/game/session"
)

// HubService defines the read-only queries served over HTTP and MCP
type HubService interface {
	// Catalog
	ListGames(ctx context.Context) ([]catalog.Game, error)
	GetGame(ctx context.Context, gameID string) (*catalog.Game, error)

	// Rooms and codes
	ListWaitingRooms(ctx context.Context) ([]RoomSummary, error)
	CodeInfo(ctx context.Context, code string) (*CodeInfo, error)

	// Server
	Health(ctx context.Context) (*HealthInfo, error)
	Status(ctx context.Context) (*StatusInfo, error)
}

// GameCatalog is the subset of the catalog the service reads
type GameCatalog interface {
	List() []catalog.Game
	Get(id string) (catalog.Game, error)
	Count() int
}

// SessionStore is the subset of the session matcher the service reads
type SessionStore interface {
	Lookup(code string) (session.Code, error)
	Count() int
	WaitingCount() int
	List() []session.Session
}

// RoomStore is the subset of the room manager the service reads
type RoomStore interface {
	ListWaiting() []room.Room
	Count() int
}

// ConnectionCounter reports live transport connections
type ConnectionCounter interface {
	Count() int
	CountByRole() map[string]int
}

// CodeStats reports allocator bookkeeping
type CodeStats interface {
	Recent() int
}

// Options configure a hub service
type Options struct {
	Version string
	// PublicURL is the externally reachable base URL used to build
	// sensor join links. Empty disables links.
	PublicURL string
	StartedAt time.Time
	Now       func() time.Time
	// Codes, when set, adds allocator figures to the status report.
	Codes CodeStats
}
