package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"runtime"
	"strings"
	"time"

	"github.com/wricardo/sensor-game-hub/game/catalog"
	"github.com/wricardo/sensor-game-hub/game/session"
)

// ErrCodeNotWaiting is returned when a join link is requested for a code
// that can no longer be joined.
var ErrCodeNotWaiting = errors.New("session code is not waiting for a sensor")

// SensorPath is the page a phone opens to join with a code.
const SensorPath = "/sensor"

// hubService implements the HubService interface
type hubService struct {
	games    GameCatalog
	sessions SessionStore
	rooms    RoomStore
	clients  ConnectionCounter
	opts     Options
}

// NewHubService creates a new hub service instance
func NewHubService(games GameCatalog, sessions SessionStore, rooms RoomStore, clients ConnectionCounter, opts Options) HubService {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.StartedAt.IsZero() {
		opts.StartedAt = opts.Now()
	}
	opts.PublicURL = strings.TrimRight(opts.PublicURL, "/")

	return &hubService{
		games:    games,
		sessions: sessions,
		rooms:    rooms,
		clients:  clients,
		opts:     opts,
	}
}

// ListGames returns the active games, most played first
func (s *hubService) ListGames(ctx context.Context) ([]catalog.Game, error) {
	return s.games.List(), nil
}

// GetGame returns one catalog entry
func (s *hubService) GetGame(ctx context.Context, gameID string) (*catalog.Game, error) {
	game, err := s.games.Get(gameID)
	if err != nil {
		return nil, fmt.Errorf("game %q: %w", gameID, err)
	}
	return &game, nil
}

// ListWaitingRooms returns the rooms still accepting players
func (s *hubService) ListWaitingRooms(ctx context.Context) ([]RoomSummary, error) {
	rooms := s.rooms.ListWaiting()

	result := make([]RoomSummary, 0, len(rooms))
	for _, r := range rooms {
		result = append(result, RoomSummary{
			RoomID:         r.ID,
			GameID:         r.GameID,
			CurrentPlayers: r.CurrentPlayers,
			MaxPlayers:     r.MaxPlayers,
			Status:         r.Status,
			CreatedAt:      r.CreatedAt,
		})
	}
	return result, nil
}

// CodeInfo looks up a session code. Waiting codes carry a join link when
// a public URL is configured.
func (s *hubService) CodeInfo(ctx context.Context, code string) (*CodeInfo, error) {
	c, err := s.sessions.Lookup(code)
	if err != nil {
		return nil, fmt.Errorf("session code %q: %w", code, err)
	}

	info := &CodeInfo{
		Code:      c.Code,
		GameID:    c.GameID,
		Status:    c.Status,
		CreatedAt: c.CreatedAt,
		ExpiresAt: c.ExpiresAt,
	}
	if c.Status == session.StatusWaiting {
		info.JoinURL = s.joinURL(c.Code)
	}
	return info, nil
}

// Health reports liveness and headline counts
func (s *hubService) Health(ctx context.Context) (*HealthInfo, error) {
	now := s.opts.Now()
	return &HealthInfo{
		Status:    "ok",
		Timestamp: now,
		Version:   s.opts.Version,
		Uptime:    now.Sub(s.opts.StartedAt).Round(time.Second).String(),
		Sessions:  s.sessions.Count(),
		Rooms:     s.rooms.Count(),
		Clients:   s.clients.Count(),
	}, nil
}

// Status reports aggregate counts and runtime memory
func (s *hubService) Status(ctx context.Context) (*StatusInfo, error) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	now := s.opts.Now()
	uptime := now.Sub(s.opts.StartedAt)

	byGame := make(map[string]int)
	for _, sess := range s.sessions.List() {
		byGame[sess.GameID]++
	}

	info := &StatusInfo{
		Uptime:             uptime.Round(time.Second).String(),
		UptimeSeconds:      int64(uptime.Seconds()),
		TotalGames:         s.games.Count(),
		ActiveSessionCodes: s.sessions.WaitingCount(),
		ActiveSessions:     s.sessions.Count(),
		ActiveRooms:        s.rooms.Count(),
		ConnectedClients:   s.clients.Count(),
		ClientsByRole:      s.clients.CountByRole(),
		SessionsByGame:     byGame,
		Memory: MemoryStats{
			AllocBytes: mem.Alloc,
			SysBytes:   mem.Sys,
			NumGC:      mem.NumGC,
			Goroutines: runtime.NumGoroutine(),
		},
		Timestamp: now,
	}
	if s.opts.Codes != nil {
		info.RecentSessionCodes = s.opts.Codes.Recent()
	}
	return info, nil
}

// JoinURL returns the sensor page link for a waiting code.
func JoinURL(publicURL, code string) string {
	if publicURL == "" {
		return ""
	}
	return strings.TrimRight(publicURL, "/") + SensorPath + "?code=" + url.QueryEscape(code)
}

func (s *hubService) joinURL(code string) string {
	return JoinURL(s.opts.PublicURL, code)
}
