package room

import (
	"errors"
	"fmt"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/wricardo/sensor-game-hub/game/codes"
)

var (
	ErrInvalidPassword = errors.New("invalid room password")
	ErrRoomNotFound    = errors.New("room not found")
	ErrRoomFull        = errors.New("room is full")
	ErrRoomNotWaiting  = errors.New("room is not accepting players")
	ErrNotHost         = errors.New("connection does not host a room")
	ErrAlreadyHosting  = errors.New("connection already hosts a room")
	ErrAlreadyInRoom   = errors.New("connection already in a room")
	ErrNotInRoom       = errors.New("connection is not in a room")
	ErrNotPlaying      = errors.New("room is not playing")
)

// CodeAllocator reserves and frees codes in a namespace.
type CodeAllocator interface {
	Allocate(ns codes.Namespace) (string, error)
	Release(ns codes.Namespace, code string)
}

// GameCatalog resolves a game's default player limit. Unknown games
// must produce an error.
type GameCatalog interface {
	MaxPlayers(gameID string) (int, error)
}

type member struct {
	roomID   string
	playerID string
}

// Manager owns every room, the password index and the per-connection
// host and member indexes.
type Manager struct {
	alloc      CodeAllocator
	games      GameCatalog
	defaultMax int
	now        func() time.Time

	rooms     map[string]*Room
	passwords map[string]string // password -> room id
	hosts     map[string]string // host conn id -> room id
	members   map[string]member // member conn id -> membership
	mu        sync.Mutex
}

// Option configures a Manager.
type Option func(*Manager)

// WithDefaultMaxPlayers overrides DefaultMaxPlayers.
func WithDefaultMaxPlayers(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.defaultMax = n
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// NewManager creates a room manager.
func NewManager(alloc CodeAllocator, games GameCatalog, opts ...Option) *Manager {
	m := &Manager{
		alloc:      alloc,
		games:      games,
		defaultMax: DefaultMaxPlayers,
		now:        time.Now,
		rooms:      make(map[string]*Room),
		passwords:  make(map[string]string),
		hosts:      make(map[string]string),
		members:    make(map[string]member),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Create opens a waiting room hosted by hostConnID.
func (m *Manager) Create(hostConnID, gameID string, settings Settings) (Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, hosting := m.hosts[hostConnID]; hosting {
		return Room{}, ErrAlreadyHosting
	}

	gameMax, err := m.games.MaxPlayers(gameID)
	if err != nil {
		return Room{}, fmt.Errorf("failed to resolve game %q: %w", gameID, err)
	}

	maxPlayers := m.defaultMax
	switch {
	case settings.MaxPlayers > 0:
		maxPlayers = settings.MaxPlayers
	case gameMax > 0:
		maxPlayers = gameMax
	}

	password, err := m.alloc.Allocate(codes.RoomPasswords)
	if err != nil {
		return Room{}, fmt.Errorf("failed to allocate room password: %w", err)
	}

	r := &Room{
		ID:         uuid.NewString(),
		Password:   password,
		GameID:     gameID,
		HostConnID: hostConnID,
		MaxPlayers: maxPlayers,
		Status:     StatusWaiting,
		CreatedAt:  m.now(),
		Settings:   settings.Raw,
		Players:    make(map[string]Player),
	}

	m.rooms[r.ID] = r
	m.passwords[password] = r.ID
	m.hosts[hostConnID] = r.ID

	return snapshot(r), nil
}

// Join admits a player into the room behind password.
func (m *Manager) Join(password string, info PlayerInfo) (Joined, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	roomID, exists := m.passwords[password]
	if !exists {
		return Joined{}, ErrInvalidPassword
	}

	r, exists := m.rooms[roomID]
	if !exists {
		return Joined{}, ErrRoomNotFound
	}

	if _, in := m.members[info.ConnID]; in {
		return Joined{}, ErrAlreadyInRoom
	}
	if r.CurrentPlayers >= r.MaxPlayers {
		return Joined{}, ErrRoomFull
	}
	if r.Status != StatusWaiting {
		return Joined{}, ErrRoomNotWaiting
	}

	p := Player{
		ID:       uuid.NewString(),
		ConnID:   info.ConnID,
		Nickname: info.Nickname,
		DeviceID: info.DeviceID,
		JoinedAt: m.now(),
	}

	r.Players[p.ID] = p
	r.CurrentPlayers = len(r.Players)
	m.members[info.ConnID] = member{roomID: r.ID, playerID: p.ID}

	return Joined{Room: snapshot(r), Player: p}, nil
}

// Start moves the caller's room from waiting to playing.
func (m *Manager) Start(hostConnID string) (Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, err := m.hostedRoom(hostConnID)
	if err != nil {
		return Room{}, err
	}
	if r.Status != StatusWaiting {
		return Room{}, ErrRoomNotWaiting
	}

	r.Status = StatusPlaying
	return snapshot(r), nil
}

// Finish moves the caller's room from playing to finished.
func (m *Manager) Finish(hostConnID string) (Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, err := m.hostedRoom(hostConnID)
	if err != nil {
		return Room{}, err
	}
	if r.Status != StatusPlaying {
		return Room{}, ErrNotPlaying
	}

	r.Status = StatusFinished
	return snapshot(r), nil
}

// Leave removes connID from its room. A host leaving closes the room.
func (m *Manager) Leave(connID string) (Departure, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	d, ok := m.depart(connID, ReasonHostLeft)
	if !ok {
		return Departure{}, ErrNotInRoom
	}
	return d, nil
}

// Disconnect runs the same teardown as Leave for a closed connection.
// ok is false when the connection was in no room.
func (m *Manager) Disconnect(connID string) (Departure, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.depart(connID, ReasonHostDisconnected)
}

// Peers returns the room context of connID, host or member.
func (m *Manager) Peers(connID string) (Peers, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if roomID, hosting := m.hosts[connID]; hosting {
		r := m.rooms[roomID]
		return Peers{Room: snapshot(r), IsHost: true, Others: connIDs(r, connID)}, nil
	}

	ref, in := m.members[connID]
	if !in {
		return Peers{}, ErrNotInRoom
	}
	r := m.rooms[ref.roomID]
	return Peers{Room: snapshot(r), PlayerID: ref.playerID, Others: connIDs(r, connID)}, nil
}

// ListWaiting returns the rooms still accepting players, oldest first.
func (m *Manager) ListWaiting() []Room {
	m.mu.Lock()
	defer m.mu.Unlock()

	result := make([]Room, 0, len(m.rooms))
	for _, r := range m.rooms {
		if r.Status == StatusWaiting {
			result = append(result, snapshot(r))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result
}

// Count returns the number of rooms.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rooms)
}

// SweepStale deletes rooms created more than maxAge ago, whatever their
// status. Every participant, host included, is listed as a recipient.
func (m *Manager) SweepStale(maxAge time.Duration) []Departure {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := m.now().Add(-maxAge)
	var closed []Departure
	for _, r := range m.rooms {
		if !r.CreatedAt.Before(cutoff) {
			continue
		}
		s := snapshot(r)
		m.deleteRoom(r)
		closed = append(closed, Departure{
			Room:       s,
			Closed:     true,
			Reason:     ReasonExpired,
			Recipients: s.Participants(),
		})
	}
	return closed
}

// depart removes connID from whatever room it is in. Caller holds mu.
func (m *Manager) depart(connID, hostReason string) (Departure, bool) {
	if roomID, hosting := m.hosts[connID]; hosting {
		r := m.rooms[roomID]
		s := snapshot(r)
		m.deleteRoom(r)
		return Departure{
			Room:       s,
			Closed:     true,
			Reason:     hostReason,
			Recipients: s.Members(),
		}, true
	}

	ref, in := m.members[connID]
	if !in {
		return Departure{}, false
	}

	r := m.rooms[ref.roomID]
	p := r.Players[ref.playerID]
	delete(r.Players, ref.playerID)
	r.CurrentPlayers = len(r.Players)
	delete(m.members, connID)

	return Departure{
		Room:       snapshot(r),
		Player:     p,
		Recipients: connIDs(r, ""),
	}, true
}

// deleteRoom drops r and every index entry pointing at it. Caller holds mu.
func (m *Manager) deleteRoom(r *Room) {
	for _, p := range r.Players {
		delete(m.members, p.ConnID)
	}
	delete(m.hosts, r.HostConnID)
	delete(m.passwords, r.Password)
	delete(m.rooms, r.ID)
	m.alloc.Release(codes.RoomPasswords, r.Password)
}

func (m *Manager) hostedRoom(hostConnID string) (*Room, error) {
	roomID, hosting := m.hosts[hostConnID]
	if !hosting {
		return nil, ErrNotHost
	}
	r, exists := m.rooms[roomID]
	if !exists {
		return nil, ErrRoomNotFound
	}
	return r, nil
}

// connIDs lists the participants of r except exclude.
func connIDs(r *Room, exclude string) []string {
	ids := make([]string, 0, len(r.Players)+1)
	if r.HostConnID != exclude {
		ids = append(ids, r.HostConnID)
	}
	for _, p := range r.Players {
		if p.ConnID != exclude {
			ids = append(ids, p.ConnID)
		}
	}
	return ids
}

func snapshot(r *Room) Room {
	s := *r
	s.Players = maps.Clone(r.Players)
	if s.Players == nil {
		s.Players = make(map[string]Player)
	}
	return s
}
