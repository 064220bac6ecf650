package session

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/wricardo/sensor-game-hub/game/codes"
)

var (
	ErrCodeNotFound       = errors.New("session code not found")
	ErrCodeExpired        = errors.New("session code expired")
	ErrCodeAlreadyMatched = errors.New("session code already matched")
	ErrDeviceInSession    = errors.New("device already in an active session")
	ErrSensorInSession    = errors.New("sensor connection already in an active session")
	ErrSessionNotFound    = errors.New("session not found")
)

// CodeAllocator reserves and frees codes in a namespace.
type CodeAllocator interface {
	Allocate(ns codes.Namespace) (string, error)
	Release(ns codes.Namespace, code string)
}

// Manager owns session codes and the sessions created from them.
type Manager struct {
	alloc CodeAllocator
	ttl   time.Duration
	now   func() time.Time

	codes    map[string]*Code
	sessions map[string]*Session
	devices  map[string]string // device id -> session id
	sensors  map[string]string // sensor connection id -> session id
	mu       sync.Mutex
}

// Option configures a Manager.
type Option func(*Manager)

// WithTTL overrides DefaultCodeTTL.
func WithTTL(ttl time.Duration) Option {
	return func(m *Manager) {
		if ttl > 0 {
			m.ttl = ttl
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

// NewManager creates a session manager drawing codes from alloc.
func NewManager(alloc CodeAllocator, opts ...Option) *Manager {
	m := &Manager{
		alloc:    alloc,
		ttl:      DefaultCodeTTL,
		now:      time.Now,
		codes:    make(map[string]*Code),
		sessions: make(map[string]*Session),
		devices:  make(map[string]string),
		sensors:  make(map[string]string),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// CreateCode registers a new waiting code for the producer.
func (m *Manager) CreateCode(producerConnID, gameID string) (Code, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	value, err := m.alloc.Allocate(codes.SessionCodes)
	if err != nil {
		return Code{}, fmt.Errorf("failed to allocate session code: %w", err)
	}

	now := m.now()
	c := &Code{
		Code:           value,
		ProducerConnID: producerConnID,
		GameID:         gameID,
		Status:         StatusWaiting,
		CreatedAt:      now,
		ExpiresAt:      now.Add(m.ttl),
		LastActivity:   now,
	}
	m.codes[value] = c

	return *c, nil
}

// MatchCode binds a sensor to a waiting code and creates the session.
// At most one call succeeds per code.
func (m *Manager) MatchCode(code, deviceID, sensorConnID string) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, exists := m.codes[code]
	if !exists {
		return Session{}, ErrCodeNotFound
	}

	now := m.now()
	if !now.Before(c.ExpiresAt) {
		m.dropCode(c)
		return Session{}, ErrCodeExpired
	}

	if c.Status != StatusWaiting {
		return Session{}, ErrCodeAlreadyMatched
	}

	if deviceID != "" {
		if _, busy := m.devices[deviceID]; busy {
			return Session{}, ErrDeviceInSession
		}
	}
	if _, busy := m.sensors[sensorConnID]; busy {
		return Session{}, ErrSensorInSession
	}

	sess := &Session{
		ID:             uuid.NewString(),
		Code:           code,
		ProducerConnID: c.ProducerConnID,
		SensorConnID:   sensorConnID,
		DeviceID:       deviceID,
		GameID:         c.GameID,
		CreatedAt:      now,
		LastActivity:   now,
	}

	c.Status = StatusMatched
	c.SensorConnID = sensorConnID
	c.DeviceID = deviceID
	c.SessionID = sess.ID
	c.LastActivity = now

	m.sessions[sess.ID] = sess
	if deviceID != "" {
		m.devices[deviceID] = sess.ID
	}
	m.sensors[sensorConnID] = sess.ID

	return *sess, nil
}

// Session returns a snapshot of the session with the given id.
func (m *Manager) Session(id string) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, exists := m.sessions[id]
	if !exists {
		return Session{}, ErrSessionNotFound
	}
	return *sess, nil
}

// Touch records activity on a session.
func (m *Manager) Touch(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, exists := m.sessions[id]
	if !exists {
		return ErrSessionNotFound
	}
	sess.LastActivity = m.now()
	return nil
}

// Lookup returns a snapshot of a code entry. Expired entries that the
// janitor has not reaped yet are reported with StatusExpired.
func (m *Manager) Lookup(code string) (Code, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, exists := m.codes[code]
	if !exists {
		return Code{}, ErrCodeNotFound
	}

	snapshot := *c
	if !m.now().Before(c.ExpiresAt) {
		snapshot.Status = StatusExpired
	}
	return snapshot, nil
}

// EndSessionsFor tears down every session in which connID takes part and
// drops the waiting codes it created. The ended sessions are returned so
// the counterparts can be told.
func (m *Manager) EndSessionsFor(connID string) []Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	var ended []Session
	for id, sess := range m.sessions {
		if sess.ProducerConnID != connID && sess.SensorConnID != connID {
			continue
		}
		delete(m.sessions, id)
		if sess.DeviceID != "" && m.devices[sess.DeviceID] == id {
			delete(m.devices, sess.DeviceID)
		}
		if m.sensors[sess.SensorConnID] == id {
			delete(m.sensors, sess.SensorConnID)
		}
		ended = append(ended, *sess)
	}

	for _, c := range m.codes {
		if c.ProducerConnID == connID && c.Status == StatusWaiting {
			m.dropCode(c)
		}
	}

	sort.Slice(ended, func(i, j int) bool {
		return ended[i].CreatedAt.Before(ended[j].CreatedAt)
	})
	return ended
}

// SweepExpired deletes every code whose expiry has passed and returns how
// many were removed.
func (m *Manager) SweepExpired() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	removed := 0
	for _, c := range m.codes {
		if !now.Before(c.ExpiresAt) {
			m.dropCode(c)
			removed++
		}
	}
	return removed
}

// CodeCount returns the number of tracked codes, waiting or matched.
func (m *Manager) CodeCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.codes)
}

// WaitingCount returns the number of codes still waiting for a sensor.
func (m *Manager) WaitingCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, c := range m.codes {
		if c.Status == StatusWaiting {
			n++
		}
	}
	return n
}

// Count returns the number of active sessions.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// List returns snapshots of all active sessions, oldest first.
func (m *Manager) List() []Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	result := make([]Session, 0, len(m.sessions))
	for _, sess := range m.sessions {
		result = append(result, *sess)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result
}

// dropCode removes c and frees its value. Caller holds mu.
func (m *Manager) dropCode(c *Code) {
	delete(m.codes, c.Code)
	m.alloc.Release(codes.SessionCodes, c.Code)
}
