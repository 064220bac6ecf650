package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// ManifestName is the file every game folder must contain.
const ManifestName = "game.json"

var (
	ErrGameNotFound = errors.New("game not found")
	ErrInvalidGame  = errors.New("invalid game manifest")
)

// Manager loads and caches game manifests.
type Manager struct {
	dir    string
	games  map[string]*Game
	logger *slog.Logger
	now    func() time.Time
	mu     sync.RWMutex
}

// NewManager creates a catalog and loads every manifest below dir.
func NewManager(dir string, logger *slog.Logger) (*Manager, error) {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return nil, fmt.Errorf("games directory does not exist: %s", dir)
	}

	m := NewEmpty(logger)
	m.dir = dir

	if _, err := m.Reload(); err != nil {
		return nil, err
	}
	return m, nil
}

// NewEmpty creates a catalog with no backing directory.
func NewEmpty(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		games:  make(map[string]*Game),
		logger: logger.With("component", "catalog"),
		now:    time.Now,
	}
}

// Reload rescans the games directory. Play counts of games that are still
// present are kept. Broken manifests are logged and skipped.
func (m *Manager) Reload() (int, error) {
	if m.dir == "" {
		return m.Count(), nil
	}

	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return 0, fmt.Errorf("failed to read games directory: %w", err)
	}

	loaded := make(map[string]*Game)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		path := filepath.Join(m.dir, entry.Name(), ManifestName)
		game, err := LoadManifest(path)
		if err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				m.logger.Warn("Skipping game", "folder", entry.Name(), "error", err)
			}
			continue
		}
		if _, dup := loaded[game.ID]; dup {
			m.logger.Warn("Duplicate game id", "id", game.ID, "folder", entry.Name())
			continue
		}
		loaded[game.ID] = game
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	for id, game := range loaded {
		if prev, ok := m.games[id]; ok {
			game.PlayCount = prev.PlayCount
			game.CreatedAt = prev.CreatedAt
			game.IsActive = prev.IsActive
			continue
		}
		game.IsActive = true
		game.CreatedAt = now
	}
	m.games = loaded

	m.logger.Info("Games loaded", "dir", m.dir, "count", len(loaded))
	return len(loaded), nil
}

// LoadManifest reads and validates one game.json file.
func LoadManifest(path string) (*Game, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var game Game
	if err := json.Unmarshal(data, &game); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	if problems := Validate(game); len(problems) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrInvalidGame, strings.Join(problems, "; "))
	}

	return &game, nil
}

// Register adds or replaces a game.
func (m *Manager) Register(game Game) error {
	if problems := Validate(game); len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidGame, strings.Join(problems, "; "))
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if game.CreatedAt.IsZero() {
		game.CreatedAt = m.now()
	}
	m.games[game.ID] = &game
	return nil
}

// Get returns a game by id.
func (m *Manager) Get(id string) (Game, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	game, exists := m.games[id]
	if !exists {
		return Game{}, ErrGameNotFound
	}
	return *game, nil
}

// MaxPlayers returns the game's player limit, zero meaning unspecified.
func (m *Manager) MaxPlayers(id string) (int, error) {
	game, err := m.Get(id)
	if err != nil {
		return 0, err
	}
	return game.MaxPlayers, nil
}

// List returns the active games, most played first.
func (m *Manager) List() []Game {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]Game, 0, len(m.games))
	for _, game := range m.games {
		if game.IsActive {
			result = append(result, *game)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].PlayCount != result[j].PlayCount {
			return result[i].PlayCount > result[j].PlayCount
		}
		return result[i].ID < result[j].ID
	})
	return result
}

// SetActive shows or hides a game from listings.
func (m *Manager) SetActive(id string, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	game, exists := m.games[id]
	if !exists {
		return ErrGameNotFound
	}
	game.IsActive = active
	return nil
}

// RecordPlay bumps the play count of a game.
func (m *Manager) RecordPlay(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	game, exists := m.games[id]
	if !exists {
		return ErrGameNotFound
	}
	game.PlayCount++
	return nil
}

// Count returns the number of known games, active or not.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.games)
}
