package catalog

import (
	"fmt"
	"strings"
	"time"
)

// Game types understood by the hub.
const (
	TypeSingle      = "single"
	TypeMultiplayer = "multiplayer"
)

// Game is a catalog entry. The first block mirrors game.json; the second
// is tracked by the hub.
type Game struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Category    string   `json:"category,omitempty"`
	GameType    string   `json:"gameType,omitempty"`
	Sensors     []string `json:"requestedSensors,omitempty"`
	MinPlayers  int      `json:"minPlayers,omitempty"`
	MaxPlayers  int      `json:"maxPlayers,omitempty"`
	Version     string   `json:"version,omitempty"`
	Author      string   `json:"author,omitempty"`
	Icon        string   `json:"icon,omitempty"`

	IsActive  bool      `json:"isActive"`
	PlayCount int       `json:"playCount"`
	CreatedAt time.Time `json:"createdAt"`
}

var knownSensors = map[string]bool{
	"orientation":   true,
	"accelerometer": true,
	"gyroscope":     true,
	"motion":        true,
}

// Validate reports every problem with a manifest.
func Validate(g Game) []string {
	var problems []string

	if strings.TrimSpace(g.ID) == "" {
		problems = append(problems, "id is required")
	} else if strings.ContainsAny(g.ID, " /\\") {
		problems = append(problems, fmt.Sprintf("id %q must not contain spaces or slashes", g.ID))
	}
	if strings.TrimSpace(g.Name) == "" {
		problems = append(problems, "name is required")
	}

	switch g.GameType {
	case "", TypeSingle, TypeMultiplayer:
	default:
		problems = append(problems, fmt.Sprintf("unknown gameType %q", g.GameType))
	}

	if g.MinPlayers < 0 || g.MaxPlayers < 0 {
		problems = append(problems, "player counts must not be negative")
	}
	if g.MaxPlayers > 0 && g.MinPlayers > g.MaxPlayers {
		problems = append(problems, fmt.Sprintf("minPlayers %d exceeds maxPlayers %d", g.MinPlayers, g.MaxPlayers))
	}

	for _, s := range g.Sensors {
		if !knownSensors[s] {
			problems = append(problems, fmt.Sprintf("unknown sensor %q", s))
		}
	}

	return problems
}
