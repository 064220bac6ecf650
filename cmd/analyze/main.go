// Command analyze prints quick, human-readable heuristics about the game
// catalog the hub would load. It summarizes games by type and category,
// which sensors the catalog depends on, and how many phones a full round of
// every multiplayer game needs, and highlights manifests that lean on hub
// defaults.
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"

	"github.com/wricardo/sensor-game-hub/config"
	"github.com/wricardo/sensor-game-hub/game/catalog"
)

// CatalogAnalysis is the outcome of analyzing a set of games.
type CatalogAnalysis struct {
	Total           int
	ByType          map[string]int
	ByCategory      map[string]int
	SensorUsage     map[string]int
	NoSensors       []string
	DefaultCapacity []string
	// RoomSeats is the number of phones needed to fill one room of every
	// multiplayer game at once.
	RoomSeats int
}

func analyzeCatalog(games []catalog.Game, defaultMaxPlayers int) CatalogAnalysis {
	a := CatalogAnalysis{
		Total:       len(games),
		ByType:      make(map[string]int),
		ByCategory:  make(map[string]int),
		SensorUsage: make(map[string]int),
	}

	for _, g := range games {
		gameType := g.GameType
		if gameType == "" {
			gameType = catalog.TypeSingle
		}
		a.ByType[gameType]++

		category := g.Category
		if category == "" {
			category = "uncategorized"
		}
		a.ByCategory[category]++

		if len(g.Sensors) == 0 {
			a.NoSensors = append(a.NoSensors, g.ID)
		}
		for _, s := range g.Sensors {
			a.SensorUsage[s]++
		}

		if gameType != catalog.TypeMultiplayer {
			continue
		}
		if g.MaxPlayers == 0 {
			a.DefaultCapacity = append(a.DefaultCapacity, g.ID)
			a.RoomSeats += defaultMaxPlayers
		} else {
			a.RoomSeats += g.MaxPlayers
		}
	}

	sort.Strings(a.NoSensors)
	sort.Strings(a.DefaultCapacity)
	return a
}

func printAnalysis(w io.Writer, dir string, a CatalogAnalysis) {
	fmt.Fprintf(w, "\n=== Analyzing %s ===\n", dir)
	fmt.Fprintf(w, "Total Games: %d\n", a.Total)

	for _, t := range sortedKeys(a.ByType) {
		fmt.Fprintf(w, "  %s: %d\n", t, a.ByType[t])
	}

	fmt.Fprintf(w, "Categories: ")
	parts := make([]string, 0, len(a.ByCategory))
	for _, c := range sortedKeys(a.ByCategory) {
		parts = append(parts, fmt.Sprintf("%s (%d)", c, a.ByCategory[c]))
	}
	fmt.Fprintln(w, strings.Join(parts, ", "))

	fmt.Fprintf(w, "Sensor Usage:\n")
	for _, s := range sortedKeys(a.SensorUsage) {
		fmt.Fprintf(w, "  %-14s %d game(s)\n", s, a.SensorUsage[s])
	}

	fmt.Fprintf(w, "Phones to fill every multiplayer room: %d\n", a.RoomSeats)

	if len(a.NoSensors) > 0 {
		fmt.Fprintf(w, "⚠️  WARNING: %d game(s) request no sensors: %s\n", len(a.NoSensors), strings.Join(a.NoSensors, ", "))
	} else {
		fmt.Fprintf(w, "✅ Every game requests at least one sensor\n")
	}

	if len(a.DefaultCapacity) > 0 {
		fmt.Fprintf(w, "⚠️  WARNING: %d multiplayer game(s) rely on the hub's default room size: %s\n", len(a.DefaultCapacity), strings.Join(a.DefaultCapacity, ", "))
	} else if a.ByType[catalog.TypeMultiplayer] > 0 {
		fmt.Fprintf(w, "✅ Every multiplayer game declares maxPlayers\n")
	}
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	cfg, err := config.Load(logger, "sensorhub")
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}

	dir := cfg.Games.Dir
	if len(os.Args) > 1 {
		dir = os.Args[1]
	}

	games, err := catalog.NewManager(dir, logger)
	if err != nil {
		fmt.Printf("Error loading games: %v\n", err)
		os.Exit(1)
	}

	printAnalysis(os.Stdout, dir, analyzeCatalog(games.List(), cfg.Rooms.DefaultMaxPlayers))
}
