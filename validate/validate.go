// Command validate provides a small CLI that validates game manifests
// (game.json) below a games directory, ../games unless another directory is
// passed as the first argument. It checks:
//   - JSON structure and required fields (id, name)
//   - Game type, player counts, and requested sensors via catalog.Validate
//   - That the folder name matches the game id
//   - Multiplayer games declare a room capacity of at least 2
//   - Game ids are unique across the directory
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/wricardo/sensor-game-hub/game/catalog"
)

// ValidationResult captures the outcome of validating a single manifest.
// If Valid is true, Errors contains informational messages; otherwise it
// accumulates the validation errors that were found.
type ValidationResult struct {
	File   string
	GameID string
	Valid  bool
	Errors []string
}

// validateManifest loads and validates a single game.json file.
func validateManifest(filePath string) ValidationResult {
	folder := filepath.Base(filepath.Dir(filePath))
	result := ValidationResult{
		File:   filepath.Join(folder, filepath.Base(filePath)),
		Valid:  true,
		Errors: []string{},
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		result.Valid = false
		result.Errors = append(result.Errors, fmt.Sprintf("Failed to read file: %v", err))
		return result
	}

	var game catalog.Game
	if err := json.Unmarshal(data, &game); err != nil {
		result.Valid = false
		result.Errors = append(result.Errors, fmt.Sprintf("Invalid JSON: %v", err))
		return result
	}
	result.GameID = game.ID

	for _, problem := range catalog.Validate(game) {
		result.Valid = false
		result.Errors = append(result.Errors, problem)
	}

	if game.ID != "" && game.ID != folder {
		result.Valid = false
		result.Errors = append(result.Errors, fmt.Sprintf("Folder %q does not match game id %q", folder, game.ID))
	}

	if game.GameType == catalog.TypeMultiplayer && game.MaxPlayers > 0 && game.MaxPlayers < 2 {
		result.Valid = false
		result.Errors = append(result.Errors, fmt.Sprintf("Multiplayer game needs maxPlayers >= 2, got %d", game.MaxPlayers))
	}

	if !result.Valid {
		return result
	}

	gameType := game.GameType
	if gameType == "" {
		gameType = catalog.TypeSingle
	}
	result.Errors = append(result.Errors, fmt.Sprintf("✓ %s (%s)", game.Name, gameType))

	if len(game.Sensors) == 0 {
		result.Errors = append(result.Errors, "✓ Sensors: none requested")
	} else {
		result.Errors = append(result.Errors, fmt.Sprintf("✓ Sensors: %s", strings.Join(game.Sensors, ", ")))
	}

	if gameType == catalog.TypeMultiplayer {
		if game.MaxPlayers == 0 {
			result.Errors = append(result.Errors, "✓ Players: hub default room size")
		} else {
			result.Errors = append(result.Errors, fmt.Sprintf("✓ Players: %d-%d", max(game.MinPlayers, 1), game.MaxPlayers))
		}
	}

	return result
}

// checkDuplicates marks every result whose game id is shared with another
// manifest as invalid.
func checkDuplicates(results []ValidationResult) {
	seen := make(map[string][]int)
	for i, r := range results {
		if r.GameID != "" {
			seen[r.GameID] = append(seen[r.GameID], i)
		}
	}

	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		indexes := seen[id]
		if len(indexes) < 2 {
			continue
		}
		for _, i := range indexes {
			results[i].Valid = false
			results[i].Errors = append(results[i].Errors, fmt.Sprintf("Duplicate game id %q (%d manifests)", id, len(indexes)))
		}
	}
}

// validateDir validates every <dir>/*/game.json.
func validateDir(dir string) ([]ValidationResult, error) {
	files, err := filepath.Glob(filepath.Join(dir, "*", catalog.ManifestName))
	if err != nil {
		return nil, err
	}
	sort.Strings(files)

	results := make([]ValidationResult, 0, len(files))
	for _, file := range files {
		results = append(results, validateManifest(file))
	}
	checkDuplicates(results)
	return results, nil
}

// main scans the games directory for manifests and validates each one,
// printing a concise report and exiting with non-zero status if any are invalid.
func main() {
	gamesDir := "../games"
	if len(os.Args) > 1 {
		gamesDir = os.Args[1]
	}

	results, err := validateDir(gamesDir)
	if err != nil {
		fmt.Printf("Error finding game manifests: %v\n", err)
		os.Exit(1)
	}
	if len(results) == 0 {
		fmt.Printf("No game manifests found in %s\n", gamesDir)
		os.Exit(1)
	}

	allValid := true
	for _, result := range results {
		fmt.Printf("\n%s %s\n", strings.Repeat("=", 20), result.File)

		if result.Valid {
			fmt.Println("✅ VALID")
			for _, info := range result.Errors {
				fmt.Println("  " + info)
			}
		} else {
			fmt.Println("❌ INVALID")
			allValid = false
			for _, err := range result.Errors {
				if !strings.HasPrefix(err, "✓") {
					fmt.Println("  ❌ " + err)
				}
			}
		}
	}

	fmt.Printf("\n%s\n", strings.Repeat("=", 40))
	if allValid {
		fmt.Printf("✅ All %d games are valid!\n", len(results))
	} else {
		fmt.Println("❌ Some games have errors")
		os.Exit(1)
	}
}
