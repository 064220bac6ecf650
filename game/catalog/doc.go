// Package catalog keeps the list of games the hub can serve.
//
// Games are discovered from a directory tree where every game lives in its
// own folder with a game.json manifest:
//
//	games/
//	  sensor-race/
//	    game.json
//	  tilt-maze/
//	    game.json
//
// Loaded games start active with a zero play count. The play count grows
// whenever a session is matched or a room starts for the game, and game
// listings are ordered by it, most played first.
//
// Usage:
//
//	cat, err := catalog.NewManager("games", logger)
//	if err != nil {
//		log.Fatal(err)
//	}
//	games := cat.List()
package catalog
