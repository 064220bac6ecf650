// Package codes allocates the short numeric codes that people type on their
// phones to reach a game.
//
// Two namespaces are tracked independently:
//   - SessionCodes pair one game screen with one sensor device
//   - RoomPasswords admit players into a multiplayer room
//
// Codes are four digits drawn uniformly from 1000-9999. A code is unique
// among the live codes of its namespace. Session codes additionally pass
// through a bounded recently-used set so a code that just expired is not
// handed to another game right away; room passwords may be reused as soon
// as their room is gone.
//
// Usage:
//
//	alloc := codes.NewAllocator()
//	code, err := alloc.Allocate(codes.SessionCodes)
//	if errors.Is(err, codes.ErrExhausted) {
//		// namespace saturated
//	}
//	defer alloc.Release(codes.SessionCodes, code)
package codes
