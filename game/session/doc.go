// Package session pairs a game screen with a phone through a session code.
//
// A producer (the game) asks for a code; the code is shown on screen and
// typed into a sensor device, which then matches it. Each code moves
// through a small lifecycle:
//
//	waiting --match--> matched
//	waiting --ttl----> expired (deleted)
//
// A successful match creates exactly one Session linking the producer
// connection to the sensor connection. Matched codes are kept until their
// TTL elapses so they can still be inspected; only the expiry sweep
// removes codes.
//
// Concurrency:
//
// Manager guards its maps with a single mutex held for the whole
// check-then-act sequence of each operation, so two sensors racing for the
// same code cannot both succeed.
//
// Usage:
//
//	manager := session.NewManager(codes.NewAllocator())
//
//	code, err := manager.CreateCode(producerID, "racing")
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	sess, err := manager.MatchCode(code.Code, "device-1", sensorID)
//	switch {
//	case errors.Is(err, session.ErrCodeExpired):
//	case errors.Is(err, session.ErrCodeAlreadyMatched):
//	}
package session
