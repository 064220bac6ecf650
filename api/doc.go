// Package api provides the HTTP surface of the sensor game hub.
//
// The api package implements:
//   - Read-only REST endpoints over the hub service
//   - QR codes linking a phone to a waiting session code
//   - Prometheus metrics exposition
//   - WebSocket upgrade handling
//
// Endpoints:
//
// Health:
//   - GET /health - Liveness, version, uptime and headline counts
//
// Catalog:
//   - GET /api/games - List active games, most played first
//   - GET /api/games/{id} - Get one game
//
// Rooms and Session Codes:
//   - GET /api/rooms - List rooms waiting for players
//   - GET /api/session-codes/{code} - Inspect a session code
//   - GET /api/session-codes/{code}/qr - PNG QR code of the sensor join link
//
// Status:
//   - GET /api/status - Aggregate counts and memory
//
// Other:
//   - GET /metrics - Prometheus metrics
//   - GET /ws - WebSocket upgrade for producers, sensors and observers
//
// Error Handling:
//
// Errors are returned as {"error": "message"} with 404 for unknown games
// and codes, 409 for a QR request on a code that is no longer waiting and
// 400 for bad query parameters.
//
// Usage:
//
//	apiServer := api.NewServer(hubService, registry, collector, api.Options{
//		PublicURL: cfg.Server.PublicURL,
//		Logger:    logger,
//	})
//	http.ListenAndServe(":8080", apiServer)
package api
