// Package service provides the read-only query layer of the sensor game hub.
//
// The service package implements:
//   - Game catalog listing and lookup
//   - Waiting room listing (without passwords)
//   - Session code inspection and sensor join links
//   - Health and aggregate status reporting
//
// Core Interfaces:
//
// HubService is the query interface used by the REST API and, through the
// API, by the MCP tools. GameCatalog, SessionStore, RoomStore and
// ConnectionCounter are the narrow views it needs of the live components.
//
// Architecture:
//
// The service layer sits between the HTTP/MCP surfaces and the relay core.
// It never mutates state; everything it returns is a snapshot taken under
// the owning component's lock.
//
// Usage:
//
//	hub := service.NewHubService(games, sessions, rooms, registry, service.Options{
//		Version:   Version,
//		PublicURL: cfg.Server.PublicURL,
//	})
//
//	status, err := hub.Status(ctx)
//	if err != nil {
//		log.Fatal(err)
//	}
package service
