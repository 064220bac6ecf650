// Package mcp provides a Model Context Protocol server for the sensor game hub.
//
// The mcp package implements:
//   - MCP server for AI agent integration
//   - Read-only tools proxying the hub's REST API
//   - Stdio and HTTP transport modes
//
// MCP Tools:
//
// The package exposes the following tools for AI agents:
//   - list_games: List active games, most played first
//   - get_game: Get one game's details
//   - list_rooms: List rooms waiting for players
//   - session_code_info: Inspect a session code and its join link
//   - server_status: Aggregate counts, uptime and memory
//   - protocol_reference: The WebSocket envelopes clients exchange
//
// Transport Modes:
//
// The server supports two transport modes:
//   - Stdio: Direct stdio communication for local MCP clients
//   - HTTP: POST /mcp on the main server
//
// Usage:
//
//	client := mcp.NewClient("http://localhost:8080", Version)
//
//	// Stdio mode
//	server.ServeStdio(client.GetMCPServer())
//
//	// HTTP mode
//	response := client.GetMCPServer().HandleMessage(ctx, body)
package mcp
