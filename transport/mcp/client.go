package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/wricardo/sensor-game-hub/game/catalog"
	"github.com/wricardo/sensor-game-hub/game/service"
)

// Client is a thin MCP client that proxies to the REST API
type Client struct {
	baseURL    string
	version    string
	httpClient *http.Client
	mcpServer  *server.MCPServer
}

// NewClient creates a new MCP client that calls the REST API
func NewClient(baseURL, version string) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		version: version,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}

	c.initMCPServer()
	return c
}

// initMCPServer initializes the MCP server with all tools
func (c *Client) initMCPServer() {
	c.mcpServer = server.NewMCPServer(
		"Sensor Game Hub",
		c.version,
		server.WithToolCapabilities(true),
		server.WithInstructions(`Sensor Game Hub - MCP Interface

This is a thin client that proxies all requests to the hub's read-only REST API.

The hub pairs phones (sensors) with games (producers) through 4-digit session
codes and hosts multiplayer rooms joined with a 4-digit password. These tools
let you inspect it; they never change its state.

AVAILABLE TOOLS:
- list_games: List active games, most played first
- get_game: Get one game's manifest and play count
- list_rooms: List multiplayer rooms waiting for players
- session_code_info: Inspect a session code (waiting, matched or expired)
- server_status: Connection, session and room counts plus memory
- protocol_reference: The WebSocket message types clients exchange with the hub`),
	)

	// Register all tools
	c.registerTools()
}

// registerTools registers all MCP tools
func (c *Client) registerTools() {
	// Catalog
	c.mcpServer.AddTool(mcp.Tool{
		Name:        "list_games",
		Description: "List the active games in the catalog, most played first",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}, c.handleListGames)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "get_game",
		Description: "Get details of a specific game",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"game_id": map[string]interface{}{
					"type":        "string",
					"description": "Game ID to retrieve",
				},
			},
			Required: []string{"game_id"},
		},
	}, c.handleGetGame)

	// Rooms and codes
	c.mcpServer.AddTool(mcp.Tool{
		Name:        "list_rooms",
		Description: "List multiplayer rooms that are waiting for players",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}, c.handleListRooms)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "session_code_info",
		Description: "Look up a 4-digit session code and its join link",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"session_code": map[string]interface{}{
					"type":        "string",
					"description": "The 4-digit session code",
					"pattern":     "^[0-9]{4}$",
				},
			},
			Required: []string{"session_code"},
		},
	}, c.handleSessionCodeInfo)

	// Server
	c.mcpServer.AddTool(mcp.Tool{
		Name:        "server_status",
		Description: "Get aggregate server status: uptime, clients, sessions, rooms and memory",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}, c.handleServerStatus)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "protocol_reference",
		Description: "Describe the WebSocket envelopes clients exchange with the hub",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}, c.handleProtocolReference)
}

// GetMCPServer returns the underlying MCP server for serving
func (c *Client) GetMCPServer() *server.MCPServer {
	return c.mcpServer
}

// Helper methods for API calls

func (c *Client) apiCall(ctx context.Context, method, path string, body interface{}, result interface{}) error {
	endpoint := c.baseURL + path

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reqBody = bytes.NewBuffer(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reqBody)
	if err != nil {
		return err
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var errResp map[string]string
		json.NewDecoder(resp.Body).Decode(&errResp)
		if msg, ok := errResp["error"]; ok {
			return fmt.Errorf("%s", msg)
		}
		return fmt.Errorf("API error: %d", resp.StatusCode)
	}

	if result != nil {
		return json.NewDecoder(resp.Body).Decode(result)
	}

	return nil
}

func stringArg(request mcp.CallToolRequest, name string) string {
	args, _ := request.Params.Arguments.(map[string]interface{})
	value, _ := args[name].(string)
	return strings.TrimSpace(value)
}

// Tool handlers

func (c *Client) handleListGames(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var response struct {
		Count int            `json:"count"`
		Games []catalog.Game `json:"games"`
	}

	err := c.apiCall(ctx, "GET", "/api/games", nil, &response)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	if response.Count == 0 {
		return mcp.NewToolResultText("No active games in the catalog"), nil
	}

	var result strings.Builder
	fmt.Fprintf(&result, "Active Games (%d):\n\n", response.Count)
	for _, g := range response.Games {
		fmt.Fprintf(&result, "- %s (%s, %s, played %d times)\n", g.ID, g.Name, gameTypeLabel(g), g.PlayCount)
	}

	return mcp.NewToolResultText(result.String()), nil
}

func (c *Client) handleGetGame(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	gameID := stringArg(request, "game_id")
	if gameID == "" {
		return mcp.NewToolResultError("game_id is required"), nil
	}

	var game catalog.Game
	err := c.apiCall(ctx, "GET", "/api/games/"+url.PathEscape(gameID), nil, &game)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	return mcp.NewToolResultText(formatGame(&game)), nil
}

func (c *Client) handleListRooms(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var response struct {
		Count int                   `json:"count"`
		Rooms []service.RoomSummary `json:"rooms"`
	}

	err := c.apiCall(ctx, "GET", "/api/rooms", nil, &response)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	if response.Count == 0 {
		return mcp.NewToolResultText("No rooms are waiting for players"), nil
	}

	var result strings.Builder
	fmt.Fprintf(&result, "Waiting Rooms (%d):\n\n", response.Count)
	for _, r := range response.Rooms {
		fmt.Fprintf(&result, "- %s (Game: %s, Players: %d/%d, Created: %s)\n",
			r.RoomID, r.GameID, r.CurrentPlayers, r.MaxPlayers, r.CreatedAt.Format("15:04:05"))
	}

	return mcp.NewToolResultText(result.String()), nil
}

func (c *Client) handleSessionCodeInfo(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	code := stringArg(request, "session_code")
	if code == "" {
		return mcp.NewToolResultError("session_code is required"), nil
	}

	var info service.CodeInfo
	err := c.apiCall(ctx, "GET", "/api/session-codes/"+url.PathEscape(code), nil, &info)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	return mcp.NewToolResultText(formatCodeInfo(&info)), nil
}

func (c *Client) handleServerStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var status service.StatusInfo
	err := c.apiCall(ctx, "GET", "/api/status", nil, &status)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	return mcp.NewToolResultText(formatStatus(&status)), nil
}

func (c *Client) handleProtocolReference(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	reference := `Sensor Game Hub - WebSocket Protocol

Connect to /ws. Every frame is one JSON object with a string "type".

REGISTRATION (first message):
• register_hub_client {}                                  → registration_success (role observer)
• register_game_client {gameId, gameName?, requestedSensors?} → registration_success (role producer)
• register_sensor_client {deviceId, supportedSensors?}       → registration_success (role sensor)

SINGLE PLAYER (producer + one sensor):
• producer: create_session_code {gameId?}  → session_code_created {sessionCode, expiresAt}
• sensor:   join_session_code {sessionCode} → session_joined {sessionId}; producer gets sensor_matched
• sensor:   sensor_data {sessionId, sensorData} → producer gets sensor_data
• either peer disconnecting → the other gets session_ended

MULTIPLAYER ROOMS:
• host:   create_room {gameId, settings?}  → room_created {roomId, password, maxPlayers}
• sensor: join_room {password, nickname}   → room_joined; everyone else gets player_joined
• host:   start_game / end_game            → game_start / game_end to every participant
• any:    multiplayer_event {eventType, eventData} → the other participants
• member: multiplayer_sensor_data {sensorData}     → the host
• member: leave_room → player_left; host leaving or disconnecting → room_closed

FAILURES carry "error" and a machine "code", for example:
not_found, expired, already_matched, device_in_session, sensor_in_session, invalid_password,
room_full, room_not_waiting, not_host, resource_exhausted, forbidden.

KEEPALIVE:
• ping {timestamp} → pong {timestamp, serverTime}`

	return mcp.NewToolResultText(reference), nil
}

// Formatting helpers

func gameTypeLabel(g catalog.Game) string {
	if g.GameType == "" {
		return catalog.TypeSingle
	}
	return g.GameType
}

func formatGame(g *catalog.Game) string {
	var result strings.Builder
	fmt.Fprintf(&result, "Game: %s\nID: %s\nType: %s\n", g.Name, g.ID, gameTypeLabel(*g))
	if g.Description != "" {
		fmt.Fprintf(&result, "Description: %s\n", g.Description)
	}
	if g.Category != "" {
		fmt.Fprintf(&result, "Category: %s\n", g.Category)
	}
	if len(g.Sensors) > 0 {
		fmt.Fprintf(&result, "Sensors: %s\n", strings.Join(g.Sensors, ", "))
	}
	if g.MaxPlayers > 0 {
		fmt.Fprintf(&result, "Players: %d-%d\n", max(g.MinPlayers, 1), g.MaxPlayers)
	}
	fmt.Fprintf(&result, "Active: %t\nPlay count: %d\n", g.IsActive, g.PlayCount)
	return result.String()
}

func formatCodeInfo(info *service.CodeInfo) string {
	var result strings.Builder
	fmt.Fprintf(&result, "Session code: %s\nGame: %s\nStatus: %s\n", info.Code, info.GameID, info.Status)
	fmt.Fprintf(&result, "Created: %s\nExpires: %s\n",
		info.CreatedAt.Format("2006-01-02 15:04:05"),
		info.ExpiresAt.Format("2006-01-02 15:04:05"))
	if info.JoinURL != "" {
		fmt.Fprintf(&result, "Join link: %s\n", info.JoinURL)
	}
	return result.String()
}

func formatStatus(s *service.StatusInfo) string {
	var result strings.Builder
	fmt.Fprintf(&result, "Uptime: %s\n", s.Uptime)
	fmt.Fprintf(&result, "Games: %d\n", s.TotalGames)
	fmt.Fprintf(&result, "Connected clients: %d\n", s.ConnectedClients)
	for _, role := range []string{"producer", "sensor", "observer", "unassigned"} {
		if n := s.ClientsByRole[role]; n > 0 {
			fmt.Fprintf(&result, "  %s: %d\n", role, n)
		}
	}
	fmt.Fprintf(&result, "Waiting session codes: %d\n", s.ActiveSessionCodes)
	fmt.Fprintf(&result, "Active sessions: %d\n", s.ActiveSessions)
	for _, id := range slices.Sorted(maps.Keys(s.SessionsByGame)) {
		fmt.Fprintf(&result, "  %s: %d\n", id, s.SessionsByGame[id])
	}
	fmt.Fprintf(&result, "Recently used session codes: %d\n", s.RecentSessionCodes)
	fmt.Fprintf(&result, "Rooms: %d\n", s.ActiveRooms)
	fmt.Fprintf(&result, "Memory: %.1f MiB allocated, %d goroutines\n",
		float64(s.Memory.AllocBytes)/(1<<20), s.Memory.Goroutines)
	return result.String()
}
