// Package websocket provides the WebSocket transport of the sensor game hub.
//
// The websocket package implements:
//   - The connection registry with per-connection role and metadata
//   - Read and write pumps with ping/pong keepalive
//   - The JSON envelope codec for every inbound and outbound message
//   - The router that turns envelopes into session and room operations
//   - Inbound rate limiting and browser origin checks
//
// Architecture:
//
// Every connection gets an id, a bounded send queue and two goroutines.
// The read pump hands each frame to the Router inline, so the frames of one
// connection are handled in arrival order. The write pump drains the send
// queue, one JSON object per frame. Sends never block: when a peer's queue
// is full the frame is dropped and counted.
//
// Registration, session and room requests, disconnects and janitor sweeps
// are serialized by the Router, and each one queues its replies and notices
// before the next begins. A client therefore never sees room_closed or
// session_ended ahead of the join ack for that room or session. Relayed
// sensor and event frames skip this lock.
//
// Message Protocol:
//
// Every frame is a JSON object with a string "type" field. Clients first
// register as a hub observer, a game producer or a sensor:
//   - {"type": "register_game_client", "gameId": "tilt-party"}
//   - {"type": "register_sensor_client", "deviceId": "phone-1"}
//
// A producer asks for a four digit session code, the sensor joins it, and
// from then on sensor_data frames flow to the producer. Multiplayer games
// use rooms: a host creates one, sensors join with the room password, and
// multiplayer_event frames fan out to the other participants.
//
// Failed requests are answered with the matching *_failed message (or a
// generic "error" message) carrying a human readable error and a stable
// machine code such as "room_full" or "expired".
//
// Usage:
//
//	registry := websocket.NewRegistry(websocket.DefaultOptions(), logger, collector)
//	router := websocket.NewRouter(registry, sessions, rooms, games,
//	    websocket.WithLogger(logger),
//	    websocket.WithVersion(Version),
//	)
//	mux.HandleFunc("/ws", registry.ServeWS)
//
// On shutdown call registry.Shutdown to close every connection.
package websocket
