package websocket

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/tidwall/gjson"
	"github.com/wricardo/sensor-game-hub/game/catalog"
	"github.com/wricardo/sensor-game-hub/game/codes"
	"github.com/wricardo/sensor-game-hub/game/janitor"
	"github.com/wricardo/sensor-game-hub/game/room"
	"github.com/wricardo/sensor-game-hub/game/session"
	"github.com/wricardo/sensor-game-hub/metrics"
)

// Reason sent in session_ended when the other peer goes away.
const ReasonPeerDisconnected = "peer_disconnected"

// hostPlayerID identifies the host in relayed room events.
const hostPlayerID = "host"

// PlayRecorder counts plays per game.
type PlayRecorder interface {
	RecordPlay(gameID string) error
}

// Router turns inbound envelopes into state changes and outbound messages.
type Router struct {
	registry *Registry
	sessions *session.Manager
	rooms    *room.Manager
	games    PlayRecorder
	metrics  *metrics.Collector
	logger   *slog.Logger
	version  string
	now      func() time.Time

	// order is held across a state change and the replies and notices it
	// causes, so every peer sees them in the order the changes happened.
	order sync.Mutex
}

// RouterOption configures a Router.
type RouterOption func(*Router)

func WithMetrics(m *metrics.Collector) RouterOption {
	return func(r *Router) { r.metrics = m }
}

func WithLogger(logger *slog.Logger) RouterOption {
	return func(r *Router) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithVersion sets the serverVersion reported on registration.
func WithVersion(v string) RouterOption {
	return func(r *Router) { r.version = v }
}

func WithClock(now func() time.Time) RouterOption {
	return func(r *Router) {
		if now != nil {
			r.now = now
		}
	}
}

// NewRouter creates a router and installs it as the registry's handler.
func NewRouter(registry *Registry, sessions *session.Manager, rooms *room.Manager, games PlayRecorder, opts ...RouterOption) *Router {
	r := &Router{
		registry: registry,
		sessions: sessions,
		rooms:    rooms,
		games:    games,
		logger:   slog.Default(),
		version:  "dev",
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("component", "router")
	registry.SetHandler(r)
	return r
}

// HandleMessage decodes one frame from clientID and dispatches it.
// Malformed and unknown envelopes are logged and dropped.
func (r *Router) HandleMessage(clientID string, data []byte) {
	msg, err := DecodeInbound(data)
	if err != nil {
		r.logger.Warn("Dropping envelope", "clientID", clientID, "error", err)
		r.metrics.Envelope("invalid")
		return
	}
	r.metrics.Envelope(msg.envelopeType())

	switch msg.(type) {
	case *SensorSample, *RoomEvent, *RoomSensorSample, *Ping:
	default:
		r.order.Lock()
		defer r.order.Unlock()
	}

	switch m := msg.(type) {
	case *RegisterHubClient:
		r.registerHub(clientID)
	case *RegisterGameClient:
		r.registerGame(clientID, m)
	case *RegisterSensorClient:
		r.registerSensor(clientID, m)
	case *CreateSessionCode:
		r.createSessionCode(clientID, m)
	case *JoinSessionCode:
		r.joinSessionCode(clientID, m)
	case *SensorSample:
		r.relaySensorData(clientID, m)
	case *CreateRoom:
		r.createRoom(clientID, m)
	case *JoinRoom:
		r.joinRoom(clientID, m)
	case *StartGame:
		r.startGame(clientID)
	case *EndGame:
		r.endGame(clientID)
	case *LeaveRoom:
		r.leaveRoom(clientID)
	case *RoomEvent:
		r.relayRoomEvent(clientID, m)
	case *RoomSensorSample:
		r.relayRoomSensorData(clientID, m)
	case *Ping:
		r.reply(clientID, &Pong{Timestamp: m.Timestamp, ServerTime: r.millis()})
	default:
		r.logger.Error("No handler for envelope", "type", msg.envelopeType())
	}
}

// HandleDisconnect ends the client's sessions and room membership and
// tells whoever was on the other side.
func (r *Router) HandleDisconnect(clientID string) {
	r.order.Lock()
	defer r.order.Unlock()

	for _, sess := range r.sessions.EndSessionsFor(clientID) {
		peer := sess.Peer(clientID)
		r.reply(peer, &SessionEnded{SessionID: sess.ID, Reason: ReasonPeerDisconnected})
		r.logger.Info("Session ended", "sessionID", sess.ID, "clientID", clientID)
	}

	if d, ok := r.rooms.Disconnect(clientID); ok {
		r.notifyDeparture(d)
	}
}

// HandleSweep tells the members of rooms closed by the janitor.
//
// The janitor deletes rooms before calling in, so a join acked just before
// the sweep is already queued by the time the closure notices go out.
func (r *Router) HandleSweep(res janitor.Result) {
	r.order.Lock()
	defer r.order.Unlock()

	r.metrics.Swept("session_code", res.Codes)
	r.metrics.Swept("room", len(res.Rooms))
	for _, d := range res.Rooms {
		r.notifyDeparture(d)
	}
}

func (r *Router) registerHub(clientID string) {
	if !r.register(clientID, RoleObserver, nil) {
		return
	}
	r.reply(clientID, &RegistrationSuccess{
		ClientID:      clientID,
		Role:          RoleObserver,
		ServerVersion: r.version,
		Timestamp:     r.millis(),
	})
}

func (r *Router) registerGame(clientID string, m *RegisterGameClient) {
	meta := map[string]string{
		"gameId":           m.GameID,
		"gameName":         m.GameName,
		"gameType":         m.GameType,
		"requestedSensors": strings.Join(m.RequestedSensors, ","),
	}
	if !r.register(clientID, RoleProducer, meta) {
		return
	}
	r.reply(clientID, &RegistrationSuccess{
		ClientID:      clientID,
		Role:          RoleProducer,
		ServerVersion: r.version,
		GameID:        m.GameID,
		Timestamp:     r.millis(),
	})
}

func (r *Router) registerSensor(clientID string, m *RegisterSensorClient) {
	meta := map[string]string{
		"deviceId":         m.DeviceID,
		"supportedSensors": strings.Join(m.SupportedSensors, ","),
	}
	if !r.register(clientID, RoleSensor, meta) {
		return
	}
	r.reply(clientID, &RegistrationSuccess{
		ClientID:      clientID,
		Role:          RoleSensor,
		ServerVersion: r.version,
		DeviceID:      m.DeviceID,
		Timestamp:     r.millis(),
	})
}

func (r *Router) register(clientID string, role Role, meta map[string]string) bool {
	if err := r.registry.SetRole(clientID, role, meta); err != nil {
		code := errorCode(err)
		r.metrics.Rejected("register", code)
		r.reply(clientID, &RegistrationFailed{Error: err.Error(), Code: code})
		return false
	}
	r.logger.Info("Client registered", "clientID", clientID, "role", role)
	return true
}

func (r *Router) createSessionCode(clientID string, m *CreateSessionCode) {
	conn, ok := r.requireRole(clientID, RoleProducer)
	if !ok {
		r.reject(clientID, TypeCreateSessionCode, errForbidden, &SessionCodeCreated{})
		return
	}

	gameID := m.GameID
	if gameID == "" {
		gameID = conn.Metadata["gameId"]
	}

	code, err := r.sessions.CreateCode(clientID, gameID)
	if err != nil {
		r.logger.Warn("Session code allocation failed", "clientID", clientID, "error", err)
		r.reject(clientID, TypeCreateSessionCode, err, &SessionCodeCreated{GameID: gameID})
		return
	}

	r.logger.Info("Session code created", "code", code.Code, "gameID", gameID, "clientID", clientID)
	r.reply(clientID, &SessionCodeCreated{
		Success:     true,
		SessionCode: code.Code,
		GameID:      code.GameID,
		ExpiresAt:   code.ExpiresAt.UnixMilli(),
	})
}

func (r *Router) joinSessionCode(clientID string, m *JoinSessionCode) {
	conn, ok := r.requireRole(clientID, RoleSensor)
	if !ok {
		r.reject(clientID, TypeJoinSessionCode, errForbidden, &SessionJoinFailed{})
		return
	}

	// The device id is the one bound at registration.
	deviceID := conn.Metadata["deviceId"]
	if m.DeviceID != "" && m.DeviceID != deviceID {
		r.logger.Info("Session join rejected", "code", m.SessionCode, "clientID", clientID, "deviceID", m.DeviceID, "registered", deviceID)
		r.reject(clientID, TypeJoinSessionCode, errDeviceMismatch, &SessionJoinFailed{})
		return
	}

	sess, err := r.sessions.MatchCode(m.SessionCode, deviceID, clientID)
	if err != nil {
		r.logger.Info("Session join rejected", "code", m.SessionCode, "clientID", clientID, "error", err)
		r.reject(clientID, TypeJoinSessionCode, err, &SessionJoinFailed{})
		return
	}

	r.metrics.SessionMatched()
	r.recordPlay(sess.GameID)
	r.logger.Info("Sensor matched", "sessionID", sess.ID, "code", sess.Code, "deviceID", deviceID)

	r.reply(clientID, &SessionJoined{
		Success:     true,
		SessionID:   sess.ID,
		GameID:      sess.GameID,
		SessionCode: sess.Code,
	})
	r.reply(sess.ProducerConnID, &SensorMatched{
		SessionID:   sess.ID,
		DeviceID:    deviceID,
		SessionCode: sess.Code,
	})
}

// relaySensorData forwards a reading to the session's producer. Anything
// that does not come from the session's own sensor is dropped.
func (r *Router) relaySensorData(clientID string, m *SensorSample) {
	sess, err := r.sessions.Session(m.SessionID)
	if err != nil || sess.SensorConnID != clientID {
		r.logger.Debug("Dropping sensor data", "clientID", clientID, "sessionID", m.SessionID)
		r.metrics.Dropped("unauthorized")
		return
	}
	r.sessions.Touch(sess.ID)

	err = r.registry.Send(sess.ProducerConnID, &SensorDataRelay{
		SessionID:  sess.ID,
		SensorData: m.SensorData,
		Timestamp:  r.millis(),
	})
	if err != nil {
		r.logger.Debug("Sensor data not delivered", "sessionID", sess.ID, "error", err)
		return
	}
	r.metrics.Relayed(TypeSensorData)
}

func (r *Router) createRoom(clientID string, m *CreateRoom) {
	conn, ok := r.registry.Get(clientID)
	if !ok {
		return
	}
	if conn.Role != RoleProducer && conn.Role != RoleObserver {
		r.reject(clientID, TypeCreateRoom, errForbidden, &RoomCreated{})
		return
	}

	gameID := m.GameID
	if gameID == "" {
		gameID = conn.Metadata["gameId"]
	}

	settings := room.Settings{Raw: m.Settings}
	if len(m.Settings) > 0 {
		settings.MaxPlayers = int(gjson.GetBytes(m.Settings, "maxPlayers").Int())
	}

	rm, err := r.rooms.Create(clientID, gameID, settings)
	if err != nil {
		r.logger.Info("Room creation rejected", "clientID", clientID, "gameID", gameID, "error", err)
		r.reject(clientID, TypeCreateRoom, err, &RoomCreated{GameID: gameID})
		return
	}

	r.metrics.RoomCreated()
	r.logger.Info("Room created", "roomID", rm.ID, "gameID", gameID, "maxPlayers", rm.MaxPlayers)
	r.reply(clientID, &RoomCreated{
		Success:    true,
		RoomID:     rm.ID,
		Password:   rm.Password,
		GameID:     rm.GameID,
		MaxPlayers: rm.MaxPlayers,
	})
}

func (r *Router) joinRoom(clientID string, m *JoinRoom) {
	conn, ok := r.requireRole(clientID, RoleSensor)
	if !ok {
		r.reject(clientID, TypeJoinRoom, errForbidden, &RoomJoinFailed{})
		return
	}

	deviceID := m.DeviceID
	if deviceID == "" {
		deviceID = conn.Metadata["deviceId"]
	}

	joined, err := r.rooms.Join(m.Password, room.PlayerInfo{
		ConnID:   clientID,
		Nickname: m.Nickname,
		DeviceID: deviceID,
	})
	if err != nil {
		r.logger.Info("Room join rejected", "clientID", clientID, "error", err)
		r.reject(clientID, TypeJoinRoom, err, &RoomJoinFailed{})
		return
	}

	rm := joined.Room
	r.logger.Info("Player joined room", "roomID", rm.ID, "playerID", joined.Player.ID, "players", rm.CurrentPlayers)

	r.reply(clientID, &RoomJoined{
		Success:        true,
		RoomID:         rm.ID,
		PlayerID:       joined.Player.ID,
		CurrentPlayers: rm.CurrentPlayers,
		RoomData:       newRoomSnapshot(rm),
	})

	others := make([]string, 0, rm.CurrentPlayers)
	for _, id := range rm.Participants() {
		if id != clientID {
			others = append(others, id)
		}
	}
	r.registry.Broadcast(others, &PlayerJoined{
		RoomID:         rm.ID,
		PlayerID:       joined.Player.ID,
		Nickname:       joined.Player.Nickname,
		CurrentPlayers: rm.CurrentPlayers,
	})
}

func (r *Router) startGame(clientID string) {
	rm, err := r.rooms.Start(clientID)
	if err != nil {
		r.logger.Info("Game start rejected", "clientID", clientID, "error", err)
		r.reject(clientID, TypeStartGame, err, &GameStartFailed{})
		return
	}

	r.recordPlay(rm.GameID)
	r.logger.Info("Room game started", "roomID", rm.ID, "players", rm.CurrentPlayers)
	r.registry.Broadcast(rm.Participants(), &GameStart{GameID: rm.GameID, RoomID: rm.ID})
}

func (r *Router) endGame(clientID string) {
	rm, err := r.rooms.Finish(clientID)
	if err != nil {
		r.reject(clientID, TypeEndGame, err, &ErrorReply{Request: TypeEndGame})
		return
	}

	r.logger.Info("Room game finished", "roomID", rm.ID)
	r.registry.Broadcast(rm.Participants(), &GameEnd{GameID: rm.GameID, RoomID: rm.ID})
}

func (r *Router) leaveRoom(clientID string) {
	d, err := r.rooms.Leave(clientID)
	if err != nil {
		r.reject(clientID, TypeLeaveRoom, err, &ErrorReply{Request: TypeLeaveRoom})
		return
	}
	r.notifyDeparture(d)
}

func (r *Router) relayRoomEvent(clientID string, m *RoomEvent) {
	peers, err := r.rooms.Peers(clientID)
	if err != nil {
		r.reject(clientID, TypeMultiplayerEvent, err, &ErrorReply{Request: TypeMultiplayerEvent})
		return
	}

	playerID := peers.PlayerID
	if peers.IsHost {
		playerID = hostPlayerID
	}

	n := r.registry.Broadcast(peers.Others, &RoomEventRelay{
		RoomID:    peers.Room.ID,
		PlayerID:  playerID,
		EventType: m.EventType,
		EventData: m.EventData,
		Timestamp: r.millis(),
	})
	if n > 0 {
		r.metrics.Relayed(TypeMultiplayerEvent)
	}
}

// relayRoomSensorData forwards a member's reading to the room host.
func (r *Router) relayRoomSensorData(clientID string, m *RoomSensorSample) {
	peers, err := r.rooms.Peers(clientID)
	if err != nil || peers.IsHost {
		r.logger.Debug("Dropping room sensor data", "clientID", clientID)
		r.metrics.Dropped("unauthorized")
		return
	}

	err = r.registry.Send(peers.Room.HostConnID, &RoomSensorRelay{
		RoomID:     peers.Room.ID,
		PlayerID:   peers.PlayerID,
		SensorData: m.SensorData,
		Timestamp:  r.millis(),
	})
	if err != nil {
		r.logger.Debug("Room sensor data not delivered", "roomID", peers.Room.ID, "error", err)
		return
	}
	r.metrics.Relayed(TypeMultiplayerSensorData)
}

// notifyDeparture sends room_closed or player_left to the recipients.
func (r *Router) notifyDeparture(d room.Departure) {
	if d.Closed {
		r.logger.Info("Room closed", "roomID", d.Room.ID, "reason", d.Reason, "notified", len(d.Recipients))
		r.registry.Broadcast(d.Recipients, &RoomClosed{RoomID: d.Room.ID, Reason: d.Reason})
		return
	}

	r.logger.Info("Player left room", "roomID", d.Room.ID, "playerID", d.Player.ID)
	r.registry.Broadcast(d.Recipients, &PlayerLeft{
		RoomID:         d.Room.ID,
		PlayerID:       d.Player.ID,
		Nickname:       d.Player.Nickname,
		CurrentPlayers: d.Room.CurrentPlayers,
	})
}

func (r *Router) requireRole(clientID string, role Role) (Connection, bool) {
	conn, ok := r.registry.Get(clientID)
	if !ok || conn.Role != role {
		return conn, false
	}
	return conn, true
}

// reply sends msg to one connection. An unreachable peer is not an error.
func (r *Router) reply(clientID string, msg Outbound) {
	if err := r.registry.Send(clientID, msg); err != nil {
		r.logger.Debug("Reply not delivered", "clientID", clientID, "error", err)
	}
}

// reject fills the failure fields of msg from err and sends it.
func (r *Router) reject(clientID, request string, err error, msg Outbound) {
	code := errorCode(err)
	text := err.Error()

	switch m := msg.(type) {
	case *SessionCodeCreated:
		m.Success, m.Error, m.Code = false, text, code
	case *SessionJoinFailed:
		m.Error, m.Code = text, code
	case *RoomCreated:
		m.Success, m.Error, m.Code = false, text, code
	case *RoomJoinFailed:
		m.Error, m.Code = text, code
	case *GameStartFailed:
		m.Error, m.Code = text, code
	case *ErrorReply:
		m.Error, m.Code = text, code
	}

	r.metrics.Rejected(request, code)
	r.reply(clientID, msg)
}

func (r *Router) recordPlay(gameID string) {
	if r.games == nil || gameID == "" {
		return
	}
	if err := r.games.RecordPlay(gameID); err != nil {
		r.logger.Debug("Play not recorded", "gameID", gameID, "error", err)
	}
}

func (r *Router) millis() int64 {
	return r.now().UnixMilli()
}

var (
	errForbidden      = errors.New("connection role does not permit this request")
	errDeviceMismatch = fmt.Errorf("%w: device id differs from registration", errForbidden)
)

// errorCode maps domain errors to the stable codes sent to clients.
func errorCode(err error) string {
	switch {
	case errors.Is(err, errForbidden):
		return "forbidden"
	case errors.Is(err, ErrRoleConflict):
		return "role_conflict"
	case errors.Is(err, ErrPeerUnreachable):
		return "peer_unreachable"
	case errors.Is(err, codes.ErrExhausted):
		return "resource_exhausted"
	case errors.Is(err, session.ErrCodeNotFound):
		return "not_found"
	case errors.Is(err, session.ErrCodeExpired):
		return "expired"
	case errors.Is(err, session.ErrCodeAlreadyMatched):
		return "already_matched"
	case errors.Is(err, session.ErrDeviceInSession):
		return "device_in_session"
	case errors.Is(err, session.ErrSensorInSession):
		return "sensor_in_session"
	case errors.Is(err, catalog.ErrGameNotFound):
		return "game_not_found"
	case errors.Is(err, room.ErrInvalidPassword):
		return "invalid_password"
	case errors.Is(err, room.ErrRoomNotFound):
		return "room_not_found"
	case errors.Is(err, room.ErrRoomFull):
		return "room_full"
	case errors.Is(err, room.ErrRoomNotWaiting):
		return "room_not_waiting"
	case errors.Is(err, room.ErrNotHost):
		return "not_host"
	case errors.Is(err, room.ErrAlreadyHosting):
		return "already_hosting"
	case errors.Is(err, room.ErrAlreadyInRoom):
		return "already_in_room"
	case errors.Is(err, room.ErrNotInRoom):
		return "not_in_room"
	case errors.Is(err, room.ErrNotPlaying):
		return "not_playing"
	default:
		return "internal"
	}
}
