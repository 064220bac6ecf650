package websocket

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/tidwall/gjson"
	"github.com/wricardo/sensor-game-hub/game/catalog"
	"github.com/wricardo/sensor-game-hub/game/codes"
	"github.com/wricardo/sensor-game-hub/game/janitor"
	"github.com/wricardo/sensor-game-hub/game/room"
	"github.com/wricardo/sensor-game-hub/game/session"
	"github.com/wricardo/sensor-game-hub/metrics"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type harness struct {
	registry *Registry
	router   *Router
	sessions *session.Manager
	rooms    *room.Manager
	alloc    *codes.Allocator
	games    *catalog.Manager
	metrics  *metrics.Collector
	clock    *testClock
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	clock := &testClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	games := catalog.NewEmpty(testLogger())
	for _, g := range []catalog.Game{
		{ID: "sensor-race", Name: "Sensor Race", GameType: catalog.TypeSingle, IsActive: true},
		{ID: "tilt-party", Name: "Tilt Party", GameType: catalog.TypeMultiplayer, MaxPlayers: 4, IsActive: true},
	} {
		if err := games.Register(g); err != nil {
			t.Fatalf("Failed to register game: %v", err)
		}
	}

	alloc := codes.NewAllocator()
	collector := metrics.New()
	h := &harness{
		registry: NewRegistry(DefaultOptions(), testLogger(), collector),
		sessions: session.NewManager(alloc, session.WithClock(clock.Now)),
		rooms:    room.NewManager(alloc, games, room.WithClock(clock.Now)),
		alloc:    alloc,
		games:    games,
		metrics:  collector,
		clock:    clock,
	}
	h.router = NewRouter(h.registry, h.sessions, h.rooms, games,
		WithMetrics(collector),
		WithLogger(testLogger()),
		WithVersion("test"),
		WithClock(clock.Now),
	)
	return h
}

// connect registers a socketless client.
func (h *harness) connect() *Client {
	return h.registry.Register(nil, "test")
}

func (h *harness) send(c *Client, format string, args ...any) {
	h.router.HandleMessage(c.id, []byte(fmt.Sprintf(format, args...)))
}

func (h *harness) producer(t *testing.T, gameID string) *Client {
	t.Helper()
	c := h.connect()
	h.send(c, `{"type":"register_game_client","gameId":%q}`, gameID)
	expectType(t, c, TypeRegistrationSuccess)
	return c
}

func (h *harness) sensor(t *testing.T, deviceID string) *Client {
	t.Helper()
	c := h.connect()
	h.send(c, `{"type":"register_sensor_client","deviceId":%q}`, deviceID)
	expectType(t, c, TypeRegistrationSuccess)
	return c
}

// next returns the next frame queued for c.
func next(t *testing.T, c *Client) gjson.Result {
	t.Helper()
	select {
	case frame, ok := <-c.send:
		if !ok {
			t.Fatal("Send queue closed")
		}
		return gjson.ParseBytes(frame)
	default:
		t.Fatal("Expected a queued frame, found none")
	}
	return gjson.Result{}
}

func expectType(t *testing.T, c *Client, want string) gjson.Result {
	t.Helper()
	msg := next(t, c)
	if got := msg.Get("type").String(); got != want {
		t.Fatalf("Expected %s, got %s", want, msg.Raw)
	}
	return msg
}

func expectNothing(t *testing.T, c *Client) {
	t.Helper()
	select {
	case frame := <-c.send:
		t.Fatalf("Expected no frame, got %s", frame)
	default:
	}
}

func (h *harness) sessionCode(t *testing.T, producer *Client) string {
	t.Helper()
	h.send(producer, `{"type":"create_session_code"}`)
	return expectType(t, producer, TypeSessionCodeCreated).Get("sessionCode").String()
}

func (h *harness) match(t *testing.T, producer, sensor *Client, deviceID string) string {
	t.Helper()
	code := h.sessionCode(t, producer)
	h.send(sensor, `{"type":"join_session_code","sessionCode":%q,"deviceId":%q}`, code, deviceID)
	joined := expectType(t, sensor, TypeSessionJoined)
	expectType(t, producer, TypeSensorMatched)
	return joined.Get("sessionId").String()
}

func TestRouter_Registration(t *testing.T) {
	h := newHarness(t)

	hub := h.connect()
	h.send(hub, `{"type":"register_hub_client"}`)
	msg := expectType(t, hub, TypeRegistrationSuccess)
	if msg.Get("role").String() != string(RoleObserver) || msg.Get("serverVersion").String() != "test" {
		t.Errorf("Unexpected reply: %s", msg.Raw)
	}
	if msg.Get("clientId").String() != hub.id {
		t.Errorf("Expected clientId %s, got %s", hub.id, msg.Get("clientId"))
	}

	game := h.connect()
	h.send(game, `{"type":"register_game_client","gameId":"sensor-race","requestedSensors":["orientation","motion"]}`)
	msg = expectType(t, game, TypeRegistrationSuccess)
	if msg.Get("gameId").String() != "sensor-race" {
		t.Errorf("Expected gameId echoed, got %s", msg.Raw)
	}
	conn, _ := h.registry.Get(game.id)
	if conn.Role != RoleProducer || conn.Metadata["requestedSensors"] != "orientation,motion" {
		t.Errorf("Unexpected connection state: %+v", conn)
	}

	phone := h.connect()
	h.send(phone, `{"type":"register_sensor_client","deviceId":"phone-1"}`)
	msg = expectType(t, phone, TypeRegistrationSuccess)
	if msg.Get("deviceId").String() != "phone-1" || msg.Get("role").String() != string(RoleSensor) {
		t.Errorf("Unexpected reply: %s", msg.Raw)
	}
}

func TestRouter_RegistrationRoleConflict(t *testing.T) {
	h := newHarness(t)
	c := h.sensor(t, "phone-1")

	h.send(c, `{"type":"register_game_client","gameId":"sensor-race"}`)
	msg := expectType(t, c, TypeRegistrationFailed)
	if msg.Get("code").String() != "role_conflict" {
		t.Errorf("Expected role_conflict, got %s", msg.Raw)
	}

	conn, _ := h.registry.Get(c.id)
	if conn.Role != RoleSensor {
		t.Errorf("Role should be unchanged, got %s", conn.Role)
	}
}

func TestRouter_SessionFlow(t *testing.T) {
	h := newHarness(t)
	producer := h.producer(t, "sensor-race")
	phone := h.sensor(t, "phone-1")

	h.send(producer, `{"type":"create_session_code"}`)
	created := expectType(t, producer, TypeSessionCodeCreated)
	code := created.Get("sessionCode").String()
	if !created.Get("success").Bool() || len(code) != 4 {
		t.Fatalf("Unexpected reply: %s", created.Raw)
	}
	if created.Get("gameId").String() != "sensor-race" {
		t.Errorf("Expected game id from registration, got %s", created.Raw)
	}
	wantExpiry := h.clock.Now().Add(session.DefaultCodeTTL).UnixMilli()
	if created.Get("expiresAt").Int() != wantExpiry {
		t.Errorf("Expected expiresAt %d, got %d", wantExpiry, created.Get("expiresAt").Int())
	}

	h.send(phone, `{"type":"join_session_code","sessionCode":%q,"deviceId":"phone-1"}`, code)
	joined := expectType(t, phone, TypeSessionJoined)
	sessionID := joined.Get("sessionId").String()
	if sessionID == "" || joined.Get("sessionCode").String() != code {
		t.Fatalf("Unexpected reply: %s", joined.Raw)
	}

	matched := expectType(t, producer, TypeSensorMatched)
	if matched.Get("sessionId").String() != sessionID || matched.Get("deviceId").String() != "phone-1" {
		t.Errorf("Unexpected notice: %s", matched.Raw)
	}

	h.send(phone, `{"type":"sensor_data","sessionId":%q,"sensorData":{"orientation":{"beta":12.5}}}`, sessionID)
	relay := expectType(t, producer, TypeSensorData)
	if relay.Get("sensorData.orientation.beta").Float() != 12.5 {
		t.Errorf("Payload not relayed verbatim: %s", relay.Raw)
	}
	if relay.Get("timestamp").Int() != h.clock.Now().UnixMilli() {
		t.Errorf("Expected server timestamp, got %s", relay.Raw)
	}
	expectNothing(t, phone)

	game, _ := h.games.Get("sensor-race")
	if game.PlayCount != 1 {
		t.Errorf("Expected play count 1, got %d", game.PlayCount)
	}
}

func TestRouter_SensorDataFromStrangerDropped(t *testing.T) {
	h := newHarness(t)
	producer := h.producer(t, "sensor-race")
	phone := h.sensor(t, "phone-1")
	sessionID := h.match(t, producer, phone, "phone-1")

	stranger := h.sensor(t, "phone-2")
	h.send(stranger, `{"type":"sensor_data","sessionId":%q,"sensorData":{}}`, sessionID)
	h.send(producer, `{"type":"sensor_data","sessionId":%q,"sensorData":{}}`, sessionID)
	h.send(phone, `{"type":"sensor_data","sessionId":"unknown","sensorData":{}}`)

	expectNothing(t, producer)
	expectNothing(t, stranger)
	expectNothing(t, phone)
}

func TestRouter_JoinSessionCodeFailures(t *testing.T) {
	h := newHarness(t)
	producer := h.producer(t, "sensor-race")
	code := h.sessionCode(t, producer)

	first := h.sensor(t, "phone-1")
	h.send(first, `{"type":"join_session_code","sessionCode":%q,"deviceId":"phone-1"}`, code)
	expectType(t, first, TypeSessionJoined)
	expectType(t, producer, TypeSensorMatched)

	tests := []struct {
		name     string
		client   func() *Client
		code     string
		deviceID string
		wantCode string
	}{
		{"unknown code", func() *Client { return h.sensor(t, "phone-2") }, "0000", "phone-2", "not_found"},
		{"already matched", func() *Client { return h.sensor(t, "phone-3") }, code, "phone-3", "already_matched"},
		{"producer may not join", func() *Client { return h.producer(t, "sensor-race") }, code, "x", "forbidden"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := tt.client()
			h.send(c, `{"type":"join_session_code","sessionCode":%q,"deviceId":%q}`, tt.code, tt.deviceID)
			msg := expectType(t, c, TypeSessionJoinFailed)
			if msg.Get("code").String() != tt.wantCode {
				t.Errorf("Expected %s, got %s", tt.wantCode, msg.Raw)
			}
			if msg.Get("error").String() == "" {
				t.Error("Expected a human readable error")
			}
		})
	}
	expectNothing(t, producer)
}

func TestRouter_JoinExpiredCode(t *testing.T) {
	h := newHarness(t)
	producer := h.producer(t, "sensor-race")
	code := h.sessionCode(t, producer)

	h.clock.Advance(session.DefaultCodeTTL)

	phone := h.sensor(t, "phone-1")
	h.send(phone, `{"type":"join_session_code","sessionCode":%q,"deviceId":"phone-1"}`, code)
	msg := expectType(t, phone, TypeSessionJoinFailed)
	if msg.Get("code").String() != "expired" {
		t.Errorf("Expected expired, got %s", msg.Raw)
	}
	expectNothing(t, producer)
}

func TestRouter_DeviceInSession(t *testing.T) {
	h := newHarness(t)
	producer := h.producer(t, "sensor-race")
	phone := h.sensor(t, "phone-1")
	h.match(t, producer, phone, "phone-1")

	other := h.producer(t, "sensor-race")
	code := h.sessionCode(t, other)

	h.send(phone, `{"type":"join_session_code","sessionCode":%q,"deviceId":"phone-1"}`, code)
	msg := expectType(t, phone, TypeSessionJoinFailed)
	if msg.Get("code").String() != "device_in_session" {
		t.Errorf("Expected device_in_session, got %s", msg.Raw)
	}
}

func TestRouter_JoinUsesRegisteredDevice(t *testing.T) {
	h := newHarness(t)
	producer := h.producer(t, "sensor-race")
	code := h.sessionCode(t, producer)

	// Claiming another phone's device id is refused and leaves the code waiting.
	impostor := h.sensor(t, "phone-1")
	h.send(impostor, `{"type":"join_session_code","sessionCode":%q,"deviceId":"victim"}`, code)
	msg := expectType(t, impostor, TypeSessionJoinFailed)
	if msg.Get("code").String() != "forbidden" {
		t.Errorf("Expected forbidden, got %s", msg.Raw)
	}
	expectNothing(t, producer)

	victim := h.sensor(t, "victim")
	h.send(victim, `{"type":"join_session_code","sessionCode":%q,"deviceId":"victim"}`, code)
	expectType(t, victim, TypeSessionJoined)
	matched := expectType(t, producer, TypeSensorMatched)
	if matched.Get("deviceId").String() != "victim" {
		t.Errorf("Unexpected notice: %s", matched.Raw)
	}

	// Omitting the device id falls back to the registered one.
	other := h.producer(t, "sensor-race")
	second := h.sessionCode(t, other)
	h.send(impostor, `{"type":"join_session_code","sessionCode":%q}`, second)
	expectType(t, impostor, TypeSessionJoined)
	matched = expectType(t, other, TypeSensorMatched)
	if matched.Get("deviceId").String() != "phone-1" {
		t.Errorf("Expected registered device id, got %s", matched.Raw)
	}
}

func TestRouter_OneSessionPerSensor(t *testing.T) {
	h := newHarness(t)
	first := h.producer(t, "sensor-race")
	second := h.producer(t, "sensor-race")

	phone := h.sensor(t, "phone-1")
	h.match(t, first, phone, "phone-1")

	code := h.sessionCode(t, second)
	for _, deviceID := range []string{"spoof-a", "spoof-b"} {
		h.send(phone, `{"type":"join_session_code","sessionCode":%q,"deviceId":%q}`, code, deviceID)
		expectType(t, phone, TypeSessionJoinFailed)
	}

	h.send(phone, `{"type":"join_session_code","sessionCode":%q}`, code)
	msg := expectType(t, phone, TypeSessionJoinFailed)
	if msg.Get("code").String() != "device_in_session" {
		t.Errorf("Expected device_in_session, got %s", msg.Raw)
	}
	expectNothing(t, second)

	// A sensor registered without a device id is still held to one session.
	anon := h.sensor(t, "")
	third := h.producer(t, "sensor-race")
	h.send(anon, `{"type":"join_session_code","sessionCode":%q}`, code)
	expectType(t, anon, TypeSessionJoined)
	expectType(t, second, TypeSensorMatched)

	h.send(anon, `{"type":"join_session_code","sessionCode":%q}`, h.sessionCode(t, third))
	msg = expectType(t, anon, TypeSessionJoinFailed)
	if msg.Get("code").String() != "sensor_in_session" {
		t.Errorf("Expected sensor_in_session, got %s", msg.Raw)
	}
	expectNothing(t, third)

	if h.sessions.Count() != 2 {
		t.Errorf("Expected 2 sessions, got %d", h.sessions.Count())
	}
}

func TestRouter_CreateSessionCodeRequiresProducer(t *testing.T) {
	h := newHarness(t)

	for _, c := range []*Client{h.connect(), h.sensor(t, "phone-1")} {
		h.send(c, `{"type":"create_session_code","gameId":"sensor-race"}`)
		msg := expectType(t, c, TypeSessionCodeCreated)
		if msg.Get("success").Bool() || msg.Get("code").String() != "forbidden" {
			t.Errorf("Expected forbidden, got %s", msg.Raw)
		}
	}
	if h.sessions.CodeCount() != 0 {
		t.Errorf("No code should have been allocated, got %d", h.sessions.CodeCount())
	}
}

func TestRouter_CreateSessionCodeExhausted(t *testing.T) {
	h := newHarness(t)
	alloc := codes.NewAllocator(codes.WithIntn(func(int) int { return 0 }), codes.WithMaxAttempts(5))
	h.sessions = session.NewManager(alloc)
	h.router.sessions = h.sessions

	producer := h.producer(t, "sensor-race")
	h.sessionCode(t, producer)

	h.send(producer, `{"type":"create_session_code"}`)
	msg := expectType(t, producer, TypeSessionCodeCreated)
	if msg.Get("success").Bool() || msg.Get("code").String() != "resource_exhausted" {
		t.Errorf("Expected resource_exhausted, got %s", msg.Raw)
	}
}

func TestRouter_ProducerDisconnectEndsSession(t *testing.T) {
	h := newHarness(t)
	producer := h.producer(t, "sensor-race")
	phone := h.sensor(t, "phone-1")
	sessionID := h.match(t, producer, phone, "phone-1")
	waiting := h.sessionCode(t, producer)

	h.registry.disconnect(producer)

	msg := expectType(t, phone, TypeSessionEnded)
	if msg.Get("sessionId").String() != sessionID || msg.Get("reason").String() != ReasonPeerDisconnected {
		t.Errorf("Unexpected notice: %s", msg.Raw)
	}
	if h.sessions.Count() != 0 {
		t.Errorf("Expected no sessions, got %d", h.sessions.Count())
	}
	if _, err := h.sessions.Lookup(waiting); !errors.Is(err, session.ErrCodeNotFound) {
		t.Errorf("Waiting code should be dropped with its producer, got %v", err)
	}

	// The device is free again.
	other := h.producer(t, "sensor-race")
	code := h.sessionCode(t, other)
	h.send(phone, `{"type":"join_session_code","sessionCode":%q,"deviceId":"phone-1"}`, code)
	expectType(t, phone, TypeSessionJoined)
}

func TestRouter_SensorDisconnectEndsSession(t *testing.T) {
	h := newHarness(t)
	producer := h.producer(t, "sensor-race")
	phone := h.sensor(t, "phone-1")
	sessionID := h.match(t, producer, phone, "phone-1")

	h.registry.disconnect(phone)

	msg := expectType(t, producer, TypeSessionEnded)
	if msg.Get("sessionId").String() != sessionID {
		t.Errorf("Unexpected notice: %s", msg.Raw)
	}
}

// roomSetup creates a tilt-party room and joins the given nicknames.
func (h *harness) roomSetup(t *testing.T, settings string, nicknames ...string) (*Client, string, []*Client) {
	t.Helper()
	host := h.producer(t, "tilt-party")
	h.send(host, `{"type":"create_room","gameId":"tilt-party","settings":%s}`, settings)
	created := expectType(t, host, TypeRoomCreated)
	if !created.Get("success").Bool() {
		t.Fatalf("Room creation failed: %s", created.Raw)
	}
	password := created.Get("password").String()

	var players []*Client
	for _, nick := range nicknames {
		c := h.sensor(t, "dev-"+nick)
		h.send(c, `{"type":"join_room","password":%q,"nickname":%q}`, password, nick)
		expectType(t, c, TypeRoomJoined)
		for _, p := range append([]*Client{host}, players...) {
			notice := expectType(t, p, TypePlayerJoined)
			if notice.Get("nickname").String() != nick {
				t.Fatalf("Unexpected join notice: %s", notice.Raw)
			}
		}
		players = append(players, c)
	}
	return host, password, players
}

func TestRouter_CreateRoom(t *testing.T) {
	h := newHarness(t)
	host := h.producer(t, "tilt-party")

	h.send(host, `{"type":"create_room","gameId":"tilt-party","settings":{"maxPlayers":2,"mode":"race"}}`)
	msg := expectType(t, host, TypeRoomCreated)
	if !msg.Get("success").Bool() || msg.Get("maxPlayers").Int() != 2 {
		t.Fatalf("Unexpected reply: %s", msg.Raw)
	}
	if len(msg.Get("password").String()) != 4 || msg.Get("roomId").String() == "" {
		t.Errorf("Expected room id and 4 digit password: %s", msg.Raw)
	}

	h.send(host, `{"type":"create_room","gameId":"tilt-party"}`)
	msg = expectType(t, host, TypeRoomCreated)
	if msg.Get("code").String() != "already_hosting" {
		t.Errorf("Expected already_hosting, got %s", msg.Raw)
	}

	observer := h.connect()
	h.send(observer, `{"type":"register_hub_client"}`)
	expectType(t, observer, TypeRegistrationSuccess)
	h.send(observer, `{"type":"create_room","gameId":"no-such-game"}`)
	msg = expectType(t, observer, TypeRoomCreated)
	if msg.Get("code").String() != "game_not_found" {
		t.Errorf("Expected game_not_found, got %s", msg.Raw)
	}

	phone := h.sensor(t, "phone-1")
	h.send(phone, `{"type":"create_room","gameId":"tilt-party"}`)
	msg = expectType(t, phone, TypeRoomCreated)
	if msg.Get("code").String() != "forbidden" {
		t.Errorf("Expected forbidden, got %s", msg.Raw)
	}
}

func TestRouter_JoinRoom(t *testing.T) {
	h := newHarness(t)
	host, password, players := h.roomSetup(t, `{"maxPlayers":2}`, "Alice")

	h.clock.Advance(time.Second)
	bob := h.sensor(t, "dev-bob")
	h.send(bob, `{"type":"join_room","password":%q,"nickname":"Bob"}`, password)
	joined := expectType(t, bob, TypeRoomJoined)
	if joined.Get("currentPlayers").Int() != 2 || joined.Get("roomData.gameId").String() != "tilt-party" {
		t.Errorf("Unexpected reply: %s", joined.Raw)
	}
	if joined.Get("roomData.maxPlayers").Int() != 2 || joined.Get("roomData.roomId").String() != joined.Get("roomId").String() {
		t.Errorf("Unexpected room snapshot: %s", joined.Raw)
	}
	// Members never see the password, the host's connection or raw settings.
	for _, hidden := range []string{"roomData.password", "roomData.hostId", "roomData.settings", "roomData.players.#.deviceId"} {
		if v := joined.Get(hidden); v.Exists() && (!v.IsArray() || len(v.Array()) > 0) {
			t.Errorf("Expected %s to be absent, got %s", hidden, v.Raw)
		}
	}
	roster := joined.Get("roomData.players")
	if !roster.IsArray() || len(roster.Array()) != 2 {
		t.Fatalf("Expected a two player array, got %s", roster.Raw)
	}
	if roster.Get("0.nickname").String() != "Alice" || roster.Get("1.nickname").String() != "Bob" {
		t.Errorf("Expected players in join order, got %s", roster.Raw)
	}
	if roster.Get("1.playerId").String() != joined.Get("playerId").String() {
		t.Errorf("Expected Bob's player id in the roster, got %s", roster.Raw)
	}

	for _, c := range []*Client{host, players[0]} {
		notice := expectType(t, c, TypePlayerJoined)
		if notice.Get("playerId").String() != joined.Get("playerId").String() {
			t.Errorf("Unexpected notice: %s", notice.Raw)
		}
	}

	carl := h.sensor(t, "dev-carl")
	h.send(carl, `{"type":"join_room","password":%q,"nickname":"Carl"}`, password)
	failed := expectType(t, carl, TypeRoomJoinFailed)
	if failed.Get("code").String() != "room_full" {
		t.Errorf("Expected room_full, got %s", failed.Raw)
	}
	expectNothing(t, host)

	h.send(carl, `{"type":"join_room","password":"12","nickname":"Carl"}`)
	failed = expectType(t, carl, TypeRoomJoinFailed)
	if failed.Get("code").String() != "invalid_password" {
		t.Errorf("Expected invalid_password, got %s", failed.Raw)
	}
}

func TestRouter_RoomGameLifecycle(t *testing.T) {
	h := newHarness(t)
	host, password, players := h.roomSetup(t, `{}`, "Alice", "Bob")
	alice, bob := players[0], players[1]

	h.send(alice, `{"type":"start_game"}`)
	msg := expectType(t, alice, TypeGameStartFailed)
	if msg.Get("code").String() != "not_host" {
		t.Errorf("Expected not_host, got %s", msg.Raw)
	}

	h.send(host, `{"type":"start_game"}`)
	for _, c := range []*Client{host, alice, bob} {
		start := expectType(t, c, TypeGameStart)
		if start.Get("gameId").String() != "tilt-party" {
			t.Errorf("Unexpected start: %s", start.Raw)
		}
	}

	h.send(host, `{"type":"start_game"}`)
	msg = expectType(t, host, TypeGameStartFailed)
	if msg.Get("code").String() != "room_not_waiting" {
		t.Errorf("Expected room_not_waiting, got %s", msg.Raw)
	}

	late := h.sensor(t, "dev-late")
	h.send(late, `{"type":"join_room","password":%q,"nickname":"Late"}`, password)
	msg = expectType(t, late, TypeRoomJoinFailed)
	if msg.Get("code").String() != "room_not_waiting" {
		t.Errorf("Expected room_not_waiting, got %s", msg.Raw)
	}

	h.send(alice, `{"type":"multiplayer_event","eventType":"score","eventData":{"points":3}}`)
	for _, c := range []*Client{host, bob} {
		ev := expectType(t, c, TypeMultiplayerEvent)
		if ev.Get("eventType").String() != "score" || ev.Get("eventData.points").Int() != 3 {
			t.Errorf("Unexpected event: %s", ev.Raw)
		}
		if ev.Get("playerId").String() == "" || ev.Get("playerId").String() == hostPlayerID {
			t.Errorf("Expected Alice's player id, got %s", ev.Raw)
		}
	}
	expectNothing(t, alice)

	h.send(host, `{"type":"multiplayer_event","eventType":"round","eventData":2}`)
	for _, c := range []*Client{alice, bob} {
		ev := expectType(t, c, TypeMultiplayerEvent)
		if ev.Get("playerId").String() != hostPlayerID {
			t.Errorf("Expected host as sender, got %s", ev.Raw)
		}
	}

	h.send(bob, `{"type":"multiplayer_sensor_data","sensorData":{"motion":{"x":1}}}`)
	relay := expectType(t, host, TypeMultiplayerSensorData)
	if relay.Get("sensorData.motion.x").Int() != 1 {
		t.Errorf("Unexpected relay: %s", relay.Raw)
	}
	expectNothing(t, alice)

	h.send(host, `{"type":"end_game"}`)
	for _, c := range []*Client{host, alice, bob} {
		expectType(t, c, TypeGameEnd)
	}

	game, _ := h.games.Get("tilt-party")
	if game.PlayCount != 1 {
		t.Errorf("Expected play count 1, got %d", game.PlayCount)
	}
}

func TestRouter_EndGameRequiresPlaying(t *testing.T) {
	h := newHarness(t)
	host, _, _ := h.roomSetup(t, `{}`, "Alice")

	h.send(host, `{"type":"end_game"}`)
	msg := expectType(t, host, TypeError)
	if msg.Get("request").String() != TypeEndGame || msg.Get("code").String() != "not_playing" {
		t.Errorf("Unexpected reply: %s", msg.Raw)
	}
}

func TestRouter_LeaveRoom(t *testing.T) {
	h := newHarness(t)
	host, _, players := h.roomSetup(t, `{}`, "Alice", "Bob")
	alice, bob := players[0], players[1]

	h.send(alice, `{"type":"leave_room"}`)
	for _, c := range []*Client{host, bob} {
		left := expectType(t, c, TypePlayerLeft)
		if left.Get("nickname").String() != "Alice" || left.Get("currentPlayers").Int() != 1 {
			t.Errorf("Unexpected notice: %s", left.Raw)
		}
	}
	expectNothing(t, alice)

	h.send(alice, `{"type":"leave_room"}`)
	msg := expectType(t, alice, TypeError)
	if msg.Get("code").String() != "not_in_room" {
		t.Errorf("Expected not_in_room, got %s", msg.Raw)
	}

	h.send(host, `{"type":"leave_room"}`)
	closed := expectType(t, bob, TypeRoomClosed)
	if closed.Get("reason").String() != room.ReasonHostLeft {
		t.Errorf("Expected host_left, got %s", closed.Raw)
	}
	if h.rooms.Count() != 0 {
		t.Errorf("Expected no rooms, got %d", h.rooms.Count())
	}
}

func TestRouter_HostDisconnectClosesRoom(t *testing.T) {
	h := newHarness(t)
	host, password, players := h.roomSetup(t, `{}`, "Alice", "Bob")

	h.registry.disconnect(host)

	for _, c := range players {
		msg := expectType(t, c, TypeRoomClosed)
		if msg.Get("reason").String() != room.ReasonHostDisconnected {
			t.Errorf("Expected host_disconnected, got %s", msg.Raw)
		}
		expectNothing(t, c)
	}

	if h.rooms.Count() != 0 {
		t.Errorf("Expected no rooms left, got %d", h.rooms.Count())
	}
	if h.alloc.InUse(codes.RoomPasswords, password) {
		t.Errorf("Expected password %s to be released", password)
	}

	late := h.sensor(t, "dev-late")
	h.send(late, `{"type":"join_room","password":%q}`, password)
	msg := expectType(t, late, TypeRoomJoinFailed)
	if msg.Get("code").String() != "invalid_password" {
		t.Errorf("Released password should not reach the closed room, got %s", msg.Raw)
	}
}

// drain returns the types of every frame queued for c.
func drain(c *Client) []string {
	var types []string
	for {
		select {
		case frame := <-c.send:
			types = append(types, gjson.GetBytes(frame, "type").String())
		default:
			return types
		}
	}
}

func TestRouter_JoinAckPrecedesRoomClosed(t *testing.T) {
	for i := 0; i < 50; i++ {
		h := newHarness(t)
		host, password, _ := h.roomSetup(t, `{}`)
		bob := h.sensor(t, "dev-bob")

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			h.send(bob, `{"type":"join_room","password":%q,"nickname":"Bob"}`, password)
		}()
		go func() {
			defer wg.Done()
			h.registry.disconnect(host)
		}()
		wg.Wait()

		got := strings.Join(drain(bob), ",")
		if got != TypeRoomJoinFailed && got != TypeRoomJoined+","+TypeRoomClosed {
			t.Fatalf("Run %d: unexpected frame order %s", i, got)
		}
	}
}

func TestRouter_SessionJoinPrecedesSessionEnded(t *testing.T) {
	for i := 0; i < 50; i++ {
		h := newHarness(t)
		producer := h.producer(t, "sensor-race")
		code := h.sessionCode(t, producer)
		phone := h.sensor(t, "phone-1")

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			h.send(phone, `{"type":"join_session_code","sessionCode":%q}`, code)
		}()
		go func() {
			defer wg.Done()
			h.registry.disconnect(producer)
		}()
		wg.Wait()

		got := strings.Join(drain(phone), ",")
		switch got {
		case TypeSessionJoinFailed, TypeSessionJoined + "," + TypeSessionEnded:
		default:
			t.Fatalf("Run %d: unexpected frame order %s", i, got)
		}
	}
}

func TestRouter_MemberDisconnectNotifiesRoom(t *testing.T) {
	h := newHarness(t)
	host, _, players := h.roomSetup(t, `{}`, "Alice", "Bob")

	h.registry.disconnect(players[0])

	for _, c := range []*Client{host, players[1]} {
		msg := expectType(t, c, TypePlayerLeft)
		if msg.Get("nickname").String() != "Alice" {
			t.Errorf("Unexpected notice: %s", msg.Raw)
		}
	}
}

func TestRouter_HandleSweep(t *testing.T) {
	h := newHarness(t)
	_, _, players := h.roomSetup(t, `{}`, "Alice")

	h.clock.Advance(2 * time.Hour)
	j := janitor.New(h.sessions, h.rooms,
		janitor.WithRoomMaxAge(time.Hour),
		janitor.WithOnSweep(h.router.HandleSweep),
		janitor.WithLogger(testLogger()),
	)
	res := j.Sweep()
	if len(res.Rooms) != 1 {
		t.Fatalf("Expected 1 swept room, got %d", len(res.Rooms))
	}

	msg := expectType(t, players[0], TypeRoomClosed)
	if msg.Get("reason").String() != room.ReasonExpired {
		t.Errorf("Expected expired, got %s", msg.Raw)
	}
}

func TestRouter_PingAndMalformed(t *testing.T) {
	h := newHarness(t)
	c := h.connect()

	h.send(c, `{"type":"ping","timestamp":99}`)
	pong := expectType(t, c, TypePong)
	if pong.Get("timestamp").Int() != 99 || pong.Get("serverTime").Int() != h.clock.Now().UnixMilli() {
		t.Errorf("Unexpected pong: %s", pong.Raw)
	}

	for _, raw := range []string{`not json`, `{"type":"warp"}`, `{"sessionCode":"1234"}`} {
		h.router.HandleMessage(c.id, []byte(raw))
	}
	expectNothing(t, c)

	if _, ok := h.registry.Get(c.id); !ok {
		t.Error("Malformed frames must not close the connection")
	}
}

func TestErrorCode(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{codes.ErrExhausted, "resource_exhausted"},
		{session.ErrCodeNotFound, "not_found"},
		{session.ErrCodeExpired, "expired"},
		{session.ErrCodeAlreadyMatched, "already_matched"},
		{session.ErrDeviceInSession, "device_in_session"},
		{session.ErrSensorInSession, "sensor_in_session"},
		{errDeviceMismatch, "forbidden"},
		{fmt.Errorf("failed to resolve game: %w", catalog.ErrGameNotFound), "game_not_found"},
		{room.ErrInvalidPassword, "invalid_password"},
		{room.ErrRoomFull, "room_full"},
		{room.ErrRoomNotWaiting, "room_not_waiting"},
		{room.ErrNotHost, "not_host"},
		{ErrRoleConflict, "role_conflict"},
		{errors.New("boom"), "internal"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := errorCode(tt.err); got != tt.want {
				t.Errorf("errorCode(%v) = %s, want %s", tt.err, got, tt.want)
			}
		})
	}
}
