package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/tidwall/gjson"
	hub "github.com/wricardo/sensor-game-hub/transport/websocket"
)

// ErrRejected is returned when the hub answers a request with a failure.
var ErrRejected = errors.New("rejected by hub")

// hubClient is a thin JSON envelope client for the hub's /ws endpoint.
type hubClient struct {
	conn *websocket.Conn
}

func dial(ctx context.Context, url string) (*hubClient, error) {
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", url, err)
	}
	conn.SetReadLimit(1 << 16)
	return &hubClient{conn: conn}, nil
}

func (c *hubClient) send(ctx context.Context, msgType string, fields map[string]any) error {
	envelope := map[string]any{
		"type":      msgType,
		"timestamp": time.Now().UnixMilli(),
	}
	for k, v := range fields {
		envelope[k] = v
	}
	return wsjson.Write(ctx, c.conn, envelope)
}

// next reads one envelope.
func (c *hubClient) next(ctx context.Context) (gjson.Result, error) {
	typ, data, err := c.conn.Read(ctx)
	if err != nil {
		return gjson.Result{}, err
	}
	if typ != websocket.MessageText {
		return gjson.Result{}, fmt.Errorf("unexpected %s frame", typ)
	}
	return gjson.ParseBytes(data), nil
}

// await reads until an envelope of one of types arrives. Anything else is
// handed to skip, which may be nil.
func (c *hubClient) await(ctx context.Context, skip func(gjson.Result), types ...string) (gjson.Result, error) {
	for {
		msg, err := c.next(ctx)
		if err != nil {
			return gjson.Result{}, err
		}
		got := msg.Get("type").String()
		for _, t := range types {
			if got == t {
				return msg, nil
			}
		}
		if skip != nil {
			skip(msg)
		}
	}
}

// rejection turns a failure envelope into an error.
func rejection(msg gjson.Result) error {
	switch msg.Get("type").String() {
	case hub.TypeRegistrationFailed, hub.TypeSessionJoinFailed, hub.TypeRoomJoinFailed, hub.TypeError:
	default:
		if ok := msg.Get("success"); !ok.Exists() || ok.Bool() {
			return nil
		}
	}
	return fmt.Errorf("%w: %s (%s)", ErrRejected, msg.Get("error").String(), msg.Get("code").String())
}

func (c *hubClient) registerSensor(ctx context.Context, deviceID string, sensors []string) (string, error) {
	err := c.send(ctx, hub.TypeRegisterSensorClient, map[string]any{
		"deviceId":         deviceID,
		"supportedSensors": sensors,
	})
	if err != nil {
		return "", err
	}
	return c.awaitRegistration(ctx)
}

func (c *hubClient) registerGame(ctx context.Context, gameID string) (string, error) {
	err := c.send(ctx, hub.TypeRegisterGameClient, map[string]any{
		"gameId":           gameID,
		"requestedSensors": []string{"orientation", "accelerometer"},
	})
	if err != nil {
		return "", err
	}
	return c.awaitRegistration(ctx)
}

func (c *hubClient) awaitRegistration(ctx context.Context) (string, error) {
	msg, err := c.await(ctx, nil, hub.TypeRegistrationSuccess, hub.TypeRegistrationFailed)
	if err != nil {
		return "", err
	}
	if err := rejection(msg); err != nil {
		return "", err
	}
	return msg.Get("clientId").String(), nil
}

// createCode asks for a session code and returns it with its expiry.
func (c *hubClient) createCode(ctx context.Context, gameID string) (string, time.Time, error) {
	if err := c.send(ctx, hub.TypeCreateSessionCode, map[string]any{"gameId": gameID}); err != nil {
		return "", time.Time{}, err
	}
	msg, err := c.await(ctx, nil, hub.TypeSessionCodeCreated, hub.TypeError)
	if err != nil {
		return "", time.Time{}, err
	}
	if err := rejection(msg); err != nil {
		return "", time.Time{}, err
	}
	return msg.Get("sessionCode").String(), time.UnixMilli(msg.Get("expiresAt").Int()), nil
}

// joinCode pairs with a producer and returns the session id.
func (c *hubClient) joinCode(ctx context.Context, code, deviceID string) (string, error) {
	err := c.send(ctx, hub.TypeJoinSessionCode, map[string]any{
		"sessionCode": code,
		"deviceId":    deviceID,
	})
	if err != nil {
		return "", err
	}
	msg, err := c.await(ctx, nil, hub.TypeSessionJoined, hub.TypeSessionJoinFailed, hub.TypeError)
	if err != nil {
		return "", err
	}
	if err := rejection(msg); err != nil {
		return "", err
	}
	return msg.Get("sessionId").String(), nil
}

// ping measures one round trip.
func (c *hubClient) ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	if err := c.send(ctx, hub.TypePing, nil); err != nil {
		return 0, err
	}
	if _, err := c.await(ctx, nil, hub.TypePong); err != nil {
		return 0, err
	}
	return time.Since(start), nil
}

func (c *hubClient) close() error {
	return c.conn.Close(websocket.StatusNormalClosure, "")
}
