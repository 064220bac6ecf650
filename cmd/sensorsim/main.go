// Command sensorsim drives a sensor game hub from the terminal. It can stand
// in for a phone (streaming synthetic orientation and motion readings), for a
// game page (creating a session code and printing what arrives), or simply
// check that a hub answers.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/tidwall/gjson"
	"github.com/urfave/cli/v3"
	"github.com/wricardo/sensor-game-hub/game/service"
	hub "github.com/wricardo/sensor-game-hub/transport/websocket"
)

var errSessionEnded = errors.New("session ended")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newApp().Run(ctx, os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "❌ %v\n", err)
		os.Exit(1)
	}
}

func newApp() *cli.Command {
	return &cli.Command{
		Name:  "sensorsim",
		Usage: "simulate phones and game pages against a sensor game hub",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "url",
				Value:   "ws://localhost:8080/ws",
				Usage:   "hub WebSocket endpoint",
				Sources: cli.EnvVars("SENSORHUB_WS_URL"),
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Value: 10 * time.Second,
				Usage: "how long to wait for the connection and handshake replies",
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "sensor",
				Usage: "join a session code and stream synthetic readings",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "code", Usage: "4-digit session code shown by the game", Required: true},
					&cli.StringFlag{Name: "device", Value: "sensorsim", Usage: "device id to register with"},
					&cli.DurationFlag{Name: "interval", Value: 50 * time.Millisecond, Usage: "time between readings"},
					&cli.DurationFlag{Name: "duration", Usage: "stop after this long (0 runs until interrupted)"},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return runSensor(ctx, cmd.String("url"), sensorOptions{
						code:     cmd.String("code"),
						deviceID: cmd.String("device"),
						interval: cmd.Duration("interval"),
						duration: cmd.Duration("duration"),
						timeout:  cmd.Duration("timeout"),
					}, cmd.Root().Writer)
				},
			},
			{
				Name:  "producer",
				Usage: "create a session code and print relayed readings",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "game", Value: "sensor-race", Usage: "game id to register as"},
					&cli.BoolFlag{Name: "quiet", Usage: "only print the session summary"},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return runProducer(ctx, cmd.String("url"), producerOptions{
						gameID:  cmd.String("game"),
						quiet:   cmd.Bool("quiet"),
						timeout: cmd.Duration("timeout"),
					}, cmd.Root().Writer)
				},
			},
			{
				Name:  "ping",
				Usage: "measure one round trip to the hub",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return runPing(ctx, cmd.String("url"), cmd.Duration("timeout"), cmd.Root().Writer)
				},
			},
		},
	}
}

type sensorOptions struct {
	code     string
	deviceID string
	interval time.Duration
	duration time.Duration
	timeout  time.Duration
}

type producerOptions struct {
	gameID  string
	quiet   bool
	timeout time.Duration
}

// connect dials the hub and runs handshake within timeout.
func connect(ctx context.Context, wsURL string, timeout time.Duration, handshake func(context.Context, *hubClient) error) (*hubClient, error) {
	hsCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	c, err := dial(hsCtx, wsURL)
	if err != nil {
		return nil, err
	}
	if err := handshake(hsCtx, c); err != nil {
		c.close()
		return nil, err
	}
	return c, nil
}

func runSensor(ctx context.Context, wsURL string, opts sensorOptions, out io.Writer) error {
	if opts.interval <= 0 {
		return fmt.Errorf("interval must be positive, got %s", opts.interval)
	}

	var clientID, sessionID string
	c, err := connect(ctx, wsURL, opts.timeout, func(ctx context.Context, c *hubClient) error {
		var err error
		if clientID, err = c.registerSensor(ctx, opts.deviceID, []string{"orientation", "accelerometer", "gyroscope"}); err != nil {
			return fmt.Errorf("register: %w", err)
		}
		if sessionID, err = c.joinCode(ctx, opts.code, opts.deviceID); err != nil {
			return fmt.Errorf("join %s: %w", opts.code, err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	defer c.close()

	fmt.Fprintf(out, "✅ Joined session %s as %s\n", sessionID, clientID)

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	if opts.duration > 0 {
		var stop context.CancelFunc
		ctx, stop = context.WithTimeout(ctx, opts.duration)
		defer stop()
	}

	// The reader keeps control frames flowing and notices when the game leaves.
	go func() {
		for {
			msg, err := c.next(ctx)
			if err != nil {
				cancel(err)
				return
			}
			if msg.Get("type").String() == hub.TypeSessionEnded {
				cancel(fmt.Errorf("%w: %s", errSessionEnded, msg.Get("reason").String()))
				return
			}
		}
	}()

	m := newMotion(time.Now())
	ticker := time.NewTicker(opts.interval)
	defer ticker.Stop()

	sent := 0
	for {
		select {
		case <-ctx.Done():
			fmt.Fprintf(out, "Sent %d readings\n", sent)
			return sensorExit(context.Cause(ctx), out)
		case now := <-ticker.C:
			err := c.send(ctx, hub.TypeSensorData, map[string]any{
				"sessionId":  sessionID,
				"sensorData": m.at(now),
			})
			if err != nil {
				if ctx.Err() != nil {
					continue
				}
				return fmt.Errorf("send reading: %w", err)
			}
			sent++
		}
	}
}

// sensorExit maps the reason a sensor run stopped to the command result.
func sensorExit(cause error, out io.Writer) error {
	switch {
	case errors.Is(cause, errSessionEnded):
		fmt.Fprintf(out, "Game left: %v\n", cause)
		return nil
	case errors.Is(cause, context.DeadlineExceeded), errors.Is(cause, context.Canceled):
		return nil
	default:
		return fmt.Errorf("connection lost: %w", cause)
	}
}

func runProducer(ctx context.Context, wsURL string, opts producerOptions, out io.Writer) error {
	var code string
	var expires time.Time
	c, err := connect(ctx, wsURL, opts.timeout, func(ctx context.Context, c *hubClient) error {
		if _, err := c.registerGame(ctx, opts.gameID); err != nil {
			return fmt.Errorf("register: %w", err)
		}
		var err error
		if code, expires, err = c.createCode(ctx, opts.gameID); err != nil {
			return fmt.Errorf("create session code: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	defer c.close()

	fmt.Fprintf(out, "Session code: %s (expires %s)\n", code, expires.Format(time.Kitchen))
	if base, err := httpBase(wsURL); err == nil {
		fmt.Fprintf(out, "Sensor join URL: %s\n", service.JoinURL(base, code))
	}
	fmt.Fprintln(out, "Waiting for a sensor...")

	received := 0
	for {
		msg, err := c.next(ctx)
		if err != nil {
			fmt.Fprintf(out, "Received %d readings\n", received)
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("connection lost: %w", err)
		}

		switch msg.Get("type").String() {
		case hub.TypeSensorMatched:
			fmt.Fprintf(out, "📱 Sensor %s matched (session %s)\n", msg.Get("deviceId").String(), msg.Get("sessionId").String())
		case hub.TypeSensorData:
			received++
			if !opts.quiet {
				fmt.Fprintln(out, formatReading(msg))
			}
		case hub.TypeSessionEnded:
			fmt.Fprintf(out, "Session ended: %s\n", msg.Get("reason").String())
			fmt.Fprintf(out, "Received %d readings\n", received)
			return nil
		}
	}
}

func formatReading(msg gjson.Result) string {
	o := msg.Get("sensorData.orientation")
	a := msg.Get("sensorData.accelerometer")
	return fmt.Sprintf("α=%6.1f β=%6.1f γ=%6.1f  a=(%5.2f, %5.2f, %5.2f)",
		o.Get("alpha").Float(), o.Get("beta").Float(), o.Get("gamma").Float(),
		a.Get("x").Float(), a.Get("y").Float(), a.Get("z").Float())
}

func runPing(ctx context.Context, wsURL string, timeout time.Duration, out io.Writer) error {
	var rtt time.Duration
	c, err := connect(ctx, wsURL, timeout, func(ctx context.Context, c *hubClient) error {
		var err error
		rtt, err = c.ping(ctx)
		return err
	})
	if err != nil {
		return err
	}
	defer c.close()

	fmt.Fprintf(out, "✅ pong from %s in %s\n", wsURL, rtt.Round(time.Microsecond))
	return nil
}

// httpBase turns the hub's WebSocket endpoint into its HTTP base URL.
func httpBase(wsURL string) (string, error) {
	u, err := url.Parse(wsURL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "ws":
		u.Scheme = "http"
	case "wss":
		u.Scheme = "https"
	case "http", "https":
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = strings.TrimSuffix(strings.TrimSuffix(u.Path, "/"), "/ws")
	u.RawQuery = ""
	return strings.TrimSuffix(u.String(), "/"), nil
}
