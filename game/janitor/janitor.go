// Package janitor periodically reaps expired session codes and stale rooms.
package janitor

import (
	"context"
	"log/slog"
	"time"

	"github.com/wricardo/sensor-game-hub/game/room"
)

const (
	DefaultInterval   = 5 * time.Minute
	DefaultRoomMaxAge = time.Hour
)

// CodeSweeper deletes expired session codes.
type CodeSweeper interface {
	SweepExpired() int
}

// RoomSweeper deletes rooms older than maxAge.
type RoomSweeper interface {
	SweepStale(maxAge time.Duration) []room.Departure
}

// Result is the outcome of one sweep.
type Result struct {
	Codes int
	Rooms []room.Departure
}

// Janitor runs both sweeps on a fixed interval.
type Janitor struct {
	codes      CodeSweeper
	rooms      RoomSweeper
	interval   time.Duration
	roomMaxAge time.Duration
	onSweep    func(Result)
	logger     *slog.Logger
}

// Option configures a Janitor.
type Option func(*Janitor)

func WithInterval(d time.Duration) Option {
	return func(j *Janitor) {
		if d > 0 {
			j.interval = d
		}
	}
}

func WithRoomMaxAge(d time.Duration) Option {
	return func(j *Janitor) {
		if d > 0 {
			j.roomMaxAge = d
		}
	}
}

// WithOnSweep registers a callback run after every sweep, typically to
// notify the members of closed rooms.
func WithOnSweep(fn func(Result)) Option {
	return func(j *Janitor) {
		j.onSweep = fn
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(j *Janitor) {
		if logger != nil {
			j.logger = logger
		}
	}
}

// New creates a janitor over the given registries.
func New(codes CodeSweeper, rooms RoomSweeper, opts ...Option) *Janitor {
	j := &Janitor{
		codes:      codes,
		rooms:      rooms,
		interval:   DefaultInterval,
		roomMaxAge: DefaultRoomMaxAge,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(j)
	}
	j.logger = j.logger.With("component", "janitor")
	return j
}

// Run sweeps every interval until ctx is cancelled.
func (j *Janitor) Run(ctx context.Context) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	j.logger.Info("Janitor started", "interval", j.interval, "roomMaxAge", j.roomMaxAge)

	for {
		select {
		case <-ctx.Done():
			j.logger.Info("Janitor stopped")
			return
		case <-ticker.C:
			j.Sweep()
		}
	}
}

// Sweep runs both sweeps once.
func (j *Janitor) Sweep() Result {
	result := Result{
		Codes: j.codes.SweepExpired(),
		Rooms: j.rooms.SweepStale(j.roomMaxAge),
	}

	if result.Codes > 0 || len(result.Rooms) > 0 {
		j.logger.Info("Cleaned up", "sessionCodes", result.Codes, "rooms", len(result.Rooms))
	}

	if j.onSweep != nil {
		j.onSweep(result)
	}
	return result
}
