// Package announce reports flanking changes to the game master.
//
// The tracker calls an [Announcer] whenever the bonus stored for a user
// changes between flanked and not flanked. Announce errors never fail an
// evaluation; the tracker logs them and moves on.
package announce

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// Event describes one change of a user's flanking state.
type Event struct {
	// UserID identifies the player whose flag changed.
	UserID string

	// TargetID and Target identify the token that was evaluated.
	TargetID string
	Target   string

	// Flanked is the new state.
	Flanked bool

	// Count is the number of flanking candidates around the target.
	Count int

	// Bonus is the new bonus, zero when Flanked is false.
	Bonus int
}

// String renders e as a single chat line.
func (e Event) String() string {
	if e.Flanked {
		return fmt.Sprintf("%s is flanked by %d actors: +%d to hit for %s", e.Target, e.Count, e.Bonus, e.UserID)
	}
	return fmt.Sprintf("%s is no longer flanked for %s", e.Target, e.UserID)
}

// Announcer publishes flanking events.
//
// Implementations must be safe for concurrent use.
type Announcer interface {
	Announce(ctx context.Context, e Event) error
}

// Nop discards every event.
type Nop struct{}

// Announce implements [Announcer].
func (Nop) Announce(context.Context, Event) error { return nil }

// Log writes every event to an [slog.Logger] at info level.
type Log struct {
	Logger *slog.Logger
}

// Announce implements [Announcer].
func (l Log) Announce(ctx context.Context, e Event) error {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.LogAttrs(ctx, slog.LevelInfo, "flanking changed",
		slog.String("user_id", e.UserID),
		slog.String("target_id", e.TargetID),
		slog.String("target", e.Target),
		slog.Bool("flanked", e.Flanked),
		slog.Int("count", e.Count),
		slog.Int("bonus", e.Bonus),
	)
	return nil
}

// Multi fans an event out to several announcers and joins their errors.
type Multi []Announcer

// Announce implements [Announcer].
func (m Multi) Announce(ctx context.Context, e Event) error {
	var errs []error
	for _, a := range m {
		if err := a.Announce(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
