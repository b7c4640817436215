// Package tracker reacts to virtual tabletop events and keeps each user's
// flanking bonus flag current.
//
// Three events drive it: a user targets or releases a token, any token on
// the scene moves, and a user rolls an attack. Every event recomputes from
// the scene snapshot it carries; nothing is cached between events. The
// single flag per user means that with several targets the last evaluation
// wins.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/MrWong99/flanker/internal/announce"
	"github.com/MrWong99/flanker/internal/flagstore"
	"github.com/MrWong99/flanker/internal/observe"
	"github.com/MrWong99/flanker/internal/scene"
	"github.com/MrWong99/flanker/pkg/flanking"
)

// AttackRoll is the to-hit roll of an attack. Parts are the additive terms
// of the roll formula.
type AttackRoll struct {
	Formula string   `json:"formula,omitempty"`
	Parts   []string `json:"parts"`
}

// Tracker evaluates flanking for host events and persists the result.
//
// Safe for concurrent use. Concurrent events for the same user race on the
// flag and resolve as last write wins.
type Tracker struct {
	store     flagstore.Store
	settings  Settings
	announcer announce.Announcer
	metrics   *observe.Metrics
	logger    *slog.Logger
	now       func() time.Time
}

// Option is a functional option for [New].
type Option func(*Tracker)

// WithAnnouncer reports flag changes to a. Without it no changes are
// reported and the previous flag value is never read.
func WithAnnouncer(a announce.Announcer) Option {
	return func(t *Tracker) { t.announcer = a }
}

// WithMetrics records evaluations and store failures to m.
func WithMetrics(m *observe.Metrics) Option {
	return func(t *Tracker) { t.metrics = m }
}

// WithLogger sets the logger. Defaults to [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(t *Tracker) { t.logger = l }
}

// New creates a Tracker that stores flags in store and reads evaluation
// options from settings. A nil settings uses [flanking.DefaultOptions].
func New(store flagstore.Store, settings Settings, opts ...Option) *Tracker {
	t := &Tracker{
		store:    store,
		settings: settings,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, o := range opts {
		o(t)
	}
	if t.settings == nil {
		t.settings = StaticSettings(flanking.DefaultOptions())
	}
	if t.metrics == nil {
		t.metrics = observe.DefaultMetrics()
	}
	return t
}

// Settings returns the options the next evaluation will use.
func (t *Tracker) Settings() flanking.Options {
	return t.settings.Options()
}

// Evaluate runs a stateless evaluation of targetID on sc with the current
// settings. Nothing is stored.
func (t *Tracker) Evaluate(ctx context.Context, sc *scene.Scene, targetID string) (flanking.Result, error) {
	return t.evaluate(ctx, sc, targetID, t.settings.Options())
}

// EvaluateWith is [Tracker.Evaluate] with explicit options.
func (t *Tracker) EvaluateWith(ctx context.Context, sc *scene.Scene, targetID string, opts flanking.Options) (flanking.Result, error) {
	return t.evaluate(ctx, sc, targetID, opts)
}

func (t *Tracker) evaluate(ctx context.Context, sc *scene.Scene, targetID string, opts flanking.Options) (flanking.Result, error) {
	if sc == nil {
		return flanking.Result{}, fmt.Errorf("tracker: target %q: %w: no scene", targetID, scene.ErrTokenNotFound)
	}
	target, ok := sc.Token(targetID)
	if !ok {
		return flanking.Result{}, fmt.Errorf("tracker: target %q: %w", targetID, scene.ErrTokenNotFound)
	}

	start := t.now()
	res := flanking.Evaluate(sc.Tokens, target, sc.Grid, opts)
	t.metrics.RecordEvaluation(ctx, res.Flanked, res.Count, t.now().Sub(start))

	if t.logger.Enabled(ctx, slog.LevelDebug) {
		t.logger.DebugContext(ctx, res.Summary()+":\n"+res.Pretty(),
			"target_id", targetID,
			"bonus", res.Bonus,
		)
	}
	return res, nil
}

// CheckFlanking evaluates targetID for userID and stores the bonus flag:
// set when the target is flanked by at least two candidates, deleted
// otherwise. Store failures are returned wrapped in
// [flagstore.ErrUnavailable] together with the computed result.
func (t *Tracker) CheckFlanking(ctx context.Context, userID string, sc *scene.Scene, targetID string) (res flanking.Result, err error) {
	ctx, span := observe.StartSpan(ctx, "tracker.CheckFlanking",
		observe.AttrUserID.String(userID),
		observe.AttrTargetID.String(targetID),
	)
	defer func() { observe.EndSpan(span, err) }()

	res, err = t.Evaluate(ctx, sc, targetID)
	if err != nil {
		return res, err
	}
	span.SetAttributes(observe.ResultAttributes(res)...)

	if err := t.writeFlag(ctx, userID, targetID, res); err != nil {
		return res, fmt.Errorf("tracker: check flanking %q: %w", targetID, err)
	}
	return res, nil
}

// OnTargetToken handles a user targeting (targeted=true) or releasing a
// token. Acquiring re-evaluates; releasing deletes the flag.
func (t *Tracker) OnTargetToken(ctx context.Context, userID string, sc *scene.Scene, targetID string, targeted bool) (flanking.Result, error) {
	if targeted {
		return t.CheckFlanking(ctx, userID, sc, targetID)
	}

	res := flanking.Result{TargetID: targetID, Target: targetID}
	if sc != nil {
		if tok, ok := sc.Token(targetID); ok {
			res.Target = tok.Name
		}
	}
	if err := t.writeFlag(ctx, userID, targetID, res); err != nil {
		return res, fmt.Errorf("tracker: release %q: %w", targetID, err)
	}
	return res, nil
}

// OnUpdateToken re-evaluates every current target of userID after a token
// changed on the scene. Targets are processed in order; all failures are
// joined and every target is attempted.
func (t *Tracker) OnUpdateToken(ctx context.Context, userID string, sc *scene.Scene, targetIDs []string) ([]flanking.Result, error) {
	results := make([]flanking.Result, 0, len(targetIDs))
	var errs []error
	for _, id := range targetIDs {
		res, err := t.CheckFlanking(ctx, userID, sc, id)
		if err != nil {
			errs = append(errs, err)
			if errors.Is(err, scene.ErrTokenNotFound) {
				continue
			}
		}
		results = append(results, res)
	}
	return results, errors.Join(errs...)
}

// AttackToHit appends the stored flanking bonus of userID to roll when the
// item is a melee weapon attack. The roll is modified in place and
// returned; a nil roll is returned unchanged. A flag that cannot be read
// counts as no bonus.
func (t *Tracker) AttackToHit(ctx context.Context, userID string, item flanking.Item, roll *AttackRoll) *AttackRoll {
	bonus, _, err := t.store.Get(ctx, flagstore.Key(userID))
	if err != nil {
		t.metrics.RecordStoreError(ctx, "get")
		observe.WithTrace(ctx, t.logger).WarnContext(ctx, "tracker: read flanking flag failed, assuming no bonus",
			"user_id", userID, "err", err)
		bonus = 0
	}

	if roll != nil && bonus > 0 && item.IsMelee() {
		t.logger.DebugContext(ctx, "adding flanking bonus", "user_id", userID, "item", item.Name, "bonus", bonus)
		roll.Parts = append(roll.Parts, strconv.Itoa(bonus))
	}
	return roll
}

// writeFlag stores res.Bonus for userID, or deletes the flag when there is
// no bonus, and announces the change.
func (t *Tracker) writeFlag(ctx context.Context, userID, targetID string, res flanking.Result) error {
	key := flagstore.Key(userID)

	prev, known := 0, false
	if t.announcer != nil {
		v, ok, err := t.store.Get(ctx, key)
		if err != nil {
			t.metrics.RecordStoreError(ctx, "get")
			observe.WithTrace(ctx, t.logger).WarnContext(ctx, "tracker: read previous flag failed", "user_id", userID, "err", err)
		} else {
			known = true
			if ok {
				prev = v
			}
		}
	}

	if res.Bonus >= 1 {
		if err := t.store.Set(ctx, key, res.Bonus); err != nil {
			t.metrics.RecordStoreError(ctx, "set")
			return err
		}
	} else {
		if err := t.store.Delete(ctx, key); err != nil {
			t.metrics.RecordStoreError(ctx, "delete")
			return err
		}
	}

	if known && prev != res.Bonus {
		t.announce(ctx, announce.Event{
			UserID:   userID,
			TargetID: targetID,
			Target:   res.Target,
			Flanked:  res.Bonus >= 1,
			Count:    res.Count,
			Bonus:    res.Bonus,
		})
	}
	return nil
}

func (t *Tracker) announce(ctx context.Context, e announce.Event) {
	if err := t.announcer.Announce(ctx, e); err != nil {
		observe.WithTrace(ctx, t.logger).WarnContext(ctx, "tracker: announce failed", "user_id", e.UserID, "target_id", e.TargetID, "err", err)
	}
}
