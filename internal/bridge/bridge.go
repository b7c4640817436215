// Package bridge connects a virtual tabletop to the tracker.
//
// The host keeps one websocket per user session open on /v1/ws and sends a
// [Frame] for every event. Frames on one connection are handled strictly in
// order, so a user's events never interleave. Two stateless HTTP endpoints
// serve tooling: /v1/evaluate and /v1/import/foundry.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/MrWong99/flanker/internal/observe"
	"github.com/MrWong99/flanker/internal/scene"
	"github.com/MrWong99/flanker/internal/tracker"
)

// defaultReadLimit bounds one frame. Scenes with a few hundred tokens and
// their items fit comfortably.
const defaultReadLimit = 4 << 20

// Bridge serves the host-facing endpoints.
type Bridge struct {
	tracker   *tracker.Tracker
	metrics   *observe.Metrics
	logger    *slog.Logger
	origins   []string
	readLimit int64

	// mu orders connection admission against Close so that wg.Add never
	// races wg.Wait.
	mu     sync.Mutex
	closed bool
	done   chan struct{}
	wg     sync.WaitGroup
}

// Option is a functional option for [New].
type Option func(*Bridge)

// WithMetrics records frames and open connections to m.
func WithMetrics(m *observe.Metrics) Option {
	return func(b *Bridge) { b.metrics = m }
}

// WithLogger sets the logger. Defaults to [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(b *Bridge) { b.logger = l }
}

// WithOriginPatterns allows cross-origin websocket connections from hosts
// matching patterns, e.g. "vtt.example.com" or "*.forge-vtt.com".
func WithOriginPatterns(patterns ...string) Option {
	return func(b *Bridge) { b.origins = append(b.origins, patterns...) }
}

// WithReadLimit sets the maximum size of one frame in bytes.
func WithReadLimit(n int64) Option {
	return func(b *Bridge) { b.readLimit = n }
}

// New creates a Bridge that forwards host events to tr.
func New(tr *tracker.Tracker, opts ...Option) *Bridge {
	b := &Bridge{
		tracker:   tr,
		logger:    slog.Default(),
		readLimit: defaultReadLimit,
		done:      make(chan struct{}),
	}
	for _, o := range opts {
		o(b)
	}
	if b.metrics == nil {
		b.metrics = observe.DefaultMetrics()
	}
	return b
}

// Register adds the bridge routes to mux:
//
//	GET  /v1/ws             host event websocket
//	POST /v1/evaluate       stateless evaluation
//	POST /v1/import/foundry Foundry VTT scene export to scene JSON
func (b *Bridge) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/ws", b.handleWS)
	mux.HandleFunc("POST /v1/evaluate", b.handleEvaluate)
	mux.HandleFunc("POST /v1/import/foundry", b.handleImportFoundry)
}

// Handler returns a mux serving only the bridge routes.
func (b *Bridge) Handler() http.Handler {
	mux := http.NewServeMux()
	b.Register(mux)
	return mux
}

// Close tells open websocket connections to go away and waits for their
// handlers to finish or ctx to expire.
func (b *Bridge) Close(ctx context.Context) error {
	b.mu.Lock()
	if !b.closed {
		b.closed = true
		close(b.done)
	}
	b.mu.Unlock()

	finished := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(finished)
	}()
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("bridge: close: %w", ctx.Err())
	}
}

// admit registers a new connection handler. It reports false once Close
// has started.
func (b *Bridge) admit() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return false
	}
	b.wg.Add(1)
	return true
}

// handleWS handles GET /v1/ws.
func (b *Bridge) handleWS(w http.ResponseWriter, r *http.Request) {
	if !b.admit() {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}
	defer b.wg.Done()

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: b.origins})
	if err != nil {
		// Accept has already written the HTTP error response.
		observe.WithTrace(r.Context(), b.logger).Warn("bridge: websocket accept failed", "remote", r.RemoteAddr, "err", err)
		return
	}
	defer conn.CloseNow()
	conn.SetReadLimit(b.readLimit)

	ctx := r.Context()
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-b.done:
			conn.Close(websocket.StatusGoingAway, "server shutting down")
		case <-stop:
		}
	}()

	b.metrics.ActiveConnections.Add(ctx, 1)
	defer b.metrics.ActiveConnections.Add(context.WithoutCancel(ctx), -1)

	log := observe.WithTrace(ctx, b.logger).With("remote", r.RemoteAddr)
	log.Debug("bridge: connection opened")

	err = b.serveConn(ctx, conn)
	select {
	case <-b.done:
		log.Debug("bridge: connection closed for shutdown")
		return
	default:
	}
	switch status := websocket.CloseStatus(err); {
	case status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway:
		log.Debug("bridge: connection closed by peer", "status", status)
	case status != -1:
		log.Info("bridge: connection closed by peer", "status", status, "err", err)
	case errors.Is(err, context.Canceled):
		log.Debug("bridge: request context ended")
	default:
		log.Warn("bridge: connection failed", "err", err)
		conn.Close(websocket.StatusInternalError, "")
	}
}

// serveConn reads frames until the connection ends. Each frame is handled
// to completion and its replies written before the next frame is read.
func (b *Bridge) serveConn(ctx context.Context, conn *websocket.Conn) error {
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}

		var replies []any
		if typ != websocket.MessageText {
			replies = []any{errorReply("", errors.New("frames must be JSON text messages"))}
			b.metrics.RecordFrame(ctx, "binary", "error")
		} else {
			replies = b.handleRaw(ctx, data)
		}

		for _, reply := range replies {
			if err := wsjson.Write(ctx, conn, reply); err != nil {
				return err
			}
		}
	}
}

// handleRaw decodes and dispatches one frame.
func (b *Bridge) handleRaw(ctx context.Context, data []byte) []any {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		b.metrics.RecordFrame(ctx, "invalid", "error")
		return []any{errorReply("", fmt.Errorf("decode frame: %w", err))}
	}

	replies, err := b.HandleFrame(ctx, f)
	status := "ok"
	if err != nil {
		status = "error"
		replies = append(replies, errorReply(f.Type, err))
	}
	b.metrics.RecordFrame(ctx, frameLabel(f.Type), status)
	return replies
}

// HandleFrame handles one frame and returns the replies to send. The
// returned error describes why the frame failed; replies computed before
// the failure are still returned.
func (b *Bridge) HandleFrame(ctx context.Context, f Frame) (replies []any, err error) {
	ctx, span := observe.StartSpan(ctx, "bridge.frame."+frameLabel(f.Type),
		observe.AttrFrameType.String(frameLabel(f.Type)),
		observe.AttrUserID.String(f.UserID),
	)
	defer func() { observe.EndSpan(span, err) }()

	if f.UserID == "" {
		return nil, errors.New("user_id is required")
	}

	switch f.Type {
	case FrameTarget:
		if err := validScene(f.Scene, !f.Targeted); err != nil {
			return nil, err
		}
		if f.TargetID == "" {
			return nil, errors.New("target_id is required")
		}
		res, err := b.tracker.OnTargetToken(ctx, f.UserID, f.Scene, f.TargetID, f.Targeted)
		if err != nil {
			return nil, err
		}
		return []any{flagReply(f.TargetID, res)}, nil

	case FrameUpdate:
		if err := validScene(f.Scene, false); err != nil {
			return nil, err
		}
		results, err := b.tracker.OnUpdateToken(ctx, f.UserID, f.Scene, f.TargetIDs)
		replies = make([]any, 0, len(results))
		for _, res := range results {
			replies = append(replies, flagReply(res.TargetID, res))
		}
		return replies, err

	case FrameAttack:
		if f.Item == nil {
			return nil, errors.New("item is required")
		}
		roll := b.tracker.AttackToHit(ctx, f.UserID, *f.Item, f.Roll)
		return []any{RollReply{Type: ReplyRoll, Roll: roll}}, nil

	default:
		return nil, fmt.Errorf("unknown frame type %q", f.Type)
	}
}

// validScene checks the scene carried by a frame. Releasing a target needs
// no scene.
func validScene(sc *scene.Scene, optional bool) error {
	if sc == nil {
		if optional {
			return nil
		}
		return errors.New("scene is required")
	}
	if err := sc.Validate(); err != nil {
		return fmt.Errorf("invalid scene: %w", err)
	}
	return nil
}

// frameLabel bounds the metric label to known frame types.
func frameLabel(t string) string {
	switch t {
	case FrameTarget, FrameUpdate, FrameAttack:
		return t
	}
	return "unknown"
}
