// Package mcp exposes flanking evaluation as Model Context Protocol tools so
// assistants and GM tooling can ask "is this creature flanked?" about a
// scene snapshot.
//
// Two tools are registered:
//   - "check_flanking"   evaluates one target and returns the bonus.
//   - "scene_candidates" lists how every token on the scene was classified.
//
// The server is stateless; nothing is written to the flag store. It is
// served over streamable HTTP by the main server and over stdio by
// "flanker mcp".
package mcp

import (
	"context"
	"log/slog"
	"net/http"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/MrWong99/flanker/internal/observe"
	"github.com/MrWong99/flanker/internal/tracker"
)

// Implementation name and version announced to MCP clients.
const (
	serverName    = "flanker"
	serverVersion = "1.0.0"
)

// Server wraps an MCP server with the flanking tools registered.
type Server struct {
	srv     *mcpsdk.Server
	tracker *tracker.Tracker
	metrics *observe.Metrics
	logger  *slog.Logger
}

// Option is a functional option for [NewServer].
type Option func(*Server)

// WithMetrics records tool calls to m.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithLogger sets the logger. Defaults to [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// NewServer creates an MCP server evaluating scenes with tr.
func NewServer(tr *tracker.Tracker, opts ...Option) *Server {
	s := &Server{
		tracker: tr,
		logger:  slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}

	s.srv = mcpsdk.NewServer(&mcpsdk.Implementation{Name: serverName, Version: serverVersion}, nil)
	s.registerTools()
	return s
}

// Handler returns an [http.Handler] serving the MCP streamable HTTP
// transport.
func (s *Server) Handler() http.Handler {
	return mcpsdk.NewStreamableHTTPHandler(func(*http.Request) *mcpsdk.Server { return s.srv }, nil)
}

// Run serves a single session over t until the client disconnects or ctx
// is cancelled.
func (s *Server) Run(ctx context.Context, t mcpsdk.Transport) error {
	return s.srv.Run(ctx, t)
}

// RunStdio serves a single session over stdin and stdout.
func (s *Server) RunStdio(ctx context.Context) error {
	return s.Run(ctx, &mcpsdk.StdioTransport{})
}

// Connect starts a session over t without blocking. Used with in-memory
// transports.
func (s *Server) Connect(ctx context.Context, t mcpsdk.Transport) (*mcpsdk.ServerSession, error) {
	return s.srv.Connect(ctx, t, nil)
}
