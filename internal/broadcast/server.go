// Package broadcast implements the update broadcast server: it accepts
// persistent websocket connections from client runtimes, tracks the live
// client set, and fans update messages out to every connected client.
package broadcast

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hupe1980/livedev/internal/protocol"
)

// DefaultPath is the websocket endpoint path.
const DefaultPath = "/__livedev/ws"

// ErrServerClosed is returned by Start after Close.
var ErrServerClosed = errors.New("broadcast server closed")

const shutdownTimeout = 5 * time.Second

// Options configures the broadcast server.
type Options struct {
	// Path is the websocket endpoint path.
	Path string

	// WriteTimeout bounds a single send to one client.
	WriteTimeout time.Duration

	// Logger is used for structured logging.
	Logger *slog.Logger
}

// DefaultOptions returns sensible default server options.
func DefaultOptions() Options {
	return Options{
		Path:         DefaultPath,
		WriteTimeout: 5 * time.Second,
		Logger:       slog.Default(),
	}
}

// Server owns the live client set. The set is only mutated by the server's
// own connect, disconnect and send-failure paths.
type Server struct {
	opts     Options
	upgrader websocket.Upgrader

	mu     sync.RWMutex
	conns  map[string]*Conn
	closed bool

	// broadcastMu serializes broadcasts so every client observes messages
	// in broadcast order.
	broadcastMu sync.Mutex

	srvMu    sync.Mutex
	httpSrv  *http.Server
	listener net.Listener
}

// New creates a server. Call Start to listen, or mount Handler on an
// existing mux.
func New(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	if opts.Path == "" {
		opts.Path = DefaultPath
	}

	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = DefaultOptions().WriteTimeout
	}

	return &Server{
		opts:  opts,
		conns: make(map[string]*Conn),
		upgrader: websocket.Upgrader{
			// Local development server; pages are served from another port.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Start listens on addr and serves in the background until ctx is
// cancelled or Close is called. A listen failure (port in use) is returned
// immediately.
func (s *Server) Start(ctx context.Context, addr string) error {
	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()

	if closed {
		return ErrServerClosed
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}

	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}

	s.srvMu.Lock()
	s.httpSrv = srv
	s.listener = ln
	s.srvMu.Unlock()

	go func() {
		if serveErr := srv.Serve(ln); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			s.opts.Logger.Error("broadcast server stopped", slog.String("error", serveErr.Error()))
		}
	}()

	go func() {
		<-ctx.Done()
		_ = s.Close()
	}()

	s.opts.Logger.Info("broadcast server listening",
		slog.String("addr", ln.Addr().String()),
		slog.String("path", s.opts.Path),
	)

	return nil
}

// Addr returns the listening address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.srvMu.Lock()
	defer s.srvMu.Unlock()

	if s.listener == nil {
		return nil
	}

	return s.listener.Addr()
}

// Handler returns the HTTP handler serving the websocket endpoint.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(s.opts.Path, s.handleWS)

	return mux
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	c := newConn()
	c.Agent = r.UserAgent()

	header := http.Header{}
	header.Set(protocol.VersionHeader, protocol.Version)

	ws, err := s.upgrader.Upgrade(w, r, header)
	if err != nil {
		c.close()
		s.opts.Logger.Debug("websocket upgrade failed", slog.String("error", err.Error()))

		return
	}

	if !s.attach(c, &wsSocket{conn: ws, timeout: s.opts.WriteTimeout}) {
		return
	}

	// Client frames carry no meaning; reading keeps control frames flowing
	// and surfaces closure.
	for {
		if _, _, readErr := ws.ReadMessage(); readErr != nil {
			break
		}
	}

	s.Detach(c)
}

// Attach adds a connection over sock to the live set. No earlier messages
// are replayed. It returns nil when the server is closed.
func (s *Server) Attach(sock Socket) *Conn {
	c := newConn()
	if !s.attach(c, sock) {
		return nil
	}

	return c
}

func (s *Server) attach(c *Conn, sock Socket) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		c.state.Store(int32(Closed))
		_ = sock.Close()

		return false
	}

	if !c.open(sock) {
		s.mu.Unlock()
		c.close()

		return false
	}

	s.conns[c.ID] = c
	n := len(s.conns)
	s.mu.Unlock()

	s.opts.Logger.Info("client connected",
		slog.String("id", c.ID),
		slog.String("agent", c.Agent),
		slog.Int("clients", n),
	)

	return true
}

// Detach removes c from the live set and closes it. It is idempotent.
func (s *Server) Detach(c *Conn) {
	if c == nil {
		return
	}

	s.mu.Lock()
	_, present := s.conns[c.ID]
	delete(s.conns, c.ID)
	n := len(s.conns)
	s.mu.Unlock()

	closed := c.close()

	if present || closed {
		s.opts.Logger.Info("client disconnected", slog.String("id", c.ID), slog.Int("clients", n))
	}
}

// Broadcast sends msg to every live connection and returns the number of
// successful deliveries. A failing connection is removed from the set; the
// failure is never returned to the caller.
func (s *Server) Broadcast(msg protocol.Message) int {
	data, err := protocol.Encode(msg)
	if err != nil {
		s.opts.Logger.Error("dropping unencodable message", slog.String("error", err.Error()))
		return 0
	}

	s.broadcastMu.Lock()
	defer s.broadcastMu.Unlock()

	s.mu.RLock()
	targets := make([]*Conn, 0, len(s.conns))
	for _, c := range s.conns {
		targets = append(targets, c)
	}
	s.mu.RUnlock()

	delivered := 0

	for _, c := range targets {
		if sendErr := c.send(data); sendErr != nil {
			s.opts.Logger.Warn("send failed, dropping client",
				slog.String("id", c.ID),
				slog.String("error", sendErr.Error()),
			)
			s.Detach(c)

			continue
		}

		delivered++
	}

	s.opts.Logger.Debug("broadcast",
		slog.String("type", msg.Type()),
		slog.Int("delivered", delivered),
		slog.Int("dropped", len(targets)-delivered),
	)

	return delivered
}

// Clients returns the number of live connections.
func (s *Server) Clients() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.conns)
}

// Close stops listening and closes every live connection. It is safe to call
// more than once.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}

	s.closed = true
	conns := make([]*Conn, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		s.Detach(c)
	}

	s.srvMu.Lock()
	srv := s.httpSrv
	s.srvMu.Unlock()

	if srv == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down broadcast server: %w", err)
	}

	return nil
}

// wsSocket adapts a websocket connection to Socket.
type wsSocket struct {
	conn    *websocket.Conn
	timeout time.Duration
}

func (w *wsSocket) WriteMessage(data []byte) error {
	if err := w.conn.SetWriteDeadline(time.Now().Add(w.timeout)); err != nil {
		return err
	}

	return w.conn.WriteMessage(websocket.TextMessage, data)
}

// Close sends a close frame and closes the connection. WriteControl and
// Close may run concurrently with WriteMessage.
func (w *wsSocket) Close() error {
	_ = w.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseGoingAway, ""),
		time.Now().Add(time.Second))

	return w.conn.Close()
}
