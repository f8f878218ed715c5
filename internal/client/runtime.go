// Package client implements the client runtime: it holds a connection to
// the broadcast server, applies module updates through the module registry,
// and falls back to a full reload whenever an update cannot be applied.
package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"k8s.io/apimachinery/pkg/util/wait"

	"github.com/hupe1980/livedev/internal/protocol"
	"github.com/hupe1980/livedev/internal/registry"
	"github.com/hupe1980/livedev/internal/version"
)

// Page is what a full reload acts on.
type Page interface {
	Reload()
}

// PageFunc adapts a function to Page.
type PageFunc func()

// Reload calls f.
func (f PageFunc) Reload() { f() }

// Options configures a Runtime.
type Options struct {
	// Endpoint is the websocket URL of the broadcast server.
	Endpoint string

	// RetryInterval is the fixed delay between connection attempts.
	RetryInterval time.Duration

	// ReloadDelay lets the reload overlay render before the page reloads.
	ReloadDelay time.Duration

	// ErrorTimeout hides a build error overlay after the given time. Zero
	// keeps it until the next successful message.
	ErrorTimeout time.Duration

	// NewOverlay creates the overlay on first use.
	NewOverlay func() Overlay

	// Page is reloaded on fallback.
	Page Page

	// Registry holds accept handlers and factories. A new one is created
	// when nil.
	Registry *registry.Registry

	// Dialer opens the websocket connection.
	Dialer *websocket.Dialer

	// UserAgent is sent on the handshake so the server can tell runtimes
	// apart in its logs.
	UserAgent string

	// Logger is used for structured logging.
	Logger *slog.Logger
}

// DefaultOptions returns sensible default runtime options.
func DefaultOptions() Options {
	return Options{
		RetryInterval: time.Second,
		ReloadDelay:   150 * time.Millisecond,
		UserAgent:     version.GetInfo().UserAgent(),
		Logger:        slog.Default(),
	}
}

// Runtime is one client session manager. It owns its module registry and
// overlay.
type Runtime struct {
	opts     Options
	registry *registry.Registry
	logger   *slog.Logger

	mu            sync.Mutex
	overlay       Overlay
	showing       OverlayKind
	visible       bool
	reloadPending bool
	errTimer      *time.Timer
	connected     bool
}

// New creates a runtime.
func New(opts Options) *Runtime {
	defaults := DefaultOptions()

	if opts.RetryInterval <= 0 {
		opts.RetryInterval = defaults.RetryInterval
	}

	if opts.ReloadDelay < 0 {
		opts.ReloadDelay = 0
	}

	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}

	if opts.NewOverlay == nil {
		opts.NewOverlay = func() Overlay { return NewTerminalOverlay(nil, false) }
	}

	if opts.Page == nil {
		logger := opts.Logger
		opts.Page = PageFunc(func() { logger.Info("full reload requested") })
	}

	reg := opts.Registry
	if reg == nil {
		reg = registry.New()
	}

	return &Runtime{
		opts:     opts,
		registry: reg,
		logger:   opts.Logger,
	}
}

// Registry returns the runtime's module registry.
func (r *Runtime) Registry() *registry.Registry {
	return r.registry
}

// Accept registers handler for moduleID.
func (r *Runtime) Accept(moduleID string, handler registry.AcceptHandler) {
	r.registry.Register(moduleID, handler)
}

// Connected reports whether a session is currently open.
func (r *Runtime) Connected() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.connected
}

// Run keeps a session open until ctx is cancelled, reconnecting after the
// fixed retry interval whenever the connection fails or drops. Retries are
// unbounded.
func (r *Runtime) Run(ctx context.Context) error {
	if r.opts.Endpoint == "" {
		return errors.New("client endpoint is required")
	}

	wait.UntilWithContext(ctx, r.session, r.opts.RetryInterval)

	r.mu.Lock()
	if r.errTimer != nil {
		r.errTimer.Stop()
	}
	r.mu.Unlock()

	return nil
}

func (r *Runtime) session(ctx context.Context) {
	var header http.Header
	if r.opts.UserAgent != "" {
		header = http.Header{"User-Agent": {r.opts.UserAgent}}
	}

	ws, resp, err := r.opts.Dialer.DialContext(ctx, r.opts.Endpoint, header)
	if err != nil {
		if ctx.Err() != nil {
			return
		}

		r.logger.Debug("connect failed", slog.String("endpoint", r.opts.Endpoint), slog.String("error", err.Error()))
		r.disconnected()

		return
	}

	defer ws.Close()

	stop := context.AfterFunc(ctx, func() { _ = ws.Close() })
	defer stop()

	r.checkVersion(resp)
	r.onConnect()

	for {
		_, data, readErr := ws.ReadMessage()
		if readErr != nil {
			break
		}

		msg, decodeErr := protocol.Decode(data)
		if decodeErr != nil {
			r.logger.Warn("ignoring malformed message", slog.String("error", decodeErr.Error()))
			continue
		}

		r.HandleMessage(msg)
	}

	if ctx.Err() == nil {
		r.disconnected()
	}
}

func (r *Runtime) checkVersion(resp *http.Response) {
	if resp == nil {
		return
	}

	version := resp.Header.Get(protocol.VersionHeader)

	ok, err := protocol.Compatible(version)
	if err != nil {
		r.logger.Warn("unreadable server protocol version", slog.String("error", err.Error()))
		return
	}

	if !ok {
		r.logger.Warn("server protocol version not supported",
			slog.String("server", version),
			slog.String("supported", protocol.SupportedConstraint),
		)
	}
}

func (r *Runtime) onConnect() {
	r.mu.Lock()
	r.connected = true
	r.mu.Unlock()

	r.logger.Info("connected", slog.String("endpoint", r.opts.Endpoint))
	r.hide()
}

func (r *Runtime) disconnected() {
	r.mu.Lock()
	wasConnected := r.connected
	r.connected = false
	pending := r.reloadPending
	r.mu.Unlock()

	if pending {
		return
	}

	if wasConnected {
		r.logger.Warn("disconnected", slog.String("endpoint", r.opts.Endpoint))
	}

	r.show(OverlayDisconnected, fmt.Sprintf("disconnected from %s, retrying every %s", r.opts.Endpoint, r.opts.RetryInterval))
}

// HandleMessage applies one update message. Messages arriving while a
// reload is pending are ignored.
func (r *Runtime) HandleMessage(msg protocol.Message) {
	r.mu.Lock()
	pending := r.reloadPending
	r.mu.Unlock()

	if pending {
		return
	}

	switch m := msg.(type) {
	case protocol.Reload:
		r.scheduleReload("reloading: "+m.Reason, r.opts.ReloadDelay)
	case protocol.BuildError:
		r.showError(m.Detail)
	case protocol.ModuleUpdate:
		r.applyUpdate(m)
	}
}

func (r *Runtime) applyUpdate(m protocol.ModuleUpdate) {
	handlers := r.registry.Handlers(m.ModuleID)
	if len(handlers) == 0 {
		r.logger.Debug("module not accepted, reloading", slog.String("module", m.ModuleID))
		r.scheduleReload("reloading: "+m.ModuleID, 0)

		return
	}

	if err := r.apply(m, handlers); err != nil {
		r.logger.Warn("module update failed", slog.String("module", m.ModuleID), slog.String("error", err.Error()))
		r.show(OverlayUpdateFailed, fmt.Sprintf("update of %s failed: %v", m.ModuleID, err))
		r.scheduleReload("reloading after failed update of "+m.ModuleID, r.opts.ReloadDelay)

		return
	}

	r.logger.Info("module updated", slog.String("module", m.ModuleID), slog.Int("handlers", len(handlers)))
	r.hide()
}

// apply evaluates the payload and hands the value to every handler in
// registration order. Without a factory the payload itself is the value.
func (r *Runtime) apply(m protocol.ModuleUpdate, handlers []registry.AcceptHandler) error {
	value, err := r.registry.Evaluate(m.ModuleID, m.Payload)
	if err != nil {
		if !errors.Is(err, registry.ErrNoFactory) {
			return err
		}

		value = m.Payload
	}

	for i, h := range handlers {
		if err := invoke(h, value); err != nil {
			return fmt.Errorf("handler %d: %w", i, err)
		}
	}

	return nil
}

func invoke(h registry.AcceptHandler, value any) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
		}
	}()

	return h(value)
}

// scheduleReload shows the reloading overlay and reloads the page after
// delay. At most one reload is pending at a time.
func (r *Runtime) scheduleReload(text string, delay time.Duration) {
	r.mu.Lock()
	if r.reloadPending {
		r.mu.Unlock()
		return
	}

	r.reloadPending = true
	r.mu.Unlock()

	r.show(OverlayReloading, text)

	reload := func() {
		r.opts.Page.Reload()

		r.mu.Lock()
		r.reloadPending = false
		r.mu.Unlock()
	}

	if delay <= 0 {
		reload()
		return
	}

	time.AfterFunc(delay, reload)
}

func (r *Runtime) showError(detail string) {
	r.show(OverlayError, detail)

	if r.opts.ErrorTimeout <= 0 {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.errTimer != nil {
		r.errTimer.Stop()
	}

	r.errTimer = time.AfterFunc(r.opts.ErrorTimeout, r.hideError)
}

// hideError clears the overlay only while it still shows a build error.
func (r *Runtime) hideError() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.visible && r.showing == OverlayError {
		r.overlay.Hide()
		r.visible = false
	}
}

// overlayLocked returns the singleton overlay, creating it on first use.
func (r *Runtime) overlayLocked() Overlay {
	if r.overlay == nil {
		r.overlay = r.opts.NewOverlay()
	}

	return r.overlay
}

func (r *Runtime) show(kind OverlayKind, text string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if kind != OverlayError && r.errTimer != nil {
		r.errTimer.Stop()
		r.errTimer = nil
	}

	r.overlayLocked().Show(kind, text)
	r.showing = kind
	r.visible = true
}

// hide clears the overlay if one was ever created.
func (r *Runtime) hide() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.overlay != nil {
		r.overlay.Hide()
		r.visible = false
	}
}
