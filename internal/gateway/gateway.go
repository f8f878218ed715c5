// Package gateway serves the initial page markup and the latest built
// artifact to the browser. Every page response carries the bootstrap that
// starts the live-update client runtime.
package gateway

import (
	"bytes"
	"context"
	_ "embed"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"mime"
	"net"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/hupe1980/livedev/internal/build"
)

// ClientPath is where the client runtime script is served.
const ClientPath = "/__livedev/client.js"

const shutdownTimeout = 5 * time.Second

//go:embed assets/client.js
var clientScript []byte

// ArtifactSource yields the latest good artifact.
type ArtifactSource interface {
	Current() *build.Artifact
}

// Options configures the gateway.
type Options struct {
	// PublicDir holds index.html. A generated page is used when absent.
	PublicDir string

	// BroadcastPort and BroadcastPath locate the websocket endpoint relative
	// to the page's host.
	BroadcastPort int
	BroadcastPath string

	// RetryInterval and ReloadDelay are passed to the browser runtime.
	RetryInterval time.Duration
	ReloadDelay   time.Duration

	// Logger is used for structured logging.
	Logger *slog.Logger
}

// Gateway is the HTTP front of the development server.
type Gateway struct {
	src  ArtifactSource
	opts Options
}

// New creates a gateway serving artifacts from src.
func New(src ArtifactSource, opts Options) *Gateway {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	return &Gateway{src: src, opts: opts}
}

// Handler returns the gateway's HTTP handler.
func (g *Gateway) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET "+ClientPath, g.handleClient)
	mux.HandleFunc("GET /", g.handleRoot)

	return mux
}

func (g *Gateway) handleClient(w http.ResponseWriter, _ *http.Request) {
	noStore(w)
	w.Header().Set("Content-Type", "text/javascript; charset=utf-8")
	_, _ = w.Write(clientScript)
}

func (g *Gateway) handleRoot(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimPrefix(path.Clean(r.URL.Path), "/")

	if name == "" || name == "index.html" {
		g.serveIndex(w)
		return
	}

	f, ok := g.src.Current().Lookup(name)
	if !ok {
		http.NotFound(w, r)
		return
	}

	noStore(w)

	ctype := mime.TypeByExtension(path.Ext(name))
	if ctype == "" {
		ctype = http.DetectContentType(f.Contents)
	}

	w.Header().Set("Content-Type", ctype)
	_, _ = w.Write(f.Contents)
}

func (g *Gateway) serveIndex(w http.ResponseWriter) {
	page, err := g.indexMarkup()
	if err != nil {
		g.opts.Logger.Error("reading index page", slog.String("error", err.Error()))
		http.Error(w, "cannot read index.html", http.StatusInternalServerError)

		return
	}

	noStore(w)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(Inject(page, g.bootstrap()))
}

func (g *Gateway) indexMarkup() ([]byte, error) {
	if g.opts.PublicDir != "" {
		data, err := os.ReadFile(filepath.Join(g.opts.PublicDir, "index.html"))
		if err == nil {
			return data, nil
		}

		if !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
	}

	return g.fallbackPage(), nil
}

// fallbackPage links every stylesheet and loads every JavaScript output of
// the current artifact.
func (g *Gateway) fallbackPage() []byte {
	var b bytes.Buffer

	a := g.src.Current()

	b.WriteString("<!doctype html>\n<html>\n<head><meta charset=\"utf-8\"><title>livedev</title>\n")

	if a != nil {
		for _, f := range a.Files {
			if path.Ext(f.Name) == ".css" {
				fmt.Fprintf(&b, "<link rel=\"stylesheet\" href=\"/%s\">\n", html.EscapeString(f.Name))
			}
		}
	}

	b.WriteString("</head>\n<body>\n<div id=\"root\"></div>\n")

	if a != nil {
		for _, f := range a.Files {
			if path.Ext(f.Name) == ".js" {
				fmt.Fprintf(&b, "<script type=\"module\" src=\"/%s\"></script>\n", html.EscapeString(f.Name))
			}
		}
	}

	b.WriteString("</body>\n</html>\n")

	return b.Bytes()
}

func (g *Gateway) bootstrap() string {
	attrs := []string{
		fmt.Sprintf("src=%q", ClientPath),
		fmt.Sprintf("data-port=%q", strconv.Itoa(g.opts.BroadcastPort)),
	}

	if g.opts.BroadcastPath != "" {
		attrs = append(attrs, fmt.Sprintf("data-path=%q", html.EscapeString(g.opts.BroadcastPath)))
	}

	if g.opts.RetryInterval > 0 {
		attrs = append(attrs, fmt.Sprintf("data-retry=%q", strconv.FormatInt(g.opts.RetryInterval.Milliseconds(), 10)))
	}

	if g.opts.ReloadDelay > 0 {
		attrs = append(attrs, fmt.Sprintf("data-reload-delay=%q", strconv.FormatInt(g.opts.ReloadDelay.Milliseconds(), 10)))
	}

	return "<script " + strings.Join(attrs, " ") + "></script>"
}

// Inject inserts tag before the closing body tag, or appends it when the
// markup has none.
func Inject(page []byte, tag string) []byte {
	idx := bytes.LastIndex(bytes.ToLower(page), []byte("</body>"))
	if idx < 0 {
		out := make([]byte, 0, len(page)+len(tag)+1)
		out = append(out, page...)
		out = append(out, tag...)

		return append(out, '\n')
	}

	out := make([]byte, 0, len(page)+len(tag)+1)
	out = append(out, page[:idx]...)
	out = append(out, tag...)
	out = append(out, '\n')

	return append(out, page[idx:]...)
}

func noStore(w http.ResponseWriter) {
	w.Header().Set("Cache-Control", "no-store")
}

// Listen binds addr. A port already in use is reported here, before any
// serving starts.
func Listen(addr string) (net.Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listening on %s: %w", addr, err)
	}

	return ln, nil
}

// Serve serves handler on ln until ctx is cancelled.
func Serve(ctx context.Context, ln net.Listener, handler http.Handler, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	server := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelError),
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}

	logger.Info("serving pages", slog.String("addr", "http://"+ln.Addr().String()))

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Serve(ln)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)

		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}

		return err
	}
}
