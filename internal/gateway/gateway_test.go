package gateway

import (
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/livedev/internal/build"
)

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

type stubSource struct {
	mu       sync.Mutex
	artifact *build.Artifact
}

func (s *stubSource) Current() *build.Artifact {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.artifact
}

func (s *stubSource) set(a *build.Artifact) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.artifact = a
}

func artifactWith(files map[string]string) *build.Artifact {
	a := &build.Artifact{}
	for name, contents := range files {
		a.Files = append(a.Files, build.File{Name: name, Contents: []byte(contents)})
	}

	return a
}

func testOptions() Options {
	return Options{
		BroadcastPort: 35729,
		BroadcastPath: "/__livedev/ws",
		Logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func do(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))

	return rec
}

// ---------------------------------------------------------------------------
// Index page
// ---------------------------------------------------------------------------

func TestIndex_InjectsBootstrapFromPublicDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"),
		[]byte("<html><body><div id=\"app\"></div></body></html>"), 0o644))

	opts := testOptions()
	opts.PublicDir = dir
	opts.RetryInterval = time.Second

	g := New(&stubSource{}, opts)

	rec := do(t, g.Handler(), "/")
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.Contains(t, body, `<script src="/__livedev/client.js" data-port="35729" data-path="/__livedev/ws" data-retry="1000"></script>`)
	assert.Less(t, strings.Index(body, "client.js"), strings.Index(body, "</body>"))
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
}

func TestIndex_FallbackPageListsScripts(t *testing.T) {
	src := &stubSource{}
	src.set(artifactWith(map[string]string{"main.js": "x", "main.js.map": "{}"}))

	g := New(src, testOptions())

	rec := do(t, g.Handler(), "/index.html")
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.Contains(t, body, `<script type="module" src="/main.js"></script>`)
	assert.NotContains(t, body, "main.js.map")
	assert.Contains(t, body, "client.js")
}

func TestIndex_FallbackPageLinksStylesheets(t *testing.T) {
	src := &stubSource{}
	src.set(artifactWith(map[string]string{"main.js": "x", "main.css": "body{}", "main.css.map": "{}"}))

	g := New(src, testOptions())

	rec := do(t, g.Handler(), "/")
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.Contains(t, body, `<link rel="stylesheet" href="/main.css">`)
	assert.NotContains(t, body, "main.css.map")
	assert.Less(t, strings.Index(body, "main.css"), strings.Index(body, "</head>"))
	assert.Greater(t, strings.Index(body, "main.js"), strings.Index(body, "<body>"))
}

func TestIndex_FallbackWithoutArtifact(t *testing.T) {
	g := New(&stubSource{}, testOptions())

	rec := do(t, g.Handler(), "/")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "client.js")
}

func TestInject(t *testing.T) {
	tests := []struct {
		name string
		page string
		want string
	}{
		{"before body", "<body><p></p></body>", "<body><p></p><tag>\n</body>"},
		{"upper case", "<BODY></BODY>", "<BODY><tag>\n</BODY>"},
		{"last body", "<body>a</body><!-- </body> --></body>", "<body>a</body><!-- </body> --><tag>\n</body>"},
		{"no body", "<p>bare</p>", "<p>bare</p><tag>\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, string(Inject([]byte(tt.page), "<tag>")))
		})
	}
}

// ---------------------------------------------------------------------------
// Artifact files
// ---------------------------------------------------------------------------

func TestArtifact_ServesLatestWithoutCaching(t *testing.T) {
	src := &stubSource{}
	src.set(artifactWith(map[string]string{"main.js": "v1", "assets/app.css": "body{}"}))

	h := New(src, testOptions()).Handler()

	rec := do(t, h, "/main.js")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "v1", rec.Body.String())
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
	assert.Contains(t, rec.Header().Get("Content-Type"), "javascript")

	rec = do(t, h, "/assets/app.css")
	assert.Equal(t, "body{}", rec.Body.String())
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/css")

	src.set(artifactWith(map[string]string{"main.js": "v2"}))

	rec = do(t, h, "/main.js")
	assert.Equal(t, "v2", rec.Body.String())
}

func TestArtifact_NotFound(t *testing.T) {
	src := &stubSource{}
	src.set(artifactWith(map[string]string{"main.js": "v1"}))

	h := New(src, testOptions()).Handler()

	assert.Equal(t, http.StatusNotFound, do(t, h, "/missing.js").Code)
	assert.Equal(t, http.StatusNotFound, do(t, h, "/main.jsx").Code)
}

func TestClientScript(t *testing.T) {
	rec := do(t, New(&stubSource{}, testOptions()).Handler(), ClientPath)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "javascript")
	assert.Contains(t, rec.Body.String(), "WebSocket")
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
}

func TestClientScript_FailedImportFallsBackToReload(t *testing.T) {
	rec := do(t, New(&stubSource{}, testOptions()).Handler(), ClientPath)
	body := rec.Body.String()

	blob := strings.Index(body, "URL.createObjectURL")
	require.Positive(t, blob)

	rest := body[blob:]
	assert.Contains(t, rest, ".catch(")
	assert.Contains(t, rest, `reload("update of "`)
	assert.Contains(t, rest, "URL.revokeObjectURL(url)")
}

// ---------------------------------------------------------------------------
// Listening
// ---------------------------------------------------------------------------

func TestListen_PortInUse(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	_, err = Listen(ln.Addr().String())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "listening on")
}

func TestServe_StopsOnCancel(t *testing.T) {
	ln, err := Listen("127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)

	go func() {
		done <- Serve(ctx, ln, New(&stubSource{}, testOptions()).Handler(), nil)
	}()

	require.Eventually(t, func() bool {
		resp, getErr := http.Get("http://" + ln.Addr().String() + ClientPath)
		if getErr != nil {
			return false
		}

		_ = resp.Body.Close()

		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)

	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return")
	}
}
