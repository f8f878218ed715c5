package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/hupe1980/livedev/internal/config"
)

// newProject writes files (relative path → contents) into a temp directory.
func newProject(t *testing.T, files map[string]string) string {
	t.Helper()

	dir := t.TempDir()
	for name, contents := range files {
		p := filepath.Join(dir, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(contents), 0o644))
	}

	return dir
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeConfigFile(t *testing.T, contents string) string {
	t.Helper()

	p := filepath.Join(t.TempDir(), "livedev.yaml")
	require.NoError(t, os.WriteFile(p, []byte(contents), 0o644))

	return p
}

// ---------------------------------------------------------------------------
// build
// ---------------------------------------------------------------------------

func TestBuildCommand_WritesArtifact(t *testing.T) {
	dir := newProject(t, map[string]string{
		"src/main.ts": "import { greet } from './App'\nconsole.log(greet('dev'))\n",
		"src/App.ts":  "export function greet(name: string): string { return 'hello ' + name }\n",
	})

	stdout, _, err := executeCommand("build", dir, "--entry", "src/main.ts", "--log-level", "error")
	require.NoError(t, err)

	assert.Contains(t, stdout, "dist/main.js")
	assert.Contains(t, stdout, "dist/main.js.map")
	assert.Contains(t, stdout, "built 2 file(s)")

	data, err := os.ReadFile(filepath.Join(dir, "dist", "main.js"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "hello ")
}

func TestBuildCommand_Quiet(t *testing.T) {
	dir := newProject(t, map[string]string{"src/main.ts": "console.log(1)\n"})

	stdout, _, err := executeCommand("--quiet", "build", dir, "--entry", "src/main.ts", "--sourcemap=false")
	require.NoError(t, err)
	assert.Empty(t, stdout)
	assert.FileExists(t, filepath.Join(dir, "dist", "main.js"))
	assert.NoFileExists(t, filepath.Join(dir, "dist", "main.js.map"))
}

func TestBuildCommand_DefineFromConfigFile(t *testing.T) {
	dir := newProject(t, map[string]string{"src/main.ts": "console.log(__APP_VERSION__)\n"})
	cfgFile := writeConfigFile(t, "define:\n  __APP_VERSION__: '\"9.9.9\"'\n")

	_, _, err := executeCommand("--config", cfgFile, "build", dir, "--entry", "src/main.ts", "--log-level", "error")
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(dir, "dist", "main.js"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "9.9.9")
}

func TestBuildCommand_FailureExitsWithCode1(t *testing.T) {
	dir := newProject(t, map[string]string{"src/main.ts": "const = ;\n"})

	_, stderr, err := executeCommand("build", dir, "--entry", "src/main.ts", "--log-level", "error")
	require.Error(t, err)

	var exitErr *ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, 1, exitErr.Code)
	assert.Contains(t, stderr, "main.ts")
	assert.NoFileExists(t, filepath.Join(dir, "dist", "main.js"))
}

func TestBuildCommand_MissingEntryExitsWithCode2(t *testing.T) {
	dir := newProject(t, map[string]string{"src/other.ts": "export {}\n"})

	_, _, err := executeCommand("build", dir, "--entry", "src/main.ts")
	require.Error(t, err)

	var exitErr *ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, 2, exitErr.Code)
	assert.Contains(t, err.Error(), "entry")
}

func TestBuildCommand_InvalidBuildConfig(t *testing.T) {
	dir := newProject(t, map[string]string{"src/main.ts": "console.log(1)\n"})
	cfgFile := writeConfigFile(t, "loaders:\n  svg: file\n")

	_, _, err := executeCommand("--config", cfgFile, "build", dir, "--entry", "src/main.ts")
	require.Error(t, err)

	var exitErr *ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, 2, exitErr.Code)
	assert.Contains(t, err.Error(), "file extension")
}

func TestFormatSize(t *testing.T) {
	assert.Equal(t, "512 B", formatSize(512))
	assert.Equal(t, "2.0 KiB", formatSize(2048))
	assert.Equal(t, "1.5 MiB", formatSize(3<<19))
}

// ---------------------------------------------------------------------------
// serve
// ---------------------------------------------------------------------------

func TestServeCommand_MissingEntryExitsWithCode2(t *testing.T) {
	dir := newProject(t, map[string]string{"index.html": "<html></html>"})

	_, _, err := executeCommand("serve", dir, "--port", "0", "--ws-port", "0")
	require.Error(t, err)

	var exitErr *ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, 2, exitErr.Code)
}

func TestServeCommand_SamePortsRejected(t *testing.T) {
	_, _, err := executeCommand("serve", "--port", "4000", "--ws-port", "4000")
	require.Error(t, err)

	var exitErr *ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, 2, exitErr.Code)
}

func TestServerOptions(t *testing.T) {
	cfg := config.Default()
	cfg.Host = "0.0.0.0"
	cfg.Port = 8080
	cfg.WSPort = 8081
	cfg.Exclude = []string{"tmp"}

	bcfg := &config.BuildConfig{Define: map[string]string{"DEBUG": "true"}}

	opts := serverOptions(cfg, bcfg, discardLogger())

	assert.Equal(t, "0.0.0.0:8080", opts.GatewayAddr)
	assert.Equal(t, "0.0.0.0:8081", opts.BroadcastAddr)
	assert.Equal(t, []string{"tmp"}, opts.Exclude)
	assert.Equal(t, cfg.Debounce, opts.Watch.Debounce)
	assert.Equal(t, map[string]string{"DEBUG": "true"}, opts.Build.Define)
	assert.Nil(t, opts.Build.Logger)
	assert.Nil(t, opts.Watch.Logger)
	assert.True(t, opts.Build.WriteToDisk)
}

// ---------------------------------------------------------------------------
// tail
// ---------------------------------------------------------------------------

func TestTailEndpoint(t *testing.T) {
	cfg := config.Default()

	tests := []struct {
		name    string
		args    []string
		want    string
		wantErr string
	}{
		{"derived", nil, "ws://127.0.0.1:35729/__livedev/ws", ""},
		{"explicit", []string{"ws://localhost:9000/custom"}, "ws://localhost:9000/custom", ""},
		{"path defaulted", []string{"wss://dev.example.com"}, "wss://dev.example.com/__livedev/ws", ""},
		{"http scheme", []string{"http://localhost:9000"}, "", "scheme must be ws or wss"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tailEndpoint(cfg, tt.args)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTailEndpoint_EphemeralPortNeedsURL(t *testing.T) {
	cfg := config.Default()
	cfg.WSPort = 0

	_, err := tailEndpoint(cfg, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--ws-port")
}

func TestTailCommand_StopsWhenContextDone(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	cmd := NewRootCommand()
	errBuf := new(bytes.Buffer)
	cmd.SetOut(new(bytes.Buffer))
	cmd.SetErr(errBuf)
	cmd.SetArgs([]string{"tail", "--ws-port", "45999"})

	require.NoError(t, cmd.ExecuteContext(ctx))
	assert.Contains(t, errBuf.String(), "tailing ws://127.0.0.1:45999/__livedev/ws")
}

func TestTailCommand_InvalidEndpoint(t *testing.T) {
	_, _, err := executeCommand("tail", "ftp://example.com")
	require.Error(t, err)

	var exitErr *ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, 2, exitErr.Code)
}

// ---------------------------------------------------------------------------
// config
// ---------------------------------------------------------------------------

func TestConfigCommand_YAML(t *testing.T) {
	cfgFile := writeConfigFile(t, "port: 4000\nloaders:\n  .svg: file\n")

	stdout, _, err := executeCommand("--config", cfgFile, "config", "--log-level", "error")
	require.NoError(t, err)

	var out map[string]any
	require.NoError(t, yaml.Unmarshal([]byte(stdout), &out))

	assert.Equal(t, 4000, out["port"])
	assert.Equal(t, "100ms", out["debounce"])
	assert.Equal(t, "1s", out["retry-interval"])
	assert.Equal(t, map[string]any{".svg": "file"}, out["loaders"])
	assert.Equal(t, cfgFile, out["config-file"])
}

func TestConfigCommand_JSON(t *testing.T) {
	stdout, _, err := executeCommand("config", "-o", "json", "--log-level", "error")
	require.NoError(t, err)

	var out map[string]any
	require.NoError(t, json.Unmarshal([]byte(stdout), &out))

	assert.Equal(t, "error", out["logLevel"])
	assert.InDelta(t, 35729, out["wsPort"], 0)
	assert.Equal(t, "150ms", out["reloadDelay"])
	assert.NotContains(t, out, "loaders")
}

func TestConfigCommand_UnsupportedFormat(t *testing.T) {
	_, _, err := executeCommand("config", "-o", "toml")
	require.Error(t, err)

	var exitErr *ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, 2, exitErr.Code)
}

// ---------------------------------------------------------------------------
// completion
// ---------------------------------------------------------------------------

func TestCompletionCommand_Shells(t *testing.T) {
	for _, shell := range []string{"bash", "zsh", "fish", "powershell"} {
		t.Run(shell, func(t *testing.T) {
			stdout, _, err := executeCommand("completion", shell)
			require.NoError(t, err)
			assert.Contains(t, stdout, "livedev")
		})
	}
}

func TestCompletionCommand_UnknownShell(t *testing.T) {
	_, _, err := executeCommand("completion", "tcsh")
	require.Error(t, err)
}

func TestFlagCompletions(t *testing.T) {
	tests := []struct {
		args []string
		want []string
	}{
		{[]string{"__complete", "build", "--target", ""}, []string{"esnext", "es2020"}},
		{[]string{"__complete", "serve", "--log-level", ""}, []string{"debug", "error"}},
		{[]string{"__complete", "build", "--log-format", ""}, []string{"text", "json"}},
		{[]string{"__complete", "config", "--output", ""}, []string{"yaml", "json"}},
	}

	for _, tt := range tests {
		t.Run(tt.args[2], func(t *testing.T) {
			stdout, _, err := executeCommand(tt.args...)
			require.NoError(t, err)

			for _, w := range tt.want {
				assert.Contains(t, stdout, w)
			}
		})
	}
}
