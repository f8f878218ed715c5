package build

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/evanw/esbuild/pkg/api"
	"k8s.io/apimachinery/pkg/util/sets"
)

// moduleExtensions are the source extensions that can be hot-swapped as a
// single module. Everything else (markup, styles, assets) forces a reload.
var moduleExtensions = sets.New(".js", ".mjs", ".jsx", ".ts", ".mts", ".tsx")

var targets = map[string]api.Target{
	"esnext": api.ESNext,
	"es5":    api.ES5,
	"es2015": api.ES2015,
	"es2016": api.ES2016,
	"es2017": api.ES2017,
	"es2018": api.ES2018,
	"es2019": api.ES2019,
	"es2020": api.ES2020,
	"es2021": api.ES2021,
	"es2022": api.ES2022,
}

var loaderNames = map[string]api.Loader{
	"js":      api.LoaderJS,
	"jsx":     api.LoaderJSX,
	"ts":      api.LoaderTS,
	"tsx":     api.LoaderTSX,
	"json":    api.LoaderJSON,
	"css":     api.LoaderCSS,
	"text":    api.LoaderText,
	"base64":  api.LoaderBase64,
	"dataurl": api.LoaderDataURL,
	"file":    api.LoaderFile,
	"binary":  api.LoaderBinary,
	"copy":    api.LoaderCopy,
	"empty":   api.LoaderEmpty,
}

// Targets returns the supported target names in sorted order.
func Targets() []string {
	return sets.List(sets.KeySet(targets))
}

// ParseTarget maps a target environment string to a compiler target. An
// empty string selects esnext.
func ParseTarget(s string) (api.Target, error) {
	if s == "" {
		return api.ESNext, nil
	}

	t, ok := targets[strings.ToLower(s)]
	if !ok {
		return api.DefaultTarget, fmt.Errorf("unsupported target %q", s)
	}

	return t, nil
}

func parseLoaders(in map[string]string) (map[string]api.Loader, error) {
	if len(in) == 0 {
		return nil, nil
	}

	out := make(map[string]api.Loader, len(in))

	for ext, name := range in {
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}

		l, ok := loaderNames[strings.ToLower(name)]
		if !ok {
			return nil, fmt.Errorf("unknown loader %q for extension %q", name, ext)
		}

		out[ext] = l
	}

	return out, nil
}

// IsModule reports whether path is a source file that can be updated in
// place without a full reload.
func IsModule(path string) bool {
	return moduleExtensions.Has(strings.ToLower(filepath.Ext(path)))
}

// ModuleID returns the stable id of the module at path: the slash-separated
// path relative to the project root without its extension ("src/App").
func (c *Context) ModuleID(path string) (string, error) {
	abs := resolve(c.root, path)

	rel, err := filepath.Rel(c.root, abs)
	if err != nil {
		return "", fmt.Errorf("module path %q: %w", path, err)
	}

	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("module path %q is outside the project root", path)
	}

	rel = filepath.ToSlash(rel)

	return strings.TrimSuffix(rel, filepath.Ext(rel)), nil
}

// TransformModule compiles the single module at path into a standalone
// payload. Errors are reported as *BuildFailure.
func (c *Context) TransformModule(path string) (string, error) {
	abs := resolve(c.root, path)

	src, err := os.ReadFile(abs)
	if err != nil {
		return "", fmt.Errorf("reading module %q: %w", path, err)
	}

	rel, relErr := filepath.Rel(c.root, abs)
	if relErr != nil {
		rel = abs
	}

	result := api.Transform(string(src), api.TransformOptions{
		Loader:     c.loaderFor(abs),
		Format:     api.FormatESModule,
		Target:     c.target,
		Sourcefile: filepath.ToSlash(rel),
		Define:     c.opts.Define,
		LogLevel:   api.LogLevelSilent,
	})

	if len(result.Errors) > 0 {
		return "", &BuildFailure{
			Detail: formatMessages(result.Errors, api.ErrorMessage),
			Count:  len(result.Errors),
		}
	}

	return string(result.Code), nil
}

func (c *Context) loaderFor(path string) api.Loader {
	ext := strings.ToLower(filepath.Ext(path))

	if l, ok := c.loaders[ext]; ok {
		return l
	}

	switch ext {
	case ".jsx":
		return api.LoaderJSX
	case ".ts", ".mts":
		return api.LoaderTS
	case ".tsx":
		return api.LoaderTSX
	default:
		return api.LoaderJS
	}
}
