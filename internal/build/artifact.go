package build

import (
	"crypto/sha256"
	"encoding/hex"
	"path"
	"sort"
	"strings"
	"time"
)

// File is one output file of an artifact.
type File struct {
	// Path is the absolute output path.
	Path string
	// Name is the slash-separated path relative to the output directory.
	Name     string
	Contents []byte
}

// Artifact is the result of a successful build.
type Artifact struct {
	Files        []File
	HasSourceMap bool
	// Hash identifies the artifact contents; equal hashes mean equivalent
	// artifacts.
	Hash string
	// Changed is false when the contents equal the previous good artifact.
	Changed  bool
	Warnings []string
	BuiltAt  time.Time
	Duration time.Duration
}

// Lookup returns the file served at name (relative to the output directory).
func (a *Artifact) Lookup(name string) (File, bool) {
	if a == nil {
		return File{}, false
	}

	name = strings.TrimPrefix(path.Clean("/"+name), "/")

	for _, f := range a.Files {
		if f.Name == name {
			return f, true
		}
	}

	return File{}, false
}

// OutputPaths returns the absolute paths of all files.
func (a *Artifact) OutputPaths() []string {
	paths := make([]string, 0, len(a.Files))
	for _, f := range a.Files {
		paths = append(paths, f.Path)
	}

	return paths
}

// contentHash hashes files in name order so that output ordering does not
// affect identity.
func contentHash(files []File) string {
	sorted := make([]File, len(files))
	copy(sorted, files)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	h := sha256.New()
	for _, f := range sorted {
		h.Write([]byte(f.Name))
		h.Write([]byte{0})
		h.Write(f.Contents)
		h.Write([]byte{0})
	}

	return hex.EncodeToString(h.Sum(nil))
}
