package build

import (
	"strings"

	"github.com/pmezard/go-difflib/difflib"
)

// DiffStat summarizes line changes between two artifacts.
type DiffStat struct {
	FilesChanged int
	Added        int
	Removed      int
}

// diffArtifacts computes the debug-level change stats after a rebuild.
var diffArtifacts = Diff

// Diff compares the files of prev and curr line by line. A nil prev counts
// every line of curr as added.
func Diff(prev, curr *Artifact) DiffStat {
	var stat DiffStat

	prevFiles := make(map[string][]byte)
	if prev != nil {
		for _, f := range prev.Files {
			prevFiles[f.Name] = f.Contents
		}
	}

	seen := make(map[string]bool)

	if curr != nil {
		for _, f := range curr.Files {
			seen[f.Name] = true

			added, removed := lineDelta(string(prevFiles[f.Name]), string(f.Contents))
			if added > 0 || removed > 0 {
				stat.FilesChanged++
				stat.Added += added
				stat.Removed += removed
			}
		}
	}

	for name, contents := range prevFiles {
		if seen[name] {
			continue
		}

		stat.FilesChanged++
		stat.Removed += len(splitLines(string(contents)))
	}

	return stat
}

func lineDelta(oldDoc, newDoc string) (added, removed int) {
	m := difflib.NewMatcher(splitLines(oldDoc), splitLines(newDoc))

	for _, op := range m.GetOpCodes() {
		switch op.Tag {
		case 'r':
			removed += op.I2 - op.I1
			added += op.J2 - op.J1
		case 'd':
			removed += op.I2 - op.I1
		case 'i':
			added += op.J2 - op.J1
		}
	}

	return added, removed
}

func splitLines(s string) []string {
	if s == "" {
		return nil
	}

	return strings.Split(strings.TrimSuffix(s, "\n"), "\n")
}
