package watch

import (
	"time"

	"github.com/fsnotify/fsnotify"
)

// Kind classifies a change.
type Kind string

// Change kinds.
const (
	Created  Kind = "created"
	Modified Kind = "modified"
	Deleted  Kind = "deleted"
)

// ChangeEvent is one debounced change to a file under the watched root.
type ChangeEvent struct {
	// Path is the absolute path of the changed file.
	Path      string
	Kind      Kind
	Timestamp time.Time
}

// kindOf maps an fsnotify op to a change kind. Removals and renames win over
// writes because the file is gone from its old path either way.
func kindOf(op fsnotify.Op) (Kind, bool) {
	switch {
	case op.Has(fsnotify.Remove), op.Has(fsnotify.Rename):
		return Deleted, true
	case op.Has(fsnotify.Create):
		return Created, true
	case op.Has(fsnotify.Write):
		return Modified, true
	default:
		return "", false
	}
}
