// Package watch provides file-watching for livedev's live-reload workflow.
// It monitors a project tree for changes, drops events under excluded
// prefixes (output and dependency directories), debounces bursts of
// notifications per path, and delivers the result as a stream of
// ChangeEvents.
package watch
