package devserver

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/hupe1980/livedev/internal/build"
	"github.com/hupe1980/livedev/internal/protocol"
	"github.com/hupe1980/livedev/internal/watch"
)

// Builder is the part of the build context the scheduler drives.
type Builder interface {
	Rebuild() (*build.Artifact, error)
	ModuleID(path string) (string, error)
	TransformModule(path string) (string, error)
	Root() string
}

// Broadcaster delivers update messages to clients.
type Broadcaster interface {
	Broadcast(msg protocol.Message) int
}

// Scheduler serializes rebuilds. Change events that arrive while a rebuild
// is running are coalesced into exactly one follow-up rebuild.
type Scheduler struct {
	builder Builder
	out     Broadcaster
	logger  *slog.Logger

	mu         sync.Mutex
	pending    map[string]watch.ChangeEvent
	lastFailed bool

	signal   chan struct{}
	rebuilds atomic.Int64
}

// NewScheduler creates a scheduler. Run must be started for triggers to take
// effect.
func NewScheduler(b Builder, out Broadcaster, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}

	return &Scheduler{
		builder: b,
		out:     out,
		logger:  logger,
		pending: make(map[string]watch.ChangeEvent),
		signal:  make(chan struct{}, 1),
	}
}

// Trigger queues ev for the next rebuild. It never blocks; a later event for
// the same path replaces the earlier one.
func (s *Scheduler) Trigger(ev watch.ChangeEvent) {
	s.mu.Lock()
	s.pending[ev.Path] = ev
	s.mu.Unlock()

	select {
	case s.signal <- struct{}{}:
	default:
		// A rebuild is already requested and will pick this event up.
	}
}

// Rebuilds returns the number of rebuilds performed so far.
func (s *Scheduler) Rebuilds() int64 {
	return s.rebuilds.Load()
}

// Run executes rebuilds one at a time until ctx is cancelled. An in-flight
// rebuild is never interrupted.
func (s *Scheduler) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.signal:
		}

		batch := s.take()
		if len(batch) == 0 {
			continue
		}

		s.rebuild(batch)
	}
}

func (s *Scheduler) take() []watch.ChangeEvent {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.pending) == 0 {
		return nil
	}

	batch := make([]watch.ChangeEvent, 0, len(s.pending))
	for _, ev := range s.pending {
		batch = append(batch, ev)
	}

	s.pending = make(map[string]watch.ChangeEvent)

	sort.Slice(batch, func(i, j int) bool { return batch[i].Path < batch[j].Path })

	return batch
}

func (s *Scheduler) rebuild(batch []watch.ChangeEvent) {
	s.rebuilds.Add(1)

	s.logger.Debug("rebuilding", slog.Int("changes", len(batch)), slog.String("first", batch[0].Path))

	artifact, err := s.builder.Rebuild()
	if err != nil {
		detail := err.Error()

		var failure *build.BuildFailure
		if errors.As(err, &failure) {
			detail = failure.Detail
		}

		s.lastFailed = true
		s.out.Broadcast(protocol.BuildError{Detail: detail})

		return
	}

	recovered := s.lastFailed
	s.lastFailed = false

	if !artifact.Changed && !recovered && !touchesAssets(batch) {
		s.logger.Debug("artifact unchanged, nothing to push")
		return
	}

	for _, msg := range s.messagesFor(batch) {
		s.out.Broadcast(msg)
	}
}

// messagesFor maps a successful batch to update messages: one ModuleUpdate
// per hot-swappable module, or a single Reload when any change cannot be
// applied in place.
func (s *Scheduler) messagesFor(batch []watch.ChangeEvent) []protocol.Message {
	msgs := make([]protocol.Message, 0, len(batch))

	for _, ev := range batch {
		if ev.Kind == watch.Deleted || !build.IsModule(ev.Path) {
			return []protocol.Message{protocol.Reload{Reason: s.relative(ev.Path)}}
		}

		id, err := s.builder.ModuleID(ev.Path)
		if err != nil {
			s.logger.Warn("cannot identify module", slog.String("path", ev.Path), slog.String("error", err.Error()))
			return []protocol.Message{protocol.Reload{Reason: s.relative(ev.Path)}}
		}

		payload, err := s.builder.TransformModule(ev.Path)
		if err != nil {
			s.logger.Warn("cannot compile module update", slog.String("module", id), slog.String("error", err.Error()))
			return []protocol.Message{protocol.Reload{Reason: s.relative(ev.Path)}}
		}

		msgs = append(msgs, protocol.ModuleUpdate{ModuleID: id, Payload: payload})
	}

	return msgs
}

// touchesAssets reports whether the batch changed a file outside the module
// graph, such as index.html, which the artifact hash does not cover.
func touchesAssets(batch []watch.ChangeEvent) bool {
	for _, ev := range batch {
		if !build.IsModule(ev.Path) {
			return true
		}
	}

	return false
}

func (s *Scheduler) relative(path string) string {
	rel, err := filepath.Rel(s.builder.Root(), path)
	if err != nil {
		return path
	}

	return filepath.ToSlash(rel)
}
