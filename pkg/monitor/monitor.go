// Package monitor reports progress of a running optimization by watching
// the DESIGNS directory for new designs, new stage directories and record
// updates.
package monitor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/fsiopt/fsiopt/pkg/design"
)

// EventKind classifies a progress event.
type EventKind string

const (
	// EventDesign reports a new DSN_* directory.
	EventDesign EventKind = "design"
	// EventStage reports a new stage directory inside a design.
	EventStage EventKind = "stage"
	// EventRecord reports a rewritten record.yaml.
	EventRecord EventKind = "record"
)

// Event is one observed change.
type Event struct {
	Kind   EventKind    `json:"kind"`
	Design int          `json:"design"`
	Stage  design.Stage `json:"stage,omitempty"`
	Path   string       `json:"path"`
	Time   time.Time    `json:"time"`
}

// String formats the event for terminal output.
func (e Event) String() string {
	switch e.Kind {
	case EventStage:
		return fmt.Sprintf("%s %s %s", e.Kind, design.DirName(e.Design), e.Stage)
	default:
		return fmt.Sprintf("%s %s", e.Kind, design.DirName(e.Design))
	}
}

// Watcher reports changes below a DESIGNS directory.
type Watcher struct {
	root    string
	logger  zerolog.Logger
	watcher *fsnotify.Watcher

	mu   sync.Mutex
	seen map[string]bool
}

// NewWatcher creates a watcher for the DESIGNS directory root, which must
// exist.
func NewWatcher(root string, logger zerolog.Logger) (*Watcher, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("failed to stat designs directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", root)
	}
	return &Watcher{
		root:   root,
		logger: logger.With().Str("component", "monitor").Logger(),
		seen:   make(map[string]bool),
	}, nil
}

// Scan reports the designs and stage directories that already exist, in
// index order. Watch calls it before reporting live changes.
func (w *Watcher) Scan() ([]Event, error) {
	entries, err := os.ReadDir(w.root)
	if err != nil {
		return nil, fmt.Errorf("failed to read designs directory: %w", err)
	}

	var events []Event
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		dsn := filepath.Join(w.root, e.Name())
		if ev, ok := w.classify(dsn); ok && w.markSeen(dsn) {
			events = append(events, ev)
		}
		events = append(events, w.scanDesign(dsn)...)
	}

	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Design < events[j].Design
	})
	return events, nil
}

// scanDesign reports stage directories already present in a design.
func (w *Watcher) scanDesign(dsn string) []Event {
	if _, ok := design.ParseDirName(filepath.Base(dsn)); !ok {
		return nil
	}
	entries, err := os.ReadDir(dsn)
	if err != nil {
		w.logger.Warn().Err(err).Str("path", dsn).Msg("Failed to read design directory")
		return nil
	}
	var events []Event
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		path := filepath.Join(dsn, e.Name())
		if ev, ok := w.classify(path); ok && w.markSeen(path) {
			events = append(events, ev)
		}
	}
	return events
}

func (w *Watcher) markSeen(path string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.seen[path] {
		return false
	}
	w.seen[path] = true
	return true
}

// classify maps a path below root to an event.
func (w *Watcher) classify(path string) (Event, bool) {
	rel, err := filepath.Rel(w.root, path)
	if err != nil {
		return Event{}, false
	}
	parts := splitPath(rel)
	if len(parts) == 0 || len(parts) > 2 {
		return Event{}, false
	}
	index, ok := design.ParseDirName(parts[0])
	if !ok {
		return Event{}, false
	}
	ev := Event{Kind: EventDesign, Design: index, Path: path, Time: time.Now()}
	if len(parts) == 1 {
		return ev, true
	}
	if parts[1] == design.RecordFile {
		ev.Kind = EventRecord
		return ev, true
	}
	stage, ok := design.ParseStage(parts[1])
	if !ok {
		return Event{}, false
	}
	ev.Kind = EventStage
	ev.Stage = stage
	return ev, true
}

func splitPath(rel string) []string {
	if rel == "." || rel == "" || strings.HasPrefix(rel, "..") {
		return nil
	}
	return strings.Split(filepath.ToSlash(rel), "/")
}

// Watch reports existing designs and then every change to fn until ctx
// is done. fn runs on the watcher goroutine.
func (w *Watcher) Watch(ctx context.Context, fn func(Event)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	w.watcher = watcher
	defer func() { _ = watcher.Close() }()

	if err := watcher.Add(w.root); err != nil {
		return fmt.Errorf("failed to watch %s: %w", w.root, err)
	}

	existing, err := w.Scan()
	if err != nil {
		return err
	}
	for _, ev := range existing {
		if ev.Kind == EventDesign {
			w.addDesign(ev.Path)
		}
		fn(ev)
	}

	w.logger.Info().Str("path", w.root).Int("existing", len(existing)).Msg("Started watching designs")

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			w.handle(event, fn)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Error().Err(err).Msg("Watcher error")
		}
	}
}

func (w *Watcher) handle(event fsnotify.Event, fn func(Event)) {
	if event.Op&(fsnotify.Create|fsnotify.Rename|fsnotify.Write) == 0 {
		return
	}
	ev, ok := w.classify(event.Name)
	if !ok {
		return
	}

	w.logger.Debug().
		Str("path", event.Name).
		Str("op", event.Op.String()).
		Msg("Design tree changed")

	switch ev.Kind {
	case EventRecord:
		// record.yaml is replaced by rename; a removed file has nothing to report.
		if _, err := os.Stat(event.Name); err != nil {
			return
		}
		fn(ev)
	case EventDesign:
		if event.Op&fsnotify.Create == 0 || !w.markSeen(ev.Path) {
			return
		}
		fn(ev)
		w.addDesign(ev.Path)
		// Stage directories created before the watch was added.
		for _, st := range w.scanDesign(ev.Path) {
			fn(st)
		}
	case EventStage:
		if event.Op&fsnotify.Create == 0 || !w.markSeen(ev.Path) {
			return
		}
		fn(ev)
	}
}

func (w *Watcher) addDesign(path string) {
	if err := w.watcher.Add(path); err != nil {
		w.logger.Warn().Err(err).Str("path", path).Msg("Failed to watch design directory")
	}
}
