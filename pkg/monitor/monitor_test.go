package monitor

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fsiopt/fsiopt/pkg/design"
)

func mkdir(t *testing.T, parts ...string) string {
	t.Helper()
	path := filepath.Join(parts...)
	require.NoError(t, os.MkdirAll(path, 0755))
	return path
}

func TestNewWatcherRequiresDirectory(t *testing.T) {
	_, err := NewWatcher(filepath.Join(t.TempDir(), "missing"), zerolog.Nop())
	assert.Error(t, err)

	file := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(file, nil, 0644))
	_, err = NewWatcher(file, zerolog.Nop())
	assert.Error(t, err)
}

func TestClassify(t *testing.T) {
	root := t.TempDir()
	w, err := NewWatcher(root, zerolog.Nop())
	require.NoError(t, err)

	tests := []struct {
		rel    string
		ok     bool
		kind   EventKind
		design int
		stage  design.Stage
	}{
		{"DSN_000", true, EventDesign, 0, ""},
		{"DSN_004/Primal", true, EventStage, 4, design.StagePrimal},
		{"DSN_004/DEFORM", true, EventStage, 4, design.StageDeform},
		{"DSN_002/record.yaml", true, EventRecord, 2, ""},
		{"DSN_002/record.yaml.tmp", false, "", 0, ""},
		{"DSN_002/design.dat", false, "", 0, ""},
		{"DSN_002/Primal/restart.pyBeam", false, "", 0, ""},
		{"notes", false, "", 0, ""},
	}
	for _, tt := range tests {
		t.Run(tt.rel, func(t *testing.T) {
			ev, ok := w.classify(filepath.Join(root, filepath.FromSlash(tt.rel)))
			require.Equal(t, tt.ok, ok)
			if !ok {
				return
			}
			assert.Equal(t, tt.kind, ev.Kind)
			assert.Equal(t, tt.design, ev.Design)
			assert.Equal(t, tt.stage, ev.Stage)
		})
	}

	_, ok := w.classify(filepath.Dir(root))
	assert.False(t, ok, "paths outside the root are ignored")
}

func TestScan(t *testing.T) {
	root := t.TempDir()
	mkdir(t, root, "DSN_001", "Primal")
	mkdir(t, root, "DSN_000", "Primal")
	mkdir(t, root, "DSN_000", "Adjoint")
	mkdir(t, root, "DSN_000", "scratch")
	mkdir(t, root, "other")

	w, err := NewWatcher(root, zerolog.Nop())
	require.NoError(t, err)

	events, err := w.Scan()
	require.NoError(t, err)

	var got []string
	for _, ev := range events {
		got = append(got, ev.String())
	}
	assert.Equal(t, []string{
		"design DSN_000",
		"stage DSN_000 Adjoint",
		"stage DSN_000 Primal",
		"design DSN_001",
		"stage DSN_001 Primal",
	}, got)

	// A second scan reports nothing new.
	events, err = w.Scan()
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestWatchReportsNewDesigns(t *testing.T) {
	root := t.TempDir()
	mkdir(t, root, "DSN_000", "Primal")

	w, err := NewWatcher(root, zerolog.Nop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events := make(chan Event, 32)
	done := make(chan error, 1)
	go func() {
		done <- w.Watch(ctx, func(ev Event) { events <- ev })
	}()

	next := func() Event {
		t.Helper()
		select {
		case ev := <-events:
			return ev
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for event")
			return Event{}
		}
	}

	// Existing tree first.
	assert.Equal(t, "design DSN_000", next().String())
	assert.Equal(t, "stage DSN_000 Primal", next().String())

	mkdir(t, root, "DSN_001")
	ev := next()
	assert.Equal(t, EventDesign, ev.Kind)
	assert.Equal(t, 1, ev.Design)

	// Give the watcher time to add the new design directory.
	time.Sleep(100 * time.Millisecond)
	mkdir(t, root, "DSN_001", "DEFORM")
	ev = next()
	assert.Equal(t, EventStage, ev.Kind)
	assert.Equal(t, design.StageDeform, ev.Stage)

	rec := &design.Record{Index: 1, Dir: filepath.Join(root, "DSN_001")}
	require.NoError(t, design.SaveRecord(rec))
	ev = next()
	assert.Equal(t, EventRecord, ev.Kind)
	assert.Equal(t, 1, ev.Design)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Watch did not return after cancel")
	}
}
