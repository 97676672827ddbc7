package workflow

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strandtools/webrelay/pkg/events"
)

func TestWatcherEmitsOnExternalWrite(t *testing.T) {
	store, err := NewStore(filepath.Join(t.TempDir(), "wf"))
	require.NoError(t, err)
	bus := events.NewBus(100)

	seen := make(chan events.Event, 10)
	bus.Subscribe(events.CategoryWorkflow, func(ev events.Event) {
		seen <- ev
	})

	w, err := NewWatcher(store, bus, nil)
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, store.Save(&Instance{
		ID:           "w-ext",
		TicketID:     "T-5",
		CurrentStage: "prepare",
		Status:       StatusActive,
		CreatedAt:    time.Now(),
	}))

	select {
	case ev := <-seen:
		assert.Equal(t, "workflow.file.updated", ev.Type)
		assert.Equal(t, "watcher", ev.Source)
		assert.Equal(t, "w-ext", ev.Payload["workflowId"])
		assert.Equal(t, string(StatusActive), ev.Payload["status"])
	case <-time.After(2 * time.Second):
		t.Fatal("no workflow event observed after external write")
	}
}

func TestWatcherIgnoresTempAndForeignFiles(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "wf")
	store, err := NewStore(dir)
	require.NoError(t, err)
	bus := events.NewBus(100)

	w, err := NewWatcher(store, bus, nil)
	require.NoError(t, err)
	defer w.Close()

	writeArtifact(t, dir, "scratch.json.tmp", "partial")
	writeArtifact(t, dir, "notes.txt", "hello")

	time.Sleep(200 * time.Millisecond)
	res := bus.Get(events.Query{Category: events.CategoryWorkflow})
	assert.Empty(t, res.Events)
}
