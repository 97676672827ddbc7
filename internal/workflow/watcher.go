package workflow

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/strandtools/webrelay/pkg/events"
)

// Watcher mirrors on-disk workflow state changes onto the event bus. An
// external orchestrator process mutating the shared state directory shows
// up as workflow-category events without polling.
type Watcher struct {
	store   *Store
	bus     *events.Bus
	logger  *zap.Logger
	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewWatcher starts watching the store's directory.
func NewWatcher(store *Store, bus *events.Bus, logger *zap.Logger) (*Watcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create workflow watcher: %w", err)
	}
	if err := fsw.Add(store.Dir()); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("watch workflow state dir: %w", err)
	}

	w := &Watcher{
		store:   store,
		bus:     bus,
		logger:  logger.Named("workflow.watcher"),
		watcher: fsw,
		done:    make(chan struct{}),
	}
	go w.run()
	return w, nil
}

func (w *Watcher) run() {
	defer close(w.done)
	for {
		select {
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("workflow watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	name := filepath.Base(ev.Name)
	if !strings.HasSuffix(name, ".json") || strings.HasSuffix(name, ".tmp") {
		return
	}
	if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
		return
	}
	id := strings.TrimSuffix(name, ".json")

	eventType := "workflow.file.updated"
	payload := map[string]interface{}{"workflowId": id, "path": ev.Name}
	if in, err := w.store.Load(id); err == nil {
		payload["status"] = string(in.Status)
		payload["currentStage"] = in.CurrentStage
		payload["ticketId"] = in.TicketID
	}
	w.bus.Push(events.CategoryWorkflow, eventType, "watcher", payload)
}

// Close stops the watcher and waits for the event loop to drain.
func (w *Watcher) Close() error {
	err := w.watcher.Close()
	<-w.done
	return err
}
