package recovery

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
)

// LogEntry is one audited recovery attempt. The log is independent of
// the coordinator's own history so operators can review remediation
// activity without trawling workflow files.
type LogEntry struct {
	Time       time.Time `json:"time"`
	WorkflowID string    `json:"workflowId"`
	ErrorType  string    `json:"errorType"`
	Outcome    string    `json:"outcome"`
	Detail     string    `json:"detail,omitempty"`
}

// Log is an append-only JSON array on disk, guarded by a file lock so
// concurrent broker processes sharing a state directory don't clobber
// each other's entries.
type Log struct {
	path        string
	lock        *flock.Flock
	lockTimeout time.Duration
}

// NewLog creates the log's parent directory if needed.
func NewLog(path string) (*Log, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create recovery log dir: %w", err)
	}
	return &Log{
		path:        path,
		lock:        flock.New(path + ".lock"),
		lockTimeout: 10 * time.Second,
	}, nil
}

func (l *Log) withLock(fn func() error) error {
	ctx, cancel := context.WithTimeout(context.Background(), l.lockTimeout)
	defer cancel()
	ok, err := l.lock.TryLockContext(ctx, 50*time.Millisecond)
	if err != nil {
		return fmt.Errorf("lock recovery log: %w", err)
	}
	if !ok {
		return fmt.Errorf("lock recovery log: timed out")
	}
	defer l.lock.Unlock()
	return fn()
}

// Append reads the current array, adds the entry, and rewrites the file
// through a temp-file rename.
func (l *Log) Append(entry LogEntry) error {
	return l.withLock(func() error {
		entries, err := l.read()
		if err != nil {
			return err
		}
		entries = append(entries, entry)
		data, err := json.MarshalIndent(entries, "", "  ")
		if err != nil {
			return fmt.Errorf("marshal recovery log: %w", err)
		}
		tmp := l.path + ".tmp"
		if err := os.WriteFile(tmp, data, 0644); err != nil {
			return fmt.Errorf("write recovery log: %w", err)
		}
		return os.Rename(tmp, l.path)
	})
}

// Entries returns every logged attempt, oldest first.
func (l *Log) Entries() ([]LogEntry, error) {
	var entries []LogEntry
	err := l.withLock(func() error {
		var rerr error
		entries, rerr = l.read()
		return rerr
	})
	return entries, err
}

func (l *Log) read() ([]LogEntry, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read recovery log: %w", err)
	}
	var entries []LogEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("decode recovery log: %w", err)
	}
	return entries, nil
}
