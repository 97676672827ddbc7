package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"
)

const (
	dirMode  = 0755
	fileMode = 0644
)

// Store persists one human-inspectable JSON document per workflow ID
// under dir. Writes are synchronous (temp file + rename) and guarded by
// a cross-process flock so an external orchestrator sharing the state
// directory never observes a torn write.
type Store struct {
	dir         string
	lockTimeout time.Duration
}

// NewStore creates the state directory if needed.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, dirMode); err != nil {
		return nil, fmt.Errorf("create workflow state dir: %w", err)
	}
	return &Store{dir: dir, lockTimeout: 10 * time.Second}, nil
}

// Dir returns the state directory.
func (s *Store) Dir() string {
	return s.dir
}

func (s *Store) path(id string) string {
	return filepath.Join(s.dir, id+".json")
}

func (s *Store) withLock(id string, fn func() error) error {
	lock := flock.New(filepath.Join(s.dir, id+".lock"))
	ctx, cancel := context.WithTimeout(context.Background(), s.lockTimeout)
	defer cancel()

	ok, err := lock.TryLockContext(ctx, 50*time.Millisecond)
	if err != nil {
		return fmt.Errorf("lock workflow %s: %w", id, err)
	}
	if !ok {
		return fmt.Errorf("lock workflow %s: timed out", id)
	}
	defer lock.Unlock()
	return fn()
}

// Save writes the instance synchronously. The write lands in a temp file
// first so a crash mid-write leaves the previous snapshot intact.
func (s *Store) Save(in *Instance) error {
	return s.withLock(in.ID, func() error {
		data, err := json.MarshalIndent(in, "", "  ")
		if err != nil {
			return fmt.Errorf("marshal workflow %s: %w", in.ID, err)
		}
		tmp := s.path(in.ID) + ".tmp"
		if err := os.WriteFile(tmp, data, fileMode); err != nil {
			return fmt.Errorf("write workflow %s: %w", in.ID, err)
		}
		return os.Rename(tmp, s.path(in.ID))
	})
}

// Load reads one workflow by ID.
func (s *Store) Load(id string) (*Instance, error) {
	var in *Instance
	err := s.withLock(id, func() error {
		data, err := os.ReadFile(s.path(id))
		if err != nil {
			if os.IsNotExist(err) {
				return ErrUnknownWorkflow
			}
			return fmt.Errorf("read workflow %s: %w", id, err)
		}
		in = &Instance{}
		if err := json.Unmarshal(data, in); err != nil {
			return fmt.Errorf("decode workflow %s: %w", id, err)
		}
		return nil
	})
	return in, err
}

// LoadByTicket scans the state directory for a workflow carrying the
// ticket ID. The newest match wins when a ticket was re-run.
func (s *Store) LoadByTicket(ticketID string) (*Instance, error) {
	ids, err := s.List()
	if err != nil {
		return nil, err
	}
	var newest *Instance
	for _, id := range ids {
		in, err := s.Load(id)
		if err != nil {
			continue
		}
		if in.TicketID != ticketID {
			continue
		}
		if newest == nil || in.CreatedAt.After(newest.CreatedAt) {
			newest = in
		}
	}
	if newest == nil {
		return nil, ErrUnknownWorkflow
	}
	return newest, nil
}

// List returns every persisted workflow ID.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read workflow state dir: %w", err)
	}
	var ids []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") || strings.HasSuffix(name, ".tmp") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, ".json"))
	}
	return ids, nil
}
