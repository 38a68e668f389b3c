package alarms

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/mkravtsov/wakewatch/internal/config"
	"github.com/mkravtsov/wakewatch/internal/domain/alarm"
)

// Store defines the alarm persistence operations the sync core consumes.
// Writes come from the alarm CRUD surface; the core only reads snapshots and
// observes mutations through Subscribe.
type Store interface {
	All(ctx context.Context) []alarm.Alarm
	Get(ctx context.Context, id string) (alarm.Alarm, bool)
	Put(ctx context.Context, a alarm.Alarm) error
	Delete(ctx context.Context, id string) error
	Subscribe(onSet func(context.Context, alarm.Alarm), onDelete func(context.Context, string))
}

// FileStore persists the alarm set to a JSON file on disk and notifies
// subscribers after every successful write.
type FileStore struct {
	// path is the filesystem location of the JSON alarms file.
	path string
	// mu protects the set and the file against concurrent writers.
	mu sync.Mutex
	// set is the in-memory alarm set, authoritative between saves.
	set *alarm.Set

	// onSet and onDelete are invoked after a successful write, outside of
	// persistence failures, so subscribers only see applied mutations.
	onSet    func(context.Context, alarm.Alarm)
	onDelete func(context.Context, string)
}

// ErrNotFound is returned when a requested alarm does not exist.
var ErrNotFound = errors.New("alarm not found")

// fileFormat is the on-disk JSON shape.
type fileFormat struct {
	Alarms []alarm.Alarm `json:"alarms"`
}

// NewFileStore creates a store that reads/writes JSON at the provided path.
// A missing file is treated as an empty set.
func NewFileStore(path string) (*FileStore, error) {
	s := &FileStore{
		path: filepath.Clean(path),
		set:  alarm.NewSet(),
	}

	contents, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return s, nil
		}

		return nil, fmt.Errorf("read alarms file: %w", err)
	}

	var parsed fileFormat
	if err := json.Unmarshal(contents, &parsed); err != nil {
		return nil, fmt.Errorf("decode alarms file: %w", err)
	}

	s.set.Replace(parsed.Alarms)

	return s, nil
}

// Subscribe registers the mutation callbacks. It must be called before the
// store receives writes; later registration misses earlier mutations.
func (s *FileStore) Subscribe(
	onSet func(context.Context, alarm.Alarm),
	onDelete func(context.Context, string),
) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.onSet = onSet
	s.onDelete = onDelete
}

// All returns a snapshot of every alarm, sorted by ID.
func (s *FileStore) All(_ context.Context) []alarm.Alarm {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.set.Snapshot()
}

// Get returns the alarm with the given ID, if present.
func (s *FileStore) Get(_ context.Context, id string) (alarm.Alarm, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.set.Get(id)
}

// Put validates, stores and persists the alarm, then notifies subscribers.
func (s *FileStore) Put(ctx context.Context, a alarm.Alarm) error {
	if err := a.Validate(); err != nil {
		return err
	}

	s.mu.Lock()

	s.set.Apply(a)

	if err := s.save(); err != nil {
		s.mu.Unlock()

		return err
	}

	onSet := s.onSet
	s.mu.Unlock()

	if onSet != nil {
		onSet(ctx, a)
	}

	return nil
}

// Delete removes the alarm and persists the change, then notifies subscribers.
func (s *FileStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()

	if !s.set.Remove(id) {
		s.mu.Unlock()

		return ErrNotFound
	}

	if err := s.save(); err != nil {
		s.mu.Unlock()

		return err
	}

	onDelete := s.onDelete
	s.mu.Unlock()

	if onDelete != nil {
		onDelete(ctx, id)
	}

	return nil
}

// save writes the current set to disk. Caller holds mu.
func (s *FileStore) save() error {
	data, err := json.MarshalIndent(fileFormat{Alarms: s.set.Snapshot()}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode alarms: %w", err)
	}

	if err := os.WriteFile(s.path, data, config.DefaultFilePermissions); err != nil {
		return fmt.Errorf("write alarms file: %w", err)
	}

	return nil
}
