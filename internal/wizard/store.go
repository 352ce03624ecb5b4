package wizard

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
)

// ErrNoState is returned by Store.Load when nothing is saved under a key.
var ErrNoState = errors.New("wizard: no saved state")

// Store is a durable slot for wizard snapshots. It is a cache: losing a
// snapshot only sends the user back to step 1.
type Store interface {
	Save(ctx context.Context, key string, snap Snapshot) error
	Load(ctx context.Context, key string) (Snapshot, error)
	Delete(ctx context.Context, key string) error
}

// MemoryStore keeps snapshots as JSON in process memory.
type MemoryStore struct {
	mu    sync.Mutex
	slots map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{slots: make(map[string][]byte)}
}

func (s *MemoryStore) Save(_ context.Context, key string, snap Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.slots[key] = data
	return nil
}

func (s *MemoryStore) Load(_ context.Context, key string) (Snapshot, error) {
	s.mu.Lock()
	data, ok := s.slots[key]
	s.mu.Unlock()
	if !ok {
		return Snapshot{}, ErrNoState
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.slots, key)
	return nil
}
