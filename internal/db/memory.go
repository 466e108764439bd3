package db

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"sync"
)

// MemoryStore keeps state for the life of the process
type MemoryStore struct {
	mu        sync.RWMutex
	snapshots map[string][]byte
	unread    map[string]map[string]bool
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		snapshots: make(map[string][]byte),
		unread:    make(map[string]map[string]bool),
	}
}

// LoadSnapshot returns a copy of the stored snapshot
func (s *MemoryStore) LoadSnapshot(_ context.Context, instanceID string) (*Snapshot, error) {
	s.mu.RLock()
	data, ok := s.snapshots[instanceID]
	s.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	var snapshot Snapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return &snapshot, nil
}

// SaveSnapshot stores a copy of snapshot
func (s *MemoryStore) SaveSnapshot(_ context.Context, instanceID string, snapshot *Snapshot) error {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	s.mu.Lock()
	s.snapshots[instanceID] = data
	s.mu.Unlock()
	return nil
}

// LoadUnread returns a copy of the unread flags
func (s *MemoryStore) LoadUnread(_ context.Context, instanceID string) (map[string]bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]bool, len(s.unread[instanceID]))
	maps.Copy(out, s.unread[instanceID])
	return out, nil
}

// SaveUnread replaces the unread flags
func (s *MemoryStore) SaveUnread(_ context.Context, instanceID string, unread map[string]bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unread[instanceID] = maps.Clone(unread)
	return nil
}

// Ping always succeeds
func (s *MemoryStore) Ping(context.Context) error {
	return nil
}

// Close is a no-op
func (s *MemoryStore) Close() error {
	return nil
}
