package db

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/wesm/work-inbox/internal/models"
)

// Store persists per-instance snapshots and read state
type Store interface {
	// LoadSnapshot returns nil, nil when nothing is stored for the instance
	LoadSnapshot(ctx context.Context, instanceID string) (*Snapshot, error)
	SaveSnapshot(ctx context.Context, instanceID string, snapshot *Snapshot) error
	LoadUnread(ctx context.Context, instanceID string) (map[string]bool, error)
	// SaveUnread replaces the whole unread map of the instance
	SaveUnread(ctx context.Context, instanceID string, unread map[string]bool) error
	Ping(ctx context.Context) error
	Close() error
}

// Backend names accepted by Open
const (
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
	BackendMemory   = "memory"
)

// Snapshot is the stored item set of one instance
type Snapshot struct {
	WorkItems    []*models.WorkItem    `json:"workItems"`
	PullRequests []*models.PullRequest `json:"pullRequests"`
	Pipelines    []*models.Pipeline    `json:"pipelines"`
	Timestamp    time.Time             `json:"timestamp"`
}

// NewSnapshot splits items by type
func NewSnapshot(items []models.Item, timestamp time.Time) *Snapshot {
	s := &Snapshot{
		WorkItems:    []*models.WorkItem{},
		PullRequests: []*models.PullRequest{},
		Pipelines:    []*models.Pipeline{},
		Timestamp:    timestamp,
	}
	for _, item := range items {
		switch v := item.(type) {
		case *models.WorkItem:
			s.WorkItems = append(s.WorkItems, v)
		case *models.PullRequest:
			s.PullRequests = append(s.PullRequests, v)
		case *models.Pipeline:
			s.Pipelines = append(s.Pipelines, v)
		}
	}
	return s
}

// Items returns copies of the stored items, work items first
func (s *Snapshot) Items() []models.Item {
	if s == nil {
		return nil
	}
	items := make([]models.Item, 0, len(s.WorkItems)+len(s.PullRequests)+len(s.Pipelines))
	for _, wi := range s.WorkItems {
		items = append(items, wi.Clone())
	}
	for _, pr := range s.PullRequests {
		items = append(items, pr.Clone())
	}
	for _, p := range s.Pipelines {
		items = append(items, p.Clone())
	}
	return items
}

// Open creates the store for backend. url is a file path for sqlite and a connection URL
// for postgres and redis.
func Open(ctx context.Context, backend, url string) (Store, error) {
	switch strings.ToLower(backend) {
	case "", BackendSQLite:
		store, err := NewSQLite(url)
		if err != nil {
			return nil, err
		}
		if err := store.Initialize(ctx); err != nil {
			store.Close()
			return nil, err
		}
		return store, nil
	case BackendPostgres, "postgresql":
		store, err := NewPostgres(ctx, url)
		if err != nil {
			return nil, err
		}
		if err := store.Initialize(ctx); err != nil {
			store.Close()
			return nil, err
		}
		return store, nil
	case BackendRedis:
		return NewRedisStore(ctx, url)
	case BackendMemory:
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown cache backend %q", backend)
	}
}
