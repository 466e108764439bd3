package db

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/wesm/work-inbox/internal/models"
)

func sampleItems() []models.Item {
	prev := int64(100)
	return []models.Item{
		&models.WorkItem{
			ItemBase: models.ItemBase{
				ID:              "ado-workItem-contoso-1",
				Type:            models.TypeWorkItem,
				Provider:        models.ProviderAzureDevOps,
				InstanceID:      "contoso",
				Title:           "Fix login",
				UpdateTimestamp: 200,
				Unread:          true,
				Project:         "Core",
			},
			Status:         "Active",
			WorkItemKind:   models.KindBug,
			Labels:         []string{"p1"},
			Classification: &models.Classification{Confidence: 1, Method: "typeNameMap"},
		},
		&models.PullRequest{
			ItemBase: models.ItemBase{
				ID:                  "ado-pullRequest-contoso-7",
				Type:                models.TypePullRequest,
				Provider:            models.ProviderAzureDevOps,
				InstanceID:          "contoso",
				Title:               "Add retries",
				UpdateTimestamp:     300,
				PrevUpdateTimestamp: &prev,
				Project:             "Core",
			},
			Status: models.PullRequestOpen,
		},
		&models.Pipeline{
			ItemBase: models.ItemBase{
				ID:         "ado-pipeline-contoso-9",
				Type:       models.TypePipeline,
				Provider:   models.ProviderAzureDevOps,
				InstanceID: "contoso",
				Title:      "CI #9",
				Project:    "Core",
			},
			Status: models.PipelineRunning,
		},
	}
}

// exerciseStore runs the behaviour every backend must share
func exerciseStore(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()

	if err := store.Ping(ctx); err != nil {
		t.Fatalf("Ping: %v", err)
	}

	snapshot, err := store.LoadSnapshot(ctx, "missing")
	if err != nil || snapshot != nil {
		t.Fatalf("expected nil, nil for a missing snapshot, got %v, %v", snapshot, err)
	}
	unread, err := store.LoadUnread(ctx, "missing")
	if err != nil || len(unread) != 0 {
		t.Fatalf("expected empty unread map, got %v, %v", unread, err)
	}

	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	if err := store.SaveSnapshot(ctx, "contoso", NewSnapshot(sampleItems(), ts)); err != nil {
		t.Fatalf("SaveSnapshot: %v", err)
	}
	snapshot, err = store.LoadSnapshot(ctx, "contoso")
	if err != nil {
		t.Fatalf("LoadSnapshot: %v", err)
	}
	if snapshot == nil {
		t.Fatal("expected a snapshot")
	}
	if !snapshot.Timestamp.Equal(ts) {
		t.Errorf("Timestamp = %v, want %v", snapshot.Timestamp, ts)
	}
	items := snapshot.Items()
	if len(items) != 3 {
		t.Fatalf("expected 3 items, got %d", len(items))
	}
	wi, ok := items[0].(*models.WorkItem)
	if !ok || wi.WorkItemKind != models.KindBug || !wi.Unread || wi.Classification == nil {
		t.Errorf("work item did not round trip: %+v", items[0])
	}
	pr, ok := items[1].(*models.PullRequest)
	if !ok || pr.PrevUpdateTimestamp == nil || *pr.PrevUpdateTimestamp != 100 {
		t.Errorf("pull request did not round trip: %+v", items[1])
	}
	if _, ok := items[2].(*models.Pipeline); !ok {
		t.Errorf("expected pipeline, got %T", items[2])
	}

	first := map[string]bool{"a": true, "b": false, "c": true}
	if err := store.SaveUnread(ctx, "contoso", first); err != nil {
		t.Fatalf("SaveUnread: %v", err)
	}
	second := map[string]bool{"a": false, "d": true}
	if err := store.SaveUnread(ctx, "contoso", second); err != nil {
		t.Fatalf("SaveUnread: %v", err)
	}
	unread, err = store.LoadUnread(ctx, "contoso")
	if err != nil {
		t.Fatalf("LoadUnread: %v", err)
	}
	if len(unread) != 2 || unread["a"] || !unread["d"] {
		t.Errorf("expected the second map to replace the first, got %v", unread)
	}

	if err := store.SaveUnread(ctx, "contoso", map[string]bool{}); err != nil {
		t.Fatalf("SaveUnread empty: %v", err)
	}
	unread, _ = store.LoadUnread(ctx, "contoso")
	if len(unread) != 0 {
		t.Errorf("expected empty map after clearing, got %v", unread)
	}

	other, _ := store.LoadSnapshot(ctx, "other")
	if other != nil {
		t.Errorf("instances must not share snapshots")
	}
}

func TestSQLiteStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "inbox.db")
	store, err := Open(context.Background(), BackendSQLite, path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer store.Close()

	exerciseStore(t, store)
}

func TestSQLiteStoreSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "inbox.db")

	store, err := Open(ctx, BackendSQLite, path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := store.SaveUnread(ctx, "gh", map[string]bool{"x": false}); err != nil {
		t.Fatalf("SaveUnread: %v", err)
	}
	store.Close()

	store, err = Open(ctx, BackendSQLite, path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer store.Close()
	unread, err := store.LoadUnread(ctx, "gh")
	if err != nil {
		t.Fatalf("LoadUnread: %v", err)
	}
	if flag, ok := unread["x"]; !ok || flag {
		t.Errorf("expected x to be stored as read, got %v", unread)
	}
}

func TestPostgresStore(t *testing.T) {
	url := os.Getenv("INBOX_TEST_POSTGRES_URL")
	if url == "" {
		t.Skip("INBOX_TEST_POSTGRES_URL not set")
	}
	store, err := Open(context.Background(), BackendPostgres, url)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer store.Close()

	exerciseStore(t, store)
}

func TestRedisStore(t *testing.T) {
	s := miniredis.RunT(t)
	store, err := Open(context.Background(), BackendRedis, "redis://"+s.Addr())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer store.Close()

	exerciseStore(t, store)

	if !s.Exists("inbox:snapshot:contoso") {
		t.Error("expected snapshot key inbox:snapshot:contoso")
	}
}

func TestRedisStoreUnreadHash(t *testing.T) {
	s := miniredis.RunT(t)
	store, err := NewRedisStore(context.Background(), "redis://"+s.Addr())
	if err != nil {
		t.Fatalf("NewRedisStore: %v", err)
	}
	defer store.Close()

	if err := store.SaveUnread(context.Background(), "gh", map[string]bool{"i1": true, "i2": false}); err != nil {
		t.Fatalf("SaveUnread: %v", err)
	}
	if got := s.HGet("inbox:unread:gh", "i1"); got != "true" {
		t.Errorf("i1 = %q", got)
	}
	if got := s.HGet("inbox:unread:gh", "i2"); got != "false" {
		t.Errorf("i2 = %q", got)
	}
}

func TestRedisStoreUnreachable(t *testing.T) {
	s := miniredis.RunT(t)
	addr := s.Addr()
	s.Close()

	if _, err := NewRedisStore(context.Background(), "redis://"+addr); err == nil {
		t.Fatal("expected connection error")
	}
}

func TestMemoryStore(t *testing.T) {
	store, err := Open(context.Background(), BackendMemory, "")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	exerciseStore(t, store)
}

func TestOpenUnknownBackend(t *testing.T) {
	if _, err := Open(context.Background(), "cassandra", ""); err == nil {
		t.Fatal("expected error for unknown backend")
	}
}

func TestSnapshotItemsAreCopies(t *testing.T) {
	snapshot := NewSnapshot(sampleItems(), time.Now())
	items := snapshot.Items()
	items[0].Base().Title = "changed"
	if snapshot.WorkItems[0].Title == "changed" {
		t.Error("Items must not alias the snapshot")
	}
}

func TestRebind(t *testing.T) {
	pg := &SQLStore{dialect: dialectPostgres}
	if got := pg.rebind("SELECT a FROM t WHERE x = ? AND y = ?"); got != "SELECT a FROM t WHERE x = $1 AND y = $2" {
		t.Errorf("postgres rebind = %q", got)
	}
	lite := &SQLStore{dialect: dialectSQLite}
	if got := lite.rebind("x = ?"); got != "x = ?" {
		t.Errorf("sqlite rebind = %q", got)
	}
}
