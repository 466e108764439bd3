package sync

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/wesm/work-inbox/internal/models"
)

// fakeAdapter returns canned items and records calls
type fakeAdapter struct {
	inst models.Instance

	mu          sync.Mutex
	projectsErr error
	prs         []models.Item
	prErr       error
	workItems   []models.Item
	wiErr       error
	pipelines   map[string][]models.Item
	pipelineErr map[string]error
	since       []models.Item
	sinceErr    error
	// blockWorkItems makes the work item stage wait for cancellation
	blockWorkItems bool
	cancelled      chan struct{}
}

func newFakeAdapter(id, name string, pinned ...string) *fakeAdapter {
	return &fakeAdapter{
		inst: models.Instance{
			ID:       id,
			Name:     name,
			Provider: models.ProviderAzureDevOps,
			Pinned:   pinned,
		},
		pipelines:   make(map[string][]models.Item),
		pipelineErr: make(map[string]error),
		cancelled:   make(chan struct{}),
	}
}

func (f *fakeAdapter) Instance() models.Instance {
	return f.inst
}

func (f *fakeAdapter) ListProjects(ctx context.Context) ([]models.Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.projectsErr != nil {
		return nil, f.projectsErr
	}
	return []models.Project{{ID: "p1", Name: "Core"}}, nil
}

func (f *fakeAdapter) ListAssignedPullRequests(ctx context.Context, _ []models.Project) ([]models.Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return cloneItems(f.prs), f.prErr
}

func (f *fakeAdapter) ListAssignedWorkItems(ctx context.Context, _ []models.Project) ([]models.Item, error) {
	if f.blockWorkItems {
		<-ctx.Done()
		close(f.cancelled)
		return nil, ctx.Err()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return cloneItems(f.workItems), f.wiErr
}

func (f *fakeAdapter) ListPipelineRuns(ctx context.Context, project string) ([]models.Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return cloneItems(f.pipelines[project]), f.pipelineErr[project]
}

func (f *fakeAdapter) ListNewItemsSince(ctx context.Context, since time.Time) ([]models.Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return cloneItems(f.since), f.sinceErr
}

func (f *fakeAdapter) set(fn func(f *fakeAdapter)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

// plainAdapter exposes only the Adapter methods of a fakeAdapter
type plainAdapter struct {
	f *fakeAdapter
}

func (p plainAdapter) Instance() models.Instance { return p.f.Instance() }
func (p plainAdapter) ListProjects(ctx context.Context) ([]models.Project, error) {
	return p.f.ListProjects(ctx)
}
func (p plainAdapter) ListAssignedPullRequests(ctx context.Context, projects []models.Project) ([]models.Item, error) {
	return p.f.ListAssignedPullRequests(ctx, projects)
}
func (p plainAdapter) ListAssignedWorkItems(ctx context.Context, projects []models.Project) ([]models.Item, error) {
	return p.f.ListAssignedWorkItems(ctx, projects)
}
func (p plainAdapter) ListPipelineRuns(ctx context.Context, project string) ([]models.Item, error) {
	return p.f.ListPipelineRuns(ctx, project)
}

func cloneItems(items []models.Item) []models.Item {
	if items == nil {
		return nil
	}
	out := make([]models.Item, len(items))
	for i, item := range items {
		out[i] = item.Clone()
	}
	return out
}

func workItem(instanceID, native, project string, updated int64) *models.WorkItem {
	return &models.WorkItem{
		ItemBase: models.ItemBase{
			ID:              models.ItemID(models.ProviderAzureDevOps, models.TypeWorkItem, instanceID, native),
			Type:            models.TypeWorkItem,
			Provider:        models.ProviderAzureDevOps,
			InstanceID:      instanceID,
			Title:           "work item " + native,
			UpdateTimestamp: updated,
			Unread:          true,
			Project:         project,
		},
		WorkItemKind: models.KindTask,
	}
}

func pullRequest(instanceID, native, project string, updated int64) *models.PullRequest {
	return &models.PullRequest{
		ItemBase: models.ItemBase{
			ID:              models.ItemID(models.ProviderAzureDevOps, models.TypePullRequest, instanceID, native),
			Type:            models.TypePullRequest,
			Provider:        models.ProviderAzureDevOps,
			InstanceID:      instanceID,
			Title:           "pull request " + native,
			UpdateTimestamp: updated,
			Unread:          true,
			Project:         project,
		},
		Status: models.PullRequestOpen,
	}
}

func pipeline(instanceID, native, project string, updated int64) *models.Pipeline {
	return &models.Pipeline{
		ItemBase: models.ItemBase{
			ID:              models.ItemID(models.ProviderAzureDevOps, models.TypePipeline, instanceID, native),
			Type:            models.TypePipeline,
			Provider:        models.ProviderAzureDevOps,
			InstanceID:      instanceID,
			Title:           "run " + native,
			UpdateTimestamp: updated,
			Unread:          true,
			Project:         project,
		},
		Status: models.PipelineCompleted,
	}
}

func itemsByID(items []models.Item) map[string]models.Item {
	out := make(map[string]models.Item, len(items))
	for _, item := range items {
		out[item.Base().ID] = item
	}
	return out
}

var errUpstream = fmt.Errorf("upstream unavailable")
