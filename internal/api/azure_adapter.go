package api

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/wesm/work-inbox/internal/models"
	"golang.org/x/sync/errgroup"
)

const (
	pipelineRunsPerProject = 20

	assignedWorkItemsWIQL = `SELECT [System.Id] FROM WorkItems
WHERE [System.AssignedTo] = @Me
AND [System.State] NOT IN ('Closed', 'Done', 'Removed', 'Resolved')
ORDER BY [System.ChangedDate] DESC`

	changedWorkItemsWIQL = `SELECT [System.Id] FROM WorkItems
WHERE [System.AssignedTo] = @Me
AND [System.ChangedDate] >= '%s'
ORDER BY [System.ChangedDate] DESC`
)

// AzureAdapter serves one Azure DevOps instance
type AzureAdapter struct {
	inst    models.Instance
	client  *AzureClient
	workers int

	mu     sync.Mutex
	userID string
}

// NewAzureAdapter creates an adapter. workers bounds concurrent per-project requests.
func NewAzureAdapter(inst models.Instance, client *AzureClient, workers int) *AzureAdapter {
	if workers < 1 {
		workers = 1
	}
	return &AzureAdapter{inst: inst, client: client, workers: workers}
}

// Instance returns the instance served by this adapter
func (a *AzureAdapter) Instance() models.Instance {
	return a.inst
}

// ListProjects lists the organization's projects
func (a *AzureAdapter) ListProjects(ctx context.Context) ([]models.Project, error) {
	projects, err := a.client.ListProjects(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]models.Project, 0, len(projects))
	for _, p := range projects {
		out = append(out, models.Project{ID: p.ID, Name: p.Name})
	}
	return out, nil
}

// ListAssignedPullRequests lists active pull requests created by or awaiting review from
// the token owner, across projects
func (a *AzureAdapter) ListAssignedPullRequests(ctx context.Context, projects []models.Project) ([]models.Item, error) {
	userID, err := a.currentUser(ctx)
	if err != nil {
		return nil, err
	}

	results := make([][]AzurePullRequest, len(projects))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.workers)
	for i, project := range projects {
		g.Go(func() error {
			seen := make(map[int]bool)
			for _, role := range []string{"creatorId", "reviewerId"} {
				prs, err := a.client.ListPullRequests(gctx, project.Name, map[string]string{
					"status": "active",
					role:     userID,
				})
				if err != nil {
					return err
				}
				for _, pr := range prs {
					if seen[pr.PullRequestID] {
						continue
					}
					seen[pr.PullRequestID] = true
					results[i] = append(results[i], pr)
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var items []models.Item
	for _, prs := range results {
		for i := range prs {
			items = append(items, ConvertAzurePullRequest(&prs[i], a.inst))
		}
	}
	return items, nil
}

// ListAssignedWorkItems lists open work items assigned to the token owner
func (a *AzureAdapter) ListAssignedWorkItems(ctx context.Context, _ []models.Project) ([]models.Item, error) {
	return a.queryWorkItems(ctx, assignedWorkItemsWIQL, time.Time{})
}

// ListPipelineRuns lists the most recent pipeline runs of a project
func (a *AzureAdapter) ListPipelineRuns(ctx context.Context, project string) ([]models.Item, error) {
	builds, err := a.client.ListBuilds(ctx, project, pipelineRunsPerProject)
	if err != nil {
		return nil, err
	}
	items := make([]models.Item, 0, len(builds))
	for i := range builds {
		items = append(items, ConvertAzurePipelineRun(&builds[i], a.inst))
	}
	return items, nil
}

// ListNewItemsSince lists assigned work items changed at or after since
func (a *AzureAdapter) ListNewItemsSince(ctx context.Context, since time.Time) ([]models.Item, error) {
	// WIQL compares dates at day precision; the exact cut happens after the fetch
	wiql := fmt.Sprintf(changedWorkItemsWIQL, since.UTC().Format("2006-01-02"))
	return a.queryWorkItems(ctx, wiql, since)
}

func (a *AzureAdapter) queryWorkItems(ctx context.Context, wiql string, since time.Time) ([]models.Item, error) {
	ids, err := a.client.QueryWorkItemIDs(ctx, wiql)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}
	workItems, err := a.client.GetWorkItems(ctx, ids)
	if err != nil {
		return nil, err
	}

	items := make([]models.Item, 0, len(workItems))
	for i := range workItems {
		if !since.IsZero() && workItems[i].Fields.ChangedDate.Before(since) {
			continue
		}
		items = append(items, ConvertAzureWorkItem(&workItems[i], a.inst, a.client.BaseURL))
	}
	return items, nil
}

func (a *AzureAdapter) currentUser(ctx context.Context) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.userID != "" {
		return a.userID, nil
	}
	user, err := a.client.AuthenticatedUser(ctx)
	if err != nil {
		return "", err
	}
	if user.ID == "" {
		return "", fmt.Errorf("azure devops: connection data returned no user for %s", a.inst.Name)
	}
	a.userID = user.ID
	return a.userID, nil
}
