package api

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/go-github/v57/github"
	"github.com/wesm/work-inbox/internal/models"
)

const (
	searchMaxPages       = 3
	workflowRunsPerRepo  = 20
	assignedPullRequests = "is:open is:pr involves:%s archived:false"
	assignedIssues       = "is:open is:issue assignee:%s archived:false"
	updatedSince         = "involves:%s updated:>=%s"
)

// GitHubAdapter serves one GitHub instance
type GitHubAdapter struct {
	inst    models.Instance
	client  *GitHubClient
	graphql *GraphQLClient

	mu    sync.Mutex
	login string
}

// NewGitHubAdapter creates an adapter. When username is empty the login is looked up
// through the GraphQL viewer query on first use.
func NewGitHubAdapter(inst models.Instance, client *GitHubClient, graphql *GraphQLClient, username string) *GitHubAdapter {
	return &GitHubAdapter{inst: inst, client: client, graphql: graphql, login: username}
}

// Instance returns the instance served by this adapter
func (a *GitHubAdapter) Instance() models.Instance {
	return a.inst
}

// ListProjects resolves the user and returns the pinned repositories as projects.
// GitHub searches span all repositories, so no project list is needed for them.
func (a *GitHubAdapter) ListProjects(ctx context.Context) ([]models.Project, error) {
	if _, err := a.viewerLogin(ctx); err != nil {
		return nil, err
	}
	projects := make([]models.Project, 0, len(a.inst.Pinned))
	for _, repo := range a.inst.Pinned {
		projects = append(projects, models.Project{ID: repo, Name: repo})
	}
	return projects, nil
}

// ListAssignedPullRequests lists open pull requests involving the user
func (a *GitHubAdapter) ListAssignedPullRequests(ctx context.Context, _ []models.Project) ([]models.Item, error) {
	login, err := a.viewerLogin(ctx)
	if err != nil {
		return nil, err
	}
	issues, err := a.client.SearchIssues(ctx, fmt.Sprintf(assignedPullRequests, login), searchMaxPages)
	if err != nil {
		return nil, err
	}
	return a.convert(ctx, issues)
}

// ListAssignedWorkItems lists open issues assigned to the user
func (a *GitHubAdapter) ListAssignedWorkItems(ctx context.Context, _ []models.Project) ([]models.Item, error) {
	login, err := a.viewerLogin(ctx)
	if err != nil {
		return nil, err
	}
	issues, err := a.client.SearchIssues(ctx, fmt.Sprintf(assignedIssues, login), searchMaxPages)
	if err != nil {
		return nil, err
	}
	return a.convert(ctx, issues)
}

// ListPipelineRuns lists recent workflow runs of an owner/name repository
func (a *GitHubAdapter) ListPipelineRuns(ctx context.Context, repository string) ([]models.Item, error) {
	owner, name, err := ParseRepositoryString(repository)
	if err != nil {
		return nil, err
	}
	runs, err := a.client.ListWorkflowRuns(ctx, owner, name, workflowRunsPerRepo)
	if err != nil {
		return nil, err
	}
	items := make([]models.Item, 0, len(runs))
	for _, run := range runs {
		items = append(items, ConvertGitHubWorkflowRun(run, owner, name, a.inst))
	}
	return items, nil
}

// ListNewItemsSince lists issues and pull requests involving the user updated since
func (a *GitHubAdapter) ListNewItemsSince(ctx context.Context, since time.Time) ([]models.Item, error) {
	login, err := a.viewerLogin(ctx)
	if err != nil {
		return nil, err
	}
	issues, err := a.client.SearchIssues(ctx, fmt.Sprintf(updatedSince, login, searchDate(since)), searchMaxPages)
	if err != nil {
		return nil, err
	}
	return a.convert(ctx, issues)
}

// convert splits search results by kind. Closed pull requests are looked up to tell merged
// from closed.
func (a *GitHubAdapter) convert(ctx context.Context, issues []*github.Issue) ([]models.Item, error) {
	items := make([]models.Item, 0, len(issues))
	for _, issue := range issues {
		if IsGitHubPullRequest(issue) {
			var details *github.PullRequest
			if issue.GetState() == "closed" {
				owner, repo := repositoryFromURL(issue.GetRepositoryURL())
				var err error
				details, err = a.client.GetPullRequest(ctx, owner, repo, issue.GetNumber())
				if err != nil {
					return nil, err
				}
			}
			pr, err := ConvertGitHubPullRequest(issue, details, a.inst)
			if err != nil {
				return nil, err
			}
			items = append(items, pr)
			continue
		}
		wi, err := ConvertGitHubWorkItem(issue, a.inst)
		if err != nil {
			return nil, err
		}
		items = append(items, wi)
	}
	return items, nil
}

func (a *GitHubAdapter) viewerLogin(ctx context.Context) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.login != "" {
		return a.login, nil
	}
	if a.graphql == nil {
		return "", fmt.Errorf("github: no username configured for %s", a.inst.Name)
	}
	viewer, err := a.graphql.Viewer(ctx)
	if err != nil {
		return "", err
	}
	if viewer.Login == "" {
		return "", fmt.Errorf("github: viewer query returned no login for %s", a.inst.Name)
	}
	a.login = viewer.Login
	return a.login, nil
}
