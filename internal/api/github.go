package api

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/go-github/v57/github"
	"golang.org/x/oauth2"
)

// GitHubClient represents a client for the GitHub API
type GitHubClient struct {
	client *github.Client
}

// NewGitHubClient creates a new GitHub API client. baseURL is optional and points the
// client at a GitHub Enterprise or test server.
func NewGitHubClient(token, baseURL string) (*GitHubClient, error) {
	var tc *http.Client

	if token != "" {
		// Create an authenticated client if a token is provided
		ts := oauth2.StaticTokenSource(
			&oauth2.Token{AccessToken: token},
		)
		tc = oauth2.NewClient(context.Background(), ts)
	}

	client := github.NewClient(tc)
	if baseURL != "" {
		if !strings.HasSuffix(baseURL, "/") {
			baseURL += "/"
		}
		u, err := url.Parse(baseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to parse GitHub base URL: %w", err)
		}
		client.BaseURL = u
	}
	return &GitHubClient{client: client}, nil
}

// SearchIssues runs an issue search and follows pagination up to maxPages pages
func (c *GitHubClient) SearchIssues(ctx context.Context, query string, maxPages int) ([]*github.Issue, error) {
	var allIssues []*github.Issue
	opts := &github.SearchOptions{
		Sort:  "updated",
		Order: "desc",
		ListOptions: github.ListOptions{
			PerPage: 100,
		},
	}

	for page := 0; maxPages <= 0 || page < maxPages; page++ {
		result, resp, err := c.client.Search.Issues(ctx, query, opts)
		if err != nil {
			return nil, fmt.Errorf("failed to search issues: %w", err)
		}

		allIssues = append(allIssues, result.Issues...)

		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	return allIssues, nil
}

// GetPullRequest gets a single pull request
func (c *GitHubClient) GetPullRequest(ctx context.Context, owner, name string, number int) (*github.PullRequest, error) {
	pr, _, err := c.client.PullRequests.Get(ctx, owner, name, number)
	if err != nil {
		return nil, fmt.Errorf("failed to get pull request %s/%s#%d: %w", owner, name, number, err)
	}
	return pr, nil
}

// ListWorkflowRuns gets the most recent workflow runs for a repository
func (c *GitHubClient) ListWorkflowRuns(ctx context.Context, owner, name string, limit int) ([]*github.WorkflowRun, error) {
	opts := &github.ListWorkflowRunsOptions{
		ListOptions: github.ListOptions{
			PerPage: limit,
		},
	}

	runs, _, err := c.client.Actions.ListRepositoryWorkflowRuns(ctx, owner, name, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list workflow runs: %w", err)
	}
	return runs.WorkflowRuns, nil
}

// searchDate formats t for GitHub search qualifiers
func searchDate(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05Z")
}

// ParseRepositoryString parses a repository string in the format "owner/name"
func ParseRepositoryString(repoStr string) (string, string, error) {
	parts := strings.Split(repoStr, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid repository format, expected 'owner/name', got '%s'", repoStr)
	}
	return parts[0], parts[1], nil
}
