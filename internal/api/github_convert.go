package api

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/go-github/v57/github"
	"github.com/wesm/work-inbox/internal/classify"
	"github.com/wesm/work-inbox/internal/models"
)

// ErrWrongItemKind is returned when a converter receives an entity of the other kind.
// Callers must discriminate before converting.
var ErrWrongItemKind = errors.New("wrong item kind for converter")

// IsGitHubPullRequest reports whether a search result item is a pull request
func IsGitHubPullRequest(issue *github.Issue) bool {
	return issue.IsPullRequest()
}

// ConvertGitHubUser converts a GitHub user to our model
func ConvertGitHubUser(user *github.User) *models.Assignee {
	if user == nil {
		return nil
	}

	name := user.GetName()
	if name == "" {
		name = user.GetLogin()
	}
	return &models.Assignee{
		DisplayName: name,
		ImageURL:    user.GetAvatarURL(),
		Name:        user.GetLogin(),
	}
}

// ConvertGitHubPullRequest converts a search result pull request to our model. Search results
// do not say whether a closed pull request was merged; details is the pull request fetched
// from the pulls API and tells the two apart. A nil details leaves closed pull requests closed.
func ConvertGitHubPullRequest(issue *github.Issue, details *github.PullRequest, inst models.Instance) (*models.PullRequest, error) {
	if !IsGitHubPullRequest(issue) {
		return nil, fmt.Errorf("issue #%d is not a pull request: %w", issue.GetNumber(), ErrWrongItemKind)
	}

	owner, repo := repositoryFromURL(issue.GetRepositoryURL())
	assignee := issue.Assignee
	if assignee == nil {
		assignee = issue.User
	}

	return &models.PullRequest{
		ItemBase: models.ItemBase{
			ID:               models.ItemID(models.ProviderGitHub, models.TypePullRequest, inst.ID, strconv.FormatInt(issue.GetID(), 10)),
			Type:             models.TypePullRequest,
			Provider:         models.ProviderGitHub,
			InstanceID:       inst.ID,
			Title:            issue.GetTitle(),
			Description:      issue.GetBody(),
			URL:              issue.GetHTMLURL(),
			ItemStatus:       issue.GetState(),
			CreatedTimestamp: issue.GetCreatedAt().UnixMilli(),
			UpdateTimestamp:  issue.GetUpdatedAt().UnixMilli(),
			Unread:           true,
			Project:          projectName(owner, repo),
			Repository:       repo,
			Organization:     inst.Name,
			Assignee:         ConvertGitHubUser(assignee),
		},
		Status: githubPullRequestStatus(issue, details),
		Draft:  issue.GetDraft(),
	}, nil
}

// ConvertGitHubWorkItem converts a search result issue to our model
func ConvertGitHubWorkItem(issue *github.Issue, inst models.Instance) (*models.WorkItem, error) {
	if IsGitHubPullRequest(issue) {
		return nil, fmt.Errorf("issue #%d is a pull request: %w", issue.GetNumber(), ErrWrongItemKind)
	}

	labels := make([]string, 0, len(issue.Labels))
	for _, label := range issue.Labels {
		labels = append(labels, label.GetName())
	}
	result := classify.Classify(classify.Input{Labels: labels, Title: issue.GetTitle()}, classify.GitHub)

	owner, repo := repositoryFromURL(issue.GetRepositoryURL())
	return &models.WorkItem{
		ItemBase: models.ItemBase{
			ID:               models.ItemID(models.ProviderGitHub, models.TypeWorkItem, inst.ID, strconv.FormatInt(issue.GetID(), 10)),
			Type:             models.TypeWorkItem,
			Provider:         models.ProviderGitHub,
			InstanceID:       inst.ID,
			Title:            issue.GetTitle(),
			Description:      issue.GetBody(),
			URL:              issue.GetHTMLURL(),
			ItemStatus:       issue.GetState(),
			CreatedTimestamp: issue.GetCreatedAt().UnixMilli(),
			UpdateTimestamp:  issue.GetUpdatedAt().UnixMilli(),
			Unread:           true,
			Project:          projectName(owner, repo),
			Repository:       repo,
			Organization:     inst.Name,
			Assignee:         ConvertGitHubUser(issue.Assignee),
		},
		Status:       inst.MapStatus(issue.GetState()),
		WorkItemKind: result.Kind,
		Labels:       labels,
		Classification: &models.Classification{
			Confidence: result.Confidence,
			Method:     string(result.Method),
		},
	}, nil
}

// ConvertGitHubWorkflowRun converts an Actions workflow run to our model
func ConvertGitHubWorkflowRun(run *github.WorkflowRun, owner, repo string, inst models.Instance) *models.Pipeline {
	title := run.GetName()
	if n := run.GetRunNumber(); n != 0 {
		title = fmt.Sprintf("%s #%d", title, n)
	}

	return &models.Pipeline{
		ItemBase: models.ItemBase{
			ID:               models.ItemID(models.ProviderGitHub, models.TypePipeline, inst.ID, strconv.FormatInt(run.GetID(), 10)),
			Type:             models.TypePipeline,
			Provider:         models.ProviderGitHub,
			InstanceID:       inst.ID,
			Title:            title,
			URL:              run.GetHTMLURL(),
			ItemStatus:       run.GetStatus(),
			CreatedTimestamp: run.GetCreatedAt().UnixMilli(),
			UpdateTimestamp:  run.GetUpdatedAt().UnixMilli(),
			Unread:           true,
			Project:          projectName(owner, repo),
			Repository:       repo,
			Organization:     inst.Name,
			Assignee:         ConvertGitHubUser(run.Actor),
		},
		Status: githubRunStatus(run.GetStatus(), run.GetConclusion()),
		Result: run.GetConclusion(),
		Branch: run.GetHeadBranch(),
	}
}

func githubPullRequestStatus(issue *github.Issue, details *github.PullRequest) models.PullRequestStatus {
	if issue.GetState() != "closed" {
		return models.PullRequestOpen
	}
	if details != nil && (details.GetMerged() || details.MergedAt != nil) {
		return models.PullRequestMerged
	}
	return models.PullRequestClosed
}

func githubRunStatus(status, conclusion string) models.PipelineStatus {
	switch status {
	case "in_progress":
		return models.PipelineRunning
	case "completed":
		switch conclusion {
		case "failure", "timed_out", "startup_failure":
			return models.PipelineFailed
		}
		return models.PipelineCompleted
	default:
		return models.PipelineQueued
	}
}

// repositoryFromURL extracts owner and name from https://api.github.com/repos/{owner}/{name}
func repositoryFromURL(repoURL string) (string, string) {
	_, rest, ok := strings.Cut(repoURL, "/repos/")
	if !ok {
		return "", ""
	}
	owner, name, _ := strings.Cut(strings.Trim(rest, "/"), "/")
	return owner, name
}

func projectName(owner, repo string) string {
	if owner == "" {
		return repo
	}
	return owner + "/" + repo
}
