package api

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/wesm/work-inbox/internal/classify"
	"github.com/wesm/work-inbox/internal/models"
)

// ConvertAzureIdentity converts an identity reference to our model
func ConvertAzureIdentity(identity *AzureIdentity) *models.Assignee {
	if identity == nil || (identity.DisplayName == "" && identity.UniqueName == "") {
		return nil
	}
	return &models.Assignee{
		DisplayName: identity.DisplayName,
		ImageURL:    identity.ImageURL,
		Name:        identity.UniqueName,
	}
}

// ConvertAzurePullRequest converts a pull request to our model
func ConvertAzurePullRequest(pr *AzurePullRequest, inst models.Instance) *models.PullRequest {
	project := pr.Repository.Project.Name
	repo := pr.Repository.Name
	webURL := AzurePullRequestWebURL(pr.URL, project, repo, pr.PullRequestID)

	updated := max(pr.CreationDate.Millis(), pr.ClosedDate.Millis())
	if c := pr.LastMergeSourceCommit; c != nil && c.Committer != nil {
		updated = max(updated, c.Committer.Date.Millis())
	}

	return &models.PullRequest{
		ItemBase: models.ItemBase{
			ID:               models.ItemID(models.ProviderAzureDevOps, models.TypePullRequest, inst.ID, strconv.Itoa(pr.PullRequestID)),
			Type:             models.TypePullRequest,
			Provider:         models.ProviderAzureDevOps,
			InstanceID:       inst.ID,
			Title:            pr.Title,
			Description:      pr.Description,
			URL:              webURL,
			ItemStatus:       pr.Status,
			CreatedTimestamp: pr.CreationDate.Millis(),
			UpdateTimestamp:  updated,
			Unread:           true,
			Project:          project,
			Repository:       repo,
			Organization:     inst.Name,
			Assignee:         ConvertAzureIdentity(pr.CreatedBy),
		},
		Status:       azurePullRequestStatus(pr.Status),
		Draft:        pr.IsDraft,
		SourceBranch: strings.TrimPrefix(pr.SourceRefName, "refs/heads/"),
		TargetBranch: strings.TrimPrefix(pr.TargetRefName, "refs/heads/"),
	}
}

// ConvertAzureWorkItem converts a work item to our model. baseURL is used to build a
// browsable link when the payload carries no html link.
func ConvertAzureWorkItem(wi *AzureWorkItem, inst models.Instance, baseURL string) *models.WorkItem {
	fields := wi.Fields
	labels := splitTags(fields.Tags)
	result := classify.Classify(classify.Input{
		TypeName: fields.WorkItemType,
		Labels:   labels,
		Title:    fields.Title,
	}, classify.AzureDevOps)

	workItemURL := wi.Links.HTML.Href
	if workItemURL == "" {
		workItemURL = fmt.Sprintf("%s/%s/_workitems/edit/%d", strings.TrimSuffix(baseURL, "/"), url.PathEscape(fields.TeamProject), wi.ID)
	}

	return &models.WorkItem{
		ItemBase: models.ItemBase{
			ID:               models.ItemID(models.ProviderAzureDevOps, models.TypeWorkItem, inst.ID, strconv.Itoa(wi.ID)),
			Type:             models.TypeWorkItem,
			Provider:         models.ProviderAzureDevOps,
			InstanceID:       inst.ID,
			Title:            fields.Title,
			Description:      fields.Description,
			URL:              workItemURL,
			ItemStatus:       fields.State,
			CreatedTimestamp: fields.CreatedDate.Millis(),
			UpdateTimestamp:  fields.ChangedDate.Millis(),
			Unread:           true,
			Project:          fields.TeamProject,
			Organization:     inst.Name,
			Assignee:         ConvertAzureIdentity(fields.AssignedTo),
		},
		Status:       inst.MapStatus(fields.State),
		WorkItemKind: result.Kind,
		Labels:       labels,
		Classification: &models.Classification{
			Confidence: result.Confidence,
			Method:     string(result.Method),
		},
	}
}

// ConvertAzurePipelineRun converts a build to our model
func ConvertAzurePipelineRun(build *AzureBuild, inst models.Instance) *models.Pipeline {
	title := build.Definition.Name
	if build.BuildNumber != "" {
		title = fmt.Sprintf("%s #%s", title, build.BuildNumber)
	}

	updated := build.QueueTime.Millis()
	for _, t := range []AzureTime{build.StartTime, build.FinishTime} {
		if ms := t.Millis(); ms > updated {
			updated = ms
		}
	}

	return &models.Pipeline{
		ItemBase: models.ItemBase{
			ID:               models.ItemID(models.ProviderAzureDevOps, models.TypePipeline, inst.ID, strconv.Itoa(build.ID)),
			Type:             models.TypePipeline,
			Provider:         models.ProviderAzureDevOps,
			InstanceID:       inst.ID,
			Title:            title,
			URL:              build.Links.Web.Href,
			ItemStatus:       build.Status,
			CreatedTimestamp: build.QueueTime.Millis(),
			UpdateTimestamp:  updated,
			Unread:           true,
			Project:          build.Project.Name,
			Repository:       build.Repository.Name,
			Organization:     inst.Name,
			Assignee:         ConvertAzureIdentity(build.RequestedFor),
		},
		Status: azurePipelineStatus(build.Status, build.Result),
		Result: build.Result,
		Branch: strings.TrimPrefix(build.SourceBranch, "refs/heads/"),
	}
}

// AzurePullRequestWebURL rebuilds the browsable pull request URL from its REST URL, e.g.
// https://dev.azure.com/org/proj/_apis/git/repositories/repo/pullRequests/7 becomes
// https://dev.azure.com/org/proj/_git/repo/pullrequest/7. Non-empty project and repo
// names replace the id segments of the REST URL.
func AzurePullRequestWebURL(apiURL, project, repo string, id int) string {
	u, err := url.Parse(apiURL)
	if err != nil || u.Host == "" {
		return apiURL
	}
	head, tail, ok := strings.Cut(u.Path, "/_apis/")
	if !ok {
		return apiURL
	}

	orgPath, projectSegment := "", strings.Trim(head, "/")
	if i := strings.LastIndex(projectSegment, "/"); i >= 0 {
		orgPath, projectSegment = projectSegment[:i], projectSegment[i+1:]
	}

	repoSegment := ""
	if _, rest, ok := strings.Cut(tail, "repositories/"); ok {
		repoSegment, _, _ = strings.Cut(rest, "/")
	}

	if project != "" {
		projectSegment = project
	}
	if repo != "" {
		repoSegment = repo
	}
	if projectSegment == "" || repoSegment == "" {
		return apiURL
	}

	base := u.Scheme + "://" + u.Host
	if orgPath != "" {
		base += "/" + orgPath
	}
	return fmt.Sprintf("%s/%s/_git/%s/pullrequest/%d", base, url.PathEscape(projectSegment), url.PathEscape(repoSegment), id)
}

func azurePullRequestStatus(status string) models.PullRequestStatus {
	switch status {
	case "completed":
		return models.PullRequestMerged
	case "abandoned":
		return models.PullRequestClosed
	default:
		return models.PullRequestOpen
	}
}

func azurePipelineStatus(status, result string) models.PipelineStatus {
	switch status {
	case "inProgress", "cancelling":
		return models.PipelineRunning
	case "completed":
		if result == "failed" {
			return models.PipelineFailed
		}
		return models.PipelineCompleted
	default:
		return models.PipelineQueued
	}
}

func splitTags(tags string) []string {
	if strings.TrimSpace(tags) == "" {
		return nil
	}
	var out []string
	for _, tag := range strings.Split(tags, ";") {
		if tag = strings.TrimSpace(tag); tag != "" {
			out = append(out, tag)
		}
	}
	return out
}
