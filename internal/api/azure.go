package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	azureAPIVersion = "7.0"
	// MaxWorkItemBatch is the largest id list accepted by the workitemsbatch endpoint
	MaxWorkItemBatch = 200
)

// AzureClient is a minimal REST client for Azure DevOps Services and Server
type AzureClient struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
}

// NewAzureClient creates a client for the organization or collection at baseURL
func NewAzureClient(baseURL, token string) *AzureClient {
	return &AzureClient{
		BaseURL:    strings.TrimSuffix(baseURL, "/"),
		Token:      token,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// StatusError represents a non-2xx Azure DevOps response
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	body := e.Body
	if len(body) > 200 {
		body = body[:200] + "..."
	}
	return fmt.Sprintf("azure devops: status %d: %s", e.Status, body)
}

// AzureTime accepts the timestamp formats Azure DevOps emits, with or without a zone
type AzureTime struct {
	time.Time
}

func (t *AzureTime) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		return nil
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999999"} {
		if parsed, err := time.Parse(layout, s); err == nil {
			t.Time = parsed
			return nil
		}
	}
	return fmt.Errorf("invalid azure devops time %q", s)
}

// Millis returns epoch milliseconds, or 0 for unset times
func (t AzureTime) Millis() int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

type azureList[T any] struct {
	Count int `json:"count"`
	Value []T `json:"value"`
}

// AzureIdentity is an identity reference
type AzureIdentity struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	UniqueName  string `json:"uniqueName"`
	ImageURL    string `json:"imageUrl"`
}

// AzureProject is a team project
type AzureProject struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	URL  string `json:"url"`
}

// AzurePullRequest mirrors the fields we use from the pull request API
type AzurePullRequest struct {
	PullRequestID int            `json:"pullRequestId"`
	Title         string         `json:"title"`
	Description   string         `json:"description"`
	Status        string         `json:"status"`
	CreationDate  AzureTime      `json:"creationDate"`
	ClosedDate    AzureTime      `json:"closedDate"`
	URL           string         `json:"url"`
	IsDraft       bool           `json:"isDraft"`
	SourceRefName string         `json:"sourceRefName"`
	TargetRefName string         `json:"targetRefName"`
	CreatedBy     *AzureIdentity `json:"createdBy"`

	// Head of the source branch at the last merge evaluation; committer is not always expanded
	LastMergeSourceCommit *AzureCommitRef `json:"lastMergeSourceCommit"`
	Repository            struct {
		ID      string `json:"id"`
		Name    string `json:"name"`
		Project struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		} `json:"project"`
	} `json:"repository"`
}

// AzureCommitRef is a commit reference inside a pull request
type AzureCommitRef struct {
	CommitID  string `json:"commitId"`
	Committer *struct {
		Date AzureTime `json:"date"`
	} `json:"committer"`
}

// AzureWorkItemFields holds the System fields we read
type AzureWorkItemFields struct {
	Title        string         `json:"System.Title"`
	Description  string         `json:"System.Description"`
	State        string         `json:"System.State"`
	WorkItemType string         `json:"System.WorkItemType"`
	TeamProject  string         `json:"System.TeamProject"`
	Tags         string         `json:"System.Tags"`
	CreatedDate  AzureTime      `json:"System.CreatedDate"`
	ChangedDate  AzureTime      `json:"System.ChangedDate"`
	AssignedTo   *AzureIdentity `json:"System.AssignedTo"`
}

// AzureWorkItem is a work item as returned by workitemsbatch with links expanded
type AzureWorkItem struct {
	ID     int                 `json:"id"`
	Rev    int                 `json:"rev"`
	URL    string              `json:"url"`
	Fields AzureWorkItemFields `json:"fields"`
	Links  struct {
		HTML struct {
			Href string `json:"href"`
		} `json:"html"`
	} `json:"_links"`
}

// AzureBuild is a pipeline run as returned by the build API
type AzureBuild struct {
	ID           int            `json:"id"`
	BuildNumber  string         `json:"buildNumber"`
	Status       string         `json:"status"`
	Result       string         `json:"result"`
	QueueTime    AzureTime      `json:"queueTime"`
	StartTime    AzureTime      `json:"startTime"`
	FinishTime   AzureTime      `json:"finishTime"`
	SourceBranch string         `json:"sourceBranch"`
	RequestedFor *AzureIdentity `json:"requestedFor"`
	Definition   struct {
		ID   int    `json:"id"`
		Name string `json:"name"`
	} `json:"definition"`
	Project struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"project"`
	Repository struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"repository"`
	Links struct {
		Web struct {
			Href string `json:"href"`
		} `json:"web"`
	} `json:"_links"`
}

// do executes a request and unmarshals the JSON response into out
func (c *AzureClient) do(ctx context.Context, method, path string, query url.Values, body, out interface{}) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if query == nil {
		query = url.Values{}
	}
	if query.Get("api-version") == "" {
		query.Set("api-version", azureAPIVersion)
	}

	endpoint := c.BaseURL + path + "?" + query.Encode()

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("azure devops: marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("azure devops: create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Token != "" {
		req.SetBasicAuth("", c.Token)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("azure devops: request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("azure devops: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{Status: resp.StatusCode, Body: string(respBody)}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("azure devops: decode response: %w", err)
	}
	return nil
}

// AuthenticatedUser returns the identity that owns the token
func (c *AzureClient) AuthenticatedUser(ctx context.Context) (*AzureIdentity, error) {
	var resp struct {
		AuthenticatedUser struct {
			ID                  string `json:"id"`
			ProviderDisplayName string `json:"providerDisplayName"`
		} `json:"authenticatedUser"`
	}
	if err := c.do(ctx, http.MethodGet, "/_apis/connectionData", nil, nil, &resp); err != nil {
		return nil, fmt.Errorf("failed to get connection data: %w", err)
	}
	return &AzureIdentity{
		ID:          resp.AuthenticatedUser.ID,
		DisplayName: resp.AuthenticatedUser.ProviderDisplayName,
	}, nil
}

// ListProjects lists the team projects of the organization
func (c *AzureClient) ListProjects(ctx context.Context) ([]AzureProject, error) {
	var resp azureList[AzureProject]
	query := url.Values{"$top": {"500"}}
	if err := c.do(ctx, http.MethodGet, "/_apis/projects", query, nil, &resp); err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	return resp.Value, nil
}

// ListPullRequests lists pull requests in a project matching searchCriteria.* parameters
func (c *AzureClient) ListPullRequests(ctx context.Context, project string, criteria map[string]string) ([]AzurePullRequest, error) {
	query := url.Values{"$top": {"200"}}
	for key, value := range criteria {
		query.Set("searchCriteria."+key, value)
	}
	var resp azureList[AzurePullRequest]
	path := "/" + url.PathEscape(project) + "/_apis/git/pullrequests"
	if err := c.do(ctx, http.MethodGet, path, query, nil, &resp); err != nil {
		return nil, fmt.Errorf("failed to list pull requests for %s: %w", project, err)
	}
	return resp.Value, nil
}

// QueryWorkItemIDs runs a WIQL query and returns the matching ids
func (c *AzureClient) QueryWorkItemIDs(ctx context.Context, wiql string) ([]int, error) {
	var resp struct {
		WorkItems []struct {
			ID int `json:"id"`
		} `json:"workItems"`
	}
	body := map[string]string{"query": wiql}
	if err := c.do(ctx, http.MethodPost, "/_apis/wit/wiql", url.Values{"$top": {"500"}}, body, &resp); err != nil {
		return nil, fmt.Errorf("failed to query work items: %w", err)
	}
	ids := make([]int, 0, len(resp.WorkItems))
	for _, wi := range resp.WorkItems {
		ids = append(ids, wi.ID)
	}
	return ids, nil
}

// GetWorkItems fetches work item details, splitting ids into batches of MaxWorkItemBatch
func (c *AzureClient) GetWorkItems(ctx context.Context, ids []int) ([]AzureWorkItem, error) {
	var all []AzureWorkItem
	for start := 0; start < len(ids); start += MaxWorkItemBatch {
		end := start + MaxWorkItemBatch
		if end > len(ids) {
			end = len(ids)
		}
		body := map[string]interface{}{
			"ids":     ids[start:end],
			"$expand": "Links",
		}
		var resp azureList[AzureWorkItem]
		if err := c.do(ctx, http.MethodPost, "/_apis/wit/workitemsbatch", nil, body, &resp); err != nil {
			return nil, fmt.Errorf("failed to get work items: %w", err)
		}
		all = append(all, resp.Value...)
	}
	return all, nil
}

// ListBuilds lists the most recent pipeline runs of a project
func (c *AzureClient) ListBuilds(ctx context.Context, project string, top int) ([]AzureBuild, error) {
	query := url.Values{
		"$top":       {strconv.Itoa(top)},
		"queryOrder": {"queueTimeDescending"},
	}
	var resp azureList[AzureBuild]
	path := "/" + url.PathEscape(project) + "/_apis/build/builds"
	if err := c.do(ctx, http.MethodGet, path, query, nil, &resp); err != nil {
		return nil, fmt.Errorf("failed to list pipeline runs for %s: %w", project, err)
	}
	return resp.Value, nil
}
