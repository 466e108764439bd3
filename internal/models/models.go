package models

import (
	"fmt"
	"strings"
)

// Provider identifies an upstream system
type Provider string

const (
	ProviderAzureDevOps Provider = "ado"
	ProviderGitHub      Provider = "github"
)

// ItemType is the tag of the normalized item sum type
type ItemType string

const (
	TypeWorkItem    ItemType = "workItem"
	TypePullRequest ItemType = "pullRequest"
	TypePipeline    ItemType = "pipeline"
)

// PullRequestStatus is the normalized pull request state
type PullRequestStatus string

const (
	PullRequestOpen   PullRequestStatus = "open"
	PullRequestClosed PullRequestStatus = "closed"
	PullRequestMerged PullRequestStatus = "merged"
)

// PipelineStatus is the normalized pipeline run state
type PipelineStatus string

const (
	PipelineRunning   PipelineStatus = "running"
	PipelineCompleted PipelineStatus = "completed"
	PipelineFailed    PipelineStatus = "failed"
	PipelineQueued    PipelineStatus = "queued"
)

// Assignee represents the person an item is assigned to or created by
type Assignee struct {
	DisplayName string `json:"displayName"`
	ImageURL    string `json:"imageUrl,omitempty"`
	Name        string `json:"name"`
}

// ItemBase holds the fields shared by every normalized item
type ItemBase struct {
	ID                  string    `json:"id"`
	Type                ItemType  `json:"type"`
	Provider            Provider  `json:"provider"`
	InstanceID          string    `json:"instanceId"`
	Title               string    `json:"title"`
	Description         string    `json:"description,omitempty"`
	URL                 string    `json:"url"`
	ItemStatus          string    `json:"itemStatus"`
	CreatedTimestamp    int64     `json:"createdTimestamp"`
	UpdateTimestamp     int64     `json:"updateTimestamp"`
	PrevUpdateTimestamp *int64    `json:"prevUpdateTimestamp"`
	Unread              bool      `json:"unread"`
	Project             string    `json:"project"`
	Repository          string    `json:"repository,omitempty"`
	Organization        string    `json:"organization"`
	Assignee            *Assignee `json:"assignee,omitempty"`
}

// Item is implemented by *WorkItem, *PullRequest and *Pipeline only
type Item interface {
	Base() *ItemBase
	// Clone returns a shallow copy that can be modified without touching the receiver
	Clone() Item
	isItem()
}

// Classification records how a work item kind was chosen
type Classification struct {
	Confidence float64 `json:"confidence"`
	Method     string  `json:"method"`
}

// WorkItem represents an assigned issue or board item
type WorkItem struct {
	ItemBase
	Status         string          `json:"status"`
	WorkItemKind   WorkItemKind    `json:"workItemKind"`
	Labels         []string        `json:"labels,omitempty"`
	Classification *Classification `json:"classification,omitempty"`
}

// PullRequest represents a pull request the user is involved in
type PullRequest struct {
	ItemBase
	Status       PullRequestStatus `json:"status"`
	Draft        bool              `json:"draft,omitempty"`
	SourceBranch string            `json:"sourceBranch,omitempty"`
	TargetBranch string            `json:"targetBranch,omitempty"`
}

// Pipeline represents a single pipeline or workflow run
type Pipeline struct {
	ItemBase
	Status PipelineStatus `json:"status"`
	Result string         `json:"result,omitempty"`
	Branch string         `json:"branch,omitempty"`
}

func (w *WorkItem) Base() *ItemBase    { return &w.ItemBase }
func (p *PullRequest) Base() *ItemBase { return &p.ItemBase }
func (p *Pipeline) Base() *ItemBase    { return &p.ItemBase }

func (w *WorkItem) Clone() Item {
	c := *w
	return &c
}

func (p *PullRequest) Clone() Item {
	c := *p
	return &c
}

func (p *Pipeline) Clone() Item {
	c := *p
	return &c
}

func (*WorkItem) isItem()    {}
func (*PullRequest) isItem() {}
func (*Pipeline) isItem()    {}

// ItemID builds the stable identity used to join fresh items with cached state
func ItemID(provider Provider, itemType ItemType, instanceID, nativeID string) string {
	return fmt.Sprintf("%s-%s-%s-%s", provider, itemType, instanceID, nativeID)
}

// TypeOf returns the tag of an item, panicking on unknown implementations
func TypeOf(item Item) ItemType {
	switch item.(type) {
	case *WorkItem:
		return TypeWorkItem
	case *PullRequest:
		return TypePullRequest
	case *Pipeline:
		return TypePipeline
	default:
		panic(fmt.Sprintf("models: unknown item type %T", item))
	}
}

// Instance identifies a configured provider connection inside the core
type Instance struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Provider Provider `json:"provider"`
	// Pinned holds project names (ADO) or owner/name repositories (GitHub) polled for pipelines
	Pinned         []string        `json:"pinned,omitempty"`
	StatusMappings []StatusMapping `json:"-"`
}

// StatusMapping rewrites a raw work item state into a display status
type StatusMapping struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// MapStatus applies the instance status mappings to a raw state, case-insensitively
func (inst Instance) MapStatus(raw string) string {
	for _, m := range inst.StatusMappings {
		if strings.EqualFold(strings.TrimSpace(m.From), strings.TrimSpace(raw)) {
			return m.To
		}
	}
	return raw
}

// Project represents an upstream project or repository scope
type Project struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Group is the set of items sharing a project name
type Group struct {
	Project    string `json:"project"`
	Instance   string `json:"instance"`
	InstanceID string `json:"instanceId"`
	Items      []Item `json:"items"`
}

// Progress describes coarse-grained fetch progress
type Progress struct {
	Current int    `json:"current"`
	Total   int    `json:"total"`
	Stage   string `json:"stage"`
}

// Batch is one stage worth of fetched items
type Batch struct {
	Instance Instance `json:"-"`
	Items    []Item   `json:"items"`
	Progress Progress `json:"progress"`
	// Failed is set when the stage produced an error and Items is empty
	Failed bool `json:"failed,omitempty"`
	// Final is set on the last batch of an instance
	Final bool `json:"-"`
	// StageType is the item type fetched by the stage; empty for the project list
	StageType ItemType `json:"-"`
	// StageProject is the pinned project or repository of a pipeline stage
	StageProject string `json:"-"`
}

// Covers reports whether item would have been produced by the batch's stage
func (b Batch) Covers(item Item) bool {
	if b.StageType == "" {
		return true
	}
	if TypeOf(item) != b.StageType {
		return false
	}
	return b.StageProject == "" || item.Base().Project == b.StageProject
}

// GroupItems buckets items by project name. Instances sharing a project name land in one group.
func GroupItems(groups map[string]*Group, instance Instance, items []Item) map[string]*Group {
	if groups == nil {
		groups = make(map[string]*Group)
	}
	for _, item := range items {
		project := item.Base().Project
		group, ok := groups[project]
		if !ok {
			group = &Group{Project: project, Instance: instance.Name, InstanceID: instance.ID}
			groups[project] = group
		}
		group.Items = append(group.Items, item)
	}
	return groups
}
