// Package sync fetches items from every configured instance, merges them with cached read
// state and persists the result.
package sync

import (
	"context"
	"fmt"
	"iter"
	"sync"
	"time"

	"github.com/wesm/work-inbox/internal/logging"
	"github.com/wesm/work-inbox/internal/models"
	"github.com/wesm/work-inbox/internal/safego"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	defaultWorkers = 5
	maxWorkers     = 10

	stageProjects     = "Projects"
	stagePullRequests = "Pull Requests"
	stageWorkItems    = "Work Items"
)

// Adapter is the capability set of one configured provider instance
type Adapter interface {
	Instance() models.Instance
	ListProjects(ctx context.Context) ([]models.Project, error)
	ListAssignedPullRequests(ctx context.Context, projects []models.Project) ([]models.Item, error)
	ListAssignedWorkItems(ctx context.Context, projects []models.Project) ([]models.Item, error)
	ListPipelineRuns(ctx context.Context, project string) ([]models.Item, error)
}

// SinceLister is implemented by adapters that can list items changed after a point in time
type SinceLister interface {
	ListNewItemsSince(ctx context.Context, since time.Time) ([]models.Item, error)
}

// Aggregator runs the per-instance fetch stages
type Aggregator struct {
	mu       sync.RWMutex
	adapters []Adapter
	workers  int
	tracer   trace.Tracer
}

// NewAggregator creates an aggregator over adapters
func NewAggregator(adapters []Adapter) *Aggregator {
	return &Aggregator{
		adapters: append([]Adapter(nil), adapters...),
		workers:  defaultWorkers,
		tracer:   otel.Tracer("github.com/wesm/work-inbox/internal/sync"),
	}
}

// SetWorkers sets how many instances are fetched at once by one-shot refreshes
func (a *Aggregator) SetWorkers(workers int) {
	if workers < 1 {
		workers = 1
	}
	if workers > maxWorkers {
		workers = maxWorkers // Cap at 10 to avoid overwhelming upstream APIs
	}
	a.mu.Lock()
	a.workers = workers
	a.mu.Unlock()
}

// Workers returns the configured worker count
func (a *Aggregator) Workers() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.workers
}

// SetAdapters replaces the instance set. Fetches already running keep their adapters.
func (a *Aggregator) SetAdapters(adapters []Adapter) {
	a.mu.Lock()
	a.adapters = append([]Adapter(nil), adapters...)
	a.mu.Unlock()
}

// Adapters returns a copy of the current instance set
func (a *Aggregator) Adapters() []Adapter {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return append([]Adapter(nil), a.adapters...)
}

// Adapter returns the adapter of an instance
func (a *Aggregator) Adapter(instanceID string) (Adapter, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	for _, ad := range a.adapters {
		if ad.Instance().ID == instanceID {
			return ad, true
		}
	}
	return nil, false
}

// StageCount is the number of batches an instance emits when its project list loads
func StageCount(inst models.Instance) int {
	return 2 + len(inst.Pinned)
}

type stage struct {
	name    string
	kind    models.ItemType
	project string
	fetch   func(ctx context.Context) ([]models.Item, error)
}

func (a *Aggregator) stages(adapter Adapter, projects []models.Project) []stage {
	inst := adapter.Instance()
	stages := []stage{
		{
			name: stagePullRequests,
			kind: models.TypePullRequest,
			fetch: func(ctx context.Context) ([]models.Item, error) {
				return adapter.ListAssignedPullRequests(ctx, projects)
			},
		},
		{
			name: stageWorkItems,
			kind: models.TypeWorkItem,
			fetch: func(ctx context.Context) ([]models.Item, error) {
				return adapter.ListAssignedWorkItems(ctx, projects)
			},
		},
	}
	for _, pinned := range inst.Pinned {
		stages = append(stages, stage{
			name:    "Pipelines: " + pinned,
			kind:    models.TypePipeline,
			project: pinned,
			fetch: func(ctx context.Context) ([]models.Item, error) {
				return adapter.ListPipelineRuns(ctx, pinned)
			},
		})
	}
	return stages
}

func stageLabel(inst models.Instance, name string, failed bool) string {
	label := fmt.Sprintf("%s: %s", inst.Name, name)
	if failed {
		label += " (Error)"
	}
	return label
}

// runStage executes fetch inside a span named after the stage
func (a *Aggregator) runStage(ctx context.Context, inst models.Instance, name string, fetch func(context.Context) ([]models.Item, error)) ([]models.Item, error) {
	ctx, span := a.tracer.Start(ctx, "inbox.stage", trace.WithAttributes(
		attribute.String("inbox.instance", inst.ID),
		attribute.String("inbox.stage", name),
	))
	defer span.End()

	start := time.Now()
	items, err := fetch(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("inbox.items", len(items)))
	logging.Debug("%s: %s returned %d items in %s", inst.Name, name, len(items), time.Since(start).Round(time.Millisecond))
	return items, nil
}

// Instance fetches one instance stage by stage. A failed stage yields an empty batch marked
// as failed; a failed project list yields a single failed batch and ends the sequence.
func (a *Aggregator) Instance(ctx context.Context, adapter Adapter) iter.Seq[models.Batch] {
	return func(yield func(models.Batch) bool) {
		inst := adapter.Instance()
		total := StageCount(inst)

		var projects []models.Project
		_, err := a.runStage(ctx, inst, stageProjects, func(ctx context.Context) ([]models.Item, error) {
			var err error
			projects, err = adapter.ListProjects(ctx)
			return nil, err
		})
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logging.Error("%s: failed to list projects: %v", inst.Name, err)
			yield(models.Batch{
				Instance: inst,
				Progress: models.Progress{Current: total, Total: total, Stage: stageLabel(inst, stageProjects, true)},
				Failed:   true,
				Final:    true,
			})
			return
		}

		stages := a.stages(adapter, projects)
		for i, st := range stages {
			items, err := a.runStage(ctx, inst, st.name, st.fetch)
			if err != nil && ctx.Err() != nil {
				return
			}
			batch := models.Batch{
				Instance:     inst,
				Items:        items,
				Progress:     models.Progress{Current: i + 1, Total: total, Stage: stageLabel(inst, st.name, err != nil)},
				Failed:       err != nil,
				Final:        i == len(stages)-1,
				StageType:    st.kind,
				StageProject: st.project,
			}
			if err != nil {
				logging.Error("%s: %s failed: %v", inst.Name, st.name, err)
				batch.Items = []models.Item{}
			}
			if !yield(batch) {
				return
			}
		}
	}
}

// Stream fetches every instance concurrently, one goroutine per instance. Batches of one
// instance keep their stage order; progress counts batches in emission order. Breaking out
// of the loop cancels the remaining fetches.
func (a *Aggregator) Stream(ctx context.Context) iter.Seq[models.Batch] {
	return a.fanIn(ctx, a.Instance)
}

// fanIn runs one producer per adapter and merges their batches into a single sequence.
// Producers stop when ctx is done or the consumer leaves the loop.
func (a *Aggregator) fanIn(ctx context.Context, run func(context.Context, Adapter) iter.Seq[models.Batch]) iter.Seq[models.Batch] {
	return func(yield func(models.Batch) bool) {
		adapters := a.Adapters()
		if len(adapters) == 0 {
			return
		}

		total := 0
		for _, adapter := range adapters {
			total += StageCount(adapter.Instance())
		}

		ctx, cancel := context.WithCancel(ctx)
		out := make(chan models.Batch)
		var wg sync.WaitGroup
		for _, adapter := range adapters {
			wg.Add(1)
			safego.Go("inbox.instance."+adapter.Instance().ID, func() {
				defer wg.Done()
				for batch := range run(ctx, adapter) {
					select {
					case out <- batch:
					case <-ctx.Done():
						return
					}
				}
			})
		}
		go func() {
			wg.Wait()
			close(out)
		}()
		defer func() {
			cancel()
			for range out {
			}
		}()

		current := 0
		for batch := range out {
			if batch.Failed && batch.StageType == "" {
				current += StageCount(batch.Instance)
			} else {
				current++
			}
			batch.Progress.Current = current
			batch.Progress.Total = total
			if !yield(batch) {
				return
			}
		}
	}
}

// FetchAndGroupInboxItems fetches every instance and buckets the items by project name
func (a *Aggregator) FetchAndGroupInboxItems(ctx context.Context) map[string]*models.Group {
	groups := make(map[string]*models.Group)
	for batch := range a.Stream(ctx) {
		models.GroupItems(groups, batch.Instance, batch.Items)
	}
	return groups
}
