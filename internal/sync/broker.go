package sync

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sort"
	"sync"
	"time"

	"github.com/wesm/work-inbox/internal/db"
	"github.com/wesm/work-inbox/internal/logging"
	"github.com/wesm/work-inbox/internal/models"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrUnknownInstance is returned for instance ids that are not configured
	ErrUnknownInstance = errors.New("unknown instance")
	// ErrUnknownItem is returned for item ids missing from the instance cache
	ErrUnknownItem = errors.New("unknown item")
)

// Inbox is the result of a full refresh
type Inbox struct {
	Groups       map[string]*models.Group `json:"groups"`
	NewCount     int                      `json:"newCount"`
	UpdatedCount int                      `json:"updatedCount"`
	HasChanges   bool                     `json:"hasChanges"`
	Failed       []StageFailure           `json:"failed"`
}

// StageFailure names a stage that produced no items during a refresh
type StageFailure struct {
	InstanceID string `json:"instanceId"`
	Stage      string `json:"stage"`
}

type instanceState struct {
	mu     sync.Mutex
	loaded bool
	cache  InstanceCache
}

// Broker owns the per-instance caches. Fetch, merge and persist of one instance run under
// that instance's lock; different instances proceed independently.
type Broker struct {
	agg   *Aggregator
	store db.Store
	now   func() time.Time

	mu     sync.Mutex
	states map[string]*instanceState
}

// NewBroker creates a broker. A nil store keeps state in memory only.
func NewBroker(agg *Aggregator, store db.Store) *Broker {
	if store == nil {
		store = db.NewMemoryStore()
	}
	return &Broker{
		agg:    agg,
		store:  store,
		now:    time.Now,
		states: make(map[string]*instanceState),
	}
}

// Aggregator returns the underlying aggregator
func (b *Broker) Aggregator() *Aggregator {
	return b.agg
}

// SetAdapters swaps the instance set. Cached state of removed instances is dropped from
// memory but stays in the store.
func (b *Broker) SetAdapters(adapters []Adapter) {
	b.agg.SetAdapters(adapters)

	keep := make(map[string]bool, len(adapters))
	for _, ad := range adapters {
		keep[ad.Instance().ID] = true
	}
	b.mu.Lock()
	for id := range b.states {
		if !keep[id] {
			delete(b.states, id)
		}
	}
	b.mu.Unlock()
}

// Ping checks that the store is reachable
func (b *Broker) Ping(ctx context.Context) error {
	return b.store.Ping(ctx)
}

// Instances lists the configured instances
func (b *Broker) Instances() []models.Instance {
	adapters := b.agg.Adapters()
	out := make([]models.Instance, 0, len(adapters))
	for _, ad := range adapters {
		out = append(out, ad.Instance())
	}
	return out
}

func (b *Broker) state(instanceID string) *instanceState {
	b.mu.Lock()
	defer b.mu.Unlock()
	st, ok := b.states[instanceID]
	if !ok {
		st = &instanceState{}
		b.states[instanceID] = st
	}
	return st
}

// load reads the stored cache once. Store errors leave an empty cache. Callers hold st.mu.
func (b *Broker) load(ctx context.Context, instanceID string, st *instanceState) {
	if st.loaded {
		return
	}
	snapshot, err := b.store.LoadSnapshot(ctx, instanceID)
	if err != nil {
		logging.WithError(err, fmt.Sprintf("load snapshot for %s", instanceID))
		snapshot = nil
	}
	unread, err := b.store.LoadUnread(ctx, instanceID)
	if err != nil {
		logging.WithError(err, fmt.Sprintf("load unread state for %s", instanceID))
		unread = nil
	}
	st.cache = newInstanceCache(snapshot, unread)
	st.loaded = true
}

// persist writes the cache. Failures are logged and the in-memory state stays authoritative.
func (b *Broker) persist(ctx context.Context, instanceID string, cache *InstanceCache) {
	if err := b.store.SaveSnapshot(ctx, instanceID, cache.snapshot()); err != nil {
		logging.WithError(err, fmt.Sprintf("save snapshot for %s", instanceID))
		return
	}
	if err := b.store.SaveUnread(ctx, instanceID, cache.Unread); err != nil {
		logging.WithError(err, fmt.Sprintf("save unread state for %s", instanceID))
	}
}

// commit merges a completed fetch into the cache and persists it. Cached items of failed
// stages are kept so their read state survives an upstream outage. Callers hold st.mu.
func (b *Broker) commit(ctx context.Context, instanceID string, st *instanceState, fresh []models.Item, failed []models.Batch) MergeResult {
	fresh = append(fresh, retained(st.cache.Items, fresh, failed)...)
	result := Merge(st.cache.Items, fresh)
	st.cache.replace(result.Items, b.now())
	b.persist(ctx, instanceID, &st.cache)
	return result
}

type instanceResult struct {
	inst   models.Instance
	merge  MergeResult
	failed []StageFailure
}

// refreshInstance runs fetch, merge and persist for one instance under its lock
func (b *Broker) refreshInstance(ctx context.Context, adapter Adapter) (*instanceResult, error) {
	inst := adapter.Instance()
	st := b.state(inst.ID)
	st.mu.Lock()
	defer st.mu.Unlock()
	b.load(ctx, inst.ID, st)

	res := &instanceResult{inst: inst}
	var fresh []models.Item
	var failed []models.Batch
	for batch := range b.agg.Instance(ctx, adapter) {
		fresh = append(fresh, batch.Items...)
		if batch.Failed {
			failed = append(failed, batch)
			res.failed = append(res.failed, StageFailure{InstanceID: inst.ID, Stage: batch.Progress.Stage})
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	res.merge = b.commit(ctx, inst.ID, st, fresh, failed)
	return res, nil
}

// Refresh fetches every instance and merges the results into the caches. A failing instance
// never aborts the others; its stages are reported in Inbox.Failed.
func (b *Broker) Refresh(ctx context.Context) (*Inbox, error) {
	adapters := b.agg.Adapters()
	results := make([]*instanceResult, len(adapters))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.agg.Workers())
	for i, adapter := range adapters {
		g.Go(func() error {
			res, err := b.refreshInstance(gctx, adapter)
			if err != nil {
				logging.Warn("%s: refresh interrupted: %v", adapter.Instance().Name, err)
				return nil
			}
			results[i] = res
			return nil
		})
	}
	g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	inbox := &Inbox{Groups: make(map[string]*models.Group), Failed: []StageFailure{}}
	for _, res := range results {
		if res == nil {
			continue
		}
		models.GroupItems(inbox.Groups, res.inst, res.merge.Items)
		inbox.NewCount += res.merge.NewCount
		inbox.UpdatedCount += res.merge.UpdatedCount
		inbox.Failed = append(inbox.Failed, res.failed...)
	}
	inbox.HasChanges = inbox.NewCount > 0 || inbox.UpdatedCount > 0
	return inbox, nil
}

// Stream yields batches as stages complete with read state overlaid from the cache. Each
// instance is fetched under its lock, from the first stage until its merged set is persisted,
// so refreshes and read-state changes for that instance wait for it. Instances cut short by
// cancellation or by the consumer leaving the loop are not persisted. Broker methods for a
// streamed instance must not be called from inside the loop.
func (b *Broker) Stream(ctx context.Context) iter.Seq[models.Batch] {
	return b.agg.fanIn(ctx, b.streamInstance)
}

// streamInstance is the per-instance producer of Stream
func (b *Broker) streamInstance(ctx context.Context, adapter Adapter) iter.Seq[models.Batch] {
	return func(yield func(models.Batch) bool) {
		id := adapter.Instance().ID
		st := b.state(id)
		st.mu.Lock()
		defer st.mu.Unlock()
		b.load(ctx, id, st)

		var fresh []models.Item
		var failed []models.Batch
		for batch := range b.agg.Instance(ctx, adapter) {
			batch.Items = Merge(st.cache.Items, batch.Items).Items
			fresh = append(fresh, batch.Items...)
			if batch.Failed {
				failed = append(failed, batch)
			}
			if batch.Final && ctx.Err() == nil {
				b.commit(ctx, id, st, fresh, failed)
			}
			if !yield(batch) {
				return
			}
		}
	}
}

// NewItemsSince asks every instance that supports it for items changed after since and
// returns those that are new or updated relative to the cache. Nothing is persisted.
func (b *Broker) NewItemsSince(ctx context.Context, since time.Time) ([]models.Item, error) {
	adapters := b.agg.Adapters()
	results := make([][]models.Item, len(adapters))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.agg.Workers())
	for i, adapter := range adapters {
		lister, ok := adapter.(SinceLister)
		if !ok {
			continue
		}
		g.Go(func() error {
			inst := adapter.Instance()
			items, err := lister.ListNewItemsSince(gctx, since)
			if err != nil {
				logging.Error("%s: failed to list new items: %v", inst.Name, err)
				return nil
			}
			st := b.state(inst.ID)
			st.mu.Lock()
			b.load(gctx, inst.ID, st)
			results[i] = Merge(st.cache.Items, items).Changed
			st.mu.Unlock()
			return nil
		})
	}
	g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var out []models.Item
	for _, items := range results {
		out = append(out, items...)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Base().UpdateTimestamp > out[j].Base().UpdateTimestamp
	})
	return out, nil
}

func (b *Broker) lockedState(ctx context.Context, instanceID string) (*instanceState, error) {
	if _, ok := b.agg.Adapter(instanceID); !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownInstance, instanceID)
	}
	st := b.state(instanceID)
	st.mu.Lock()
	b.load(ctx, instanceID, st)
	return st, nil
}

// MarkRead sets the unread flag of one cached item and persists the instance
func (b *Broker) MarkRead(ctx context.Context, instanceID, itemID string, unread bool) error {
	st, err := b.lockedState(ctx, instanceID)
	if err != nil {
		return err
	}
	defer st.mu.Unlock()

	if !st.cache.setUnread(itemID, unread) {
		return fmt.Errorf("%w: %s", ErrUnknownItem, itemID)
	}
	b.persist(ctx, instanceID, &st.cache)
	return nil
}

// MarkAllRead marks every cached item of an instance as read and returns how many changed
func (b *Broker) MarkAllRead(ctx context.Context, instanceID string) (int, error) {
	st, err := b.lockedState(ctx, instanceID)
	if err != nil {
		return 0, err
	}
	defer st.mu.Unlock()

	changed := st.cache.markAll(false)
	b.persist(ctx, instanceID, &st.cache)
	return changed, nil
}

// Cached returns the cached items of an instance
func (b *Broker) Cached(ctx context.Context, instanceID string) ([]models.Item, error) {
	st, err := b.lockedState(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	defer st.mu.Unlock()
	return append([]models.Item(nil), st.cache.Items...), nil
}
