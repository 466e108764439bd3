package sync

import (
	"time"

	"github.com/wesm/work-inbox/internal/db"
	"github.com/wesm/work-inbox/internal/models"
)

// MergeResult is the outcome of merging fresh items with the cached copy
type MergeResult struct {
	Items        []models.Item
	HasChanges   bool
	NewCount     int
	UpdatedCount int
	// Changed holds the new and updated items in fresh order
	Changed []models.Item
}

// Merge carries read state from cached into fresh. New items are unread; items whose update
// timestamp advanced become unread and remember the cached timestamp; everything else keeps
// its cached unread flag and previous timestamp. The output follows fresh order and drops
// cache-only items. Neither input is modified.
func Merge(cached, fresh []models.Item) MergeResult {
	index := make(map[string]models.Item, len(cached))
	for _, item := range cached {
		index[item.Base().ID] = item
	}

	result := MergeResult{Items: make([]models.Item, 0, len(fresh))}
	for _, item := range fresh {
		merged := item.Clone()
		base := merged.Base()

		old, ok := index[base.ID]
		switch {
		case !ok:
			base.Unread = true
			base.PrevUpdateTimestamp = nil
			result.NewCount++
			result.Changed = append(result.Changed, merged)
		case base.UpdateTimestamp > old.Base().UpdateTimestamp:
			prev := old.Base().UpdateTimestamp
			base.Unread = true
			base.PrevUpdateTimestamp = &prev
			result.UpdatedCount++
			result.Changed = append(result.Changed, merged)
		default:
			base.Unread = old.Base().Unread
			base.PrevUpdateTimestamp = copyTimestamp(old.Base().PrevUpdateTimestamp)
		}
		result.Items = append(result.Items, merged)
	}

	result.HasChanges = result.NewCount > 0 || result.UpdatedCount > 0
	return result
}

func copyTimestamp(ts *int64) *int64 {
	if ts == nil {
		return nil
	}
	v := *ts
	return &v
}

// InstanceCache is the last merged item set of one instance
type InstanceCache struct {
	Items     []models.Item
	Unread    map[string]bool
	Timestamp time.Time
}

// newInstanceCache builds a cache from a stored snapshot and unread map. Entries of the
// unread map override the flags stored in the snapshot.
func newInstanceCache(snapshot *db.Snapshot, unread map[string]bool) InstanceCache {
	c := InstanceCache{Unread: make(map[string]bool)}
	if snapshot == nil {
		return c
	}
	c.Timestamp = snapshot.Timestamp
	for _, item := range snapshot.Items() {
		base := item.Base()
		if flag, ok := unread[base.ID]; ok {
			base.Unread = flag
		}
		c.Unread[base.ID] = base.Unread
		c.Items = append(c.Items, item)
	}
	return c
}

// replace installs a merged item set
func (c *InstanceCache) replace(items []models.Item, now time.Time) {
	c.Items = items
	c.Unread = make(map[string]bool, len(items))
	for _, item := range items {
		c.Unread[item.Base().ID] = item.Base().Unread
	}
	c.Timestamp = now
}

// setUnread flips one item, returning false when the item is not cached
func (c *InstanceCache) setUnread(itemID string, unread bool) bool {
	for i, item := range c.Items {
		if item.Base().ID != itemID {
			continue
		}
		updated := item.Clone()
		updated.Base().Unread = unread
		// callers may still hold the previous slice
		c.Items = append([]models.Item(nil), c.Items...)
		c.Items[i] = updated
		c.Unread[itemID] = unread
		return true
	}
	return false
}

// markAll sets every item's unread flag and returns how many changed
func (c *InstanceCache) markAll(unread bool) int {
	changed := 0
	items := make([]models.Item, len(c.Items))
	for i, item := range c.Items {
		if item.Base().Unread != unread {
			item = item.Clone()
			item.Base().Unread = unread
			changed++
		}
		items[i] = item
		c.Unread[item.Base().ID] = unread
	}
	c.Items = items
	return changed
}

// snapshot converts the cache to its stored form
func (c *InstanceCache) snapshot() *db.Snapshot {
	return db.NewSnapshot(c.Items, c.Timestamp)
}

// retained returns the cached items a failed stage would have produced, skipping ids
// already present in fresh
func retained(cached []models.Item, fresh []models.Item, failed []models.Batch) []models.Item {
	if len(failed) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(fresh))
	for _, item := range fresh {
		seen[item.Base().ID] = true
	}
	var out []models.Item
	for _, item := range cached {
		if seen[item.Base().ID] {
			continue
		}
		for _, batch := range failed {
			if batch.Covers(item) {
				out = append(out, item)
				seen[item.Base().ID] = true
				break
			}
		}
	}
	return out
}
