// Package derived memoizes the expensive read-side projections of the scene
// graph (the ordered indexed listing, the agent-visible snapshot payload,
// and the inferred per-class schemas), keyed by revision. Any revision
// change drops every memo; each product is then rebuilt lazily, at most once
// per revision, on first demand.
package derived

import (
	"sync"

	"github.com/UXPLIMA/uxrcoder-hub/internal/scenegraph"
	"github.com/UXPLIMA/uxrcoder-hub/internal/schema"
	"github.com/UXPLIMA/uxrcoder-hub/internal/types"
)

// InstancePayload is one instance projected into the agent-visible snapshot
// shape. PathString is the dot-join of Path; dots inside names are rejected
// at validation, so no escaping is needed.
type InstancePayload struct {
	ID         string                 `json:"id"`
	ClassName  string                 `json:"className"`
	Name       string                 `json:"name"`
	Path       []string               `json:"path"`
	PathString string                 `json:"pathString"`
	ParentID   string                 `json:"parentId,omitempty"`
	ChildIDs   []string               `json:"childIds,omitempty"`
	Properties map[string]types.Value `json:"properties,omitempty"`
}

// SnapshotPayload is the full agent-visible projection at one revision.
type SnapshotPayload struct {
	Revision  uint64            `json:"revision"`
	Count     int               `json:"count"`
	Instances []InstancePayload `json:"instances"`
}

// Stats counts cache activity for the debug profile.
type Stats struct {
	Revision        uint64 `json:"revision"`
	ListingBuilds   int64  `json:"listingBuilds"`
	SnapshotBuilds  int64  `json:"snapshotBuilds"`
	SchemaBuilds    int64  `json:"schemaBuilds"`
	Invalidations   int64  `json:"invalidations"`
	SnapshotEntries int    `json:"snapshotEntries"`
}

// Cache is the revision-scoped memo. All methods are safe for concurrent
// callers; computation happens under the cache mutex, which also provides
// the at-most-once-per-revision guarantee.
type Cache struct {
	graph *scenegraph.Graph

	mu       sync.Mutex
	revision uint64
	valid    bool

	listing   []scenegraph.IndexedInstance
	snapshots map[string]*SnapshotPayload // key: class filter, "" = all
	schemas   map[string]*schema.ClassSchema

	stats Stats
}

// New creates a cache over the given graph.
func New(graph *scenegraph.Graph) *Cache {
	return &Cache{
		graph:     graph,
		snapshots: make(map[string]*SnapshotPayload),
	}
}

// refreshLocked drops every memo if the graph has moved past the cached
// revision, and (re)captures the base listing the other products derive
// from.
func (c *Cache) refreshLocked() {
	rev := c.graph.Revision()
	if c.valid && rev == c.revision {
		return
	}
	newRev, listing := c.graph.IndexedWithRevision()
	c.revision = newRev
	c.listing = listing
	c.snapshots = make(map[string]*SnapshotPayload)
	c.schemas = nil
	c.valid = true
	c.stats.Invalidations++
	c.stats.ListingBuilds++
	c.stats.Revision = newRev
}

// Listing returns the ordered indexed listing and the revision it reflects.
func (c *Cache) Listing() (uint64, []scenegraph.IndexedInstance) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.refreshLocked()
	return c.revision, c.listing
}

// Snapshot returns the agent-visible payload, optionally filtered to one
// class name. Payloads are memoized per (revision, filter).
func (c *Cache) Snapshot(classFilter string) *SnapshotPayload {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.refreshLocked()

	if memo, ok := c.snapshots[classFilter]; ok {
		return memo
	}

	payload := &SnapshotPayload{Revision: c.revision}
	for _, row := range c.listing {
		if classFilter != "" && row.Instance.ClassName != classFilter {
			continue
		}
		payload.Instances = append(payload.Instances, InstancePayload{
			ID:         row.Instance.ID,
			ClassName:  row.Instance.ClassName,
			Name:       row.Instance.Name,
			Path:       row.Path,
			PathString: types.PathString(row.Path),
			ParentID:   row.Instance.ParentID,
			ChildIDs:   row.Instance.Children,
			Properties: row.Instance.Properties,
		})
	}
	payload.Count = len(payload.Instances)

	c.snapshots[classFilter] = payload
	c.stats.SnapshotBuilds++
	c.stats.SnapshotEntries = len(c.snapshots)
	return payload
}

// Schemas returns the inferred schema for every observed class at the
// current revision.
func (c *Cache) Schemas() map[string]*schema.ClassSchema {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.refreshLocked()
	return c.schemasLocked()
}

// Schema returns the inferred schema for one class, or nil when the class
// has no observed instances.
func (c *Cache) Schema(className string) *schema.ClassSchema {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.refreshLocked()
	return c.schemasLocked()[className]
}

func (c *Cache) schemasLocked() map[string]*schema.ClassSchema {
	if c.schemas == nil {
		instances := make([]*types.Instance, 0, len(c.listing))
		for _, row := range c.listing {
			instances = append(instances, row.Instance)
		}
		c.schemas = schema.Infer(instances)
		c.stats.SchemaBuilds++
	}
	return c.schemas
}

// Stats returns a copy of the activity counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.stats
	out.Revision = c.revision
	return out
}
