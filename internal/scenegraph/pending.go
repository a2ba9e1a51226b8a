package scenegraph

import (
	"github.com/UXPLIMA/uxrcoder-hub/internal/idgen"
	"github.com/UXPLIMA/uxrcoder-hub/internal/types"
)

// recordPendingLocked buffers an agent-side mutation for editor pickup.
// Editor-applied changes never land here; the editor already has them.
func (g *Graph) recordPendingLocked(change types.Change) *types.PendingChange {
	g.nextPendingSeq++
	pc := &types.PendingChange{
		ID:          idgen.NewChangeID(g.nextPendingSeq, g.now()),
		Change:      change,
		CommittedAt: g.now(),
	}
	g.pending = append(g.pending, pc)
	g.pendingByID[pc.ID] = pc
	return pc
}

// PendingDelivery is one entry handed to the editor plugin. Redelivered is
// set when the entry has been returned before: the previous push failed or
// was never confirmed, so the plugin must not assume first delivery.
type PendingDelivery struct {
	ID          string       `json:"id"`
	Change      types.Change `json:"change"`
	Redelivered bool         `json:"redelivered,omitempty"`
}

// PendingChangesForPlugin returns all unconfirmed changes in commit order
// and bumps their delivery counters. Confirmed entries past the grace window
// are pruned first.
func (g *Graph) PendingChangesForPlugin() []PendingDelivery {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.prunePendingLocked()

	out := make([]PendingDelivery, 0, len(g.pending))
	for _, pc := range g.pending {
		if pc.Confirmed {
			continue
		}
		pc.Deliveries++
		out = append(out, PendingDelivery{
			ID:          pc.ID,
			Change:      pc.Change,
			Redelivered: pc.Deliveries > 1,
		})
	}
	return out
}

// ConfirmChanges marks the named pending changes as acknowledged by the
// editor. Unknown ids are counted, not fatal, since the plugin may confirm
// a batch that was partially pruned. Returns (confirmed, unknown).
func (g *Graph) ConfirmChanges(ids []string) (int, int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.prunePendingLocked()

	confirmed, unknown := 0, 0
	for _, id := range ids {
		pc, ok := g.pendingByID[id]
		if !ok {
			unknown++
			continue
		}
		if !pc.Confirmed {
			pc.Confirmed = true
			pc.ConfirmedAt = g.now()
			confirmed++
		}
	}
	return confirmed, unknown
}

// PendingCount returns (unconfirmed, confirmedWithinGrace).
func (g *Graph) PendingCount() (int, int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.prunePendingLocked()

	unconfirmed, confirmed := 0, 0
	for _, pc := range g.pending {
		if pc.Confirmed {
			confirmed++
		} else {
			unconfirmed++
		}
	}
	return unconfirmed, confirmed
}

// prunePendingLocked garbage-collects confirmed entries whose grace window
// has elapsed. Unconfirmed entries are retained indefinitely: a failed push
// re-delivers on the next poll rather than silently losing the mutation.
func (g *Graph) prunePendingLocked() {
	cutoff := g.now().Add(-types.PendingGracePeriod)
	kept := g.pending[:0]
	for _, pc := range g.pending {
		if pc.Confirmed && pc.ConfirmedAt.Before(cutoff) {
			delete(g.pendingByID, pc.ID)
			continue
		}
		kept = append(kept, pc)
	}
	g.pending = kept
}
