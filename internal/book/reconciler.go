package book

import (
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"p2p-market-watch/internal/nostr"
	"p2p-market-watch/internal/rates"
)

// Reconciler owns the live order collection. It is the collection's sole
// writer; consumers read point-in-time snapshots. Records are keyed by
// their logical order identifier (the "d" tag), not the per-record event
// id, which makes the final state independent of delivery order across
// relays.
type Reconciler struct {
	policy AdmissionPolicy
	logger zerolog.Logger

	mu     sync.RWMutex
	live   map[string]nostr.Event
	closed map[string]int64 // logical id -> created_at of the closing record
}

// tombstoneRetention is how long a closed identifier is remembered, in
// seconds. Long enough to outlive any relay's pending backlog replay.
const tombstoneRetention int64 = 24 * 60 * 60

// ApplyResult reports the net effect of one record on the live book.
type ApplyResult struct {
	Added     bool
	Removed   bool
	LogicalID string
	Order     Order // populated only when Added
}

// NewReconciler constructs a reconciler with the given admission policy.
// A nil policy admits everything.
func NewReconciler(policy AdmissionPolicy, logger zerolog.Logger) *Reconciler {
	if policy == nil {
		policy = OpenPolicy{}
	}
	return &Reconciler{
		policy: policy,
		logger: logger.With().Str("component", "reconciler").Logger(),
		live:   make(map[string]nostr.Event),
		closed: make(map[string]int64),
	}
}

// Apply ingests one record. A non-pending status evicts the identifier if
// it is live and tombstones it, so a pending record delivered late by
// another relay cannot resurrect a closed order; only a pending record
// strictly newer than the closing one reuses the identifier. A pending
// record is admitted at most once per identifier, so redundant deliveries
// from other relays are no-ops. The net state is the same whichever
// relative order two relays deliver the records in.
func (r *Reconciler) Apply(ev nostr.Event, table rates.Table) ApplyResult {
	logicalID, present := ev.TagValue("d")
	if !present || logicalID == "" {
		r.logger.Debug().Str("event", ev.ID).Msg("record without logical identifier skipped")
		return ApplyResult{}
	}

	if status, hasStatus := ev.TagValue("s"); hasStatus && status != StatusPending {
		r.mu.Lock()
		if ts, seen := r.closed[logicalID]; !seen || ev.CreatedAt > ts {
			r.closed[logicalID] = ev.CreatedAt
		}
		_, existed := r.live[logicalID]
		if existed {
			delete(r.live, logicalID)
		}
		r.mu.Unlock()

		if existed {
			r.logger.Debug().Str("order", logicalID).Str("status", status).Msg("order superseded")
			return ApplyResult{Removed: true, LogicalID: logicalID}
		}
		return ApplyResult{LogicalID: logicalID}
	}

	r.mu.RLock()
	_, exists := r.live[logicalID]
	ts, tombstoned := r.closed[logicalID]
	r.mu.RUnlock()
	if exists {
		return ApplyResult{LogicalID: logicalID}
	}
	if tombstoned && ev.CreatedAt <= ts {
		r.logger.Debug().Str("order", logicalID).Msg("stale pending record for closed order skipped")
		return ApplyResult{LogicalID: logicalID}
	}

	if !r.policy.Admit(ev) {
		r.logger.Debug().Str("order", logicalID).Str("pubkey", ev.PubKey).Msg("record rejected by admission policy")
		return ApplyResult{LogicalID: logicalID}
	}

	order, ok := Normalize(ev, table)
	if !ok {
		return ApplyResult{LogicalID: logicalID}
	}

	r.mu.Lock()
	if _, raced := r.live[logicalID]; raced {
		r.mu.Unlock()
		return ApplyResult{LogicalID: logicalID}
	}
	if ts, seen := r.closed[logicalID]; seen && ev.CreatedAt <= ts {
		r.mu.Unlock()
		return ApplyResult{LogicalID: logicalID}
	}
	r.live[logicalID] = ev
	r.mu.Unlock()

	return ApplyResult{Added: true, LogicalID: logicalID, Order: order}
}

// Snapshot re-normalizes every live record against the given rate table,
// dropping records that expired since admission, and returns the result
// newest first. The slice is a point-in-time copy, safe to retain.
func (r *Reconciler) Snapshot(table rates.Table) []Order {
	return r.SnapshotAuthors(table, nil)
}

// SnapshotAuthors is Snapshot restricted to a set of publisher keys, used
// for web-of-trust filtered views. A nil set means no restriction.
func (r *Reconciler) SnapshotAuthors(table rates.Table, allowed map[string]struct{}) []Order {
	r.mu.RLock()
	events := make([]nostr.Event, 0, len(r.live))
	for _, ev := range r.live {
		events = append(events, ev)
	}
	r.mu.RUnlock()

	orders := make([]Order, 0, len(events))
	for _, ev := range events {
		if allowed != nil {
			if _, ok := allowed[strings.ToLower(ev.PubKey)]; !ok {
				continue
			}
		}
		order, ok := Normalize(ev, table)
		if !ok {
			continue
		}
		orders = append(orders, order)
	}

	sort.Slice(orders, func(i, j int) bool {
		if orders[i].CreatedAt != orders[j].CreatedAt {
			return orders[i].CreatedAt > orders[j].CreatedAt
		}
		return orders[i].ID < orders[j].ID
	})
	return orders
}

// PruneExpired drops records whose expiration has passed, and forgets
// tombstones old enough that no relay backlog still replays their
// pending record. Snapshot filters expired entries lazily anyway;
// pruning keeps both maps from accumulating dead entries.
func (r *Reconciler) PruneExpired(now int64) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for id, ev := range r.live {
		raw, present := ev.TagValue("expiration")
		if !present {
			continue
		}
		exp, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
		if err != nil {
			continue
		}
		if exp < now {
			delete(r.live, id)
			removed++
		}
	}

	for id, ts := range r.closed {
		if ts+tombstoneRetention < now {
			delete(r.closed, id)
		}
	}
	return removed
}

// Len reports the number of live identifiers, including entries awaiting
// lazy expiry.
func (r *Reconciler) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.live)
}
