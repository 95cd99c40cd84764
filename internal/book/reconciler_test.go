package book

import (
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"p2p-market-watch/internal/nostr"
)

func orderEvent(id, logicalID, status string, createdAt int64, tags ...[]string) nostr.Event {
	base := [][]string{
		{"d", logicalID},
		{"s", status},
		{"k", SideSell},
		{"f", "USD"},
		{"fa", "1000"},
	}
	return nostr.Event{
		ID:        id,
		PubKey:    "pk-1",
		CreatedAt: createdAt,
		Kind:      38383,
		Tags:      append(base, tags...),
	}
}

func TestReconcilerDeduplicatesAcrossRelays(t *testing.T) {
	r := NewReconciler(nil, zerolog.Nop())
	table := testTable()

	ev := orderEvent("ev-1", "order-1", StatusPending, 100)
	if result := r.Apply(ev, table); !result.Added {
		t.Fatal("first delivery should be added")
	}
	// redundant delivery of the same record from another relay
	if result := r.Apply(ev, table); result.Added || result.Removed {
		t.Fatal("redundant delivery should be a no-op")
	}
	if r.Len() != 1 {
		t.Fatalf("book should hold one order, has %d", r.Len())
	}
}

func TestReconcilerSupersession(t *testing.T) {
	r := NewReconciler(nil, zerolog.Nop())
	table := testTable()

	r.Apply(orderEvent("ev-1", "order-1", StatusPending, 100), table)
	result := r.Apply(orderEvent("ev-2", "order-1", "success", 200), table)
	if !result.Removed {
		t.Fatal("non-pending record should evict the live order")
	}
	if r.Len() != 0 {
		t.Fatalf("book should be empty, has %d", r.Len())
	}
}

func TestReconcilerSupersessionIsOrderIndependent(t *testing.T) {
	table := testTable()

	// pending then canceled
	a := NewReconciler(nil, zerolog.Nop())
	a.Apply(orderEvent("ev-1", "order-1", StatusPending, 100), table)
	a.Apply(orderEvent("ev-2", "order-1", "canceled", 200), table)

	// inverted delivery across relays, each record delivered exactly
	// once: the canceled record must tombstone the identifier so the
	// older pending record cannot resurrect it
	b := NewReconciler(nil, zerolog.Nop())
	b.Apply(orderEvent("ev-2", "order-1", "canceled", 200), table)
	if result := b.Apply(orderEvent("ev-1", "order-1", StatusPending, 100), table); result.Added {
		t.Fatal("stale pending record should not resurrect a closed order")
	}

	if a.Len() != 0 || b.Len() != 0 {
		t.Fatalf("final state differs by delivery order: %d vs %d", a.Len(), b.Len())
	}
}

func TestReconcilerNewerPendingReusesClosedIdentifier(t *testing.T) {
	r := NewReconciler(nil, zerolog.Nop())
	table := testTable()

	r.Apply(orderEvent("ev-1", "order-1", "canceled", 200), table)
	if result := r.Apply(orderEvent("ev-2", "order-1", StatusPending, 300), table); !result.Added {
		t.Fatal("a pending record newer than the closing one should be admitted")
	}
	if r.Len() != 1 {
		t.Fatalf("book should hold the reused identifier, has %d", r.Len())
	}
}

func TestPruneExpiredForgetsOldTombstones(t *testing.T) {
	r := NewReconciler(nil, zerolog.Nop())
	table := testTable()

	r.Apply(orderEvent("ev-1", "order-1", "canceled", 100), table)
	r.PruneExpired(100 + tombstoneRetention + 1)

	// with the tombstone gone even an older pending record is admitted
	// again; retention just has to outlive relay backlog replays
	if result := r.Apply(orderEvent("ev-2", "order-1", StatusPending, 50), table); !result.Added {
		t.Fatal("identifier should be admissible after tombstone retention")
	}
}

func TestReconcilerSupersessionBypassesPolicy(t *testing.T) {
	// policy admits nothing; eviction must still work for records that
	// entered before the policy changed
	r := NewReconciler(nil, zerolog.Nop())
	table := testTable()
	r.Apply(orderEvent("ev-1", "order-1", StatusPending, 100), table)

	denyAll := NewAllowListPolicy(nil, nil)
	r.policy = denyAll

	result := r.Apply(orderEvent("ev-2", "order-1", "success", 200), table)
	if !result.Removed {
		t.Fatal("supersession should bypass the admission policy")
	}
}

func TestReconcilerAllowListPolicy(t *testing.T) {
	policy := NewAllowListPolicy([]string{"TRUSTED"}, []string{"mostro"})
	r := NewReconciler(policy, zerolog.Nop())
	table := testTable()

	allowed := orderEvent("ev-1", "order-1", StatusPending, 100)
	allowed.PubKey = "trusted"
	if result := r.Apply(allowed, table); !result.Added {
		t.Fatal("allow-listed pubkey should be admitted")
	}

	bySource := orderEvent("ev-2", "order-2", StatusPending, 100, []string{"y", "Mostro"})
	bySource.PubKey = "unknown"
	if result := r.Apply(bySource, table); !result.Added {
		t.Fatal("trusted source tag should be admitted")
	}

	denied := orderEvent("ev-3", "order-3", StatusPending, 100)
	denied.PubKey = "unknown"
	if result := r.Apply(denied, table); result.Added {
		t.Fatal("unknown pubkey without trusted source should be rejected")
	}
}

func TestPremiumBoundPolicy(t *testing.T) {
	policy := PremiumBoundPolicy{MaxAbsPct: decimal.NewFromInt(10)}

	within := orderEvent("ev-1", "order-1", StatusPending, 100, []string{"premium", "-10"})
	if !policy.Admit(within) {
		t.Fatal("premium at the bound should be admitted")
	}

	outside := orderEvent("ev-2", "order-2", StatusPending, 100, []string{"premium", "10.01"})
	if policy.Admit(outside) {
		t.Fatal("premium beyond the bound should be rejected")
	}

	missing := orderEvent("ev-3", "order-3", StatusPending, 100)
	if !policy.Admit(missing) {
		t.Fatal("missing premium counts as zero")
	}

	garbage := orderEvent("ev-4", "order-4", StatusPending, 100, []string{"premium", "lots"})
	if policy.Admit(garbage) {
		t.Fatal("unparseable premium should be rejected")
	}
}

func TestSnapshotSortsNewestFirst(t *testing.T) {
	r := NewReconciler(nil, zerolog.Nop())
	table := testTable()

	now := time.Now().Unix()
	r.Apply(orderEvent("ev-b", "order-b", StatusPending, now-100), table)
	r.Apply(orderEvent("ev-a", "order-a", StatusPending, now), table)
	r.Apply(orderEvent("ev-c", "order-c", StatusPending, now-200), table)

	orders := r.Snapshot(table)
	if len(orders) != 3 {
		t.Fatalf("expected 3 orders, got %d", len(orders))
	}
	for i := 1; i < len(orders); i++ {
		if orders[i-1].CreatedAt < orders[i].CreatedAt {
			t.Fatalf("snapshot not sorted newest first at %d", i)
		}
	}
}

func TestSnapshotDropsLazilyExpired(t *testing.T) {
	r := NewReconciler(nil, zerolog.Nop())
	table := testTable()

	soon := time.Now().Add(50 * time.Millisecond).Unix()
	// expiration in whole seconds; round up so the order is live now
	if soon <= time.Now().Unix() {
		soon = time.Now().Unix() + 1
	}
	ev := orderEvent("ev-1", "order-1", StatusPending, 100, []string{"expiration", fmt.Sprintf("%d", soon)})
	if result := r.Apply(ev, table); !result.Added {
		t.Fatal("unexpired order should be admitted")
	}

	if pruned := r.PruneExpired(soon + 1); pruned != 1 {
		t.Fatalf("expected 1 pruned order, got %d", pruned)
	}
	if len(r.Snapshot(table)) != 0 {
		t.Fatal("expired order should not appear in snapshots")
	}
}

func TestSnapshotLazilyDropsExpiredWithoutPrune(t *testing.T) {
	r := NewReconciler(nil, zerolog.Nop())
	table := testTable()

	// admitted while live, expired by the time the snapshot is taken,
	// never explicitly superseded and never pruned
	past := time.Now().Add(-time.Minute).Unix()
	ev := orderEvent("ev-1", "order-1", StatusPending, 100, []string{"expiration", fmt.Sprintf("%d", past)})
	r.live["order-1"] = ev

	if got := r.Snapshot(table); len(got) != 0 {
		t.Fatalf("expired order must not appear in snapshots, got %d", len(got))
	}
	if r.Len() != 1 {
		t.Fatal("lazy expiry should leave the entry for the next prune")
	}
}

func TestSnapshotAuthorsFilters(t *testing.T) {
	r := NewReconciler(nil, zerolog.Nop())
	table := testTable()

	mine := orderEvent("ev-1", "order-1", StatusPending, 100)
	mine.PubKey = "Friend"
	theirs := orderEvent("ev-2", "order-2", StatusPending, 100)
	theirs.PubKey = "stranger"
	r.Apply(mine, table)
	r.Apply(theirs, table)

	allowed := map[string]struct{}{"friend": {}}
	orders := r.SnapshotAuthors(table, allowed)
	if len(orders) != 1 {
		t.Fatalf("expected 1 trusted order, got %d", len(orders))
	}
	if orders[0].LogicalID != "order-1" {
		t.Fatalf("wrong order survived the filter: %s", orders[0].LogicalID)
	}
}

func TestSnapshotRepricesAgainstCurrentTable(t *testing.T) {
	r := NewReconciler(nil, zerolog.Nop())
	r.Apply(orderEvent("ev-1", "order-1", StatusPending, 100), testTable())

	updated := testTable()
	updated["USD"] = decimal.NewFromInt(200000)
	orders := r.Snapshot(updated)
	if len(orders) != 1 {
		t.Fatalf("expected 1 order, got %d", len(orders))
	}
	if orders[0].Price != "200,000 USD/BTC" {
		t.Fatalf("price should follow the current table: %s", orders[0].Price)
	}
}
