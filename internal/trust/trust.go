package trust

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"p2p-market-watch/internal/nostr"
)

const (
	kindContacts  = 3
	kindRelayList = 10002
)

// Set is a collection of identity keys a viewer trusts, keyed lowercase.
type Set map[string]struct{}

// Contains reports whether the key is in the set.
func (s Set) Contains(pubkey string) bool {
	_, ok := s[strings.ToLower(pubkey)]
	return ok
}

// Keys returns the set's members in sorted order.
func (s Set) Keys() []string {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Querier is the slice of the relay pool the resolver needs.
type Querier interface {
	QueryRelays(ctx context.Context, extra []string, f nostr.Filter) []nostr.Event
}

// Resolver expands a viewer's identity into a one-hop trust set: the
// viewer plus everyone on their most recent contact list. Resolution is
// single-shot per login; the set goes stale until the viewer resolves
// again.
type Resolver struct {
	pool    Querier
	timeout time.Duration
	logger  zerolog.Logger
}

// NewResolver constructs a resolver over a relay pool.
func NewResolver(pool Querier, timeout time.Duration, logger zerolog.Logger) *Resolver {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Resolver{
		pool:    pool,
		timeout: timeout,
		logger:  logger.With().Str("component", "trust_resolver").Logger(),
	}
}

// Build resolves the trust set for a viewer key. Both lookups are
// best-effort: unreachable relays or a missing contact list leave the
// set at whatever was gathered, which is always at least the viewer.
func (r *Resolver) Build(ctx context.Context, viewerKey string) Set {
	set := Set{strings.ToLower(viewerKey): {}}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	writeRelays := r.writeRelays(ctx, viewerKey)

	contacts := r.pool.QueryRelays(ctx, writeRelays, nostr.Filter{
		Kinds:   []int{kindContacts},
		Authors: []string{viewerKey},
		Limit:   1,
	})

	latest := latestEvent(contacts)
	if latest == nil {
		r.logger.Debug().Str("viewer", viewerKey).Msg("no contact list found")
		return set
	}

	for _, tag := range latest.Tags {
		if len(tag) > 1 && tag[0] == "p" && tag[1] != "" {
			set[strings.ToLower(tag[1])] = struct{}{}
		}
	}

	r.logger.Info().Str("viewer", viewerKey).Int("size", len(set)).Msg("trust set resolved")
	return set
}

// writeRelays discovers the viewer's declared write relays so the
// contact list query also covers their own publishing endpoints.
func (r *Resolver) writeRelays(ctx context.Context, viewerKey string) []string {
	events := r.pool.QueryRelays(ctx, nil, nostr.Filter{
		Kinds:   []int{kindRelayList},
		Authors: []string{viewerKey},
		Limit:   1,
	})

	latest := latestEvent(events)
	if latest == nil {
		return nil
	}

	var urls []string
	for _, tag := range latest.Tags {
		if len(tag) < 2 || tag[0] != "r" || tag[1] == "" {
			continue
		}
		// an explicit read-only marker excludes the relay
		if len(tag) >= 3 && tag[2] == "read" {
			continue
		}
		urls = append(urls, tag[1])
	}
	return urls
}

func latestEvent(events []nostr.Event) *nostr.Event {
	var latest *nostr.Event
	for i := range events {
		if latest == nil || events[i].CreatedAt > latest.CreatedAt {
			latest = &events[i]
		}
	}
	return latest
}
