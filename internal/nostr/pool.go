package nostr

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

const eventBuffer = 256

// Pool fans subscriptions across a fixed relay set into one event stream.
// Relays are independent and untrusted; a relay failing or disconnecting
// degrades coverage without affecting the others.
type Pool struct {
	urls    []string
	opts    ClientOptions
	logger  zerolog.Logger
	clients []*Client
}

// NewPool constructs a pool over the given relay endpoints.
func NewPool(urls []string, opts ClientOptions, logger zerolog.Logger) *Pool {
	p := &Pool{
		urls:   urls,
		opts:   opts.withDefaults(),
		logger: logger.With().Str("component", "relay_pool").Logger(),
	}
	for _, u := range urls {
		p.clients = append(p.clients, NewClient(u, p.opts, logger))
	}
	return p
}

// URLs returns the pool's configured relay endpoints.
func (p *Pool) URLs() []string {
	return p.urls
}

// Subscribe opens a long-lived subscription on every relay and merges the
// streams. The returned channel closes once ctx is cancelled and every
// relay loop has exited. The same logical order may arrive redundantly
// from several relays and in any relative order; deduplication is the
// consumer's concern.
func (p *Pool) Subscribe(ctx context.Context, f Filter) <-chan Event {
	out := make(chan Event, eventBuffer)

	var wg sync.WaitGroup
	for _, client := range p.clients {
		wg.Add(1)
		go func(c *Client) {
			defer wg.Done()
			c.Subscribe(ctx, f, out)
		}(client)
	}

	go func() {
		wg.Wait()
		close(out)
	}()

	return out
}

// QueryRelays runs a one-shot backlog query against the pool's relays
// plus any extra endpoints, merging results and deduplicating by event
// id. Per-relay failures are logged and excluded from the result.
func (p *Pool) QueryRelays(ctx context.Context, extra []string, f Filter) []Event {
	urls := make([]string, 0, len(p.urls)+len(extra))
	known := make(map[string]struct{}, len(p.urls)+len(extra))
	for _, u := range append(append([]string{}, p.urls...), extra...) {
		if _, ok := known[u]; ok {
			continue
		}
		known[u] = struct{}{}
		urls = append(urls, u)
	}

	var (
		mu     sync.Mutex
		wg     sync.WaitGroup
		merged []Event
	)
	seen := make(map[string]struct{})

	for _, u := range urls {
		wg.Add(1)
		go func(url string) {
			defer wg.Done()

			events, err := NewClient(url, p.opts, p.logger).Query(ctx, f)
			if err != nil {
				p.logger.Warn().Err(err).Str("relay", url).Msg("backlog query failed")
				return
			}

			mu.Lock()
			defer mu.Unlock()
			for _, ev := range events {
				if _, ok := seen[ev.ID]; ok {
					continue
				}
				seen[ev.ID] = struct{}{}
				merged = append(merged, ev)
			}
		}(u)
	}

	wg.Wait()
	return merged
}
