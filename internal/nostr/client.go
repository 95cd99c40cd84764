package nostr

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// ClientOptions tune a relay connection.
type ClientOptions struct {
	DialTimeout    time.Duration
	PingInterval   time.Duration
	ReconnectDelay time.Duration
}

func (o ClientOptions) withDefaults() ClientOptions {
	if o.DialTimeout <= 0 {
		o.DialTimeout = 10 * time.Second
	}
	if o.PingInterval <= 0 {
		o.PingInterval = 20 * time.Second
	}
	if o.ReconnectDelay <= 0 {
		o.ReconnectDelay = 5 * time.Second
	}
	return o
}

// Client manages the websocket connection to a single relay.
type Client struct {
	url    string
	opts   ClientOptions
	logger zerolog.Logger
}

// NewClient constructs a relay client.
func NewClient(url string, opts ClientOptions, logger zerolog.Logger) *Client {
	return &Client{
		url:    url,
		opts:   opts.withDefaults(),
		logger: logger.With().Str("component", "relay_client").Str("relay", url).Logger(),
	}
}

// URL returns the relay endpoint this client talks to.
func (c *Client) URL() string {
	return c.url
}

// Subscribe keeps a subscription open until ctx is cancelled, delivering
// matching events to out. Transport errors trigger a reconnect after a
// fixed delay and never propagate to the caller; the relay's retained
// backlog is replayed on every (re)connect.
func (c *Client) Subscribe(ctx context.Context, f Filter, out chan<- Event) {
	for {
		if ctx.Err() != nil {
			return
		}
		if err := c.stream(ctx, f, out); err != nil && ctx.Err() == nil {
			c.logger.Warn().Err(err).Msg("relay stream interrupted, reconnecting")
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(c.opts.ReconnectDelay):
		}
	}
}

// Query requests the relay's retained backlog for the filter and returns
// once the relay signals end-of-stored-events.
func (c *Client) Query(ctx context.Context, f Filter) ([]Event, error) {
	conn, subID, err := c.open(ctx, f)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	closed := make(chan struct{})
	defer close(closed)
	go watchCancel(ctx, conn, closed)

	var events []Event
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return events, ctx.Err()
			}
			return events, fmt.Errorf("read relay frame: %w", err)
		}

		kind, ev := c.decodeFrame(msg, subID)
		switch kind {
		case frameEvent:
			events = append(events, ev)
		case frameEOSE, frameClosed:
			return events, nil
		}
	}
}

func (c *Client) stream(ctx context.Context, f Filter, out chan<- Event) error {
	conn, subID, err := c.open(ctx, f)
	if err != nil {
		return err
	}
	defer conn.Close()

	closed := make(chan struct{})
	defer close(closed)
	go watchCancel(ctx, conn, closed)
	go c.keepAlive(conn, closed)

	c.logger.Debug().Str("sub_id", subID).Msg("relay subscription established")

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read relay frame: %w", err)
		}

		kind, ev := c.decodeFrame(msg, subID)
		switch kind {
		case frameEvent:
			select {
			case out <- ev:
			case <-ctx.Done():
				return nil
			}
		case frameEOSE:
			// backlog replayed; the live tail continues on the same subscription
		case frameClosed:
			return fmt.Errorf("relay closed subscription %s", subID)
		}
	}
}

func (c *Client) open(ctx context.Context, f Filter) (*websocket.Conn, string, error) {
	dialer := websocket.Dialer{HandshakeTimeout: c.opts.DialTimeout}
	conn, _, err := dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("dial relay: %w", err)
	}

	subID := newSubID()
	if err := conn.WriteJSON([]any{"REQ", subID, f}); err != nil {
		conn.Close()
		return nil, "", fmt.Errorf("send subscription request: %w", err)
	}
	return conn, subID, nil
}

func (c *Client) keepAlive(conn *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// watchCancel closes the connection when ctx ends so a blocked read
// returns promptly during teardown.
func watchCancel(ctx context.Context, conn *websocket.Conn, done <-chan struct{}) {
	select {
	case <-ctx.Done():
		conn.Close()
	case <-done:
	}
}

type frameKind int

const (
	frameIgnore frameKind = iota
	frameEvent
	frameEOSE
	frameClosed
)

// decodeFrame parses one relay message. Malformed frames and frames for
// other subscriptions are ignored, not errors.
func (c *Client) decodeFrame(msg []byte, subID string) (frameKind, Event) {
	var parts []json.RawMessage
	if err := json.Unmarshal(msg, &parts); err != nil || len(parts) == 0 {
		c.logger.Debug().Msg("discarding malformed relay frame")
		return frameIgnore, Event{}
	}

	var label string
	if err := json.Unmarshal(parts[0], &label); err != nil {
		return frameIgnore, Event{}
	}

	switch label {
	case "EVENT":
		if len(parts) < 3 || !matchesSub(parts[1], subID) {
			return frameIgnore, Event{}
		}
		var ev Event
		if err := json.Unmarshal(parts[2], &ev); err != nil {
			c.logger.Debug().Err(err).Msg("discarding undecodable event")
			return frameIgnore, Event{}
		}
		return frameEvent, ev
	case "EOSE":
		if len(parts) < 2 || !matchesSub(parts[1], subID) {
			return frameIgnore, Event{}
		}
		return frameEOSE, Event{}
	case "CLOSED":
		if len(parts) < 2 || !matchesSub(parts[1], subID) {
			return frameIgnore, Event{}
		}
		return frameClosed, Event{}
	case "NOTICE":
		if len(parts) > 1 {
			var notice string
			if err := json.Unmarshal(parts[1], &notice); err == nil {
				c.logger.Debug().Str("notice", notice).Msg("relay notice")
			}
		}
		return frameIgnore, Event{}
	default:
		return frameIgnore, Event{}
	}
}

func matchesSub(raw json.RawMessage, subID string) bool {
	var id string
	if err := json.Unmarshal(raw, &id); err != nil {
		return false
	}
	return id == subID
}

func newSubID() string {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("sub-%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(buf)
}
