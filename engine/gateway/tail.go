package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/url"
)

const opAddProvider = "handleAddProvider"

// LogEvent is one decoded entry from the gateway's event log. Gateway
// versions disagree on the framing of add-provider events: older daemons
// emit a flat {"event":..., "key":...} object, newer ones nest the key
// under Tags. Both are carried here.
type LogEvent struct {
	Event string `json:"event"`
	Key   string `json:"key"`

	Operation string `json:"Operation"`
	Tags      struct {
		Key string `json:"key"`
	} `json:"Tags"`
}

// ProviderKey returns the announced CID when the event is an add-provider
// announcement, in either observed shape.
func (e LogEvent) ProviderKey() (string, bool) {
	if e.Event == opAddProvider && e.Key != "" {
		return e.Key, true
	}
	if e.Operation == opAddProvider && e.Tags.Key != "" {
		return e.Tags.Key, true
	}
	return "", false
}

// LogTail streams decoded log events until ctx is cancelled. The underlying
// request runs with no deadline; on clean EOF or any transport/parse failure
// the stream reconnects (paced by the client's limiter) without surfacing an
// error. The returned channel is closed when ctx is done.
func (c *Client) LogTail(ctx context.Context) <-chan LogEvent {
	out := make(chan LogEvent)
	go c.tail(ctx, out)
	return out
}

func (c *Client) tail(ctx context.Context, out chan<- LogEvent) {
	defer close(out)
	for {
		if err := c.reconnect.Wait(ctx); err != nil {
			return
		}
		resp, err := c.do(ctx, "log/tail", url.Values{})
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.log.Warn("log tail request failed", "error", err)
			continue
		}
		c.drainTail(ctx, resp.Body, out)
		resp.Body.Close()
		if ctx.Err() != nil {
			return
		}
		c.log.Warn("log tail finished, reconnecting")
	}
}

func (c *Client) drainTail(ctx context.Context, body io.Reader, out chan<- LogEvent) {
	dec := NewStackedDecoder(body)
	for {
		raw, err := dec.Next()
		if err != nil {
			if !errors.Is(err, io.EOF) && ctx.Err() == nil {
				c.log.Debug("log tail stream ended", "error", err)
			}
			return
		}
		var ev LogEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			c.log.Debug("skipping unrecognized log entry", "error", err)
			continue
		}
		select {
		case out <- ev:
		case <-ctx.Done():
			return
		}
	}
}
