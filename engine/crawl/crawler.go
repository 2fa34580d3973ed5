// Package crawl wires the gateway, dedup filter, extractors and sink into
// the producer/worker pipeline that turns the announcement stream into
// indexed records.
package crawl

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/cshuaimin/ipfs-crawler/engine/dedup"
	"github.com/cshuaimin/ipfs-crawler/engine/extract"
	"github.com/cshuaimin/ipfs-crawler/engine/gateway"
	"github.com/cshuaimin/ipfs-crawler/engine/graph"
	"github.com/cshuaimin/ipfs-crawler/engine/sink"
	"github.com/cshuaimin/ipfs-crawler/pkg/metrics"
)

// headLength is how many leading bytes are fetched to classify an object.
const headLength = 128

// Config controls the crawl engine.
type Config struct {
	// Workers is the consumer pool size (default 8).
	Workers int
	// QueueCapacity bounds producer puts (default 10).
	QueueCapacity int
	// IndexAllMIMEs restores the older permissive behavior of upserting a
	// bare {cid, filename, mime} record for objects without an extractor.
	// Off by default: only extractable types are persisted.
	IndexAllMIMEs bool
}

// Deps are the collaborators the engine drives. Gateway, Seen, Extractors
// and Sink are required; Links and Metrics are optional.
type Deps struct {
	Gateway    *gateway.Client
	Seen       *dedup.Filter
	Extractors extract.Registry
	Sink       sink.Sink
	Links      *graph.LinkStore
	Metrics    *Metrics
	Logger     *slog.Logger
}

// Metrics are the counters the engine maintains when provided.
type Metrics struct {
	Announced  *metrics.Counter
	Skipped    *metrics.Counter
	Expanded   *metrics.Counter
	Indexed    *metrics.Counter
	Errors     *metrics.Counter
	QueueDepth *metrics.Gauge
	ParseDur   *metrics.Histogram
}

// Crawler owns the queue and the producer/worker lifecycle.
type Crawler struct {
	cfg   Config
	deps  Deps
	queue *Queue
	log   *slog.Logger
}

// New creates a Crawler. Collaborators are injected; the crawler closes
// none of them — the caller owns their lifetimes.
func New(cfg Config, deps Deps) *Crawler {
	if cfg.Workers <= 0 {
		cfg.Workers = 8
	}
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = 10
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Crawler{
		cfg:   cfg,
		deps:  deps,
		queue: NewQueue(cfg.QueueCapacity),
		log:   deps.Logger,
	}
}

// Run starts the producer and the worker pool and blocks until ctx is
// cancelled and every task has drained. A worker dying on an unexpected
// error is logged and tolerated; cancellation is the only way out.
func (c *Crawler) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	for i := 0; i < c.cfg.Workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			c.worker(ctx, id)
		}(i)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.produce(ctx)
	}()

	c.log.Info("started crawling", "workers", c.cfg.Workers, "queue_capacity", c.cfg.QueueCapacity)
	<-ctx.Done()
	wg.Wait()
	c.log.Info("crawl engine stopped")
	return nil
}

// produce reads the announcement stream and enqueues every announced CID
// with the blocking put. The log tail reconnects internally, so this loop
// only ends with the context.
func (c *Crawler) produce(ctx context.Context) {
	for ev := range c.deps.Gateway.LogTail(ctx) {
		key, ok := ev.ProviderKey()
		if !ok {
			c.log.Debug("skipping log event", "event", ev.Event, "operation", ev.Operation)
			continue
		}
		if m := c.deps.Metrics; m != nil {
			m.Announced.Inc()
		}
		if err := c.queue.Put(ctx, Item{CID: key}); err != nil {
			return
		}
		c.observeQueue()
	}
}

func (c *Crawler) worker(ctx context.Context, id int) {
	log := c.log.With("worker", id)
	for {
		item, err := c.queue.Get(ctx)
		if err != nil {
			return
		}
		c.observeQueue()

		// Claim before any fetch so peer workers short-circuit immediately.
		if c.deps.Seen.TestAndAdd(item.CID) {
			log.Debug("ignored", "cid", item.CID)
			if m := c.deps.Metrics; m != nil {
				m.Skipped.Inc()
			}
			continue
		}

		start := time.Now()
		err = c.parse(ctx, item)
		if m := c.deps.Metrics; m != nil {
			m.ParseDur.Since(start)
		}

		switch {
		case err == nil:
		case errors.Is(err, context.Canceled):
			return
		case gateway.IsTimeout(err):
			log.Warn("timed out", "cid", item.CID)
			if m := c.deps.Metrics; m != nil {
				m.Errors.Inc()
			}
		case isGatewayError(err), gateway.IsTransport(err):
			log.Error("fetch failed", "cid", item.CID, "error", err)
			if m := c.deps.Metrics; m != nil {
				m.Errors.Inc()
			}
		default:
			log.Error("worker exited", "cid", item.CID, "error", err)
			if m := c.deps.Metrics; m != nil {
				m.Errors.Inc()
			}
			return
		}
	}
}

func isGatewayError(err error) bool {
	var gwErr *gateway.Error
	return errors.As(err, &gwErr)
}

// parse fetches, classifies and persists one item. Directories are expanded
// into the queue instead.
func (c *Crawler) parse(ctx context.Context, item Item) error {
	c.log.Debug("parsing", "cid", item.CID, "name", item.Name)

	head, err := c.deps.Gateway.Cat(ctx, item.CID, 0, headLength)
	if errors.Is(err, gateway.ErrIsDirectory) {
		return c.expand(ctx, item)
	}
	if err != nil {
		return err
	}

	mime := extract.Classify(head)
	rec := sink.Record{CID: item.CID, Filename: item.Name, MIME: mime}

	ext, ok := c.deps.Extractors.Lookup(mime)
	if !ok {
		if !c.cfg.IndexAllMIMEs {
			return nil
		}
		return c.upsert(ctx, rec)
	}

	fields, err := ext.Extract(ctx, item.CID)
	if err != nil {
		return err
	}
	rec.Title = fields.Title
	rec.Text = fields.Text
	return c.upsert(ctx, rec)
}

// expand lists a directory and hands each child to the queue with the
// unbounded append (see Queue.Offer for why a blocking put would deadlock
// the pool). The directory itself is never persisted.
func (c *Crawler) expand(ctx context.Context, item Item) error {
	links, err := c.deps.Gateway.Ls(ctx, item.CID)
	if err != nil {
		return err
	}
	for _, l := range links {
		c.queue.Offer(Item{CID: l.CID, Name: l.Name})
	}
	c.observeQueue()
	if m := c.deps.Metrics; m != nil {
		m.Expanded.Inc()
	}
	c.log.Debug("expanded directory", "cid", item.CID, "children", len(links))

	if ls := c.deps.Links; ls != nil {
		if err := ls.SaveLinks(ctx, item.CID, links); err != nil && ctx.Err() == nil {
			c.log.Warn("link graph save failed", "cid", item.CID, "error", err)
		}
	}
	return nil
}

func (c *Crawler) upsert(ctx context.Context, rec sink.Record) error {
	if err := c.deps.Sink.Upsert(ctx, rec); err != nil {
		return err
	}
	if m := c.deps.Metrics; m != nil {
		m.Indexed.Inc()
	}
	c.log.Info("indexed", "cid", rec.CID, "mime", rec.MIME, "filename", rec.Filename)
	return nil
}

func (c *Crawler) observeQueue() {
	if m := c.deps.Metrics; m != nil {
		m.QueueDepth.Set(int64(c.queue.Len()))
	}
}
