// Command crawler follows the content gateway's announcement log, fetches
// announced objects, extracts text from HTML, and upserts the results into
// a full-text search sink. It runs until interrupted; on SIGINT it drains
// the pipeline, snapshots the dedup filter, and exits 0.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/cshuaimin/ipfs-crawler/engine/crawl"
	"github.com/cshuaimin/ipfs-crawler/engine/dedup"
	"github.com/cshuaimin/ipfs-crawler/engine/extract"
	"github.com/cshuaimin/ipfs-crawler/engine/gateway"
	"github.com/cshuaimin/ipfs-crawler/engine/graph"
	"github.com/cshuaimin/ipfs-crawler/engine/sink"
	"github.com/cshuaimin/ipfs-crawler/pkg/metrics"
)

var met = metrics.New()

var (
	mAnnounced  = met.Counter("crawler_announced_total", "Add-provider announcements observed")
	mSkipped    = met.Counter("crawler_dedup_skipped_total", "CIDs skipped by the dedup filter")
	mExpanded   = met.Counter("crawler_dirs_expanded_total", "Directories expanded into children")
	mIndexed    = met.Counter("crawler_records_indexed_total", "Records upserted into the sink")
	mErrors     = met.Counter("crawler_parse_errors_total", "CIDs dropped on fetch/parse errors")
	mQueueDepth = met.Gauge("crawler_queue_depth", "Items waiting in the crawl queue")
	mParseDur   = met.Histogram("crawler_parse_duration_seconds", "Per-CID parse time", nil)
)

func main() {
	var (
		gatewayHost   = flag.String("gateway-host", "127.0.0.1", "gateway API host")
		gatewayPort   = flag.Int("gateway-port", 5001, "gateway API port")
		workers       = flag.Int("workers", 8, "worker pool size")
		queueCap      = flag.Int("queue-cap", 10, "crawl queue capacity")
		timeout       = flag.Duration("timeout", 60*time.Second, "per-request gateway timeout")
		dedupPath     = flag.String("dedup-path", "/data/bloom-filter", "dedup filter snapshot path")
		dedupCapacity = flag.Uint64("dedup-capacity", dedup.DefaultCapacity, "dedup filter initial capacity")
		indexAll      = flag.Bool("index-all-mimes", false, "also index bare records for MIMEs without an extractor")
		sinkKind      = flag.String("sink", "postgres", "record sink: postgres, nats or memory")
		pgDSN         = flag.String("pg-dsn", "postgres://postgres@localhost:5432/ipfs_crawler", "Postgres DSN (sink=postgres)")
		natsURL       = flag.String("nats-url", "nats://localhost:4222", "NATS URL (sink=nats)")
		natsSubject   = flag.String("nats-subject", sink.DefaultSubjectPrefix, "NATS subject prefix (sink=nats)")
		neo4jURL      = flag.String("neo4j", "", "Neo4j bolt URL for the link graph (empty = disabled)")
		neo4jUser     = flag.String("neo4j-user", "neo4j", "Neo4j username")
		neo4jPass     = flag.String("neo4j-pass", "", "Neo4j password")
		metricsPort   = flag.Int("metrics-port", 9092, "Prometheus metrics port (0 = disabled)")
	)
	flag.Parse()

	log := slog.Default()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if *metricsPort != 0 {
		met.ServeAsync(*metricsPort)
	}

	gw := gateway.New(gateway.Config{
		Host:           *gatewayHost,
		Port:           *gatewayPort,
		RequestTimeout: *timeout,
		Logger:         log,
	})
	defer gw.Close()

	seen, err := dedup.Load(*dedupPath, *dedupCapacity, dedup.DefaultFPRate)
	if err != nil {
		log.Error("dedup filter load failed", "path", *dedupPath, "error", err)
		os.Exit(1)
	}
	log.Info("dedup filter ready", "path", *dedupPath, "cids", seen.Count())

	sk, err := newSink(ctx, *sinkKind, *pgDSN, *natsURL, *natsSubject, log)
	if err != nil {
		log.Error("sink setup failed", "sink", *sinkKind, "error", err)
		os.Exit(1)
	}
	log.Info("sink ready", "sink", *sinkKind)

	var links *graph.LinkStore
	if *neo4jURL != "" {
		links, err = graph.NewLinkStore(ctx, *neo4jURL, *neo4jUser, *neo4jPass)
		if err != nil {
			log.Error("link graph connect failed", "url", *neo4jURL, "error", err)
			os.Exit(1)
		}
		log.Info("link graph ready", "url", *neo4jURL)
	}

	crawler := crawl.New(
		crawl.Config{
			Workers:       *workers,
			QueueCapacity: *queueCap,
			IndexAllMIMEs: *indexAll,
		},
		crawl.Deps{
			Gateway:    gw,
			Seen:       seen,
			Extractors: extract.Registry{"text/html": extract.NewHTML(gw)},
			Sink:       sk,
			Links:      links,
			Logger:     log,
			Metrics: &crawl.Metrics{
				Announced:  mAnnounced,
				Skipped:    mSkipped,
				Expanded:   mExpanded,
				Indexed:    mIndexed,
				Errors:     mErrors,
				QueueDepth: mQueueDepth,
				ParseDur:   mParseDur,
			},
		},
	)

	runErr := crawler.Run(ctx)

	// The run context is gone; give cleanup its own bounded deadline.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := sk.Close(shutdownCtx); err != nil {
		log.Error("sink close failed", "error", err)
	}
	if links != nil {
		if err := links.Close(shutdownCtx); err != nil {
			log.Error("link graph close failed", "error", err)
		}
	}
	gw.Close()

	if err := seen.Save(*dedupPath); err != nil {
		log.Error("dedup snapshot failed", "path", *dedupPath, "error", err)
		os.Exit(1)
	}
	log.Info("exited", "cids_seen", seen.Count())

	if runErr != nil {
		os.Exit(1)
	}
}

func newSink(ctx context.Context, kind, pgDSN, natsURL, natsSubject string, log *slog.Logger) (sink.Sink, error) {
	switch kind {
	case "nats":
		return sink.NewNATS(natsURL, natsSubject)
	case "memory":
		return sink.NewMemory(), nil
	default:
		return sink.NewPostgres(ctx, pgDSN, log)
	}
}
