package sink

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
)

// DefaultSubjectPrefix is where extracted records are published.
const DefaultSubjectPrefix = "crawler.records"

// NATS publishes records for a downstream indexer instead of writing a
// database directly. Each message carries Nats-Msg-Id set to the CID, so a
// JetStream consumer with duplicate detection sees CID-keyed upserts.
type NATS struct {
	nc     *nats.Conn
	prefix string
}

// NewNATS connects to url and publishes under prefix (DefaultSubjectPrefix
// when empty).
func NewNATS(url, prefix string) (*NATS, error) {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	nc, err := nats.Connect(url, nats.Name("ipfs-crawler"))
	if err != nil {
		return nil, fmt.Errorf("sink: connect nats: %w", err)
	}
	return &NATS{nc: nc, prefix: prefix}, nil
}

// Upsert implements Sink. Records are partitioned by MIME major type:
// crawler.records.text, crawler.records.image, ...
func (n *NATS) Upsert(_ context.Context, rec Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("sink: marshal %s: %w", rec.CID, err)
	}
	msg := nats.NewMsg(n.prefix + "." + mimeMajor(rec.MIME))
	msg.Header.Set(nats.MsgIdHdr, rec.CID)
	msg.Data = data
	if err := n.nc.PublishMsg(msg); err != nil {
		return fmt.Errorf("sink: publish %s: %w", rec.CID, err)
	}
	return nil
}

// Close flushes pending publishes and closes the connection.
func (n *NATS) Close(ctx context.Context) error {
	defer n.nc.Close()
	if err := n.nc.FlushWithContext(ctx); err != nil {
		return fmt.Errorf("sink: flush nats: %w", err)
	}
	return nil
}
