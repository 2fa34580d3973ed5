// Package extract turns fetched objects into indexable text records.
// Extractors are registered per MIME type; objects whose type has no
// extractor carry no title or text.
package extract

import (
	"context"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// Fields is the text payload pulled out of an object.
type Fields struct {
	Title string
	Text  string
}

// Fetcher reads object bytes from the gateway. Satisfied by *gateway.Client.
type Fetcher interface {
	Cat(ctx context.Context, cid string, offset, length int64) ([]byte, error)
}

// Extractor produces the indexable fields for one object.
type Extractor interface {
	Extract(ctx context.Context, cid string) (Fields, error)
}

// Registry maps a MIME type to the extractor for it. Assembled explicitly
// at startup; there is no implicit registration.
type Registry map[string]Extractor

// Lookup returns the extractor for a MIME type, if any.
func (r Registry) Lookup(mime string) (Extractor, bool) {
	e, ok := r[mime]
	return e, ok
}

// Classify sniffs the MIME type of a content head by magic bytes. The
// returned type carries no parameters (`text/html`, not
// `text/html; charset=utf-8`).
func Classify(head []byte) string {
	m := mimetype.Detect(head).String()
	if i := strings.IndexByte(m, ';'); i != -1 {
		m = m[:i]
	}
	return strings.TrimSpace(m)
}
