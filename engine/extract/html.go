package extract

import (
	"bytes"
	"context"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/cshuaimin/ipfs-crawler/pkg/fn"
)

// HTML extracts the title and visible text of an HTML object. The full body
// is fetched through the gateway and reduced to clean line-joined text.
type HTML struct {
	pipeline fn.Stage[string, Fields]
}

// NewHTML creates the HTML extractor backed by f.
func NewHTML(f Fetcher) *HTML {
	fetch := fn.Stage[string, []byte](func(ctx context.Context, cid string) fn.Result[[]byte] {
		return fn.FromPair(f.Cat(ctx, cid, 0, -1))
	})
	clean := fn.MapStage(func(data []byte) Fields {
		title, text := CleanHTML(data)
		return Fields{Title: title, Text: text}
	})
	return &HTML{
		pipeline: fn.Then(
			fn.TracedStage("extract.fetch", fetch),
			fn.TracedStage("extract.clean", clean),
		),
	}
}

// Extract implements Extractor.
func (h *HTML) Extract(ctx context.Context, cid string) (Fields, error) {
	return h.pipeline(ctx, cid).Unwrap()
}

// CleanHTML reduces raw HTML to its title and visible text. It is total:
// malformed or empty input yields empty strings, never an error. Script,
// style and title subtrees are dropped from the text (the title is returned
// on its own); the remaining text is split into lines, lines
// are further split on the two-space boundary left by inline elements, and
// the stripped non-empty pieces are joined with single newlines.
func CleanHTML(data []byte) (title, text string) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(data))
	if err != nil {
		return "", ""
	}

	title = strings.TrimSpace(doc.Find("title").First().Text())
	doc.Find("script, style, title").Remove()

	raw := strings.ReplaceAll(doc.Text(), "\r\n", "\n")
	var pieces []string
	for _, line := range strings.Split(raw, "\n") {
		for _, piece := range strings.Split(strings.TrimSpace(line), "  ") {
			if piece = strings.TrimSpace(piece); piece != "" {
				pieces = append(pieces, piece)
			}
		}
	}
	return title, strings.Join(pieces, "\n")
}
