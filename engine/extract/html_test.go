package extract

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestCleanHTMLBasic(t *testing.T) {
	title, text := CleanHTML([]byte(`<!doctype html><html><title>Hi</title><body>Hello  world</body></html>`))
	if title != "Hi" {
		t.Errorf("title = %q, want Hi", title)
	}
	if text != "Hello\nworld" {
		t.Errorf("text = %q, want Hello\\nworld", text)
	}
}

func TestCleanHTMLDropsScriptAndStyle(t *testing.T) {
	html := `<html><head>
		<title> Page </title>
		<style>body { color: red; }</style>
	</head><body>
		<script>var hidden = "secret";</script>
		<p>visible</p>
	</body></html>`
	title, text := CleanHTML([]byte(html))
	if title != "Page" {
		t.Errorf("title = %q", title)
	}
	if strings.Contains(text, "secret") || strings.Contains(text, "color") {
		t.Errorf("script/style leaked into text: %q", text)
	}
	if text != "visible" {
		t.Errorf("text = %q, want visible", text)
	}
}

func TestCleanHTMLMultilineAndBlankLines(t *testing.T) {
	html := "<body><p>  first line  </p>\n\n\n<p>second</p>\n<div>a  b   c</div></body>"
	_, text := CleanHTML([]byte(html))
	want := "first line\nsecond\na\nb\nc"
	if text != want {
		t.Errorf("text = %q, want %q", text, want)
	}
}

func TestCleanHTMLTotality(t *testing.T) {
	inputs := [][]byte{
		nil,
		{},
		[]byte("no markup at all"),
		[]byte("<html><body><p>unclosed"),
		[]byte("<<<>>>&&&"),
		{0x00, 0xff, 0xfe, 0x01},
		[]byte("<title>only a title</title>"),
	}
	for _, in := range inputs {
		title, text := CleanHTML(in)
		_ = title
		_ = text // must not panic; both are always strings
	}

	title, _ := CleanHTML([]byte("<title>only a title</title>"))
	if title != "only a title" {
		t.Errorf("title = %q", title)
	}

	title, text := CleanHTML(nil)
	if title != "" || text != "" {
		t.Errorf("empty input should yield empty fields, got %q %q", title, text)
	}
}

func TestClassify(t *testing.T) {
	html := []byte(`<!doctype html><html><body>x</body></html>`)
	if got := Classify(html); got != "text/html" {
		t.Errorf("Classify(html) = %q", got)
	}

	png := []byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a, 0x1a, 0x0a, 0, 0, 0, 0}
	if got := Classify(png); got != "image/png" {
		t.Errorf("Classify(png) = %q", got)
	}

	if got := Classify(nil); got == "" {
		t.Error("Classify must always return a type")
	}
}

type fetchFunc func(ctx context.Context, cid string, offset, length int64) ([]byte, error)

func (f fetchFunc) Cat(ctx context.Context, cid string, offset, length int64) ([]byte, error) {
	return f(ctx, cid, offset, length)
}

func TestHTMLExtractorFetchesFullBody(t *testing.T) {
	body := []byte(`<title>T</title><body>content</body>`)
	ext := NewHTML(fetchFunc(func(_ context.Context, cid string, offset, length int64) ([]byte, error) {
		if cid != "Qm1" {
			t.Errorf("cid = %q", cid)
		}
		if offset != 0 || length != -1 {
			t.Errorf("expected full read, got offset=%d length=%d", offset, length)
		}
		return body, nil
	}))

	fields, err := ext.Extract(context.Background(), "Qm1")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if fields.Title != "T" || fields.Text != "content" {
		t.Errorf("fields = %+v", fields)
	}
}

func TestHTMLExtractorPropagatesFetchError(t *testing.T) {
	boom := errors.New("gateway down")
	ext := NewHTML(fetchFunc(func(context.Context, string, int64, int64) ([]byte, error) {
		return nil, boom
	}))
	_, err := ext.Extract(context.Background(), "Qm1")
	if !errors.Is(err, boom) {
		t.Fatalf("expected fetch error, got %v", err)
	}
}

func TestRegistryLookup(t *testing.T) {
	ext := NewHTML(fetchFunc(func(context.Context, string, int64, int64) ([]byte, error) {
		return nil, nil
	}))
	reg := Registry{"text/html": ext}

	if _, ok := reg.Lookup("text/html"); !ok {
		t.Error("expected hit for text/html")
	}
	if _, ok := reg.Lookup("image/png"); ok {
		t.Error("expected miss for image/png")
	}
}
