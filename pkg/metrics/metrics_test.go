package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
)

func TestCounterRender(t *testing.T) {
	r := New()
	c := r.Counter("crawler_test_total", "Test counter")
	c.Inc()
	c.Add(2)

	out := r.Render()
	if !strings.Contains(out, "# TYPE crawler_test_total counter") {
		t.Errorf("missing TYPE line:\n%s", out)
	}
	if !strings.Contains(out, "crawler_test_total 3") {
		t.Errorf("missing value line:\n%s", out)
	}
}

func TestGauge(t *testing.T) {
	r := New()
	g := r.Gauge("crawler_queue_depth", "")
	g.Set(5)
	g.Inc()
	g.Dec()
	g.Dec()
	if g.Value() != 4 {
		t.Fatalf("gauge = %d, want 4", g.Value())
	}
}

func TestLabeledSeries(t *testing.T) {
	r := New()
	r.Counter(WithLabels("crawler_errors_total", "kind", "timeout"), "Errors").Inc()
	r.Counter(WithLabels("crawler_errors_total", "kind", "gateway"), "Errors").Add(2)

	out := r.Render()
	if !strings.Contains(out, `crawler_errors_total{kind="gateway"} 2`) {
		t.Errorf("missing gateway series:\n%s", out)
	}
	if !strings.Contains(out, `crawler_errors_total{kind="timeout"} 1`) {
		t.Errorf("missing timeout series:\n%s", out)
	}
	if strings.Count(out, "# TYPE crawler_errors_total") != 1 {
		t.Errorf("TYPE line should appear once:\n%s", out)
	}
}

func TestHistogramRender(t *testing.T) {
	r := New()
	h := r.Histogram("crawler_parse_seconds", "Parse time", []float64{0.1, 1, 10})
	h.Observe(0.05)
	h.Observe(0.5)
	h.Observe(100)

	out := r.Render()
	for _, want := range []string{
		`crawler_parse_seconds_bucket{le="0.1"} 1`,
		`crawler_parse_seconds_bucket{le="1"} 2`,
		`crawler_parse_seconds_bucket{le="10"} 2`,
		`crawler_parse_seconds_bucket{le="+Inf"} 3`,
		`crawler_parse_seconds_count 3`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in:\n%s", want, out)
		}
	}
}

func TestSameNameReturnsSameMetric(t *testing.T) {
	r := New()
	a := r.Counter("x_total", "")
	b := r.Counter("x_total", "")
	if a != b {
		t.Fatal("expected identical counter instance")
	}
}

func TestHandler(t *testing.T) {
	r := New()
	r.Counter("hits_total", "").Inc()

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if rec.Code != 200 {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "hits_total 1") {
		t.Errorf("body missing metric:\n%s", rec.Body.String())
	}
}
