package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
)

func TestCollector_SameKeySameMetric(t *testing.T) {
	c := NewMetricsCollector()
	a := c.Counter("x_total", "x", Label("k", "v"))
	b := c.Counter("x_total", "x", Label("k", "v"))
	a.Inc()
	b.Add(2)
	if a != b || a.Value() != 3 {
		t.Errorf("counter value = %d, same=%v", a.Value(), a == b)
	}
}

func TestCollector_Render(t *testing.T) {
	c := NewMetricsCollector()
	c.Counter("b_total", "b", Label("kind", "send")).Inc()
	c.Counter("b_total", "b", Label("kind", "sync")).Add(4)
	c.Gauge("a_open", "a", "").Set(3)
	h := c.Histogram("lat_seconds", "lat", "", []float64{1, 0.1})
	h.Observe(0.05)
	h.Observe(5)

	rec := httptest.NewRecorder()
	c.Handler()(rec, httptest.NewRequest("GET", "/metrics", nil))
	out := rec.Body.String()

	for _, want := range []string{
		`b_total{kind="send"} 1`,
		`b_total{kind="sync"} 4`,
		"a_open 3",
		`lat_seconds_bucket{le="0.1"} 1`,
		`lat_seconds_bucket{le="1"} 1`,
		`lat_seconds_bucket{le="+Inf"} 2`,
		"lat_seconds_count 2",
		"chatcast_uptime_seconds",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in:\n%s", want, out)
		}
	}
	if strings.Count(out, "# TYPE b_total counter") != 1 {
		t.Error("HELP/TYPE should be written once per name")
	}
	if !strings.HasPrefix(rec.Header().Get("Content-Type"), "text/plain") {
		t.Errorf("content type = %q", rec.Header().Get("Content-Type"))
	}
}

func TestLabel_Escapes(t *testing.T) {
	if got := Label("site", `a"b`); got != `site="a\"b"` {
		t.Errorf("Label = %s", got)
	}
}
