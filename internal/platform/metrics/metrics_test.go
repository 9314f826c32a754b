package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestRegistryHandler(t *testing.T) {
	reg := NewRegistry()
	applied := NewCounterVec(Opts{Name: "feed_events_total", Help: "Events."}, []string{"view", "type"})
	viewers := NewGaugeVec(Opts{Name: "feed_viewers", Help: "Viewers."}, []string{"view"})
	reg.MustRegister(applied, viewers)

	applied.WithLabelValues("public", "INSERT").Inc()
	applied.WithLabelValues("public", "INSERT").Add(2)
	applied.WithLabelValues("public", "INSERT").Add(-5)
	viewers.Add(1, "admin")

	rr := httptest.NewRecorder()
	reg.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rr.Body.String()

	for _, want := range []string{
		"# TYPE feed_events_total counter",
		`feed_events_total{view="public",type="INSERT"} 3`,
		"# TYPE feed_viewers gauge",
		`feed_viewers{view="admin"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("missing %q in:\n%s", want, body)
		}
	}
	if got := applied.WithLabelValues("public", "INSERT").Value(); got != 3 {
		t.Fatalf("unexpected counter value %v", got)
	}
}

func TestMustRegisterDuplicatePanics(t *testing.T) {
	reg := NewRegistry()
	reg.MustRegister(NewCounterVec(Opts{Name: "dup"}, nil))
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on duplicate registration")
		}
	}()
	reg.MustRegister(NewCounterVec(Opts{Name: "dup"}, nil))
}
