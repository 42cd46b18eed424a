package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics(t *testing.T) {
	m := New("edgecache")
	m.Request("image", "hit")
	m.Request("image", "hit")
	m.Evicted("images", 3)
	m.SetPending("sync-favorites", 2)

	if got := testutil.ToFloat64(m.Requests.WithLabelValues("image", "hit")); got != 2 {
		t.Errorf("requests = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.Evictions.WithLabelValues("images")); got != 3 {
		t.Errorf("evictions = %v, want 3", got)
	}

	w := httptest.NewRecorder()
	m.Handler().ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(w.Body)
	if !strings.Contains(string(body), `edgecache_pending_records{tag="sync-favorites"} 2`) {
		t.Errorf("exposition missing pending gauge:\n%s", body)
	}
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	// None of these may panic.
	m.Request("api", "offline")
	m.Lookup("images", "miss")
	m.Put("images", nil)
	m.Evicted("images", 1)
	m.Revalidated("ok")
	m.Delivered("t", "ok")
	m.SetPending("t", 1)
	m.Notified("show")
}
