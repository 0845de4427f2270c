package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/engagement-tracker/internal/domain"
)

func TestMetrics_Observer(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.RecordRegistered(domain.KindOpen)
	m.RecordRegistered(domain.KindClick)
	m.RecordRegistered(domain.KindClick)
	m.RecordResolved(domain.KindClick, "first", 3*time.Millisecond)
	m.RecordResolved(domain.KindClick, "repeat", time.Millisecond)
	m.RecordResolved(domain.KindOpen, "not_found", 0)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.registered.WithLabelValues("open")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.registered.WithLabelValues("click")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.resolutions.WithLabelValues("click", "first")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.resolutions.WithLabelValues("open", "not_found")))
	assert.Equal(t, 2, testutil.CollectAndCount(m.resolveDuration))
}

func TestMetrics_HandlerExposesSeries(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.RecordArchive("uploaded")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `tracking_export_archives_total{status="uploaded"} 1`)
}

func TestMetrics_MiddlewareUsesRoutePattern(t *testing.T) {
	m := New(prometheus.NewRegistry())
	r := chi.NewRouter()
	r.Use(m.Middleware)
	r.Get("/track/open/{pixelID}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	for _, id := range []string{"a", "b"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/track/open/"+id, nil))
	}

	expected := `
# HELP http_requests_total Total number of HTTP requests.
# TYPE http_requests_total counter
http_requests_total{method="GET",path="/track/open/{pixelID}",status_code="404"} 2
`
	require.NoError(t, testutil.CollectAndCompare(m.httpRequests, strings.NewReader(expected)))
}

func TestMetrics_Push(t *testing.T) {
	var method, path, body string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		method, path, body = r.Method, r.URL.Path, string(b)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	m := New(prometheus.NewRegistry())
	m.RecordArchive("failed")
	require.NoError(t, m.Push(context.Background(), srv.URL, "tracking_export", map[string]string{"scope": "all"}))

	assert.Equal(t, http.MethodPut, method)
	assert.Equal(t, "/metrics/job/tracking_export/scope/all", path)
	assert.Contains(t, body, "tracking_export_archives_total")
}

func TestMetrics_PushRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	m := New(prometheus.NewRegistry())
	assert.Error(t, m.Push(context.Background(), srv.URL, "tracking_export", nil))
}
