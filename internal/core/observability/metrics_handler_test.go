package observability

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func TestMetricsHandler_Smoke(t *testing.T) {
	ExposeBuildInfo("test")
	ObserveHTTP("GET", "/query", 200, 0.001)
	IncFeaturePut("ok")
	IncQueryScans("bbox", 3)
	IncPeer("mdns")
	AddReplicationBytes("in", 128)
	ObserveRedisOp("zadd", errors.New("boom"), 0.002)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	promhttp.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d want 200", rr.Code)
	}
	body := rr.Body.String()
	for _, want := range []string{
		"app_build_info",
		`http_requests_total{method="GET",route="/query",status="200"}`,
		`geoswarm_feature_puts_total{outcome="ok"}`,
		`geoswarm_query_scans_total{selector="bbox"} 3`,
		`geoswarm_discovery_peers_total{source="mdns"}`,
		`geoswarm_replication_bytes_total{direction="in"} 128`,
		`redis_op_total{op="zadd",result="error"}`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("metrics payload missing %q; got:\n%s", want, body)
		}
	}
}

func TestAddReplicationBytes_IgnoresNonPositive(t *testing.T) {
	AddReplicationBytes("zero-test", 0)
	AddReplicationBytes("zero-test", -5)

	rr := httptest.NewRecorder()
	promhttp.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if strings.Contains(rr.Body.String(), `direction="zero-test"`) {
		t.Fatal("non-positive byte counts must not create series")
	}
}
