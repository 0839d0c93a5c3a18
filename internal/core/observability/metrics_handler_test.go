package observability

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsHandler_Smoke(t *testing.T) {
	ExposeBuildInfo("test")
	ObserveHTTP("POST", "/v1/render", 200, 0.001)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	promhttp.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d want 200", rr.Code)
	}
	body := rr.Body.String()
	if !strings.Contains(body, "app_build_info") || !strings.Contains(body, "http_requests_total") {
		t.Fatalf("metrics payload did not contain expected metric names; got:\n%s", body)
	}
}

func TestCacheCounters(t *testing.T) {
	before := testutil.ToFloat64(cacheResults.WithLabelValues("unit", "coalesced"))
	IncCacheCoalesced("unit")
	IncCacheCoalesced("unit")
	after := testutil.ToFloat64(cacheResults.WithLabelValues("unit", "coalesced"))
	if after-before != 2 {
		t.Fatalf("coalesced delta=%v want 2", after-before)
	}
}

func TestInit_PrivateRegistryIdempotent(t *testing.T) {
	reg := prometheus.NewRegistry()
	Init(reg, true)
	Init(reg, true)
	IncLODBuild(true)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	found := false
	for _, mf := range mfs {
		if mf.GetName() == "lod_builds_total" {
			found = true
		}
	}
	if !found {
		t.Fatalf("lod_builds_total not exposed on private registry")
	}
}
