package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestInstrumentRecordsStatus(t *testing.T) {
	handler := Instrument("test_teapot", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	got := testutil.ToFloat64(httpRequests.WithLabelValues("test_teapot", http.MethodGet, "418"))
	if got != 1 {
		t.Fatalf("expected one recorded request, got %v", got)
	}
}

func TestServerErrorsCounted(t *testing.T) {
	ObserveHTTPRequest("test_errors", http.MethodPost, http.StatusBadGateway, 10*time.Millisecond)
	ObserveHTTPRequest("test_errors", http.MethodPost, http.StatusOK, 10*time.Millisecond)

	if got := testutil.ToFloat64(httpErrors.WithLabelValues("test_errors", http.MethodPost)); got != 1 {
		t.Fatalf("expected one error, got %v", got)
	}
}

func TestHandlerExposesCollectors(t *testing.T) {
	ObserveUpstream("aptos", "estimate_gas_price", "200", 20*time.Millisecond)
	ObserveTool("add", "ok")

	srv := httptest.NewServer(Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("scrape: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	for _, want := range []string{
		`aptos_agent_upstream_requests_total{endpoint="estimate_gas_price",outcome="200",service="aptos"} 1`,
		`aptos_agent_tool_invocations_total{outcome="ok",tool="add"} 1`,
	} {
		if !strings.Contains(string(body), want) {
			t.Fatalf("missing %q in exposition", want)
		}
	}
}
