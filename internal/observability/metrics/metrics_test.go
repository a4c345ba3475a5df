package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestHandlerRendersRequestAndVerificationMetrics(t *testing.T) {
	ObserveHTTPRequest("quick_verify", "POST", 200, 30*time.Millisecond)
	ObserveHTTPRequest("quick_verify", "POST", 503, 2*time.Second)
	ObserveHTTPRequest("anchor", "POST", 409, 40*time.Second)
	ObserveHTTPRequest("attest", "POST", 201, 10*time.Millisecond)
	ObserveVerification("api", true, 90, 20*time.Millisecond)
	ObserveAnchor("anchored")
	ObserveAttestation("buyer")

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	out := string(body)

	for _, want := range []string{
		`agentreceipt_http_requests_total{operation="verify",route="quick_verify",method="POST",code="200"} `,
		`agentreceipt_http_request_errors_total{operation="verify",route="quick_verify",class="server"} 1`,
		`agentreceipt_http_request_errors_total{operation="anchor",route="anchor",class="client"} 1`,
		`agentreceipt_http_requests_total{operation="attest",route="attest",method="POST",code="201"} `,
		`agentreceipt_http_request_duration_seconds_bucket{operation="anchor",route="anchor",le="60"} 1`,
		`agentreceipt_verifications_total{source="api",valid="true"}`,
		`agentreceipt_verification_confidence_bucket{le="90"}`,
		`agentreceipt_anchors_total{outcome="anchored"}`,
		`agentreceipt_attestations_total{role="buyer"}`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %s in output:\n%s", want, out)
		}
	}
}

func TestHistogramCumulativeBuckets(t *testing.T) {
	t.Parallel()

	h := newHistogramWithBuckets([]float64{1, 5, 10})
	h.observe(0.5)
	h.observe(7)
	h.observe(50)
	if h.counts[0] != 1 || h.counts[1] != 1 || h.counts[2] != 2 || h.count != 3 {
		t.Fatalf("unexpected buckets %v count %d", h.counts, h.count)
	}
}

func TestRoutesMapToLifecycleOperations(t *testing.T) {
	t.Parallel()

	cases := map[string]Operation{
		"verify":       OpVerify,
		"quick_verify": OpVerify,
		"jobs_submit":  OpJobs,
		"anchor":       OpAnchor,
		"anchors_list": OpAnchor,
		"attest":       OpAttest,
		"signable":     OpAttest,
		"generate":     OpGenerate,
		"healthz":      OpOther,
	}
	for route, want := range cases {
		if got := OperationOf(route); got != want {
			t.Errorf("%s: expected %s, got %s", route, want, got)
		}
	}
}

func TestAnchorLatencyUsesChainBuckets(t *testing.T) {
	t.Parallel()

	c := &routeCollector{routes: make(map[routeKey]*routeStats)}
	c.observe("anchor", "POST", 200, 20*time.Second)
	c.observe("document", "GET", 200, 20*time.Second)
	out := c.render()
	if !strings.Contains(out, `agentreceipt_http_request_duration_seconds_bucket{operation="anchor",route="anchor",le="30"} 1`) {
		t.Errorf("anchor latency should fall in the 30s bucket:\n%s", out)
	}
	if !strings.Contains(out, `agentreceipt_http_request_duration_seconds_bucket{operation="read",route="document",le="1"} 0`) {
		t.Errorf("document latency should overflow the read buckets:\n%s", out)
	}
	if strings.Contains(out, "class=") {
		t.Errorf("successful requests must not count as errors:\n%s", out)
	}
}
