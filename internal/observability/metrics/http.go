package metrics

import (
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Operation groups API routes by the receipt lifecycle stage they serve.
type Operation string

const (
	OpGenerate Operation = "generate"
	OpAttest   Operation = "attest"
	OpAnchor   Operation = "anchor"
	OpVerify   Operation = "verify"
	OpJobs     Operation = "jobs"
	OpRead     Operation = "read"
	OpOther    Operation = "other"
)

var routeOperations = map[string]Operation{
	"generate":     OpGenerate,
	"hash":         OpGenerate,
	"pin":          OpGenerate,
	"signable":     OpAttest,
	"attest":       OpAttest,
	"anchor":       OpAnchor,
	"anchor_get":   OpAnchor,
	"anchors_list": OpAnchor,
	"verify":       OpVerify,
	"quick_verify": OpVerify,
	"jobs_submit":  OpJobs,
	"jobs_list":    OpJobs,
	"jobs_stats":   OpJobs,
	"jobs_get":     OpJobs,
	"document":     OpRead,
}

// OperationOf maps an API route name to its lifecycle stage.
func OperationOf(route string) Operation {
	if op, ok := routeOperations[route]; ok {
		return op
	}
	return OpOther
}

// Anchoring waits for block inclusion; reads finish in milliseconds.
var latencyBuckets = map[Operation][]float64{
	OpAnchor: {0.5, 1, 2.5, 5, 10, 30, 60, 120},
	OpVerify: {0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	OpRead:   {0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	OpOther:  {0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
}

func bucketsFor(op Operation) []float64 {
	if b, ok := latencyBuckets[op]; ok {
		return b
	}
	return defaultBuckets
}

var defaultBuckets = []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

type routeKey struct {
	op    Operation
	route string
}

type routeStats struct {
	codes   map[string]uint64 // "METHOD code"
	client  uint64
	server  uint64
	latency *histogram
}

type histogram struct {
	buckets []float64
	counts  []uint64
	sum     float64
	count   uint64
}

type routeCollector struct {
	mu     sync.Mutex
	routes map[routeKey]*routeStats
}

var httpCollector = &routeCollector{routes: make(map[routeKey]*routeStats)}

// ObserveHTTPRequest records one API request under its route and lifecycle
// operation.
func ObserveHTTPRequest(route, method string, status int, duration time.Duration) {
	httpCollector.observe(route, method, status, duration)
}

func (c *routeCollector) observe(route, method string, status int, duration time.Duration) {
	op := OperationOf(route)
	c.mu.Lock()
	defer c.mu.Unlock()

	key := routeKey{op: op, route: route}
	stats := c.routes[key]
	if stats == nil {
		stats = &routeStats{codes: make(map[string]uint64), latency: newHistogramWithBuckets(bucketsFor(op))}
		c.routes[key] = stats
	}
	stats.codes[method+" "+strconv.Itoa(status)]++
	switch {
	case status >= 500:
		stats.server++
	case status >= 400:
		stats.client++
	}
	stats.latency.observe(duration.Seconds())
}

func newHistogram() *histogram {
	return newHistogramWithBuckets(defaultBuckets)
}

func newHistogramWithBuckets(buckets []float64) *histogram {
	return &histogram{
		buckets: buckets,
		counts:  make([]uint64, len(buckets)),
	}
}

func (h *histogram) observe(value float64) {
	h.count++
	h.sum += value
	// Values above the last bound only show up in the +Inf bucket via h.count.
	for idx, bound := range h.buckets {
		if value <= bound {
			for i := idx; i < len(h.counts); i++ {
				h.counts[i]++
			}
			break
		}
	}
}

// Handler serves the API and receipt metrics in Prometheus text format.
func Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		_, _ = fmt.Fprint(w, httpCollector.render())
		_, _ = fmt.Fprint(w, domainCollector.render())
	})
}

func (c *routeCollector) render() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := make([]routeKey, 0, len(c.routes))
	for key := range c.routes {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].op == keys[j].op {
			return keys[i].route < keys[j].route
		}
		return keys[i].op < keys[j].op
	})

	var b strings.Builder
	b.WriteString("# HELP agentreceipt_http_requests_total API requests by lifecycle operation and route.\n")
	b.WriteString("# TYPE agentreceipt_http_requests_total counter\n")
	for _, key := range keys {
		stats := c.routes[key]
		codes := make([]string, 0, len(stats.codes))
		for code := range stats.codes {
			codes = append(codes, code)
		}
		sort.Strings(codes)
		for _, mc := range codes {
			method, code, _ := strings.Cut(mc, " ")
			fmt.Fprintf(&b, "agentreceipt_http_requests_total{%s,method=\"%s\",code=\"%s\"} %d\n",
				key.labels(), escape(method), code, stats.codes[mc])
		}
	}

	b.WriteString("# HELP agentreceipt_http_request_errors_total Rejected (client) and failed (server) API requests.\n")
	b.WriteString("# TYPE agentreceipt_http_request_errors_total counter\n")
	for _, key := range keys {
		stats := c.routes[key]
		if stats.client > 0 {
			fmt.Fprintf(&b, "agentreceipt_http_request_errors_total{%s,class=\"client\"} %d\n", key.labels(), stats.client)
		}
		if stats.server > 0 {
			fmt.Fprintf(&b, "agentreceipt_http_request_errors_total{%s,class=\"server\"} %d\n", key.labels(), stats.server)
		}
	}

	b.WriteString("# HELP agentreceipt_http_request_duration_seconds API latency by lifecycle operation.\n")
	b.WriteString("# TYPE agentreceipt_http_request_duration_seconds histogram\n")
	for _, key := range keys {
		h := c.routes[key].latency
		for idx, bound := range h.buckets {
			fmt.Fprintf(&b, "agentreceipt_http_request_duration_seconds_bucket{%s,le=\"%s\"} %d\n", key.labels(), formatFloat(bound), h.counts[idx])
		}
		fmt.Fprintf(&b, "agentreceipt_http_request_duration_seconds_bucket{%s,le=\"+Inf\"} %d\n", key.labels(), h.count)
		fmt.Fprintf(&b, "agentreceipt_http_request_duration_seconds_sum{%s} %s\n", key.labels(), formatFloat(h.sum))
		fmt.Fprintf(&b, "agentreceipt_http_request_duration_seconds_count{%s} %d\n", key.labels(), h.count)
	}
	return b.String()
}

func (k routeKey) labels() string {
	return fmt.Sprintf("operation=\"%s\",route=\"%s\"", k.op, escape(k.route))
}

func escape(value string) string {
	value = strings.ReplaceAll(value, "\\", "\\\\")
	value = strings.ReplaceAll(value, "\"", "\\\"")
	value = strings.ReplaceAll(value, "\n", "")
	return value
}

func formatFloat(value float64) string {
	return strconv.FormatFloat(value, 'f', -1, 64)
}
