package metrics

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

type verificationKey struct {
	source string
	valid  string
}

type domainMetrics struct {
	mu            sync.Mutex
	verifications map[verificationKey]uint64
	confidence    *histogram
	duration      *histogram
	anchors       map[string]uint64
	attestations  map[string]uint64
}

var domainCollector = newDomainMetrics()

func newDomainMetrics() *domainMetrics {
	return &domainMetrics{
		verifications: make(map[verificationKey]uint64),
		confidence:    newHistogramWithBuckets([]float64{10, 25, 50, 60, 80, 90, 95, 100}),
		duration:      newHistogram(),
		anchors:       make(map[string]uint64),
		attestations:  make(map[string]uint64),
	}
}

// ObserveVerification records one verification run. source distinguishes
// synchronous API calls from queued jobs.
func ObserveVerification(source string, valid bool, confidence int, duration time.Duration) {
	domainCollector.observeVerification(source, valid, confidence, duration)
}

// ObserveAnchor counts anchor attempts by outcome (anchored, duplicate, error).
func ObserveAnchor(outcome string) {
	domainCollector.mu.Lock()
	domainCollector.anchors[outcome]++
	domainCollector.mu.Unlock()
}

// ObserveAttestation counts accepted attestations by role.
func ObserveAttestation(role string) {
	domainCollector.mu.Lock()
	domainCollector.attestations[role]++
	domainCollector.mu.Unlock()
}

func (d *domainMetrics) observeVerification(source string, valid bool, confidence int, duration time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.verifications[verificationKey{source: source, valid: strconv.FormatBool(valid)}]++
	d.confidence.observe(float64(confidence))
	d.duration.observe(duration.Seconds())
}

func (d *domainMetrics) render() string {
	d.mu.Lock()
	defer d.mu.Unlock()

	var b strings.Builder

	keys := make([]verificationKey, 0, len(d.verifications))
	for key := range d.verifications {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].source == keys[j].source {
			return keys[i].valid < keys[j].valid
		}
		return keys[i].source < keys[j].source
	})
	b.WriteString("# HELP agentreceipt_verifications_total Receipt verifications by source and verdict.\n")
	b.WriteString("# TYPE agentreceipt_verifications_total counter\n")
	for _, key := range keys {
		fmt.Fprintf(&b, "agentreceipt_verifications_total{source=\"%s\",valid=\"%s\"} %d\n",
			escape(key.source), key.valid, d.verifications[key])
	}

	writeHistogram(&b, "agentreceipt_verification_confidence", "Confidence score of verified receipts.", d.confidence)
	writeHistogram(&b, "agentreceipt_verification_duration_seconds", "Verification duration in seconds.", d.duration)

	writeLabelled(&b, "agentreceipt_anchors_total", "Anchor attempts by outcome.", "outcome", d.anchors)
	writeLabelled(&b, "agentreceipt_attestations_total", "Accepted attestations by role.", "role", d.attestations)
	return b.String()
}

func writeHistogram(b *strings.Builder, name, help string, h *histogram) {
	fmt.Fprintf(b, "# HELP %s %s\n# TYPE %s histogram\n", name, help, name)
	for idx, bound := range h.buckets {
		fmt.Fprintf(b, "%s_bucket{le=\"%s\"} %d\n", name, formatFloat(bound), h.counts[idx])
	}
	fmt.Fprintf(b, "%s_bucket{le=\"+Inf\"} %d\n", name, h.count)
	fmt.Fprintf(b, "%s_sum %s\n", name, formatFloat(h.sum))
	fmt.Fprintf(b, "%s_count %d\n", name, h.count)
}

func writeLabelled(b *strings.Builder, name, help, label string, values map[string]uint64) {
	fmt.Fprintf(b, "# HELP %s %s\n# TYPE %s counter\n", name, help, name)
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		fmt.Fprintf(b, "%s{%s=\"%s\"} %d\n", name, label, escape(key), values[key])
	}
}
