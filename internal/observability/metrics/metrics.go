package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

type requestKey struct {
	handler string
	method  string
	code    string
}

type iterationKey struct {
	outcome string
}

type workerKey struct {
	success string
}

type histogram struct {
	buckets []float64
	counts  []uint64
	sum     float64
	count   uint64
}

func newHistogram(buckets []float64) *histogram {
	return &histogram{
		buckets: buckets,
		counts:  make([]uint64, len(buckets)),
	}
}

func (h *histogram) observe(value float64) {
	h.count++
	h.sum += value
	for idx, bound := range h.buckets {
		if value <= bound {
			for i := idx; i < len(h.counts); i++ {
				h.counts[i]++
			}
			break
		}
	}
	// Values above the last bucket are only visible through the +Inf bucket (h.count).
}

type collector struct {
	mu sync.Mutex

	requests    map[requestKey]uint64
	httpLatency map[string]*histogram

	iterations       map[iterationKey]uint64
	iterationLatency *histogram
	workers          map[workerKey]uint64
	qualityScores    *histogram
}

var swarmCollector = &collector{
	requests:         make(map[requestKey]uint64),
	httpLatency:      make(map[string]*histogram),
	iterations:       make(map[iterationKey]uint64),
	iterationLatency: newHistogram([]float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60}),
	workers:          make(map[workerKey]uint64),
	qualityScores:    newHistogram([]float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1}),
}

// ObserveHTTPRequest records metrics about an HTTP request lifecycle.
func ObserveHTTPRequest(handler, method string, status int, duration time.Duration) {
	c := swarmCollector
	c.mu.Lock()
	defer c.mu.Unlock()

	c.requests[requestKey{handler: handler, method: method, code: strconv.Itoa(status)}]++
	hist := c.httpLatency[handler]
	if hist == nil {
		hist = newHistogram([]float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10})
		c.httpLatency[handler] = hist
	}
	hist.observe(duration.Seconds())
}

// ObserveIteration records the outcome of one orchestration iteration.
// Outcome is one of "continued", "completed", "failed".
func ObserveIteration(outcome string, qualityScore float64, duration time.Duration) {
	c := swarmCollector
	c.mu.Lock()
	defer c.mu.Unlock()

	c.iterations[iterationKey{outcome: outcome}]++
	c.iterationLatency.observe(duration.Seconds())
	c.qualityScores.observe(qualityScore)
}

// ObserveWorkerExecution records one worker execution result.
func ObserveWorkerExecution(success bool) {
	c := swarmCollector
	c.mu.Lock()
	defer c.mu.Unlock()

	c.workers[workerKey{success: strconv.FormatBool(success)}]++
}

// Handler exposes the metrics in Prometheus text exposition format.
func Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		_, _ = fmt.Fprint(w, swarmCollector.render())
	})
}

func (c *collector) render() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	var builder strings.Builder
	builder.Grow(2048)

	type requestMetric struct {
		requestKey
		value uint64
	}
	reqs := make([]requestMetric, 0, len(c.requests))
	for key, value := range c.requests {
		reqs = append(reqs, requestMetric{requestKey: key, value: value})
	}
	sort.Slice(reqs, func(i, j int) bool {
		if reqs[i].handler != reqs[j].handler {
			return reqs[i].handler < reqs[j].handler
		}
		if reqs[i].method != reqs[j].method {
			return reqs[i].method < reqs[j].method
		}
		return reqs[i].code < reqs[j].code
	})

	builder.WriteString("# HELP openhive_http_requests_total Total number of HTTP requests processed.\n")
	builder.WriteString("# TYPE openhive_http_requests_total counter\n")
	for _, metric := range reqs {
		builder.WriteString(fmt.Sprintf("openhive_http_requests_total{handler=%q,method=%q,code=%q} %d\n",
			metric.handler, metric.method, metric.code, metric.value))
	}

	handlers := make([]string, 0, len(c.httpLatency))
	for handler := range c.httpLatency {
		handlers = append(handlers, handler)
	}
	sort.Strings(handlers)

	builder.WriteString("# HELP openhive_http_request_duration_seconds HTTP request duration in seconds.\n")
	builder.WriteString("# TYPE openhive_http_request_duration_seconds histogram\n")
	for _, handler := range handlers {
		renderHistogram(&builder, "openhive_http_request_duration_seconds",
			fmt.Sprintf("handler=%q", handler), c.httpLatency[handler])
	}

	outcomes := make([]string, 0, len(c.iterations))
	for key := range c.iterations {
		outcomes = append(outcomes, key.outcome)
	}
	sort.Strings(outcomes)

	builder.WriteString("# HELP openhive_task_iterations_total Total number of orchestration iterations by outcome.\n")
	builder.WriteString("# TYPE openhive_task_iterations_total counter\n")
	for _, outcome := range outcomes {
		builder.WriteString(fmt.Sprintf("openhive_task_iterations_total{outcome=%q} %d\n",
			outcome, c.iterations[iterationKey{outcome: outcome}]))
	}

	builder.WriteString("# HELP openhive_iteration_duration_seconds Duration of one plan-dispatch-review cycle in seconds.\n")
	builder.WriteString("# TYPE openhive_iteration_duration_seconds histogram\n")
	renderHistogram(&builder, "openhive_iteration_duration_seconds", "", c.iterationLatency)

	builder.WriteString("# HELP openhive_iteration_quality_score Quality score distribution of completed iterations.\n")
	builder.WriteString("# TYPE openhive_iteration_quality_score histogram\n")
	renderHistogram(&builder, "openhive_iteration_quality_score", "", c.qualityScores)

	successes := make([]string, 0, len(c.workers))
	for key := range c.workers {
		successes = append(successes, key.success)
	}
	sort.Strings(successes)

	builder.WriteString("# HELP openhive_worker_executions_total Total number of worker executions by success flag.\n")
	builder.WriteString("# TYPE openhive_worker_executions_total counter\n")
	for _, success := range successes {
		builder.WriteString(fmt.Sprintf("openhive_worker_executions_total{success=%q} %d\n",
			success, c.workers[workerKey{success: success}]))
	}

	return builder.String()
}

func renderHistogram(builder *strings.Builder, name, labels string, hist *histogram) {
	sep := ","
	if labels == "" {
		sep = ""
	}
	for idx, bound := range hist.buckets {
		builder.WriteString(fmt.Sprintf("%s_bucket{%s%sle=%q} %d\n",
			name, labels, sep, formatFloat(bound), hist.counts[idx]))
	}
	builder.WriteString(fmt.Sprintf("%s_bucket{%s%sle=\"+Inf\"} %d\n", name, labels, sep, hist.count))
	if labels == "" {
		builder.WriteString(fmt.Sprintf("%s_sum %s\n", name, formatFloat(hist.sum)))
		builder.WriteString(fmt.Sprintf("%s_count %d\n", name, hist.count))
		return
	}
	builder.WriteString(fmt.Sprintf("%s_sum{%s} %s\n", name, labels, formatFloat(hist.sum)))
	builder.WriteString(fmt.Sprintf("%s_count{%s} %d\n", name, labels, hist.count))
}

func formatFloat(value float64) string {
	return strconv.FormatFloat(value, 'f', -1, 64)
}

// StartServer launches a standalone HTTP server exposing the /metrics endpoint.
func StartServer(ctx context.Context, addr string) error {
	if addr == "" {
		return errors.New("metrics address is empty")
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())

	srv := &http.Server{Addr: addr, Handler: mux}
	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err, ok := <-errCh:
		if !ok {
			return nil
		}
		return err
	}
}
