// Package health serves the controller's /health endpoint: 200 while the
// process is alive and the node watch is established, 503 once the
// watch has failed to reconnect beyond a threshold (spec §6/§7).
package health

import (
	"context"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"sigs.k8s.io/controller-runtime/pkg/healthz"
)

// DefaultThreshold is the number of consecutive watch failures that
// flips the endpoint unhealthy when no explicit threshold is configured.
const DefaultThreshold = 5

// Monitor tracks consecutive list/watch failures reported by
// internal/pipeline and answers whether the controller is healthy.
// Safe for concurrent use.
type Monitor struct {
	consecutiveFailures atomic.Int64
	threshold           int64
}

// NewMonitor builds a Monitor that becomes unhealthy after threshold
// consecutive failures. A non-positive threshold falls back to
// DefaultThreshold.
func NewMonitor(threshold int) *Monitor {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Monitor{threshold: int64(threshold)}
}

// RecordSuccess resets the consecutive-failure count. Called after every
// successful list or watch-establish call.
func (m *Monitor) RecordSuccess() {
	m.consecutiveFailures.Store(0)
}

// RecordFailure increments the consecutive-failure count. Called after
// every failed list or watch-establish call.
func (m *Monitor) RecordFailure() {
	m.consecutiveFailures.Add(1)
}

// Healthy reports whether the consecutive-failure count is still below
// the configured threshold.
func (m *Monitor) Healthy() bool {
	return m.consecutiveFailures.Load() < m.threshold
}

// Checker adapts Monitor to controller-runtime's healthz.Checker
// signature, reusing the teacher's own healthz vocabulary even though
// the HTTP status code it produces differs from that package's handler
// (see Handler).
func (m *Monitor) Checker(_ *http.Request) error {
	if m.Healthy() {
		return nil
	}
	return fmt.Errorf("node watch failed to reconnect after %d consecutive attempts", m.consecutiveFailures.Load())
}

// Handler returns the /health endpoint. It deliberately does not reuse
// healthz.Handler's ServeHTTP, which answers failing checks with 500:
// spec §6 requires exactly 503 for an unhealthy watch subscription.
func (m *Monitor) Handler() http.Handler {
	checks := map[string]healthz.Checker{"watch": m.Checker}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for name, check := range checks {
			if err := check(r); err != nil {
				w.WriteHeader(http.StatusServiceUnavailable)
				fmt.Fprintf(w, "%s: %v\n", name, err)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})
}

// Server hosts the /health endpoint on addr.
func Server(addr string, m *Monitor) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/health", m.Handler())
	return &http.Server{Addr: addr, Handler: mux}
}

// Run serves the health endpoint until ctx is cancelled, then shuts the
// server down gracefully.
func Run(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	}
}
