package telemetry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every Prometheus instrument the orchestrator registers. It
// is safe to construct once and share across all packages; the core never
// blocks on scraping. The reconcile counters are updated by
// registry.SyncAllFieldsFromBoard and LifecycleResurrections by
// internal/lifecycle; ActiveAssignments and WorkerExits are registered but
// no package updates them.
type Metrics struct {
	ActiveAssignments      prometheus.Gauge
	ReconcileConflicts     prometheus.Counter
	ReconcileRemoved       prometheus.Counter
	ReconcileStaleCleared  prometheus.Counter
	ReconcileErrors        prometheus.Counter
	WorkerExits            *prometheus.CounterVec
	LifecycleResurrections prometheus.Counter
}

// NewMetrics registers instruments against reg. Pass prometheus.NewRegistry()
// for an isolated registry in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ActiveAssignments: factory.NewGauge(prometheus.GaugeOpts{
			Name: "autopilot_active_assignments",
			Help: "Number of assignments currently in the assigned or in-progress state.",
		}),
		ReconcileConflicts: factory.NewCounter(prometheus.CounterOpts{
			Name: "autopilot_reconcile_conflicts_total",
			Help: "Number of times reconciliation overwrote local status because the board disagreed.",
		}),
		ReconcileRemoved: factory.NewCounter(prometheus.CounterOpts{
			Name: "autopilot_reconcile_removed_total",
			Help: "Number of assignments removed from the registry because their board item disappeared or was revoked.",
		}),
		ReconcileStaleCleared: factory.NewCounter(prometheus.CounterOpts{
			Name: "autopilot_reconcile_stale_cleared_total",
			Help: "Number of stale Assigned Instance fields cleared on ready/complete board items.",
		}),
		ReconcileErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "autopilot_reconcile_errors_total",
			Help: "Number of per-item errors encountered during reconciliation.",
		}),
		WorkerExits: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "autopilot_worker_exits_total",
			Help: "Worker CLI process exits, labeled by classified outcome.",
		}, []string{"outcome"}),
		LifecycleResurrections: factory.NewCounter(prometheus.CounterOpts{
			Name: "autopilot_lifecycle_resurrections_total",
			Help: "Number of signal-less exits that triggered a one-time resurrection.",
		}),
	}
}

// ServeMetrics starts a /metrics HTTP endpoint on addr. It returns once the
// provided context is cancelled, shutting the server down gracefully.
func ServeMetrics(ctx context.Context, addr string, reg *prometheus.Registry) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("telemetry: metrics server: %w", err)
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		<-errCh
		return nil
	case err := <-errCh:
		return err
	}
}
