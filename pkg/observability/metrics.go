package observability

import (
	"context"
	"errors"

	"github.com/aretw0/pergola/pkg/domain"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "pergola"

// Metrics holds the collectors shared by every graph an application runs.
type Metrics struct {
	NodeVisits   *prometheus.CounterVec
	NodeDuration *prometheus.HistogramVec
	NodeErrors   *prometheus.CounterVec
	RouteErrors  *prometheus.CounterVec
	Suspensions  *prometheus.CounterVec
	Completions  *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg.
// Collectors already registered by an earlier call are reused.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		NodeVisits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "node_visits_total",
			Help:      "Total number of node handler invocations.",
		}, []string{"graph", "node"}),
		NodeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "node_duration_seconds",
			Help:      "Duration of node handler invocations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"graph", "node"}),
		NodeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "node_errors_total",
			Help:      "Total number of failed node handler invocations.",
		}, []string{"graph", "node"}),
		RouteErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "route_errors_total",
			Help:      "Total number of routing failures.",
		}, []string{"graph", "from"}),
		Suspensions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "suspensions_total",
			Help:      "Total number of run suspensions.",
		}, []string{"graph", "node", "reason"}),
		Completions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "completions_total",
			Help:      "Total number of completed runs.",
		}, []string{"graph"}),
	}

	var err error
	m.NodeVisits = register(reg, m.NodeVisits, &err)
	m.NodeDuration = register(reg, m.NodeDuration, &err)
	m.NodeErrors = register(reg, m.NodeErrors, &err)
	m.RouteErrors = register(reg, m.RouteErrors, &err)
	m.Suspensions = register(reg, m.Suspensions, &err)
	m.Completions = register(reg, m.Completions, &err)
	if err != nil {
		return nil, err
	}
	return m, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C, errp *error) C {
	if reg == nil || *errp != nil {
		return c
	}
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing
			}
		}
		*errp = err
	}
	return c
}

// Hooks returns lifecycle hooks recording into m under the graph label.
func (m *Metrics) Hooks(graph string) domain.LifecycleHooks {
	return domain.LifecycleHooks{
		OnNodeEnter: func(_ context.Context, e *domain.NodeEvent) {
			m.NodeVisits.WithLabelValues(graph, e.Node).Inc()
		},
		OnNodeLeave: func(_ context.Context, e *domain.NodeEvent) {
			m.NodeDuration.WithLabelValues(graph, e.Node).Observe(e.Duration.Seconds())
			if e.Err != nil {
				m.NodeErrors.WithLabelValues(graph, e.Node).Inc()
			}
		},
		OnRoute: func(_ context.Context, e *domain.RouteEvent) {
			if e.Err != nil {
				m.RouteErrors.WithLabelValues(graph, e.From).Inc()
			}
		},
		OnSuspend: func(_ context.Context, e *domain.RunEvent) {
			m.Suspensions.WithLabelValues(graph, e.Node, string(e.Reason)).Inc()
		},
		OnComplete: func(context.Context, *domain.RunEvent) {
			m.Completions.WithLabelValues(graph).Inc()
		},
	}
}
