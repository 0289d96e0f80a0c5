/*
Package observability turns engine lifecycle events into Prometheus metrics
and structured log records.

Both are plain domain.LifecycleHooks and can be combined with domain.ChainHooks:

	metrics, _ := observability.NewMetrics(prometheus.DefaultRegisterer)
	hooks := domain.ChainHooks(metrics.Hooks("fridge"), observability.LogHooks(logger))
	eng, _ := pergola.New(plan, pergola.WithLifecycleHooks(hooks))
*/
package observability
