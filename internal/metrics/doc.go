// Package metrics provides the observability hooks of the render pipeline.
//
// Components receive a Recorder through dependency injection and default to
// NoopRecorder, so metrics never require nil checks at call sites:
//
//	recorder := metrics.Recorder(metrics.NoopRecorder{})
//	if cfg.Server.Metrics {
//	    recorder = metrics.NewPrometheusRecorder(registry)
//	}
//
// PrometheusRecorder registers its collectors on the given registry, and
// HTTPHandler exposes that registry for scraping.
package metrics
