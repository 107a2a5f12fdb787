// Package metrics provides the observability hooks for the build mesh.
//
// Components receive a Recorder through their options and default to
// NoopRecorder, so metrics collection never requires nil checks:
//
//	fsb := filebuilder.New(root, filebuilder.WithRecorder(metrics.NewPrometheusRecorder(reg)))
//
// PrometheusRecorder registers its collectors on the supplied registry and
// HTTPHandler exposes that registry for scraping.
package metrics
