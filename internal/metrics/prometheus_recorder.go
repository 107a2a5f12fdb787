package metrics

import (
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
)

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	buildDuration     *prom.HistogramVec
	buildResults      *prom.CounterVec
	requests          *prom.CounterVec
	notes             *prom.CounterVec
	meshMembers       *prom.GaugeVec
	peersDetached     prom.Counter
	transportFailures *prom.CounterVec
}

// NewPrometheusRecorder constructs the collectors and registers them on reg.
func NewPrometheusRecorder(reg *prom.Registry) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	pr := &PrometheusRecorder{
		buildDuration: prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: "buildmesh",
			Name:      "build_duration_seconds",
			Help:      "Duration of local build script executions",
			Buckets:   prom.ExponentialBuckets(0.1, 2, 14),
		}, []string{"project"}),
		buildResults: prom.NewCounterVec(prom.CounterOpts{
			Namespace: "buildmesh",
			Name:      "build_results_total",
			Help:      "Finished local builds by result",
		}, []string{"project", "result"}),
		requests: prom.NewCounterVec(prom.CounterOpts{
			Namespace: "buildmesh",
			Name:      "build_requests_total",
			Help:      "Build requests received, split by whether the id was already seen",
		}, []string{"duplicate"}),
		notes: prom.NewCounterVec(prom.CounterOpts{
			Namespace: "buildmesh",
			Name:      "notes_total",
			Help:      "Notes passed to observers or suppressed as replays",
		}, []string{"outcome"}),
		meshMembers: prom.NewGaugeVec(prom.GaugeOpts{
			Namespace: "buildmesh",
			Name:      "mesh_members",
			Help:      "Registered builders and observers on this hub",
		}, []string{"role"}),
		peersDetached: prom.NewCounter(prom.CounterOpts{
			Namespace: "buildmesh",
			Name:      "peers_detached_total",
			Help:      "Remote peers removed after a transport failure",
		}),
		transportFailures: prom.NewCounterVec(prom.CounterOpts{
			Namespace: "buildmesh",
			Name:      "transport_failures_total",
			Help:      "Remote calls that failed with a transport error",
		}, []string{"method"}),
	}
	reg.MustRegister(pr.buildDuration, pr.buildResults, pr.requests, pr.notes, pr.meshMembers, pr.peersDetached, pr.transportFailures)
	return pr
}

func (p *PrometheusRecorder) ObserveBuildDuration(project string, d time.Duration) {
	p.buildDuration.WithLabelValues(project).Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncBuildResult(project string, result ResultLabel) {
	p.buildResults.WithLabelValues(project, string(result)).Inc()
}

func (p *PrometheusRecorder) IncRequestReceived(duplicate bool) {
	label := "false"
	if duplicate {
		label = "true"
	}
	p.requests.WithLabelValues(label).Inc()
}

func (p *PrometheusRecorder) IncNoteEmitted() {
	p.notes.WithLabelValues("emitted").Inc()
}

func (p *PrometheusRecorder) IncNoteSuppressed() {
	p.notes.WithLabelValues("suppressed").Inc()
}

func (p *PrometheusRecorder) SetMeshMembers(builders, observers int) {
	p.meshMembers.WithLabelValues("builder").Set(float64(builders))
	p.meshMembers.WithLabelValues("observer").Set(float64(observers))
}

func (p *PrometheusRecorder) IncPeerDetached() {
	p.peersDetached.Inc()
}

func (p *PrometheusRecorder) IncTransportFailure(method string) {
	p.transportFailures.WithLabelValues(method).Inc()
}

// ResultFor maps a terminal build status onto a ResultLabel. The reserved
// statuses are passed in to keep this package free of build imports.
func ResultFor(status, missingVersion, fileNotFound, execFailed int) ResultLabel {
	switch status {
	case 0:
		return ResultSuccess
	case missingVersion:
		return ResultMissingVersion
	case fileNotFound:
		return ResultFileNotFound
	case execFailed:
		return ResultExecFailed
	default:
		return ResultFailure
	}
}
