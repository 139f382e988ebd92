package cadastro

import (
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts remote traffic and cache effectiveness. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	fullFetches   *prometheus.CounterVec
	versionChecks *prometheus.CounterVec
	blobRequests  *prometheus.CounterVec
	writes        *prometheus.CounterVec
}

// NewMetrics registers the client counters on reg. A nil reg uses a fresh
// private registry.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	m := &Metrics{
		fullFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cadastro",
			Name:      "full_fetches_total",
			Help:      "Full tab reads from the record store.",
		}, []string{"tab"}),
		versionChecks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cadastro",
			Name:      "version_checks_total",
			Help:      "Version checks against the Metadados tab by kind (scan or fast).",
		}, []string{"tab", "kind"}),
		blobRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cadastro",
			Name:      "blob_cache_requests_total",
			Help:      "Image lookups by result (hit, miss, error).",
		}, []string{"result"}),
		writes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cadastro",
			Name:      "writes_total",
			Help:      "Record writes by operation.",
		}, []string{"op"}),
	}

	var err error
	for _, c := range []**prometheus.CounterVec{&m.fullFetches, &m.versionChecks, &m.blobRequests, &m.writes} {
		if *c, err = registerCounter(reg, *c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// registerCounter returns the already registered collector when a second
// client shares the registry.
func registerCounter(reg prometheus.Registerer, c *prometheus.CounterVec) (*prometheus.CounterVec, error) {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
		}
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}
	return c, nil
}

func (m *Metrics) fullFetch(tab string) {
	if m == nil {
		return
	}
	m.fullFetches.WithLabelValues(tab).Inc()
}

func (m *Metrics) versionCheck(tab, kind string) {
	if m == nil {
		return
	}
	m.versionChecks.WithLabelValues(tab, kind).Inc()
}

func (m *Metrics) blobRequest(result string) {
	if m == nil {
		return
	}
	m.blobRequests.WithLabelValues(result).Inc()
}

func (m *Metrics) write(op string) {
	if m == nil {
		return
	}
	m.writes.WithLabelValues(op).Inc()
}
