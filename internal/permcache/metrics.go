package permcache

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts cache traffic. A nil *Metrics records nothing.
type Metrics struct {
	hits          prometheus.Counter
	misses        prometheus.Counter
	errors        *prometheus.CounterVec
	invalidations *prometheus.CounterVec
}

// NewMetrics registers the cache collectors. Collectors that are already
// registered on reg are reused, so several managers can share a registry.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		hits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "eventguard_permission_cache_hits_total",
			Help: "Permission lookups answered from the cache.",
		}),
		misses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "eventguard_permission_cache_misses_total",
			Help: "Permission lookups that had to be resolved from the stores.",
		}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "eventguard_permission_cache_errors_total",
			Help: "Cache backend failures by operation.",
		}, []string{"op"}),
		invalidations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "eventguard_permission_cache_invalidations_total",
			Help: "Cache invalidations by scope.",
		}, []string{"scope"}),
	}

	var err error
	m.hits = registerCounter(reg, m.hits, &err)
	m.misses = registerCounter(reg, m.misses, &err)
	m.errors = registerCounterVec(reg, m.errors, &err)
	m.invalidations = registerCounterVec(reg, m.invalidations, &err)
	if err != nil {
		return nil, err
	}
	return m, nil
}

func registerCounter(reg prometheus.Registerer, c prometheus.Counter, errp *error) prometheus.Counter {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(prometheus.Counter); ok {
				return existing
			}
		}
		*errp = errors.Join(*errp, err)
	}
	return c
}

func registerCounterVec(reg prometheus.Registerer, c *prometheus.CounterVec, errp *error) *prometheus.CounterVec {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing
			}
		}
		*errp = errors.Join(*errp, err)
	}
	return c
}

func (m *Metrics) hit() {
	if m != nil {
		m.hits.Inc()
	}
}

func (m *Metrics) miss() {
	if m != nil {
		m.misses.Inc()
	}
}

func (m *Metrics) failed(op string) {
	if m != nil {
		m.errors.WithLabelValues(op).Inc()
	}
}

func (m *Metrics) invalidated(scope string) {
	if m != nil {
		m.invalidations.WithLabelValues(scope).Inc()
	}
}
