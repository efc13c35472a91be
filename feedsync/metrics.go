package feedsync

import (
	"github.com/prometheus/client_golang/prometheus"
)

// counters for the query cache. a nil *CacheMetrics disables all recording.
type CacheMetrics struct {
	hits          prometheus.Counter
	misses        prometheus.Counter
	fetches       prometheus.Counter
	fetchErrors   prometheus.Counter
	invalidations prometheus.Counter
	rollbacks     prometheus.Counter
}

// pass nil to keep the counters unregistered, e.g. in tests
func NewCacheMetrics(registerer prometheus.Registerer) *CacheMetrics {
	metrics := &CacheMetrics{
		hits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "feedsync_query_cache_hits_total",
			Help: "Initiates served from a cached or in-flight entry.",
		}),
		misses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "feedsync_query_cache_misses_total",
			Help: "Initiates that had to start a fetch.",
		}),
		fetches: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "feedsync_query_fetches_total",
			Help: "Fetcher round trips started.",
		}),
		fetchErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "feedsync_query_fetch_errors_total",
			Help: "Fetcher round trips that ended rejected.",
		}),
		invalidations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "feedsync_query_invalidations_total",
			Help: "Cache entries marked stale by tag invalidation.",
		}),
		rollbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "feedsync_optimistic_rollbacks_total",
			Help: "Optimistic patches undone after a failed mutation.",
		}),
	}
	if registerer != nil {
		registerer.MustRegister(
			metrics.hits,
			metrics.misses,
			metrics.fetches,
			metrics.fetchErrors,
			metrics.invalidations,
			metrics.rollbacks,
		)
	}
	return metrics
}

func (self *CacheMetrics) hit() {
	if self != nil {
		self.hits.Inc()
	}
}

func (self *CacheMetrics) miss() {
	if self != nil {
		self.misses.Inc()
	}
}

func (self *CacheMetrics) fetch() {
	if self != nil {
		self.fetches.Inc()
	}
}

func (self *CacheMetrics) fetchError() {
	if self != nil {
		self.fetchErrors.Inc()
	}
}

func (self *CacheMetrics) invalidation() {
	if self != nil {
		self.invalidations.Inc()
	}
}

func (self *CacheMetrics) rollback() {
	if self != nil {
		self.rollbacks.Inc()
	}
}
