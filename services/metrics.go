package services

import (
	"time"

	"shop-reward-system/models"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Metrics is nil-safe: a nil *Metrics records nothing.
type Metrics struct {
	Registry *prometheus.Registry
	claims   *prometheus.CounterVec
	rewards  *prometheus.CounterVec
	duration prometheus.Histogram
}

func NewMetrics() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		claims: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shop_reward_claims_total",
			Help: "Claim attempts by result and trigger.",
		}, []string{"result", "trigger"}),
		rewards: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shop_rewards_processed_total",
			Help: "Rewards moved out of pending, by final status.",
		}, []string{"status"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "shop_reward_claim_duration_seconds",
			Help:    "Time spent in one claim attempt, queue wait excluded.",
			Buckets: prometheus.DefBuckets,
		}),
	}
	m.Registry.MustRegister(
		m.claims, m.rewards, m.duration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) observeClaim(out models.ClaimOutcome, trigger models.ClaimTrigger, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.claims.WithLabelValues(out.Result(), string(trigger)).Inc()
	m.duration.Observe(elapsed.Seconds())
	if out.Succeeded() {
		m.rewards.WithLabelValues(string(models.RewardStatusClaimed)).Add(float64(out.ClaimedCount))
		m.rewards.WithLabelValues(string(models.RewardStatusFailed)).Add(float64(out.FailedCount))
	}
}

func (m *Metrics) watchCache(cache *IdentityCache) {
	if m == nil {
		return
	}
	m.Registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "shop_identity_cache_entries",
		Help: "Players currently held in the identity cache.",
	}, func() float64 { return float64(cache.Len()) }))
}
