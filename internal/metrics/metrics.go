package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "paykit"

var (
	// catalog resolution
	ResolutionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "resolutions_total",
		Help:      "Catalog resolutions by scope and result.",
	}, []string{"scope", "result"})

	CatalogCacheTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "catalog_cache_total",
		Help:      "Catalog cache lookups by result (hit, miss, refresh).",
	}, []string{"result"})

	// execution
	AttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "payment_attempts_total",
		Help:      "Payment attempts by method and result.",
	}, []string{"method", "result"})

	AttemptDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "payment_attempt_duration_seconds",
		Help:      "Backend call duration per attempt.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method"})

	RequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "payment_requests_total",
		Help:      "Terminal payment request outcomes.",
	}, []string{"outcome"})

	// subscriptions
	SubscriptionTriggersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "subscription_triggers_total",
		Help:      "Subscription triggers by kind and result.",
	}, []string{"kind", "result"})

	SubscriptionsTerminatedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "subscriptions_terminated_total",
		Help:      "Subscriptions terminated by reason.",
	}, []string{"reason"})

	// event bus
	EventsDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_dropped_total",
		Help:      "Events dropped because a subscriber buffer was full.",
	})

	EventsPublishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "event_sink_messages_total",
		Help:      "Events forwarded to the external sink by result.",
	}, []string{"result"})

	// health
	DependencyUp = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "dependency_up",
		Help:      "1 when the last health probe of a dependency passed.",
	}, []string{"dependency"})
)
