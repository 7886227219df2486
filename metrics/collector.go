// Package metrics exposes chain lifecycle events as Prometheus metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/simon020286/go-promptchain/models"
)

const namespace = "promptchain"

// Collector turns lifecycle events into metrics. Register it on a
// sequencer with AddListener.
type Collector struct {
	registry *prometheus.Registry

	chains        *prometheus.CounterVec
	chainDuration prometheus.Histogram
	rows          *prometheus.CounterVec
	steps         *prometheus.CounterVec
	stepDuration  *prometheus.HistogramVec
	stepCost      *prometheus.CounterVec
	cacheHits     prometheus.Counter
	sandboxAborts prometheus.Counter
}

// NewCollector creates the collectors and registers them on reg. A nil reg
// gets a fresh registry.
func NewCollector(reg *prometheus.Registry) *Collector {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	c := &Collector{
		registry: reg,
		chains: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "chains_total",
				Help:      "Chain runs by outcome",
			},
			[]string{"outcome"},
		),
		chainDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "chain_duration_seconds",
				Help:      "Wall time of chain runs",
				Buckets:   prometheus.DefBuckets,
			},
		),
		rows: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rows_total",
				Help:      "Input rows by outcome (completed or the halt reason)",
			},
			[]string{"outcome"},
		),
		steps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "steps_total",
				Help:      "Completed steps by kind and status",
			},
			[]string{"kind", "status"},
		),
		stepDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "step_duration_seconds",
				Help:      "Duration of completed steps",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"kind"},
		),
		stepCost: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "step_cost_total",
				Help:      "Accumulated provider cost of completed steps",
			},
			[]string{"kind"},
		),
		cacheHits: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_hits_total",
				Help:      "Prompt steps served from the response cache",
			},
		),
		sandboxAborts: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sandbox_aborts_total",
				Help:      "Code steps aborted by the sandbox",
			},
		),
	}

	reg.MustRegister(c.chains, c.chainDuration, c.rows, c.steps, c.stepDuration, c.stepCost, c.cacheHits, c.sandboxAborts)
	return c
}

// Registry returns the registry the collectors are registered on
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus text format
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// OnEvent implements models.EventListener
func (c *Collector) OnEvent(event models.Event) {
	switch event.Type {
	case models.EventChainCompleted:
		outcome := "ok"
		if _, failed := event.Data["error"]; failed {
			outcome = "error"
		}
		c.chains.WithLabelValues(outcome).Inc()
		if d, ok := event.Data["duration"].(time.Duration); ok {
			c.chainDuration.Observe(d.Seconds())
		}

	case models.EventRowCompleted:
		c.rows.WithLabelValues("completed").Inc()

	case models.EventRowHalted:
		reason, _ := event.Data["reason"].(string)
		c.rows.WithLabelValues(reason).Inc()

	case models.EventStepCompleted, models.EventStepFailed:
		kind, _ := event.Data["kind"].(string)
		status := "ok"
		if event.Type == models.EventStepFailed {
			status = "failed"
		}
		c.steps.WithLabelValues(kind, status).Inc()
		if d, ok := event.Data["duration"].(float64); ok {
			c.stepDuration.WithLabelValues(kind).Observe(d)
		}
		if cost, ok := event.Data["cost"].(float64); ok && cost > 0 {
			c.stepCost.WithLabelValues(kind).Add(cost)
		}
		if cached, _ := event.Data["cached"].(bool); cached {
			c.cacheHits.Inc()
		}

	case models.EventSandboxAbort:
		c.sandboxAborts.Inc()
	}
}
