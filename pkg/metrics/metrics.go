// Copyright 2026 Provenact Labs
//
// Prometheus metrics for the operator node.

package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles the node's instrumentation.
type Metrics struct {
	registry *prometheus.Registry

	EventsAdmitted      prometheus.Counter
	EventsRejected      *prometheus.CounterVec
	EventsProposed      prometheus.Counter
	EventsCoSigned      prometheus.Counter
	CheckpointsBuilt    prometheus.Counter
	CheckpointsAnchored prometheus.Counter
	AnchorRetries       prometheus.Counter
	ScansServed         prometheus.Counter
}

// New creates a metrics set on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		EventsAdmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "provenact_events_admitted_total",
			Help: "Events accepted by the admission pipeline.",
		}),
		EventsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "provenact_events_rejected_total",
			Help: "Events rejected by the admission pipeline, by error category.",
		}, []string{"category"}),
		EventsProposed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "provenact_events_proposed_total",
			Help: "Candidate events built by this operator.",
		}),
		EventsCoSigned: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "provenact_events_cosigned_total",
			Help: "Peer candidates co-signed by this operator.",
		}),
		CheckpointsBuilt: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "provenact_checkpoints_built_total",
			Help: "Checkpoints assembled by the checkpoint engine.",
		}),
		CheckpointsAnchored: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "provenact_checkpoints_anchored_total",
			Help: "Checkpoints confirmed on Bitcoin.",
		}),
		AnchorRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "provenact_anchor_retries_total",
			Help: "Anchor submissions retried after sink failures.",
		}),
		ScansServed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "provenact_item_proofs_served_total",
			Help: "Item proofs served to clients and peers.",
		}),
	}
	reg.MustRegister(
		m.EventsAdmitted, m.EventsRejected, m.EventsProposed, m.EventsCoSigned,
		m.CheckpointsBuilt, m.CheckpointsAnchored, m.AnchorRetries, m.ScansServed,
	)
	return m
}

// Handler returns the scrape endpoint for this metrics set.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
