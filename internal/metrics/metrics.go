// Package metrics provides Prometheus metrics for missionline: pricing
// quotes, catalog gaps, mission creation and wizard progress.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ─── Pricing ────────────────────────────────────────────────────────────────

// Quotes counts successful price calculations by model and audience.
var Quotes = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "missionline",
	Name:      "quotes_total",
	Help:      "Total mission prices calculated.",
}, []string{"model", "audience"})

// QuoteErrors counts rejected price calculations by reason.
var QuoteErrors = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "missionline",
	Name:      "quote_errors_total",
	Help:      "Total mission price calculations that failed.",
}, []string{"reason"})

// CatalogGaps counts requested tasks the catalog does not price.
var CatalogGaps = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "missionline",
	Name:      "catalog_gaps_total",
	Help:      "Requested task ids missing from the task catalog.",
}, []string{"platform", "type"})

// PriceDivergence counts client quotes that differed from the server price.
var PriceDivergence = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "missionline",
	Name:      "price_divergence_total",
	Help:      "Client-side quotes that disagreed with the authoritative price.",
}, []string{"model"})

// ─── Missions ───────────────────────────────────────────────────────────────

// MissionsCreated counts persisted missions.
var MissionsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "missionline",
	Name:      "missions_created_total",
	Help:      "Total missions created.",
}, []string{"model", "platform"})

// MissionHonors tracks the distribution of mission totals in Honors.
var MissionHonors = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "missionline",
	Name:      "mission_total_honors",
	Help:      "Total cost in Honors of created missions.",
	Buckets:   prometheus.ExponentialBuckets(1000, 4, 8),
}, []string{"model"})

// ─── Wizard ─────────────────────────────────────────────────────────────────

// WizardTransitions counts step navigation attempts by direction and outcome.
var WizardTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "missionline",
	Name:      "wizard_transitions_total",
	Help:      "Wizard step navigation attempts.",
}, []string{"direction", "outcome"})

// WizardSubmissions counts wizard submissions by outcome.
var WizardSubmissions = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "missionline",
	Name:      "wizard_submissions_total",
	Help:      "Wizard submissions by outcome.",
}, []string{"outcome"})
