// Package metrics collects Prometheus metrics for session renewal, remote
// calls and money operations.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder is what the session supervisor and services report to.
type Recorder interface {
	RecordRenewal(result string)
	RecordAuthAttempt(success bool)
	RecordLedger(entryType, status string)
	RecordProvisioning(result string)
}

// Nop discards everything.
type Nop struct{}

func (Nop) RecordRenewal(string)        {}
func (Nop) RecordAuthAttempt(bool)      {}
func (Nop) RecordLedger(string, string) {}
func (Nop) RecordProvisioning(string)   {}

// Collector is the Prometheus-backed Recorder.
type Collector struct {
	renewals     *prometheus.CounterVec
	authAttempts *prometheus.CounterVec
	ledger       *prometheus.CounterVec
	provisioning *prometheus.CounterVec
}

// NewCollector registers the metrics on reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		renewals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agentdesk_session_renewals_total",
			Help: "Session renewal outcomes by result",
		}, []string{"result"}),
		authAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agentdesk_auth_attempts_total",
			Help: "Authentication attempts against the agent dashboard",
		}, []string{"success"}),
		ledger: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agentdesk_ledger_entries_total",
			Help: "Terminal ledger entries by type and status",
		}, []string{"type", "status"}),
		provisioning: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agentdesk_provisioning_total",
			Help: "Player provisioning outcomes",
		}, []string{"result"}),
	}

	reg.MustRegister(c.renewals, c.authAttempts, c.ledger, c.provisioning)
	return c
}

func (c *Collector) RecordRenewal(result string) {
	c.renewals.WithLabelValues(result).Inc()
}

func (c *Collector) RecordAuthAttempt(success bool) {
	label := "false"
	if success {
		label = "true"
	}
	c.authAttempts.WithLabelValues(label).Inc()
}

func (c *Collector) RecordLedger(entryType, status string) {
	c.ledger.WithLabelValues(entryType, status).Inc()
}

func (c *Collector) RecordProvisioning(result string) {
	c.provisioning.WithLabelValues(result).Inc()
}

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
