package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Recorder interface {
	IncPhishingDeleted()
	SetPhishingDomains(count int)
	AddPurgeKicks(count int)
	IncPurgeRuns(mode string)
	IncMarkovIngested()
	IncWatcherAlerts(rule string)
	IncJailOperations(kind string)
}

type Metrics struct {
	phishingDeleted prometheus.Counter
	phishingDomains prometheus.Gauge
	purgeKicks      prometheus.Counter
	purgeRuns       *prometheus.CounterVec
	markovIngested  prometheus.Counter
	watcherAlerts   *prometheus.CounterVec
	jailOperations  *prometheus.CounterVec
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		phishingDeleted: factory.NewCounter(prometheus.CounterOpts{
			Name: "cogwarden_phishing_messages_deleted_total",
			Help: "Messages deleted by the phishing filter",
		}),
		phishingDomains: factory.NewGauge(prometheus.GaugeOpts{
			Name: "cogwarden_phishing_domains",
			Help: "Domains in the active phishing blocklist",
		}),
		purgeKicks: factory.NewCounter(prometheus.CounterOpts{
			Name: "cogwarden_purge_kicks_total",
			Help: "Members kicked by the purge engine",
		}),
		purgeRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "cogwarden_purge_runs_total",
			Help: "Purge runs by mode",
		}, []string{"mode"}),
		markovIngested: factory.NewCounter(prometheus.CounterOpts{
			Name: "cogwarden_markov_messages_ingested_total",
			Help: "Messages ingested into markov models",
		}),
		watcherAlerts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "cogwarden_watcher_alerts_total",
			Help: "Watcher alerts by rule",
		}, []string{"rule"}),
		jailOperations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "cogwarden_jail_operations_total",
			Help: "Jail operations by kind",
		}, []string{"kind"}),
	}
}

func (m *Metrics) IncPhishingDeleted() {
	m.phishingDeleted.Inc()
}

func (m *Metrics) SetPhishingDomains(count int) {
	m.phishingDomains.Set(float64(count))
}

func (m *Metrics) AddPurgeKicks(count int) {
	m.purgeKicks.Add(float64(count))
}

func (m *Metrics) IncPurgeRuns(mode string) {
	m.purgeRuns.WithLabelValues(mode).Inc()
}

func (m *Metrics) IncMarkovIngested() {
	m.markovIngested.Inc()
}

func (m *Metrics) IncWatcherAlerts(rule string) {
	m.watcherAlerts.WithLabelValues(rule).Inc()
}

func (m *Metrics) IncJailOperations(kind string) {
	m.jailOperations.WithLabelValues(kind).Inc()
}

func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// Noop is used when metrics are disabled.
type Noop struct{}

func (Noop) IncPhishingDeleted()      {}
func (Noop) SetPhishingDomains(int)   {}
func (Noop) AddPurgeKicks(int)        {}
func (Noop) IncPurgeRuns(string)      {}
func (Noop) IncMarkovIngested()       {}
func (Noop) IncWatcherAlerts(string)  {}
func (Noop) IncJailOperations(string) {}
