package main

import (
	"github.com/CTAG07/talklike/pkg/markov"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Metrics exports service events to prometheus. It implements talklike.Observer.
type Metrics struct {
	registry       *prometheus.Registry
	trainedTotal   prometheus.Counter
	tokensTotal    prometheus.Counter
	skippedTotal   *prometheus.CounterVec
	generatedTotal prometheus.Counter
	rejectedTotal  prometheus.Counter
	noDataTotal    prometheus.Counter
	requests       *prometheus.CounterVec
}

// NewMetrics registers every collector on a fresh registry. usersFn and
// dirtyFn are sampled at scrape time.
func NewMetrics(usersFn func() float64, dirtyFn func() float64) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		trainedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "talklike", Name: "messages_trained_total",
			Help: "Messages added to a user's chain.",
		}),
		tokensTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "talklike", Name: "tokens_trained_total",
			Help: "Tokens added to chains.",
		}),
		skippedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "talklike", Name: "messages_skipped_total",
			Help: "Messages not used for training, by reason.",
		}, []string{"reason"}),
		generatedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "talklike", Name: "texts_generated_total",
			Help: "Texts generated and accepted.",
		}),
		rejectedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "talklike", Name: "outputs_rejected_total",
			Help: "Requested outputs for which every attempt was rejected.",
		}),
		noDataTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "talklike", Name: "nodata_total",
			Help: "Generation requests for users without data.",
		}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "talklike", Name: "http_requests_total",
			Help: "HTTP requests by route and status code.",
		}, []string{"route", "code"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.trainedTotal, m.tokensTotal, m.skippedTotal,
		m.generatedTotal, m.rejectedTotal, m.noDataTotal, m.requests,
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "talklike", Name: "users",
			Help: "Users with a chain.",
		}, usersFn),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "talklike", Name: "store_dirty",
			Help: "1 if the store has unsaved changes.",
		}, dirtyFn),
	)
	return m
}

func (m *Metrics) Trained(_ markov.UserID, tokens int) {
	m.trainedTotal.Inc()
	m.tokensTotal.Add(float64(tokens))
}

func (m *Metrics) Skipped(reason string) {
	m.skippedTotal.WithLabelValues(reason).Inc()
}

func (m *Metrics) Generated(_ markov.UserID, texts int) {
	m.generatedTotal.Add(float64(texts))
}

func (m *Metrics) Rejected(_ markov.UserID, outputs int) {
	m.rejectedTotal.Add(float64(outputs))
}

func (m *Metrics) NoData(markov.UserID) {
	m.noDataTotal.Inc()
}
