// Package metrics exposes Prometheus counters for inbox, follow, club and
// feed outcomes. A nil *Metrics is valid and records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Feed decode outcomes used as the "result" label.
const (
	ResultOK               = "ok"
	ResultExpired          = "expired"
	ResultDecryptFailed    = "decrypt_failed"
	ResultSignatureInvalid = "signature_invalid"
	ResultMalformed        = "malformed"
)

type Metrics struct {
	envelopesSent     *prometheus.CounterVec
	envelopesRejected prometheus.Counter
	envelopesOpened   *prometheus.CounterVec
	redemptions       *prometheus.CounterVec
	keyRotations      prometheus.Counter
	keysDelivered     prometheus.Counter
	eventsPublished   *prometheus.CounterVec
	eventsDecoded     *prometheus.CounterVec
}

// New registers every collector on reg.
func New(reg prometheus.Registerer) *Metrics {
	promFactory := promauto.With(reg)
	return &Metrics{
		envelopesSent: promFactory.NewCounterVec(prometheus.CounterOpts{
			Name: "liftsocial_inbox_envelopes_sent_total",
			Help: "Total number of inbox envelopes appended, labelled by message kind",
		}, []string{"kind"}),
		envelopesRejected: promFactory.NewCounter(prometheus.CounterOpts{
			Name: "liftsocial_inbox_envelopes_rejected_total",
			Help: "Total number of envelopes rejected for exceeding the size policy",
		}),
		envelopesOpened: promFactory.NewCounterVec(prometheus.CounterOpts{
			Name: "liftsocial_inbox_envelopes_opened_total",
			Help: "Total number of drained envelopes, labelled by open result",
		}, []string{"result"}),
		redemptions: promFactory.NewCounterVec(prometheus.CounterOpts{
			Name: "liftsocial_follow_redemptions_total",
			Help: "Total number of follow secret redemption attempts, labelled by result",
		}, []string{"result"}),
		keyRotations: promFactory.NewCounter(prometheus.CounterOpts{
			Name: "liftsocial_club_key_rotations_total",
			Help: "Total number of club key rotations",
		}),
		keysDelivered: promFactory.NewCounter(prometheus.CounterOpts{
			Name: "liftsocial_club_keys_delivered_total",
			Help: "Total number of club keys wrapped for pending joiners",
		}),
		eventsPublished: promFactory.NewCounterVec(prometheus.CounterOpts{
			Name: "liftsocial_feed_events_published_total",
			Help: "Total number of feed events published, labelled by feed scope",
		}, []string{"scope"}),
		eventsDecoded: promFactory.NewCounterVec(prometheus.CounterOpts{
			Name: "liftsocial_feed_events_decoded_total",
			Help: "Total number of feed items read, labelled by decode result",
		}, []string{"result"}),
	}
}

func (m *Metrics) EnvelopeSent(kind string) {
	if m == nil {
		return
	}
	m.envelopesSent.WithLabelValues(kind).Inc()
}

func (m *Metrics) EnvelopeRejected() {
	if m == nil {
		return
	}
	m.envelopesRejected.Inc()
}

func (m *Metrics) EnvelopeOpened(result string) {
	if m == nil {
		return
	}
	m.envelopesOpened.WithLabelValues(result).Inc()
}

func (m *Metrics) Redemption(result string) {
	if m == nil {
		return
	}
	m.redemptions.WithLabelValues(result).Inc()
}

func (m *Metrics) KeyRotated() {
	if m == nil {
		return
	}
	m.keyRotations.Inc()
}

func (m *Metrics) KeysDelivered(n int) {
	if m == nil {
		return
	}
	m.keysDelivered.Add(float64(n))
}

func (m *Metrics) EventPublished(scope string) {
	if m == nil {
		return
	}
	m.eventsPublished.WithLabelValues(scope).Inc()
}

func (m *Metrics) EventDecoded(result string) {
	if m == nil {
		return
	}
	m.eventsDecoded.WithLabelValues(result).Inc()
}
