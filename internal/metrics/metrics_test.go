package metrics_test

import (
	"testing"

	"github.com/liftlog/liftsocial/internal/metrics"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	m.EnvelopeSent("follow_grant")
	m.EnvelopeSent("follow_grant")
	m.EventDecoded(metrics.ResultSignatureInvalid)
	m.KeysDelivered(3)
	m.KeyRotated()

	families, err := reg.Gather()
	require.NoError(t, err)

	counts := map[string]float64{}
	for _, mf := range families {
		for _, metric := range mf.GetMetric() {
			counts[mf.GetName()] += metric.GetCounter().GetValue()
		}
	}
	assert.Equal(t, 2.0, counts["liftsocial_inbox_envelopes_sent_total"])
	assert.Equal(t, 1.0, counts["liftsocial_feed_events_decoded_total"])
	assert.Equal(t, 3.0, counts["liftsocial_club_keys_delivered_total"])
	assert.Equal(t, 1.0, counts["liftsocial_club_key_rotations_total"])

	n, err := testutil.GatherAndCount(reg, "liftsocial_feed_events_decoded_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *metrics.Metrics
	assert.NotPanics(t, func() {
		m.EnvelopeSent("x")
		m.EnvelopeRejected()
		m.EnvelopeOpened("ok")
		m.Redemption("ok")
		m.KeyRotated()
		m.KeysDelivered(1)
		m.EventPublished("club")
		m.EventDecoded(metrics.ResultOK)
	})
}
