package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetricsRecord(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.MemberJoined()
	m.MemberJoined()
	m.MemberLeft()
	m.SignalRelayed()
	m.Dropped(DropUnknownTarget, 2)
	m.Dropped(DropBackpressure, 0)
	m.SetRooms(3)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.members))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.relayed))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.dropped.WithLabelValues(DropUnknownTarget)))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.rooms))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ConnectionOpened()
		m.MemberJoined()
		m.Dropped(DropNotColocated, 1)
	})
}
