package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_GathersServiceCollectors(t *testing.T) {
	SchedulerTicks.WithLabelValues("ok").Inc()
	ChannelSubscribers.WithLabelValues("cs").Set(2)

	families, err := Registry.Gather()
	require.NoError(t, err)

	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["noticeboard_scheduler_ticks_total"])
	assert.True(t, names["noticeboard_channel_subscribers"])
	assert.Equal(t, float64(2), testutil.ToFloat64(ChannelSubscribers.WithLabelValues("cs")))
}
