package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "noticeboard"

// Registry holds every collector the service exposes on /metrics.
var Registry = prometheus.NewRegistry()

var (
	SchedulerTicks = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "scheduler",
		Name:      "ticks_total",
		Help:      "Scheduler ticks by result.",
	}, []string{"result"})

	NoticesActivated = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "scheduler",
		Name:      "notices_activated_total",
		Help:      "Scheduled notices announced as active.",
	})

	NoticesExpired = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "scheduler",
		Name:      "notices_expired_total",
		Help:      "Notices removed by the expiry scan.",
	})

	BroadcastEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "broadcast",
		Name:      "events_total",
		Help:      "Lifecycle events published, by event type.",
	}, []string{"type"})

	BroadcastDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "broadcast",
		Name:      "dropped_total",
		Help:      "Per-subscriber deliveries dropped because the subscriber was slow or gone.",
	})

	RelayRestarts = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "broadcast",
		Name:      "relay_restarts_total",
		Help:      "Times the cross-instance relay subscription was lost and retried.",
	})

	ChannelSubscribers = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "channel",
		Name:      "subscribers",
		Help:      "Connected display clients per department.",
	}, []string{"department"})
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		SchedulerTicks,
		NoticesActivated,
		NoticesExpired,
		BroadcastEvents,
		BroadcastDropped,
		RelayRestarts,
		ChannelSubscribers,
	)
}
