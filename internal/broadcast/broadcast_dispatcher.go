package broadcast

import (
	"context"
	"encoding/json"
	"time"

	log "github.com/sirupsen/logrus"

	"noticeboard/internal/channel"
	"noticeboard/internal/metrics"
)

// Publisher is the narrow contract admin actions and the scheduler use to
// announce lifecycle changes. Publish never fails from the caller's point of
// view; delivery problems are logged.
type Publisher interface {
	Publish(ctx context.Context, department string, ev Event)
}

// Relay carries encoded events between service instances. Subscribed reports
// whether this instance is currently receiving relayed events.
type Relay interface {
	Publish(ctx context.Context, department string, payload []byte) error
	Run(ctx context.Context, deliver func(department string, payload []byte)) error
	Subscribed() bool
}

const (
	relayRetryMin = time.Second
	relayRetryMax = 30 * time.Second
)

// Dispatcher fans events out to the department's subscribers. With a relay
// configured, events travel through it so every instance delivers to its own
// connections.
type Dispatcher struct {
	registry *channel.Registry
	relay    Relay

	retryMin time.Duration
	retryMax time.Duration
}

// NewDispatcher creates a dispatcher. relay may be nil for a single instance.
func NewDispatcher(registry *channel.Registry, relay Relay) *Dispatcher {
	return &Dispatcher{
		registry: registry,
		relay:    relay,
		retryMin: relayRetryMin,
		retryMax: relayRetryMax,
	}
}

// Publish encodes ev once and sends it to department, through the relay when
// it is subscribed and locally otherwise.
func (d *Dispatcher) Publish(ctx context.Context, department string, ev Event) {
	department = channel.Normalize(department)
	ev.Department = department

	payload, err := json.Marshal(ev)
	if err != nil {
		log.Errorf("[Broadcast] encode %s event: %v", ev.Type, err)
		return
	}
	metrics.BroadcastEvents.WithLabelValues(string(ev.Type)).Inc()

	if d.relay != nil {
		err := d.relay.Publish(ctx, department, payload)
		switch {
		case err != nil:
			log.Warnf("[Broadcast] relay publish to %s failed, delivering locally: %v", department, err)
		case !d.relay.Subscribed():
			// other instances got it through the relay, ours would not
			log.Debugf("[Broadcast] relay not subscribed, delivering %s locally", department)
		default:
			return
		}
	}
	d.Deliver(department, payload)
}

// Deliver hands payload to every current subscriber of department and returns
// how many accepted it. A full or closed subscriber is skipped.
func (d *Dispatcher) Deliver(department string, payload []byte) int {
	delivered := 0
	for _, sub := range d.registry.Subscribers(department) {
		if sub.Send(payload) {
			delivered++
			continue
		}
		metrics.BroadcastDropped.Inc()
		log.Warnf("[Broadcast] dropped event for subscriber %s in %s", sub.ID(), department)
	}
	log.Debugf("[Broadcast] %s: delivered to %d subscriber(s)", department, delivered)
	return delivered
}

// RunRelay consumes relayed events until ctx is cancelled, re-subscribing
// with capped exponential backoff whenever the relay subscription fails.
// Without a relay it returns immediately.
func (d *Dispatcher) RunRelay(ctx context.Context) error {
	if d.relay == nil {
		return nil
	}
	deliver := func(department string, payload []byte) {
		d.Deliver(department, payload)
	}

	backoff := d.retryMin
	for {
		started := time.Now()
		err := d.relay.Run(ctx, deliver)
		if ctx.Err() != nil {
			return nil
		}
		// a subscription that held for a while starts over from the minimum
		if time.Since(started) > d.retryMax {
			backoff = d.retryMin
		}
		metrics.RelayRestarts.Inc()
		log.Errorf("[Broadcast] relay subscription lost, delivering locally and retrying in %s: %v", backoff, err)

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
		backoff *= 2
		if backoff > d.retryMax {
			backoff = d.retryMax
		}
	}
}
