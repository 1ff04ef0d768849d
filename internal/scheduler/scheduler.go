package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"

	"noticeboard/internal/asset"
	"noticeboard/internal/broadcast"
	"noticeboard/internal/clock"
	"noticeboard/internal/metrics"
	"noticeboard/internal/notice"
)

// Result counts what one tick did.
type Result struct {
	Activated int
	Expired   int
	Errors    int
}

// Scheduler periodically activates due notices and removes expired ones.
type Scheduler struct {
	cron *cron.Cron

	store     notice.Store
	storage   asset.Storage
	publisher broadcast.Publisher
	clock     clock.Clock
	interval  time.Duration
	layout    string
}

// NewScheduler creates a scheduler that ticks every interval once started.
func NewScheduler(store notice.Store, storage asset.Storage, publisher broadcast.Publisher, clk clock.Clock, interval time.Duration, layout string) *Scheduler {
	logger := cron.PrintfLogger(log.StandardLogger())
	c := cron.New(cron.WithChain(
		cron.Recover(logger),
		cron.SkipIfStillRunning(logger),
	))
	return &Scheduler{
		cron:      c,
		store:     store,
		storage:   storage,
		publisher: publisher,
		clock:     clk,
		interval:  interval,
		layout:    layout,
	}
}

// Start registers the tick and starts the cron runner.
func (s *Scheduler) Start() error {
	schedule := fmt.Sprintf("@every %s", s.interval)
	if _, err := s.cron.AddFunc(schedule, s.tick); err != nil {
		return fmt.Errorf("register scheduler tick %q: %w", schedule, err)
	}
	s.cron.Start()
	log.Infof("[Scheduler] started, ticking %s", schedule)
	return nil
}

// Stop halts the runner and waits for a tick in progress.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	log.Info("[Scheduler] stopped")
}

func (s *Scheduler) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), s.interval)
	defer cancel()

	res := s.RunOnce(ctx)
	if res.Errors > 0 {
		metrics.SchedulerTicks.WithLabelValues("error").Inc()
	} else {
		metrics.SchedulerTicks.WithLabelValues("ok").Inc()
	}
	if res.Activated > 0 || res.Expired > 0 || res.Errors > 0 {
		log.Infof("[Scheduler] tick: %d activated, %d expired, %d error(s)", res.Activated, res.Expired, res.Errors)
	}
}

// RunOnce performs a single activation scan followed by an expiry scan. A
// failure on one notice is logged and does not stop the others.
func (s *Scheduler) RunOnce(ctx context.Context) Result {
	var res Result
	now := s.clock.Now()
	s.activate(ctx, now, &res)
	s.expire(ctx, now, &res)
	return res
}

func (s *Scheduler) activate(ctx context.Context, now time.Time, res *Result) {
	due, err := s.store.QueryPendingActivation(ctx, now)
	if err != nil {
		log.Errorf("[ERROR] [Scheduler] pending activation query failed: %v", err)
		res.Errors++
		return
	}
	for _, n := range due {
		// already past expiry, the expiry scan removes it without announcing
		if notice.VisibilityState(n, now) == notice.Expired {
			continue
		}
		claimed, err := s.store.MarkBroadcasted(ctx, n.ID)
		if err != nil {
			log.Errorf("[ERROR] [Scheduler] mark notice %d broadcasted failed: %v", n.ID, err)
			res.Errors++
			continue
		}
		if !claimed {
			continue
		}
		n.Broadcasted = true
		s.publisher.Publish(ctx, n.Department, broadcast.NoticeActivated(n.Payload(s.layout), now.UTC().Format(s.layout)))
		metrics.NoticesActivated.Inc()
		res.Activated++
	}
}

func (s *Scheduler) expire(ctx context.Context, now time.Time, res *Result) {
	expired, err := s.store.QueryExpired(ctx, now)
	if err != nil {
		log.Errorf("[ERROR] [Scheduler] expired query failed: %v", err)
		res.Errors++
		return
	}
	for _, n := range expired {
		removed, err := s.store.Delete(ctx, n.ID)
		if err != nil {
			log.Errorf("[ERROR] [Scheduler] delete expired notice %d failed: %v", n.ID, err)
			res.Errors++
			continue
		}
		// removed concurrently by an admin, who already announced it
		if !removed {
			continue
		}
		if err := s.storage.Delete(ctx, n.AssetRef); err != nil {
			log.Warnf("[Scheduler] asset %s cleanup failed: %v", n.AssetRef, err)
		}
		s.publisher.Publish(ctx, n.Department, broadcast.NoticeRemoved(n.Department, n.ID, now.UTC().Format(s.layout)))
		metrics.NoticesExpired.Inc()
		res.Expired++
	}
}
