package collab

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Scheduler is the background persistence loop: every tick it flushes the
// pages whose dirty marker age exceeds the flush interval. A flush failure
// for one page is logged and retried next tick; it never aborts the rest
// of the tick. A zero or negative flush interval disables the loop
// entirely, leaving the last-leave flush as the only persistence path.
type Scheduler struct {
	reg      *Registry
	interval time.Duration // dirty age before a page is flushed
	period   time.Duration // tick period
	log      *slog.Logger
	cron     *cron.Cron
}

func NewScheduler(reg *Registry, interval, period time.Duration, log *slog.Logger) *Scheduler {
	if period <= 0 {
		period = time.Second
	}
	return &Scheduler{reg: reg, interval: interval, period: period, log: log}
}

// Start begins the flush loop. Returns immediately when the scheduler is
// disabled.
func (s *Scheduler) Start() error {
	if s.interval <= 0 {
		s.log.Info("persistence scheduler disabled, flushing on last leave only")
		return nil
	}
	s.cron = cron.New()
	if _, err := s.cron.AddFunc(fmt.Sprintf("@every %s", s.period), s.Tick); err != nil {
		return fmt.Errorf("schedule flush loop: %w", err)
	}
	s.cron.Start()
	s.log.Info("persistence scheduler started", "interval", s.interval, "period", s.period)
	return nil
}

// Stop halts the loop and waits for a running tick to finish.
func (s *Scheduler) Stop() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
}

// Tick flushes every page dirty for longer than the flush interval.
func (s *Scheduler) Tick() {
	for _, pageID := range s.reg.DirtyPages(s.interval) {
		if err := s.reg.Flush(pageID); err != nil {
			s.log.Error("flush failed", "page", pageID, "err", err)
			continue
		}
		s.log.Debug("flushed page", "page", pageID)
	}
	s.reg.EvictIdle()
}

// FlushAll synchronously flushes every dirty page. Used on shutdown.
func (s *Scheduler) FlushAll() {
	for _, pageID := range s.reg.DirtyPages(0) {
		if err := s.reg.Flush(pageID); err != nil {
			s.log.Error("shutdown flush failed", "page", pageID, "err", err)
		}
	}
}
