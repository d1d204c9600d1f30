package engine

import (
	"context"
	"math/rand"
	"time"

	"github.com/robfig/cron/v3"

	"fluxrules/internal/constants"
)

// StartReloader polls the rule source every configured interval and installs
// the rule set when it changed. It returns when ctx is cancelled.
func (s *Service) StartReloader(ctx context.Context) error {
	if s.source == nil || s.reloadCfg.Interval <= 0 {
		<-ctx.Done()
		return nil
	}

	ticker := time.NewTicker(s.reloadCfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := s.applyJitter(ctx); err != nil {
				return nil
			}
			s.reloadLogged(ctx, constants.TriggerPeriodic)
		case <-ctx.Done():
			return nil
		}
	}
}

// StartScheduler runs additional change-skipping reloads on the configured
// cron schedule until ctx is cancelled.
func (s *Service) StartScheduler(ctx context.Context) error {
	if s.source == nil || s.reloadCfg.Schedule == "" {
		<-ctx.Done()
		return nil
	}

	c := cron.New()
	if _, err := c.AddFunc(s.reloadCfg.Schedule, func() {
		s.reloadLogged(ctx, constants.TriggerSchedule)
	}); err != nil {
		return err
	}

	s.logger.InfowCtx(ctx, "Reload schedule started", "schedule", s.reloadCfg.Schedule)
	c.Start()

	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}

// ReloadOnChange is the callback for file watchers: it skips unchanged rule sets.
func (s *Service) ReloadOnChange(ctx context.Context) error {
	_, _, err := s.ReloadFromSource(ctx, constants.TriggerFile, true)
	return err
}

func (s *Service) reloadLogged(ctx context.Context, trigger string) {
	snap, changed, err := s.ReloadFromSource(ctx, trigger, true)
	if err != nil {
		s.logger.ErrorwCtx(ctx, "Failed to reload rules",
			"trigger", trigger,
			"error", err,
		)
		return
	}
	if changed {
		s.logger.InfowCtx(ctx, "Rules reloaded", "trigger", trigger, "version", snap.Version)
	}
}

func (s *Service) applyJitter(ctx context.Context) error {
	if s.reloadCfg.JitterMax <= 0 {
		return nil
	}

	jitter := time.Duration(rand.Int63n(int64(s.reloadCfg.JitterMax)))
	s.logger.DebugwCtx(ctx, "Reload scheduled with jitter",
		"jitter_ms", jitter.Milliseconds(),
	)

	select {
	case <-time.After(jitter):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
