package service

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// StaleLeaseSweeper periodically reclaims tasks whose lease expired without
// a result or failure report. It is a thin loop over
// EnrichmentService.RecoverStaleTasks; the sweep itself is safe to run from
// multiple processes at once, so the loop holds no coordination state.
type StaleLeaseSweeper struct {
	service    *EnrichmentService
	interval   time.Duration
	ctx        context.Context
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
	logger     *slog.Logger
}

// NewStaleLeaseSweeper creates a sweeper running at the given interval.
// A zero or negative interval disables the background loop; Start then
// becomes a no-op and on-demand recovery remains available through the
// service.
func NewStaleLeaseSweeper(
	service *EnrichmentService,
	interval time.Duration,
	log *slog.Logger,
) *StaleLeaseSweeper {
	if log == nil {
		log = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &StaleLeaseSweeper{
		service:    service,
		interval:   interval,
		ctx:        ctx,
		cancelFunc: cancel,
		logger:     log.With(slog.String("component", "stale_lease_sweeper")),
	}
}

// Start launches the background sweep loop.
func (s *StaleLeaseSweeper) Start() {
	if s.interval <= 0 {
		s.logger.Info("background lease sweep disabled")
		return
	}

	s.wg.Add(1)
	go s.run()

	s.logger.Info("background lease sweep started",
		slog.Duration("interval", s.interval))
}

// Stop terminates the sweep loop and waits for it to exit.
func (s *StaleLeaseSweeper) Stop() {
	s.cancelFunc()
	s.wg.Wait()
}

// run is the sweep loop. Errors are logged and the loop keeps going; a
// transient store failure should not kill lease recovery for the process
// lifetime.
func (s *StaleLeaseSweeper) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			s.logger.Debug("stopping lease sweep loop")
			return

		case <-ticker.C:
			recovered, err := s.service.RecoverStaleTasks(s.ctx)
			if err != nil {
				s.logger.Error("lease sweep failed",
					slog.String("error", err.Error()))
				continue
			}
			if recovered > 0 {
				s.logger.Info("lease sweep recovered tasks",
					slog.Int("count", recovered))
			}
		}
	}
}
