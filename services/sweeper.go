package services

import (
	"context"
	"sync"
	"time"

	"chorus/chat-service/utils"
)

// Sweeper periodically runs the same sweep-and-broadcast step polls perform,
// bounding leave-detection latency when nobody is polling.
type Sweeper struct {
	poller   *Poller
	interval time.Duration
	logger   *utils.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewSweeper(poller *Poller, interval time.Duration, logger *utils.Logger) *Sweeper {
	ctx, cancel := context.WithCancel(context.Background())
	return &Sweeper{
		poller:   poller,
		interval: interval,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start begins the periodic sweep. It is a no-op when interval is not positive.
func (s *Sweeper) Start() {
	if s.interval <= 0 {
		return
	}

	s.logger.Info("Starting presence sweeper", "interval", s.interval)
	s.wg.Add(1)
	go s.run()
}

// Stop cancels the sweep loop and waits for it to exit
func (s *Sweeper) Stop() {
	s.cancel()
	s.wg.Wait()
}

func (s *Sweeper) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			n, err := s.poller.SweepAndBroadcast(s.ctx)
			if err != nil {
				if s.ctx.Err() == nil {
					s.logger.Error("Background sweep failed", "error", err)
				}
				continue
			}
			if n > 0 {
				s.logger.Debug("Background sweep evicted users", "count", n)
			}
		}
	}
}
