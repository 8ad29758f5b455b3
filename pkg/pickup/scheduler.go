package pickup

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/widedata/platform/pkg/common/logger"
)

const defaultInterval = 10 * time.Second

// CycleFunc is invoked once per tick. It should hand work off quickly; the
// scheduler does not wait for anything the function starts.
type CycleFunc func(ctx context.Context)

// Scheduler fires a cycle immediately on Start and then once per interval
// until Stop is called or the context ends.
type Scheduler struct {
	interval time.Duration
	cycle    CycleFunc

	mu       sync.Mutex
	running  bool
	stopChan chan struct{}
	wg       sync.WaitGroup
}

func NewScheduler(interval time.Duration, cycle CycleFunc) *Scheduler {
	if interval <= 0 {
		interval = defaultInterval
	}
	return &Scheduler{
		interval: interval,
		cycle:    cycle,
	}
}

func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return ErrSchedulerRunning
	}
	s.running = true
	s.stopChan = make(chan struct{})

	s.wg.Add(1)
	go s.run(ctx, s.stopChan)

	logger.Log.WithField("interval", s.interval.String()).Info("Pickup scheduler started")
	return nil
}

// Stop halts the timer and waits for the loop to exit. Cycles already handed
// off keep running. Stop on a stopped scheduler is a no-op.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopChan)
	s.mu.Unlock()

	s.wg.Wait()
	logger.Log.Info("Pickup scheduler stopped")
}

func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// RunOnce invokes the cycle function once on the calling goroutine.
func (s *Scheduler) RunOnce(ctx context.Context) {
	s.safeCycle(ctx)
}

func (s *Scheduler) run(ctx context.Context, stop <-chan struct{}) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.safeCycle(ctx)

	for {
		select {
		case <-ticker.C:
			s.safeCycle(ctx)
		case <-stop:
			return
		case <-ctx.Done():
			s.mu.Lock()
			s.running = false
			s.mu.Unlock()
			return
		}
	}
}

func (s *Scheduler) safeCycle(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			logger.Log.WithField("panic", fmt.Sprint(r)).Error("Pickup cycle panicked")
		}
	}()
	s.cycle(ctx)
}
