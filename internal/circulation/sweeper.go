package circulation

import (
	"context"
	"log"
	"sync"
	"time"
)

// DefaultSweepInterval matches the original deployment's 15 minute timer.
const DefaultSweepInterval = 15 * time.Minute

// Sweeper periodically expires stale pending reservations and sends expiry
// reminders. It is an explicitly owned background task: the process
// lifecycle owner calls Start once and Stop on shutdown, there is no
// ambient global timer. Because both scans query absolute timestamps, a
// sweep that runs late (or not at all during downtime) is caught up by the
// next one.
type Sweeper struct {
	engine   *Engine
	interval time.Duration

	running sync.Mutex // held for the duration of one sweep
	stop    chan struct{}
	done    chan struct{}
	once    sync.Once
}

// NewSweeper builds a Sweeper around the engine. A non-positive interval
// falls back to the default.
func NewSweeper(engine *Engine, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	return &Sweeper{
		engine:   engine,
		interval: interval,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the background loop: one sweep immediately, then one per
// interval until Stop is called.
func (s *Sweeper) Start() {
	go func() {
		defer close(s.done)
		s.RunOnce(context.Background())
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-s.stop:
				return
			case <-ticker.C:
				s.RunOnce(context.Background())
			}
		}
	}()
}

// Stop ends the loop and waits for an in-flight sweep to finish.
func (s *Sweeper) Stop() {
	s.once.Do(func() { close(s.stop) })
	<-s.done
}

// RunOnce executes a single sweep. A sweep that is still running when the
// next one is due makes the new tick a no-op: ticks must never overlap,
// otherwise the same reservation could be expired or reminded twice.
func (s *Sweeper) RunOnce(ctx context.Context) {
	if !s.running.TryLock() {
		log.Printf("sweeper: previous sweep still running, skipping tick")
		return
	}
	defer s.running.Unlock()

	expired, err := s.engine.ExpireStaleReservations(ctx)
	if err != nil {
		log.Printf("sweeper: expire scan: %v", err)
	}
	reminded, err := s.engine.SendExpiryReminders(ctx)
	if err != nil {
		log.Printf("sweeper: reminder scan: %v", err)
	}
	if expired > 0 || reminded > 0 {
		log.Printf("sweeper: expired %d reservations, sent %d reminders", expired, reminded)
	}
}
