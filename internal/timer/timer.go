// Package timer implements the TimerScheduler (C11): per-question
// deadline ticks, pause/resume/reset/skip, driven off absolute deadlines
// on the injected clock.Clock, per spec.md §4.2. Generalizes the
// ticker-driven refresh loop of internal/score/manager.go's Manager
// (select on ctx.Done()/ticker.C, recompute on wakeup) to per-question
// deadline scheduling instead of periodic cache refresh, and follows
// DESIGN NOTES's "never sleep for exactly one tick; schedule on absolute
// deadlines ... and on wakeup compute how many ticks were missed."
package timer

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/quizsync/engine/internal/clock"
)

// Tick is emitted once per second while a question is running.
type Tick struct {
	QuestionID       string
	RemainingSeconds int
	ServerTimeMillis int64
}

// Deadline is emitted exactly once per (sessionID, questionID) pair when
// the timer expires.
type Deadline struct {
	QuestionID string
}

// Scheduler drives one session's question timer. It is owned by exactly
// one SessionCoordinator; Start/Pause/Resume/Reset/Stop are called from
// the coordinator's single-writer actor loop while the background tick
// goroutine reads the same state, so a mutex guards it internally. Ticks
// and deadlines are delivered back to the coordinator over channels
// rather than by direct mutation, keeping the actor the sole place that
// applies them to session state.
type Scheduler struct {
	clock  clock.Clock
	log    *slog.Logger
	ticks  chan Tick
	deadln chan Deadline

	mu             sync.Mutex
	questionID     string
	timerEndTime   time.Time
	pausedAt       time.Time
	paused         bool
	deadlineFired  bool
	cancel         context.CancelFunc
	running        bool
}

// New constructs a Scheduler. The returned Tick/Deadline channels are
// buffered (size 1) so a slow consumer coalesces to the latest tick
// rather than blocking the scheduler's internal goroutine, per the
// backpressure policy of §5 ("coalesces leaderboard and tick events").
func New(c clock.Clock, log *slog.Logger) *Scheduler {
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{
		clock:  c,
		log:    log,
		ticks:  make(chan Tick, 1),
		deadln: make(chan Deadline, 1),
	}
}

// Ticks returns the channel of timer_tick broadcasts.
func (s *Scheduler) Ticks() <-chan Tick { return s.ticks }

// Deadlines returns the channel of deadline events.
func (s *Scheduler) Deadlines() <-chan Deadline { return s.deadln }

// Start begins driving the timer for questionID with the given time
// limit, starting at startTime. Any previously running timer is
// cancelled first (Skip semantics), per §4.2: "Skips cancel pending
// ticks and deadline."
func (s *Scheduler) Start(ctx context.Context, questionID string, startTime time.Time, timeLimit time.Duration) {
	s.Stop()

	s.mu.Lock()
	s.questionID = questionID
	s.timerEndTime = startTime.Add(timeLimit)
	s.paused = false
	s.deadlineFired = false
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running = true
	s.mu.Unlock()

	go s.run(runCtx, questionID)
}

// Stop cancels any in-flight ticking goroutine without emitting a
// deadline, used both by Skip and by Start's implicit replace.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.running = false
	s.mu.Unlock()
}

// Pause freezes the remaining time, per §4.2: "Pause freezes remainingMs".
func (s *Scheduler) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.paused {
		return
	}
	s.paused = true
	s.pausedAt = s.clock.Now()
}

// Resume extends timerEndTime by the elapsed paused interval, per §4.2:
// "resume extends timerEndTime by the elapsed paused interval."
func (s *Scheduler) Resume() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.paused {
		return
	}
	elapsed := s.clock.Now().Sub(s.pausedAt)
	s.timerEndTime = s.timerEndTime.Add(elapsed)
	s.paused = false
}

// Reset replaces timerEndTime with now + newLimit, per §4.2.
func (s *Scheduler) Reset(newLimit time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.timerEndTime = s.clock.Now().Add(newLimit)
	s.deadlineFired = false
}

// RemainingSeconds returns max(0, ceil((timerEndTime-now)/1000)), per
// §4.2's exact formula.
func (s *Scheduler) RemainingSeconds() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remainingSecondsLocked()
}

func (s *Scheduler) remainingSecondsLocked() int {
	now := s.clock.Now()
	if s.paused {
		now = s.pausedAt
	}
	remainingMs := s.timerEndTime.Sub(now).Milliseconds()
	if remainingMs <= 0 {
		return 0
	}
	return int(math.Ceil(float64(remainingMs) / 1000.0))
}

// run drives the tick/deadline loop for one question. It wakes on a
// one-second interval timer but always recomputes remaining time off the
// absolute timerEndTime, so delayed wakeups still emit a single
// catch-up tick and the deadline is still detected, per DESIGN NOTES.
func (s *Scheduler) run(ctx context.Context, questionID string) {
	interval := s.clock.NewTimer(time.Second)
	defer interval.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-interval.C():
			s.mu.Lock()
			if s.paused {
				s.mu.Unlock()
				interval.Reset(time.Second)
				continue
			}
			remaining := s.remainingSecondsLocked()
			fired := s.deadlineFired
			if remaining <= 0 && !fired {
				s.deadlineFired = true
			}
			now := s.clock.NowMillis()
			s.mu.Unlock()

			s.emitTick(Tick{QuestionID: questionID, RemainingSeconds: remaining, ServerTimeMillis: now})

			if remaining <= 0 && !fired {
				s.emitDeadline(Deadline{QuestionID: questionID})
				return
			}
			interval.Reset(time.Second)
		}
	}
}

func (s *Scheduler) emitTick(t Tick) {
	select {
	case s.ticks <- t:
	default:
		select {
		case <-s.ticks:
		default:
		}
		select {
		case s.ticks <- t:
		default:
		}
	}
}

func (s *Scheduler) emitDeadline(d Deadline) {
	select {
	case s.deadln <- d:
	default:
	}
}
