// Package artifact fetches an asynchronously produced final artifact after
// a process reaches a terminal status. The artifact is known to exist; only
// write-propagation latency delays it, so retries use a constant interval
// rather than exponential backoff.
package artifact

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

const (
	// MaxAttempts bounds how many fetches one trigger may issue.
	MaxAttempts = 23
	// PollInterval separates consecutive attempts.
	PollInterval = 3 * time.Second
)

// ErrExhausted is reported after every attempt has failed.
var ErrExhausted = errors.New("artifact: retries exhausted")

// ErrPermanent, when wrapped by a check error, stops the run immediately
// instead of burning the remaining retry budget. For failures the source
// reports as definitive rather than propagation lag.
var ErrPermanent = errors.New("artifact: permanent failure")

// CheckFunc performs one artifact fetch. ready=false with a nil error means
// the artifact has not propagated yet; both that and a non-nil error count
// as a failed attempt.
type CheckFunc func(ctx context.Context) (result string, ready bool, err error)

// ScheduleFunc runs fn after d and returns a cancel func. fn must not be
// invoked synchronously from inside the schedule call itself.
type ScheduleFunc func(d time.Duration, fn func()) (cancel func())

// Poller drives the bounded retry loop for one artifact source. Start may
// be called again after a run ends; each Start supersedes the previous run.
type Poller struct {
	mu          sync.Mutex
	gen         uint64
	check       CheckFunc
	schedule    ScheduleFunc
	onReady     func(result string)
	onWaiting   func(attempt int)
	onFailed    func(err error)
	attempts    int
	cancelTimer func()
	cancelRun   context.CancelFunc
}

func NewPoller(check CheckFunc) *Poller {
	return &Poller{
		check: check,
		schedule: func(d time.Duration, fn func()) func() {
			t := time.AfterFunc(d, fn)
			return func() { t.Stop() }
		},
	}
}

// SetSchedule replaces the timer source. Test use.
func (p *Poller) SetSchedule(schedule ScheduleFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.schedule = schedule
}

// OnReady is invoked once with the fetched artifact when a fetch succeeds.
func (p *Poller) OnReady(fn func(result string)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onReady = fn
}

// OnWaiting is invoked after each failed attempt while retries remain,
// carrying the attempt number just completed. The first call is the cue to
// show a "still waiting" indicator.
func (p *Poller) OnWaiting(fn func(attempt int)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onWaiting = fn
}

// OnFailed is invoked once when the retry budget is exhausted or the run's
// context is cancelled mid-fetch.
func (p *Poller) OnFailed(fn func(err error)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onFailed = fn
}

// Start begins a polling run with an immediate first fetch. Any previous
// run, including its pending timer, is cancelled first.
func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	p.teardownLocked()
	p.gen++
	gen := p.gen
	p.attempts = 0
	runCtx, cancel := context.WithCancel(ctx)
	p.cancelRun = cancel
	p.mu.Unlock()

	go p.attempt(runCtx, gen)
}

// Stop cancels any in-flight fetch and pending timer. No callback fires
// after Stop returns.
func (p *Poller) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.teardownLocked()
	p.gen++
}

func (p *Poller) teardownLocked() {
	if p.cancelTimer != nil {
		p.cancelTimer()
		p.cancelTimer = nil
	}
	if p.cancelRun != nil {
		p.cancelRun()
		p.cancelRun = nil
	}
}

func (p *Poller) attempt(ctx context.Context, gen uint64) {
	p.mu.Lock()
	if gen != p.gen {
		p.mu.Unlock()
		return
	}
	p.attempts++
	attempt := p.attempts
	check := p.check
	p.mu.Unlock()

	result, ready, err := check(ctx)

	p.mu.Lock()
	if gen != p.gen {
		p.mu.Unlock()
		return
	}
	if ctx.Err() != nil {
		onFailed := p.onFailed
		p.mu.Unlock()
		if onFailed != nil {
			onFailed(ctx.Err())
		}
		return
	}
	if err == nil && ready {
		p.cancelTimer = nil
		onReady := p.onReady
		p.mu.Unlock()
		if onReady != nil {
			onReady(result)
		}
		return
	}
	if errors.Is(err, ErrPermanent) {
		onFailed := p.onFailed
		p.mu.Unlock()
		if onFailed != nil {
			onFailed(err)
		}
		return
	}

	if attempt >= MaxAttempts {
		onFailed := p.onFailed
		p.mu.Unlock()
		if onFailed != nil {
			if err == nil {
				err = fmt.Errorf("%w after %d attempts", ErrExhausted, attempt)
			} else {
				err = fmt.Errorf("%w after %d attempts: %v", ErrExhausted, attempt, err)
			}
			onFailed(err)
		}
		return
	}

	onWaiting := p.onWaiting
	p.cancelTimer = p.schedule(PollInterval, func() {
		p.mu.Lock()
		if gen != p.gen {
			p.mu.Unlock()
			return
		}
		p.cancelTimer = nil
		p.mu.Unlock()
		p.attempt(ctx, gen)
	})
	p.mu.Unlock()
	if onWaiting != nil {
		onWaiting(attempt)
	}
}
