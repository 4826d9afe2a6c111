package scheduler

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/adaricorp/uup/probe"
)

type Options struct {
	Mode    RunMode
	Target  probe.Target
	Timeout time.Duration
	Delay   time.Duration

	// Exclusive requires every attempt to be up for an up verdict.
	Exclusive bool
	// JSON prints the raw structured detail instead of the human line.
	JSON bool
	// ErrorsAsDown folds a probe error as a down attempt and keeps going
	// instead of aborting the run.
	ErrorsAsDown bool
}

// Scheduler repeatedly checks one target and folds the results into a
// verdict. Cancelling the context passed to Run is the termination signal.
type Scheduler struct {
	backend probe.Backend
	opts    Options
	clock   clockwork.Clock
	out     io.Writer
	logger  *slog.Logger
}

type Option func(*Scheduler)

func WithClock(clock clockwork.Clock) Option {
	return func(s *Scheduler) {
		s.clock = clock
	}
}

func WithOutput(out io.Writer) Option {
	return func(s *Scheduler) {
		s.out = out
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) {
		s.logger = logger
	}
}

func New(backend probe.Backend, opts Options, options ...Option) *Scheduler {
	s := &Scheduler{
		backend: backend,
		opts:    opts,
		clock:   clockwork.NewRealClock(),
		out:     io.Discard,
		logger:  slog.Default(),
	}
	for _, o := range options {
		o(s)
	}
	return s
}

type outcome struct {
	result probe.Result
	err    error
}

// Run loops until the run mode is exhausted or ctx is cancelled and returns
// the aggregated verdict. A probe error ends the run and is returned as is,
// unless ErrorsAsDown is set.
func (s *Scheduler) Run(ctx context.Context) (bool, error) {
	agg := NewAggregate(s.opts.Exclusive)
	var completed uint64

	s.logger.Debug(
		"Starting checks",
		"target",
		s.opts.Target.String(),
		"mode",
		s.opts.Mode.String(),
		"timeout",
		s.opts.Timeout,
		"delay",
		s.opts.Delay,
		"exclusive",
		s.opts.Exclusive,
	)

	for {
		result, finished, err := s.check(ctx)
		if err != nil {
			if !s.opts.ErrorsAsDown {
				return false, err
			}
			s.logger.Warn(
				"Probe failed, counting attempt as down",
				"target",
				s.opts.Target.String(),
				"error",
				err.Error(),
			)
			agg.Fold(false)
		} else if !finished {
			break
		} else {
			agg.Fold(result.Up)
			s.emit(result)
		}

		if !s.delay(ctx) {
			break
		}

		if s.opts.Mode.done(completed) {
			break
		}
		completed++
	}

	s.logger.Debug(
		"Finished checks",
		"target",
		s.opts.Target.String(),
		"attempts",
		agg.Attempts(),
		"up",
		agg.Up(),
	)

	return agg.Up(), nil
}

// check races one probe against cancellation. finished is false when the
// context won; the probe is then abandoned rather than awaited.
func (s *Scheduler) check(ctx context.Context) (probe.Result, bool, error) {
	if ctx.Err() != nil {
		return probe.Result{}, false, nil
	}

	probeCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan outcome, 1)
	go func() {
		result, err := s.backend.Check(probeCtx, s.opts.Target, s.opts.Timeout)
		done <- outcome{result: result, err: err}
	}()

	select {
	case <-ctx.Done():
		return probe.Result{}, false, nil
	case o := <-done:
		if o.err != nil {
			if ctx.Err() != nil {
				return probe.Result{}, false, nil
			}
			return probe.Result{}, false, o.err
		}
		return o.result, true, nil
	}
}

// delay waits out the inter-attempt delay. It returns false if the context
// was cancelled first.
func (s *Scheduler) delay(ctx context.Context) bool {
	if ctx.Err() != nil {
		return false
	}

	timer := s.clock.NewTimer(s.opts.Delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.Chan():
		return true
	}
}

func (s *Scheduler) emit(result probe.Result) {
	line, err := result.Detail.Render(s.opts.JSON)
	if err != nil {
		s.logger.Error("Couldn't render check result", "error", err.Error())
		return
	}
	if _, err := fmt.Fprintln(s.out, line); err != nil {
		s.logger.Error("Couldn't write check result", "error", err.Error())
	}
}
