package scheduler_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adaricorp/uup/probe"
	"github.com/adaricorp/uup/scheduler"
)

var target = probe.Target{Addr: netip.MustParseAddr("10.0.0.1")}

var errBackend = errors.New("socket exploded")

type fakeBackend struct {
	mu    sync.Mutex
	calls int

	// ups[i] is the outcome of call i; once exhausted the last value repeats.
	ups []bool
	// onCall runs at the start of call n (1-based).
	onCall func(n int)
	// blockFrom makes call n and later wait for cancellation.
	blockFrom int
	// errFrom makes call n and later fail.
	errFrom int
}

func (b *fakeBackend) Check(ctx context.Context, _ probe.Target, _ time.Duration) (probe.Result, error) {
	b.mu.Lock()
	b.calls++
	n := b.calls
	b.mu.Unlock()

	if b.onCall != nil {
		b.onCall(n)
	}
	if b.blockFrom > 0 && n >= b.blockFrom {
		<-ctx.Done()
		return probe.Result{}, ctx.Err()
	}
	if b.errFrom > 0 && n >= b.errFrom {
		return probe.Result{}, errBackend
	}

	up := true
	if len(b.ups) > 0 {
		up = b.ups[min(n, len(b.ups))-1]
	}
	return probe.Result{
		Up: up,
		Detail: probe.NewDetail(
			probe.Fields{"attempt": n, "up": up},
			func(f probe.Fields) string {
				return fmt.Sprintf("attempt %d up=%t", f.Uint("attempt"), f.Bool("up"))
			},
		),
	}, nil
}

func (b *fakeBackend) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls
}

func newScheduler(backend probe.Backend, opts scheduler.Options, out *bytes.Buffer) *scheduler.Scheduler {
	opts.Target = target
	opts.Timeout = time.Second
	options := []scheduler.Option{
		scheduler.WithLogger(slog.New(slog.DiscardHandler)),
	}
	if out != nil {
		options = append(options, scheduler.WithOutput(out))
	}
	return scheduler.New(backend, opts, options...)
}

func TestScheduler_Run_OneShot(t *testing.T) {
	backend := &fakeBackend{ups: []bool{true}}
	out := &bytes.Buffer{}

	up, err := newScheduler(backend, scheduler.Options{Mode: scheduler.OneShot()}, out).Run(context.Background())
	require.NoError(t, err)

	assert.True(t, up)
	assert.Equal(t, 1, backend.count())
	assert.Equal(t, "attempt 1 up=true\n", out.String())
}

// Count(n) runs one more iteration than its argument.
func TestScheduler_Run_Count(t *testing.T) {
	tests := []struct {
		count     uint64
		wantCalls int
	}{
		{0, 1},
		{1, 2},
		{3, 4},
		{10, 11},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("count %d", tt.count), func(t *testing.T) {
			backend := &fakeBackend{}
			out := &bytes.Buffer{}

			up, err := newScheduler(backend, scheduler.Options{Mode: scheduler.Count(tt.count)}, out).
				Run(context.Background())
			require.NoError(t, err)

			assert.True(t, up)
			assert.Equal(t, tt.wantCalls, backend.count())
			assert.Len(t, strings.Split(strings.TrimSpace(out.String()), "\n"), tt.wantCalls)
		})
	}
}

func TestScheduler_Run_Aggregation(t *testing.T) {
	sequences := [][]bool{
		{true},
		{false},
		{true, true, true},
		{false, false},
		{true, false},
		{false, true},
		{false, false, true, false},
		{true, true, false, true},
	}
	for _, ups := range sequences {
		wantAll, wantAny := true, false
		for _, up := range ups {
			wantAll = wantAll && up
			wantAny = wantAny || up
		}

		for _, exclusive := range []bool{true, false} {
			t.Run(fmt.Sprintf("%v exclusive=%t", ups, exclusive), func(t *testing.T) {
				backend := &fakeBackend{ups: ups}
				opts := scheduler.Options{
					Mode:      scheduler.Count(uint64(len(ups) - 1)),
					Exclusive: exclusive,
				}

				up, err := newScheduler(backend, opts, nil).Run(context.Background())
				require.NoError(t, err)

				assert.Equal(t, len(ups), backend.count())
				if exclusive {
					assert.Equal(t, wantAll, up)
				} else {
					assert.Equal(t, wantAny, up)
				}
			})
		}
	}
}

func TestScheduler_Run_CancelledBeforeStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	for _, exclusive := range []bool{true, false} {
		backend := &fakeBackend{}
		out := &bytes.Buffer{}
		opts := scheduler.Options{Mode: scheduler.Forever(), Exclusive: exclusive}

		up, err := newScheduler(backend, opts, out).Run(ctx)
		require.NoError(t, err)

		assert.Equal(t, exclusive, up)
		assert.Equal(t, 0, backend.count())
		assert.Empty(t, out.String())
	}
}

func TestScheduler_Run_SignalDuringCheck(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	backend := &fakeBackend{
		ups:       []bool{false, false},
		blockFrom: 3,
		onCall: func(n int) {
			if n == 3 {
				cancel()
			}
		},
	}
	out := &bytes.Buffer{}
	opts := scheduler.Options{Mode: scheduler.Forever(), Exclusive: false}

	up, err := newScheduler(backend, opts, out).Run(ctx)
	require.NoError(t, err)

	assert.False(t, up)
	assert.Equal(t, 3, backend.count())
	assert.Equal(t, "attempt 1 up=false\nattempt 2 up=false\n", out.String())
}

// The in-flight probe is abandoned, so its cancellation error is not
// reported as a probe failure.
func TestScheduler_Run_SignalDuringCheckIsNotAnError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	backend := &fakeBackend{
		blockFrom: 1,
		onCall:    func(int) { cancel() },
	}

	up, err := newScheduler(backend, scheduler.Options{Mode: scheduler.OneShot(), Exclusive: true}, nil).Run(ctx)
	assert.NoError(t, err)
	assert.True(t, up)
}

func TestScheduler_Run_SignalDuringDelay(t *testing.T) {
	tests := []struct {
		name      string
		exclusive bool
		ups       []bool
		advances  int
		wantUp    bool
		wantCalls int
	}{
		{"exclusive after first", true, []bool{true}, 0, true, 1},
		{"inclusive after first down", false, []bool{false}, 0, false, 1},
		{"exclusive after third", true, []bool{true, true, false}, 2, false, 3},
		{"inclusive after third", false, []bool{false, false, true}, 2, true, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			clock := clockwork.NewFakeClock()
			backend := &fakeBackend{ups: tt.ups}
			opts := scheduler.Options{
				Mode:      scheduler.Forever(),
				Delay:     time.Hour,
				Exclusive: tt.exclusive,
				Target:    target,
				Timeout:   time.Second,
			}
			sched := scheduler.New(
				backend,
				opts,
				scheduler.WithClock(clock),
				scheduler.WithLogger(slog.New(slog.DiscardHandler)),
			)

			type verdict struct {
				up  bool
				err error
			}
			done := make(chan verdict, 1)
			go func() {
				up, err := sched.Run(ctx)
				done <- verdict{up, err}
			}()

			waitCtx, waitCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer waitCancel()

			for range tt.advances {
				require.NoError(t, clock.BlockUntilContext(waitCtx, 1))
				clock.Advance(time.Hour)
			}
			require.NoError(t, clock.BlockUntilContext(waitCtx, 1))
			cancel()

			select {
			case v := <-done:
				require.NoError(t, v.err)
				assert.Equal(t, tt.wantUp, v.up)
			case <-time.After(5 * time.Second):
				t.Fatal("scheduler did not stop after cancellation")
			}
			assert.Equal(t, tt.wantCalls, backend.count())
		})
	}
}

func TestScheduler_Run_DelayBetweenChecks(t *testing.T) {
	clock := clockwork.NewFakeClock()
	backend := &fakeBackend{}
	opts := scheduler.Options{
		Mode:    scheduler.Count(1),
		Delay:   time.Minute,
		Target:  target,
		Timeout: time.Second,
	}
	sched := scheduler.New(backend, opts, scheduler.WithClock(clock))

	done := make(chan bool, 1)
	go func() {
		up, _ := sched.Run(context.Background())
		done <- up
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	assert.Equal(t, 1, backend.count())

	clock.Advance(59 * time.Second)
	assert.Equal(t, 1, backend.count())

	clock.Advance(time.Second)
	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	assert.Equal(t, 2, backend.count())

	clock.Advance(time.Minute)
	select {
	case up := <-done:
		assert.True(t, up)
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not finish")
	}
	assert.Equal(t, 2, backend.count())
}

func TestScheduler_Run_ProbeErrorIsFatal(t *testing.T) {
	backend := &fakeBackend{errFrom: 3}
	out := &bytes.Buffer{}

	up, err := newScheduler(backend, scheduler.Options{Mode: scheduler.Forever(), Exclusive: true}, out).
		Run(context.Background())

	assert.ErrorIs(t, err, errBackend)
	assert.False(t, up)
	assert.Equal(t, 3, backend.count())
	assert.Equal(t, "attempt 1 up=true\nattempt 2 up=true\n", out.String())
}

func TestScheduler_Run_ErrorsAsDown(t *testing.T) {
	tests := []struct {
		name      string
		exclusive bool
		wantUp    bool
	}{
		{"exclusive", true, false},
		{"inclusive", false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := &fakeBackend{errFrom: 2}
			out := &bytes.Buffer{}
			opts := scheduler.Options{
				Mode:         scheduler.Count(2),
				Exclusive:    tt.exclusive,
				ErrorsAsDown: true,
			}

			up, err := newScheduler(backend, opts, out).Run(context.Background())
			require.NoError(t, err)

			assert.Equal(t, tt.wantUp, up)
			assert.Equal(t, 3, backend.count())
			assert.Equal(t, "attempt 1 up=true\n", out.String())
		})
	}
}

func TestScheduler_Run_JSONOutput(t *testing.T) {
	backend := &fakeBackend{ups: []bool{true, false}}
	out := &bytes.Buffer{}
	opts := scheduler.Options{Mode: scheduler.Count(1), JSON: true}

	up, err := newScheduler(backend, opts, out).Run(context.Background())
	require.NoError(t, err)

	assert.True(t, up)
	assert.Equal(t, "{\"attempt\":1,\"up\":true}\n{\"attempt\":2,\"up\":false}\n", out.String())
}
