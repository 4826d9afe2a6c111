package probe

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strconv"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// Echoer sends one echo request and waits for the matching reply.
// ok is false when no reply arrived within timeout.
type Echoer interface {
	Echo(ctx context.Context, req EchoRequest, timeout time.Duration) (rtt time.Duration, ok bool, err error)
}

type EchoRequest struct {
	Target   Target
	ID       uint16
	Sequence uint16
}

// Ping checks liveness with ICMP echo. It is safe for concurrent use.
type Ping struct {
	echoer Echoer
	logger *slog.Logger
	id     uint16

	mu  sync.Mutex
	seq uint16
}

func NewPing(echoer Echoer, logger *slog.Logger) *Ping {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ping{
		echoer: echoer,
		logger: logger,
		id:     uint16(rand.UintN(1 << 16)),
	}
}

// nextSequence hands out the current counter value and advances it,
// wrapping at 65535.
func (p *Ping) nextSequence() uint16 {
	p.mu.Lock()
	defer p.mu.Unlock()
	seq := p.seq
	p.seq++
	return seq
}

func (p *Ping) Check(ctx context.Context, target Target, timeout time.Duration) (Result, error) {
	if !target.Addr.IsValid() {
		return Result{}, ErrInvalidAddress
	}

	if target.HasPort() {
		p.logger.Warn(
			"Ignoring port assignment; not supported for ping",
			"target",
			target.Addr.String(),
			"port",
			target.Port,
		)
	}

	seq := p.nextSequence()

	rtt, ok, err := p.echoer.Echo(
		ctx,
		EchoRequest{
			Target:   Target{Addr: target.Addr},
			ID:       p.id,
			Sequence: seq,
		},
		timeout,
	)
	if err != nil {
		return Result{}, errors.Wrapf(err, "Ping %s (sequence_number=%d)", target.Addr, seq)
	}

	duration := -1.0
	if ok {
		duration = rtt.Seconds()
	}

	p.logger.Debug(
		"Ping finished",
		"target",
		target.Addr.String(),
		"sequence_number",
		seq,
		"up",
		ok,
		"rtt",
		rtt,
	)

	return Result{
		Up:     ok,
		Detail: pingDetail(ok, duration, seq, target.Addr.String()),
	}, nil
}

func pingDetail(up bool, duration float64, seq uint16, addr string) Detail {
	return NewDetail(
		Fields{
			"up":              up,
			"duration":        duration,
			"unit":            "s",
			"sequence_number": seq,
			"address":         addr,
		},
		renderPing,
	)
}

func renderPing(f Fields) string {
	if f.Bool("up") {
		return fmt.Sprintf(
			"Ping %s responded in %s %s (sequence_number=%d)",
			f.String("address"),
			strconv.FormatFloat(f.Float("duration"), 'f', -1, 64),
			f.String("unit"),
			f.Uint("sequence_number"),
		)
	}
	return fmt.Sprintf(
		"Ping %s timed out (sequence_number=%d)",
		f.String("address"),
		f.Uint("sequence_number"),
	)
}
