package probe

import (
	"context"
	"log/slog"
	"maps"
	"net/netip"
	"slices"
	"time"

	"github.com/pkg/errors"
)

// Backend performs a single liveness check against a target.
//
// A host that does not answer is reported as a Result with Up set to false.
// Errors are reserved for failures of the backend itself (socket errors,
// unsupported targets) and must not be used to signal "down".
type Backend interface {
	Check(ctx context.Context, target Target, timeout time.Duration) (Result, error)
}

// Target is an already resolved address plus an optional port.
// A zero Port means no port was given.
type Target struct {
	Addr netip.Addr
	Port uint16
}

func (t Target) HasPort() bool {
	return t.Port != 0
}

func (t Target) String() string {
	if t.HasPort() {
		return netip.AddrPortFrom(t.Addr, t.Port).String()
	}
	return t.Addr.String()
}

// Result is the outcome of one check.
type Result struct {
	Up     bool
	Detail Detail
}

// Kind names a backend implementation.
type Kind string

const (
	KindPing Kind = "ping"
	KindHTTP Kind = "http"
)

var (
	ErrUnknownKind    = errors.New("no supported probe type with that name")
	ErrInvalidAddress = errors.New("target address is not valid")
	ErrEchoFailed     = errors.New("could not exchange ICMP echo")
)

// backends maps each probe type name to its constructor.
var backends = map[Kind]func(Config, *slog.Logger) Backend{
	KindPing: func(config Config, logger *slog.Logger) Backend {
		return NewPing(newICMPEchoer(config), logger)
	},
	KindHTTP: func(config Config, logger *slog.Logger) Backend {
		return NewHTTP(config.HTTP, logger)
	},
}

// Kinds returns the names of all backends built into the binary.
func Kinds() []Kind {
	return slices.Sorted(maps.Keys(backends))
}

// New builds the backend registered under kind.
func New(kind Kind, config Config, logger *slog.Logger) (Backend, error) {
	if logger == nil {
		logger = slog.Default()
	}

	newBackend, exists := backends[kind]
	if !exists {
		return nil, errors.Wrapf(ErrUnknownKind, "probe type %q", string(kind))
	}
	return newBackend(config, logger), nil
}
