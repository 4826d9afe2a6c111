package scheduler

import (
	"fmt"

	"github.com/pkg/errors"
)

type modeKind int

const (
	modeOneShot modeKind = iota
	modeForever
	modeCount
)

const (
	NameOneShot = "oneshot"
	NameForever = "forever"
	NameCount   = "count"
)

var (
	ErrUnknownRunMode = errors.New("unrecognized run mode")
	ErrCountRequired  = errors.New("count run mode needs a count")
)

// RunMode decides when the loop stops on its own.
type RunMode struct {
	kind  modeKind
	count uint64
}

func OneShot() RunMode {
	return RunMode{kind: modeOneShot}
}

func Forever() RunMode {
	return RunMode{kind: modeForever}
}

// Count stops the loop once n iterations have completed before the current
// one, so Count(n) runs n+1 checks.
func Count(n uint64) RunMode {
	return RunMode{kind: modeCount, count: n}
}

// IsRunMode reports whether name is one of the run mode names.
func IsRunMode(name string) bool {
	switch name {
	case NameOneShot, NameForever, NameCount:
		return true
	}
	return false
}

// ParseRunMode maps a run mode name to a RunMode. count is only consulted
// for the count mode and must be non-nil there.
func ParseRunMode(name string, count *uint64) (RunMode, error) {
	switch name {
	case NameOneShot:
		return OneShot(), nil
	case NameForever:
		return Forever(), nil
	case NameCount:
		if count == nil {
			return RunMode{}, ErrCountRequired
		}
		return Count(*count), nil
	default:
		return RunMode{}, errors.Wrapf(ErrUnknownRunMode, "%q", name)
	}
}

// done is consulted after an iteration; completed counts the iterations
// finished before it.
func (m RunMode) done(completed uint64) bool {
	switch m.kind {
	case modeOneShot:
		return true
	case modeCount:
		return completed >= m.count
	default:
		return false
	}
}

func (m RunMode) String() string {
	switch m.kind {
	case modeOneShot:
		return NameOneShot
	case modeCount:
		return fmt.Sprintf("%s(%d)", NameCount, m.count)
	default:
		return NameForever
	}
}
