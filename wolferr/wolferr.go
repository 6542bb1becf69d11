// Package wolferr defines the terminal outcomes the boot core can produce
// and a small error type that wraps them with context, in the style of the
// teacher's util.NewtError: a message, an optional parent, and (debug builds
// only) a captured stack trace.
package wolferr

import (
	"errors"
	"fmt"
	"runtime"
)

// Outcome is one of the terminal outcomes a conforming implementation can
// produce, per the taxonomy of terminal outcomes.
type Outcome int

const (
	_ Outcome = iota
	HdrInvalid
	HashMismatch
	SignatureInvalid
	UnknownKey
	NotPermitted
	FlashIo
	StateInvalid
	VersionRollback
)

func (o Outcome) String() string {
	switch o {
	case HdrInvalid:
		return "HdrInvalid"
	case HashMismatch:
		return "HashMismatch"
	case SignatureInvalid:
		return "SignatureInvalid"
	case UnknownKey:
		return "UnknownKey"
	case NotPermitted:
		return "NotPermitted"
	case FlashIo:
		return "FlashIo"
	case StateInvalid:
		return "StateInvalid"
	case VersionRollback:
		return "VersionRollback"
	default:
		return "Unknown"
	}
}

// CaptureStacks controls whether Error values capture a goroutine stack
// trace at construction time. It is off by default since the core itself
// never allocates; nothing in this repository turns it on.
var CaptureStacks = false

// Error wraps a terminal Outcome with descriptive text, an optional parent
// error and, when CaptureStacks is set, a captured stack trace.
type Error struct {
	Outcome    Outcome
	Text       string
	Parent     error
	StackTrace []byte
}

func (e *Error) Error() string {
	if e.Parent != nil {
		return fmt.Sprintf("%s: %s: %s", e.Outcome, e.Text, e.Parent)
	}
	return fmt.Sprintf("%s: %s", e.Outcome, e.Text)
}

func (e *Error) Unwrap() error {
	return e.Parent
}

// Is allows errors.Is(err, wolferr.HashMismatch-like sentinels) style checks
// by comparing Outcome rather than identity, since every New call produces a
// distinct *Error value.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return other.Outcome == e.Outcome && other.Parent == nil && other.Text == ""
	}
	return false
}

// Sentinel returns a bare *Error carrying only an Outcome, suitable as an
// errors.Is comparison target, e.g. errors.Is(err, wolferr.Sentinel(wolferr.FlashIo)).
func Sentinel(o Outcome) *Error {
	return &Error{Outcome: o}
}

// New builds an Error for the given outcome with a formatted message.
func New(o Outcome, format string, args ...interface{}) *Error {
	e := &Error{
		Outcome: o,
		Text:    fmt.Sprintf(format, args...),
	}
	if CaptureStacks {
		buf := make([]byte, 65536)
		n := runtime.Stack(buf, false)
		e.StackTrace = buf[:n]
	}
	return e
}

// Wrap builds an Error for the given outcome, chaining a parent error.
func Wrap(o Outcome, parent error, format string, args ...interface{}) *Error {
	e := New(o, format, args...)
	e.Parent = parent
	return e
}

// Terminal reports whether err represents one of the eight terminal
// outcomes (as opposed to a plain Go error from an unrelated path).
func Terminal(err error) (Outcome, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Outcome, true
	}
	return 0, false
}
