package crawler

import (
	"errors"
	"fmt"
)

// Kind is the closed set of failure categories a node can produce.
type Kind int

// Failure kinds. KindNone means success.
const (
	KindNone Kind = iota
	KindSkip
	KindMalformed
	KindUnretrievable
	KindError
	KindFatal
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindSkip:
		return "skip"
	case KindMalformed:
		return "malformed"
	case KindUnretrievable:
		return "unretrievable"
	case KindError:
		return "error"
	case KindFatal:
		return "fatal"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// SkipError marks a page that is not a real product.
type SkipError struct {
	Reason string
}

func (e *SkipError) Error() string {
	return "skipped: " + e.Reason
}

// Skip signals that the current leaf should be ignored.
func Skip(reason string) error {
	return &SkipError{Reason: reason}
}

// MalformedError reports content that failed structural validation.
type MalformedError struct {
	Reason string
}

func (e *MalformedError) Error() string {
	return "malformed content: " + e.Reason
}

// Malformed builds a MalformedError from a format string.
func Malformed(format string, args ...any) error {
	return &MalformedError{Reason: fmt.Sprintf(format, args...)}
}

// UnretrievableError is returned once a fetch has exhausted its retries.
type UnretrievableError struct {
	URL      string
	Attempts int
	Err      error
}

func (e *UnretrievableError) Error() string {
	return fmt.Sprintf("unretrievable %s after %d attempts: %v", e.URL, e.Attempts, e.Err)
}

func (e *UnretrievableError) Unwrap() error {
	return e.Err
}

// FatalError aborts the whole traversal of a scraper.
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string {
	return "fatal: " + e.Err.Error()
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

// Fatal wraps a contract violation. Supports %w.
func Fatal(format string, args ...any) error {
	return &FatalError{Err: fmt.Errorf(format, args...)}
}

// MaxDepthExceededError is reported for nodes nested deeper than allowed.
type MaxDepthExceededError struct {
	URL      string
	Depth    int
	MaxDepth int
}

func (e *MaxDepthExceededError) Error() string {
	return fmt.Sprintf("max depth %d exceeded at depth %d: %s", e.MaxDepth, e.Depth, e.URL)
}

// Classify maps err onto its Kind.
func Classify(err error) Kind {
	if err == nil {
		return KindNone
	}
	var (
		fatal         *FatalError
		skip          *SkipError
		unretrievable *UnretrievableError
		malformed     *MalformedError
	)
	switch {
	case errors.As(err, &fatal):
		return KindFatal
	case errors.As(err, &skip):
		return KindSkip
	case errors.As(err, &unretrievable):
		return KindUnretrievable
	case errors.As(err, &malformed):
		return KindMalformed
	default:
		return KindError
	}
}
