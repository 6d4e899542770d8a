// Package errors wraps github.com/pkg/errors with stack traces and forwards
// the *AndReport variants to every registered Reporter.
package errors

import (
	stderrors "errors"
	"fmt"
	"strings"

	pkgerrors "github.com/pkg/errors"
)

func New(message string) error {
	return pkgerrors.New(message)
}

func Errorf(format string, args ...interface{}) error {
	return pkgerrors.Errorf(format, args...)
}

func Wrap(err error, message string) error {
	return pkgerrors.Wrap(err, message)
}

func Wrapf(err error, format string, args ...interface{}) error {
	return pkgerrors.Wrapf(err, format, args...)
}

func WithStack(err error) error {
	return pkgerrors.WithStack(err)
}

func Is(err, target error) bool {
	return stderrors.Is(err, target)
}

func As(err error, target interface{}) bool {
	return stderrors.As(err, target)
}

func ErrorfAndReport(format string, args ...interface{}) error {
	err := pkgerrors.Errorf(format, args...)
	report(err)
	return err
}

// WrapAndReport returns nil when err is nil, nothing is reported in that case.
func WrapAndReport(err error, message string) error {
	if err == nil {
		return nil
	}
	err = pkgerrors.Wrap(err, message)
	report(err)
	return err
}

func WrapfAndReport(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	err = pkgerrors.Wrapf(err, format, args...)
	report(err)
	return err
}

func WithStackAndReport(err error) error {
	if err == nil {
		return nil
	}
	err = pkgerrors.WithStack(err)
	report(err)
	return err
}

type stackTracer interface {
	StackTrace() pkgerrors.StackTrace
}

const selfPackage = "moff.io/moff-wallet/pkg/errors."

type stack []string

// callers captures the current goroutine stack, skipping callers itself.
func callers() stack {
	st := pkgerrors.New("").(stackTracer).StackTrace()
	frames := make(stack, 0, len(st))
	for _, f := range st[1:] {
		frame := fmt.Sprintf("%+s:%d", f, f)
		frames = append(frames, strings.Replace(frame, "\n\t", " ", 1))
	}
	return frames
}

func (s stack) fullStack() []string {
	return s
}

// origin is the first frame outside this package, the call site that
// produced the reported error.
func (s stack) origin() string {
	for _, f := range s {
		if !strings.HasPrefix(f, selfPackage) {
			return f
		}
	}
	if len(s) == 0 {
		return ""
	}
	return s[len(s)-1]
}
