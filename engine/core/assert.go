package core

import (
	"github.com/cockroachdb/errors"
)

// Asserter turns contract violations into panics when debug is on, and into
// logged errors otherwise.
type Asserter struct {
	Debug  bool
	Logger *Logger
}

// Check returns nil when cond holds. Otherwise it panics in debug mode or
// logs and returns an error wrapping sentinel.
func (a Asserter) Check(cond bool, sentinel error, format string, args ...interface{}) error {
	if cond {
		return nil
	}
	err := errors.Wrapf(sentinel, format, args...)
	if a.Debug {
		panic(errors.NewAssertionErrorWithWrappedErrf(err, "assertion failed"))
	}
	if a.Logger != nil {
		a.Logger.LogError("%s", err.Error())
	}
	return err
}

// Fail is Check(false, ...).
func (a Asserter) Fail(sentinel error, format string, args ...interface{}) error {
	return a.Check(false, sentinel, format, args...)
}
