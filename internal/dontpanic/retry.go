// Package dontpanic provides function wrappers that ensure a recovered
// panic is reported to Sentry and logged rather than silently crashing the
// process, the way internal/dontpanic does in the teacher repo. Unlike the
// teacher's GoForever, nothing here retries automatically: a panicking
// HealthProbe or Elector is a task exit like any other, and the Supervisor
// (not this package) decides what happens next.
package dontpanic

import (
	"fmt"

	sentry "github.com/getsentry/sentry-go"
	"github.com/sirupsen/logrus"
)

// Logger is the sink panics are logged to. Callers may replace it; it
// defaults to the standard logrus logger.
var Logger logrus.FieldLogger = logrus.StandardLogger()

// Try runs fn, recovering and reporting any panic. It returns the panic
// value as an error, or nil if fn returned normally.
func Try(fn func()) (panicErr error) {
	defer func() {
		recovered := recover()
		if recovered == nil {
			return
		}

		if err, ok := recovered.(error); ok {
			panicErr = err
		} else {
			panicErr = fmt.Errorf("panic: %v", recovered)
		}

		id := sentry.CaptureException(panicErr)
		entry := Logger.WithField("panic", panicErr)
		if id != nil {
			entry = entry.WithField("sentry_id", *id)
		}
		entry.Error("dontpanic: recovered panic")
	}()

	fn()
	return nil
}

// Go runs fn in a new goroutine, recovering any panic the way Try does, and
// sends the outcome (nil on a clean return) on the returned channel once.
func Go(fn func() error) <-chan error {
	done := make(chan error, 1)
	go func() {
		var fnErr error
		panicErr := Try(func() {
			fnErr = fn()
		})
		if panicErr != nil {
			done <- panicErr
			return
		}
		done <- fnErr
	}()
	return done
}
