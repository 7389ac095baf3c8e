// Package bootstrap provides graceful restart and shutdown for the
// listeners sentineld exposes (today: the Prometheus endpoint), built on
// github.com/cloudflare/tableflip. The shape — RegisterStarter, Start,
// Wait, a StopAction hook, SIGHUP-triggered upgrade — mirrors the teacher's
// internal/bootstrap package.
package bootstrap

import (
	"fmt"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/cloudflare/tableflip"
)

// ListenFunc creates a listener for network/addr, taking over an inherited
// file descriptor across an upgrade when one exists.
type ListenFunc func(network, addr string) (net.Listener, error)

// Starter registers one listener with the Bootstrap and starts serving on
// it. errors carries any async serve error back to Wait.
type Starter func(listen ListenFunc, errors chan<- error) error

// upgrader is the subset of *tableflip.Upgrader Bootstrap depends on.
type upgrader interface {
	Exit() <-chan struct{}
	HasParent() bool
	Ready() error
	Upgrade() error
}

// Bootstrap owns every registered listener's lifecycle: startup, SIGHUP-
// triggered hot upgrade, and signal/grace-period-bounded shutdown.
type Bootstrap struct {
	StopAction func()

	upgrader upgrader
	listen   ListenFunc
	starters []Starter

	errChan chan error
}

// New returns a Bootstrap backed by a real tableflip.Upgrader.
func New() (*Bootstrap, error) {
	upg, err := tableflip.New(tableflip.Options{})
	if err != nil {
		return nil, fmt.Errorf("create upgrader: %w", err)
	}
	return _new(upg, upg.Fds.Listen, true)
}

func _new(upg upgrader, listen ListenFunc, installSignalHandler bool) (*Bootstrap, error) {
	b := &Bootstrap{
		upgrader: upg,
		listen:   listen,
		errChan:  make(chan error),
	}

	if installSignalHandler {
		go b.handleSignals()
	}

	return b, nil
}

func (b *Bootstrap) handleSignals() {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGHUP, syscall.SIGTERM, syscall.SIGINT)

	for sig := range sigs {
		switch sig {
		case syscall.SIGHUP:
			if err := b.upgrader.Upgrade(); err != nil {
				b.errChan <- fmt.Errorf("upgrade failed: %w", err)
			}
		case syscall.SIGTERM, syscall.SIGINT:
			b.errChan <- fmt.Errorf("received signal %s", sig)
		}
	}
}

// RegisterStarter adds a listener start function, invoked by Start.
func (b *Bootstrap) RegisterStarter(s Starter) {
	b.starters = append(b.starters, s)
}

// Start creates every registered listener and begins serving on each,
// then signals the upgrader that startup succeeded.
func (b *Bootstrap) Start() error {
	for _, s := range b.starters {
		if err := s(b.listen, b.errChan); err != nil {
			return fmt.Errorf("start listener: %w", err)
		}
	}
	return b.upgrader.Ready()
}

// Wait blocks until the upgrader reports a completed upgrade, a listener
// reports a fatal error, or a termination signal arrives, then runs
// StopAction and waits up to gracePeriod for it to finish.
func (b *Bootstrap) Wait(gracePeriod time.Duration) error {
	var firstErr error

	select {
	case err := <-b.errChan:
		firstErr = err
	case <-b.upgrader.Exit():
		firstErr = fmt.Errorf("received signal, shutting down gracefully for upgrade")
	}

	done := make(chan struct{})
	var once sync.Once
	go func() {
		if b.StopAction != nil {
			b.StopAction()
		}
		once.Do(func() { close(done) })
	}()

	select {
	case <-done:
		return fmt.Errorf("%w (completed)", firstErr)
	case <-time.After(gracePeriod):
		return fmt.Errorf("%w (grace period expired, force shutdown)", firstErr)
	}
}
