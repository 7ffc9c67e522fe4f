// Package server coordinates the long-running pieces of the world server:
// it starts them together, watches for the first failure or a termination
// signal, and winds them down in reverse order.
package server

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// stopWarnAfter bounds how long one service may spend in Stop before the
// shutdown log flags it as stalled.
const stopWarnAfter = 10 * time.Second

// Service is one long-running component. Start blocks for the service's
// whole life; Stop asks it to wind down and is called at most once.
type Service interface {
	Start() error
	Stop()
}

// FuncService adapts a start/stop closure pair into a Service.
type FuncService struct {
	StartFn func() error
	StopFn  func()
}

func (f *FuncService) Start() error { return f.StartFn() }
func (f *FuncService) Stop()        { f.StopFn() }

type member struct {
	name string
	svc  Service
}

// Lifecycle starts registered services together and stops them in reverse
// registration order on the first failure, termination signal, or context
// cancellation.
type Lifecycle struct {
	log     *zap.Logger
	mu      sync.Mutex
	members []member
}

// NewLifecycle creates an empty lifecycle manager.
//
// Precondition: log must be non-nil.
func NewLifecycle(log *zap.Logger) *Lifecycle {
	return &Lifecycle{log: log}
}

// Add registers a named service. Registration order is start order; stop
// order is the reverse.
func (l *Lifecycle) Add(name string, svc Service) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.members = append(l.members, member{name: name, svc: svc})
}

// Run starts every registered service and blocks until SIGINT, SIGTERM,
// context cancellation, or a service failure.
//
// Postcondition: every service's Stop has run when Run returns. The return
// value is the first service error, or nil for a clean shutdown.
func (l *Lifecycle) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	started := time.Now()

	l.mu.Lock()
	members := make([]member, len(l.members))
	copy(members, l.members)
	l.mu.Unlock()

	var errMu sync.Mutex
	var firstErr error
	failed := make(chan struct{})

	for _, m := range members {
		m := m
		go func() {
			l.log.Info("service starting", zap.String("service", m.name))
			if err := m.svc.Start(); err != nil {
				errMu.Lock()
				if firstErr == nil {
					firstErr = fmt.Errorf("service %s: %w", m.name, err)
					close(failed)
				}
				errMu.Unlock()
			}
		}()
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigs)

	select {
	case sig := <-sigs:
		l.log.Info("signal received, shutting down", zap.String("signal", sig.String()))
	case <-failed:
		errMu.Lock()
		l.log.Error("service failed, shutting down", zap.Error(firstErr))
		errMu.Unlock()
	case <-ctx.Done():
		l.log.Info("run context cancelled, shutting down")
	}

	l.stopAll(members)
	l.log.Info("world server stopped", zap.Duration("uptime", time.Since(started)))

	errMu.Lock()
	defer errMu.Unlock()
	return firstErr
}

// stopAll winds services down in reverse order, flagging any Stop that
// stalls past stopWarnAfter.
func (l *Lifecycle) stopAll(members []member) {
	for i := len(members) - 1; i >= 0; i-- {
		m := members[i]
		done := make(chan struct{})
		go func() {
			timer := time.NewTimer(stopWarnAfter)
			defer timer.Stop()
			select {
			case <-done:
			case <-timer.C:
				l.log.Warn("service stop stalled", zap.String("service", m.name))
			}
		}()
		begin := time.Now()
		m.svc.Stop()
		close(done)
		l.log.Info("service stopped",
			zap.String("service", m.name),
			zap.Duration("elapsed", time.Since(begin)),
		)
	}
}
