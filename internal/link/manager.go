// Package link owns the single GATT link to one peripheral.
//
// A Manager turns a stateless command API into a serialized, auto-connecting
// link: every Send goes through one per-device lock, the link is opened on
// demand and released after a period of inactivity.
package link

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/girable/internal/device"
	"github.com/srg/girable/internal/protocol"
)

// State of the link.
type State int32

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Manager serializes command writes to one peripheral.
//
// The lock is a one-slot channel so that callers waiting for it can give up
// when their context ends. session, idle and idleGen are only touched while
// holding it; state is also readable without it.
type Manager struct {
	address   string
	resolver  device.Resolver
	transport device.Transport
	opts      Options
	logger    *logrus.Logger

	lock chan struct{}

	session device.Session
	idle    *time.Timer
	idleGen uint64
	state   atomic.Int32
}

// NewManager creates a disconnected manager for address. Zero option fields
// take their defaults.
func NewManager(address string, resolver device.Resolver, transport device.Transport, opts Options, logger *logrus.Logger) *Manager {
	if logger == nil {
		logger = logrus.New()
	}
	opts = opts.withDefaults()

	return &Manager{
		address:   device.NormalizeAddress(address),
		resolver:  resolver,
		transport: transport,
		opts:      opts,
		logger:    logger,
		lock:      make(chan struct{}, 1),
	}
}

// Address returns the peripheral address the manager serves.
func (m *Manager) Address() string {
	return m.address
}

// State returns the current link state.
func (m *Manager) State() State {
	return State(m.state.Load())
}

// Options returns the effective timings.
func (m *Manager) Options() Options {
	return m.opts
}

// Send writes frame to the peripheral, connecting first when needed.
//
// A write failure on an established link drops the link and is retried once
// over a fresh connection. Any failure is returned as a *device.TransportError
// and leaves the manager disconnected; nothing is retried across calls.
func (m *Manager) Send(ctx context.Context, frame protocol.Frame, expectResponse bool) error {
	if frame.IsZero() {
		return &device.ValidationError{Field: "frame", Value: "<empty>", Reason: "nothing to send"}
	}
	if err := m.acquire(ctx); err != nil {
		return fmt.Errorf("waiting for link to %s: %w", m.address, err)
	}
	defer m.release()

	log := m.logger.WithFields(logrus.Fields{
		"address": m.address,
		"frame":   frame.String(),
	})
	data := frame.Bytes()

	if m.session != nil {
		m.cancelIdleLocked()
		err := m.writeLocked(ctx, data, expectResponse)
		if err == nil {
			m.scheduleIdleLocked()
			log.Debug("Frame written")
			return nil
		}
		log.WithError(err).Warn("Write on open link failed, reconnecting")
		m.teardownLocked()
	}

	if err := m.connectLocked(ctx); err != nil {
		return err
	}

	if err := m.writeLocked(ctx, data, expectResponse); err != nil {
		m.teardownLocked()
		return &device.TransportError{Op: device.OpWrite, Address: m.address, Err: err}
	}
	m.scheduleIdleLocked()
	log.Debug("Frame written")
	return nil
}

// Close cancels the idle timer and drops the link if one is open. It may be
// called any number of times; a later Send connects again.
func (m *Manager) Close() error {
	if err := m.acquire(context.Background()); err != nil {
		return err
	}
	defer m.release()

	m.cancelIdleLocked()
	if m.session == nil {
		return nil
	}
	m.logger.WithField("address", m.address).Debug("Closing link")
	return m.teardownLocked()
}

func (m *Manager) acquire(ctx context.Context) error {
	select {
	case m.lock <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) release() {
	<-m.lock
}

func (m *Manager) setState(s State) {
	old := State(m.state.Swap(int32(s)))
	if old != s {
		m.logger.WithFields(logrus.Fields{
			"address": m.address,
			"from":    old.String(),
			"state":   s.String(),
		}).Debug("Link state changed")
	}
}

func (m *Manager) connectLocked(ctx context.Context) error {
	p, err := m.resolver.Resolve(ctx, m.address)
	if err != nil {
		return &device.TransportError{Op: device.OpResolve, Address: m.address, Err: err}
	}

	m.setState(Connecting)
	m.logger.WithFields(logrus.Fields{
		"address":  m.address,
		"name":     p.DisplayName(),
		"attempts": m.opts.ConnectAttempts,
		"timeout":  m.opts.ConnectTimeout,
	}).Info("Connecting...")

	sess, err := m.transport.Connect(ctx, p, device.ConnectOptions{
		Attempts:       m.opts.ConnectAttempts,
		AttemptTimeout: m.opts.ConnectTimeout,
		Pair:           !m.opts.SkipPairing,
	})
	if err != nil {
		if sess != nil {
			_ = m.transport.Disconnect(sess)
		}
		m.setState(Disconnected)
		return &device.TransportError{Op: device.OpConnect, Address: m.address, Err: err}
	}

	m.session = sess
	m.setState(Connected)
	return nil
}

func (m *Manager) writeLocked(ctx context.Context, data []byte, withResponse bool) error {
	wctx, cancel := context.WithTimeout(ctx, m.opts.WriteTimeout)
	defer cancel()
	return m.transport.Write(wctx, m.session, data, m.opts.WriteTimeout, withResponse)
}

func (m *Manager) teardownLocked() error {
	var err error
	if m.session != nil {
		if err = m.transport.Disconnect(m.session); err != nil {
			m.logger.WithError(err).WithField("address", m.address).Debug("Disconnect failed")
		}
		m.session = nil
	}
	m.setState(Disconnected)
	return err
}

// cancelIdleLocked stops the pending idle timer. Bumping idleGen turns a
// callback that already fired but has not taken the lock yet into a no-op.
func (m *Manager) cancelIdleLocked() {
	if m.idle != nil {
		m.idle.Stop()
		m.idle = nil
	}
	m.idleGen++
}

func (m *Manager) scheduleIdleLocked() {
	m.cancelIdleLocked()
	gen := m.idleGen
	m.idle = time.AfterFunc(m.opts.IdleTimeout, func() { m.onIdle(gen) })
}

func (m *Manager) onIdle(gen uint64) {
	if err := m.acquire(context.Background()); err != nil {
		return
	}
	defer m.release()

	if gen != m.idleGen || m.session == nil {
		return
	}
	m.idle = nil
	m.logger.WithFields(logrus.Fields{
		"address": m.address,
		"idle":    m.opts.IdleTimeout,
	}).Debug("Link idle, disconnecting")
	_ = m.teardownLocked()
}
