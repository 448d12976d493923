package unduck

import (
	"fmt"
	"os"
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/pion/logging"
)

// registration pairs one endpoint's session container with the notifier
// subscribed to it. Every registration held by a Coordinator has exactly
// one live subscription.
type registration struct {
	endpointID string
	container  SessionContainer
	notifier   *SessionNotifier
}

// Coordinator opts this process's audio sessions out of the platform's
// automatic communications ducking. Initialize applies the opt-out
// preference to existing sessions and subscribes to each endpoint so
// sessions created later get the same treatment; Close unsubscribes and
// releases everything.
//
// Initialize and Close are safe to call from any goroutine, concurrently
// with notification callbacks delivered by the platform.
type Coordinator struct {
	log       logging.LeveledLogger
	subsystem SessionSubsystem

	mu            sync.Mutex
	registrations []registration
	contextReady  bool
	ownsContext   bool
	closed        bool
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLoggerFactory sets the logger factory. Defaults to pion's
// logging.NewDefaultLoggerFactory.
func WithLoggerFactory(f logging.LoggerFactory) Option {
	return func(c *Coordinator) {
		c.log = f.NewLogger("unduck")
	}
}

// WithSessionSubsystem overrides the platform subsystem. Defaults to the
// registered one (see RegisterSessionSubsystem).
func WithSessionSubsystem(s SessionSubsystem) Option {
	return func(c *Coordinator) {
		c.subsystem = s
	}
}

// NewCoordinator creates a Coordinator. It performs no subsystem calls;
// nothing happens until Initialize.
func NewCoordinator(opts ...Option) *Coordinator {
	c := &Coordinator{}
	for _, opt := range opts {
		opt(c)
	}
	if c.log == nil {
		c.log = logging.NewDefaultLoggerFactory().NewLogger("unduck")
	}
	if c.subsystem == nil {
		c.subsystem = GetSessionSubsystem()
	}
	return c
}

// Initialize opts existing sessions owned by this process out of ducking
// on every active render endpoint and subscribes to each endpoint for
// sessions created later. Best effort throughout: a failing endpoint,
// session, or subscription is skipped and the rest proceed; on total
// subsystem failure Initialize returns having done nothing.
//
// Safe to call repeatedly. Endpoints already registered are not
// re-subscribed, but their current sessions get a fresh opt-out pass, and
// endpoints that appeared since the previous call are picked up.
func (c *Coordinator) Initialize() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || c.subsystem == nil {
		return
	}
	if !c.contextReady {
		owned, err := c.subsystem.Setup()
		if err != nil {
			c.log.Warnf("session subsystem unavailable: %v", err)
			return
		}
		c.contextReady = true
		c.ownsContext = owned
	}

	endpoints, err := c.subsystem.RenderEndpoints()
	if err != nil {
		c.log.Warnf("render endpoint enumeration failed: %v", err)
		return
	}

	pid := os.Getpid()
	for _, ep := range endpoints {
		c.setupEndpoint(ep, pid)
		ep.Release()
	}
}

// setupEndpoint runs the opt-out pass for one endpoint and, if the
// endpoint is new, subscribes a notifier to it. Called with c.mu held.
func (c *Coordinator) setupEndpoint(ep Endpoint, pid int) {
	id := ep.ID()
	if reg := c.findRegistration(id); reg != nil {
		c.applyOptOut(reg.container, pid)
		return
	}

	container, err := ep.SessionContainer()
	if err != nil {
		c.log.Debugf("skipping endpoint %s: %v", id, err)
		return
	}
	c.applyOptOut(container, pid)

	notifier := NewSessionNotifier(func(s Session) {
		c.optOutIfOwned(s, os.Getpid())
	})
	if err := container.RegisterNotifier(notifier); err != nil {
		c.log.Debugf("session notification unavailable on %s: %v", id, err)
		notifier.Release()
		container.Release()
		return
	}
	c.registrations = append(c.registrations, registration{
		endpointID: id,
		container:  container,
		notifier:   notifier,
	})
}

func (c *Coordinator) findRegistration(endpointID string) *registration {
	for i := range c.registrations {
		if c.registrations[i].endpointID == endpointID {
			return &c.registrations[i]
		}
	}
	return nil
}

// applyOptOut walks a snapshot of the container's current sessions and
// sets the ducking opt-out preference on those owned by pid. Every
// session handle is released, whether it was mutated or skipped.
func (c *Coordinator) applyOptOut(container SessionContainer, pid int) {
	sessions, err := container.Sessions()
	if err != nil {
		c.log.Debugf("session snapshot failed: %v", err)
		return
	}
	for _, s := range sessions {
		c.optOutIfOwned(s, pid)
		s.Release()
	}
}

// optOutIfOwned sets the opt-out preference on s when it belongs to pid.
// Sessions of other processes are never touched. Operates only on s, so
// it is safe to run from a notification callback without c.mu.
func (c *Coordinator) optOutIfOwned(s Session, pid int) {
	owner, err := s.ProcessID()
	if err != nil {
		c.log.Debugf("session owner unknown: %v", err)
		return
	}
	if owner != pid {
		return
	}
	if err := s.SetDuckingPreference(true); err != nil {
		c.log.Debugf("ducking preference not set: %v", err)
	}
}

// Registrations returns the number of endpoints currently subscribed.
func (c *Coordinator) Registrations() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.registrations)
}

// Close unsubscribes every notifier, releases all held handles, and tears
// down the subsystem context if this Coordinator initialized it.
// Idempotent. Unsubscription errors are collected and returned; the
// remaining registrations are still torn down.
func (c *Coordinator) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	var errs *multierror.Error
	for _, reg := range c.registrations {
		if err := reg.container.UnregisterNotifier(reg.notifier); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("endpoint %s: %w", reg.endpointID, err))
		}
		reg.notifier.Release()
		reg.container.Release()
	}
	c.registrations = nil

	if c.contextReady {
		if c.ownsContext {
			c.subsystem.Teardown()
		}
		c.contextReady = false
		c.ownsContext = false
	}
	return errs.ErrorOrNil()
}
