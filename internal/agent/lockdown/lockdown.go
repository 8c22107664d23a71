// Package lockdown drives the device kiosk state during a proctored session.
// The OS owns screen pinning; this controller only requests it, watches the
// outcome, and keeps a blocking overlay up until the device is actually
// locked so no question content shows on an unpinned screen.
package lockdown

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// State is the kiosk lifecycle position.
type State string

const (
	// StateUnpinned means no lockdown is in effect.
	StateUnpinned State = "UNPINNED"
	// StatePinRequested means the OS pin dialog is up and unresolved.
	StatePinRequested State = "PIN_REQUESTED"
	// StatePinned means the OS confirmed the device is locked to the exam.
	StatePinned State = "PINNED"
	// StateIntercepted means the examinee broke out of the pin mid-exam.
	StateIntercepted State = "INTERCEPTED"
)

var (
	// ErrNoActiveSurface is returned when pinning is requested while the
	// exam surface is not in the foreground. The controller stays unpinned.
	ErrNoActiveSurface = errors.New("lockdown: no active surface to pin")
	// ErrSecurityDenied is returned when the examinee declines the OS pin
	// prompt, or when the prompt cannot be resolved.
	ErrSecurityDenied = errors.New("lockdown: pin request denied")
	// ErrLockdownUnavailable is returned when device policy blocks pinning
	// outright. Unlike a declined prompt this is fixable: send the examinee
	// to the settings screen via OpenSecuritySettings.
	ErrLockdownUnavailable = errors.New("lockdown: pinning blocked by device policy")
)

// unknownPromptLimit bounds how many consecutive unclassifiable prompt polls
// are tolerated before the request is treated as declined.
const unknownPromptLimit = 3

// defaultPollInterval paces the pin-confirmation poll while the OS prompt is up.
const defaultPollInterval = 200 * time.Millisecond

// Platform abstracts the OS kiosk primitives. Implementations talk to the
// real device; tests supply fakes.
type Platform interface {
	// RequestPin asks the OS to pin the exam surface. ErrNoActiveSurface
	// when nothing is in the foreground to pin.
	RequestPin() error
	// Unpin releases the OS pin.
	Unpin() error
	// Pinned reports whether the OS currently holds the pin.
	Pinned() bool
	// SetSecureSurface toggles capture protection (screenshots, recording).
	SetSecureSurface(on bool) error
	// RaiseOverlay covers the screen with the blocking curtain.
	RaiseOverlay() error
	// LowerOverlay removes the curtain.
	LowerOverlay() error
	// PromptText returns the text of the OS dialog currently on top, if any.
	PromptText() (string, bool)
	// OpenSecuritySettings deep-links the OS screen where pinning can be
	// enabled, for when RequestPin fails with ErrLockdownUnavailable.
	OpenSecuritySettings() error
}

// EventType identifies controller notifications.
type EventType string

const (
	EventPinned      EventType = "pinned"
	EventDenied      EventType = "denied"
	EventIntercepted EventType = "intercepted"
	EventReleased    EventType = "released"
)

// Event is one lockdown state notification.
type Event struct {
	Type  EventType
	State State
	At    time.Time
}

// Controller owns the lockdown state machine for one session.
type Controller struct {
	platform     Platform
	classifier   PromptClassifier
	pollInterval time.Duration
	log          zerolog.Logger

	mu     sync.Mutex
	state  State
	events chan Event
}

// Option configures a Controller.
type Option func(*Controller)

// WithPollInterval overrides the pin-confirmation poll pacing.
func WithPollInterval(d time.Duration) Option {
	return func(c *Controller) { c.pollInterval = d }
}

// WithClassifier overrides the OS prompt classifier.
func WithClassifier(p PromptClassifier) Option {
	return func(c *Controller) { c.classifier = p }
}

// New creates a Controller in the unpinned state.
func New(platform Platform, log zerolog.Logger, opts ...Option) *Controller {
	c := &Controller{
		platform:     platform,
		classifier:   DefaultClassifier(),
		pollInterval: defaultPollInterval,
		log:          log.With().Str("component", "lockdown").Logger(),
		state:        StateUnpinned,
		events:       make(chan Event, 16),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// State returns the current kiosk state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Events exposes state notifications. The channel is buffered; stale events
// are dropped rather than blocking the controller.
func (c *Controller) Events() <-chan Event {
	return c.events
}

// Engage requests the OS pin and blocks until the device is pinned, the
// request is denied, or ctx is cancelled. The blocking overlay stays up for
// the whole negotiation so question content is never exposed early.
func (c *Controller) Engage(ctx context.Context) error {
	c.mu.Lock()
	if c.state == StatePinned {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	if err := c.platform.SetSecureSurface(true); err != nil {
		c.log.Warn().Err(err).Msg("Secure surface unavailable")
	}
	if err := c.platform.RaiseOverlay(); err != nil {
		return err
	}

	if err := c.platform.RequestPin(); err != nil {
		c.platform.LowerOverlay()
		c.platform.SetSecureSurface(false)
		if errors.Is(err, ErrNoActiveSurface) {
			return ErrNoActiveSurface
		}
		return err
	}
	c.setState(StatePinRequested)

	if err := c.awaitPin(ctx); err != nil {
		c.platform.LowerOverlay()
		c.platform.SetSecureSurface(false)
		c.setState(StateUnpinned)
		if errors.Is(err, ErrSecurityDenied) {
			c.emit(EventDenied)
		}
		return err
	}

	c.setState(StatePinned)
	c.platform.LowerOverlay()
	c.emit(EventPinned)
	c.log.Info().Msg("Device pinned")
	return nil
}

// awaitPin polls the OS until the pin lands or the prompt resolves against us.
func (c *Controller) awaitPin(ctx context.Context) error {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	unknowns := 0
	absent := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		if c.platform.Pinned() {
			return nil
		}

		text, present := c.platform.PromptText()
		if !present {
			// No dialog on top. The OS may still be drawing it, or the pin
			// may land without one (re-pin after an interception). Only a
			// sustained absence means the examinee dismissed it.
			absent++
			if absent >= unknownPromptLimit {
				return ErrSecurityDenied
			}
			continue
		}
		absent = 0

		switch c.classifier.Classify(text) {
		case VerdictAccepted:
			// The OS acknowledged; the pin lands on a later poll.
			unknowns = 0
		case VerdictDeclined:
			return ErrSecurityDenied
		case VerdictUnknown:
			unknowns++
			if unknowns >= unknownPromptLimit {
				c.log.Warn().Str("prompt", text).Msg("Unclassifiable pin prompt, treating as declined")
				return ErrSecurityDenied
			}
		}
	}
}

// Observe watches for pin breaks while the session runs. On an unexpected
// unpin the overlay is raised and the state moves to intercepted. Blocks
// until ctx is cancelled; run in a goroutine.
func (c *Controller) Observe(ctx context.Context) {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		c.mu.Lock()
		pinned := c.state == StatePinned
		c.mu.Unlock()
		if !pinned {
			continue
		}

		if !c.platform.Pinned() {
			c.setState(StateIntercepted)
			if err := c.platform.RaiseOverlay(); err != nil {
				c.log.Error().Err(err).Msg("Overlay raise after pin break failed")
			}
			c.emit(EventIntercepted)
			c.log.Warn().Msg("Pin broken mid-session")
		}
	}
}

// Reinstate re-requests the pin after an interception. The overlay stays up
// until the pin lands again.
func (c *Controller) Reinstate(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateIntercepted {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	if err := c.platform.RequestPin(); err != nil {
		return err
	}
	c.setState(StatePinRequested)

	if err := c.awaitPin(ctx); err != nil {
		c.setState(StateIntercepted)
		return err
	}

	c.setState(StatePinned)
	c.platform.LowerOverlay()
	c.emit(EventPinned)
	return nil
}

// OpenSecuritySettings sends the examinee to the OS screen where pinning can
// be enabled. Call after Engage fails with ErrLockdownUnavailable.
func (c *Controller) OpenSecuritySettings() error {
	return c.platform.OpenSecuritySettings()
}

// Release tears the lockdown down at session end. Safe to call from any state.
func (c *Controller) Release() {
	if err := c.platform.Unpin(); err != nil {
		c.log.Warn().Err(err).Msg("Unpin failed")
	}
	c.platform.LowerOverlay()
	c.platform.SetSecureSurface(false)
	c.setState(StateUnpinned)
	c.emit(EventReleased)
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func (c *Controller) emit(t EventType) {
	ev := Event{Type: t, State: c.State(), At: time.Now()}
	select {
	case c.events <- ev:
	default:
		// Listener fell behind; drop rather than stall the controller.
	}
}
