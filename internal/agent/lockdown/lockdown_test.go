package lockdown

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// fakePlatform is a scriptable Platform for tests.
type fakePlatform struct {
	mu sync.Mutex

	pinErr        error
	pinned        bool
	pinAfterPolls int // Pinned() flips true after this many calls
	pinnedCalls   int

	prompt        string
	promptPresent bool

	overlayUp      bool
	secure         bool
	unpinned       bool
	settingsOpened bool
}

func (f *fakePlatform) RequestPin() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pinErr
}

func (f *fakePlatform) Unpin() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pinned = false
	f.unpinned = true
	return nil
}

func (f *fakePlatform) Pinned() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pinnedCalls++
	if f.pinAfterPolls > 0 && f.pinnedCalls >= f.pinAfterPolls {
		f.pinned = true
	}
	return f.pinned
}

func (f *fakePlatform) SetSecureSurface(on bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.secure = on
	return nil
}

func (f *fakePlatform) RaiseOverlay() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.overlayUp = true
	return nil
}

func (f *fakePlatform) LowerOverlay() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.overlayUp = false
	return nil
}

func (f *fakePlatform) PromptText() (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.prompt, f.promptPresent
}

func (f *fakePlatform) OpenSecuritySettings() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.settingsOpened = true
	return nil
}

func (f *fakePlatform) breakPin() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pinned = false
	f.pinAfterPolls = 0
}

func (f *fakePlatform) snapshot() (overlayUp, secure bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.overlayUp, f.secure
}

func newTestController(f *fakePlatform) *Controller {
	return New(f, zerolog.Nop(), WithPollInterval(time.Millisecond))
}

func TestEngageNoActiveSurface(t *testing.T) {
	f := &fakePlatform{pinErr: ErrNoActiveSurface}
	c := newTestController(f)

	err := c.Engage(context.Background())
	if !errors.Is(err, ErrNoActiveSurface) {
		t.Fatalf("expected ErrNoActiveSurface, got %v", err)
	}
	if c.State() != StateUnpinned {
		t.Fatalf("expected unpinned, got %s", c.State())
	}
	if up, secure := f.snapshot(); up || secure {
		t.Fatal("overlay and secure surface should be torn down")
	}
}

func TestEngagePins(t *testing.T) {
	f := &fakePlatform{pinAfterPolls: 3, prompt: "Got it", promptPresent: true}
	c := newTestController(f)

	if err := c.Engage(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.State() != StatePinned {
		t.Fatalf("expected pinned, got %s", c.State())
	}
	if up, secure := f.snapshot(); up || !secure {
		t.Fatal("overlay should be down and secure surface on")
	}

	select {
	case ev := <-c.Events():
		if ev.Type != EventPinned {
			t.Fatalf("expected pinned event, got %s", ev.Type)
		}
	default:
		t.Fatal("expected a pinned event")
	}
}

func TestEngageDeclinedPrompt(t *testing.T) {
	f := &fakePlatform{prompt: "No thanks", promptPresent: true}
	c := newTestController(f)

	err := c.Engage(context.Background())
	if !errors.Is(err, ErrSecurityDenied) {
		t.Fatalf("expected ErrSecurityDenied, got %v", err)
	}
	if c.State() != StateUnpinned {
		t.Fatalf("expected unpinned, got %s", c.State())
	}

	select {
	case ev := <-c.Events():
		if ev.Type != EventDenied {
			t.Fatalf("expected denied event, got %s", ev.Type)
		}
	default:
		t.Fatal("expected a denied event")
	}
}

func TestEngageUnknownPromptFallsBackToDeclined(t *testing.T) {
	f := &fakePlatform{prompt: "??unrecognized vendor dialog??", promptPresent: true}
	c := newTestController(f)

	err := c.Engage(context.Background())
	if !errors.Is(err, ErrSecurityDenied) {
		t.Fatalf("expected ErrSecurityDenied after repeated unknowns, got %v", err)
	}
	if c.State() != StateUnpinned {
		t.Fatalf("expected unpinned, got %s", c.State())
	}
}

func TestEngageDismissedPrompt(t *testing.T) {
	f := &fakePlatform{promptPresent: false}
	c := newTestController(f)

	err := c.Engage(context.Background())
	if !errors.Is(err, ErrSecurityDenied) {
		t.Fatalf("expected ErrSecurityDenied, got %v", err)
	}
}

func TestEngageBlockedByDevicePolicy(t *testing.T) {
	f := &fakePlatform{pinErr: ErrLockdownUnavailable}
	c := newTestController(f)

	err := c.Engage(context.Background())
	if !errors.Is(err, ErrLockdownUnavailable) {
		t.Fatalf("expected ErrLockdownUnavailable, got %v", err)
	}
	if errors.Is(err, ErrSecurityDenied) {
		t.Fatal("a policy block must stay distinguishable from an examinee decline")
	}
	if c.State() != StateUnpinned {
		t.Fatalf("expected unpinned, got %s", c.State())
	}

	if err := c.OpenSecuritySettings(); err != nil {
		t.Fatalf("open settings: %v", err)
	}
	f.mu.Lock()
	opened := f.settingsOpened
	f.mu.Unlock()
	if !opened {
		t.Fatal("expected the platform settings screen to be opened")
	}
}

func TestEngageToleratesLatePrompt(t *testing.T) {
	// The pin lands on the second poll, before any prompt text shows up.
	// The brief prompt absence must not read as a dismissal.
	f := &fakePlatform{pinAfterPolls: 2, promptPresent: false}
	c := newTestController(f)

	if err := c.Engage(context.Background()); err != nil {
		t.Fatalf("expected the pin to land within the absent-prompt budget, got %v", err)
	}
	if c.State() != StatePinned {
		t.Fatalf("expected pinned, got %s", c.State())
	}
}

func TestEngageCancelled(t *testing.T) {
	f := &fakePlatform{prompt: "Got it", promptPresent: true}
	c := newTestController(f)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := c.Engage(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if c.State() != StateUnpinned {
		t.Fatalf("expected unpinned, got %s", c.State())
	}
}

func TestObserveInterceptsPinBreak(t *testing.T) {
	f := &fakePlatform{pinAfterPolls: 1}
	c := newTestController(f)

	if err := c.Engage(context.Background()); err != nil {
		t.Fatalf("engage: %v", err)
	}
	<-c.Events() // pinned

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Observe(ctx)

	f.breakPin()

	select {
	case ev := <-c.Events():
		if ev.Type != EventIntercepted {
			t.Fatalf("expected intercepted event, got %s", ev.Type)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for interception")
	}
	if c.State() != StateIntercepted {
		t.Fatalf("expected intercepted, got %s", c.State())
	}
	if up, _ := f.snapshot(); !up {
		t.Fatal("overlay should be raised after pin break")
	}
}

func TestReinstateAfterInterception(t *testing.T) {
	f := &fakePlatform{pinAfterPolls: 1}
	c := newTestController(f)

	if err := c.Engage(context.Background()); err != nil {
		t.Fatalf("engage: %v", err)
	}
	<-c.Events()

	c.setState(StateIntercepted)
	f.mu.Lock()
	f.pinnedCalls = 0
	f.pinAfterPolls = 2
	f.pinned = false
	f.mu.Unlock()

	if err := c.Reinstate(context.Background()); err != nil {
		t.Fatalf("reinstate: %v", err)
	}
	if c.State() != StatePinned {
		t.Fatalf("expected pinned, got %s", c.State())
	}
}

func TestRelease(t *testing.T) {
	f := &fakePlatform{pinAfterPolls: 1}
	c := newTestController(f)

	if err := c.Engage(context.Background()); err != nil {
		t.Fatalf("engage: %v", err)
	}
	<-c.Events()

	c.Release()
	if c.State() != StateUnpinned {
		t.Fatalf("expected unpinned, got %s", c.State())
	}
	if !f.unpinned {
		t.Fatal("platform unpin should be called")
	}
	if up, secure := f.snapshot(); up || secure {
		t.Fatal("overlay and secure surface should be torn down")
	}
}

func TestDefaultClassifier(t *testing.T) {
	cl := DefaultClassifier()
	cases := []struct {
		text string
		want PromptVerdict
	}{
		{"Got it", VerdictAccepted},
		{"Screen is pinned", VerdictAccepted},
		{"NO THANKS", VerdictDeclined},
		{"Cancel", VerdictDeclined},
		{"something else entirely", VerdictUnknown},
	}
	for _, tc := range cases {
		if got := cl.Classify(tc.text); got != tc.want {
			t.Errorf("Classify(%q) = %v, want %v", tc.text, got, tc.want)
		}
	}
}
