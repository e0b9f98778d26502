package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cantalupo555/simplifi-exporter/internal/browser"
	"github.com/cantalupo555/simplifi-exporter/internal/logfields"
	"github.com/cantalupo555/simplifi-exporter/internal/probe"
)

// Phase is the state of the MFA wait protocol.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseProbing
	PhaseNoChallenge
	PhaseAwaitingHumanInput
	PhaseResolved
	PhaseExpired
)

func (p Phase) String() string {
	switch p {
	case PhaseProbing:
		return "probing"
	case PhaseNoChallenge:
		return "no_challenge"
	case PhaseAwaitingHumanInput:
		return "awaiting_human_input"
	case PhaseResolved:
		return "resolved"
	case PhaseExpired:
		return "expired"
	}
	return "idle"
}

// ErrHumanWindowExpired is returned by Await when a detected challenge was not
// completed before the deadline.
var ErrHumanWindowExpired = errors.New("mfa: human input window expired")

// sweepPause separates passes over the indicator list.
const sweepPause = 250 * time.Millisecond

// Protocol detects an MFA challenge and bounds the time a human gets to
// resolve it. It never reads, generates or submits a code.
type Protocol struct {
	Page   browser.Page
	Probes []probe.Probe
	// ProbeWindow bounds challenge detection.
	ProbeWindow time.Duration
	// ProbeTimeout bounds a single indicator check.
	ProbeTimeout time.Duration
	// HumanWindow bounds login completion, challenge or not.
	HumanWindow time.Duration
	Logger      *slog.Logger
	Now         func() time.Time

	mu       sync.Mutex
	phase    Phase
	deadline time.Time
}

// Phase returns the current protocol phase.
func (p *Protocol) Phase() Phase {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.phase
}

// Deadline returns the human-input deadline, zero until a challenge is seen.
func (p *Protocol) Deadline() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.deadline
}

func (p *Protocol) set(ph Phase) {
	p.mu.Lock()
	p.phase = ph
	p.mu.Unlock()
	p.logger().Debug("MFA phase changed", logfields.Phase(ph.String()))
}

// Detect sweeps the indicator list until one matches or the probe window
// elapses. A match moves the protocol to PhaseAwaitingHumanInput and fixes the
// deadline; otherwise it ends in PhaseNoChallenge.
func (p *Protocol) Detect(ctx context.Context) bool {
	logger := p.logger()
	logger.Info("Checking for MFA prompt...")
	p.set(PhaseProbing)

	wctx, cancel := context.WithTimeout(ctx, p.ProbeWindow)
	defer cancel()

	for {
		if m, ok := probe.FirstMatch(wctx, p.Page, p.Probes, p.probeTimeout(), logger); ok {
			deadline := p.now().Add(p.HumanWindow)
			p.mu.Lock()
			p.deadline = deadline
			p.mu.Unlock()
			p.set(PhaseAwaitingHumanInput)

			logger.Info("MFA detected! Complete the challenge in the browser window",
				logfields.Probe(m.Label()), logfields.Deadline(deadline))
			logger.Info("   1. Check your phone for the verification code")
			logger.Info("   2. Enter the code in the browser window and submit it")
			logger.Info(fmt.Sprintf("   Waiting up to %v for you to finish", p.HumanWindow.Round(time.Second)))
			return true
		}

		select {
		case <-wctx.Done():
			p.set(PhaseNoChallenge)
			logger.Info("✓ No MFA required, continuing...")
			return false
		case <-time.After(sweepPause):
		}
	}
}

// Await runs complete under the human deadline set by Detect, or under
// HumanWindow from now when no challenge was seen.
func (p *Protocol) Await(ctx context.Context, complete func(context.Context) error) error {
	challenged := p.Phase() == PhaseAwaitingHumanInput
	deadline := p.Deadline()
	if !challenged || deadline.IsZero() {
		deadline = p.now().Add(p.HumanWindow)
	}

	actx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	err := complete(actx)
	switch {
	case err == nil:
		if challenged {
			p.set(PhaseResolved)
			p.logger().Info("✓ MFA completed")
		}
		return nil
	case ctx.Err() != nil:
		return fmt.Errorf("wait for login completion: %w", ctx.Err())
	case errors.Is(actx.Err(), context.DeadlineExceeded):
		if challenged {
			p.set(PhaseExpired)
			return fmt.Errorf("%w at %s: %v", ErrHumanWindowExpired, deadline.Format(time.RFC3339), err)
		}
		return fmt.Errorf("login did not complete within %v: %w", p.HumanWindow, err)
	}
	return err
}

func (p *Protocol) probeTimeout() time.Duration {
	if p.ProbeTimeout > 0 {
		return p.ProbeTimeout
	}
	return p.ProbeWindow
}

func (p *Protocol) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}

func (p *Protocol) logger() *slog.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return slog.Default()
}
