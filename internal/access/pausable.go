package access

import "OptionEscrow/internal/errs"

// Pausable is the circuit breaker flag.
type Pausable struct {
	paused bool
}

func (p *Pausable) Paused() bool { return p.paused }

// WhenNotPaused returns a Paused error while the breaker is active.
func (p *Pausable) WhenNotPaused() error {
	if p.paused {
		return errs.Paused()
	}
	return nil
}

// Pause activates the breaker. Pausing twice is a Conflict.
func (p *Pausable) Pause() error {
	if p.paused {
		return errs.Conflict(errs.ReasonPaused, "already paused")
	}
	p.paused = true
	return nil
}

// Unpause clears the breaker. Unpausing while running is a Conflict.
func (p *Pausable) Unpause() error {
	if !p.paused {
		return errs.Conflict(errs.ReasonNotPaused, "")
	}
	p.paused = false
	return nil
}
