package credential

import (
	"context"
	"errors"
	"fmt"

	"github.com/emberwallet/core/internal/crypto"
	"github.com/emberwallet/core/internal/errs"
)

// ErrPinMismatch reports a confirm entry that differs from the
// candidate PIN. The flow returns to the new stage with both entries
// discarded.
var ErrPinMismatch = errors.New("pin confirmation mismatch")

const minPinLength = 4

// Stage is one step of the PIN lifecycle.
type Stage string

const (
	StageCurrent Stage = "current"
	StageNew     Stage = "new"
	StageConfirm Stage = "confirm"
	StageDone    Stage = "done"
)

// HasPin reports whether a PIN has been set.
func (g *Gate) HasPin(ctx context.Context) bool {
	_, err := g.store.Get(ctx, keyPinHash)
	return err == nil
}

// VerifyPin checks a PIN against the stored hash under the lockout
// policy. Repeated misses block further attempts for a growing window.
func (g *Gate) VerifyPin(ctx context.Context, pin string) error {
	if ok, retry := g.lock.Allow(); !ok {
		return fmt.Errorf("%w: retry in %s", errs.ErrPinLocked, retry)
	}
	hash, err := g.store.Get(ctx, keyPinHash)
	if err != nil {
		return fmt.Errorf("no pin set: %w", errs.ErrNotFound)
	}
	salt, err := g.store.Get(ctx, keyPinSalt)
	if err != nil {
		return fmt.Errorf("no pin salt: %w", errs.ErrNotFound)
	}
	if !crypto.VerifyPin([]byte(pin), salt, hash) {
		if blocked, d := g.lock.Failure(); blocked {
			return fmt.Errorf("%w: retry in %s", errs.ErrPinLocked, d)
		}
		return errs.ErrAuthenticationFailed
	}
	g.lock.Success()
	return nil
}

func (g *Gate) setPin(ctx context.Context, pin string) error {
	salt, err := crypto.RandBytes(16)
	if err != nil {
		return fmt.Errorf("pin salt: %w", err)
	}
	if err := g.store.Set(ctx, keyPinSalt, salt); err != nil {
		return fmt.Errorf("persist pin salt: %w", err)
	}
	if err := g.store.Set(ctx, keyPinHash, crypto.HashPin([]byte(pin), salt)); err != nil {
		return fmt.Errorf("persist pin hash: %w", err)
	}
	return nil
}

// PinFlow drives one set-or-change PIN interaction through the
// current, new, and confirm stages. The current stage is skipped
// entirely when no PIN exists yet.
type PinFlow struct {
	gate      *Gate
	stage     Stage
	candidate string
}

// StartPinFlow begins a PIN change. With no PIN on record the flow
// opens directly at the new stage.
func (g *Gate) StartPinFlow(ctx context.Context) *PinFlow {
	stage := StageCurrent
	if !g.HasPin(ctx) {
		stage = StageNew
	}
	return &PinFlow{gate: g, stage: stage}
}

// Stage returns the step the flow is waiting on.
func (f *PinFlow) Stage() Stage { return f.stage }

// Submit feeds one PIN entry to the flow and advances it:
//
//	current: a wrong entry stays in current (lockout applies), a
//	         correct one moves to new
//	new:     records the candidate and moves to confirm
//	confirm: a match persists the PIN and completes, a mismatch
//	         discards both entries and returns to new
func (f *PinFlow) Submit(ctx context.Context, pin string) (Stage, error) {
	switch f.stage {
	case StageCurrent:
		if err := f.gate.VerifyPin(ctx, pin); err != nil {
			return f.stage, err
		}
		f.stage = StageNew
		return f.stage, nil

	case StageNew:
		if len(pin) < minPinLength {
			return f.stage, fmt.Errorf("pin shorter than %d digits: %w", minPinLength, errs.ErrInvalidState)
		}
		f.candidate = pin
		f.stage = StageConfirm
		return f.stage, nil

	case StageConfirm:
		if pin != f.candidate {
			f.candidate = ""
			f.stage = StageNew
			return f.stage, ErrPinMismatch
		}
		if err := f.gate.setPin(ctx, pin); err != nil {
			return f.stage, err
		}
		f.candidate = ""
		f.stage = StageDone
		f.gate.RecordAudit(ctx, "pin updated")
		return f.stage, nil

	default:
		return f.stage, fmt.Errorf("pin flow finished: %w", errs.ErrInvalidState)
	}
}
