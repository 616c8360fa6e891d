// Package send drives a payment attempt from raw input to settlement.
package send

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/emberwallet/core/internal/classify"
	"github.com/emberwallet/core/internal/errs"
	"github.com/emberwallet/core/internal/model"
	"github.com/emberwallet/core/internal/node"
	"github.com/emberwallet/core/internal/repository"
)

// State is the explicit lifecycle of one send attempt.
type State string

const (
	StateIdle           State = "idle"
	StateParsing        State = "parsing"
	StateAwaitingAmount State = "awaiting_amount"
	StatePrepared       State = "prepared"
	StateConfirming     State = "confirming"
	StateExecuting      State = "executing"
	StateSettled        State = "settled"
	StateFailed         State = "failed"
)

// Orchestrator is the payment state machine. It is driven synchronously
// by explicit external triggers and only suspends while awaiting the
// node service. One orchestrator serves one send session.
type Orchestrator struct {
	node    node.Service
	history repository.PaymentRepository
	logger  *zap.Logger

	mu       sync.Mutex
	state    State
	request  model.PaymentRequest
	amount   *model.Amount
	prepared *model.PreparedPayment
	balance  model.Amount
	seq      uint64 // attempt sequence; any new input supersedes prior work

	observers []func(model.Payment)
}

// New constructs an idle orchestrator.
func New(n node.Service, history repository.PaymentRepository, logger *zap.Logger) *Orchestrator {
	return &Orchestrator{
		node:    n,
		history: history,
		logger:  logger,
		state:   StateIdle,
	}
}

// State returns the current lifecycle state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Prepared returns the live prepared payment, nil if none.
func (o *Orchestrator) Prepared() *model.PreparedPayment {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.prepared == nil {
		return nil
	}
	cpy := *o.prepared
	return &cpy
}

// OnSettled registers a settlement observer. Observers are invoked
// after every successful execution, at least once, and must not block.
func (o *Orchestrator) OnSettled(fn func(model.Payment)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.observers = append(o.observers, fn)
}

// SetInput starts (or restarts) an attempt from a raw payment string.
// Any prior prepared payment is discarded before classification; a new
// input always supersedes in-flight work.
func (o *Orchestrator) SetInput(ctx context.Context, raw string) error {
	o.mu.Lock()
	if raw == "" {
		o.mu.Unlock()
		return fmt.Errorf("set input: %w", errs.ErrInvalidState)
	}
	o.seq++
	seq := o.seq
	o.state = StateParsing
	o.request = classify.Classify(raw)
	o.amount = nil
	o.prepared = nil
	o.mu.Unlock()

	return o.tryPrepare(ctx, seq)
}

// SetAmount supplies (or changes) the explicit amount. The current
// prepared payment, if any, is discarded and preparation re-runs.
func (o *Orchestrator) SetAmount(ctx context.Context, amount model.Amount) error {
	o.mu.Lock()
	if o.request == nil {
		o.mu.Unlock()
		return fmt.Errorf("set amount: %w", errs.ErrInvalidState)
	}
	o.seq++
	seq := o.seq
	o.state = StateParsing
	o.amount = &amount
	o.prepared = nil
	o.mu.Unlock()

	return o.tryPrepare(ctx, seq)
}

// Confirm moves a prepared attempt to the confirmation step. It is an
// explicit user trigger; nothing transitions into Confirming
// automatically.
func (o *Orchestrator) Confirm() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state != StatePrepared || o.prepared == nil {
		return fmt.Errorf("confirm: %w", errs.ErrInvalidState)
	}
	o.state = StateConfirming
	return nil
}

// Send executes the confirmed payment. The amount is re-validated
// against a fresh balance; on violation the attempt bounces back to
// Confirming with the prepared fee data intact so the caller can retry
// smaller. Execution failure is terminal for the attempt and is never
// retried automatically.
func (o *Orchestrator) Send(ctx context.Context) error {
	o.mu.Lock()
	if o.state != StateConfirming || o.prepared == nil {
		o.mu.Unlock()
		return fmt.Errorf("send: %w", errs.ErrInvalidState)
	}
	prep := *o.prepared
	seq := o.seq
	o.state = StateExecuting
	o.mu.Unlock()

	balance, err := o.node.GetBalance(ctx)
	if err != nil {
		return o.fail(seq, fmt.Errorf("%w: balance: %w", errs.ErrExecutionFailure, err))
	}
	if prep.Amount <= 0 || prep.Amount > balance {
		o.mu.Lock()
		if o.seq == seq {
			o.state = StateConfirming
		}
		o.mu.Unlock()
		return errs.ErrInsufficientBalance
	}

	fee, err := o.execute(ctx, prep)
	if err != nil {
		return o.fail(seq, fmt.Errorf("%w: %w", errs.ErrExecutionFailure, err))
	}

	payment := model.Payment{
		ID:        uuid.Must(uuid.NewV4()),
		CreatedAt: time.Now(),
		Method:    prep.Method,
		Amount:    prep.Amount,
		Fee:       fee,
		Target:    targetOf(prep.DerivedFrom),
	}

	o.mu.Lock()
	if o.seq != seq {
		// A newer input superseded this attempt while the node call was
		// in flight; the settled payment still reaches history, but the
		// session state belongs to the new attempt.
		o.mu.Unlock()
		o.settleSideEffects(ctx, payment)
		return errs.ErrSuperseded
	}
	o.state = StateSettled
	o.prepared = nil
	o.mu.Unlock()

	o.settleSideEffects(ctx, payment)
	return nil
}

// HandleEvent consumes node payment notifications (wire it to
// node.Subscribe). Settlements executed through Send are folded in
// directly; incoming payments land in history here, and every event
// refreshes the cached balance.
func (o *Orchestrator) HandleEvent(ev node.PaymentEvent) {
	ctx := context.Background()
	if ev.Kind == node.EventReceived {
		if err := o.history.Append(ctx, ev.Payment); err != nil {
			o.logger.Error("history append failed", zap.Error(err))
		}
	}
	if balance, err := o.node.GetBalance(ctx); err == nil {
		o.mu.Lock()
		o.balance = balance
		o.mu.Unlock()
	}
}

// Reset returns the session to Idle, discarding any attempt state.
func (o *Orchestrator) Reset() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.seq++
	o.state = StateIdle
	o.request = nil
	o.amount = nil
	o.prepared = nil
}

// tryPrepare classifies readiness: it either produces a prepared
// payment, parks the attempt awaiting an amount, or fails with a typed
// error.
func (o *Orchestrator) tryPrepare(ctx context.Context, seq uint64) error {
	o.mu.Lock()
	req := o.request
	explicit := o.amount
	o.mu.Unlock()

	method, amount, err := resolve(req, explicit)
	if err != nil {
		if errors.Is(err, errs.ErrAmountRequired) {
			o.transition(seq, StateAwaitingAmount)
			return err
		}
		o.transition(seq, StateFailed)
		return err
	}

	balance, err := o.node.GetBalance(ctx)
	if err != nil {
		o.transition(seq, StateFailed)
		return fmt.Errorf("%w: balance: %w", errs.ErrExecutionFailure, err)
	}
	if amount > balance {
		// Recoverable in place: the caller may supply a smaller amount.
		o.transition(seq, StateAwaitingAmount)
		return errs.ErrInsufficientBalance
	}

	fee, err := o.node.EstimateFee(ctx, method, amount)
	if err != nil {
		o.transition(seq, StateFailed)
		return fmt.Errorf("%w: estimate fee: %w", errs.ErrExecutionFailure, err)
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.seq != seq {
		return errs.ErrSuperseded
	}
	o.balance = balance
	o.prepared = &model.PreparedPayment{
		Method:      method,
		Amount:      amount,
		FeeEstimate: fee,
		DerivedFrom: req,
	}
	o.state = StatePrepared
	return nil
}

// resolve maps a classified request plus an optional explicit amount to
// a fulfillable method and a concrete amount.
func resolve(req model.PaymentRequest, explicit *model.Amount) (model.Method, model.Amount, error) {
	pick := func(embedded *model.Amount) (model.Amount, error) {
		if explicit != nil && *explicit > 0 {
			return *explicit, nil
		}
		if embedded != nil && *embedded > 0 {
			return *embedded, nil
		}
		return 0, errs.ErrAmountRequired
	}

	switch r := req.(type) {
	case model.LightningInvoice:
		amt, err := pick(r.Amount)
		return model.MethodLightning, amt, err
	case model.OnchainAddress:
		amt, err := pick(nil)
		return model.MethodOnchain, amt, err
	case model.AlternateLedgerAddress:
		amt, err := pick(nil)
		return model.MethodSparkTransfer, amt, err
	case model.AlternateLedgerInvoice:
		amt, err := pick(r.Amount)
		return model.MethodSparkTransfer, amt, err
	case model.WithdrawRequest, model.PayRequest, model.Unrecognized:
		return "", 0, errs.ErrUnsupportedMethod
	default:
		return "", 0, errs.ErrUnsupportedMethod
	}
}

// execute dispatches to the node service keyed by method.
func (o *Orchestrator) execute(ctx context.Context, prep model.PreparedPayment) (model.Amount, error) {
	switch r := prep.DerivedFrom.(type) {
	case model.LightningInvoice:
		var explicit *model.Amount
		if r.Amount == nil {
			amt := prep.Amount
			explicit = &amt
		}
		return o.node.PayInvoice(ctx, r.Invoice, explicit)
	case model.OnchainAddress:
		return o.node.SendToAddress(ctx, r.Address, prep.Amount, model.LedgerBitcoin)
	case model.AlternateLedgerAddress:
		return o.node.SendToAddress(ctx, r.Address, prep.Amount, model.LedgerSpark)
	default:
		return 0, errs.ErrUnsupportedMethod
	}
}

// settleSideEffects appends history, refreshes the cached balance, and
// notifies observers. Runs after every settlement.
func (o *Orchestrator) settleSideEffects(ctx context.Context, payment model.Payment) {
	if err := o.history.Append(ctx, payment); err != nil {
		o.logger.Error("history append failed", zap.Error(err))
	}
	if balance, err := o.node.GetBalance(ctx); err == nil {
		o.mu.Lock()
		o.balance = balance
		o.mu.Unlock()
	}

	o.mu.Lock()
	observers := make([]func(model.Payment), len(o.observers))
	copy(observers, o.observers)
	o.mu.Unlock()
	for _, fn := range observers {
		fn(payment)
	}
	o.logger.Info("payment settled",
		zap.String("method", string(payment.Method)),
		zap.Int64("amount_msat", int64(payment.Amount)),
		zap.Int64("fee_msat", int64(payment.Fee)),
	)
}

func (o *Orchestrator) transition(seq uint64, s State) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.seq == seq {
		o.state = s
	}
}

func (o *Orchestrator) fail(seq uint64, err error) error {
	o.transition(seq, StateFailed)
	o.logger.Warn("send attempt failed", zap.Error(err))
	return err
}

func targetOf(req model.PaymentRequest) string {
	switch r := req.(type) {
	case model.LightningInvoice:
		return r.Hash
	case model.OnchainAddress:
		return r.Address
	case model.AlternateLedgerAddress:
		return r.Address
	default:
		return ""
	}
}
