package node

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/emberwallet/core/internal/model"
)

// Sim is an in-memory node service used by the daemon in development
// mode and by tests that need a full Service. It settles instantly and
// charges deterministic fees.
type Sim struct {
	mu        sync.Mutex
	balance   model.Amount
	providers map[string]model.ProviderDescriptor
	latency   map[string]time.Duration
	failing   map[string]bool
	active    string
	seq       uint64
	subs      map[int]func(PaymentEvent)
	nextSub   int
}

// Sim fee schedule: lightning is proportional, on-chain is a flat
// network estimate, spark transfers are a small flat fee.
const (
	simLightningFeePPM = 2000 // 0.2%
	simOnchainFeeMsat  = 2_500_000
	simSparkFeeMsat    = 10_000
)

// NewSim returns a simulator holding the given spendable balance.
func NewSim(balance model.Amount) *Sim {
	return &Sim{
		balance:   balance,
		providers: map[string]model.ProviderDescriptor{},
		latency:   map[string]time.Duration{},
		failing:   map[string]bool{},
		subs:      map[int]func(PaymentEvent){},
	}
}

// AddProvider registers a provider with a simulated probe latency.
func (s *Sim) AddProvider(p model.ProviderDescriptor, latency time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.providers[p.ID] = p
	s.latency[p.ID] = latency
	if p.IsDefault && s.active == "" {
		s.active = p.ID
	}
}

// SetFailing toggles connect/probe failures for a provider.
func (s *Sim) SetFailing(id string, failing bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failing[id] = failing
}

// Credit adds funds, emitting a received event.
func (s *Sim) Credit(amount model.Amount) {
	s.mu.Lock()
	s.balance += amount
	s.mu.Unlock()
	s.publish(PaymentEvent{Kind: EventReceived, Payment: model.Payment{
		ID:        uuid.Must(uuid.NewV4()),
		CreatedAt: time.Now(),
		Method:    model.MethodLightning,
		Amount:    amount,
	}})
}

func (s *Sim) GetBalance(ctx context.Context) (model.Amount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balance, nil
}

func (s *Sim) CreateInvoice(ctx context.Context, amount model.Amount, description string, expiry int64) (model.LightningInvoice, error) {
	s.mu.Lock()
	s.seq++
	body := fmt.Sprintf("lnbcsim%d", s.seq)
	s.mu.Unlock()
	sum := sha256.Sum256([]byte(body))
	amt := amount
	return model.LightningInvoice{
		Invoice:     body,
		Hash:        hex.EncodeToString(sum[:]),
		Amount:      &amt,
		Description: description,
		Expiry:      expiry,
	}, nil
}

func (s *Sim) EstimateFee(ctx context.Context, method model.Method, amount model.Amount) (model.Amount, error) {
	switch method {
	case model.MethodLightning:
		return model.Amount(int64(amount) * simLightningFeePPM / 1_000_000), nil
	case model.MethodOnchain:
		return simOnchainFeeMsat, nil
	case model.MethodSparkTransfer:
		return simSparkFeeMsat, nil
	default:
		return 0, fmt.Errorf("estimate fee: unknown method %q", method)
	}
}

func (s *Sim) PayInvoice(ctx context.Context, bolt11 string, amount *model.Amount) (model.Amount, error) {
	if amount == nil {
		return 0, errors.New("sim cannot decode invoice amounts; pass one explicitly")
	}
	fee, _ := s.EstimateFee(ctx, model.MethodLightning, *amount)
	if err := s.debit(*amount + fee); err != nil {
		return 0, err
	}
	s.settle(model.MethodLightning, *amount, fee, bolt11)
	return fee, nil
}

func (s *Sim) SendToAddress(ctx context.Context, address string, amount model.Amount, ledger model.Ledger) (model.Amount, error) {
	method := model.MethodOnchain
	if ledger == model.LedgerSpark {
		method = model.MethodSparkTransfer
	}
	fee, _ := s.EstimateFee(ctx, method, amount)
	if err := s.debit(amount + fee); err != nil {
		return 0, err
	}
	s.settle(method, amount, fee, address)
	return fee, nil
}

func (s *Sim) ListProviders(ctx context.Context) ([]model.ProviderDescriptor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.ProviderDescriptor, 0, len(s.providers))
	for _, p := range s.providers {
		out = append(out, p)
	}
	return out, nil
}

func (s *Sim) SelectProvider(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.providers[id]; !ok {
		return fmt.Errorf("unknown provider %q", id)
	}
	if s.failing[id] {
		return fmt.Errorf("provider %q refused connection", id)
	}
	s.active = id
	return nil
}

func (s *Sim) ProbeProvider(ctx context.Context, id string) (time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.providers[id]; !ok {
		return 0, fmt.Errorf("unknown provider %q", id)
	}
	if s.failing[id] {
		return 0, fmt.Errorf("probe %q: timeout", id)
	}
	return s.latency[id], nil
}

func (s *Sim) ChannelState(ctx context.Context) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return json.Marshal(map[string]any{
		"balance": s.balance,
		"active":  s.active,
	})
}

func (s *Sim) TriggerBackup(ctx context.Context) error { return nil }

func (s *Sim) Subscribe(fn func(PaymentEvent)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs, id)
	}
}

func (s *Sim) debit(total model.Amount) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if total > s.balance {
		return fmt.Errorf("balance %d short of %d", s.balance, total)
	}
	s.balance -= total
	return nil
}

func (s *Sim) settle(method model.Method, amount, fee model.Amount, target string) {
	s.publish(PaymentEvent{Kind: EventSettled, Payment: model.Payment{
		ID:        uuid.Must(uuid.NewV4()),
		CreatedAt: time.Now(),
		Method:    method,
		Amount:    amount,
		Fee:       fee,
		Target:    target,
	}})
}

func (s *Sim) publish(ev PaymentEvent) {
	s.mu.Lock()
	fns := make([]func(PaymentEvent), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.mu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}
