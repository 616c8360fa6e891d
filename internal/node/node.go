// Package node defines the boundary to the external Lightning/Bitcoin
// node service. The wire protocol behind it is out of scope; the core
// only depends on this interface.
package node

import (
	"context"
	"time"

	"github.com/emberwallet/core/internal/model"
)

// EventKind discriminates node notifications.
type EventKind string

const (
	// EventSettled fires when an outgoing payment settles. Consumers use
	// it to append history and refresh the balance; delivery is
	// at-least-once.
	EventSettled EventKind = "settled"
	// EventReceived fires when an incoming payment arrives.
	EventReceived EventKind = "received"
)

// PaymentEvent is a node-side payment notification.
type PaymentEvent struct {
	Kind    EventKind
	Payment model.Payment
}

// Service is the external node collaborator. All blocking calls take a
// context and return explicit errors.
type Service interface {
	// GetBalance returns the spendable balance.
	GetBalance(ctx context.Context) (model.Amount, error)

	// CreateInvoice asks the node for a fresh invoice.
	CreateInvoice(ctx context.Context, amount model.Amount, description string, expiry int64) (model.LightningInvoice, error)

	// PayInvoice executes a lightning payment. amount is required for
	// amountless invoices and must be nil otherwise. Returns the fee paid.
	PayInvoice(ctx context.Context, bolt11 string, amount *model.Amount) (model.Amount, error)

	// SendToAddress executes an on-chain or spark-ledger send. Returns
	// the fee paid.
	SendToAddress(ctx context.Context, address string, amount model.Amount, ledger model.Ledger) (model.Amount, error)

	// EstimateFee quotes the fee for a payment keyed by method.
	EstimateFee(ctx context.Context, method model.Method, amount model.Amount) (model.Amount, error)

	// ListProviders returns the liquidity providers the node knows.
	ListProviders(ctx context.Context) ([]model.ProviderDescriptor, error)

	// SelectProvider switches the node's active provider.
	SelectProvider(ctx context.Context, id string) error

	// ProbeProvider measures round-trip latency to a provider endpoint.
	ProbeProvider(ctx context.Context, id string) (time.Duration, error)

	// ChannelState returns the opaque channel-state blob included in
	// backups.
	ChannelState(ctx context.Context) ([]byte, error)

	// TriggerBackup asks the node to refresh its own backup state before
	// the blob is read.
	TriggerBackup(ctx context.Context) error

	// Subscribe registers a payment-event observer and returns its
	// cancel function. Observers must not block.
	Subscribe(fn func(PaymentEvent)) (cancel func())
}
