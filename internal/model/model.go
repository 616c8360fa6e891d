// Package model defines domain entities used by services and repositories.
package model

import (
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/gofrs/uuid/v5"
)

// Amount is a monetary value in millisatoshi, the smallest subunit the
// core accounts in. Lightning amounts are native; on-chain amounts are
// converted at the node boundary.
type Amount int64

// Sats returns the amount in whole satoshi, truncating sub-sat precision.
func (a Amount) Sats() int64 { return int64(a) / 1000 }

// BTC returns the amount in bitcoin for display purposes.
func (a Amount) BTC() float64 { return btcutil.Amount(a.Sats()).ToBTC() }

// AmountFromSats converts whole satoshi to an Amount.
func AmountFromSats(sats int64) Amount { return Amount(sats * 1000) }

// Method identifies a fulfillment path for a prepared payment.
type Method string

const (
	MethodLightning     Method = "lightning"
	MethodOnchain       Method = "onchain"
	MethodSparkTransfer Method = "spark_transfer"
)

// Ledger identifies the settlement layer for an address send.
type Ledger string

const (
	LedgerBitcoin Ledger = "bitcoin"
	LedgerSpark   Ledger = "spark"
)

// PaymentRequest is the classified, typed meaning of a user-supplied
// payment string. It is a sealed variant: exactly one concrete type per
// recognized input shape, immutable once produced.
type PaymentRequest interface {
	paymentRequest()
}

// LightningInvoice is a BOLT11 invoice, optionally amount-fixed.
type LightningInvoice struct {
	Invoice     string  // raw bech32 invoice string
	Hash        string  // hex sha256 of the raw invoice, used as the attempt key
	Amount      *Amount // nil when the invoice does not fix an amount
	Description string
	Payee       string
	Expiry      int64 // seconds, 0 when unknown
}

// OnchainAddress is a plain Bitcoin address, possibly unwrapped from a
// bitcoin: URI.
type OnchainAddress struct {
	Address string
}

// AlternateLedgerAddress is a spark-ledger address.
type AlternateLedgerAddress struct {
	Address string
}

// AlternateLedgerInvoice is a spark-ledger payment request.
type AlternateLedgerInvoice struct {
	Amount      *Amount
	TokenID     string
	Description string
	Expiry      int64
}

// WithdrawRequest is an LNURL-withdraw offer.
type WithdrawRequest struct {
	Min Amount
	Max Amount
}

// PayRequest is an LNURL-pay offer.
type PayRequest struct {
	Min Amount
	Max Amount
}

// Unrecognized carries input no rule matched. Classification never
// fails; this is the neutral result.
type Unrecognized struct {
	Raw string
}

func (LightningInvoice) paymentRequest()       {}
func (OnchainAddress) paymentRequest()         {}
func (AlternateLedgerAddress) paymentRequest() {}
func (AlternateLedgerInvoice) paymentRequest() {}
func (WithdrawRequest) paymentRequest()        {}
func (PayRequest) paymentRequest()             {}
func (Unrecognized) paymentRequest()           {}

// PreparedPayment is an amount+fee quote bound to one specific request.
// It is valid only while DerivedFrom matches the current session input;
// any input or amount change discards it.
type PreparedPayment struct {
	Method      Method
	Amount      Amount
	FeeEstimate Amount
	DerivedFrom PaymentRequest
}

// ProviderDescriptor describes a Lightning liquidity provider the
// wallet can route through.
type ProviderDescriptor struct {
	ID          string
	Name        string
	Endpoint    string
	Pubkey      string // compressed secp256k1, hex
	BaseFee     Amount
	FeeRatePPM  int64
	MinCapacity Amount
	MaxCapacity Amount
	IsDefault   bool
}

// Fee computes the combined routing fee this provider would charge for
// the given amount: base + ppm-proportional part.
func (p ProviderDescriptor) Fee(amount Amount) Amount {
	return p.BaseFee + Amount(int64(amount)*p.FeeRatePPM/1_000_000)
}

// HealthRecord is the smoothed reliability signal for one provider.
// Records are created on first sight and updated in place, never
// deleted.
type HealthRecord struct {
	ProviderID    string
	LastCheckedAt time.Time
	IsHealthy     bool
	LatencyMs     int64
	SuccessRate   float64 // in [0,1]
	FailCount     int64
}

// BackupKind selects where a backup snapshot is persisted.
type BackupKind string

const (
	BackupLocal  BackupKind = "local"
	BackupCloud  BackupKind = "cloud"
	BackupManual BackupKind = "manual"
)

// BackupRecord is one hashed, timestamped snapshot of wallet-critical
// state. Conceptually append-only; physically rotated keeping the
// newest N.
type BackupRecord struct {
	ID          uuid.UUID
	Version     int64
	CreatedAt   time.Time
	PayloadHash string // hex sha256 of the canonical payload
	Kind        BackupKind
}

// BackupSummary is the persisted last-backup state.
type BackupSummary struct {
	LastBackupAt time.Time
	Kind         BackupKind
	Hash         string
}

// Payment is a settled history entry appended after execution.
type Payment struct {
	ID        uuid.UUID
	CreatedAt time.Time
	Method    Method
	Amount    Amount
	Fee       Amount
	Target    string // invoice hash or address
}

// CredentialSession is the ephemeral authorization window granted by a
// successful authentication. It lives in memory only, is single-use,
// and is destroyed when the gated operation completes or fails.
type CredentialSession struct {
	ID        uuid.UUID
	Token     string
	IssuedAt  time.Time
	ExpiresAt time.Time
}
