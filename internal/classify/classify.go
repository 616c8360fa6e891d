// Package classify turns an arbitrary pasted or scanned string into a
// typed payment request. Classification is pure and total: every input
// maps to exactly one variant, unmatched input yields Unrecognized.
package classify

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/emberwallet/core/internal/model"
)

// Matching is first-match-wins, prefixes compared case-insensitively:
//
//  1. lnbc/lntb/lnbcrt invoice, bare or wrapped in a lightning: URI
//  2. bitcoin: URI (a lightning= query param takes precedence)
//  3. spark: address
//  4. lnurl, bare or as an https URL containing "lnurl"
//  5. bare alphanumeric string of length 40..80 (spark address heuristic)
func Classify(raw string) model.PaymentRequest {
	s := strings.TrimSpace(raw)
	if s == "" {
		return model.Unrecognized{Raw: raw}
	}
	lower := strings.ToLower(s)

	if inv, ok := strings.CutPrefix(lower, "lightning:"); ok {
		if isInvoice(inv) {
			return lightningInvoice(s[len("lightning:"):])
		}
		return model.Unrecognized{Raw: raw}
	}
	if isInvoice(lower) {
		return lightningInvoice(s)
	}

	if rest, ok := strings.CutPrefix(lower, "bitcoin:"); ok {
		return bitcoinURI(s[len(s)-len(rest):])
	}

	if strings.HasPrefix(lower, "spark:") {
		return model.AlternateLedgerAddress{Address: s[len("spark:"):]}
	}

	if strings.HasPrefix(lower, "lnurl") ||
		(strings.HasPrefix(lower, "https://") && strings.Contains(lower, "lnurl")) {
		if strings.Contains(lower, "withdraw") {
			return model.WithdrawRequest{}
		}
		return model.PayRequest{}
	}

	// Address length bounds are heuristic and intentionally permissive.
	if n := len(s); n >= 40 && n <= 80 && isAlphanumeric(s) {
		return model.AlternateLedgerAddress{Address: s}
	}

	return model.Unrecognized{Raw: raw}
}

var invoicePrefixes = []string{"lnbcrt", "lnbc", "lntb"}

// isInvoice reports whether the lowercase string starts with a BOLT11
// human-readable prefix. lnbcrt must be tried before lnbc.
func isInvoice(lower string) bool {
	for _, p := range invoicePrefixes {
		if strings.HasPrefix(lower, p) {
			return true
		}
	}
	return false
}

// lightningInvoice extracts the optional amount encoded in the invoice
// prefix digits. The multiplier suffix scales the digit value into
// millisatoshi; absent digits mean the invoice does not fix an amount.
func lightningInvoice(inv string) model.PaymentRequest {
	lower := strings.ToLower(inv)
	req := model.LightningInvoice{
		Invoice: inv,
		Hash:    hashHex(lower),
	}

	hrp := lower
	for _, p := range invoicePrefixes {
		if rest, ok := strings.CutPrefix(lower, p); ok {
			hrp = rest
			break
		}
	}
	digits := 0
	var value int64
	for digits < len(hrp) && hrp[digits] >= '0' && hrp[digits] <= '9' {
		value = value*10 + int64(hrp[digits]-'0')
		digits++
	}
	if digits == 0 || digits >= len(hrp) {
		return req
	}

	// An amount is only present when a known multiplier follows the
	// digits. A bare trailing "1" is the bech32 separator of an
	// amountless invoice, not a value.
	var msat int64
	switch hrp[digits] {
	case 'm':
		msat = value * 100_000_000
	case 'u':
		msat = value * 100_000
	case 'n':
		msat = value * 100
	case 'p':
		msat = value / 10
	default:
		return req
	}
	if msat == 0 {
		// "lnbc1p..." reads as 0.1 msat but is really an amountless
		// invoice whose data part starts with 'p'.
		return req
	}
	amt := model.Amount(msat)
	req.Amount = &amt
	return req
}

// bitcoinURI handles BIP21 fallback semantics: the URI names an
// on-chain address, but a sibling lightning param takes precedence when
// it classifies as a usable invoice.
func bitcoinURI(rest string) model.PaymentRequest {
	address := rest
	var query string
	if i := strings.IndexByte(rest, '?'); i >= 0 {
		address, query = rest[:i], rest[i+1:]
	}
	for _, kv := range strings.Split(query, "&") {
		key, v, ok := strings.Cut(kv, "=")
		// Param keys match case-insensitively; the value keeps its case.
		if !ok || strings.ToLower(key) != "lightning" || v == "" {
			continue
		}
		if inner, isLN := Classify(v).(model.LightningInvoice); isLN {
			return inner
		}
	}
	return model.OnchainAddress{Address: address}
}

func isAlphanumeric(s string) bool {
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		default:
			return false
		}
	}
	return true
}

func hashHex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
