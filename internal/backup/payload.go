package backup

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/emberwallet/core/internal/errs"
)

// payloadVersion tags the snapshot layout. Bump on any field change so
// old snapshots stay verifiable under their own digest.
const payloadVersion = 1

// Payload is one wallet-state snapshot. Hash is the hex sha256 over
// the canonical JSON serialization with Hash itself set to the empty
// string; struct field order fixes the byte layout, so verification is
// bit-exact and order-stable.
type Payload struct {
	Version   int64  `json:"version"`
	CreatedAt int64  `json:"created_at"` // unix nanoseconds
	Channels  []byte `json:"channels"`   // opaque node channel-state blob
	Hash      string `json:"hash"`
}

// digest computes the canonical hash of p with the Hash field cleared.
func digest(p Payload) (string, error) {
	p.Hash = ""
	raw, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("canonical serialization: %w", err)
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}

// seal embeds the canonical digest into the payload.
func seal(p Payload) (Payload, error) {
	h, err := digest(p)
	if err != nil {
		return Payload{}, err
	}
	p.Hash = h
	return p, nil
}

// Verify decodes a serialized snapshot and recomputes its digest.
// A mismatch or an undecodable payload reports ErrBackupIntegrity.
func Verify(data []byte) error {
	var p Payload
	if err := json.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("%w: decode: %w", errs.ErrBackupIntegrity, err)
	}
	want, err := digest(p)
	if err != nil {
		return fmt.Errorf("%w: %w", errs.ErrBackupIntegrity, err)
	}
	if subtle.ConstantTimeCompare([]byte(want), []byte(p.Hash)) != 1 {
		return fmt.Errorf("%w: digest mismatch", errs.ErrBackupIntegrity)
	}
	return nil
}
