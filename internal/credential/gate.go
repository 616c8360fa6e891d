// Package credential is the authentication and key-material boundary
// of the wallet core. It owns the recovery phrase lifecycle, the PIN
// lifecycle, and the ephemeral sessions that gate irreversible
// actions. It is the only caller of the secure store.
package credential

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/emberwallet/core/internal/crypto"
	"github.com/emberwallet/core/internal/errs"
	"github.com/emberwallet/core/internal/model"
	"github.com/emberwallet/core/internal/securestore"
)

// Secure-store keys owned by the gate.
const (
	keySeed        = "seed"
	keyFingerprint = "seed.fingerprint"
	keyMnemonic    = "mnemonic"
	keyPinHash     = "pin.hash"
	keyPinSalt     = "pin.salt"
	keyBiometric   = "biometric.enabled"
	keyBackupStamp = "backup.stamp"
)

// sessionTTL bounds how long a minted session stays redeemable.
const sessionTTL = time.Minute

// AuditEntry is one line of the gate's audit trail.
type AuditEntry struct {
	At    time.Time
	Event string
}

// Gate guards seed material and PIN state behind explicit
// authentication. Sessions it mints are in-memory, single-use, and
// expire after one minute.
type Gate struct {
	store   securestore.Store
	auth    securestore.Authenticator
	logger  *zap.Logger
	now     func() time.Time
	signKey []byte

	mu       sync.Mutex
	sessions map[string]model.CredentialSession
	lock     *lockout
	audit    []AuditEntry
}

func NewGate(store securestore.Store, auth securestore.Authenticator, logger *zap.Logger) (*Gate, error) {
	signKey, err := crypto.RandBytes(32)
	if err != nil {
		return nil, fmt.Errorf("session sign key: %w", err)
	}
	now := time.Now
	return &Gate{
		store:    store,
		auth:     auth,
		logger:   logger,
		now:      now,
		signKey:  signKey,
		sessions: make(map[string]model.CredentialSession),
		lock:     newLockout(now),
	}, nil
}

// GenerateRecoveryPhrase draws 256 bits of CSPRNG entropy and maps
// them to a 24-word checksummed mnemonic.
func (g *Gate) GenerateRecoveryPhrase() (string, error) {
	return crypto.GenerateMnemonic()
}

// ValidateRecoveryPhrase checks wordlist membership and the checksum.
func (g *Gate) ValidateRecoveryPhrase(phrase string) bool {
	return crypto.ValidateMnemonic(phrase)
}

// StoreSeed derives and persists the seed from a valid recovery
// phrase, plus a fingerprint for later verification. The literal
// phrase lands only under the biometric-gated export key.
func (g *Gate) StoreSeed(ctx context.Context, phrase string) error {
	phrase = strings.TrimSpace(phrase)
	if !crypto.ValidateMnemonic(phrase) {
		return fmt.Errorf("store seed: %w", errs.ErrInvalidState)
	}
	seed := crypto.SeedFromMnemonic(phrase)
	fp, err := crypto.SeedFingerprint(seed)
	if err != nil {
		return fmt.Errorf("seed fingerprint: %w", err)
	}
	if err := g.store.Set(ctx, keySeed, seed); err != nil {
		return fmt.Errorf("persist seed: %w", err)
	}
	if err := g.store.Set(ctx, keyFingerprint, []byte(fp)); err != nil {
		return fmt.Errorf("persist fingerprint: %w", err)
	}
	if err := g.store.Set(ctx, keyMnemonic, []byte(phrase)); err != nil {
		return fmt.Errorf("persist phrase: %w", err)
	}
	g.RecordAudit(ctx, "seed stored "+fp)
	return nil
}

// HasSeed reports whether a seed has been stored.
func (g *Gate) HasSeed(ctx context.Context) bool {
	_, err := g.store.Get(ctx, keySeed)
	return err == nil
}

// RevealSeed returns the seed bytes after a fresh authentication. The
// check runs immediately before every reveal; no prior success, and no
// live session, satisfies it.
func (g *Gate) RevealSeed(ctx context.Context) ([]byte, error) {
	seed, err := g.store.GetProtected(ctx, keySeed, "reveal wallet seed")
	if err != nil {
		return nil, err
	}
	g.RecordAudit(ctx, "seed revealed")
	return seed, nil
}

// ExportPhrase is the explicitly-authenticated backup-export path for
// the literal recovery phrase.
func (g *Gate) ExportPhrase(ctx context.Context) (string, error) {
	phrase, err := g.store.GetProtected(ctx, keyMnemonic, "export recovery phrase")
	if err != nil {
		return "", err
	}
	g.RecordAudit(ctx, "recovery phrase exported")
	return string(phrase), nil
}

// Authenticate runs the platform check and, on success, mints a
// single-use session token for one gated operation.
func (g *Gate) Authenticate(ctx context.Context, reason string) (model.CredentialSession, error) {
	if g.auth == nil {
		return model.CredentialSession{}, errs.ErrAuthenticationRequired
	}
	if err := g.auth.Authenticate(ctx, reason); err != nil {
		return model.CredentialSession{}, fmt.Errorf("%w: %w", errs.ErrAuthenticationFailed, err)
	}

	id := uuid.Must(uuid.NewV4())
	now := g.now()
	exp := now.Add(sessionTTL)
	claims := jwt.RegisteredClaims{
		ID:        id.String(),
		Subject:   "credential-gate",
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(g.signKey)
	if err != nil {
		return model.CredentialSession{}, fmt.Errorf("sign session: %w", err)
	}

	session := model.CredentialSession{ID: id, Token: signed, IssuedAt: now, ExpiresAt: exp}
	g.mu.Lock()
	g.sessions[id.String()] = session
	g.mu.Unlock()
	return session, nil
}

// Consume redeems a session token. Tokens are strictly single-use;
// the session is destroyed whether the gated operation then succeeds
// or fails.
func (g *Gate) Consume(token string) error {
	parsed, err := jwt.ParseWithClaims(token, &jwt.RegisteredClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return g.signKey, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !parsed.Valid {
		return fmt.Errorf("%w: invalid session token", errs.ErrAuthenticationFailed)
	}
	claims := parsed.Claims.(*jwt.RegisteredClaims)

	g.mu.Lock()
	defer g.mu.Unlock()
	session, ok := g.sessions[claims.ID]
	if !ok {
		return fmt.Errorf("%w: session already used", errs.ErrAuthenticationFailed)
	}
	delete(g.sessions, claims.ID)
	if g.now().After(session.ExpiresAt) {
		return fmt.Errorf("%w: session expired", errs.ErrAuthenticationFailed)
	}
	return nil
}

// ClearAllData irreversibly wipes every key the gate owns in one
// atomic store write. It consumes a freshly minted session token.
func (g *Gate) ClearAllData(ctx context.Context, token string) error {
	if err := g.Consume(token); err != nil {
		return err
	}
	err := g.store.DeleteAll(ctx,
		keySeed, keyFingerprint, keyMnemonic,
		keyPinHash, keyPinSalt, keyBiometric, keyBackupStamp)
	if err != nil {
		return fmt.Errorf("clear wallet data: %w", err)
	}
	g.RecordAudit(ctx, "all wallet data cleared")
	g.logger.Warn("wallet data cleared")
	return nil
}

// SetBiometric toggles the biometric-unlock flag.
func (g *Gate) SetBiometric(ctx context.Context, enabled bool) error {
	v := []byte("0")
	if enabled {
		v = []byte("1")
	}
	return g.store.Set(ctx, keyBiometric, v)
}

// BiometricEnabled reports the biometric-unlock flag.
func (g *Gate) BiometricEnabled(ctx context.Context) bool {
	v, err := g.store.Get(ctx, keyBiometric)
	return err == nil && string(v) == "1"
}

// RecordAudit appends an event to the in-memory audit trail. The
// backup coordinator calls it after every completed backup.
func (g *Gate) RecordAudit(_ context.Context, event string) {
	g.mu.Lock()
	g.audit = append(g.audit, AuditEntry{At: g.now(), Event: event})
	g.mu.Unlock()
	g.logger.Info("audit", zap.String("event", event))
}

// AuditTrail returns a copy of the recorded entries, oldest first.
func (g *Gate) AuditTrail() []AuditEntry {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]AuditEntry, len(g.audit))
	copy(out, g.audit)
	return out
}
