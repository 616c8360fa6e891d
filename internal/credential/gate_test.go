package credential

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/emberwallet/core/internal/errs"
	"github.com/emberwallet/core/internal/securestore"
)

func allowAuth(ctx context.Context, reason string) error { return nil }

func newTestGate(t *testing.T, auth securestore.Authenticator) *Gate {
	t.Helper()
	store, err := securestore.NewFileStore(
		filepath.Join(t.TempDir(), "store.enc"), []byte("device secret"), auth)
	require.NoError(t, err)
	g, err := NewGate(store, auth, zap.NewNop())
	require.NoError(t, err)
	return g
}

func TestRecoveryPhrase_GenerateValidateStore(t *testing.T) {
	ctx := context.Background()
	g := newTestGate(t, securestore.AuthenticatorFunc(allowAuth))

	phrase, err := g.GenerateRecoveryPhrase()
	require.NoError(t, err)
	assert.Len(t, strings.Fields(phrase), 24)
	assert.True(t, g.ValidateRecoveryPhrase(phrase))

	assert.False(t, g.HasSeed(ctx))
	require.NoError(t, g.StoreSeed(ctx, phrase))
	assert.True(t, g.HasSeed(ctx))
}

func TestStoreSeed_RejectsInvalidPhrase(t *testing.T) {
	ctx := context.Background()
	g := newTestGate(t, securestore.AuthenticatorFunc(allowAuth))

	err := g.StoreSeed(ctx, "definitely not a valid mnemonic phrase at all no")
	require.Error(t, err)
	assert.False(t, g.HasSeed(ctx))
}

func TestRevealSeed_FreshAuthEveryTime(t *testing.T) {
	ctx := context.Background()
	var calls int
	auth := securestore.AuthenticatorFunc(func(ctx context.Context, reason string) error {
		calls++
		return nil
	})
	g := newTestGate(t, auth)

	phrase, err := g.GenerateRecoveryPhrase()
	require.NoError(t, err)
	require.NoError(t, g.StoreSeed(ctx, phrase))
	calls = 0

	seed1, err := g.RevealSeed(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, seed1)
	assert.Equal(t, 1, calls)

	seed2, err := g.RevealSeed(ctx)
	require.NoError(t, err)
	assert.Equal(t, seed1, seed2)
	assert.Equal(t, 2, calls, "prior success never satisfies a later reveal")
}

func TestRevealSeed_AuthRefusal(t *testing.T) {
	ctx := context.Background()
	denied := errors.New("user cancelled")
	auth := securestore.AuthenticatorFunc(func(ctx context.Context, reason string) error {
		return denied
	})
	g := newTestGate(t, auth)

	// Writes are not gated, only the protected read is.
	phrase, err := g.GenerateRecoveryPhrase()
	require.NoError(t, err)
	require.NoError(t, g.StoreSeed(ctx, phrase))

	_, err = g.RevealSeed(ctx)
	require.ErrorIs(t, err, errs.ErrAuthenticationFailed)
}

func TestExportPhrase_RoundTrip(t *testing.T) {
	ctx := context.Background()
	g := newTestGate(t, securestore.AuthenticatorFunc(allowAuth))

	phrase, err := g.GenerateRecoveryPhrase()
	require.NoError(t, err)
	require.NoError(t, g.StoreSeed(ctx, phrase))

	got, err := g.ExportPhrase(ctx)
	require.NoError(t, err)
	assert.Equal(t, phrase, got)
}

func TestAuthenticate_SessionSingleUse(t *testing.T) {
	ctx := context.Background()
	g := newTestGate(t, securestore.AuthenticatorFunc(allowAuth))

	session, err := g.Authenticate(ctx, "delete wallet")
	require.NoError(t, err)
	require.NotEmpty(t, session.Token)
	assert.True(t, session.ExpiresAt.After(session.IssuedAt))

	require.NoError(t, g.Consume(session.Token))
	err = g.Consume(session.Token)
	require.ErrorIs(t, err, errs.ErrAuthenticationFailed, "second redemption fails")
}

func TestConsume_RejectsForgedAndExpired(t *testing.T) {
	ctx := context.Background()
	g := newTestGate(t, securestore.AuthenticatorFunc(allowAuth))

	require.ErrorIs(t, g.Consume("not a token"), errs.ErrAuthenticationFailed)

	// A token minted by an unrelated gate carries the wrong signature.
	other := newTestGate(t, securestore.AuthenticatorFunc(allowAuth))
	foreign, err := other.Authenticate(ctx, "x")
	require.NoError(t, err)
	require.ErrorIs(t, g.Consume(foreign.Token), errs.ErrAuthenticationFailed)

	// Expiry is checked at redemption against the session record.
	session, err := g.Authenticate(ctx, "x")
	require.NoError(t, err)
	g.now = func() time.Time { return time.Now().Add(2 * sessionTTL) }
	require.ErrorIs(t, g.Consume(session.Token), errs.ErrAuthenticationFailed)
}

func TestAuthenticate_RefusalMintsNothing(t *testing.T) {
	ctx := context.Background()
	auth := securestore.AuthenticatorFunc(func(ctx context.Context, reason string) error {
		return errors.New("no")
	})
	g := newTestGate(t, auth)

	_, err := g.Authenticate(ctx, "delete wallet")
	require.ErrorIs(t, err, errs.ErrAuthenticationFailed)
	assert.Empty(t, g.sessions)
}

func TestClearAllData_WipesEverything(t *testing.T) {
	ctx := context.Background()
	g := newTestGate(t, securestore.AuthenticatorFunc(allowAuth))

	phrase, err := g.GenerateRecoveryPhrase()
	require.NoError(t, err)
	require.NoError(t, g.StoreSeed(ctx, phrase))
	flow := g.StartPinFlow(ctx)
	_, err = flow.Submit(ctx, "1111")
	require.NoError(t, err)
	_, err = flow.Submit(ctx, "1111")
	require.NoError(t, err)
	require.NoError(t, g.SetBiometric(ctx, true))

	session, err := g.Authenticate(ctx, "delete wallet")
	require.NoError(t, err)
	require.NoError(t, g.ClearAllData(ctx, session.Token))

	assert.False(t, g.HasSeed(ctx))
	assert.False(t, g.HasPin(ctx))
	assert.False(t, g.BiometricEnabled(ctx))
}

func TestClearAllData_RequiresLiveSession(t *testing.T) {
	ctx := context.Background()
	g := newTestGate(t, securestore.AuthenticatorFunc(allowAuth))
	phrase, err := g.GenerateRecoveryPhrase()
	require.NoError(t, err)
	require.NoError(t, g.StoreSeed(ctx, phrase))

	err = g.ClearAllData(ctx, "stale-or-forged")
	require.ErrorIs(t, err, errs.ErrAuthenticationFailed)
	assert.True(t, g.HasSeed(ctx), "refused clear touches nothing")

	// A consumed session cannot be replayed into a clear.
	session, err := g.Authenticate(ctx, "delete wallet")
	require.NoError(t, err)
	require.NoError(t, g.Consume(session.Token))
	err = g.ClearAllData(ctx, session.Token)
	require.ErrorIs(t, err, errs.ErrAuthenticationFailed)
	assert.True(t, g.HasSeed(ctx))
}

func TestAuditTrail_Records(t *testing.T) {
	ctx := context.Background()
	g := newTestGate(t, securestore.AuthenticatorFunc(allowAuth))

	g.RecordAudit(ctx, "backup local abc123")
	g.RecordAudit(ctx, "backup cloud def456")

	trail := g.AuditTrail()
	require.Len(t, trail, 2)
	assert.Equal(t, "backup local abc123", trail[0].Event)
	assert.False(t, trail[0].At.IsZero())
}
