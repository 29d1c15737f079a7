package auth_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/eventgate/internal/auth"
	"github.com/kiranshivaraju/eventgate/internal/store"
	"github.com/kiranshivaraju/eventgate/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

type erroringLookup struct{}

func (erroringLookup) GetActiveCredentialByHash(context.Context, string) (*models.Credential, error) {
	return nil, errors.New("too many connections")
}

func issue(t *testing.T, ms *store.MemoryStore, account string, tier models.Tier) (string, *models.Credential) {
	t.Helper()
	raw := auth.GenerateKey()
	cred := &models.Credential{
		ID:        uuid.New(),
		KeyHash:   auth.HashKey(raw),
		Account:   account,
		Tier:      tier,
		CreatedAt: time.Now(),
	}
	require.NoError(t, ms.CreateCredential(context.Background(), cred))
	return raw, cred
}

// --- Keys ---

func TestHashKey_KnownDigest(t *testing.T) {
	assert.Equal(t,
		"2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824",
		auth.HashKey("hello"))
}

func TestGenerateKey(t *testing.T) {
	k1, k2 := auth.GenerateKey(), auth.GenerateKey()
	assert.Regexp(t, `^[0-9a-f]{32}$`, k1)
	assert.NotEqual(t, k1, k2)
}

// --- Gate ---

func TestResolve_ValidKeys(t *testing.T) {
	ms := store.NewMemoryStore()
	ctx := context.Background()
	for _, code := range []string{"A1", "B2"} {
		require.NoError(t, ms.CreateAccount(ctx, &models.Account{Code: code, Name: code}))
	}
	rawA, credA := issue(t, ms, "A1", models.TierWrite)
	rawB, _ := issue(t, ms, "B2", models.TierRead)

	gate := auth.NewGate(ms)

	p, err := gate.Resolve(ctx, rawA)
	require.NoError(t, err)
	assert.Equal(t, "A1", p.Account)
	assert.Equal(t, models.TierWrite, p.Tier)
	assert.Equal(t, credA.ID.String(), p.CredentialID)
	assert.False(t, p.AdminSecret)

	p, err = gate.Resolve(ctx, rawB)
	require.NoError(t, err)
	assert.Equal(t, "B2", p.Account)
}

func TestResolve_Rejections(t *testing.T) {
	ms := store.NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, ms.CreateAccount(ctx, &models.Account{Code: "A1", Name: "A1"}))
	raw, _ := issue(t, ms, "A1", models.TierAdmin)
	gate := auth.NewGate(ms)

	_, err := gate.Resolve(ctx, "")
	assert.ErrorIs(t, err, auth.ErrMissingCredential)

	_, err = gate.Resolve(ctx, "not-a-real-key")
	assert.ErrorIs(t, err, auth.ErrInvalidCredential)

	require.NoError(t, ms.DeactivateCredentialByHash(ctx, auth.HashKey(raw)))
	_, err = gate.Resolve(ctx, raw)
	assert.ErrorIs(t, err, auth.ErrInvalidCredential)
}

func TestResolve_StoreError(t *testing.T) {
	_, err := auth.NewGate(erroringLookup{}).Resolve(context.Background(), "abc")
	require.Error(t, err)
	assert.NotErrorIs(t, err, auth.ErrInvalidCredential)
	assert.NotErrorIs(t, err, auth.ErrMissingCredential)
}

// --- Admin secret ---

func TestAdminSecret_Plain(t *testing.T) {
	a := auth.NewAdminSecret("s3cret", "")

	p, err := a.Check("s3cret")
	require.NoError(t, err)
	assert.Equal(t, models.TierAdmin, p.Tier)
	assert.True(t, p.AdminSecret)
	assert.Empty(t, p.CredentialID)

	_, err = a.Check("")
	assert.ErrorIs(t, err, auth.ErrMissingAdminSecret)

	_, err = a.Check("s3cre")
	assert.ErrorIs(t, err, auth.ErrInvalidAdminSecret)
}

func TestAdminSecret_Bcrypt(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	require.NoError(t, err)
	a := auth.NewAdminSecret("", string(hash))

	_, err = a.Check("s3cret")
	assert.NoError(t, err)

	_, err = a.Check("wrong")
	assert.ErrorIs(t, err, auth.ErrInvalidAdminSecret)
}

func TestAdminSecret_Unconfigured(t *testing.T) {
	_, err := auth.NewAdminSecret("", "").Check("anything")
	assert.ErrorIs(t, err, auth.ErrInvalidAdminSecret)
}

// --- Tiers ---

func TestRequireTier_Grid(t *testing.T) {
	tiers := []models.Tier{models.TierAdmin, models.TierWrite, models.TierRead, models.Tier("guest")}
	levels := map[models.Tier]int{models.TierAdmin: 3, models.TierWrite: 2, models.TierRead: 1, "guest": 0}

	for _, resolved := range tiers {
		for _, required := range tiers {
			t.Run(fmt.Sprintf("%s_for_%s", resolved, required), func(t *testing.T) {
				err := auth.RequireTier(resolved, required)
				if levels[resolved] >= levels[required] {
					assert.NoError(t, err)
					return
				}
				var perm *auth.InsufficientPermissionError
				require.ErrorAs(t, err, &perm)
				assert.Equal(t, required, perm.Required)
				assert.Equal(t, "Permiso denegado. Se requiere role: "+string(required), err.Error())
			})
		}
	}
}

func TestLevel_Empty(t *testing.T) {
	assert.Equal(t, 0, auth.Level(""))
}
