// Package auth resolves API keys to an account and permission tier, checks
// the administrative secret, and compares tiers.
package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"

	"github.com/kiranshivaraju/eventgate/internal/store"
	"github.com/kiranshivaraju/eventgate/pkg/models"
	"golang.org/x/crypto/bcrypt"
)

// Principal is the caller identity attached to a request after a gate passes.
type Principal struct {
	Account      string
	Tier         models.Tier
	CredentialID string
	// AdminSecret is set when the caller authenticated with x-admin-key
	// instead of an API key. Such principals have no CredentialID.
	AdminSecret bool
}

// CredentialLookup finds an active credential by key hash.
type CredentialLookup interface {
	GetActiveCredentialByHash(ctx context.Context, keyHash string) (*models.Credential, error)
}

// Gate resolves raw API keys against the credential store.
type Gate struct {
	lookup CredentialLookup
}

func NewGate(lookup CredentialLookup) *Gate {
	return &Gate{lookup: lookup}
}

// Resolve hashes raw and returns the principal of the matching active credential.
// It returns ErrMissingCredential for an empty key and ErrInvalidCredential
// when no active credential matches. Other errors come from the store.
func (g *Gate) Resolve(ctx context.Context, raw string) (*Principal, error) {
	if raw == "" {
		return nil, ErrMissingCredential
	}

	cred, err := g.lookup.GetActiveCredentialByHash(ctx, HashKey(raw))
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrInvalidCredential
	}
	if err != nil {
		return nil, fmt.Errorf("looking up credential: %w", err)
	}
	if !cred.Active {
		return nil, ErrInvalidCredential
	}

	return &Principal{
		Account:      cred.Account,
		Tier:         cred.Tier,
		CredentialID: cred.ID.String(),
	}, nil
}

// AdminSecret checks the process-wide administrative secret. Exactly one of
// plain or bcryptHash is expected to be set.
type AdminSecret struct {
	plain      []byte
	bcryptHash []byte
}

func NewAdminSecret(plain, bcryptHash string) *AdminSecret {
	return &AdminSecret{plain: []byte(plain), bcryptHash: []byte(bcryptHash)}
}

// Check returns the implicit admin principal when presented matches.
func (a *AdminSecret) Check(presented string) (*Principal, error) {
	if presented == "" {
		return nil, ErrMissingAdminSecret
	}

	var ok bool
	switch {
	case len(a.bcryptHash) > 0:
		ok = bcrypt.CompareHashAndPassword(a.bcryptHash, []byte(presented)) == nil
	case len(a.plain) > 0:
		ok = subtle.ConstantTimeCompare(a.plain, []byte(presented)) == 1
	}
	if !ok {
		return nil, ErrInvalidAdminSecret
	}

	return &Principal{Tier: models.TierAdmin, AdminSecret: true}, nil
}
