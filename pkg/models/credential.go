package models

import (
	"time"

	"github.com/google/uuid"
)

// Tier is an ordered permission level: admin > write > read.
type Tier string

const (
	TierAdmin Tier = "admin"
	TierWrite Tier = "write"
	TierRead  Tier = "read"
)

// Valid reports whether t is one of the known tiers.
func (t Tier) Valid() bool {
	switch t {
	case TierAdmin, TierWrite, TierRead:
		return true
	}
	return false
}

// Credential is an API key bound to one account and one tier.
// The raw key is shown once at issuance; only its SHA-256 hash is stored.
type Credential struct {
	ID        uuid.UUID `db:"id"            json:"id"`
	KeyHash   string    `db:"key_hash"      json:"-"`
	Account   string    `db:"cuenta_codigo" json:"cuenta_codigo"`
	Name      *string   `db:"nombre"        json:"nombre"`
	Tier      Tier      `db:"role"          json:"role"`
	Active    bool      `db:"activo"        json:"activo"`
	CreatedAt time.Time `db:"creado_en"     json:"creado_en"`
}
