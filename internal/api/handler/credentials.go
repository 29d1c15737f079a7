package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/eventgate/internal/api/response"
	"github.com/kiranshivaraju/eventgate/internal/auth"
	"github.com/kiranshivaraju/eventgate/internal/store"
	"github.com/kiranshivaraju/eventgate/pkg/models"
)

type CredentialStore interface {
	CreateCredential(ctx context.Context, cred *models.Credential) error
	DeactivateCredentialByHash(ctx context.Context, keyHash string) error
}

type issueKeyRequest struct {
	Account string  `json:"cuenta_codigo"`
	Name    *string `json:"nombre"`
	Tier    string  `json:"role"`
}

type issueKeyResponse struct {
	APIKey  string      `json:"api_key"`
	Account string      `json:"cuenta_codigo"`
	Name    *string     `json:"nombre"`
	Tier    models.Tier `json:"role"`
}

// NewIssueKeyHandler returns an http.HandlerFunc for POST /admin/api-keys.
// The raw key appears only in this response; the store keeps its hash.
func NewIssueKeyHandler(creds CredentialStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req issueKeyRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		req.Account = strings.TrimSpace(req.Account)
		if req.Account == "" {
			response.Error(w, http.StatusBadRequest, "cuenta_codigo requerido")
			return
		}

		tier := models.Tier(req.Tier)
		if !tier.Valid() {
			tier = models.TierRead
		}

		raw := auth.GenerateKey()
		cred := &models.Credential{
			ID:        uuid.New(),
			KeyHash:   auth.HashKey(raw),
			Account:   req.Account,
			Name:      req.Name,
			Tier:      tier,
			CreatedAt: time.Now().UTC(),
		}

		err := creds.CreateCredential(r.Context(), cred)
		if errors.Is(err, store.ErrInvalidAccount) {
			response.Error(w, http.StatusBadRequest, "La cuenta no existe")
			return
		}
		if err != nil {
			slog.Error("issue api key failed", "account", req.Account, "error", err)
			response.Error(w, http.StatusInternalServerError, "Error creando API Key")
			return
		}

		slog.Info("api key issued", "account", req.Account, "role", tier, "credential_id", cred.ID)
		response.Created(w, issueKeyResponse{
			APIKey:  raw,
			Account: req.Account,
			Name:    req.Name,
			Tier:    tier,
		})
	}
}

// NewRevokeKeyHandler returns an http.HandlerFunc for POST /admin/api-keys/revoke.
func NewRevokeKeyHandler(creds CredentialStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			APIKey string `json:"api_key"`
		}
		if !decodeJSON(w, r, &req) {
			return
		}
		if req.APIKey == "" {
			response.Error(w, http.StatusBadRequest, "api_key requerida")
			return
		}

		err := creds.DeactivateCredentialByHash(r.Context(), auth.HashKey(req.APIKey))
		if errors.Is(err, store.ErrNotFound) {
			response.Error(w, http.StatusNotFound, "API Key no encontrada")
			return
		}
		if err != nil {
			slog.Error("revoke api key failed", "error", err)
			response.Error(w, http.StatusInternalServerError, "Error revocando API Key")
			return
		}

		response.JSON(w, map[string]bool{"revoked": true})
	}
}
