package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/kiranshivaraju/eventgate/internal/api/response"
	"github.com/kiranshivaraju/eventgate/internal/store"
	"github.com/kiranshivaraju/eventgate/pkg/models"
)

type AccountStore interface {
	CreateAccount(ctx context.Context, account *models.Account) error
	ListAccounts(ctx context.Context) ([]*models.Account, error)
}

type createAccountRequest struct {
	Code    string   `json:"codigo"`
	Name    string   `json:"nombre"`
	Address *string  `json:"direccion"`
	Phone   *string  `json:"telefono"`
	Lat     *float64 `json:"lat"`
	Lng     *float64 `json:"lng"`
}

// NewCreateAccountHandler returns an http.HandlerFunc for POST /cuentas.
func NewCreateAccountHandler(accounts AccountStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createAccountRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		req.Code = strings.TrimSpace(req.Code)
		req.Name = strings.TrimSpace(req.Name)
		if req.Code == "" || req.Name == "" {
			response.Error(w, http.StatusBadRequest, "codigo y nombre son obligatorios")
			return
		}

		account := &models.Account{
			Code:    req.Code,
			Name:    req.Name,
			Address: req.Address,
			Phone:   req.Phone,
			Lat:     req.Lat,
			Lng:     req.Lng,
		}
		err := accounts.CreateAccount(r.Context(), account)
		if errors.Is(err, store.ErrDuplicateKey) {
			response.Error(w, http.StatusConflict, "La cuenta ya existe")
			return
		}
		if err != nil {
			slog.Error("create account failed", "codigo", req.Code, "error", err)
			response.Error(w, http.StatusInternalServerError, "Error creando cuenta")
			return
		}

		slog.Info("account created", "codigo", req.Code)
		response.Created(w, map[string]any{"ok": true, "codigo": req.Code})
	}
}

// NewListAccountsHandler returns an http.HandlerFunc for GET /cuentas.
// Admins see every account; other callers see only their own.
func NewListAccountsHandler(accounts AccountStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, ok := principal(w, r)
		if !ok {
			return
		}

		list, err := accounts.ListAccounts(r.Context())
		if err != nil {
			slog.Error("list accounts failed", "error", err)
			response.Error(w, http.StatusInternalServerError, "Error listando cuentas")
			return
		}

		out := make([]*models.Account, 0, len(list))
		for _, a := range list {
			if p.Tier == models.TierAdmin || a.Code == p.Account {
				out = append(out, a)
			}
		}
		response.JSON(w, out)
	}
}
