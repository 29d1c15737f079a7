package handler

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	mw "github.com/kiranshivaraju/eventgate/internal/api/middleware"
	"github.com/kiranshivaraju/eventgate/internal/api/response"
	"github.com/kiranshivaraju/eventgate/internal/auth"
	"github.com/kiranshivaraju/eventgate/pkg/models"
)

const maxBodyBytes = 1 << 20

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	return io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	body, err := readBody(w, r)
	if err == nil {
		err = json.Unmarshal(body, v)
	}
	if err != nil {
		response.Error(w, http.StatusBadRequest, "Invalid JSON body")
		return false
	}
	return true
}

// principal returns the caller or writes 401 when the request was not authenticated.
func principal(w http.ResponseWriter, r *http.Request) (*auth.Principal, bool) {
	p, ok := mw.GetPrincipal(r)
	if !ok {
		response.Error(w, http.StatusUnauthorized, auth.ErrMissingCredential.Error())
	}
	return p, ok
}

// scopedAccount returns the account a caller may act on. Admins may name any
// account, or none for all accounts; everyone else is confined to their own.
func scopedAccount(w http.ResponseWriter, p *auth.Principal, requested string) (string, bool) {
	if p.Tier == models.TierAdmin {
		return requested, true
	}
	if requested == "" || requested == p.Account {
		return p.Account, true
	}
	response.Error(w, http.StatusForbidden, fmt.Sprintf("Permiso denegado para la cuenta %s", requested))
	return "", false
}

// intParam parses an optional integer query parameter within [lo, hi].
func intParam(r *http.Request, name string, def, lo, hi int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < lo || n > hi {
		return 0, fmt.Errorf("%s debe ser un entero entre %d y %d", name, lo, hi)
	}
	return n, nil
}
