package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/kiranshivaraju/eventgate/internal/analytics"
	"github.com/kiranshivaraju/eventgate/internal/api/response"
	"github.com/kiranshivaraju/eventgate/pkg/models"
)

// Reporter reads the hourly analytics buckets.
type Reporter interface {
	Summary(ctx context.Context, account string, since time.Time) ([]models.TypeTotal, error)
	Series(ctx context.Context, account, eventType string, since time.Time) ([]*models.AnalyticsBucket, error)
	TopAccounts(ctx context.Context, since time.Time, limit int) ([]models.AccountTotal, error)
	Stats(ctx context.Context, account string, since time.Time) (analytics.Stats, error)
}

const (
	defaultDays  = 7
	maxDays      = 365
	defaultLimit = 10
	maxLimit     = 100
)

// period parses ?dias and returns it with the matching lower bound.
func period(w http.ResponseWriter, r *http.Request) (int, time.Time, bool) {
	days, err := intParam(r, "dias", defaultDays, 1, maxDays)
	if err != nil {
		response.Error(w, http.StatusBadRequest, err.Error())
		return 0, time.Time{}, false
	}
	return days, time.Now().AddDate(0, 0, -days), true
}

// reportAccount resolves the account an analytics read applies to. Admins
// must name one with ?cuenta; others default to their own.
func reportAccount(w http.ResponseWriter, r *http.Request) (string, bool) {
	p, ok := principal(w, r)
	if !ok {
		return "", false
	}
	account, ok := scopedAccount(w, p, r.URL.Query().Get("cuenta"))
	if !ok {
		return "", false
	}
	if account == "" {
		response.Error(w, http.StatusBadRequest, "cuenta requerida")
		return "", false
	}
	return account, true
}

// NewSummaryHandler returns an http.HandlerFunc for GET /analytics/resumen.
func NewSummaryHandler(rep Reporter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		account, ok := reportAccount(w, r)
		if !ok {
			return
		}
		days, since, ok := period(w, r)
		if !ok {
			return
		}

		totals, err := rep.Summary(r.Context(), account, since)
		if err != nil {
			slog.Error("analytics summary failed", "account", account, "error", err)
			response.Error(w, http.StatusInternalServerError, "Error obteniendo resumen")
			return
		}
		if totals == nil {
			totals = []models.TypeTotal{}
		}
		response.JSON(w, map[string]any{"periodo_dias": days, "data": totals})
	}
}

// NewSeriesHandler returns an http.HandlerFunc for GET /analytics/serie.
func NewSeriesHandler(rep Reporter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		account, ok := reportAccount(w, r)
		if !ok {
			return
		}
		days, since, ok := period(w, r)
		if !ok {
			return
		}

		eventType := r.URL.Query().Get("tipo")
		var typeFilter *string
		if eventType != "" {
			typeFilter = &eventType
		}

		buckets, err := rep.Series(r.Context(), account, eventType, since)
		if err != nil {
			slog.Error("analytics series failed", "account", account, "error", err)
			response.Error(w, http.StatusInternalServerError, "Error obteniendo serie temporal")
			return
		}
		if buckets == nil {
			buckets = []*models.AnalyticsBucket{}
		}
		response.JSON(w, map[string]any{
			"periodo_dias": days,
			"tipo_filtro":  typeFilter,
			"data":         buckets,
		})
	}
}

// NewTopAccountsHandler returns an http.HandlerFunc for GET /analytics/top-cuentas.
func NewTopAccountsHandler(rep Reporter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		days, since, ok := period(w, r)
		if !ok {
			return
		}
		limit, err := intParam(r, "limite", defaultLimit, 1, maxLimit)
		if err != nil {
			response.Error(w, http.StatusBadRequest, err.Error())
			return
		}

		top, err := rep.TopAccounts(r.Context(), since, limit)
		if err != nil {
			slog.Error("analytics top accounts failed", "error", err)
			response.Error(w, http.StatusInternalServerError, "Error obteniendo top cuentas")
			return
		}
		if top == nil {
			top = []models.AccountTotal{}
		}
		response.JSON(w, map[string]any{"periodo_dias": days, "data": top})
	}
}

// NewStatsHandler returns an http.HandlerFunc for GET /analytics/estadisticas.
func NewStatsHandler(rep Reporter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		account, ok := reportAccount(w, r)
		if !ok {
			return
		}
		days, since, ok := period(w, r)
		if !ok {
			return
		}

		stats, err := rep.Stats(r.Context(), account, since)
		if err != nil {
			slog.Error("analytics stats failed", "account", account, "error", err)
			response.Error(w, http.StatusInternalServerError, "Error obteniendo estadísticas")
			return
		}
		response.JSON(w, map[string]any{"periodo_dias": days, "estadisticas": stats})
	}
}
