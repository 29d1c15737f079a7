package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/kiranshivaraju/eventgate/internal/api/response"
	"github.com/kiranshivaraju/eventgate/internal/ingest"
	"github.com/kiranshivaraju/eventgate/internal/store"
	"github.com/kiranshivaraju/eventgate/pkg/models"
)

// EventIngester is the pipeline used by POST /eventos.
type EventIngester interface {
	Ingest(ctx context.Context, event *models.Event) (ingest.Result, error)
}

// EventReader serves the event queries.
type EventReader interface {
	ListEvents(ctx context.Context, filter store.EventFilter) ([]*models.Event, error)
	LatestEvent(ctx context.Context, account string) (*models.Event, error)
}

type ingestResponse struct {
	OK        bool   `json:"ok"`
	EventID   string `json:"event_id"`
	Duplicate bool   `json:"duplicate"`
}

// NewCreateEventHandler returns an http.HandlerFunc for POST /eventos.
// A new event is 201; a repeated event_id is 200 with duplicate=true.
func NewCreateEventHandler(ing EventIngester) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, ok := principal(w, r)
		if !ok {
			return
		}

		body, err := readBody(w, r)
		if err != nil {
			response.Error(w, http.StatusBadRequest, "Invalid JSON body")
			return
		}

		event, err := ingest.FromRequest(body, time.Now())
		if err != nil {
			response.Error(w, http.StatusBadRequest, malformedMessage(err))
			return
		}
		if _, ok := scopedAccount(w, p, event.Account); !ok {
			return
		}

		res, err := ing.Ingest(r.Context(), event)
		switch {
		case errors.Is(err, ingest.ErrMalformedInput):
			response.Error(w, http.StatusBadRequest, malformedMessage(err))
			return
		case errors.Is(err, store.ErrInvalidAccount):
			slog.Warn("event for unknown account", "account", event.Account, "event_id", res.EventID)
			response.Error(w, http.StatusInternalServerError, "Error guardando evento: la cuenta no existe")
			return
		case err != nil:
			slog.Error("event ingest failed", "account", event.Account, "event_id", res.EventID, "error", err)
			response.Error(w, http.StatusInternalServerError, "Error guardando evento")
			return
		}

		out := ingestResponse{OK: true, EventID: res.EventID, Duplicate: res.Duplicate}
		if res.Duplicate {
			response.JSON(w, out)
			return
		}
		response.Created(w, out)
	}
}

// NewListEventsHandler returns an http.HandlerFunc for GET /eventos.
func NewListEventsHandler(events EventReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, ok := principal(w, r)
		if !ok {
			return
		}

		q := r.URL.Query()
		account, ok := scopedAccount(w, p, q.Get("cuenta"))
		if !ok {
			return
		}

		limit, err := intParam(r, "limit", store.DefaultEventLimit, 1, store.MaxEventLimit)
		if err != nil {
			response.Error(w, http.StatusBadRequest, err.Error())
			return
		}
		offset, err := intParam(r, "offset", 0, 0, 1<<31-1)
		if err != nil {
			response.Error(w, http.StatusBadRequest, err.Error())
			return
		}

		list, err := events.ListEvents(r.Context(), store.EventFilter{
			Account: account,
			Type:    q.Get("tipo"),
			Limit:   limit,
			Offset:  offset,
		})
		if err != nil {
			slog.Error("list events failed", "error", err)
			response.Error(w, http.StatusInternalServerError, "Error listando eventos")
			return
		}
		if list == nil {
			list = []*models.Event{}
		}
		response.JSON(w, list)
	}
}

// NewLatestEventHandler returns an http.HandlerFunc for GET /eventos/ultimo.
func NewLatestEventHandler(events EventReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, ok := principal(w, r)
		if !ok {
			return
		}
		account, ok := scopedAccount(w, p, r.URL.Query().Get("cuenta"))
		if !ok {
			return
		}
		if account == "" {
			response.Error(w, http.StatusBadRequest, "cuenta requerida")
			return
		}

		event, err := events.LatestEvent(r.Context(), account)
		if errors.Is(err, store.ErrNotFound) {
			response.Error(w, http.StatusNotFound, "No hay eventos")
			return
		}
		if err != nil {
			slog.Error("latest event failed", "account", account, "error", err)
			response.Error(w, http.StatusInternalServerError, "Error obteniendo evento")
			return
		}
		response.JSON(w, event)
	}
}

// malformedMessage strips the sentinel prefix so callers see only the detail.
func malformedMessage(err error) string {
	msg := err.Error()
	prefix := ingest.ErrMalformedInput.Error() + ": "
	if len(msg) > len(prefix) && msg[:len(prefix)] == prefix {
		return msg[len(prefix):]
	}
	return msg
}
