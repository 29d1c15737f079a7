package ingest

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/eventgate/pkg/models"
)

var ErrMalformedInput = errors.New("malformed input")

// messageBody is the JSON carried by a subscription message.
type messageBody struct {
	EventID    string          `json:"event_id"`
	Origin     *string         `json:"origen"`
	OccurredAt *string         `json:"fecha_evento"`
	Payload    json.RawMessage `json:"payload"`
}

// messagePayload is the subset of the inner payload the gateway reads.
// Everything else in it is stored verbatim.
type messagePayload struct {
	Lat *float64 `json:"lat"`
	Lng *float64 `json:"lng"`
}

// requestBody is the JSON accepted by POST /eventos.
type requestBody struct {
	EventID    string          `json:"event_id"`
	Type       string          `json:"tipo"`
	Account    string          `json:"cuenta_codigo"`
	Origin     *string         `json:"origen"`
	Lat        *float64        `json:"lat"`
	Lng        *float64        `json:"lng"`
	OccurredAt *string         `json:"fecha_evento"`
	Payload    json.RawMessage `json:"payload"`
}

// FromMessage builds an Event from a subscription message published on
// <namespace>/<account>/<type>.
func FromMessage(topic string, payload []byte, now time.Time) (*models.Event, error) {
	parts := strings.Split(topic, "/")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return nil, fmt.Errorf("%w: topic %q is not <namespace>/<account>/<type>", ErrMalformedInput, topic)
	}

	var body messageBody
	if err := decodeObject(payload, &body); err != nil {
		return nil, err
	}

	var inner messagePayload
	if isObject(body.Payload) {
		if err := json.Unmarshal(body.Payload, &inner); err != nil {
			return nil, fmt.Errorf("%w: payload: %v", ErrMalformedInput, err)
		}
	}

	occurredAt, err := parseOccurredAt(body.OccurredAt, now)
	if err != nil {
		return nil, err
	}

	return &models.Event{
		EventID:    body.EventID,
		Type:       parts[2],
		Account:    parts[1],
		Origin:     stringOr(body.Origin, models.OriginMQTT),
		Lat:        inner.Lat,
		Lng:        inner.Lng,
		OccurredAt: occurredAt,
		Payload:    objectOrEmpty(body.Payload),
	}, nil
}

// FromRequest builds an Event from a direct request body.
func FromRequest(body []byte, now time.Time) (*models.Event, error) {
	var req requestBody
	if err := decodeObject(body, &req); err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.Type) == "" || strings.TrimSpace(req.Account) == "" {
		return nil, fmt.Errorf("%w: tipo y cuenta_codigo son obligatorios", ErrMalformedInput)
	}

	occurredAt, err := parseOccurredAt(req.OccurredAt, now)
	if err != nil {
		return nil, err
	}

	return &models.Event{
		EventID:    req.EventID,
		Type:       req.Type,
		Account:    req.Account,
		Origin:     stringOr(req.Origin, models.OriginHTTP),
		Lat:        req.Lat,
		Lng:        req.Lng,
		OccurredAt: occurredAt,
		Payload:    objectOrEmpty(req.Payload),
	}, nil
}

// NewEventID returns evt_<unix millis>_<9 base36 chars>. The time prefix keeps
// ids sortable for correlation; the suffix comes from a random UUID.
func NewEventID(now time.Time) string {
	u := uuid.New()
	suffix := strconv.FormatUint(binary.BigEndian.Uint64(u[:8]), 36)
	if len(suffix) < 9 {
		suffix = strings.Repeat("0", 9-len(suffix)) + suffix
	}
	return fmt.Sprintf("evt_%d_%s", now.UnixMilli(), suffix[len(suffix)-9:])
}

func decodeObject(data []byte, v any) error {
	if !isObject(data) {
		return fmt.Errorf("%w: body must be a JSON object", ErrMalformedInput)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedInput, err)
	}
	return nil
}

func isObject(data []byte) bool {
	trimmed := bytes.TrimSpace(data)
	return len(trimmed) > 0 && trimmed[0] == '{'
}

func objectOrEmpty(raw json.RawMessage) json.RawMessage {
	if len(bytes.TrimSpace(raw)) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return json.RawMessage("{}")
	}
	return raw
}

func parseOccurredAt(raw *string, now time.Time) (time.Time, error) {
	if raw == nil || *raw == "" {
		return now.UTC(), nil
	}
	t, err := time.Parse(time.RFC3339Nano, *raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: fecha_evento must be RFC3339", ErrMalformedInput)
	}
	return t.UTC(), nil
}

func stringOr(s *string, fallback string) string {
	if s == nil || *s == "" {
		return fallback
	}
	return *s
}
