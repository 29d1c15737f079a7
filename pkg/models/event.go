package models

import (
	"encoding/json"
	"time"
)

// Known event types. The set is open: unrecognized types are stored as-is.
const (
	EventTypeMovement   = "movement"
	EventTypeStop       = "stop"
	EventTypeAlarm      = "alarm"
	EventTypeConnect    = "connect"
	EventTypeDisconnect = "disconnect"
	EventTypeBattery    = "battery"
	EventTypeOther      = "other"
)

// Ingress channel names, used as the default event origin.
const (
	OriginHTTP = "http"
	OriginMQTT = "mqtt"
)

// Event is one normalized occurrence reported by a tracked device.
// Events are immutable once stored; EventID is globally unique.
type Event struct {
	EventID    string          `db:"event_id"      json:"event_id"`
	Type       string          `db:"tipo"          json:"tipo"`
	Account    string          `db:"cuenta_codigo" json:"cuenta_codigo"`
	Origin     string          `db:"origen"        json:"origen"`
	Lat        *float64        `db:"lat"           json:"lat"`
	Lng        *float64        `db:"lng"           json:"lng"`
	OccurredAt time.Time       `db:"fecha_evento"  json:"fecha_evento"`
	Payload    json.RawMessage `db:"payload"       json:"payload"`
	CreatedAt  time.Time       `db:"created_at"    json:"created_at"`
}
