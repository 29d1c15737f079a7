package models

import "time"

// AnalyticsBucket counts the events of one type for one account within one hour.
type AnalyticsBucket struct {
	Account   string    `db:"cuenta_codigo" json:"cuenta_codigo"`
	EventType string    `db:"evento_tipo"   json:"tipo"`
	HourStart time.Time `db:"fecha_hora"    json:"hora"`
	Count     int64     `db:"cantidad"      json:"cantidad"`
}

// TypeTotal is the number of events of one type over a period.
type TypeTotal struct {
	Type  string `json:"tipo"`
	Total int64  `json:"total"`
}

// AccountTotal is the number of events of one account over a period.
type AccountTotal struct {
	Account string `json:"cuenta_codigo"`
	Total   int64  `json:"total_eventos"`
}
