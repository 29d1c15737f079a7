package models

import "time"

// Account is a tenant identified by a stable code. It owns events and credentials.
type Account struct {
	Code      string    `db:"codigo"     json:"codigo"`
	Name      string    `db:"nombre"     json:"nombre"`
	Address   *string   `db:"direccion"  json:"direccion"`
	Phone     *string   `db:"telefono"   json:"telefono"`
	Lat       *float64  `db:"lat"        json:"lat"`
	Lng       *float64  `db:"lng"        json:"lng"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}
