package datastore

import (
	"database/sql"
	"time"
)

// Product is one entry of the order catalog. ID is the merchant's own
// product code, not a generated identifier, so imports keep stable keys.
type Product struct {
	ID                       string         `json:"product_id"`
	Title                    string         `json:"title"`
	UnitsRelation            sql.NullString `json:"units_relation"`
	MainUnitDescription      sql.NullString `json:"main_unit_description"`
	SecondaryUnitDescription sql.NullString `json:"secondary_unit_description"`
	CreatedAt                time.Time      `json:"created_at"`
	UpdatedAt                time.Time      `json:"updated_at"`
}
