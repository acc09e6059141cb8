// Package vehicle defines the inventory entity shared by the live
// store, the fallback store, the query engine and the push channel.
package vehicle

import "time"

// Status is the sales lifecycle state of a vehicle on the lot.
type Status string

const (
	StatusAvailable Status = "available"
	StatusReserved  Status = "reserved"
	StatusSold      Status = "sold"
	StatusService   Status = "in_service"
)

// Valid reports whether s is a known lifecycle status.
func (s Status) Valid() bool {
	switch s {
	case StatusAvailable, StatusReserved, StatusSold, StatusService:
		return true
	}
	return false
}

// Vehicle is the document persisted in the inventory store. The same
// shape travels in entity_created/entity_updated envelopes and in
// query results, so both backends and all subscribers agree on it.
type Vehicle struct {
	ID        string    `json:"id"`
	Make      string    `json:"make"`
	Model     string    `json:"model"`
	Year      int       `json:"year"`
	VIN       string    `json:"vin"`
	Color     string    `json:"color"`
	Status    Status    `json:"status"`
	Price     float64   `json:"price"`
	Mileage   int       `json:"mileage"`
	Note      string    `json:"note,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}
