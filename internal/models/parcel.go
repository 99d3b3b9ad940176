package models

import "time"

// Wire values for parcel status. The scan types are the same set minus "new":
// a parcel is born "new" and that stage is never stored as an event.
const (
	StatusNew            = "new"
	StatusPickup         = "pickup"
	StatusInTransit      = "in_transit"
	StatusOutForDelivery = "out_for_delivery"
	StatusDelivered      = "delivered"
	StatusReturn         = "return"

	// StatusInconsistent is not a lifecycle stage. It marks a parcel whose
	// stored event history does not form a legal transition path and needs
	// operator review.
	StatusInconsistent = "inconsistent"
)

// Statuses returns every status a parcel can report, in lifecycle order.
func Statuses() []string {
	return []string{
		StatusNew,
		StatusPickup,
		StatusInTransit,
		StatusOutForDelivery,
		StatusDelivered,
		StatusReturn,
		StatusInconsistent,
	}
}

// IsScanType reports whether s is a valid ScanEvent type.
func IsScanType(s string) bool {
	switch s {
	case StatusPickup, StatusInTransit, StatusOutForDelivery, StatusDelivered, StatusReturn:
		return true
	}
	return false
}

// IsTerminal reports whether no further scan events are accepted from s.
func IsTerminal(s string) bool {
	return s == StatusDelivered || s == StatusReturn
}

type Customer struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Phone     string    `json:"phone"`
	CreatedAt time.Time `json:"created_at"`
}

type Parcel struct {
	ID           int64     `json:"id"`
	TrackingCode string    `json:"tracking_code"`
	CustomerID   int64     `json:"customer_id"`
	WeightKG     float64   `json:"weight_kg"`
	AddrFrom     string    `json:"addr_from"`
	AddrTo       string    `json:"addr_to"`
	Status       string    `json:"status"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// ScanEvent is one append-only record of a parcel passing through a lifecycle
// stage. TS is caller-supplied (field crews log past events), so the stored
// sequence is ordered by (ts, id), not by receipt time.
type ScanEvent struct {
	ID        int64     `json:"-"`
	ParcelID  int64     `json:"-"`
	Type      string    `json:"type"`
	TS        time.Time `json:"ts"`
	Location  string    `json:"location"`
	Note      *string   `json:"note,omitempty"`
	CreatedAt time.Time `json:"-"`
}

// Timeline is the read projection of a parcel plus its ordered events.
type Timeline struct {
	TrackingCode string       `json:"tracking_code"`
	Events       []*ScanEvent `json:"events"`
}

type CustomerCreateInput struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone"`
}

type ParcelCreateInput struct {
	CustomerID int64   `json:"customer_id"`
	WeightKG   float64 `json:"weight_kg"`
	AddrFrom   string  `json:"addr_from"`
	AddrTo     string  `json:"addr_to"`
}

type ScanInput struct {
	Type     string    `json:"type"`
	TS       time.Time `json:"ts"`
	Location string    `json:"location"`
	Note     *string   `json:"note,omitempty"`
}

type ParcelFilter struct {
	Status string
	Query  string
	Page   int
	Size   int
}
