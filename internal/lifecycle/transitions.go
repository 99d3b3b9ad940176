// Package lifecycle owns the parcel status state machine: which scan types are
// legal from which status, and how current status is derived by replaying the
// stored event sequence.
package lifecycle

import "parceltrack/internal/models"

// transitions is the closed edge set of the state machine. A scan type is
// accepted only if it is a direct edge from the current status. Self
// transitions are intentionally absent: a duplicate scan must be rejected, not
// deduplicated, so operators notice it.
//
// in_transit -> delivered is a real edge: the out-for-delivery scan is
// routinely missed when the courier hands the parcel over directly.
var transitions = map[string][]string{
	models.StatusNew:            {models.StatusPickup},
	models.StatusPickup:         {models.StatusInTransit},
	models.StatusInTransit:      {models.StatusOutForDelivery, models.StatusDelivered, models.StatusReturn},
	models.StatusOutForDelivery: {models.StatusDelivered, models.StatusReturn},
	models.StatusDelivered:      {},
	models.StatusReturn:         {},
}

// Allowed reports whether a scan of type `to` is legal for a parcel currently
// at `from`.
func Allowed(from, to string) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Next returns the status after applying a scan of type `to` from `from`, or
// an InvalidTransitionError carrying both sides of the rejected edge.
func Next(from, to string) (string, error) {
	if !Allowed(from, to) {
		return "", &models.InvalidTransitionError{From: from, Attempted: to}
	}
	return to, nil
}
