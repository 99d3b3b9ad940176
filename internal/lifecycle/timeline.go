package lifecycle

import (
	"sort"
	"time"

	"parceltrack/internal/models"
)

// SortEvents orders events chronologically: ts ascending, insertion order
// (id) as the tie-break, so derivation is deterministic under identical
// timestamps.
func SortEvents(events []*models.ScanEvent) []*models.ScanEvent {
	out := make([]*models.ScanEvent, len(events))
	copy(out, events)
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].TS.Equal(out[j].TS) {
			return out[i].TS.Before(out[j].TS)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// replay folds the sorted events over the edge table starting from "new".
// It returns the resulting status, or the first illegal edge found.
func replay(events []*models.ScanEvent) (string, *models.InvalidTransitionError) {
	status := models.StatusNew
	for _, ev := range events {
		next, err := Next(status, ev.Type)
		if err != nil {
			return status, &models.InvalidTransitionError{From: status, Attempted: ev.Type}
		}
		status = next
	}
	return status, nil
}

// Derive computes the current status of a parcel from its stored events.
// Bad historical data must not crash a read path: if the sequence contains an
// illegal edge, the parcel reports StatusInconsistent instead.
func Derive(events []*models.ScanEvent) string {
	status, bad := replay(SortEvents(events))
	if bad != nil {
		return models.StatusInconsistent
	}
	return status
}

// DeriveAsOf replays only events with ts <= cutoff, for point-in-time reports.
func DeriveAsOf(events []*models.ScanEvent, cutoff time.Time) string {
	trimmed := make([]*models.ScanEvent, 0, len(events))
	for _, ev := range events {
		if !ev.TS.After(cutoff) {
			trimmed = append(trimmed, ev)
		}
	}
	return Derive(trimmed)
}

// PlanAppend validates ev against the stored events at its chronological
// position and returns the derived status of the merged timeline. It performs
// no mutation; the caller persists the event and the status atomically.
//
// Validation is positional: the edge from the status derived over the events
// strictly preceding ev must be legal, and the replay of the whole merged
// sequence must stay legal. A late-arriving event is therefore inserted at
// its logical position, and may even repair a timeline that looked
// inconsistent only because that event was missing.
func PlanAppend(events []*models.ScanEvent, ev *models.ScanEvent) (string, error) {
	if !models.IsScanType(ev.Type) {
		return "", models.NewValidationError("type", "unknown scan type "+ev.Type)
	}

	sorted := SortEvents(events)

	// ev has no id yet; under an equal ts it sorts after the stored events
	// (receipt order).
	pos := len(sorted)
	for i, e := range sorted {
		if e.TS.After(ev.TS) {
			pos = i
			break
		}
	}

	before, bad := replay(sorted[:pos])
	if bad != nil {
		return "", &models.InconsistentTimelineError{}
	}

	if _, err := Next(before, ev.Type); err != nil {
		return "", err
	}

	merged := make([]*models.ScanEvent, 0, len(sorted)+1)
	merged = append(merged, sorted[:pos]...)
	merged = append(merged, ev)
	merged = append(merged, sorted[pos:]...)

	status, bad := replay(merged)
	if bad != nil {
		// The insert itself is legal but it breaks the tail of the timeline
		// (e.g. a return slotted in before a delivered scan).
		return "", bad
	}
	return status, nil
}
