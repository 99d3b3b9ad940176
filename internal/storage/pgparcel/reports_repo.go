package pgparcel

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"parceltrack/internal/models"
)

// ReportParcel is one parcel considered by the status report: its identity
// plus every event with ts <= the report window end, in derivation order.
type ReportParcel struct {
	ID     int64
	Events []*models.ScanEvent
}

// ParcelsForReport selects the parcels in scope for [from, to]: created inside
// the window or touched by at least one event inside it. Events after `to`
// are excluded so the report replays a point-in-time view.
func (s *Storage) ParcelsForReport(ctx context.Context, from, to time.Time) ([]*ReportParcel, error) {
	rows, err := s.db.Query(ctx, `
SELECT id FROM parcels p
WHERE (p.created_at >= $1 AND p.created_at <= $2)
   OR EXISTS (
     SELECT 1 FROM parcel_events e
     WHERE e.parcel_id = p.id AND e.ts >= $1 AND e.ts <= $2
   )
ORDER BY id
`, from.UTC(), to.UTC())
	if err != nil {
		return nil, errors.Wrap(err, "select report parcels")
	}
	defer rows.Close()

	byID := map[int64]*ReportParcel{}
	ids := []int64{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, errors.Wrap(err, "scan report parcel")
		}
		byID[id] = &ReportParcel{ID: id}
		ids = append(ids, id)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	if len(ids) == 0 {
		return []*ReportParcel{}, nil
	}

	evRows, err := s.db.Query(ctx, `
SELECT id, parcel_id, type, ts, location, note, created_at
FROM parcel_events
WHERE parcel_id = ANY($1) AND ts <= $2
ORDER BY parcel_id, ts ASC, id ASC
`, ids, to.UTC())
	if err != nil {
		return nil, errors.Wrap(err, "select report events")
	}
	defer evRows.Close()

	for evRows.Next() {
		var e models.ScanEvent
		if err := evRows.Scan(&e.ID, &e.ParcelID, &e.Type, &e.TS, &e.Location, &e.Note, &e.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "scan report event")
		}
		if rp, ok := byID[e.ParcelID]; ok {
			rp.Events = append(rp.Events, &e)
		}
	}
	if evRows.Err() != nil {
		return nil, errors.Wrap(evRows.Err(), "rows")
	}

	out := make([]*ReportParcel, 0, len(ids))
	for _, id := range ids {
		out = append(out, byID[id])
	}
	return out, nil
}
