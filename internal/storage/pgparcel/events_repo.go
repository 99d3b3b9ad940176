package pgparcel

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"

	"parceltrack/internal/lifecycle"
	"parceltrack/internal/models"
)

func loadEvents(ctx context.Context, q querier, parcelID int64) ([]*models.ScanEvent, error) {
	rows, err := q.Query(ctx, `
SELECT id, parcel_id, type, ts, location, note, created_at
FROM parcel_events
WHERE parcel_id = $1
ORDER BY ts ASC, id ASC
`, parcelID)
	if err != nil {
		return nil, errors.Wrap(err, "select events")
	}
	defer rows.Close()

	out := []*models.ScanEvent{}
	for rows.Next() {
		var e models.ScanEvent
		if err := rows.Scan(&e.ID, &e.ParcelID, &e.Type, &e.TS, &e.Location, &e.Note, &e.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "scan event")
		}
		out = append(out, &e)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

// AppendScan is the compare-and-append for one parcel. The parcel row is
// locked FOR UPDATE for the whole read-validate-append sequence, so two
// concurrent scans for the same parcel serialize and the loser re-validates
// against the fresh state. The event insert and the derived-status update
// commit together or not at all.
func (s *Storage) AppendScan(ctx context.Context, trackingCode string, ev *models.ScanEvent) (*models.Timeline, string, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, "", mapPgErr(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var parcelID int64
	err = tx.QueryRow(ctx, `
SELECT id FROM parcels WHERE tracking_code = $1 FOR UPDATE
`, trackingCode).Scan(&parcelID)
	if err == pgx.ErrNoRows {
		return nil, "", models.NewNotFoundError("parcel", trackingCode)
	}
	if err != nil {
		return nil, "", mapPgErr(err, "lock parcel")
	}

	events, err := loadEvents(ctx, tx, parcelID)
	if err != nil {
		return nil, "", err
	}

	status, err := lifecycle.PlanAppend(events, ev)
	if err != nil {
		if errors.Is(err, models.ErrInconsistentTimeline) {
			return nil, "", &models.InconsistentTimelineError{TrackingCode: trackingCode}
		}
		return nil, "", err
	}

	now := time.Now().UTC()
	err = tx.QueryRow(ctx, `
INSERT INTO parcel_events (parcel_id, type, ts, location, note, created_at)
VALUES ($1,$2,$3,$4,$5,$6)
RETURNING id
`, parcelID, ev.Type, ev.TS.UTC(), ev.Location, ev.Note, now).Scan(&ev.ID)
	if err != nil {
		return nil, "", mapPgErr(err, "insert event")
	}
	ev.ParcelID = parcelID
	ev.CreatedAt = now

	_, err = tx.Exec(ctx, `
UPDATE parcels SET status = $2, updated_at = now() WHERE id = $1
`, parcelID, status)
	if err != nil {
		return nil, "", mapPgErr(err, "update parcel status")
	}

	all, err := loadEvents(ctx, tx, parcelID)
	if err != nil {
		return nil, "", err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, "", mapPgErr(err, "commit tx")
	}

	return &models.Timeline{TrackingCode: trackingCode, Events: all}, status, nil
}

func (s *Storage) GetTimeline(ctx context.Context, trackingCode string) (*models.Timeline, error) {
	var parcelID int64
	err := s.db.QueryRow(ctx, `
SELECT id FROM parcels WHERE tracking_code = $1
`, trackingCode).Scan(&parcelID)
	if err == pgx.ErrNoRows {
		return nil, models.NewNotFoundError("parcel", trackingCode)
	}
	if err != nil {
		return nil, errors.Wrap(err, "select parcel")
	}

	events, err := loadEvents(ctx, s.db, parcelID)
	if err != nil {
		return nil, err
	}
	return &models.Timeline{TrackingCode: trackingCode, Events: events}, nil
}
