package pgparcel

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"

	"parceltrack/internal/models"
)

// ClaimDueParcels выбирает пачку посылок, готовых к сверке, и "бронирует" их,
// чтобы конкурирующие аудиторы не обрабатывали одну посылку дважды.
// Использует SELECT ... FOR UPDATE SKIP LOCKED.
func (s *Storage) ClaimDueParcels(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]*models.Parcel, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx, `
SELECT `+parcelColumns+`
FROM parcels
WHERE audit_at <= $1
ORDER BY audit_at ASC
LIMIT $2
FOR UPDATE SKIP LOCKED
`, now.UTC(), limit)
	if err != nil {
		return nil, errors.Wrap(err, "select due parcels")
	}
	defer rows.Close()

	var picked []*models.Parcel
	for rows.Next() {
		p, err := scanParcel(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan due parcel")
		}
		picked = append(picked, p)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}

	leaseUntil := now.UTC().Add(lease)
	for _, p := range picked {
		if _, err := tx.Exec(ctx, `UPDATE parcels SET audit_at = $2 WHERE id = $1`, p.ID, leaseUntil); err != nil {
			return nil, errors.Wrap(err, "lease parcel")
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, errors.Wrap(err, "commit tx")
	}
	return picked, nil
}

func (s *Storage) LoadEvents(ctx context.Context, parcelID int64) ([]*models.ScanEvent, error) {
	return loadEvents(ctx, s.db, parcelID)
}

// ApplyAuditResult writes the re-derived status and the next audit slot.
// The event history is never touched: an inconsistent timeline stays as it is
// for operator review.
func (s *Storage) ApplyAuditResult(ctx context.Context, parcelID int64, status string, nextAuditAt time.Time) error {
	_, err := s.db.Exec(ctx, `
UPDATE parcels SET status = $2, audit_at = $3, updated_at = now() WHERE id = $1
`, parcelID, status, nextAuditAt.UTC())
	return errors.Wrap(err, "apply audit result")
}
