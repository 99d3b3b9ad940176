package pgparcel

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pkg/errors"

	"parceltrack/internal/models"
)

const parcelColumns = `id, tracking_code, customer_id, weight_kg, addr_from, addr_to, status, created_at, updated_at`

func scanParcel(row pgx.Row) (*models.Parcel, error) {
	var p models.Parcel
	err := row.Scan(
		&p.ID, &p.TrackingCode, &p.CustomerID, &p.WeightKG,
		&p.AddrFrom, &p.AddrTo, &p.Status,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// CreateParcel persists a freshly issued parcel. The caller sets the tracking
// code and the initial status; created_at/updated_at/audit_at are assigned
// here.
func (s *Storage) CreateParcel(ctx context.Context, p *models.Parcel) (*models.Parcel, error) {
	now := time.Now().UTC()

	err := s.db.QueryRow(ctx, `
INSERT INTO parcels (
  tracking_code, customer_id, weight_kg, addr_from, addr_to, status, audit_at, created_at, updated_at
)
VALUES ($1,$2,$3,$4,$5,$6,$7,$7,$7)
RETURNING id
`, p.TrackingCode, p.CustomerID, p.WeightKG, p.AddrFrom, p.AddrTo, p.Status, now).Scan(&p.ID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			return nil, models.NewNotFoundError("customer", strconv.FormatInt(p.CustomerID, 10))
		}
		return nil, errors.Wrap(err, "insert parcel")
	}
	p.CreatedAt = now
	p.UpdatedAt = now
	return p, nil
}

func (s *Storage) GetParcelByCode(ctx context.Context, trackingCode string) (*models.Parcel, error) {
	p, err := scanParcel(s.db.QueryRow(ctx, `
SELECT `+parcelColumns+`
FROM parcels
WHERE tracking_code = $1
`, trackingCode))
	if err == pgx.ErrNoRows {
		return nil, models.NewNotFoundError("parcel", trackingCode)
	}
	if err != nil {
		return nil, errors.Wrap(err, "select parcel")
	}
	return p, nil
}

func (s *Storage) ListParcels(ctx context.Context, f models.ParcelFilter) ([]*models.Parcel, error) {
	page := f.Page
	if page < 1 {
		page = 1
	}
	size := f.Size
	if size <= 0 {
		size = 20
	}
	if size > 200 {
		size = 200
	}

	q := `
SELECT ` + parcelColumns + `
FROM parcels
WHERE 1=1`
	args := []any{}
	if f.Status != "" {
		args = append(args, f.Status)
		q += fmt.Sprintf(` AND status = $%d`, len(args))
	}
	if f.Query != "" {
		args = append(args, "%"+f.Query+"%")
		n := len(args)
		q += fmt.Sprintf(` AND (tracking_code ILIKE $%d OR addr_from ILIKE $%d OR addr_to ILIKE $%d)`, n, n, n)
	}
	args = append(args, size, (page-1)*size)
	q += fmt.Sprintf(`
ORDER BY created_at DESC, id DESC
LIMIT $%d OFFSET $%d`, len(args)-1, len(args))

	rows, err := s.db.Query(ctx, q, args...)
	if err != nil {
		return nil, errors.Wrap(err, "select parcels")
	}
	defer rows.Close()

	out := []*models.Parcel{}
	for rows.Next() {
		p, err := scanParcel(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan parcel")
		}
		out = append(out, p)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}
