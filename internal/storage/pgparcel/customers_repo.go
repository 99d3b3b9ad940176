package pgparcel

import (
	"context"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"

	"parceltrack/internal/models"
)

func (s *Storage) CreateCustomer(ctx context.Context, in models.CustomerCreateInput) (*models.Customer, error) {
	now := time.Now().UTC()

	c := &models.Customer{
		Name:      in.Name,
		Email:     in.Email,
		Phone:     in.Phone,
		CreatedAt: now,
	}
	err := s.db.QueryRow(ctx, `
INSERT INTO customers (name, email, phone, created_at)
VALUES ($1,$2,$3,$4)
RETURNING id
`, in.Name, in.Email, in.Phone, now).Scan(&c.ID)
	if err != nil {
		return nil, errors.Wrap(err, "insert customer")
	}
	return c, nil
}

func (s *Storage) GetCustomer(ctx context.Context, id int64) (*models.Customer, error) {
	var c models.Customer
	err := s.db.QueryRow(ctx, `
SELECT id, name, email, phone, created_at
FROM customers
WHERE id = $1
`, id).Scan(&c.ID, &c.Name, &c.Email, &c.Phone, &c.CreatedAt)
	if err == pgx.ErrNoRows {
		return nil, models.NewNotFoundError("customer", strconv.FormatInt(id, 10))
	}
	if err != nil {
		return nil, errors.Wrap(err, "select customer")
	}
	return &c, nil
}

func (s *Storage) SearchCustomers(ctx context.Context, search string) ([]*models.Customer, error) {
	q := `
SELECT id, name, email, phone, created_at
FROM customers
`
	args := []any{}
	if search != "" {
		q += `WHERE name ILIKE $1 OR email ILIKE $1 OR phone ILIKE $1
`
		args = append(args, "%"+search+"%")
	}
	q += `ORDER BY id LIMIT 100`

	rows, err := s.db.Query(ctx, q, args...)
	if err != nil {
		return nil, errors.Wrap(err, "select customers")
	}
	defer rows.Close()

	out := []*models.Customer{}
	for rows.Next() {
		var c models.Customer
		if err := rows.Scan(&c.ID, &c.Name, &c.Email, &c.Phone, &c.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "scan customer")
		}
		out = append(out, &c)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}
