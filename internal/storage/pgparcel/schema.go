package pgparcel

import (
	"context"

	"github.com/pkg/errors"
)

func (s *Storage) initSchema(ctx context.Context) error {
	stmts := []string{
		`
CREATE TABLE IF NOT EXISTS customers (
  id BIGSERIAL PRIMARY KEY,
  name TEXT NOT NULL,
  email TEXT NOT NULL DEFAULT '',
  phone TEXT NOT NULL DEFAULT '',
  created_at TIMESTAMPTZ NOT NULL
)`,
		`
CREATE TABLE IF NOT EXISTS tracking_sequences (
  year INT PRIMARY KEY,
  last_seq BIGINT NOT NULL
)`,
		`
CREATE TABLE IF NOT EXISTS parcels (
  id BIGSERIAL PRIMARY KEY,
  tracking_code TEXT NOT NULL,
  customer_id BIGINT NOT NULL REFERENCES customers(id),
  weight_kg DOUBLE PRECISION NOT NULL,
  addr_from TEXT NOT NULL,
  addr_to TEXT NOT NULL,
  status TEXT NOT NULL,
  audit_at TIMESTAMPTZ NOT NULL,
  created_at TIMESTAMPTZ NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL,
  UNIQUE (tracking_code)
)`,
		`CREATE INDEX IF NOT EXISTS idx_parcels_status ON parcels(status)`,
		`CREATE INDEX IF NOT EXISTS idx_parcels_audit_at ON parcels(audit_at)`,
		`CREATE INDEX IF NOT EXISTS idx_parcels_created_at ON parcels(created_at)`,
		`
CREATE TABLE IF NOT EXISTS parcel_events (
  id BIGSERIAL PRIMARY KEY,
  parcel_id BIGINT NOT NULL REFERENCES parcels(id) ON DELETE CASCADE,
  type TEXT NOT NULL,
  ts TIMESTAMPTZ NOT NULL,
  location TEXT NOT NULL,
  note TEXT NULL,
  created_at TIMESTAMPTZ NOT NULL
)`,
		// Derivation order is (ts, id); the index keeps timeline reads cheap.
		`CREATE INDEX IF NOT EXISTS idx_parcel_events_parcel_id_ts_id ON parcel_events(parcel_id, ts, id)`,
		`CREATE INDEX IF NOT EXISTS idx_parcel_events_ts ON parcel_events(ts)`,
	}

	for _, q := range stmts {
		if _, err := s.db.Exec(ctx, q); err != nil {
			return errors.Wrap(err, "init schema")
		}
	}
	return nil
}
