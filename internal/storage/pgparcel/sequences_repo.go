package pgparcel

import (
	"context"

	"github.com/pkg/errors"
)

// NextSeq increments and returns the durable per-year tracking sequence.
// A single upsert statement keeps the increment atomic: two concurrent
// createParcel calls can never observe the same value.
func (s *Storage) NextSeq(ctx context.Context, year int) (int64, error) {
	var n int64
	err := s.db.QueryRow(ctx, `
INSERT INTO tracking_sequences (year, last_seq)
VALUES ($1, 1)
ON CONFLICT (year)
DO UPDATE SET last_seq = tracking_sequences.last_seq + 1
RETURNING last_seq
`, year).Scan(&n)
	if err != nil {
		return 0, errors.Wrap(err, "next seq")
	}
	return n, nil
}
