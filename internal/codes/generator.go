// Package codes issues tracking codes of the wire shape PRC-YYYY-XXXXXX.
package codes

import (
	"context"
	"fmt"

	"parceltrack/internal/models"

	"github.com/pkg/errors"
)

// Sequences is the durable per-year counter behind code issuance. NextSeq must
// be atomic under concurrency: two concurrent calls never observe the same
// value for the same year.
type Sequences interface {
	NextSeq(ctx context.Context, year int) (int64, error)
}

const maxSeqPerYear = 999_999

type Generator struct {
	seqs Sequences
}

func New(seqs Sequences) *Generator {
	return &Generator{seqs: seqs}
}

// Next issues the next code for the given year. The sequence is monotonic in
// issuance order within a year and never reused; past 999999 issuance fails
// with ExhaustedSequenceError.
func (g *Generator) Next(ctx context.Context, year int) (string, error) {
	if year < 1000 || year > 9999 {
		return "", models.NewValidationError("year", fmt.Sprintf("%d is not a 4-digit year", year))
	}

	n, err := g.seqs.NextSeq(ctx, year)
	if err != nil {
		return "", errors.Wrap(err, "next seq")
	}
	if n > maxSeqPerYear {
		return "", &models.ExhaustedSequenceError{Year: year}
	}

	return fmt.Sprintf("PRC-%04d-%06d", year, n), nil
}
