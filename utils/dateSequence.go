package utils

import (
	"errors"
	"time"
)

// DateSequence is an ordered run of calendar days. Recalculation has a hard
// data dependency between consecutive days (day N feeds day N+1), so callers
// iterate Dates() front to back and must not reorder.
type DateSequence struct {
	dates []time.Time
}

// NewDateSequence builds the ascending day sequence [from..to] in the given
// timezone. Both bounds are bucketed to tenant-local midnight first.
func NewDateSequence(from, to time.Time, timezone string) (DateSequence, error) {
	fromDay, err := ConvertToDate(from, timezone)
	if err != nil {
		return DateSequence{}, err
	}
	toDay, err := ConvertToDate(to, timezone)
	if err != nil {
		return DateSequence{}, err
	}
	if toDay.Before(fromDay) {
		return DateSequence{}, errors.New("date range end is before start")
	}

	var dates []time.Time
	for d := fromDay; !d.After(toDay); d = d.AddDate(0, 0, 1) {
		dates = append(dates, d)
	}
	return DateSequence{dates: dates}, nil
}

func (s DateSequence) Len() int { return len(s.dates) }

func (s DateSequence) First() time.Time { return s.dates[0] }

func (s DateSequence) Last() time.Time { return s.dates[len(s.dates)-1] }

// Dates returns the days in ascending order. The slice must be consumed in
// order; processing a later day before an earlier one breaks carry-forward.
func (s DateSequence) Dates() []time.Time {
	out := make([]time.Time, len(s.dates))
	copy(out, s.dates)
	return out
}

// Chunk splits the sequence into consecutive runs of at most size days,
// preserving order. Used to bound transaction size on large backfills.
func (s DateSequence) Chunk(size int) []DateSequence {
	if size <= 0 || size >= len(s.dates) {
		if len(s.dates) == 0 {
			return nil
		}
		return []DateSequence{s}
	}
	var chunks []DateSequence
	for start := 0; start < len(s.dates); start += size {
		end := start + size
		if end > len(s.dates) {
			end = len(s.dates)
		}
		chunks = append(chunks, DateSequence{dates: s.dates[start:end]})
	}
	return chunks
}
