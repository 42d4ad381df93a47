// Package normalizer maps raw feed records onto canonical lost and found records.
package normalizer

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hacknation/odnalezione-zguby/findit-ingest/internal/models"
)

// ErrRejected is returned for records the pipeline must skip
var ErrRejected = errors.New("record rejected")

// Normalizer performs no I/O; its only side effect is diagnostic logging
type Normalizer struct {
	now func() time.Time
}

// Option configures a Normalizer
type Option func(*Normalizer)

// WithClock sets the clock used to backfill a missing day of month
func WithClock(now func() time.Time) Option {
	return func(n *Normalizer) {
		n.now = now
	}
}

// New creates a Normalizer
func New(opts ...Option) *Normalizer {
	n := &Normalizer{now: time.Now}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Normalize returns the canonical record, or false when the record must be skipped
func (n *Normalizer) Normalize(kind models.Kind, raw models.RawFeedRecord) (*models.CanonicalRecord, bool) {
	rec, err := n.NormalizeRecord(kind, raw)
	return rec, err == nil
}

// NormalizeRecord is Normalize with the rejection reason. Every returned error wraps ErrRejected.
func (n *Normalizer) NormalizeRecord(kind models.Kind, raw models.RawFeedRecord) (*models.CanonicalRecord, error) {
	id := ResolveID(raw)
	if id == "" {
		return nil, fmt.Errorf("%w: no atcId or serial number", ErrRejected)
	}

	category := strings.TrimSpace(raw.Category)
	place := strings.TrimSpace(raw.Place)
	rawDate := strings.TrimSpace(raw.Date)
	switch {
	case category == "":
		return nil, fmt.Errorf("%w: %s has no category", ErrRejected, id)
	case place == "":
		return nil, fmt.Errorf("%w: %s has no place", ErrRejected, id)
	case rawDate == "":
		return nil, fmt.Errorf("%w: %s has no date", ErrRejected, id)
	}

	date := n.NormalizeDate(rawDate)
	if date.Lossy {
		return nil, fmt.Errorf("%w: %s has unparseable date %q", ErrRejected, id, date.Text)
	}

	sequence := raw.SerialNo
	if strings.TrimSpace(sequence) == "" {
		sequence = raw.RowNum
	}

	rec, err := models.NewCanonicalRecord(kind, id, category, place, date.Date, models.OptionalFields{
		Name:      raw.Name,
		Subject:   raw.Subject,
		Color:     raw.Color,
		Sequence:  sequence,
		ImagePath: raw.ImagePath,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRejected, err)
	}
	return rec, nil
}

// ResolveID prefers the primary upstream id and falls back to the serial number
func ResolveID(raw models.RawFeedRecord) string {
	if id := strings.TrimSpace(raw.AtcID); id != "" {
		return id
	}
	return strings.TrimSpace(raw.SerialNo)
}
