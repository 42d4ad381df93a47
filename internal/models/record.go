package models

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// DateLayout is the canonical text form of a record date
const DateLayout = "2006-01-02"

const (
	maxIDLength       = 64
	maxCategoryLength = 100
	maxPlaceLength    = 255
)

// ErrInvalidRecord is returned when a canonical record cannot be constructed
var ErrInvalidRecord = errors.New("invalid record")

// Kind identifies one of the two parallel record families
type Kind string

const (
	KindLost  Kind = "lost"
	KindFound Kind = "found"
)

// Kinds lists every record kind in processing order
var Kinds = []Kind{KindLost, KindFound}

// ParseKind converts a path or config value into a Kind
func ParseKind(s string) (Kind, error) {
	switch Kind(strings.ToLower(strings.TrimSpace(s))) {
	case KindLost:
		return KindLost, nil
	case KindFound:
		return KindFound, nil
	}
	return "", fmt.Errorf("unknown record kind %q", s)
}

// RawFeedRecord is an upstream record as received. Any field may be blank or malformed.
type RawFeedRecord struct {
	AtcID     string `json:"atc_id,omitempty"`
	SerialNo  string `json:"serial_no,omitempty"`
	Name      string `json:"name,omitempty"`
	Category  string `json:"category,omitempty"`
	Place     string `json:"place,omitempty"`
	Date      string `json:"date,omitempty"`
	Subject   string `json:"subject,omitempty"`
	ImagePath string `json:"image_path,omitempty"`
	Color     string `json:"color,omitempty"`
	RowNum    string `json:"row_num,omitempty"`
}

// CanonicalRecord is a lost or found item after normalization
type CanonicalRecord struct {
	Kind      Kind      `json:"kind"`
	ID        string    `json:"id"`
	Category  string    `json:"category"`
	Place     string    `json:"place"`
	Date      time.Time `json:"-"`
	DateText  string    `json:"date"`
	Name      *string   `json:"name,omitempty"`
	Subject   *string   `json:"subject,omitempty"`
	Color     *string   `json:"color,omitempty"`
	Sequence  *string   `json:"sequence,omitempty"`
	ImagePath *string   `json:"image_path,omitempty"`
}

// OptionalFields carries the descriptive fields of a record
type OptionalFields struct {
	Name      string
	Subject   string
	Color     string
	Sequence  string
	ImagePath string
}

// NewCanonicalRecord builds a record, refusing empty mandatory fields
func NewCanonicalRecord(kind Kind, id, category, place string, date time.Time, opt OptionalFields) (*CanonicalRecord, error) {
	id = strings.TrimSpace(id)
	category = strings.TrimSpace(category)
	place = strings.TrimSpace(place)

	switch {
	case kind != KindLost && kind != KindFound:
		return nil, fmt.Errorf("%w: unknown kind %q", ErrInvalidRecord, kind)
	case id == "":
		return nil, fmt.Errorf("%w: empty id", ErrInvalidRecord)
	case len([]rune(id)) > maxIDLength:
		return nil, fmt.Errorf("%w: id longer than %d characters", ErrInvalidRecord, maxIDLength)
	case category == "":
		return nil, fmt.Errorf("%w: empty category", ErrInvalidRecord)
	case len([]rune(category)) > maxCategoryLength:
		return nil, fmt.Errorf("%w: category longer than %d characters", ErrInvalidRecord, maxCategoryLength)
	case place == "":
		return nil, fmt.Errorf("%w: empty place", ErrInvalidRecord)
	case len([]rune(place)) > maxPlaceLength:
		return nil, fmt.Errorf("%w: place longer than %d characters", ErrInvalidRecord, maxPlaceLength)
	case date.IsZero():
		return nil, fmt.Errorf("%w: missing date", ErrInvalidRecord)
	}

	day := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, time.UTC)
	return &CanonicalRecord{
		Kind:      kind,
		ID:        id,
		Category:  category,
		Place:     place,
		Date:      day,
		DateText:  day.Format(DateLayout),
		Name:      optional(opt.Name),
		Subject:   optional(opt.Subject),
		Color:     optional(opt.Color),
		Sequence:  optional(opt.Sequence),
		ImagePath: optional(opt.ImagePath),
	}, nil
}

// optional trims s and maps blank values to nil
func optional(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

// Deref returns the value of an optional field or ""
func Deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
