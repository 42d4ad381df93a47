package normalizer

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/hacknation/odnalezione-zguby/findit-ingest/internal/models"
	"github.com/rs/zerolog/log"
)

const passthroughMaxLen = 10

var (
	ymdPattern        = regexp.MustCompile(`^(\d{4})[-./](\d{1,2})[-./](\d{1,2})$`)
	ymPattern         = regexp.MustCompile(`^(\d{4})[-./](\d{1,2})-?$`)
	compactYMDPattern = regexp.MustCompile(`^(\d{4})(\d{2})(\d{2})$`)
	compactYMPattern  = regexp.MustCompile(`^(\d{4})(\d{2})$`)

	isoLayouts = []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02T15:04"}
)

// DateResult is the outcome of date normalization
type DateResult struct {
	Date time.Time
	// Text is the canonical yyyy-MM-dd form, or the truncated input when Lossy
	Text string
	// Repaired is set when a missing day was backfilled
	Repaired bool
	// Lossy is set when no pattern matched and Text is a passthrough
	Lossy bool
}

// NormalizeDate converts the date encodings seen upstream into one canonical date.
// Patterns are tried in order: y-m-d (any of - . / as separator), y-m with the day
// backfilled to today's day of month, compact yyyymmdd, compact yyyymm (backfilled),
// then ISO-8601. Anything else comes back Lossy, truncated to 10 characters.
func (n *Normalizer) NormalizeDate(raw string) DateResult {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return DateResult{Lossy: true}
	}

	if d, repaired, ok := n.parseDate(trimmed); ok {
		text := d.Format(models.DateLayout)
		if repaired {
			log.Info().Str("raw", trimmed).Str("date", text).Msg("Backfilled missing day of month")
		}
		return DateResult{Date: d, Text: text, Repaired: repaired}
	}

	passthrough := trimmed
	if len([]rune(passthrough)) > passthroughMaxLen {
		passthrough = string([]rune(passthrough)[:passthroughMaxLen])
	}
	log.Warn().Str("raw", trimmed).Str("passthrough", passthrough).Msg("Unrecognized date format")
	return DateResult{Text: passthrough, Lossy: true}
}

func (n *Normalizer) parseDate(s string) (time.Time, bool, bool) {
	if m := ymdPattern.FindStringSubmatch(s); m != nil {
		d, ok := buildDate(m[1], m[2], m[3])
		return d, false, ok
	}
	if m := ymPattern.FindStringSubmatch(s); m != nil {
		d, ok := buildDate(m[1], m[2], strconv.Itoa(n.now().Day()))
		return d, ok, ok
	}
	if m := compactYMDPattern.FindStringSubmatch(s); m != nil {
		d, ok := buildDate(m[1], m[2], m[3])
		return d, false, ok
	}
	if m := compactYMPattern.FindStringSubmatch(s); m != nil {
		d, ok := buildDate(m[1], m[2], strconv.Itoa(n.now().Day()))
		return d, ok, ok
	}
	for _, layout := range isoLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			d, ok := plausible(t.Year(), int(t.Month()), t.Day())
			return d, false, ok
		}
	}
	return time.Time{}, false, false
}

func buildDate(year, month, day string) (time.Time, bool) {
	y, errY := strconv.Atoi(year)
	m, errM := strconv.Atoi(month)
	d, errD := strconv.Atoi(day)
	if errY != nil || errM != nil || errD != nil {
		return time.Time{}, false
	}
	t, ok := plausible(y, m, d)
	if !ok {
		log.Warn().Int("year", y).Int("month", m).Int("day", d).Msg("Implausible date value")
	}
	return t, ok
}

// plausible accepts years 1900-2100 and days that exist in the given month
func plausible(y, m, d int) (time.Time, bool) {
	if y < 1900 || y > 2100 || m < 1 || m > 12 || d < 1 {
		return time.Time{}, false
	}
	t := time.Date(y, time.Month(m), d, 0, 0, 0, 0, time.UTC)
	if t.Day() != d {
		return time.Time{}, false
	}
	return t, true
}
