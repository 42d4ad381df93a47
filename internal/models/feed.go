package models

import "time"

// Upstream header result codes
const (
	ResultCodeSuccess  = "00"
	ResultCodeDisabled = "API_DISABLED"
)

// FeedPage is the normalized envelope of one upstream round trip
type FeedPage struct {
	Items      []RawFeedRecord `json:"items"`
	TotalCount int             `json:"total_count"`
	PageNo     int             `json:"page_no"`
	NumOfRows  int             `json:"num_of_rows"`
	ResultCode string          `json:"result_code"`
	ResultMsg  string          `json:"result_msg"`
	Detail     string          `json:"detail,omitempty"` // parse diagnostic, if any
}

// Success reports whether the upstream header carried the success code
func (p *FeedPage) Success() bool {
	return p != nil && p.ResultCode == ResultCodeSuccess
}

// Disabled reports whether the page was produced by a disabled client
func (p *FeedPage) Disabled() bool {
	return p != nil && p.ResultCode == ResultCodeDisabled
}

// CollectionRunResult is the outcome of one collector invocation
type CollectionRunResult struct {
	RunID      string            `json:"run_id"`
	Kind       Kind              `json:"kind"`
	Saved      []CanonicalRecord `json:"saved"`
	Fetched    int               `json:"fetched"`
	Valid      int               `json:"valid"`
	Skipped    int               `json:"skipped"`
	Duplicates int               `json:"duplicates"`
	Pages      int               `json:"pages"`
	StartedAt  time.Time         `json:"started_at"`
	FinishedAt time.Time         `json:"finished_at"`
	Err        string            `json:"error,omitempty"`
}

// SavedCount returns the number of newly persisted records
func (r *CollectionRunResult) SavedCount() int {
	return len(r.Saved)
}

// HealthStatus is the verdict label of the feed health monitor
type HealthStatus string

const (
	HealthPending     HealthStatus = "Pending"
	HealthAvailable   HealthStatus = "Available"
	HealthUnavailable HealthStatus = "Unavailable"
	HealthDisabled    HealthStatus = "Disabled"
	HealthStale       HealthStatus = "Stale"
)

// HealthVerdict is an immutable snapshot of the last feed probe
type HealthVerdict struct {
	Service   string       `json:"service"`
	Status    HealthStatus `json:"status"`
	Message   string       `json:"message"`
	CheckedAt time.Time    `json:"checked_at,omitempty"`
	Error     string       `json:"error,omitempty"`
	StaleMs   int64        `json:"stale_for_ms,omitempty"`
}

// Up reports whether dependents should treat the feed as reachable.
// Stale verdicts stay up: only the freshness of the data is in question.
func (v HealthVerdict) Up() bool {
	return v.Status != HealthUnavailable
}
