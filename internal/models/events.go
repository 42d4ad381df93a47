package models

import "time"

// RecordsIngestedEvent is published after a collection run persisted new records
type RecordsIngestedEvent struct {
	ID         string    `json:"id"`
	RunID      string    `json:"run_id"`
	Kind       Kind      `json:"kind"`
	RecordIDs  []string  `json:"record_ids"`
	Fetched    int       `json:"fetched"`
	Skipped    int       `json:"skipped"`
	Duplicates int       `json:"duplicates"`
	Timestamp  time.Time `json:"timestamp"`
}

// CollectRequestedEvent asks the service to run a collection outside the schedule.
// An empty Kind means every kind.
type CollectRequestedEvent struct {
	Kind        Kind   `json:"kind,omitempty"`
	RequestedBy string `json:"requested_by,omitempty"`
}
