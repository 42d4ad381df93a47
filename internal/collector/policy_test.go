package collector

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBoundedBatch_ShouldStop(t *testing.T) {
	policy := BoundedBatch{MaxPages: 10}

	tests := []struct {
		name    string
		outcome PageOutcome
		want    bool
	}{
		{"valid records below ceiling", PageOutcome{PageNo: 1, PageSize: 100, Valid: 5}, false},
		{"no valid records", PageOutcome{PageNo: 1, PageSize: 100, Fetched: 3}, true},
		{"ceiling reached", PageOutcome{PageNo: 10, PageSize: 100, Valid: 5}, true},
		{"duplicates do not stop", PageOutcome{PageNo: 2, PageSize: 100, Valid: 5, Duplicates: 5, HitDuplicate: true}, false},
		{"total count reached", PageOutcome{PageNo: 2, PageSize: 100, TotalCount: 200, Valid: 5}, true},
		{"total count not reached", PageOutcome{PageNo: 2, PageSize: 100, TotalCount: 201, Valid: 5}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, policy.ShouldStop(tt.outcome))
		})
	}
}

func TestDuplicateSentinel_ShouldStop(t *testing.T) {
	policy := DuplicateSentinel{}

	assert.True(t, policy.ShouldStop(PageOutcome{PageNo: 1, PageSize: 100, Valid: 3, HitDuplicate: true}))
	assert.False(t, policy.ShouldStop(PageOutcome{PageNo: 50, PageSize: 100, Valid: 3}))
	assert.False(t, policy.ShouldStop(PageOutcome{PageNo: 1, PageSize: 100}))
	assert.True(t, DuplicateSentinel{MaxPages: 2}.ShouldStop(PageOutcome{PageNo: 2, PageSize: 100, Valid: 3}))
}

func TestPolicyByName(t *testing.T) {
	p, ok := PolicyByName("", 4)
	require.True(t, ok)
	assert.Equal(t, BoundedBatch{MaxPages: 4}, p)

	p, ok = PolicyByName("duplicate-sentinel", 4)
	require.True(t, ok)
	assert.True(t, p.StopsAtDuplicate())

	_, ok = PolicyByName("stop-whenever", 4)
	assert.False(t, ok)
}
