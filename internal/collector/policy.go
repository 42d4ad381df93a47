package collector

// PageOutcome summarises one processed page for the termination policy
type PageOutcome struct {
	PageNo     int
	PageSize   int
	TotalCount int
	Fetched    int
	Valid      int
	New        int
	Duplicates int
	// HitDuplicate is set when sequential persistence stopped at a known id
	HitDuplicate bool
}

// exhausted reports whether upstream's total count says there is nothing after this page
func (o PageOutcome) exhausted() bool {
	return o.TotalCount > 0 && o.PageNo*o.PageSize >= o.TotalCount
}

// TerminationPolicy decides when the paging loop ends
type TerminationPolicy interface {
	Name() string
	// StopsAtDuplicate selects record-by-record persistence that halts at the first known id
	StopsAtDuplicate() bool
	ShouldStop(o PageOutcome) bool
}

// BoundedBatch upserts every page whole and stops on a page without valid records
// or after MaxPages pages
type BoundedBatch struct {
	MaxPages int
}

func (BoundedBatch) Name() string { return "bounded-batch" }

func (BoundedBatch) StopsAtDuplicate() bool { return false }

func (p BoundedBatch) ShouldStop(o PageOutcome) bool {
	if o.Valid == 0 || o.exhausted() {
		return true
	}
	return p.MaxPages > 0 && o.PageNo >= p.MaxPages
}

// DuplicateSentinel persists records in order until the first id already in the store
// and stops after that page. It can under-collect when upstream reorders pages.
// MaxPages of 0 means no ceiling.
type DuplicateSentinel struct {
	MaxPages int
}

func (DuplicateSentinel) Name() string { return "duplicate-sentinel" }

func (DuplicateSentinel) StopsAtDuplicate() bool { return true }

func (p DuplicateSentinel) ShouldStop(o PageOutcome) bool {
	if o.HitDuplicate || o.exhausted() {
		return true
	}
	return p.MaxPages > 0 && o.PageNo >= p.MaxPages
}

// PolicyByName maps a configured policy name to a TerminationPolicy
func PolicyByName(name string, maxPages int) (TerminationPolicy, bool) {
	switch name {
	case "", BoundedBatch{}.Name():
		return BoundedBatch{MaxPages: maxPages}, true
	case DuplicateSentinel{}.Name():
		return DuplicateSentinel{MaxPages: maxPages}, true
	}
	return nil, false
}
