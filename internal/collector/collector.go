// Package collector pages through the feed and reconciles records into the store.
package collector

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hacknation/odnalezione-zguby/findit-ingest/internal/metrics"
	"github.com/hacknation/odnalezione-zguby/findit-ingest/internal/models"
	"github.com/hacknation/odnalezione-zguby/findit-ingest/internal/normalizer"
	"github.com/rs/zerolog/log"
)

const defaultPageSize = 100

// Fetcher is the feed side of a collection run
type Fetcher interface {
	Enabled() bool
	FetchPage(ctx context.Context, kind models.Kind, pageNo, pageSize int, startDate, endDate *time.Time) (*models.FeedPage, error)
}

// Sink is the persistence side of a collection run. UpsertBatch must be safe on ids
// already stored.
type Sink interface {
	ExistsByID(ctx context.Context, kind models.Kind, id string) (bool, error)
	Save(ctx context.Context, rec *models.CanonicalRecord) error
	UpsertBatch(ctx context.Context, kind models.Kind, recs []models.CanonicalRecord) (int, error)
}

// ImageMirror copies the image of a new record and returns the URL of the copy
type ImageMirror interface {
	MirrorImage(ctx context.Context, rec *models.CanonicalRecord) (string, error)
}

// EventPublisher announces finished runs
type EventPublisher interface {
	PublishRecordsIngested(ctx context.Context, event *models.RecordsIngestedEvent) error
}

// Options configures a Collector
type Options struct {
	PageSize  int
	Policy    TerminationPolicy
	Metrics   *metrics.Metrics
	Mirror    ImageMirror
	Publisher EventPublisher
	Now       func() time.Time
}

// Collector runs incremental collections. A single Collector must not run two
// collections of the same kind at once; different kinds are independent.
type Collector struct {
	feed       Fetcher
	normalizer *normalizer.Normalizer
	sink       Sink
	pageSize   int
	policy     TerminationPolicy
	metrics    *metrics.Metrics
	mirror     ImageMirror
	publisher  EventPublisher
	now        func() time.Time
}

// New creates a Collector
func New(feed Fetcher, norm *normalizer.Normalizer, sink Sink, opts Options) *Collector {
	c := &Collector{
		feed:       feed,
		normalizer: norm,
		sink:       sink,
		pageSize:   opts.PageSize,
		policy:     opts.Policy,
		metrics:    opts.Metrics,
		mirror:     opts.Mirror,
		publisher:  opts.Publisher,
		now:        opts.Now,
	}
	if c.pageSize <= 0 {
		c.pageSize = defaultPageSize
	}
	if c.policy == nil {
		c.policy = BoundedBatch{MaxPages: 10}
	}
	if c.now == nil {
		c.now = time.Now
	}
	return c
}

// Policy returns the termination policy in use
func (c *Collector) Policy() TerminationPolicy {
	return c.policy
}

// Collect pulls the trailing lookbackDays window of records of one kind.
//
// A transport or storage failure aborts the run; the partial result is returned
// together with the error and whatever was committed stays committed.
// Rejected records are counted as skipped and never abort the run.
func (c *Collector) Collect(ctx context.Context, kind models.Kind, lookbackDays int) (*models.CollectionRunResult, error) {
	started := c.now()
	result := &models.CollectionRunResult{
		RunID:     uuid.New().String(),
		Kind:      kind,
		Saved:     []models.CanonicalRecord{},
		StartedAt: started,
	}

	if !c.feed.Enabled() {
		log.Info().Str("kind", string(kind)).Msg("Feed disabled, skipping collection")
		result.FinishedAt = started
		return result, nil
	}

	end := time.Date(started.Year(), started.Month(), started.Day(), 0, 0, 0, 0, time.UTC)
	start := end.AddDate(0, 0, -lookbackDays)

	log.Info().
		Str("run_id", result.RunID).
		Str("kind", string(kind)).
		Str("from", start.Format(models.DateLayout)).
		Str("to", end.Format(models.DateLayout)).
		Str("policy", c.policy.Name()).
		Msg("Starting collection")

	for pageNo := 1; ; pageNo++ {
		page, err := c.feed.FetchPage(ctx, kind, pageNo, c.pageSize, &start, &end)
		if err != nil {
			log.Error().
				Err(err).
				Str("run_id", result.RunID).
				Str("kind", string(kind)).
				Int("page", pageNo).
				Msg("Fetch failed, aborting collection")
			return c.finish(ctx, result, fmt.Errorf("fetch %s page %d: %w", kind, pageNo, err))
		}
		result.Pages++

		if len(page.Items) == 0 {
			break
		}

		outcome, err := c.processPage(ctx, kind, pageNo, page, result)
		if err != nil {
			log.Error().
				Err(err).
				Str("run_id", result.RunID).
				Str("kind", string(kind)).
				Int("page", pageNo).
				Msg("Persistence failed, aborting collection")
			return c.finish(ctx, result, err)
		}
		if c.policy.ShouldStop(outcome) {
			break
		}
	}

	return c.finish(ctx, result, nil)
}

func (c *Collector) processPage(ctx context.Context, kind models.Kind, pageNo int, page *models.FeedPage, result *models.CollectionRunResult) (PageOutcome, error) {
	outcome := PageOutcome{
		PageNo:     pageNo,
		PageSize:   c.pageSize,
		TotalCount: page.TotalCount,
		Fetched:    len(page.Items),
	}

	valid := make([]models.CanonicalRecord, 0, len(page.Items))
	skipped := 0
	for _, raw := range page.Items {
		rec, err := c.normalizer.NormalizeRecord(kind, raw)
		if err != nil {
			skipped++
			log.Warn().
				Err(err).
				Str("kind", string(kind)).
				Int("page", pageNo).
				Str("raw_id", normalizer.ResolveID(raw)).
				Msg("Skipping record")
			continue
		}
		valid = append(valid, *rec)
	}
	valid, repeated := dedupeByID(valid)
	outcome.Valid = len(valid)
	outcome.Duplicates = repeated

	var (
		saved []models.CanonicalRecord
		err   error
	)
	if c.policy.StopsAtDuplicate() {
		saved, err = c.saveUntilDuplicate(ctx, valid, &outcome)
	} else {
		saved, err = c.upsertPage(ctx, kind, valid, &outcome)
	}

	result.Fetched += outcome.Fetched
	result.Valid += outcome.Valid
	result.Skipped += skipped
	result.Duplicates += outcome.Duplicates
	result.Saved = append(result.Saved, saved...)
	if c.metrics != nil {
		c.metrics.RecordPage(string(kind), outcome.Fetched, len(saved), skipped)
	}

	log.Debug().
		Str("kind", string(kind)).
		Int("page", pageNo).
		Int("fetched", outcome.Fetched).
		Int("valid", outcome.Valid).
		Int("new", outcome.New).
		Int("duplicates", outcome.Duplicates).
		Int("skipped", skipped).
		Msg("Processed page")

	return outcome, err
}

// upsertPage writes the whole page in one batch. Existence is checked first so the
// result can tell new records from refreshed ones.
func (c *Collector) upsertPage(ctx context.Context, kind models.Kind, valid []models.CanonicalRecord, outcome *PageOutcome) ([]models.CanonicalRecord, error) {
	if len(valid) == 0 {
		return nil, nil
	}

	fresh := make([]bool, len(valid))
	for i := range valid {
		exists, err := c.sink.ExistsByID(ctx, kind, valid[i].ID)
		if err != nil {
			return nil, fmt.Errorf("existence check for %s %s: %w", kind, valid[i].ID, err)
		}
		if exists {
			outcome.Duplicates++
			continue
		}
		fresh[i] = true
		c.mirrorImage(ctx, &valid[i])
	}

	if _, err := c.sink.UpsertBatch(ctx, kind, valid); err != nil {
		return nil, fmt.Errorf("upsert %d %s records: %w", len(valid), kind, err)
	}

	var saved []models.CanonicalRecord
	for i := range valid {
		if fresh[i] {
			saved = append(saved, valid[i])
		}
	}
	outcome.New = len(saved)
	return saved, nil
}

// saveUntilDuplicate persists records one at a time and stops at the first known id
func (c *Collector) saveUntilDuplicate(ctx context.Context, valid []models.CanonicalRecord, outcome *PageOutcome) ([]models.CanonicalRecord, error) {
	var saved []models.CanonicalRecord
	for i := range valid {
		rec := &valid[i]
		exists, err := c.sink.ExistsByID(ctx, rec.Kind, rec.ID)
		if err != nil {
			return saved, fmt.Errorf("existence check for %s %s: %w", rec.Kind, rec.ID, err)
		}
		if exists {
			outcome.Duplicates++
			outcome.HitDuplicate = true
			log.Info().Str("kind", string(rec.Kind)).Str("id", rec.ID).Msg("Reached already stored record")
			break
		}
		c.mirrorImage(ctx, rec)
		if err := c.sink.Save(ctx, rec); err != nil {
			return saved, fmt.Errorf("save %s %s: %w", rec.Kind, rec.ID, err)
		}
		saved = append(saved, *rec)
		outcome.New++
	}
	return saved, nil
}

// mirrorImage points a new record at a mirrored copy of its image. Failures keep
// the upstream URL.
func (c *Collector) mirrorImage(ctx context.Context, rec *models.CanonicalRecord) {
	if c.mirror == nil || rec.ImagePath == nil {
		return
	}
	mirrored, err := c.mirror.MirrorImage(ctx, rec)
	if err != nil {
		log.Warn().Err(err).Str("kind", string(rec.Kind)).Str("id", rec.ID).Msg("Failed to mirror image")
		return
	}
	if mirrored != "" {
		rec.ImagePath = &mirrored
	}
}

func (c *Collector) finish(ctx context.Context, result *models.CollectionRunResult, runErr error) (*models.CollectionRunResult, error) {
	result.FinishedAt = c.now()
	status := "ok"
	if runErr != nil {
		status = "error"
		result.Err = runErr.Error()
	}
	if c.metrics != nil {
		c.metrics.RecordRun(string(result.Kind), status, result.FinishedAt.Sub(result.StartedAt))
	}

	if c.publisher != nil && result.SavedCount() > 0 {
		if err := c.publisher.PublishRecordsIngested(ctx, newIngestedEvent(result)); err != nil {
			log.Error().Err(err).Str("run_id", result.RunID).Msg("Failed to publish records.ingested event")
		}
	}

	log.Info().
		Str("run_id", result.RunID).
		Str("kind", string(result.Kind)).
		Int("pages", result.Pages).
		Int("fetched", result.Fetched).
		Int("saved", result.SavedCount()).
		Int("duplicates", result.Duplicates).
		Int("skipped", result.Skipped).
		Str("status", status).
		Dur("duration", result.FinishedAt.Sub(result.StartedAt)).
		Msg("Collection finished")

	return result, runErr
}

func newIngestedEvent(result *models.CollectionRunResult) *models.RecordsIngestedEvent {
	ids := make([]string, 0, len(result.Saved))
	for _, rec := range result.Saved {
		ids = append(ids, rec.ID)
	}
	return &models.RecordsIngestedEvent{
		ID:         uuid.New().String(),
		RunID:      result.RunID,
		Kind:       result.Kind,
		RecordIDs:  ids,
		Fetched:    result.Fetched,
		Skipped:    result.Skipped,
		Duplicates: result.Duplicates,
		Timestamp:  result.FinishedAt,
	}
}

// dedupeByID keeps the last occurrence of each id, preserving first-seen order
func dedupeByID(recs []models.CanonicalRecord) ([]models.CanonicalRecord, int) {
	index := make(map[string]int, len(recs))
	out := recs[:0]
	repeated := 0
	for _, rec := range recs {
		if i, ok := index[rec.ID]; ok {
			out[i] = rec
			repeated++
			continue
		}
		index[rec.ID] = len(out)
		out = append(out, rec)
	}
	return out, repeated
}
