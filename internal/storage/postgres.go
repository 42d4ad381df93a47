package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/hacknation/odnalezione-zguby/findit-ingest/internal/models"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog/log"
)

// tables maps each record kind to its own table; the two are structurally identical
var tables = map[models.Kind]string{
	models.KindLost:  "lost_items",
	models.KindFound: "found_items",
}

const recordColumns = `atc_id, category, place, item_date, name, subject, color, sequence, image_url`

type PostgresStorage struct {
	db *sql.DB
}

func NewPostgresStorage(host, port, user, password, dbName, sslMode string) (*PostgresStorage, error) {
	connStr := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		host, port, user, password, dbName, sslMode)

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open db connection: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping db: %w", err)
	}

	storage := NewPostgresStorageWithDB(db)
	if err := storage.Init(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to initialize db schema: %w", err)
	}

	return storage, nil
}

// NewPostgresStorageWithDB wraps an open handle without touching the schema
func NewPostgresStorageWithDB(db *sql.DB) *PostgresStorage {
	return &PostgresStorage{db: db}
}

// Init creates necessary tables
func (s *PostgresStorage) Init(ctx context.Context) error {
	for _, kind := range models.Kinds {
		query := fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS %[1]s (
		atc_id VARCHAR(64) PRIMARY KEY,
		category VARCHAR(100) NOT NULL,
		place VARCHAR(255) NOT NULL,
		item_date DATE NOT NULL,
		name TEXT,
		subject TEXT,
		color TEXT,
		sequence TEXT,
		image_url TEXT,
		created_at TIMESTAMP NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMP NOT NULL DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_%[1]s_item_date ON %[1]s(item_date);`, tables[kind])

		if _, err := s.db.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("failed to create %s: %w", tables[kind], err)
		}
	}
	return nil
}

func tableFor(kind models.Kind) (string, error) {
	table, ok := tables[kind]
	if !ok {
		return "", fmt.Errorf("unknown record kind %q", kind)
	}
	return table, nil
}

// upsertQuery refreshes every column of a known id except image_url: once stored,
// usually as a mirrored copy, it is kept
func upsertQuery(table string) string {
	return fmt.Sprintf(`
	INSERT INTO %[1]s (
		%[2]s, created_at, updated_at
	) VALUES (
		$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10
	) ON CONFLICT (atc_id) DO UPDATE SET
		category = EXCLUDED.category,
		place = EXCLUDED.place,
		item_date = EXCLUDED.item_date,
		name = EXCLUDED.name,
		subject = EXCLUDED.subject,
		color = EXCLUDED.color,
		sequence = EXCLUDED.sequence,
		image_url = COALESCE(%[1]s.image_url, EXCLUDED.image_url),
		updated_at = EXCLUDED.updated_at
	;`, table, recordColumns)
}

func upsertArgs(rec *models.CanonicalRecord, now time.Time) []any {
	return []any{
		rec.ID, rec.Category, rec.Place, rec.Date,
		nullable(rec.Name), nullable(rec.Subject), nullable(rec.Color),
		nullable(rec.Sequence), nullable(rec.ImagePath),
		now,
	}
}

// ExistsByID reports whether a record with the given id is stored
func (s *PostgresStorage) ExistsByID(ctx context.Context, kind models.Kind, id string) (bool, error) {
	table, err := tableFor(kind)
	if err != nil {
		return false, err
	}

	var exists bool
	query := fmt.Sprintf(`SELECT EXISTS(SELECT 1 FROM %s WHERE atc_id = $1)`, table)
	if err := s.db.QueryRowContext(ctx, query, id).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check %s %s: %w", kind, id, err)
	}
	return exists, nil
}

// Save inserts or replaces a single record
func (s *PostgresStorage) Save(ctx context.Context, rec *models.CanonicalRecord) error {
	table, err := tableFor(rec.Kind)
	if err != nil {
		return err
	}

	if _, err := s.db.ExecContext(ctx, upsertQuery(table), upsertArgs(rec, time.Now())...); err != nil {
		log.Error().Err(err).Str("kind", string(rec.Kind)).Str("id", rec.ID).Msg("Failed to save record to postgres")
		return err
	}
	return nil
}

// UpsertBatch inserts or replaces records in one transaction. Either every record
// of the batch is committed or none is.
func (s *PostgresStorage) UpsertBatch(ctx context.Context, kind models.Kind, recs []models.CanonicalRecord) (int, error) {
	if len(recs) == 0 {
		return 0, nil
	}
	table, err := tableFor(kind)
	if err != nil {
		return 0, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, upsertQuery(table))
	if err != nil {
		return 0, fmt.Errorf("failed to prepare upsert: %w", err)
	}
	defer stmt.Close()

	now := time.Now()
	for i := range recs {
		if _, err := stmt.ExecContext(ctx, upsertArgs(&recs[i], now)...); err != nil {
			log.Error().Err(err).Str("kind", string(kind)).Str("id", recs[i].ID).Msg("Failed to upsert record")
			return 0, fmt.Errorf("failed to upsert %s %s: %w", kind, recs[i].ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit batch: %w", err)
	}

	log.Debug().Str("kind", string(kind)).Int("count", len(recs)).Msg("Upserted batch")
	return len(recs), nil
}

// FindByID retrieves a record by id
func (s *PostgresStorage) FindByID(ctx context.Context, kind models.Kind, id string) (*models.CanonicalRecord, bool) {
	table, err := tableFor(kind)
	if err != nil {
		return nil, false
	}

	query := fmt.Sprintf(`SELECT %s FROM %s WHERE atc_id = $1`, recordColumns, table)

	rec := &models.CanonicalRecord{Kind: kind}
	var name, subject, color, sequence, imageURL sql.NullString

	err = s.db.QueryRowContext(ctx, query, id).Scan(
		&rec.ID, &rec.Category, &rec.Place, &rec.Date,
		&name, &subject, &color, &sequence, &imageURL,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false
	}
	if err != nil {
		log.Error().Err(err).Str("kind", string(kind)).Str("id", id).Msg("Failed to get record from postgres")
		return nil, false
	}

	rec.Date = time.Date(rec.Date.Year(), rec.Date.Month(), rec.Date.Day(), 0, 0, 0, 0, time.UTC)
	rec.DateText = rec.Date.Format(models.DateLayout)
	rec.Name = fromNull(name)
	rec.Subject = fromNull(subject)
	rec.Color = fromNull(color)
	rec.Sequence = fromNull(sequence)
	rec.ImagePath = fromNull(imageURL)

	return rec, true
}

// Count returns the number of stored records of one kind
func (s *PostgresStorage) Count(ctx context.Context, kind models.Kind) (int, error) {
	table, err := tableFor(kind)
	if err != nil {
		return 0, err
	}

	var n int
	if err := s.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s`, table)).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", table, err)
	}
	return n, nil
}

// Ping verifies the database connection
func (s *PostgresStorage) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database handle
func (s *PostgresStorage) Close() error {
	return s.db.Close()
}

func nullable(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func fromNull(ns sql.NullString) *string {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	v := ns.String
	return &v
}
