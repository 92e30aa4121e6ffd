package beers

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const beerColumns = `id, name, brewer, description, abv, abv_confidence, abv_status, abv_source,
abv_updated_at, cleaned_description, cleaned_at, created_at, updated_at`

// PostgresStore keeps beers in the beers table.
type PostgresStore struct {
	db      *sql.DB
	nowFunc func() time.Time
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, nowFunc: time.Now}
}

func (s *PostgresStore) Put(ctx context.Context, b Beer) error {
	now := s.nowFunc().UTC()
	if b.CreatedAt.IsZero() {
		b.CreatedAt = now
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO beers (`+beerColumns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
ON CONFLICT (id) DO UPDATE SET
  name = EXCLUDED.name, brewer = EXCLUDED.brewer, description = EXCLUDED.description,
  abv = EXCLUDED.abv, abv_confidence = EXCLUDED.abv_confidence, abv_status = EXCLUDED.abv_status,
  abv_source = EXCLUDED.abv_source, abv_updated_at = EXCLUDED.abv_updated_at,
  cleaned_description = EXCLUDED.cleaned_description, cleaned_at = EXCLUDED.cleaned_at,
  updated_at = EXCLUDED.updated_at`,
		b.BeerID, b.Name, b.Brewer, b.Description, b.ABV,
		nullString(b.ABVConfidence), nullString(b.ABVStatus), nullString(b.ABVSource), b.ABVUpdatedAt,
		nullString(b.CleanedDescription), b.CleanedAt, b.CreatedAt, now)
	if err != nil {
		return fmt.Errorf("upsert beer: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, beerID string) (*Beer, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+beerColumns+` FROM beers WHERE id = $1`, beerID)
	b, err := scanBeer(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return b, nil
}

func (s *PostgresStore) SetABV(ctx context.Context, beerID string, res ABVResult) error {
	now := s.nowFunc().UTC()
	result, err := s.db.ExecContext(ctx, `
UPDATE beers SET abv = $2, abv_confidence = $3, abv_status = $4, abv_source = $5,
  abv_updated_at = $6, updated_at = $6
WHERE id = $1`,
		beerID, res.ABV, res.Confidence, res.Status, res.Source, now)
	return checkUpdated(result, err, "set abv", beerID)
}

func (s *PostgresStore) SetCleanedDescription(ctx context.Context, beerID, text string) error {
	now := s.nowFunc().UTC()
	result, err := s.db.ExecContext(ctx,
		`UPDATE beers SET cleaned_description = $2, cleaned_at = $3, updated_at = $3 WHERE id = $1`,
		beerID, text, now)
	return checkUpdated(result, err, "set cleaned description", beerID)
}

func (s *PostgresStore) ListMissingABV(ctx context.Context, limit int) ([]Beer, error) {
	return s.list(ctx, `SELECT `+beerColumns+` FROM beers WHERE abv_status IS NULL ORDER BY created_at LIMIT $1`, limit)
}

func (s *PostgresStore) ListMissingCleanup(ctx context.Context, limit int) ([]Beer, error) {
	return s.list(ctx, `SELECT `+beerColumns+` FROM beers
WHERE cleaned_description IS NULL AND description <> '' ORDER BY created_at LIMIT $1`, limit)
}

func (s *PostgresStore) list(ctx context.Context, query string, limit int) ([]Beer, error) {
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list beers: %w", err)
	}
	defer rows.Close()

	var out []Beer
	for rows.Next() {
		b, err := scanBeer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBeer(row rowScanner) (*Beer, error) {
	var b Beer
	var abv sql.NullFloat64
	var confidence, status, source, cleaned sql.NullString
	var abvUpdated, cleanedAt sql.NullTime
	err := row.Scan(&b.BeerID, &b.Name, &b.Brewer, &b.Description, &abv, &confidence, &status, &source,
		&abvUpdated, &cleaned, &cleanedAt, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan beer: %w", err)
	}
	if abv.Valid {
		v := abv.Float64
		b.ABV = &v
	}
	b.ABVConfidence = confidence.String
	b.ABVStatus = status.String
	b.ABVSource = source.String
	b.CleanedDescription = cleaned.String
	if abvUpdated.Valid {
		t := abvUpdated.Time
		b.ABVUpdatedAt = &t
	}
	if cleanedAt.Valid {
		t := cleanedAt.Time
		b.CleanedAt = &t
	}
	return &b, nil
}

func checkUpdated(result sql.Result, err error, op, beerID string) error {
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: rows affected: %w", op, err)
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", op, beerID, ErrNotFound)
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
