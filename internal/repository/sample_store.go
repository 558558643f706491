package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "modernc.org/sqlite"

	"credchain-risk/internal/models"
)

const sampleSchema = `
CREATE TABLE IF NOT EXISTS samples (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	model_type  TEXT NOT NULL,
	features    TEXT NOT NULL,
	label       REAL NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_samples_type ON samples (model_type, id);
`

// SampleStore keeps offline training datasets in a SQLite file.
type SampleStore struct {
	db *sql.DB
}

// NewSampleStore opens path and creates the schema.
func NewSampleStore(path string) (*SampleStore, error) {
	if path == "" {
		return nil, fmt.Errorf("sample store path not specified")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sample store: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma: %w", err)
	}
	if _, err := db.Exec(sampleSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &SampleStore{db: db}, nil
}

func (s *SampleStore) Close() error {
	return s.db.Close()
}

// Replace swaps the stored dataset of a model type in one transaction.
func (s *SampleStore) Replace(ctx context.Context, typ models.ModelType, ds models.TrainingDataset) error {
	if len(ds.Features) != len(ds.Labels) {
		return fmt.Errorf("dataset has %d rows and %d labels", len(ds.Features), len(ds.Labels))
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM samples WHERE model_type = ?`, typ); err != nil {
		return fmt.Errorf("clear samples: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO samples (model_type, features, label) VALUES (?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, row := range ds.Features {
		encoded, err := json.Marshal(row)
		if err != nil {
			return fmt.Errorf("encode sample %d: %w", i, err)
		}
		if _, err := stmt.ExecContext(ctx, typ, string(encoded), ds.Labels[i]); err != nil {
			return fmt.Errorf("insert sample %d: %w", i, err)
		}
	}
	return tx.Commit()
}

// Load returns the dataset of a model type in insertion order.
func (s *SampleStore) Load(ctx context.Context, typ models.ModelType) (models.TrainingDataset, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT features, label FROM samples WHERE model_type = ? ORDER BY id`, typ)
	if err != nil {
		return models.TrainingDataset{}, err
	}
	defer rows.Close()

	var ds models.TrainingDataset
	for rows.Next() {
		var encoded string
		var label float64
		if err := rows.Scan(&encoded, &label); err != nil {
			return models.TrainingDataset{}, err
		}
		var row []float64
		if err := json.Unmarshal([]byte(encoded), &row); err != nil {
			return models.TrainingDataset{}, fmt.Errorf("decode sample: %w", err)
		}
		ds.Features = append(ds.Features, row)
		ds.Labels = append(ds.Labels, label)
	}
	return ds, rows.Err()
}

func (s *SampleStore) Count(ctx context.Context, typ models.ModelType) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM samples WHERE model_type = ?`, typ).Scan(&n)
	return n, err
}
