package storage

import (
	"database/sql"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/quantmesh/QuorumGo/internal/models"
	"github.com/quantmesh/QuorumGo/pkg/sqlite"
)

// Store persists feedback samples and reflections in SQLite. One row per
// record keyed by its uuid, nested fields serialized as a JSON blob. It
// implements the rlhf SampleStore and reflection ReflectionStore
// interfaces.
type Store struct {
	db     *sql.DB
	logger *logrus.Logger
}

func NewStore(dbPath string, logger *logrus.Logger) (*Store, error) {
	if logger == nil {
		logger = logrus.New()
	}

	db, err := sqlite.Open(dbPath)
	if err != nil {
		return nil, err
	}

	s := &Store{db: db, logger: logger}
	if err := s.initTables(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) initTables() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS feedback_samples (
			id TEXT PRIMARY KEY,
			source TEXT NOT NULL,
			record_json TEXT NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);`,
		`CREATE TABLE IF NOT EXISTS reflections (
			id TEXT PRIMARY KEY,
			task TEXT NOT NULL,
			quality_score REAL NOT NULL,
			record_json TEXT NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);`,
	}
	for _, q := range queries {
		if _, err := s.db.Exec(q); err != nil {
			return fmt.Errorf("create table: %w", err)
		}
	}
	return nil
}

// SaveSample stores one feedback sample. Re-saving the same id overwrites
// the previous record.
func (s *Store) SaveSample(sample models.FeedbackSample) error {
	data, err := sample.MarshalRecord()
	if err != nil {
		return fmt.Errorf("marshal feedback sample: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO feedback_samples (id, source, record_json) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET source = excluded.source, record_json = excluded.record_json
	`, sample.ID, string(sample.Source), string(data))
	if err != nil {
		return fmt.Errorf("insert feedback sample: %w", err)
	}
	return nil
}

// LoadSamples returns every persisted sample in insertion order.
func (s *Store) LoadSamples() ([]models.FeedbackSample, error) {
	rows, err := s.db.Query(`SELECT record_json FROM feedback_samples ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("query feedback samples: %w", err)
	}
	defer rows.Close()

	var out []models.FeedbackSample
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		sample, err := models.FeedbackSampleFromRecord([]byte(raw))
		if err != nil {
			s.logger.WithError(err).Warn("skipping corrupt feedback sample row")
			continue
		}
		out = append(out, sample)
	}
	return out, rows.Err()
}

// SaveReflection stores one reflection result.
func (s *Store) SaveReflection(result models.ReflectionResult) error {
	data, err := marshalReflection(result)
	if err != nil {
		return fmt.Errorf("marshal reflection: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO reflections (id, task, quality_score, record_json) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET record_json = excluded.record_json, quality_score = excluded.quality_score
	`, result.ID, result.Task, result.QualityScore, string(data))
	if err != nil {
		return fmt.Errorf("insert reflection: %w", err)
	}
	return nil
}

// LoadReflections returns every persisted reflection in insertion order.
func (s *Store) LoadReflections() ([]models.ReflectionResult, error) {
	rows, err := s.db.Query(`SELECT record_json FROM reflections ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("query reflections: %w", err)
	}
	defer rows.Close()

	var out []models.ReflectionResult
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		result, err := unmarshalReflection([]byte(raw))
		if err != nil {
			s.logger.WithError(err).Warn("skipping corrupt reflection row")
			continue
		}
		out = append(out, result)
	}
	return out, rows.Err()
}
