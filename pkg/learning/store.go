// Package learning persists file-movement outcomes and learned category
// preferences in SQLite, and answers category-suggestion queries from the
// accumulated evidence.
package learning

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"booru-tagger/pkg/models"
	"booru-tagger/pkg/utils"
)

const (
	initialConfidence = 0.5  // A first observation is a coin flip, not a conviction
	confidenceStep    = 0.05 // Fixed gain per corroborating sample
	maxConfidence     = 0.95 // Bounded trust: confidence never reaches 1.0
)

// Schema for the three learning tables. Movements are append-only;
// preferences are unique on (pattern_key, pattern_value); corrections are
// keyed by the (from, to) category pair.
const schema = `
CREATE TABLE IF NOT EXISTS file_movements (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	file_hash TEXT NOT NULL,
	file_name TEXT NOT NULL,
	suggested_category TEXT,
	actual_category TEXT NOT NULL,
	moved_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
	style TEXT,
	persons_detected INTEGER,
	booru_tags TEXT
);
CREATE INDEX IF NOT EXISTS idx_movements_hash ON file_movements(file_hash);
CREATE INDEX IF NOT EXISTS idx_movements_category ON file_movements(actual_category);

CREATE TABLE IF NOT EXISTS user_preferences (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	pattern_key TEXT NOT NULL,
	pattern_value TEXT NOT NULL,
	category TEXT NOT NULL,
	confidence REAL NOT NULL DEFAULT 0.5,
	sample_count INTEGER NOT NULL DEFAULT 1,
	last_updated TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
	UNIQUE(pattern_key, pattern_value)
);

CREATE TABLE IF NOT EXISTS category_corrections (
	from_category TEXT NOT NULL,
	to_category TEXT NOT NULL,
	correction_count INTEGER NOT NULL DEFAULT 1,
	PRIMARY KEY (from_category, to_category)
) WITHOUT ROWID;
`

// Store is the preference-learning database. Every mutation is a single
// transaction committed before the call returns; unique-key invariants are
// maintained with atomic upserts, never read-then-write.
type Store struct {
	db  *sql.DB
	log *logrus.Entry
}

// Open creates or opens the preference database at dbPath.
func Open(dbPath string, logger *logrus.Entry) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("%w: cannot create database directory: %w", utils.ErrFilesystem, err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %w", utils.ErrDatabase, dbPath, err)
	}

	// SQLite allows one writer; a single connection avoids SQLITE_BUSY
	// without giving up concurrent-safe upserts
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%w: %s: %w", utils.ErrDatabase, pragma, err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: initializing schema: %w", utils.ErrDatabase, err)
	}

	logger.Infof("Preference database initialized: %s", dbPath)
	return &Store{db: db, log: logger}, nil
}

// RecordMovement appends one immutable movement record. When a suggestion
// was made and differs from the actual category, the (from -> to) correction
// counter is incremented in the same transaction.
func (s *Store) RecordMovement(ctx context.Context, m models.Movement) error {
	var tagsJSON sql.NullString
	if len(m.BooruTags) > 0 {
		raw, err := json.Marshal(m.BooruTags)
		if err != nil {
			return fmt.Errorf("%w: marshaling booru tags: %w", utils.ErrParsing, err)
		}
		tagsJSON = sql.NullString{String: string(raw), Valid: true}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin tx: %w", utils.ErrDatabase, err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO file_movements
			(file_hash, file_name, suggested_category, actual_category, style, persons_detected, booru_tags)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		m.FileHash, m.FileName,
		nullString(m.SuggestedCategory), m.ActualCategory,
		nullString(m.Style), nullInt(m.PersonsDetected), tagsJSON,
	)
	if err != nil {
		return fmt.Errorf("%w: inserting movement: %w", utils.ErrDatabase, err)
	}

	if m.SuggestedCategory != "" && m.SuggestedCategory != m.ActualCategory {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO category_corrections (from_category, to_category, correction_count)
			VALUES (?, ?, 1)
			ON CONFLICT(from_category, to_category)
			DO UPDATE SET correction_count = correction_count + 1`,
			m.SuggestedCategory, m.ActualCategory,
		)
		if err != nil {
			return fmt.Errorf("%w: recording correction: %w", utils.ErrDatabase, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit movement: %w", utils.ErrDatabase, err)
	}

	s.log.Debugf("Recorded movement: %s -> %s", m.FileName, m.ActualCategory)
	return nil
}

// LearnPreference creates or reinforces a (pattern -> category) association.
// A first observation starts at confidence 0.5 with sample count 1. Every
// later observation overwrites the category with the latest value, bumps the
// sample count, and raises confidence by a fixed step capped at 0.95. The
// category overwrite is deliberate recency bias, not majority voting.
func (s *Store) LearnPreference(ctx context.Context, patternKey, patternValue, category string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_preferences (pattern_key, pattern_value, category, confidence, sample_count)
		VALUES (?, ?, ?, ?, 1)
		ON CONFLICT(pattern_key, pattern_value)
		DO UPDATE SET
			category = excluded.category,
			confidence = min(?, confidence + ?),
			sample_count = sample_count + 1,
			last_updated = CURRENT_TIMESTAMP`,
		patternKey, patternValue, category, initialConfidence,
		maxConfidence, confidenceStep,
	)
	if err != nil {
		return fmt.Errorf("%w: learning preference %s:%s: %w", utils.ErrDatabase, patternKey, patternValue, err)
	}
	return nil
}

// GetPreference returns the learned preference for a pattern, or
// (zero, false) when none exists.
func (s *Store) GetPreference(ctx context.Context, patternKey, patternValue string) (models.Preference, bool, error) {
	var p models.Preference
	var lastUpdated sql.NullString

	err := s.db.QueryRowContext(ctx, `
		SELECT pattern_key, pattern_value, category, confidence, sample_count, last_updated
		FROM user_preferences
		WHERE pattern_key = ? AND pattern_value = ?`,
		patternKey, patternValue,
	).Scan(&p.PatternKey, &p.PatternValue, &p.Category, &p.Confidence, &p.SampleCount, &lastUpdated)

	if err == sql.ErrNoRows {
		return models.Preference{}, false, nil
	}
	if err != nil {
		return models.Preference{}, false, fmt.Errorf("%w: reading preference: %w", utils.ErrDatabase, err)
	}
	if lastUpdated.Valid {
		if t, errParse := time.Parse("2006-01-02 15:04:05", lastUpdated.String); errParse == nil {
			p.LastUpdated = t
		}
	}
	return p, true, nil
}

// SuggestionSignals are the observed inputs a suggestion can be derived from
type SuggestionSignals struct {
	Style           string
	PersonsDetected *int
	BooruTags       []string
}

// SuggestCategory evaluates the style, the person count, and up to the first
// five supplied tags as independent candidates, keeps those meeting the
// confidence floor, and returns the single highest-confidence one. Ties go
// to the earlier candidate in evaluation order: style, persons, then tags in
// supplied order. Returns (zero, false) when no candidate qualifies.
func (s *Store) SuggestCategory(ctx context.Context, signals SuggestionSignals, minConfidence float64) (models.Suggestion, bool, error) {
	var best models.Suggestion
	found := false

	consider := func(patternKey, patternValue, reason string) error {
		pref, ok, err := s.GetPreference(ctx, patternKey, patternValue)
		if err != nil {
			return err
		}
		if !ok || pref.Confidence < minConfidence {
			return nil
		}
		// Strict > keeps the earliest candidate on ties
		if !found || pref.Confidence > best.Confidence {
			best = models.Suggestion{
				Category:   pref.Category,
				Confidence: pref.Confidence,
				Reason:     reason,
			}
			found = true
		}
		return nil
	}

	if signals.Style != "" {
		if err := consider("style", signals.Style, "style:"+signals.Style); err != nil {
			return models.Suggestion{}, false, err
		}
	}
	if signals.PersonsDetected != nil {
		value := fmt.Sprintf("%d", *signals.PersonsDetected)
		if err := consider("persons", value, "persons:"+value); err != nil {
			return models.Suggestion{}, false, err
		}
	}
	for i, tag := range signals.BooruTags {
		if i >= 5 {
			break
		}
		if err := consider("tag", tag, "tag:"+tag); err != nil {
			return models.Suggestion{}, false, err
		}
	}

	return best, found, nil
}

// Stats reports table counters
func (s *Store) Stats(ctx context.Context) (models.LearningStats, error) {
	var stats models.LearningStats

	queries := []struct {
		query string
		dest  *int
	}{
		{"SELECT COUNT(*) FROM file_movements", &stats.TotalMovements},
		{"SELECT COUNT(*) FROM user_preferences", &stats.TotalPreferences},
		{"SELECT COUNT(*) FROM user_preferences WHERE confidence >= 0.7", &stats.HighConfidencePreferences},
	}
	for _, q := range queries {
		if err := s.db.QueryRowContext(ctx, q.query).Scan(q.dest); err != nil {
			return stats, fmt.Errorf("%w: reading stats: %w", utils.ErrDatabase, err)
		}
	}
	return stats, nil
}

// ExportPreferences dumps every learned preference, highest confidence first.
func (s *Store) ExportPreferences(ctx context.Context) ([]models.Preference, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT pattern_key, pattern_value, category, confidence, sample_count
		FROM user_preferences
		ORDER BY confidence DESC`)
	if err != nil {
		return nil, fmt.Errorf("%w: exporting preferences: %w", utils.ErrDatabase, err)
	}
	defer rows.Close()

	var prefs []models.Preference
	for rows.Next() {
		var p models.Preference
		if err := rows.Scan(&p.PatternKey, &p.PatternValue, &p.Category, &p.Confidence, &p.SampleCount); err != nil {
			return nil, fmt.Errorf("%w: scanning preference: %w", utils.ErrDatabase, err)
		}
		prefs = append(prefs, p)
	}
	return prefs, rows.Err()
}

// Corrections returns the aggregated (from -> to) correction counts,
// most frequent first.
func (s *Store) Corrections(ctx context.Context) ([]models.Correction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT from_category, to_category, correction_count
		FROM category_corrections
		ORDER BY correction_count DESC`)
	if err != nil {
		return nil, fmt.Errorf("%w: reading corrections: %w", utils.ErrDatabase, err)
	}
	defer rows.Close()

	var corrections []models.Correction
	for rows.Next() {
		var c models.Correction
		if err := rows.Scan(&c.FromCategory, &c.ToCategory, &c.Count); err != nil {
			return nil, fmt.Errorf("%w: scanning correction: %w", utils.ErrDatabase, err)
		}
		corrections = append(corrections, c)
	}
	return corrections, rows.Err()
}

// ClearAll wipes all three tables.
func (s *Store) ClearAll(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin tx: %w", utils.ErrDatabase, err)
	}
	defer tx.Rollback()

	for _, table := range []string{"file_movements", "user_preferences", "category_corrections"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("%w: clearing %s: %w", utils.ErrDatabase, table, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit clear: %w", utils.ErrDatabase, err)
	}

	s.log.Info("Cleared all preference data")
	return nil
}

// Close shuts down the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullInt(i *int) sql.NullInt64 {
	if i == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*i), Valid: true}
}
