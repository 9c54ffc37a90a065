// Package storage provides the durable scan state file and a SQLite-backed
// history of every opportunity that reached the alert queue.
package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"github.com/rewired-gh/polyedge/internal/models"
)

var ErrNotFound = errors.New("not found")

// Storage wraps a SQLite database holding opportunity history.
type Storage struct {
	db         *sql.DB
	maxHistory int
}

// New opens or creates the SQLite database at dbPath.
// An empty dbPath defaults to $TMPDIR/polyedge/history.db.
func New(maxHistory int, dbPath string) (*Storage, error) {
	if dbPath == "" {
		dbPath = filepath.Join(os.TempDir(), "polyedge", "history.db")
	}
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1) // single writer; WAL allows concurrent readers
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}
	s := &Storage{db: db, maxHistory: maxHistory}
	if err := s.createTables(); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Storage) Close() error {
	return s.db.Close()
}

func (s *Storage) createTables() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS opportunities (
			id               TEXT PRIMARY KEY,
			market_id        TEXT NOT NULL,
			question         TEXT NOT NULL,
			url              TEXT,
			yes_prob         REAL NOT NULL,
			no_prob          REAL NOT NULL,
			action           TEXT NOT NULL,
			overall_score    INTEGER NOT NULL,
			recommended_size TEXT NOT NULL,
			analysis_text    TEXT NOT NULL,
			signal_types     TEXT NOT NULL DEFAULT '[]',
			risk_score       INTEGER NOT NULL DEFAULT 0,
			exit_strategy    TEXT,
			created_at       INTEGER NOT NULL,
			notified         INTEGER NOT NULL DEFAULT 0,
			notified_at      INTEGER
		)`,
		`CREATE INDEX IF NOT EXISTS idx_opportunities_market ON opportunities(market_id, created_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_opportunities_created ON opportunities(created_at DESC)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// RecordOpportunity stores a queued opportunity.
func (s *Storage) RecordOpportunity(o *models.AlertSummary) error {
	if o.ID == "" || o.MarketID == "" {
		return errors.New("opportunity needs an ID and a market ID")
	}
	types, err := json.Marshal(o.SignalTypes)
	if err != nil {
		return fmt.Errorf("failed to marshal signal types: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO opportunities
			(id, market_id, question, url, yes_prob, no_prob, action, overall_score,
			 recommended_size, analysis_text, signal_types, risk_score, exit_strategy,
			 created_at, notified)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		o.ID, o.MarketID, o.Question, o.URL, o.YesProbability, o.NoProbability,
		string(o.Action), o.OverallScore, o.RecommendedSize.String(), o.AnalysisText,
		string(types), o.RiskScore, o.ExitStrategy, o.CreatedAt.UnixNano(), boolToInt(o.Notified),
	)
	if err != nil {
		return fmt.Errorf("failed to insert opportunity: %w", err)
	}
	return nil
}

// MarkNotified flags an opportunity as delivered.
func (s *Storage) MarkNotified(id string, at time.Time) error {
	res, err := s.db.Exec(`UPDATE opportunities SET notified = 1, notified_at = ? WHERE id = ?`, at.UnixNano(), id)
	if err != nil {
		return fmt.Errorf("failed to mark opportunity notified: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("opportunity %s: %w", id, ErrNotFound)
	}
	return nil
}

// LastForMarket returns the most recent opportunity recorded for a market.
func (s *Storage) LastForMarket(marketID string) (*models.AlertSummary, error) {
	row := s.db.QueryRow(`SELECT `+opportunityCols+` FROM opportunities
		WHERE market_id = ? ORDER BY created_at DESC LIMIT 1`, marketID)
	o, err := scanOpportunity(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("market %s: %w", marketID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get opportunity: %w", err)
	}
	return o, nil
}

// Recent returns up to k opportunities, newest first.
func (s *Storage) Recent(k int) ([]models.AlertSummary, error) {
	rows, err := s.db.Query(`SELECT `+opportunityCols+` FROM opportunities
		ORDER BY created_at DESC LIMIT ?`, k)
	if err != nil {
		return nil, fmt.Errorf("failed to query opportunities: %w", err)
	}
	defer rows.Close()

	out := []models.AlertSummary{}
	for rows.Next() {
		o, err := scanOpportunity(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan opportunity: %w", err)
		}
		out = append(out, *o)
	}
	return out, rows.Err()
}

// Rotate keeps at most maxHistory newest opportunities.
func (s *Storage) Rotate() error {
	if s.maxHistory <= 0 {
		return nil
	}
	_, err := s.db.Exec(`
		DELETE FROM opportunities WHERE id NOT IN (
			SELECT id FROM opportunities ORDER BY created_at DESC LIMIT ?
		)`, s.maxHistory)
	if err != nil {
		return fmt.Errorf("failed to rotate opportunities: %w", err)
	}
	return nil
}

const opportunityCols = `id, market_id, question, url, yes_prob, no_prob, action, overall_score,
	recommended_size, analysis_text, signal_types, risk_score, exit_strategy, created_at, notified`

func scanOpportunity(scan func(...any) error) (*models.AlertSummary, error) {
	var o models.AlertSummary
	var url, exit sql.NullString
	var action, size, types string
	var createdAtNano int64
	var notified int
	err := scan(
		&o.ID, &o.MarketID, &o.Question, &url, &o.YesProbability, &o.NoProbability,
		&action, &o.OverallScore, &size, &o.AnalysisText, &types, &o.RiskScore, &exit,
		&createdAtNano, &notified,
	)
	if err != nil {
		return nil, err
	}
	o.URL = url.String
	o.ExitStrategy = exit.String
	o.Action = models.Action(action)
	o.CreatedAt = time.Unix(0, createdAtNano)
	o.Notified = notified != 0
	if o.RecommendedSize, err = decimal.NewFromString(size); err != nil {
		return nil, fmt.Errorf("bad recommended size %q: %w", size, err)
	}
	if err := json.Unmarshal([]byte(types), &o.SignalTypes); err != nil {
		return nil, fmt.Errorf("failed to unmarshal signal types: %w", err)
	}
	return &o, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
