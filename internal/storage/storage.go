// Package storage persists finished audit reports to an optional relational
// sink. The crawl itself never depends on storage; a nil store is valid.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/Maimoon-github/SEO-Agent/internal/config"
	"github.com/Maimoon-github/SEO-Agent/pkg/types"
)

// ReportStore persists a finalized AuditReport.
type ReportStore interface {
	SaveReport(ctx context.Context, r *types.AuditReport) error
	Close() error
}

// SQLWriter stores reports in a SQL database via database/sql.
type SQLWriter struct {
	db *sql.DB
}

// NewSQLWriter opens the database described by cfg and optionally migrates
// the audit schema.
func NewSQLWriter(cfg config.SQLConfig) (*SQLWriter, error) {
	if cfg.Driver == "" || cfg.DSN == "" {
		return nil, errors.New("sql config missing driver or dsn")
	}
	db, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open sql connection: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sql connection: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime.Duration > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime.Duration)
	}

	writer := &SQLWriter{db: db}
	if cfg.AutoMigrate {
		if err := writer.ensureSchema(ctx); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	return writer, nil
}

func (s *SQLWriter) ensureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS audit_sessions (
			session_id TEXT PRIMARY KEY,
			seed TEXT NOT NULL,
			started_at TIMESTAMPTZ NOT NULL,
			finished_at TIMESTAMPTZ NOT NULL,
			pages_fetched INTEGER NOT NULL,
			pages_skipped INTEGER NOT NULL,
			pages_failed INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS audit_pages (
			session_id TEXT NOT NULL REFERENCES audit_sessions(session_id),
			url TEXT NOT NULL,
			final_url TEXT,
			outcome TEXT NOT NULL,
			status_code INTEGER,
			depth INTEGER NOT NULL,
			parent TEXT,
			byte_size INTEGER,
			latency_ms BIGINT,
			PRIMARY KEY (session_id, url)
		)`,
		`CREATE TABLE IF NOT EXISTS audit_findings (
			id BIGSERIAL PRIMARY KEY,
			session_id TEXT NOT NULL REFERENCES audit_sessions(session_id),
			check_id TEXT NOT NULL,
			severity TEXT NOT NULL,
			url TEXT NOT NULL,
			message TEXT NOT NULL
		)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate audit schema: %w", err)
		}
	}
	return nil
}

// SaveReport writes the session header, inventory, and findings in one
// transaction.
func (s *SQLWriter) SaveReport(ctx context.Context, r *types.AuditReport) error {
	if s == nil || s.db == nil || r == nil {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin report tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO audit_sessions (session_id, seed, started_at, finished_at, pages_fetched, pages_skipped, pages_failed)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		r.SessionID, r.Seed, r.StartedAt, r.FinishedAt,
		r.Summary.PagesFetched, r.Summary.PagesSkipped, r.Summary.PagesFailed)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}

	pageStmt, err := tx.PrepareContext(ctx,
		`INSERT INTO audit_pages (session_id, url, final_url, outcome, status_code, depth, parent, byte_size, latency_ms)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`)
	if err != nil {
		return fmt.Errorf("prepare page insert: %w", err)
	}
	defer pageStmt.Close()
	for urlKey, rec := range r.Inventory {
		_, err := pageStmt.ExecContext(ctx, r.SessionID, urlKey, rec.FinalURL,
			string(rec.Outcome), rec.StatusCode, rec.Depth, rec.Parent,
			rec.ByteSize, rec.Latency.Milliseconds())
		if err != nil {
			return fmt.Errorf("insert page %s: %w", urlKey, err)
		}
	}

	findingStmt, err := tx.PrepareContext(ctx,
		`INSERT INTO audit_findings (session_id, check_id, severity, url, message)
		 VALUES ($1, $2, $3, $4, $5)`)
	if err != nil {
		return fmt.Errorf("prepare finding insert: %w", err)
	}
	defer findingStmt.Close()
	for _, f := range r.Findings {
		if _, err := findingStmt.ExecContext(ctx, r.SessionID, f.CheckID, string(f.Severity), f.URL, f.Message); err != nil {
			return fmt.Errorf("insert finding: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit report tx: %w", err)
	}
	return nil
}

// Close releases the underlying database handle.
func (s *SQLWriter) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
