// Package persistence provides the sqlite-backed incident log and
// per-guest relationship store. It follows the same reader/writer split
// used elsewhere in this family of services: a single serialized writer
// connection and a small pool of read-only connections, both running
// under WAL so telemetry reads never block the safety supervisor's
// incident writes.
package persistence

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// DBPair holds separate read and write connections for optimal SQLite
// concurrency. With WAL mode, readers don't block writers and vice versa.
type DBPair struct {
	reader *sql.DB
	writer *sql.DB
}

func (p *DBPair) Reader() *sql.DB { return p.reader }
func (p *DBPair) Writer() *sql.DB { return p.writer }

func (p *DBPair) Close() error {
	var firstErr error
	if err := p.reader.Close(); err != nil {
		firstErr = err
	}
	if err := p.writer.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// Open opens the incident/relationship database, applying the schema and
// a set of PRAGMAs tuned for a single always-on embedded controller
// rather than a multi-tenant web service.
func Open(dbPath string) (*DBPair, error) {
	if dbPath == "" {
		return nil, fmt.Errorf("db path is required")
	}
	if err := ensureDir(dbPath); err != nil {
		return nil, err
	}

	writerConnStr := fmt.Sprintf("%s?_journal=WAL&_busy_timeout=5000&cache=shared&mode=rwc", dbPath)
	writer, err := sql.Open("sqlite3", writerConnStr)
	if err != nil {
		return nil, fmt.Errorf("open writer: %w", err)
	}
	writer.SetMaxOpenConns(1)
	writer.SetMaxIdleConns(1)
	writer.SetConnMaxLifetime(time.Hour)

	if _, err := writer.Exec("PRAGMA journal_mode = WAL;"); err != nil {
		writer.Close()
		return nil, fmt.Errorf("set WAL: %w", err)
	}
	if _, err := writer.Exec("PRAGMA foreign_keys = ON;"); err != nil {
		writer.Close()
		return nil, fmt.Errorf("set foreign_keys: %w", err)
	}

	readerConnStr := fmt.Sprintf("%s?_journal=WAL&_busy_timeout=5000&cache=shared&mode=ro", dbPath)
	reader, err := sql.Open("sqlite3", readerConnStr)
	if err != nil {
		writer.Close()
		return nil, fmt.Errorf("open reader: %w", err)
	}
	reader.SetMaxOpenConns(4)
	reader.SetMaxIdleConns(2)
	reader.SetConnMaxLifetime(time.Hour)

	if _, err := writer.Exec(schemaSQL); err != nil {
		reader.Close()
		writer.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &DBPair{reader: reader, writer: writer}, nil
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if _, err := os.Stat(dir); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return err
	}
	return os.MkdirAll(dir, 0o755)
}

func nowISO() string {
	return time.Now().UTC().Format("2006-01-02T15:04:05Z07:00")
}
