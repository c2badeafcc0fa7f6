// Package sqlite provides the SQLite snapshot store.
//
// SQLite is a lightweight, file-based database suitable for local,
// single-process use — the engine's natural deployment. Concept lists are
// stored as JSON in TEXT columns and timestamps as RFC 3339 strings, which
// keeps the round trip exact across platforms.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/allma-labs/tiermem-go/pkg/memory"
)

// Client implements snapshot.Store using SQLite as the backend.
type Client struct {
	db *sql.DB
}

// Config contains configuration for creating a SQLite snapshot store.
type Config struct {
	// DBPath is the path to the SQLite database file.
	DBPath string
}

// NewClient creates a new SQLite snapshot store and initializes its schema.
func NewClient(cfg *Config) (*Client, error) {
	dbDir := filepath.Dir(cfg.DBPath)
	if dbDir != "" && dbDir != "." {
		if err := os.MkdirAll(dbDir, 0755); err != nil {
			return nil, fmt.Errorf("NewSQLiteClient: failed to create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", cfg.DBPath+"?_foreign_keys=1&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("NewSQLiteClient: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("NewSQLiteClient: %w", err)
	}

	c := &Client{db: db}
	if err := c.initTables(context.Background()); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Client) initTables(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS tiermem_records (
			id INTEGER PRIMARY KEY,
			content TEXT NOT NULL,
			concepts TEXT NOT NULL,
			created_at TEXT NOT NULL,
			last_accessed_at TEXT NOT NULL,
			access_count INTEGER NOT NULL,
			base_importance REAL NOT NULL,
			emotional_intensity REAL NOT NULL,
			tier INTEGER NOT NULL,
			compressed INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS tiermem_edges (
			concept_a TEXT NOT NULL,
			concept_b TEXT NOT NULL,
			weight REAL NOT NULL,
			PRIMARY KEY (concept_a, concept_b)
		)`,
		`CREATE TABLE IF NOT EXISTS tiermem_meta (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			saved_at TEXT NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := c.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("initTables: %w", err)
		}
	}
	return nil
}

// Save persists the snapshot, replacing any previous one, in a single
// transaction.
func (c *Client) Save(ctx context.Context, snap *memory.Snapshot) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("Save: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, table := range []string{"tiermem_records", "tiermem_edges", "tiermem_meta"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("Save: %w", err)
		}
	}

	for _, r := range snap.Records {
		conceptsJSON, err := json.Marshal(r.Concepts)
		if err != nil {
			return fmt.Errorf("Save: %w", err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO tiermem_records
			(id, content, concepts, created_at, last_accessed_at, access_count,
			 base_importance, emotional_intensity, tier, compressed)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			r.ID, r.Content, string(conceptsJSON),
			r.CreatedAt.Format(time.RFC3339Nano),
			r.LastAccessedAt.Format(time.RFC3339Nano),
			r.AccessCount, r.BaseImportance, r.EmotionalIntensity,
			int(r.Tier), boolToInt(r.Compressed),
		)
		if err != nil {
			return fmt.Errorf("Save: %w", err)
		}
	}

	for _, e := range snap.Edges {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO tiermem_edges (concept_a, concept_b, weight) VALUES (?, ?, ?)",
			e.A, e.B, e.Weight,
		); err != nil {
			return fmt.Errorf("Save: %w", err)
		}
	}

	savedAt := snap.SavedAt
	if savedAt.IsZero() {
		savedAt = time.Now()
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO tiermem_meta (id, saved_at) VALUES (1, ?)",
		savedAt.Format(time.RFC3339Nano),
	); err != nil {
		return fmt.Errorf("Save: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("Save: %w", err)
	}
	return nil
}

// Load returns the last saved snapshot; ok is false when none was ever
// saved.
func (c *Client) Load(ctx context.Context) (*memory.Snapshot, bool, error) {
	var savedAtStr string
	err := c.db.QueryRowContext(ctx, "SELECT saved_at FROM tiermem_meta WHERE id = 1").Scan(&savedAtStr)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("Load: %w", err)
	}
	savedAt, err := time.Parse(time.RFC3339Nano, savedAtStr)
	if err != nil {
		return nil, false, fmt.Errorf("Load: parse saved_at: %w", err)
	}

	snap := &memory.Snapshot{SavedAt: savedAt}

	rows, err := c.db.QueryContext(ctx, `
		SELECT id, content, concepts, created_at, last_accessed_at, access_count,
		       base_importance, emotional_intensity, tier, compressed
		FROM tiermem_records ORDER BY id`)
	if err != nil {
		return nil, false, fmt.Errorf("Load: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, false, fmt.Errorf("Load: %w", err)
		}
		snap.Records = append(snap.Records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, false, fmt.Errorf("Load: %w", err)
	}

	edgeRows, err := c.db.QueryContext(ctx,
		"SELECT concept_a, concept_b, weight FROM tiermem_edges ORDER BY concept_a, concept_b")
	if err != nil {
		return nil, false, fmt.Errorf("Load: %w", err)
	}
	defer func() { _ = edgeRows.Close() }()

	for edgeRows.Next() {
		var e memory.ConceptEdge
		if err := edgeRows.Scan(&e.A, &e.B, &e.Weight); err != nil {
			return nil, false, fmt.Errorf("Load: %w", err)
		}
		snap.Edges = append(snap.Edges, e)
	}
	if err := edgeRows.Err(); err != nil {
		return nil, false, fmt.Errorf("Load: %w", err)
	}

	return snap, true, nil
}

// Close closes the database connection.
func (c *Client) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

func scanRecord(rows *sql.Rows) (*memory.Record, error) {
	var r memory.Record
	var conceptsStr, createdStr, accessedStr string
	var tierInt, compressedInt int

	if err := rows.Scan(
		&r.ID, &r.Content, &conceptsStr, &createdStr, &accessedStr,
		&r.AccessCount, &r.BaseImportance, &r.EmotionalIntensity,
		&tierInt, &compressedInt,
	); err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(conceptsStr), &r.Concepts); err != nil {
		return nil, fmt.Errorf("parse concepts: %w", err)
	}
	var err error
	if r.CreatedAt, err = time.Parse(time.RFC3339Nano, createdStr); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if r.LastAccessedAt, err = time.Parse(time.RFC3339Nano, accessedStr); err != nil {
		return nil, fmt.Errorf("parse last_accessed_at: %w", err)
	}
	r.Tier = memory.Tier(tierInt)
	r.Compressed = compressedInt != 0
	return &r, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
