// Package mysql provides the MySQL snapshot store.
package mysql

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"github.com/allma-labs/tiermem-go/pkg/memory"
)

// Client implements snapshot.Store using MySQL as the backend.
type Client struct {
	db *sql.DB
}

// Config contains configuration for creating a MySQL snapshot store.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
}

// NewClient creates a new MySQL snapshot store and initializes its schema.
func NewClient(cfg *Config) (*Client, error) {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=true",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.DBName)

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("NewMySQLClient: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("NewMySQLClient: %w", err)
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
			id BIGINT PRIMARY KEY,
			content TEXT NOT NULL,
			concepts TEXT NOT NULL,
			created_at VARCHAR(64) NOT NULL,
			last_accessed_at VARCHAR(64) NOT NULL,
			access_count INT NOT NULL,
			base_importance DOUBLE NOT NULL,
			emotional_intensity DOUBLE NOT NULL,
			tier INT NOT NULL,
			compressed TINYINT(1) NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS tiermem_edges (
			concept_a VARCHAR(255) NOT NULL,
			concept_b VARCHAR(255) NOT NULL,
			weight DOUBLE NOT NULL,
			PRIMARY KEY (concept_a, concept_b)
		)`,
		`CREATE TABLE IF NOT EXISTS tiermem_meta (
			id INT PRIMARY KEY,
			saved_at VARCHAR(64) NOT NULL
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
			int(r.Tier), r.Compressed,
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
		var r memory.Record
		var conceptsStr, createdStr, accessedStr string
		var tierInt int
		if err := rows.Scan(
			&r.ID, &r.Content, &conceptsStr, &createdStr, &accessedStr,
			&r.AccessCount, &r.BaseImportance, &r.EmotionalIntensity,
			&tierInt, &r.Compressed,
		); err != nil {
			return nil, false, fmt.Errorf("Load: %w", err)
		}
		if err := json.Unmarshal([]byte(conceptsStr), &r.Concepts); err != nil {
			return nil, false, fmt.Errorf("Load: parse concepts: %w", err)
		}
		if r.CreatedAt, err = time.Parse(time.RFC3339Nano, createdStr); err != nil {
			return nil, false, fmt.Errorf("Load: parse created_at: %w", err)
		}
		if r.LastAccessedAt, err = time.Parse(time.RFC3339Nano, accessedStr); err != nil {
			return nil, false, fmt.Errorf("Load: parse last_accessed_at: %w", err)
		}
		r.Tier = memory.Tier(tierInt)
		snap.Records = append(snap.Records, &r)
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
