package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
)

type dialect int

const (
	dialectSQLite dialect = iota
	dialectPostgres
)

// SQLStore keeps snapshots and read state in SQLite or PostgreSQL
type SQLStore struct {
	*sql.DB
	dialect dialect
}

// NewSQLite opens the SQLite database at dbPath, creating its directory
func NewSQLite(dbPath string) (*SQLStore, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite allows a single writer
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &SQLStore{DB: db, dialect: dialectSQLite}, nil
}

// NewPostgres opens a PostgreSQL database through the pgx driver
func NewPostgres(ctx context.Context, databaseURL string) (*SQLStore, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetConnMaxIdleTime(5 * time.Minute)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetMaxIdleConns(5)
	db.SetMaxOpenConns(10)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &SQLStore{DB: db, dialect: dialectPostgres}, nil
}

// Initialize creates the database schema if it doesn't exist
func (db *SQLStore) Initialize(ctx context.Context) error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS snapshots (
			instance_id TEXT PRIMARY KEY,
			payload TEXT NOT NULL,
			captured_at BIGINT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS unread_state (
			instance_id TEXT NOT NULL,
			item_id TEXT NOT NULL,
			unread BOOLEAN NOT NULL,
			PRIMARY KEY (instance_id, item_id)
		)`,
	}

	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}

	return nil
}

// rebind rewrites ? placeholders for the active dialect
func (db *SQLStore) rebind(query string) string {
	if db.dialect != dialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// LoadSnapshot gets the stored snapshot of an instance
func (db *SQLStore) LoadSnapshot(ctx context.Context, instanceID string) (*Snapshot, error) {
	query := db.rebind(`SELECT payload FROM snapshots WHERE instance_id = ?`)

	var payload string
	err := db.QueryRowContext(ctx, query, instanceID).Scan(&payload)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load snapshot: %w", err)
	}

	var snapshot Snapshot
	if err := json.Unmarshal([]byte(payload), &snapshot); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	return &snapshot, nil
}

// SaveSnapshot saves the snapshot of an instance
func (db *SQLStore) SaveSnapshot(ctx context.Context, instanceID string, snapshot *Snapshot) error {
	payload, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}

	query := db.rebind(`
	INSERT INTO snapshots (instance_id, payload, captured_at)
	VALUES (?, ?, ?)
	ON CONFLICT(instance_id) DO UPDATE SET
		payload = excluded.payload,
		captured_at = excluded.captured_at
	`)

	_, err = db.ExecContext(ctx, query, instanceID, string(payload), snapshot.Timestamp.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}

	return nil
}

// LoadUnread gets the unread flags of an instance
func (db *SQLStore) LoadUnread(ctx context.Context, instanceID string) (map[string]bool, error) {
	query := db.rebind(`SELECT item_id, unread FROM unread_state WHERE instance_id = ?`)

	rows, err := db.QueryContext(ctx, query, instanceID)
	if err != nil {
		return nil, fmt.Errorf("failed to load unread state: %w", err)
	}
	defer rows.Close()

	unread := make(map[string]bool)
	for rows.Next() {
		var itemID string
		var flag bool
		if err := rows.Scan(&itemID, &flag); err != nil {
			return nil, fmt.Errorf("failed to scan unread state: %w", err)
		}
		unread[itemID] = flag
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to load unread state: %w", err)
	}

	return unread, nil
}

// SaveUnread replaces the unread flags of an instance in one transaction
func (db *SQLStore) SaveUnread(ctx context.Context, instanceID string, unread map[string]bool) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, db.rebind(`DELETE FROM unread_state WHERE instance_id = ?`), instanceID); err != nil {
		return fmt.Errorf("failed to clear unread state: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, db.rebind(`INSERT INTO unread_state (instance_id, item_id, unread) VALUES (?, ?, ?)`))
	if err != nil {
		return fmt.Errorf("failed to prepare unread insert: %w", err)
	}
	defer stmt.Close()

	for itemID, flag := range unread {
		if _, err := stmt.ExecContext(ctx, instanceID, itemID, flag); err != nil {
			return fmt.Errorf("failed to save unread state for %s: %w", itemID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit unread state: %w", err)
	}
	return nil
}

// Ping checks that the database is reachable
func (db *SQLStore) Ping(ctx context.Context) error {
	return db.PingContext(ctx)
}

// Close closes the database connection
func (db *SQLStore) Close() error {
	return db.DB.Close()
}
