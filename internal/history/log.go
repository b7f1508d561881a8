// Package history keeps a local log of tracks seen by the polling engine.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jfmyers9/earshot/internal/music"
	_ "modernc.org/sqlite"
)

// Play is one entry in the play log
type Play struct {
	ID         int64
	TrackID    string
	Title      string
	Artist     string
	Album      string
	ArtworkURL string
	Duration   time.Duration
	StartedAt  time.Time
}

// PlayFromSnapshot builds a log entry for a track first seen at startedAt
func PlayFromSnapshot(snap *music.Snapshot, startedAt time.Time) Play {
	return Play{
		TrackID:    snap.TrackID,
		Title:      snap.Title,
		Artist:     snap.Artist,
		Album:      snap.Album,
		ArtworkURL: snap.ArtworkURL,
		Duration:   snap.Duration(),
		StartedAt:  startedAt,
	}
}

// Log is a SQLite-backed play log
type Log struct {
	db *sql.DB
}

// Open opens or creates the play log at path. ":memory:" keeps it in memory.
func Open(path string) (*Log, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// A single connection keeps in-memory databases consistent
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA busy_timeout = 10000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA journal_mode = WAL",
		"PRAGMA temp_store = MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	schema := `
		CREATE TABLE IF NOT EXISTS plays (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			track_id TEXT,
			title TEXT NOT NULL,
			artist TEXT NOT NULL,
			album TEXT,
			artwork_url TEXT,
			duration_ms INTEGER NOT NULL,
			started_at INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_plays_started_at ON plays(started_at);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &Log{db: db}, nil
}

// Close closes the database connection
func (l *Log) Close() error {
	if l.db != nil {
		return l.db.Close()
	}
	return nil
}

// Add appends a play and returns its id
func (l *Log) Add(ctx context.Context, p Play) (int64, error) {
	if p.Title == "" {
		return 0, fmt.Errorf("play has no title")
	}

	result, err := l.db.ExecContext(ctx, `
		INSERT INTO plays (track_id, title, artist, album, artwork_url, duration_ms, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		p.TrackID,
		p.Title,
		p.Artist,
		p.Album,
		p.ArtworkURL,
		p.Duration.Milliseconds(),
		p.StartedAt.UnixMilli(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert play: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get insert id: %w", err)
	}
	return id, nil
}

// Recent returns up to limit plays, newest first. A limit of zero or less
// returns everything.
func (l *Log) Recent(ctx context.Context, limit int) ([]Play, error) {
	query := `
		SELECT id, COALESCE(track_id, ''), title, artist, COALESCE(album, ''),
		       COALESCE(artwork_url, ''), duration_ms, started_at
		FROM plays
		ORDER BY started_at DESC, id DESC
	`
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query plays: %w", err)
	}
	defer rows.Close()

	var plays []Play
	for rows.Next() {
		var p Play
		var durationMs, startedMs int64
		if err := rows.Scan(&p.ID, &p.TrackID, &p.Title, &p.Artist, &p.Album, &p.ArtworkURL, &durationMs, &startedMs); err != nil {
			return nil, fmt.Errorf("failed to scan play: %w", err)
		}
		p.Duration = time.Duration(durationMs) * time.Millisecond
		p.StartedAt = time.UnixMilli(startedMs)
		plays = append(plays, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating plays: %w", err)
	}

	return plays, nil
}

// Count returns the number of logged plays
func (l *Log) Count(ctx context.Context) (int, error) {
	var count int
	if err := l.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM plays").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count plays: %w", err)
	}
	return count, nil
}

// Cleanup removes plays older than maxAge and returns how many were deleted
func (l *Log) Cleanup(ctx context.Context, maxAge time.Duration) (int64, error) {
	cutoff := time.Now().Add(-maxAge).UnixMilli()

	result, err := l.db.ExecContext(ctx, "DELETE FROM plays WHERE started_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup old plays: %w", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return deleted, nil
}
