// Package fetchcache stores fetched response bodies in a local sqlite
// or remote libsql database so repeat queries for the same data don't
// hit the upstream site again.
package fetchcache

import (
	"context"
	"crypto/sha256"
	"database/sql"
	_ "embed"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	_ "github.com/tursodatabase/libsql-client-go/libsql"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schema string

var tracer = otel.Tracer("finquery.lib.fetchcache")

type Config struct {
	// File is a local sqlite database path.
	File string `json:"file"`
	// URL is a remote libsql database. Takes precedence over File.
	URL       string `json:"url"`
	AuthToken string `json:"auth_token"`
}

type Store struct {
	db *sql.DB
}

// New wraps an open database and ensures the cache schema exists.
func New(db *sql.DB) (*Store, error) {
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("apply cache schema: %w", err)
	}
	return &Store{db: db}, nil
}

func Open(config Config) (*Store, error) {
	db, err := openDB(config)
	if err != nil {
		return nil, err
	}
	return New(db)
}

func openDB(config Config) (*sql.DB, error) {
	if config.URL != "" {
		remote, err := url.Parse(config.URL)
		if err != nil {
			return nil, err
		}
		if config.AuthToken != "" {
			query := remote.Query()
			query.Set("authToken", config.AuthToken)
			remote.RawQuery = query.Encode()
		}
		return sql.Open("libsql", remote.String())
	}

	if config.File == "" {
		return nil, fmt.Errorf("cache config needs a file or a url")
	}
	if config.File != ":memory:" {
		os.MkdirAll(filepath.Dir(config.File), 0777)
	}

	db, err := sql.Open("sqlite", config.File)
	if err != nil {
		return nil, err
	}

	// see this stackoverflow post for information on why the following
	// lines exist: https://stackoverflow.com/questions/35804884/sqlite-concurrent-writing-performance
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, err
	}

	return db, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Key derives a stable cache key from a source name and the request
// parts that identify one fetch.
func Key(source string, parts ...string) string {
	h := sha256.New()
	for _, part := range parts {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return source + ":" + hex.EncodeToString(h.Sum(nil))
}

// Get returns the cached body under key, if it exists and was stored
// within maxAge. maxAge <= 0 means entries never expire.
func (s *Store) Get(ctx context.Context, key string, maxAge time.Duration) (string, bool, error) {
	ctx, span := tracer.Start(ctx, "Get")
	defer span.End()
	span.SetAttributes(attribute.String("key", key))

	var body string
	var fetchedAt int64
	err := s.db.QueryRowContext(
		ctx,
		"SELECT body, fetched_at FROM fetch_cache WHERE key = ?",
		key,
	).Scan(&body, &fetchedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", false, err
	}

	if maxAge > 0 && time.Since(time.Unix(fetchedAt, 0)) > maxAge {
		span.AddEvent("entry expired")
		return "", false, nil
	}
	return body, true, nil
}

// Put stores a body under key, replacing any previous entry.
func (s *Store) Put(ctx context.Context, key string, body string) error {
	ctx, span := tracer.Start(ctx, "Put")
	defer span.End()
	span.SetAttributes(attribute.String("key", key))

	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO fetch_cache (key, body, fetched_at) VALUES (?, ?, ?)
		ON CONFLICT (key) DO UPDATE SET body = excluded.body, fetched_at = excluded.fetched_at`,
		key, body, time.Now().Unix(),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

// Prune deletes every entry stored longer ago than olderThan and
// reports how many were removed.
func (s *Store) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	ctx, span := tracer.Start(ctx, "Prune")
	defer span.End()

	res, err := s.db.ExecContext(
		ctx,
		"DELETE FROM fetch_cache WHERE fetched_at < ?",
		time.Now().Add(-olderThan).Unix(),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, err
	}

	removed, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	span.SetAttributes(attribute.Int64("removed", removed))
	return removed, nil
}
