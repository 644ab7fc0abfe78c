// Package itf holds integration-test helpers that provision throwaway
// Postgres databases.
package itf

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"fmt"
	"log"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	_ "github.com/lib/pq"

	"github.com/iota-uz/branchboard/pkg/configuration"
)

func databaseOptions() configuration.DatabaseOptions {
	conf, err := configuration.Parse()
	if err != nil {
		panic(err)
	}
	return conf.Database
}

// CanDialPostgres reports whether the configured Postgres accepts TCP
// connections; integration tests skip when it does not.
func CanDialPostgres() bool {
	opts := databaseOptions()
	conn, err := net.DialTimeout("tcp", net.JoinHostPort(opts.Host, opts.Port), 2*time.Second)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

func NewPool(dbOpts string) *pgxpool.Pool {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
	defer cancel()

	config, err := pgxpool.ParseConfig(dbOpts)
	if err != nil {
		panic(err)
	}
	config.MaxConns = 4
	config.MinConns = 1
	config.MaxConnLifetime = time.Minute * 5
	config.MaxConnIdleTime = time.Second * 30

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		panic(fmt.Errorf("failed to create database pool: %w", err))
	}
	return pool
}

// MigrateFunc applies a schema to a freshly created database.
type MigrateFunc func(ctx context.Context, db *sql.DB) error

// NewDatabase creates an empty database named after the test, applies
// migrate and returns a pool closed on cleanup. The test is skipped when
// Postgres is unreachable.
func NewDatabase(t *testing.T, migrate MigrateFunc) *pgxpool.Pool {
	t.Helper()
	if !CanDialPostgres() {
		t.Skip("postgres not reachable; skipping integration test")
	}

	name := t.Name()
	CreateDB(name)
	pool := NewPool(DbOpts(name))
	t.Cleanup(pool.Close)

	if migrate != nil {
		db := stdlib.OpenDBFromPool(pool)
		defer func() { _ = db.Close() }()
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := migrate(ctx, db); err != nil {
			t.Fatalf("migrate %s: %v", name, err)
		}
	}
	return pool
}

const (
	// PostgreSQL database name maximum length is 63 characters
	maxDBNameLength = 63
	// Reserve space for hash suffix when truncating (8 chars + underscore)
	hashSuffixLength = 9
)

var dbNameReplacer = strings.NewReplacer("/", "_", " ", "_", "-", "_", ".", "_", "(", "_", ")", "_", "[", "_", "]", "_")

// sanitizeDBName lowercases a test name into a valid database name of at
// most 63 characters.
func sanitizeDBName(name string) string {
	sanitized := dbNameReplacer.Replace(strings.ToLower(name))
	for strings.Contains(sanitized, "__") {
		sanitized = strings.ReplaceAll(sanitized, "__", "_")
	}
	sanitized = strings.Trim(sanitized, "_")
	if sanitized == "" {
		sanitized = "test_db"
	}
	if len(sanitized) <= maxDBNameLength {
		return sanitized
	}
	return truncateWithHash(sanitized, name)
}

func truncateWithHash(sanitized, original string) string {
	sum := sha256.Sum256([]byte(original))
	hash := fmt.Sprintf("%x", sum)[:8]

	maxNameLength := maxDBNameLength - hashSuffixLength
	truncated := strings.TrimRight(sanitized[:maxNameLength], "_")
	return fmt.Sprintf("%s_%s", truncated, hash)
}

func CreateDB(name string) {
	sanitizedName := sanitizeDBName(name)
	opts := databaseOptions()
	adminConnStr := fmt.Sprintf(
		"host=%s port=%s user=%s dbname=postgres password=%s sslmode=disable",
		opts.Host, opts.Port, opts.User, opts.Password,
	)
	db, err := sql.Open("postgres", adminConnStr)
	if err != nil {
		panic(err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Printf("[WARNING] Error closing CreateDB connection: %v", err)
		}
	}()
	if _, err := db.ExecContext(context.Background(), fmt.Sprintf("DROP DATABASE IF EXISTS %s WITH (FORCE)", sanitizedName)); err != nil {
		panic(err)
	}
	if _, err := db.ExecContext(context.Background(), fmt.Sprintf("CREATE DATABASE %s", sanitizedName)); err != nil {
		panic(err)
	}
}

func DbOpts(name string) string {
	opts := databaseOptions()
	return fmt.Sprintf(
		"host=%s port=%s user=%s dbname=%s password=%s sslmode=disable",
		opts.Host, opts.Port, opts.User, sanitizeDBName(name), opts.Password,
	)
}
