package postgres

import (
	"errors"
	"fmt"
	"io/fs"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/tradepost/internal/domain"
)

func TestDSN(t *testing.T) {
	assert.Equal(t, "postgres://app:secret@db:5432/tradepost?sslmode=disable",
		DSN(ClientConfig{User: "app", Password: "secret", Host: "db", Database: "tradepost"}))
	assert.Equal(t, "postgres://u:p@h:6543/d?sslmode=require",
		DSN(ClientConfig{User: "u", Password: "p", Host: "h", Port: 6543, Database: "d", SSLMode: "require"}))
	assert.Equal(t, "postgres://explicit", DSN(ClientConfig{DSN: "postgres://explicit", Host: "ignored"}))
}

func TestPageClause(t *testing.T) {
	q, args := pageClause("SELECT 1 WHERE a = $1", []any{"x"}, domain.ListOpts{Limit: 20, Offset: 40})
	assert.Equal(t, "SELECT 1 WHERE a = $1 LIMIT $2 OFFSET $3", q)
	assert.Equal(t, []any{"x", 20, 40}, args)

	q, args = pageClause("SELECT 1", nil, domain.ListOpts{})
	assert.Equal(t, "SELECT 1", q)
	assert.Empty(t, args)
}

func TestIsUniqueViolation(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", &pgconn.PgError{Code: "23505"})
	assert.True(t, isUniqueViolation(err))
	assert.False(t, isUniqueViolation(&pgconn.PgError{Code: "23503"}))
	assert.False(t, isUniqueViolation(errors.New("plain")))
}

func TestMigrationsEmbedded(t *testing.T) {
	entries, err := fs.ReadDir(migrationsFS, "migrations")
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.Equal(t, []string{"001_marketplace.sql", "002_ledger.sql"}, names)
}
