package database

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuildPostgresDSN(t *testing.T) {
	dsn, err := buildPostgresDSN(Config{
		User:     "remexa",
		Password: "s3cret",
		Name:     "remexa_notifications",
		Host:     "db.internal",
		Port:     5433,
		Options:  map[string]string{"sslmode": "require"},
	})
	require.NoError(t, err)
	require.Equal(t,
		"host=db.internal port=5433 user=remexa dbname=remexa_notifications password=s3cret sslmode=require",
		dsn)
}

func TestBuildPostgresDSNDefaults(t *testing.T) {
	dsn, err := buildPostgresDSN(Config{User: "remexa", Name: "remexa_notifications"})
	require.NoError(t, err)
	require.Equal(t,
		"host=localhost port=5432 user=remexa dbname=remexa_notifications sslmode=disable",
		dsn)
}

func TestBuildPostgresDSNRequiresUserAndName(t *testing.T) {
	_, err := buildPostgresDSN(Config{Name: "remexa_notifications"})
	require.Error(t, err)
}

func TestBuildPostgresDSNPrefersExplicitDSN(t *testing.T) {
	dsn, err := buildPostgresDSN(Config{DSN: "postgres://remexa@db/remexa_notifications"})
	require.NoError(t, err)
	require.Equal(t, "postgres://remexa@db/remexa_notifications", dsn)
}

func TestBuildMySQLDSN(t *testing.T) {
	dsn, err := buildMySQLDSN(Config{
		User:     "remexa",
		Password: "s3cret",
		Name:     "remexa_notifications",
		Host:     "db.internal",
		Port:     3307,
	})
	require.NoError(t, err)
	require.Contains(t, dsn, "remexa:s3cret@tcp(db.internal:3307)/remexa_notifications")
	require.Contains(t, dsn, "parseTime")
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open(Config{Driver: "oracle"})
	require.Error(t, err)
}
