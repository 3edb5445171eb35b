package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/remexa/remexa/internal/database"
)

func TestDatabaseStoreRoundTrip(t *testing.T) {
	db, err := database.Open(database.Config{Driver: "sqlite"})
	require.NoError(t, err)
	require.NoError(t, database.AutoMigrate(db))

	store := NewDatabaseStore(db)
	ctx := context.Background()

	_, found, err := store.Get(ctx, "missing")
	require.NoError(t, err)
	require.False(t, found)

	require.NoError(t, store.Set(ctx, "tpl:welcome:email", []byte(`{"id":"tpl-welcome"}`), time.Minute))

	value, found, err := store.Get(ctx, "tpl:welcome:email")
	require.NoError(t, err)
	require.True(t, found)
	require.JSONEq(t, `{"id":"tpl-welcome"}`, string(value))

	// Overwrite updates in place.
	require.NoError(t, store.Set(ctx, "tpl:welcome:email", []byte(`{"id":"tpl-welcome-v2"}`), time.Minute))
	value, found, err = store.Get(ctx, "tpl:welcome:email")
	require.NoError(t, err)
	require.True(t, found)
	require.JSONEq(t, `{"id":"tpl-welcome-v2"}`, string(value))

	require.NoError(t, store.Delete(ctx, "tpl:welcome:email"))
	_, found, err = store.Get(ctx, "tpl:welcome:email")
	require.NoError(t, err)
	require.False(t, found)
}

func TestDatabaseStoreExpiry(t *testing.T) {
	db, err := database.Open(database.Config{Driver: "sqlite"})
	require.NoError(t, err)
	require.NoError(t, database.AutoMigrate(db))

	store := NewDatabaseStore(db)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "short-lived", []byte("x"), time.Millisecond))
	time.Sleep(5 * time.Millisecond)

	_, found, err := store.Get(ctx, "short-lived")
	require.NoError(t, err)
	require.False(t, found)
}
