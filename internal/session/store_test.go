package session

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	sqlite "github.com/glebarez/sqlite"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func sampleSession() Session {
	return Session{
		AccessToken:  "access-1",
		RefreshToken: "refresh-1",
		Role:         RoleJuror,
		JurorName:    "Ada",
		JurorSurname: "Lovelace",
	}
}

func newGormStore(t *testing.T) *FieldStore {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "session.db")), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&StoredField{}))
	store, err := NewGormStore(db)
	require.NoError(t, err)
	return store
}

func newRedisStore(t *testing.T) (*FieldStore, *miniredis.Miniredis) {
	t.Helper()
	server, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(server.Close)

	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store, err := NewRedisStore(client, "")
	require.NoError(t, err)
	return store, server
}

func storeBackends(t *testing.T) map[string]Store {
	t.Helper()
	redisStore, _ := newRedisStore(t)
	return map[string]Store{
		"memory": NewMemoryStore(),
		"sqlite": newGormStore(t),
		"redis":  redisStore,
	}
}

func TestStoreRoundTrip(t *testing.T) {
	for name, store := range storeBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			_, ok, err := store.Read(ctx)
			require.NoError(t, err)
			require.False(t, ok, "empty store must read as no session")

			require.NoError(t, store.Save(ctx, sampleSession()))
			loaded, ok, err := store.Read(ctx)
			require.NoError(t, err)
			require.True(t, ok)
			require.Equal(t, sampleSession(), loaded)
		})
	}
}

func TestStoreUpdateAccessTokenKeepsRefreshToken(t *testing.T) {
	for name, store := range storeBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, store.Save(ctx, sampleSession()))
			applied, err := store.UpdateAccessTokenIf(ctx, "refresh-1", "access-2")
			require.NoError(t, err)
			require.True(t, applied)

			loaded, ok, err := store.Read(ctx)
			require.NoError(t, err)
			require.True(t, ok)
			require.Equal(t, "access-2", loaded.AccessToken)
			require.Equal(t, "refresh-1", loaded.RefreshToken)
		})
	}
}

func TestStoreGuardedWritesIgnoreOtherSessions(t *testing.T) {
	for name, store := range storeBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			applied, err := store.UpdateAccessTokenIf(ctx, "refresh-1", "access-2")
			require.NoError(t, err)
			require.False(t, applied, "an empty store has no session to update")

			replacement := sampleSession()
			replacement.AccessToken = "access-b"
			replacement.RefreshToken = "refresh-b"
			require.NoError(t, store.Save(ctx, replacement))

			applied, err = store.UpdateAccessTokenIf(ctx, "refresh-1", "access-2")
			require.NoError(t, err)
			require.False(t, applied)
			cleared, err := store.ClearIf(ctx, "refresh-1")
			require.NoError(t, err)
			require.False(t, cleared)

			loaded, ok, err := store.Read(ctx)
			require.NoError(t, err)
			require.True(t, ok)
			require.Equal(t, replacement, loaded)

			cleared, err = store.ClearIf(ctx, "refresh-b")
			require.NoError(t, err)
			require.True(t, cleared)
			_, ok, err = store.Read(ctx)
			require.NoError(t, err)
			require.False(t, ok)
		})
	}
}

func TestStoreClear(t *testing.T) {
	for name, store := range storeBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, store.Save(ctx, sampleSession()))
			require.NoError(t, store.Clear(ctx))

			_, ok, err := store.Read(ctx)
			require.NoError(t, err)
			require.False(t, ok)
		})
	}
}

func TestStoreRejectsIncompleteRecord(t *testing.T) {
	for name, store := range storeBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			partial := sampleSession()
			partial.JurorSurname = "  "
			require.NoError(t, store.Save(ctx, partial))

			_, ok, err := store.Read(ctx)
			require.NoError(t, err)
			require.False(t, ok, "a blank field must make the record absent")
		})
	}
}

func TestRedisStoreUsesSingleHash(t *testing.T) {
	store, server := newRedisStore(t)
	require.NoError(t, store.Save(context.Background(), sampleSession()))

	require.True(t, server.Exists(defaultRedisKey))
	require.Equal(t, "refresh-1", server.HGet(defaultRedisKey, FieldRefreshToken))
}

func TestGormKeyValueStampsUpdates(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "stamp.db")), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&StoredField{}))

	fixed := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	kv, err := NewGormKeyValue(db, func() time.Time { return fixed })
	require.NoError(t, err)
	require.NoError(t, kv.Put(context.Background(), map[string]string{FieldRole: RoleJuror}))

	var row StoredField
	require.NoError(t, db.Where("name = ?", FieldRole).Take(&row).Error)
	require.Equal(t, fixed.Unix(), row.UpdatedAtSeconds)
}

func TestConstructorsRejectMissingBackends(t *testing.T) {
	_, err := NewFieldStore(nil)
	require.True(t, errors.Is(err, errMissingKeyValue))
	_, err = NewGormStore(nil)
	require.True(t, errors.Is(err, errMissingDatabase))
	_, err = NewRedisStore(nil, "key")
	require.True(t, errors.Is(err, errMissingRedisClient))
}
