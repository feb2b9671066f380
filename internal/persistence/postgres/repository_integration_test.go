//go:build integration
// +build integration

package postgres

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	postgrescontainer "github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/dblock/sparta-social/internal/domain"
)

func TestUpsertInsertsAndReplaces(t *testing.T) {
	ctx := context.Background()
	pool, cleanup := setupPostgres(t, ctx)
	defer cleanup()

	repo := NewRepository(pool)

	uri := "at://did:plc:abc/org.sweatosphere.activity/1"
	description := "easy pace"
	distance := int64(500000)
	first := domain.ActivityRecord{
		URI:          uri,
		AuthorDID:    "did:plc:abc",
		Title:        "Morning Run",
		Description:  &description,
		ActivityType: "Run",
		DistanceInCm: &distance,
		CreatedAt:    "2024-01-01T00:00:00Z",
		IndexedAt:    time.Now().UTC().Truncate(time.Microsecond),
	}
	require.NoError(t, repo.Upsert(ctx, first))

	stored, err := repo.Get(ctx, uri)
	require.NoError(t, err)
	require.Equal(t, "Morning Run", stored.Title)
	require.Equal(t, "easy pace", *stored.Description)

	// Replacement drops fields absent from the new record.
	second := first
	second.Title = "Morning Run (edited)"
	second.Description = nil
	second.IndexedAt = first.IndexedAt.Add(time.Second)
	require.NoError(t, repo.Upsert(ctx, second))

	stored, err = repo.Get(ctx, uri)
	require.NoError(t, err)
	require.Equal(t, "Morning Run (edited)", stored.Title)
	require.Nil(t, stored.Description)
	require.True(t, stored.IndexedAt.After(first.IndexedAt))

	var count int
	require.NoError(t, pool.QueryRow(ctx, `SELECT COUNT(*) FROM activity`).Scan(&count))
	require.Equal(t, 1, count)
}

func TestDeleteByURIIsNoOpWhenAbsent(t *testing.T) {
	ctx := context.Background()
	pool, cleanup := setupPostgres(t, ctx)
	defer cleanup()

	repo := NewRepository(pool)
	require.NoError(t, repo.DeleteByURI(ctx, "at://did:plc:abc/org.sweatosphere.activity/none"))

	rec := domain.ActivityRecord{
		URI:          "at://did:plc:abc/org.sweatosphere.activity/1",
		AuthorDID:    "did:plc:abc",
		Title:        "Morning Run",
		ActivityType: "Run",
		CreatedAt:    "2024-01-01T00:00:00Z",
		IndexedAt:    time.Now().UTC(),
	}
	require.NoError(t, repo.Upsert(ctx, rec))
	require.NoError(t, repo.DeleteByURI(ctx, rec.URI))

	stored, err := repo.Get(ctx, rec.URI)
	require.NoError(t, err)
	require.Nil(t, stored)
}

func TestListRecentOrdersAndPaginates(t *testing.T) {
	ctx := context.Background()
	pool, cleanup := setupPostgres(t, ctx)
	defer cleanup()

	repo := NewRepository(pool)
	base := time.Now().UTC().Truncate(time.Microsecond)

	uris := []string{
		"at://did:plc:abc/org.sweatosphere.activity/1",
		"at://did:plc:abc/org.sweatosphere.activity/2",
		"at://did:plc:abc/org.sweatosphere.activity/3",
	}
	for i, uri := range uris {
		require.NoError(t, repo.Upsert(ctx, domain.ActivityRecord{
			URI:          uri,
			AuthorDID:    "did:plc:abc",
			Title:        "Activity",
			ActivityType: "Run",
			CreatedAt:    "2024-01-01T00:00:00Z",
			IndexedAt:    base.Add(time.Duration(i) * time.Second),
		}))
	}

	page, cursor, err := repo.ListRecent(ctx, nil, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	require.NotNil(t, cursor)
	require.Equal(t, uris[2], page[0].URI)
	require.Equal(t, uris[1], page[1].URI)

	rest, _, err := repo.ListRecent(ctx, cursor, 2)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	require.Equal(t, uris[0], rest[0].URI)
}

func setupPostgres(t *testing.T, ctx context.Context) (*pgxpool.Pool, func()) {
	t.Helper()

	pg, err := postgrescontainer.RunContainer(ctx,
		postgrescontainer.WithDatabase("sparta"),
		postgrescontainer.WithUsername("sparta"),
		postgrescontainer.WithPassword("sparta"),
	)
	require.NoError(t, err)

	connStr, err := pg.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	require.NoError(t, waitForDatabase(ctx, connStr))
	runMigrations(t, ctx, connStr)

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)

	cleanup := func() {
		pool.Close()
		_ = pg.Terminate(ctx)
	}
	return pool, cleanup
}

func runMigrations(t *testing.T, ctx context.Context, connStr string) {
	t.Helper()

	migrationsPath := resolvePath(t, "../../../db/postgres/migrations")
	files, err := filepath.Glob(filepath.Join(migrationsPath, "*.up.sql"))
	require.NoError(t, err)
	require.NotEmpty(t, files)
	sort.Strings(files)

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	defer pool.Close()

	for _, file := range files {
		content, readErr := os.ReadFile(file)
		require.NoErrorf(t, readErr, "read migration %s", file)
		_, execErr := pool.Exec(ctx, string(content))
		require.NoErrorf(t, execErr, "execute migration %s", file)
	}
}

func waitForDatabase(ctx context.Context, connStr string) error {
	deadline := time.Now().Add(30 * time.Second)
	for {
		pool, err := pgxpool.New(ctx, connStr)
		if err == nil {
			err = pool.Ping(ctx)
			pool.Close()
			if err == nil {
				return nil
			}
		}
		if time.Now().After(deadline) {
			return err
		}
		time.Sleep(time.Second)
	}
}

func resolvePath(t *testing.T, rel string) string {
	t.Helper()
	_, file, _, ok := runtime.Caller(0)
	require.True(t, ok)
	return filepath.Join(filepath.Dir(file), rel)
}
