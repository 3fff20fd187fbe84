//go:build integration

package postgres

import (
	"context"
	"runtime"
	"testing"

	"github.com/NomadCrew/nomad-realtime/db"
	"github.com/NomadCrew/nomad-realtime/store"
	"github.com/NomadCrew/nomad-realtime/types"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
)

func setupTestDatabase(t *testing.T) *pgxpool.Pool {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("Skipping integration test on Windows - rootless Docker is not supported")
	}
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("testdb"),
		tcpostgres.WithUsername("test"),
		tcpostgres.WithPassword("test"),
		tcpostgres.BasicWaitStrategies(),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(container); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	require.NoError(t, db.RunMigrations(connStr))

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return pool
}

func TestNotificationStore_Postgres(t *testing.T) {
	ctx := context.Background()
	pool := setupTestDatabase(t)
	s := NewPgNotificationStore(pool)

	var created []types.Notification
	for i, read := range []bool{false, false, false, true, true} {
		n := &types.Notification{OwnerID: "u1", Kind: types.AllKinds[i], Title: "n", IsRead: read}
		require.NoError(t, s.Create(ctx, n))
		created = append(created, *n)
	}

	items, total, err := s.List(ctx, types.ListQuery{OwnerID: "u1", PageSize: 10})
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	assert.Len(t, items, 5)

	unread, err := s.CountUnread(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 3, unread)

	assert.ErrorIs(t, s.MarkRead(ctx, created[0].ID, "u2"), store.ErrForbidden)
	require.NoError(t, s.MarkRead(ctx, created[0].ID, "u1"))

	unread, err = s.CountUnread(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 2, unread)

	aliases := NewIdentityStore(pool)
	require.NoError(t, aliases.Link(ctx, "auth0|u1", "u1"))
	native, err := aliases.LookupAlias(ctx, "auth0|u1")
	require.NoError(t, err)
	assert.Equal(t, "u1", native)
}
