package systemtest

import (
	"context"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	internalhttp "github.com/outfleet/beacon/internal/api/http"
	"github.com/outfleet/beacon/internal/command"
	"github.com/outfleet/beacon/internal/db"
	"github.com/outfleet/beacon/internal/session"
	"github.com/outfleet/beacon/internal/snapshot"
	"github.com/outfleet/beacon/systemtest/postgres"
	"github.com/outfleet/beacon/systemtest/tests"
)

const sharedSecret = "system-test-secret"

func TestSystemIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container-backed system test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	container, err := postgres.StartPostgres(ctx, "beacon", "beacon", "beacon")
	require.NoError(t, err)
	defer func() {
		require.NoError(t, postgres.TerminatePostgres(context.Background(), container))
	}()

	dbURL, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	require.NoError(t, db.RunMigrations(dbURL))

	pool, err := db.InitDB(ctx, dbURL)
	require.NoError(t, err)
	defer pool.Close()

	store := snapshot.NewPostgresStore(pool)

	gin.SetMode(gin.TestMode)
	engine := gin.New()
	internalhttp.SetupRoute(engine, &internalhttp.Services{
		Sessions:  session.NewStore(),
		Commands:  command.NewQueue(),
		Snapshots: store,
		Config:    internalhttp.Config{SharedSecret: sharedSecret},
	})

	t.Run("SnapshotRoundTrip", func(t *testing.T) {
		tests.TestSnapshotRoundTrip(t, ctx, store)
	})
	t.Run("SnapshotOverwrite", func(t *testing.T) {
		tests.TestSnapshotOverwrite(t, ctx, store)
	})
	t.Run("ChannelPersistsSessions", func(t *testing.T) {
		tests.TestChannelPersistsSessions(t, ctx, engine, sharedSecret, store)
	})
	t.Run("RestartRestoresSessions", func(t *testing.T) {
		tests.TestRestartRestoresSessions(t, ctx, store)
	})
}
