package store

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/luojunlin1223/VibeVtuber/internal/types"
)

// newTestStore starts a throwaway Postgres container. It requires Docker.
func newTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()

	// testcontainers can panic when the docker socket is missing.
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("testcontainers panicked: %v", r)
			}
		}()
		_, err = testcontainers.NewDockerClientWithOpts(ctx)
		return
	}()
	if err != nil {
		t.Skipf("Docker not available: %v", err)
	}

	pgContainer, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("facetracker_test"),
		postgres.WithUsername("user"),
		postgres.WithPassword("password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
		testcontainers.WithLogger(noopLogger{}),
	)
	if err != nil {
		t.Skipf("Failed to start postgres container: %v", err)
	}
	t.Cleanup(func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Errorf("Failed to terminate container: %v", err)
		}
	})

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	s, err := New(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close(ctx) })
	return s, connStr
}

func TestStoreIntegration(t *testing.T) {
	s, connStr := newTestStore(t)
	ctx := context.Background()

	t.Run("profiles", func(t *testing.T) {
		require.NoError(t, s.SaveProfile(ctx, types.Profile{Name: "desk", Host: "127.0.0.1", Port: 11111, Alpha: 0.7, Camera: "0"}))
		require.NoError(t, s.SaveProfile(ctx, types.Profile{Name: "laptop", Host: "10.0.0.5", Port: 12000, Alpha: 0.5}))

		// Upsert replaces the existing row.
		require.NoError(t, s.SaveProfile(ctx, types.Profile{Name: "desk", Host: "127.0.0.1", Port: 11112, Alpha: 0.6, Camera: "1"}))

		p, err := s.GetProfile(ctx, "desk")
		require.NoError(t, err)
		assert.Equal(t, 11112, p.Port)
		assert.Equal(t, 0.6, p.Alpha)
		assert.Equal(t, "1", p.Camera)
		assert.False(t, p.UpdatedAt.IsZero())

		list, err := s.ListProfiles(ctx)
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, "desk", list[0].Name)
		assert.Equal(t, "laptop", list[1].Name)

		_, err = s.GetProfile(ctx, "missing")
		assert.True(t, errors.Is(err, ErrNotFound))

		err = s.SaveProfile(ctx, types.Profile{Name: "bad", Host: "h", Port: 1, Alpha: 2})
		assert.Error(t, err, "alpha outside [0,1] violates the table check")
	})

	t.Run("sessions", func(t *testing.T) {
		first, err := s.StartSession(ctx, "desk", "127.0.0.1:11112", 0.6)
		require.NoError(t, err)
		second, err := s.StartSession(ctx, "", "127.0.0.1:11111", 0.7)
		require.NoError(t, err)
		assert.NotEqual(t, first, second)

		counters := types.SessionCounters{Frames: 900, Detections: 870, Sent: 900, Dropped: 3}
		require.NoError(t, s.FinishSession(ctx, first, counters))

		err = s.FinishSession(ctx, uuid.New(), counters)
		assert.True(t, errors.Is(err, ErrNotFound))

		sessions, err := s.ListSessions(ctx, 0)
		require.NoError(t, err)
		require.Len(t, sessions, 2)

		byID := map[uuid.UUID]types.Session{}
		for _, sess := range sessions {
			byID[sess.ID] = sess
		}
		done := byID[first]
		assert.Equal(t, "desk", done.Profile)
		assert.Equal(t, counters, done.SessionCounters)
		require.NotNil(t, done.FinishedAt)

		open := byID[second]
		assert.Empty(t, open.Profile)
		assert.Nil(t, open.FinishedAt)

		limited, err := s.ListSessions(ctx, 1)
		require.NoError(t, err)
		assert.Len(t, limited, 1)
	})

	t.Run("delete profile keeps sessions", func(t *testing.T) {
		require.NoError(t, s.DeleteProfile(ctx, "desk"))
		assert.True(t, errors.Is(s.DeleteProfile(ctx, "desk"), ErrNotFound))

		sessions, err := s.ListSessions(ctx, 0)
		require.NoError(t, err)
		assert.Len(t, sessions, 2)
	})

	t.Run("reset", func(t *testing.T) {
		require.NoError(t, s.Reset(ctx))

		// A fresh connection migrates again and starts empty.
		fresh, err := New(ctx, connStr)
		require.NoError(t, err)
		defer fresh.Close(ctx)

		profiles, err := fresh.ListProfiles(ctx)
		require.NoError(t, err)
		assert.Empty(t, profiles)
	})
}

type noopLogger struct{}

func (n noopLogger) Printf(format string, v ...interface{}) {}
