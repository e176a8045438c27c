package journal

import (
	"fmt"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/clusterkit/segmentpool/internal/adapters/database"
	"github.com/clusterkit/segmentpool/internal/domain"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestJournal(t *testing.T, schemaName string) *PostgresEventJournal {
	t.Helper()

	db, err := database.NewPostgresDatabase(database.LOCAL_CONNECTION_STRING)
	require.NoError(t, err)

	db.MustExec(fmt.Sprintf("DROP SCHEMA IF EXISTS %s CASCADE", pq.QuoteIdentifier(schemaName)))

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	migrator := database.NewDatabaseMigrator(db, logger)
	require.NoError(t, migrator.Migrate(t.Context(), schemaName))

	t.Cleanup(func() {
		db.MustExec(fmt.Sprintf("DROP SCHEMA IF EXISTS %s CASCADE", pq.QuoteIdentifier(schemaName)))
		db.Close()
	})

	return NewPostgresEventJournal(db, schemaName)
}

func TestPostgresEventJournal(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping journal tests in short mode.")
	}
	t.Parallel()

	scope := domain.Scope{Site: "osl1", Network: "storage"}

	t.Run("record and list events", func(t *testing.T) {
		t.Parallel()

		journal := newTestJournal(t, "journal_record_list")
		ctx := t.Context()

		base := time.Now().UTC().Truncate(time.Microsecond)

		err := journal.RecordEvent(ctx, domain.AllocationEvent{
			Action:     domain.AllocationActionAllocate,
			Owner:      "cluster-a",
			Scope:      scope,
			VID:        12,
			OccurredAt: base,
		})
		require.NoError(t, err)

		err = journal.RecordEvent(ctx, domain.AllocationEvent{
			Action:     domain.AllocationActionRelease,
			Owner:      "cluster-a",
			Scope:      scope,
			VID:        12,
			OccurredAt: base.Add(time.Minute),
		})
		require.NoError(t, err)

		err = journal.RecordEvent(ctx, domain.AllocationEvent{
			Action:     domain.AllocationActionAllocate,
			Owner:      "cluster-b",
			Scope:      scope,
			VID:        30,
			OccurredAt: base,
		})
		require.NoError(t, err)

		events, err := journal.ListEvents(ctx, "cluster-a", 100)
		require.NoError(t, err)
		require.Len(t, events, 2)

		// Newest first
		assert.Equal(t, domain.AllocationActionRelease, events[0].Action)
		assert.Equal(t, domain.AllocationActionAllocate, events[1].Action)
		for _, event := range events {
			assert.Equal(t, "cluster-a", event.Owner)
			assert.Equal(t, scope, event.Scope)
			assert.Equal(t, 12, event.VID)
			assert.NotEmpty(t, event.ID)
		}
	})

	t.Run("generated ids are unique", func(t *testing.T) {
		t.Parallel()

		journal := newTestJournal(t, "journal_unique_ids")
		ctx := t.Context()

		for i := 0; i < 3; i++ {
			err := journal.RecordEvent(ctx, domain.AllocationEvent{
				Action:     domain.AllocationActionAllocate,
				Owner:      "cluster-a",
				Scope:      scope,
				VID:        12,
				OccurredAt: time.Now(),
			})
			require.NoError(t, err)
		}

		events, err := journal.ListEvents(ctx, "cluster-a", 100)
		require.NoError(t, err)
		require.Len(t, events, 3)

		seen := make(map[string]struct{})
		for _, event := range events {
			seen[event.ID] = struct{}{}
		}
		assert.Len(t, seen, 3)
	})

	t.Run("list rejects invalid limits", func(t *testing.T) {
		t.Parallel()

		journal := newTestJournal(t, "journal_invalid_limit")

		_, err := journal.ListEvents(t.Context(), "cluster-a", 0)
		require.Error(t, err)

		_, err = journal.ListEvents(t.Context(), "cluster-a", 1001)
		require.Error(t, err)
	})
}
