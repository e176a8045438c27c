package journal

import (
	"context"
	"fmt"
	"time"

	"github.com/clusterkit/segmentpool/internal/domain"
	"github.com/clusterkit/segmentpool/internal/reporting"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// PostgresEventJournal stores allocation events for after-the-fact auditing.
// Writes are best-effort from the caller's perspective; readers get events in
// reverse chronological order.
type PostgresEventJournal struct {
	db     *sqlx.DB
	schema string
}

func NewPostgresEventJournal(db *sqlx.DB, schema string) *PostgresEventJournal {
	return &PostgresEventJournal{
		db:     db,
		schema: schema,
	}
}

type eventRow struct {
	ID         string    `db:"id"`
	Action     string    `db:"action"`
	Owner      string    `db:"owner"`
	Site       string    `db:"site"`
	Network    string    `db:"network"`
	VID        int       `db:"vid"`
	OccurredAt time.Time `db:"occurred_at"`
}

func (j *PostgresEventJournal) RecordEvent(ctx context.Context, event domain.AllocationEvent) error {
	id := event.ID
	if id == "" {
		dbID, err := uuid.NewV7()
		if err != nil {
			err := fmt.Errorf("failed to generate event id: %w", err)
			reporting.Report(ctx, err, map[string]string{
				"owner": event.Owner,
			})
			return err
		}
		id = dbID.String()
	}

	txx, err := j.db.BeginTxx(ctx, nil)
	if err != nil {
		err := fmt.Errorf("failed to start transaction: %w", err)
		reporting.Report(ctx, err, map[string]string{
			"owner": event.Owner,
		})
		return err
	}
	defer txx.Rollback()

	_, err = txx.ExecContext(ctx, fmt.Sprintf("SET search_path TO %s", pq.QuoteIdentifier(j.schema)))
	if err != nil {
		err := fmt.Errorf("failed to set search path: %w", err)
		reporting.Report(ctx, err, map[string]string{
			"owner": event.Owner,
		})
		return err
	}

	_, err = txx.ExecContext(
		ctx,
		`INSERT INTO allocation_events
		(id, action, owner, site, network, vid, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		id,
		string(event.Action),
		event.Owner,
		event.Scope.Site,
		event.Scope.Network,
		event.VID,
		event.OccurredAt,
	)
	if err != nil {
		err := fmt.Errorf("failed to insert allocation event: %w", err)
		reporting.Report(ctx, err, map[string]string{
			"owner": event.Owner,
		})
		return err
	}

	err = txx.Commit()
	if err != nil {
		err := fmt.Errorf("failed to commit transaction: %w", err)
		reporting.Report(ctx, err, map[string]string{
			"owner": event.Owner,
		})
		return err
	}

	return nil
}

// ListEvents returns the owner's most recent events, newest first.
func (j *PostgresEventJournal) ListEvents(ctx context.Context, owner string, limit int) ([]domain.AllocationEvent, error) {
	if limit < 1 || limit > 1000 {
		return nil, fmt.Errorf("invalid limit")
	}

	conn, err := j.db.Connx(ctx)
	if err != nil {
		err := fmt.Errorf("failed to get connection: %w", err)
		reporting.Report(ctx, err, map[string]string{
			"owner": owner,
		})
		return nil, err
	}
	defer conn.Close()

	_, err = conn.ExecContext(ctx, fmt.Sprintf("SET search_path TO %s", pq.QuoteIdentifier(j.schema)))
	if err != nil {
		err := fmt.Errorf("failed to set search path: %w", err)
		reporting.Report(ctx, err, map[string]string{
			"owner": owner,
		})
		return nil, err
	}

	var rows []eventRow
	err = conn.SelectContext(
		ctx,
		&rows,
		`SELECT id, action, owner, site, network, vid, occurred_at
		FROM allocation_events
		WHERE owner = $1
		ORDER BY occurred_at DESC
		LIMIT $2`,
		owner,
		limit,
	)
	if err != nil {
		err := fmt.Errorf("failed to query allocation events: %w", err)
		reporting.Report(ctx, err, map[string]string{
			"owner": owner,
		})
		return nil, err
	}

	events := make([]domain.AllocationEvent, 0, len(rows))
	for _, row := range rows {
		events = append(events, domain.AllocationEvent{
			ID:     row.ID,
			Action: domain.AllocationAction(row.Action),
			Owner:  row.Owner,
			Scope: domain.Scope{
				Site:    row.Site,
				Network: row.Network,
			},
			VID:        row.VID,
			OccurredAt: row.OccurredAt,
		})
	}

	return events, nil
}
