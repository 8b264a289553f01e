package aggregation

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	cdb "github.com/opswatch/correlate/internal/correlation/database"
	"github.com/opswatch/correlate/internal/correlation/model"
)

// EventDAO is the event-store access the aggregation pipeline needs.
type EventDAO interface {
	// QueryRange returns events with received_at in [start, end), oldest
	// first, capped at limit rows. Shielded events and events from
	// inactive sources are always excluded; already-processed ones only
	// when includeProcessed is set.
	QueryRange(ctx context.Context, start, end time.Time, includeProcessed bool, limit int) ([]model.Event, error)
	// CountSince returns how many unprocessed events arrived at or after
	// since.
	CountSince(ctx context.Context, since time.Time) (int, error)
	// UpdateStatus moves the given events to a new lifecycle status.
	UpdateStatus(ctx context.Context, eventIDs []string, status model.EventStatus) error
}

const eventColumns = `event_id, received_at, level, resource_id, resource_type, resource_name,
		item, source_id, source_name, status, value, title, description, rule_id`

// eventVisibilityFilter is the predicate applied on top of the time range:
// only events from active sources, never shielded ones, and only fresh
// ones unless the window needs to re-see processed events.
func eventVisibilityFilter(includeProcessed bool) string {
	const activeSource = `source_id IN (SELECT source_id FROM alert_sources WHERE is_active = TRUE)`
	if includeProcessed {
		return activeSource + ` AND status != 'shield'`
	}
	return activeSource + ` AND status = 'received'`
}

// PgEventDAO implements EventDAO using PostgreSQL
type PgEventDAO struct {
	DB *cdb.Database
}

// NewPgEventDAO creates a new PostgreSQL event DAO
func NewPgEventDAO(db *cdb.Database) *PgEventDAO {
	return &PgEventDAO{DB: db}
}

func (d *PgEventDAO) QueryRange(ctx context.Context, start, end time.Time, includeProcessed bool, limit int) ([]model.Event, error) {
	q := fmt.Sprintf(`SELECT %s FROM events
		WHERE received_at >= $1 AND received_at < $2
		  AND %s
		ORDER BY received_at ASC
		LIMIT $3`, eventColumns, eventVisibilityFilter(includeProcessed))

	rows, err := d.DB.QueryContext(ctx, q, start, end, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// GetByIDs loads the given events, oldest first. Missing ids are simply
// absent from the result, not an error.
func (d *PgEventDAO) GetByIDs(ctx context.Context, eventIDs []string) ([]model.Event, error) {
	if len(eventIDs) == 0 {
		return nil, nil
	}
	q := fmt.Sprintf(`SELECT %s FROM events WHERE event_id = ANY($1) ORDER BY received_at ASC`, eventColumns)

	rows, err := d.DB.QueryContext(ctx, q, eventIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to get events by id: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

func (d *PgEventDAO) CountSince(ctx context.Context, since time.Time) (int, error) {
	q := fmt.Sprintf(`SELECT COUNT(*) FROM events WHERE received_at >= $1 AND %s`,
		eventVisibilityFilter(false))

	var n int
	if err := d.DB.QueryRowContext(ctx, q, since).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count new events: %w", err)
	}
	return n, nil
}

func (d *PgEventDAO) UpdateStatus(ctx context.Context, eventIDs []string, status model.EventStatus) error {
	if len(eventIDs) == 0 {
		return nil
	}
	const q = `UPDATE events SET status = $1 WHERE event_id = ANY($2)`

	if _, err := d.DB.ExecContext(ctx, q, status, eventIDs); err != nil {
		return fmt.Errorf("failed to update event status: %w", err)
	}
	return nil
}

func scanEvents(rows *sql.Rows) ([]model.Event, error) {
	var events []model.Event
	for rows.Next() {
		var ev model.Event
		var value sql.NullFloat64
		var ruleID sql.NullString
		err := rows.Scan(&ev.EventID, &ev.ReceivedAt, &ev.Level, &ev.ResourceID,
			&ev.ResourceType, &ev.ResourceName, &ev.Item, &ev.SourceID,
			&ev.SourceName, &ev.Status, &value, &ev.Title, &ev.Description, &ruleID)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		if value.Valid {
			v := value.Float64
			ev.Value = &v
		}
		ev.RuleID = ruleID.String
		ev.Fingerprint = EventFingerprint(ev.Item, ev.ResourceID, ev.ResourceType, ev.SourceName)
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate events: %w", err)
	}
	return events, nil
}
