package alertbuilder

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	cdb "github.com/opswatch/correlate/internal/correlation/database"
	"github.com/opswatch/correlate/internal/correlation/model"
)

// PgAlertDAO implements alert persistence using PostgreSQL. The alerts
// table carries a partial unique index on fingerprint over the active
// statuses, which is what makes the upsert race-safe.
type PgAlertDAO struct {
	DB *cdb.Database
}

// NewPgAlertDAO creates a new PostgreSQL alert DAO
func NewPgAlertDAO(db *cdb.Database) *PgAlertDAO {
	return &PgAlertDAO{DB: db}
}

func activeStatusStrings() []string {
	out := make([]string, len(model.ActiveAlertStatuses))
	for i, s := range model.ActiveAlertStatuses {
		out[i] = string(s)
	}
	return out
}

// GetActiveForUpdate locks and returns the fingerprint's active alert
// within tx, or nil when there is none.
func (d *PgAlertDAO) GetActiveForUpdate(ctx context.Context, tx *sql.Tx, fingerprint string) (*model.Alert, error) {
	const q = `SELECT alert_id, fingerprint, level, title, content, item,
		resource_id, resource_name, resource_type, source_name, status,
		first_event_time, last_event_time, rule_id
		FROM alerts
		WHERE fingerprint = $1 AND status = ANY($2)
		ORDER BY first_event_time ASC
		LIMIT 1
		FOR UPDATE`

	row := tx.QueryRowContext(ctx, q, fingerprint, activeStatusStrings())
	var a model.Alert
	err := row.Scan(&a.AlertID, &a.Fingerprint, &a.Level, &a.Title, &a.Content,
		&a.Item, &a.ResourceID, &a.ResourceName, &a.ResourceType, &a.SourceName,
		&a.Status, &a.FirstEventTime, &a.LastEventTime, &a.RuleID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get active alert: %w", err)
	}
	return &a, nil
}

// Insert creates a new alert row within tx.
func (d *PgAlertDAO) Insert(ctx context.Context, tx *sql.Tx, a *model.Alert) error {
	const q = `INSERT INTO alerts (alert_id, fingerprint, level, title, content, item,
		resource_id, resource_name, resource_type, source_name, status,
		first_event_time, last_event_time, rule_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`

	_, err := tx.ExecContext(ctx, q, a.AlertID, a.Fingerprint, a.Level, a.Title,
		a.Content, a.Item, a.ResourceID, a.ResourceName, a.ResourceType,
		a.SourceName, a.Status, a.FirstEventTime, a.LastEventTime, a.RuleID)
	if err != nil {
		return fmt.Errorf("failed to insert alert: %w", err)
	}
	return nil
}

// Merge folds a new aggregation result into an existing alert within tx:
// the time range widens, the level only relaxes (levels are inverted, so
// the numerically larger one wins), and the content is replaced with the
// latest rendering.
func (d *PgAlertDAO) Merge(ctx context.Context, tx *sql.Tx, existing *model.Alert, incoming *model.Alert) error {
	const q = `UPDATE alerts SET level = $2, content = $3,
		first_event_time = LEAST(first_event_time, $4),
		last_event_time = GREATEST(last_event_time, $5)
		WHERE alert_id = $1`

	level := model.MergeLevel(existing.Level, incoming.Level)
	_, err := tx.ExecContext(ctx, q, existing.AlertID, level, incoming.Content,
		incoming.FirstEventTime, incoming.LastEventTime)
	if err != nil {
		return fmt.Errorf("failed to merge alert %s: %w", existing.AlertID, err)
	}
	return nil
}

// LinkEvents associates the aggregated events with the alert within tx.
// Duplicate links from overlapping windows are ignored.
func (d *PgAlertDAO) LinkEvents(ctx context.Context, tx *sql.Tx, alertID string, eventIDs []string) error {
	if len(eventIDs) == 0 {
		return nil
	}
	const q = `INSERT INTO alert_events (alert_id, event_id)
		SELECT $1, UNNEST($2::text[])
		ON CONFLICT DO NOTHING`

	if _, err := tx.ExecContext(ctx, q, alertID, eventIDs); err != nil {
		return fmt.Errorf("failed to link events to alert %s: %w", alertID, err)
	}
	return nil
}

// OperatorLogEntry is one audit row for an alert state change.
type OperatorLogEntry struct {
	AlertID  string
	Operator string
	Action   string
	Detail   string
	At       time.Time
}

// InsertOperatorLogs bulk-inserts audit rows for a batch of created
// alerts. Called outside the upsert transaction; a failure here must not
// roll the alerts back.
func (d *PgAlertDAO) InsertOperatorLogs(ctx context.Context, entries []OperatorLogEntry) error {
	if len(entries) == 0 {
		return nil
	}
	var sb strings.Builder
	sb.WriteString(`INSERT INTO alert_operator_logs (alert_id, operator, action, detail, created_at) VALUES `)
	args := make([]interface{}, 0, len(entries)*5)
	for i, e := range entries {
		if i > 0 {
			sb.WriteString(", ")
		}
		n := i * 5
		fmt.Fprintf(&sb, "($%d, $%d, $%d, $%d, $%d)", n+1, n+2, n+3, n+4, n+5)
		args = append(args, e.AlertID, e.Operator, e.Action, e.Detail, e.At)
	}
	if _, err := d.DB.ExecContext(ctx, sb.String(), args...); err != nil {
		return fmt.Errorf("failed to insert operator logs: %w", err)
	}
	return nil
}
