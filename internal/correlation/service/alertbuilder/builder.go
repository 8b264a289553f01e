package alertbuilder

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog/log"

	"github.com/opswatch/correlate/internal/correlation/model"
)

const pgUniqueViolation = "23505"

// TxRunner runs a function inside a database transaction.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error
}

// AlertDAO is the alert persistence the builder needs.
type AlertDAO interface {
	GetActiveForUpdate(ctx context.Context, tx *sql.Tx, fingerprint string) (*model.Alert, error)
	Insert(ctx context.Context, tx *sql.Tx, a *model.Alert) error
	Merge(ctx context.Context, tx *sql.Tx, existing, incoming *model.Alert) error
	LinkEvents(ctx context.Context, tx *sql.Tx, alertID string, eventIDs []string) error
	InsertOperatorLogs(ctx context.Context, entries []OperatorLogEntry) error
}

// EventResolver loads the events an aggregation row references.
type EventResolver interface {
	GetByIDs(ctx context.Context, eventIDs []string) ([]model.Event, error)
}

// Builder turns aggregation rows into persisted alerts. It guarantees at
// most one active alert per fingerprint: concurrent upserts for the same
// fingerprint serialize on a row lock, and the insert/insert race is
// resolved by retrying the loser as a merge.
type Builder struct {
	DB           TxRunner
	DAO          AlertDAO
	Events       EventResolver
	Templates    Templater
	DefaultLevel int
}

func NewBuilder(db TxRunner, dao AlertDAO, events EventResolver, templates Templater, defaultLevel int) *Builder {
	if templates == nil {
		templates = DefaultTemplater{}
	}
	if defaultLevel <= 0 {
		defaultLevel = 5
	}
	return &Builder{DB: db, DAO: dao, Events: events, Templates: templates, DefaultLevel: defaultLevel}
}

// HandleRows upserts one alert per row. Each row's referenced events are
// resolved first; a row whose events no longer exist is skipped with a
// warning, never turned into an alert over nothing. Rows fail
// independently; the first error is returned after all rows were
// attempted. Audit logging for created alerts is best effort.
func (b *Builder) HandleRows(ctx context.Context, rule *model.CorrelationRule, rows []model.ResultRow) error {
	var firstErr error
	var created []OperatorLogEntry
	now := time.Now()

	for _, row := range rows {
		events, err := b.Events.GetByIDs(ctx, row.EventIDs)
		if err != nil {
			log.Error().Err(err).Str("rule_id", rule.RuleID).
				Str("fingerprint", row.Fingerprint).Msg("event lookup failed")
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if len(events) == 0 {
			log.Warn().Str("rule_id", rule.RuleID).Str("fingerprint", row.Fingerprint).
				Int("referenced", len(row.EventIDs)).Msg("no events resolved for row, skipping")
			continue
		}

		alert := b.buildAlert(rule, row, events)
		wasCreated, err := b.upsert(ctx, alert, row)
		if err != nil {
			log.Error().Err(err).Str("rule_id", rule.RuleID).
				Str("fingerprint", row.Fingerprint).Msg("alert upsert failed")
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if wasCreated {
			created = append(created, OperatorLogEntry{
				AlertID:  alert.AlertID,
				Operator: "system",
				Action:   "created",
				Detail:   fmt.Sprintf("rule %s aggregated %d events", rule.RuleID, row.EventCount),
				At:       now,
			})
		}
	}

	if err := b.DAO.InsertOperatorLogs(ctx, created); err != nil {
		log.Warn().Err(err).Int("entries", len(created)).Msg("operator log write failed")
	}
	return firstErr
}

// buildAlert renders the candidate alert for a row. Identity fields come
// from the most recent resolved event; the level prefers the worst
// severity observed in the window, then the least-severe level across the
// resolved events, then the configured default.
func (b *Builder) buildAlert(rule *model.CorrelationRule, row model.ResultRow, events []model.Event) *model.Alert {
	base := events[len(events)-1]

	level := row.MaxLevel
	if level <= 0 {
		level = leastSevereLevel(events)
	}
	if level <= 0 {
		level = b.DefaultLevel
	}

	u := uuid.New()
	return &model.Alert{
		AlertID:        fmt.Sprintf("ALERT-%x", u[:]),
		Fingerprint:    row.Fingerprint,
		Level:          level,
		Title:          b.Templates.Title(rule, row, base),
		Content:        b.Templates.Content(rule, row, base),
		Item:           base.Item,
		ResourceID:     base.ResourceID,
		ResourceName:   base.ResourceName,
		ResourceType:   base.ResourceType,
		SourceName:     base.SourceName,
		Status:         model.AlertStatusUnassigned,
		FirstEventTime: row.FirstEventTime,
		LastEventTime:  row.LastEventTime,
		RuleID:         rule.RuleID,
		EventIDs:       row.EventIDs,
	}
}

// leastSevereLevel returns the numerically largest positive level among
// the events, or 0 when none carry one.
func leastSevereLevel(events []model.Event) int {
	level := 0
	for _, ev := range events {
		if ev.Level > level {
			level = ev.Level
		}
	}
	return level
}

// upsert creates or merges the alert. A unique violation means another
// writer created the active alert between our lock check and insert, so
// the operation is retried once and will take the merge path.
func (b *Builder) upsert(ctx context.Context, alert *model.Alert, row model.ResultRow) (bool, error) {
	created, err := b.tryUpsert(ctx, alert, row)
	if err != nil && isUniqueViolation(err) {
		log.Debug().Str("fingerprint", alert.Fingerprint).
			Msg("lost insert race, retrying as merge")
		created, err = b.tryUpsert(ctx, alert, row)
	}
	return created, err
}

func (b *Builder) tryUpsert(ctx context.Context, alert *model.Alert, row model.ResultRow) (bool, error) {
	var created bool
	err := b.DB.WithTx(ctx, func(tx *sql.Tx) error {
		existing, err := b.DAO.GetActiveForUpdate(ctx, tx, alert.Fingerprint)
		if err != nil {
			return err
		}
		if existing != nil {
			if err := b.DAO.Merge(ctx, tx, existing, alert); err != nil {
				return err
			}
			return b.DAO.LinkEvents(ctx, tx, existing.AlertID, row.EventIDs)
		}
		if err := b.DAO.Insert(ctx, tx, alert); err != nil {
			return err
		}
		created = true
		return b.DAO.LinkEvents(ctx, tx, alert.AlertID, row.EventIDs)
	})
	return created, err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}
