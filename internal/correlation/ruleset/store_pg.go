package ruleset

import (
	"context"
	"encoding/json"
	"fmt"

	cdb "github.com/opswatch/correlate/internal/correlation/database"
	"github.com/opswatch/correlate/internal/correlation/model"
)

// PgStore is a PostgreSQL-backed rule store. Aggregation sub-rules are
// stored as a JSONB column so the rule schema can evolve without
// migrations.
type PgStore struct {
	DB *cdb.Database
}

func NewPgStore(db *cdb.Database) *PgStore { return &PgStore{DB: db} }

const ruleColumns = `rule_id, name, window_type, strategy_type, window_size,
	slide_interval, session_timeout, max_window_size, is_active, aggregations`

// GetCorrelationRule returns one rule by id.
func (s *PgStore) GetCorrelationRule(ctx context.Context, ruleID string) (*model.CorrelationRule, error) {
	q := `SELECT ` + ruleColumns + ` FROM correlation_rules WHERE rule_id = $1`
	rows, err := s.DB.QueryContext(ctx, q, ruleID)
	if err != nil {
		return nil, fmt.Errorf("get rule: %w", err)
	}
	defer rows.Close()
	if rows.Next() {
		return scanRule(rows)
	}
	return nil, fmt.Errorf("rule not found: %s", ruleID)
}

// ListActiveRules returns every enabled rule.
func (s *PgStore) ListActiveRules(ctx context.Context) ([]model.CorrelationRule, error) {
	q := `SELECT ` + ruleColumns + ` FROM correlation_rules WHERE is_active = TRUE ORDER BY rule_id`
	rows, err := s.DB.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list active rules: %w", err)
	}
	defer rows.Close()

	var out []model.CorrelationRule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rules: %w", err)
	}
	return out, nil
}

// UpsertRule creates or replaces a rule by id.
func (s *PgStore) UpsertRule(ctx context.Context, r *model.CorrelationRule) error {
	if err := Validate(r); err != nil {
		return err
	}
	aggJSON, err := json.Marshal(r.Aggregations)
	if err != nil {
		return fmt.Errorf("marshal aggregations: %w", err)
	}
	const q = `
	INSERT INTO correlation_rules(rule_id, name, window_type, strategy_type,
		window_size, slide_interval, session_timeout, max_window_size, is_active, aggregations)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10::jsonb)
	ON CONFLICT (rule_id) DO UPDATE SET
		name = EXCLUDED.name,
		window_type = EXCLUDED.window_type,
		strategy_type = EXCLUDED.strategy_type,
		window_size = EXCLUDED.window_size,
		slide_interval = EXCLUDED.slide_interval,
		session_timeout = EXCLUDED.session_timeout,
		max_window_size = EXCLUDED.max_window_size,
		is_active = EXCLUDED.is_active,
		aggregations = EXCLUDED.aggregations,
		updated_at = now()
	`
	_, err = s.DB.ExecContext(ctx, q, r.RuleID, r.Name, r.WindowType, r.StrategyType,
		r.WindowSize, r.SlideInterval, r.SessionTimeout, r.MaxWindowSize, r.IsActive, string(aggJSON))
	if err != nil {
		return fmt.Errorf("upsert rule: %w", err)
	}
	return nil
}

// SetActive enables or disables a rule.
func (s *PgStore) SetActive(ctx context.Context, ruleID string, active bool) error {
	const q = `UPDATE correlation_rules SET is_active = $2, updated_at = now() WHERE rule_id = $1`
	res, err := s.DB.ExecContext(ctx, q, ruleID, active)
	if err != nil {
		return fmt.Errorf("set rule active: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("set rule active: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("rule not found: %s", ruleID)
	}
	return nil
}

type ruleScanner interface {
	Scan(dest ...any) error
}

func scanRule(row ruleScanner) (*model.CorrelationRule, error) {
	var r model.CorrelationRule
	var aggJSON string
	err := row.Scan(&r.RuleID, &r.Name, &r.WindowType, &r.StrategyType,
		&r.WindowSize, &r.SlideInterval, &r.SessionTimeout, &r.MaxWindowSize,
		&r.IsActive, &aggJSON)
	if err != nil {
		return nil, fmt.Errorf("scan rule: %w", err)
	}
	if aggJSON != "" {
		if err := json.Unmarshal([]byte(aggJSON), &r.Aggregations); err != nil {
			return nil, fmt.Errorf("unmarshal aggregations for %s: %w", r.RuleID, err)
		}
	}
	return &r, nil
}
