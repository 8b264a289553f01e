package ruleset

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/opswatch/correlate/internal/correlation/model"
)

// rulesFile is the YAML bootstrap document: a list of rules under one key.
type rulesFile struct {
	Rules []model.CorrelationRule `yaml:"rules"`
}

// LoadFile parses a YAML rules file and validates every rule. A single
// invalid rule fails the whole load; bootstrap files are deployment
// artifacts and must be fixed, not skipped.
func LoadFile(path string) ([]model.CorrelationRule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules file: %w", err)
	}
	var doc rulesFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse rules file %s: %w", path, err)
	}
	for i := range doc.Rules {
		if err := Validate(&doc.Rules[i]); err != nil {
			return nil, fmt.Errorf("rules file %s: %w", path, err)
		}
	}
	return doc.Rules, nil
}

// Bootstrap loads the YAML file and upserts its rules into the store.
// Used at startup so a fresh database comes up with a working rule set.
func Bootstrap(ctx context.Context, store *PgStore, path string) error {
	rules, err := LoadFile(path)
	if err != nil {
		return err
	}
	for i := range rules {
		if err := store.UpsertRule(ctx, &rules[i]); err != nil {
			return fmt.Errorf("bootstrap rule %s: %w", rules[i].RuleID, err)
		}
	}
	log.Info().Int("rules", len(rules)).Str("file", path).Msg("bootstrapped correlation rules")
	return nil
}
