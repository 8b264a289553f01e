package ruleset

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opswatch/correlate/internal/correlation/model"
)

const goodRulesYAML = `
rules:
  - rule_id: cpu-high
    name: CPU high
    window_type: fixed
    strategy_type: threshold
    window_size: 5min
    is_active: true
    aggregation_rules:
      - rule_id: cpu-high
        filter:
          - field: value
            operator: ">"
            value: 90
            aggregation: AVG
        aggregation_key: [resource_id, item]
        min_event_count: 3
  - rule_id: login-flood
    name: Login flood
    window_type: session
    strategy_type: frequency
    session_timeout: 5min
    max_window_size: 1h
    is_active: true
    aggregation_rules:
      - rule_id: login-flood
        count_threshold: 20
        aggregation_key: [fingerprint]
`

func writeRules(t *testing.T, doc string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))
	return path
}

func TestLoadFile(t *testing.T) {
	rules, err := LoadFile(writeRules(t, goodRulesYAML))
	require.NoError(t, err)
	require.Len(t, rules, 2)

	assert.Equal(t, "cpu-high", rules[0].RuleID)
	assert.Equal(t, model.WindowFixed, rules[0].WindowType)
	assert.Equal(t, 3, rules[0].Aggregations[0].MinEventCount)
	assert.Equal(t, model.StrategyFrequency, rules[1].StrategyType)
	assert.Equal(t, "1h", rules[1].MaxWindowSize)
}

func TestLoadFileRejectsInvalidRule(t *testing.T) {
	const broken = `
rules:
  - rule_id: broken
    name: broken
    window_type: fixed
    strategy_type: threshold
    window_size: whenever
    aggregation_rules:
      - rule_id: broken
        filter:
          - field: value
            operator: ">"
            value: 1
`
	_, err := LoadFile(writeRules(t, broken))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken")
}

func TestLoadFileMissing(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestLoadFileBadYAML(t *testing.T) {
	_, err := LoadFile(writeRules(t, "rules: [\n"))
	require.Error(t, err)
}
