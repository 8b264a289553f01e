package ruleset

import (
	"fmt"

	"github.com/opswatch/correlate/internal/correlation/model"
	"github.com/opswatch/correlate/internal/correlation/service/aggregation"
)

// Validate rejects rules that could not be resolved into executable
// aggregation parameters. Storing an unexecutable rule would only fail
// later, on every scheduler cycle.
func Validate(r *model.CorrelationRule) error {
	if r == nil {
		return fmt.Errorf("rule is nil")
	}
	if r.RuleID == "" {
		return fmt.Errorf("rule_id is required")
	}
	if r.Name == "" {
		return fmt.Errorf("rule %s: name is required", r.RuleID)
	}
	if _, err := aggregation.NewParamsResolver(1).Resolve(r); err != nil {
		return err
	}
	return nil
}
