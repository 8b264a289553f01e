package model

import "fmt"

// ConfigurationError marks a rule that is structurally invalid for its
// declared window or strategy type. Not retryable; surfaced to the rule
// owner rather than swallowed.
type ConfigurationError struct {
	RuleID string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("rule %s misconfigured: %s", e.RuleID, e.Reason)
}

// NewConfigurationError builds a ConfigurationError with a formatted reason.
func NewConfigurationError(ruleID, format string, args ...any) *ConfigurationError {
	return &ConfigurationError{RuleID: ruleID, Reason: fmt.Sprintf(format, args...)}
}

// AggregationExecutionError marks a failed aggregation execution. It carries
// the offending expression so the rule owner can diagnose it.
type AggregationExecutionError struct {
	RuleID     string
	Expression string
	Err        error
}

func (e *AggregationExecutionError) Error() string {
	return fmt.Sprintf("aggregation failed for rule %s (expr %q): %v", e.RuleID, e.Expression, e.Err)
}

func (e *AggregationExecutionError) Unwrap() error { return e.Err }

// TransientStoreError wraps an I/O failure against the event store, cache,
// or alert store. State-tracking callers degrade on it; data-path callers
// abort only the current rule invocation.
type TransientStoreError struct {
	Store string
	Op    string
	Err   error
}

func (e *TransientStoreError) Error() string {
	return fmt.Sprintf("%s store: %s: %v", e.Store, e.Op, e.Err)
}

func (e *TransientStoreError) Unwrap() error { return e.Err }
