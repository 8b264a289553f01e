package model

import "time"

// ResultRow is one output row of an aggregation execution: one grouping key
// within one window instance. Rows below the rule's minimum event count are
// dropped by the engine and never appear here.
type ResultRow struct {
	Fingerprint    string
	GroupValues    map[string]string
	WindowID       string
	WindowStart    time.Time
	WindowEnd      time.Time
	EventCount     int
	EventIDs       []string
	FirstEventTime time.Time
	LastEventTime  time.Time

	// MaxLevel carries the worst severity seen in the group. The name keeps
	// the source convention: levels are inverted integers, so the "max"
	// severity is the minimum level number.
	MaxLevel int

	// Aggregates holds the rule's custom aggregate columns by name.
	Aggregates map[string]float64

	// SessionDuration is only set for session-window rows.
	SessionDuration time.Duration
	SessionID       int
}
