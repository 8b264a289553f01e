package alertbuilder

import (
	"fmt"
	"sort"
	"strings"

	"github.com/opswatch/correlate/internal/correlation/model"
)

// Templater renders alert title and content from an aggregation row and
// its representative event. It is injected so deployments can swap the
// wording without touching the builder.
type Templater interface {
	Title(rule *model.CorrelationRule, row model.ResultRow, base model.Event) string
	Content(rule *model.CorrelationRule, row model.ResultRow, base model.Event) string
}

// DefaultTemplater produces plain operator-facing text.
type DefaultTemplater struct{}

func (DefaultTemplater) Title(rule *model.CorrelationRule, row model.ResultRow, base model.Event) string {
	subject := base.ResourceName
	if subject == "" {
		subject = base.ResourceID
	}
	if subject == "" {
		subject = row.Fingerprint
	}
	return fmt.Sprintf("[%s] %s", rule.Name, subject)
}

func (DefaultTemplater) Content(rule *model.CorrelationRule, row model.ResultRow, base model.Event) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d events matched rule %s between %s and %s.",
		row.EventCount, rule.Name,
		row.FirstEventTime.Format("2006-01-02 15:04:05"),
		row.LastEventTime.Format("2006-01-02 15:04:05"))
	if base.Title != "" {
		fmt.Fprintf(&b, "\nLatest: %s", base.Title)
	}
	if len(row.Aggregates) > 0 {
		b.WriteString("\nAggregates:")
		for _, name := range sortedKeys(row.Aggregates) {
			fmt.Fprintf(&b, " %s=%.4g", name, row.Aggregates[name])
		}
	}
	if row.SessionID > 0 {
		fmt.Fprintf(&b, "\nSession #%d lasted %s.", row.SessionID, row.SessionDuration)
	}
	return b.String()
}

func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
