package alertbuilder

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/opswatch/correlate/internal/correlation/model"
)

func TestDefaultTemplaterTitle(t *testing.T) {
	tpl := DefaultTemplater{}
	rule := &model.CorrelationRule{RuleID: "r1", Name: "CPU high"}
	base := sampleEvents()[1]

	title := tpl.Title(rule, sampleRow(), base)
	assert.Equal(t, "[CPU high] db-1", title)

	base.ResourceName = ""
	title = tpl.Title(rule, sampleRow(), base)
	assert.Contains(t, title, "db-1", "falls back to the resource id")

	base.ResourceID = ""
	title = tpl.Title(rule, sampleRow(), base)
	assert.Contains(t, title, "fp-1", "falls back to the fingerprint")
}

func TestDefaultTemplaterContent(t *testing.T) {
	tpl := DefaultTemplater{}
	rule := &model.CorrelationRule{RuleID: "r1", Name: "CPU high"}
	base := sampleEvents()[1]

	content := tpl.Content(rule, sampleRow(), base)
	assert.Contains(t, content, "4 events")
	assert.Contains(t, content, "Latest: CPU at 96%")
	assert.Contains(t, content, "avg_value=93.5")
	assert.False(t, strings.Contains(content, "Session"), "no session line for non-session rows")

	row := sampleRow()
	row.SessionID = 2
	row.SessionDuration = 3 * time.Minute
	content = tpl.Content(rule, row, base)
	assert.Contains(t, content, "Session #2")
}
