package aggregation

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEventVisibilityFilter(t *testing.T) {
	fresh := eventVisibilityFilter(false)
	assert.Contains(t, fresh, "alert_sources", "events from deactivated sources must stay invisible")
	assert.Contains(t, fresh, "is_active = TRUE")
	assert.Contains(t, fresh, "status = 'received'")

	reread := eventVisibilityFilter(true)
	assert.Contains(t, reread, "alert_sources")
	assert.Contains(t, reread, "status != 'shield'")
	assert.NotContains(t, reread, "status = 'received'", "overlapping windows re-see processed events")
}
