package audit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCategoryRouting(t *testing.T) {
	assert.Equal(t, CategoryCompensation, EventLateConfirmationConflict.Category())
	assert.Equal(t, CategorySecurity, EventCallbackRejected.Category())
	assert.Equal(t, CategoryLifecycle, EventOrderPaid.Category())
	assert.Equal(t, CategoryLifecycle, AuditEvent("something_new").Category())

	assert.Equal(t, "boxoffice.compensation", CategoryCompensation.Topic(""))
	assert.Equal(t, "prod.security", CategorySecurity.Topic("prod"))
	assert.Len(t, Topics("x"), 3)
}

func TestNormalize(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.FixedZone("EAT", 3*3600))
	e := Event{Action: string(EventTerminalOrderConflict)}.Normalize(now)

	assert.Equal(t, CategoryCompensation, e.Category)
	assert.Equal(t, now.UTC(), e.Timestamp)
	assert.Equal(t, time.UTC, e.Timestamp.Location())
	assert.Equal(t, SeverityInfo, e.Severity)

	explicit := Event{Action: string(EventOrderPaid), Severity: SeverityWarning, Timestamp: now.Add(-time.Minute)}.Normalize(now)
	assert.Equal(t, SeverityWarning, explicit.Severity)
	assert.Equal(t, now.Add(-time.Minute).UTC(), explicit.Timestamp)
}
