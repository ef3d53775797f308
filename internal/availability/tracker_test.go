package availability

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTracker_RequiresBothServices(t *testing.T) {
	tr := NewTracker()
	assert.False(t, tr.FullyUsable())
	assert.Equal(t, []ServiceKind{ServiceListen, ServiceSay}, tr.Pending())

	tr.MarkUsable(ServiceListen)
	assert.False(t, tr.FullyUsable())
	assert.Equal(t, []ServiceKind{ServiceSay}, tr.Pending())

	tr.MarkUsable(ServiceSay)
	assert.True(t, tr.FullyUsable())
	assert.Empty(t, tr.Pending())
	assert.False(t, tr.Unusable())
}

func TestTracker_RepeatedUsableReports(t *testing.T) {
	tr := NewTracker()
	tr.MarkUsable(ServiceSay)
	tr.MarkUsable(ServiceSay)

	assert.False(t, tr.FullyUsable())
}

func TestTracker_UnusableIsSticky(t *testing.T) {
	tr := NewTracker()
	tr.MarkUnusable(ServiceListen)
	assert.True(t, tr.Unusable())

	tr.MarkUsable(ServiceListen)
	tr.MarkUsable(ServiceSay)

	assert.True(t, tr.Unusable())
	assert.False(t, tr.FullyUsable())
	assert.Equal(t, []ServiceKind{ServiceListen}, tr.UnusableServices())
}

func TestTracker_UnusableAfterReady(t *testing.T) {
	tr := NewTracker()
	tr.MarkUsable(ServiceListen)
	tr.MarkUsable(ServiceSay)
	tr.MarkUnusable(ServiceSay)

	assert.True(t, tr.Unusable())
	assert.False(t, tr.FullyUsable())
}

func TestTracker_IgnoresUnknownKind(t *testing.T) {
	tr := NewTracker()
	tr.MarkUsable(ServiceKind(7))
	tr.MarkUnusable(ServiceKind(7))

	assert.False(t, tr.Unusable())
	assert.False(t, tr.FullyUsable())
}

func TestServiceKind_String(t *testing.T) {
	assert.Equal(t, "listen", ServiceListen.String())
	assert.Equal(t, "say", ServiceSay.String())
	assert.Equal(t, "unknown", ServiceKind(9).String())
}
