package timer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTimer_Unarmed(t *testing.T) {
	tm := New(NewFakeClock(time.Unix(0, 0)))

	assert.False(t, tm.Armed())
	assert.False(t, tm.Expired())
	assert.Zero(t, tm.Remaining())
}

func TestTimer_ExpiresAtDeadline(t *testing.T) {
	clock := NewFakeClock(time.Unix(100, 0))
	tm := New(clock)

	tm.Arm(2 * time.Second)
	assert.True(t, tm.Armed())
	assert.False(t, tm.Expired())
	assert.Equal(t, 2*time.Second, tm.Remaining())

	clock.Advance(2*time.Second - time.Millisecond)
	assert.False(t, tm.Expired())

	clock.Advance(time.Millisecond)
	assert.True(t, tm.Expired())
	assert.Zero(t, tm.Remaining())
}

func TestTimer_Reset(t *testing.T) {
	clock := NewFakeClock(time.Unix(0, 0))
	tm := New(clock)

	tm.Arm(time.Second)
	clock.Advance(5 * time.Second)
	assert.True(t, tm.Expired())

	tm.Reset()
	assert.False(t, tm.Armed())
	assert.False(t, tm.Expired())
}

func TestTimer_RearmReplacesDeadline(t *testing.T) {
	clock := NewFakeClock(time.Unix(0, 0))
	tm := New(clock)

	tm.Arm(time.Second)
	clock.Advance(900 * time.Millisecond)
	tm.Arm(time.Second)
	clock.Advance(900 * time.Millisecond)

	assert.False(t, tm.Expired())
}

func TestNew_DefaultsToSystemClock(t *testing.T) {
	tm := New(nil)
	tm.Arm(time.Hour)

	assert.False(t, tm.Expired())
	assert.Greater(t, tm.Remaining(), 59*time.Minute)
}
