package testfixtures

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestClockDefaultsToReferenceTime(t *testing.T) {
	clock := NewClock(time.Time{})
	assert.True(t, clock.Now().Equal(ReferenceTime()))
}

func TestClockAdvanceAndSet(t *testing.T) {
	start := time.Date(2024, time.March, 14, 9, 26, 0, 0, time.UTC)
	clock := NewClock(start)

	updated := clock.Advance(90 * time.Minute)
	assert.True(t, updated.Equal(start.Add(90*time.Minute)))

	clock.Set(start.Add(2 * time.Hour))
	assert.True(t, clock.Current().Equal(start.Add(2*time.Hour)))
}

func TestTickingClockAdvancesOnEveryReading(t *testing.T) {
	start := time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)
	clock := NewTickingClock(start, time.Second)
	nowFn := clock.NowFunc()

	assert.True(t, nowFn().Equal(start))
	assert.True(t, nowFn().Equal(start.Add(time.Second)))
	assert.True(t, clock.Current().Equal(start.Add(2*time.Second)))
	assert.True(t, clock.Current().Equal(start.Add(2*time.Second)), "Current must not advance")
}
