package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSystemClockIsUTC(t *testing.T) {
	now := NewSystem().Now()
	assert.Equal(t, time.UTC, now.Location())
}

func TestManualClockAdvance(t *testing.T) {
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	clk := NewManual(start)
	assert.Equal(t, start, clk.Now())

	clk.Advance(49 * time.Hour)
	assert.Equal(t, start.Add(49*time.Hour), clk.Now())

	clk.Set(start)
	assert.Equal(t, start, clk.Now())
}
