package naming

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEventMetrics_Counters(t *testing.T) {
	metrics := NewEventMetrics()
	metrics.IncrementStarted()
	metrics.IncrementStarted()
	metrics.IncrementResolved()
	metrics.IncrementTieBreaks()
	metrics.IncrementVoted()

	stats := metrics.GetStats()
	assert.Equal(t, int64(2), stats.EventsStarted)
	assert.Equal(t, int64(1), stats.EventsResolved)
	assert.Equal(t, int64(1), stats.TieBreaks)
	assert.Equal(t, int64(1), stats.Votes)
	assert.Equal(t, int64(0), stats.EventsCancelled)
	assert.False(t, stats.LastUpdate.IsZero())
}

func TestEventMetrics_RecordTransition(t *testing.T) {
	metrics := NewEventMetrics()
	metrics.RecordTransition(2 * time.Second)
	assert.Equal(t, 2*time.Second, metrics.GetStats().AverageLatency)

	metrics.RecordTransition(12 * time.Second)
	stats := metrics.GetStats()
	assert.Equal(t, int64(2), stats.Transitions)
	assert.InDelta(t, float64(3*time.Second), float64(stats.AverageLatency), float64(time.Millisecond))
}
