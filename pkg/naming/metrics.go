package naming

import (
	"sync"
	"time"
)

// EventMetrics tracks naming event activity
type EventMetrics struct {
	eventsStarted   int64
	eventsResolved  int64
	eventsCancelled int64
	eventsEmpty     int64
	tieBreaks       int64
	submissions     int64
	votes           int64
	transitions     int64
	averageLatency  time.Duration
	lastUpdate      time.Time
	mu              sync.RWMutex
}

// NewEventMetrics creates a new EventMetrics instance
func NewEventMetrics() *EventMetrics {
	return &EventMetrics{}
}

func (m *EventMetrics) incr(counter *int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	*counter++
	m.lastUpdate = time.Now()
}

func (m *EventMetrics) IncrementStarted()   { m.incr(&m.eventsStarted) }
func (m *EventMetrics) IncrementResolved()  { m.incr(&m.eventsResolved) }
func (m *EventMetrics) IncrementCancelled() { m.incr(&m.eventsCancelled) }
func (m *EventMetrics) IncrementEmpty()     { m.incr(&m.eventsEmpty) }
func (m *EventMetrics) IncrementTieBreaks() { m.incr(&m.tieBreaks) }
func (m *EventMetrics) IncrementSubmitted() { m.incr(&m.submissions) }
func (m *EventMetrics) IncrementVoted()     { m.incr(&m.votes) }

// RecordTransition counts a phase transition and folds its latency into a
// moving average.
func (m *EventMetrics) RecordTransition(latency time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transitions++
	if m.transitions == 1 {
		m.averageLatency = latency
	} else {
		const alpha = 0.1
		m.averageLatency = time.Duration(float64(m.averageLatency)*(1-alpha) + float64(latency)*alpha)
	}
	m.lastUpdate = time.Now()
}

// GetStats returns the current event statistics
func (m *EventMetrics) GetStats() EventStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return EventStats{
		EventsStarted:   m.eventsStarted,
		EventsResolved:  m.eventsResolved,
		EventsCancelled: m.eventsCancelled,
		EventsEmpty:     m.eventsEmpty,
		TieBreaks:       m.tieBreaks,
		Submissions:     m.submissions,
		Votes:           m.votes,
		Transitions:     m.transitions,
		AverageLatency:  m.averageLatency,
		LastUpdate:      m.lastUpdate,
	}
}

// EventStats is a snapshot of EventMetrics
type EventStats struct {
	EventsStarted   int64         `json:"events_started"`
	EventsResolved  int64         `json:"events_resolved"`
	EventsCancelled int64         `json:"events_cancelled"`
	EventsEmpty     int64         `json:"events_empty"`
	TieBreaks       int64         `json:"tie_breaks"`
	Submissions     int64         `json:"submissions"`
	Votes           int64         `json:"votes"`
	Transitions     int64         `json:"transitions"`
	AverageLatency  time.Duration `json:"average_latency"`
	LastUpdate      time.Time     `json:"last_update"`
}
