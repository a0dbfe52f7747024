package event

import (
	"sort"
	"strings"
	"time"
)

// PhaseKind names a phase variant
type PhaseKind string

const (
	KindIdle        PhaseKind = "idle"
	KindSubmissions PhaseKind = "submissions"
	KindVoting      PhaseKind = "voting"
	KindTieBreak    PhaseKind = "tie_break"
)

// Phase is one state of a tenant's event. The set of implementations is
// closed: Idle, *Submissions, *Voting and *TieBreak.
type Phase interface {
	Kind() PhaseKind
	// Deadline returns the phase end time; ok is false for Idle.
	Deadline() (end time.Time, ok bool)
	sealed()
}

// Candidate is a submitted name. ID is assigned once at submission and
// never changes, so votes keep pointing at the same candidate when others
// are removed.
type Candidate struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	SubmitterID string    `json:"submitter_id"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// RoundConfig carries the per-event settings chosen at start
type RoundConfig struct {
	Location         string        `json:"location"`
	VotingDuration   time.Duration `json:"voting_duration"`
	TieBreakDuration time.Duration `json:"tiebreak_duration"`
}

// Idle means no event is running
type Idle struct{}

func (Idle) Kind() PhaseKind             { return KindIdle }
func (Idle) Deadline() (time.Time, bool) { return time.Time{}, false }
func (Idle) sealed()                     {}

// Submissions collects one candidate per submitter until EndTime
type Submissions struct {
	EndTime    time.Time
	Candidates map[string]Candidate // keyed by submitter
	Config     RoundConfig
}

func (s *Submissions) Kind() PhaseKind             { return KindSubmissions }
func (s *Submissions) Deadline() (time.Time, bool) { return s.EndTime, true }
func (s *Submissions) sealed()                     {}

// FindByName returns the candidate with the given name, ignoring case
func (s *Submissions) FindByName(name string) (Candidate, bool) {
	for _, c := range s.Candidates {
		if strings.EqualFold(c.Name, name) {
			return c, true
		}
	}
	return Candidate{}, false
}

// Ordered returns candidates sorted by submission time, then name
func (s *Submissions) Ordered() []Candidate {
	out := make([]Candidate, 0, len(s.Candidates))
	for _, c := range s.Candidates {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SubmittedAt.Equal(out[j].SubmittedAt) {
			return out[i].Name < out[j].Name
		}
		return out[i].SubmittedAt.Before(out[j].SubmittedAt)
	})
	return out
}

// Ballot is the state shared by Voting and TieBreak.
type Ballot struct {
	EndTime  time.Time
	Options  []Candidate
	Votes    map[string]string    // voter -> candidate ID
	Snapshot map[string]Candidate // submissions at close, keyed by submitter
	Round    int
	Config   RoundConfig
}

// Option looks up an option by candidate ID.
func (b *Ballot) Option(id string) (Candidate, bool) {
	for _, o := range b.Options {
		if o.ID == id {
			return o, true
		}
	}
	return Candidate{}, false
}

// ResolveRef finds an option by ID first, then by case-insensitive name.
func (b *Ballot) ResolveRef(ref string) (Candidate, bool) {
	if o, ok := b.Option(ref); ok {
		return o, true
	}
	for _, o := range b.Options {
		if strings.EqualFold(o.Name, ref) {
			return o, true
		}
	}
	return Candidate{}, false
}

// Submitter returns the submitter of a candidate, preferring the snapshot.
func (b *Ballot) Submitter(c Candidate) string {
	for submitter, s := range b.Snapshot {
		if s.ID == c.ID {
			return submitter
		}
	}
	return c.SubmitterID
}

// RemoveOption drops the named option and every vote cast for it. The
// remaining options and votes are untouched.
func (b *Ballot) RemoveOption(name string) (Candidate, bool) {
	for i, o := range b.Options {
		if !strings.EqualFold(o.Name, name) {
			continue
		}
		b.Options = append(b.Options[:i:i], b.Options[i+1:]...)
		for voter, id := range b.Votes {
			if id == o.ID {
				delete(b.Votes, voter)
			}
		}
		return o, true
	}
	return Candidate{}, false
}

func (b *Ballot) clone() Ballot {
	c := *b
	c.Options = append([]Candidate(nil), b.Options...)
	c.Votes = make(map[string]string, len(b.Votes))
	for k, v := range b.Votes {
		c.Votes[k] = v
	}
	c.Snapshot = make(map[string]Candidate, len(b.Snapshot))
	for k, v := range b.Snapshot {
		c.Snapshot[k] = v
	}
	return c
}

// Voting is the first vote over all submitted candidates. Round is 0.
type Voting struct {
	Ballot
}

func (v *Voting) Kind() PhaseKind             { return KindVoting }
func (v *Voting) Deadline() (time.Time, bool) { return v.EndTime, true }
func (v *Voting) sealed()                     {}

// TieBreak is a re-vote among the options tied at the maximum. Round >= 1.
type TieBreak struct {
	Ballot
}

func (t *TieBreak) Kind() PhaseKind             { return KindTieBreak }
func (t *TieBreak) Deadline() (time.Time, bool) { return t.EndTime, true }
func (t *TieBreak) sealed()                     {}

// BallotOf returns the ballot of a voting-like phase.
func BallotOf(p Phase) (*Ballot, bool) {
	switch ph := p.(type) {
	case *Voting:
		return &ph.Ballot, true
	case *TieBreak:
		return &ph.Ballot, true
	default:
		return nil, false
	}
}

// Stamp identifies the deadline a timer was armed for.
type Stamp struct {
	Kind       PhaseKind
	EndTime    time.Time
	Generation uint64
}

// Matches reports whether other denotes the same armed deadline.
func (s Stamp) Matches(other Stamp) bool {
	return s.Kind == other.Kind && s.EndTime.Equal(other.EndTime) && s.Generation == other.Generation
}

// TenantEvent is the persisted record for one tenant
type TenantEvent struct {
	TenantID   string
	Phase      Phase
	Generation uint64
	UpdatedAt  time.Time
}

// NewIdle returns the implicit record of a tenant never seen before
func NewIdle(tenantID string) *TenantEvent {
	return &TenantEvent{TenantID: tenantID, Phase: Idle{}}
}

// IsIdle reports whether no event is running
func (e *TenantEvent) IsIdle() bool {
	return e.Phase == nil || e.Phase.Kind() == KindIdle
}

// Stamp returns the identity of the current deadline
func (e *TenantEvent) Stamp() Stamp {
	end, _ := e.Phase.Deadline()
	return Stamp{Kind: e.Phase.Kind(), EndTime: end, Generation: e.Generation}
}

// Transition replaces the phase and bumps the generation
func (e *TenantEvent) Transition(next Phase) {
	e.Phase = next
	e.Generation++
}

// MoveDeadline sets a new end time on the current phase and bumps the
// generation so timers armed for the old deadline become stale. It reports
// false for Idle.
func (e *TenantEvent) MoveDeadline(end time.Time) bool {
	switch ph := e.Phase.(type) {
	case *Submissions:
		ph.EndTime = end
	case *Voting:
		ph.EndTime = end
	case *TieBreak:
		ph.EndTime = end
	default:
		return false
	}
	e.Generation++
	return true
}

// Clone returns a deep copy safe to mutate
func (e *TenantEvent) Clone() *TenantEvent {
	c := *e
	switch ph := e.Phase.(type) {
	case *Submissions:
		s := *ph
		s.Candidates = make(map[string]Candidate, len(ph.Candidates))
		for k, v := range ph.Candidates {
			s.Candidates[k] = v
		}
		c.Phase = &s
	case *Voting:
		c.Phase = &Voting{Ballot: ph.clone()}
	case *TieBreak:
		c.Phase = &TieBreak{Ballot: ph.clone()}
	default:
		c.Phase = Idle{}
	}
	return &c
}
