// Package tally counts ballots and decides how a voting round ends.
package tally

import (
	"sort"
	"time"

	"naming_events/pkg/event"
)

// Count is the number of votes one option received
type Count struct {
	Option    event.Candidate `json:"option"`
	Submitter string          `json:"submitter"`
	Votes     int             `json:"votes"`
}

// Result is the outcome of a closed ballot. Exactly one of Winner,
// Tied or NoWinner describes it.
type Result struct {
	Winner    *event.Candidate
	Submitter string
	// ByDefault is set when the winner was declared without a contest:
	// a single option, or no votes at all.
	ByDefault  bool
	Tied       []event.Candidate
	NoWinner   bool
	Counts     []Count
	TotalVotes int
}

// IsTie reports whether the round must be repeated
func (r Result) IsTie() bool {
	return len(r.Tied) > 1
}

// RunnersUp returns the ranked counts after the winner
func (r Result) RunnersUp() []Count {
	if r.Winner == nil {
		return nil
	}
	out := make([]Count, 0, len(r.Counts))
	for _, c := range r.Counts {
		if c.Option.ID != r.Winner.ID {
			out = append(out, c)
		}
	}
	return out
}

// Counts tallies votes per option in ballot order. Votes that reference a
// missing option are ignored.
func Counts(b *event.Ballot) []Count {
	index := make(map[string]int, len(b.Options))
	counts := make([]Count, len(b.Options))
	for i, o := range b.Options {
		index[o.ID] = i
		counts[i] = Count{Option: o, Submitter: b.Submitter(o)}
	}
	for _, id := range b.Votes {
		if i, ok := index[id]; ok {
			counts[i].Votes++
		}
	}
	return counts
}

// Ranked sorts counts by votes descending, keeping ballot order on ties
func Ranked(counts []Count) []Count {
	out := append([]Count(nil), counts...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Votes > out[j].Votes })
	return out
}

// Resolve decides the outcome of a closed ballot. With at most one option,
// or when nobody voted, the first option wins by default. Otherwise the
// unique maximum wins, and several options sharing the maximum are a tie.
func Resolve(b *event.Ballot) Result {
	counts := Counts(b)
	res := Result{Counts: Ranked(counts)}
	for _, c := range counts {
		res.TotalVotes += c.Votes
	}

	if len(counts) == 0 {
		res.NoWinner = true
		return res
	}
	if len(counts) == 1 || res.TotalVotes == 0 {
		return declare(res, counts[0], true)
	}

	top := 0
	for _, c := range counts {
		if c.Votes > top {
			top = c.Votes
		}
	}
	var leaders []Count
	for _, c := range counts {
		if c.Votes == top {
			leaders = append(leaders, c)
		}
	}
	if len(leaders) == 1 {
		return declare(res, leaders[0], false)
	}

	res.Tied = make([]event.Candidate, len(leaders))
	for i, c := range leaders {
		res.Tied[i] = c.Option
	}
	return res
}

func declare(res Result, c Count, byDefault bool) Result {
	winner := c.Option
	res.Winner = &winner
	res.Submitter = c.Submitter
	res.ByDefault = byDefault
	return res
}

// NextTieBreak builds the re-vote among the tied options. The round goes up
// by one, votes start empty and the deadline is now plus the configured
// tie-break duration.
func NextTieBreak(b *event.Ballot, tied []event.Candidate, now time.Time) *event.TieBreak {
	snapshot := make(map[string]event.Candidate, len(b.Snapshot))
	for k, v := range b.Snapshot {
		snapshot[k] = v
	}
	return &event.TieBreak{Ballot: event.Ballot{
		EndTime:  now.Add(b.Config.TieBreakDuration).Truncate(time.Second).UTC(),
		Options:  append([]event.Candidate(nil), tied...),
		Votes:    make(map[string]string),
		Snapshot: snapshot,
		Round:    b.Round + 1,
		Config:   b.Config,
	}}
}
