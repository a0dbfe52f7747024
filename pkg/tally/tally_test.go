package tally

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"naming_events/pkg/event"
)

func ballot(options []string, votes map[string]string) *event.Ballot {
	b := &event.Ballot{
		Votes:    votes,
		Snapshot: make(map[string]event.Candidate),
		Config:   event.RoundConfig{TieBreakDuration: 15 * time.Minute},
	}
	for _, name := range options {
		c := event.Candidate{ID: "id-" + name, Name: name, SubmitterID: "by-" + name}
		b.Options = append(b.Options, c)
		b.Snapshot[c.SubmitterID] = c
	}
	if b.Votes == nil {
		b.Votes = make(map[string]string)
	}
	return b
}

func TestResolve(t *testing.T) {
	tests := []struct {
		name       string
		options    []string
		votes      map[string]string
		winner     string
		byDefault  bool
		tied       []string
		noWinner   bool
		totalVotes int
	}{
		{
			name:       "UniqueMax",
			options:    []string{"oak", "elm"},
			votes:      map[string]string{"u1": "id-oak", "u2": "id-oak", "u3": "id-oak"},
			winner:     "oak",
			totalVotes: 3,
		},
		{
			name:    "TwoWayTie",
			options: []string{"oak", "elm", "ash"},
			votes: map[string]string{
				"u1": "id-oak", "u2": "id-oak",
				"u3": "id-elm", "u4": "id-elm",
				"u5": "id-ash",
			},
			tied:       []string{"oak", "elm"},
			totalVotes: 5,
		},
		{
			name:      "NoVotesFirstWins",
			options:   []string{"ash", "oak"},
			winner:    "ash",
			byDefault: true,
		},
		{
			name:       "SingleOption",
			options:    []string{"elm"},
			votes:      map[string]string{"u1": "id-elm"},
			winner:     "elm",
			byDefault:  true,
			totalVotes: 1,
		},
		{
			name:     "NoOptions",
			noWinner: true,
		},
		{
			name:       "VotesForRemovedOptionIgnored",
			options:    []string{"oak", "elm"},
			votes:      map[string]string{"u1": "id-gone", "u2": "id-gone", "u3": "id-elm"},
			winner:     "elm",
			totalVotes: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Resolve(ballot(tt.options, tt.votes))

			assert.Equal(t, tt.noWinner, res.NoWinner)
			assert.Equal(t, tt.totalVotes, res.TotalVotes)
			if tt.winner == "" {
				assert.Nil(t, res.Winner)
			} else {
				require.NotNil(t, res.Winner)
				assert.Equal(t, tt.winner, res.Winner.Name)
				assert.Equal(t, "by-"+tt.winner, res.Submitter)
				assert.Equal(t, tt.byDefault, res.ByDefault)
			}

			var tied []string
			for _, c := range res.Tied {
				tied = append(tied, c.Name)
			}
			assert.Equal(t, tt.tied, tied)
			assert.Equal(t, len(tt.tied) > 1, res.IsTie())
		})
	}
}

func TestRankedAndRunnersUp(t *testing.T) {
	b := ballot([]string{"ash", "oak", "elm", "yew"}, map[string]string{
		"u1": "id-oak", "u2": "id-oak", "u3": "id-oak",
		"u4": "id-elm", "u5": "id-elm",
		"u6": "id-yew",
	})

	res := Resolve(b)
	require.NotNil(t, res.Winner)
	assert.Equal(t, "oak", res.Winner.Name)

	var ranked []string
	for _, c := range res.RunnersUp() {
		ranked = append(ranked, c.Option.Name)
	}
	assert.Equal(t, []string{"elm", "yew", "ash"}, ranked)
	assert.Equal(t, 0, res.RunnersUp()[2].Votes)
}

func TestNextTieBreak(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 500, time.UTC)
	b := ballot([]string{"oak", "elm", "ash"}, map[string]string{
		"u1": "id-oak", "u2": "id-oak", "u3": "id-elm", "u4": "id-elm",
	})

	res := Resolve(b)
	require.True(t, res.IsTie())

	tb := NextTieBreak(b, res.Tied, now)
	assert.Equal(t, 1, tb.Round)
	assert.Empty(t, tb.Votes)
	assert.Equal(t, now.Add(15*time.Minute).Truncate(time.Second), tb.EndTime)
	require.Len(t, tb.Options, 2)
	assert.Equal(t, "oak", tb.Options[0].Name)
	assert.Equal(t, "elm", tb.Options[1].Name)
	assert.Equal(t, b.Snapshot, tb.Snapshot)

	// A tie inside a tie-break escalates the round again.
	tb.Votes["u1"] = "id-oak"
	tb.Votes["u2"] = "id-elm"
	again := Resolve(&tb.Ballot)
	require.True(t, again.IsTie())
	assert.Equal(t, 2, NextTieBreak(&tb.Ballot, again.Tied, now).Round)

	// The source ballot is not touched.
	assert.Len(t, b.Votes, 4)
	assert.Len(t, b.Options, 3)
}
