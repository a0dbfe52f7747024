package naming

import (
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"naming_events/pkg/event"
	"naming_events/pkg/tally"
)

const runnersUpShown = 3

// when renders a deadline relative to now, with the absolute time after it
func when(end, now time.Time) string {
	return fmt.Sprintf("%s (%s)", humanize.RelTime(end, now, "ago", "from now"), end.UTC().Format("Jan 2 15:04 MST"))
}

func startText(loc string, end, now time.Time) string {
	return fmt.Sprintf("A new naming event for **%s** has started! Submit your idea (lowercase letters only, like `oak` or `willow`). Submissions close %s.",
		loc, when(end, now))
}

func noSubmissionsText(loc string) string {
	return fmt.Sprintf("No names were submitted for **%s** this time, so the event has ended.", loc)
}

// votingText lists up to limit randomly chosen submissions
func votingText(b *event.Ballot, now time.Time, limit int) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Voting is open for **%s**! There are %d names on the ballot. Voting ends %s.",
		b.Config.Location, len(b.Options), when(b.EndTime, now))

	reps := append([]event.Candidate(nil), b.Options...)
	rand.Shuffle(len(reps), func(i, j int) { reps[i], reps[j] = reps[j], reps[i] })
	if limit >= 0 && len(reps) > limit {
		reps = reps[:limit]
	}
	if len(reps) > 0 {
		sb.WriteString("\n\nRepresentatives:")
		for _, c := range reps {
			fmt.Fprintf(&sb, "\n- %s representing `%s`", b.Submitter(c), c.Name)
		}
	}
	return sb.String()
}

func tieBreakText(tb *event.TieBreak, now time.Time) string {
	names := make([]string, len(tb.Options))
	for i, o := range tb.Options {
		names[i] = "`" + o.Name + "`"
	}
	return fmt.Sprintf("We've got a tie! Tie-break round %d for **%s** is open between %s. Voting ends %s.",
		tb.Round, tb.Config.Location, strings.Join(names, ", "), when(tb.EndTime, now))
}

func winnerText(loc string, res tally.Result) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "The winning name for **%s** is **%s** (submitted by %s)!", loc, res.Winner.Name, res.Submitter)

	runnersUp := res.RunnersUp()
	if res.ByDefault || len(runnersUp) == 0 {
		return sb.String()
	}
	sb.WriteString("\n\nRunners-up:")
	for i, c := range runnersUp {
		if i == runnersUpShown {
			fmt.Fprintf(&sb, "\n...and %d more", len(runnersUp)-runnersUpShown)
			break
		}
		fmt.Fprintf(&sb, "\n%d. `%s` by %s (%s)", i+2, c.Option.Name, c.Submitter, votesLabel(c.Votes))
	}
	return sb.String()
}

func noWinnerText(loc string) string {
	return fmt.Sprintf("No valid names remain for **%s**. The event has ended without a winner.", loc)
}

func cancelledText() string {
	return "The current naming event has been cancelled by an administrator."
}

func forceEndText(kind event.PhaseKind, reason string) string {
	phase := "submission"
	if kind != event.KindSubmissions {
		phase = "voting"
	}
	if reason == "" {
		return fmt.Sprintf("Ending the %s phase early!", phase)
	}
	return fmt.Sprintf("Ending the %s phase early! (%s)", phase, reason)
}

func extendText(minutes int, end, now time.Time) string {
	if minutes > 0 {
		return fmt.Sprintf("The current phase has been extended by %d minutes! It now ends %s.", minutes, when(end, now))
	}
	return fmt.Sprintf("The current phase has been shortened by %d minutes. It now ends %s.", -minutes, when(end, now))
}

// statusText describes the current phase for the status command
func statusText(ev *event.TenantEvent, now time.Time) string {
	switch ph := ev.Phase.(type) {
	case *event.Submissions:
		return fmt.Sprintf("We're naming **%s**! %d names submitted so far. Submissions close %s.",
			ph.Config.Location, len(ph.Candidates), when(ph.EndTime, now))
	case *event.Voting:
		return fmt.Sprintf("Voting is underway for **%s**: %d options and %s so far. Voting ends %s.",
			ph.Config.Location, len(ph.Options), votesLabel(len(ph.Votes)), when(ph.EndTime, now))
	case *event.TieBreak:
		return fmt.Sprintf("Tie-break round %d is underway for **%s**: %d options remain with %s cast. Voting ends %s.",
			ph.Round, ph.Config.Location, len(ph.Options), votesLabel(len(ph.Votes)), when(ph.EndTime, now))
	default:
		return "No naming event is running right now."
	}
}

func votesLabel(n int) string {
	if n == 1 {
		return "1 vote"
	}
	return humanize.Comma(int64(n)) + " votes"
}
