// Package naming runs per-tenant naming events: submissions, voting and
// tie-break rounds, resolved by deadlines.
package naming

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"naming_events/pkg/config"
	"naming_events/pkg/data"
	"naming_events/pkg/event"
	"naming_events/pkg/notifier"
	"naming_events/pkg/scheduler"
	"naming_events/pkg/tally"
	"naming_events/pkg/utils"
	"naming_events/pkg/validator"
)

// Scheduler arms the deadline of a persisted record, or re-reads the store
// and arms whatever is current
type Scheduler interface {
	Arm(ev *event.TenantEvent)
	Reschedule(ctx context.Context, tenantID string) error
}

type nopScheduler struct{}

func (nopScheduler) Arm(*event.TenantEvent)                   {}
func (nopScheduler) Reschedule(context.Context, string) error { return nil }

// errSuperseded aborts an update whose timer no longer matches the record
var errSuperseded = errors.New("deadline superseded")

// Ensure Engine can drive the scheduler
var _ scheduler.Transitioner = (*Engine)(nil)

// MaxMinutes bounds any duration or deadline shift given in minutes
const MaxMinutes = 366 * 24 * 60

const maxDuration = MaxMinutes * time.Minute

// StartOptions configures a new event. Zero durations take the configured
// defaults.
type StartOptions struct {
	Location           string
	SubmissionDuration time.Duration
	VotingDuration     time.Duration
	TieBreakDuration   time.Duration
}

// Engine executes commands and deadline transitions. Every mutation goes
// through the repository's per-tenant update, and announcements are only
// sent once the new state is stored.
type Engine struct {
	repo      data.Repository
	validator *validator.Validator
	notifier  notifier.Notifier
	sched     Scheduler
	clock     clockwork.Clock
	cfg       config.EventsConfig
	logger    *zap.Logger
	metrics   *EventMetrics
}

// NewEngine creates an engine. Call UseScheduler before serving commands.
func NewEngine(repo data.Repository, v *validator.Validator, n notifier.Notifier, clock clockwork.Clock, cfg config.EventsConfig, logger *zap.Logger) *Engine {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Engine{
		repo:      repo,
		validator: v,
		notifier:  n,
		sched:     nopScheduler{},
		clock:     clock,
		cfg:       cfg,
		logger:    logger,
		metrics:   NewEventMetrics(),
	}
}

// UseScheduler wires the deadline scheduler. The scheduler in turn calls
// Advance, so it is attached after both exist.
func (e *Engine) UseScheduler(s Scheduler) {
	e.sched = s
}

// Metrics returns the engine's counters
func (e *Engine) Metrics() *EventMetrics {
	return e.metrics
}

func (e *Engine) now() time.Time {
	return e.clock.Now().UTC()
}

// deadline returns now+d cut to whole seconds, the precision stored
func deadline(now time.Time, d time.Duration) time.Time {
	return now.Add(d).Truncate(time.Second)
}

// Start opens submissions for an idle tenant
func (e *Engine) Start(ctx context.Context, tenantID string, opts StartOptions) (*event.TenantEvent, error) {
	opts.Location = strings.TrimSpace(opts.Location)
	if opts.Location == "" {
		return nil, event.NewValidation("location is required")
	}
	if opts.SubmissionDuration == 0 {
		opts.SubmissionDuration = e.cfg.SubmissionDuration
	}
	if opts.VotingDuration == 0 {
		opts.VotingDuration = e.cfg.VotingDuration
	}
	if opts.TieBreakDuration == 0 {
		opts.TieBreakDuration = e.cfg.TieBreakDuration
	}
	if opts.SubmissionDuration < time.Minute || opts.VotingDuration < time.Minute || opts.TieBreakDuration < time.Minute {
		return nil, event.NewValidation("durations must be at least one minute")
	}
	if opts.SubmissionDuration > maxDuration || opts.VotingDuration > maxDuration || opts.TieBreakDuration > maxDuration {
		return nil, event.NewValidation("durations cannot exceed %d minutes", MaxMinutes)
	}

	dest, err := e.repo.GetDestination(ctx, tenantID)
	if err != nil && !errors.Is(err, data.ErrNotFound) {
		return nil, event.NewPersistence("get destination", err)
	}
	if !dest.Configured() {
		return nil, event.NewConflict("set the announcement channel and role before starting an event")
	}

	now := e.now()
	ev, err := e.repo.UpdateEvent(ctx, tenantID, func(ev *event.TenantEvent) error {
		if !ev.IsIdle() {
			return event.NewConflict("an event is already in progress")
		}
		ev.Transition(&event.Submissions{
			EndTime:    deadline(now, opts.SubmissionDuration),
			Candidates: make(map[string]event.Candidate),
			Config: event.RoundConfig{
				Location:         opts.Location,
				VotingDuration:   opts.VotingDuration,
				TieBreakDuration: opts.TieBreakDuration,
			},
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.sched.Arm(ev)
	e.metrics.IncrementStarted()
	end, _ := ev.Phase.Deadline()
	utils.ForTenant(e.logger, tenantID).Info("Naming event started",
		zap.String("location", opts.Location),
		zap.Time("endTime", end))
	e.announce(ctx, tenantID, startText(opts.Location, end, now))
	return ev, nil
}

// SubmitResult reports the stored candidate
type SubmitResult struct {
	Candidate event.Candidate `json:"candidate"`
	Replaced  bool            `json:"replaced"`
}

// Submit records userID's candidate name, replacing their earlier one. The
// name checks that need the oracle run before the tenant is locked; the
// phase, deadline and claim checks are repeated under the lock.
func (e *Engine) Submit(ctx context.Context, tenantID, userID, name string) (*SubmitResult, error) {
	if userID == "" {
		return nil, event.NewValidation("user id is required")
	}

	current, err := e.repo.GetEvent(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	subs, err := e.openSubmissions(current, e.now())
	if err != nil {
		return nil, err
	}
	normalized, err := e.validator.Validate(ctx, name, userID, subs.Candidates)
	if err != nil {
		return nil, err
	}

	var res SubmitResult
	now := e.now()
	_, err = e.repo.UpdateEvent(ctx, tenantID, func(ev *event.TenantEvent) error {
		subs, err := e.openSubmissions(ev, now)
		if err != nil {
			return err
		}
		if err := validator.CheckClaimed(normalized, userID, subs.Candidates); err != nil {
			return err
		}

		c, replaced := subs.Candidates[userID]
		if !replaced {
			c = event.Candidate{ID: uuid.NewString(), SubmitterID: userID}
		}
		c.Name = normalized
		c.SubmittedAt = now
		subs.Candidates[userID] = c
		res = SubmitResult{Candidate: c, Replaced: replaced}
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.metrics.IncrementSubmitted()
	utils.ForTenant(e.logger, tenantID).Debug("Candidate submitted",
		zap.String("user", userID),
		zap.String("name", normalized),
		zap.Bool("replaced", res.Replaced))
	return &res, nil
}

func (e *Engine) openSubmissions(ev *event.TenantEvent, now time.Time) (*event.Submissions, error) {
	if ev.IsIdle() {
		return nil, event.NewNotFound("active event")
	}
	subs, ok := ev.Phase.(*event.Submissions)
	if !ok {
		return nil, event.NewConflict("submissions are not open")
	}
	if now.After(subs.EndTime) {
		return nil, event.NewConflict("submissions have closed")
	}
	return subs, nil
}

// Vote records voterID's choice. optionRef is a candidate ID or name; a
// later vote replaces an earlier one.
func (e *Engine) Vote(ctx context.Context, tenantID, voterID, optionRef string) (*event.Candidate, error) {
	if voterID == "" {
		return nil, event.NewValidation("user id is required")
	}
	ref := strings.TrimSpace(optionRef)

	var chosen event.Candidate
	now := e.now()
	_, err := e.repo.UpdateEvent(ctx, tenantID, func(ev *event.TenantEvent) error {
		if ev.IsIdle() {
			return event.NewNotFound("active event")
		}
		b, ok := event.BallotOf(ev.Phase)
		if !ok {
			return event.NewConflict("voting is not open")
		}
		if now.After(b.EndTime) {
			return event.NewConflict("voting has closed")
		}
		opt, ok := b.ResolveRef(ref)
		if !ok {
			return event.NewNotFound("option %q", ref)
		}
		if b.Submitter(opt) == voterID {
			return event.NewConflict("you can't vote for your own submission")
		}
		b.Votes[voterID] = opt.ID
		chosen = opt
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.metrics.IncrementVoted()
	return &chosen, nil
}

// Remove deletes a candidate by name. During a vote its ballots are
// discarded and every other vote keeps pointing at the same candidate.
func (e *Engine) Remove(ctx context.Context, tenantID, name, reason string) (*event.Candidate, error) {
	name = strings.TrimSpace(name)

	var removed event.Candidate
	_, err := e.repo.UpdateEvent(ctx, tenantID, func(ev *event.TenantEvent) error {
		switch ph := ev.Phase.(type) {
		case *event.Submissions:
			c, ok := ph.FindByName(name)
			if !ok {
				return event.NewNotFound("candidate %q", name)
			}
			delete(ph.Candidates, c.SubmitterID)
			removed = c
		case *event.Voting, *event.TieBreak:
			b, _ := event.BallotOf(ph)
			c, ok := b.RemoveOption(name)
			if !ok {
				return event.NewNotFound("candidate %q", name)
			}
			removed = c
		default:
			return event.NewNotFound("active event")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.reschedule(ctx, tenantID)
	utils.ForTenant(e.logger, tenantID).Info("Candidate removed",
		zap.String("name", removed.Name),
		zap.String("reason", reason))
	return &removed, nil
}

// reschedule re-arms from the stored record. A failed read leaves the old
// timer in place; the stamp check and the sweep cover it.
func (e *Engine) reschedule(ctx context.Context, tenantID string) {
	if err := e.sched.Reschedule(ctx, tenantID); err != nil {
		utils.ForTenant(e.logger, tenantID).Warn("Failed to reschedule deadline", zap.Error(err))
	}
}

// Extend moves the current deadline by minutes, which may be negative. The
// new deadline must be in the future.
func (e *Engine) Extend(ctx context.Context, tenantID string, minutes int) (*event.TenantEvent, error) {
	if minutes == 0 {
		return nil, event.NewValidation("minutes must not be zero")
	}
	if minutes > MaxMinutes || minutes < -MaxMinutes {
		return nil, event.NewValidation("minutes must be within ±%d", MaxMinutes)
	}

	now := e.now()
	ev, err := e.repo.UpdateEvent(ctx, tenantID, func(ev *event.TenantEvent) error {
		end, ok := ev.Phase.Deadline()
		if !ok {
			return event.NewNotFound("active event")
		}
		next := end.Add(time.Duration(minutes) * time.Minute)
		if !next.After(now) {
			return event.NewValidation("the new end time would be in the past")
		}
		ev.MoveDeadline(next)
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.reschedule(ctx, tenantID)
	end, _ := ev.Phase.Deadline()
	utils.ForTenant(e.logger, tenantID).Info("Deadline moved",
		zap.Int("minutes", minutes),
		zap.Time("endTime", end))
	e.announce(ctx, tenantID, extendText(minutes, end, now))
	return ev, nil
}

// Cancel discards the running event
func (e *Engine) Cancel(ctx context.Context, tenantID string) error {
	ev, err := e.repo.UpdateEvent(ctx, tenantID, func(ev *event.TenantEvent) error {
		if ev.IsIdle() {
			return event.NewNotFound("active event")
		}
		ev.Transition(event.Idle{})
		return nil
	})
	if err != nil {
		return err
	}

	e.sched.Arm(ev)
	e.metrics.IncrementCancelled()
	utils.ForTenant(e.logger, tenantID).Info("Naming event cancelled")
	e.announce(ctx, tenantID, cancelledText())
	return nil
}

// ForceEnd runs the deadline transition of the current phase now
func (e *Engine) ForceEnd(ctx context.Context, tenantID, reason string) (*event.TenantEvent, error) {
	start := e.clock.Now()
	now := e.now()

	var (
		from event.PhaseKind
		out  outcome
	)
	ev, err := e.repo.UpdateEvent(ctx, tenantID, func(ev *event.TenantEvent) error {
		if ev.IsIdle() {
			return event.NewNotFound("active event")
		}
		from = ev.Phase.Kind()
		out = e.closePhase(ev, now)
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.sched.Arm(ev)
	utils.ForTenant(e.logger, tenantID).Info("Phase ended early",
		zap.String("from", string(from)),
		zap.String("to", string(ev.Phase.Kind())),
		zap.String("reason", reason))
	e.announce(ctx, tenantID, forceEndText(from, reason))
	e.finish(ctx, tenantID, out, e.clock.Since(start))
	return ev, nil
}

// Advance performs the transition for an expired deadline. A stamp that no
// longer matches the stored record, or a deadline that has not passed,
// leaves the record untouched.
func (e *Engine) Advance(ctx context.Context, tenantID string, stamp event.Stamp) (*event.TenantEvent, bool, error) {
	start := e.clock.Now()
	now := e.now()

	var out outcome
	ev, err := e.repo.UpdateEvent(ctx, tenantID, func(ev *event.TenantEvent) error {
		if ev.IsIdle() || !ev.Stamp().Matches(stamp) {
			return errSuperseded
		}
		if end, _ := ev.Phase.Deadline(); now.Before(end) {
			return errSuperseded
		}
		out = e.closePhase(ev, now)
		return nil
	})
	if errors.Is(err, errSuperseded) {
		current, err := e.repo.GetEvent(ctx, tenantID)
		return current, false, err
	}
	if err != nil {
		return nil, false, err
	}

	utils.ForTenant(e.logger, tenantID).Info("Deadline reached",
		zap.String("from", string(stamp.Kind)),
		zap.String("to", string(ev.Phase.Kind())))
	e.finish(ctx, tenantID, out, e.clock.Since(start))
	return ev, true, nil
}

// outcome describes a closed phase for metrics and the announcement
type outcome struct {
	kind outcomeKind
	text string
}

type outcomeKind int

const (
	outcomeVotingOpened outcomeKind = iota
	outcomeEmpty
	outcomeTieBreak
	outcomeWinner
	outcomeNoWinner
)

// closePhase replaces the current phase with its successor
func (e *Engine) closePhase(ev *event.TenantEvent, now time.Time) outcome {
	switch ph := ev.Phase.(type) {
	case *event.Submissions:
		if len(ph.Candidates) == 0 {
			ev.Transition(event.Idle{})
			return outcome{kind: outcomeEmpty, text: noSubmissionsText(ph.Config.Location)}
		}
		snapshot := make(map[string]event.Candidate, len(ph.Candidates))
		for k, v := range ph.Candidates {
			snapshot[k] = v
		}
		voting := &event.Voting{Ballot: event.Ballot{
			EndTime:  deadline(now, ph.Config.VotingDuration),
			Options:  ph.Ordered(),
			Votes:    make(map[string]string),
			Snapshot: snapshot,
			Config:   ph.Config,
		}}
		ev.Transition(voting)
		return outcome{kind: outcomeVotingOpened, text: votingText(&voting.Ballot, now, e.cfg.Representatives)}

	case *event.Voting, *event.TieBreak:
		b, _ := event.BallotOf(ph)
		res := tally.Resolve(b)
		switch {
		case res.IsTie():
			tb := tally.NextTieBreak(b, res.Tied, now)
			ev.Transition(tb)
			return outcome{kind: outcomeTieBreak, text: tieBreakText(tb, now)}
		case res.Winner != nil:
			ev.Transition(event.Idle{})
			return outcome{kind: outcomeWinner, text: winnerText(b.Config.Location, res)}
		default:
			ev.Transition(event.Idle{})
			return outcome{kind: outcomeNoWinner, text: noWinnerText(b.Config.Location)}
		}
	}
	return outcome{kind: outcomeNoWinner}
}

func (e *Engine) finish(ctx context.Context, tenantID string, out outcome, latency time.Duration) {
	e.metrics.RecordTransition(latency)
	switch out.kind {
	case outcomeEmpty, outcomeNoWinner:
		e.metrics.IncrementEmpty()
	case outcomeTieBreak:
		e.metrics.IncrementTieBreaks()
	case outcomeWinner:
		e.metrics.IncrementResolved()
	}
	if out.text != "" {
		e.announce(ctx, tenantID, out.text)
	}
}

// announce is best effort: failures are logged, never returned
func (e *Engine) announce(ctx context.Context, tenantID, text string) {
	if err := e.notifier.Announce(ctx, tenantID, text); err != nil {
		utils.ForTenant(e.logger, tenantID).Warn("Announcement failed", zap.Error(err))
	}
}

// Summary is the public view of a tenant's event
type Summary struct {
	TenantID   string          `json:"tenant_id"`
	Phase      event.PhaseKind `json:"phase"`
	Location   string          `json:"location,omitempty"`
	EndTime    *time.Time      `json:"end_time,omitempty"`
	Round      int             `json:"round,omitempty"`
	Candidates int             `json:"candidates"`
	Votes      int             `json:"votes"`
	Text       string          `json:"text"`
}

// Status summarizes the tenant's event. Idle tenants are not an error.
func (e *Engine) Status(ctx context.Context, tenantID string) (*Summary, error) {
	ev, err := e.repo.GetEvent(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	s := &Summary{TenantID: tenantID, Phase: ev.Phase.Kind(), Text: statusText(ev, e.now())}
	if end, ok := ev.Phase.Deadline(); ok {
		s.EndTime = &end
	}
	switch ph := ev.Phase.(type) {
	case *event.Submissions:
		s.Location = ph.Config.Location
		s.Candidates = len(ph.Candidates)
	case *event.Voting, *event.TieBreak:
		b, _ := event.BallotOf(ph)
		s.Location = b.Config.Location
		s.Round = b.Round
		s.Candidates = len(b.Options)
		s.Votes = len(b.Votes)
	}
	return s, nil
}

// Tally is the administrator view of a running event
type Tally struct {
	TenantID   string            `json:"tenant_id"`
	Phase      event.PhaseKind   `json:"phase"`
	EndTime    time.Time         `json:"end_time"`
	Round      int               `json:"round"`
	Candidates []event.Candidate `json:"candidates,omitempty"`
	Counts     []tally.Count     `json:"counts,omitempty"`
	TotalVotes int               `json:"total_votes"`
}

// List returns the submissions, or the ranked vote counts once voting has
// started.
func (e *Engine) List(ctx context.Context, tenantID string) (*Tally, error) {
	ev, err := e.repo.GetEvent(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	end, ok := ev.Phase.Deadline()
	if !ok {
		return nil, event.NewNotFound("active event")
	}

	t := &Tally{TenantID: tenantID, Phase: ev.Phase.Kind(), EndTime: end}
	switch ph := ev.Phase.(type) {
	case *event.Submissions:
		t.Candidates = ph.Ordered()
	case *event.Voting, *event.TieBreak:
		b, _ := event.BallotOf(ph)
		t.Round = b.Round
		t.Counts = tally.Ranked(tally.Counts(b))
		for _, c := range t.Counts {
			t.TotalVotes += c.Votes
		}
	}
	return t, nil
}

// SetDestination stores where the tenant's announcements go
func (e *Engine) SetDestination(ctx context.Context, dest data.Destination) error {
	dest.ChannelID = strings.TrimSpace(dest.ChannelID)
	dest.RoleID = strings.TrimSpace(dest.RoleID)
	if dest.TenantID == "" || dest.ChannelID == "" || dest.RoleID == "" {
		return event.NewValidation("tenant, channel and role are required")
	}
	if dest.WebhookURL != "" {
		u, err := url.Parse(dest.WebhookURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return event.NewValidation("webhook url must be an http(s) URL")
		}
	}
	if err := e.repo.SaveDestination(ctx, &dest); err != nil {
		return event.NewPersistence("save destination", err)
	}
	utils.ForTenant(e.logger, dest.TenantID).Info("Destination updated",
		zap.String("channel", dest.ChannelID),
		zap.String("role", dest.RoleID))
	return nil
}

// ActiveTenants lists tenants with a running event
func (e *Engine) ActiveTenants(ctx context.Context) ([]string, error) {
	events, err := e.repo.ListActiveEvents(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing active events: %w", err)
	}
	out := make([]string, len(events))
	for i, ev := range events {
		out[i] = ev.TenantID
	}
	return out, nil
}
