package event

import (
	"encoding/json"
	"fmt"
	"time"
)

// record is the serialized form of a TenantEvent. Deadlines are stored as
// epoch seconds.
type record struct {
	Kind       PhaseKind            `json:"kind"`
	Generation uint64               `json:"generation"`
	EndTime    int64                `json:"end_time,omitempty"`
	Candidates map[string]Candidate `json:"candidates,omitempty"`
	Options    []Candidate          `json:"options,omitempty"`
	Votes      map[string]string    `json:"votes,omitempty"`
	Snapshot   map[string]Candidate `json:"submissions_snapshot,omitempty"`
	Round      int                  `json:"round,omitempty"`
	Config     *RoundConfig         `json:"config,omitempty"`
}

// Marshal encodes the phase and generation of e
func Marshal(e *TenantEvent) ([]byte, error) {
	rec := record{Kind: e.Phase.Kind(), Generation: e.Generation}
	switch ph := e.Phase.(type) {
	case Idle:
	case *Submissions:
		rec.EndTime = ph.EndTime.Unix()
		rec.Candidates = ph.Candidates
		rec.Config = &ph.Config
	case *Voting:
		fillBallot(&rec, &ph.Ballot)
	case *TieBreak:
		fillBallot(&rec, &ph.Ballot)
	default:
		return nil, fmt.Errorf("unknown phase %T", e.Phase)
	}
	return json.Marshal(rec)
}

func fillBallot(rec *record, b *Ballot) {
	rec.EndTime = b.EndTime.Unix()
	rec.Options = b.Options
	rec.Votes = b.Votes
	rec.Snapshot = b.Snapshot
	rec.Round = b.Round
	rec.Config = &b.Config
}

// Unmarshal decodes a record written by Marshal
func Unmarshal(tenantID string, raw []byte) (*TenantEvent, error) {
	var rec record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("decoding event record: %w", err)
	}

	ev := &TenantEvent{TenantID: tenantID, Generation: rec.Generation}
	end := time.Unix(rec.EndTime, 0).UTC()
	cfg := RoundConfig{}
	if rec.Config != nil {
		cfg = *rec.Config
	}

	switch rec.Kind {
	case KindIdle, "":
		ev.Phase = Idle{}
	case KindSubmissions:
		candidates := rec.Candidates
		if candidates == nil {
			candidates = make(map[string]Candidate)
		}
		ev.Phase = &Submissions{EndTime: end, Candidates: candidates, Config: cfg}
	case KindVoting, KindTieBreak:
		b := Ballot{
			EndTime:  end,
			Options:  rec.Options,
			Votes:    rec.Votes,
			Snapshot: rec.Snapshot,
			Round:    rec.Round,
			Config:   cfg,
		}
		if b.Votes == nil {
			b.Votes = make(map[string]string)
		}
		if b.Snapshot == nil {
			b.Snapshot = make(map[string]Candidate)
		}
		if rec.Kind == KindVoting {
			ev.Phase = &Voting{Ballot: b}
		} else {
			ev.Phase = &TieBreak{Ballot: b}
		}
	default:
		return nil, fmt.Errorf("unknown phase kind %q", rec.Kind)
	}
	return ev, nil
}
