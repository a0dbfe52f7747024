package data

import (
	"context"
	"errors"
	"time"

	"naming_events/pkg/event"
)

var (
	ErrNotFound = errors.New("record not found")
	ErrClosed   = errors.New("repository closed")
)

// UpdateFunc mutates a tenant record in place. Returning an error aborts
// the update and nothing is written.
type UpdateFunc func(ev *event.TenantEvent) error

// Repository is the durable per-tenant event store. Implementations must
// make UpdateEvent atomic per tenant and must never expose a partially
// written record. Store failures come back as *event.PersistenceError.
type Repository interface {
	// GetEvent returns the tenant's record, or an Idle record if none exists.
	GetEvent(ctx context.Context, tenantID string) (*event.TenantEvent, error)
	// SaveEvent upserts the full record.
	SaveEvent(ctx context.Context, ev *event.TenantEvent) error
	// UpdateEvent runs fn against the current record and persists the result.
	UpdateEvent(ctx context.Context, tenantID string, fn UpdateFunc) (*event.TenantEvent, error)
	// ListActiveEvents returns every record that is not Idle.
	ListActiveEvents(ctx context.Context) ([]*event.TenantEvent, error)

	GetDestination(ctx context.Context, tenantID string) (*Destination, error)
	SaveDestination(ctx context.Context, dest *Destination) error

	Ping(ctx context.Context) error
	Close() error
}

// Destination is where announcements for a tenant are delivered
type Destination struct {
	TenantID   string    `json:"tenant_id" yaml:"tenant_id"`
	ChannelID  string    `json:"channel_id" yaml:"channel_id"`
	RoleID     string    `json:"role_id" yaml:"role_id"`
	WebhookURL string    `json:"webhook_url,omitempty" yaml:"webhook_url"`
	UpdatedAt  time.Time `json:"updated_at" yaml:"-"`
}

// Configured reports whether both the channel and the role are set
func (d *Destination) Configured() bool {
	return d != nil && d.ChannelID != "" && d.RoleID != ""
}

// runUpdate applies fn to a decoded record and re-encodes it. Shared by the
// SQL backends.
func runUpdate(tenantID string, raw []byte, fn UpdateFunc) (*event.TenantEvent, []byte, error) {
	ev := event.NewIdle(tenantID)
	if raw != nil {
		decoded, err := event.Unmarshal(tenantID, raw)
		if err != nil {
			return nil, nil, event.NewPersistence("decode event", err)
		}
		ev = decoded
	}
	if err := fn(ev); err != nil {
		return nil, nil, err
	}
	ev.UpdatedAt = time.Now().UTC()
	encoded, err := event.Marshal(ev)
	if err != nil {
		return nil, nil, event.NewPersistence("encode event", err)
	}
	return ev, encoded, nil
}

// endTimeColumn is the indexed copy of the deadline, NULL when Idle
func endTimeColumn(ev *event.TenantEvent) *int64 {
	end, ok := ev.Phase.Deadline()
	if !ok {
		return nil
	}
	unix := end.Unix()
	return &unix
}
