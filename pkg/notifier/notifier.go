// Package notifier delivers announcements. Delivery is best effort: event
// state never depends on whether an announcement arrived.
package notifier

import (
	"context"
	"errors"

	"go.uber.org/zap"
)

// Notifier posts a human-readable announcement for a tenant
type Notifier interface {
	Announce(ctx context.Context, tenantID, text string) error
}

// LogNotifier writes announcements to the log
type LogNotifier struct {
	logger *zap.Logger
}

func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Announce(ctx context.Context, tenantID, text string) error {
	n.logger.Info("Announcement",
		zap.String("tenant", tenantID),
		zap.String("text", text))
	return nil
}

// Fanout sends every announcement to all notifiers
type Fanout []Notifier

func (f Fanout) Announce(ctx context.Context, tenantID, text string) error {
	var errs []error
	for _, n := range f {
		if err := n.Announce(ctx, tenantID, text); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
