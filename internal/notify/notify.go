// Package notify delivers sync pass summaries and progress events to the
// user interface.
package notify

import (
	"context"
	"errors"

	"github.com/cbotelho/reurb-coleta-dados-p1swk2ke1-sub001/internal/logging"
	syncpkg "github.com/cbotelho/reurb-coleta-dados-p1swk2ke1-sub001/internal/sync"
)

// LogNotifier writes notifications to the structured log.
type LogNotifier struct{}

// Notify logs n at a level matching its severity.
func (LogNotifier) Notify(ctx context.Context, n syncpkg.Notification) error {
	fields := map[string]interface{}{
		"severity":  string(n.Severity),
		"title":     n.Title,
		"succeeded": n.Succeeded,
		"failed":    n.Failed,
		"deferred":  n.Deferred,
	}
	switch n.Severity {
	case syncpkg.SeverityError:
		logging.Warn(n.Message, fields)
	default:
		logging.Info(n.Message, fields)
	}
	return nil
}

// Multi fans a notification out to several sinks. Every sink is tried;
// failures are logged and joined.
type Multi []syncpkg.Notifier

// Notify delivers n to every sink.
func (m Multi) Notify(ctx context.Context, n syncpkg.Notification) error {
	var errs []error
	for _, sink := range m {
		if sink == nil {
			continue
		}
		if err := sink.Notify(ctx, n); err != nil {
			logging.Warn("notification sink failed", map[string]interface{}{"error": err.Error()})
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
