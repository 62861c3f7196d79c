package worker

import (
	"context"

	audit "safemodel/pkg/platform/audit"
)

// Appender is the write side of an audit store.
type Appender interface {
	Append(ctx context.Context, event audit.Event) error
}

// Worker consumes audit events from a channel and persists them. Run
// returns when the inbox is closed and drained, the context is cancelled,
// or an append fails.
type Worker struct {
	store Appender
	inbox <-chan audit.Event
}

func NewWorker(store Appender, inbox <-chan audit.Event) *Worker {
	return &Worker{store: store, inbox: inbox}
}

func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-w.inbox:
			if !ok {
				return nil
			}
			if err := w.store.Append(ctx, event); err != nil {
				return err
			}
		}
	}
}
