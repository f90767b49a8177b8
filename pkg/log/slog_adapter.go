package log

import (
	"context"
	"log/slog"
)

// SlogAdapter writes trace events to an slog.Logger.
// Useful for development when you want to see the trace in the console.
type SlogAdapter struct {
	logger *slog.Logger
}

// NewSlogAdapter creates a new SlogAdapter that writes to the given slog.Logger.
func NewSlogAdapter(logger *slog.Logger) *SlogAdapter {
	return &SlogAdapter{logger: logger}
}

// Log writes the event to the slog logger at Debug level.
func (a *SlogAdapter) Log(event Event) {
	attrs := []slog.Attr{
		slog.String("category", event.Category.String()),
	}

	if event.RunID != "" {
		attrs = append(attrs, slog.String("run_id", event.RunID))
	}
	if event.State != "" {
		attrs = append(attrs, slog.String("state", event.State))
	}
	if event.NodeID != "" {
		attrs = append(attrs, slog.String("node_id", event.NodeID))
	}

	switch {
	case event.Transition != nil:
		attrs = append(attrs,
			slog.String("from", event.Transition.From),
			slog.String("to", event.Transition.To),
			slog.String("event", event.Transition.Event),
		)
		if event.Transition.Tolerated {
			attrs = append(attrs, slog.Bool("tolerated", true))
		}
		if event.Transition.Reason != "" {
			attrs = append(attrs, slog.String("reason", event.Transition.Reason))
		}
	case event.Dropped != nil:
		attrs = append(attrs,
			slog.String("event", event.Dropped.Event),
			slog.String("reason", event.Dropped.Reason.String()),
		)
	case event.Timer != nil:
		attrs = append(attrs,
			slog.String("timer", event.Timer.Action.String()),
			slog.Uint64("generation", event.Timer.Generation),
		)
		if event.Timer.Duration > 0 {
			attrs = append(attrs, slog.Duration("duration", event.Timer.Duration))
		}
	case event.Completion != nil:
		attrs = append(attrs,
			slog.String("outcome", event.Completion.Outcome.String()),
			slog.Duration("elapsed", event.Completion.Elapsed),
		)
		if event.Completion.Cause != "" {
			attrs = append(attrs, slog.String("cause", event.Completion.Cause))
		}
	case event.Exchange != nil:
		attrs = append(attrs,
			slog.String("command", event.Exchange.Command),
			slog.String("status", event.Exchange.Status),
			slog.Duration("rtt", event.Exchange.Duration),
		)
		if event.Exchange.Peer != "" {
			attrs = append(attrs, slog.String("peer", event.Exchange.Peer))
		}
	case event.Error != nil:
		attrs = append(attrs,
			slog.String("error_msg", event.Error.Message),
			slog.String("error_context", event.Error.Context),
		)
	}

	a.logger.LogAttrs(context.Background(), slog.LevelDebug, "trace", attrs...)
}

// Compile-time interface satisfaction check.
var _ Logger = (*SlogAdapter)(nil)
