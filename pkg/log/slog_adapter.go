package log

import (
	"context"
	"log/slog"
)

// SlogAdapter writes engine events to an slog.Logger.
// Useful for development when you want to see engine events in console.
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
		slog.String("node", event.NodeID),
		slog.String("category", event.Category.String()),
	}

	if event.Role != "" {
		attrs = append(attrs, slog.String("role", event.Role))
	}

	// Add type-specific attributes
	switch {
	case event.Message != nil:
		attrs = append(attrs,
			slog.String("direction", event.Message.Direction.String()),
			slog.String("msg_type", event.Message.Type),
		)
		if event.Message.Peer != 0 {
			attrs = append(attrs, slog.Uint64("peer", uint64(event.Message.Peer)))
		}
		if event.Message.Size != 0 {
			attrs = append(attrs, slog.Int("size", event.Message.Size))
		}
	case event.StateChange != nil:
		attrs = append(attrs,
			slog.String("entity", event.StateChange.Entity.String()),
			slog.String("old_state", event.StateChange.OldState),
			slog.String("new_state", event.StateChange.NewState),
		)
		if event.StateChange.Reason != "" {
			attrs = append(attrs, slog.String("reason", event.StateChange.Reason))
		}
	case event.Scan != nil:
		attrs = append(attrs,
			slog.Uint64("channels", uint64(event.Scan.Channels)),
			slog.Int("results", event.Scan.Results),
		)
		if event.Scan.Cancelled {
			attrs = append(attrs, slog.Bool("cancelled", true))
		}
	case event.Error != nil:
		attrs = append(attrs,
			slog.String("error_msg", event.Error.Message),
			slog.String("error_context", event.Error.Context),
		)
	}

	a.logger.LogAttrs(context.Background(), slog.LevelDebug, "wisp", attrs...)
}

// Compile-time interface satisfaction check.
var _ Logger = (*SlogAdapter)(nil)
