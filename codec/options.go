package codec

import "log/slog"

// DefaultMaxDepth is the message nesting limit used when Options.MaxDepth is zero.
const DefaultMaxDepth = 100

// Options configures a Reader or Writer. The zero value is ready to use.
type Options struct {
	// MaxDepth bounds message nesting when reading. Zero means
	// DefaultMaxDepth; a negative value disables the check.
	MaxDepth int

	// RequireInitialized makes the Reader fail with a Semantic error when a
	// message lacks a required field.
	RequireInitialized bool

	// Logger receives debug records for skipped unknown fields and fields
	// cleared by null. Nil discards them.
	Logger *slog.Logger
}

func (o Options) maxDepth() int {
	if o.MaxDepth == 0 {
		return DefaultMaxDepth
	}
	return o.MaxDepth
}

func (o Options) debug(msg string, args ...any) {
	if o.Logger != nil {
		o.Logger.Debug(msg, args...)
	}
}
