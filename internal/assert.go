package internal

import (
	"context"

	"github.com/facebookincubator/go-belt/tool/logger"
)

// Assert panics through the logger (so the violation is logged before the
// panic unwinds) if the invariant does not hold.
func Assert(
	ctx context.Context,
	invariant bool,
	details ...any,
) {
	if invariant {
		return
	}
	if len(details) == 0 {
		logger.Panic(ctx, "invariant violated")
		return
	}
	logger.Panic(ctx, append([]any{"invariant violated: "}, details...)...)
}
