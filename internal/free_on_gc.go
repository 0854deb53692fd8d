package internal

import (
	"context"
	"runtime"

	"github.com/facebookincubator/go-belt/tool/logger"
)

// FreeOnGC frees a native object once it becomes unreachable. It is meant
// for objects which are not owned by any transform and so are never
// released by a Close.
func FreeOnGC[T interface{ Free() }](
	ctx context.Context,
	obj T,
) {
	runtime.SetFinalizer(obj, func(obj T) {
		logger.Tracef(ctx, "freeing %T", obj)
		obj.Free()
	})
}
