package rolluphttp

import (
	"context"

	"golang.org/x/sync/singleflight"
)

var computeGroup singleflight.Group

func singleflightRun(ctx context.Context, key string, fn func(context.Context) (any, error)) (any, error, bool) {
	resultChan := computeGroup.DoChan(key, func() (any, error) {
		return fn(ctx)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err(), false
	case res := <-resultChan:
		return res.Val, res.Err, res.Shared
	}
}
