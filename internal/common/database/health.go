package database

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"
)

// Pinger is a dependency that can report its own reachability.
type Pinger interface {
	Name() string
	Ping(ctx context.Context) error
}

// CheckAll pings every dependency concurrently, each bounded by timeout, and
// returns the failures keyed by name.
func CheckAll(ctx context.Context, timeout time.Duration, deps ...Pinger) map[string]error {
	failures := make([]error, len(deps))
	var g errgroup.Group
	for i, dep := range deps {
		i, dep := i, dep
		g.Go(func() error {
			pctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			failures[i] = dep.Ping(pctx)
			return nil
		})
	}
	_ = g.Wait()

	out := make(map[string]error)
	for i, err := range failures {
		if err != nil {
			out[deps[i].Name()] = err
		}
	}
	return out
}
