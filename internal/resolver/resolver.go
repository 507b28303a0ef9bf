// Package resolver matches free-text names from partner payloads to records
// already known to the backend.
package resolver

import (
	"context"
	"fmt"
	"time"

	"policy-orchestrator/internal/common/logger"
	"policy-orchestrator/internal/common/metrics"
	"policy-orchestrator/internal/models"

	"golang.org/x/sync/singleflight"
)

// Searcher lists the candidate universe for one kind of entity.
type Searcher interface {
	SearchEntity(ctx context.Context, kind models.EntityKind, query string) ([]models.EntityCandidate, error)
}

// Match is the best candidate found for a query.
type Match struct {
	Candidate models.EntityCandidate
	Decision  Decision
}

// Found reports whether the candidate may be used.
func (m Match) Found() bool {
	return m.Decision != NotFound
}

// Resolver scores backend candidates against a query name.
type Resolver struct {
	searcher Searcher
	cache    Cache
	cacheTTL time.Duration
	group    singleflight.Group
	logger   logger.Logger
}

// New builds a resolver. cache may be nil.
func New(searcher Searcher, cache Cache, cacheTTL time.Duration, log logger.Logger) *Resolver {
	return &Resolver{
		searcher: searcher,
		cache:    cache,
		cacheTTL: cacheTTL,
		logger:   log.WithFields(map[string]interface{}{"component": "resolver"}),
	}
}

// Resolve searches kind for query and returns the best scoring candidate.
// lastName, when set, enables the milder edit-distance scaling for candidates
// sharing that last name.
func (r *Resolver) Resolve(ctx context.Context, kind models.EntityKind, query, lastName string) (Match, error) {
	if Normalize(query) == "" {
		return Match{Decision: NotFound}, nil
	}

	candidates, err := r.candidates(ctx, kind, query)
	if err != nil {
		return Match{}, err
	}

	best := Best(query, lastName, candidates)
	metrics.ResolverDecisions.WithLabelValues(string(kind), best.Decision.String()).Inc()

	r.logger.Debug("entity resolved", map[string]interface{}{
		"kind":       kind,
		"query":      query,
		"candidates": len(candidates),
		"decision":   best.Decision.String(),
		"score":      best.Candidate.Score,
	})
	return best, nil
}

// Forget drops the cached candidates for query so the next lookup sees an
// entity created since they were cached.
func (r *Resolver) Forget(ctx context.Context, kind models.EntityKind, query string) {
	if r.cache == nil || Normalize(query) == "" {
		return
	}
	key := cacheKey(kind, query)
	r.group.Forget(key)
	if err := r.cache.Delete(ctx, key); err != nil {
		r.logger.Warn("resolver cache delete failed", map[string]interface{}{"key": key, "error": err.Error()})
	}
}

// Best scores every candidate and keeps the highest. Ties go to the earlier
// candidate so results are stable for a given backend ordering.
func Best(query, lastName string, candidates []models.EntityCandidate) Match {
	normLast := Normalize(lastName)
	best := Match{Decision: NotFound}
	bestScore := -1.0

	for _, c := range candidates {
		lastNameMatch := normLast != "" && Normalize(c.LastName) == normLast
		score := Score(query, c.DisplayName, lastNameMatch)
		if score > bestScore {
			bestScore = score
			c.Score = score
			best.Candidate = c
		}
	}
	if bestScore < 0 {
		return Match{Decision: NotFound}
	}
	best.Decision = Decide(bestScore)
	return best
}

func cacheKey(kind models.EntityKind, query string) string {
	return fmt.Sprintf("resolver:%s:%s", kind, Normalize(query))
}

// candidates loads the candidate universe, collapsing identical concurrent
// lookups and consulting the cache first.
func (r *Resolver) candidates(ctx context.Context, kind models.EntityKind, query string) ([]models.EntityCandidate, error) {
	key := cacheKey(kind, query)

	v, err, _ := r.group.Do(key, func() (interface{}, error) {
		if r.cache != nil {
			cached, ok, err := r.cache.Get(ctx, key)
			if err != nil {
				r.logger.Warn("resolver cache read failed", map[string]interface{}{"key": key, "error": err.Error()})
			} else if ok {
				return cached, nil
			}
		}

		found, err := r.searcher.SearchEntity(ctx, kind, query)
		if err != nil {
			return nil, err
		}

		if r.cache != nil {
			if err := r.cache.Set(ctx, key, found, r.cacheTTL); err != nil {
				r.logger.Warn("resolver cache write failed", map[string]interface{}{"key": key, "error": err.Error()})
			}
		}
		return found, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]models.EntityCandidate), nil
}
