package resolver

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"policy-orchestrator/internal/common/logger"
	"policy-orchestrator/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubSearcher struct {
	mu         sync.Mutex
	candidates map[models.EntityKind][]models.EntityCandidate
	calls      int
	err        error
}

func (s *stubSearcher) SearchEntity(_ context.Context, kind models.EntityKind, _ string) ([]models.EntityCandidate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.candidates[kind], nil
}

func (s *stubSearcher) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "RUBY'S NURSING CARE LLC", Normalize("  Ruby's   Nursing\tCare llc "))
	assert.Equal(t, "", Normalize("   "))
}

func TestScore(t *testing.T) {
	tests := []struct {
		name          string
		query         string
		candidate     string
		lastNameMatch bool
		want          float64
	}{
		{"exact after normalization", "Ruby's Nursing Care LLC", "RUBY'S NURSING CARE LLC", false, 1.0},
		{"containment", "Acme", "ACME INSURANCE AGENCY", false, 0.9},
		{"boosted overlap", "Blue Ridge Roofing Inc", "BLUE RIDGE ROOFING COMPANY", false, 0.9},
		{"weak overlap not boosted", "Smith Family Trust Holdings", "JOHN SMITH", false, 0.2},
		{"edit distance generic", "Jon Smyth", "JOHN SMITH", false, 0.48},
		{"edit distance last name", "Jon Smyth", "JOHN SMITH", true, 0.64},
		{"empty query", "", "ANYTHING", false, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, Score(tt.query, tt.candidate, tt.lastNameMatch), 1e-9)
		})
	}
}

func TestScore_OverlapIsCapped(t *testing.T) {
	// 4 of 5 tokens shared: 0.8 * 1.5 would exceed the cap.
	got := Score("North Star Home Care", "NORTH STAR HOME CARE SERVICES EAST", false)
	assert.InDelta(t, 0.9, got, 1e-9, "containment wins before overlap")

	got = Score("North Star Home Care Group", "NORTH STAR HOME CARE SERVICES", false)
	assert.InDelta(t, 0.95, got, 1e-9)
}

func TestDecide(t *testing.T) {
	assert.Equal(t, Confident, Decide(1.0))
	assert.Equal(t, Confident, Decide(0.8))
	assert.Equal(t, Ambiguous, Decide(0.79))
	assert.Equal(t, Ambiguous, Decide(0.6))
	assert.Equal(t, NotFound, Decide(0.59))
}

func TestDecide_ThresholdMonotonicity(t *testing.T) {
	for i := 0; i <= 100; i++ {
		for j := 0; j < i; j++ {
			s1, s2 := float64(i)/100, float64(j)/100
			if Decide(s2) != NotFound {
				assert.NotEqual(t, NotFound, Decide(s1), "s1=%.2f s2=%.2f", s1, s2)
			}
			assert.GreaterOrEqual(t, int(Decide(s1)), int(Decide(s2)))
		}
	}
}

func TestBest_PicksHighestAndKeepsScore(t *testing.T) {
	candidates := []models.EntityCandidate{
		{BackendID: "1", DisplayName: "JOHN SMITH"},
		{BackendID: "2", DisplayName: "RUBY'S NURSING CARE LLC"},
		{BackendID: "3", DisplayName: "RUBY'S NURSING"},
	}
	m := Best("Ruby's Nursing Care LLC", "", candidates)
	assert.Equal(t, Confident, m.Decision)
	assert.Equal(t, "2", m.Candidate.BackendID)
	assert.Equal(t, 1.0, m.Candidate.Score)

	assert.Equal(t, NotFound, Best("anything", "", nil).Decision)
}

func TestResolver_ExactMatchFound(t *testing.T) {
	s := &stubSearcher{candidates: map[models.EntityKind][]models.EntityCandidate{
		models.EntityInsured: {{BackendID: "INS-42", DisplayName: "RUBY'S NURSING CARE LLC"}},
	}}
	r := New(s, nil, time.Minute, logger.NewTestLogger(t))

	m, err := r.Resolve(context.Background(), models.EntityInsured, "Ruby's Nursing Care LLC", "")
	require.NoError(t, err)
	assert.True(t, m.Found())
	assert.Equal(t, Confident, m.Decision)
	assert.Equal(t, "INS-42", m.Candidate.BackendID)
}

func TestResolver_LastNameHintLiftsToAmbiguous(t *testing.T) {
	s := &stubSearcher{candidates: map[models.EntityKind][]models.EntityCandidate{
		models.EntityProducer: {{BackendID: "P-1", DisplayName: "JOHN SMITH", LastName: "Smith"}},
	}}
	r := New(s, nil, time.Minute, logger.NewNoOpLogger())

	m, err := r.Resolve(context.Background(), models.EntityProducer, "Jon Smyth", "")
	require.NoError(t, err)
	assert.False(t, m.Found())

	m, err = r.Resolve(context.Background(), models.EntityProducer, "Jon Smyth", "smith")
	require.NoError(t, err)
	assert.True(t, m.Found())
	assert.Equal(t, Ambiguous, m.Decision)
}

func TestResolver_SearchErrorPropagates(t *testing.T) {
	boom := errors.New("connection reset")
	r := New(&stubSearcher{err: boom}, nil, time.Minute, logger.NewNoOpLogger())

	_, err := r.Resolve(context.Background(), models.EntityInsured, "Acme", "")
	assert.ErrorIs(t, err, boom)
}

func TestResolver_BlankQueryNeverSearches(t *testing.T) {
	s := &stubSearcher{}
	r := New(s, nil, time.Minute, logger.NewNoOpLogger())

	m, err := r.Resolve(context.Background(), models.EntityUnderwriter, "  ", "")
	require.NoError(t, err)
	assert.False(t, m.Found())
	assert.Equal(t, 0, s.callCount())
}

func TestResolver_RedisCacheAvoidsSecondSearch(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	s := &stubSearcher{candidates: map[models.EntityKind][]models.EntityCandidate{
		models.EntityInsured: {{BackendID: "INS-1", DisplayName: "ACME ROOFING"}},
	}}
	r := New(s, NewRedisCache(client), time.Minute, logger.NewNoOpLogger())
	ctx := context.Background()

	_, err := r.Resolve(ctx, models.EntityInsured, "Acme Roofing", "")
	require.NoError(t, err)
	m, err := r.Resolve(ctx, models.EntityInsured, "  acme   roofing", "")
	require.NoError(t, err)

	assert.Equal(t, 1, s.callCount())
	assert.Equal(t, "INS-1", m.Candidate.BackendID)
	assert.True(t, mr.Exists("resolver:insured:ACME ROOFING"))

	mr.FastForward(2 * time.Minute)
	_, err = r.Resolve(ctx, models.EntityInsured, "Acme Roofing", "")
	require.NoError(t, err)
	assert.Equal(t, 2, s.callCount())
}

func TestResolver_ForgetDropsCachedCandidates(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	s := &stubSearcher{candidates: map[models.EntityKind][]models.EntityCandidate{}}
	r := New(s, NewRedisCache(client), time.Minute, logger.NewNoOpLogger())
	ctx := context.Background()

	m, err := r.Resolve(ctx, models.EntityInsured, "Acme Roofing", "")
	require.NoError(t, err)
	assert.False(t, m.Found())
	require.True(t, mr.Exists("resolver:insured:ACME ROOFING"))

	s.mu.Lock()
	s.candidates[models.EntityInsured] = []models.EntityCandidate{{BackendID: "INS-7", DisplayName: "Acme Roofing"}}
	s.mu.Unlock()
	r.Forget(ctx, models.EntityInsured, "acme roofing")
	assert.False(t, mr.Exists("resolver:insured:ACME ROOFING"))

	m, err = r.Resolve(ctx, models.EntityInsured, "Acme Roofing", "")
	require.NoError(t, err)
	assert.True(t, m.Found())
	assert.Equal(t, "INS-7", m.Candidate.BackendID)
	assert.Equal(t, 2, s.callCount())
}

func TestResolver_CacheOutageFallsBackToSearch(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer client.Close()
	mr.Close()

	s := &stubSearcher{candidates: map[models.EntityKind][]models.EntityCandidate{
		models.EntityInsured: {{BackendID: "INS-1", DisplayName: "ACME ROOFING"}},
	}}
	r := New(s, NewRedisCache(client), time.Minute, logger.NewNoOpLogger())

	m, err := r.Resolve(context.Background(), models.EntityInsured, "Acme Roofing", "")
	require.NoError(t, err)
	assert.True(t, m.Found())
	assert.Equal(t, 1, s.callCount())
}

func TestMemoryCache_EvictsWhenFull(t *testing.T) {
	c := NewMemoryCache(1)
	ctx := context.Background()
	require.NoError(t, c.Set(ctx, "a", []models.EntityCandidate{{BackendID: "1"}}, 0))
	require.NoError(t, c.Set(ctx, "b", []models.EntityCandidate{{BackendID: "2"}}, 0))

	_, okA, _ := c.Get(ctx, "a")
	got, okB, _ := c.Get(ctx, "b")
	assert.False(t, okA)
	assert.True(t, okB)
	assert.Equal(t, "2", got[0].BackendID)
}

func TestMemoryCache_Delete(t *testing.T) {
	c := NewMemoryCache(0)
	ctx := context.Background()
	require.NoError(t, c.Set(ctx, "a", []models.EntityCandidate{{BackendID: "1"}}, time.Minute))
	require.NoError(t, c.Delete(ctx, "a"))
	require.NoError(t, c.Delete(ctx, "missing"))

	_, ok, err := c.Get(ctx, "a")
	require.NoError(t, err)
	assert.False(t, ok)
}
