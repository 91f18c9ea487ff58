// Package discovery builds candidate lists from the connection graph: a degree-range
// pool, per-candidate degree annotation, then preference filters.
package discovery

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"circl/backend/internal/graph"
	"circl/backend/internal/metrics"
	apperrors "circl/backend/pkg/errors"
	"circl/backend/pkg/logger"
)

// Store is the part of the relationship store discovery reads from
type Store interface {
	QueryDegreeRange(ctx context.Context, userID string, minDegree, maxDegree, limit int) ([]graph.Candidate, error)
	ShortestPathDegree(ctx context.Context, idA, idB string, maxDegree int) (*int, error)
	InteractedIDs(ctx context.Context, userID string) (graph.Interactions, error)
}

// PoolCache caches raw degree-range pools per graph generation. Stores advance
// the generation on every write, so a pool is served only while it is current.
type PoolCache interface {
	Generation(ctx context.Context) (int64, error)
	GetPool(ctx context.Context, generation int64, userID string, minDegree, maxDegree, limit int) ([]graph.Candidate, bool, error)
	SetPool(ctx context.Context, generation int64, userID string, minDegree, maxDegree, limit int, candidates []graph.Candidate) error
}

// Options configures a Service
type Options struct {
	DefaultDegree     int
	MaxSearchDegree   int
	DegreeConcurrency int
	ExcludeLiked      bool
	ExcludeMatched    bool

	// Cache is optional
	Cache PoolCache
	// Fallback is consulted when the store cannot produce a pool. Optional.
	Fallback Store
	Logger   *zap.Logger
	Now      func() time.Time
}

// Query is a candidate search for one user
type Query struct {
	UserID      string
	MinDegree   int
	MaxDegree   int
	Limit       int
	Preferences graph.Preferences
}

// CandidateFailure records a degree lookup that fell back to the default degree
type CandidateFailure struct {
	CandidateID string `json:"candidate_id"`
	Error       string `json:"error"`
}

// Result is the outcome of a search. A degraded result still carries whatever could
// be computed.
type Result struct {
	Candidates []graph.Candidate  `json:"candidates"`
	Degraded   bool               `json:"degraded"`
	Error      string             `json:"error,omitempty"`
	Failures   []CandidateFailure `json:"failures,omitempty"`
}

// Service finds match candidates
type Service struct {
	store Store
	opts  Options
}

// NewService creates a discovery service over store
func NewService(store Store, opts Options) *Service {
	if opts.DefaultDegree <= 0 {
		opts.DefaultDegree = 2
	}
	if opts.MaxSearchDegree <= 0 {
		opts.MaxSearchDegree = graph.DefaultMaxConnectionDegree
	}
	if opts.DegreeConcurrency <= 0 {
		opts.DegreeConcurrency = 8
	}
	if opts.Logger == nil {
		opts.Logger = logger.Named("discovery")
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Service{store: store, opts: opts}
}

// FindCandidates returns candidates in store order (ascending degree), annotated with
// their degree and filtered by q.Preferences. Store failures degrade the result rather
// than fail it; only invalid queries return an error.
func (s *Service) FindCandidates(ctx context.Context, q Query) (*Result, error) {
	if err := validateQuery(q); err != nil {
		return nil, err
	}
	log := s.opts.Logger.With(zap.String("user_id", q.UserID))

	maxDegree := q.MaxDegree
	if limit := q.Preferences.MaxConnectionDegree; limit > 0 && limit < maxDegree {
		maxDegree = limit
	}
	result := &Result{Candidates: []graph.Candidate{}}
	if maxDegree < q.MinDegree {
		metrics.CandidatesReturned(0)
		return result, nil
	}

	pool, fromFallback, err := s.pool(ctx, q.UserID, q.MinDegree, maxDegree, q.Limit)
	if err != nil {
		metrics.Degraded("store_error")
		log.Warn("Candidate pool unavailable", zap.Bool("retryable", apperrors.IsRetryable(err)), zap.Error(err))
		result.Degraded = true
		result.Error = err.Error()
		metrics.CandidatesReturned(0)
		return result, nil
	}
	source := s.store
	if fromFallback {
		source = s.opts.Fallback
		result.Degraded = true
	}

	result.Failures = s.annotate(ctx, source, q.UserID, pool)
	for _, f := range result.Failures {
		log.Warn("Degree resolution failed", zap.String("candidate_id", f.CandidateID), zap.String("error", f.Error))
	}

	filters := PreferenceFilters(q.Preferences, s.opts.Now())
	if exclude, err := s.exclusions(ctx, source, q.UserID); err != nil {
		log.Warn("Interaction exclusions skipped", zap.Error(err))
		result.Degraded = true
		result.Error = err.Error()
	} else if exclude != nil {
		filters = append(filters, exclude)
	}

	result.Candidates = Apply(pool, filters...)
	metrics.CandidatesReturned(len(result.Candidates))
	log.Debug("Candidates found",
		zap.Int("pool", len(pool)),
		zap.Int("returned", len(result.Candidates)),
		zap.Int("failures", len(result.Failures)),
	)
	return result, nil
}

func validateQuery(q Query) error {
	if q.UserID == "" {
		return apperrors.NewValidation("user_id", "must not be empty")
	}
	if err := graph.ValidateDegreeRange(q.MinDegree, q.MaxDegree); err != nil {
		return err
	}
	if q.Limit < 1 {
		return apperrors.NewValidation("limit", fmt.Sprintf("must be positive, got %d", q.Limit))
	}
	return graph.ValidatePreferences(q.Preferences)
}

// pool returns the raw candidates and whether the fallback store produced them
func (s *Service) pool(ctx context.Context, userID string, minDegree, maxDegree, limit int) ([]graph.Candidate, bool, error) {
	// The generation is read before the store so a pool that races a write is
	// filed under the retired generation.
	cacheable := false
	var generation int64
	if s.opts.Cache != nil {
		gen, err := s.opts.Cache.Generation(ctx)
		if err != nil {
			metrics.CacheLookup("error")
			s.opts.Logger.Warn("Candidate cache read failed", zap.Error(err))
		} else {
			generation, cacheable = gen, true
			pool, ok, err := s.opts.Cache.GetPool(ctx, generation, userID, minDegree, maxDegree, limit)
			switch {
			case err != nil:
				metrics.CacheLookup("error")
				s.opts.Logger.Warn("Candidate cache read failed", zap.Error(err))
				cacheable = false
			case ok:
				metrics.CacheLookup("hit")
				return pool, false, nil
			default:
				metrics.CacheLookup("miss")
			}
		}
	}

	pool, err := s.store.QueryDegreeRange(ctx, userID, minDegree, maxDegree, limit)
	if err == nil {
		if cacheable {
			if err := s.opts.Cache.SetPool(ctx, generation, userID, minDegree, maxDegree, limit, pool); err != nil {
				s.opts.Logger.Warn("Candidate cache write failed", zap.Error(err))
			}
		}
		return pool, false, nil
	}
	if s.opts.Fallback == nil {
		return nil, false, err
	}

	s.opts.Logger.Warn("Primary store failed, using fallback", zap.Error(err))
	pool, ferr := s.opts.Fallback.QueryDegreeRange(ctx, userID, minDegree, maxDegree, limit)
	if ferr != nil {
		return nil, false, err
	}
	metrics.Degraded("fallback")
	return pool, true, nil
}

// annotate fills in missing degrees concurrently. A failed or empty lookup assigns the
// default degree and is reported; it never aborts the batch.
func (s *Service) annotate(ctx context.Context, store Store, userID string, pool []graph.Candidate) []CandidateFailure {
	var (
		mu       sync.Mutex
		failures = make(map[int]CandidateFailure)
		g        errgroup.Group
	)
	g.SetLimit(s.opts.DegreeConcurrency)

	for i := range pool {
		c := &pool[i]
		if c.HasDegree() {
			continue
		}
		if c.User.ID == userID {
			c.Degree = 0
			c.DegreeSource = graph.DegreeSelf
			metrics.DegreeResolved(string(graph.DegreeSelf))
			continue
		}

		g.Go(func() error {
			d, err := store.ShortestPathDegree(ctx, userID, c.User.ID, s.opts.MaxSearchDegree)
			switch {
			case err == nil && d != nil:
				c.Degree = *d
				c.DegreeSource = graph.DegreeResolved
			default:
				c.Degree = s.opts.DefaultDegree
				c.DegreeSource = graph.DegreeFallback
				reason := "no path within search radius"
				if err != nil {
					reason = err.Error()
				}
				mu.Lock()
				failures[i] = CandidateFailure{CandidateID: c.User.ID, Error: reason}
				mu.Unlock()
			}
			metrics.DegreeResolved(string(c.DegreeSource))
			return nil
		})
	}
	_ = g.Wait()

	if len(failures) == 0 {
		return nil
	}
	ordered := make([]CandidateFailure, 0, len(failures))
	for i := range pool {
		if f, ok := failures[i]; ok {
			ordered = append(ordered, f)
		}
	}
	return ordered
}

// exclusions builds the liked/matched filter, nil when both switches are off
func (s *Service) exclusions(ctx context.Context, store Store, userID string) (Filter, error) {
	if !s.opts.ExcludeLiked && !s.opts.ExcludeMatched {
		return nil, nil
	}
	interactions, err := store.InteractedIDs(ctx, userID)
	if apperrors.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var lists [][]string
	if s.opts.ExcludeLiked {
		lists = append(lists, interactions.Liked)
	}
	if s.opts.ExcludeMatched {
		lists = append(lists, interactions.Matched)
	}
	return excludeIDs(lists...), nil
}
