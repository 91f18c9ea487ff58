// Package matching runs the like protocol: NONE -> LIKED -> MATCHED per ordered pair.
package matching

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"circl/backend/internal/graph"
	"circl/backend/internal/metrics"
	apperrors "circl/backend/pkg/errors"
	"circl/backend/pkg/logger"
)

// Store records likes transactionally
type Store interface {
	RecordLike(ctx context.Context, sourceID, targetID, matchID string, now time.Time) (graph.LikeOutcome, error)
	InteractedIDs(ctx context.Context, userID string) (graph.Interactions, error)
}

// Invalidator drops cached candidate pools
type Invalidator interface {
	Invalidate(ctx context.Context, userIDs ...string) error
}

// LikeResult reports the pair state after a like
type LikeResult struct {
	SourceID string `json:"source_id"`
	TargetID string `json:"target_id"`
	// IsMatch is true whenever the pair is matched after the call
	IsMatch bool `json:"is_match"`
	// NewMatch is true only on the call that created the match
	NewMatch  bool      `json:"new_match"`
	MatchID   string    `json:"match_id,omitempty"`
	MatchedAt time.Time `json:"matched_at,omitempty"`
	LikedAt   time.Time `json:"liked_at"`
}

// Service records likes and promotes mutual likes to matches
type Service struct {
	store  Store
	cache  Invalidator
	logger *zap.Logger
	now    func() time.Time
	newID  func() string
}

// Option configures a Service
type Option func(*Service)

// WithInvalidator drops both users' cached pools after every like
func WithInvalidator(c Invalidator) Option {
	return func(s *Service) { s.cache = c }
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithLogger replaces the component logger
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// NewService creates a matching service
func NewService(store Store, opts ...Option) *Service {
	s := &Service{
		store:  store,
		logger: logger.Named("matching"),
		now:    time.Now,
		newID:  func() string { return uuid.New().String() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Like records sourceID liking targetID. Repeating a like, before or after a match,
// is idempotent.
func (s *Service) Like(ctx context.Context, sourceID, targetID string) (*LikeResult, error) {
	if err := graph.ValidatePair("like", sourceID, targetID); err != nil {
		return nil, err
	}
	log := s.logger.With(zap.String("source_id", sourceID), zap.String("target_id", targetID))

	outcome, err := s.store.RecordLike(ctx, sourceID, targetID, s.newID(), s.now())
	if err != nil {
		if apperrors.IsConsistency(err) {
			metrics.ConsistencyViolation(consistencyRelation(err))
			log.Error("Consistency violation while recording like", zap.Error(err))
		}
		return nil, err
	}

	switch {
	case outcome.Created:
		metrics.LikeRecorded("matched")
		log.Info("Match created", zap.String("match_id", outcome.MatchID))
	case outcome.Matched:
		metrics.LikeRecorded("already_matched")
	default:
		metrics.LikeRecorded("liked")
	}

	if s.cache != nil {
		if err := s.cache.Invalidate(ctx, sourceID, targetID); err != nil {
			log.Warn("Candidate cache invalidation failed", zap.Error(err))
		}
	}

	return &LikeResult{
		SourceID:  sourceID,
		TargetID:  targetID,
		IsMatch:   outcome.Matched,
		NewMatch:  outcome.Created,
		MatchID:   outcome.MatchID,
		MatchedAt: outcome.MatchedAt,
		LikedAt:   outcome.LikedAt,
	}, nil
}

// Matches lists the ids userID is matched with
func (s *Service) Matches(ctx context.Context, userID string) ([]string, error) {
	if userID == "" {
		return nil, apperrors.NewValidation("user_id", "must not be empty")
	}
	interactions, err := s.store.InteractedIDs(ctx, userID)
	if err != nil {
		return nil, err
	}
	if interactions.Matched == nil {
		return []string{}, nil
	}
	return interactions.Matched, nil
}

func consistencyRelation(err error) string {
	var v *apperrors.ErrConsistencyViolation
	if errors.As(err, &v) {
		return v.Relationship
	}
	return "unknown"
}
