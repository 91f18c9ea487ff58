// Package memstore is an in-process implementation of the relationship store.
// It mirrors the graph repository's semantics over maps guarded by one RWMutex,
// for development, offline tooling and tests.
package memstore

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"circl/backend/internal/degree"
	"circl/backend/internal/graph"
	"circl/backend/internal/identity"
	apperrors "circl/backend/pkg/errors"
	"circl/backend/pkg/logger"
)

type pair [2]string

type edge struct {
	status    graph.ConnectionStatus
	createdAt time.Time
	updatedAt time.Time
}

type matchEdge struct {
	id        string
	createdAt time.Time
}

// Store holds users and directed edges in memory
type Store struct {
	mu sync.RWMutex

	users     map[string]*graph.User
	edges     map[pair]*edge
	edgeOrder []pair
	likes     map[pair]time.Time
	likeOrder []pair
	matches   map[pair]matchEdge

	logger   *zap.Logger
	now      func() time.Time
	onChange graph.ChangeHook
}

// Option configures a Store
type Option func(*Store)

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithLogger replaces the component logger
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithChangeHook runs hook after every successful user or connection write
func WithChangeHook(hook graph.ChangeHook) Option {
	return func(s *Store) { s.onChange = hook }
}

// New creates an empty store
func New(opts ...Option) *Store {
	s := &Store{
		users:   make(map[string]*graph.User),
		edges:   make(map[pair]*edge),
		likes:   make(map[pair]time.Time),
		matches: make(map[pair]matchEdge),
		logger:  logger.Named("memstore"),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Ping always succeeds
func (s *Store) Ping(ctx context.Context) error {
	return ctx.Err()
}

// Close is a no-op
func (s *Store) Close(ctx context.Context) error {
	return nil
}

// EnsureSchema is a no-op; map keys already enforce uniqueness
func (s *Store) EnsureSchema(ctx context.Context) error {
	return nil
}

// UpsertUser creates or updates the user keyed by the id derived from the email
func (s *Store) UpsertUser(ctx context.Context, profile graph.UserProfile) (*graph.User, error) {
	if err := graph.ValidateProfile(profile); err != nil {
		return nil, err
	}
	userID, err := identity.Identify(profile.Email)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, apperrors.NewContextCancelled("upsert_user", err)
	}
	if profile.Gender == "" {
		profile.Gender = graph.GenderPreferNotToSay
	}
	prefs := profile.Preferences
	if prefs.MaxConnectionDegree == 0 {
		prefs.MaxConnectionDegree = graph.DefaultMaxConnectionDegree
	}
	prefs.GenderPreferences = append([]graph.Gender{}, prefs.GenderPreferences...)
	prefs.Interests = append([]string{}, prefs.Interests...)

	defer s.changed(ctx, "upsert_user")
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	u, ok := s.users[userID]
	if !ok {
		u = &graph.User{
			ID:        userID,
			Email:     identity.Normalize(profile.Email),
			CreatedAt: now,
		}
		s.users[userID] = u
	}
	u.Name = profile.Name
	u.Username = profile.Username
	u.ProfilePictureURL = profile.ProfilePictureURL
	u.Bio = profile.Bio
	u.Phone = profile.Phone
	if !profile.Birthdate.IsZero() {
		u.Birthdate = profile.Birthdate
	}
	u.Gender = profile.Gender
	u.IsVerified = profile.IsVerified
	u.IsActive = profile.IsActive
	u.Interests = append([]graph.Interest{}, profile.Interests...)
	u.Preferences = prefs
	u.UpdatedAt = now
	u.LastActive = now

	s.logger.Debug("User upserted", zap.String("user_id", userID))
	return copyUser(u), nil
}

// GetUser loads a user by id
func (s *Store) GetUser(ctx context.Context, userID string) (*graph.User, error) {
	if userID == "" {
		return nil, apperrors.NewValidation("user_id", "must not be empty")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[userID]
	if !ok {
		return nil, apperrors.NewUserNotFound(userID)
	}
	return copyUser(u), nil
}

// GetUserByEmail loads a user through the id derived from email
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*graph.User, error) {
	userID, err := identity.Identify(email)
	if err != nil {
		return nil, err
	}
	return s.GetUser(ctx, userID)
}

// UpsertConnection writes both directed edges of the pair under one lock
func (s *Store) UpsertConnection(ctx context.Context, idA, idB string, status graph.ConnectionStatus) (conn *graph.Connection, err error) {
	if err := graph.ValidatePair("connect", idA, idB); err != nil {
		return nil, err
	}
	if !status.Valid() {
		return nil, apperrors.NewValidation("status", fmt.Sprintf("unknown connection status %q", status))
	}

	defer func() {
		if err == nil {
			s.changed(ctx, "upsert_connection")
		}
	}()
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireUsers(idA, idB); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	forward := s.upsertEdge(pair{idA, idB}, status, now)
	s.upsertEdge(pair{idB, idA}, status, now)

	s.logger.Info("Connection upserted",
		zap.String("user_a", idA),
		zap.String("user_b", idB),
		zap.String("status", string(status)),
	)
	return &graph.Connection{
		ID:               graph.ConnectionID(idA, idB),
		UserIDA:          idA,
		UserIDB:          idB,
		Status:           status,
		CreatedAt:        forward.createdAt,
		UpdatedAt:        forward.updatedAt,
		ConnectionDegree: 1,
	}, nil
}

// UpsertConnections connects idA to every target, reporting each pair individually
func (s *Store) UpsertConnections(ctx context.Context, idA string, targets []string, status graph.ConnectionStatus) graph.BatchResult {
	return graph.UpsertBatch(ctx, idA, targets, status, s.UpsertConnection)
}

func (s *Store) upsertEdge(key pair, status graph.ConnectionStatus, now time.Time) *edge {
	e, ok := s.edges[key]
	if !ok {
		e = &edge{createdAt: now}
		s.edges[key] = e
		s.edgeOrder = append(s.edgeOrder, key)
	}
	e.status = status
	e.updatedAt = now
	return e
}

// AcceptedConnections returns every ACCEPTED pair once, lower id first
func (s *Store) AcceptedConnections(ctx context.Context) ([]graph.Connection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.acceptedLocked(), nil
}

func (s *Store) acceptedLocked() []graph.Connection {
	conns := []graph.Connection{}
	for _, key := range s.edgeOrder {
		if key[0] > key[1] {
			continue
		}
		e := s.edges[key]
		if e.status != graph.StatusAccepted {
			continue
		}
		conns = append(conns, graph.Connection{
			ID:               graph.ConnectionID(key[0], key[1]),
			UserIDA:          key[0],
			UserIDB:          key[1],
			Status:           e.status,
			CreatedAt:        e.createdAt,
			UpdatedAt:        e.updatedAt,
			ConnectionDegree: 1,
		})
	}
	return conns
}

// OneWayConnections counts ACCEPTED edges whose reverse is missing or differs
func (s *Store) OneWayConnections(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	broken := 0
	for key, e := range s.edges {
		if e.status != graph.StatusAccepted {
			continue
		}
		back, ok := s.edges[pair{key[1], key[0]}]
		if !ok || back.status != graph.StatusAccepted {
			broken++
		}
	}
	return broken, nil
}

// Adjacency snapshots the ACCEPTED graph
func (s *Store) Adjacency() *degree.Adjacency {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return degree.NewAdjacency(s.acceptedLocked())
}

// QueryAtDegree returns users at exactly degree hops, ordered by id
func (s *Store) QueryAtDegree(ctx context.Context, userID string, hops int) ([]graph.User, error) {
	if userID == "" {
		return nil, apperrors.NewValidation("user_id", "must not be empty")
	}
	if hops < 1 {
		return nil, apperrors.NewValidation("degree", fmt.Sprintf("must be a positive integer, got %d", hops))
	}

	ids := degree.AtDegree(s.Adjacency(), userID, hops)
	slices.Sort(ids)

	s.mu.RLock()
	defer s.mu.RUnlock()
	users := make([]graph.User, 0, len(ids))
	for _, id := range ids {
		if u, ok := s.users[id]; ok {
			users = append(users, *copyUser(u))
		}
	}
	return users, nil
}

// QueryDegreeRange returns up to limit users whose distance lies in [minDegree, maxDegree],
// ordered by degree then id
func (s *Store) QueryDegreeRange(ctx context.Context, userID string, minDegree, maxDegree, limit int) ([]graph.Candidate, error) {
	if userID == "" {
		return nil, apperrors.NewValidation("user_id", "must not be empty")
	}
	if err := graph.ValidateDegreeRange(minDegree, maxDegree); err != nil {
		return nil, err
	}
	if limit < 1 {
		return nil, apperrors.NewValidation("limit", fmt.Sprintf("must be positive, got %d", limit))
	}
	if err := ctx.Err(); err != nil {
		return nil, apperrors.NewContextCancelled("query_degree_range", err)
	}

	reached := degree.WithinDegree(s.Adjacency(), userID, minDegree, maxDegree, 0)
	slices.SortStableFunc(reached, func(a, b degree.Reached) int {
		if a.Degree != b.Degree {
			return a.Degree - b.Degree
		}
		return strings.Compare(a.ID, b.ID)
	})
	if len(reached) > limit {
		reached = reached[:limit]
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	candidates := make([]graph.Candidate, 0, len(reached))
	for _, r := range reached {
		u, ok := s.users[r.ID]
		if !ok {
			continue
		}
		candidates = append(candidates, graph.Candidate{
			User:         *copyUser(u),
			Degree:       r.Degree,
			DegreeSource: graph.DegreeFromTraversal,
		})
	}
	return candidates, nil
}

// ShortestPathDegree returns the hop distance within maxDegree, 0 for equal ids, nil when none
func (s *Store) ShortestPathDegree(ctx context.Context, idA, idB string, maxDegree int) (*int, error) {
	if idA == "" || idB == "" {
		return nil, apperrors.NewValidation("user_id", "must not be empty")
	}
	if idA == idB {
		zero := 0
		return &zero, nil
	}
	if maxDegree < 1 {
		return nil, apperrors.NewValidation("max_degree", fmt.Sprintf("must be a positive integer, got %d", maxDegree))
	}

	d, err := degree.BFSDegreeWithin(ctx, s.Adjacency(), idA, idB, maxDegree)
	if err != nil {
		return nil, apperrors.NewContextCancelled("shortest_path_degree", err)
	}
	return d, nil
}

// ShortestPath returns the users on one shortest path, nil when none within maxDegree
func (s *Store) ShortestPath(ctx context.Context, idA, idB string, maxDegree int) ([]graph.User, error) {
	if idA == "" || idB == "" {
		return nil, apperrors.NewValidation("user_id", "must not be empty")
	}
	if idA != idB && maxDegree < 1 {
		return nil, apperrors.NewValidation("max_degree", fmt.Sprintf("must be a positive integer, got %d", maxDegree))
	}

	path, err := degree.BFSPathWithin(ctx, s.Adjacency(), idA, idB, maxDegree)
	if err != nil {
		return nil, apperrors.NewContextCancelled("shortest_path", err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if idA == idB {
		u, ok := s.users[idA]
		if !ok {
			return nil, apperrors.NewUserNotFound(idA)
		}
		return []graph.User{*copyUser(u)}, nil
	}
	if path == nil {
		return nil, nil
	}
	users := make([]graph.User, 0, len(path))
	for _, id := range path {
		if u, ok := s.users[id]; ok {
			users = append(users, *copyUser(u))
		}
	}
	return users, nil
}

// RecordLike upserts the like and promotes a reciprocated pair to a match, under one lock
func (s *Store) RecordLike(ctx context.Context, sourceID, targetID, matchID string, now time.Time) (graph.LikeOutcome, error) {
	if err := graph.ValidatePair("like", sourceID, targetID); err != nil {
		return graph.LikeOutcome{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireUsers(sourceID, targetID); err != nil {
		return graph.LikeOutcome{}, err
	}

	forwardKey, reverseKey := pair{sourceID, targetID}, pair{targetID, sourceID}
	_, reciprocal := s.likes[reverseKey]
	forward, hasForward := s.matches[forwardKey]
	_, hasReverse := s.matches[reverseKey]

	// Checks run before the like is written so a violation leaves the store untouched.
	switch {
	case hasForward != hasReverse:
		return graph.LikeOutcome{}, apperrors.NewConsistencyViolation(graph.RelMatched, sourceID, targetID)
	case hasForward && !reciprocal:
		return graph.LikeOutcome{}, apperrors.NewConsistencyViolation(graph.RelLiked, sourceID, targetID)
	}

	now = now.UTC()
	if _, ok := s.likes[forwardKey]; !ok {
		s.likeOrder = append(s.likeOrder, forwardKey)
	}
	s.likes[forwardKey] = now
	outcome := graph.LikeOutcome{LikedAt: now}

	switch {
	case hasForward:
		outcome.Matched = true
		outcome.MatchID = forward.id
		outcome.MatchedAt = forward.createdAt
	case reciprocal:
		m := matchEdge{id: matchID, createdAt: now}
		s.matches[forwardKey] = m
		s.matches[reverseKey] = m
		outcome.Matched = true
		outcome.Created = true
		outcome.MatchID = matchID
		outcome.MatchedAt = now
	}

	s.logger.Debug("Like recorded",
		zap.String("source_id", sourceID),
		zap.String("target_id", targetID),
		zap.Bool("matched", outcome.Matched),
		zap.Bool("created", outcome.Created),
	)
	return outcome, nil
}

// InteractedIDs lists the users userID has liked and matched with, in write order
func (s *Store) InteractedIDs(ctx context.Context, userID string) (graph.Interactions, error) {
	if userID == "" {
		return graph.Interactions{}, apperrors.NewValidation("user_id", "must not be empty")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.users[userID]; !ok {
		return graph.Interactions{}, apperrors.NewUserNotFound(userID)
	}
	out := graph.Interactions{Liked: []string{}, Matched: []string{}}
	for _, key := range s.likeOrder {
		if key[0] != userID {
			continue
		}
		out.Liked = append(out.Liked, key[1])
		if _, ok := s.matches[key]; ok {
			out.Matched = append(out.Matched, key[1])
		}
	}
	return out, nil
}

// MatchedEdges counts directed MATCHED edges between a pair
func (s *Store) MatchedEdges(idA, idB string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, key := range []pair{{idA, idB}, {idB, idA}} {
		if _, ok := s.matches[key]; ok {
			n++
		}
	}
	return n
}

// ConnectionEdges counts directed CONNECTED_TO edges between a pair
func (s *Store) ConnectionEdges(idA, idB string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, key := range []pair{{idA, idB}, {idB, idA}} {
		if _, ok := s.edges[key]; ok {
			n++
		}
	}
	return n
}

// changed runs the change hook outside the lock. A failing hook is logged.
func (s *Store) changed(ctx context.Context, operation string) {
	if s.onChange == nil {
		return
	}
	if err := s.onChange(ctx); err != nil {
		s.logger.Warn("Change hook failed", zap.String("operation", operation), zap.Error(err))
	}
}

func (s *Store) requireUsers(ids ...string) error {
	for _, id := range ids {
		if _, ok := s.users[id]; !ok {
			return apperrors.NewUserNotFound(id)
		}
	}
	return nil
}

func copyUser(u *graph.User) *graph.User {
	c := *u
	c.Interests = append([]graph.Interest{}, u.Interests...)
	c.Preferences.GenderPreferences = append([]graph.Gender{}, u.Preferences.GenderPreferences...)
	c.Preferences.Interests = append([]string{}, u.Preferences.Interests...)
	return &c
}
