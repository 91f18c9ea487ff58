package discovery

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"circl/backend/internal/cache"
	"circl/backend/internal/graph"
	"circl/backend/internal/memstore"
	apperrors "circl/backend/pkg/errors"
)

var now = time.Date(2024, 6, 15, 0, 0, 0, 0, time.UTC)

// chainStore builds A-B-C-D over ACCEPTED edges
func chainStore(t *testing.T, opts ...memstore.Option) (*memstore.Store, map[string]string) {
	t.Helper()
	ctx := context.Background()
	s := memstore.New(opts...)
	ids := map[string]string{}
	for _, p := range []graph.UserProfile{
		{Email: "a@example.com", Gender: graph.GenderMale, Birthdate: time.Date(1990, 1, 1, 0, 0, 0, 0, time.UTC)},
		{Email: "b@example.com", Gender: graph.GenderFemale, Birthdate: time.Date(1992, 1, 1, 0, 0, 0, 0, time.UTC)},
		{Email: "c@example.com", Gender: graph.GenderFemale, Birthdate: time.Date(1994, 1, 1, 0, 0, 0, 0, time.UTC),
			Interests: []graph.Interest{{ID: "chess"}}},
		{Email: "d@example.com", Gender: graph.GenderMale, Birthdate: time.Date(1984, 1, 1, 0, 0, 0, 0, time.UTC)},
	} {
		u, err := s.UpsertUser(ctx, p)
		require.NoError(t, err)
		ids[p.Email[:1]] = u.ID
	}
	for _, p := range [][2]string{{"a", "b"}, {"b", "c"}, {"c", "d"}} {
		_, err := s.UpsertConnection(ctx, ids[p[0]], ids[p[1]], graph.StatusAccepted)
		require.NoError(t, err)
	}
	return s, ids
}

func newTestService(store Store, opts Options) *Service {
	opts.Now = func() time.Time { return now }
	return NewService(store, opts)
}

func TestFindCandidatesChain(t *testing.T) {
	store, ids := chainStore(t)
	svc := newTestService(store, Options{})

	res, err := svc.FindCandidates(context.Background(), Query{UserID: ids["a"], MinDegree: 2, MaxDegree: 3, Limit: 10})
	require.NoError(t, err)
	assert.False(t, res.Degraded)
	require.Len(t, res.Candidates, 2)
	assert.Equal(t, ids["c"], res.Candidates[0].User.ID)
	assert.Equal(t, 2, res.Candidates[0].Degree)
	assert.Equal(t, ids["d"], res.Candidates[1].User.ID)
	assert.Equal(t, 3, res.Candidates[1].Degree)
}

func TestFindCandidatesPreferences(t *testing.T) {
	store, ids := chainStore(t)
	svc := newTestService(store, Options{})
	ctx := context.Background()

	// d is 40
	res, err := svc.FindCandidates(ctx, Query{
		UserID: ids["a"], MinDegree: 2, MaxDegree: 3, Limit: 10,
		Preferences: graph.Preferences{MinAge: 25, MaxAge: 35},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{ids["c"]}, ids2(res))

	res, err = svc.FindCandidates(ctx, Query{
		UserID: ids["a"], MinDegree: 2, MaxDegree: 3, Limit: 10,
		Preferences: graph.Preferences{GenderPreferences: []graph.Gender{}},
	})
	require.NoError(t, err)
	assert.Len(t, res.Candidates, 2)

	res, err = svc.FindCandidates(ctx, Query{
		UserID: ids["a"], MinDegree: 1, MaxDegree: 3, Limit: 10,
		Preferences: graph.Preferences{Interests: []string{"chess"}},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{ids["c"]}, ids2(res))
}

func TestFindCandidatesPreferenceDegreeCap(t *testing.T) {
	store, ids := chainStore(t)
	svc := newTestService(store, Options{})

	res, err := svc.FindCandidates(context.Background(), Query{
		UserID: ids["a"], MinDegree: 2, MaxDegree: 3, Limit: 10,
		Preferences: graph.Preferences{MaxConnectionDegree: 2},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{ids["c"]}, ids2(res))

	res, err = svc.FindCandidates(context.Background(), Query{
		UserID: ids["a"], MinDegree: 2, MaxDegree: 3, Limit: 10,
		Preferences: graph.Preferences{MaxConnectionDegree: 1},
	})
	require.NoError(t, err)
	assert.Empty(t, res.Candidates)
}

func TestFindCandidatesEmptyIsNotAnError(t *testing.T) {
	store := memstore.New()
	u, err := store.UpsertUser(context.Background(), graph.UserProfile{Email: "lonely@example.com"})
	require.NoError(t, err)
	svc := newTestService(store, Options{})

	res, err := svc.FindCandidates(context.Background(), Query{UserID: u.ID, MinDegree: 2, MaxDegree: 3, Limit: 10})
	require.NoError(t, err)
	assert.NotNil(t, res.Candidates)
	assert.Empty(t, res.Candidates)
}

func TestFindCandidatesValidation(t *testing.T) {
	svc := newTestService(&fakeStore{}, Options{})
	ctx := context.Background()

	for _, q := range []Query{
		{UserID: "", MinDegree: 1, MaxDegree: 2, Limit: 1},
		{UserID: "u", MinDegree: 0, MaxDegree: 2, Limit: 1},
		{UserID: "u", MinDegree: 3, MaxDegree: 2, Limit: 1},
		{UserID: "u", MinDegree: 1, MaxDegree: 2, Limit: 0},
		{UserID: "u", MinDegree: 1, MaxDegree: 2, Limit: 1, Preferences: graph.Preferences{MinAge: 40, MaxAge: 30}},
	} {
		_, err := svc.FindCandidates(ctx, q)
		assert.True(t, apperrors.IsValidation(err), "%+v", q)
	}
}

func TestFindCandidatesExcludesMatched(t *testing.T) {
	store, ids := chainStore(t)
	ctx := context.Background()
	_, err := store.RecordLike(ctx, ids["a"], ids["c"], "m", now)
	require.NoError(t, err)

	q := Query{UserID: ids["a"], MinDegree: 2, MaxDegree: 3, Limit: 10}

	res, err := newTestService(store, Options{ExcludeLiked: true}).FindCandidates(ctx, q)
	require.NoError(t, err)
	assert.Equal(t, []string{ids["d"]}, ids2(res))

	_, err = store.RecordLike(ctx, ids["c"], ids["a"], "m", now)
	require.NoError(t, err)

	res, err = newTestService(store, Options{ExcludeMatched: true}).FindCandidates(ctx, q)
	require.NoError(t, err)
	assert.Equal(t, []string{ids["d"]}, ids2(res))

	res, err = newTestService(store, Options{}).FindCandidates(ctx, q)
	require.NoError(t, err)
	assert.Len(t, res.Candidates, 2)
}

// fakeStore serves a fixed pool without degrees and fails lookups for chosen ids
type fakeStore struct {
	mu        sync.Mutex
	pool      []graph.Candidate
	poolErr   error
	failFor   map[string]bool
	noPathFor map[string]bool
	lookups   []string
}

func (f *fakeStore) QueryDegreeRange(ctx context.Context, userID string, minDegree, maxDegree, limit int) ([]graph.Candidate, error) {
	if f.poolErr != nil {
		return nil, f.poolErr
	}
	return append([]graph.Candidate{}, f.pool...), nil
}

func (f *fakeStore) ShortestPathDegree(ctx context.Context, idA, idB string, maxDegree int) (*int, error) {
	f.mu.Lock()
	f.lookups = append(f.lookups, idB)
	f.mu.Unlock()
	if f.failFor[idB] {
		return nil, apperrors.NewContextTimeout("shortest_path_degree", time.Second, context.DeadlineExceeded)
	}
	if f.noPathFor[idB] {
		return nil, nil
	}
	d := 3
	return &d, nil
}

func (f *fakeStore) InteractedIDs(ctx context.Context, userID string) (graph.Interactions, error) {
	return graph.Interactions{}, nil
}

func bare(ids ...string) []graph.Candidate {
	out := make([]graph.Candidate, 0, len(ids))
	for _, id := range ids {
		out = append(out, graph.Candidate{User: graph.User{ID: id}})
	}
	return out
}

func TestFindCandidatesIsolatesDegreeFailures(t *testing.T) {
	store := &fakeStore{
		pool:      bare("x", "broken", "me", "far"),
		failFor:   map[string]bool{"broken": true},
		noPathFor: map[string]bool{"far": true},
	}
	svc := newTestService(store, Options{DefaultDegree: 2, DegreeConcurrency: 2})

	res, err := svc.FindCandidates(context.Background(), Query{UserID: "me", MinDegree: 1, MaxDegree: 3, Limit: 10})
	require.NoError(t, err)
	require.Len(t, res.Candidates, 4)

	byID := map[string]graph.Candidate{}
	for _, c := range res.Candidates {
		byID[c.User.ID] = c
	}
	assert.Equal(t, []string{"x", "broken", "me", "far"}, ids2(res), "store order is preserved")
	assert.Equal(t, 3, byID["x"].Degree)
	assert.Equal(t, graph.DegreeResolved, byID["x"].DegreeSource)
	assert.Equal(t, 2, byID["broken"].Degree)
	assert.Equal(t, graph.DegreeFallback, byID["broken"].DegreeSource)
	assert.Equal(t, 0, byID["me"].Degree)
	assert.Equal(t, graph.DegreeSelf, byID["me"].DegreeSource)
	assert.Equal(t, graph.DegreeFallback, byID["far"].DegreeSource)

	require.Len(t, res.Failures, 2)
	assert.Equal(t, "broken", res.Failures[0].CandidateID)
	assert.Equal(t, "far", res.Failures[1].CandidateID)
	assert.NotContains(t, store.lookups, "me")
}

func TestFindCandidatesDegradesOnStoreFailure(t *testing.T) {
	storeErr := apperrors.NewGraphQueryFailed("query_degree_range", true, errors.New("connection reset"))
	svc := newTestService(&fakeStore{poolErr: storeErr}, Options{})

	res, err := svc.FindCandidates(context.Background(), Query{UserID: "me", MinDegree: 2, MaxDegree: 3, Limit: 10})
	require.NoError(t, err)
	assert.True(t, res.Degraded)
	assert.Contains(t, res.Error, "connection reset")
	assert.Empty(t, res.Candidates)
}

func TestFindCandidatesUsesFallback(t *testing.T) {
	fallback, ids := chainStore(t)
	storeErr := apperrors.NewContextTimeout("query_degree_range", time.Second, context.DeadlineExceeded)
	svc := newTestService(&fakeStore{poolErr: storeErr}, Options{Fallback: fallback})

	res, err := svc.FindCandidates(context.Background(), Query{UserID: ids["a"], MinDegree: 2, MaxDegree: 3, Limit: 10})
	require.NoError(t, err)
	assert.True(t, res.Degraded)
	assert.Equal(t, []string{ids["c"], ids["d"]}, ids2(res))
}

func TestFindCandidatesCachesPool(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()
	poolCache := cache.NewRedisCache(mr.Addr(), "", 0, time.Minute)
	defer poolCache.Close()

	store := &fakeStore{pool: bare("x")}
	svc := newTestService(store, Options{Cache: poolCache})
	q := Query{UserID: "me", MinDegree: 1, MaxDegree: 3, Limit: 10}
	ctx := context.Background()

	_, err = svc.FindCandidates(ctx, q)
	require.NoError(t, err)

	store.poolErr = errors.New("store down")
	res, err := svc.FindCandidates(ctx, q)
	require.NoError(t, err)
	assert.False(t, res.Degraded)
	assert.Equal(t, []string{"x"}, ids2(res))
}

func TestFindCandidatesCacheFollowsGraphWrites(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()
	poolCache := cache.NewRedisCache(mr.Addr(), "", 0, time.Minute)
	defer poolCache.Close()

	store, ids := chainStore(t, memstore.WithChangeHook(poolCache.Advance))
	svc := newTestService(store, Options{Cache: poolCache})
	q := Query{UserID: ids["a"], MinDegree: 2, MaxDegree: 2, Limit: 10}
	ctx := context.Background()

	res, err := svc.FindCandidates(ctx, q)
	require.NoError(t, err)
	assert.Equal(t, []string{ids["c"]}, ids2(res))

	// a-c makes c a neighbour and pulls d into the second bucket
	_, err = store.UpsertConnection(ctx, ids["a"], ids["c"], graph.StatusAccepted)
	require.NoError(t, err)

	res, err = svc.FindCandidates(ctx, q)
	require.NoError(t, err)
	assert.Equal(t, []string{ids["d"]}, ids2(res))
	for _, c := range res.Candidates {
		assert.Equal(t, 2, c.Degree)
	}

	// profile writes retire pools too, so filters see the new gender
	_, err = store.UpsertUser(ctx, graph.UserProfile{Email: "d@example.com", Gender: graph.GenderFemale,
		Birthdate: time.Date(1984, 1, 1, 0, 0, 0, 0, time.UTC)})
	require.NoError(t, err)

	q.Preferences = graph.Preferences{GenderPreferences: []graph.Gender{graph.GenderFemale}}
	res, err = svc.FindCandidates(ctx, q)
	require.NoError(t, err)
	require.Len(t, res.Candidates, 1)
	assert.Equal(t, graph.GenderFemale, res.Candidates[0].User.Gender)
}

func TestFindCandidatesCacheReadFailureFallsThrough(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	poolCache := cache.NewRedisCache(mr.Addr(), "", 0, time.Minute)
	defer poolCache.Close()
	mr.Close()

	store, ids := chainStore(t)
	svc := newTestService(store, Options{Cache: poolCache})
	res, err := svc.FindCandidates(context.Background(), Query{UserID: ids["a"], MinDegree: 2, MaxDegree: 3, Limit: 10})
	require.NoError(t, err)
	assert.False(t, res.Degraded)
	assert.Equal(t, []string{ids["c"], ids["d"]}, ids2(res))
}

func ids2(res *Result) []string {
	return ids(res.Candidates)
}
