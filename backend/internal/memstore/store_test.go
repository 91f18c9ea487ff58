package memstore

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"circl/backend/internal/graph"
	apperrors "circl/backend/pkg/errors"
)

var fixedNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func newStore(t *testing.T, names ...string) (*Store, map[string]string) {
	t.Helper()
	s := New(WithClock(func() time.Time { return fixedNow }))
	ids := map[string]string{}
	for _, name := range names {
		u, err := s.UpsertUser(context.Background(), graph.UserProfile{Email: name + "@example.com", Name: name})
		require.NoError(t, err)
		ids[name] = u.ID
	}
	return s, ids
}

func TestUpsertUserIdempotent(t *testing.T) {
	s := New()
	ctx := context.Background()

	first, err := s.UpsertUser(ctx, graph.UserProfile{Email: "Alice@Example.com", Name: "Alice"})
	require.NoError(t, err)
	second, err := s.UpsertUser(ctx, graph.UserProfile{Email: " alice@example.com ", Name: "Alice B", Gender: graph.GenderFemale})
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "alice@example.com", second.Email)
	assert.Equal(t, "Alice B", second.Name)
	assert.Equal(t, graph.GenderFemale, second.Gender)
	assert.Equal(t, first.CreatedAt, second.CreatedAt)
	assert.Len(t, s.users, 1)

	assert.Equal(t, graph.GenderPreferNotToSay, first.Gender)
	assert.Equal(t, graph.DefaultMaxConnectionDegree, first.Preferences.MaxConnectionDegree)
}

func TestGetUserByEmail(t *testing.T) {
	s, ids := newStore(t, "alice")
	ctx := context.Background()

	u, err := s.GetUserByEmail(ctx, "  ALICE@example.COM")
	require.NoError(t, err)
	assert.Equal(t, ids["alice"], u.ID)

	_, err = s.GetUserByEmail(ctx, "nobody@example.com")
	assert.True(t, apperrors.IsNotFound(err))

	_, err = s.GetUserByEmail(ctx, "")
	assert.True(t, apperrors.IsValidation(err))
}

func TestChangeHookRunsAfterWrites(t *testing.T) {
	var calls int
	hook := func(ctx context.Context) error {
		calls++
		return nil
	}
	s := New(WithChangeHook(hook))
	ctx := context.Background()

	a, err := s.UpsertUser(ctx, graph.UserProfile{Email: "a@example.com"})
	require.NoError(t, err)
	b, err := s.UpsertUser(ctx, graph.UserProfile{Email: "b@example.com"})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)

	_, err = s.UpsertConnection(ctx, a.ID, b.ID, graph.StatusAccepted)
	require.NoError(t, err)
	assert.Equal(t, 3, calls)

	_, err = s.UpsertConnection(ctx, a.ID, "missing", graph.StatusAccepted)
	require.Error(t, err)
	_, err = s.UpsertConnection(ctx, a.ID, a.ID, graph.StatusAccepted)
	require.Error(t, err)
	_, err = s.RecordLike(ctx, a.ID, b.ID, "m1", fixedNow)
	require.NoError(t, err)
	assert.Equal(t, 3, calls, "failed writes and likes leave pools alone")
}

func TestChangeHookFailureKeepsWrite(t *testing.T) {
	s := New(WithChangeHook(func(ctx context.Context) error { return errors.New("redis down") }))
	u, err := s.UpsertUser(context.Background(), graph.UserProfile{Email: "a@example.com"})
	require.NoError(t, err)
	_, err = s.GetUser(context.Background(), u.ID)
	assert.NoError(t, err)
}

func TestUpsertUserConcurrent(t *testing.T) {
	s := New()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.UpsertUser(context.Background(), graph.UserProfile{Email: "race@example.com"})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Len(t, s.users, 1)
}

func TestGetUserNotFound(t *testing.T) {
	s := New()
	_, err := s.GetUser(context.Background(), "nobody")
	assert.True(t, apperrors.IsNotFound(err))
}

func TestUpsertConnectionDualEdges(t *testing.T) {
	s, ids := newStore(t, "a", "b")
	ctx := context.Background()

	_, err := s.UpsertConnection(ctx, ids["a"], ids["b"], graph.StatusAccepted)
	require.NoError(t, err)
	conn, err := s.UpsertConnection(ctx, ids["a"], ids["b"], graph.StatusAccepted)
	require.NoError(t, err)

	assert.Equal(t, 2, s.ConnectionEdges(ids["a"], ids["b"]))
	assert.Equal(t, 1, conn.ConnectionDegree)
	assert.Equal(t, graph.ConnectionID(ids["a"], ids["b"]), conn.ID)

	broken, err := s.OneWayConnections(ctx)
	require.NoError(t, err)
	assert.Zero(t, broken)
}

func TestUpsertConnectionStatusChange(t *testing.T) {
	s, ids := newStore(t, "a", "b")
	ctx := context.Background()

	_, err := s.UpsertConnection(ctx, ids["a"], ids["b"], graph.StatusPending)
	require.NoError(t, err)
	conns, err := s.AcceptedConnections(ctx)
	require.NoError(t, err)
	assert.Empty(t, conns)

	_, err = s.UpsertConnection(ctx, ids["b"], ids["a"], graph.StatusAccepted)
	require.NoError(t, err)
	conns, err = s.AcceptedConnections(ctx)
	require.NoError(t, err)
	assert.Len(t, conns, 1)
	assert.Equal(t, 2, s.ConnectionEdges(ids["a"], ids["b"]))
}

func TestUpsertConnectionRejects(t *testing.T) {
	s, ids := newStore(t, "a")
	ctx := context.Background()

	_, err := s.UpsertConnection(ctx, ids["a"], ids["a"], graph.StatusAccepted)
	assert.True(t, apperrors.IsValidation(err))
	assert.Zero(t, s.ConnectionEdges(ids["a"], ids["a"]))

	_, err = s.UpsertConnection(ctx, ids["a"], "ghost", graph.StatusAccepted)
	assert.True(t, apperrors.IsNotFound(err))
	assert.Zero(t, s.ConnectionEdges(ids["a"], "ghost"))
}

func TestUpsertConnectionsBatch(t *testing.T) {
	s, ids := newStore(t, "a", "b", "c")

	batch := s.UpsertConnections(context.Background(), ids["a"], []string{ids["b"], "ghost", ids["a"], ids["c"]}, graph.StatusAccepted)

	assert.Equal(t, 2, batch.Succeeded)
	assert.Equal(t, 2, batch.Failed)
	require.Len(t, batch.Results, 4)
	assert.True(t, apperrors.IsNotFound(batch.Results[1].Err))
	assert.True(t, apperrors.IsValidation(batch.Results[2].Err))
	assert.NotEmpty(t, batch.Results[1].Error)
	assert.Len(t, batch.Connections(), 2)
}

func chain(t *testing.T) (*Store, map[string]string) {
	t.Helper()
	s, ids := newStore(t, "a", "b", "c", "d")
	for _, p := range [][2]string{{"a", "b"}, {"b", "c"}, {"c", "d"}} {
		_, err := s.UpsertConnection(context.Background(), ids[p[0]], ids[p[1]], graph.StatusAccepted)
		require.NoError(t, err)
	}
	return s, ids
}

func TestQueryDegreeRange(t *testing.T) {
	s, ids := chain(t)

	candidates, err := s.QueryDegreeRange(context.Background(), ids["a"], 2, 3, 10)
	require.NoError(t, err)

	got := map[string]int{}
	for _, c := range candidates {
		got[c.User.ID] = c.Degree
	}
	assert.Equal(t, map[string]int{ids["c"]: 2, ids["d"]: 3}, got)
	require.Len(t, candidates, 2)
	assert.Equal(t, ids["c"], candidates[0].User.ID)
	assert.True(t, candidates[0].HasDegree())
}

func TestQueryDegreeRangeNeverReturnsNeighbours(t *testing.T) {
	s, ids := chain(t)
	ctx := context.Background()
	// a-c makes c a neighbour while b-c keeps a two-hop route to it
	_, err := s.UpsertConnection(ctx, ids["a"], ids["c"], graph.StatusAccepted)
	require.NoError(t, err)

	candidates, err := s.QueryDegreeRange(ctx, ids["a"], 2, 2, 10)
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, ids["d"], candidates[0].User.ID)
}

func TestQueryDegreeRangeLimit(t *testing.T) {
	s, ids := chain(t)

	candidates, err := s.QueryDegreeRange(context.Background(), ids["a"], 1, 3, 2)
	require.NoError(t, err)
	require.Len(t, candidates, 2)
	assert.Equal(t, 1, candidates[0].Degree)
	assert.Equal(t, 2, candidates[1].Degree)
}

func TestQueryDegreeRangeValidation(t *testing.T) {
	s, ids := chain(t)
	ctx := context.Background()

	_, err := s.QueryDegreeRange(ctx, ids["a"], 0, 3, 10)
	assert.True(t, apperrors.IsValidation(err))
	_, err = s.QueryDegreeRange(ctx, ids["a"], 3, 2, 10)
	assert.True(t, apperrors.IsValidation(err))
	_, err = s.QueryDegreeRange(ctx, "", 1, 2, 10)
	assert.True(t, apperrors.IsValidation(err))
}

func TestQueryAtDegree(t *testing.T) {
	s, ids := chain(t)
	ctx := context.Background()

	users, err := s.QueryAtDegree(ctx, ids["a"], 2)
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, ids["c"], users[0].ID)

	_, err = s.QueryAtDegree(ctx, ids["a"], 0)
	assert.True(t, apperrors.IsValidation(err))
}

func TestShortestPathDegree(t *testing.T) {
	s, ids := chain(t)
	ctx := context.Background()

	d, err := s.ShortestPathDegree(ctx, ids["a"], ids["d"], 3)
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.Equal(t, 3, *d)

	d, err = s.ShortestPathDegree(ctx, ids["a"], ids["d"], 2)
	require.NoError(t, err)
	assert.Nil(t, d)

	d, err = s.ShortestPathDegree(ctx, ids["a"], ids["a"], 3)
	require.NoError(t, err)
	assert.Equal(t, 0, *d)

	path, err := s.ShortestPath(ctx, ids["a"], ids["c"], 3)
	require.NoError(t, err)
	require.Len(t, path, 3)
	assert.Equal(t, ids["b"], path[1].ID)

	path, err = s.ShortestPath(ctx, ids["a"], ids["d"], 2)
	require.NoError(t, err)
	assert.Nil(t, path)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = s.ShortestPath(cancelled, ids["a"], ids["d"], 3)
	assert.True(t, apperrors.IsErrorType(err, apperrors.ErrorTypeContext))
}

func TestRecordLikeLifecycle(t *testing.T) {
	s, ids := newStore(t, "a", "b")
	ctx := context.Background()
	a, b := ids["a"], ids["b"]

	outcome, err := s.RecordLike(ctx, a, b, "m1", fixedNow)
	require.NoError(t, err)
	assert.False(t, outcome.Matched)
	assert.Zero(t, s.MatchedEdges(a, b))

	outcome, err = s.RecordLike(ctx, a, b, "m2", fixedNow.Add(time.Minute))
	require.NoError(t, err)
	assert.False(t, outcome.Matched)
	assert.Equal(t, fixedNow.Add(time.Minute), s.likes[pair{a, b}])
	assert.Len(t, s.likes, 1)

	outcome, err = s.RecordLike(ctx, b, a, "m3", fixedNow.Add(2*time.Minute))
	require.NoError(t, err)
	assert.True(t, outcome.Matched)
	assert.True(t, outcome.Created)
	assert.Equal(t, "m3", outcome.MatchID)
	assert.Equal(t, 2, s.MatchedEdges(a, b))
	assert.Equal(t, s.matches[pair{a, b}], s.matches[pair{b, a}])

	outcome, err = s.RecordLike(ctx, b, a, "m4", fixedNow.Add(3*time.Minute))
	require.NoError(t, err)
	assert.True(t, outcome.Matched)
	assert.False(t, outcome.Created)
	assert.Equal(t, "m3", outcome.MatchID)
	assert.Equal(t, 2, s.MatchedEdges(a, b))

	interactions, err := s.InteractedIDs(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, []string{b}, interactions.Liked)
	assert.Equal(t, []string{b}, interactions.Matched)
}

func TestRecordLikeConsistencyViolation(t *testing.T) {
	s, ids := newStore(t, "a", "b")
	a, b := ids["a"], ids["b"]
	s.matches[pair{a, b}] = matchEdge{id: "half"}

	_, err := s.RecordLike(context.Background(), b, a, "m", fixedNow)
	assert.True(t, apperrors.IsConsistency(err))
	_, liked := s.likes[pair{b, a}]
	assert.False(t, liked)
}

func TestRecordLikeRejectsSelf(t *testing.T) {
	s, ids := newStore(t, "a")

	_, err := s.RecordLike(context.Background(), ids["a"], ids["a"], "m", fixedNow)
	assert.True(t, apperrors.IsValidation(err))
	assert.Empty(t, s.likes)
}

func TestRecordLikeConcurrentMutual(t *testing.T) {
	for i := 0; i < 50; i++ {
		s, ids := newStore(t, "a", "b")
		a, b := ids["a"], ids["b"]

		var wg sync.WaitGroup
		results := make([]graph.LikeOutcome, 2)
		for j, p := range [][2]string{{a, b}, {b, a}} {
			wg.Add(1)
			go func(j int, src, tgt string) {
				defer wg.Done()
				out, err := s.RecordLike(context.Background(), src, tgt, "m", fixedNow)
				assert.NoError(t, err)
				results[j] = out
			}(j, p[0], p[1])
		}
		wg.Wait()

		assert.Equal(t, 2, s.MatchedEdges(a, b))
		assert.NotEqual(t, results[0].Created, results[1].Created, "exactly one call creates the match")
	}
}
