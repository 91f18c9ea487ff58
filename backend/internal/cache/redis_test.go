package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"circl/backend/internal/graph"
	apperrors "circl/backend/pkg/errors"
)

func newTestCache(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	c := NewRedisCache(mr.Addr(), "", 0, time.Minute)
	t.Cleanup(func() { _ = c.Close() })
	return c, mr
}

func TestPoolRoundTrip(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	_, ok, err := c.GetPool(ctx, 0, "u1", 2, 3, 10)
	require.NoError(t, err)
	assert.False(t, ok)

	pool := []graph.Candidate{
		{User: graph.User{ID: "c", Name: "Cy"}, Degree: 2, DegreeSource: graph.DegreeFromTraversal},
		{User: graph.User{ID: "d"}, Degree: 3, DegreeSource: graph.DegreeFromTraversal},
	}
	require.NoError(t, c.SetPool(ctx, 0, "u1", 2, 3, 10, pool))

	got, ok, err := c.GetPool(ctx, 0, "u1", 2, 3, 10)
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, got, 2)
	assert.Equal(t, "Cy", got[0].User.Name)
	assert.Equal(t, 3, got[1].Degree)
	assert.True(t, got[1].HasDegree())

	_, ok, err = c.GetPool(ctx, 0, "u1", 2, 2, 10)
	require.NoError(t, err)
	assert.False(t, ok, "a different range is a different entry")

	assert.Equal(t, time.Minute, mr.TTL(KeyForPool(0, "u1")))
}

func TestPoolExpires(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.SetPool(ctx, 0, "u1", 2, 3, 10, []graph.Candidate{}))
	mr.FastForward(2 * time.Minute)

	_, ok, err := c.GetPool(ctx, 0, "u1", 2, 3, 10)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestInvalidate(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.SetPool(ctx, 0, "u1", 2, 3, 10, []graph.Candidate{}))
	require.NoError(t, c.SetPool(ctx, 0, "u1", 1, 3, 10, []graph.Candidate{}))
	require.NoError(t, c.SetPool(ctx, 0, "u2", 2, 3, 10, []graph.Candidate{}))

	require.NoError(t, c.Invalidate(ctx, "u1"))

	_, ok, _ := c.GetPool(ctx, 0, "u1", 2, 3, 10)
	assert.False(t, ok)
	_, ok, _ = c.GetPool(ctx, 0, "u1", 1, 3, 10)
	assert.False(t, ok)
	_, ok, _ = c.GetPool(ctx, 0, "u2", 2, 3, 10)
	assert.True(t, ok)

	assert.NoError(t, c.Invalidate(ctx))
}

func TestAdvanceRetiresPools(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	gen, err := c.Generation(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), gen)
	require.NoError(t, c.SetPool(ctx, gen, "u1", 2, 3, 10, []graph.Candidate{}))

	require.NoError(t, c.Advance(ctx))
	next, err := c.Generation(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), next)

	_, ok, err := c.GetPool(ctx, next, "u1", 2, 3, 10)
	require.NoError(t, err)
	assert.False(t, ok)

	// a pool read before the write is stored under the retired generation
	require.NoError(t, c.SetPool(ctx, gen, "u1", 2, 3, 10, []graph.Candidate{}))
	_, ok, err = c.GetPool(ctx, next, "u1", 2, 3, 10)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.True(t, mr.Exists(KeyForPool(gen, "u1")))
	assert.Equal(t, time.Duration(0), mr.TTL(GenerationKey), "generation never expires")
}

func TestInvalidateUsesCurrentGeneration(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.Advance(ctx))
	require.NoError(t, c.SetPool(ctx, 1, "u1", 2, 3, 10, []graph.Candidate{}))
	require.NoError(t, c.Invalidate(ctx, "u1"))
	assert.False(t, mr.Exists(KeyForPool(1, "u1")))
}

func TestUnavailableRedisIsTypedAndRetryable(t *testing.T) {
	c, mr := newTestCache(t)
	mr.Close()

	_, _, err := c.GetPool(context.Background(), 0, "u1", 2, 3, 10)
	require.Error(t, err)
	assert.True(t, apperrors.IsErrorType(err, apperrors.ErrorTypeCache))
	assert.True(t, apperrors.IsRetryable(err))

	_, err = c.Generation(context.Background())
	assert.True(t, apperrors.IsErrorType(err, apperrors.ErrorTypeCache))
	assert.Error(t, c.Advance(context.Background()))
}
