package embedding

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingEmbedder struct {
	calls int
	err   error
}

func (c *countingEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	return []float32{float32(len(text))}, nil
}

type mapRemote struct {
	data    map[string][]float32
	readErr error
	writes  int
}

func (m *mapRemote) GetEmbedding(_ context.Context, key string) ([]float32, bool, error) {
	if m.readErr != nil {
		return nil, false, m.readErr
	}
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *mapRemote) SetEmbedding(_ context.Context, key string, v []float32, _ time.Duration) error {
	m.writes++
	m.data[key] = v
	return nil
}

func TestCachedHitsLocal(t *testing.T) {
	next := &countingEmbedder{}
	c := NewCached(next, "m", time.Minute, nil)
	ctx := context.Background()

	a, err := c.Embed(ctx, "故宫")
	require.NoError(t, err)
	b, err := c.Embed(ctx, "故宫")
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.Equal(t, 1, next.calls)
	assert.Equal(t, 1, c.Len())
}

func TestCachedReturnsPrivateCopies(t *testing.T) {
	c := NewCached(&countingEmbedder{}, "m", time.Minute, nil)
	ctx := context.Background()

	a, err := c.Embed(ctx, "天坛")
	require.NoError(t, err)
	a[0] = -1

	b, err := c.Embed(ctx, "天坛")
	require.NoError(t, err)
	assert.Equal(t, []float32{6}, b)

	b[0] = -2
	again, err := c.Embed(ctx, "天坛")
	require.NoError(t, err)
	assert.Equal(t, []float32{6}, again)
}

func TestCachedUsesRemoteAcrossInstances(t *testing.T) {
	remote := &mapRemote{data: map[string][]float32{}}
	ctx := context.Background()

	first := &countingEmbedder{}
	_, err := NewCached(first, "m", time.Minute, remote).Embed(ctx, "天坛")
	require.NoError(t, err)
	assert.Equal(t, 1, remote.writes)

	second := &countingEmbedder{}
	_, err = NewCached(second, "m", time.Minute, remote).Embed(ctx, "天坛")
	require.NoError(t, err)
	assert.Zero(t, second.calls)

	// A different model does not share entries.
	third := &countingEmbedder{}
	_, err = NewCached(third, "other", time.Minute, remote).Embed(ctx, "天坛")
	require.NoError(t, err)
	assert.Equal(t, 1, third.calls)
}

func TestCachedRemoteFailureFallsThrough(t *testing.T) {
	remote := &mapRemote{data: map[string][]float32{}, readErr: errors.New("redis down")}
	next := &countingEmbedder{}
	_, err := NewCached(next, "m", time.Minute, remote).Embed(context.Background(), "颐和园")
	require.NoError(t, err)
	assert.Equal(t, 1, next.calls)
}

func TestCachedDoesNotCacheErrors(t *testing.T) {
	next := &countingEmbedder{err: errors.New("backend down")}
	c := NewCached(next, "m", time.Minute, nil)
	_, err := c.Embed(context.Background(), "x")
	assert.Error(t, err)
	_, err = c.Embed(context.Background(), "x")
	assert.Error(t, err)
	assert.Equal(t, 2, next.calls)
	assert.Zero(t, c.Len())
}
