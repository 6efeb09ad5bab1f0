package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type entry struct {
	Price  float64 `json:"price"`
	Series []float64
}

func TestBigCacheRoundTrip(t *testing.T) {
	c, err := NewBigCache(time.Minute, 8)
	require.NoError(t, err)
	defer c.Close()

	ctx := context.Background()
	want := entry{Price: 10.45, Series: []float64{12.16, 10.25, 10.45}}
	require.NoError(t, c.Set(ctx, "k1", want, 0))

	var got entry
	require.NoError(t, c.Get(ctx, "k1", &got))
	assert.Equal(t, want, got)
	assert.Equal(t, 1, c.Len())

	ok, err := c.Exists(ctx, "k1")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, c.Delete(ctx, "k1", "never-set"))
	ok, err = c.Exists(ctx, "k1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestBigCacheMiss(t *testing.T) {
	c, err := NewBigCache(time.Minute, 0)
	require.NoError(t, err)
	defer c.Close()

	var got entry
	err = c.Get(context.Background(), "absent", &got)
	assert.True(t, errors.Is(err, ErrMiss))
}
