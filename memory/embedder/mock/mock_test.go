package mock_test

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smkim0508/Portable-Brain/memory/embedder/mock"
)

func TestEmbed_DeterministicUnitVectors(t *testing.T) {
	e := mock.New(0)
	assert.Equal(t, mock.DefaultDimensions, e.Dimensions())

	out, err := e.Embed(context.Background(), []string{"hello", "world", "hello"})
	require.NoError(t, err)
	require.Len(t, out, 3)

	assert.Equal(t, out[0], out[2])
	assert.NotEqual(t, out[0], out[1])
	for _, v := range out {
		require.Len(t, v, mock.DefaultDimensions)
		var sum float64
		for _, x := range v {
			sum += float64(x) * float64(x)
		}
		assert.InDelta(t, 1.0, math.Sqrt(sum), 1e-4)
	}
}

func TestEmbed_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := mock.New(8).Embed(ctx, []string{"x"})
	assert.ErrorIs(t, err, context.Canceled)
}
