package compress

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundTripAllLevels(t *testing.T) {
	t.Parallel()

	payload := bytes.Repeat([]byte("the quick brown fox jumps over the lazy dog. "), 200)

	for _, level := range []Level{Fast, Balanced, Maximum} {
		t.Run(level.String(), func(t *testing.T) {
			t.Parallel()

			c := New(level)
			compressed, err := c.Compress(payload)
			require.NoError(t, err)

			decompressed, err := c.Decompress(compressed, len(payload))
			require.NoError(t, err)

			assert.Equal(t, payload, decompressed)
		})
	}
}

func TestRoundTripEmptyPayload(t *testing.T) {
	t.Parallel()

	c := New(Balanced)
	compressed, err := c.Compress(nil)
	require.NoError(t, err)

	decompressed, err := c.Decompress(compressed, 0)
	require.NoError(t, err)
	assert.Empty(t, decompressed)
}

func TestStreamRoundTrip(t *testing.T) {
	t.Parallel()

	payload := []byte("streamed session payload")
	c := New(Maximum)

	var buf bytes.Buffer
	w, err := c.NewStreamWriter(&buf)
	require.NoError(t, err)
	_, err = w.Write(payload)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	r, err := c.NewStreamReader(&buf)
	require.NoError(t, err)
	defer r.Close()

	got, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestDecompressRejectsGarbage(t *testing.T) {
	t.Parallel()

	c := New(Balanced)
	_, err := c.Decompress([]byte("not zstd data"), 0)
	assert.Error(t, err)
}

func TestRatio(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 1.0, Ratio(100, 0))
	assert.InDelta(t, 2.0, Ratio(200, 100), 0.001)
}

func TestLevelString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "fast", Fast.String())
	assert.Equal(t, "balanced", Balanced.String())
	assert.Equal(t, "maximum", Maximum.String())
	assert.Equal(t, "unknown", Level(99).String())
}
