package filesource

import (
	"bytes"
	"io"
	"testing"

	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFeedCompressedRoundTrip(t *testing.T) {
	// Repetitive payload, compresses well
	payload := bytes.Repeat([]byte("putstream putstream putstream\n"), 40000)

	target := &sink{}
	fed, err := FeedCompressed(target, bytes.NewReader(payload), zstd.SpeedFastest)

	require.NoError(t, err)
	compressed := target.bytes()
	assert.Equal(t, int64(len(compressed)), fed)
	assert.Less(t, len(compressed), len(payload))

	decoder, err := zstd.NewReader(bytes.NewReader(compressed))
	require.NoError(t, err)
	defer decoder.Close()

	decompressed, err := io.ReadAll(decoder)
	require.NoError(t, err)
	assert.Equal(t, payload, decompressed)
}

func TestFeedCompressedDefaultLevel(t *testing.T) {
	payload := bytes.Repeat([]byte("abcd"), 1024)

	target := &sink{}
	fed, err := FeedCompressed(target, bytes.NewReader(payload), 0)

	require.NoError(t, err)
	assert.Equal(t, int64(len(target.bytes())), fed)
	assert.NotZero(t, fed)
}

func TestFeedCompressedTargetError(t *testing.T) {
	payload := bytes.Repeat([]byte("abcd"), 1024)

	target := &sink{failAt: 1}
	_, err := FeedCompressed(target, bytes.NewReader(payload), zstd.SpeedFastest)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "sink full")
}
