package engine

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompressorRoundTrip(t *testing.T) {
	payload := bytes.Repeat([]byte("vecvault snapshot payload "), 100)

	for _, name := range []string{CompressionZstd, CompressionLZ4, CompressionNone} {
		t.Run(name, func(t *testing.T) {
			comp, err := compressorByName(name)
			require.NoError(t, err)
			assert.Equal(t, name, comp.Name())

			compressed, err := comp.Compress(payload)
			require.NoError(t, err)

			if name != CompressionNone {
				assert.Less(t, len(compressed), len(payload), "repetitive payload should shrink")
			}

			out, err := comp.Decompress(compressed)
			require.NoError(t, err)
			assert.Equal(t, payload, out)
		})
	}
}

func TestCompressorUnknownName(t *testing.T) {
	_, err := compressorByName("gzip")
	require.Error(t, err)
}

func TestCompressorEmptyDefaultsToZstd(t *testing.T) {
	comp, err := compressorByName("")
	require.NoError(t, err)
	assert.Equal(t, CompressionZstd, comp.Name())
}
