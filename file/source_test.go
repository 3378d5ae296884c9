package file

import (
	"bytes"
	"io"
	"os"
	"testing"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenPathSourceUnavailable(t *testing.T) {
	fs := memfs.New()
	require.NoError(t, fs.MkdirAll("music", 0o755))

	_, err := OpenPathSource(fs, "missing.mp3")
	assert.ErrorIs(t, err, ErrSourceUnavailable)
	assert.ErrorIs(t, err, os.ErrNotExist)

	_, err = OpenPathSource(fs, "music")
	assert.ErrorIs(t, err, ErrSourceUnavailable)
}

func TestPathSourceReleasesOnExhaustion(t *testing.T) {
	fs := memfs.New()
	require.NoError(t, util.WriteFile(fs, "a.bin", sequence(10), 0o644))

	src, err := OpenPathSource(fs, "a.bin")
	require.NoError(t, err)

	var sizes []int
	for {
		chunk, err := src.NextChunk(4)
		require.NoError(t, err)
		if len(chunk) == 0 {
			break
		}
		sizes = append(sizes, len(chunk))
	}
	assert.Equal(t, []int{4, 4, 2}, sizes)
	assert.True(t, src.Released())

	chunk, err := src.NextChunk(4)
	assert.NoError(t, err)
	assert.Empty(t, chunk, "an exhausted source stays exhausted")
	assert.NoError(t, src.Close())
}

func TestPathSourceClose(t *testing.T) {
	fs := memfs.New()
	require.NoError(t, util.WriteFile(fs, "a.bin", sequence(10), 0o644))

	src, err := OpenPathSource(fs, "a.bin")
	require.NoError(t, err)
	_, err = src.NextChunk(4)
	require.NoError(t, err)

	require.NoError(t, src.Close())
	require.NoError(t, src.Close())
	assert.True(t, src.Released())

	_, err = src.NextChunk(4)
	assert.ErrorIs(t, err, ErrSourceUnavailable)
}

func TestDescriptorSourceBorrowsReader(t *testing.T) {
	r := &closeTrackingReader{data: sequence(5)}
	src := NewDescriptorSource(r)

	chunk, err := src.NextChunk(8)
	require.NoError(t, err)
	assert.Len(t, chunk, 5)
	chunk, err = src.NextChunk(8)
	require.NoError(t, err)
	assert.Empty(t, chunk)

	require.NoError(t, src.Close())
	assert.False(t, r.closed)
}

func TestDescriptorSourceErrorIsSticky(t *testing.T) {
	src := NewDescriptorSource(&errReader{err: io.ErrClosedPipe})

	_, err := src.NextChunk(4)
	assert.ErrorIs(t, err, ErrSourceUnavailable)
	_, err2 := src.NextChunk(4)
	assert.Equal(t, err, err2)
}

func TestDescriptorSourceRewind(t *testing.T) {
	r := bytes.NewReader(sequence(6))
	src := NewDescriptorSource(r)
	_, err := src.NextChunk(4)
	require.NoError(t, err)

	again, err := src.Rewind()
	require.NoError(t, err)
	chunk, err := again.NextChunk(6)
	require.NoError(t, err)
	assert.Equal(t, sequence(6), chunk)

	_, err = NewDescriptorSource(&closeTrackingReader{}).Rewind()
	assert.ErrorIs(t, err, ErrSourceUnavailable)
}
