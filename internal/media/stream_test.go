package media_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/offtube/offtube/internal/media"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_ResolveRange_ValidRanges(t *testing.T) {
	tests := []struct {
		Summary       string
		Header        string
		Size          int64
		ExpectedStart int64
		ExpectedEnd   int64
	}{
		{
			Summary:       "open ended range covers remainder of file",
			Header:        "bytes=100-",
			Size:          1000,
			ExpectedStart: 100,
			ExpectedEnd:   999,
		},
		{
			Summary:       "bounded range is honoured exactly",
			Header:        "bytes=0-499",
			Size:          1000,
			ExpectedStart: 0,
			ExpectedEnd:   499,
		},
		{
			Summary:       "end beyond file size is clamped to final byte",
			Header:        "bytes=500-999999",
			Size:          1000,
			ExpectedStart: 500,
			ExpectedEnd:   999,
		},
		{
			Summary:       "single byte range",
			Header:        "bytes=42-42",
			Size:          1000,
			ExpectedStart: 42,
			ExpectedEnd:   42,
		},
		{
			Summary:       "final byte of the file",
			Header:        "bytes=999-",
			Size:          1000,
			ExpectedStart: 999,
			ExpectedEnd:   999,
		},
	}

	for _, test := range tests {
		t.Run(test.Summary, func(t *testing.T) {
			resolved := media.ResolveRange(test.Header, test.Size)

			assert.True(t, resolved.Partial, "expected a partial response window")
			assert.Equal(t, test.ExpectedStart, resolved.Start)
			assert.Equal(t, test.ExpectedEnd, resolved.End)
			assert.Equal(t, test.ExpectedEnd-test.ExpectedStart+1, resolved.Length,
				"length must always equal end-start+1")
			assert.Equal(t, test.Size, resolved.Size)
		})
	}
}

func Test_ResolveRange_FullResponseFallbacks(t *testing.T) {
	tests := []struct {
		Summary string
		Header  string
		Size    int64
	}{
		{Summary: "empty header", Header: "", Size: 1000},
		{Summary: "garbage header", Header: "not-a-range", Size: 1000},
		{Summary: "unsupported unit", Header: "items=0-10", Size: 1000},
		{Summary: "multiple ranges are not supported", Header: "bytes=0-10,20-30", Size: 1000},
		{Summary: "suffix range form is not supported", Header: "bytes=-500", Size: 1000},
		{Summary: "start equal to file size", Header: "bytes=1000-", Size: 1000},
		{Summary: "start beyond file size", Header: "bytes=5000-", Size: 1000},
		{Summary: "end before start", Header: "bytes=500-100", Size: 1000},
	}

	for _, test := range tests {
		t.Run(test.Summary, func(t *testing.T) {
			resolved := media.ResolveRange(test.Header, test.Size)

			assert.False(t, resolved.Partial, "expected degradation to a full response")
			assert.Equal(t, int64(0), resolved.Start)
			assert.Equal(t, test.Size-1, resolved.End)
			assert.Equal(t, test.Size, resolved.Length)
		})
	}
}

func Test_ResolveRange_ContentRangeHeader(t *testing.T) {
	resolved := media.ResolveRange("bytes=100-199", 1000)

	require.True(t, resolved.Partial)
	assert.Equal(t, "bytes 100-199/1000", resolved.ContentRange())
}

func Test_FindMediaFile_LocatesServableMedia(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "video.info.json"), []byte("{}"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "video.mp4"), []byte("data"), 0o644))

	path, err := media.FindMediaFile(dir)

	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "video.mp4"), path)
}

func Test_FindMediaFile_AcceptsWebm(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "video.webm"), []byte("data"), 0o644))

	path, err := media.FindMediaFile(dir)

	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "video.webm"), path)
}

func Test_FindMediaFile_ErrorsWhenNoMediaPresent(t *testing.T) {
	t.Run("empty directory", func(t *testing.T) {
		_, err := media.FindMediaFile(t.TempDir())
		assert.ErrorIs(t, err, media.ErrNoMediaFile)
	})

	t.Run("only non-media files", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, "video.part"), []byte("partial"), 0o644))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "progress.txt"), []byte("0.5"), 0o644))

		_, err := media.FindMediaFile(dir)
		assert.ErrorIs(t, err, media.ErrNoMediaFile)
	})

	t.Run("missing directory", func(t *testing.T) {
		_, err := media.FindMediaFile(filepath.Join(t.TempDir(), "does-not-exist"))
		assert.ErrorIs(t, err, media.ErrNoMediaFile)
	})
}
