package media

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// servableExtensions are the file extensions which the streaming endpoint
// will serve from a videos download directory, in order of preference.
var servableExtensions = []string{".mp4", ".webm"}

var rangePattern = regexp.MustCompile(`^bytes=(\d+)-(\d*)$`)

// ByteRange describes the byte window a streaming response should cover.
// When Partial is false the window covers the entire file and the response
// should be a plain 200; otherwise a 206 with the matching Content-Range.
type ByteRange struct {
	Start   int64
	End     int64
	Length  int64
	Size    int64
	Partial bool
}

func (r ByteRange) ContentRange() string {
	return fmt.Sprintf("bytes %d-%d/%d", r.Start, r.End, r.Size)
}

// ResolveRange computes the byte window for the provided Range header value
// against a file of the given size. Only single 'bytes=<start>-[<end>]'
// ranges are understood; anything else (including a start beyond the end of
// the file) degrades to a full-content window rather than an error, matching
// how browsers recover from a plain 200.
func ResolveRange(rangeHeader string, size int64) ByteRange {
	full := ByteRange{Start: 0, End: size - 1, Length: size, Size: size, Partial: false}

	match := rangePattern.FindStringSubmatch(strings.TrimSpace(rangeHeader))
	if match == nil {
		return full
	}

	start, err := strconv.ParseInt(match[1], 10, 64)
	if err != nil || start >= size {
		return full
	}

	end := size - 1
	if match[2] != "" {
		parsedEnd, err := strconv.ParseInt(match[2], 10, 64)
		if err != nil {
			return full
		}
		end = parsedEnd
	}

	if end > size-1 {
		end = size - 1
	}
	if end < start {
		return full
	}

	return ByteRange{Start: start, End: end, Length: end - start + 1, Size: size, Partial: true}
}

// FindMediaFile returns the path of the first servable media file inside the
// provided per-video directory. ErrNoMediaFile is returned if the directory
// is missing or holds no recognised media.
func FindMediaFile(videoDir string) (string, error) {
	entries, err := os.ReadDir(videoDir)
	if err != nil {
		return "", ErrNoMediaFile
	}

	candidates := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		ext := strings.ToLower(filepath.Ext(entry.Name()))
		for _, servable := range servableExtensions {
			if ext == servable {
				candidates = append(candidates, entry.Name())
				break
			}
		}
	}

	if len(candidates) == 0 {
		return "", ErrNoMediaFile
	}

	// Deterministic choice when several files survived a messy download.
	sort.Strings(candidates)
	return filepath.Join(videoDir, candidates[0]), nil
}
