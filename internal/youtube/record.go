package youtube

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/offtube/offtube/pkg/logger"
)

type (
	// VideoRecord is the normalized form of a single videos metadata as
	// extracted from yt-dlp output. All timestamps are UTC.
	VideoRecord struct {
		ID           string
		ChannelID    string
		Title        string
		Description  string
		PublishedAt  time.Time
		ThumbnailURL string
		Duration     int
		ViewCount    int64
		LikeCount    int64
	}

	// ChannelRecord is the normalized form of a channels metadata.
	ChannelRecord struct {
		ID           string
		Title        string
		Description  string
		ThumbnailURL string
	}

	// videoEntry mirrors the subset of the yt-dlp JSON dump we consume.
	// Duration is a float in some extractor outputs so it's decoded as one.
	videoEntry struct {
		ID          string  `json:"id"`
		Title       string  `json:"title"`
		Description string  `json:"description"`
		Timestamp   *int64  `json:"timestamp"`
		UploadDate  string  `json:"upload_date"`
		Duration    float64 `json:"duration"`
		ViewCount   int64   `json:"view_count"`
		LikeCount   int64   `json:"like_count"`
		ChannelID   string  `json:"channel_id"`
		UploaderID  string  `json:"uploader_id"`
	}
)

// VideoThumbnailURL synthesizes the predictable maximum-resolution thumbnail
// URL for a video rather than trusting the (often missing) thumbnail entries
// in the extractor output.
func VideoThumbnailURL(videoID string) string {
	return fmt.Sprintf("https://i.ytimg.com/vi/%s/maxresdefault.jpg", videoID)
}

// ChannelThumbnailURL synthesizes a channel avatar URL from the channel ID.
func ChannelThumbnailURL(channelID string) string {
	return fmt.Sprintf("https://yt3.googleusercontent.com/channel/%s", channelID)
}

// ChannelURL picks the URL form matching the shape of the provided channel
// identifier: handles ('@name'), canonical IDs ('UC…') and legacy custom
// names each live under a different path.
func ChannelURL(channelID string) string {
	switch {
	case strings.HasPrefix(channelID, "@"):
		return fmt.Sprintf("https://www.youtube.com/%s", channelID)
	case strings.HasPrefix(channelID, "UC"):
		return fmt.Sprintf("https://www.youtube.com/channel/%s", channelID)
	default:
		return fmt.Sprintf("https://www.youtube.com/c/%s", channelID)
	}
}

// DecodeVideoRecord parses a single line of '--dump-json' output in to a
// normalized VideoRecord. The published timestamp is derived with the
// following priority: the epoch 'timestamp' field, then an 8-digit
// 'upload_date' (taken as UTC midnight), then the current time. The final
// fallback is known to be inaccurate and is surfaced as a warning.
func DecodeVideoRecord(line []byte) (VideoRecord, error) {
	var entry videoEntry
	if err := json.Unmarshal(line, &entry); err != nil {
		return VideoRecord{}, fmt.Errorf("failed to decode video metadata: %w", err)
	}

	if entry.ID == "" {
		return VideoRecord{}, fmt.Errorf("video metadata is missing an ID")
	}

	channelID := entry.ChannelID
	if channelID == "" {
		channelID = entry.UploaderID
	}

	title := entry.Title
	if title == "" {
		title = "Untitled Video"
	}

	return VideoRecord{
		ID:           entry.ID,
		ChannelID:    channelID,
		Title:        title,
		Description:  entry.Description,
		PublishedAt:  derivePublishedAt(entry),
		ThumbnailURL: VideoThumbnailURL(entry.ID),
		Duration:     int(entry.Duration),
		ViewCount:    entry.ViewCount,
		LikeCount:    entry.LikeCount,
	}, nil
}

func derivePublishedAt(entry videoEntry) time.Time {
	if entry.Timestamp != nil && *entry.Timestamp > 0 {
		return time.Unix(*entry.Timestamp, 0).UTC()
	}

	if len(entry.UploadDate) == 8 {
		if at, err := time.ParseInLocation("20060102", entry.UploadDate, time.UTC); err == nil {
			return at
		}
	}

	log.Emit(logger.WARNING, "Video %s metadata carries no usable timestamp or upload date, falling back to current time\n", entry.ID)
	return time.Now().UTC()
}
