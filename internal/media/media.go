package media

import (
	"errors"
	"time"
)

var (
	ErrChannelNotFound = errors.New("channel does not exist")
	ErrVideoNotFound   = errors.New("video does not exist")
	ErrNoMediaFile     = errors.New("no media file exists for video")
)

type (
	// Channel is a subscribed external content source. The ID is the
	// opaque channel identifier assigned by the source (e.g. a YouTube
	// 'UC…' ID) and is used as the primary key directly.
	Channel struct {
		ID           string    `db:"id"`
		Title        string    `db:"title"`
		ThumbnailURL string    `db:"thumbnail_url"`
		Description  string    `db:"description"`
		LastUpdated  time.Time `db:"last_updated"`
	}

	// Video is a single piece of content belonging to a channel. Download
	// status fields (Downloaded, DownloadedAt, DownloadedResolution,
	// DownloadProgress, LocalPath) are owned by the download service; the
	// remaining metadata is owned by the reconciler.
	Video struct {
		ID                   string     `db:"id"`
		ChannelID            string     `db:"channel_id"`
		Title                string     `db:"title"`
		Description          string     `db:"description"`
		PublishedAt          time.Time  `db:"published_at"`
		ThumbnailURL         string     `db:"thumbnail_url"`
		Duration             int        `db:"duration"`
		ViewCount            int64      `db:"view_count"`
		LikeCount            int64      `db:"like_count"`
		LocalPath            *string    `db:"local_path"`
		Downloaded           bool       `db:"downloaded"`
		DownloadedAt         *time.Time `db:"downloaded_at"`
		DownloadedResolution *string    `db:"downloaded_resolution"`
		DownloadProgress     float64    `db:"download_progress"`
	}

	// VideoMetadataUpdate carries the content-metadata fields which a
	// reconcile pass is allowed to touch on an existing video. Download
	// status fields are deliberately absent from this type.
	VideoMetadataUpdate struct {
		Title        string    `db:"title"`
		Description  string    `db:"description"`
		PublishedAt  time.Time `db:"published_at"`
		ThumbnailURL string    `db:"thumbnail_url"`
		Duration     int       `db:"duration"`
		ViewCount    int64     `db:"view_count"`
		LikeCount    int64     `db:"like_count"`
	}

	// Settings is the lazily-created singleton row of user preferences.
	Settings struct {
		ID                     int       `db:"id"`
		DownloadDirectory      string    `db:"download_directory"`
		DefaultResolution      string    `db:"default_resolution"`
		MaxConcurrentDownloads int       `db:"max_concurrent_downloads"`
		AutoUpdateInterval     int       `db:"auto_update_interval"`
		LastUpdated            time.Time `db:"last_updated"`
	}

	// VideoFilter is the optional filter set accepted by the video listing
	// queries. When Downloaded is true the date window applies to
	// downloaded_at; otherwise it applies to published_at.
	VideoFilter struct {
		ChannelID  *string
		Downloaded *bool
		StartDate  *time.Time
		EndDate    *time.Time
		Limit      int
		Offset     int
	}
)
