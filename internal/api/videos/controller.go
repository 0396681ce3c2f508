package videos

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/offtube/offtube/internal/download"
	"github.com/offtube/offtube/internal/media"
	"github.com/offtube/offtube/internal/youtube"
	"github.com/offtube/offtube/pkg/logger"
)

var controllerLogger = logger.Get("VideosController")

type (
	Dto struct {
		ID                   string     `json:"id"`
		ChannelID            string     `json:"channelId"`
		Title                string     `json:"title"`
		Description          string     `json:"description"`
		PublishedAt          time.Time  `json:"publishedAt"`
		ThumbnailURL         string     `json:"thumbnailUrl"`
		Duration             int        `json:"duration"`
		ViewCount            int64      `json:"viewCount"`
		LikeCount            int64      `json:"likeCount"`
		Downloaded           bool       `json:"downloaded"`
		DownloadedAt         *time.Time `json:"downloadedAt"`
		DownloadedResolution *string    `json:"downloadedResolution"`
		DownloadProgress     float64    `json:"downloadProgress"`
	}

	ListDto struct {
		Videos []Dto `json:"videos"`
		Total  int   `json:"total"`
	}

	DownloadRequest struct {
		Resolution string `json:"resolution" validate:"omitempty,oneof=480p 720p 1080p 1440p 2160p best"`
	}

	IngestRequest struct {
		VideoID string `json:"videoId" validate:"required"`
	}

	ProgressDto struct {
		VideoID  string  `json:"videoId"`
		Progress float64 `json:"progress"`
	}

	Store interface {
		GetVideo(videoID string) (*media.Video, error)
		ListVideos(filter media.VideoFilter) ([]*media.Video, error)
		CountVideos(filter media.VideoFilter) (int, error)
		CreateVideos(videos []*media.Video) error
		DeleteVideo(videoID string) error
		MarkVideoDownloaded(videoID string, resolution string, localPath string, at time.Time) error
		GetChannel(channelID string) (*media.Channel, error)
		SaveChannel(channel *media.Channel) error
		GetSettings() (*media.Settings, error)
	}

	MetadataService interface {
		VideoInfo(ctx context.Context, videoID string) (*youtube.VideoRecord, error)
		ChannelInfo(ctx context.Context, channelID string) (*youtube.ChannelRecord, error)
	}

	DownloadService interface {
		Download(ctx context.Context, request download.Request) download.Result
		Progress(videoID string) float64
	}

	Controller struct {
		validate  *validator.Validate
		store     Store
		metadata  MetadataService
		downloads DownloadService
	}
)

func New(validate *validator.Validate, store Store, metadata MetadataService, downloads DownloadService) *Controller {
	return &Controller{validate: validate, store: store, metadata: metadata, downloads: downloads}
}

func (controller *Controller) SetRoutes(eg *echo.Group) {
	eg.GET("/", controller.list)
	eg.POST("/", controller.ingest)
	eg.GET("/:id/", controller.get)
	eg.DELETE("/:id/", controller.delete)
	eg.POST("/:id/download/", controller.download)
	eg.GET("/:id/progress/", controller.progress)
	eg.GET("/:id/stream/", controller.stream)
}

// list returns videos matching the optional query filters: channel_id,
// downloaded, start/end dates, limit and offset. The date window applies to
// the download date when filtering downloaded videos, and the publication
// date otherwise.
func (controller *Controller) list(ec echo.Context) error {
	filter, err := parseFilter(ec)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	videos, err := controller.store.ListVideos(filter)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to list videos")
	}

	total, err := controller.store.CountVideos(filter)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to count videos")
	}

	dtos := make([]Dto, len(videos))
	for k, video := range videos {
		dtos[k] = newDto(video)
	}

	return ec.JSON(http.StatusOK, ListDto{Videos: dtos, Total: total})
}

func (controller *Controller) get(ec echo.Context) error {
	video, err := controller.store.GetVideo(ec.Param("id"))
	if err != nil {
		if errors.Is(err, media.ErrVideoNotFound) {
			return echo.NewHTTPError(http.StatusNotFound)
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to fetch video")
	}

	return ec.JSON(http.StatusOK, newDto(video))
}

// ingest resolves a single video at the source and adds it to the library,
// creating a row for its owning channel when one is not already tracked.
// Ingesting an already-known video returns the existing record.
func (controller *Controller) ingest(ec echo.Context) error {
	var request IngestRequest
	if err := ec.Bind(&request); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Request body is malformed")
	}
	if err := controller.validate.Struct(request); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "A video ID is required")
	}

	if existing, err := controller.store.GetVideo(request.VideoID); err == nil {
		return ec.JSON(http.StatusOK, newDto(existing))
	} else if !errors.Is(err, media.ErrVideoNotFound) {
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to fetch video")
	}

	record, err := controller.metadata.VideoInfo(ec.Request().Context(), request.VideoID)
	if err != nil {
		if errors.Is(err, youtube.ErrVideoNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "Video could not be found at the source")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to resolve video information")
	}

	if err := controller.ensureChannel(ec.Request().Context(), record.ChannelID); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to save the videos channel")
	}

	video := &media.Video{
		ID:           record.ID,
		ChannelID:    record.ChannelID,
		Title:        record.Title,
		Description:  record.Description,
		PublishedAt:  record.PublishedAt,
		ThumbnailURL: record.ThumbnailURL,
		Duration:     record.Duration,
		ViewCount:    record.ViewCount,
		LikeCount:    record.LikeCount,
	}
	if err := controller.store.CreateVideos([]*media.Video{video}); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to save video")
	}

	controllerLogger.Emit(logger.NEW, "Ingested video %s (channel %s) by direct request\n", video.ID, video.ChannelID)
	return ec.JSON(http.StatusCreated, newDto(video))
}

// ensureChannel persists a channel row for the given ID if none exists. A
// failed upstream lookup still yields a placeholder row so the video can be
// tracked; the next subscription fetch will refresh it.
func (controller *Controller) ensureChannel(ctx context.Context, channelID string) error {
	if _, err := controller.store.GetChannel(channelID); err == nil {
		return nil
	} else if !errors.Is(err, media.ErrChannelNotFound) {
		return err
	}

	record, err := controller.metadata.ChannelInfo(ctx, channelID)
	if err != nil {
		controllerLogger.Emit(logger.WARNING, "Channel %s lookup failed during video ingest, saving placeholder: %v\n", channelID, err)
		record = &youtube.ChannelRecord{
			ID:           channelID,
			Title:        "Unknown Channel",
			ThumbnailURL: youtube.ChannelThumbnailURL(channelID),
		}
	}

	return controller.store.SaveChannel(&media.Channel{
		ID:           record.ID,
		Title:        record.Title,
		ThumbnailURL: record.ThumbnailURL,
		Description:  record.Description,
	})
}

// download runs a blocking download orchestration for the video. The
// resolution defaults to the user's configured preference. Failure kinds
// map to statuses: authentication failures are 403, bogus tool output is
// 400 and everything else is a 500.
func (controller *Controller) download(ec echo.Context) error {
	video, err := controller.store.GetVideo(ec.Param("id"))
	if err != nil {
		if errors.Is(err, media.ErrVideoNotFound) {
			return echo.NewHTTPError(http.StatusNotFound)
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to fetch video")
	}

	var request DownloadRequest
	if err := ec.Bind(&request); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Request body is malformed")
	}
	if err := controller.validate.Struct(request); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Resolution must be one of 480p, 720p, 1080p, 1440p, 2160p or best")
	}

	settings, err := controller.store.GetSettings()
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to load settings")
	}

	resolution := request.Resolution
	if resolution == "" {
		resolution = settings.DefaultResolution
	}

	result := controller.downloads.Download(ec.Request().Context(), download.Request{
		VideoID:     video.ID,
		Resolution:  resolution,
		DownloadDir: settings.DownloadDirectory,
	})

	if !result.Success {
		return echo.NewHTTPError(statusForFailure(result.Kind), result)
	}

	if err := controller.store.MarkVideoDownloaded(video.ID, resolution, result.MediaPath, time.Now()); err != nil {
		controllerLogger.Emit(logger.ERROR, "Download of %s succeeded but persisting state failed: %v\n", video.ID, err)
		return echo.NewHTTPError(http.StatusInternalServerError, "Download succeeded but could not be recorded")
	}

	return ec.JSON(http.StatusOK, result)
}

// progress reports in-flight progress for a video, falling back to the
// durable record when no download is live in this process.
func (controller *Controller) progress(ec echo.Context) error {
	video, err := controller.store.GetVideo(ec.Param("id"))
	if err != nil {
		if errors.Is(err, media.ErrVideoNotFound) {
			return echo.NewHTTPError(http.StatusNotFound)
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to fetch video")
	}

	progress := controller.downloads.Progress(video.ID)
	if progress == 0.0 {
		progress = video.DownloadProgress
	}

	return ec.JSON(http.StatusOK, ProgressDto{VideoID: video.ID, Progress: progress})
}

// delete removes the video row along with its on-disk directory. File
// removal failures are logged and swallowed per file so a single stubborn
// file cannot abort the delete.
func (controller *Controller) delete(ec echo.Context) error {
	video, err := controller.store.GetVideo(ec.Param("id"))
	if err != nil {
		if errors.Is(err, media.ErrVideoNotFound) {
			return echo.NewHTTPError(http.StatusNotFound)
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to fetch video")
	}

	settings, err := controller.store.GetSettings()
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to load settings")
	}

	removeVideoFiles(filepath.Join(settings.DownloadDirectory, video.ID))

	if err := controller.store.DeleteVideo(video.ID); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to delete video")
	}

	return ec.NoContent(http.StatusNoContent)
}

// stream serves the videos media file, honouring single byte-range
// requests with a 206 partial response.
func (controller *Controller) stream(ec echo.Context) error {
	video, err := controller.store.GetVideo(ec.Param("id"))
	if err != nil {
		if errors.Is(err, media.ErrVideoNotFound) {
			return echo.NewHTTPError(http.StatusNotFound)
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to fetch video")
	}

	if !video.Downloaded {
		return echo.NewHTTPError(http.StatusBadRequest, "Video has not been downloaded")
	}

	settings, err := controller.store.GetSettings()
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to load settings")
	}

	mediaPath, err := media.FindMediaFile(filepath.Join(settings.DownloadDirectory, video.ID))
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "No media file exists for this video")
	}

	file, err := os.Open(mediaPath)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to open media file")
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to stat media file")
	}

	resolved := media.ResolveRange(ec.Request().Header.Get("Range"), info.Size())

	response := ec.Response()
	response.Header().Set("Accept-Ranges", "bytes")
	response.Header().Set(echo.HeaderContentType, "video/mp4")
	response.Header().Set(echo.HeaderContentLength, strconv.FormatInt(resolved.Length, 10))
	response.Header().Set(echo.HeaderContentDisposition, fmt.Sprintf(`attachment; filename="%s.mp4"`, video.Title))

	status := http.StatusOK
	if resolved.Partial {
		response.Header().Set("Content-Range", resolved.ContentRange())
		status = http.StatusPartialContent

		if _, err := file.Seek(resolved.Start, io.SeekStart); err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, "Failed to seek media file")
		}
	}

	response.WriteHeader(status)
	_, err = io.CopyN(response, file, resolved.Length)
	return err
}

func statusForFailure(kind download.FailureKind) int {
	switch kind {
	case download.FailureAuthRequired:
		return http.StatusForbidden
	case download.FailureHTMLResponse, download.FailureFormatUnavailable:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func removeVideoFiles(videoDir string) {
	entries, err := os.ReadDir(videoDir)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			controllerLogger.Emit(logger.WARNING, "Failed to read video directory %s for deletion: %v\n", videoDir, err)
		}
		return
	}

	for _, entry := range entries {
		path := filepath.Join(videoDir, entry.Name())
		if err := os.RemoveAll(path); err != nil {
			controllerLogger.Emit(logger.WARNING, "Failed to delete %s: %v\n", path, err)
		}
	}

	if err := os.Remove(videoDir); err != nil {
		controllerLogger.Emit(logger.WARNING, "Failed to remove video directory %s: %v\n", videoDir, err)
	}
}

func newDto(video *media.Video) Dto {
	return Dto{
		ID:                   video.ID,
		ChannelID:            video.ChannelID,
		Title:                video.Title,
		Description:          video.Description,
		PublishedAt:          video.PublishedAt,
		ThumbnailURL:         video.ThumbnailURL,
		Duration:             video.Duration,
		ViewCount:            video.ViewCount,
		LikeCount:            video.LikeCount,
		Downloaded:           video.Downloaded,
		DownloadedAt:         video.DownloadedAt,
		DownloadedResolution: video.DownloadedResolution,
		DownloadProgress:     video.DownloadProgress,
	}
}

func parseFilter(ec echo.Context) (media.VideoFilter, error) {
	var filter media.VideoFilter

	if channelID := ec.QueryParam("channel_id"); channelID != "" {
		filter.ChannelID = &channelID
	}

	if downloaded := ec.QueryParam("downloaded"); downloaded != "" {
		value, err := strconv.ParseBool(downloaded)
		if err != nil {
			return filter, errors.New("'downloaded' must be a boolean")
		}
		filter.Downloaded = &value
	}

	parseDate := func(name string) (*time.Time, error) {
		value := ec.QueryParam(name)
		if value == "" {
			return nil, nil
		}

		for _, layout := range []string{time.RFC3339, "2006-01-02"} {
			if at, err := time.Parse(layout, value); err == nil {
				return &at, nil
			}
		}

		return nil, fmt.Errorf("'%s' must be an RFC 3339 timestamp or YYYY-MM-DD", name)
	}

	startDate, err := parseDate("start_date")
	if err != nil {
		return filter, err
	}
	filter.StartDate = startDate

	endDate, err := parseDate("end_date")
	if err != nil {
		return filter, err
	}
	filter.EndDate = endDate

	if limit := ec.QueryParam("limit"); limit != "" {
		value, err := strconv.Atoi(limit)
		if err != nil || value < 0 {
			return filter, errors.New("'limit' must be a non-negative integer")
		}
		filter.Limit = value
	}

	if offset := ec.QueryParam("offset"); offset != "" {
		value, err := strconv.Atoi(offset)
		if err != nil || value < 0 {
			return filter, errors.New("'offset' must be a non-negative integer")
		}
		filter.Offset = value
	}

	return filter, nil
}
