package videos_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/offtube/offtube/internal/api/videos"
	"github.com/offtube/offtube/internal/download"
	"github.com/offtube/offtube/internal/media"
	"github.com/offtube/offtube/internal/youtube"
	"github.com/offtube/offtube/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	logger.SetMinLoggingLevel(logger.ERROR.Level())
}

const testVideoID = "video0000ab"

type markCall struct {
	videoID    string
	resolution string
	localPath  string
}

type stubStore struct {
	video    *media.Video
	channel  *media.Channel
	settings *media.Settings
	videos   []*media.Video
	created  []*media.Video
	marked   []markCall
	deleted  []string
}

func (stub *stubStore) GetVideo(videoID string) (*media.Video, error) {
	if stub.video != nil && stub.video.ID == videoID {
		return stub.video, nil
	}
	return nil, media.ErrVideoNotFound
}

func (stub *stubStore) ListVideos(media.VideoFilter) ([]*media.Video, error) {
	return stub.videos, nil
}

func (stub *stubStore) CountVideos(media.VideoFilter) (int, error) {
	return len(stub.videos), nil
}

func (stub *stubStore) CreateVideos(videos []*media.Video) error {
	stub.created = append(stub.created, videos...)
	return nil
}

func (stub *stubStore) GetChannel(channelID string) (*media.Channel, error) {
	if stub.channel != nil && stub.channel.ID == channelID {
		return stub.channel, nil
	}
	return nil, media.ErrChannelNotFound
}

func (stub *stubStore) SaveChannel(channel *media.Channel) error {
	stub.channel = channel
	return nil
}

func (stub *stubStore) DeleteVideo(videoID string) error {
	stub.deleted = append(stub.deleted, videoID)
	return nil
}

func (stub *stubStore) MarkVideoDownloaded(videoID string, resolution string, localPath string, _ time.Time) error {
	stub.marked = append(stub.marked, markCall{videoID, resolution, localPath})
	return nil
}

func (stub *stubStore) GetSettings() (*media.Settings, error) {
	return stub.settings, nil
}

type stubDownloads struct {
	result      download.Result
	progress    float64
	lastRequest download.Request
}

func (stub *stubDownloads) Download(_ context.Context, request download.Request) download.Result {
	stub.lastRequest = request
	return stub.result
}

func (stub *stubDownloads) Progress(string) float64 { return stub.progress }

type stubMetadata struct {
	videoRecord   *youtube.VideoRecord
	channelRecord *youtube.ChannelRecord
}

func (stub *stubMetadata) VideoInfo(context.Context, string) (*youtube.VideoRecord, error) {
	if stub.videoRecord == nil {
		return nil, youtube.ErrVideoNotFound
	}
	return stub.videoRecord, nil
}

func (stub *stubMetadata) ChannelInfo(context.Context, string) (*youtube.ChannelRecord, error) {
	if stub.channelRecord == nil {
		return nil, youtube.ErrChannelNotFound
	}
	return stub.channelRecord, nil
}

func performRequest(store videos.Store, downloads videos.DownloadService, request *http.Request) *httptest.ResponseRecorder {
	return performRequestWithMetadata(store, &stubMetadata{}, downloads, request)
}

func performRequestWithMetadata(store videos.Store, metadata videos.MetadataService, downloads videos.DownloadService, request *http.Request) *httptest.ResponseRecorder {
	ec := echo.New()
	videos.New(validator.New(), store, metadata, downloads).SetRoutes(ec.Group(""))

	recorder := httptest.NewRecorder()
	ec.ServeHTTP(recorder, request)
	return recorder
}

// newDownloadedVideo creates a media file on disk and returns a store whose
// settings point at its parent directory.
func newDownloadedVideo(t *testing.T, contents string) *stubStore {
	downloadDir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(downloadDir, testVideoID), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(downloadDir, testVideoID, testVideoID+".mp4"), []byte(contents), 0o644))

	return &stubStore{
		video:    &media.Video{ID: testVideoID, Title: "Some Video", Downloaded: true},
		settings: &media.Settings{DownloadDirectory: downloadDir, DefaultResolution: "720p"},
	}
}

func TestStream_ServesFullFileWithoutRange(t *testing.T) {
	store := newDownloadedVideo(t, "0123456789abcdef")

	request := httptest.NewRequest(http.MethodGet, "/"+testVideoID+"/stream/", nil)
	recorder := performRequest(store, &stubDownloads{}, request)

	assert.Equal(t, http.StatusOK, recorder.Code)
	assert.Equal(t, "0123456789abcdef", recorder.Body.String())
	assert.Equal(t, "bytes", recorder.Header().Get("Accept-Ranges"))
	assert.Equal(t, "16", recorder.Header().Get(echo.HeaderContentLength))
	assert.Contains(t, recorder.Header().Get(echo.HeaderContentDisposition), `"Some Video.mp4"`)
}

func TestStream_HonoursByteRange(t *testing.T) {
	store := newDownloadedVideo(t, "0123456789abcdef")

	request := httptest.NewRequest(http.MethodGet, "/"+testVideoID+"/stream/", nil)
	request.Header.Set("Range", "bytes=4-7")
	recorder := performRequest(store, &stubDownloads{}, request)

	assert.Equal(t, http.StatusPartialContent, recorder.Code)
	assert.Equal(t, "4567", recorder.Body.String())
	assert.Equal(t, "bytes 4-7/16", recorder.Header().Get("Content-Range"))
	assert.Equal(t, "4", recorder.Header().Get(echo.HeaderContentLength))
}

func TestStream_MalformedRangeReturnsFullFile(t *testing.T) {
	store := newDownloadedVideo(t, "0123456789abcdef")

	request := httptest.NewRequest(http.MethodGet, "/"+testVideoID+"/stream/", nil)
	request.Header.Set("Range", "bytes=seven-ten")
	recorder := performRequest(store, &stubDownloads{}, request)

	assert.Equal(t, http.StatusOK, recorder.Code)
	assert.Equal(t, "0123456789abcdef", recorder.Body.String())
	assert.Empty(t, recorder.Header().Get("Content-Range"))
}

func TestStream_RejectsUndownloadedVideo(t *testing.T) {
	store := newDownloadedVideo(t, "irrelevant")
	store.video.Downloaded = false

	request := httptest.NewRequest(http.MethodGet, "/"+testVideoID+"/stream/", nil)
	recorder := performRequest(store, &stubDownloads{}, request)

	assert.Equal(t, http.StatusBadRequest, recorder.Code)
}

func TestStream_UnknownVideoNotFound(t *testing.T) {
	store := newDownloadedVideo(t, "irrelevant")

	request := httptest.NewRequest(http.MethodGet, "/nosuchvideo/stream/", nil)
	recorder := performRequest(store, &stubDownloads{}, request)

	assert.Equal(t, http.StatusNotFound, recorder.Code)
}

func TestDownload_StatusReflectsFailureKind(t *testing.T) {
	tests := []struct {
		name           string
		kind           download.FailureKind
		expectedStatus int
	}{
		{"AuthRequired", download.FailureAuthRequired, http.StatusForbidden},
		{"HTMLResponse", download.FailureHTMLResponse, http.StatusBadRequest},
		{"FormatUnavailable", download.FailureFormatUnavailable, http.StatusBadRequest},
		{"NoFiles", download.FailureNoFiles, http.StatusInternalServerError},
		{"DownloadFailed", download.FailureDownloadFailed, http.StatusInternalServerError},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			store := newDownloadedVideo(t, "irrelevant")
			downloads := &stubDownloads{result: download.Result{Success: false, Kind: test.kind}}

			request := httptest.NewRequest(http.MethodPost, "/"+testVideoID+"/download/", nil)
			recorder := performRequest(store, downloads, request)

			assert.Equal(t, test.expectedStatus, recorder.Code)
			assert.Empty(t, store.marked)
		})
	}
}

func TestDownload_SuccessRecordsDownloadState(t *testing.T) {
	store := newDownloadedVideo(t, "irrelevant")
	downloads := &stubDownloads{result: download.Result{Success: true, MediaPath: "/library/video0000ab/video0000ab.mp4"}}

	request := httptest.NewRequest(http.MethodPost, "/"+testVideoID+"/download/", strings.NewReader(`{"resolution": "1080p"}`))
	request.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	recorder := performRequest(store, downloads, request)

	assert.Equal(t, http.StatusOK, recorder.Code)
	assert.Equal(t, "1080p", downloads.lastRequest.Resolution)
	require.Len(t, store.marked, 1)
	assert.Equal(t, markCall{testVideoID, "1080p", "/library/video0000ab/video0000ab.mp4"}, store.marked[0])
}

func TestDownload_DefaultsToConfiguredResolution(t *testing.T) {
	store := newDownloadedVideo(t, "irrelevant")
	downloads := &stubDownloads{result: download.Result{Success: true, MediaPath: "/library/video0000ab/video0000ab.mp4"}}

	request := httptest.NewRequest(http.MethodPost, "/"+testVideoID+"/download/", nil)
	recorder := performRequest(store, downloads, request)

	assert.Equal(t, http.StatusOK, recorder.Code)
	assert.Equal(t, "720p", downloads.lastRequest.Resolution)
}

func TestDownload_RejectsUnknownResolution(t *testing.T) {
	store := newDownloadedVideo(t, "irrelevant")
	downloads := &stubDownloads{}

	request := httptest.NewRequest(http.MethodPost, "/"+testVideoID+"/download/", strings.NewReader(`{"resolution": "144p"}`))
	request.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	recorder := performRequest(store, downloads, request)

	assert.Equal(t, http.StatusBadRequest, recorder.Code)
}

func TestProgress_FallsBackToDurableRecord(t *testing.T) {
	store := newDownloadedVideo(t, "irrelevant")
	store.video.DownloadProgress = 0.42

	request := httptest.NewRequest(http.MethodGet, "/"+testVideoID+"/progress/", nil)
	recorder := performRequest(store, &stubDownloads{progress: 0.0}, request)

	assert.Equal(t, http.StatusOK, recorder.Code)
	assert.Contains(t, recorder.Body.String(), `"progress":0.42`)
}

func TestDelete_RemovesRowAndFiles(t *testing.T) {
	store := newDownloadedVideo(t, "to be deleted")
	videoDir := filepath.Join(store.settings.DownloadDirectory, testVideoID)

	request := httptest.NewRequest(http.MethodDelete, "/"+testVideoID+"/", nil)
	recorder := performRequest(store, &stubDownloads{}, request)

	assert.Equal(t, http.StatusNoContent, recorder.Code)
	assert.Equal(t, []string{testVideoID}, store.deleted)
	assert.NoDirExists(t, videoDir)
}

func TestIngest_CreatesVideoAndChannel(t *testing.T) {
	store := &stubStore{settings: &media.Settings{}}
	metadata := &stubMetadata{
		videoRecord:   &youtube.VideoRecord{ID: "newvideo001", ChannelID: "UCsomechannel00000000", Title: "Brand New"},
		channelRecord: &youtube.ChannelRecord{ID: "UCsomechannel00000000", Title: "Some Channel"},
	}

	request := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"videoId": "newvideo001"}`))
	request.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	recorder := performRequestWithMetadata(store, metadata, &stubDownloads{}, request)

	assert.Equal(t, http.StatusCreated, recorder.Code)
	require.Len(t, store.created, 1)
	assert.Equal(t, "newvideo001", store.created[0].ID)
	require.NotNil(t, store.channel)
	assert.Equal(t, "Some Channel", store.channel.Title)
}

func TestIngest_SavesPlaceholderWhenChannelLookupFails(t *testing.T) {
	store := &stubStore{settings: &media.Settings{}}
	metadata := &stubMetadata{
		videoRecord: &youtube.VideoRecord{ID: "newvideo001", ChannelID: "UCsomechannel00000000", Title: "Brand New"},
	}

	request := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"videoId": "newvideo001"}`))
	request.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	recorder := performRequestWithMetadata(store, metadata, &stubDownloads{}, request)

	assert.Equal(t, http.StatusCreated, recorder.Code)
	require.NotNil(t, store.channel)
	assert.Equal(t, "Unknown Channel", store.channel.Title)
}

func TestIngest_ExistingVideoReturnedWithoutLookup(t *testing.T) {
	store := newDownloadedVideo(t, "irrelevant")

	request := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"videoId": "`+testVideoID+`"}`))
	request.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	recorder := performRequest(store, &stubDownloads{}, request)

	assert.Equal(t, http.StatusOK, recorder.Code)
	assert.Empty(t, store.created)
}

func TestIngest_UnknownVideoNotFound(t *testing.T) {
	store := &stubStore{settings: &media.Settings{}}

	request := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"videoId": "nosuchvideo"}`))
	request.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	recorder := performRequest(store, &stubDownloads{}, request)

	assert.Equal(t, http.StatusNotFound, recorder.Code)
	assert.Empty(t, store.created)
}

func TestList_RejectsMalformedFilter(t *testing.T) {
	store := newDownloadedVideo(t, "irrelevant")

	for _, query := range []string{"downloaded=banana", "limit=-4", "start_date=notadate"} {
		request := httptest.NewRequest(http.MethodGet, "/?"+query, nil)
		recorder := performRequest(store, &stubDownloads{}, request)
		assert.Equal(t, http.StatusBadRequest, recorder.Code, "query %q should be rejected", query)
	}
}
