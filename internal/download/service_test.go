package download_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/offtube/offtube/internal/download"
	"github.com/offtube/offtube/internal/event"
	"github.com/offtube/offtube/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() { logger.SetMinLoggingLevel(logger.ERROR.Level()) }

// fakeRunner simulates the download tool: it emits scripted output lines,
// writes scripted files in to the video directory and exits with a
// scripted error.
type fakeRunner struct {
	mu       sync.Mutex
	lines    []string
	files    map[string][]byte
	exitErr  error
	runCount int
	blockFor time.Duration
	lastArgs []string
}

func (runner *fakeRunner) Run(_ context.Context, args []string, onLine func(line string)) error {
	runner.mu.Lock()
	runner.runCount++
	runner.lastArgs = args
	runner.mu.Unlock()

	if runner.blockFor > 0 {
		time.Sleep(runner.blockFor)
	}

	videoDir := outputDirFromArgs(args)
	for name, contents := range runner.files {
		if err := os.WriteFile(filepath.Join(videoDir, name), contents, 0o644); err != nil {
			return err
		}
	}

	for _, line := range runner.lines {
		onLine(line)
	}

	return runner.exitErr
}

func (runner *fakeRunner) runs() int {
	runner.mu.Lock()
	defer runner.mu.Unlock()
	return runner.runCount
}

// outputDirFromArgs digs the per-video directory out of the '--output'
// template argument.
func outputDirFromArgs(args []string) string {
	for k, arg := range args {
		if arg == "--output" && k+1 < len(args) {
			return filepath.Dir(args[k+1])
		}
	}
	return ""
}

type fakeMerger struct {
	available bool
	err       error
	called    bool
	videoPath string
	audioPath string
}

func (merger *fakeMerger) Available() bool    { return merger.available }
func (merger *fakeMerger) BinaryPath() string { return "/usr/bin/ffmpeg" }

func (merger *fakeMerger) Merge(_ context.Context, videoPath string, audioPath string, outputPath string) error {
	merger.called = true
	merger.videoPath = videoPath
	merger.audioPath = audioPath

	if merger.err != nil {
		return merger.err
	}

	return os.WriteFile(outputPath, []byte("merged media"), 0o644)
}

type fakeCookies struct {
	present bool
	path    string
}

func (cookies *fakeCookies) Present() bool { return cookies.present }
func (cookies *fakeCookies) Path() string  { return cookies.path }

type serviceHarness struct {
	service  *download.Service
	runner   *fakeRunner
	merger   *fakeMerger
	progress download.ProgressStore
	dir      string
}

func newHarness(t *testing.T, runner *fakeRunner) *serviceHarness {
	t.Helper()

	merger := &fakeMerger{available: true}
	progress := download.NewProgressStore()
	service := download.NewWithRunner(
		download.Config{BinaryPath: "yt-dlp"},
		runner, merger, &fakeCookies{}, progress, event.New(),
	)

	return &serviceHarness{service: service, runner: runner, merger: merger, progress: progress, dir: t.TempDir()}
}

func (harness *serviceHarness) download(resolution string) download.Result {
	return harness.service.Download(context.Background(), download.Request{
		VideoID:     "video0000ab",
		Resolution:  resolution,
		DownloadDir: harness.dir,
	})
}

func (harness *serviceHarness) videoDir() string {
	return filepath.Join(harness.dir, "video0000ab")
}

func Test_FormatExpression(t *testing.T) {
	assert.Equal(t, "bestvideo[height<=720]+bestaudio/best[height<=720]", download.FormatExpression("720p"))
	assert.Equal(t, "bestvideo[height<=2160]+bestaudio/best[height<=2160]", download.FormatExpression("2160p"))
	assert.Equal(t, "bestvideo+bestaudio/best", download.FormatExpression("best"))
	assert.Equal(t, "bestvideo[height<=360]+bestaudio/best[height<=360]", download.FormatExpression("8K HDR"),
		"unknown labels fall back to a conservative low resolution")
}

func Test_Download_Success(t *testing.T) {
	runner := &fakeRunner{
		lines: []string{
			"[download]  10.0% of 120MiB at 4MiB/s",
			"[download]  55.5% of 120MiB at 4MiB/s",
			"[download] 100% of 120MiB in 00:30",
		},
		files: map[string][]byte{"My Video.mp4": []byte("binary media data")},
	}
	harness := newHarness(t, runner)

	result := harness.download("720p")

	require.True(t, result.Success, "expected success, got %s: %s", result.Kind, result.Message)
	assert.Equal(t, download.FailureNone, result.Kind)
	assert.Equal(t, filepath.Join(harness.videoDir(), "My Video.mp4"), result.MediaPath)
	assert.Equal(t, 1.0, harness.service.Progress("video0000ab"))

	marker, ok := download.ReadProgressMarker(harness.videoDir())
	require.True(t, ok)
	assert.Equal(t, 1.0, marker)
}

func Test_Download_PassesExpectedArguments(t *testing.T) {
	runner := &fakeRunner{files: map[string][]byte{"v.mp4": []byte("data")}}
	merger := &fakeMerger{available: true}
	progress := download.NewProgressStore()
	cookies := &fakeCookies{present: true, path: "/data/cookies.txt"}
	service := download.NewWithRunner(download.Config{BinaryPath: "yt-dlp"}, runner, merger, cookies, progress, event.New())

	result := service.Download(context.Background(), download.Request{
		VideoID: "video0000ab", Resolution: "1080p", DownloadDir: t.TempDir(),
	})
	require.True(t, result.Success)

	args := strings.Join(runner.lastArgs, " ")
	assert.Contains(t, args, "https://www.youtube.com/watch?v=video0000ab")
	assert.Contains(t, args, "--format bestvideo[height<=1080]+bestaudio/best[height<=1080]")
	assert.Contains(t, args, "--no-continue")
	assert.Contains(t, args, "--no-playlist")
	assert.Contains(t, args, "--force-overwrites")
	assert.Contains(t, args, "--merge-output-format mp4")
	assert.Contains(t, args, "--geo-bypass")
	assert.Contains(t, args, "--retries 10")
	assert.Contains(t, args, "--socket-timeout 30")
	assert.Contains(t, args, "--cookies /data/cookies.txt")
	assert.Contains(t, args, "--ffmpeg-location /usr/bin/ffmpeg")
	assert.Contains(t, args, "--user-agent")
	assert.Contains(t, args, "--referer https://www.youtube.com/")
}

func Test_Download_OmitsCookiesWhenAbsent(t *testing.T) {
	runner := &fakeRunner{files: map[string][]byte{"v.mp4": []byte("data")}}
	harness := newHarness(t, runner)

	result := harness.download("720p")

	require.True(t, result.Success)
	assert.NotContains(t, strings.Join(runner.lastArgs, " "), "--cookies")
}

func Test_Download_ProgressTracking(t *testing.T) {
	runner := &fakeRunner{
		lines: []string{
			"[youtube] video0000ab: Downloading webpage",
			"[download] Destination: My Video.f137.mp4",
			"[download]  42.0% of 120MiB at 4MiB/s ETA 00:20",
			"not a progress line at all",
		},
		exitErr: errors.New("interrupted"),
	}
	harness := newHarness(t, runner)

	result := harness.download("720p")

	require.False(t, result.Success)
	assert.Equal(t, 0.0, harness.service.Progress("video0000ab"),
		"failed downloads evict the in-memory progress entry")

	marker, ok := download.ReadProgressMarker(harness.videoDir())
	require.True(t, ok)
	assert.Equal(t, 0.42, marker, "the durable marker keeps the last observed fraction")
}

func Test_Download_FailureClassification(t *testing.T) {
	tests := []struct {
		Summary      string
		Lines        []string
		ExitErr      error
		Files        map[string][]byte
		ExpectedKind download.FailureKind
	}{
		{
			Summary:      "exit success with zero media files",
			ExitErr:      nil,
			ExpectedKind: download.FailureNoFiles,
		},
		{
			Summary:      "age gate detected in output",
			Lines:        []string{"ERROR: Sign in to confirm your age. This video may be inappropriate for some users."},
			ExitErr:      errors.New("exit status 1"),
			ExpectedKind: download.FailureAuthRequired,
		},
		{
			Summary:      "bot check detected in output",
			Lines:        []string{"ERROR: Sign in to confirm you're not a bot."},
			ExitErr:      errors.New("exit status 1"),
			ExpectedKind: download.FailureAuthRequired,
		},
		{
			Summary:      "requested format unavailable",
			Lines:        []string{"ERROR: Requested format not available. Use --list-formats for a list of available formats"},
			ExitErr:      errors.New("exit status 1"),
			ExpectedKind: download.FailureFormatUnavailable,
		},
		{
			Summary:      "plain non-zero exit",
			Lines:        []string{"ERROR: something entirely different went wrong"},
			ExitErr:      errors.New("exit status 1"),
			ExpectedKind: download.FailureDownloadFailed,
		},
	}

	for _, test := range tests {
		t.Run(test.Summary, func(t *testing.T) {
			runner := &fakeRunner{lines: test.Lines, files: test.Files, exitErr: test.ExitErr}
			harness := newHarness(t, runner)

			result := harness.download("720p")

			assert.False(t, result.Success)
			assert.Equal(t, test.ExpectedKind, result.Kind)
			assert.Equal(t, 0.0, harness.service.Progress("video0000ab"))
		})
	}
}

func Test_Download_HTMLArtifactIsDeleted(t *testing.T) {
	runner := &fakeRunner{files: map[string][]byte{
		"My Video.mp4": []byte("<!DOCTYPE HTML><html><body>Sign in</body></html>"),
	}}
	harness := newHarness(t, runner)

	result := harness.download("720p")

	require.False(t, result.Success)
	assert.Equal(t, download.FailureHTMLResponse, result.Kind)
	assert.NoFileExists(t, filepath.Join(harness.videoDir(), "My Video.mp4"))
}

func Test_Download_HTMLExtensionIsDeleted(t *testing.T) {
	runner := &fakeRunner{files: map[string][]byte{
		"error_page.html": []byte("whatever the content"),
	}}
	harness := newHarness(t, runner)

	result := harness.download("720p")

	require.False(t, result.Success)
	assert.Equal(t, download.FailureHTMLResponse, result.Kind)
	assert.NoFileExists(t, filepath.Join(harness.videoDir(), "error_page.html"))
}

func Test_Download_MergesSplitFiles(t *testing.T) {
	runner := &fakeRunner{files: map[string][]byte{
		"My Video.f137.mp4": []byte("video only stream"),
		"My Video.f140.m4a": []byte("audio only stream"),
	}}
	harness := newHarness(t, runner)

	result := harness.download("1080p")

	require.True(t, result.Success)
	assert.True(t, harness.merger.called)
	assert.NoFileExists(t, harness.merger.videoPath, "video source removed after successful merge")
	assert.NoFileExists(t, harness.merger.audioPath, "audio source removed after successful merge")
	assert.FileExists(t, filepath.Join(harness.videoDir(), "My Video.f137_merged.mp4"))
}

func Test_Download_FailedMergeKeepsSources(t *testing.T) {
	runner := &fakeRunner{files: map[string][]byte{
		"My Video.f137.mp4": []byte("video only stream"),
		"My Video.f140.m4a": []byte("audio only stream"),
	}}
	harness := newHarness(t, runner)
	harness.merger.err = errors.New("ffmpeg exploded")

	result := harness.download("1080p")

	require.True(t, result.Success, "a failed merge is a warning, not a download failure")
	assert.FileExists(t, filepath.Join(harness.videoDir(), "My Video.f137.mp4"))
	assert.FileExists(t, filepath.Join(harness.videoDir(), "My Video.f140.m4a"))
}

func Test_Download_CoalescesConcurrentRequests(t *testing.T) {
	runner := &fakeRunner{
		blockFor: 100 * time.Millisecond,
		files:    map[string][]byte{"v.mp4": []byte("data")},
	}
	harness := newHarness(t, runner)

	var wg sync.WaitGroup
	results := make([]download.Result, 4)
	for k := range results {
		wg.Add(1)
		go func(k int) {
			defer wg.Done()
			results[k] = harness.download("720p")
		}(k)
	}
	wg.Wait()

	assert.Equal(t, 1, runner.runs(), "concurrent requests for the same video share one run")
	for _, result := range results {
		assert.True(t, result.Success)
	}
}

func Test_ProgressStore(t *testing.T) {
	store := download.NewProgressStore()

	_, ok := store.Get("video0000ab")
	assert.False(t, ok)

	store.Set("video0000ab", 0.5)
	progress, ok := store.Get("video0000ab")
	require.True(t, ok)
	assert.Equal(t, 0.5, progress)

	store.Evict("video0000ab")
	_, ok = store.Get("video0000ab")
	assert.False(t, ok)
}

func Test_ProgressMarker(t *testing.T) {
	dir := t.TempDir()

	_, ok := download.ReadProgressMarker(dir)
	assert.False(t, ok, "no marker before one is written")

	download.WriteProgressMarker(dir, 0.73)
	marker, ok := download.ReadProgressMarker(dir)
	require.True(t, ok)
	assert.Equal(t, 0.73, marker)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "progress.txt"), []byte("garbage"), 0o644))
	_, ok = download.ReadProgressMarker(dir)
	assert.False(t, ok, "unparseable markers are ignored")
}
