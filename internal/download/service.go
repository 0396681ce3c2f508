// Orchestrates the download of a single video via the yt-dlp binary,
// tracking progress, repairing split audio/video output and classifying
// failures in to actionable kinds.
package download

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/offtube/offtube/internal/event"
	"github.com/offtube/offtube/pkg/logger"
	"golang.org/x/sync/singleflight"
)

var log = logger.Get("DownloadServ")

const (
	defaultUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/122.0.0.0 Safari/537.36"
	defaultReferer   = "https://www.youtube.com/"

	// fallbackFormat is used when the requested resolution label is not
	// recognized; a conservative low resolution beats failing outright.
	fallbackFormat = "bestvideo[height<=360]+bestaudio/best[height<=360]"
)

var formatExpressions = map[string]string{
	"480p":  "bestvideo[height<=480]+bestaudio/best[height<=480]",
	"720p":  "bestvideo[height<=720]+bestaudio/best[height<=720]",
	"1080p": "bestvideo[height<=1080]+bestaudio/best[height<=1080]",
	"1440p": "bestvideo[height<=1440]+bestaudio/best[height<=1440]",
	"2160p": "bestvideo[height<=2160]+bestaudio/best[height<=2160]",
	"best":  "bestvideo+bestaudio/best",
}

var (
	progressPattern = regexp.MustCompile(`^\[download\]\s+([0-9.]+)%`)

	videoFileExtensions = map[string]bool{".mp4": true, ".webm": true}
	audioFileExtensions = map[string]bool{".m4a": true, ".mp3": true}
)

type (
	Config struct {
		BinaryPath string `yaml:"binary_path" env:"YTDLP_BINARY" env-default:"yt-dlp"`
		UserAgent  string `yaml:"user_agent" env:"DOWNLOAD_USER_AGENT"`
		Referer    string `yaml:"referer" env:"DOWNLOAD_REFERER"`
	}

	// Request describes one download orchestration run. DownloadDir is
	// the library root; the run owns <DownloadDir>/<VideoID>/.
	Request struct {
		VideoID     string
		Resolution  string
		DownloadDir string
	}

	// Runner executes the download subprocess, invoking onLine with each
	// line of output as it is produced so progress can be tracked live.
	Runner interface {
		Run(ctx context.Context, args []string, onLine func(line string)) error
	}

	merger interface {
		Available() bool
		BinaryPath() string
		Merge(ctx context.Context, videoPath string, audioPath string, outputPath string) error
	}

	cookieSource interface {
		Present() bool
		Path() string
	}

	Service struct {
		config   Config
		runner   Runner
		merger   merger
		cookies  cookieSource
		progress ProgressStore
		eventBus event.EventCoordinator

		// Concurrent download requests for the same video ID share one
		// orchestration run rather than racing on the same directory.
		group singleflight.Group
	}

	execRunner struct {
		binaryPath string
	}
)

func (runner *execRunner) Run(ctx context.Context, args []string, onLine func(line string)) error {
	cmd := exec.CommandContext(ctx, runner.binaryPath, args...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to open stdout pipe: %w", err)
	}
	cmd.Stderr = cmd.Stdout

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start %s: %w", runner.binaryPath, err)
	}

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		onLine(scanner.Text())
	}

	return cmd.Wait()
}

func New(config Config, mergeTool merger, cookies cookieSource, progress ProgressStore, eventBus event.EventCoordinator) *Service {
	if config.UserAgent == "" {
		config.UserAgent = defaultUserAgent
	}
	if config.Referer == "" {
		config.Referer = defaultReferer
	}

	return NewWithRunner(config, &execRunner{binaryPath: config.BinaryPath}, mergeTool, cookies, progress, eventBus)
}

func NewWithRunner(config Config, runner Runner, mergeTool merger, cookies cookieSource, progress ProgressStore, eventBus event.EventCoordinator) *Service {
	if config.UserAgent == "" {
		config.UserAgent = defaultUserAgent
	}
	if config.Referer == "" {
		config.Referer = defaultReferer
	}

	return &Service{
		config:   config,
		runner:   runner,
		merger:   mergeTool,
		cookies:  cookies,
		progress: progress,
		eventBus: eventBus,
	}
}

// FormatExpression resolves a resolution label to the format-selection
// expression handed to the download tool.
func FormatExpression(resolution string) string {
	if expression, ok := formatExpressions[resolution]; ok {
		return expression
	}

	log.Emit(logger.WARNING, "Unrecognized resolution label %q, falling back to conservative format\n", resolution)
	return fallbackFormat
}

// Progress returns the best-effort in-memory progress for a video, or 0.0
// when no download is in flight. Callers wanting a restart-surviving value
// should fall back to the durable record.
func (service *Service) Progress(videoID string) float64 {
	if progress, ok := service.progress.Get(videoID); ok {
		return progress
	}

	return 0.0
}

// Download runs the full orchestration for one video. Calls for the same
// video ID are coalesced: concurrent callers block on and share the outcome
// of the run already in flight.
func (service *Service) Download(ctx context.Context, request Request) Result {
	outcome, _, _ := service.group.Do(request.VideoID, func() (any, error) {
		return service.download(ctx, request), nil
	})

	return outcome.(Result)
}

func (service *Service) download(ctx context.Context, request Request) (result Result) {
	defer func() {
		if recovered := recover(); recovered != nil {
			log.Emit(logger.ERROR, "Download of %s panicked: %v\n", request.VideoID, recovered)
			service.progress.Evict(request.VideoID)
			result = failed(FailureException, fmt.Sprintf("Unexpected failure during download: %v", recovered))
		}

		if !result.Success {
			service.progress.Evict(request.VideoID)
			service.eventBus.Dispatch(event.DownloadFailedEvent, request.VideoID)
		}
	}()

	videoDir := filepath.Join(request.DownloadDir, request.VideoID)
	if err := os.MkdirAll(videoDir, 0o755); err != nil {
		return failed(FailureException, fmt.Sprintf("Failed to create download directory: %v", err))
	}

	service.progress.Set(request.VideoID, 0.0)
	WriteProgressMarker(videoDir, 0.0)

	log.Emit(logger.NEW, "Starting download of %s at %s\n", request.VideoID, request.Resolution)

	var output strings.Builder
	runErr := service.runner.Run(ctx, service.buildArgs(request, videoDir), func(line string) {
		output.WriteString(line)
		output.WriteByte('\n')

		if fraction, ok := parseProgressLine(line); ok {
			service.progress.Set(request.VideoID, fraction)
			WriteProgressMarker(videoDir, fraction)
			service.eventBus.Dispatch(event.DownloadProgressEvent, request.VideoID)
		}
	})

	if runErr != nil {
		return classifyRunFailure(request, runErr, output.String())
	}

	// The tool occasionally writes an HTML error page where the media
	// should be; such files are deleted before they can be served.
	sawHTML := service.purgeHTMLArtifacts(videoDir)

	service.mergeSplitDownload(ctx, request.VideoID, videoDir)

	mediaPath, found := findPrimaryMediaFile(videoDir)
	if !found {
		if sawHTML {
			return failed(FailureHTMLResponse, "The source returned a web page instead of media. Authentication is likely required; upload a fresh cookie file.")
		}

		return failed(FailureNoFiles, "Download completed, but no media files were found.")
	}

	service.progress.Set(request.VideoID, 1.0)
	WriteProgressMarker(videoDir, 1.0)
	service.eventBus.Dispatch(event.DownloadCompleteEvent, request.VideoID)

	log.Emit(logger.SUCCESS, "Downloaded %s to %s\n", request.VideoID, mediaPath)
	return succeeded(mediaPath)
}

func (service *Service) buildArgs(request Request, videoDir string) []string {
	args := []string{
		fmt.Sprintf("https://www.youtube.com/watch?v=%s", request.VideoID),
		"--format", FormatExpression(request.Resolution),
		"--output", filepath.Join(videoDir, "%(title)s.%(ext)s"),
		"--no-continue",
		"--no-playlist",
		"--force-overwrites",
		"--merge-output-format", "mp4",
		"--geo-bypass",
		"--retries", "10",
		"--socket-timeout", "30",
		"--newline", "--progress", "--no-colors",
		"--user-agent", service.config.UserAgent,
		"--referer", service.config.Referer,
	}

	if service.merger.Available() {
		args = append(args, "--ffmpeg-location", service.merger.BinaryPath())
	} else {
		log.Emit(logger.WARNING, "ffmpeg not found, download of %s may produce split audio/video files\n", request.VideoID)
	}

	if service.cookies.Present() {
		args = append(args, "--cookies", service.cookies.Path())
	}

	return args
}

// parseProgressLine extracts the completion fraction from a
// '[download]  42.0% of ...' progress line.
func parseProgressLine(line string) (float64, bool) {
	match := progressPattern.FindStringSubmatch(strings.TrimSpace(line))
	if match == nil {
		return 0, false
	}

	percent, err := strconv.ParseFloat(match[1], 64)
	if err != nil || percent < 0 || percent > 100 {
		return 0, false
	}

	return percent / 100, true
}

func classifyRunFailure(request Request, runErr error, output string) Result {
	log.Emit(logger.ERROR, "Download tool failed for %s: %v\n", request.VideoID, runErr)

	lowered := strings.ToLower(output)
	switch {
	case strings.Contains(lowered, "sign in to confirm"):
		return failed(FailureAuthRequired, "The source requires authentication to download this video. Upload a cookies.txt file exported from a signed-in browser session.")
	case strings.Contains(lowered, "requested format not available"),
		strings.Contains(lowered, "requested format is not available"):
		return failed(FailureFormatUnavailable, fmt.Sprintf("The requested format (%s) is not available. Try a different resolution.", request.Resolution))
	default:
		return failed(FailureDownloadFailed, fmt.Sprintf("Failed to download video %s. Check server logs for details.", request.VideoID))
	}
}

// purgeHTMLArtifacts deletes any produced file which is actually an HTML
// document, reporting whether any were found.
func (service *Service) purgeHTMLArtifacts(videoDir string) bool {
	entries, err := os.ReadDir(videoDir)
	if err != nil {
		return false
	}

	sawHTML := false
	for _, entry := range entries {
		if entry.IsDir() || entry.Name() == progressMarkerName {
			continue
		}

		path := filepath.Join(videoDir, entry.Name())
		if isHTMLDocument(path) {
			log.Emit(logger.WARNING, "Deleting HTML artifact %s produced by download tool\n", path)
			if err := os.Remove(path); err != nil {
				log.Emit(logger.ERROR, "Failed to delete HTML artifact %s: %v\n", path, err)
			}
			sawHTML = true
		}
	}

	return sawHTML
}

func isHTMLDocument(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".html", ".htm":
		return true
	}

	file, err := os.Open(path)
	if err != nil {
		return false
	}
	defer file.Close()

	header := make([]byte, 1024)
	n, _ := file.Read(header)
	lowered := bytes.ToLower(header[:n])

	return bytes.Contains(lowered, []byte("<html")) || bytes.Contains(lowered, []byte("<!doctype html"))
}

// mergeSplitDownload repairs downloads where the tool left separate
// video-only and audio-only files. The source files are only removed once
// the merge reports success; a failed merge keeps them and logs a warning
// rather than losing data.
func (service *Service) mergeSplitDownload(ctx context.Context, videoID string, videoDir string) {
	videoFiles, audioFiles := scanMediaFiles(videoDir)
	if len(videoFiles) == 0 || len(audioFiles) == 0 {
		return
	}

	videoPath := videoFiles[0]
	audioPath := audioFiles[0]
	stem := strings.TrimSuffix(filepath.Base(videoPath), filepath.Ext(videoPath))
	outputPath := filepath.Join(videoDir, stem+"_merged.mp4")

	log.Emit(logger.INFO, "Merging split audio/video files for %s\n", videoID)
	if err := service.merger.Merge(ctx, videoPath, audioPath, outputPath); err != nil {
		log.Emit(logger.WARNING, "Failed to merge files for %s, keeping sources: %v\n", videoID, err)
		return
	}

	for _, path := range []string{videoPath, audioPath} {
		if err := os.Remove(path); err != nil {
			log.Emit(logger.WARNING, "Failed to remove merged source %s: %v\n", path, err)
		}
	}
}

func scanMediaFiles(videoDir string) (videoFiles []string, audioFiles []string) {
	entries, err := os.ReadDir(videoDir)
	if err != nil {
		return nil, nil
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		path := filepath.Join(videoDir, entry.Name())
		switch ext := strings.ToLower(filepath.Ext(entry.Name())); {
		case videoFileExtensions[ext]:
			videoFiles = append(videoFiles, path)
		case audioFileExtensions[ext]:
			audioFiles = append(audioFiles, path)
		}
	}

	return videoFiles, audioFiles
}

// findPrimaryMediaFile returns the file a successful download should be
// recorded against: merged/container files are preferred over bare audio.
func findPrimaryMediaFile(videoDir string) (string, bool) {
	videoFiles, audioFiles := scanMediaFiles(videoDir)
	if len(videoFiles) > 0 {
		return videoFiles[0], true
	}
	if len(audioFiles) > 0 {
		return audioFiles[0], true
	}

	return "", false
}
