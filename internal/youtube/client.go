// Wraps the yt-dlp binary to provide normalized metadata extraction for
// channels, videos and the authenticated subscription feed.
package youtube

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/offtube/offtube/pkg/logger"
)

var log = logger.Get("YouTube")

var (
	ErrChannelNotFound = errors.New("channel could not be found")
	ErrVideoNotFound   = errors.New("video could not be found")
	ErrUnauthenticated = errors.New("authentication cookies are required but missing")
)

// channelVideoLimit bounds how many entries a single channel fetch will
// extract; without it a first fetch of a large channel takes minutes.
const channelVideoLimit = 30

type (
	Config struct {
		BinaryPath string `yaml:"binary_path" env:"YTDLP_BINARY" env-default:"yt-dlp"`
	}

	// Runner abstracts the subprocess execution so tests can substitute
	// canned output for the real binary.
	Runner interface {
		Run(ctx context.Context, args ...string) ([]byte, error)
	}

	// DateWindow is an inclusive publication date filter. Nil bounds are
	// open ended.
	DateWindow struct {
		Start *time.Time
		End   *time.Time
	}

	Client struct {
		runner  Runner
		cookies *CookieFile
	}

	execRunner struct {
		binaryPath string
	}
)

func (runner *execRunner) Run(ctx context.Context, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, runner.binaryPath, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return stdout.Bytes(), fmt.Errorf("%s failed: %w: %s", runner.binaryPath, err, lastLine(stderr.String()))
	}

	return stdout.Bytes(), nil
}

func New(config Config, cookies *CookieFile) *Client {
	return NewWithRunner(&execRunner{binaryPath: config.BinaryPath}, cookies)
}

func NewWithRunner(runner Runner, cookies *CookieFile) *Client {
	return &Client{runner: runner, cookies: cookies}
}

func (client *Client) Cookies() *CookieFile { return client.cookies }

// ChannelVideos extracts recent video metadata for the given channel,
// optionally constrained to an inclusive publication date window. Entries
// which fail to decode are skipped with a warning rather than failing the
// whole fetch.
func (client *Client) ChannelVideos(ctx context.Context, channelID string, window DateWindow) ([]VideoRecord, error) {
	args := []string{
		"--dump-json", "--no-download",
		"--ignore-no-formats-error", "--no-warnings",
		"--playlist-end", fmt.Sprint(channelVideoLimit),
	}

	if window.Start != nil {
		args = append(args, "--dateafter", window.Start.UTC().Format("20060102"))
	}
	if window.End != nil {
		args = append(args, "--datebefore", window.End.UTC().Format("20060102"))
	}

	// Channels list newest first, so rejection of an out-of-window video
	// means everything after it is out of window too.
	args = append(args, "--break-on-reject", fmt.Sprintf("https://www.youtube.com/channel/%s/videos", channelID))

	log.Emit(logger.DEBUG, "Fetching videos for channel %s (window start=%v end=%v)\n", channelID, window.Start, window.End)
	output, err := client.runner.Run(ctx, args...)
	if err != nil && len(output) == 0 {
		return nil, fmt.Errorf("failed to fetch videos for channel %s: %w", channelID, err)
	}

	records := make([]VideoRecord, 0)
	scanner := bufio.NewScanner(bytes.NewReader(output))
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		record, err := DecodeVideoRecord(line)
		if err != nil {
			log.Emit(logger.WARNING, "Skipping malformed metadata line from channel %s fetch: %v\n", channelID, err)
			continue
		}

		if record.ChannelID == "" {
			record.ChannelID = channelID
		}
		records = append(records, record)
	}

	log.Emit(logger.INFO, "Fetched %d videos for channel %s\n", len(records), channelID)
	return records, nil
}

// ChannelInfo extracts the metadata of a single channel. The identifier may
// be a handle, a canonical 'UC…' ID or a legacy custom name; the returned
// record always carries the canonical ID when the extractor reports one.
func (client *Client) ChannelInfo(ctx context.Context, channelID string) (*ChannelRecord, error) {
	output, err := client.runner.Run(ctx,
		"--dump-single-json", "--no-download",
		"--playlist-end", "1",
		"--ignore-no-formats-error", "--no-warnings",
		"--socket-timeout", "10",
		ChannelURL(channelID),
	)
	if err != nil {
		log.Emit(logger.WARNING, "Channel info extraction for %s failed: %v\n", channelID, err)
		return nil, ErrChannelNotFound
	}

	var info struct {
		ChannelID   string `json:"channel_id"`
		Title       string `json:"title"`
		Description string `json:"description"`
	}
	if err := json.Unmarshal(bytes.TrimSpace(output), &info); err != nil {
		return nil, fmt.Errorf("failed to decode channel info for %s: %w", channelID, err)
	}

	canonicalID := info.ChannelID
	if canonicalID == "" {
		canonicalID = channelID
	}

	title := info.Title
	if title == "" {
		title = "Unknown Channel"
	}

	return &ChannelRecord{
		ID:           canonicalID,
		Title:        title,
		Description:  info.Description,
		ThumbnailURL: ChannelThumbnailURL(canonicalID),
	}, nil
}

// VideoInfo extracts the metadata of a single video, including the ID of its
// owning channel.
func (client *Client) VideoInfo(ctx context.Context, videoID string) (*VideoRecord, error) {
	output, err := client.runner.Run(ctx,
		"--dump-json", "--no-download", "--no-warnings",
		fmt.Sprintf("https://www.youtube.com/watch?v=%s", videoID),
	)
	if err != nil {
		log.Emit(logger.WARNING, "Video info extraction for %s failed: %v\n", videoID, err)
		return nil, ErrVideoNotFound
	}

	record, err := DecodeVideoRecord(bytes.TrimSpace(output))
	if err != nil {
		return nil, fmt.Errorf("failed to decode video info for %s: %w", videoID, err)
	}

	return &record, nil
}

func lastLine(output string) string {
	lines := strings.Split(strings.TrimSpace(output), "\n")
	if len(lines) == 0 {
		return ""
	}

	return strings.TrimSpace(lines[len(lines)-1])
}
