// Thin wrapper around the ffmpeg binary for combining separate video-only
// and audio-only downloads in to a single mp4 container.
package ffmpeg

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"

	"github.com/offtube/offtube/pkg/logger"
)

var log = logger.Get("FFmpeg")

type Merger struct {
	binaryPath string
}

// NewMerger probes for the ffmpeg binary. An empty path searches $PATH; a
// missing binary is not an error here because a merge may never be needed,
// but Available lets callers warn up front.
func NewMerger(binaryPath string) *Merger {
	if binaryPath == "" {
		if found, err := exec.LookPath("ffmpeg"); err == nil {
			binaryPath = found
		} else {
			log.Emit(logger.WARNING, "ffmpeg binary not found in PATH, merging of split downloads will fail\n")
		}
	}

	return &Merger{binaryPath: binaryPath}
}

func (merger *Merger) Available() bool    { return merger.binaryPath != "" }
func (merger *Merger) BinaryPath() string { return merger.binaryPath }

// Merge combines the video stream of videoPath with the audio of audioPath
// in to outputPath. The video stream is copied untouched; audio is
// transcoded to AAC for container compatibility.
func (merger *Merger) Merge(ctx context.Context, videoPath string, audioPath string, outputPath string) error {
	if !merger.Available() {
		return fmt.Errorf("cannot merge %s: ffmpeg binary is not available", outputPath)
	}

	cmd := exec.CommandContext(ctx, merger.binaryPath,
		"-i", videoPath,
		"-i", audioPath,
		"-c:v", "copy",
		"-c:a", "aac",
		"-strict", "experimental",
		"-y", outputPath,
	)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("ffmpeg merge failed: %w: %s", err, stderr.String())
	}

	return nil
}
