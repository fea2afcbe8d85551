package artwork

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/tracksync/tracksync-go/internal/errors"
	"github.com/tracksync/tracksync-go/internal/metadata"
	"github.com/tracksync/tracksync-go/internal/tools"
)

// embedPrefix marks the muxer's temporary output next to the original
const embedPrefix = ".embed-"

// MuxArgs returns the muxer arguments that attach image to audio as cover art
func MuxArgs(audio, image, output string) []string {
	return []string{
		"-y", "-hide_banner", "-loglevel", "error",
		"-i", audio,
		"-i", image,
		"-map", "0:a",
		"-map", "1:v",
		"-c:a", "copy",
		"-c:v", "mjpeg",
		"-disposition:v:0", "attached_pic",
		output,
	}
}

// embed writes tags to file and muxes image into it. The original file is
// replaced only when the muxer succeeds, and keeps its timestamps.
func (r *Reconciler) embed(ctx context.Context, file AudioFile, image string) error {
	info, err := os.Stat(file.Path)
	if err != nil {
		return errors.NewFileSystemError("failed to stat audio file", err)
	}
	modTime := info.ModTime()
	created, hasCreated := birthTime(info)

	if file.Tags != nil {
		if err := metadata.Apply(file.Path, *file.Tags); err != nil {
			r.logger.Warn("Failed to write tags before embedding", zap.String("file", file.Path), zap.Error(err))
		}
	}

	tmp := filepath.Join(filepath.Dir(file.Path), embedPrefix+filepath.Base(file.Path))
	muxCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	res, err := r.runner.Run(muxCtx, r.muxer, MuxArgs(file.Path, image, tmp)...)
	if err == nil && res.ExitCode != 0 {
		err = fmt.Errorf("%s", muxerMessage(res.Stderr, res.ExitCode))
	}
	if err == nil {
		if _, statErr := os.Stat(tmp); statErr != nil {
			err = fmt.Errorf("muxer produced no output")
		}
	}
	if err != nil {
		os.Remove(tmp)
		return errors.NewToolInvocationError(tools.MuxerName, "failed to embed artwork", err)
	}

	if err := os.Rename(tmp, file.Path); err != nil {
		os.Remove(tmp)
		return errors.NewFileSystemError("failed to replace audio file", err)
	}

	if err := os.Chtimes(file.Path, modTime, modTime); err != nil {
		r.logger.Warn("Failed to restore modification time", zap.String("file", file.Path), zap.Error(err))
	}
	if CanRestoreBirthTime && hasCreated {
		if err := setBirthTime(file.Path, created); err != nil {
			r.logger.Warn("Failed to restore creation time", zap.String("file", file.Path), zap.Error(err))
		}
	}
	return nil
}

// findImage returns the image in dir named exactly after audio's stem
func findImage(dir, audio string) (string, bool) {
	s := stem(audio)
	for _, ext := range metadata.ImageExtensions {
		for _, candidate := range []string{ext, strings.ToUpper(ext)} {
			p := filepath.Join(dir, s+candidate)
			if metadata.FileExists(p) {
				return p, true
			}
		}
	}
	return "", false
}

func muxerMessage(stderr []byte, exitCode int) string {
	lines := bytes.Split(bytes.TrimSpace(stderr), []byte("\n"))
	if last := strings.TrimSpace(string(lines[len(lines)-1])); last != "" {
		return last
	}
	return fmt.Sprintf("exit status %d", exitCode)
}
