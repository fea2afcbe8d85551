package fetch

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/lrstanley/go-ytdlp"

	"github.com/tracksync/tracksync-go/internal/tools"
)

// Attribution strategies
const (
	// AttributionDirDiff credits every new audio file in the output directory
	AttributionDirDiff = "dirdiff"
	// AttributionReported credits the final paths yt-dlp prints, falling back
	// to the directory diff when it prints none
	AttributionReported = "reported"
)

// reportTemplate makes yt-dlp print each file's path once post-processing
// has moved it into place
const reportTemplate = "after_move:filepath"

// Fetcher runs one search download into dir. target is the full search
// expression, e.g. "ytsearch1:Song Band".
type Fetcher interface {
	Fetch(ctx context.Context, dir, target string) (tools.RunResult, error)
}

// YtdlpFetcher drives the yt-dlp binary through go-ytdlp
type YtdlpFetcher struct {
	paths tools.Paths
	opts  Options
}

// NewYtdlpFetcher creates a fetcher for the located binaries
func NewYtdlpFetcher(paths tools.Paths, opts Options) *YtdlpFetcher {
	return &YtdlpFetcher{paths: paths, opts: opts}
}

// Command builds the yt-dlp invocation for downloads into dir
func (f *YtdlpFetcher) Command(dir string) *ytdlp.Command {
	cmd := ytdlp.New().
		SetExecutable(f.paths.Fetcher).
		FFmpegLocation(f.paths.MuxerDir()).
		Format("bestaudio[ext=m4a]/bestaudio").
		Output(filepath.Join(dir, "%(title)s.%(ext)s")).
		NoPlaylist()

	if f.opts.EmbedThumbnail {
		cmd.EmbedThumbnail().EmbedMetadata()
	}

	if f.opts.TranscodeToLossy {
		cmd.ExtractAudio().AudioFormat(f.opts.TranscodeFormat)
		if f.opts.HighQuality {
			cmd.AudioQuality("0")
		}
	} else {
		cmd.RemuxVideo("m4a")
	}

	if f.opts.ExcludeInstrumentals {
		cmd.MatchFilters(InstrumentalFilter)
	}

	if f.opts.Attribution == AttributionReported {
		cmd.Print(reportTemplate)
	}
	return cmd
}

// Fetch implements Fetcher. A non-zero exit that left diagnostics behind is
// reported through the result only, so the caller can classify it.
func (f *YtdlpFetcher) Fetch(ctx context.Context, dir, target string) (tools.RunResult, error) {
	res, err := f.Command(dir).Run(ctx, target)
	if res == nil {
		return tools.RunResult{ExitCode: -1}, err
	}

	out := tools.RunResult{
		ExitCode: res.ExitCode,
		Stdout:   []byte(res.Stdout),
		Stderr:   []byte(res.Stderr),
	}
	if ctx.Err() != nil {
		out.ExitCode = -1
		return out, ctx.Err()
	}
	if err != nil && res.ExitCode != 0 && (res.Stdout != "" || res.Stderr != "") {
		return out, nil
	}
	return out, err
}

// Version asks the yt-dlp binary at path for its version
func Version(ctx context.Context, path string) (string, error) {
	res, err := ytdlp.New().SetExecutable(path).Version(ctx)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(res.Stdout), nil
}
