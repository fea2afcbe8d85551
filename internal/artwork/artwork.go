// Package artwork matches cover images from an art-lookup archive to the
// audio files of a batch and embeds them.
//
// Images carry a loose "N_" ordinal hint instead of a reliable key, so the
// pairing is positional: audio in creation order against images in ordinal
// order, after images for failed positions have been set aside.
package artwork

import (
	"context"
	"net/http"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/tracksync/tracksync-go/internal/errors"
	"github.com/tracksync/tracksync-go/internal/metadata"
	"github.com/tracksync/tracksync-go/internal/monitoring"
	"github.com/tracksync/tracksync-go/internal/tools"
	"github.com/tracksync/tracksync-go/internal/tracklist"
)

// DefaultMuxTimeout bounds a single muxer invocation
const DefaultMuxTimeout = 2 * time.Minute

// AudioFile is an audio file to receive artwork. Tags, when set, are written
// before muxing.
type AudioFile struct {
	Path string
	Tags *metadata.Tags
}

// Input describes one artwork pass
type Input struct {
	Dir string
	// Archive is a local zip path or http(s) URL; empty skips the import
	Archive string
	// Audio is in creation order
	Audio  []AudioFile
	Failed map[int]bool
}

// Failure records an audio file the muxer could not process
type Failure struct {
	Path  string
	Error string
}

// Report summarises an artwork pass
type Report struct {
	Imported  int
	Paired    []Pair
	Unmatched []string
	Resized   int
	Embedded  []string
	Missing   []string
	Failures  []Failure
}

// Reconciler runs the import, rename, resize and embed passes
type Reconciler struct {
	muxer   string
	maxSize int
	runner  tools.Runner
	client  *http.Client
	backoff errors.Backoff
	timeout time.Duration
	logger  *zap.Logger
}

// NewReconciler creates a reconciler that embeds with the muxer at muxerPath.
// maxSize > 0 downscales images whose long edge exceeds it.
func NewReconciler(muxerPath string, maxSize int, logger *zap.Logger) *Reconciler {
	return &Reconciler{
		muxer:   muxerPath,
		maxSize: maxSize,
		runner:  tools.ExecRunner{},
		backoff: errors.DefaultBackoff(),
		timeout: DefaultMuxTimeout,
		logger:  monitoring.OrNop(logger).Named("artwork"),
	}
}

// WithRunner replaces the subprocess runner
func (r *Reconciler) WithRunner(runner tools.Runner) *Reconciler {
	r.runner = runner
	return r
}

// WithHTTPClient sets the client and pacing used to download remote archives
func (r *Reconciler) WithHTTPClient(client *http.Client, backoff errors.Backoff) *Reconciler {
	r.client = client
	r.backoff = backoff
	return r
}

// Run executes every pass over in.Dir. Per-file problems are recorded in the
// report; an error is returned only when the pass could not run at all.
func (r *Reconciler) Run(ctx context.Context, in Input) (*Report, error) {
	if r.muxer == "" {
		return nil, errors.NewMissingDependencyError(tools.MuxerName, nil)
	}

	report := &Report{}
	if in.Archive != "" {
		imported, err := r.Import(ctx, in.Archive, in.Dir)
		report.Imported = len(imported)
		if err != nil {
			return report, err
		}
		r.logger.Info("Imported artwork", zap.Int("images", len(imported)))
	}

	audio := make([]string, len(in.Audio))
	for i, f := range in.Audio {
		audio[i] = f.Path
	}

	renamed, err := renamePass(in.Dir, audio, in.Failed, r.logger)
	report.Paired = renamed.Paired
	report.Unmatched = renamed.Unmatched
	if err != nil {
		return report, err
	}

	for _, f := range in.Audio {
		img, ok := findImage(in.Dir, f.Path)
		if !ok {
			continue
		}
		resized, err := metadata.ResizeImageFile(img, r.maxSize)
		if err != nil {
			r.logger.Warn("Failed to resize artwork", zap.String("image", img), zap.Error(err))
			continue
		}
		if resized {
			report.Resized++
		}
	}

	for _, f := range in.Audio {
		if ctx.Err() != nil {
			r.logger.Info("Artwork embedding cancelled", zap.Int("embedded", len(report.Embedded)))
			break
		}

		img, ok := findImage(in.Dir, f.Path)
		if !ok {
			r.logger.Info("No artwork for file", zap.String("file", f.Path))
			report.Missing = append(report.Missing, f.Path)
			monitoring.RecordArtwork("missing")
			continue
		}

		if err := r.embed(ctx, f, img); err != nil {
			r.logger.Warn("Failed to embed artwork", zap.String("file", f.Path), zap.Error(err))
			report.Failures = append(report.Failures, Failure{Path: f.Path, Error: err.Error()})
			monitoring.RecordArtwork("embed_failed")
			monitoring.RecordError(string(errors.GetErrorType(err)))
			continue
		}
		report.Embedded = append(report.Embedded, f.Path)
		monitoring.RecordArtwork("embedded")
	}

	r.logger.Info("Artwork pass complete",
		zap.Int("paired", len(report.Paired)),
		zap.Int("unmatched", len(report.Unmatched)),
		zap.Int("embedded", len(report.Embedded)),
		zap.Int("missing", len(report.Missing)),
		zap.Int("failed", len(report.Failures)))

	return report, nil
}

// ReplayTags re-derives the tags of already downloaded files by walking the
// requests in position order, skipping failed ones, alongside audio in
// creation order. It assumes one file per successful request; audio beyond
// the replayed requests gets no tags.
func ReplayTags(requests []tracklist.TrackRequest, failed map[int]bool, audio []string) []AudioFile {
	ordered := make([]tracklist.TrackRequest, 0, len(requests))
	for _, req := range requests {
		if !failed[req.Position] {
			ordered = append(ordered, req)
		}
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Position < ordered[j].Position
	})

	files := make([]AudioFile, len(audio))
	for i, path := range audio {
		files[i] = AudioFile{Path: path}
		if i < len(ordered) {
			files[i].Tags = &metadata.Tags{
				Title:       ordered[i].Title,
				Artist:      ordered[i].Artist,
				Album:       ordered[i].Album,
				TrackNumber: ordered[i].Position,
			}
		}
	}
	return files
}
