package download

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/tracksync/tracksync-go/internal/errors"
	"github.com/tracksync/tracksync-go/internal/fetch"
	"github.com/tracksync/tracksync-go/internal/metadata"
	"github.com/tracksync/tracksync-go/internal/monitoring"
	"github.com/tracksync/tracksync-go/internal/report"
	"github.com/tracksync/tracksync-go/internal/search"
	"github.com/tracksync/tracksync-go/internal/tracklist"
)

// NoResultsReason is recorded when every variant came back empty without a message
const NoResultsReason = "no results"

// Status is the terminal state of a request
type Status string

const (
	StatusDownloaded Status = "downloaded"
	StatusFailed     Status = "failed"
)

// RequestResult is the resolution of one request
type RequestResult struct {
	Request tracklist.TrackRequest
	Status  Status
	Files   []string
	// Variant and Query identify the winning attempt of a downloaded request
	Variant  int
	Query    string
	Reason   string
	Attempts int
}

// DownloadedFile is an audio file attributed to a request
type DownloadedFile struct {
	Path      string
	Request   tracklist.TrackRequest
	Container metadata.Container
	TagErr    error
}

// Attempter runs one fetch attempt
type Attempter interface {
	Attempt(ctx context.Context, a fetch.Attempt, known *fetch.KnownSet) fetch.Outcome
}

// TagFunc writes tags to a downloaded file
type TagFunc func(path string, tags metadata.Tags) error

// Reconciliation is what the fetch loop produced
type Reconciliation struct {
	Results    []RequestResult
	Downloaded []DownloadedFile
	NotFound   []report.NotFoundEntry
	// Skipped counts requests never tried because the batch was cancelled
	Skipped int
}

// DownloadedCount returns the number of requests that produced files
func (r *Reconciliation) DownloadedCount() int {
	n := 0
	for _, res := range r.Results {
		if res.Status == StatusDownloaded {
			n++
		}
	}
	return n
}

// FailedCount returns the number of requests that exhausted every variant
func (r *Reconciliation) FailedCount() int {
	return len(r.NotFound)
}

// Reconciler turns ordered requests into attributed files, one request at a
// time. Attribution is a directory diff, so requests must never overlap.
type Reconciler struct {
	attempter Attempter
	builder   *search.Builder
	notifier  Notifier
	tag       TagFunc
	logger    *zap.Logger
	now       func() time.Time
}

// NewReconciler creates a reconciler
func NewReconciler(attempter Attempter, builder *search.Builder, notifier Notifier, logger *zap.Logger) *Reconciler {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &Reconciler{
		attempter: attempter,
		builder:   builder,
		notifier:  notifier,
		tag:       metadata.Apply,
		logger:    monitoring.OrNop(logger),
		now:       time.Now,
	}
}

// WithTagger replaces the tag writer
func (r *Reconciler) WithTagger(fn TagFunc) *Reconciler {
	r.tag = fn
	return r
}

// Reconcile resolves requests in order against dir. Audio already present in
// dir is never attributed. Cancellation is honoured between requests only: a
// cancelled run returns what was resolved so far together with ctx.Err().
func (r *Reconciler) Reconcile(ctx context.Context, dir string, requests []tracklist.TrackRequest) (*Reconciliation, error) {
	known, err := fetch.ScanKnown(dir)
	if err != nil {
		return nil, errors.NewFileSystemError("failed to scan output directory", err)
	}
	r.logger.Info("Starting reconciliation",
		zap.Int("requests", len(requests)),
		zap.Int("variants", r.builder.Len()),
		zap.Int("pre_existing", known.Len()))

	out := &Reconciliation{}
	total := len(requests)
	start := r.now()
	monitoring.UpdateBatchProgress(0, total)

	for i, req := range requests {
		if err := ctx.Err(); err != nil {
			out.Skipped = total - i
			r.logger.Warn("Batch cancelled", zap.Int("processed", i), zap.Int("skipped", out.Skipped))
			return out, err
		}

		r.notifier.NotifyStarted(req)
		res := r.resolve(ctx, req, known)
		out.Results = append(out.Results, res)

		if res.Status == StatusDownloaded {
			for _, path := range res.Files {
				out.Downloaded = append(out.Downloaded, r.tagFile(path, req))
			}
			monitoring.RecordRequest(string(StatusDownloaded))
			r.notifier.NotifyCompleted(req, res.Files)
		} else {
			out.NotFound = append(out.NotFound, report.NotFoundEntry{Request: req, Error: res.Reason})
			monitoring.RecordRequest(string(StatusFailed))
			monitoring.RecordError(string(errors.ErrTypeQueryExhausted))
			r.notifier.NotifyFailed(req, errors.NewQueryExhaustedError(res.Reason))
		}

		processed := i + 1
		elapsed := r.now().Sub(start)
		eta := time.Duration(float64(elapsed) / float64(processed) * float64(total-processed))
		monitoring.UpdateBatchProgress(processed, total)
		r.notifier.NotifyProgress(Progress{
			Processed: processed,
			Total:     total,
			Elapsed:   elapsed,
			ETA:       eta,
			Current:   req,
		})
	}

	r.logger.Info("Reconciliation complete",
		zap.Int("downloaded", out.DownloadedCount()),
		zap.Int("failed", out.FailedCount()),
		zap.Int("files", len(out.Downloaded)))
	return out, nil
}

// resolve tries each query variant until one attributes new files
func (r *Reconciler) resolve(ctx context.Context, req tracklist.TrackRequest, known *fetch.KnownSet) RequestResult {
	logger := r.logger.With(zap.Int("position", req.Position), zap.String("title", req.Title))
	res := RequestResult{Request: req, Status: StatusFailed}

	lastMessage := ""
	for variant, query := range r.builder.Queries(req) {
		res.Attempts++
		outcome := r.attempter.Attempt(ctx, fetch.Attempt{Request: req, VariantIndex: variant, Query: query}, known)

		if outcome.IsSuccess() {
			known.Add(outcome.Files...)
			res.Status = StatusDownloaded
			res.Files = outcome.Files
			res.Variant = variant
			res.Query = query
			logger.Info("Downloaded", zap.Int("variant", variant), zap.Strings("files", outcome.Files))
			return res
		}

		lastMessage = outcome.Message
		logger.Debug("Variant produced no files",
			zap.Int("variant", variant),
			zap.String("outcome", outcome.Kind.String()),
			zap.String("message", outcome.Message))
	}

	res.Reason = lastMessage
	if res.Reason == "" {
		res.Reason = NoResultsReason
	}
	logger.Warn("All variants exhausted", zap.String("reason", res.Reason))
	return res
}

// tagFile writes the request's tags to path. Failures are kept on the file
// and never change the request's outcome.
func (r *Reconciler) tagFile(path string, req tracklist.TrackRequest) DownloadedFile {
	f := DownloadedFile{Path: path, Request: req}
	f.Container, _ = metadata.ContainerOf(path)

	f.TagErr = r.tag(path, TagsFor(req))
	if f.TagErr != nil {
		monitoring.RecordError(string(errors.GetErrorType(f.TagErr)))
		r.logger.Warn("Failed to write tags", zap.String("file", path), zap.Error(f.TagErr))
	}
	return f
}

// TagsFor maps a request onto the tags written to its files
func TagsFor(req tracklist.TrackRequest) metadata.Tags {
	return metadata.Tags{
		Title:       req.Title,
		Artist:      req.Artist,
		Album:       req.Album,
		TrackNumber: req.Position,
	}
}
