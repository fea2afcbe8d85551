package download

import (
	"context"
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tracksync/tracksync-go/internal/artwork"
	"github.com/tracksync/tracksync-go/internal/config"
	"github.com/tracksync/tracksync-go/internal/errors"
	"github.com/tracksync/tracksync-go/internal/fetch"
	"github.com/tracksync/tracksync-go/internal/monitoring"
	"github.com/tracksync/tracksync-go/internal/report"
	"github.com/tracksync/tracksync-go/internal/search"
	"github.com/tracksync/tracksync-go/internal/store"
	"github.com/tracksync/tracksync-go/internal/tools"
	"github.com/tracksync/tracksync-go/internal/tracklist"
)

// ArtworkOptions controls the artwork pass of a batch
type ArtworkOptions struct {
	Enabled bool
	Archive string
	MaxSize int
}

// BatchConfig is everything one batch needs, resolved before it starts
type BatchConfig struct {
	RunID           string
	SourcePath      string
	OutputRoot      string
	Variants        []string
	Fetch           fetch.Options
	FetcherPath     string
	MuxerPath       string
	GenerateIndex   bool
	Artwork         ArtworkOptions
	MetricsTextfile string
}

// NewBatchConfig builds a batch configuration for sourcePath from settings
func NewBatchConfig(cfg *config.Config, sourcePath string) BatchConfig {
	return BatchConfig{
		RunID:      uuid.NewString(),
		SourcePath: sourcePath,
		OutputRoot: cfg.OutputDir,
		Variants:   cfg.Variants,
		Fetch: fetch.Options{
			SearchProvider:       cfg.Fetch.SearchProvider,
			TranscodeToLossy:     cfg.TranscodeToLossy,
			TranscodeFormat:      cfg.TranscodeFormat,
			HighQuality:          cfg.HighQuality,
			EmbedThumbnail:       cfg.EmbedThumbnail,
			ExcludeInstrumentals: cfg.ExcludeInstrumentals,
			Timeout:              time.Duration(cfg.Fetch.TimeoutSeconds) * time.Second,
			MinInterval:          time.Duration(cfg.Fetch.MinIntervalMS) * time.Millisecond,
			NoResultPatterns:     cfg.Fetch.NoResultPatterns,
			Attribution:          cfg.Fetch.Attribution,
		},
		FetcherPath:   cfg.Tools.FetcherPath,
		MuxerPath:     cfg.Tools.MuxerPath,
		GenerateIndex: cfg.GenerateIndex,
		Artwork: ArtworkOptions{
			Enabled: cfg.Artwork.Enabled,
			Archive: cfg.Artwork.Archive,
			MaxSize: cfg.Artwork.MaxSize,
		},
		MetricsTextfile: cfg.Metrics.Textfile,
	}
}

// BatchResult is the final state of a batch
type BatchResult struct {
	RunID        string
	Playlist     string
	OutputDir    string
	Total        int
	Results      []RequestResult
	Downloaded   []DownloadedFile
	NotFound     []report.NotFoundEntry
	Skipped      int
	Artwork      *artwork.Report
	PlaylistPath string
	ReportPath   string
	Started      time.Time
	Finished     time.Time
}

// DownloadedCount returns the number of requests that produced files
func (b *BatchResult) DownloadedCount() int {
	n := 0
	for _, r := range b.Results {
		if r.Status == StatusDownloaded {
			n++
		}
	}
	return n
}

// Elapsed returns the batch's wall-clock duration
func (b *BatchResult) Elapsed() time.Duration {
	if b.Finished.IsZero() {
		return time.Since(b.Started)
	}
	return b.Finished.Sub(b.Started)
}

// HistoryRecorder persists finished batches
type HistoryRecorder interface {
	RecordRun(ctx context.Context, run *store.Run) error
}

// Manager runs batches end to end
type Manager struct {
	locator  tools.Locator
	history  HistoryRecorder
	notifier Notifier
	fetcher  fetch.Fetcher
	muxer    tools.Runner
	logger   *zap.Logger
}

// NewManager creates a manager. history may be nil to disable recording.
func NewManager(history HistoryRecorder, notifier Notifier, logger *zap.Logger) *Manager {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &Manager{
		history:  history,
		notifier: notifier,
		logger:   monitoring.OrNop(logger),
	}
}

// WithTools replaces the drivers of the external tools. A nil argument
// keeps the default for that tool.
func (m *Manager) WithTools(fetcher fetch.Fetcher, muxer tools.Runner) *Manager {
	m.fetcher = fetcher
	m.muxer = muxer
	return m
}

// WithLocator replaces the tool locator
func (m *Manager) WithLocator(l tools.Locator) *Manager {
	m.locator = l
	return m
}

// Run executes a batch: tool discovery, source load, reconciliation,
// artwork, emission, history and metrics, in that order. Nothing is written
// when a tool is missing. A cancelled batch still emits what it resolved and
// returns the context error alongside the partial result.
func (m *Manager) Run(ctx context.Context, cfg BatchConfig) (result *BatchResult, err error) {
	if cfg.RunID == "" {
		cfg.RunID = uuid.NewString()
	}
	logger := m.logger.With(zap.String("run_id", cfg.RunID))
	result = &BatchResult{RunID: cfg.RunID, Started: time.Now()}
	defer func() {
		result.Finished = time.Now()
		if err != nil {
			monitoring.RecordError(string(errors.GetErrorType(err)))
		}
	}()
	defer errors.Recover(&err)

	paths, err := m.locator.Resolve(cfg.FetcherPath, cfg.MuxerPath)
	if err != nil {
		return result, err
	}
	logger.Info("Using external tools", zap.String("fetcher", paths.Fetcher), zap.String("muxer", paths.Muxer))

	playlist, err := tracklist.Load(cfg.SourcePath)
	if err != nil {
		return result, err
	}
	result.Playlist = playlist.Name
	result.Total = len(playlist.Requests)

	dir := filepath.Join(cfg.OutputRoot, playlist.Name)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return result, errors.NewFileSystemError("failed to create output directory", err)
	}
	result.OutputDir = dir

	errLog, logErr := report.OpenErrorLog(dir)
	if logErr != nil {
		logger.Warn("Raw error log unavailable", zap.Error(logErr))
	} else {
		defer errLog.Close()
	}

	orchestrator := fetch.NewOrchestrator(dir, paths, cfg.Fetch, errLog, logger)
	if m.fetcher != nil {
		orchestrator.WithFetcher(m.fetcher)
	}
	reconciler := NewReconciler(orchestrator, search.NewBuilder(cfg.Variants), m.notifier, logger)

	recon, runErr := reconciler.Reconcile(ctx, dir, playlist.Requests)
	if recon == nil {
		return result, runErr
	}
	result.Results = recon.Results
	result.Downloaded = recon.Downloaded
	result.NotFound = recon.NotFound
	result.Skipped = recon.Skipped

	if cfg.Artwork.Enabled && runErr == nil {
		result.Artwork = m.runArtwork(ctx, cfg, paths.Muxer, dir, recon, logger)
	}

	if err := m.emit(cfg, playlist.Name, result); err != nil {
		return result, err
	}

	result.Finished = time.Now()
	m.record(ctx, cfg, result, runErr, logger)

	if err := monitoring.FlushTextfile(cfg.MetricsTextfile); err != nil {
		logger.Warn("Failed to write metrics textfile", zap.Error(err))
	}

	logger.Info("Batch finished",
		zap.Int("downloaded", result.DownloadedCount()),
		zap.Int("failed", len(result.NotFound)),
		zap.Int("skipped", result.Skipped),
		zap.Duration("elapsed", result.Elapsed()))
	return result, runErr
}

func (m *Manager) runArtwork(ctx context.Context, cfg BatchConfig, muxer, dir string, recon *Reconciliation, logger *zap.Logger) *artwork.Report {
	audio := make([]artwork.AudioFile, len(recon.Downloaded))
	for i, f := range recon.Downloaded {
		tags := TagsFor(f.Request)
		audio[i] = artwork.AudioFile{Path: f.Path, Tags: &tags}
	}

	reconciler := artwork.NewReconciler(muxer, cfg.Artwork.MaxSize, logger)
	if m.muxer != nil {
		reconciler.WithRunner(m.muxer)
	}

	rep, err := reconciler.Run(ctx, artwork.Input{
		Dir:     dir,
		Archive: cfg.Artwork.Archive,
		Audio:   audio,
		Failed:  report.FailedPositions(recon.NotFound),
	})
	if err != nil {
		monitoring.RecordError(string(errors.GetErrorType(err)))
		logger.Warn("Artwork pass failed", zap.Error(err))
	}
	return rep
}

func (m *Manager) emit(cfg BatchConfig, name string, result *BatchResult) error {
	if cfg.GenerateIndex {
		files := make([]string, len(result.Downloaded))
		for i, f := range result.Downloaded {
			files[i] = f.Path
		}
		path, err := report.WritePlaylist(result.OutputDir, name, files)
		if err != nil {
			return err
		}
		result.PlaylistPath = path
	}

	path, err := report.WriteNotFound(result.OutputDir, result.NotFound)
	if err != nil {
		return err
	}
	result.ReportPath = path
	return nil
}

func (m *Manager) record(ctx context.Context, cfg BatchConfig, result *BatchResult, runErr error, logger *zap.Logger) {
	if m.history == nil {
		return
	}

	run := RunRecord(cfg, result, runErr)
	// The batch may have been cancelled; its history is still worth keeping
	if err := m.history.RecordRun(context.WithoutCancel(ctx), run); err != nil {
		logger.Warn("Failed to record batch history", zap.Error(err))
	}
}

// RunRecord converts a batch result into its history record
func RunRecord(cfg BatchConfig, result *BatchResult, runErr error) *store.Run {
	finished := result.Finished
	run := &store.Run{
		ID:         result.RunID,
		Playlist:   result.Playlist,
		SourcePath: cfg.SourcePath,
		OutputDir:  result.OutputDir,
		Status:     store.RunCompleted,
		Total:      result.Total,
		Downloaded: result.DownloadedCount(),
		Failed:     len(result.NotFound),
		Skipped:    result.Skipped,
		Settings: store.Settings{
			Variants:         cfg.Variants,
			SearchProvider:   cfg.Fetch.SearchProvider,
			TranscodeToLossy: cfg.Fetch.TranscodeToLossy,
			TranscodeFormat:  cfg.Fetch.TranscodeFormat,
			Artwork:          cfg.Artwork.Enabled,
		},
		StartedAt:  result.Started,
		FinishedAt: &finished,
	}

	switch {
	case stderrors.Is(runErr, context.Canceled) || stderrors.Is(runErr, context.DeadlineExceeded):
		run.Status = store.RunCancelled
		run.ErrorMessage = runErr.Error()
	case runErr != nil:
		run.Status = store.RunFailed
		run.ErrorMessage = runErr.Error()
	}

	for _, r := range result.Results {
		run.Results = append(run.Results, store.ResultRecord{
			Position: r.Request.Position,
			Title:    r.Request.Title,
			Artist:   r.Request.Artist,
			Album:    r.Request.Album,
			Status:   string(r.Status),
			Variant:  r.Variant,
			Query:    r.Query,
			Reason:   r.Reason,
			Attempts: r.Attempts,
		})
	}

	for _, f := range result.Downloaded {
		rec := store.FileRecord{
			Position:  f.Request.Position,
			Path:      f.Path,
			Container: string(f.Container),
		}
		if fp, size, err := store.Fingerprint(f.Path); err == nil {
			rec.Fingerprint = fp
			rec.SizeBytes = size
		}
		if f.TagErr != nil {
			rec.TagError = f.TagErr.Error()
		}
		run.Files = append(run.Files, rec)
	}
	return run
}

// ArtworkBatch describes a standalone artwork pass over an existing folder
type ArtworkBatch struct {
	Dir        string
	SourcePath string
	Archive    string
	MaxSize    int
	MuxerPath  string
}

// RunArtwork reconciles artwork in a folder produced by an earlier batch.
// Failed positions come from the folder's failure report; audio is taken in
// modification-time order. With a source playlist, tags are replayed too.
func (m *Manager) RunArtwork(ctx context.Context, b ArtworkBatch) (rep *artwork.Report, err error) {
	defer errors.Recover(&err)

	muxer, err := m.locator.Find(tools.MuxerName, b.MuxerPath)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(b.Dir)
	if err != nil || !info.IsDir() {
		return nil, errors.NewValidationError(fmt.Sprintf("not a directory: %s", b.Dir))
	}

	notFound, err := report.ReadNotFound(b.Dir)
	if err != nil {
		return nil, err
	}
	failed := report.FailedPositions(notFound)

	files, err := fetch.ListAudio(b.Dir)
	if err != nil {
		return nil, errors.NewFileSystemError("failed to list audio files", err)
	}

	var audio []artwork.AudioFile
	if b.SourcePath != "" {
		playlist, err := tracklist.Load(b.SourcePath)
		if err != nil {
			return nil, err
		}
		audio = artwork.ReplayTags(playlist.Requests, failed, files)
	} else {
		for _, f := range files {
			audio = append(audio, artwork.AudioFile{Path: f})
		}
	}

	m.logger.Info("Starting standalone artwork pass",
		zap.String("dir", b.Dir),
		zap.Int("audio_files", len(audio)),
		zap.Int("failed_positions", len(failed)))

	reconciler := artwork.NewReconciler(muxer, b.MaxSize, m.logger)
	if m.muxer != nil {
		reconciler.WithRunner(m.muxer)
	}
	return reconciler.Run(ctx, artwork.Input{
		Dir:     b.Dir,
		Archive: b.Archive,
		Audio:   audio,
		Failed:  failed,
	})
}
