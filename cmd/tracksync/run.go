package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/tracksync/tracksync-go/internal/download"
)

type runOptions struct {
	output     string
	variants   []string
	transcode  string
	noIndex    bool
	artwork    bool
	archive    string
	maxSize    int
	metricsOut string
}

func newRunCmd(a *app) *cobra.Command {
	var opts runOptions

	cmd := &cobra.Command{
		Use:   "run <playlist.csv>",
		Short: "Download every track of a playlist export",
		Long: "Search for and download each row of a playlist CSV into <output>/<playlist name>, " +
			"tag the files, write an .m3u playlist and list the tracks that could not be found in not_found.csv.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runBatch(cmd.Context(), args[0], cmd, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.output, "output", "o", "", "Output root (default from settings)")
	cmd.Flags().StringArrayVar(&opts.variants, "variant", nil, "Search suffix to try, in order; repeat for more (\"\" for the plain query)")
	cmd.Flags().StringVar(&opts.transcode, "transcode", "", "Transcode to mp3 or flac instead of keeping m4a")
	cmd.Flags().BoolVar(&opts.noIndex, "no-playlist", false, "Do not write the .m3u playlist")
	cmd.Flags().BoolVar(&opts.artwork, "artwork", false, "Pair, resize and embed album art after downloading")
	cmd.Flags().StringVar(&opts.archive, "archive", "", "Zip file or URL of numbered artwork to import (implies --artwork)")
	cmd.Flags().IntVar(&opts.maxSize, "max-size", 0, "Downscale artwork to this many pixels on the long edge")
	cmd.Flags().StringVar(&opts.metricsOut, "metrics-textfile", "", "Write Prometheus metrics to this file when done")
	return cmd
}

// apply folds command-line overrides into a batch configuration
func (o runOptions) apply(cmd *cobra.Command, b *download.BatchConfig) {
	if o.output != "" {
		b.OutputRoot = o.output
	}
	if cmd.Flags().Changed("variant") {
		b.Variants = o.variants
	}
	if o.transcode != "" {
		b.Fetch.TranscodeToLossy = true
		b.Fetch.TranscodeFormat = o.transcode
	}
	if o.noIndex {
		b.GenerateIndex = false
	}
	if o.artwork || o.archive != "" {
		b.Artwork.Enabled = true
	}
	if o.archive != "" {
		b.Artwork.Archive = o.archive
	}
	if o.maxSize > 0 {
		b.Artwork.MaxSize = o.maxSize
	}
	if o.metricsOut != "" {
		b.MetricsTextfile = o.metricsOut
	}
}

func (a *app) runBatch(ctx context.Context, source string, cmd *cobra.Command, opts runOptions) error {
	batch := download.NewBatchConfig(a.cfg, source)
	opts.apply(cmd, &batch)
	if batch.Fetch.TranscodeToLossy && batch.Fetch.TranscodeFormat != "mp3" && batch.Fetch.TranscodeFormat != "flac" {
		return fmt.Errorf("unsupported transcode format %q (want mp3 or flac)", batch.Fetch.TranscodeFormat)
	}

	history, closeHistory, err := a.openHistory()
	if err != nil {
		a.logger.Warn("Batch history disabled", zap.Error(err))
		fmt.Fprintln(a.stderr, color.YellowString("warning: %v", err))
	} else {
		defer closeHistory()
	}

	var recorder download.HistoryRecorder
	if history != nil {
		recorder = history
	}
	progress := newProgressView(a.stderr)
	manager := download.NewManager(recorder, progress.notifier(), a.logger)

	// The signal context only triggers cancellation; the batch itself is
	// stopped through the queue so it can report a partial result.
	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	queue := download.NewQueue(func(ctx context.Context, job *download.Job) (*download.BatchResult, error) {
		return manager.Run(ctx, job.Config)
	}, 1)
	if err := queue.Start(ctx); err != nil {
		return err
	}
	defer queue.Stop()

	if err := queue.Submit(&download.Job{ID: batch.RunID, Config: batch}); err != nil {
		return err
	}

	var (
		res  *download.Result
		done = make(chan struct{})
		g    errgroup.Group
	)
	g.Go(func() error {
		defer close(done)
		r, ok := <-queue.Results()
		if !ok || r == nil {
			return fmt.Errorf("batch %s ended without a result", batch.RunID)
		}
		res = r
		return nil
	})
	g.Go(func() error {
		select {
		case <-sigCtx.Done():
			// A second interrupt terminates immediately
			stop()
			progress.interrupted()
			a.logger.Info("Cancellation requested", zap.String("run_id", batch.RunID))
			if err := queue.CancelJob(batch.RunID); err != nil {
				a.logger.Debug("Batch already finished", zap.Error(err))
			}
		case <-done:
		}
		return nil
	})
	waitErr := g.Wait()
	progress.finish()
	if waitErr != nil {
		return waitErr
	}

	if res.Batch != nil && res.Batch.OutputDir != "" {
		printSummary(a.stdout, res.Batch, res.Error)
	}
	return res.Error
}
