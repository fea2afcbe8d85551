package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"

	"github.com/tracksync/tracksync-go/internal/artwork"
	"github.com/tracksync/tracksync-go/internal/download"
	"github.com/tracksync/tracksync-go/internal/monitoring"
	"github.com/tracksync/tracksync-go/internal/tracklist"
)

// progressView renders batch progress as a single terminal bar
type progressView struct {
	mu     sync.Mutex
	out    io.Writer
	bar    *progressbar.ProgressBar
	events *download.CallbackNotifier
	last   download.Progress
}

func newProgressView(out io.Writer) *progressView {
	return &progressView{out: out, events: download.NewCallbackNotifier()}
}

func (v *progressView) notifier() download.Notifier {
	n := v.events
	n.SetStatusCallback(func(req tracklist.TrackRequest, status, errMsg string) {
		v.mu.Lock()
		defer v.mu.Unlock()
		if status == "started" && v.bar != nil {
			v.bar.Describe(trackLabel(req))
		}
	})
	n.SetProgressCallback(v.update)
	return n
}

func (v *progressView) update(p download.Progress) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.bar == nil {
		v.bar = progressbar.NewOptions(p.Total,
			progressbar.OptionSetWriter(v.out),
			progressbar.OptionSetWidth(30),
			progressbar.OptionShowCount(),
			progressbar.OptionSetPredictTime(false),
			progressbar.OptionClearOnFinish(),
		)
	}
	v.last = p
	ok, missed := v.events.Counts()
	v.bar.Describe(fmt.Sprintf("%s (%d ok, %d missed, ETA %s)", trackLabel(p.Current), ok, missed, download.FormatETA(p.ETA)))
	v.bar.Set(p.Processed)
}

func (v *progressView) interrupted() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.bar != nil {
		v.bar.Clear()
	}
	fmt.Fprintln(v.out, color.YellowString("Interrupted at %d%%: stopping after the current track (press Ctrl+C again to quit now)", v.last.Percent()))
}

func (v *progressView) finish() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.bar != nil {
		v.bar.Finish()
	}
}

func trackLabel(req tracklist.TrackRequest) string {
	return fmt.Sprintf("#%d %s - %s", req.Position, req.Artist, req.Title)
}

// printSummary writes the end-of-batch summary
func printSummary(w io.Writer, b *download.BatchResult, runErr error) {
	bold := color.New(color.Bold)
	green := color.New(color.FgGreen)
	red := color.New(color.FgRed)
	yellow := color.New(color.FgYellow)

	var size uint64
	for _, f := range b.Downloaded {
		if info, err := os.Stat(f.Path); err == nil {
			size += uint64(info.Size())
		}
	}

	bold.Fprintf(w, "%s\n", b.Playlist)
	green.Fprintf(w, "  downloaded  %d/%d (%s in %d files)\n", b.DownloadedCount(), b.Total, humanize.Bytes(size), len(b.Downloaded))
	if len(b.NotFound) > 0 {
		red.Fprintf(w, "  not found   %d\n", len(b.NotFound))
		for _, e := range b.NotFound {
			fmt.Fprintf(w, "    %s: %s\n", trackLabel(e.Request), e.Error)
		}
	}
	if b.Skipped > 0 {
		yellow.Fprintf(w, "  skipped     %d (cancelled)\n", b.Skipped)
	}
	if b.Artwork != nil {
		printArtwork(w, b.Artwork)
	}

	fmt.Fprintf(w, "  folder      %s\n", b.OutputDir)
	if b.PlaylistPath != "" {
		fmt.Fprintf(w, "  playlist    %s\n", filepath.Base(b.PlaylistPath))
	}
	if b.ReportPath != "" {
		fmt.Fprintf(w, "  report      %s\n", filepath.Base(b.ReportPath))
	}
	fmt.Fprintf(w, "  elapsed     %s\n", monitoring.FormatDuration(b.Elapsed()))

	if stderrors.Is(runErr, context.Canceled) {
		yellow.Fprintln(w, "Batch cancelled; completed tracks were kept.")
	}
}

func printArtwork(w io.Writer, r *artwork.Report) {
	fmt.Fprintf(w, "  artwork     %d embedded, %d paired, %d unmatched", len(r.Embedded), len(r.Paired), len(r.Unmatched))
	if r.Resized > 0 {
		fmt.Fprintf(w, ", %d resized", r.Resized)
	}
	fmt.Fprintln(w)
	if len(r.Missing) > 0 {
		color.New(color.FgYellow).Fprintf(w, "    %d files have no artwork\n", len(r.Missing))
	}
	for _, f := range r.Failures {
		color.New(color.FgRed).Fprintf(w, "    %s: %s\n", filepath.Base(f.Path), f.Error)
	}
}
