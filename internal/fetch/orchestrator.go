package fetch

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/tracksync/tracksync-go/internal/monitoring"
	"github.com/tracksync/tracksync-go/internal/tools"
)

// DefaultTimeout bounds a single fetcher invocation
const DefaultTimeout = 300 * time.Second

// InstrumentalFilter rejects uploads whose title mentions "instrumental"
const InstrumentalFilter = "title !~= (?i)instrumental"

// Options controls how the fetcher is invoked
type Options struct {
	SearchProvider       string
	TranscodeToLossy     bool
	TranscodeFormat      string // mp3 or flac
	HighQuality          bool
	EmbedThumbnail       bool
	ExcludeInstrumentals bool
	Timeout              time.Duration
	MinInterval          time.Duration
	NoResultPatterns     []string
	// Attribution is AttributionDirDiff (default) or AttributionReported
	Attribution string
}

// Orchestrator runs fetch attempts for one batch and classifies their outcome
type Orchestrator struct {
	dir      string
	opts     Options
	fetcher  Fetcher
	resolver Resolver
	limiter  *rate.Limiter
	logger   *zap.Logger

	mu     sync.Mutex
	errLog io.Writer
}

// NewOrchestrator creates an orchestrator that downloads into dir.
// errLog receives the fetcher's diagnostics on non-zero exits and may be nil.
func NewOrchestrator(dir string, paths tools.Paths, opts Options, errLog io.Writer, logger *zap.Logger) *Orchestrator {
	if opts.SearchProvider == "" {
		opts.SearchProvider = "ytsearch"
	}
	if opts.TranscodeFormat == "" {
		opts.TranscodeFormat = "mp3"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}

	var resolver Resolver = DirDiffResolver{}
	if opts.Attribution == AttributionReported {
		resolver = ReportedResolver{}
	}

	limit := rate.Inf
	if opts.MinInterval > 0 {
		limit = rate.Every(opts.MinInterval)
	}

	return &Orchestrator{
		dir:      dir,
		opts:     opts,
		fetcher:  NewYtdlpFetcher(paths, opts),
		resolver: resolver,
		limiter:  rate.NewLimiter(limit, 1),
		logger:   monitoring.OrNop(logger),
		errLog:   errLog,
	}
}

// WithFetcher replaces the yt-dlp driver
func (o *Orchestrator) WithFetcher(f Fetcher) *Orchestrator {
	o.fetcher = f
	return o
}

// WithResolver replaces the file attribution strategy
func (o *Orchestrator) WithResolver(r Resolver) *Orchestrator {
	o.resolver = r
	return o
}

// Dir returns the output directory
func (o *Orchestrator) Dir() string {
	return o.dir
}

// Target is the search expression handed to the fetcher for a query
func (o *Orchestrator) Target(query string) string {
	return fmt.Sprintf("%s1:%s", o.opts.SearchProvider, query)
}

// Attempt runs one fetch and classifies it. The subprocess is bounded by the
// per-attempt timeout only; cancelling ctx does not interrupt it.
func (o *Orchestrator) Attempt(ctx context.Context, a Attempt, known *KnownSet) Outcome {
	logger := o.logger.With(
		zap.Int("position", a.Request.Position),
		zap.Int("variant", a.VariantIndex),
		zap.String("query", a.Query),
	)

	attemptCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.opts.Timeout)
	defer cancel()

	start := time.Now()
	outcome := o.attempt(attemptCtx, a, known, logger)
	monitoring.RecordFetchAttempt(outcome.Kind.String(), time.Since(start))

	logger.Debug("Fetch attempt finished",
		zap.String("outcome", outcome.Kind.String()),
		zap.Int("files", len(outcome.Files)),
		zap.String("message", outcome.Message),
		zap.Duration("duration", time.Since(start)),
	)
	return outcome
}

func (o *Orchestrator) attempt(ctx context.Context, a Attempt, known *KnownSet, logger *zap.Logger) Outcome {
	if err := o.limiter.Wait(ctx); err != nil {
		return Outcome{Kind: OutcomeToolError, Message: fmt.Sprintf("rate limiter: %v", err)}
	}

	res, runErr := o.fetcher.Fetch(ctx, o.dir, o.Target(a.Query))

	// Whatever the exit status, files that appeared belong to this attempt.
	files, err := o.resolver.Resolve(o.dir, known, res)
	if err != nil {
		logger.Warn("Failed to list output directory", zap.Error(err))
	}
	if len(files) > 0 {
		if res.ExitCode != 0 || runErr != nil {
			o.logDiagnostics(a, res)
		}
		return Outcome{Kind: OutcomeSuccess, Files: files}
	}

	if runErr != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return Outcome{Kind: OutcomeToolError, Message: fmt.Sprintf("timed out after %s", o.opts.Timeout)}
		}
		return Outcome{Kind: OutcomeToolError, Message: runErr.Error()}
	}

	if res.ExitCode != 0 {
		o.logDiagnostics(a, res)
	}

	return o.classify(res)
}

// classify maps a run that produced no new files to an outcome
func (o *Orchestrator) classify(res tools.RunResult) Outcome {
	if line, ok := o.noResults(res); ok {
		return Outcome{Kind: OutcomeNotFound, Message: line}
	}
	if res.ExitCode != 0 {
		msg := lastLine(res.Stderr)
		if msg == "" {
			msg = lastLine(res.Stdout)
		}
		if msg == "" {
			msg = fmt.Sprintf("exit status %d", res.ExitCode)
		}
		return Outcome{Kind: OutcomeToolError, Message: msg}
	}
	return Outcome{Kind: OutcomeEmptyResult}
}

// noResults returns the first diagnostic line matching a no-results pattern
func (o *Orchestrator) noResults(res tools.RunResult) (string, bool) {
	for _, stream := range [][]byte{res.Stderr, res.Stdout} {
		for _, line := range strings.Split(string(stream), "\n") {
			lower := strings.ToLower(line)
			for _, p := range o.opts.NoResultPatterns {
				if p != "" && strings.Contains(lower, strings.ToLower(p)) {
					return strings.TrimSpace(line), true
				}
			}
		}
	}
	return "", false
}

func (o *Orchestrator) logDiagnostics(a Attempt, res tools.RunResult) {
	if o.errLog == nil || len(bytes.TrimSpace(res.Stderr)) == 0 {
		return
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	fmt.Fprintf(o.errLog, "[%s] #%d %q (exit %d)\n", time.Now().Format(time.RFC3339), a.Request.Position, a.Query, res.ExitCode)
	o.errLog.Write(res.Stderr)
	if !bytes.HasSuffix(res.Stderr, []byte("\n")) {
		io.WriteString(o.errLog, "\n")
	}
}

func lastLine(b []byte) string {
	lines := strings.Split(strings.TrimSpace(string(b)), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if l := strings.TrimSpace(lines[i]); l != "" {
			return l
		}
	}
	return ""
}
