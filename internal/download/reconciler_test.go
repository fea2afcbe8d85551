package download

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/tracksync/tracksync-go/internal/fetch"
	"github.com/tracksync/tracksync-go/internal/metadata"
	"github.com/tracksync/tracksync-go/internal/search"
	"github.com/tracksync/tracksync-go/internal/tracklist"
)

// scriptedAttempter returns canned outcomes per position and variant
type scriptedAttempter struct {
	outcomes map[int][]fetch.Outcome
	calls    []fetch.Attempt
	// knownAt records the known-set size seen by each call
	knownAt []int
}

func (s *scriptedAttempter) Attempt(ctx context.Context, a fetch.Attempt, known *fetch.KnownSet) fetch.Outcome {
	s.calls = append(s.calls, a)
	s.knownAt = append(s.knownAt, known.Len())

	list := s.outcomes[a.Request.Position]
	if a.VariantIndex < len(list) {
		return list[a.VariantIndex]
	}
	return fetch.Outcome{Kind: fetch.OutcomeEmptyResult}
}

type tagCall struct {
	path string
	tags metadata.Tags
}

func recordingTagger(calls *[]tagCall, err error) TagFunc {
	return func(path string, tags metadata.Tags) error {
		*calls = append(*calls, tagCall{path: path, tags: tags})
		return err
	}
}

func threeRequests() []tracklist.TrackRequest {
	return []tracklist.TrackRequest{
		{Position: 1, Title: "One", Artist: "A", Album: "Mix"},
		{Position: 2, Title: "Two", Artist: "B", Album: "Mix"},
		{Position: 3, Title: "Three", Artist: "C", Album: "Mix"},
	}
}

func success(files ...string) fetch.Outcome {
	return fetch.Outcome{Kind: fetch.OutcomeSuccess, Files: files}
}

func TestReconcile_CountsAddUp(t *testing.T) {
	dir := t.TempDir()
	att := &scriptedAttempter{outcomes: map[int][]fetch.Outcome{
		1: {success(filepath.Join(dir, "one.m4a"))},
		2: {{Kind: fetch.OutcomeEmptyResult}, {Kind: fetch.OutcomeEmptyResult}},
		3: {{Kind: fetch.OutcomeNotFound, Message: "ERROR: no video results"}, success(filepath.Join(dir, "three.m4a"))},
	}}

	var tags []tagCall
	r := NewReconciler(att, search.NewBuilder([]string{"Official Audio", ""}), nil, nil).
		WithTagger(recordingTagger(&tags, nil))

	out, err := r.Reconcile(context.Background(), dir, threeRequests())
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}

	if got := out.DownloadedCount() + out.FailedCount(); got != 3 {
		t.Errorf("downloaded + failed = %d, want 3", got)
	}
	if len(out.Results) != 3 {
		t.Fatalf("results = %d, want 3", len(out.Results))
	}
	if out.Results[1].Status != StatusFailed || out.Results[1].Reason != NoResultsReason {
		t.Errorf("request 2 = %+v, want failed with %q", out.Results[1], NoResultsReason)
	}
	if len(out.NotFound) != 1 || out.NotFound[0].Request.Position != 2 {
		t.Errorf("NotFound = %+v, want only position 2", out.NotFound)
	}

	if len(tags) != 2 {
		t.Fatalf("tagged %d files, want 2", len(tags))
	}
	if tags[1].tags != (metadata.Tags{Title: "Three", Artist: "C", Album: "Mix", TrackNumber: 3}) {
		t.Errorf("tags = %+v", tags[1].tags)
	}
}

func TestReconcile_FirstSuccessWins(t *testing.T) {
	dir := t.TempDir()
	att := &scriptedAttempter{outcomes: map[int][]fetch.Outcome{
		1: {
			{Kind: fetch.OutcomeToolError, Message: "HTTP Error 429"},
			success(filepath.Join(dir, "a.m4a")),
			success(filepath.Join(dir, "b.m4a")),
		},
	}}

	var tags []tagCall
	builder := search.NewBuilder([]string{"Official Audio", "Lyrics", ""})
	r := NewReconciler(att, builder, nil, nil).WithTagger(recordingTagger(&tags, nil))

	out, err := r.Reconcile(context.Background(), dir, threeRequests()[:1])
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}

	res := out.Results[0]
	if res.Status != StatusDownloaded || res.Variant != 1 {
		t.Fatalf("result = %+v, want downloaded by variant 1", res)
	}
	if res.Query != "One A Lyrics" {
		t.Errorf("query = %q", res.Query)
	}
	if len(att.calls) != 2 {
		t.Errorf("attempts = %d, want 2 (later variants skipped)", len(att.calls))
	}
	if len(out.NotFound) != 0 {
		t.Errorf("a transient tool error must not create a NotFound entry: %+v", out.NotFound)
	}
}

func TestReconcile_LastMessageWins(t *testing.T) {
	att := &scriptedAttempter{outcomes: map[int][]fetch.Outcome{
		1: {
			{Kind: fetch.OutcomeToolError, Message: "first"},
			{Kind: fetch.OutcomeToolError, Message: "timed out after 5m0s"},
		},
	}}

	r := NewReconciler(att, search.NewBuilder(nil), nil, nil)
	// A single plain variant means only "first" is seen
	out, _ := r.Reconcile(context.Background(), t.TempDir(), threeRequests()[:1])
	if out.Results[0].Reason != "first" {
		t.Errorf("reason = %q, want first", out.Results[0].Reason)
	}

	r = NewReconciler(att, search.NewBuilder([]string{"x", ""}), nil, nil)
	out, _ = r.Reconcile(context.Background(), t.TempDir(), threeRequests()[:1])
	if out.Results[0].Reason != "timed out after 5m0s" {
		t.Errorf("reason = %q, want the last message", out.Results[0].Reason)
	}
}

func TestReconcile_ReasonComesFromFinalVariant(t *testing.T) {
	att := &scriptedAttempter{outcomes: map[int][]fetch.Outcome{
		1: {
			{Kind: fetch.OutcomeToolError, Message: "HTTP Error 403"},
			{Kind: fetch.OutcomeEmptyResult},
		},
	}}

	r := NewReconciler(att, search.NewBuilder([]string{"Official Audio", ""}), nil, nil)
	out, err := r.Reconcile(context.Background(), t.TempDir(), threeRequests()[:1])
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	if out.Results[0].Reason != NoResultsReason {
		t.Errorf("reason = %q, want %q", out.Results[0].Reason, NoResultsReason)
	}
	if out.NotFound[0].Error != NoResultsReason {
		t.Errorf("report error = %q, want %q", out.NotFound[0].Error, NoResultsReason)
	}
}

func TestReconcile_KnownSetGrows(t *testing.T) {
	dir := t.TempDir()
	att := &scriptedAttempter{outcomes: map[int][]fetch.Outcome{
		1: {success(filepath.Join(dir, "one.m4a"), filepath.Join(dir, "one-b.m4a"))},
		2: {success(filepath.Join(dir, "two.m4a"))},
	}}

	var tags []tagCall
	r := NewReconciler(att, search.NewBuilder(nil), nil, nil).WithTagger(recordingTagger(&tags, nil))
	if _, err := r.Reconcile(context.Background(), dir, threeRequests()[:2]); err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}

	if att.knownAt[0] != 0 || att.knownAt[1] != 2 {
		t.Errorf("known set sizes = %v, want [0 2]", att.knownAt)
	}
}

func TestReconcile_TagFailureKeepsDownload(t *testing.T) {
	dir := t.TempDir()
	att := &scriptedAttempter{outcomes: map[int][]fetch.Outcome{
		1: {success(filepath.Join(dir, "one.m4a"))},
	}}

	var tags []tagCall
	r := NewReconciler(att, search.NewBuilder(nil), nil, nil).
		WithTagger(recordingTagger(&tags, errors.New("corrupt atom")))

	out, err := r.Reconcile(context.Background(), dir, threeRequests()[:1])
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	if out.Results[0].Status != StatusDownloaded {
		t.Errorf("status = %s, want downloaded", out.Results[0].Status)
	}
	if out.Downloaded[0].TagErr == nil {
		t.Error("tag error should be kept on the file")
	}
	if out.Downloaded[0].Container != metadata.ContainerM4A {
		t.Errorf("container = %s", out.Downloaded[0].Container)
	}
}

func TestReconcile_CancelBetweenRequests(t *testing.T) {
	dir := t.TempDir()
	att := &scriptedAttempter{outcomes: map[int][]fetch.Outcome{
		1: {success(filepath.Join(dir, "one.m4a"))},
		2: {success(filepath.Join(dir, "two.m4a"))},
	}}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	notifier := NewCallbackNotifier()
	notifier.SetStatusCallback(func(req tracklist.TrackRequest, status, _ string) {
		if status == "completed" {
			cancel()
		}
	})

	var tags []tagCall
	r := NewReconciler(att, search.NewBuilder(nil), notifier, nil).WithTagger(recordingTagger(&tags, nil))
	out, err := r.Reconcile(ctx, dir, threeRequests())
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Reconcile() error = %v, want context.Canceled", err)
	}
	if len(out.Results) != 1 || out.Skipped != 2 {
		t.Errorf("results = %d, skipped = %d; want 1 and 2", len(out.Results), out.Skipped)
	}
	if len(att.calls) != 1 {
		t.Errorf("attempts = %d, want 1", len(att.calls))
	}
}

func TestReconcile_ProgressETA(t *testing.T) {
	att := &scriptedAttempter{}
	var progress []Progress
	notifier := NewCallbackNotifier()
	notifier.SetProgressCallback(func(p Progress) { progress = append(progress, p) })

	r := NewReconciler(att, search.NewBuilder(nil), notifier, nil)
	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	r.now = func() time.Time {
		now := clock
		clock = clock.Add(10 * time.Second)
		return now
	}

	if _, err := r.Reconcile(context.Background(), t.TempDir(), threeRequests()); err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}

	if len(progress) != 3 {
		t.Fatalf("progress events = %d, want 3", len(progress))
	}
	want := []time.Duration{20 * time.Second, 10 * time.Second, 0}
	for i, p := range progress {
		if p.Processed != i+1 || p.Total != 3 {
			t.Errorf("progress[%d] = %d/%d", i, p.Processed, p.Total)
		}
		if p.ETA != want[i] {
			t.Errorf("progress[%d].ETA = %v, want %v", i, p.ETA, want[i])
		}
	}

	completed, failed := notifier.Counts()
	if completed != 0 || failed != 3 {
		t.Errorf("counts = %d/%d, want 0/3", completed, failed)
	}
}

func TestProgressPercent(t *testing.T) {
	tests := []struct {
		p    Progress
		want int
	}{
		{Progress{}, 0},
		{Progress{Processed: 1, Total: 4}, 25},
		{Progress{Processed: 2, Total: 3}, 66},
		{Progress{Processed: 3, Total: 3}, 100},
	}
	for _, tt := range tests {
		if got := tt.p.Percent(); got != tt.want {
			t.Errorf("%d/%d Percent() = %d, want %d", tt.p.Processed, tt.p.Total, got, tt.want)
		}
	}
}

func TestFormatETA(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{45 * time.Second, "45s"},
		{125 * time.Second, "2m 5s"},
		{2*time.Hour + 3*time.Minute, "2h 3m"},
	}
	for _, tt := range tests {
		if got := FormatETA(tt.in); got != tt.want {
			t.Errorf("FormatETA(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
