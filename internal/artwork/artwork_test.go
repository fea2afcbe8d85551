package artwork

import (
	"archive/zip"
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/tracksync/tracksync-go/internal/errors"
	"github.com/tracksync/tracksync-go/internal/tools"
	"github.com/tracksync/tracksync-go/internal/tracklist"
)

// fakeMuxer writes "muxed:<image bytes>" to the output argument
type fakeMuxer struct {
	fail  bool
	calls [][]string
}

func (f *fakeMuxer) Run(ctx context.Context, name string, args ...string) (tools.RunResult, error) {
	f.calls = append(f.calls, args)
	if f.fail {
		return tools.RunResult{ExitCode: 1, Stderr: []byte("Invalid data found when processing input\n")}, nil
	}

	image := args[7]
	output := args[len(args)-1]
	data, err := os.ReadFile(image)
	if err != nil {
		return tools.RunResult{ExitCode: 1, Stderr: []byte(err.Error())}, nil
	}
	os.WriteFile(output, append([]byte("muxed:"), data...), 0644)
	return tools.RunResult{}, nil
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("WriteFile(%s) error = %v", path, err)
	}
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile(%s) error = %v", path, err)
	}
	return string(data)
}

func TestParseAsset(t *testing.T) {
	tests := []struct {
		name    string
		want    int
		hasHint bool
	}{
		{"1_cover.jpg", 1, true},
		{"12_Some Title.png", 12, true},
		{"007_x.jpeg", 7, true},
		{"cover.jpg", 0, false},
		{"1cover.jpg", 0, false},
		{"_1_cover.jpg", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := ParseAsset(filepath.Join("dir", tt.name))
			if (a.Ordinal != nil) != tt.hasHint {
				t.Fatalf("ParseAsset(%q).Ordinal = %v, want hint %v", tt.name, a.Ordinal, tt.hasHint)
			}
			if tt.hasHint && *a.Ordinal != tt.want {
				t.Errorf("ParseAsset(%q).Ordinal = %d, want %d", tt.name, *a.Ordinal, tt.want)
			}
		})
	}
}

func TestSortAssets(t *testing.T) {
	var assets []Asset
	for _, name := range []string{"b.jpg", "10_x.jpg", "2_z.jpg", "a.png", "2_a.jpg", "1_y.png"} {
		assets = append(assets, ParseAsset(name))
	}
	SortAssets(assets)

	want := []string{"1_y.png", "2_a.jpg", "2_z.jpg", "10_x.jpg", "a.png", "b.jpg"}
	for i, a := range assets {
		if a.Path != want[i] {
			t.Errorf("assets[%d] = %s, want %s", i, a.Path, want[i])
		}
	}
}

func TestRun_SkipsFailedPositions(t *testing.T) {
	dir := t.TempDir()
	a1 := filepath.Join(dir, "a1.m4a")
	a2 := filepath.Join(dir, "a2.m4a")
	a3 := filepath.Join(dir, "a3.m4a")
	for _, p := range []string{a1, a2, a3} {
		writeFile(t, p, "audio")
	}
	writeFile(t, filepath.Join(dir, "3_third.jpg"), "img3")
	writeFile(t, filepath.Join(dir, "1_first.jpg"), "img1")
	writeFile(t, filepath.Join(dir, "2_second.jpg"), "img2")

	muxer := &fakeMuxer{}
	r := NewReconciler("/usr/bin/ffmpeg", 0, nil).WithRunner(muxer)

	// a2 was already in the folder; only a1 and a3 came from this batch
	report, err := r.Run(context.Background(), Input{
		Dir:    dir,
		Audio:  []AudioFile{{Path: a1}, {Path: a3}},
		Failed: map[int]bool{2: true},
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if got := readFile(t, filepath.Join(dir, "a1.jpg")); got != "img1" {
		t.Errorf("a1.jpg = %q, want img1", got)
	}
	if got := readFile(t, filepath.Join(dir, "a3.jpg")); got != "img3" {
		t.Errorf("a3.jpg = %q, want img3", got)
	}
	if got := readFile(t, filepath.Join(dir, UnmatchedDir, "2_second.jpg")); got != "img2" {
		t.Errorf("unmatched image = %q, want img2", got)
	}
	if _, err := os.Stat(filepath.Join(dir, "a2.jpg")); !os.IsNotExist(err) {
		t.Error("a2 should not receive artwork")
	}

	if len(report.Paired) != 2 || len(report.Unmatched) != 1 {
		t.Errorf("paired = %d, unmatched = %d, want 2 and 1", len(report.Paired), len(report.Unmatched))
	}
	if len(report.Embedded) != 2 {
		t.Errorf("embedded = %v, want a1 and a3", report.Embedded)
	}
	if got := readFile(t, a1); got != "muxed:img1" {
		t.Errorf("a1 content = %q, want muxed:img1", got)
	}
	if got := readFile(t, a2); got != "audio" {
		t.Errorf("a2 content = %q, should be untouched", got)
	}
}

func TestRun_KeepsAlreadyNamedImages(t *testing.T) {
	dir := t.TempDir()
	a1 := filepath.Join(dir, "a1.mp3")
	a2 := filepath.Join(dir, "a2.mp3")
	writeFile(t, a1, "audio")
	writeFile(t, a2, "audio")
	writeFile(t, filepath.Join(dir, "a1.png"), "existing")
	writeFile(t, filepath.Join(dir, "5_new.jpg"), "new")

	r := NewReconciler("/usr/bin/ffmpeg", 0, nil).WithRunner(&fakeMuxer{})
	report, err := r.Run(context.Background(), Input{Dir: dir, Audio: []AudioFile{{Path: a1}, {Path: a2}}})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if got := readFile(t, filepath.Join(dir, "a1.png")); got != "existing" {
		t.Errorf("a1.png = %q, want existing", got)
	}
	if got := readFile(t, filepath.Join(dir, "a2.jpg")); got != "new" {
		t.Errorf("a2.jpg = %q, want new", got)
	}
	if len(report.Paired) != 1 || report.Paired[0].Audio != a2 {
		t.Errorf("paired = %+v, want only a2", report.Paired)
	}
}

func TestRun_CountMismatch(t *testing.T) {
	dir := t.TempDir()
	a1 := filepath.Join(dir, "a1.flac")
	a2 := filepath.Join(dir, "a2.flac")
	writeFile(t, a1, "audio")
	writeFile(t, a2, "audio")
	writeFile(t, filepath.Join(dir, "1_only.jpg"), "img1")

	r := NewReconciler("/usr/bin/ffmpeg", 0, nil).WithRunner(&fakeMuxer{})
	report, err := r.Run(context.Background(), Input{Dir: dir, Audio: []AudioFile{{Path: a1}, {Path: a2}}})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if len(report.Embedded) != 1 || report.Embedded[0] != a1 {
		t.Errorf("embedded = %v, want [a1]", report.Embedded)
	}
	if len(report.Missing) != 1 || report.Missing[0] != a2 {
		t.Errorf("missing = %v, want [a2]", report.Missing)
	}
	if got := readFile(t, a2); got != "audio" {
		t.Errorf("a2 content = %q, should be untouched", got)
	}
}

func TestRun_MuxerFailureLeavesOriginal(t *testing.T) {
	dir := t.TempDir()
	a1 := filepath.Join(dir, "a1.m4a")
	writeFile(t, a1, "audio")
	writeFile(t, filepath.Join(dir, "1_x.jpg"), "img")

	r := NewReconciler("/usr/bin/ffmpeg", 0, nil).WithRunner(&fakeMuxer{fail: true})
	report, err := r.Run(context.Background(), Input{Dir: dir, Audio: []AudioFile{{Path: a1}}})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if len(report.Failures) != 1 {
		t.Fatalf("failures = %v, want 1", report.Failures)
	}
	if got := readFile(t, a1); got != "audio" {
		t.Errorf("a1 content = %q, should be untouched", got)
	}
	if _, err := os.Stat(filepath.Join(dir, embedPrefix+"a1.m4a")); !os.IsNotExist(err) {
		t.Error("temporary output should be removed")
	}
}

func TestRun_RestoresModTime(t *testing.T) {
	dir := t.TempDir()
	a1 := filepath.Join(dir, "a1.m4a")
	writeFile(t, a1, "audio")
	writeFile(t, filepath.Join(dir, "a1.jpg"), "img")

	past := time.Date(2023, 4, 5, 6, 7, 8, 0, time.UTC)
	if err := os.Chtimes(a1, past, past); err != nil {
		t.Fatalf("Chtimes() error = %v", err)
	}

	muxer := &fakeMuxer{}
	r := NewReconciler("/usr/bin/ffmpeg", 0, nil).WithRunner(muxer)
	if _, err := r.Run(context.Background(), Input{Dir: dir, Audio: []AudioFile{{Path: a1}}}); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	info, err := os.Stat(a1)
	if err != nil {
		t.Fatalf("Stat() error = %v", err)
	}
	if !info.ModTime().Equal(past) {
		t.Errorf("ModTime = %v, want %v", info.ModTime(), past)
	}
	if len(muxer.calls) != 1 {
		t.Fatalf("muxer calls = %d, want 1", len(muxer.calls))
	}
}

func TestRun_MissingMuxer(t *testing.T) {
	r := NewReconciler("", 0, nil)
	_, err := r.Run(context.Background(), Input{Dir: t.TempDir()})
	if !errors.IsMissingDependency(err) {
		t.Errorf("Run() error = %v, want missing dependency", err)
	}
}

func TestMuxArgs(t *testing.T) {
	args := MuxArgs("in.m4a", "in.jpg", "out.m4a")
	want := []string{
		"-y", "-hide_banner", "-loglevel", "error",
		"-i", "in.m4a", "-i", "in.jpg",
		"-map", "0:a", "-map", "1:v",
		"-c:a", "copy", "-c:v", "mjpeg",
		"-disposition:v:0", "attached_pic",
		"out.m4a",
	}
	if len(args) != len(want) {
		t.Fatalf("MuxArgs() = %v, want %v", args, want)
	}
	for i := range want {
		if args[i] != want[i] {
			t.Errorf("args[%d] = %q, want %q", i, args[i], want[i])
		}
	}
}

func buildZip(t *testing.T, entries map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range entries {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatalf("Create(%s) error = %v", name, err)
		}
		w.Write([]byte(content))
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	return buf.Bytes()
}

func TestImport_LocalArchive(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "out")
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}

	archive := filepath.Join(root, "covers.zip")
	data := buildZip(t, map[string]string{
		"covers/1_a.jpg":     "one",
		"../../2_b.png":      "two",
		"notes.txt":          "skip",
		"__MACOSX/._1_a.jpg": "resource fork",
	})
	if err := os.WriteFile(archive, data, 0644); err != nil {
		t.Fatal(err)
	}

	r := NewReconciler("/usr/bin/ffmpeg", 0, nil)
	got, err := r.Import(context.Background(), archive, dir)
	if err != nil {
		t.Fatalf("Import() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Import() = %v, want 2 images", got)
	}

	if readFile(t, filepath.Join(dir, "1_a.jpg")) != "one" || readFile(t, filepath.Join(dir, "2_b.png")) != "two" {
		t.Error("extracted content mismatch")
	}
	for _, name := range []string{"notes.txt", "._1_a.jpg"} {
		if _, err := os.Stat(filepath.Join(dir, name)); !os.IsNotExist(err) {
			t.Errorf("%s should not be extracted", name)
		}
	}
	if _, err := os.Stat(filepath.Join(root, "2_b.png")); !os.IsNotExist(err) {
		t.Error("entry escaped the output directory")
	}
}

func TestImport_RemoteArchive(t *testing.T) {
	data := buildZip(t, map[string]string{"1_a.jpg": "one"})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(data)
	}))
	defer server.Close()

	dir := t.TempDir()
	r := NewReconciler("/usr/bin/ffmpeg", 0, nil)
	got, err := r.Import(context.Background(), server.URL+"/covers.zip", dir)
	if err != nil {
		t.Fatalf("Import() error = %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("Import() = %v, want 1 image", got)
	}

	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Errorf("dir has %d entries, want only the image", len(entries))
	}
}

// buildOrderedZip keeps entry order, which decides who wins a name clash
func buildOrderedZip(t *testing.T, entries ...[2]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, e := range entries {
		w, err := zw.Create(e[0])
		if err != nil {
			t.Fatalf("Create(%s) error = %v", e[0], err)
		}
		w.Write([]byte(e[1]))
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	return buf.Bytes()
}

func TestImport_SkipsNameCollisions(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "out")
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	writeFile(t, filepath.Join(dir, "3_c.jpg"), "already here")

	archive := filepath.Join(root, "covers.zip")
	data := buildOrderedZip(t,
		[2]string{"disc1/1_a.jpg", "first"},
		[2]string{"disc2/1_a.jpg", "second"},
		[2]string{"disc2/1_A.JPG", "third"},
		[2]string{"3_c.jpg", "from archive"},
		[2]string{"2_b.png", "two"},
	)
	if err := os.WriteFile(archive, data, 0644); err != nil {
		t.Fatal(err)
	}

	core, logs := observer.New(zap.WarnLevel)
	r := NewReconciler("/usr/bin/ffmpeg", 0, zap.New(core))
	got, err := r.Import(context.Background(), archive, dir)
	if err != nil {
		t.Fatalf("Import() error = %v", err)
	}

	want := []string{filepath.Join(dir, "1_a.jpg"), filepath.Join(dir, "2_b.png")}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("Import() = %v, want %v", got, want)
	}
	if readFile(t, filepath.Join(dir, "1_a.jpg")) != "first" {
		t.Error("a later entry overwrote the first 1_a.jpg")
	}
	if readFile(t, filepath.Join(dir, "3_c.jpg")) != "already here" {
		t.Error("an archive entry overwrote an existing file")
	}
	if n := logs.FilterMessage("Skipping archive entry with a duplicate name").Len(); n != 2 {
		t.Errorf("duplicate warnings = %d, want 2", n)
	}
	if n := logs.FilterMessage("Skipping archive entry that would overwrite an existing file").Len(); n != 1 {
		t.Errorf("overwrite warnings = %d, want 1", n)
	}
}

func TestImport_RemoteArchiveHonoursRetryAfter(t *testing.T) {
	data := buildZip(t, map[string]string{"1_a.jpg": "one"})
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.Header().Set("Retry-After", "120")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write(data)
	}))
	defer server.Close()

	dir := t.TempDir()
	// Max caps the two minute Retry-After so the test stays fast
	r := NewReconciler("/usr/bin/ffmpeg", 0, nil).
		WithHTTPClient(server.Client(), errors.Backoff{Attempts: 3, Base: time.Millisecond, Max: 20 * time.Millisecond})

	start := time.Now()
	got, err := r.Import(context.Background(), server.URL+"/covers.zip", dir)
	if err != nil {
		t.Fatalf("Import() error = %v", err)
	}
	if len(got) != 1 || calls != 2 {
		t.Errorf("Import() = %v after %d calls, want 1 image after 2", got, calls)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("Retry-After was not capped: took %v", elapsed)
	}
}

func TestImport_RemoteArchiveGoneIsNotRetried(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusGone)
	}))
	defer server.Close()

	r := NewReconciler("/usr/bin/ffmpeg", 0, nil).
		WithHTTPClient(server.Client(), errors.Backoff{Attempts: 3, Base: time.Millisecond, Max: time.Millisecond})
	_, err := r.Import(context.Background(), server.URL+"/covers.zip", t.TempDir())
	if err == nil {
		t.Fatal("expected error for 410")
	}
	if errors.StatusCode(err) != http.StatusGone {
		t.Errorf("StatusCode() = %d, want 410", errors.StatusCode(err))
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestImport_InvalidArchive(t *testing.T) {
	dir := t.TempDir()
	bad := filepath.Join(dir, "bad.zip")
	writeFile(t, bad, "not a zip")

	r := NewReconciler("/usr/bin/ffmpeg", 0, nil)
	if _, err := r.Import(context.Background(), bad, dir); err == nil {
		t.Error("expected error for invalid archive")
	}
}

func TestReplayTags(t *testing.T) {
	requests := []tracklist.TrackRequest{
		{Position: 1, Title: "One", Artist: "A", Album: "X"},
		{Position: 2, Title: "Two", Artist: "B", Album: "X"},
		{Position: 3, Title: "Three", Artist: "C", Album: "X"},
	}
	files := ReplayTags(requests, map[int]bool{2: true}, []string{"a.mp3", "b.mp3", "c.mp3"})

	if len(files) != 3 {
		t.Fatalf("ReplayTags() returned %d files, want 3", len(files))
	}
	if files[0].Tags == nil || files[0].Tags.Title != "One" || files[0].Tags.TrackNumber != 1 {
		t.Errorf("files[0].Tags = %+v, want One #1", files[0].Tags)
	}
	if files[1].Tags == nil || files[1].Tags.Title != "Three" || files[1].Tags.TrackNumber != 3 {
		t.Errorf("files[1].Tags = %+v, want Three #3", files[1].Tags)
	}
	if files[2].Tags != nil {
		t.Errorf("files[2].Tags = %+v, want nil", files[2].Tags)
	}
}
