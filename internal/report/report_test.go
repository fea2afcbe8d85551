package report

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/tracksync/tracksync-go/internal/tracklist"
)

func TestPlaylistPath(t *testing.T) {
	got := PlaylistPath("/music/road_trip", "road_trip_2024")
	want := filepath.Join("/music/road_trip", "road trip 2024.m3u")
	if got != want {
		t.Errorf("PlaylistPath() = %q, want %q", got, want)
	}
}

func TestWritePlaylist(t *testing.T) {
	dir := t.TempDir()
	files := []string{
		filepath.Join(dir, "Song B.mp3"),
		filepath.Join(dir, "Song A.m4a"),
	}

	path, err := WritePlaylist(dir, "my_mix", files)
	if err != nil {
		t.Fatalf("WritePlaylist() error = %v", err)
	}
	if filepath.Base(path) != "my mix.m3u" {
		t.Errorf("playlist name = %q", filepath.Base(path))
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	want := "#EXTM3U\n#EXTINF:-1,Song B\nSong B.mp3\n#EXTINF:-1,Song A\nSong A.m4a\n"
	if string(data) != want {
		t.Errorf("playlist =\n%s\nwant\n%s", data, want)
	}
}

func TestWriteNotFound(t *testing.T) {
	dir := t.TempDir()
	entries := []NotFoundEntry{
		{Request: tracklist.TrackRequest{Position: 5, Title: "Late", Artist: "B", Album: "X"}, Error: "no results"},
		{Request: tracklist.TrackRequest{Position: 2, Title: "Hello, World", Artist: "A", Album: "X"}, Error: "timed out after 5m0s"},
	}

	path, err := WriteNotFound(dir, entries)
	if err != nil {
		t.Fatalf("WriteNotFound() error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	want := []string{
		"title,artist,album,position,error",
		`"Hello, World",A,X,2,timed out after 5m0s`,
		"Late,B,X,5,no results",
	}
	if len(lines) != len(want) {
		t.Fatalf("report has %d lines, want %d:\n%s", len(lines), len(want), data)
	}
	for i := range want {
		if lines[i] != want[i] {
			t.Errorf("line %d = %q, want %q", i, lines[i], want[i])
		}
	}

	got, err := ReadNotFound(dir)
	if err != nil {
		t.Fatalf("ReadNotFound() error = %v", err)
	}
	if len(got) != 2 || got[0].Request.Title != "Hello, World" || got[1].Request.Position != 5 {
		t.Errorf("ReadNotFound() = %+v", got)
	}

	failed := FailedPositions(got)
	if !failed[2] || !failed[5] || failed[1] {
		t.Errorf("FailedPositions() = %v", failed)
	}
}

func TestWriteNotFound_RemovesStaleReport(t *testing.T) {
	dir := t.TempDir()
	stale := filepath.Join(dir, NotFoundFile)
	if err := os.WriteFile(stale, []byte("title,artist,album,position,error\n"), 0644); err != nil {
		t.Fatal(err)
	}

	path, err := WriteNotFound(dir, nil)
	if err != nil {
		t.Fatalf("WriteNotFound() error = %v", err)
	}
	if path != "" {
		t.Errorf("path = %q, want empty", path)
	}
	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Error("stale report should be removed")
	}

	// Nothing to remove is not an error
	if _, err := WriteNotFound(dir, nil); err != nil {
		t.Errorf("WriteNotFound() second call error = %v", err)
	}
}

func TestReadNotFound_Missing(t *testing.T) {
	entries, err := ReadNotFound(t.TempDir())
	if err != nil {
		t.Fatalf("ReadNotFound() error = %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("ReadNotFound() = %v, want empty", entries)
	}
}

func TestReadNotFound_InvalidPosition(t *testing.T) {
	dir := t.TempDir()
	content := "title,artist,album,position,error\nSong,A,X,two,no results\n"
	if err := os.WriteFile(filepath.Join(dir, NotFoundFile), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := ReadNotFound(dir); err == nil {
		t.Error("expected error for non-numeric position")
	}
}

func TestOpenErrorLog(t *testing.T) {
	dir := t.TempDir()
	w, err := OpenErrorLog(dir)
	if err != nil {
		t.Fatalf("OpenErrorLog() error = %v", err)
	}
	w.Write([]byte("ERROR: boom\n"))
	w.Close()

	data, err := os.ReadFile(filepath.Join(dir, ErrorLogFile))
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if string(data) != "ERROR: boom\n" {
		t.Errorf("error.log = %q", data)
	}
}
