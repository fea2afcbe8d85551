// Package report writes the playlist index, the failure report and the raw
// tool error log of a batch.
package report

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/tracksync/tracksync-go/internal/errors"
	"github.com/tracksync/tracksync-go/internal/monitoring"
	"github.com/tracksync/tracksync-go/internal/tracklist"
)

const (
	// NotFoundFile is the failure report name inside the output directory
	NotFoundFile = "not_found.csv"
	// ErrorLogFile receives the fetcher's raw diagnostics
	ErrorLogFile = "error.log"
)

// NotFoundHeader is the failure report's header row
var NotFoundHeader = []string{"title", "artist", "album", "position", "error"}

// NotFoundEntry is a request that exhausted every query variant
type NotFoundEntry struct {
	Request tracklist.TrackRequest
	Error   string
}

// PlaylistPath returns where the index for playlist name is written
func PlaylistPath(dir, name string) string {
	return filepath.Join(dir, strings.ReplaceAll(name, "_", " ")+".m3u")
}

// WritePlaylist writes an extended M3U index of files, which must live in
// dir, in the given order. Entries are relative to dir.
func WritePlaylist(dir, name string, files []string) (string, error) {
	path := PlaylistPath(dir, name)

	f, err := os.Create(path)
	if err != nil {
		return "", errors.NewFileSystemError("failed to create playlist", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	fmt.Fprintln(w, "#EXTM3U")
	for _, file := range files {
		base := filepath.Base(file)
		fmt.Fprintf(w, "#EXTINF:-1,%s\n", strings.TrimSuffix(base, filepath.Ext(base)))
		fmt.Fprintln(w, base)
	}
	if err := w.Flush(); err != nil {
		return "", errors.NewFileSystemError("failed to write playlist", err)
	}
	return path, f.Close()
}

// WriteNotFound writes the failure report sorted by position. With no
// entries, any report left by an earlier run is removed and "" is returned,
// so the file exists only when something failed.
func WriteNotFound(dir string, entries []NotFoundEntry) (string, error) {
	path := filepath.Join(dir, NotFoundFile)

	if len(entries) == 0 {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return "", errors.NewFileSystemError("failed to remove stale failure report", err)
		}
		return "", nil
	}

	sorted := make([]NotFoundEntry, len(entries))
	copy(sorted, entries)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Request.Position < sorted[j].Request.Position
	})

	f, err := os.Create(path)
	if err != nil {
		return "", errors.NewFileSystemError("failed to create failure report", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	w.Write(NotFoundHeader)
	for _, e := range sorted {
		w.Write([]string{
			e.Request.Title,
			e.Request.Artist,
			e.Request.Album,
			strconv.Itoa(e.Request.Position),
			e.Error,
		})
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", errors.NewFileSystemError("failed to write failure report", err)
	}
	return path, f.Close()
}

// ReadNotFound loads the failure report in dir. A missing report means
// nothing failed.
func ReadNotFound(dir string) ([]NotFoundEntry, error) {
	f, err := os.Open(filepath.Join(dir, NotFoundFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.NewFileSystemError("failed to open failure report", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	if err != nil {
		return nil, errors.NewValidationError(fmt.Sprintf("malformed failure report: %v", err))
	}
	if len(records) == 0 {
		return nil, nil
	}

	var entries []NotFoundEntry
	for i, rec := range records[1:] {
		if len(rec) < len(NotFoundHeader) {
			return nil, errors.NewValidationError(fmt.Sprintf("failure report row %d has %d columns", i+2, len(rec)))
		}
		pos, err := strconv.Atoi(strings.TrimSpace(rec[3]))
		if err != nil {
			return nil, errors.NewValidationError(fmt.Sprintf("failure report row %d: invalid position %q", i+2, rec[3]))
		}
		entries = append(entries, NotFoundEntry{
			Request: tracklist.TrackRequest{Position: pos, Title: rec[0], Artist: rec[1], Album: rec[2]},
			Error:   rec[4],
		})
	}
	return entries, nil
}

// FailedPositions returns the set of positions in entries
func FailedPositions(entries []NotFoundEntry) map[int]bool {
	failed := make(map[int]bool, len(entries))
	for _, e := range entries {
		failed[e.Request.Position] = true
	}
	return failed
}

// OpenErrorLog opens the size-rotated raw error log in dir
func OpenErrorLog(dir string) (io.WriteCloser, error) {
	return monitoring.NewRotatingWriter(filepath.Join(dir, ErrorLogFile), 10, 3, 30, false)
}
