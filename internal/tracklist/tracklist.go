package tracklist

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/tracksync/tracksync-go/internal/errors"
)

// Unknown is the fallback for a missing title or artist
const Unknown = "Unknown"

// TrackRequest is one source row. Position is 1-based and follows row order.
type TrackRequest struct {
	Position int    `json:"position"`
	Title    string `json:"title"`
	Artist   string `json:"artist"`
	Album    string `json:"album"`
}

// Playlist is a parsed export: its name (the source file stem) and its rows in order.
type Playlist struct {
	Name     string
	Requests []TrackRequest
}

// Column aliases, in priority order. The first alias present with a
// non-empty value wins for each row.
var (
	TitleAliases  = []string{"Track Name", "Track name", "Title", "Name"}
	ArtistAliases = []string{"Artist Name(s)", "Artist name", "Artist", "Artists"}
	AlbumAliases  = []string{"Album Name", "Album", "Album name"}
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Load reads a playlist export from a CSV file. The playlist name is the file
// name without its extension.
func Load(path string) (*Playlist, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.NewFileSystemError(fmt.Sprintf("failed to open playlist %s", path), err)
	}
	defer f.Close()

	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return Parse(f, name)
}

// Parse reads CSV rows from r. name is used as the album fallback.
func Parse(r io.Reader, name string) (*Playlist, error) {
	br := bufio.NewReader(r)
	if head, err := br.Peek(len(utf8BOM)); err == nil && bytes.Equal(head, utf8BOM) {
		br.Discard(len(utf8BOM))
	}

	reader := csv.NewReader(br)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err == io.EOF {
		return nil, errors.NewValidationError("playlist is empty")
	}
	if err != nil {
		return nil, errors.NewValidationError(fmt.Sprintf("failed to read header: %v", err))
	}

	cols := newColumns(header)
	if len(cols.title) == 0 {
		return nil, errors.NewValidationError(
			fmt.Sprintf("no title column found (expected one of %s)", strings.Join(TitleAliases, ", ")))
	}

	playlist := &Playlist{Name: name}
	line := 1
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, errors.NewValidationError(fmt.Sprintf("malformed row %d: %v", line, err))
		}
		if blank(record) {
			continue
		}

		playlist.Requests = append(playlist.Requests, TrackRequest{
			Position: len(playlist.Requests) + 1,
			Title:    pick(record, cols.title, Unknown),
			Artist:   pick(record, cols.artist, Unknown),
			Album:    pick(record, cols.album, name),
		})
	}

	return playlist, nil
}

// columns holds header indices per field, in alias priority order
type columns struct {
	title, artist, album []int
}

func newColumns(header []string) columns {
	index := make(map[string]int, len(header))
	for i, h := range header {
		key := normalize(h)
		if _, seen := index[key]; !seen {
			index[key] = i
		}
	}

	lookup := func(aliases []string) []int {
		var out []int
		seen := make(map[int]bool)
		for _, a := range aliases {
			if i, ok := index[normalize(a)]; ok && !seen[i] {
				out = append(out, i)
				seen[i] = true
			}
		}
		return out
	}

	return columns{
		title:  lookup(TitleAliases),
		artist: lookup(ArtistAliases),
		album:  lookup(AlbumAliases),
	}
}

// normalize folds case and collapses whitespace so "Track  name " matches "Track Name"
func normalize(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

func pick(record []string, idx []int, fallback string) string {
	for _, i := range idx {
		if i < len(record) {
			if v := strings.TrimSpace(record[i]); v != "" {
				return v
			}
		}
	}
	return fallback
}

func blank(record []string) bool {
	for _, f := range record {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}
