package tracklist

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/tracksync/tracksync-go/internal/errors"
)

func TestParse_ColumnAliases(t *testing.T) {
	tests := []struct {
		name   string
		csv    string
		expect TrackRequest
	}{
		{
			name:   "spotify export headers",
			csv:    "Track Name,Artist Name(s),Album Name\nBlue,Joni Mitchell,Blue\n",
			expect: TrackRequest{Position: 1, Title: "Blue", Artist: "Joni Mitchell", Album: "Blue"},
		},
		{
			name:   "short headers",
			csv:    "Title,Artist,Album\nHurt,Johnny Cash,American IV\n",
			expect: TrackRequest{Position: 1, Title: "Hurt", Artist: "Johnny Cash", Album: "American IV"},
		},
		{
			name:   "case and spacing insensitive",
			csv:    "track  NAME ,artists\nHurt,Nine Inch Nails\n",
			expect: TrackRequest{Position: 1, Title: "Hurt", Artist: "Nine Inch Nails", Album: "road_trip"},
		},
		{
			name:   "missing artist falls back",
			csv:    "Name\nUntitled\n",
			expect: TrackRequest{Position: 1, Title: "Untitled", Artist: Unknown, Album: "road_trip"},
		},
		{
			name:   "empty cell falls through to next alias",
			csv:    "Track Name,Title,Artist\n,Backup Title,X\n",
			expect: TrackRequest{Position: 1, Title: "Backup Title", Artist: "X", Album: "road_trip"},
		},
		{
			name:   "all title cells empty",
			csv:    "Track Name,Artist\n,Someone\n",
			expect: TrackRequest{Position: 1, Title: Unknown, Artist: "Someone", Album: "road_trip"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pl, err := Parse(strings.NewReader(tt.csv), "road_trip")
			if err != nil {
				t.Fatalf("Parse() error = %v", err)
			}
			if len(pl.Requests) != 1 {
				t.Fatalf("got %d requests, want 1", len(pl.Requests))
			}
			if pl.Requests[0] != tt.expect {
				t.Errorf("got %+v, want %+v", pl.Requests[0], tt.expect)
			}
		})
	}
}

func TestParse_PositionsSkipBlankRows(t *testing.T) {
	input := "Track Name,Artist Name(s)\nA,1\n,\nB,2\n\nC,3\n"

	pl, err := Parse(strings.NewReader(input), "mix")
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	want := []string{"A", "B", "C"}
	if len(pl.Requests) != len(want) {
		t.Fatalf("got %d requests, want %d", len(pl.Requests), len(want))
	}
	for i, req := range pl.Requests {
		if req.Position != i+1 {
			t.Errorf("request %d position = %d, want %d", i, req.Position, i+1)
		}
		if req.Title != want[i] {
			t.Errorf("request %d title = %q, want %q", i, req.Title, want[i])
		}
	}
}

func TestParse_BOM(t *testing.T) {
	input := "\xEF\xBB\xBFTrack Name,Artist Name(s)\nSong,Band\n"

	pl, err := Parse(strings.NewReader(input), "bom")
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if pl.Requests[0].Title != "Song" {
		t.Errorf("title = %q, want Song", pl.Requests[0].Title)
	}
}

func TestParse_NoTitleColumn(t *testing.T) {
	_, err := Parse(strings.NewReader("Artist,Album\nX,Y\n"), "bad")
	if err == nil {
		t.Fatal("expected error for missing title column")
	}
	if errors.GetErrorType(err) != errors.ErrTypeValidation {
		t.Errorf("error type = %v, want validation", errors.GetErrorType(err))
	}
}

func TestParse_Empty(t *testing.T) {
	if _, err := Parse(strings.NewReader(""), "empty"); err == nil {
		t.Fatal("expected error for empty input")
	}
}

func TestLoad_UsesFileStem(t *testing.T) {
	path := filepath.Join(t.TempDir(), "Summer_Hits.csv")
	if err := os.WriteFile(path, []byte("Track Name,Artist Name(s)\nSong,Band\n"), 0644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	pl, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if pl.Name != "Summer_Hits" {
		t.Errorf("Name = %q, want Summer_Hits", pl.Name)
	}
	if pl.Requests[0].Album != "Summer_Hits" {
		t.Errorf("Album = %q, want playlist name fallback", pl.Requests[0].Album)
	}
}

func TestLoad_Missing(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.csv")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
