package metadata

import (
	"fmt"

	"github.com/zhaarey/go-mp4tag"
)

// M4AWriter tags MP4 audio files through iTunes-style ilst atoms
type M4AWriter struct{}

// Container implements TagWriter
func (M4AWriter) Container() Container { return ContainerM4A }

// EnsureTags implements TagWriter. go-mp4tag builds the moov/udta/meta/ilst
// path on write, so opening and reading is enough to validate the file.
func (M4AWriter) EnsureTags(path string) error {
	mp4, err := mp4tag.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open M4A file: %w", err)
	}
	defer mp4.Close()

	if _, err := mp4.Read(); err != nil {
		return fmt.Errorf("failed to read M4A atoms: %w", err)
	}
	return nil
}

// ReadTags implements TagWriter
func (M4AWriter) ReadTags(path string) (Tags, error) {
	mp4, err := mp4tag.Open(path)
	if err != nil {
		return Tags{}, fmt.Errorf("failed to open M4A file: %w", err)
	}
	defer mp4.Close()

	t, err := mp4.Read()
	if err != nil {
		return Tags{}, fmt.Errorf("failed to read M4A tags: %w", err)
	}

	return Tags{
		Title:       t.Title,
		Artist:      t.Artist,
		Album:       t.Album,
		TrackNumber: int(t.TrackNumber),
	}, nil
}

// WriteTags implements TagWriter
func (M4AWriter) WriteTags(path string, tags Tags) error {
	mp4, err := mp4tag.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open M4A file: %w", err)
	}
	defer mp4.Close()

	t := &mp4tag.MP4Tags{
		Title:       tags.Title,
		Artist:      tags.Artist,
		Album:       tags.Album,
		TrackNumber: int16(tags.TrackNumber),
	}

	if err := mp4.Write(t, []string{}); err != nil {
		return fmt.Errorf("failed to save M4A metadata: %w", err)
	}
	return nil
}
