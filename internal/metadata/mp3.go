package metadata

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/bogem/id3v2/v2"
)

// MP3Writer tags MP3 files with ID3v2.4
type MP3Writer struct{}

// Container implements TagWriter
func (MP3Writer) Container() Container { return ContainerMP3 }

// EnsureTags implements TagWriter. id3v2 treats an untagged file as an empty
// tag, so this only checks that the file can be opened.
func (MP3Writer) EnsureTags(path string) error {
	tag, err := id3v2.Open(path, id3v2.Options{Parse: true})
	if err != nil {
		return fmt.Errorf("failed to open MP3 file: %w", err)
	}
	return tag.Close()
}

// ReadTags implements TagWriter
func (MP3Writer) ReadTags(path string) (Tags, error) {
	tag, err := id3v2.Open(path, id3v2.Options{Parse: true})
	if err != nil {
		return Tags{}, fmt.Errorf("failed to open MP3 file: %w", err)
	}
	defer tag.Close()

	tags := Tags{
		Title:  tag.Title(),
		Artist: tag.Artist(),
		Album:  tag.Album(),
	}

	if frames := tag.GetFrames(tag.CommonID("Track number/Position in set")); len(frames) > 0 {
		if tf, ok := frames[0].(id3v2.TextFrame); ok {
			if n, err := strconv.Atoi(strings.Split(tf.Text, "/")[0]); err == nil {
				tags.TrackNumber = n
			}
		}
	}

	return tags, nil
}

// WriteTags implements TagWriter
func (MP3Writer) WriteTags(path string, tags Tags) error {
	tag, err := id3v2.Open(path, id3v2.Options{Parse: true})
	if err != nil {
		return fmt.Errorf("failed to open MP3 file: %w", err)
	}
	defer tag.Close()

	tag.SetVersion(4)
	tag.SetDefaultEncoding(id3v2.EncodingUTF8)

	tag.SetTitle(tags.Title)
	tag.SetArtist(tags.Artist)
	tag.SetAlbum(tags.Album)

	trck := tag.CommonID("Track number/Position in set")
	tag.DeleteFrames(trck)
	if tags.TrackNumber > 0 {
		tag.AddTextFrame(trck, id3v2.EncodingUTF8, strconv.Itoa(tags.TrackNumber))
	}

	if err := tag.Save(); err != nil {
		return fmt.Errorf("failed to save MP3 metadata: %w", err)
	}
	return nil
}
