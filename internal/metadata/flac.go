package metadata

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/go-flac/flacvorbis"
	"github.com/go-flac/go-flac"
)

// FLACWriter tags FLAC files with Vorbis comments
type FLACWriter struct{}

// Container implements TagWriter
func (FLACWriter) Container() Container { return ContainerFLAC }

// EnsureTags implements TagWriter. A Vorbis comment block is appended when
// the stream has none.
func (FLACWriter) EnsureTags(path string) error {
	f, err := flac.ParseFile(path)
	if err != nil {
		return fmt.Errorf("failed to parse FLAC file: %w", err)
	}

	if findVorbisBlock(f) != nil {
		return nil
	}

	block := flacvorbis.New().Marshal()
	f.Meta = append(f.Meta, &block)
	if err := f.Save(path); err != nil {
		return fmt.Errorf("failed to save FLAC file: %w", err)
	}
	return nil
}

// ReadTags implements TagWriter
func (FLACWriter) ReadTags(path string) (Tags, error) {
	f, err := flac.ParseFile(path)
	if err != nil {
		return Tags{}, fmt.Errorf("failed to parse FLAC file: %w", err)
	}

	var tags Tags
	block := findVorbisBlock(f)
	if block == nil {
		return tags, nil
	}

	cmt, err := flacvorbis.ParseFromMetaDataBlock(*block)
	if err != nil {
		return tags, fmt.Errorf("failed to parse Vorbis comments: %w", err)
	}

	first := func(key string) string {
		if v, err := cmt.Get(key); err == nil && len(v) > 0 {
			return v[0]
		}
		return ""
	}

	tags.Title = first(flacvorbis.FIELD_TITLE)
	tags.Artist = first(flacvorbis.FIELD_ARTIST)
	tags.Album = first(flacvorbis.FIELD_ALBUM)
	if n, err := strconv.Atoi(strings.Split(first(flacvorbis.FIELD_TRACKNUMBER), "/")[0]); err == nil {
		tags.TrackNumber = n
	}
	return tags, nil
}

// WriteTags implements TagWriter. Existing values for the written fields are replaced.
func (FLACWriter) WriteTags(path string, tags Tags) error {
	f, err := flac.ParseFile(path)
	if err != nil {
		return fmt.Errorf("failed to parse FLAC file: %w", err)
	}

	block := findVorbisBlock(f)
	if block == nil {
		nb := flacvorbis.New().Marshal()
		block = &nb
		f.Meta = append(f.Meta, block)
	}

	cmt, err := flacvorbis.ParseFromMetaDataBlock(*block)
	if err != nil {
		cmt = flacvorbis.New()
	}

	set := func(key, value string) error {
		removeVorbisField(cmt, key)
		if value == "" {
			return nil
		}
		return cmt.Add(key, value)
	}

	if err := set(flacvorbis.FIELD_TITLE, tags.Title); err != nil {
		return err
	}
	if err := set(flacvorbis.FIELD_ARTIST, tags.Artist); err != nil {
		return err
	}
	if err := set(flacvorbis.FIELD_ALBUM, tags.Album); err != nil {
		return err
	}
	track := ""
	if tags.TrackNumber > 0 {
		track = strconv.Itoa(tags.TrackNumber)
	}
	if err := set(flacvorbis.FIELD_TRACKNUMBER, track); err != nil {
		return err
	}

	res := cmt.Marshal()
	block.Data = res.Data

	if err := f.Save(path); err != nil {
		return fmt.Errorf("failed to save FLAC file: %w", err)
	}
	return nil
}

func findVorbisBlock(f *flac.File) *flac.MetaDataBlock {
	for _, block := range f.Meta {
		if block.Type == flac.VorbisComment {
			return block
		}
	}
	return nil
}

// removeVorbisField drops every comment for key (case-insensitive)
func removeVorbisField(cmt *flacvorbis.MetaDataBlockVorbisComment, key string) {
	prefix := strings.ToUpper(key) + "="
	kept := cmt.Comments[:0]
	for _, c := range cmt.Comments {
		if !strings.HasPrefix(strings.ToUpper(c), prefix) {
			kept = append(kept, c)
		}
	}
	cmt.Comments = kept
}
