package metadata

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tracksync/tracksync-go/internal/errors"
	"github.com/tracksync/tracksync-go/internal/monitoring"
)

// Container identifies an audio container format
type Container string

const (
	ContainerMP3  Container = "mp3"
	ContainerM4A  Container = "m4a"
	ContainerFLAC Container = "flac"
)

// Tags is the metadata written to every downloaded file
type Tags struct {
	Title       string
	Artist      string
	Album       string
	TrackNumber int
}

// TagWriter reads and writes tags for one container format
type TagWriter interface {
	Container() Container
	// EnsureTags creates an empty tag structure when the file has none
	EnsureTags(path string) error
	ReadTags(path string) (Tags, error)
	WriteTags(path string, tags Tags) error
}

// ContainerOf returns the container for a file extension
func ContainerOf(path string) (Container, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".mp3":
		return ContainerMP3, nil
	case ".m4a", ".mp4", ".m4b":
		return ContainerM4A, nil
	case ".flac":
		return ContainerFLAC, nil
	default:
		return "", fmt.Errorf("unsupported file format: %s", filepath.Ext(path))
	}
}

// ForPath selects the tag writer for a file by extension
func ForPath(path string) (TagWriter, error) {
	c, err := ContainerOf(path)
	if err != nil {
		return nil, err
	}
	switch c {
	case ContainerMP3:
		return MP3Writer{}, nil
	case ContainerM4A:
		return M4AWriter{}, nil
	default:
		return FLACWriter{}, nil
	}
}

// Apply ensures a tag structure exists on path and writes tags to it.
// Failures are returned as TagWrite errors.
func Apply(path string, tags Tags) error {
	w, err := ForPath(path)
	if err != nil {
		monitoring.RecordTagWrite("unknown", err)
		return errors.NewTagWriteError(path, err)
	}

	err = w.EnsureTags(path)
	if err == nil {
		err = w.WriteTags(path, tags)
	}
	monitoring.RecordTagWrite(string(w.Container()), err)
	if err != nil {
		return errors.NewTagWriteError(path, err)
	}
	return nil
}

// FileExists checks if a file exists
func FileExists(filePath string) bool {
	_, err := os.Stat(filePath)
	return err == nil
}
