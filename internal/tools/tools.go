package tools

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"

	"github.com/tracksync/tracksync-go/internal/errors"
)

// Default binary names for the external collaborators
const (
	FetcherName = "yt-dlp"
	MuxerName   = "ffmpeg"
)

// Paths holds resolved absolute paths of the external binaries
type Paths struct {
	Fetcher string
	Muxer   string
}

// MuxerDir is the directory holding the muxer, as the fetcher expects it
func (p Paths) MuxerDir() string {
	return filepath.Dir(p.Muxer)
}

// Locator finds external binaries. The zero value searches the bundled bin/
// directory next to the running executable, then PATH.
type Locator struct {
	// BinDir overrides the bundled binary directory
	BinDir string
}

// Resolve finds both the fetcher and the muxer. Explicitly configured paths
// must exist; empty ones are discovered.
func (l Locator) Resolve(fetcherPath, muxerPath string) (Paths, error) {
	fetcher, err := l.Find(FetcherName, fetcherPath)
	if err != nil {
		return Paths{}, err
	}

	muxer, err := l.Find(MuxerName, muxerPath)
	if err != nil {
		return Paths{}, err
	}

	return Paths{Fetcher: fetcher, Muxer: muxer}, nil
}

// Find resolves a single binary: configured path, then bundled bin/, then PATH.
func (l Locator) Find(name, configured string) (string, error) {
	if configured != "" {
		if isExecutableFile(configured) {
			return configured, nil
		}
		return "", errors.NewMissingDependencyError(name,
			fmt.Errorf("configured path %s is not an executable file", configured))
	}

	if dir := l.binDir(); dir != "" {
		for _, candidate := range []string{name, name + ".exe"} {
			p := filepath.Join(dir, candidate)
			if isExecutableFile(p) {
				return p, nil
			}
		}
	}

	path, err := exec.LookPath(name)
	if err != nil {
		return "", errors.NewMissingDependencyError(name, err)
	}
	return path, nil
}

func (l Locator) binDir() string {
	if l.BinDir != "" {
		return l.BinDir
	}
	exe, err := os.Executable()
	if err != nil {
		return ""
	}
	return filepath.Join(filepath.Dir(exe), "bin")
}

func isExecutableFile(path string) bool {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return false
	}
	if runtime.GOOS == "windows" {
		return true
	}
	return info.Mode()&0111 != 0
}
