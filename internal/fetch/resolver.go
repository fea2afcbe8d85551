package fetch

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/tracksync/tracksync-go/internal/tools"
)

// AudioExtensions are the containers the pipeline knows how to tag
var AudioExtensions = []string{".m4a", ".mp3", ".flac"}

// IsAudio reports whether path has a known audio extension (case-insensitive)
func IsAudio(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range AudioExtensions {
		if ext == e {
			return true
		}
	}
	return false
}

// KnownSet holds audio files already attributed (or pre-existing) in the
// output directory. It is owned by one batch and never shared.
type KnownSet struct {
	files map[string]struct{}
}

// NewKnownSet creates an empty set
func NewKnownSet() *KnownSet {
	return &KnownSet{files: make(map[string]struct{})}
}

// Add marks paths as known
func (k *KnownSet) Add(paths ...string) {
	for _, p := range paths {
		k.files[filepath.Clean(p)] = struct{}{}
	}
}

// Contains reports whether path is known
func (k *KnownSet) Contains(path string) bool {
	_, ok := k.files[filepath.Clean(path)]
	return ok
}

// Len returns the number of known files
func (k *KnownSet) Len() int {
	return len(k.files)
}

// Resolver decides which files in dir belong to the attempt that just ran
type Resolver interface {
	Resolve(dir string, known *KnownSet, res tools.RunResult) ([]string, error)
}

// DirDiffResolver attributes every audio file in dir that is not yet known.
// The result is ordered by modification time, then name.
type DirDiffResolver struct{}

// Resolve implements Resolver
func (DirDiffResolver) Resolve(dir string, known *KnownSet, _ tools.RunResult) ([]string, error) {
	files, err := ListAudio(dir)
	if err != nil {
		return nil, err
	}

	var fresh []string
	for _, f := range files {
		if !known.Contains(f) {
			fresh = append(fresh, f)
		}
	}
	return fresh, nil
}

// ReportedResolver attributes the audio paths the fetcher printed on stdout,
// in the order printed. Paths outside dir, already known, or missing on disk
// are ignored. When nothing usable was printed it falls back to the
// directory diff.
type ReportedResolver struct{}

// Resolve implements Resolver
func (ReportedResolver) Resolve(dir string, known *KnownSet, res tools.RunResult) ([]string, error) {
	root := filepath.Clean(dir)
	seen := make(map[string]bool)

	var files []string
	for _, line := range strings.Split(string(res.Stdout), "\n") {
		path := filepath.Clean(strings.TrimSpace(line))
		if !filepath.IsAbs(path) || filepath.Dir(path) != root || !IsAudio(path) {
			continue
		}
		if seen[path] || known.Contains(path) {
			continue
		}
		if _, err := os.Stat(path); err != nil {
			continue
		}
		seen[path] = true
		files = append(files, path)
	}

	if len(files) == 0 {
		return DirDiffResolver{}.Resolve(dir, known, res)
	}
	return files, nil
}

// ListAudio returns the audio files directly inside dir, oldest first
func ListAudio(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	type stamped struct {
		path string
		mod  time.Time
	}
	var files []stamped
	for _, e := range entries {
		if e.IsDir() || !IsAudio(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			// Vanished between listing and stat
			continue
		}
		files = append(files, stamped{path: filepath.Join(dir, e.Name()), mod: info.ModTime()})
	}

	sort.SliceStable(files, func(i, j int) bool {
		if !files[i].mod.Equal(files[j].mod) {
			return files[i].mod.Before(files[j].mod)
		}
		return files[i].path < files[j].path
	})

	out := make([]string, len(files))
	for i, f := range files {
		out[i] = f.path
	}
	return out, nil
}

// ScanKnown seeds a KnownSet with the audio already present in dir. A missing
// directory yields an empty set.
func ScanKnown(dir string) (*KnownSet, error) {
	known := NewKnownSet()
	files, err := ListAudio(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return known, nil
		}
		return nil, err
	}
	known.Add(files...)
	return known, nil
}
