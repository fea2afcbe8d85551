package artwork

import (
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/samber/lo"

	"github.com/tracksync/tracksync-go/internal/metadata"
)

var ordinalPrefix = regexp.MustCompile(`^(\d+)_`)

// Asset is an image file from the art-lookup archive
type Asset struct {
	Path string
	// Ordinal is the leading "N_" filename prefix, nil when absent
	Ordinal *int
}

// ParseAsset reads the ordinal hint from the file name
func ParseAsset(path string) Asset {
	a := Asset{Path: path}
	if m := ordinalPrefix.FindStringSubmatch(filepath.Base(path)); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			a.Ordinal = &n
		}
	}
	return a
}

// SortAssets orders assets by ordinal ascending; assets without one go last.
// Ties are broken by file name.
func SortAssets(assets []Asset) {
	sort.SliceStable(assets, func(i, j int) bool {
		a, b := assets[i], assets[j]
		switch {
		case a.Ordinal != nil && b.Ordinal != nil && *a.Ordinal != *b.Ordinal:
			return *a.Ordinal < *b.Ordinal
		case a.Ordinal != nil && b.Ordinal == nil:
			return true
		case a.Ordinal == nil && b.Ordinal != nil:
			return false
		}
		return filepath.Base(a.Path) < filepath.Base(b.Path)
	})
}

// listImages returns the image files directly inside dir
func listImages(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	files := lo.Filter(entries, func(e os.DirEntry, _ int) bool {
		return !e.IsDir() && metadata.IsImage(e.Name())
	})
	return lo.Map(files, func(e os.DirEntry, _ int) string {
		return filepath.Join(dir, e.Name())
	}), nil
}

func stem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
