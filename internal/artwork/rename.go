package artwork

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/tracksync/tracksync-go/internal/errors"
	"github.com/tracksync/tracksync-go/internal/monitoring"
)

// UnmatchedDir is where images that cannot belong to any file are moved
const UnmatchedDir = "unmatched"

// Pair is an audio file and the image renamed after it
type Pair struct {
	Audio string
	Image string
}

// renameResult is the outcome of one rename pass
type renameResult struct {
	Paired    []Pair
	Unmatched []string
	Unpaired  []string
}

// renamePass pairs loose images in dir with audio by position and renames
// each paired image to the audio file's stem. Images already named after one
// of the audio files are left alone and take that file out of the pairing.
// Images whose ordinal is a failed position are moved to unmatched/.
func renamePass(dir string, audio []string, failed map[int]bool, logger *zap.Logger) (renameResult, error) {
	var res renameResult

	images, err := listImages(dir)
	if err != nil {
		return res, errors.NewFileSystemError("failed to list images", err)
	}

	taken := make(map[string]bool, len(images))
	for _, img := range images {
		taken[stem(img)] = true
	}

	var pending []string
	for _, a := range audio {
		if !taken[stem(a)] {
			pending = append(pending, a)
		}
	}

	var loose []Asset
	audioStems := make(map[string]bool, len(audio))
	for _, a := range audio {
		audioStems[stem(a)] = true
	}
	for _, img := range images {
		if audioStems[stem(img)] {
			continue
		}
		asset := ParseAsset(img)
		if asset.Ordinal != nil && failed[*asset.Ordinal] {
			moved, err := moveUnmatched(dir, img)
			if err != nil {
				return res, err
			}
			res.Unmatched = append(res.Unmatched, moved)
			monitoring.RecordArtwork("unmatched")
			continue
		}
		loose = append(loose, asset)
	}
	SortAssets(loose)

	if len(loose) != len(pending) {
		mismatch := errors.NewArtworkMismatchError(fmt.Sprintf("%d images for %d audio files", len(loose), len(pending)))
		monitoring.RecordError(string(errors.GetErrorType(mismatch)))
		logger.Warn("Artwork count mismatch",
			zap.Int("images", len(loose)),
			zap.Int("audio_files", len(pending)),
			zap.Error(mismatch))
	}

	n := min(len(loose), len(pending))
	for i := 0; i < n; i++ {
		img := loose[i].Path
		target := filepath.Join(dir, stem(pending[i])+filepath.Ext(img))
		if err := os.Rename(img, target); err != nil {
			return res, errors.NewFileSystemError(fmt.Sprintf("failed to rename %s", filepath.Base(img)), err)
		}
		res.Paired = append(res.Paired, Pair{Audio: pending[i], Image: target})
		monitoring.RecordArtwork("paired")
	}

	for _, extra := range loose[n:] {
		moved, err := moveUnmatched(dir, extra.Path)
		if err != nil {
			return res, err
		}
		res.Unmatched = append(res.Unmatched, moved)
		monitoring.RecordArtwork("unmatched")
	}
	res.Unpaired = append(res.Unpaired, pending[n:]...)

	return res, nil
}

func moveUnmatched(dir, img string) (string, error) {
	target := filepath.Join(dir, UnmatchedDir, filepath.Base(img))
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return "", errors.NewFileSystemError("failed to create unmatched directory", err)
	}
	if err := os.Rename(img, target); err != nil {
		return "", errors.NewFileSystemError(fmt.Sprintf("failed to move %s", filepath.Base(img)), err)
	}
	return target, nil
}
