package artwork

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/tracksync/tracksync-go/internal/errors"
	"github.com/tracksync/tracksync-go/internal/metadata"
	"github.com/tracksync/tracksync-go/internal/network"
)

// maxImageBytes caps a single extracted image
const maxImageBytes = 50 << 20

// IsRemote reports whether src should be downloaded rather than opened
func IsRemote(src string) bool {
	return strings.HasPrefix(src, "http://") || strings.HasPrefix(src, "https://")
}

// Import extracts the images of an art archive into dir. src is a local zip
// path or an http(s) URL. It returns the extracted image paths.
func (r *Reconciler) Import(ctx context.Context, src, dir string) ([]string, error) {
	archivePath := src
	if IsRemote(src) {
		archivePath = filepath.Join(dir, ".artwork-download.zip")
		r.logger.Info("Downloading artwork archive", zap.String("url", src))
		err := network.DownloadFile(ctx, network.DownloadConfig{
			URL:        src,
			OutputPath: archivePath,
			Backoff:    r.backoff,
			Client:     r.client,
			Logger:     r.logger,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to download artwork archive: %w", err)
		}
		defer os.Remove(archivePath)
	}

	return r.extractImages(archivePath, dir)
}

// extractImages copies every image entry of a zip into dir, flattening any
// folder structure inside the archive. An entry whose flattened name is
// already taken, by an earlier entry or a file in dir, is skipped.
func (r *Reconciler) extractImages(archivePath, dir string) ([]string, error) {
	zr, err := zip.OpenReader(archivePath)
	if err != nil {
		return nil, errors.NewValidationError(fmt.Sprintf("invalid artwork archive %s: %v", archivePath, err))
	}
	defer zr.Close()

	var extracted []string
	taken := make(map[string]string)
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}

		name := filepath.Base(filepath.FromSlash(strings.ReplaceAll(f.Name, `\`, "/")))
		if name == "." || name == ".." || strings.HasPrefix(name, ".") || !metadata.IsImage(name) {
			continue
		}

		dest := filepath.Join(dir, name)
		if filepath.Dir(dest) != filepath.Clean(dir) {
			return extracted, errors.NewValidationError(fmt.Sprintf("archive entry escapes output directory: %s", f.Name))
		}

		key := strings.ToLower(name)
		if first, ok := taken[key]; ok {
			r.logger.Warn("Skipping archive entry with a duplicate name",
				zap.String("entry", f.Name),
				zap.String("kept", first))
			continue
		}
		taken[key] = f.Name

		if _, err := os.Lstat(dest); err == nil {
			r.logger.Warn("Skipping archive entry that would overwrite an existing file",
				zap.String("entry", f.Name),
				zap.String("path", dest))
			continue
		}

		if err := extractFile(f, dest); err != nil {
			return extracted, err
		}
		extracted = append(extracted, dest)
	}

	return extracted, nil
}

func extractFile(f *zip.File, dest string) error {
	rc, err := f.Open()
	if err != nil {
		return errors.NewFileSystemError(fmt.Sprintf("failed to open archive entry %s", f.Name), err)
	}
	defer rc.Close()

	out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return errors.NewFileSystemError(fmt.Sprintf("failed to create %s", dest), err)
	}

	n, err := io.Copy(out, io.LimitReader(rc, maxImageBytes+1))
	if closeErr := out.Close(); err == nil {
		err = closeErr
	}
	if err == nil && n > maxImageBytes {
		err = fmt.Errorf("entry exceeds %d bytes", maxImageBytes)
	}
	if err != nil {
		os.Remove(dest)
		return errors.NewFileSystemError(fmt.Sprintf("failed to extract %s", f.Name), err)
	}

	if !f.Modified.IsZero() {
		os.Chtimes(dest, f.Modified, f.Modified)
	}
	return nil
}
