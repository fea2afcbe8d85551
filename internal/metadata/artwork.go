package metadata

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"strings"

	"github.com/nfnt/resize"
)

// ImageExtensions are the cover formats the artwork pass recognises
var ImageExtensions = []string{".jpg", ".jpeg", ".png"}

// IsImage reports whether path has a known cover extension (case-insensitive)
func IsImage(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range ImageExtensions {
		if ext == e {
			return true
		}
	}
	return false
}

// ResizeImageFile downscales the image at path in place so its long edge is
// at most maxSize pixels. It reports whether the file was rewritten.
// Images already within bounds, and maxSize <= 0, are left untouched.
func ResizeImageFile(path string, maxSize int) (bool, error) {
	if maxSize <= 0 {
		return false, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return false, fmt.Errorf("failed to read image: %w", err)
	}

	resized, changed, err := resizeImage(data, maxSize)
	if err != nil || !changed {
		return false, err
	}

	info, err := os.Stat(path)
	if err != nil {
		return false, err
	}

	// Write to temporary file first
	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, resized, info.Mode().Perm()); err != nil {
		return false, fmt.Errorf("failed to write resized image: %w", err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return false, fmt.Errorf("failed to replace image: %w", err)
	}
	return true, nil
}

// resizeImage scales imageData so the long edge equals maxSize, keeping the aspect ratio
func resizeImage(imageData []byte, maxSize int) ([]byte, bool, error) {
	img, format, err := image.Decode(bytes.NewReader(imageData))
	if err != nil {
		return nil, false, fmt.Errorf("failed to decode image: %w", err)
	}

	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()

	if width <= maxSize && height <= maxSize {
		return imageData, false, nil
	}

	var resized image.Image
	if width > height {
		resized = resize.Resize(uint(maxSize), 0, img, resize.Lanczos3)
	} else {
		resized = resize.Resize(0, uint(maxSize), img, resize.Lanczos3)
	}

	var buf bytes.Buffer
	switch format {
	case "png":
		err = png.Encode(&buf, resized)
	default:
		err = jpeg.Encode(&buf, resized, &jpeg.Options{Quality: 95})
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to encode resized image: %w", err)
	}

	return buf.Bytes(), true, nil
}
