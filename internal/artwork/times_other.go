//go:build !windows
// +build !windows

package artwork

import (
	"fmt"
	"os"
	"time"
)

// CanRestoreBirthTime reports whether file creation times can be written back
const CanRestoreBirthTime = false

// birthTime is not available on this platform
func birthTime(info os.FileInfo) (time.Time, bool) {
	return time.Time{}, false
}

// setBirthTime is not available on this platform
func setBirthTime(path string, t time.Time) error {
	return fmt.Errorf("creation time cannot be set on this platform")
}
