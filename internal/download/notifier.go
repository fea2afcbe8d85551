package download

import (
	"fmt"
	"sync"
	"time"

	"github.com/tracksync/tracksync-go/internal/tracklist"
)

// Progress is emitted after every resolved request
type Progress struct {
	Processed int
	Total     int
	Elapsed   time.Duration
	// ETA extrapolates the mean time per request over the remaining ones
	ETA     time.Duration
	Current tracklist.TrackRequest
}

// Percent returns progress as 0-100, zero before the first request resolves
func (p Progress) Percent() int {
	if p.Total == 0 {
		return 0
	}
	return p.Processed * 100 / p.Total
}

// Notifier receives per-request events from a batch
type Notifier interface {
	NotifyStarted(req tracklist.TrackRequest)
	NotifyProgress(p Progress)
	NotifyCompleted(req tracklist.TrackRequest, files []string)
	NotifyFailed(req tracklist.TrackRequest, err error)
}

// NopNotifier discards every event
type NopNotifier struct{}

func (NopNotifier) NotifyStarted(tracklist.TrackRequest)             {}
func (NopNotifier) NotifyProgress(Progress)                          {}
func (NopNotifier) NotifyCompleted(tracklist.TrackRequest, []string) {}
func (NopNotifier) NotifyFailed(tracklist.TrackRequest, error)       {}

// CallbackNotifier implements Notifier with plain callbacks. Callbacks run
// synchronously on the batch goroutine, so they see events in order.
type CallbackNotifier struct {
	mu               sync.RWMutex
	progressCallback func(p Progress)
	statusCallback   func(req tracklist.TrackRequest, status string, errorMsg string)

	statsMu      sync.Mutex
	successCount int
	failureCount int
}

// NewCallbackNotifier creates a new callback-based notifier
func NewCallbackNotifier() *CallbackNotifier {
	return &CallbackNotifier{}
}

// SetProgressCallback sets the callback function for progress updates
func (cn *CallbackNotifier) SetProgressCallback(callback func(p Progress)) {
	cn.mu.Lock()
	defer cn.mu.Unlock()
	cn.progressCallback = callback
}

// SetStatusCallback sets the callback function for status updates
func (cn *CallbackNotifier) SetStatusCallback(callback func(req tracklist.TrackRequest, status string, errorMsg string)) {
	cn.mu.Lock()
	defer cn.mu.Unlock()
	cn.statusCallback = callback
}

// NotifyStarted implements Notifier
func (cn *CallbackNotifier) NotifyStarted(req tracklist.TrackRequest) {
	cn.status(req, "started", "")
}

// NotifyProgress implements Notifier
func (cn *CallbackNotifier) NotifyProgress(p Progress) {
	cn.mu.RLock()
	callback := cn.progressCallback
	cn.mu.RUnlock()

	if callback != nil {
		defer recoverCallback("progress")
		callback(p)
	}
}

// NotifyCompleted implements Notifier
func (cn *CallbackNotifier) NotifyCompleted(req tracklist.TrackRequest, files []string) {
	cn.statsMu.Lock()
	cn.successCount++
	cn.statsMu.Unlock()
	cn.status(req, "completed", "")
}

// NotifyFailed implements Notifier
func (cn *CallbackNotifier) NotifyFailed(req tracklist.TrackRequest, err error) {
	cn.statsMu.Lock()
	cn.failureCount++
	cn.statsMu.Unlock()

	errorMsg := ""
	if err != nil {
		errorMsg = err.Error()
	}
	cn.status(req, "failed", errorMsg)
}

// Counts returns how many requests completed and failed so far
func (cn *CallbackNotifier) Counts() (success, failure int) {
	cn.statsMu.Lock()
	defer cn.statsMu.Unlock()
	return cn.successCount, cn.failureCount
}

func (cn *CallbackNotifier) status(req tracklist.TrackRequest, status, errorMsg string) {
	cn.mu.RLock()
	callback := cn.statusCallback
	cn.mu.RUnlock()

	if callback != nil {
		defer recoverCallback("status")
		callback(req, status, errorMsg)
	}
}

// recoverCallback keeps a misbehaving callback from taking down the batch
func recoverCallback(kind string) {
	if r := recover(); r != nil {
		fmt.Printf("%s callback panicked: %v\n", kind, r)
	}
}

// FormatETA formats ETA in human-readable format
func FormatETA(d time.Duration) string {
	seconds := int(d.Seconds())
	if seconds < 60 {
		return fmt.Sprintf("%ds", seconds)
	} else if seconds < 3600 {
		minutes := seconds / 60
		secs := seconds % 60
		return fmt.Sprintf("%dm %ds", minutes, secs)
	} else {
		hours := seconds / 3600
		minutes := (seconds % 3600) / 60
		return fmt.Sprintf("%dh %dm", hours, minutes)
	}
}
