package monitoring

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordRequest(t *testing.T) {
	before := testutil.ToFloat64(RequestsTotal.WithLabelValues("downloaded"))
	RecordRequest("downloaded")
	RecordRequest("downloaded")

	if got := testutil.ToFloat64(RequestsTotal.WithLabelValues("downloaded")) - before; got != 2 {
		t.Errorf("downloaded delta = %v, want 2", got)
	}
}

func TestRecordFetchAttempt(t *testing.T) {
	before := testutil.ToFloat64(FetchAttemptsTotal.WithLabelValues("not_found"))
	RecordFetchAttempt("not_found", 3*time.Second)

	if got := testutil.ToFloat64(FetchAttemptsTotal.WithLabelValues("not_found")) - before; got != 1 {
		t.Errorf("not_found delta = %v, want 1", got)
	}
}

func TestRecordTagWrite(t *testing.T) {
	okBefore := testutil.ToFloat64(TagWritesTotal.WithLabelValues("mp3", "ok"))
	failBefore := testutil.ToFloat64(TagWritesTotal.WithLabelValues("mp3", "failed"))

	RecordTagWrite("mp3", nil)
	RecordTagWrite("mp3", errors.New("locked"))

	if got := testutil.ToFloat64(TagWritesTotal.WithLabelValues("mp3", "ok")) - okBefore; got != 1 {
		t.Errorf("ok delta = %v, want 1", got)
	}
	if got := testutil.ToFloat64(TagWritesTotal.WithLabelValues("mp3", "failed")) - failBefore; got != 1 {
		t.Errorf("failed delta = %v, want 1", got)
	}
}

func TestUpdateBatchProgress(t *testing.T) {
	UpdateBatchProgress(1, 4)
	if got := testutil.ToFloat64(BatchProgress); got != 0.25 {
		t.Errorf("progress = %v, want 0.25", got)
	}

	UpdateBatchProgress(0, 0)
	if got := testutil.ToFloat64(BatchProgress); got != 0 {
		t.Errorf("progress = %v, want 0", got)
	}
}

func TestRecordError(t *testing.T) {
	RecordError("tool_invocation")
	RecordError("tag_write")
	RecordArtwork("unmatched")
}

func TestFlushTextfile(t *testing.T) {
	RecordRequest("failed")

	path := filepath.Join(t.TempDir(), "textfile", "tracksync.prom")
	if err := FlushTextfile(path); err != nil {
		t.Fatalf("FlushTextfile() error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if !strings.Contains(string(data), "tracksync_requests_total") {
		t.Errorf("textfile missing tracksync_requests_total:\n%s", data)
	}
}

func TestFlushTextfile_EmptyPath(t *testing.T) {
	if err := FlushTextfile(""); err != nil {
		t.Errorf("FlushTextfile(\"\") error = %v", err)
	}
}
