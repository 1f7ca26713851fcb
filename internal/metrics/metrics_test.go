package metrics

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordSourceFetch(t *testing.T) {
	before := testutil.ToFloat64(sourceFetches.WithLabelValues("NOAA", "timeout"))
	RecordSourceFetch("NOAA", "timeout")
	RecordSourceFetch("NOAA", "timeout")

	got := testutil.ToFloat64(sourceFetches.WithLabelValues("NOAA", "timeout"))
	if got-before != 2 {
		t.Errorf("timeout count delta = %v, want 2", got-before)
	}
}

func TestRecordRefreshLabels(t *testing.T) {
	okBefore := testutil.ToFloat64(refreshesTotal.WithLabelValues("ok"))
	errBefore := testutil.ToFloat64(refreshesTotal.WithLabelValues("error"))

	RecordRefresh(10*time.Millisecond, nil)
	RecordRefresh(10*time.Millisecond, errors.New("boom"))

	if d := testutil.ToFloat64(refreshesTotal.WithLabelValues("ok")) - okBefore; d != 1 {
		t.Errorf("ok delta = %v, want 1", d)
	}
	if d := testutil.ToFloat64(refreshesTotal.WithLabelValues("error")) - errBefore; d != 1 {
		t.Errorf("error delta = %v, want 1", d)
	}
}

func TestWriteTextfile(t *testing.T) {
	SetActiveWorkers(3)
	SetPredictorCount(7)

	path := filepath.Join(t.TempDir(), "satpass.prom")
	if err := WriteTextfile(path); err != nil {
		t.Fatalf("WriteTextfile: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading textfile: %v", err)
	}
	out := string(data)
	for _, want := range []string{"satpass_active_workers 3", "satpass_predictors 7"} {
		if !strings.Contains(out, want) {
			t.Errorf("textfile missing %q", want)
		}
	}
}
