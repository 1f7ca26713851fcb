package passes

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/utn-ba-rf-lab/orbit-predictor-utn/internal/config"
)

type staticNames map[int]string

func (n staticNames) Name(id int) string { return n[id] }

func newTestSource(t *testing.T, ids ...int) *PredictorSource {
	t.Helper()
	tracked := make([]config.TrackedSatellite, len(ids))
	preds := make([]*Predictor, len(ids))
	names := staticNames{}
	for i, id := range ids {
		tracked[i] = config.TrackedSatellite{NORADID: id, Command: "/bin/true", Frequency: 137.1}
		p, err := NewPredictor(id, issRecord)
		if err != nil {
			t.Fatal(err)
		}
		preds[i] = p
		names[id] = "SAT"
	}

	src := NewPredictorSource(tracked, names, SourceConfig{
		Observer: nycObserver,
		Horizon:  24 * time.Hour,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	src.Publish(NewSet(preds, searchStart))
	return src
}

func TestPredictorSourceUnpublished(t *testing.T) {
	src := NewPredictorSource([]config.TrackedSatellite{{NORADID: 1}}, nil, SourceConfig{Horizon: time.Hour},
		slog.New(slog.NewTextHandler(io.Discard, nil)))
	if _, ok := src.NextPass(context.Background(), Query{From: searchStart}); ok {
		t.Fatal("expected no pass before a set is published")
	}
}

func TestPredictorSourceTieGoesToLowerID(t *testing.T) {
	// Identical elements under two ids produce identical passes.
	src := newTestSource(t, 43, 7)

	sp, ok := src.NextPass(context.Background(), Query{From: searchStart})
	if !ok {
		t.Fatal("expected a pass")
	}
	if sp.NORADID != 7 {
		t.Errorf("NORAD ID = %d, want 7", sp.NORADID)
	}
	if sp.Command != "/bin/true" || sp.Frequency != 137.1 || sp.Name != "SAT" {
		t.Errorf("unexpected pass metadata: %+v", sp)
	}
}

func TestPredictorSourceSkipsBusy(t *testing.T) {
	src := newTestSource(t, 7, 43)

	sp, ok := src.NextPass(context.Background(), Query{From: searchStart, Busy: map[int]bool{7: true}})
	if !ok {
		t.Fatal("expected a pass")
	}
	if sp.NORADID != 43 {
		t.Errorf("NORAD ID = %d, want 43", sp.NORADID)
	}

	if _, ok := src.NextPass(context.Background(), Query{From: searchStart, Busy: map[int]bool{7: true, 43: true}}); ok {
		t.Error("expected no pass when every satellite is busy")
	}
}

func TestPredictorSourceSkipsSatelliteMissingFromSet(t *testing.T) {
	tracked := []config.TrackedSatellite{
		{NORADID: 7, Command: "cmd-7"},
		{NORADID: 43, Command: "cmd-43"},
		{NORADID: 99, Command: "cmd-99"},
	}
	p, err := NewPredictor(43, issRecord)
	if err != nil {
		t.Fatal(err)
	}

	src := NewPredictorSource(tracked, staticNames{43: "ISS"}, SourceConfig{
		Observer: nycObserver,
		Horizon:  24 * time.Hour,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	src.Publish(NewSet([]*Predictor{p}, searchStart))

	sp, ok := src.NextPass(context.Background(), Query{From: searchStart})
	if !ok {
		t.Fatal("expected a pass for the satellite that has a predictor")
	}
	if sp.NORADID != 43 || sp.Command != "cmd-43" || sp.Name != "ISS" {
		t.Errorf("unexpected pass: %+v", sp)
	}
}

func TestPredictorSourceResume(t *testing.T) {
	src := newTestSource(t, 7, 43)

	first, ok := src.NextPass(context.Background(), Query{From: searchStart})
	if !ok {
		t.Fatal("expected a pass")
	}

	sp, ok := src.NextPass(context.Background(), Query{
		From:   searchStart,
		Resume: map[int]time.Time{7: first.LOS},
	})
	if !ok {
		t.Fatal("expected a pass")
	}
	// Satellite 43 still has the original pass; satellite 7 resumes after it.
	if sp.NORADID != 43 || !sp.AOS.Equal(first.AOS) {
		t.Errorf("got %d at %v, want 43 at %v", sp.NORADID, sp.AOS, first.AOS)
	}
}

func TestPredictorSourceRepublish(t *testing.T) {
	src := newTestSource(t, 7)
	first, ok := src.NextPass(context.Background(), Query{From: searchStart})
	if !ok {
		t.Fatal("expected a pass")
	}

	// Queries after Publish use the new set.
	p, err := NewPredictor(7, issRecord)
	if err != nil {
		t.Fatal(err)
	}
	src.Publish(NewSet([]*Predictor{p}, first.LOS))

	later, ok := src.NextPass(context.Background(), Query{From: first.LOS})
	if !ok {
		t.Fatal("expected a pass")
	}
	if !later.AOS.After(first.LOS) {
		t.Errorf("pass after republish starts %v, want after %v", later.AOS, first.LOS)
	}
	if !src.Set().BuiltAt().Equal(first.LOS) {
		t.Errorf("published set not visible")
	}
}

func TestSyntheticSource(t *testing.T) {
	src := NewSyntheticSource([]config.TrackedSatellite{
		{NORADID: 20, Command: "b"},
		{NORADID: 10, Command: "a"},
	})
	from := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	sp, ok := src.NextPass(context.Background(), Query{From: from})
	if !ok {
		t.Fatal("expected a pass")
	}
	if sp.NORADID != 10 || !sp.AOS.Equal(from.Add(src.Offset)) {
		t.Errorf("got %d at %v", sp.NORADID, sp.AOS)
	}
	if sp.LOS.Sub(sp.AOS) != src.Duration {
		t.Errorf("duration = %v, want %v", sp.LOS.Sub(sp.AOS), src.Duration)
	}

	sp, ok = src.NextPass(context.Background(), Query{From: from, Busy: map[int]bool{10: true}})
	if !ok || sp.NORADID != 20 || sp.Command != "b" {
		t.Errorf("got %+v, want satellite 20", sp)
	}

	resume := from.Add(time.Hour)
	sp, ok = src.NextPass(context.Background(), Query{From: from, Resume: map[int]time.Time{10: resume}})
	if !ok || sp.NORADID != 20 {
		t.Errorf("got %+v, want satellite 20 while 10 resumes later", sp)
	}
}
