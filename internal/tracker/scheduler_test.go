package tracker

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/utn-ba-rf-lab/orbit-predictor-utn/internal/config"
	"github.com/utn-ba-rf-lab/orbit-predictor-utn/internal/passes"
)

func fastConfig(capacity int) Config {
	return Config{
		Capacity:        capacity,
		RefreshInterval: time.Hour,
		Recheck:         20 * time.Millisecond,
		Timing:          Timing{StopGrace: time.Second},
	}
}

func runScheduler(t *testing.T, s *Scheduler) (cancel func()) {
	t.Helper()
	ctx, stop := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- s.Run(ctx) }()

	return func() {
		stop()
		select {
		case err := <-errc:
			assert.NoError(t, err)
		case <-time.After(3 * time.Second):
			t.Fatal("scheduler did not stop")
		}
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestSchedulerCapacityOneAdmitsInAOSOrder(t *testing.T) {
	now := time.Now()
	a := testPass(1, now.Add(50*time.Millisecond), now.Add(150*time.Millisecond))
	a.Command, a.Name = "cmd-a", "A"
	b := testPass(2, now.Add(500*time.Millisecond), now.Add(600*time.Millisecond))
	b.Command, b.Name = "cmd-b", "B"

	src := &tableSource{}
	src.set(b, a)
	l := newFakeLauncher()
	w := &timedWriter{}

	s := NewScheduler(src, nil, l, NewPassLog(w, 0), fastConfig(1), discardLogger)
	stop := runScheduler(t, s)
	waitFor(t, func() bool {
		ev := l.snapshot()
		return len(ev) == 2 && !ev[1].stop.IsZero()
	})
	stop()

	events := l.snapshot()
	assert.Equal(t, "cmd-a", events[0].command)
	assert.Equal(t, "cmd-b", events[1].command)

	lines, times := w.snapshot()
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "SAT: A,")
	assert.Contains(t, lines[1], "SAT: B,")
	assert.False(t, times[1].Before(events[0].stop), "B admitted before A's worker completed")
}

func TestSchedulerMutualExclusionAndCapacity(t *testing.T) {
	tracked := make([]config.TrackedSatellite, 4)
	for i := range tracked {
		tracked[i] = config.TrackedSatellite{NORADID: i + 1, Command: fmt.Sprintf("cmd-%d", i+1)}
	}
	src := passes.NewSyntheticSource(tracked)
	src.Offset = 5 * time.Millisecond
	src.Spacing = 2 * time.Millisecond
	src.Duration = 20 * time.Millisecond

	l := newFakeLauncher()
	s := NewScheduler(src, nil, l, nil, fastConfig(2), discardLogger)
	stop := runScheduler(t, s)
	waitFor(t, func() bool { return len(l.snapshot()) >= 12 })
	stop()

	maxTotal, maxPerCmd := l.bounds()
	assert.LessOrEqual(t, maxTotal, 2, "more processes than capacity")
	assert.Equal(t, 1, maxPerCmd, "a satellite ran two workers at once")

	seen := map[string]bool{}
	for _, ev := range l.snapshot() {
		seen[ev.command] = true
	}
	assert.GreaterOrEqual(t, len(seen), 2)
}

func TestSchedulerSamePassNotRelaunched(t *testing.T) {
	now := time.Now()
	// The command exits at once; the pass itself lasts much longer.
	p := testPass(1, now, now.Add(time.Hour))
	src := &tableSource{}
	src.set(p)
	l := newFakeLauncher()
	l.exitWith[p.Command] = nil

	s := NewScheduler(src, nil, l, nil, fastConfig(1), discardLogger)
	stop := runScheduler(t, s)
	waitFor(t, func() bool { return len(l.snapshot()) >= 1 })
	time.Sleep(100 * time.Millisecond)
	stop()

	assert.Len(t, l.snapshot(), 1)
}

func TestSchedulerLaunchFailureFreesSlot(t *testing.T) {
	now := time.Now()
	bad := testPass(1, now, now.Add(50*time.Millisecond))
	bad.Command = "cmd-bad"
	good := testPass(2, now.Add(10*time.Millisecond), now.Add(60*time.Millisecond))
	good.Command = "cmd-good"

	src := &tableSource{}
	src.set(bad, good)
	l := newFakeLauncher()
	l.failFor["cmd-bad"] = true

	s := NewScheduler(src, nil, l, nil, fastConfig(1), discardLogger)
	stop := runScheduler(t, s)
	waitFor(t, func() bool { return len(l.snapshot()) == 1 })
	stop()

	assert.Equal(t, "cmd-good", l.snapshot()[0].command)
}

func TestSchedulerRefreshDoesNotDisturbActiveWorker(t *testing.T) {
	now := time.Now()
	p := testPass(1, now.Add(20*time.Millisecond), now.Add(300*time.Millisecond))
	src := &tableSource{}
	src.set(p)

	ref := &countingRefresher{}
	ref.hook = func() {
		// New predictions move this satellite's pass; the running worker keeps its snapshot.
		later := testPass(1, time.Now().Add(time.Hour), time.Now().Add(2*time.Hour))
		src.set(later)
	}

	cfg := fastConfig(1)
	cfg.RefreshInterval = 50 * time.Millisecond
	l := newFakeLauncher()

	s := NewScheduler(src, ref, l, nil, cfg, discardLogger)
	stop := runScheduler(t, s)
	waitFor(t, func() bool {
		ev := l.snapshot()
		return len(ev) == 1 && !ev[0].stop.IsZero()
	})
	stop()

	ev := l.snapshot()[0]
	assert.False(t, ev.stop.Before(p.LOS), "worker stopped before its LOS")
	assert.Less(t, ev.stop.Sub(p.LOS), 500*time.Millisecond, "worker picked up the refreshed pass")

	during := 0
	for _, at := range ref.calls() {
		if at.After(ev.start) && at.Before(ev.stop) {
			during++
		}
	}
	assert.GreaterOrEqual(t, during, 2, "refreshes should run while the worker is active")
}

func TestSchedulerRechecksIncompleteSet(t *testing.T) {
	ref := &gapRefresher{}
	ref.missing.Store(true)

	// RefreshInterval is an hour; only the recheck can trigger these refreshes.
	s := NewScheduler(&tableSource{}, ref, newFakeLauncher(), nil, fastConfig(1), discardLogger)
	stop := runScheduler(t, s)
	defer stop()

	waitFor(t, func() bool { return len(ref.calls()) >= 3 })

	ref.missing.Store(false)
	time.Sleep(50 * time.Millisecond)
	settled := len(ref.calls())
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, settled, len(ref.calls()), "complete set waits for the refresh interval")
}

func TestSchedulerCompleteSetNoEarlyRefresh(t *testing.T) {
	ref := &countingRefresher{}
	s := NewScheduler(&tableSource{}, ref, newFakeLauncher(), nil, fastConfig(1), discardLogger)
	stop := runScheduler(t, s)
	time.Sleep(100 * time.Millisecond)
	stop()

	assert.Empty(t, ref.calls())
}

func TestSchedulerShutdownStopsWorkers(t *testing.T) {
	now := time.Now()
	p := testPass(1, now, now.Add(time.Hour))
	src := &tableSource{}
	src.set(p)
	l := newFakeLauncher()
	w := &timedWriter{}

	s := NewScheduler(src, nil, l, NewPassLog(w, 10*time.Second), fastConfig(2), discardLogger)
	stop := runScheduler(t, s)
	<-l.launched
	stop()

	events := l.snapshot()
	require.Len(t, events, 1)
	assert.False(t, events[0].stop.IsZero(), "running command must be stopped on shutdown")

	lines, _ := w.snapshot()
	require.Len(t, lines, 1)
	assert.True(t, strings.HasSuffix(lines[0], "Will pass above us in 10 secs\n"))
}

func TestNewSchedulerDefaults(t *testing.T) {
	s := NewScheduler(&tableSource{}, nil, newFakeLauncher(), nil, Config{Timing: Timing{Lead: -time.Second}}, discardLogger)
	assert.Equal(t, DefaultCapacity, s.config.Capacity)
	assert.Equal(t, DefaultRefreshInterval, s.config.RefreshInterval)
	assert.Equal(t, time.Duration(0), s.config.Timing.Lead)
	assert.Equal(t, DefaultStopGrace, s.config.Timing.StopGrace)
}
