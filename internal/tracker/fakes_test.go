package tracker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/utn-ba-rf-lab/orbit-predictor-utn/internal/passes"
)

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

var errFakeStart = errors.New("exec: no such file")

type launchEvent struct {
	command string
	alert   string
	start   time.Time
	stop    time.Time
}

// fakeLauncher records launches and tracks how many processes run at once,
// overall and per command.
type fakeLauncher struct {
	mu        sync.Mutex
	events    []*launchEvent
	running   map[string]int
	total     int
	maxTotal  int
	maxPerCmd int
	failFor   map[string]bool
	exitWith  map[string]error // commands that exit right after starting
	launched  chan string
}

func newFakeLauncher() *fakeLauncher {
	return &fakeLauncher{
		running:  make(map[string]int),
		failFor:  make(map[string]bool),
		exitWith: make(map[string]error),
		launched: make(chan string, 128),
	}
}

func (l *fakeLauncher) Launch(command, alert string) (Process, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.failFor[command] {
		return nil, errFakeStart
	}

	ev := &launchEvent{command: command, alert: alert, start: time.Now()}
	l.events = append(l.events, ev)
	l.running[command]++
	l.total++
	if l.total > l.maxTotal {
		l.maxTotal = l.total
	}
	if l.running[command] > l.maxPerCmd {
		l.maxPerCmd = l.running[command]
	}

	p := &fakeProcess{l: l, ev: ev, done: make(chan struct{})}
	if err, ok := l.exitWith[command]; ok {
		p.exit(err)
	}
	select {
	case l.launched <- command:
	default:
	}
	return p, nil
}

func (l *fakeLauncher) snapshot() []launchEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]launchEvent, len(l.events))
	for i, ev := range l.events {
		out[i] = *ev
	}
	return out
}

func (l *fakeLauncher) bounds() (maxTotal, maxPerCmd int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.maxTotal, l.maxPerCmd
}

type fakeProcess struct {
	l       *fakeLauncher
	ev      *launchEvent
	done    chan struct{}
	once    sync.Once
	exitErr error
}

// exit must be called with l.mu held.
func (p *fakeProcess) exit(err error) {
	p.once.Do(func() {
		p.exitErr = err
		p.ev.stop = time.Now()
		p.l.running[p.ev.command]--
		p.l.total--
		close(p.done)
	})
}

func (p *fakeProcess) Exited() <-chan struct{} { return p.done }

func (p *fakeProcess) ExitErr() error {
	<-p.done
	return p.exitErr
}

func (p *fakeProcess) Stop(time.Duration) error {
	p.l.mu.Lock()
	defer p.l.mu.Unlock()
	p.exit(nil)
	return nil
}

// tableSource serves a fixed list of passes, honouring busy and resume.
type tableSource struct {
	mu     sync.Mutex
	passes []passes.SatPass
}

func (s *tableSource) set(ps ...passes.SatPass) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.passes = ps
}

func (s *tableSource) NextPass(_ context.Context, q passes.Query) (passes.SatPass, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var cands []passes.SatPass
	for _, p := range s.passes {
		if q.Busy[p.NORADID] || !p.LOS.After(q.From) {
			continue
		}
		if r, ok := q.Resume[p.NORADID]; ok && !p.LOS.After(r) {
			continue
		}
		cands = append(cands, p)
	}
	if len(cands) == 0 {
		return passes.SatPass{}, false
	}
	sort.Slice(cands, func(i, j int) bool {
		if cands[i].AOS.Equal(cands[j].AOS) {
			return cands[i].NORADID < cands[j].NORADID
		}
		return cands[i].AOS.Before(cands[j].AOS)
	})
	return cands[0], true
}

type countingRefresher struct {
	mu    sync.Mutex
	times []time.Time
	hook  func()
}

func (r *countingRefresher) Refresh(context.Context) error {
	r.mu.Lock()
	r.times = append(r.times, time.Now())
	hook := r.hook
	r.mu.Unlock()
	if hook != nil {
		hook()
	}
	return nil
}

func (r *countingRefresher) calls() []time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Time(nil), r.times...)
}

// gapRefresher reports an incomplete set while missing is set.
type gapRefresher struct {
	countingRefresher
	missing atomic.Bool
}

func (r *gapRefresher) Incomplete() bool { return r.missing.Load() }

// timedWriter records when each line was written.
type timedWriter struct {
	mu    sync.Mutex
	lines []string
	times []time.Time
}

func (w *timedWriter) Write(b []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.lines = append(w.lines, string(b))
	w.times = append(w.times, time.Now())
	return len(b), nil
}

func (w *timedWriter) snapshot() ([]string, []time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.lines...), append([]time.Time(nil), w.times...)
}
