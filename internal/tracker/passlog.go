package tracker

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/utn-ba-rf-lab/orbit-predictor-utn/internal/passes"
)

const passLogTimeFormat = "2006-01-02 15:04:05"

// PassLog appends one line per admitted pass.
type PassLog struct {
	mu   sync.Mutex
	w    io.Writer
	lead time.Duration
}

// NewPassLog writes pass lines to w.
func NewPassLog(w io.Writer, lead time.Duration) *PassLog {
	return &PassLog{w: w, lead: lead}
}

// OpenPassLog opens (or creates) path for appending.
func OpenPassLog(path string, lead time.Duration) (*PassLog, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("opening pass log: %w", err)
	}
	return NewPassLog(f, lead), nil
}

// Close closes the underlying writer if it is closable.
func (l *PassLog) Close() error {
	if c, ok := l.w.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// Record writes the line for p. Times are in the local zone.
func (l *PassLog) Record(at time.Time, p passes.SatPass) error {
	line := fmt.Sprintf("[%s] SAT: %s, AOS (LOCAL): %s, LOS (LOCAL): %s, f: %g MHz, cmd: \"%s\" Will pass above us in %d secs\n",
		at.Local().Format(passLogTimeFormat),
		p.Name,
		p.AOS.Local().Format(passLogTimeFormat),
		p.LOS.Local().Format(passLogTimeFormat),
		p.Frequency,
		p.Command,
		int(l.lead/time.Second),
	)

	l.mu.Lock()
	defer l.mu.Unlock()
	_, err := io.WriteString(l.w, line)
	return err
}
