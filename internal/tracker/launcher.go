package tracker

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

// ErrLaunch marks a pass command that failed to start or exited before LOS
// with an error.
var ErrLaunch = errors.New("pass command failed")

// Process is a running pass command.
type Process interface {
	// Exited is closed once the process has exited.
	Exited() <-chan struct{}
	// ExitErr returns the exit status; valid after Exited is closed.
	ExitErr() error
	// Stop sends SIGTERM, kills the process if it is still running after
	// grace, and waits for it to exit.
	Stop(grace time.Duration) error
}

// Launcher starts pass commands.
type Launcher interface {
	Launch(command, alert string) (Process, error)
}

// ExecLauncher runs pass commands as child processes sharing the tracker's
// stdout and stderr.
type ExecLauncher struct {
	logger *slog.Logger
}

// NewExecLauncher creates an ExecLauncher.
func NewExecLauncher(logger *slog.Logger) *ExecLauncher {
	return &ExecLauncher{logger: logger}
}

// Launch starts command with alert as its only argument.
func (l *ExecLauncher) Launch(command, alert string) (Process, error) {
	cmd := exec.Command(command, alert)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting %s: %w", command, err)
	}
	l.logger.Debug("process started", "command", command, "pid", cmd.Process.Pid)

	p := &execProcess{cmd: cmd, done: make(chan struct{})}
	go func() {
		p.err = cmd.Wait()
		close(p.done)
	}()
	return p, nil
}

type execProcess struct {
	cmd      *exec.Cmd
	done     chan struct{}
	err      error
	stopOnce sync.Once
	stopErr  error
}

func (p *execProcess) Exited() <-chan struct{} { return p.done }

func (p *execProcess) ExitErr() error {
	<-p.done
	return p.err
}

func (p *execProcess) Stop(grace time.Duration) error {
	p.stopOnce.Do(func() {
		select {
		case <-p.done:
			return
		default:
		}

		if err := p.cmd.Process.Signal(syscall.SIGTERM); err != nil && !errors.Is(err, os.ErrProcessDone) {
			p.stopErr = fmt.Errorf("sending SIGTERM: %w", err)
		}

		timer := time.NewTimer(grace)
		defer timer.Stop()
		select {
		case <-p.done:
			return
		case <-timer.C:
		}

		if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			p.stopErr = fmt.Errorf("killing process: %w", err)
		}
		<-p.done
	})
	return p.stopErr
}
