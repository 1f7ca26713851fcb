package tracker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/utn-ba-rf-lab/orbit-predictor-utn/internal/passes"
)

const (
	DefaultLeadTime  = 10 * time.Second
	DefaultTrailTime = 10 * time.Second
	DefaultStopGrace = 5 * time.Second
)

// Timing holds the margins a worker keeps around a pass.
type Timing struct {
	Lead      time.Duration // launch this long before AOS
	Trail     time.Duration // keep running this long after LOS
	StopGrace time.Duration // SIGTERM to SIGKILL delay
}

// AlertMessage is the single argument handed to a pass command.
func AlertMessage(name string, lead time.Duration) string {
	return fmt.Sprintf("SAT %s will pass above us in %d secs!\n", name, int(lead/time.Second))
}

// Worker runs the command for one admitted pass.
type Worker struct {
	pass     passes.SatPass
	launcher Launcher
	timing   Timing
	logger   *slog.Logger
}

// NewWorker creates a worker for a pass snapshot.
func NewWorker(pass passes.SatPass, launcher Launcher, timing Timing, logger *slog.Logger) *Worker {
	return &Worker{pass: pass, launcher: launcher, timing: timing, logger: logger}
}

// Run waits until Lead before AOS, launches the command and stops it Trail
// after LOS. An AOS already inside the lead window launches immediately.
// Cancelling ctx stops the command and returns ctx.Err().
func (w *Worker) Run(ctx context.Context) error {
	wait := time.Until(w.pass.AOS) - w.timing.Lead
	if wait < 0 {
		wait = 0
	}
	w.logger.Debug("waiting for launch", "wait_ms", wait.Milliseconds(), "aos", w.pass.AOS.UTC().Format(time.RFC3339))

	if err := sleep(ctx, wait); err != nil {
		return err
	}

	proc, err := w.launcher.Launch(w.pass.Command, AlertMessage(w.pass.Name, w.timing.Lead))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrLaunch, err)
	}
	w.logger.Info("pass command launched", "command", w.pass.Command)

	stopIn := time.Until(w.pass.LOS) + w.timing.Trail
	if stopIn < 0 {
		stopIn = 0
	}
	timer := time.NewTimer(stopIn)
	defer timer.Stop()

	select {
	case <-timer.C:
		if err := proc.Stop(w.timing.StopGrace); err != nil {
			w.logger.Warn("stopping pass command failed", "error", err)
		}
		w.logger.Info("pass command stopped after LOS")
		return nil

	case <-proc.Exited():
		if err := proc.ExitErr(); err != nil {
			return fmt.Errorf("%w: %s exited before LOS: %v", ErrLaunch, w.pass.Command, err)
		}
		w.logger.Info("pass command exited before LOS")
		return nil

	case <-ctx.Done():
		if err := proc.Stop(w.timing.StopGrace); err != nil {
			w.logger.Warn("stopping pass command failed", "error", err)
		}
		return ctx.Err()
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
