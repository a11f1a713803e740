package system

import (
	"context"
	"fmt"
	"os"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
)

// Restarter restarts the appliance.
type Restarter interface {
	Restart(ctx context.Context, reason string) error
}

// Checker is implemented by restarters that can tell up front whether a
// restart would fail.
type Checker interface {
	Check(ctx context.Context) error
}

// ImageInstaller puts a committed firmware image in place of the binary
// at target. It reports false when there is nothing to install.
type ImageInstaller interface {
	Install(target string) (bool, error)
}

// Scheduler arms a one-shot restart. At most one restart is pending.
type Scheduler struct {
	restarter Restarter
	exit      func(code int)

	mu      sync.Mutex
	timer   *time.Timer
	reason  string
	hooks   []func(ctx context.Context)
	stopped bool
}

// NewScheduler creates a Scheduler using r.
func NewScheduler(r Restarter) *Scheduler {
	return &Scheduler{restarter: r, exit: os.Exit}
}

// BeforeRestart registers fn to run, in order, before the restarter.
// Hooks tear the daemon down, so a restart that fails after them ends the
// process with status 1 for the supervisor to start it again.
func (s *Scheduler) BeforeRestart(fn func(ctx context.Context)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks = append(s.hooks, fn)
}

// Schedule restarts after delay. It returns false when a restart is
// already pending or the scheduler is stopped.
func (s *Scheduler) Schedule(reason string, delay time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.timer != nil || s.stopped {
		log.Debug().Str("reason", reason).Str("pending", s.reason).Msg("Restart already pending")
		return false
	}
	s.reason = reason
	s.timer = time.AfterFunc(delay, func() { s.fire(reason) })

	log.Info().Str("reason", reason).Dur("delay", delay).Msg("Restart scheduled")
	return true
}

// Pending returns the reason of the pending restart, if any.
func (s *Scheduler) Pending() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reason, s.timer != nil
}

// Stop cancels a pending restart and refuses new ones.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	if s.timer != nil {
		s.timer.Stop()
	}
}

func (s *Scheduler) fire(reason string) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	hooks := append([]func(context.Context){}, s.hooks...)
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if c, ok := s.restarter.(Checker); ok {
		if err := c.Check(ctx); err != nil {
			log.Error().Err(err).Str("reason", reason).Msg("Restart not possible, staying up")
			s.mu.Lock()
			s.timer = nil
			s.reason = ""
			s.mu.Unlock()
			return
		}
	}

	log.Info().Str("reason", reason).Msg("Restarting")
	for _, h := range hooks {
		h(ctx)
	}
	if err := s.restarter.Restart(ctx, reason); err != nil {
		log.Error().Err(err).Str("reason", reason).Msg("Restart failed after shutdown, exiting")
		s.exit(1)
	}
}

// ExecRestarter replaces the running process with its binary, after
// installing a committed firmware image over it.
type ExecRestarter struct {
	installer  ImageInstaller
	executable func() (string, error)
	exec       func(argv0 string, argv []string, envv []string) error
}

// NewExecRestarter creates an ExecRestarter. installer may be nil.
func NewExecRestarter(installer ImageInstaller) *ExecRestarter {
	return &ExecRestarter{installer: installer, executable: os.Executable, exec: syscall.Exec}
}

// Check verifies the binary can be located.
func (r *ExecRestarter) Check(context.Context) error {
	_, err := r.executable()
	return err
}

// Restart only returns on failure.
func (r *ExecRestarter) Restart(_ context.Context, reason string) error {
	bin, err := r.executable()
	if err != nil {
		return fmt.Errorf("locate executable: %w", err)
	}
	installImage(r.installer, bin)

	log.Info().Str("binary", bin).Str("reason", reason).Msg("Re-executing")
	if err := r.exec(bin, os.Args, os.Environ()); err != nil {
		return fmt.Errorf("exec %s: %w", bin, err)
	}
	return nil
}

// installImage logs and swallows install errors: the binary in place is
// still the previous, working image.
func installImage(installer ImageInstaller, bin string) {
	if installer == nil {
		return
	}
	installed, err := installer.Install(bin)
	if err != nil {
		log.Error().Err(err).Str("binary", bin).Msg("Firmware install failed, restarting the current image")
		return
	}
	if installed {
		log.Info().Str("binary", bin).Msg("Restarting into the new firmware image")
	}
}

// Rebooter is the part of the hardware abstraction service client used
// to reboot the board.
type Rebooter interface {
	Health(ctx context.Context) error
	Reboot(ctx context.Context) error
}

// HALRestarter reboots the board through the hardware abstraction
// service. A committed image is installed over the daemon binary first so
// the board boots into it.
type HALRestarter struct {
	client     Rebooter
	installer  ImageInstaller
	executable func() (string, error)
}

// NewHALRestarter creates a HALRestarter. installer may be nil.
func NewHALRestarter(client Rebooter, installer ImageInstaller) *HALRestarter {
	return &HALRestarter{client: client, installer: installer, executable: os.Executable}
}

// Check verifies the service answers.
func (r *HALRestarter) Check(ctx context.Context) error {
	if err := r.client.Health(ctx); err != nil {
		return fmt.Errorf("HAL unreachable: %w", err)
	}
	return nil
}

func (r *HALRestarter) Restart(ctx context.Context, reason string) error {
	if r.installer != nil {
		bin, err := r.executable()
		if err != nil {
			log.Error().Err(err).Msg("Cannot locate binary, firmware image not installed")
		} else {
			installImage(r.installer, bin)
		}
	}
	log.Info().Str("reason", reason).Msg("Requesting board reboot")
	if err := r.client.Reboot(ctx); err != nil {
		return fmt.Errorf("reboot: %w", err)
	}
	return nil
}
