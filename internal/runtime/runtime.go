// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 stevedore contributors
// https://github.com/stevedore-io/stevedore

// Package runtime executes container processes. The lifecycle manager
// drives it through the Runtime interface; the shipped implementation
// runs commands directly on the host rooted in the container's mounted
// writable layer.
package runtime

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"syscall"

	"github.com/stevedore-io/stevedore/internal/models"
	apperrors "github.com/stevedore-io/stevedore/internal/pkg/errors"
	"github.com/stevedore-io/stevedore/internal/pkg/logger"
)

// ExitStatus is the terminal result of a container process.
type ExitStatus struct {
	Code int
	Err  error
}

// Runtime starts and signals container processes.
type Runtime interface {
	// Start launches the container's process rooted at rootfs.
	Start(ctx context.Context, c *models.Container, rootfs string) error

	// Signal delivers a named signal ("SIGTERM", "KILL", "9") to the
	// container's init process.
	Signal(ctx context.Context, id, signal string) error

	// Kill delivers SIGKILL. Unlike Signal it is the guaranteed
	// termination path and only fails if the container is unknown.
	Kill(ctx context.Context, id string) error

	// Pause suspends the container's process.
	Pause(ctx context.Context, id string) error

	// Resume continues a paused container.
	Resume(ctx context.Context, id string) error

	// Exec runs an auxiliary command inside the container and returns
	// its exit code.
	Exec(ctx context.Context, id string, cmd []string) (int, error)

	// Wait returns a channel that receives the container's exit status
	// once. Each call returns an independent subscription.
	Wait(id string) (<-chan ExitStatus, error)

	// Alive reports whether the container's process is still running,
	// used by daemon restore after a crash.
	Alive(id string) bool
}

// signalNames maps the signal spellings accepted on the wire.
var signalNames = map[string]syscall.Signal{
	"HUP": syscall.SIGHUP, "INT": syscall.SIGINT, "QUIT": syscall.SIGQUIT,
	"KILL": syscall.SIGKILL, "TERM": syscall.SIGTERM, "USR1": syscall.SIGUSR1,
	"USR2": syscall.SIGUSR2, "STOP": syscall.SIGSTOP, "CONT": syscall.SIGCONT,
}

// ParseSignal resolves "SIGTERM", "TERM" or a number to a signal.
func ParseSignal(name string) (syscall.Signal, error) {
	if n, err := strconv.Atoi(name); err == nil {
		return syscall.Signal(n), nil
	}
	key := strings.TrimPrefix(strings.ToUpper(name), "SIG")
	if sig, ok := signalNames[key]; ok {
		return sig, nil
	}
	return 0, apperrors.InvalidInput(fmt.Sprintf("invalid signal %q", name))
}

// ============================================================================
// Host-process implementation
// ============================================================================

type proc struct {
	cmd  *exec.Cmd
	done chan struct{}
	exit ExitStatus

	mu   sync.Mutex
	subs []chan ExitStatus
}

// HostRuntime runs container processes as host child processes.
type HostRuntime struct {
	logger *logger.Logger

	mu    sync.Mutex
	procs map[string]*proc
}

// NewHostRuntime creates a host-process runtime.
func NewHostRuntime(log *logger.Logger) *HostRuntime {
	if log == nil {
		log = logger.Nop()
	}
	return &HostRuntime{
		logger: log.Named("runtime"),
		procs:  make(map[string]*proc),
	}
}

// Start launches the container command with the layer path as working
// directory.
func (r *HostRuntime) Start(ctx context.Context, c *models.Container, rootfs string) error {
	if len(c.Command) == 0 {
		return apperrors.InvalidInput("container has no command")
	}

	r.mu.Lock()
	if p, ok := r.procs[c.ID]; ok {
		select {
		case <-p.done:
			delete(r.procs, c.ID)
		default:
			r.mu.Unlock()
			return apperrors.Conflict(fmt.Sprintf("container %s is already running", c.ShortID()))
		}
	}
	r.mu.Unlock()

	cmd := exec.Command(c.Command[0], c.Command[1:]...)
	cmd.Dir = rootfs
	cmd.Env = c.Env
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		return apperrors.Wrap(err, apperrors.CodeInternal, "start container process")
	}

	p := &proc{cmd: cmd, done: make(chan struct{})}
	r.mu.Lock()
	r.procs[c.ID] = p
	r.mu.Unlock()

	go r.reap(c.ID, p)
	r.logger.Debug("process started", "container", c.ShortID(), "pid", cmd.Process.Pid)
	return nil
}

func (r *HostRuntime) reap(id string, p *proc) {
	err := p.cmd.Wait()
	status := ExitStatus{}
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			status.Code = exitErr.ExitCode()
			if status.Code < 0 {
				// Killed by signal: report 128+sig like a shell would.
				if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
					status.Code = 128 + int(ws.Signal())
				}
			}
		} else {
			status.Code = -1
			status.Err = err
		}
	}

	p.mu.Lock()
	p.exit = status
	close(p.done)
	for _, sub := range p.subs {
		sub <- status
	}
	p.subs = nil
	p.mu.Unlock()
}

func (r *HostRuntime) get(id string) (*proc, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.procs[id]
	if !ok {
		return nil, apperrors.NotFound("container process", models.TruncateID(id))
	}
	return p, nil
}

// Signal delivers a signal to the process group.
func (r *HostRuntime) Signal(_ context.Context, id, signal string) error {
	sig, err := ParseSignal(signal)
	if err != nil {
		return err
	}
	p, err := r.get(id)
	if err != nil {
		return err
	}
	select {
	case <-p.done:
		return apperrors.Conflict(fmt.Sprintf("container %s is not running", models.TruncateID(id)))
	default:
	}
	// Negative pid signals the whole group.
	return syscall.Kill(-p.cmd.Process.Pid, sig)
}

// Kill force-terminates the process group.
func (r *HostRuntime) Kill(_ context.Context, id string) error {
	p, err := r.get(id)
	if err != nil {
		return err
	}
	select {
	case <-p.done:
		return nil
	default:
	}
	return syscall.Kill(-p.cmd.Process.Pid, syscall.SIGKILL)
}

// Pause suspends the process group with SIGSTOP.
func (r *HostRuntime) Pause(ctx context.Context, id string) error {
	return r.Signal(ctx, id, "STOP")
}

// Resume continues the process group with SIGCONT.
func (r *HostRuntime) Resume(ctx context.Context, id string) error {
	return r.Signal(ctx, id, "CONT")
}

// Exec runs an auxiliary command in the container's working directory.
func (r *HostRuntime) Exec(ctx context.Context, id string, cmdline []string) (int, error) {
	if len(cmdline) == 0 {
		return 0, apperrors.InvalidInput("exec requires a command")
	}
	p, err := r.get(id)
	if err != nil {
		return 0, err
	}
	select {
	case <-p.done:
		return 0, apperrors.Conflict(fmt.Sprintf("container %s is not running", models.TruncateID(id)))
	default:
	}

	cmd := exec.CommandContext(ctx, cmdline[0], cmdline[1:]...)
	cmd.Dir = p.cmd.Dir
	cmd.Env = p.cmd.Env
	if err := cmd.Run(); err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return exitErr.ExitCode(), nil
		}
		return -1, apperrors.Wrap(err, apperrors.CodeInternal, "exec")
	}
	return 0, nil
}

// Wait subscribes to the container's exit.
func (r *HostRuntime) Wait(id string) (<-chan ExitStatus, error) {
	p, err := r.get(id)
	if err != nil {
		return nil, err
	}
	ch := make(chan ExitStatus, 1)
	p.mu.Lock()
	select {
	case <-p.done:
		ch <- p.exit
	default:
		p.subs = append(p.subs, ch)
	}
	p.mu.Unlock()
	return ch, nil
}

// Alive reports whether the process is still running.
func (r *HostRuntime) Alive(id string) bool {
	r.mu.Lock()
	p, ok := r.procs[id]
	r.mu.Unlock()
	if !ok {
		return false
	}
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}
