// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 stevedore contributors
// https://github.com/stevedore-io/stevedore

package container

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/stevedore-io/stevedore/internal/models"
	apperrors "github.com/stevedore-io/stevedore/internal/pkg/errors"
)

// Locking invariant: the exit watcher acquires the per-ID lock to record
// an exit, so no operation may wait for an exit broadcast while holding
// that lock. Stop and Kill persist their marker under the lock, release
// it, and only then wait.

// ============================================================================
// Start
// ============================================================================

// Start transitions a created or exited container to running.
func (s *Service) Start(ctx context.Context, ref string) error {
	c, err := s.repo.GetByNameOrPrefix(ctx, ref)
	if err != nil {
		return err
	}

	s.locks.Lock(c.ID)
	defer s.locks.Unlock(c.ID)

	c, err = s.repo.Get(ctx, c.ID)
	if err != nil {
		return err
	}
	return s.startLocked(ctx, c, false)
}

// startLocked launches the container process. Caller holds the ID lock.
// restart marks supervisor-driven restarts, which bump the restart count.
func (s *Service) startLocked(ctx context.Context, c *models.Container, restart bool) error {
	if c.State == models.StateRunning || c.State == models.StatePaused {
		return nil
	}
	if !c.State.CanTransition(models.StateRunning) {
		return apperrors.Conflict(fmt.Sprintf(
			"container %s is %s and cannot be started", c.ShortID(), c.State))
	}

	rootfs, err := s.layers.Mount(c.LayerID, "")
	if err != nil {
		return err
	}

	if err := s.rt.Start(ctx, c, rootfs); err != nil {
		s.layers.Unmount(c.LayerID)
		return err
	}

	now := time.Now().UTC()
	c.State = models.StateRunning
	c.StartedAt = &now
	if restart {
		c.RestartCount++
	} else {
		c.ExplicitStop = false
	}
	if err := s.repo.Update(ctx, c); err != nil {
		return err
	}

	go s.watch(c.ID)

	action := "start"
	if restart {
		action = "restart"
	}
	s.emit(ctx, models.EventTypeContainer, action, c)
	s.logger.Info("container started", "id", c.ShortID(), "name", c.Name, "restart", restart)
	return nil
}

// ============================================================================
// Stop / kill
// ============================================================================

// Stop terminates a running container: the configured stop signal first,
// SIGKILL after the grace period. Termination is guaranteed; Stop never
// blocks indefinitely. The explicit-stop marker is persisted before any
// signal is sent so unless-stopped honors it even across a daemon crash.
func (s *Service) Stop(ctx context.Context, ref string, timeout *time.Duration) error {
	c, err := s.repo.GetByNameOrPrefix(ctx, ref)
	if err != nil {
		return err
	}
	id := c.ID

	s.locks.Lock(id)
	c, err = s.repo.Get(ctx, id)
	if err != nil {
		s.locks.Unlock(id)
		return err
	}
	if !c.ExplicitStop {
		c.ExplicitStop = true
		if err := s.repo.Update(ctx, c); err != nil {
			s.locks.Unlock(id)
			return err
		}
	}
	state := c.State
	grace := c.StopTimeoutOrDefault(s.config.DefaultStopTimeout)
	if timeout != nil {
		grace = *timeout
	}
	signal := c.StopSignalOrDefault()
	s.locks.Unlock(id)

	switch {
	case state == models.StateRestarting:
		// No live process; the marker aborts the pending restart.
		return nil
	case !state.IsRunning():
		return nil
	}

	exited := s.waiters.subscribe(id)
	defer s.waiters.unsubscribe(id, exited)

	// Re-check after subscribing: the exit may have landed in between.
	if done, err := s.exitedAlready(ctx, id); done || err != nil {
		return err
	}

	if err := s.rt.Signal(ctx, id, signal); err != nil {
		// Process already gone; the watcher finishes the bookkeeping.
		s.logger.Debug("stop signal", "id", models.TruncateID(id), "error", err)
	}

	select {
	case <-exited:
		s.emit(ctx, models.EventTypeContainer, "stop", c)
		return nil
	case <-time.After(grace):
	case <-ctx.Done():
		return apperrors.Wrap(ctx.Err(), apperrors.CodeTimeout, "stop canceled")
	}

	s.logger.Info("stop grace expired, killing", "id", models.TruncateID(id), "grace", grace)
	if err := s.rt.Kill(ctx, id); err != nil {
		return err
	}

	select {
	case <-exited:
		s.emit(ctx, models.EventTypeContainer, "stop", c)
		return nil
	case <-ctx.Done():
		return apperrors.Wrap(ctx.Err(), apperrors.CodeTimeout, "stop canceled")
	}
}

// exitedAlready reports whether the container has already left the
// running states, for waiters that subscribed late.
func (s *Service) exitedAlready(ctx context.Context, id string) (bool, error) {
	c, err := s.repo.Get(ctx, id)
	if err != nil {
		if apperrors.IsNotFound(err) {
			return true, nil
		}
		return false, err
	}
	return !c.State.IsRunning() || c.State == models.StateRestarting, nil
}

// Kill delivers a signal to a running container, SIGKILL by default. A
// true kill suppresses restart like a stop does and waits for the exit.
func (s *Service) Kill(ctx context.Context, ref, signal string) error {
	c, err := s.repo.GetByNameOrPrefix(ctx, ref)
	if err != nil {
		return err
	}
	id := c.ID

	s.locks.Lock(id)
	c, err = s.repo.Get(ctx, id)
	if err != nil {
		s.locks.Unlock(id)
		return err
	}
	if !c.State.IsRunning() || c.State == models.StateRestarting {
		s.locks.Unlock(id)
		return apperrors.Conflict(fmt.Sprintf("container %s is not running", c.ShortID()))
	}

	lethal := signal == "" || signal == "KILL" || signal == "SIGKILL" || signal == "9"
	if lethal && !c.ExplicitStop {
		c.ExplicitStop = true
		if err := s.repo.Update(ctx, c); err != nil {
			s.locks.Unlock(id)
			return err
		}
	}
	s.locks.Unlock(id)

	if !lethal {
		s.emit(ctx, models.EventTypeContainer, "kill", c)
		return s.rt.Signal(ctx, id, signal)
	}
	return s.killAndWait(ctx, c)
}

// killAndWait force-terminates the container and blocks until the state
// machine records the exit. Must not be called with the ID lock held.
func (s *Service) killAndWait(ctx context.Context, c *models.Container) error {
	exited := s.waiters.subscribe(c.ID)
	defer s.waiters.unsubscribe(c.ID, exited)

	if done, err := s.exitedAlready(ctx, c.ID); done || err != nil {
		return err
	}
	if err := s.rt.Kill(ctx, c.ID); err != nil {
		return err
	}
	select {
	case <-exited:
		s.emit(ctx, models.EventTypeContainer, "kill", c)
		return nil
	case <-ctx.Done():
		return apperrors.Wrap(ctx.Err(), apperrors.CodeTimeout, "kill canceled")
	}
}

// Restart stops then starts a container.
func (s *Service) Restart(ctx context.Context, ref string, timeout *time.Duration) error {
	if err := s.Stop(ctx, ref, timeout); err != nil {
		return err
	}
	return s.Start(ctx, ref)
}

// ============================================================================
// Pause / unpause
// ============================================================================

// Pause suspends a running container.
func (s *Service) Pause(ctx context.Context, ref string) error {
	return s.pauseTransition(ctx, ref, models.StatePaused, s.rt.Pause, "pause")
}

// Unpause resumes a paused container.
func (s *Service) Unpause(ctx context.Context, ref string) error {
	return s.pauseTransition(ctx, ref, models.StateRunning, s.rt.Resume, "unpause")
}

func (s *Service) pauseTransition(
	ctx context.Context,
	ref string,
	next models.ContainerState,
	op func(context.Context, string) error,
	action string,
) error {
	c, err := s.repo.GetByNameOrPrefix(ctx, ref)
	if err != nil {
		return err
	}

	s.locks.Lock(c.ID)
	defer s.locks.Unlock(c.ID)

	c, err = s.repo.Get(ctx, c.ID)
	if err != nil {
		return err
	}
	valid := (next == models.StatePaused && c.State == models.StateRunning) ||
		(next == models.StateRunning && c.State == models.StatePaused)
	if !valid {
		return apperrors.Conflict(fmt.Sprintf(
			"container %s is %s and cannot %s", c.ShortID(), c.State, action))
	}

	if err := op(ctx, c.ID); err != nil {
		return err
	}
	c.State = next
	if err := s.repo.Update(ctx, c); err != nil {
		return err
	}
	s.emit(ctx, models.EventTypeContainer, action, c)
	return nil
}

// ============================================================================
// Wait / exec
// ============================================================================

// Wait blocks until the container exits and returns its exit code. A
// container already stopped returns immediately.
func (s *Service) Wait(ctx context.Context, ref string) (int, error) {
	c, err := s.repo.GetByNameOrPrefix(ctx, ref)
	if err != nil {
		return 0, err
	}
	if !c.State.IsRunning() {
		return c.ExitCode, nil
	}

	exited := s.waiters.subscribe(c.ID)
	defer s.waiters.unsubscribe(c.ID, exited)

	// Re-check after subscribing: the exit may have landed in between.
	c, err = s.repo.Get(ctx, c.ID)
	if err != nil {
		return 0, err
	}
	if !c.State.IsRunning() {
		return c.ExitCode, nil
	}

	select {
	case code := <-exited:
		return code, nil
	case <-ctx.Done():
		return 0, apperrors.Wrap(ctx.Err(), apperrors.CodeTimeout, "wait canceled")
	}
}

// Exec runs a command inside a running container and returns its exit code.
func (s *Service) Exec(ctx context.Context, ref string, cmd []string) (int, error) {
	c, err := s.repo.GetByNameOrPrefix(ctx, ref)
	if err != nil {
		return 0, err
	}
	if c.State != models.StateRunning {
		return 0, apperrors.Conflict(fmt.Sprintf(
			"container %s is %s: exec requires a running container", c.ShortID(), c.State))
	}
	return s.rt.Exec(ctx, c.ID, cmd)
}

// ============================================================================
// Exit waiters
// ============================================================================

// exitWaiters fans an exit code out to Stop/Wait subscribers per container.
type exitWaiters struct {
	mu   sync.Mutex
	subs map[string][]chan int
}

func newExitWaiters() *exitWaiters {
	return &exitWaiters{subs: make(map[string][]chan int)}
}

func (w *exitWaiters) subscribe(id string) chan int {
	ch := make(chan int, 1)
	w.mu.Lock()
	w.subs[id] = append(w.subs[id], ch)
	w.mu.Unlock()
	return ch
}

func (w *exitWaiters) unsubscribe(id string, ch chan int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	subs := w.subs[id]
	for i, sub := range subs {
		if sub == ch {
			w.subs[id] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	if len(w.subs[id]) == 0 {
		delete(w.subs, id)
	}
}

func (w *exitWaiters) broadcast(id string, code int) {
	w.mu.Lock()
	for _, ch := range w.subs[id] {
		select {
		case ch <- code:
		default:
		}
	}
	w.mu.Unlock()
}
