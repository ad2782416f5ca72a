// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 stevedore contributors
// https://github.com/stevedore-io/stevedore

package container

import (
	"context"
	"time"

	"github.com/stevedore-io/stevedore/internal/models"
	"github.com/stevedore-io/stevedore/internal/repository/postgres"
)

// ============================================================================
// Exit watcher
// ============================================================================

// watch subscribes to the runtime exit of one container and feeds the
// state machine. One watcher goroutine runs per started container.
func (s *Service) watch(id string) {
	ch, err := s.rt.Wait(id)
	if err != nil {
		s.logger.Warn("watch subscribe", "id", models.TruncateID(id), "error", err)
		return
	}
	status := <-ch
	s.handleExit(context.Background(), id, status.Code)
}

// handleExit records a container exit, wakes waiters, and applies the
// restart policy and auto-remove.
func (s *Service) handleExit(ctx context.Context, id string, exitCode int) {
	s.locks.Lock(id)

	c, err := s.repo.Get(ctx, id)
	if err != nil {
		s.locks.Unlock(id)
		return
	}
	if !c.State.IsRunning() || c.State == models.StateRestarting {
		// Another path already recorded this exit.
		s.locks.Unlock(id)
		return
	}

	now := time.Now().UTC()
	c.State = models.StateExited
	c.ExitCode = exitCode
	c.FinishedAt = &now
	if err := s.repo.Update(ctx, c); err != nil {
		s.logger.Error("record exit", "id", c.ShortID(), "error", err)
		s.locks.Unlock(id)
		return
	}

	s.waiters.broadcast(id, exitCode)
	s.emit(ctx, models.EventTypeContainer, "die", c)
	s.layers.Unmount(c.LayerID)
	s.logger.Info("container exited", "id", c.ShortID(), "exit_code", exitCode)

	restart := !c.ExplicitStop &&
		c.HostConfig.RestartPolicy.ShouldRestart(exitCode, c.RestartCount, c.ExplicitStop)

	if restart {
		c.State = models.StateRestarting
		if err := s.repo.Update(ctx, c); err != nil {
			s.logger.Error("mark restarting", "id", c.ShortID(), "error", err)
			s.locks.Unlock(id)
			return
		}
		delay := s.restartDelay(c.RestartCount)
		s.locks.Unlock(id)
		go s.restartAfter(id, delay)
		return
	}

	if c.HostConfig.AutoRemove {
		if err := s.removeLocked(ctx, c, false); err != nil {
			s.logger.Warn("auto-remove", "id", c.ShortID(), "error", err)
		}
	}
	s.locks.Unlock(id)
}

// restartDelay is the exponential supervisor backoff, capped.
func (s *Service) restartDelay(restartCount int) time.Duration {
	delay := s.config.RestartBackoffBase
	for i := 0; i < restartCount && delay < s.config.RestartBackoffMax; i++ {
		delay *= 2
	}
	if delay > s.config.RestartBackoffMax {
		delay = s.config.RestartBackoffMax
	}
	return delay
}

// restartAfter waits out the backoff and restarts the container unless an
// explicit stop landed meanwhile.
func (s *Service) restartAfter(id string, delay time.Duration) {
	time.Sleep(delay)
	ctx := context.Background()

	s.locks.Lock(id)
	defer s.locks.Unlock(id)

	c, err := s.repo.Get(ctx, id)
	if err != nil {
		return
	}
	if c.State != models.StateRestarting {
		return
	}
	if c.ExplicitStop {
		// Stop raced the backoff: settle in exited.
		c.State = models.StateExited
		if err := s.repo.Update(ctx, c); err != nil {
			s.logger.Error("settle stopped restart", "id", c.ShortID(), "error", err)
		}
		return
	}

	if err := s.startLocked(ctx, c, true); err != nil {
		s.logger.Warn("restart failed", "id", c.ShortID(), "error", err)
		c.State = models.StateExited
		if err := s.repo.Update(ctx, c); err != nil {
			s.logger.Error("settle failed restart", "id", c.ShortID(), "error", err)
		}
	}
}

// ============================================================================
// Daemon restore
// ============================================================================

// Restore reconciles persisted containers with the live runtime at daemon
// boot: volume reference counts are recomputed, surviving processes are
// re-attached, dead ones are recorded as exited and restarted per policy,
// and interrupted removals are completed.
func (s *Service) Restore(ctx context.Context) error {
	containers, err := s.repo.List(ctx, postgres.ListOptions{})
	if err != nil {
		return err
	}

	volumeRefs := make(map[string]int)
	for _, c := range containers {
		for _, m := range c.Mounts {
			if m.VolumeName != "" {
				volumeRefs[m.VolumeName]++
			}
		}
	}
	s.volumes.Restore(volumeRefs)

	for _, c := range containers {
		switch {
		case c.State == models.StateRemoving:
			s.locks.Lock(c.ID)
			c.State = models.StateExited
			if err := s.repo.Update(ctx, c); err == nil {
				if err := s.removeLocked(ctx, c, false); err != nil {
					s.logger.Warn("finish interrupted removal", "id", c.ShortID(), "error", err)
				}
			}
			s.locks.Unlock(c.ID)

		case c.State.IsRunning():
			if s.rt.Alive(c.ID) {
				s.logger.Info("re-attached to live container", "id", c.ShortID())
				go s.watch(c.ID)
				continue
			}
			// Died while the daemon was down.
			s.locks.Lock(c.ID)
			now := time.Now().UTC()
			c.State = models.StateExited
			c.ExitCode = 255
			c.FinishedAt = &now
			if err := s.repo.Update(ctx, c); err != nil {
				s.logger.Error("record stale exit", "id", c.ShortID(), "error", err)
				s.locks.Unlock(c.ID)
				continue
			}
			s.layers.Unmount(c.LayerID)
			s.locks.Unlock(c.ID)

			if !c.ExplicitStop &&
				c.HostConfig.RestartPolicy.ShouldRestart(c.ExitCode, c.RestartCount, c.ExplicitStop) {
				s.locks.Lock(c.ID)
				if err := s.startLocked(ctx, c, true); err != nil {
					s.logger.Warn("restore restart", "id", c.ShortID(), "error", err)
				}
				s.locks.Unlock(c.ID)
			}
		}
	}
	return nil
}
