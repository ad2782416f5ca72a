// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 stevedore contributors
// https://github.com/stevedore-io/stevedore

package container

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stevedore-io/stevedore/internal/models"
	apperrors "github.com/stevedore-io/stevedore/internal/pkg/errors"
	"github.com/stevedore-io/stevedore/internal/repository/postgres"
	"github.com/stevedore-io/stevedore/internal/runtime"
	"github.com/stevedore-io/stevedore/internal/services/volume"
	"github.com/stevedore-io/stevedore/internal/storage"
)

// ============================================================================
// Fakes
// ============================================================================

type memContainerRepo struct {
	mu         sync.Mutex
	containers map[string]*models.Container
}

func newMemContainerRepo() *memContainerRepo {
	return &memContainerRepo{containers: make(map[string]*models.Container)}
}

func (m *memContainerRepo) Create(_ context.Context, c *models.Container) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.containers {
		if existing.Name == c.Name {
			return apperrors.Conflict("container name already in use")
		}
	}
	cp := *c
	m.containers[c.ID] = &cp
	return nil
}

func (m *memContainerRepo) Update(_ context.Context, c *models.Container) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.containers[c.ID]; !ok {
		return apperrors.NotFound("container", c.ID)
	}
	for id, existing := range m.containers {
		if id != c.ID && existing.Name == c.Name {
			return apperrors.Conflict("container name already in use")
		}
	}
	cp := *c
	m.containers[c.ID] = &cp
	return nil
}

func (m *memContainerRepo) Get(_ context.Context, id string) (*models.Container, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.containers[id]
	if !ok {
		return nil, apperrors.NotFound("container", id)
	}
	cp := *c
	return &cp, nil
}

func (m *memContainerRepo) GetByNameOrPrefix(_ context.Context, ref string) (*models.Container, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.containers {
		if c.Name == ref {
			cp := *c
			return &cp, nil
		}
	}
	for _, c := range m.containers {
		if strings.HasPrefix(c.ID, ref) {
			cp := *c
			return &cp, nil
		}
	}
	return nil, apperrors.NotFound("container", ref)
}

func (m *memContainerRepo) List(_ context.Context, opts postgres.ListOptions) ([]*models.Container, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Container
	for _, c := range m.containers {
		if len(opts.States) > 0 {
			match := false
			for _, st := range opts.States {
				if c.State == st {
					match = true
				}
			}
			if !match {
				continue
			}
		}
		if opts.ImageID != "" && c.ImageID != opts.ImageID {
			continue
		}
		if opts.ServiceID != "" && c.ServiceID != opts.ServiceID {
			continue
		}
		cp := *c
		out = append(out, &cp)
	}
	return out, nil
}

func (m *memContainerRepo) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.containers[id]; !ok {
		return apperrors.NotFound("container", id)
	}
	delete(m.containers, id)
	return nil
}

// fakeRuntime is a hand-driven process runtime. Tests trigger exits via
// exit(); Signal terminates unless the container is marked term-proof.
type fakeRuntime struct {
	mu         sync.Mutex
	procs      map[string]*fakeProc
	ignoreTerm map[string]bool
}

type fakeProc struct {
	done chan struct{}
	exit runtime.ExitStatus
	subs []chan runtime.ExitStatus
}

func newFakeRuntime() *fakeRuntime {
	return &fakeRuntime{
		procs:      make(map[string]*fakeProc),
		ignoreTerm: make(map[string]bool),
	}
}

func (f *fakeRuntime) Start(_ context.Context, c *models.Container, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.procs[c.ID]; ok {
		select {
		case <-p.done:
		default:
			return apperrors.Conflict("already running")
		}
	}
	f.procs[c.ID] = &fakeProc{done: make(chan struct{})}
	return nil
}

func (f *fakeRuntime) exit(id string, code int) {
	f.mu.Lock()
	p, ok := f.procs[id]
	if !ok {
		f.mu.Unlock()
		return
	}
	select {
	case <-p.done:
		f.mu.Unlock()
		return
	default:
	}
	p.exit = runtime.ExitStatus{Code: code}
	close(p.done)
	subs := p.subs
	p.subs = nil
	f.mu.Unlock()
	for _, ch := range subs {
		ch <- p.exit
	}
}

func (f *fakeRuntime) Signal(_ context.Context, id, signal string) error {
	f.mu.Lock()
	p, ok := f.procs[id]
	ignore := f.ignoreTerm[id]
	f.mu.Unlock()
	if !ok {
		return apperrors.NotFound("container process", id)
	}
	select {
	case <-p.done:
		return apperrors.Conflict("not running")
	default:
	}
	if (signal == "SIGTERM" || signal == "TERM") && !ignore {
		go f.exit(id, 143)
	}
	return nil
}

func (f *fakeRuntime) Kill(_ context.Context, id string) error {
	f.mu.Lock()
	_, ok := f.procs[id]
	f.mu.Unlock()
	if !ok {
		return apperrors.NotFound("container process", id)
	}
	go f.exit(id, 137)
	return nil
}

func (f *fakeRuntime) Pause(context.Context, string) error  { return nil }
func (f *fakeRuntime) Resume(context.Context, string) error { return nil }

func (f *fakeRuntime) Exec(_ context.Context, _ string, _ []string) (int, error) {
	return 0, nil
}

func (f *fakeRuntime) Wait(id string) (<-chan runtime.ExitStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.procs[id]
	if !ok {
		return nil, apperrors.NotFound("container process", id)
	}
	ch := make(chan runtime.ExitStatus, 1)
	select {
	case <-p.done:
		ch <- p.exit
	default:
		p.subs = append(p.subs, ch)
	}
	return ch, nil
}

func (f *fakeRuntime) Alive(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.procs[id]
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

type fakeImages struct {
	images map[string]*models.Image
}

func (f *fakeImages) Resolve(_ context.Context, ref string) (*models.Image, error) {
	for _, img := range f.images {
		if img.ID == ref || strings.HasPrefix(img.ID, ref) || img.HasTag(models.NormalizeImageRef(ref)) {
			return img, nil
		}
	}
	return nil, apperrors.NotFound("image", ref)
}

type fakeVolumes struct {
	mu      sync.Mutex
	vols    map[string]*models.Volume
	refs    map[string]int
	removed []string
}

func newFakeVolumes() *fakeVolumes {
	return &fakeVolumes{vols: make(map[string]*models.Volume), refs: make(map[string]int)}
}

func (f *fakeVolumes) Create(_ context.Context, opts volume.CreateOptions) (*models.Volume, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	name := opts.Name
	labels := map[string]string{}
	if name == "" {
		name = models.GenerateID()
		labels[models.AnonymousVolumeLabel] = "true"
	}
	if v, ok := f.vols[name]; ok {
		return v, nil
	}
	v := &models.Volume{Name: name, Driver: "local", Labels: labels}
	f.vols[name] = v
	return v, nil
}

func (f *fakeVolumes) Remove(_ context.Context, name string, _ bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.refs[name] > 0 {
		return apperrors.InUse("volume", name, "mounted")
	}
	delete(f.vols, name)
	f.removed = append(f.removed, name)
	return nil
}

func (f *fakeVolumes) Retain(name string) {
	f.mu.Lock()
	f.refs[name]++
	f.mu.Unlock()
}

func (f *fakeVolumes) Release(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.refs[name] > 0 {
		f.refs[name]--
	}
	return f.refs[name]
}

func (f *fakeVolumes) Restore(counts map[string]int) {
	f.mu.Lock()
	f.refs = counts
	f.mu.Unlock()
}

type fakeNetworks struct {
	mu       sync.Mutex
	attached map[string][]string // network -> container IDs
}

func newFakeNetworks() *fakeNetworks {
	return &fakeNetworks{attached: make(map[string][]string)}
}

func (f *fakeNetworks) Get(_ context.Context, ref string) (*models.Network, error) {
	return &models.Network{ID: strings.Repeat("f", 64), Name: ref, Driver: "bridge"}, nil
}

func (f *fakeNetworks) Connect(_ context.Context, ref, containerID string) (*models.Endpoint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attached[ref] = append(f.attached[ref], containerID)
	return &models.Endpoint{ID: models.GenerateID(), ContainerID: containerID, IPv4Address: "172.17.0.2"}, nil
}

func (f *fakeNetworks) DisconnectAll(_ context.Context, containerID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for netRef, ids := range f.attached {
		kept := ids[:0]
		for _, id := range ids {
			if id != containerID {
				kept = append(kept, id)
			}
		}
		f.attached[netRef] = kept
	}
	return nil
}

// ============================================================================
// Harness
// ============================================================================

type harness struct {
	svc     *Service
	repo    *memContainerRepo
	rt      *fakeRuntime
	vols    *fakeVolumes
	nets    *fakeNetworks
	layers  *storage.LayerStore
	imageID string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	driver, err := storage.New("vfs", t.TempDir(), nil, nil)
	if err != nil {
		t.Fatalf("storage.New: %v", err)
	}
	layers := storage.NewLayerStore(driver, nil)
	t.Cleanup(func() { layers.Cleanup() })

	imageID := strings.Repeat("a", 64)
	topLayer := "img-top"
	if err := layers.CreateLayer(topLayer, "", nil); err != nil {
		t.Fatalf("create image layer: %v", err)
	}
	images := &fakeImages{images: map[string]*models.Image{
		imageID: {
			ID:       imageID,
			RepoTags: []string{"busybox:latest"},
			Layers:   []string{topLayer},
		},
	}}

	h := &harness{
		repo:    newMemContainerRepo(),
		rt:      newFakeRuntime(),
		vols:    newFakeVolumes(),
		nets:    newFakeNetworks(),
		layers:  layers,
		imageID: imageID,
	}
	cfg := DefaultConfig()
	cfg.DefaultStopTimeout = 50 * time.Millisecond
	cfg.RestartBackoffBase = time.Millisecond
	h.svc = NewService(h.repo, images, layers, h.vols, h.nets, h.rt, nil, cfg, nil)
	return h
}

func (h *harness) create(t *testing.T, opts CreateOptions) *models.Container {
	t.Helper()
	if opts.Image == "" {
		opts.Image = "busybox"
	}
	if len(opts.Command) == 0 {
		opts.Command = []string{"sleep", "600"}
	}
	c, err := h.svc.Create(context.Background(), opts)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return c
}

func (h *harness) waitForState(t *testing.T, id string, want models.ContainerState) *models.Container {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		c, err := h.repo.Get(context.Background(), id)
		if err == nil && c.State == want {
			return c
		}
		time.Sleep(5 * time.Millisecond)
	}
	c, _ := h.repo.Get(context.Background(), id)
	t.Fatalf("container never reached %s (now %+v)", want, c)
	return nil
}

// ============================================================================
// Tests
// ============================================================================

func TestCreateValidation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	tests := []struct {
		name string
		opts CreateOptions
	}{
		{"io throttles exclusive", CreateOptions{
			Image: "busybox", Command: []string{"true"},
			HostConfig: models.HostConfig{Resources: models.Resources{
				IOMaxBandwidth: 1 << 20, IOMaxIOps: 100,
			}},
		}},
		{"negative memory", CreateOptions{
			Image: "busybox", Command: []string{"true"},
			HostConfig: models.HostConfig{Resources: models.Resources{MemoryBytes: -1}},
		}},
		{"autoremove with restart policy", CreateOptions{
			Image: "busybox", Command: []string{"true"},
			HostConfig: models.HostConfig{
				AutoRemove:    true,
				RestartPolicy: models.RestartPolicy{Condition: models.RestartAlways},
			},
		}},
		{"max retries on always", CreateOptions{
			Image: "busybox", Command: []string{"true"},
			HostConfig: models.HostConfig{
				RestartPolicy: models.RestartPolicy{Condition: models.RestartAlways, MaxRetries: 3},
			},
		}},
		{"bad name", CreateOptions{
			Name: "bad name!", Image: "busybox", Command: []string{"true"},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.svc.Create(ctx, tt.opts)
			if apperrors.CodeOf(err) != apperrors.CodeBadRequest {
				t.Fatalf("err = %v, want BAD_REQUEST", err)
			}
		})
	}
}

func TestCreateAllocatesLayerAndNetwork(t *testing.T) {
	h := newHarness(t)
	c := h.create(t, CreateOptions{Name: "web"})

	if c.State != models.StateCreated {
		t.Errorf("state = %s, want created", c.State)
	}
	if !h.layers.Exists(c.LayerID) {
		t.Error("writable layer not created")
	}
	if len(c.Networks) != 1 || c.Networks[0].NetworkName != "bridge" {
		t.Errorf("networks = %+v, want default bridge", c.Networks)
	}

	// Duplicate name conflicts and rolls the layer back.
	_, err := h.svc.Create(context.Background(), CreateOptions{
		Name: "web", Image: "busybox", Command: []string{"true"},
	})
	if apperrors.CodeOf(err) != apperrors.CodeConflict {
		t.Fatalf("duplicate name err = %v, want CONFLICT", err)
	}
}

func TestCreateAnonymousVolume(t *testing.T) {
	h := newHarness(t)
	c := h.create(t, CreateOptions{
		Mounts: []models.Mount{{Type: models.MountTypeVolume, Target: "/data"}},
	})

	if len(c.Mounts) != 1 {
		t.Fatalf("mounts = %d, want 1", len(c.Mounts))
	}
	m := c.Mounts[0]
	if !m.Anonymous || m.VolumeName == "" {
		t.Errorf("mount = %+v, want anonymous with generated volume", m)
	}
	if h.vols.refs[m.VolumeName] != 1 {
		t.Errorf("volume refcount = %d, want 1", h.vols.refs[m.VolumeName])
	}
}

func TestStartExitWait(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	c := h.create(t, CreateOptions{})

	if err := h.svc.Start(ctx, c.ID); err != nil {
		t.Fatalf("Start: %v", err)
	}
	h.waitForState(t, c.ID, models.StateRunning)

	done := make(chan int, 1)
	go func() {
		code, err := h.svc.Wait(ctx, c.ID)
		if err != nil {
			t.Errorf("Wait: %v", err)
		}
		done <- code
	}()

	time.Sleep(20 * time.Millisecond)
	h.rt.exit(c.ID, 3)

	select {
	case code := <-done:
		if code != 3 {
			t.Errorf("exit code = %d, want 3", code)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Wait never returned")
	}
	got := h.waitForState(t, c.ID, models.StateExited)
	if got.ExitCode != 3 {
		t.Errorf("persisted exit code = %d, want 3", got.ExitCode)
	}
}

func TestStopGraceThenKill(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	c := h.create(t, CreateOptions{})
	h.rt.ignoreTerm[c.ID] = true

	if err := h.svc.Start(ctx, c.ID); err != nil {
		t.Fatal(err)
	}
	h.waitForState(t, c.ID, models.StateRunning)

	start := time.Now()
	if err := h.svc.Stop(ctx, c.ID, nil); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
		t.Errorf("stop returned before grace elapsed: %v", elapsed)
	}

	got := h.waitForState(t, c.ID, models.StateExited)
	if got.ExitCode != 137 {
		t.Errorf("exit code = %d, want 137 (SIGKILL)", got.ExitCode)
	}
	if !got.ExplicitStop {
		t.Error("explicit stop marker not persisted")
	}
}

func TestStopGracefulExit(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	c := h.create(t, CreateOptions{})

	if err := h.svc.Start(ctx, c.ID); err != nil {
		t.Fatal(err)
	}
	h.waitForState(t, c.ID, models.StateRunning)

	if err := h.svc.Stop(ctx, c.ID, nil); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	got := h.waitForState(t, c.ID, models.StateExited)
	if got.ExitCode != 143 {
		t.Errorf("exit code = %d, want 143 (SIGTERM)", got.ExitCode)
	}
}

func TestRestartPolicyAlways(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	c := h.create(t, CreateOptions{
		HostConfig: models.HostConfig{
			RestartPolicy: models.RestartPolicy{Condition: models.RestartAlways},
		},
	})

	if err := h.svc.Start(ctx, c.ID); err != nil {
		t.Fatal(err)
	}
	h.waitForState(t, c.ID, models.StateRunning)

	h.rt.exit(c.ID, 1)

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		got, _ := h.repo.Get(ctx, c.ID)
		if got != nil && got.State == models.StateRunning && got.RestartCount == 1 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	got, _ := h.repo.Get(ctx, c.ID)
	t.Fatalf("container not restarted: %+v", got)
}

func TestExplicitStopSuppressesRestart(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	c := h.create(t, CreateOptions{
		HostConfig: models.HostConfig{
			RestartPolicy: models.RestartPolicy{Condition: models.RestartUnlessStopped},
		},
	})

	if err := h.svc.Start(ctx, c.ID); err != nil {
		t.Fatal(err)
	}
	h.waitForState(t, c.ID, models.StateRunning)

	if err := h.svc.Stop(ctx, c.ID, nil); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	h.waitForState(t, c.ID, models.StateExited)

	// Give a would-be restart time to fire, then confirm it did not.
	time.Sleep(50 * time.Millisecond)
	got, err := h.repo.Get(ctx, c.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.State != models.StateExited {
		t.Errorf("state = %s after explicit stop, want exited", got.State)
	}
	if got.RestartCount != 0 {
		t.Errorf("restart count = %d, want 0", got.RestartCount)
	}
}

func TestOnFailureMaxRetries(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	c := h.create(t, CreateOptions{
		HostConfig: models.HostConfig{
			RestartPolicy: models.RestartPolicy{Condition: models.RestartOnFailure, MaxRetries: 2},
		},
	})

	if err := h.svc.Start(ctx, c.ID); err != nil {
		t.Fatal(err)
	}
	h.waitForState(t, c.ID, models.StateRunning)

	// Fail repeatedly; the supervisor should give up after 2 restarts.
	for i := 0; i < 3; i++ {
		h.rt.exit(c.ID, 1)
		deadline := time.Now().Add(3 * time.Second)
		for time.Now().Before(deadline) {
			got, _ := h.repo.Get(ctx, c.ID)
			if got != nil && (got.State == models.StateRunning && got.RestartCount == i+1) ||
				(got.State == models.StateExited && i == 2) {
				break
			}
			time.Sleep(5 * time.Millisecond)
		}
	}

	time.Sleep(50 * time.Millisecond)
	got, err := h.repo.Get(ctx, c.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.State != models.StateExited {
		t.Errorf("state = %s, want exited after retry budget", got.State)
	}
	if got.RestartCount != 2 {
		t.Errorf("restart count = %d, want 2", got.RestartCount)
	}
}

func TestRemoveRunningRequiresForce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	c := h.create(t, CreateOptions{
		Mounts: []models.Mount{{Type: models.MountTypeVolume, Target: "/data"}},
	})
	volName := c.Mounts[0].VolumeName

	if err := h.svc.Start(ctx, c.ID); err != nil {
		t.Fatal(err)
	}
	h.waitForState(t, c.ID, models.StateRunning)

	err := h.svc.Remove(ctx, c.ID, false, false)
	if apperrors.CodeOf(err) != apperrors.CodeConflict {
		t.Fatalf("Remove running err = %v, want CONFLICT", err)
	}

	if err := h.svc.Remove(ctx, c.ID, true, false); err != nil {
		t.Fatalf("force Remove: %v", err)
	}
	if _, err := h.repo.Get(ctx, c.ID); !apperrors.IsNotFound(err) {
		t.Error("container record still present after remove")
	}
	if h.layers.Exists(c.LayerID) {
		t.Error("writable layer still present after remove")
	}

	// The anonymous volume went with its last container.
	found := false
	for _, name := range h.vols.removed {
		if name == volName {
			found = true
		}
	}
	if !found {
		t.Errorf("anonymous volume %s not removed", models.TruncateID(volName))
	}
}

func TestRestoreRestartsDeadContainers(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	c := h.create(t, CreateOptions{
		HostConfig: models.HostConfig{
			RestartPolicy: models.RestartPolicy{Condition: models.RestartAlways},
		},
		Mounts: []models.Mount{{Type: models.MountTypeVolume, Source: "named", Target: "/data"}},
	})

	if err := h.svc.Start(ctx, c.ID); err != nil {
		t.Fatal(err)
	}
	h.waitForState(t, c.ID, models.StateRunning)

	// Simulate a daemon crash: the runtime lost the process without the
	// exit ever being observed.
	h.rt.mu.Lock()
	delete(h.rt.procs, c.ID)
	h.rt.mu.Unlock()

	if err := h.svc.Restore(ctx); err != nil {
		t.Fatalf("Restore: %v", err)
	}

	got := h.waitForState(t, c.ID, models.StateRunning)
	if got.RestartCount != 1 {
		t.Errorf("restart count = %d, want 1", got.RestartCount)
	}
	if h.vols.refs["named"] != 1 {
		t.Errorf("restored volume refcount = %d, want 1", h.vols.refs["named"])
	}
}

func TestRestoreHonorsExplicitStop(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	c := h.create(t, CreateOptions{
		HostConfig: models.HostConfig{
			RestartPolicy: models.RestartPolicy{Condition: models.RestartUnlessStopped},
		},
	})

	// Persisted as running with the explicit-stop marker set, as if the
	// daemon crashed mid-stop after the marker write.
	stored, _ := h.repo.Get(ctx, c.ID)
	stored.State = models.StateRunning
	stored.ExplicitStop = true
	if err := h.repo.Update(ctx, stored); err != nil {
		t.Fatal(err)
	}

	if err := h.svc.Restore(ctx); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	got, err := h.repo.Get(ctx, c.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.State != models.StateExited {
		t.Errorf("state = %s, want exited", got.State)
	}
}

func TestPauseUnpause(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	c := h.create(t, CreateOptions{})

	// Pausing a created container is invalid.
	if err := h.svc.Pause(ctx, c.ID); apperrors.CodeOf(err) != apperrors.CodeConflict {
		t.Fatalf("Pause created err = %v, want CONFLICT", err)
	}

	if err := h.svc.Start(ctx, c.ID); err != nil {
		t.Fatal(err)
	}
	h.waitForState(t, c.ID, models.StateRunning)

	if err := h.svc.Pause(ctx, c.ID); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	h.waitForState(t, c.ID, models.StatePaused)

	if err := h.svc.Pause(ctx, c.ID); apperrors.CodeOf(err) != apperrors.CodeConflict {
		t.Fatal("double pause should conflict")
	}
	if err := h.svc.Unpause(ctx, c.ID); err != nil {
		t.Fatalf("Unpause: %v", err)
	}
	h.waitForState(t, c.ID, models.StateRunning)
}

func TestRenameConflict(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.create(t, CreateOptions{Name: "first"})
	c2 := h.create(t, CreateOptions{Name: "second"})

	if err := h.svc.Rename(ctx, "second", "first"); apperrors.CodeOf(err) != apperrors.CodeConflict {
		t.Fatalf("rename to taken name err = %v, want CONFLICT", err)
	}
	if err := h.svc.Rename(ctx, c2.ID[:12], "third"); err != nil {
		t.Fatalf("Rename: %v", err)
	}
	got, err := h.svc.Get(ctx, "third")
	if err != nil || got.ID != c2.ID {
		t.Fatalf("resolve renamed container: %v", err)
	}
}
