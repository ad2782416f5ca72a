// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 stevedore contributors
// https://github.com/stevedore-io/stevedore

package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/stevedore-io/stevedore/internal/models"
	apperrors "github.com/stevedore-io/stevedore/internal/pkg/errors"
	"github.com/stevedore-io/stevedore/internal/pkg/filters"
	"github.com/stevedore-io/stevedore/internal/services/container"
	"github.com/stevedore-io/stevedore/internal/services/image"
	"github.com/stevedore-io/stevedore/internal/services/prune"
)

// ============================================================================
// Fakes
// ============================================================================

type fakeContainerService struct {
	containers map[string]*models.Container
	calls      []string
	lastStop   *time.Duration
	failWith   error
}

func newFakeContainerService() *fakeContainerService {
	return &fakeContainerService{containers: make(map[string]*models.Container)}
}

func (f *fakeContainerService) record(call string) {
	f.calls = append(f.calls, call)
}

func (f *fakeContainerService) Create(ctx context.Context, opts container.CreateOptions) (*models.Container, error) {
	if f.failWith != nil {
		return nil, f.failWith
	}
	f.record("create " + opts.Name)
	c := &models.Container{
		ID:        "c1",
		Name:      opts.Name,
		Image:     opts.Image,
		State:     models.StateCreated,
		CreatedAt: time.Now(),
	}
	f.containers[c.ID] = c
	return c, nil
}

func (f *fakeContainerService) Get(ctx context.Context, ref string) (*models.Container, error) {
	for _, c := range f.containers {
		if c.ID == ref || c.Name == ref {
			return c, nil
		}
	}
	return nil, apperrors.NotFound("container", ref)
}

func (f *fakeContainerService) List(ctx context.Context, args filters.Args, all bool) ([]*models.Container, error) {
	var out []*models.Container
	for _, c := range f.containers {
		if !all && c.State != models.StateRunning {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

func (f *fakeContainerService) Start(ctx context.Context, ref string) error {
	f.record("start " + ref)
	return f.failWith
}

func (f *fakeContainerService) Stop(ctx context.Context, ref string, timeout *time.Duration) error {
	f.record("stop " + ref)
	f.lastStop = timeout
	return f.failWith
}

func (f *fakeContainerService) Restart(ctx context.Context, ref string, timeout *time.Duration) error {
	f.record("restart " + ref)
	return f.failWith
}

func (f *fakeContainerService) Kill(ctx context.Context, ref, signal string) error {
	f.record("kill " + ref + " " + signal)
	return f.failWith
}

func (f *fakeContainerService) Pause(ctx context.Context, ref string) error {
	f.record("pause " + ref)
	return f.failWith
}

func (f *fakeContainerService) Unpause(ctx context.Context, ref string) error {
	f.record("unpause " + ref)
	return f.failWith
}

func (f *fakeContainerService) Rename(ctx context.Context, ref, newName string) error {
	f.record("rename " + ref + " " + newName)
	return f.failWith
}

func (f *fakeContainerService) Wait(ctx context.Context, ref string) (int, error) {
	f.record("wait " + ref)
	return 42, f.failWith
}

func (f *fakeContainerService) Exec(ctx context.Context, ref string, cmd []string) (int, error) {
	f.record("exec " + ref)
	return 0, f.failWith
}

func (f *fakeContainerService) Remove(ctx context.Context, ref string, force, removeVolumes bool) error {
	f.record("remove " + ref)
	return f.failWith
}

type fakePruner struct {
	report  *prune.Report
	lastAll bool
}

func (f *fakePruner) Containers(ctx context.Context, args filters.Args) (*prune.Report, error) {
	return f.report, nil
}

func (f *fakePruner) Images(ctx context.Context, args filters.Args, all bool) (*prune.Report, error) {
	f.lastAll = all
	return f.report, nil
}

// ============================================================================
// Harness
// ============================================================================

func containerRouter(svc *fakeContainerService, pruner *fakePruner) chi.Router {
	h := NewContainerHandler(svc, pruner, nil)
	r := chi.NewRouter()
	r.Mount("/containers", h.Routes())
	return r
}

func doJSON(t *testing.T, r chi.Router, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

// ============================================================================
// Container handler
// ============================================================================

func TestContainerCreateAndInspect(t *testing.T) {
	svc := newFakeContainerService()
	r := containerRouter(svc, &fakePruner{})

	rec := doJSON(t, r, http.MethodPost, "/containers", CreateContainerRequest{
		Name:  "web",
		Image: "nginx:latest",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d, want 201: %s", rec.Code, rec.Body.String())
	}
	created := decodeBody[models.Container](t, rec)
	if created.Name != "web" || created.Image != "nginx:latest" {
		t.Fatalf("created = %+v", created)
	}

	rec = doJSON(t, r, http.MethodGet, "/containers/web/", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("inspect status = %d", rec.Code)
	}
	got := decodeBody[models.Container](t, rec)
	if got.ID != created.ID {
		t.Fatalf("inspect returned %q, want %q", got.ID, created.ID)
	}
}

func TestContainerStopParsesTimeoutSeconds(t *testing.T) {
	svc := newFakeContainerService()
	r := containerRouter(svc, &fakePruner{})

	rec := doJSON(t, r, http.MethodPost, "/containers/web/stop?timeout=5", nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("stop status = %d", rec.Code)
	}
	if svc.lastStop == nil || *svc.lastStop != 5*time.Second {
		t.Fatalf("stop timeout = %v, want 5s", svc.lastStop)
	}

	rec = doJSON(t, r, http.MethodPost, "/containers/web/stop", nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("stop status = %d", rec.Code)
	}
	if svc.lastStop != nil {
		t.Fatalf("default stop timeout = %v, want nil", svc.lastStop)
	}

	rec = doJSON(t, r, http.MethodPost, "/containers/web/stop?timeout=-1", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("negative timeout status = %d, want 400", rec.Code)
	}
}

func TestContainerNotFoundMapsTo404(t *testing.T) {
	svc := newFakeContainerService()
	r := containerRouter(svc, &fakePruner{})

	rec := doJSON(t, r, http.MethodGet, "/containers/missing/", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	body := decodeBody[map[string]any](t, rec)
	if body["code"] != apperrors.CodeNotFound {
		t.Fatalf("code = %v, want %s", body["code"], apperrors.CodeNotFound)
	}
}

func TestContainerConflictMapsTo409(t *testing.T) {
	svc := newFakeContainerService()
	svc.failWith = apperrors.Conflict("container is running")
	r := containerRouter(svc, &fakePruner{})

	rec := doJSON(t, r, http.MethodDelete, "/containers/web/", nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409: %s", rec.Code, rec.Body.String())
	}
}

func TestContainerUnknownErrorMapsTo500(t *testing.T) {
	svc := newFakeContainerService()
	svc.failWith = errors.New("disk exploded")
	r := containerRouter(svc, &fakePruner{})

	rec := doJSON(t, r, http.MethodPost, "/containers/web/start", nil)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "disk exploded") {
		t.Fatal("internal error detail leaked into response body")
	}
}

func TestContainerRenameRequiresName(t *testing.T) {
	svc := newFakeContainerService()
	r := containerRouter(svc, &fakePruner{})

	rec := doJSON(t, r, http.MethodPost, "/containers/web/rename", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}

	rec = doJSON(t, r, http.MethodPost, "/containers/web/rename?name=api", nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}
	if len(svc.calls) == 0 || svc.calls[len(svc.calls)-1] != "rename web api" {
		t.Fatalf("calls = %v", svc.calls)
	}
}

func TestContainerWaitReturnsExitCode(t *testing.T) {
	svc := newFakeContainerService()
	r := containerRouter(svc, &fakePruner{})

	rec := doJSON(t, r, http.MethodPost, "/containers/web/wait", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	resp := decodeBody[WaitResponse](t, rec)
	if resp.ExitCode != 42 {
		t.Fatalf("exit code = %d, want 42", resp.ExitCode)
	}
}

func TestContainerCreateRejectsMalformedJSON(t *testing.T) {
	svc := newFakeContainerService()
	r := containerRouter(svc, &fakePruner{})

	req := httptest.NewRequest(http.MethodPost, "/containers", strings.NewReader("{nope"))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestContainerPruneReturnsReport(t *testing.T) {
	report := &prune.Report{Deleted: []string{"a", "b"}, SpaceReclaimed: 1024}
	r := containerRouter(newFakeContainerService(), &fakePruner{report: report})

	rec := doJSON(t, r, http.MethodPost, "/containers/prune", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	got := decodeBody[prune.Report](t, rec)
	if len(got.Deleted) != 2 || got.SpaceReclaimed != 1024 {
		t.Fatalf("report = %+v", got)
	}
}

func TestContainerPruneRejectsBadFilterEncoding(t *testing.T) {
	r := containerRouter(newFakeContainerService(), &fakePruner{})

	rec := doJSON(t, r, http.MethodPost, "/containers/prune?filters=%7Bnot-json", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

// ============================================================================
// Image handler
// ============================================================================

type fakeImageService struct {
	images map[string]*models.Image
	tagged [][2]string
}

func (f *fakeImageService) Pull(ctx context.Context, ref string) (*models.Image, error) {
	img := &models.Image{ID: "sha256:abc", RepoTags: []string{ref}}
	if f.images == nil {
		f.images = make(map[string]*models.Image)
	}
	f.images[ref] = img
	return img, nil
}

func (f *fakeImageService) Push(ctx context.Context, ref string) error { return nil }

func (f *fakeImageService) Tag(ctx context.Context, ref, newTag string) error {
	f.tagged = append(f.tagged, [2]string{ref, newTag})
	return nil
}

func (f *fakeImageService) Get(ctx context.Context, ref string) (*models.Image, error) {
	if img, ok := f.images[ref]; ok {
		return img, nil
	}
	return nil, apperrors.NotFound("image", ref)
}

func (f *fakeImageService) List(ctx context.Context, args filters.Args) ([]*models.Image, error) {
	var out []*models.Image
	for _, img := range f.images {
		out = append(out, img)
	}
	return out, nil
}

func (f *fakeImageService) Remove(ctx context.Context, ref string, force bool) (*image.RemoveResult, error) {
	return &image.RemoveResult{Untagged: []string{ref}}, nil
}

func imageRouter(svc *fakeImageService, pruner *fakePruner) chi.Router {
	h := NewImageHandler(svc, pruner, nil)
	r := chi.NewRouter()
	r.Mount("/images", h.Routes())
	return r
}

func TestImagePullAndInspectByQueryRef(t *testing.T) {
	svc := &fakeImageService{}
	r := imageRouter(svc, &fakePruner{})

	rec := doJSON(t, r, http.MethodPost, "/images/pull?ref=registry.local/team/app:v1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("pull status = %d: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, r, http.MethodGet, "/images/inspect?ref=registry.local%2Fteam%2Fapp%3Av1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("inspect status = %d", rec.Code)
	}
	img := decodeBody[models.Image](t, rec)
	if img.ID != "sha256:abc" {
		t.Fatalf("image = %+v", img)
	}
}

func TestImagePullRequiresRef(t *testing.T) {
	r := imageRouter(&fakeImageService{}, &fakePruner{})

	rec := doJSON(t, r, http.MethodPost, "/images/pull", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestImagePruneForwardsAllFlag(t *testing.T) {
	pruner := &fakePruner{report: &prune.Report{}}
	r := imageRouter(&fakeImageService{}, pruner)

	doJSON(t, r, http.MethodPost, "/images/prune?all=true", nil)
	if !pruner.lastAll {
		t.Fatal("all=true not forwarded to pruner")
	}
	doJSON(t, r, http.MethodPost, "/images/prune", nil)
	if pruner.lastAll {
		t.Fatal("all flag should default to false")
	}
}

// ============================================================================
// System handler
// ============================================================================

type staticCheck struct{ err error }

func (c staticCheck) HealthCheck(ctx context.Context) error { return c.err }

func TestHealthDegradesOnFailingComponent(t *testing.T) {
	h := NewSystemHandler("1.0.0", "abcdef", "2026-01-01T00:00:00Z", nil)
	h.RegisterHealthChecker("database", staticCheck{})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	h.Health(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("healthy status = %d", rec.Code)
	}

	h.RegisterHealthChecker("nats", staticCheck{err: errors.New("connection refused")})
	rec = httptest.NewRecorder()
	h.Health(rec, req)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("degraded status = %d, want 503", rec.Code)
	}
	resp := decodeBody[HealthResponse](t, rec)
	if resp.Status != "degraded" {
		t.Fatalf("status = %q", resp.Status)
	}
}

func TestVersionReportsBuildInfo(t *testing.T) {
	h := NewSystemHandler("1.2.3", "deadbeef", "2026-01-01T00:00:00Z", nil)

	req := httptest.NewRequest(http.MethodGet, "/system/version", nil)
	rec := httptest.NewRecorder()
	h.Version(rec, req)
	resp := decodeBody[VersionResponse](t, rec)
	if resp.Version != "1.2.3" || resp.Commit != "deadbeef" || resp.GoVersion == "" {
		t.Fatalf("version = %+v", resp)
	}
}

func TestEventsRejectsBadSince(t *testing.T) {
	h := NewSystemHandler("1.0.0", "", "", nil)
	h.SetEventStreamer(staticEvents{})

	req := httptest.NewRequest(http.MethodGet, "/system/events?since=yesterday", nil)
	rec := httptest.NewRecorder()
	h.Events(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

type staticEvents struct{ events []*models.Event }

func (s staticEvents) ListSince(ctx context.Context, since time.Time, limit int) ([]*models.Event, error) {
	var out []*models.Event
	for _, ev := range s.events {
		if !ev.Time.Before(since) {
			out = append(out, ev)
		}
	}
	return out, nil
}

func TestEventsFiltersBySince(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	h := NewSystemHandler("1.0.0", "", "", nil)
	h.SetEventStreamer(staticEvents{events: []*models.Event{
		{Type: models.EventTypeContainer, Action: "create", Actor: "old", Time: now.Add(-time.Hour)},
		{Type: models.EventTypeContainer, Action: "start", Actor: "new", Time: now.Add(time.Hour)},
	}})

	req := httptest.NewRequest(http.MethodGet, "/system/events?since="+now.Format(time.RFC3339), nil)
	rec := httptest.NewRecorder()
	h.Events(rec, req)
	events := decodeBody[[]*models.Event](t, rec)
	if len(events) != 1 || events[0].Actor != "new" {
		t.Fatalf("events = %+v", events)
	}
}

// ============================================================================
// WebSocket origin policy
// ============================================================================

func TestWebSocketOriginPolicy(t *testing.T) {
	cases := []struct {
		name   string
		origin string
		host   string
		want   bool
	}{
		{"no origin (CLI client)", "", "daemon:8080", true},
		{"same host", "http://daemon", "daemon:8080", true},
		{"same host with port", "https://daemon:443", "daemon:8080", true},
		{"cross origin", "http://evil.example", "daemon:8080", false},
		{"non-http scheme", "file://x", "daemon:8080", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/v1/events/ws", nil)
			req.Host = tc.host
			if tc.origin != "" {
				req.Header.Set("Origin", tc.origin)
			}
			if got := isAllowedWebSocketOrigin(req); got != tc.want {
				t.Fatalf("origin %q against host %q = %v, want %v", tc.origin, tc.host, got, tc.want)
			}
		})
	}
}
