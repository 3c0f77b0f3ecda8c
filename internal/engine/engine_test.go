package engine_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"huddle/internal/config"
	"huddle/internal/db"
	"huddle/internal/domain"
	"huddle/internal/engine"
	"huddle/internal/migrate"
	"huddle/internal/runtime"
)

type fakeContainer struct {
	spec     runtime.Spec
	running  bool
	exitCode int
}

type fakeRuntime struct {
	mu         sync.Mutex
	seq        int
	containers map[string]*fakeContainer
	failCreate bool
	failStart  bool
}

func newFakeRuntime() *fakeRuntime {
	return &fakeRuntime{containers: map[string]*fakeContainer{}}
}

func (f *fakeRuntime) Create(_ context.Context, spec runtime.Spec) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failCreate {
		return "", errors.New("image not found")
	}
	f.seq++
	id := fmt.Sprintf("ctr-%d", f.seq)
	f.containers[id] = &fakeContainer{spec: spec}
	return id, nil
}

func (f *fakeRuntime) Start(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failStart {
		return errors.New("daemon unavailable")
	}
	f.containers[id].running = true
	return nil
}

func (f *fakeRuntime) Inspect(_ context.Context, id string) (runtime.Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.containers[id]
	if !ok {
		return runtime.Status{}, errors.New("no such container")
	}
	return runtime.Status{Running: c.running, ExitCode: c.exitCode}, nil
}

func (f *fakeRuntime) Stop(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.containers[id]; ok && c.running {
		c.running = false
		c.exitCode = 137
	}
	return nil
}

// exit simulates the container finishing on its own.
func (f *fakeRuntime) exit(id string, code int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.containers[id].running = false
	f.containers[id].exitCode = code
}

func (f *fakeRuntime) remove(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.containers, id)
}

type fakeSearcher struct {
	lines []string
	err   error
}

func (f fakeSearcher) Search(_ context.Context, _ string, _ int) ([]string, error) {
	return f.lines, f.err
}

type testEnv struct {
	Engine  engine.Engine
	Runtime *fakeRuntime
	Ctx     context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default()
	cfg.Sandbox.Root = filepath.Join(dir, "sandboxes")
	cfg.Auth.CallbackSecret = "test-secret"
	rt := newFakeRuntime()
	eng := engine.New(conn, cfg, rt, nil, nil)
	eng.Now = func() time.Time { return time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC) }
	eng.Launcher.Now = eng.Now
	return testEnv{Engine: eng, Runtime: rt, Ctx: context.Background()}
}

func spawn(t *testing.T, env testEnv) domain.Meeting {
	t.Helper()
	m, err := env.Engine.Spawn(env.Ctx, engine.SpawnOptions{
		MeetingURL: "https://meet.google.com/abc-defg-hij",
		OwnerID:    "user-1",
	})
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	return m
}

func TestSpawnPersistsRunningMeeting(t *testing.T) {
	env := newTestEnv(t)
	m := spawn(t, env)

	if m.Status != domain.StatusRunning {
		t.Fatalf("status = %s, want running", m.Status)
	}
	if m.ContainerID == nil {
		t.Fatalf("container id not set")
	}
	c := env.Runtime.containers[*m.ContainerID]
	if c == nil || !c.running {
		t.Fatalf("container not started")
	}
	if got := c.spec.Cmd[len(c.spec.Cmd)-1]; got != "https://meet.google.com/abc-defg-hij" {
		t.Fatalf("meeting url not last argument: %q", got)
	}
	sandboxDir := filepath.Join(env.Engine.Config.Sandbox.Root, m.ID)
	if _, err := os.Stat(filepath.Join(sandboxDir, "tools.json")); err != nil {
		t.Fatalf("sandbox config missing: %v", err)
	}
	if _, err := os.Stat(filepath.Join(sandboxDir, "data")); err != nil {
		t.Fatalf("sandbox data dir missing: %v", err)
	}
}

func TestSpawnSnapshotsToolConfig(t *testing.T) {
	env := newTestEnv(t)
	tb, err := env.Engine.CreateToolBinding(env.Ctx, engine.ToolCreateOptions{
		Name:           "Brave Search",
		Command:        "npx",
		Args:           []string{"-y", "brave-search"},
		Env:            map[string]string{"BRAVE_API_KEY": "sk-1"},
		DefaultEnabled: true,
		ActorID:        "admin",
	})
	if err != nil {
		t.Fatalf("create tool: %v", err)
	}
	if _, err := env.Engine.CreateToolBinding(env.Ctx, engine.ToolCreateOptions{
		Name:           "Notion",
		Command:        "npx",
		Env:            map[string]string{"NOTION_TOKEN": ""},
		DefaultEnabled: true,
		ActorID:        "admin",
	}); err != nil {
		t.Fatalf("create tool: %v", err)
	}

	m := spawn(t, env)
	if !strings.Contains(m.ConfigJSON, "brave-search") {
		t.Fatalf("configured tool missing from snapshot: %s", m.ConfigJSON)
	}
	if strings.Contains(m.ConfigJSON, "notion") {
		t.Fatalf("unconfigured tool leaked into snapshot: %s", m.ConfigJSON)
	}

	// Editing the binding later must not change the snapshot.
	if _, err := env.Engine.SetToolBindingEnabled(env.Ctx, tb.ID, false, "admin"); err != nil {
		t.Fatalf("disable tool: %v", err)
	}
	got, err := env.Engine.Repo.GetMeeting(env.Ctx, m.ID)
	if err != nil {
		t.Fatalf("get meeting: %v", err)
	}
	if got.ConfigJSON != m.ConfigJSON {
		t.Fatalf("snapshot changed after binding edit")
	}
}

func TestSpawnFailureLeavesNoRecord(t *testing.T) {
	env := newTestEnv(t)
	env.Runtime.failStart = true
	if _, err := env.Engine.Spawn(env.Ctx, engine.SpawnOptions{MeetingURL: "https://meet.example/x", OwnerID: "user-1"}); err == nil {
		t.Fatalf("expected spawn error")
	}
	meetings, err := env.Engine.ReconcileAndList(env.Ctx, "user-1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(meetings) != 0 {
		t.Fatalf("failed spawn persisted a meeting: %+v", meetings)
	}
}

func TestReconcileMapsExitCodes(t *testing.T) {
	env := newTestEnv(t)

	ok := spawn(t, env)
	env.Runtime.exit(*ok.ContainerID, 0)
	got, err := env.Engine.Reconcile(env.Ctx, ok)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if got.Status != domain.StatusCompleted {
		t.Fatalf("exit 0 status = %s, want completed", got.Status)
	}
	if got.EndedAt == nil {
		t.Fatalf("ended_at not set on terminal meeting")
	}

	bad := spawn(t, env)
	env.Runtime.exit(*bad.ContainerID, 1)
	got, err = env.Engine.Reconcile(env.Ctx, bad)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if got.Status != domain.StatusFailed {
		t.Fatalf("exit 1 status = %s, want failed", got.Status)
	}
}

func TestReconcileRunningContainerIsNoop(t *testing.T) {
	env := newTestEnv(t)
	m := spawn(t, env)
	got, err := env.Engine.Reconcile(env.Ctx, m)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if got.Status != domain.StatusRunning || got.EndedAt != nil {
		t.Fatalf("running meeting changed: %+v", got)
	}
}

func TestReconcileIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	m := spawn(t, env)
	env.Runtime.exit(*m.ContainerID, 0)

	first, err := env.Engine.Reconcile(env.Ctx, m)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	// replay with the stale pre-reconcile copy, as a racing poller would
	env.Engine.Now = func() time.Time { return time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC) }
	second, err := env.Engine.Reconcile(env.Ctx, m)
	if err != nil {
		t.Fatalf("second reconcile: %v", err)
	}
	if second.Status != first.Status || *second.EndedAt != *first.EndedAt {
		t.Fatalf("terminal meeting changed on later reconcile: %+v vs %+v", first, second)
	}
}

func TestReconcileMissingContainerFinalizesStopped(t *testing.T) {
	env := newTestEnv(t)
	m := spawn(t, env)
	env.Runtime.remove(*m.ContainerID)
	got, err := env.Engine.Reconcile(env.Ctx, m)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if got.Status != domain.StatusStopped {
		t.Fatalf("status = %s, want stopped", got.Status)
	}
}

func TestStopWinsOverExitCode(t *testing.T) {
	env := newTestEnv(t)
	m := spawn(t, env)

	got, err := env.Engine.Stop(env.Ctx, m.ID, "user-1")
	if err != nil {
		t.Fatalf("stop: %v", err)
	}
	if got.Status != domain.StatusStopped {
		t.Fatalf("status = %s, want stopped", got.Status)
	}
}

func TestStopDoesNotOverwriteNaturalCompletion(t *testing.T) {
	env := newTestEnv(t)
	m := spawn(t, env)
	env.Runtime.exit(*m.ContainerID, 0)
	if _, err := env.Engine.Reconcile(env.Ctx, m); err != nil {
		t.Fatalf("reconcile: %v", err)
	}

	got, err := env.Engine.Stop(env.Ctx, m.ID, "user-1")
	if err != nil {
		t.Fatalf("stop after completion: %v", err)
	}
	if got.Status != domain.StatusCompleted {
		t.Fatalf("stop overwrote completed with %s", got.Status)
	}
}

func TestStopRemovedContainerSucceeds(t *testing.T) {
	env := newTestEnv(t)
	m := spawn(t, env)
	env.Runtime.remove(*m.ContainerID)

	got, err := env.Engine.Stop(env.Ctx, m.ID, "user-1")
	if err != nil {
		t.Fatalf("stop on removed container: %v", err)
	}
	if got.Status != domain.StatusStopped {
		t.Fatalf("status = %s, want stopped", got.Status)
	}
	// a second stop is still fine
	if _, err := env.Engine.Stop(env.Ctx, m.ID, "user-1"); err != nil {
		t.Fatalf("second stop: %v", err)
	}
}

func TestReconcileAndListFinalizesExited(t *testing.T) {
	env := newTestEnv(t)
	a := spawn(t, env)
	b := spawn(t, env)
	env.Runtime.exit(*a.ContainerID, 0)

	meetings, err := env.Engine.ReconcileAndList(env.Ctx, "user-1")
	if err != nil {
		t.Fatalf("reconcile and list: %v", err)
	}
	byID := map[string]domain.Meeting{}
	for _, m := range meetings {
		byID[m.ID] = m
	}
	if byID[a.ID].Status != domain.StatusCompleted {
		t.Fatalf("exited meeting = %s, want completed", byID[a.ID].Status)
	}
	if byID[b.ID].Status != domain.StatusRunning {
		t.Fatalf("running meeting = %s, want running", byID[b.ID].Status)
	}
}

func TestFetchLogsDegradesGracefully(t *testing.T) {
	env := newTestEnv(t)
	m := spawn(t, env)

	out, err := env.Engine.FetchLogs(env.Ctx, m.ID)
	if err != nil {
		t.Fatalf("fetch logs: %v", err)
	}
	if !strings.Contains(out, "not configured") {
		t.Fatalf("missing-credentials placeholder, got %q", out)
	}

	env.Engine.Logs = fakeSearcher{err: errors.New("connection refused")}
	out, err = env.Engine.FetchLogs(env.Ctx, m.ID)
	if err != nil {
		t.Fatalf("fetch logs: %v", err)
	}
	if !strings.Contains(out, "Log fetch failed") {
		t.Fatalf("error placeholder, got %q", out)
	}

	env.Engine.Logs = fakeSearcher{lines: []string{"line one", "line two"}}
	out, err = env.Engine.FetchLogs(env.Ctx, m.ID)
	if err != nil {
		t.Fatalf("fetch logs: %v", err)
	}
	if out != "line one\nline two" {
		t.Fatalf("joined logs = %q", out)
	}
}

func TestFetchTranscriptFromLogs(t *testing.T) {
	env := newTestEnv(t)
	m := spawn(t, env)
	env.Engine.Logs = fakeSearcher{lines: []string{
		`2025-01-01T00:00:00.000Z [info] [2025-01-01 00:00:00] INFO agent: gemini_meet_speak_text: text="Hello"`,
		`2025-01-01T00:00:01.000Z [info] transcription: Alice: "Hi there"`,
		`2025-01-01T00:00:02.000Z [info] INFO agent: brave-search: query=weather`,
	}}

	segments, usage, err := env.Engine.FetchTranscript(env.Ctx, m.ID)
	if err != nil {
		t.Fatalf("fetch transcript: %v", err)
	}
	if len(segments) != 2 {
		t.Fatalf("segments = %d, want 2", len(segments))
	}
	if segments[0].Kind != domain.SegmentAgent || segments[1].Speaker != "Alice" {
		t.Fatalf("unexpected segments: %+v", segments)
	}
	if usage["brave-search"] != 1 {
		t.Fatalf("tool usage = %v", usage)
	}
}

func TestFetchTranscriptFallsBackToReportedText(t *testing.T) {
	env := newTestEnv(t)
	m := spawn(t, env)
	reported := `2025-01-01T00:00:00.000Z [info] INFO agent: gemini_meet_speak_text: text="from cache"`
	if err := env.Engine.ReportResults(env.Ctx, m.ID, &reported, nil); err != nil {
		t.Fatalf("report: %v", err)
	}
	env.Engine.Logs = fakeSearcher{err: errors.New("unreachable")}

	segments, _, err := env.Engine.FetchTranscript(env.Ctx, m.ID)
	if err != nil {
		t.Fatalf("fetch transcript: %v", err)
	}
	if len(segments) != 1 || segments[0].Text != "from cache" {
		t.Fatalf("fallback segments = %+v", segments)
	}
}

func TestSpawnValidation(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.Spawn(env.Ctx, engine.SpawnOptions{OwnerID: "user-1"}); err == nil {
		t.Fatalf("expected error for missing url")
	}
	if _, err := env.Engine.Spawn(env.Ctx, engine.SpawnOptions{MeetingURL: "https://meet.example/x"}); err == nil {
		t.Fatalf("expected error for missing owner")
	}
}
