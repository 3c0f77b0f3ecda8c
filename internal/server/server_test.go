package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"path/filepath"
	"sync"
	"testing"

	"huddle/internal/config"
	"huddle/internal/db"
	"huddle/internal/engine"
	"huddle/internal/migrate"
	"huddle/internal/runtime"
)

type fakeRuntime struct {
	mu         sync.Mutex
	seq        int
	containers map[string]*fakeContainer
}

type fakeContainer struct {
	running  bool
	exitCode int
}

func newFakeRuntime() *fakeRuntime {
	return &fakeRuntime{containers: map[string]*fakeContainer{}}
}

func (f *fakeRuntime) Create(_ context.Context, _ runtime.Spec) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	id := fmt.Sprintf("ctr-%d", f.seq)
	f.containers[id] = &fakeContainer{}
	return id, nil
}

func (f *fakeRuntime) Start(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
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

func (f *fakeRuntime) exit(id string, code int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.containers[id].running = false
	f.containers[id].exitCode = code
}

type testServer struct {
	URL     string
	Engine  engine.Engine
	Runtime *fakeRuntime
	client  *http.Client
	close   func()
}

func (s *testServer) Close() { s.close() }

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	workspace := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default()
	cfg.Sandbox.Root = filepath.Join(workspace, "sandboxes")
	cfg.Auth.CallbackSecret = "test-secret"
	rt := newFakeRuntime()
	e := engine.New(conn, cfg, rt, nil, nil)
	handler, err := New(Config{Engine: e, BasePath: "/v0"})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	ts := &testServer{
		URL:     "http://" + ln.Addr().String(),
		Engine:  e,
		Runtime: rt,
		client:  &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	t.Cleanup(ts.Close)
	return ts
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	data, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp, data
}

func spawnMeeting(t *testing.T, ts *testServer) MeetingResponse {
	t.Helper()
	resp, body := doJSON(t, ts.client, http.MethodPost, ts.URL+"/v0/meetings", SpawnMeetingRequest{
		MeetingURL: "https://meet.google.com/abc-defg-hij",
		OwnerID:    "user-1",
	}, nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("spawn status = %d: %s", resp.StatusCode, body)
	}
	var out MeetingResponse
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return out
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)
	resp, body := doJSON(t, ts.client, http.MethodGet, ts.URL+"/v0/health", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d: %s", resp.StatusCode, body)
	}
}

func TestSpawnAndGetMeeting(t *testing.T) {
	ts := newTestServer(t)
	m := spawnMeeting(t, ts)
	if m.Status != "running" || m.ContainerID == nil {
		t.Fatalf("spawned meeting: %+v", m)
	}

	resp, body := doJSON(t, ts.client, http.MethodGet, ts.URL+"/v0/meetings/"+m.ID, nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get status = %d: %s", resp.StatusCode, body)
	}
	var got MeetingResponse
	if err := json.Unmarshal(body, &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.ID != m.ID {
		t.Fatalf("got %s, want %s", got.ID, m.ID)
	}
}

func TestSpawnValidationError(t *testing.T) {
	ts := newTestServer(t)
	resp, body := doJSON(t, ts.client, http.MethodPost, ts.URL+"/v0/meetings", SpawnMeetingRequest{OwnerID: "user-1"}, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d: %s", resp.StatusCode, body)
	}
	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		t.Fatalf("decode error envelope: %v", err)
	}
	if envelope.Error.Code != "bad_request" {
		t.Fatalf("code = %q: %s", envelope.Error.Code, body)
	}
}

func TestListReconcilesExitedMeetings(t *testing.T) {
	ts := newTestServer(t)
	m := spawnMeeting(t, ts)
	ts.Runtime.exit(*m.ContainerID, 0)

	resp, body := doJSON(t, ts.client, http.MethodGet, ts.URL+"/v0/meetings?owner_id=user-1", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list status = %d: %s", resp.StatusCode, body)
	}
	var items []MeetingResponse
	if err := json.Unmarshal(body, &items); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(items) != 1 || items[0].Status != "completed" {
		t.Fatalf("list = %+v", items)
	}
}

func TestStopIsIdempotent(t *testing.T) {
	ts := newTestServer(t)
	m := spawnMeeting(t, ts)

	for i := 0; i < 2; i++ {
		resp, body := doJSON(t, ts.client, http.MethodPost, ts.URL+"/v0/meetings/"+m.ID+"/stop", map[string]string{}, nil)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("stop #%d status = %d: %s", i+1, resp.StatusCode, body)
		}
		var got MeetingResponse
		if err := json.Unmarshal(body, &got); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if got.Status != "stopped" {
			t.Fatalf("stop #%d status = %s", i+1, got.Status)
		}
	}
}

func TestMeetingNotFound(t *testing.T) {
	ts := newTestServer(t)
	resp, body := doJSON(t, ts.client, http.MethodGet, ts.URL+"/v0/meetings/nope", nil, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d: %s", resp.StatusCode, body)
	}
}

func TestMeetingLogsPlaceholderWithoutCredentials(t *testing.T) {
	ts := newTestServer(t)
	m := spawnMeeting(t, ts)
	resp, body := doJSON(t, ts.client, http.MethodGet, ts.URL+"/v0/meetings/"+m.ID+"/logs", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("logs status = %d: %s", resp.StatusCode, body)
	}
	var out struct {
		Logs string `json:"logs"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Logs == "" {
		t.Fatalf("expected placeholder log text")
	}
}

func TestTranscriptCallbackRequiresToken(t *testing.T) {
	ts := newTestServer(t)
	m := spawnMeeting(t, ts)
	text := "transcript body"

	resp, body := doJSON(t, ts.client, http.MethodPost, ts.URL+"/v0/meetings/"+m.ID+"/transcript",
		ReportTranscriptRequest{Transcript: &text}, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("unauthenticated callback status = %d: %s", resp.StatusCode, body)
	}

	token, err := ts.Engine.Launcher.Token(m.ID)
	if err != nil {
		t.Fatalf("mint token: %v", err)
	}
	resp, body = doJSON(t, ts.client, http.MethodPost, ts.URL+"/v0/meetings/"+m.ID+"/transcript",
		ReportTranscriptRequest{Transcript: &text}, map[string]string{"Authorization": "Bearer " + token})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("authenticated callback status = %d: %s", resp.StatusCode, body)
	}

	stored, err := ts.Engine.Repo.GetMeeting(context.Background(), m.ID)
	if err != nil {
		t.Fatalf("get meeting: %v", err)
	}
	if stored.Transcript == nil || *stored.Transcript != text {
		t.Fatalf("transcript not stored: %+v", stored.Transcript)
	}
}

func TestTranscriptCallbackRejectsForeignToken(t *testing.T) {
	ts := newTestServer(t)
	a := spawnMeeting(t, ts)
	b := spawnMeeting(t, ts)
	text := "x"

	token, err := ts.Engine.Launcher.Token(a.ID)
	if err != nil {
		t.Fatalf("mint token: %v", err)
	}
	resp, body := doJSON(t, ts.client, http.MethodPost, ts.URL+"/v0/meetings/"+b.ID+"/transcript",
		ReportTranscriptRequest{Transcript: &text}, map[string]string{"Authorization": "Bearer " + token})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("cross-meeting token status = %d: %s", resp.StatusCode, body)
	}
}

func TestToolLifecycle(t *testing.T) {
	ts := newTestServer(t)
	resp, body := doJSON(t, ts.client, http.MethodPost, ts.URL+"/v0/tools", CreateToolRequest{
		Name:           "Brave Search",
		Command:        "npx",
		Args:           []string{"-y", "brave-search"},
		Env:            map[string]string{"BRAVE_API_KEY": "sk-1"},
		DefaultEnabled: true,
	}, nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d: %s", resp.StatusCode, body)
	}
	var tool ToolResponse
	if err := json.Unmarshal(body, &tool); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(tool.EnvKeys) != 1 || tool.EnvKeys[0] != "BRAVE_API_KEY" {
		t.Fatalf("env keys = %v", tool.EnvKeys)
	}

	resp, body = doJSON(t, ts.client, http.MethodPatch, ts.URL+"/v0/tools/"+tool.ID,
		map[string]bool{"enabled": false}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("patch status = %d: %s", resp.StatusCode, body)
	}

	resp, body = doJSON(t, ts.client, http.MethodGet, ts.URL+"/v0/tools?enabled=true", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list status = %d: %s", resp.StatusCode, body)
	}
	var items []ToolResponse
	if err := json.Unmarshal(body, &items); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(items) != 0 {
		t.Fatalf("disabled tool still listed as enabled: %+v", items)
	}
}

func TestOpenAPIServed(t *testing.T) {
	ts := newTestServer(t)
	resp, body := doJSON(t, ts.client, http.MethodGet, ts.URL+"/v0/openapi.json", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("openapi status = %d", resp.StatusCode)
	}
	if !bytes.Contains(body, []byte("Huddle API")) {
		t.Fatalf("openapi missing title")
	}
}
