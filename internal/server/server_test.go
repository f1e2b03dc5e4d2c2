package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"

	"github.com/linecue/linecue/internal/cache"
	"github.com/linecue/linecue/internal/prerender"
	"github.com/linecue/linecue/internal/synth/mock"
)

const testScript = `# Act One

HAMLET: Who's there?

BERNARDO: Nay, answer me.

HAMLET: Long live the king!
`

type testEnv struct {
	server *httptest.Server
	client *mock.Client
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := log.New(io.Discard)

	store, err := cache.Open(context.Background(), cache.Config{Backend: "memory"}, logger)
	if err != nil {
		t.Fatalf("failed to open cache: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	client := mock.New()
	cfg := prerender.DefaultConfig()
	cfg.RetryBackoff = time.Millisecond

	srv := httptest.NewServer(New(client, store, cfg, logger).Handler())
	t.Cleanup(srv.Close)

	return &testEnv{server: srv, client: client}
}

func (e *testEnv) do(t *testing.T, method, path, owner string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, e.server.URL+path, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if owner != "" {
		req.Header.Set(OwnerHeader, owner)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (e *testEnv) waitTerminal(t *testing.T, owner, id string) SessionResponse {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		resp := e.do(t, http.MethodGet, "/sessions/"+id, owner, nil)
		var session SessionResponse
		if err := json.NewDecoder(resp.Body).Decode(&session); err != nil {
			t.Fatalf("decode session: %v", err)
		}
		if session.Status.Terminal() {
			return session
		}
		if time.Now().After(deadline) {
			t.Fatalf("session %s never finished: %+v", id, session.Snapshot)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestServer_PrerenderLifecycle(t *testing.T) {
	env := newTestEnv(t)
	req := PrerenderRequest{Script: testScript, ActorCharacter: "HAMLET", VoiceID: "v1", ScriptID: "hamlet"}

	resp := env.do(t, http.MethodPost, "/sessions/s1/prerender", "owner-1", req)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	session := env.waitTerminal(t, "owner-1", "s1")
	if session.Total != 1 || session.Generated != 1 || session.Failures != 0 {
		t.Errorf("session = %+v", session.Snapshot)
	}
	if len(session.ReadyLines) != 1 || session.ReadyLines[0] != 1 {
		t.Errorf("ready = %v, want [1]", session.ReadyLines)
	}

	audio := env.do(t, http.MethodGet, "/sessions/s1/audio/1", "owner-1", nil)
	if audio.StatusCode != http.StatusOK {
		t.Fatalf("audio status = %d", audio.StatusCode)
	}
	if ct := audio.Header.Get("Content-Type"); ct != "audio/mpeg" {
		t.Errorf("Content-Type = %q", ct)
	}
	data, _ := io.ReadAll(audio.Body)
	if len(data) == 0 {
		t.Error("empty audio body")
	}

	// Actor lines never have audio.
	if resp := env.do(t, http.MethodGet, "/sessions/s1/audio/0", "owner-1", nil); resp.StatusCode != http.StatusNotFound {
		t.Errorf("actor line audio status = %d", resp.StatusCode)
	}

	// Starting again replaces the finished run and hits the cache.
	env.do(t, http.MethodPost, "/sessions/s1/prerender", "owner-1", req)
	session = env.waitTerminal(t, "owner-1", "s1")
	if session.CacheHits != 1 || session.Generated != 0 {
		t.Errorf("second run = %+v", session.Snapshot)
	}
	if session.CacheStats.FromCache != 1 {
		t.Errorf("cacheStats = %+v", session.CacheStats)
	}
	if env.client.TotalCalls() != 1 {
		t.Errorf("provider calls = %d, want 1", env.client.TotalCalls())
	}
}

func TestServer_RequiresOwner(t *testing.T) {
	env := newTestEnv(t)
	resp := env.do(t, http.MethodPost, "/sessions/s1/prerender", "", PrerenderRequest{Script: testScript})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", resp.StatusCode)
	}
}

func TestServer_SessionsAreScopedToOwner(t *testing.T) {
	env := newTestEnv(t)
	env.do(t, http.MethodPost, "/sessions/s1/prerender", "alice", PrerenderRequest{Script: testScript})
	env.waitTerminal(t, "alice", "s1")

	if resp := env.do(t, http.MethodGet, "/sessions/s1", "mallory", nil); resp.StatusCode != http.StatusNotFound {
		t.Errorf("other owner status = %d, want 404", resp.StatusCode)
	}
}

func TestServer_BadRequests(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		want   int
	}{
		{"no lines", http.MethodPost, "/sessions/s1/prerender", PrerenderRequest{}, http.StatusBadRequest},
		{"unknown field", http.MethodPost, "/sessions/s1/prerender", map[string]any{"bogus": 1}, http.StatusBadRequest},
		{"bad speed", http.MethodPost, "/sessions/s1/prerender", PrerenderRequest{Script: testScript, Speed: 10}, http.StatusBadRequest},
		{"unknown session", http.MethodGet, "/sessions/nope", nil, http.StatusNotFound},
		{"cancel unknown", http.MethodPost, "/sessions/nope/cancel", nil, http.StatusNotFound},
		{"wrong method", http.MethodGet, "/sessions/s1/prerender", nil, http.StatusMethodNotAllowed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := env.do(t, tt.method, tt.path, "owner", tt.body)
			if resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.want)
			}
		})
	}
}

func TestServer_ConflictWhileRunningThenCancel(t *testing.T) {
	env := newTestEnv(t)
	gate := make(chan struct{})
	env.client.SetGate(gate)
	req := PrerenderRequest{Script: testScript, ActorCharacter: "none"}

	if resp := env.do(t, http.MethodPost, "/sessions/s1/prerender", "o", req); resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if resp := env.do(t, http.MethodPost, "/sessions/s1/prerender", "o", req); resp.StatusCode != http.StatusConflict {
		t.Errorf("duplicate start status = %d, want 409", resp.StatusCode)
	}
	if resp := env.do(t, http.MethodPost, "/sessions/s1/reset", "o", nil); resp.StatusCode != http.StatusConflict {
		t.Errorf("reset while running = %d, want 409", resp.StatusCode)
	}

	if resp := env.do(t, http.MethodPost, "/sessions/s1/cancel", "o", nil); resp.StatusCode != http.StatusAccepted {
		t.Errorf("cancel status = %d", resp.StatusCode)
	}
	close(gate)

	session := env.waitTerminal(t, "o", "s1")
	if session.Status != prerender.StatusCancelled {
		t.Errorf("status = %v, want cancelled", session.Status)
	}

	resp := env.do(t, http.MethodPost, "/sessions/s1/reset", "o", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("reset status = %d", resp.StatusCode)
	}
	var snap prerender.Snapshot
	json.NewDecoder(resp.Body).Decode(&snap)
	if snap.Status != prerender.StatusIdle || snap.Completed != 0 {
		t.Errorf("after reset: %+v", snap)
	}
}

func TestServer_ResetForgetsSession(t *testing.T) {
	env := newTestEnv(t)
	req := PrerenderRequest{Script: testScript, ActorCharacter: "HAMLET", ScriptID: "hamlet"}

	if resp := env.do(t, http.MethodPost, "/sessions/s1/prerender", "o", req); resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	env.waitTerminal(t, "o", "s1")

	if resp := env.do(t, http.MethodPost, "/sessions/s1/reset", "o", nil); resp.StatusCode != http.StatusOK {
		t.Fatalf("reset status = %d", resp.StatusCode)
	}
	if resp := env.do(t, http.MethodGet, "/sessions/s1", "o", nil); resp.StatusCode != http.StatusNotFound {
		t.Errorf("session after reset = %d, want 404", resp.StatusCode)
	}

	// The session comes back on the next prerender and is served from cache.
	if resp := env.do(t, http.MethodPost, "/sessions/s1/prerender", "o", req); resp.StatusCode != http.StatusAccepted {
		t.Fatalf("restart status = %d", resp.StatusCode)
	}
	session := env.waitTerminal(t, "o", "s1")
	if session.Status != prerender.StatusCompleted || len(session.ReadyLines) != 1 {
		t.Errorf("restarted session: %+v", session.Snapshot)
	}
}

func TestServer_EventsStream(t *testing.T) {
	env := newTestEnv(t)
	gate := make(chan struct{})
	env.client.SetGate(gate)

	env.do(t, http.MethodPost, "/sessions/s1/prerender", "o", PrerenderRequest{Script: testScript, ActorCharacter: "none"})

	url := "ws" + strings.TrimPrefix(env.server.URL, "http") + "/sessions/s1/events"
	header := http.Header{}
	header.Set(OwnerHeader, "o")
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	close(gate)

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var last prerender.Snapshot
	for {
		var snap prerender.Snapshot
		if err := conn.ReadJSON(&snap); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				break
			}
			t.Fatalf("read: %v", err)
		}
		if snap.Completed < last.Completed {
			t.Errorf("progress went backwards: %d then %d", last.Completed, snap.Completed)
		}
		last = snap
	}

	if last.Status != prerender.StatusCompleted || last.Completed != 3 {
		t.Errorf("last snapshot = %+v", last)
	}
}
