package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/danshapiro/uigen/internal/agent"
	"github.com/danshapiro/uigen/internal/llm"
	"github.com/danshapiro/uigen/internal/llm/providers/standin"
	"github.com/danshapiro/uigen/internal/ratelimit"
	"github.com/danshapiro/uigen/internal/review"
	"github.com/danshapiro/uigen/internal/store"
)

type testEnv struct {
	srv      *Server
	ts       *httptest.Server
	projects *store.ProjectStore
}

type envOptions struct {
	runner         TurnRunner
	limiter        RateGate
	allowedOrigins []string
}

func newTestEnv(t *testing.T, opts envOptions) *testEnv {
	t.Helper()
	projects, err := store.Open(filepath.Join(t.TempDir(), "uigen.db"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { projects.Close() })

	runner := opts.runner
	if runner == nil {
		client := llm.NewClient()
		client.Register(standin.NewAdapter())
		critic, err := review.NewCritic(client, review.Config{Model: standin.Name}, zap.NewNop())
		if err != nil {
			t.Fatalf("NewCritic: %v", err)
		}
		orch, err := agent.NewOrchestrator(client, critic, projects, zap.NewNop(), agent.Config{
			Model:   standin.Name,
			StandIn: true,
		})
		if err != nil {
			t.Fatalf("NewOrchestrator: %v", err)
		}
		runner = orch
	}

	srv, err := New(Config{Addr: ":0", AllowedOrigins: opts.allowedOrigins}, Deps{
		Runner:   runner,
		Projects: projects,
		Limiter:  opts.limiter,
		Auth:     NewStaticTokens(map[string]string{"alice-token": "alice", "bob-token": "bob"}),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		srv.Shutdown()
	})
	return &testEnv{srv: srv, ts: ts, projects: projects}
}

func (e *testEnv) do(t *testing.T, method, path, token, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, e.ts.URL+path, strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	return resp
}

type sseEvent struct {
	name string
	data string
}

func readSSE(t *testing.T, resp *http.Response) []sseEvent {
	t.Helper()
	defer resp.Body.Close()
	var out []sseEvent
	var cur sseEvent
	sc := bufio.NewScanner(resp.Body)
	sc.Buffer(make([]byte, 0, 64<<10), 4<<20)
	for sc.Scan() {
		line := sc.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			cur.name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			cur.data = strings.TrimPrefix(line, "data: ")
		case line == "":
			if cur.name != "" {
				out = append(out, cur)
			}
			cur = sseEvent{}
		}
	}
	return out
}

func decodeError(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	var er ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return er.Error
}

const chatBody = `{"messages":[{"role":"user","content":"Build a counter"}],"files":{}}`

func TestIntegration_Health(t *testing.T) {
	e := newTestEnv(t, envOptions{})
	resp := e.do(t, http.MethodGet, "/health", "", "")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if resp.Header.Get("X-Request-ID") == "" {
		t.Fatal("missing X-Request-ID")
	}
}

func TestIntegration_ChatStreamsTurn(t *testing.T) {
	e := newTestEnv(t, envOptions{})
	resp := e.do(t, http.MethodPost, "/api/chat", "", chatBody)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if resp.Header.Get("X-Turn-ID") == "" {
		t.Fatal("missing X-Turn-ID")
	}
	events := readSSE(t, resp)
	if len(events) < 3 {
		t.Fatalf("too few events: %v", events)
	}
	if events[0].name != string(agent.EventTurnStart) {
		t.Fatalf("first event = %s", events[0].name)
	}
	if events[len(events)-1].name != "done" {
		t.Fatalf("last event = %s", events[len(events)-1].name)
	}
	finished := events[len(events)-2]
	if finished.name != string(agent.EventTurnFinished) || !strings.Contains(finished.data, `"stop_reason":"completed"`) {
		t.Fatalf("turn_finished = %+v", finished)
	}

	var sawCreate, sawReview bool
	for _, ev := range events {
		if ev.name == string(agent.EventToolCallStart) && strings.Contains(ev.data, agent.EditorToolName) {
			sawCreate = true
		}
		if ev.name == string(agent.EventReviewFinished) {
			sawReview = true
		}
	}
	if !sawCreate || !sawReview {
		t.Fatalf("create=%v review=%v in %v", sawCreate, sawReview, events)
	}
	if e.srv.turns.Len() != 0 {
		t.Fatalf("turn still registered after stream end")
	}
}

func TestIntegration_ChatPersistsForOwner(t *testing.T) {
	e := newTestEnv(t, envOptions{})

	resp := e.do(t, http.MethodPost, "/api/projects", "alice-token", `{"name":"counter"}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create project: %d", resp.StatusCode)
	}
	var p store.Project
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()

	body := `{"messages":[{"role":"user","content":"Build a counter"}],"files":{},"projectId":"` + p.ID + `"}`
	readSSE(t, e.do(t, http.MethodPost, "/api/chat", "alice-token", body))

	resp = e.do(t, http.MethodGet, "/api/projects/"+p.ID, "alice-token", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get project: %d", resp.StatusCode)
	}
	var got store.Project
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()

	var msgs []agent.ConversationMessage
	if err := json.Unmarshal(got.Messages, &msgs); err != nil {
		t.Fatalf("messages: %v", err)
	}
	if len(msgs) < 3 || msgs[0].Role != "user" {
		t.Fatalf("persisted messages: %+v", msgs)
	}
	if _, ok := got.Files["/App.jsx"]; !ok {
		t.Fatalf("persisted files missing /App.jsx: %v", got.Files)
	}

	// Another user cannot see it.
	resp = e.do(t, http.MethodGet, "/api/projects/"+p.ID, "bob-token", "")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("other owner: expected 404, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestIntegration_ChatWithoutAuthSkipsSave(t *testing.T) {
	e := newTestEnv(t, envOptions{})
	p, err := e.projects.CreateProject(context.Background(), "alice", "x")
	if err != nil {
		t.Fatal(err)
	}
	body := `{"messages":[{"role":"user","content":"Build a counter"}],"projectId":"` + p.ID + `"}`
	readSSE(t, e.do(t, http.MethodPost, "/api/chat", "", body))

	got, err := e.projects.GetProject(context.Background(), p.ID, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if string(got.Messages) != "[]" {
		t.Fatalf("anonymous turn was saved: %s", got.Messages)
	}
}

func TestIntegration_ProjectsRequireAuth(t *testing.T) {
	e := newTestEnv(t, envOptions{})
	for _, path := range []string{"/api/projects", "/api/projects/01J0000000000000000000000"} {
		resp := e.do(t, http.MethodGet, path, "", "")
		if resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("%s: expected 401, got %d", path, resp.StatusCode)
		}
		if msg := decodeError(t, resp); msg != "Authentication required" {
			t.Fatalf("%s: error = %q", path, msg)
		}
	}
	// A bad token is the same as none.
	resp := e.do(t, http.MethodGet, "/api/projects", "nope", "")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bad token: expected 401, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestIntegration_GetProjectMissing(t *testing.T) {
	e := newTestEnv(t, envOptions{})
	resp := e.do(t, http.MethodGet, "/api/projects/does-not-exist", "alice-token", "")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestIntegration_ListProjects(t *testing.T) {
	e := newTestEnv(t, envOptions{})
	ctx := context.Background()
	if _, err := e.projects.CreateProject(ctx, "alice", "one"); err != nil {
		t.Fatal(err)
	}
	if _, err := e.projects.CreateProject(ctx, "bob", "two"); err != nil {
		t.Fatal(err)
	}
	resp := e.do(t, http.MethodGet, "/api/projects", "alice-token", "")
	defer resp.Body.Close()
	var list []store.ProjectSummary
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || list[0].Name != "one" {
		t.Fatalf("list = %+v", list)
	}
}

func TestIntegration_RateLimitGate(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	lim := ratelimit.New(ratelimit.NewMemoryStore(clock), ratelimit.Config{WindowLimit: 1}, ratelimit.WithClock(clock))
	e := newTestEnv(t, envOptions{limiter: lim})

	req := func(xff string) *http.Response {
		r, _ := http.NewRequest(http.MethodGet, e.ts.URL+"/api/turns/missing", nil)
		if xff != "" {
			r.Header.Set("X-Forwarded-For", xff)
		}
		resp, err := http.DefaultClient.Do(r)
		if err != nil {
			t.Fatal(err)
		}
		return resp
	}

	first := req("10.0.0.1, 172.16.0.1")
	first.Body.Close()
	if first.StatusCode == http.StatusTooManyRequests {
		t.Fatal("first request limited")
	}
	if first.Header.Get("X-RateLimit-Limit") != "1" {
		t.Fatalf("X-RateLimit-Limit = %q", first.Header.Get("X-RateLimit-Limit"))
	}

	second := req("10.0.0.1")
	if second.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", second.StatusCode)
	}
	if second.Header.Get("Retry-After") == "" {
		t.Fatal("missing Retry-After")
	}
	if msg := decodeError(t, second); msg != "Too many requests. Please try again later." {
		t.Fatalf("error = %q", msg)
	}

	other := req("10.0.0.2")
	other.Body.Close()
	if other.StatusCode == http.StatusTooManyRequests {
		t.Fatal("separate caller limited")
	}

	// Health stays reachable.
	h := e.do(t, http.MethodGet, "/health", "", "")
	h.Body.Close()
	if h.StatusCode != http.StatusOK {
		t.Fatalf("health: %d", h.StatusCode)
	}
}

type brokenStore struct{}

func (brokenStore) IncrWithExpiry(context.Context, string, time.Duration) (int64, error) {
	return 0, errors.New("connection refused")
}

func (brokenStore) SlidingWindowHit(context.Context, string, time.Time, time.Duration) (int64, error) {
	return 0, errors.New("connection refused")
}

func TestIntegration_RateLimitFailsOpen(t *testing.T) {
	e := newTestEnv(t, envOptions{limiter: ratelimit.New(brokenStore{}, ratelimit.Config{WindowLimit: 1})})
	for i := 0; i < 3; i++ {
		resp := e.do(t, http.MethodPost, "/api/chat", "", chatBody)
		readSSE(t, resp)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i, resp.StatusCode)
		}
		if resp.Header.Get("X-RateLimit-Limit") != "" {
			t.Fatal("fail-open response should not advertise limits")
		}
	}
}

func TestIntegration_ChatRejectsBadInput(t *testing.T) {
	e := newTestEnv(t, envOptions{})
	cases := map[string]string{
		"not json":       `{`,
		"no messages":    `{"messages":[]}`,
		"bad project id": `{"messages":[{"role":"user","content":"x"}],"projectId":"../etc"}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			resp := e.do(t, http.MethodPost, "/api/chat", "", body)
			if resp.StatusCode != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", resp.StatusCode)
			}
			resp.Body.Close()
		})
	}
}

func TestIntegration_CrossOriginPostBlocked(t *testing.T) {
	e := newTestEnv(t, envOptions{})
	req, _ := http.NewRequest(http.MethodPost, e.ts.URL+"/api/chat", strings.NewReader(chatBody))
	req.Header.Set("Origin", "https://evil.example")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", resp.StatusCode)
	}
}

func TestIntegration_AllowedOriginPasses(t *testing.T) {
	e := newTestEnv(t, envOptions{allowedOrigins: []string{"app.example.com"}})
	req, _ := http.NewRequest(http.MethodPost, e.ts.URL+"/api/chat", strings.NewReader(chatBody))
	req.Header.Set("Origin", "https://app.example.com")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	events := readSSE(t, resp)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if len(events) == 0 || events[len(events)-1].name != "done" {
		t.Fatalf("events: %+v", events)
	}
}

// blockingRunner emits turn_start and waits for cancellation.
type blockingRunner struct {
	started chan string
}

func (b *blockingRunner) RunTurn(ctx context.Context, in agent.TurnInput, sink agent.EventSink) (agent.TurnResult, error) {
	sink(agent.Event{Kind: agent.EventTurnStart, TurnID: in.TurnID, Timestamp: time.Now().UTC()})
	b.started <- in.TurnID
	<-ctx.Done()
	sink(agent.Event{Kind: agent.EventTurnFinished, TurnID: in.TurnID, Timestamp: time.Now().UTC(),
		Data: map[string]any{"stop_reason": string(agent.StopError)}})
	return agent.TurnResult{TurnID: in.TurnID, StopReason: agent.StopError}, ctx.Err()
}

func TestIntegration_CancelTurn(t *testing.T) {
	runner := &blockingRunner{started: make(chan string, 1)}
	e := newTestEnv(t, envOptions{runner: runner})

	streamDone := make(chan []sseEvent, 1)
	go func() {
		resp, err := http.Post(e.ts.URL+"/api/chat", "application/json", strings.NewReader(chatBody))
		if err != nil {
			streamDone <- nil
			return
		}
		streamDone <- readSSE(t, resp)
	}()

	var turnID string
	select {
	case turnID = <-runner.started:
	case <-time.After(2 * time.Second):
		t.Fatal("turn never started")
	}

	status := e.do(t, http.MethodGet, "/api/turns/"+turnID, "", "")
	var st TurnStatus
	if err := json.NewDecoder(status.Body).Decode(&st); err != nil {
		t.Fatal(err)
	}
	status.Body.Close()
	if st.State != "running" || st.LastEvent != string(agent.EventTurnStart) {
		t.Fatalf("status = %+v", st)
	}

	resp := e.do(t, http.MethodPost, "/api/turns/"+turnID+"/cancel", "", "")
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("cancel: %d", resp.StatusCode)
	}

	select {
	case events := <-streamDone:
		if len(events) == 0 || events[len(events)-1].name != "done" {
			t.Fatalf("stream did not finish cleanly: %v", events)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not end after cancel")
	}
}

func TestIntegration_TurnOwnedByOtherUserHidden(t *testing.T) {
	runner := &blockingRunner{started: make(chan string, 1)}
	e := newTestEnv(t, envOptions{runner: runner})

	go func() {
		req, _ := http.NewRequest(http.MethodPost, e.ts.URL+"/api/chat", strings.NewReader(chatBody))
		req.Header.Set("Authorization", "Bearer alice-token")
		if resp, err := http.DefaultClient.Do(req); err == nil {
			readSSE(t, resp)
		}
	}()
	turnID := <-runner.started

	resp := e.do(t, http.MethodGet, "/api/turns/"+turnID, "bob-token", "")
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for other user, got %d", resp.StatusCode)
	}
	resp = e.do(t, http.MethodPost, "/api/turns/"+turnID+"/cancel", "alice-token", "")
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("owner cancel: %d", resp.StatusCode)
	}
}

func TestNew_RequiresRunner(t *testing.T) {
	if _, err := New(Config{}, Deps{}); err == nil {
		t.Fatal("expected error without runner")
	}
}
