package repl

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"redlight/internal/apiclient"
	"redlight/internal/assessment/evaluation"
	"redlight/internal/assessment/execution"
	"redlight/internal/assessment/session"
	"redlight/internal/assessment/signal"
	"redlight/internal/cli/state"
	"redlight/internal/common/httpclient"
	pkgerrors "redlight/pkg/errors"
)

// syncBuffer lets notices written from the signal goroutine be read safely.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type fakeService struct {
	records     int32
	overall     int64
	lastKey     atomic.Value
	lastAuth    atomic.Value
	lastQuery   atomic.Value
	loggedOut   atomic.Bool
	signalValue atomic.Value
}

func writeEnvelope(w http.ResponseWriter, status int, code pkgerrors.ErrorCode, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{"code": code, "message": code.Message(), "data": data})
}

func (f *fakeService) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/auth/me", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer good" {
			writeEnvelope(w, http.StatusUnauthorized, pkgerrors.TokenInvalid, nil)
			return
		}
		writeEnvelope(w, http.StatusOK, pkgerrors.Success, map[string]string{"participant_id": "p1", "team_id": "t1", "role": "participant"})
	})
	mux.HandleFunc("/api/v1/auth/logout", func(w http.ResponseWriter, r *http.Request) {
		f.loggedOut.Store(true)
		writeEnvelope(w, http.StatusOK, pkgerrors.Success, nil)
	})
	mux.HandleFunc("/api/v1/questions", func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, http.StatusOK, pkgerrors.Success, []map[string]string{{"id": "q1", "name": "Sum"}})
	})
	mux.HandleFunc("/api/v1/questions/q1", func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, http.StatusOK, pkgerrors.Success, map[string]string{
			"id": "q1", "name": "Sum", "body": "Add two numbers.", "reference_solution": "ref",
		})
	})
	mux.HandleFunc("/api/v1/scores", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&f.records, 1)
		f.lastKey.Store(r.Header.Get("Idempotency-Key"))
		f.lastAuth.Store(r.Header.Get("Authorization"))
		var req struct {
			Score int `json:"score"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		total := atomic.AddInt64(&f.overall, int64(req.Score))
		writeEnvelope(w, http.StatusOK, pkgerrors.Success, map[string]interface{}{
			"kind":    "ok",
			"applied": req.Score,
			"team":    map[string]interface{}{"team_id": "t1", "rounds": map[string]int64{"round4": total}, "overall": total},
		})
	})
	mux.HandleFunc("/api/v1/leaderboard", func(w http.ResponseWriter, r *http.Request) {
		f.lastQuery.Store(r.URL.RawQuery)
		writeEnvelope(w, http.StatusOK, pkgerrors.Success, map[string]interface{}{
			"round":     "round2",
			"standings": []map[string]interface{}{{"rank": 1, "team_id": "t1", "score": 9}},
		})
	})
	mux.HandleFunc("/api/v1/signal", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPut {
			var frame map[string]string
			_ = json.NewDecoder(r.Body).Decode(&frame)
			f.signalValue.Store(frame["current"])
		}
		current, _ := f.signalValue.Load().(string)
		if current == "" {
			current = "green"
		}
		writeEnvelope(w, http.StatusOK, pkgerrors.Success, map[string]string{"current": current})
	})
	return mux
}

type fixture struct {
	repl    *REPL
	out     *syncBuffer
	hub     *signal.Hub
	service *fakeService
	token   *state.TokenState
	graded  int32
	ran     int32
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{out: &syncBuffer{}, hub: signal.NewHub(signal.Green), service: &fakeService{}, token: &state.TokenState{}}

	api := httptest.NewServer(f.service.handler())
	t.Cleanup(api.Close)
	runner := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&f.ran, 1)
		_ = json.NewEncoder(w).Encode(map[string]string{"output": "3\n"})
	}))
	t.Cleanup(runner.Close)
	grader := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&f.graded, 1)
		_ = json.NewEncoder(w).Encode(map[string]string{"result": "Close enough. Score: 7"})
	}))
	t.Cleanup(grader.Close)

	client := apiclient.New(httpclient.New(api.URL, time.Second, func() string { return f.token.AccessToken }))
	r, err := New(Options{
		API:   client,
		Store: session.NewMemoryStore(),
		NewChannel: func(token string) (signal.Channel, error) {
			if token == "" {
				return nil, errors.New("token required")
			}
			return f.hub, nil
		},
		Runner:     execution.Config{Endpoint: runner.URL, Timeout: time.Second},
		Grader:     evaluation.Config{Endpoint: grader.URL, Timeout: time.Second},
		TokenState: f.token,
		StatePath:  filepath.Join(t.TempDir(), "state.json"),
		Out:        f.out,
	})
	if err != nil {
		t.Fatalf("new repl failed: %v", err)
	}
	f.repl = r
	t.Cleanup(r.closeCurrent)
	return f
}

func (f *fixture) exec(t *testing.T, line string) {
	t.Helper()
	if err := f.repl.Execute(context.Background(), line); err != nil {
		t.Fatalf("%s: %v", line, err)
	}
}

func TestFreezeRestoreAndSubmit(t *testing.T) {
	f := newFixture(t)
	f.exec(t, "login good")
	f.exec(t, "open q1")
	f.exec(t, `edit "int main() { return 3; }"`)

	f.hub.Publish("red")
	if !strings.Contains(f.out.String(), RedNotice) {
		t.Fatalf("expected red notice, got %q", f.out.String())
	}
	f.exec(t, "edit lost")
	f.exec(t, "run")
	f.exec(t, "submit")
	if atomic.LoadInt32(&f.ran) != 0 || atomic.LoadInt32(&f.graded) != 0 {
		t.Fatalf("no remote call may happen while red")
	}
	out := f.out.String()
	for _, msg := range []string{"Cannot edit code during red light!", "Cannot run code during red light!", "Cannot submit code during red light!"} {
		if !strings.Contains(out, msg) {
			t.Fatalf("missing %q in %q", msg, out)
		}
	}

	f.hub.Publish("green")
	if code := f.repl.open().session.Code(); code != "int main() { return 3; }" {
		t.Fatalf("expected restored code, got %q", code)
	}
	f.exec(t, "submit")
	if atomic.LoadInt32(&f.service.records) != 1 {
		t.Fatalf("expected one record call, got %d", f.service.records)
	}
	if !strings.Contains(f.out.String(), "recorded +7") {
		t.Fatalf("expected recorded line, got %q", f.out.String())
	}
	if key, _ := f.service.lastKey.Load().(string); key == "" {
		t.Fatalf("expected idempotency key")
	}
	if auth, _ := f.service.lastAuth.Load().(string); auth != "Bearer good" {
		t.Fatalf("unexpected auth header %q", auth)
	}
	if f.token.LastQuestionID != "q1" {
		t.Fatalf("expected last question to be remembered, got %q", f.token.LastQuestionID)
	}
}

func TestLoginRejectedKeepsState(t *testing.T) {
	f := newFixture(t)
	if err := f.repl.Execute(context.Background(), "login bad"); err == nil {
		t.Fatalf("expected rejection")
	}
	if f.token.AccessToken != "" {
		t.Fatalf("token must be reverted, got %q", f.token.AccessToken)
	}
}

func TestCommandPreconditions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if err := f.repl.Execute(ctx, "questions"); err == nil || !strings.Contains(err.Error(), "not logged in") {
		t.Fatalf("expected auth error, got %v", err)
	}
	if err := f.repl.Execute(ctx, "run"); err == nil || !strings.Contains(err.Error(), "no question open") {
		t.Fatalf("expected question error, got %v", err)
	}
	if err := f.repl.Execute(ctx, "open"); err == nil || !strings.Contains(err.Error(), "usage") {
		t.Fatalf("expected usage error, got %v", err)
	}
	if err := f.repl.Execute(ctx, "dance"); err == nil {
		t.Fatalf("expected unknown command error")
	}
	if err := f.repl.Execute(ctx, "quit"); !errors.Is(err, ErrExit) {
		t.Fatalf("expected ErrExit, got %v", err)
	}
}

func TestLeaderboardAndSignal(t *testing.T) {
	f := newFixture(t)
	f.exec(t, "login good")
	f.exec(t, "lb round=round2 limit=3")
	if q, _ := f.service.lastQuery.Load().(string); q != "limit=3&round=round2" {
		t.Fatalf("unexpected query %q", q)
	}
	if !strings.Contains(f.out.String(), "t1") {
		t.Fatalf("expected standings, got %q", f.out.String())
	}

	f.exec(t, "signal red")
	if v, _ := f.service.signalValue.Load().(string); v != "red" {
		t.Fatalf("expected red to be set, got %q", v)
	}
	if err := f.repl.Execute(context.Background(), "signal amber"); err == nil {
		t.Fatalf("expected invalid signal error")
	}
}

func TestLogoutClosesQuestion(t *testing.T) {
	f := newFixture(t)
	f.exec(t, "login good")
	f.exec(t, "open q1")
	if f.hub.Subscribers() != 1 {
		t.Fatalf("expected one subscriber, got %d", f.hub.Subscribers())
	}
	f.exec(t, "logout")
	if f.hub.Subscribers() != 0 {
		t.Fatalf("subscription must be released on logout")
	}
	if !f.service.loggedOut.Load() {
		t.Fatalf("expected logout call")
	}
	if f.token.AccessToken != "" || f.repl.open() != nil {
		t.Fatalf("state not cleared")
	}
}
