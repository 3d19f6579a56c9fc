package server

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/dukerupert/debrief/internal/blob"
	"github.com/dukerupert/debrief/internal/config"
	"github.com/dukerupert/debrief/internal/database"
	"github.com/dukerupert/debrief/internal/jobs"
	"github.com/dukerupert/debrief/internal/middleware"
	"github.com/dukerupert/debrief/internal/pipeline"
	"github.com/dukerupert/debrief/internal/push"
	"github.com/dukerupert/debrief/internal/relay"
	"github.com/dukerupert/debrief/internal/store"
	ws "github.com/dukerupert/debrief/internal/websocket"
)

type stubTranscriber struct{}

func (stubTranscriber) Transcribe(context.Context, string, []byte) (string, error) {
	return "hello", nil
}

type stubRelay struct{}

func (stubRelay) Send(context.Context, relay.Payload) error { return relay.ErrUnreachable }

type stubNotifier struct{}

func (stubNotifier) NotifyCompletion(context.Context, int64) (int, error) { return 0, nil }

type stubJobs struct{}

func (stubJobs) Register(string, jobs.Handler) {}
func (stubJobs) Enqueue(string, int64) error   { return nil }

type testServer struct {
	handler  http.Handler
	srv      *Server
	debriefs *store.DebriefStore
}

func setupServer(t *testing.T) *testServer {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	identity, err := store.NewIdentityStore(db).Create("ivor@example.com")
	if err != nil {
		t.Fatalf("create identity: %v", err)
	}
	if _, err := store.NewUserStore(db).Create(identity.ID, "Ivor"); err != nil {
		t.Fatalf("create user: %v", err)
	}

	cfg, err := config.LoadFrom(map[string]string{
		"DEBRIEF_SESSION_SECRET": strings.Repeat("s", 32),
		"DEBRIEF_BASE_URL":       "http://localhost:8080",
	})
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	disk, err := blob.NewDisk(t.TempDir())
	if err != nil {
		t.Fatalf("new disk: %v", err)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	hub := ws.NewHub(logger)
	debriefs := store.NewDebriefStore(db)
	pipe := pipeline.New(pipeline.Deps{
		Debriefs:    debriefs,
		Blobs:       disk,
		Transcriber: stubTranscriber{},
		Relay:       stubRelay{},
		Notifier:    stubNotifier{},
		Jobs:        stubJobs{},
		Live:        hub,
		Logger:      logger,
	})

	srv, err := New(Deps{
		DB:       db,
		Config:   cfg,
		Blobs:    disk,
		Pipeline: pipe,
		Hub:      hub,
		Push:     push.NewService(push.Config{VAPIDPublicKey: "pub", VAPIDPrivateKey: "priv"}),
		Logger:   logger,
	})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	return &testServer{handler: srv.Router(), srv: srv, debriefs: debriefs}
}

func (ts *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func TestHealthIsPublic(t *testing.T) {
	ts := setupServer(t)
	rec := ts.do(httptest.NewRequest("GET", "/health", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestProtectedRoutesRedirectToLogin(t *testing.T) {
	ts := setupServer(t)
	for _, tc := range []struct{ method, path string }{
		{"GET", "/debriefs"},
		{"POST", "/debriefs/1/resend"},
		{"POST", "/push/subscribe"},
		{"GET", "/ws"},
	} {
		rec := ts.do(httptest.NewRequest(tc.method, tc.path, nil))
		if rec.Code != http.StatusSeeOther || rec.Header().Get("Location") != "/login" {
			t.Errorf("%s %s = %d %q, want 303 /login", tc.method, tc.path, rec.Code, rec.Header().Get("Location"))
		}
	}
}

func TestInternalRoutesRequireLocalPeer(t *testing.T) {
	ts := setupServer(t)

	for _, path := range []string{"/api/unnotified", "/metrics"} {
		req := httptest.NewRequest("GET", path, nil)
		req.RemoteAddr = "203.0.113.10:5000"
		req.Header.Set("X-Forwarded-For", "127.0.0.1")
		if rec := ts.do(req); rec.Code != http.StatusForbidden {
			t.Errorf("public %s = %d, want %d", path, rec.Code, http.StatusForbidden)
		}

		req = httptest.NewRequest("GET", path, nil)
		req.RemoteAddr = "172.18.0.1:5000"
		if rec := ts.do(req); rec.Code != http.StatusOK {
			t.Errorf("docker %s = %d, want %d", path, rec.Code, http.StatusOK)
		}
	}
}

func TestInternalRoutesBehindProxy(t *testing.T) {
	ts := setupServer(t)

	tests := []struct {
		name string
		xff  string
		want int
	}{
		{"public client", "203.0.113.7", http.StatusForbidden},
		{"spoofed local prefix", "127.0.0.1, 203.0.113.7", http.StatusForbidden},
		{"local client", "127.0.0.1", http.StatusOK},
		{"no header", "", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/api/unnotified", nil)
			req.RemoteAddr = "172.18.0.5:41234"
			if tt.xff != "" {
				req.Header.Set("X-Forwarded-For", tt.xff)
			}
			if rec := ts.do(req); rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestAckThroughRouter(t *testing.T) {
	ts := setupServer(t)
	req := httptest.NewRequest("POST", "/api/notifications/42/ack", nil)
	req.RemoteAddr = "127.0.0.1:5000"
	if rec := ts.do(req); rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestLoginFlowGrantsAccess(t *testing.T) {
	ts := setupServer(t)

	form := url.Values{"email": {"ivor@example.com"}}
	req := httptest.NewRequest("POST", "/login", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := ts.do(req)
	if rec.Code != http.StatusSeeOther {
		t.Fatalf("login = %d, want %d", rec.Code, http.StatusSeeOther)
	}
	loc, _ := url.Parse(rec.Header().Get("Location"))

	verify := url.Values{"email": {loc.Query().Get("email")}, "code": {loc.Query().Get("code")}}
	req = httptest.NewRequest("POST", "/login/verify", strings.NewReader(verify.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec = ts.do(req)
	if rec.Code != http.StatusSeeOther {
		t.Fatalf("verify = %d, want %d: %s", rec.Code, http.StatusSeeOther, rec.Body.String())
	}

	var cookie *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == middleware.SessionCookieName {
			cookie = c
		}
	}
	if cookie == nil {
		t.Fatal("no session cookie")
	}

	req = httptest.NewRequest("GET", "/debriefs", nil)
	req.AddCookie(cookie)
	rec = ts.do(req)
	if rec.Code != http.StatusOK {
		t.Errorf("GET /debriefs = %d, want %d", rec.Code, http.StatusOK)
	}
	if strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Errorf("body = %q, want []", rec.Body.String())
	}
}

func TestLoginIsRateLimited(t *testing.T) {
	ts := setupServer(t)

	var last int
	for i := 0; i < loginRateLimit+1; i++ {
		req := httptest.NewRequest("POST", "/login", strings.NewReader("email=nobody%40example.com"))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		last = ts.do(req).Code
	}
	if last != http.StatusTooManyRequests {
		t.Errorf("status = %d, want %d", last, http.StatusTooManyRequests)
	}
}

func TestLoginRateLimitIgnoresClientForwardedFor(t *testing.T) {
	ts := setupServer(t)

	var last int
	for i := 0; i < loginRateLimit+1; i++ {
		req := httptest.NewRequest("POST", "/login", strings.NewReader("email=nobody%40example.com"))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.RemoteAddr = "198.51.100.4:6000"
		req.Header.Set("X-Forwarded-For", fmt.Sprintf("10.9.0.%d", i+1))
		last = ts.do(req).Code
	}
	if last != http.StatusTooManyRequests {
		t.Errorf("status = %d, want %d", last, http.StatusTooManyRequests)
	}
}

func TestVAPIDKeyIsPublic(t *testing.T) {
	ts := setupServer(t)
	rec := ts.do(httptest.NewRequest("GET", "/push/vapid_public_key", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"pub"`) {
		t.Errorf("got %d %s", rec.Code, rec.Body.String())
	}
}
