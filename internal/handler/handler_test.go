package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/faucetdb/gatehouse/internal/config"
	"github.com/faucetdb/gatehouse/internal/mail"
	"github.com/faucetdb/gatehouse/internal/model"
	"github.com/faucetdb/gatehouse/internal/password"
	"github.com/faucetdb/gatehouse/internal/server/middleware"
	"github.com/faucetdb/gatehouse/internal/service"
	"github.com/faucetdb/gatehouse/internal/session"
)

const (
	testSecret      = "handler-test-secret-0123456789abcdef"
	testOperatorKey = "operator-key-for-handler-tests"
	testPassword    = "correct horse battery"
	cookieName      = "gatehouse_session"
)

type recordingMailer struct {
	mu   sync.Mutex
	sent []mail.Message
}

func (m *recordingMailer) Send(_ context.Context, msg mail.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, msg)
	return nil
}

func (m *recordingMailer) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

// testEnv holds shared state for handler integration tests.
type testEnv struct {
	store    *config.Store
	hasher   *password.Hasher
	sessions *session.Manager
	mailer   *recordingMailer
	resets   *service.PasswordResets
	router   chi.Router
}

// newTestEnv creates a fresh test environment with an in-memory store and a
// Chi router with the auth and users routes mounted. The users routes sit
// behind RequireAdmin.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	store, err := config.NewStore(config.DialectSQLite, "")
	if err != nil {
		t.Fatalf("config.NewStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	hasher := password.NewHasher(password.Params{Memory: 1024, Iterations: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32}, 4)
	sessions := session.NewManager(testSecret, time.Hour, 24*time.Hour)
	mailer := &recordingMailer{}
	notifier := service.NewNotifier(mailer, mail.NewComposer("http://localhost:8080"))
	opts := []service.Option{service.WithLogger(logger)}

	invites := service.NewInvites(store, hasher, notifier, 72*time.Hour, opts...)
	resets := service.NewPasswordResets(store, hasher, notifier, time.Hour, opts...)
	auth := service.NewAuthenticator(store, hasher, opts...)
	gate := service.NewGate(store, sessions, testOperatorKey, opts...)
	cookie := session.Cookie{Name: cookieName}

	authHandler := NewAuthHandler(auth, resets, invites, sessions, cookie, true, logger)
	usersHandler := NewUsersHandler(store, invites, true, logger)

	r := chi.NewRouter()
	r.Route("/auth", func(r chi.Router) {
		r.Post("/login", authHandler.Login)
		r.Post("/logout", authHandler.Logout)
		r.Post("/password-reset/request", authHandler.RequestPasswordReset)
		r.Post("/password-reset/confirm", authHandler.ConfirmPasswordReset)
		r.Post("/invite/preview", authHandler.PreviewInvite)
		r.Post("/invite/accept", authHandler.AcceptInvite)
		r.With(middleware.RequireAdmin(gate, cookie, logger)).Get("/me", authHandler.Me)
	})
	r.Route("/admin/users", func(r chi.Router) {
		r.Use(middleware.RequireAdmin(gate, cookie, logger))
		r.Get("/", usersHandler.List)
		r.Post("/invite", usersHandler.Invite)
		r.Post("/invites/{id}/resend", usersHandler.ResendInvite)
		r.Delete("/invites/{id}", usersHandler.RevokeInvite)
		r.Patch("/{id}", usersHandler.UpdateAdmin)
	})

	return &testEnv{
		store:    store,
		hasher:   hasher,
		sessions: sessions,
		mailer:   mailer,
		resets:   resets,
		router:   r,
	}
}

// seedAdmin creates an active admin with testPassword and returns it.
func (e *testEnv) seedAdmin(t *testing.T, email, username string) *model.AdminUser {
	t.Helper()
	cred, err := e.hasher.Hash(context.Background(), testPassword, true)
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	admin := &model.AdminUser{
		Email:             email,
		Username:          username,
		PasswordHash:      cred.Hash,
		PasswordAlgorithm: cred.Algorithm,
		PasswordVersion:   cred.Version,
		IsActive:          true,
	}
	if err := e.store.CreateAdmin(context.Background(), admin); err != nil {
		t.Fatalf("seedAdmin: %v", err)
	}
	return admin
}

// sessionCookie issues a session for admin.
func (e *testEnv) sessionCookie(t *testing.T, admin *model.AdminUser) *http.Cookie {
	t.Helper()
	tok, err := e.sessions.Issue(session.Subject{ID: admin.ID, Email: admin.Email, Username: admin.Username}, false)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	return &http.Cookie{Name: cookieName, Value: tok.Value}
}

// do executes an HTTP request against the test router and returns the recorder.
func (e *testEnv) do(t *testing.T, method, path string, body io.Reader, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rr := httptest.NewRecorder()
	e.router.ServeHTTP(rr, req)
	return rr
}

// doKey executes a request authorized by the operator key.
func (e *testEnv) doKey(t *testing.T, method, path string, body io.Reader) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("X-Admin-Key", testOperatorKey)
	rr := httptest.NewRecorder()
	e.router.ServeHTTP(rr, req)
	return rr
}

func toJSON(t *testing.T, v interface{}) *bytes.Buffer {
	t.Helper()
	buf := &bytes.Buffer{}
	if err := json.NewEncoder(buf).Encode(v); err != nil {
		t.Fatalf("toJSON: %v", err)
	}
	return buf
}

func assertStatus(t *testing.T, rr *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rr.Code != want {
		t.Errorf("status = %d, want %d; body = %s", rr.Code, want, rr.Body.String())
	}
}

func decodeJSON(t *testing.T, rr *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(rr.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v; body = %s", err, rr.Body.String())
	}
}

// errorReason extracts context.reason from an error envelope.
func errorReason(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var resp model.ErrorResponse
	decodeJSON(t, rr, &resp)
	reason, _ := resp.Error.Context["reason"].(string)
	return reason
}

func findCookie(rr *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range rr.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}
