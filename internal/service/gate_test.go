package service

import (
	"context"
	"testing"
	"time"

	"github.com/faucetdb/gatehouse/internal/session"
)

const testOperatorKey = "operator-key-for-tests"

func newTestGate(env *testEnv) (*Gate, *session.Manager) {
	sessions := session.NewManager("0123456789abcdef0123456789abcdef", 12*time.Hour, 30*24*time.Hour, session.WithClock(env.clock.Now))
	return NewGate(env.store, sessions, testOperatorKey, env.opts...), sessions
}

func TestGateSession(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice := env.createAdmin(t, "alice@example.com", "alice", alicePassword)
	gate, sessions := newTestGate(env)

	tok, _ := sessions.Issue(session.Subject{ID: alice.ID, Email: alice.Email, Username: alice.Username}, false)

	res, err := gate.Resolve(ctx, Credentials{SessionToken: tok.Value})
	if err != nil {
		t.Fatal(err)
	}
	p, ok := res.Principal.(AdminPrincipal)
	if !ok {
		t.Fatalf("principal = %#v, want AdminPrincipal", res.Principal)
	}
	if p.Admin.ID != alice.ID || p.Type() != "admin" || res.ClearSession {
		t.Errorf("unexpected resolution: %+v", res)
	}
}

func TestGateSessionPreferredOverKey(t *testing.T) {
	env := newTestEnv(t)
	alice := env.createAdmin(t, "alice@example.com", "alice", alicePassword)
	gate, sessions := newTestGate(env)
	tok, _ := sessions.Issue(session.Subject{ID: alice.ID, Email: alice.Email, Username: alice.Username}, false)

	res, _ := gate.Resolve(context.Background(), Credentials{SessionToken: tok.Value, OperatorKey: testOperatorKey})
	if _, ok := res.Principal.(AdminPrincipal); !ok {
		t.Errorf("principal = %#v, want AdminPrincipal", res.Principal)
	}
}

func TestGateExpiredSessionClearsAndFallsThrough(t *testing.T) {
	env := newTestEnv(t)
	alice := env.createAdmin(t, "alice@example.com", "alice", alicePassword)
	gate, sessions := newTestGate(env)
	tok, _ := sessions.Issue(session.Subject{ID: alice.ID, Email: alice.Email, Username: alice.Username}, false)
	env.clock.Advance(13 * time.Hour)

	res, _ := gate.Resolve(context.Background(), Credentials{SessionToken: tok.Value})
	if res.Principal != nil || !res.ClearSession {
		t.Errorf("expired only: %+v", res)
	}

	res, _ = gate.Resolve(context.Background(), Credentials{SessionToken: tok.Value, OperatorKey: testOperatorKey})
	if _, ok := res.Principal.(KeyPrincipal); !ok || !res.ClearSession {
		t.Errorf("expired + key: %+v", res)
	}
}

func TestGateInvalidSessionKeepsCookie(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice := env.createAdmin(t, "alice@example.com", "alice", alicePassword)
	gate, sessions := newTestGate(env)

	res, _ := gate.Resolve(ctx, Credentials{SessionToken: "garbage.token.value"})
	if res.Principal != nil || res.ClearSession {
		t.Errorf("invalid token: %+v", res)
	}

	tok, _ := sessions.Issue(session.Subject{ID: alice.ID, Email: alice.Email, Username: alice.Username}, false)
	env.store.SetAdminActive(ctx, alice.ID, false)
	res, _ = gate.Resolve(ctx, Credentials{SessionToken: tok.Value})
	if res.Principal != nil || res.ClearSession {
		t.Errorf("inactive admin: %+v", res)
	}

	ghost, _ := sessions.Issue(session.Subject{ID: 9999, Email: "ghost@example.com", Username: "ghost"}, false)
	res, _ = gate.Resolve(ctx, Credentials{SessionToken: ghost.Value, OperatorKey: testOperatorKey})
	if _, ok := res.Principal.(KeyPrincipal); !ok || res.ClearSession {
		t.Errorf("missing admin + key: %+v", res)
	}
}

func TestGateOperatorKey(t *testing.T) {
	env := newTestEnv(t)
	gate, sessions := newTestGate(env)
	ctx := context.Background()

	tests := []struct {
		name string
		key  string
		ok   bool
	}{
		{"exact", testOperatorKey, true},
		{"wrong", "operator-key-for-test", false},
		{"prefix", testOperatorKey + "x", false},
		{"empty", "", false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			res, err := gate.Resolve(ctx, Credentials{OperatorKey: tc.key})
			if err != nil {
				t.Fatal(err)
			}
			_, ok := res.Principal.(KeyPrincipal)
			if ok != tc.ok {
				t.Errorf("authorized = %v, want %v", ok, tc.ok)
			}
		})
	}

	disabled := NewGate(env.store, sessions, "", env.opts...)
	res, _ := disabled.Resolve(ctx, Credentials{OperatorKey: ""})
	if res.Principal != nil {
		t.Error("empty configured key must never authorize")
	}
	if (KeyPrincipal{}).Type() != "key" {
		t.Error("key principal type")
	}
}
