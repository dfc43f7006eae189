package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/faucetdb/gatehouse/internal/model"
)

// run executes the command tree against a throwaway data directory.
func run(t *testing.T, dir string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd("1.2.3", "abc123", "2025-01-01")
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--data-dir", dir}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func mustRun(t *testing.T, dir string, args ...string) string {
	t.Helper()
	out, err := run(t, dir, args...)
	if err != nil {
		t.Fatalf("gatehouse %s: %v\n%s", strings.Join(args, " "), err, out)
	}
	return out
}

func TestAdminCreateAndList(t *testing.T) {
	dir := t.TempDir()

	out := mustRun(t, dir, "admin", "create", "--email", "Ada@Example.com", "--username", "ada", "--password", "a long enough password")
	if !strings.Contains(out, `Created admin "ada" <ada@example.com>`) {
		t.Errorf("create output = %q", out)
	}

	out = mustRun(t, dir, "admin", "list", "--json")
	var admins []model.PublicAdmin
	if err := json.Unmarshal([]byte(out), &admins); err != nil {
		t.Fatalf("decode list: %v\n%s", err, out)
	}
	if len(admins) != 1 || admins[0].Email != "ada@example.com" || !admins[0].IsActive {
		t.Errorf("admins = %+v", admins)
	}
	if strings.Contains(out, "argon2id") {
		t.Error("list leaks credential material")
	}

	out = mustRun(t, dir, "admin", "list")
	if !strings.Contains(out, "ada@example.com") || !strings.Contains(out, "never") {
		t.Errorf("table output = %q", out)
	}

	if _, err := run(t, dir, "admin", "create", "--email", "ada@example.com", "--username", "other", "--password", "a long enough password"); err == nil {
		t.Error("expected duplicate email to fail")
	}
}

func TestAdminCreateValidation(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name string
		args []string
	}{
		{"bad email", []string{"--email", "nope", "--username", "ada", "--password", "a long enough password"}},
		{"short password", []string{"--email", "ada@example.com", "--username", "ada", "--password", "short"}},
		{"missing username", []string{"--email", "ada@example.com", "--password", "a long enough password"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := run(t, dir, append([]string{"admin", "create"}, tt.args...)...); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestAdminIntervention(t *testing.T) {
	dir := t.TempDir()
	mustRun(t, dir, "admin", "create", "--email", "ada@example.com", "--username", "ada", "--password", "a long enough password")

	if out := mustRun(t, dir, "admin", "disable", "ada"); !strings.Contains(out, "disabled") {
		t.Errorf("disable output = %q", out)
	}
	out := mustRun(t, dir, "admin", "list", "--json")
	if !strings.Contains(out, `"isActive": false`) {
		t.Errorf("expected disabled admin: %s", out)
	}

	mustRun(t, dir, "admin", "enable", "ada@example.com")
	mustRun(t, dir, "admin", "unlock", "1")
	if out := mustRun(t, dir, "admin", "reset-password", "ada", "--password", "a brand new passphrase"); !strings.Contains(out, "Password updated") {
		t.Errorf("reset-password output = %q", out)
	}

	if _, err := run(t, dir, "admin", "disable", "nobody"); err == nil {
		t.Error("expected unknown admin to fail")
	}
	if _, err := run(t, dir, "admin", "reset-password", "ada", "--password", "short"); err == nil {
		t.Error("expected weak password to fail")
	}
}

func TestInviteCommands(t *testing.T) {
	dir := t.TempDir()

	out := mustRun(t, dir, "invite", "create", "--email", "grace@example.com", "--username", "grace")
	if !strings.Contains(out, "Invite 1 issued") || !strings.Contains(out, "/invite/accept?token=") {
		t.Errorf("create output = %q", out)
	}

	out = mustRun(t, dir, "invite", "list", "--json")
	var invites []model.AdminInvite
	if err := json.Unmarshal([]byte(out), &invites); err != nil {
		t.Fatalf("decode: %v\n%s", err, out)
	}
	if len(invites) != 1 || invites[0].Status != model.InviteStatusSent {
		t.Errorf("invites = %+v", invites)
	}

	mustRun(t, dir, "invite", "revoke", "1")
	out = mustRun(t, dir, "invite", "list")
	if !strings.Contains(out, "REVOKED") {
		t.Errorf("list output = %q", out)
	}

	if _, err := run(t, dir, "invite", "revoke", "1"); err == nil {
		t.Error("revoking twice must fail")
	}
	if _, err := run(t, dir, "invite", "revoke", "x"); err == nil {
		t.Error("expected invalid id to fail")
	}
}

func TestKeyGenerate(t *testing.T) {
	dir := t.TempDir()

	out := mustRun(t, dir, "key", "generate")
	if !strings.Contains(out, "GATEHOUSE_AUTH_SESSION_SECRET=") || !strings.Contains(out, "GATEHOUSE_AUTH_OPERATOR_KEY=") {
		t.Errorf("output = %q", out)
	}

	out = strings.TrimSpace(mustRun(t, dir, "key", "generate", "--kind", "operator"))
	if len(out) != 64 {
		t.Errorf("operator key length = %d, want 64", len(out))
	}

	if _, err := run(t, dir, "key", "generate", "--kind", "bogus"); err == nil {
		t.Error("expected unknown kind to fail")
	}
}

func TestConfigInitAndShow(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gatehouse.yaml")

	mustRun(t, dir, "config", "init", "-o", path)
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("config not written: %v", err)
	}
	if _, err := run(t, dir, "config", "init", "-o", path); err == nil {
		t.Error("expected refusal to overwrite")
	}
	mustRun(t, dir, "config", "init", "-o", path, "--force")

	t.Setenv("GATEHOUSE_AUTH_OPERATOR_KEY", "super-secret-operator-key")
	out := mustRun(t, dir, "--config", path, "config", "show")
	if !strings.Contains(out, path) {
		t.Errorf("show does not name the config file: %s", out)
	}
	if strings.Contains(out, "super-secret-operator-key") {
		t.Error("show leaks the operator key")
	}
	if !strings.Contains(out, "cookie_name: gatehouse_session") {
		t.Errorf("show output = %s", out)
	}

	// The generated file keeps the data-dir database default.
	mustRun(t, dir, "--config", path, "migrate")
	if _, err := os.Stat(filepath.Join(dir, "gatehouse.db")); err != nil {
		t.Errorf("database not created in data dir: %v", err)
	}
}

func TestInvalidConfigAborts(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("GATEHOUSE_ENV", "production")
	if _, err := run(t, dir, "migrate"); err == nil || !strings.Contains(err.Error(), "session_secret") {
		t.Errorf("expected session secret error, got %v", err)
	}
}

func TestMigrate(t *testing.T) {
	dir := t.TempDir()
	out := mustRun(t, dir, "migrate")
	if !strings.Contains(out, "up to date (sqlite)") {
		t.Errorf("output = %q", out)
	}
	if _, err := os.Stat(filepath.Join(dir, "gatehouse.db")); err != nil {
		t.Errorf("database not created in data dir: %v", err)
	}
}

func TestOpenAPICommand(t *testing.T) {
	dir := t.TempDir()
	out := mustRun(t, dir, "openapi", "--base-url", "https://admin.example.com")

	var doc map[string]interface{}
	if err := json.Unmarshal([]byte(out), &doc); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if doc["openapi"] != "3.0.3" {
		t.Errorf("openapi = %v", doc["openapi"])
	}
}

func TestVersionJSON(t *testing.T) {
	out := mustRun(t, t.TempDir(), "version", "--json")
	var info map[string]string
	if err := json.Unmarshal([]byte(out), &info); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if info["version"] != "1.2.3" || info["password_hash"] != "argon2id v2" {
		t.Errorf("info = %v", info)
	}
}
