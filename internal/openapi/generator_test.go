package openapi

import (
	"encoding/json"
	"net/http"
	"testing"
)

func TestGenerate_Info(t *testing.T) {
	doc := Generate(Options{BaseURL: "http://localhost:8080", Version: "1.2.3"})

	if doc.OpenAPI != "3.0.3" {
		t.Errorf("OpenAPI version = %q, want %q", doc.OpenAPI, "3.0.3")
	}
	if doc.Info == nil || doc.Info.Version != "1.2.3" {
		t.Fatalf("Info = %+v", doc.Info)
	}
	if len(doc.Servers) != 1 || doc.Servers[0].URL != "http://localhost:8080" {
		t.Errorf("Servers not set correctly")
	}

	if doc := Generate(Options{}); doc.Servers != nil || doc.Info.Version != "dev" {
		t.Errorf("defaults not applied: servers=%v version=%q", doc.Servers, doc.Info.Version)
	}
}

func TestGenerate_SecuritySchemes(t *testing.T) {
	doc := Generate(Options{CookieName: "sid"})

	cookie, ok := doc.Components.SecuritySchemes[SchemeSession]
	if !ok {
		t.Fatal("session scheme not found")
	}
	if cookie.Value.In != "cookie" || cookie.Value.Name != "sid" {
		t.Errorf("session scheme = %+v", cookie.Value)
	}

	key, ok := doc.Components.SecuritySchemes[SchemeOperatorKey]
	if !ok {
		t.Fatal("operator key scheme not found")
	}
	if key.Value.In != "header" || key.Value.Name != "X-Admin-Key" {
		t.Errorf("operator key scheme = %+v", key.Value)
	}

	bearer, ok := doc.Components.SecuritySchemes[SchemeBearer]
	if !ok || bearer.Value.Scheme != "bearer" {
		t.Errorf("bearer scheme = %+v", bearer)
	}
}

func TestGenerate_Paths(t *testing.T) {
	doc := Generate(Options{})

	tests := []struct {
		path   string
		method string
		public bool
		status string
	}{
		{"/auth/login", http.MethodPost, true, "200"},
		{"/auth/logout", http.MethodPost, true, "200"},
		{"/auth/password-reset/request", http.MethodPost, true, "200"},
		{"/auth/password-reset/confirm", http.MethodPost, true, "200"},
		{"/auth/invite/preview", http.MethodPost, true, "200"},
		{"/auth/invite/accept", http.MethodPost, true, "201"},
		{"/auth/me", http.MethodGet, false, "200"},
		{"/admin/users", http.MethodGet, false, "200"},
		{"/admin/users/invite", http.MethodPost, false, "201"},
		{"/admin/users/invites/{id}/resend", http.MethodPost, false, "200"},
		{"/admin/users/invites/{id}", http.MethodDelete, false, "204"},
		{"/admin/users/{id}", http.MethodPatch, false, "200"},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			item := doc.Paths.Value(tt.path)
			if item == nil {
				t.Fatalf("path %s missing", tt.path)
			}
			op := item.GetOperation(tt.method)
			if op == nil {
				t.Fatalf("%s %s missing", tt.method, tt.path)
			}
			if op.Responses.Value(tt.status) == nil {
				t.Errorf("missing %s response", tt.status)
			}
			if op.Responses.Value("500") == nil {
				t.Error("missing 500 response")
			}
			if op.Security == nil {
				t.Fatal("security not set")
			}
			if tt.public && len(*op.Security) != 0 {
				t.Errorf("public endpoint requires security: %v", *op.Security)
			}
			if !tt.public && len(*op.Security) != 3 {
				t.Errorf("gated endpoint security = %v", *op.Security)
			}
		})
	}
}

func TestGenerate_ConfirmResetDocumentsPolicyViolation(t *testing.T) {
	doc := Generate(Options{})
	op := doc.Paths.Value("/auth/password-reset/confirm").Post
	for _, code := range []string{"410", "422"} {
		if op.Responses.Value(code) == nil {
			t.Errorf("missing %s response", code)
		}
	}
}

func TestGenerate_AdminSchemaHasNoCredential(t *testing.T) {
	doc := Generate(Options{})
	admin := doc.Components.Schemas["AdminUser"]
	if admin == nil || admin.Value == nil {
		t.Fatal("AdminUser schema missing")
	}
	for _, field := range []string{"passwordHash", "passwordAlgorithm", "failedLoginAttempts"} {
		if _, ok := admin.Value.Properties[field]; ok {
			t.Errorf("AdminUser exposes %s", field)
		}
	}
}

func TestGenerate_MarshalsJSON(t *testing.T) {
	doc := Generate(Options{Version: "1.0.0"})
	data, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded map[string]interface{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	paths, _ := decoded["paths"].(map[string]interface{})
	if len(paths) != 12 {
		t.Errorf("paths = %d, want 12", len(paths))
	}
}
