package openapi

import (
	"net/http"
	"strconv"

	"github.com/getkin/kin-openapi/openapi3"
)

// Security scheme names.
const (
	SchemeSession     = "sessionCookie"
	SchemeOperatorKey = "operatorKey"
	SchemeBearer      = "bearerKey"
)

// Options parameterize the generated document.
type Options struct {
	BaseURL    string
	Version    string
	CookieName string
}

// Generate builds the OpenAPI document describing the gatehouse HTTP API.
func Generate(opts Options) *openapi3.T {
	if opts.Version == "" {
		opts.Version = "dev"
	}
	if opts.CookieName == "" {
		opts.CookieName = "gatehouse_session"
	}

	doc := &openapi3.T{
		OpenAPI: "3.0.3",
		Info: &openapi3.Info{
			Title:       "Gatehouse Admin API",
			Description: "Admin identity and access control: sessions, password resets, invites and account management.",
			Version:     opts.Version,
		},
	}
	if opts.BaseURL != "" {
		doc.Servers = openapi3.Servers{{URL: opts.BaseURL}}
	}

	components := openapi3.NewComponents()
	components.Schemas = openapi3.Schemas{}
	components.SecuritySchemes = openapi3.SecuritySchemes{
		SchemeSession: &openapi3.SecuritySchemeRef{Value: &openapi3.SecurityScheme{
			Type: "apiKey", In: "cookie", Name: opts.CookieName,
			Description: "Signed session token set by login, reset confirmation or invite acceptance.",
		}},
		SchemeOperatorKey: &openapi3.SecuritySchemeRef{Value: &openapi3.SecurityScheme{
			Type: "apiKey", In: "header", Name: "X-Admin-Key",
			Description: "Static operator key for automation.",
		}},
		SchemeBearer: &openapi3.SecuritySchemeRef{Value: &openapi3.SecurityScheme{
			Type: "http", Scheme: "bearer",
			Description: "The operator key presented as a bearer token.",
		}},
	}
	doc.Components = &components

	s := newSchemas()
	for name, ref := range s.all() {
		doc.Components.Schemas[name] = &openapi3.SchemaRef{Value: ref.Value}
	}

	doc.Paths = openapi3.NewPaths()
	for _, ep := range endpoints(s) {
		addEndpoint(doc, s, ep)
	}
	return doc
}

// schemas holds the shared component schemas as resolved references.
type schemas struct {
	errorResponse *openapi3.SchemaRef
	admin         *openapi3.SchemaRef
	invite        *openapi3.SchemaRef
}

func newSchemas() schemas {
	errorDetail := openapi3.NewObjectSchema().
		WithProperty("code", openapi3.NewInt32Schema()).
		WithProperty("message", openapi3.NewStringSchema()).
		WithProperty("context", openapi3.NewObjectSchema().WithAnyAdditionalProperties())
	errorResponse := openapi3.NewObjectSchema().WithProperty("error", errorDetail)

	admin := openapi3.NewObjectSchema().
		WithProperty("id", openapi3.NewInt64Schema()).
		WithProperty("email", openapi3.NewStringSchema().WithFormat("email")).
		WithProperty("username", openapi3.NewStringSchema()).
		WithProperty("isActive", openapi3.NewBoolSchema()).
		WithProperty("lastLoginAt", openapi3.NewDateTimeSchema()).
		WithProperty("createdAt", openapi3.NewDateTimeSchema()).
		WithProperty("updatedAt", openapi3.NewDateTimeSchema())

	invite := openapi3.NewObjectSchema().
		WithProperty("id", openapi3.NewInt64Schema()).
		WithProperty("email", openapi3.NewStringSchema().WithFormat("email")).
		WithProperty("username", openapi3.NewStringSchema()).
		WithProperty("status", openapi3.NewStringSchema().WithEnum("PENDING", "SENT", "ACCEPTED", "EXPIRED", "REVOKED")).
		WithProperty("expiresAt", openapi3.NewDateTimeSchema()).
		WithProperty("lastSentAt", openapi3.NewDateTimeSchema()).
		WithProperty("acceptedAt", openapi3.NewDateTimeSchema()).
		WithProperty("revokedAt", openapi3.NewDateTimeSchema()).
		WithProperty("invitedByAdminId", openapi3.NewInt64Schema()).
		WithProperty("createdAt", openapi3.NewDateTimeSchema()).
		WithProperty("updatedAt", openapi3.NewDateTimeSchema())

	return schemas{
		errorResponse: openapi3.NewSchemaRef("#/components/schemas/ErrorResponse", errorResponse),
		admin:         openapi3.NewSchemaRef("#/components/schemas/AdminUser", admin),
		invite:        openapi3.NewSchemaRef("#/components/schemas/AdminInvite", invite),
	}
}

func (s schemas) all() map[string]*openapi3.SchemaRef {
	return map[string]*openapi3.SchemaRef{
		"ErrorResponse": s.errorResponse,
		"AdminUser":     s.admin,
		"AdminInvite":   s.invite,
	}
}

// endpoint describes one operation.
type endpoint struct {
	method      string
	path        string
	id          string
	tag         string
	summary     string
	public      bool
	pathID      bool
	request     *openapi3.Schema
	status      int
	response    *openapi3.SchemaRef
	errorStatus []int
}

func endpoints(s schemas) []endpoint {
	str := openapi3.NewStringSchema
	obj := openapi3.NewObjectSchema

	inviteResult := obj().
		WithPropertyRef("invite", s.invite).
		WithProperty("debugToken", str()).
		WithProperty("expiresAt", openapi3.NewDateTimeSchema())

	return []endpoint{
		{
			method: http.MethodPost, path: "/auth/login", id: "login", tag: "auth", public: true,
			summary: "Sign in with email or username and password",
			request: withRequired(obj().
				WithProperty("identifier", str()).
				WithProperty("password", str().WithFormat("password")).
				WithProperty("remember", openapi3.NewBoolSchema()), "identifier", "password"),
			status: http.StatusOK,
			response: openapi3.NewSchemaRef("", obj().
				WithPropertyRef("admin", s.admin).
				WithProperty("needsPasswordUpgrade", openapi3.NewBoolSchema())),
			errorStatus: []int{400, 401, 429},
		},
		{
			method: http.MethodPost, path: "/auth/logout", id: "logout", tag: "auth", public: true,
			summary:  "Clear the session cookie",
			status:   http.StatusOK,
			response: openapi3.NewSchemaRef("", obj().WithProperty("success", openapi3.NewBoolSchema()).WithProperty("message", str())),
		},
		{
			method: http.MethodPost, path: "/auth/password-reset/request", id: "requestPasswordReset", tag: "auth", public: true,
			summary: "Request a password reset link",
			request: withRequired(obj().WithProperty("email", str().WithFormat("email")), "email"),
			status:  http.StatusOK,
			response: openapi3.NewSchemaRef("", obj().
				WithProperty("message", str()).
				WithProperty("debugToken", str()).
				WithProperty("expiresAt", openapi3.NewDateTimeSchema())),
			errorStatus: []int{400, 429},
		},
		{
			method: http.MethodPost, path: "/auth/password-reset/confirm", id: "confirmPasswordReset", tag: "auth", public: true,
			summary: "Set a new password with a reset token",
			request: withRequired(obj().
				WithProperty("token", str()).
				WithProperty("password", str().WithFormat("password")), "token", "password"),
			status:      http.StatusOK,
			response:    openapi3.NewSchemaRef("", obj().WithPropertyRef("admin", s.admin)),
			errorStatus: []int{400, 410, 422, 429},
		},
		{
			method: http.MethodPost, path: "/auth/invite/preview", id: "previewInvite", tag: "auth", public: true,
			summary: "Show an invite before accepting it",
			request: withRequired(obj().WithProperty("token", str()), "token"),
			status:  http.StatusOK,
			response: openapi3.NewSchemaRef("", obj().
				WithPropertyRef("invite", s.invite).
				WithProperty("canAccept", openapi3.NewBoolSchema()).
				WithProperty("reason", str())),
			errorStatus: []int{400, 404, 429},
		},
		{
			method: http.MethodPost, path: "/auth/invite/accept", id: "acceptInvite", tag: "auth", public: true,
			summary: "Accept an invite and create the admin account",
			request: withRequired(obj().
				WithProperty("token", str()).
				WithProperty("password", str().WithFormat("password")), "token", "password"),
			status: http.StatusCreated,
			response: openapi3.NewSchemaRef("", obj().
				WithPropertyRef("admin", s.admin).
				WithPropertyRef("invite", s.invite)),
			errorStatus: []int{400, 404, 409, 410, 422, 429},
		},
		{
			method: http.MethodGet, path: "/auth/me", id: "me", tag: "auth",
			summary: "Describe the authenticated caller",
			status:  http.StatusOK,
			response: openapi3.NewSchemaRef("", obj().
				WithProperty("type", str().WithEnum("admin", "key")).
				WithPropertyRef("admin", s.admin)),
			errorStatus: []int{401},
		},
		{
			method: http.MethodGet, path: "/admin/users", id: "listUsers", tag: "users",
			summary: "List admins and invites",
			status:  http.StatusOK,
			response: openapi3.NewSchemaRef("", obj().
				WithProperty("admins", openapi3.NewArraySchema().WithItems(s.admin.Value)).
				WithProperty("invites", openapi3.NewArraySchema().WithItems(s.invite.Value))),
			errorStatus: []int{401},
		},
		{
			method: http.MethodPost, path: "/admin/users/invite", id: "inviteUser", tag: "users",
			summary: "Invite a new admin, or re-issue an open invite",
			request: withRequired(obj().
				WithProperty("email", str().WithFormat("email")).
				WithProperty("username", str()), "email", "username"),
			status:      http.StatusCreated,
			response:    openapi3.NewSchemaRef("", inviteResult),
			errorStatus: []int{400, 401, 409},
		},
		{
			method: http.MethodPost, path: "/admin/users/invites/{id}/resend", id: "resendInvite", tag: "users", pathID: true,
			summary:     "Rotate an invite token and send it again",
			status:      http.StatusOK,
			response:    openapi3.NewSchemaRef("", inviteResult),
			errorStatus: []int{400, 401, 404, 409},
		},
		{
			method: http.MethodDelete, path: "/admin/users/invites/{id}", id: "revokeInvite", tag: "users", pathID: true,
			summary:     "Revoke an invite",
			status:      http.StatusNoContent,
			errorStatus: []int{400, 401, 404, 409},
		},
		{
			method: http.MethodPatch, path: "/admin/users/{id}", id: "updateUser", tag: "users", pathID: true,
			summary:     "Enable or disable an admin",
			request:     withRequired(obj().WithProperty("isActive", openapi3.NewBoolSchema()), "isActive"),
			status:      http.StatusOK,
			response:    openapi3.NewSchemaRef("", obj().WithPropertyRef("admin", s.admin)),
			errorStatus: []int{400, 401, 404},
		},
	}
}

func withRequired(s *openapi3.Schema, fields ...string) *openapi3.Schema {
	s.Required = fields
	return s
}

func addEndpoint(doc *openapi3.T, s schemas, ep endpoint) {
	op := &openapi3.Operation{
		Tags:        []string{ep.tag},
		Summary:     ep.summary,
		OperationID: ep.id,
		Responses:   newResponses(ep.status, ep.response, s.errorResponse, ep.errorStatus),
	}
	if ep.public {
		op.Security = &openapi3.SecurityRequirements{}
	} else {
		op.Security = &openapi3.SecurityRequirements{
			{SchemeSession: {}},
			{SchemeOperatorKey: {}},
			{SchemeBearer: {}},
		}
	}
	if ep.pathID {
		op.Parameters = openapi3.Parameters{
			{Value: openapi3.NewPathParameter("id").WithSchema(openapi3.NewInt64Schema())},
		}
	}
	if ep.request != nil {
		op.RequestBody = &openapi3.RequestBodyRef{Value: openapi3.NewRequestBody().
			WithRequired(true).
			WithJSONSchema(ep.request)}
	}

	item := doc.Paths.Value(ep.path)
	if item == nil {
		item = &openapi3.PathItem{}
		doc.Paths.Set(ep.path, item)
	}
	item.SetOperation(ep.method, op)
}

var errorDescriptions = map[int]string{
	400: "Malformed or invalid request",
	401: "Not authenticated, or credentials rejected",
	404: "Not found",
	409: "Conflicts with current state",
	410: "Token is no longer usable",
	422: "Password does not meet the policy",
	429: "Too many requests",
}

// newResponses builds a Responses map with a success response, the listed
// error responses and a 500.
func newResponses(status int, schema, errorRef *openapi3.SchemaRef, errorStatus []int) *openapi3.Responses {
	responses := openapi3.NewResponses()

	success := http.StatusText(status)
	resp := &openapi3.Response{Description: &success}
	if schema != nil {
		resp.Content = openapi3.NewContentWithJSONSchemaRef(schema)
	}
	responses.Set(strconv.Itoa(status), &openapi3.ResponseRef{Value: resp})

	codes := append(append([]int{}, errorStatus...), http.StatusInternalServerError)
	for _, code := range codes {
		desc, ok := errorDescriptions[code]
		if !ok {
			desc = http.StatusText(code)
		}
		responses.Set(strconv.Itoa(code), &openapi3.ResponseRef{Value: &openapi3.Response{
			Description: &desc,
			Content:     openapi3.NewContentWithJSONSchemaRef(errorRef),
		}})
	}
	return responses
}
