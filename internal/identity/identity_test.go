package identity

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestSanitizeSessionID(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"valid simple", "session-123", "session-123"},
		{"valid with dots and colons", "user.42:run_1", "user.42:run_1"},
		{"trims whitespace", "  abc-123  ", "abc-123"},
		{"empty", "", ""},
		{"whitespace only", "   ", ""},
		{"rejects slash", "a/b", ""},
		{"rejects space inside", "a b", ""},
		{"rejects too long", strings.Repeat("x", 129), ""},
		{"max length ok", strings.Repeat("x", 128), strings.Repeat("x", 128)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SanitizeSessionID(tt.input); got != tt.want {
				t.Errorf("SanitizeSessionID(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestMiddleware_IssuesAnonCookie(t *testing.T) {
	var gotRespondent string
	handler := Middleware(true)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotRespondent = RespondentIDFromContext(r.Context())
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/survey-data", nil))

	if !isValidAnonID(gotRespondent) {
		t.Errorf("Expected a generated anonymous ID, got %q", gotRespondent)
	}

	var cookie *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == AnonCookieName {
			cookie = c
		}
	}
	if cookie == nil {
		t.Fatal("Expected anonymous ID cookie to be set")
	}
	if cookie.Value != gotRespondent {
		t.Errorf("Expected cookie value %q, got %q", gotRespondent, cookie.Value)
	}
	if !cookie.HttpOnly {
		t.Error("Expected cookie to be HttpOnly")
	}
	if cookie.Secure {
		t.Error("Expected non-secure cookie in development mode")
	}
}

func TestMiddleware_ReusesValidCookie(t *testing.T) {
	existing := "anon_" + strings.Repeat("ab", 16)

	var gotRespondent string
	handler := Middleware(true)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotRespondent = RespondentIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/survey-data", nil)
	req.AddCookie(&http.Cookie{Name: AnonCookieName, Value: existing})
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if gotRespondent != existing {
		t.Errorf("Expected existing respondent ID %q, got %q", existing, gotRespondent)
	}
}

func TestMiddleware_ReplacesMalformedCookie(t *testing.T) {
	var gotRespondent string
	handler := Middleware(true)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotRespondent = RespondentIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/survey-data", nil)
	req.AddCookie(&http.Cookie{Name: AnonCookieName, Value: "not-an-anon-id"})
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if gotRespondent == "not-an-anon-id" {
		t.Error("Expected malformed cookie to be replaced")
	}
	if !isValidAnonID(gotRespondent) {
		t.Errorf("Expected freshly generated ID, got %q", gotRespondent)
	}
}

func TestMiddleware_SessionIDFromHeader(t *testing.T) {
	var gotSession string
	handler := Middleware(true)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSession = SessionIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/survey-data", nil)
	req.Header.Set(SessionHeaderName, "my-session-1")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if gotSession != "my-session-1" {
		t.Errorf("Expected session ID from header, got %q", gotSession)
	}
}

func TestMiddleware_SessionIDFallsBackToRespondent(t *testing.T) {
	var gotSession, gotRespondent string
	handler := Middleware(true)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSession = SessionIDFromContext(r.Context())
		gotRespondent = RespondentIDFromContext(r.Context())
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/survey-data", nil))

	if gotSession != gotRespondent {
		t.Errorf("Expected session ID to fall back to respondent ID %q, got %q", gotRespondent, gotSession)
	}
}

func TestIPFromRequest(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.7:54321"
	if got := IPFromRequest(req); got != "192.0.2.7" {
		t.Errorf("Expected 192.0.2.7, got %s", got)
	}

	req.RemoteAddr = "192.0.2.8"
	if got := IPFromRequest(req); got != "192.0.2.8" {
		t.Errorf("Expected bare address passthrough, got %s", got)
	}
}
