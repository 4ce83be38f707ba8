package app

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/tidwall/gjson"

	"breeditor/api/internal/auth"
)

func cookieNamed(rr *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, cookie := range rr.Result().Cookies() {
		if cookie.Name == name {
			return cookie
		}
	}
	return nil
}

func TestCurrentUserAnonymous(t *testing.T) {
	env := newTestEnv(t)
	rr := env.do(t, http.MethodGet, "/auth/user", "", nil)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rr.Code)
	}
	if got := gjson.Get(rr.Body.String(), "message").String(); got != "Not logged in" {
		t.Fatalf("unexpected message %q", got)
	}
}

func TestDevLoginCookieRoundTrip(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, http.MethodPost, "/auth/dev-login", `{"name":"Sam","email":"Sam@Example.com"}`, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	if got := gjson.Get(rr.Body.String(), "id").String(); got != "dev-sam@example.com" {
		t.Fatalf("unexpected user id %q", got)
	}
	cookie := cookieNamed(rr, sessionCookie)
	if cookie == nil || cookie.Value == "" || !cookie.HttpOnly {
		t.Fatalf("expected http-only session cookie, got %+v", cookie)
	}

	req := httptest.NewRequest(http.MethodGet, "/auth/user", nil)
	req.AddCookie(cookie)
	rr = httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusOK || gjson.Get(rr.Body.String(), "name").String() != "Sam" {
		t.Fatalf("expected signed-in user, got %d %s", rr.Code, rr.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet, "/auth/logout", nil)
	req.AddCookie(cookie)
	rr = httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusFound || rr.Header().Get("Location") != "/" {
		t.Fatalf("expected redirect after logout, got %d %q", rr.Code, rr.Header().Get("Location"))
	}
	if cleared := cookieNamed(rr, sessionCookie); cleared == nil || cleared.Value != "" {
		t.Fatalf("expected cleared session cookie, got %+v", cleared)
	}

	// The old token no longer resolves once its session is revoked.
	req = httptest.NewRequest(http.MethodGet, "/auth/user", nil)
	req.AddCookie(cookie)
	rr = httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 after logout, got %d", rr.Code)
	}
}

func TestDevLoginRejections(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, http.MethodPost, "/auth/dev-login", `{"name":"Sam","email":"not-an-email"}`, nil)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid email, got %d", rr.Code)
	}
	if got := gjson.Get(rr.Body.String(), "details.Email").String(); got != "email" {
		t.Fatalf("expected email tag in details, got %s", rr.Body.String())
	}

	env.svc.cfg.DevLogin = false
	rr = env.do(t, http.MethodPost, "/auth/dev-login", `{"name":"Sam","email":"sam@example.com"}`, nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 when dev login is off, got %d", rr.Code)
	}
}

func TestGoogleLoginDisabled(t *testing.T) {
	env := newTestEnv(t)
	rr := env.do(t, http.MethodGet, "/auth/google", "", nil)
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 without oauth credentials, got %d", rr.Code)
	}
	if gjson.Get(rr.Body.String(), "code").String() != "AUTH_UNAVAILABLE" {
		t.Fatalf("unexpected body %s", rr.Body.String())
	}
}

func TestGoogleLoginFlow(t *testing.T) {
	env := newTestEnv(t)
	env.google.enabled = true
	env.google.exchangeFn = func(_ context.Context, code string) (auth.GoogleUser, error) {
		if code != "good-code" {
			return auth.GoogleUser{}, errors.New("bad code")
		}
		return auth.GoogleUser{ID: "g-7", Name: "Riley", Email: "riley@example.com"}, nil
	}

	rr := env.do(t, http.MethodGet, "/auth/google", "", nil)
	if rr.Code != http.StatusFound {
		t.Fatalf("expected redirect to provider, got %d", rr.Code)
	}
	state := cookieNamed(rr, stateCookie)
	if state == nil || !strings.HasSuffix(rr.Header().Get("Location"), "state="+state.Value) {
		t.Fatalf("expected state cookie matching redirect, got %+v %q", state, rr.Header().Get("Location"))
	}

	req := httptest.NewRequest(http.MethodGet, "/auth/google/callback?code=good-code&state=forged", nil)
	req.AddCookie(state)
	rr = httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusBadRequest || gjson.Get(rr.Body.String(), "code").String() != "INVALID_STATE" {
		t.Fatalf("expected INVALID_STATE, got %d %s", rr.Code, rr.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet, "/auth/google/callback?code=bad&state="+state.Value, nil)
	req.AddCookie(state)
	rr = httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusFound || cookieNamed(rr, sessionCookie) != nil {
		t.Fatalf("expected redirect without session on exchange failure, got %d", rr.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/auth/google/callback?code=good-code&state="+state.Value, nil)
	req.AddCookie(state)
	rr = httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusFound {
		t.Fatalf("expected redirect after login, got %d", rr.Code)
	}
	sess := cookieNamed(rr, sessionCookie)
	if sess == nil || sess.Value == "" {
		t.Fatal("expected session cookie after google login")
	}

	req = httptest.NewRequest(http.MethodGet, "/auth/user", nil)
	req.AddCookie(sess)
	rr = httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rr, req)
	if gjson.Get(rr.Body.String(), "email").String() != "riley@example.com" {
		t.Fatalf("unexpected user %s", rr.Body.String())
	}
}
