package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

type testDoctor struct {
	ID   string
	Name string
}

func newTestResolver(doctors map[string]*testDoctor) *Resolver {
	resolver := NewResolver()
	resolver.Register(RoleDoctor, func(_ context.Context, subject string) (interface{}, error) {
		doc, ok := doctors[subject]
		if !ok {
			return nil, nil
		}
		return doc, nil
	})
	resolver.Register(RolePatient, func(_ context.Context, _ string) (interface{}, error) {
		return nil, errors.New("patient store unavailable")
	})
	return resolver
}

func performRequest(mw echo.MiddlewareFunc, authorization, query string) (*httptest.ResponseRecorder, error) {
	e := echo.New()
	target := "/guarded"
	if query != "" {
		target += "?" + query
	}
	req := httptest.NewRequest(http.MethodGet, target, nil)
	if authorization != "" {
		req.Header.Set(echo.HeaderAuthorization, authorization)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	handler := mw(func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
	return rec, handler(c)
}

func httpStatus(t *testing.T, err error) int {
	t.Helper()
	if err == nil {
		return http.StatusOK
	}
	var he *echo.HTTPError
	if !errors.As(err, &he) {
		t.Fatalf("error is not *echo.HTTPError: %v", err)
	}
	return he.Code
}

func TestRequireMissingToken(t *testing.T) {
	svc := newTestTokenService(newMemoryTokenStore())
	mw := Require(svc, newTestResolver(nil), RoleDoctor)

	_, err := performRequest(mw, "", "")
	if got := httpStatus(t, err); got != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", got)
	}
}

func TestRequireMalformedHeader(t *testing.T) {
	svc := newTestTokenService(newMemoryTokenStore())
	mw := Require(svc, newTestResolver(nil), RoleDoctor)

	for _, header := range []string{"Bearer", "Basic abc123", "garbage"} {
		_, err := performRequest(mw, header, "")
		if got := httpStatus(t, err); got != http.StatusUnauthorized {
			t.Errorf("header %q: status = %d, want 401", header, got)
		}
	}
}

func TestRequireInvalidToken(t *testing.T) {
	svc := newTestTokenService(newMemoryTokenStore())
	mw := Require(svc, newTestResolver(nil), RoleDoctor)

	_, err := performRequest(mw, "Bearer not-a-jwt", "")
	if got := httpStatus(t, err); got != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", got)
	}
}

func TestRequireAllowsBearerToken(t *testing.T) {
	svc := newTestTokenService(newMemoryTokenStore())
	doctors := map[string]*testDoctor{"doc-1": {ID: "doc-1", Name: "Dr. Rao"}}
	mw := Require(svc, newTestResolver(doctors), RoleDoctor)

	token, err := svc.IssueAccessToken("doc-1", RoleDoctor)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	rec, err := performRequest(mw, "Bearer "+token, "")
	if got := httpStatus(t, err); got != http.StatusOK {
		t.Fatalf("status = %d, want 200", got)
	}
	if rec.Body.String() != "ok" {
		t.Errorf("body = %q", rec.Body.String())
	}
}

func TestRequireAllowsQueryToken(t *testing.T) {
	svc := newTestTokenService(newMemoryTokenStore())
	doctors := map[string]*testDoctor{"doc-1": {ID: "doc-1"}}
	mw := Require(svc, newTestResolver(doctors), RoleDoctor)

	token, err := svc.IssueAccessToken("doc-1", RoleDoctor)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	_, err = performRequest(mw, "", "token="+token)
	if got := httpStatus(t, err); got != http.StatusOK {
		t.Errorf("status = %d, want 200", got)
	}
}

func TestRequireHeaderBeatsQueryParam(t *testing.T) {
	svc := newTestTokenService(newMemoryTokenStore())
	doctors := map[string]*testDoctor{"doc-1": {ID: "doc-1"}}
	mw := Require(svc, newTestResolver(doctors), RoleDoctor)

	token, err := svc.IssueAccessToken("doc-1", RoleDoctor)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	// A malformed header must not fall through to a valid query token.
	_, err = performRequest(mw, "Basic something", "token="+token)
	if got := httpStatus(t, err); got != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", got)
	}
}

func TestRequireRoleForbidden(t *testing.T) {
	svc := newTestTokenService(newMemoryTokenStore())
	doctors := map[string]*testDoctor{"doc-1": {ID: "doc-1"}}
	mw := Require(svc, newTestResolver(doctors), RoleMedicalOwner)

	token, err := svc.IssueAccessToken("doc-1", RoleDoctor)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	_, err = performRequest(mw, "Bearer "+token, "")
	if got := httpStatus(t, err); got != http.StatusForbidden {
		t.Errorf("status = %d, want 403", got)
	}
}

func TestRequireDeletedAccount(t *testing.T) {
	svc := newTestTokenService(newMemoryTokenStore())
	mw := Require(svc, newTestResolver(map[string]*testDoctor{}), RoleDoctor)

	token, err := svc.IssueAccessToken("doc-gone", RoleDoctor)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	_, err = performRequest(mw, "Bearer "+token, "")
	if got := httpStatus(t, err); got != http.StatusNotFound {
		t.Errorf("status = %d, want 404", got)
	}
}

func TestRequireResolverError(t *testing.T) {
	svc := newTestTokenService(newMemoryTokenStore())
	mw := Require(svc, newTestResolver(nil), RolePatient)

	token, err := svc.IssueAccessToken("pat-1", RolePatient)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	_, err = performRequest(mw, "Bearer "+token, "")
	if got := httpStatus(t, err); got != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", got)
	}
}

func TestRequireAttachesIdentity(t *testing.T) {
	svc := newTestTokenService(newMemoryTokenStore())
	doctors := map[string]*testDoctor{"doc-1": {ID: "doc-1", Name: "Dr. Rao"}}

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/guarded", nil)
	token, err := svc.IssueAccessToken("doc-1", RoleDoctor)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	handler := Require(svc, newTestResolver(doctors), RoleDoctor)(func(c echo.Context) error {
		doc, ok := c.Get(RoleDoctor.ContextKey()).(*testDoctor)
		if !ok || doc.Name != "Dr. Rao" {
			t.Errorf("doctor record not attached: %#v", c.Get(RoleDoctor.ContextKey()))
		}
		if role, ok := RoleFromContext(c); !ok || role != RoleDoctor {
			t.Errorf("role = %v, %v", role, ok)
		}
		if subject, ok := SubjectFromContext(c); !ok || subject != "doc-1" {
			t.Errorf("subject = %q, %v", subject, ok)
		}
		return c.NoContent(http.StatusOK)
	})
	if err := handler(c); err != nil {
		t.Fatalf("handler: %v", err)
	}
}
