package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/AdithyaSrivastava01/Somnium/internal/core/domain"
	"github.com/AdithyaSrivastava01/Somnium/internal/usecase"
)

type stubAuthenticator struct {
	users map[string]*domain.User
	seen  string
}

func (s *stubAuthenticator) Authenticate(_ context.Context, token string) (*domain.User, error) {
	s.seen = token
	if user, ok := s.users[token]; ok {
		return user, nil
	}
	// RequireRole on a nil user yields INVALID_ACCESS_TOKEN.
	return nil, usecase.RequireRole(nil)
}

func newAuthRouter(auth Authenticator, roles ...domain.Role) *gin.Engine {
	router := gin.New()
	router.Use(RequestContext())
	chain := []gin.HandlerFunc{RequireAuth(auth)}
	if len(roles) > 0 {
		chain = append(chain, RequireRole(roles...))
	}
	chain = append(chain, func(c *gin.Context) {
		user, _ := CurrentUser(c)
		c.JSON(http.StatusOK, gin.H{"id": user.ID})
	})
	router.GET("/me", chain...)
	return router
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var body ErrorResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	return body
}

func TestRequireAuthAcceptsBearerToken(t *testing.T) {
	gin.SetMode(gin.TestMode)

	auth := &stubAuthenticator{users: map[string]*domain.User{
		"good": {ID: "user-1", Role: domain.RoleNurse},
	}}
	router := newAuthRouter(auth)

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer good")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if auth.seen != "good" {
		t.Fatalf("expected bearer token to be forwarded, got %q", auth.seen)
	}
}

func TestRequireAuthFallsBackToCookie(t *testing.T) {
	gin.SetMode(gin.TestMode)

	auth := &stubAuthenticator{users: map[string]*domain.User{
		"cookie-token": {ID: "user-2", Role: domain.RolePhysician},
	}}
	router := newAuthRouter(auth)

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.AddCookie(&http.Cookie{Name: AccessTokenCookie, Value: "cookie-token"})
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
}

func TestRequireAuthRejections(t *testing.T) {
	gin.SetMode(gin.TestMode)

	cases := map[string]string{
		"missing":      "",
		"wrong scheme": "Basic dXNlcjpwYXNz",
		"empty bearer": "Bearer   ",
		"unknown":      "Bearer nope",
	}

	for name, header := range cases {
		t.Run(name, func(t *testing.T) {
			router := newAuthRouter(&stubAuthenticator{})

			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if header != "" {
				req.Header.Set("Authorization", header)
			}
			req.Header.Set(RequestIDHeader, "req-401")
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, req)

			if rr.Code != http.StatusUnauthorized {
				t.Fatalf("expected 401, got %d", rr.Code)
			}
			body := decodeError(t, rr)
			if body.ErrorCode != string(usecase.CodeInvalidAccessToken) {
				t.Fatalf("expected INVALID_ACCESS_TOKEN, got %q", body.ErrorCode)
			}
			if body.RequestID != "req-401" {
				t.Fatalf("expected request id in error body, got %q", body.RequestID)
			}
		})
	}
}

func TestRequireRole(t *testing.T) {
	gin.SetMode(gin.TestMode)

	auth := &stubAuthenticator{users: map[string]*domain.User{
		"nurse": {ID: "user-3", Role: domain.RoleNurse},
		"admin": {ID: "user-4", Role: domain.RoleAdmin},
	}}
	router := newAuthRouter(auth, domain.RoleAdmin, domain.RolePhysician)

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer nurse")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for nurse, got %d", rr.Code)
	}
	if body := decodeError(t, rr); body.ErrorCode != string(usecase.CodeInsufficientRole) {
		t.Fatalf("expected INSUFFICIENT_ROLE, got %q", body.ErrorCode)
	}

	req = httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer admin")
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 for admin, got %d", rr.Code)
	}
}
