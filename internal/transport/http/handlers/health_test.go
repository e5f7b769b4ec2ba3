package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestReadyReportsEachCheck(t *testing.T) {
	gin.SetMode(gin.TestMode)

	handler := NewHealthHandler(map[string]HealthCheckFunc{
		"postgres": func(context.Context) error { return nil },
		"redis":    func(context.Context) error { return errors.New("dial tcp: connection refused") },
		"kafka":    nil,
	})
	router := gin.New()
	router.GET("/readyz", handler.Ready)
	router.GET("/healthz", handler.Status)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
	var body HealthResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Checks["postgres"] != "ok" || body.Checks["redis"] != "unavailable" {
		t.Fatalf("unexpected checks %+v", body.Checks)
	}
	if _, ok := body.Checks["kafka"]; ok {
		t.Fatalf("nil checker must be ignored")
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("liveness must not depend on backing services, got %d", rr.Code)
	}
}

type staticKeySet struct {
	payload []byte
	err     error
}

func (s staticKeySet) JWKS() ([]byte, error) { return s.payload, s.err }

func TestJWKSKeys(t *testing.T) {
	gin.SetMode(gin.TestMode)

	router := gin.New()
	router.GET("/.well-known/jwks.json", NewJWKSHandler(staticKeySet{payload: []byte(`{"keys":[]}`)}).Keys)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/.well-known/jwks.json", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if got := rr.Header().Get("Cache-Control"); got != jwksCacheControl {
		t.Fatalf("expected cache-control %q, got %q", jwksCacheControl, got)
	}
	if rr.Body.String() != `{"keys":[]}` {
		t.Fatalf("unexpected body %s", rr.Body.String())
	}
}

func TestJWKSUnavailable(t *testing.T) {
	gin.SetMode(gin.TestMode)

	router := gin.New()
	router.GET("/jwks", NewJWKSHandler(nil).Keys)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/jwks", nil))

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
}
