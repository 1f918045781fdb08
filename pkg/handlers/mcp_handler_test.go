package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-connect/pkg/auth"
	"github.com/ekaya-inc/ekaya-connect/pkg/mcp"
	"github.com/ekaya-inc/ekaya-connect/pkg/middleware"
)

func newTestMCPMux(resolver auth.PrincipalResolver) *http.ServeMux {
	logger := zap.NewNop()
	server := mcp.NewServer("test", "1.0.0", &mockToolProvider{}, &mockToolDispatcher{}, logger)
	handler := NewMCPHandler(server, logger)

	mux := http.NewServeMux()
	handler.RegisterRoutes(mux,
		auth.NewAccessTokenMiddleware(resolver, nil, logger),
		middleware.NewRateLimiter(middleware.RateLimitConfig{}, nil),
		func(next http.HandlerFunc) http.HandlerFunc { return next })
	return mux
}

func TestMCPHandler_RejectsNonPOST(t *testing.T) {
	for _, method := range []string{http.MethodGet, http.MethodDelete, http.MethodPut} {
		t.Run(method, func(t *testing.T) {
			resolver := &mockAccessTokenService{}
			rec := httptest.NewRecorder()
			newTestMCPMux(resolver).ServeHTTP(rec, httptest.NewRequest(method, "/mcp", nil))

			if rec.Code != http.StatusMethodNotAllowed {
				t.Errorf("expected status %d, got %d", http.StatusMethodNotAllowed, rec.Code)
			}
			if allow := rec.Header().Get("Allow"); allow != "POST" {
				t.Errorf("expected Allow header 'POST', got %q", allow)
			}
			if resolver.resolveCalls != 0 {
				t.Error("token must not be resolved before the method check")
			}
		})
	}
}

func TestMCPHandler_RequiresAccessToken(t *testing.T) {
	resolver := &mockAccessTokenService{}
	req := httptest.NewRequest(http.MethodPost, "/mcp", nil)
	req.Header.Set(auth.AccessTokenHeader, "bogus")
	rec := httptest.NewRecorder()
	newTestMCPMux(resolver).ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected status %d, got %d", http.StatusUnauthorized, rec.Code)
	}
	if resolver.resolveCalls != 1 {
		t.Errorf("expected one resolve call, got %d", resolver.resolveCalls)
	}
}
