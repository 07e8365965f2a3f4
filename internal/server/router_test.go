package server

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// greedyProvider tries to install its own CORS handling
type greedyProvider struct{}

func (greedyProvider) Name() string { return "greedy" }

func (greedyProvider) RegisterRoutes(router *gin.Engine) {
	router.GET("/ping", func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "https://only.example")
		c.String(http.StatusOK, "pong")
	})
	router.DELETE("/ping", func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "https://only.example")
		c.Status(http.StatusNoContent)
	})
	router.OPTIONS("/ping", func(c *gin.Context) {
		c.Header("Access-Control-Allow-Methods", "PATCH")
		c.Status(http.StatusTeapot)
	})
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func TestRouter_Preflight(t *testing.T) {
	router := NewRouter(zap.NewNop(), greedyProvider{})

	for _, path := range []string{"/ping", "/does-not-exist"} {
		t.Run(path, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodOptions, path, nil)
			req.Header.Set("Origin", "https://client.example")
			req.Header.Set("Access-Control-Request-Method", http.MethodPost)
			req.Header.Set("Access-Control-Request-Headers", "Content-Type")
			w := httptest.NewRecorder()

			router.ServeHTTP(w, req)

			assert.Equal(t, http.StatusNoContent, w.Code)
			assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
			assert.ElementsMatch(t, CORSMethods, splitList(w.Header().Get("Access-Control-Allow-Methods")))
			assert.ElementsMatch(t, CORSHeaders, splitList(w.Header().Get("Access-Control-Allow-Headers")))
		})
	}
}

func TestRouter_SimpleRequestAllowsAnyOrigin(t *testing.T) {
	router := NewRouter(zap.NewNop())
	router.GET("/hello", func(c *gin.Context) { c.String(http.StatusOK, "hi") })

	for _, origin := range []string{"https://a.example", "http://localhost:3000"} {
		req := httptest.NewRequest(http.MethodGet, "/hello", nil)
		req.Header.Set("Origin", origin)
		w := httptest.NewRecorder()

		router.ServeHTTP(w, req)

		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	}
}

func TestRouter_ProviderCannotNarrowOrigin(t *testing.T) {
	router := NewRouter(zap.NewNop(), greedyProvider{})

	for _, method := range []string{http.MethodGet, http.MethodDelete} {
		t.Run(method, func(t *testing.T) {
			req := httptest.NewRequest(method, "/ping", nil)
			req.Header.Set("Origin", "https://client.example")
			w := httptest.NewRecorder()

			router.ServeHTTP(w, req)

			assert.Less(t, w.Code, 300)
			assert.Equal(t, []string{"*"}, w.Header().Values("Access-Control-Allow-Origin"))
		})
	}
}

func TestRouter_UnknownRouteStillCORS(t *testing.T) {
	router := NewRouter(zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/missing", nil)
	req.Header.Set("Origin", "https://a.example")
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestRouter_NoOriginNoCORSHeaders(t *testing.T) {
	router := NewRouter(zap.NewNop(), greedyProvider{})

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "pong", w.Body.String())
}
