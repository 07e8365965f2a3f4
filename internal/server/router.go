// Package server builds the HTTP router shared by every route provider.
//
// The middleware stack is fixed: panic recovery, request logging and a CORS
// policy that allows any origin. Providers only add routes; they cannot
// change the CORS policy because it is installed before any route exists and
// the allowed origin is pinned when the response is written.
package server

import (
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/sirosfoundation/go-voice-backend/pkg/middleware"
)

// RouteProvider contributes routes to the shared router
type RouteProvider interface {
	// RegisterRoutes adds this provider's routes to the router.
	RegisterRoutes(router *gin.Engine)

	// Name returns the provider name for logging
	Name() string
}

// CORS policy applied to every response
var (
	CORSMethods = []string{
		http.MethodGet,
		http.MethodPost,
		http.MethodPut,
		http.MethodDelete,
		http.MethodOptions,
	}
	CORSHeaders = []string{"Content-Type", "Authorization", "Accept", "Origin"}
)

// CORS returns the fixed cross-origin middleware
func CORS() gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    CORSMethods,
		AllowHeaders:    CORSHeaders,
	})
}

// pinOrigin keeps Access-Control-Allow-Origin at "*" on cross-origin
// responses, overriding whatever a route handler set.
func pinOrigin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Header.Get("Origin") == "" {
			c.Next()
			return
		}
		w := &originWriter{ResponseWriter: c.Writer}
		c.Writer = w
		c.Next()
		if !w.Written() {
			w.pin()
		}
	}
}

type originWriter struct {
	gin.ResponseWriter
}

func (w *originWriter) pin() {
	w.Header().Set("Access-Control-Allow-Origin", "*")
}

func (w *originWriter) WriteHeader(code int) {
	w.pin()
	w.ResponseWriter.WriteHeader(code)
}

func (w *originWriter) WriteHeaderNow() {
	w.pin()
	w.ResponseWriter.WriteHeaderNow()
}

func (w *originWriter) Write(data []byte) (int, error) {
	w.pin()
	return w.ResponseWriter.Write(data)
}

func (w *originWriter) WriteString(s string) (int, error) {
	w.pin()
	return w.ResponseWriter.WriteString(s)
}

// NewRouter creates the router with the common middleware and registers the
// routes of every provider.
func NewRouter(logger *zap.Logger, providers ...RouteProvider) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.Logger(logger))
	router.Use(CORS(), pinOrigin())

	for _, p := range providers {
		logger.Debug("Registering routes", zap.String("provider", p.Name()))
		p.RegisterRoutes(router)
	}
	return router
}

// SetMode selects the gin mode from the configured log level
func SetMode(logLevel string) {
	if logLevel == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
}
