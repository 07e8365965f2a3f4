// Package handler serves the call-handling routes: listing and killing
// active calls, WebSocket call sessions, ICE server discovery and the LLM
// proxy.
package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/sirosfoundation/go-voice-backend/internal/app"
	"github.com/sirosfoundation/go-voice-backend/internal/call"
	"github.com/sirosfoundation/go-voice-backend/internal/media"
	"github.com/sirosfoundation/go-voice-backend/internal/server"
	"github.com/sirosfoundation/go-voice-backend/pkg/config"
)

// Routes is the call route table bound to the shared state
type Routes struct {
	state    *app.State
	logger   *zap.Logger
	upgrader websocket.Upgrader
	llm      http.Handler
}

// New binds the route table to s. It has the app.RouteFactory signature.
func New(s *app.State) server.RouteProvider {
	logger := s.Logger().Named("handler")
	return &Routes{
		state:  s,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		llm: newLLMProxy(s.Config().LLMProxy, logger),
	}
}

func (r *Routes) Name() string { return "call" }

func (r *Routes) RegisterRoutes(router *gin.Engine) {
	router.GET("/health", r.Health)
	router.GET("/metrics", gin.WrapH(r.state.Metrics().Handler()))

	c := router.Group("/call")
	{
		c.GET("/lists", r.ListCalls)
		c.POST("/kill/:id", r.KillCall)
		c.GET("/websocket", r.CallWebSocket)
	}

	router.GET("/iceservers", r.ICEServers)
	router.Any("/llm/v1/*path", r.LLMProxy)
}

// HealthResponse is returned by GET /health
type HealthResponse struct {
	Status      string              `json:"status"`
	Phase       string              `json:"phase"`
	ActiveCalls int                 `json:"active_calls"`
	Providers   map[string][]string `json:"providers"`
}

func (r *Routes) Health(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:      "ok",
		Phase:       r.state.Phase().String(),
		ActiveCalls: r.state.Calls().Len(),
		Providers:   r.providers(),
	})
}

func (r *Routes) providers() map[string][]string {
	engine := r.state.StreamEngine()
	out := make(map[string][]string, 3)
	for _, kind := range []media.Kind{media.KindASR, media.KindTTS, media.KindVAD} {
		out[string(kind)] = engine.Names(kind)
	}
	return out
}

// ListCallsResponse is returned by GET /call/lists
type ListCallsResponse struct {
	Calls []call.Info `json:"calls"`
}

func (r *Routes) ListCalls(c *gin.Context) {
	c.JSON(http.StatusOK, ListCallsResponse{Calls: r.state.Calls().List()})
}

func (r *Routes) KillCall(c *gin.Context) {
	id := c.Param("id")
	if err := r.state.Calls().Kill(id); err != nil {
		if errors.Is(err, call.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	r.logger.Info("Call killed", zap.String("call_id", id))
	c.JSON(http.StatusOK, gin.H{"id": id, "killed": true})
}

func (r *Routes) ICEServers(c *gin.Context) {
	servers := r.state.StreamEngine().ICEServers()
	if servers == nil {
		servers = []config.ICEServer{}
	}
	c.JSON(http.StatusOK, servers)
}

func (r *Routes) LLMProxy(c *gin.Context) {
	if r.llm == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "llm proxy is not configured"})
		return
	}
	r.llm.ServeHTTP(c.Writer, c.Request)
}
