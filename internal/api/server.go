// Package api serves the agent over HTTP for mcpbridged
package api

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jaimegago/mcpbridge/internal/llm"
	"github.com/jaimegago/mcpbridge/internal/observability"
	"github.com/jaimegago/mcpbridge/internal/useragent"
)

// Version is reported by the status endpoint
const Version = "0.1.0"

// Agent is what the API needs from the agent
type Agent interface {
	Run(ctx context.Context, query string) (*useragent.Transcript, error)
	Tools(ctx context.Context) ([]llm.ToolDefinition, error)
	CurrentModelName() string
	SwitchModel(ctx context.Context, provider, model, displayName string) error
}

// ServerInfo reports which tool server the agent is using
type ServerInfo interface {
	ServerName() string
	Connected() bool
}

// Server handles HTTP API requests for mcpbridged
type Server struct {
	agent  Agent
	info   ServerInfo
	logger *slog.Logger
}

// New creates a new API server. info may be nil.
func New(agent Agent, info ServerInfo, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{agent: agent, info: info, logger: logger}
}

// Handler returns a gin engine with every route registered
func (s *Server) Handler() http.Handler {
	engine := gin.New()
	engine.Use(gin.Recovery(), s.logRequests())
	s.RegisterRoutes(engine)
	return engine
}

// RegisterRoutes registers all API routes on r
func (s *Server) RegisterRoutes(r gin.IRouter) {
	v1 := r.Group("/api/v1")
	v1.GET("/status", s.handleStatus)
	v1.GET("/tools", s.handleTools)
	v1.POST("/query", s.handleQuery)
	v1.POST("/model", s.handleModel)

	r.GET("/metrics", gin.WrapH(observability.MetricsHandler()))
}

func (s *Server) handleStatus(c *gin.Context) {
	resp := StatusResponse{
		Status:  "ok",
		Version: Version,
		Time:    time.Now().UTC().Format(time.RFC3339),
		Model:   s.agent.CurrentModelName(),
	}
	if s.info != nil {
		resp.Server = s.info.ServerName()
		resp.Connected = s.info.Connected()
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleTools(c *gin.Context) {
	defs, err := s.agent.Tools(c.Request.Context())
	if err != nil {
		s.writeError(c, err)
		return
	}

	resp := ToolsResponse{Tools: make([]Tool, len(defs))}
	for i, d := range defs {
		resp.Tools[i] = Tool{Name: d.Name, Description: d.Description, Parameters: d.Parameters}
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleQuery(c *gin.Context) {
	var req QueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request: " + err.Error(), Kind: KindBadRequest})
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request: query is empty", Kind: KindBadRequest})
		return
	}

	t, err := s.agent.Run(c.Request.Context(), req.Query)
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, QueryResponse{
		Answer: t.Answer,
		Usage: Usage{
			InputTokens:  t.Usage.InputTokens,
			OutputTokens: t.Usage.OutputTokens,
			TotalTokens:  t.Usage.TotalTokens,
		},
		Rounds:     t.Rounds,
		ModelCalls: t.ModelCalls,
	})
}

func (s *Server) handleModel(c *gin.Context) {
	var req ModelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request: " + err.Error(), Kind: KindBadRequest})
		return
	}

	if err := s.agent.SwitchModel(c.Request.Context(), req.Provider, req.Model, req.Name); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error(), Kind: KindBadRequest})
		return
	}
	c.JSON(http.StatusOK, ModelResponse{Model: s.agent.CurrentModelName()})
}

func (s *Server) writeError(c *gin.Context, err error) {
	kind, status := Classify(err)
	s.logger.Warn("request_failed", "path", c.FullPath(), "kind", kind, "status", status, "error", err)
	c.JSON(status, ErrorResponse{Error: err.Error(), Kind: kind})
}

func (s *Server) logRequests() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Info("http_request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
}
