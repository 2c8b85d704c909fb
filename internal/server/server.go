// Package server exposes the HTTP control surface: bot lifecycle endpoints,
// a health probe and the Prometheus metrics endpoint.
package server

import (
	"context"
	"net/http"

	"binance-dca-bot-go/internal/bot"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Server wraps the gin engine and the bot manager it controls.
type Server struct {
	manager *bot.Manager
	logger  *zap.SugaredLogger
	http    *http.Server
}

// New builds the router.
func New(addr string, manager *bot.Manager, logger *zap.SugaredLogger) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.Default())

	s := &Server{
		manager: manager,
		logger:  logger,
		http:    &http.Server{Addr: addr, Handler: router},
	}

	router.GET("/healthz", s.health)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api")
	{
		api.GET("/bots", s.listBots)
		api.POST("/bots", s.createBot)
		api.GET("/bots/:symbol/state", s.botState)
		api.POST("/bots/:symbol/start", s.startBot)
		api.POST("/bots/:symbol/stop", s.stopBot)
	}
	return s
}

// Run serves until the listener fails or Shutdown is called.
func (s *Server) Run() error {
	s.logger.Infof("control server listening on %s", s.http.Addr)
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) listBots(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"bots": s.manager.Statuses()})
}

type createBotRequest struct {
	Symbol string `json:"symbol" binding:"required"`
}

func (s *Server) createBot(c *gin.Context) {
	var req createBotRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	b, err := s.manager.Add(req.Symbol)
	if err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, b.Status())
}

func (s *Server) botState(c *gin.Context) {
	b, ok := s.manager.Get(c.Param("symbol"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no such bot"})
		return
	}
	c.JSON(http.StatusOK, b.Status())
}

func (s *Server) startBot(c *gin.Context) {
	if err := s.manager.Start(c.Param("symbol")); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "started"})
}

func (s *Server) stopBot(c *gin.Context) {
	if err := s.manager.Stop(c.Param("symbol")); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "stopped"})
}
