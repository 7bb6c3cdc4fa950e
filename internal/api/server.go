// Package api exposes the bridge to UI collaborators over HTTP: connection
// status, the target summary for the volume view, connect/disconnect, and
// prometheus metrics.
package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mixdeck/mixdeck-go/internal/audio"
	"github.com/mixdeck/mixdeck-go/internal/router"
	"github.com/mixdeck/mixdeck-go/internal/serial"
)

type Server struct {
	log       *slog.Logger
	transport *serial.Transport
	cache     *audio.TargetCache
	router    *router.Router
	srv       *http.Server
}

func NewServer(listen string, transport *serial.Transport, cache *audio.TargetCache, rtr *router.Router, log *slog.Logger) *Server {
	s := &Server{
		log:       log.With("component", "api"),
		transport: transport,
		cache:     cache,
		router:    rtr,
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	engine.GET("/api/status", s.getStatus)
	engine.GET("/api/targets", s.getTargets)
	engine.POST("/api/connect", s.postConnect)
	engine.POST("/api/disconnect", s.postDisconnect)
	engine.POST("/api/send", s.postSend)
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	s.srv = &http.Server{Addr: listen, Handler: engine}
	return s
}

// Run blocks serving HTTP until Shutdown.
func (s *Server) Run() error {
	s.log.Info("api listening", "addr", s.srv.Addr)
	err := s.srv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) getStatus(c *gin.Context) {
	sliders, buttons := s.transport.DeviceConfig()
	c.JSON(http.StatusOK, gin.H{
		"state":       string(s.transport.State()),
		"port":        s.transport.PortName(),
		"baud":        s.transport.Baud(),
		"sliders":     sliders,
		"buttons":     buttons,
		"focused_app": s.router.FocusedSession(),
	})
}

func (s *Server) getTargets(c *gin.Context) {
	c.JSON(http.StatusOK, s.cache.GetAllTargets())
}

func (s *Server) postConnect(c *gin.Context) {
	var req struct {
		Port string `json:"port" binding:"required"`
		Baud int    `json:"baud"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Baud == 0 {
		req.Baud = 9600
	}
	if err := s.transport.Connect(req.Port, req.Baud); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"state": string(s.transport.State())})
}

func (s *Server) postDisconnect(c *gin.Context) {
	s.transport.Disconnect()
	c.JSON(http.StatusOK, gin.H{"state": string(s.transport.State())})
}

// postSend writes one raw line to the device, for the serial monitor view.
func (s *Server) postSend(c *gin.Context) {
	var req struct {
		Line string `json:"line" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !s.transport.Write(req.Line) {
		c.JSON(http.StatusConflict, gin.H{"error": "not connected"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"sent": true})
}
