// Package api exposes the messaging client over HTTP for local
// front-ends
package api

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ZentaChain/zentalk-client/pkg/client"
)

// Server is the HTTP API bound to one client instance
type Server struct {
	client     *client.Client
	router     *gin.Engine
	addr       string
	httpServer *http.Server
}

// Config holds server configuration
type Config struct {
	Addr       string
	EnableCORS bool
	RateLimit  int // requests per minute per IP, 0 disables
}

// DefaultConfig returns the default server configuration
func DefaultConfig() *Config {
	return &Config{
		Addr:       ":8420",
		EnableCORS: true,
		RateLimit:  300,
	}
}

// NewServer creates the HTTP API server for a client
func NewServer(cl *client.Client, config *Config) *Server {
	if config == nil {
		config = DefaultConfig()
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	s := &Server{
		client: cl,
		router: router,
		addr:   config.Addr,
	}

	if config.EnableCORS {
		router.Use(CORSMiddleware())
	}
	if config.RateLimit > 0 {
		router.Use(RateLimitMiddleware(config.RateLimit))
	}
	router.Use(LoggingMiddleware())
	router.Use(gin.Recovery())

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	v1 := s.router.Group("/api/v1")
	{
		v1.GET("/identity", s.handleIdentity)
		v1.POST("/identity/profile", s.handlePublishProfile)

		v1.POST("/messages", s.handleSendMessage)
		v1.POST("/messages/typing", s.handleSendTyping)

		v1.POST("/attachments", s.handleSendAttachment)
		v1.GET("/attachments/:transferID", s.handleDownloadAttachment)

		v1.GET("/contacts", s.handleListContacts)
		v1.POST("/contacts", s.handleAddContact)
		v1.DELETE("/contacts/:pubkey", s.handleRemoveContact)
		v1.GET("/contacts/:pubkey/profile", s.handleContactProfile)

		v1.GET("/channels", s.handleListChannels)
		v1.POST("/channels", s.handleCreateChannel)
		v1.POST("/channels/:id/join", s.handleJoinChannel)
		v1.POST("/channels/:id/leave", s.handleLeaveChannel)
		v1.POST("/channels/:id/messages", s.handlePostToChannel)

		v1.GET("/relays", s.handleListRelays)
		v1.POST("/relays", s.handleAddRelay)
		v1.DELETE("/relays", s.handleRemoveRelay)

		v1.GET("/call", s.handleCallState)
		v1.POST("/call", s.handleStartCall)
		v1.POST("/call/accept", s.handleAcceptCall)
		v1.POST("/call/reject", s.handleRejectCall)
		v1.POST("/call/end", s.handleEndCall)
		v1.POST("/call/mute", s.handleMuteCall)
		v1.POST("/call/video", s.handleCallVideo)

		v1.GET("/events", s.handleEvents)
	}

	s.router.GET("/health", s.handleHealth)
}

// Start runs the server until the context is cancelled, then shuts down
// gracefully
func (s *Server) Start(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:         s.addr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("🌐 HTTP API listening on %s", s.addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("❌ HTTP API error: %v", err)
		}
	}()

	<-ctx.Done()

	log.Println("🛑 Shutting down HTTP API...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(shutdownCtx)
}

// Stop shuts the server down outside of Start's context
func (s *Server) Stop() error {
	if s.httpServer == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":           "ok",
		"connected_relays": len(connectedRelays(s.client.RelayStatuses())),
	})
}
