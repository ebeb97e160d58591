package api

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// CORSMiddleware handles CORS headers for local front-ends
func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}

type rateLimiter struct {
	mu       sync.Mutex
	counts   map[string]int
	resetAt  time.Time
	perMinut int
}

// RateLimitMiddleware applies a fixed-window per-IP limit
func RateLimitMiddleware(requestsPerMinute int) gin.HandlerFunc {
	rl := &rateLimiter{
		counts:   make(map[string]int),
		resetAt:  time.Now().Add(time.Minute),
		perMinut: requestsPerMinute,
	}

	return func(c *gin.Context) {
		ip := c.ClientIP()

		rl.mu.Lock()
		if time.Now().After(rl.resetAt) {
			rl.counts = make(map[string]int)
			rl.resetAt = time.Now().Add(time.Minute)
		}
		rl.counts[ip]++
		over := rl.counts[ip] > rl.perMinut
		rl.mu.Unlock()

		if over {
			c.JSON(http.StatusTooManyRequests, ErrorResponse{
				Error:   "Rate limit exceeded",
				Message: fmt.Sprintf("Maximum %d requests per minute", requestsPerMinute),
			})
			c.Abort()
			return
		}

		c.Next()
	}
}

// LoggingMiddleware logs HTTP requests
func LoggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		startTime := time.Now()

		c.Next()

		fmt.Printf("%d | %s | %s %s | %v\n",
			c.Writer.Status(),
			c.ClientIP(),
			c.Request.Method,
			c.Request.URL.Path,
			time.Since(startTime),
		)
	}
}

// ErrorResponse is the standard error body
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// SuccessResponse is the standard success body
type SuccessResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Message string      `json:"message,omitempty"`
}
