// Package gateway is the single HTTP entry point in front of the users and
// orders services.
package gateway

import (
	"bytes"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/eaglebank/orderflow/shared/broker"
	"github.com/eaglebank/orderflow/shared/utils"
)

const Version = "1.0.0"

var AvailableRoutes = []string{
	"/api/users",
	"/api/users/create",
	"/api/orders",
	"/api/orders/create",
	"/api/orders/processed-users",
}

// hop-by-hop headers are not forwarded in either direction.
var hopHeaders = map[string]bool{
	"Connection":          true,
	"Keep-Alive":          true,
	"Proxy-Authenticate":  true,
	"Proxy-Authorization": true,
	"Te":                  true,
	"Trailer":             true,
	"Transfer-Encoding":   true,
	"Upgrade":             true,
}

type Gateway struct {
	userServiceURL  string
	orderServiceURL string
	client          *http.Client
	logger          *slog.Logger
}

func New(userServiceURL, orderServiceURL string, client *http.Client, logger *slog.Logger) *Gateway {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Gateway{
		userServiceURL:  strings.TrimSuffix(userServiceURL, "/"),
		orderServiceURL: strings.TrimSuffix(orderServiceURL, "/"),
		client:          client,
		logger:          logger.With("component", "gateway"),
	}
}

func (g *Gateway) Register(router *gin.Engine) {
	router.GET("/", g.Info)

	router.Any("/api/users", g.proxyTo(g.userServiceURL))
	router.Any("/api/users/*path", g.proxyTo(g.userServiceURL))
	router.Any("/api/orders", g.proxyTo(g.orderServiceURL))
	router.Any("/api/orders/*path", g.proxyTo(g.orderServiceURL))

	router.NoRoute(NotFound)
}

func (g *Gateway) Info(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"message": "REST API is running successfully!",
		"version": Version,
		"endpoints": gin.H{
			"users":          "/api/users",
			"userCreate":     "/api/users/create",
			"orders":         "/api/orders",
			"orderCreate":    "/api/orders/create",
			"processedUsers": "/api/orders/processed-users",
			"health":         "/health",
			"metrics":        "/metrics",
		},
		"rabbitMQ": gin.H{
			"status": "enabled",
			"queues": []string{broker.UserEventsQueue.Name, broker.OrderEventsQueue.Name},
		},
		"timestamp": utils.Now(),
	})
}

func NotFound(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{
		"error":           "Route not found",
		"message":         "The requested route " + c.Request.URL.RequestURI() + " does not exist",
		"availableRoutes": AvailableRoutes,
		"timestamp":       utils.Now(),
	})
}

func (g *Gateway) proxyTo(serviceURL string) gin.HandlerFunc {
	return func(c *gin.Context) {
		targetURL := serviceURL + c.Request.URL.Path
		if c.Request.URL.RawQuery != "" {
			targetURL += "?" + c.Request.URL.RawQuery
		}

		var body io.Reader
		if c.Request.Body != nil {
			bodyBytes, err := io.ReadAll(c.Request.Body)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "message": err.Error(), "timestamp": utils.Now()})
				return
			}
			body = bytes.NewReader(bodyBytes)
		}

		req, err := http.NewRequestWithContext(c.Request.Context(), c.Request.Method, targetURL, body)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error", "message": "Failed to create request", "timestamp": utils.Now()})
			return
		}
		copyHeaders(req.Header, c.Request.Header)
		req.Header.Set("X-Forwarded-For", c.ClientIP())

		resp, err := g.client.Do(req)
		if err != nil {
			g.logger.Error("proxy request failed", "target", targetURL, "error", err)
			c.JSON(http.StatusBadGateway, gin.H{"error": "Service unavailable", "message": err.Error(), "timestamp": utils.Now()})
			return
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": "Service unavailable", "message": "Failed to read response", "timestamp": utils.Now()})
			return
		}

		copyHeaders(c.Writer.Header(), resp.Header)
		c.Data(resp.StatusCode, resp.Header.Get("Content-Type"), respBody)
	}
}

func copyHeaders(dst, src http.Header) {
	for key, values := range src {
		if hopHeaders[http.CanonicalHeaderKey(key)] {
			continue
		}
		for _, value := range values {
			dst.Add(key, value)
		}
	}
}
