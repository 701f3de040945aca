// Package httpserver serves the query API over HTTP with gin.
package httpserver

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"

	"github.com/crisgenomics/cris-query/internal/apperror"
	"github.com/crisgenomics/cris-query/internal/gateway"
	"github.com/crisgenomics/cris-query/internal/handler"
	"github.com/crisgenomics/cris-query/internal/metrics"
	"github.com/crisgenomics/cris-query/pkg/logger"
)

// Dependencies are injected into the router.
type Dependencies struct {
	Service *handler.Service
	Logger  *logger.Logger

	// RateLimiter guards the query endpoint; nil disables limiting.
	RateLimiter *IPRateLimiter

	// TrustedProxies may set X-Forwarded-For. With none, the client IP is
	// always the peer address.
	TrustedProxies []string
}

// New creates the gin engine with every route and middleware installed.
func New(deps Dependencies) (*gin.Engine, error) {
	if deps.Logger == nil {
		deps.Logger = logger.Default()
	}

	router := gin.New()
	if err := router.SetTrustedProxies(deps.TrustedProxies); err != nil {
		return nil, fmt.Errorf("trusted proxies: %w", err)
	}
	router.Use(recovery())
	router.Use(requestContext(deps.Logger))
	router.Use(requestLogger())
	router.Use(observe())
	router.Use(gzip.Gzip(gzip.DefaultCompression))
	router.Use(cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:    []string{"Content-Type", "X-Amz-Date", "Authorization", "X-Api-Key", "X-Amz-Security-Token", requestIDHeader},
		ExposeHeaders:   []string{"Content-Length", requestIDHeader},
		MaxAge:          12 * time.Hour,
	}))

	router.GET(gateway.RouteHome, homeHandler)
	router.GET("/health", func(c *gin.Context) { c.String(http.StatusOK, "OK") })
	router.GET(gateway.RouteHealth, healthHandler(deps.Service))
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	query := router.Group("")
	if deps.RateLimiter != nil {
		query.Use(deps.RateLimiter.Middleware())
	}
	{
		query.POST(gateway.RouteQuery, queryHandler(deps.Service))
		query.POST(gateway.RouteQuery+"/", queryHandler(deps.Service))
	}

	router.NoRoute(func(c *gin.Context) {
		writeError(c, apperror.NewNotFound("Endpoint not found"))
	})

	return router, nil
}

func homeHandler(c *gin.Context) {
	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(gateway.HomePage))
}

func healthHandler(svc *handler.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, svc.Health())
	}
}

func queryHandler(svc *handler.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := c.GetRawData()
		if err != nil {
			writeError(c, apperror.NewInvalidJSON(err))
			return
		}

		reply, err := svc.HandleBody(c.Request.Context(), body)
		if err != nil {
			writeError(c, err)
			return
		}
		c.Data(reply.StatusCode, "application/json; charset=utf-8", reply.Body)
	}
}

// writeError renders err as the JSON error body and stops the chain.
func writeError(c *gin.Context, err error) {
	status := apperror.GetHTTPStatus(err)
	if status >= http.StatusInternalServerError {
		logger.Error(c.Request.Context(), "request failed", "path", c.Request.URL.Path, "error", err)
	}
	c.Abort()
	c.Data(status, "application/json; charset=utf-8", handler.ErrorBody(err))
}
