package main

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"avaneesh/seriallink-go/pkg/link"
	"avaneesh/seriallink-go/pkg/observability"
)

var startedAt = time.Now()

// linkStatus is what /health reports about the current link
type linkStatus struct {
	phase atomic.Int32
	role  atomic.Int32
}

func (s *linkStatus) set(role link.Role, phase link.Phase) {
	s.role.Store(int32(role))
	s.phase.Store(int32(phase))
}

func newRouter(status *linkStatus, allowOrigins []string) *gin.Engine {
	observability.RegisterMetrics()

	r := gin.New()
	r.Use(gin.Recovery())
	if len(allowOrigins) > 0 {
		r.Use(cors.New(cors.Config{
			AllowOrigins: allowOrigins,
			AllowMethods: []string{"GET"},
			AllowHeaders: []string{"Origin", "Content-Type"},
			MaxAge:       12 * time.Hour,
		}))
	}

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(startedAt).String(),
			"service": "linkctl",
			"role":    link.Role(status.role.Load()).String(),
			"phase":   link.Phase(status.phase.Load()).String(),
		})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}
