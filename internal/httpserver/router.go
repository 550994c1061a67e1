// Package httpserver exposes the operational HTTP surface of a todoflow
// service: health probes, Prometheus metrics, and subscription discovery.
package httpserver

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

// Subscription describes one broker binding the service consumes from.
type Subscription struct {
	Topic string `json:"topic"`
	Queue string `json:"queue"`
	Route string `json:"route"`
}

// BrokerChecker reports broker connectivity. *mq.Publisher satisfies it.
type BrokerChecker interface {
	IsConnected() bool
}

type Router struct {
	Engine *gin.Engine
}

func NewRouter(db *pgxpool.Pool, rdb *redis.Client, broker BrokerChecker, subscriptions []Subscription) *Router {
	r := gin.Default()

	// Health endpoints
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})
	r.HEAD("/healthz", func(c *gin.Context) {
		c.Status(200)
	})

	r.GET("/readyz", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c, 1*time.Second)
		defer cancel()

		if db != nil {
			if err := db.Ping(ctx); err != nil {
				c.JSON(500, gin.H{"status": "db_not_ready", "error": err.Error()})
				return
			}
		}
		if rdb != nil {
			if err := rdb.Ping(ctx).Err(); err != nil {
				c.JSON(500, gin.H{"status": "redis_not_ready", "error": err.Error()})
				return
			}
		}
		if broker != nil && !broker.IsConnected() {
			c.JSON(500, gin.H{"status": "mq_not_ready"})
			return
		}

		c.JSON(200, gin.H{"status": "ready"})
	})

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/subscriptions", func(c *gin.Context) {
		c.JSON(200, gin.H{"subscriptions": subscriptions})
	})

	return &Router{Engine: r}
}
