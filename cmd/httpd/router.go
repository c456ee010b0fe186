package httpd

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	cmdcommon "github.com/blogsearch/ingestor/cmd/common"
	"github.com/blogsearch/ingestor/internal/logger"
	"github.com/blogsearch/ingestor/internal/pipeline"
)

// triggerGracePeriod is how long a trigger request waits for the run to
// finish before answering 202. Fast runs (an empty spool) report their
// outcome synchronously; everything else is accepted and runs on.
const triggerGracePeriod = 200 * time.Millisecond

// SetupRouter creates and configures the Gin router with all routes.
// baseCtx is the server lifetime context; triggered runs are bound to it
// rather than to the request so a closed connection does not abort a run.
func SetupRouter(baseCtx context.Context, stack *cmdcommon.Stack, log logger.Interface) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(loggingMiddleware(log))

	router.GET("/health", handleHealth(stack))

	v1 := router.Group("/api/v1")
	v1.POST("/ingest", handleIngest(baseCtx, stack, log))
	v1.GET("/runs/last", handleLastRun(stack))
	v1.GET("/status", handleStatus(stack))
	v1.GET("/stats", handleStats(stack))

	return router
}

// handleHealth reports readiness: the spool must be readable and the
// index backend reachable.
func handleHealth(stack *cmdcommon.Stack) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := stack.Spool.Healthy(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "reason": "spool: " + err.Error()})
			return
		}
		if err := stack.Index.Ping(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "reason": "index: " + err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}

// handleIngest triggers an ingestion run. Answers 409 when a run is
// already executing, 200 with the outcome when the run finishes within
// the grace period, and 202 otherwise.
func handleIngest(baseCtx context.Context, stack *cmdcommon.Stack, log logger.Interface) gin.HandlerFunc {
	return func(c *gin.Context) {
		rejected := make(chan error, 1)
		finished := make(chan struct{})

		go func() {
			run, err := stack.Trigger.Run(baseCtx)
			if errors.Is(err, pipeline.ErrRunAlreadyInProgress) {
				rejected <- err
				return
			}
			close(finished)
			if err != nil {
				log.Error("Triggered run failed", "error", err.Error())
			} else {
				log.Info("Triggered run finished", "run_id", run.ID, "status", string(run.Status))
			}
		}()

		select {
		case <-rejected:
			c.JSON(http.StatusConflict, gin.H{"error": "ingestion run already in progress"})
		case <-finished:
			c.JSON(http.StatusOK, stack.Trigger.LastRun())
		case <-time.After(triggerGracePeriod):
			c.JSON(http.StatusAccepted, gin.H{"status": "accepted"})
		}
	}
}

// handleLastRun returns the most recently finalized run.
func handleLastRun(stack *cmdcommon.Stack) gin.HandlerFunc {
	return func(c *gin.Context) {
		run := stack.Trigger.LastRun()
		if run == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "no runs yet"})
			return
		}
		c.JSON(http.StatusOK, run)
	}
}

// handleStatus reports whether a run is executing right now.
func handleStatus(stack *cmdcommon.Stack) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"in_progress": stack.Trigger.InProgress(),
		})
	}
}

// handleStats returns cumulative process metrics.
func handleStats(stack *cmdcommon.Stack) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, stack.Metrics.Snapshot())
	}
}

// loggingMiddleware logs each request with method, path, status and latency.
func loggingMiddleware(log logger.Interface) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug("HTTP request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"latency", time.Since(start).String(),
		)
	}
}
