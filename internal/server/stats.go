package server

import (
	"net/http"
	"os"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/mvdbeek/pulsar-relay/internal/auth"
	"github.com/mvdbeek/pulsar-relay/internal/hub"
	"github.com/mvdbeek/pulsar-relay/internal/storage"
)

// statsHandler aggregates the runtime view exposed to operators:
// process resources, hub occupancy, and backend counters.
type statsHandler struct {
	svc      *auth.Service
	log      storage.Log
	localHub *hub.LocalHub
	pollHub  *hub.PollHub
	started  time.Time
}

func (h *statsHandler) Runtime(c *gin.Context) {
	out := gin.H{
		"uptime_seconds":     int64(time.Since(h.started).Seconds()),
		"goroutines":         runtime.NumGoroutine(),
		"connections":        h.localHub.Stats(),
		"polling":            h.pollHub.Stats(),
		"user_cache_entries": h.svc.CacheLen(),
	}

	if proc, err := process.NewProcess(int32(os.Getpid())); err == nil {
		if memInfo, err := proc.MemoryInfo(); err == nil {
			out["memory_rss_bytes"] = memInfo.RSS
		}
		if cpuPercent, err := proc.CPUPercent(); err == nil {
			out["cpu_percent"] = cpuPercent
		}
	}

	if reporter, ok := h.log.(storage.StatsReporter); ok {
		if stats, err := reporter.Stats(c.Request.Context()); err == nil {
			out["storage"] = stats
		}
	}
	if users, ok := h.svc.Users().(auth.UserStatsProvider); ok {
		if stats, err := users.UserStats(c.Request.Context()); err == nil {
			out["users"] = stats
		}
	}
	if topics, ok := h.svc.Topics().(auth.TopicStatsProvider); ok {
		if stats, err := topics.TopicStats(c.Request.Context()); err == nil {
			out["topics"] = stats
		}
	}

	c.JSON(http.StatusOK, out)
}
