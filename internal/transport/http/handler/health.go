package handler

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	applog "askdoc/internal/platform/log"
)

const healthCheckTimeout = 2 * time.Second

// DependencyCheck verifies one backing service. Check returns nil when it is usable.
type DependencyCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

type HealthHandler struct {
	appName   string
	env       string
	startedAt time.Time
	checks    []DependencyCheck
}

type dependencyStatus struct {
	OK      bool   `json:"ok"`
	Message string `json:"message,omitempty"`
}

func NewHealthHandler(appName, env string, startedAt time.Time, checks ...DependencyCheck) *HealthHandler {
	return &HealthHandler{appName: appName, env: env, startedAt: startedAt, checks: checks}
}

// Check runs every dependency check in parallel and answers 503 when any fails.
func (h *HealthHandler) Check(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthCheckTimeout)
	defer cancel()

	statuses := make(map[string]dependencyStatus, len(h.checks))
	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for _, dep := range h.checks {
		wg.Add(1)
		go func(dep DependencyCheck) {
			defer wg.Done()
			status := dependencyStatus{OK: true}
			if err := dep.Check(ctx); err != nil {
				status = dependencyStatus{Message: err.Error()}
				applog.Warn("dependency unhealthy", "dependency", dep.Name, "error", err)
			}
			mu.Lock()
			statuses[dep.Name] = status
			mu.Unlock()
		}(dep)
	}
	wg.Wait()

	statusCode := http.StatusOK
	for _, status := range statuses {
		if !status.OK {
			statusCode = http.StatusServiceUnavailable
			break
		}
	}

	c.JSON(statusCode, gin.H{
		"app":          h.appName,
		"env":          h.env,
		"uptime_sec":   int(time.Since(h.startedAt).Seconds()),
		"dependencies": statuses,
	})
}
