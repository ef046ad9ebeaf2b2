package api

import (
	"context"
	"net/http"
	"time"

	"github.com/snarg/vidsearch/internal/ingest"
)

// Pinger checks a backing service; *database.DB implements it.
type Pinger interface {
	HealthCheck(ctx context.Context) error
}

// ConnChecker reports broker connectivity; *mqttclient.Client implements it.
type ConnChecker interface {
	IsConnected() bool
}

// WatchStatus and QueueStats are optional watch-mode reporters.
type WatchStatus interface {
	Status() ingest.WatcherStatus
}

type QueueStats interface {
	Stats() ingest.QueueStats
}

type HealthResponse struct {
	Status        string                `json:"status"`
	Version       string                `json:"version"`
	UptimeSeconds int64                 `json:"uptime_seconds"`
	Checks        map[string]string     `json:"checks"`
	Watcher       *ingest.WatcherStatus `json:"watcher,omitempty"`
	Queue         *ingest.QueueStats    `json:"queue,omitempty"`
}

type HealthHandler struct {
	db        Pinger
	mqtt      ConnChecker
	watcher   WatchStatus
	queue     QueueStats
	version   string
	startTime time.Time
}

func NewHealthHandler(db Pinger, mqtt ConnChecker, watcher WatchStatus, queue QueueStats, version string, startTime time.Time) *HealthHandler {
	return &HealthHandler{
		db:        db,
		mqtt:      mqtt,
		watcher:   watcher,
		queue:     queue,
		version:   version,
		startTime: startTime,
	}
}

// ServeHTTP reports unhealthy (503) when the database is down and degraded
// when only the broker is disconnected.
func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string)
	status := "healthy"
	httpStatus := http.StatusOK

	if h.db != nil {
		if err := h.db.HealthCheck(r.Context()); err != nil {
			checks["database"] = "error"
			status = "unhealthy"
			httpStatus = http.StatusServiceUnavailable
		} else {
			checks["database"] = "ok"
		}
	} else {
		checks["database"] = "not_configured"
	}

	if h.mqtt != nil {
		if h.mqtt.IsConnected() {
			checks["mqtt"] = "ok"
		} else {
			checks["mqtt"] = "disconnected"
			if status == "healthy" {
				status = "degraded"
			}
		}
	} else {
		checks["mqtt"] = "not_configured"
	}

	resp := HealthResponse{
		Status:        status,
		Version:       h.version,
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
		Checks:        checks,
	}
	if h.watcher != nil {
		ws := h.watcher.Status()
		checks["file_watcher"] = ws.Status
		resp.Watcher = &ws
	}
	if h.queue != nil {
		qs := h.queue.Stats()
		resp.Queue = &qs
	}

	WriteJSON(w, httpStatus, resp)
}
