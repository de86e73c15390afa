// (C) 2025 GoodData Corporation
package server

import (
	"encoding/json"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/valyala/fasthttp"
)

// handleAdmin dispatches the in-band control-plane endpoints. Admin paths
// never trigger chaos latency or error injection.
func (e *Engine) handleAdmin(ctx *fasthttp.RequestCtx, method, path string) {
	if e.corsEnabled {
		e.applyCORSHeaders(ctx)
		if method == fasthttp.MethodOptions {
			e.handlePreflight(ctx)
			return
		}
	}

	switch {
	case path == "/__health" && method == fasthttp.MethodGet:
		e.handleHealth(ctx)
	case path == "/__status" && method == fasthttp.MethodGet:
		e.handleStatus(ctx)
	case path == "/__mocks" && method == fasthttp.MethodGet:
		e.handleListMocks(ctx)
	case path == "/__mocks" && method == fasthttp.MethodDelete:
		e.handleClearMocks(ctx)
	case strings.HasPrefix(path, "/__mocks/") && method == fasthttp.MethodDelete:
		e.handleDeleteMock(ctx, strings.TrimPrefix(path, "/__mocks/"))
	case path == "/__mode" && method == fasthttp.MethodPost:
		e.handleSetMode(ctx)
	case path == "/__chaos" && method == fasthttp.MethodGet:
		e.handleChaosStatus(ctx)
	case path == "/__chaos" && method == fasthttp.MethodPost:
		e.handleChaosToggle(ctx)
	case path == "/__admin" && method == fasthttp.MethodGet:
		e.handleDashboard(ctx)
	case path == "/__metrics" && method == fasthttp.MethodGet:
		e.metrics.Handler()(ctx)
	default:
		writeJSON(ctx, fasthttp.StatusNotFound, map[string]any{
			"error":   "Not Found",
			"message": "Unknown admin endpoint",
		})
	}
}

func (e *Engine) handleHealth(ctx *fasthttp.RequestCtx) {
	writeJSON(ctx, fasthttp.StatusOK, map[string]any{
		"status": "ok",
		"mode":   string(e.Mode()),
		"uptime": int64(time.Since(e.started).Seconds()),
	})
}

func (e *Engine) handleStatus(ctx *fasthttp.RequestCtx) {
	count, err := e.store.Count()
	if err != nil {
		writeJSON(ctx, fasthttp.StatusInternalServerError, map[string]any{
			"error":   "Internal Server Error",
			"message": "storage read failed",
		})
		return
	}
	status := map[string]any{
		"mode":            string(e.Mode()),
		"recordedEntries": count,
		"port":            e.port,
	}
	if target := e.Target(); target != "" {
		status["target"] = target
	}
	writeJSON(ctx, fasthttp.StatusOK, status)
}

func (e *Engine) handleListMocks(ctx *fasthttp.RequestCtx) {
	entries, err := e.store.List()
	if err != nil {
		writeJSON(ctx, fasthttp.StatusInternalServerError, map[string]any{
			"error":   "Internal Server Error",
			"message": "storage read failed",
		})
		return
	}
	summaries := make([]map[string]any, 0, len(entries))
	for _, entry := range entries {
		summaries = append(summaries, map[string]any{
			"id":        entry.ID,
			"method":    entry.Request.Method,
			"path":      entry.Request.Path,
			"status":    entry.Response.Status,
			"createdAt": entry.CreatedAt,
		})
	}
	writeJSON(ctx, fasthttp.StatusOK, map[string]any{
		"count":   len(entries),
		"entries": summaries,
	})
}

func (e *Engine) handleClearMocks(ctx *fasthttp.RequestCtx) {
	if err := e.store.Clear(); err != nil {
		writeJSON(ctx, fasthttp.StatusInternalServerError, map[string]any{
			"error":   "Internal Server Error",
			"message": "storage write failed",
		})
		return
	}
	log.Info("all recorded entries cleared")
	writeJSON(ctx, fasthttp.StatusOK, map[string]any{
		"success": true,
		"message": "All recorded entries cleared",
	})
}

func (e *Engine) handleDeleteMock(ctx *fasthttp.RequestCtx, id string) {
	deleted, err := e.store.Delete(id)
	if err != nil {
		writeJSON(ctx, fasthttp.StatusInternalServerError, map[string]any{
			"error":   "Internal Server Error",
			"message": "storage write failed",
		})
		return
	}
	if !deleted {
		writeJSON(ctx, fasthttp.StatusNotFound, map[string]any{
			"success": false,
			"message": "No entry with id " + id,
		})
		return
	}
	writeJSON(ctx, fasthttp.StatusOK, map[string]any{
		"success": true,
		"message": "Deleted entry " + id,
	})
}

func (e *Engine) handleSetMode(ctx *fasthttp.RequestCtx) {
	var body struct {
		Mode   string `json:"mode"`
		Target string `json:"target"`
	}
	if err := json.Unmarshal(ctx.PostBody(), &body); err != nil {
		writeJSON(ctx, fasthttp.StatusBadRequest, map[string]any{
			"error":   "Bad Request",
			"message": "invalid JSON body",
		})
		return
	}
	mode, err := ParseMode(body.Mode)
	if err != nil {
		writeJSON(ctx, fasthttp.StatusBadRequest, map[string]any{
			"error":   "Bad Request",
			"message": err.Error(),
		})
		return
	}
	if err := e.SetMode(mode, body.Target); err != nil {
		writeJSON(ctx, fasthttp.StatusBadRequest, map[string]any{
			"error":   "Bad Request",
			"message": err.Error(),
		})
		return
	}
	log.WithFields(log.Fields{"mode": mode, "target": e.Target()}).Info("mode switched")
	writeJSON(ctx, fasthttp.StatusOK, map[string]any{
		"success": true,
		"mode":    string(mode),
	})
}

func (e *Engine) handleChaosStatus(ctx *fasthttp.RequestCtx) {
	stats := e.chaos.Stats()
	writeJSON(ctx, fasthttp.StatusOK, map[string]any{
		"enabled":           e.chaos.Enabled(),
		"requestsProcessed": stats.RequestsProcessed,
		"errorsInjected":    stats.ErrorsInjected,
		"averageLatency":    stats.AverageLatencyMS,
	})
}

func (e *Engine) handleChaosToggle(ctx *fasthttp.RequestCtx) {
	// Decode into a loose map so a non-boolean "enabled" is a 400, not a
	// silent coercion.
	var body map[string]json.RawMessage
	if err := json.Unmarshal(ctx.PostBody(), &body); err != nil {
		writeJSON(ctx, fasthttp.StatusBadRequest, map[string]any{
			"error":   "Bad Request",
			"message": "invalid JSON body",
		})
		return
	}
	raw, ok := body["enabled"]
	var enabled bool
	if !ok || json.Unmarshal(raw, &enabled) != nil {
		writeJSON(ctx, fasthttp.StatusBadRequest, map[string]any{
			"error":   "Bad Request",
			"message": "enabled must be a boolean",
		})
		return
	}
	e.chaos.SetEnabled(enabled)
	log.WithField("enabled", enabled).Info("chaos toggled")
	writeJSON(ctx, fasthttp.StatusOK, map[string]any{
		"success": true,
		"enabled": enabled,
	})
}

// dashboardHTML is a minimal status page; the full dashboard is an
// external collaborator.
const dashboardHTML = `<!DOCTYPE html>
<html>
<head><title>mockpilot</title></head>
<body>
<h1>mockpilot</h1>
<p>Admin endpoints: /__health /__status /__mocks /__mode /__chaos /__metrics</p>
</body>
</html>
`

func (e *Engine) handleDashboard(ctx *fasthttp.RequestCtx) {
	ctx.Response.Header.SetContentType("text/html; charset=utf-8")
	ctx.SetStatusCode(fasthttp.StatusOK)
	ctx.SetBodyString(dashboardHTML)
}

func writeJSON(ctx *fasthttp.RequestCtx, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		ctx.SetStatusCode(fasthttp.StatusInternalServerError)
		return
	}
	ctx.Response.Header.SetContentType("application/json")
	ctx.SetStatusCode(status)
	ctx.SetBody(data)
}
