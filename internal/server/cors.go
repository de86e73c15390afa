// (C) 2025 GoodData Corporation
package server

import (
	"github.com/valyala/fasthttp"
)

// applyCORSHeaders sets the Access-Control response headers when the
// request origin is allowed.
func (e *Engine) applyCORSHeaders(ctx *fasthttp.RequestCtx) {
	origin := string(ctx.Request.Header.Peek("Origin"))
	allowed := e.allowedOrigin(origin)
	if allowed == "" {
		return
	}
	ctx.Response.Header.Set("Access-Control-Allow-Origin", allowed)
	if allowed != "*" {
		ctx.Response.Header.Set("Vary", "Origin")
	}
}

// handlePreflight short-circuits OPTIONS requests before any mode
// branching.
func (e *Engine) handlePreflight(ctx *fasthttp.RequestCtx) {
	ctx.Response.Header.Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
	requested := string(ctx.Request.Header.Peek("Access-Control-Request-Headers"))
	if requested == "" {
		requested = "Content-Type, Authorization"
	}
	ctx.Response.Header.Set("Access-Control-Allow-Headers", requested)
	ctx.Response.Header.Set("Access-Control-Max-Age", "600")
	ctx.SetStatusCode(fasthttp.StatusNoContent)
}

// allowedOrigin resolves the Access-Control-Allow-Origin value for a
// request origin, or "" when the origin is not in the allow-list.
func (e *Engine) allowedOrigin(origin string) string {
	if len(e.corsOrigins) == 0 {
		return "*"
	}
	for _, allowed := range e.corsOrigins {
		if allowed == "*" {
			return "*"
		}
		if allowed == origin {
			return origin
		}
	}
	return ""
}
