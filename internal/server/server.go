// (C) 2025 GoodData Corporation

// Package server implements the mode-dispatching request engine and the
// admin control plane. Each request runs through: admin short-circuit,
// CORS preflight, chaos gate, custom routes, then the mode branch (replay
// lookup, forward+record, or forward+transform+record).
package server

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"github.com/valyala/fasthttp"

	"mockpilot/internal/chaos"
	"mockpilot/internal/intercept"
	"mockpilot/internal/match"
	"mockpilot/internal/metrics"
	"mockpilot/internal/proxy"
	"mockpilot/internal/routes"
	"mockpilot/internal/storage"
	"mockpilot/internal/types"
)

// AdminPrefix marks in-band control-plane paths. Admin requests bypass
// chaos and the mode pipeline.
const AdminPrefix = "/__"

// Mode selects the request pipeline behavior.
type Mode string

const (
	// ModeMock replays from storage only; misses return 404.
	ModeMock Mode = "mock"
	// ModeProxy forwards to the upstream and records the exchange.
	ModeProxy Mode = "proxy"
	// ModeIntercept is ModeProxy with the interceptor pipeline applied
	// before emission and persistence.
	ModeIntercept Mode = "intercept"
)

// ParseMode validates a mode string.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeMock, ModeProxy, ModeIntercept:
		return Mode(s), nil
	}
	return "", fmt.Errorf("unknown mode %q (expected mock, proxy, or intercept)", s)
}

// RequiresTarget reports whether the mode forwards to an upstream.
func (m Mode) RequiresTarget() bool { return m != ModeMock }

// Options configures an Engine.
type Options struct {
	Port          int
	Mode          Mode
	TargetURL     string
	TargetTimeout time.Duration
	CORSEnabled   bool
	CORSOrigins   []string
}

// Engine orchestrates the request pipeline. One instance owns the storage
// handle and the four registries for the process lifetime.
type Engine struct {
	store      storage.Store
	matcher    *match.Matcher
	chaos      *chaos.Injector
	intercepts *intercept.Registry
	routes     *routes.Registry
	metrics    *metrics.Metrics

	port        int
	corsEnabled bool
	corsOrigins []string
	started     time.Time

	// mu guards the mode/target cell and the lazily built forwarder.
	mu        sync.RWMutex
	mode      Mode
	target    string
	timeout   time.Duration
	forwarder *proxy.Forwarder

	// Lifecycle hooks, invoked synchronously on the request path. All are
	// optional.
	OnRequest  func(*types.RequestRecord)
	OnResponse func(*types.RequestRecord, *types.ResponseRecord)
	OnError    func(error)
}

// New creates an engine. The storage must already be initialized; the
// engine closes it on Close.
func New(store storage.Store, matcher *match.Matcher, opts Options) (*Engine, error) {
	mode := opts.Mode
	if mode == "" {
		mode = ModeMock
	}
	if _, err := ParseMode(string(mode)); err != nil {
		return nil, err
	}
	if mode.RequiresTarget() && opts.TargetURL == "" {
		return nil, fmt.Errorf("mode %q requires an upstream target", mode)
	}
	if matcher == nil {
		var err error
		matcher, err = match.New(match.DefaultConfig())
		if err != nil {
			return nil, err
		}
	}
	return &Engine{
		store:       store,
		matcher:     matcher,
		chaos:       chaos.New(),
		intercepts:  intercept.NewRegistry(),
		routes:      routes.NewRegistry(),
		metrics:     metrics.New(),
		port:        opts.Port,
		corsEnabled: opts.CORSEnabled,
		corsOrigins: opts.CORSOrigins,
		started:     time.Now(),
		mode:        mode,
		target:      opts.TargetURL,
		timeout:     opts.TargetTimeout,
	}, nil
}

// Chaos returns the chaos injector for programmatic rule setup.
func (e *Engine) Chaos() *chaos.Injector { return e.chaos }

// Intercepts returns the interceptor registry.
func (e *Engine) Intercepts() *intercept.Registry { return e.intercepts }

// Routes returns the custom route registry.
func (e *Engine) Routes() *routes.Registry { return e.routes }

// Matcher returns the request matcher.
func (e *Engine) Matcher() *match.Matcher { return e.matcher }

// Store returns the storage backend.
func (e *Engine) Store() storage.Store { return e.store }

// Mode returns the current mode.
func (e *Engine) Mode() Mode {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.mode
}

// Target returns the current upstream target URL, if any.
func (e *Engine) Target() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.target
}

// SetMode switches the mode atomically. A forward mode without any known
// target is rejected. The forwarder is rebuilt lazily on the next forward.
func (e *Engine) SetMode(mode Mode, target string) error {
	if _, err := ParseMode(string(mode)); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if target == "" {
		target = e.target
	}
	if mode.RequiresTarget() && target == "" {
		return fmt.Errorf("mode %q requires an upstream target", mode)
	}
	e.mode = mode
	e.target = target
	e.forwarder = nil
	return nil
}

// getForwarder returns the forwarder, building it on first use after a
// mode or target switch.
func (e *Engine) getForwarder() (*proxy.Forwarder, error) {
	e.mu.RLock()
	fwd := e.forwarder
	e.mu.RUnlock()
	if fwd != nil {
		return fwd, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.forwarder != nil {
		return e.forwarder, nil
	}
	if e.target == "" {
		return nil, errors.New("no upstream target configured")
	}
	fwd, err := proxy.New(e.target, e.timeout)
	if err != nil {
		return nil, err
	}
	e.forwarder = fwd
	return fwd, nil
}

// Close releases the storage handle.
func (e *Engine) Close() error {
	return e.store.Close()
}

// Handle is the fasthttp entry point for every request.
func (e *Engine) Handle(ctx *fasthttp.RequestCtx) {
	method := strings.ToUpper(string(ctx.Method()))
	rawURI := string(ctx.RequestURI())
	path := rawURI
	if idx := strings.IndexByte(rawURI, '?'); idx != -1 {
		path = rawURI[:idx]
	}

	// Admin short-circuit: no chaos, no mode pipeline.
	if strings.HasPrefix(path, AdminPrefix) {
		e.handleAdmin(ctx, method, path)
		return
	}

	if e.corsEnabled {
		e.applyCORSHeaders(ctx)
		if method == fasthttp.MethodOptions {
			e.handlePreflight(ctx)
			return
		}
	}

	record := e.buildRequestRecord(ctx, method, rawURI, path)
	mode := e.Mode()
	e.metrics.Requests.WithLabelValues(string(mode), method).Inc()

	if e.OnRequest != nil {
		e.OnRequest(record)
	}

	// Chaos gate.
	if delay, injected := e.chaos.Apply(ctx, method, path); injected != nil {
		e.metrics.ChaosInjected.Inc()
		log.WithFields(log.Fields{
			"method": method, "path": path,
			"status": injected.Status, "delayMs": delay,
		}).Info("chaos error injected")
		e.emit(ctx, record, injected)
		return
	}

	// Custom routes win over every mode-default behavior.
	if route, params := e.routes.Lookup(method, path); route != nil {
		e.serveCustomRoute(ctx, record, route, params)
		return
	}

	switch mode {
	case ModeMock:
		e.serveReplay(ctx, record)
	case ModeProxy:
		e.serveForward(ctx, record, false)
	case ModeIntercept:
		e.serveForward(ctx, record, true)
	}
}

// buildRequestRecord normalizes a fasthttp request into a record: upper
// method, query map (last value wins), lowercased comma-joined headers,
// auto-decoded body.
func (e *Engine) buildRequestRecord(ctx *fasthttp.RequestCtx, method, rawURI, path string) *types.RequestRecord {
	query := make(map[string]string)
	ctx.QueryArgs().VisitAll(func(key, value []byte) {
		query[string(key)] = string(value)
	})
	if len(query) == 0 {
		query = nil
	}

	headers := make(map[string]string)
	ctx.Request.Header.VisitAll(func(key, value []byte) {
		name := strings.ToLower(string(key))
		if existing, ok := headers[name]; ok {
			headers[name] = existing + "," + string(value)
			return
		}
		headers[name] = string(value)
	})

	return &types.RequestRecord{
		Method:    method,
		URL:       rawURI,
		Path:      path,
		Query:     query,
		Headers:   headers,
		Body:      decodeRequestBody(ctx, headers["content-type"]),
		ID:        uuid.NewString(),
		Timestamp: time.Now().UnixMilli(),
	}
}

// decodeRequestBody auto-decodes JSON and URL-encoded bodies; other
// content types yield raw strings. A missing body stays absent.
func decodeRequestBody(ctx *fasthttp.RequestCtx, contentType string) *types.Body {
	raw := ctx.PostBody()
	if len(raw) == 0 {
		return nil
	}
	mediaType := contentType
	if idx := strings.IndexByte(mediaType, ';'); idx != -1 {
		mediaType = mediaType[:idx]
	}
	if strings.TrimSpace(strings.ToLower(mediaType)) == "application/x-www-form-urlencoded" {
		form := make(map[string]any)
		ctx.PostArgs().VisitAll(func(key, value []byte) {
			form[string(key)] = string(value)
		})
		return types.JSONBody(form)
	}
	return proxy.DecodeBody(raw, contentType)
}

// serveReplay answers from storage via the approximate matcher.
func (e *Engine) serveReplay(ctx *fasthttp.RequestCtx, record *types.RequestRecord) {
	entries, err := e.store.List()
	if err != nil {
		log.WithError(err).Error("storage read failed")
		e.emit(ctx, record, errorResponse(500, "Internal Server Error", "storage read failed", nil))
		return
	}

	if scored := e.matcher.Match(*record, entries); scored != nil {
		e.metrics.ReplayHits.Inc()
		log.WithFields(log.Fields{
			"method": record.Method, "path": record.Path,
			"entry": scored.Entry.ID, "score": scored.Score,
		}).Debug("replay hit")
		resp := scored.Entry.Response
		e.emit(ctx, record, &resp)
		return
	}

	e.metrics.ReplayMisses.Inc()
	log.WithFields(log.Fields{
		"method": record.Method, "path": record.Path,
	}).Info("no matching mock")
	e.emit(ctx, record, &types.ResponseRecord{
		Status:  fasthttp.StatusNotFound,
		Headers: map[string]string{"content-type": "application/json"},
		Body: types.JSONBody(map[string]any{
			"error":   "Not Found",
			"message": "No matching mock found for this request",
			"request": map[string]any{
				"method": record.Method,
				"path":   record.Path,
			},
		}),
	})
}

// serveForward forwards to the upstream, optionally applies the
// interceptor pipeline, persists the exchange, and emits the response.
func (e *Engine) serveForward(ctx *fasthttp.RequestCtx, record *types.RequestRecord, transform bool) {
	fwd, err := e.getForwarder()
	if err != nil {
		e.forwardError(ctx, record, err)
		return
	}

	resp, err := fwd.Forward(ctx, record)
	if err != nil {
		e.forwardError(ctx, record, err)
		return
	}

	if transform {
		resp = e.applyIntercept(ctx, record, resp)
	}

	// Persistence failure must not fail the client response.
	if _, err := e.store.Save(*record, *resp); err != nil {
		log.WithError(err).WithFields(log.Fields{
			"method": record.Method, "path": record.Path,
		}).Error("failed to persist recorded exchange")
	}

	e.emit(ctx, record, resp)
}

// applyIntercept runs the first matching interceptor rule. A handler
// failure is logged and the pre-transform response is served, so a buggy
// rule cannot brick the proxy.
func (e *Engine) applyIntercept(ctx *fasthttp.RequestCtx, record *types.RequestRecord, resp *types.ResponseRecord) *types.ResponseRecord {
	rule, params := e.intercepts.Lookup(record.Method, record.Path)
	if rule == nil {
		return resp
	}
	transformed, err := rule.Handler(ctx, *resp, &intercept.RuleContext{
		Request: record,
		Params:  params,
		Query:   record.Query,
	})
	if err != nil {
		log.WithError(err).WithFields(log.Fields{
			"rule": rule.ID, "method": record.Method, "path": record.Path,
		}).Error("interceptor handler failed, serving original response")
		return resp
	}
	return &transformed
}

// forwardError maps upstream failures: deadline exceeded to 504 and
// everything else to 502. Neither outcome is persisted.
func (e *Engine) forwardError(ctx *fasthttp.RequestCtx, record *types.RequestRecord, err error) {
	e.metrics.UpstreamErrors.Inc()
	if e.OnError != nil {
		e.OnError(err)
	}
	log.WithError(err).WithFields(log.Fields{
		"method": record.Method, "path": record.Path,
	}).Error("upstream forward failed")

	if errors.Is(err, proxy.ErrGatewayTimeout) {
		e.emit(ctx, record, errorResponse(
			fasthttp.StatusGatewayTimeout, "Gateway Timeout",
			"Upstream did not respond within the configured deadline", err.Error(),
		))
		return
	}
	e.emit(ctx, record, errorResponse(
		fasthttp.StatusBadGateway, "Bad Gateway",
		"Failed to reach the upstream target", err.Error(),
	))
}

// serveCustomRoute invokes a user handler and emits its result. Handler
// failure is a 500 with a neutral message.
func (e *Engine) serveCustomRoute(ctx *fasthttp.RequestCtx, record *types.RequestRecord, route *routes.Route, params map[string]string) {
	result, err := route.Handler(ctx, &routes.Input{
		Params:  params,
		Query:   record.Query,
		Headers: record.Headers,
		Body:    record.Body,
		Request: record,
	})
	if err != nil || result == nil {
		if err != nil {
			log.WithError(err).WithFields(log.Fields{
				"method": record.Method, "path": record.Path,
			}).Error("custom route handler failed")
		}
		e.emit(ctx, record, errorResponse(500, "Internal Server Error", "custom route handler failed", nil))
		return
	}

	status := result.Status
	if status == 0 {
		status = fasthttp.StatusOK
	}
	e.emit(ctx, record, &types.ResponseRecord{
		Status:    status,
		Headers:   result.Headers,
		Body:      types.JSONBody(result.Body),
		Timestamp: time.Now().UnixMilli(),
	})
}

// emit writes a response record to the wire and fires OnResponse. Recorded
// headers are emitted verbatim minus hop-by-hop names; JSON bodies are
// re-serialized.
func (e *Engine) emit(ctx *fasthttp.RequestCtx, record *types.RequestRecord, resp *types.ResponseRecord) {
	ctx.SetStatusCode(resp.Status)
	contentTypeSet := false
	for key, value := range resp.Headers {
		switch strings.ToLower(key) {
		case "transfer-encoding", "content-encoding", "content-length", "connection":
			continue
		case "content-type":
			contentTypeSet = true
		}
		ctx.Response.Header.Set(key, value)
	}

	if resp.Body != nil {
		if !contentTypeSet && !resp.Body.Raw {
			ctx.Response.Header.SetContentType("application/json")
		}
		ctx.SetBody(resp.Body.Bytes())
	}

	if e.OnResponse != nil {
		e.OnResponse(record, resp)
	}
}

// errorResponse builds a structured JSON error body.
func errorResponse(status int, errText, message string, details any) *types.ResponseRecord {
	body := map[string]any{
		"error":   errText,
		"message": message,
	}
	if details != nil {
		body["details"] = details
	}
	return &types.ResponseRecord{
		Status:    status,
		Headers:   map[string]string{"content-type": "application/json"},
		Body:      types.JSONBody(body),
		Timestamp: time.Now().UnixMilli(),
	}
}
