// (C) 2025 GoodData Corporation

// Package proxy forwards live requests to the configured upstream and
// turns the responses into response records for the client and for
// storage.
package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/valyala/fasthttp"

	"mockpilot/internal/types"
)

// ErrGatewayTimeout marks an upstream round-trip that exceeded the
// configured deadline. The engine maps it to 504.
var ErrGatewayTimeout = errors.New("proxy: upstream deadline exceeded")

// hop-by-hop and transport-level headers never copied into records; the
// client receives decoded, buffered content.
var strippedResponseHeaders = map[string]struct{}{
	"transfer-encoding": {},
	"content-encoding":  {},
	"content-length":    {},
	"connection":        {},
}

// Forwarder copies live requests to one upstream base URL.
type Forwarder struct {
	base    string
	host    string
	timeout time.Duration
	client  *fasthttp.Client
}

// New creates a forwarder for the given upstream base URL. The URL is used
// as given (no TLS termination logic); the Host header of outbound
// requests is rewritten to its authority.
func New(base string, timeout time.Duration) (*Forwarder, error) {
	u, err := url.Parse(base)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid upstream URL %q", base)
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Forwarder{
		base:    strings.TrimSuffix(base, "/"),
		host:    u.Host,
		timeout: timeout,
		client:  &fasthttp.Client{},
	}, nil
}

// Target returns the upstream base URL.
func (f *Forwarder) Target() string { return f.base }

// Forward sends the recorded form of a live request upstream and buffers
// the response into a record. JSON response bodies are decoded; decode
// failures fall through to raw string bodies. Cancellation via ctx
// abandons the wait; the round-trip goroutine owns the pooled request and
// response objects and releases them only after the transport returns, so
// an abandoned forward never hands in-flight objects back to the pools.
func (f *Forwarder) Forward(ctx context.Context, rec *types.RequestRecord) (*types.ResponseRecord, error) {
	type outcome struct {
		record *types.ResponseRecord
		err    error
	}
	done := make(chan outcome, 1)

	go func() {
		req := fasthttp.AcquireRequest()
		resp := fasthttp.AcquireResponse()
		defer fasthttp.ReleaseRequest(req)
		defer fasthttp.ReleaseResponse(resp)

		f.buildRequest(req, rec)
		if err := f.client.DoTimeout(req, resp, f.timeout); err != nil {
			if errors.Is(err, fasthttp.ErrTimeout) {
				done <- outcome{err: ErrGatewayTimeout}
				return
			}
			done <- outcome{err: fmt.Errorf("upstream request failed: %w", err)}
			return
		}
		// buildResponseRecord copies everything out of resp, so the record
		// stays valid after the deferred release.
		done <- outcome{record: buildResponseRecord(resp)}
	}()

	select {
	case out := <-done:
		return out.record, out.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *Forwarder) buildRequest(req *fasthttp.Request, rec *types.RequestRecord) {
	req.SetRequestURI(f.base + rec.URL)
	req.Header.SetMethod(rec.Method)
	for key, value := range rec.Headers {
		if strings.EqualFold(key, "host") || strings.EqualFold(key, "content-length") {
			continue
		}
		req.Header.Set(key, value)
	}
	// changeOrigin: present ourselves as a client of the upstream.
	req.Header.SetHost(f.host)
	if rec.Body != nil {
		req.SetBody(rec.Body.Bytes())
	}
}

// buildResponseRecord buffers a fasthttp response into a record with
// lowercased, comma-joined headers and a decoded body.
func buildResponseRecord(resp *fasthttp.Response) *types.ResponseRecord {
	body := resp.Body()
	if string(resp.Header.ContentEncoding()) == "gzip" {
		if decompressed, err := fasthttp.AppendGunzipBytes(nil, body); err == nil {
			body = decompressed
		}
	}
	bodyCopy := make([]byte, len(body))
	copy(bodyCopy, body)

	headers := make(map[string]string)
	resp.Header.VisitAll(func(key, value []byte) {
		name := strings.ToLower(string(key))
		if _, skip := strippedResponseHeaders[name]; skip {
			return
		}
		if existing, ok := headers[name]; ok {
			headers[name] = existing + "," + string(value)
			return
		}
		headers[name] = string(value)
	})

	return &types.ResponseRecord{
		Status:    resp.StatusCode(),
		Headers:   headers,
		Body:      DecodeBody(bodyCopy, headers["content-type"]),
		Timestamp: time.Now().UnixMilli(),
	}
}

// DecodeBody turns raw payload bytes into a Body: decoded JSON for JSON
// content types, raw string otherwise, nil for empty payloads.
func DecodeBody(raw []byte, contentType string) *types.Body {
	if len(raw) == 0 {
		return nil
	}
	if isJSONContentType(contentType) {
		var v any
		if err := json.Unmarshal(raw, &v); err == nil {
			return types.JSONBody(v)
		}
	}
	return types.RawBody(string(raw))
}

func isJSONContentType(contentType string) bool {
	mediaType := contentType
	if idx := strings.IndexByte(mediaType, ';'); idx != -1 {
		mediaType = mediaType[:idx]
	}
	mediaType = strings.TrimSpace(strings.ToLower(mediaType))
	return mediaType == "application/json" || strings.HasSuffix(mediaType, "+json")
}
