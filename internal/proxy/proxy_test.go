package proxy

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"

	"mockpilot/internal/types"
)

// startUpstream serves handler on a loopback listener and returns its base
// URL.
func startUpstream(t *testing.T, handler fasthttp.RequestHandler) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := &fasthttp.Server{Handler: handler}
	go srv.Serve(ln) //nolint:errcheck
	t.Cleanup(func() { srv.Shutdown() })

	return "http://" + ln.Addr().String()
}

func TestForwardRoundTrip(t *testing.T) {
	base := startUpstream(t, func(ctx *fasthttp.RequestCtx) {
		assert.Equal(t, "/api/users?page=2", string(ctx.RequestURI()))
		assert.Equal(t, "POST", string(ctx.Method()))
		assert.Equal(t, "v1", string(ctx.Request.Header.Peek("X-Custom")))
		assert.JSONEq(t, `{"name":"Ann"}`, string(ctx.PostBody()))

		ctx.SetStatusCode(201)
		ctx.Response.Header.Set("Content-Type", "application/json")
		ctx.Response.Header.Set("X-Upstream", "yes")
		ctx.SetBodyString(`{"id": 7}`)
	})

	f, err := New(base, 5*time.Second)
	require.NoError(t, err)

	resp, err := f.Forward(context.Background(), &types.RequestRecord{
		Method:  "POST",
		URL:     "/api/users?page=2",
		Path:    "/api/users",
		Headers: map[string]string{"x-custom": "v1", "content-type": "application/json"},
		Body:    types.JSONBody(map[string]any{"name": "Ann"}),
	})
	require.NoError(t, err)
	assert.Equal(t, 201, resp.Status)
	assert.Equal(t, "yes", resp.Headers["x-upstream"])

	obj := resp.Body.Object()
	require.NotNil(t, obj, "JSON response must be decoded")
	assert.Equal(t, float64(7), obj["id"])
}

func TestForwardRewritesHost(t *testing.T) {
	var gotHost string
	base := startUpstream(t, func(ctx *fasthttp.RequestCtx) {
		gotHost = string(ctx.Host())
		ctx.SetStatusCode(204)
	})

	f, err := New(base, time.Second)
	require.NoError(t, err)

	_, err = f.Forward(context.Background(), &types.RequestRecord{
		Method:  "GET",
		URL:     "/",
		Headers: map[string]string{"host": "client-facing.example.com"},
	})
	require.NoError(t, err)
	assert.Equal(t, base[len("http://"):], gotHost)
}

func TestForwardNonJSONBodyStaysRaw(t *testing.T) {
	base := startUpstream(t, func(ctx *fasthttp.RequestCtx) {
		ctx.Response.Header.Set("Content-Type", "text/plain")
		ctx.SetBodyString("plain text payload")
	})

	f, err := New(base, time.Second)
	require.NoError(t, err)

	resp, err := f.Forward(context.Background(), &types.RequestRecord{Method: "GET", URL: "/"})
	require.NoError(t, err)
	assert.Equal(t, "plain text payload", resp.Body.Value())
}

func TestForwardDecodesGzip(t *testing.T) {
	base := startUpstream(t, func(ctx *fasthttp.RequestCtx) {
		ctx.Response.Header.Set("Content-Type", "application/json")
		ctx.Response.Header.Set("Content-Encoding", "gzip")
		ctx.SetBody(fasthttp.AppendGzipBytes(nil, []byte(`{"zipped":true}`)))
	})

	f, err := New(base, time.Second)
	require.NoError(t, err)

	resp, err := f.Forward(context.Background(), &types.RequestRecord{Method: "GET", URL: "/"})
	require.NoError(t, err)
	obj := resp.Body.Object()
	require.NotNil(t, obj)
	assert.Equal(t, true, obj["zipped"])
	// Transport headers are stripped from the record.
	assert.NotContains(t, resp.Headers, "content-encoding")
	assert.NotContains(t, resp.Headers, "content-length")
}

func TestForwardEmptyBodyIsAbsent(t *testing.T) {
	base := startUpstream(t, func(ctx *fasthttp.RequestCtx) {
		ctx.SetStatusCode(204)
	})

	f, err := New(base, time.Second)
	require.NoError(t, err)

	resp, err := f.Forward(context.Background(), &types.RequestRecord{Method: "DELETE", URL: "/x"})
	require.NoError(t, err)
	assert.Equal(t, 204, resp.Status)
	assert.Nil(t, resp.Body)
}

func TestForwardUnreachableUpstream(t *testing.T) {
	// A listener we immediately close gives a connection-refused port.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	base := "http://" + ln.Addr().String()
	require.NoError(t, ln.Close())

	f, err := New(base, time.Second)
	require.NoError(t, err)

	_, err = f.Forward(context.Background(), &types.RequestRecord{Method: "GET", URL: "/"})
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrGatewayTimeout)
}

func TestForwardTimeout(t *testing.T) {
	base := startUpstream(t, func(ctx *fasthttp.RequestCtx) {
		time.Sleep(2 * time.Second)
	})

	f, err := New(base, 100*time.Millisecond)
	require.NoError(t, err)

	_, err = f.Forward(context.Background(), &types.RequestRecord{Method: "GET", URL: "/"})
	assert.ErrorIs(t, err, ErrGatewayTimeout)
}

func TestForwardContextCancellation(t *testing.T) {
	base := startUpstream(t, func(ctx *fasthttp.RequestCtx) {
		time.Sleep(2 * time.Second)
	})

	f, err := New(base, 10*time.Second)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err = f.Forward(ctx, &types.RequestRecord{Method: "GET", URL: "/"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}

func TestForwardAbandonedRoundTripKeepsPooledObjects(t *testing.T) {
	unblock := make(chan struct{})
	base := startUpstream(t, func(ctx *fasthttp.RequestCtx) {
		<-unblock
	})
	defer close(unblock)

	f, err := New(base, 10*time.Second)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err = f.Forward(ctx, &types.RequestRecord{
		Method:  "POST",
		URL:     "/slow",
		Headers: map[string]string{"x-marker": "abandoned"},
		Body:    types.JSONBody(map[string]any{"payload": "still in flight"}),
	})
	require.ErrorIs(t, err, context.DeadlineExceeded)

	// The abandoned round-trip still owns its request and response; churning
	// the global pools must never hand us those objects. Run under -race.
	for i := 0; i < 256; i++ {
		req := fasthttp.AcquireRequest()
		req.SetRequestURI("http://127.0.0.1/pooled")
		req.Header.Set("X-Churn", "1")
		req.SetBodyString("pooled body")
		assert.Equal(t, "1", string(req.Header.Peek("X-Churn")))

		resp := fasthttp.AcquireResponse()
		resp.SetStatusCode(200)
		resp.SetBodyString("pooled response")
		assert.Equal(t, "pooled response", string(resp.Body()))

		fasthttp.ReleaseResponse(resp)
		fasthttp.ReleaseRequest(req)
	}
}

func TestNewRejectsBadURLs(t *testing.T) {
	for _, base := range []string{"", "not-a-url", "example.com", "http://"} {
		_, err := New(base, time.Second)
		assert.Error(t, err, "url %q", base)
	}
}

func TestDecodeBody(t *testing.T) {
	assert.Nil(t, DecodeBody(nil, "application/json"))
	assert.Nil(t, DecodeBody([]byte{}, "text/plain"))

	b := DecodeBody([]byte(`{"a":1}`), "application/json; charset=utf-8")
	require.NotNil(t, b)
	obj := b.Object()
	require.NotNil(t, obj)
	assert.Equal(t, float64(1), obj["a"])

	b = DecodeBody([]byte(`{"a":1}`), "application/problem+json")
	require.NotNil(t, b)
	assert.NotNil(t, b.Object())

	// Malformed JSON under a JSON content type degrades to raw.
	b = DecodeBody([]byte(`{"a":`), "application/json")
	require.NotNil(t, b)
	assert.Equal(t, `{"a":`, b.Value())

	b = DecodeBody([]byte(`{"a":1}`), "text/html")
	require.NotNil(t, b)
	assert.Equal(t, `{"a":1}`, b.Value())
}
