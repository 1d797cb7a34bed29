package gateway

import (
	"log/slog"
	"strings"
	"testing"

	"github.com/valyala/fasthttp"
)

func TestRecovery_CatchesPanic(t *testing.T) {
	handler := recovery(slog.New(slog.DiscardHandler))(func(ctx *fasthttp.RequestCtx) {
		panic("boom")
	})

	ctx := &fasthttp.RequestCtx{}
	handler(ctx)

	if ctx.Response.StatusCode() != fasthttp.StatusInternalServerError {
		t.Errorf("expected 500, got %d", ctx.Response.StatusCode())
	}
	if got := string(ctx.Response.Header.ContentType()); got != "application/json" {
		t.Errorf("expected application/json, got %s", got)
	}
	body := string(ctx.Response.Body())
	if !strings.Contains(body, "internal server error") || !strings.Contains(body, "server_error") {
		t.Errorf("unexpected panic body: %s", body)
	}
}

func TestRecovery_PassThrough(t *testing.T) {
	handler := recovery(slog.New(slog.DiscardHandler))(func(ctx *fasthttp.RequestCtx) {
		ctx.SetStatusCode(fasthttp.StatusOK)
	})

	ctx := &fasthttp.RequestCtx{}
	handler(ctx)

	if ctx.Response.StatusCode() != fasthttp.StatusOK {
		t.Errorf("expected 200, got %d", ctx.Response.StatusCode())
	}
}

func TestRequestID_GeneratedAndPropagated(t *testing.T) {
	var seen string
	handler := requestID(func(ctx *fasthttp.RequestCtx) {
		seen, _ = ctx.UserValue("request_id").(string)
	})

	ctx := &fasthttp.RequestCtx{}
	handler(ctx)

	if seen == "" {
		t.Error("request_id user value should be set")
	}
	if got := string(ctx.Response.Header.Peek(headerRequestID)); got != seen {
		t.Errorf("response header %q does not match user value %q", got, seen)
	}
}

func TestRequestID_PreservesClientID(t *testing.T) {
	handler := requestID(func(ctx *fasthttp.RequestCtx) {})

	ctx := &fasthttp.RequestCtx{}
	ctx.Request.Header.Set(headerRequestID, "req-42")
	handler(ctx)

	if got := string(ctx.Response.Header.Peek(headerRequestID)); got != "req-42" {
		t.Errorf("expected req-42, got %q", got)
	}
}

func TestRequestID_ReplacesOversizedClientID(t *testing.T) {
	oversized := strings.Repeat("x", maxRequestIDLen+1)
	handler := requestID(func(ctx *fasthttp.RequestCtx) {})

	ctx := &fasthttp.RequestCtx{}
	ctx.Request.Header.Set(headerRequestID, oversized)
	handler(ctx)

	got := string(ctx.Response.Header.Peek(headerRequestID))
	if got == oversized || got == "" {
		t.Errorf("oversized id should be replaced, got %q", got)
	}
}

func TestTiming_SetsHeader(t *testing.T) {
	handler := timing(func(ctx *fasthttp.RequestCtx) {})

	ctx := &fasthttp.RequestCtx{}
	handler(ctx)

	if string(ctx.Response.Header.Peek(headerResponseTime)) == "" {
		t.Error("X-Response-Time header should be set")
	}
}

func TestSecurityHeaders_AllSet(t *testing.T) {
	handler := securityHeaders(func(ctx *fasthttp.RequestCtx) {})

	ctx := &fasthttp.RequestCtx{}
	handler(ctx)

	for _, kv := range securityHeaderSet {
		if got := string(ctx.Response.Header.Peek(kv[0])); got != kv[1] {
			t.Errorf("header %s: expected %q, got %q", kv[0], kv[1], got)
		}
	}
}

func TestCORS_Wildcard(t *testing.T) {
	handler := corsHandler(nil)(func(ctx *fasthttp.RequestCtx) {})

	ctx := &fasthttp.RequestCtx{}
	ctx.Request.Header.SetMethod("GET")
	handler(ctx)

	if got := string(ctx.Response.Header.Peek("Access-Control-Allow-Origin")); got != "*" {
		t.Errorf("expected wildcard origin, got %q", got)
	}
	if got := string(ctx.Response.Header.Peek("Vary")); got != "" {
		t.Errorf("wildcard must not vary by origin, got %q", got)
	}
}

func TestCORS_SpecificOrigins(t *testing.T) {
	origins := []string{"https://console.modelgrid.dev", "https://app.modelgrid.dev"}
	handler := corsHandler(origins)(func(ctx *fasthttp.RequestCtx) {})

	ctx := &fasthttp.RequestCtx{}
	ctx.Request.Header.SetMethod("GET")
	handler(ctx)

	got := string(ctx.Response.Header.Peek("Access-Control-Allow-Origin"))
	want := "https://console.modelgrid.dev, https://app.modelgrid.dev"
	if got != want {
		t.Errorf("expected %q, got %q", want, got)
	}
	if got := string(ctx.Response.Header.Peek("Vary")); got != "Origin" {
		t.Errorf("allowlisted CORS must vary by Origin, got %q", got)
	}
}

func TestCORS_PreflightShortCircuits(t *testing.T) {
	reached := false
	handler := corsHandler(nil)(func(ctx *fasthttp.RequestCtx) {
		reached = true
	})

	ctx := &fasthttp.RequestCtx{}
	ctx.Request.Header.SetMethod("OPTIONS")
	handler(ctx)

	if ctx.Response.StatusCode() != fasthttp.StatusNoContent {
		t.Errorf("preflight should return 204, got %d", ctx.Response.StatusCode())
	}
	if reached {
		t.Error("preflight must not reach the inner handler")
	}
}

func TestApplyMiddleware_Order(t *testing.T) {
	var order []string
	mw := func(name string) middleware {
		return func(next fasthttp.RequestHandler) fasthttp.RequestHandler {
			return func(ctx *fasthttp.RequestCtx) {
				order = append(order, name)
				next(ctx)
			}
		}
	}

	h := applyMiddleware(func(ctx *fasthttp.RequestCtx) {
		order = append(order, "handler")
	}, mw("outer"), mw("inner"))

	h(&fasthttp.RequestCtx{})

	want := []string{"outer", "inner", "handler"}
	for i, name := range want {
		if i >= len(order) || order[i] != name {
			t.Fatalf("expected order %v, got %v", want, order)
		}
	}
}
