package gateway

import (
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/valyala/fasthttp"

	"github.com/modelgrid/gateway/pkg/apierr"
)

type middleware = func(fasthttp.RequestHandler) fasthttp.RequestHandler

const (
	headerRequestID    = "X-Request-ID"
	headerResponseTime = "X-Response-Time"

	// Client-supplied request ids longer than this are replaced, not
	// truncated; an id is only useful if it round-trips intact.
	maxRequestIDLen = 128
)

// recovery converts a handler panic into a 500 envelope instead of a dropped
// connection. The panic value goes to the dispatcher's logger.
func recovery(log *slog.Logger) middleware {
	return func(next fasthttp.RequestHandler) fasthttp.RequestHandler {
		return func(ctx *fasthttp.RequestCtx) {
			defer func() {
				if r := recover(); r != nil {
					log.Error("handler_panic",
						slog.Any("panic", r),
						slog.String("method", string(ctx.Method())),
						slog.String("path", string(ctx.Path())),
					)
					ctx.ResetBody()
					apierr.Write(ctx, fasthttp.StatusInternalServerError,
						"internal server error", apierr.TypeServerError, apierr.CodeInternalError)
				}
			}()
			next(ctx)
		}
	}
}

// requestID tags every request with an X-Request-ID, generating a UUID when
// the client sends none (or an unusable one). The id is echoed on the
// response and stored under the "request_id" user value for handler logs.
func requestID(next fasthttp.RequestHandler) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		id := string(ctx.Request.Header.Peek(headerRequestID))
		if id == "" || len(id) > maxRequestIDLen {
			id = uuid.NewString()
		}
		ctx.Response.Header.Set(headerRequestID, id)
		ctx.SetUserValue("request_id", id)
		next(ctx)
	}
}

// timing reports the total handler duration in the X-Response-Time header.
func timing(next fasthttp.RequestHandler) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		start := time.Now()
		next(ctx)
		ctx.Response.Header.Set(headerResponseTime, time.Since(start).String())
	}
}

// securityHeaderSet is the OWASP hardening set for an API-only surface: no
// HTML is ever served, so the CSP denies everything.
var securityHeaderSet = [...][2]string{
	{"Strict-Transport-Security", "max-age=31536000; includeSubDomains"},
	{"X-Content-Type-Options", "nosniff"},
	{"X-Frame-Options", "DENY"},
	{"X-XSS-Protection", "0"}, // deprecated header, disabled in favor of CSP
	{"Content-Security-Policy", "default-src 'none'"},
	{"Referrer-Policy", "no-referrer"},
	{"Permissions-Policy", "geolocation=(), camera=(), microphone=()"},
}

func securityHeaders(next fasthttp.RequestHandler) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		next(ctx)
		for _, kv := range securityHeaderSet {
			ctx.Response.Header.Set(kv[0], kv[1])
		}
	}
}

// corsHandler builds the CORS middleware for the configured origins. Nil or
// ["*"] allows any origin; a specific list is sent joined and marks the
// response as varying by Origin. OPTIONS preflights answer 204 directly.
func corsHandler(origins []string) middleware {
	allowOrigin := "*"
	wildcard := len(origins) == 0 || (len(origins) == 1 && origins[0] == "*")
	if !wildcard {
		allowOrigin = strings.Join(origins, ", ")
	}

	return func(next fasthttp.RequestHandler) fasthttp.RequestHandler {
		return func(ctx *fasthttp.RequestCtx) {
			h := &ctx.Response.Header
			h.Set("Access-Control-Allow-Origin", allowOrigin)
			h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
			h.Set("Access-Control-Allow-Headers", "Authorization, Content-Type, X-Request-ID")
			if !wildcard {
				h.Set("Vary", "Origin")
			}

			if string(ctx.Method()) == fasthttp.MethodOptions {
				ctx.SetStatusCode(fasthttp.StatusNoContent)
				return
			}
			next(ctx)
		}
	}
}

// applyMiddleware wraps h so the first middleware listed is the outermost:
// applyMiddleware(h, mw1, mw2) == mw1(mw2(h)).
func applyMiddleware(h fasthttp.RequestHandler, mws ...middleware) fasthttp.RequestHandler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}
