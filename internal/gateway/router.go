package gateway

import (
	"context"
	"fmt"
	"runtime/debug"

	"go.uber.org/zap"
)

// HandlerFunc serves one route. A returned error becomes a 500
// internal_error; expected failures are returned as tagged bodies.
type HandlerFunc func(ctx context.Context, req *Request) (Body, error)

// Router dispatches on exact method and path.
type Router struct {
	routes map[string]HandlerFunc
	logger *zap.Logger
}

// NewRouter creates an empty router.
func NewRouter(logger *zap.Logger) *Router {
	return &Router{routes: make(map[string]HandlerFunc), logger: logger}
}

// Handle registers h for method and path. Registering a route twice panics.
func (r *Router) Handle(method, path string, h HandlerFunc) {
	key := method + ":" + path
	if _, exists := r.routes[key]; exists {
		panic(fmt.Sprintf("gateway: duplicate route %s", key))
	}
	r.routes[key] = h
}

// Dispatch runs the matching handler. Panics are recovered into a 500.
func (r *Router) Dispatch(ctx context.Context, req *Request) (body Body) {
	h, ok := r.routes[req.RouteKey()]
	if !ok {
		return failure(404, "not_found", "Unknown endpoint")
	}

	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("handler panic",
				zap.String("request_id", req.ID),
				zap.String("route", req.RouteKey()),
				zap.Any("panic", p),
				zap.ByteString("stack", debug.Stack()))
			body = failure(500, "internal_error", fmt.Sprint(p))
		}
	}()

	body, err := h(ctx, req)
	if err != nil {
		r.logger.Error("handler failed",
			zap.String("request_id", req.ID),
			zap.String("route", req.RouteKey()),
			zap.Error(err))
		return failure(500, "internal_error", err.Error())
	}
	if body == nil {
		body = Body{"ok": true}
	}
	return body
}
