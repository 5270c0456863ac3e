package obs

import "context"

type requestInfoKey struct{}

// requestInfo is filled in while a request is served so outer middleware
// can read what inner handlers learned.
type requestInfo struct {
	route    string
	cartMode string
}

func infoFrom(ctx context.Context) *requestInfo {
	if ctx == nil {
		return nil
	}
	info, _ := ctx.Value(requestInfoKey{}).(*requestInfo)
	return info
}

// WithRequestInfo attaches an empty request annotation holder to ctx.
func WithRequestInfo(ctx context.Context) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if infoFrom(ctx) != nil {
		return ctx
	}
	return context.WithValue(ctx, requestInfoKey{}, &requestInfo{})
}

// WithRoutePattern stores the matched router pattern on the context.
func WithRoutePattern(ctx context.Context, pattern string) context.Context {
	ctx = WithRequestInfo(ctx)
	infoFrom(ctx).route = pattern
	return ctx
}

// RoutePatternFromContext extracts the route pattern from context if present.
func RoutePatternFromContext(ctx context.Context) string {
	if info := infoFrom(ctx); info != nil {
		return info.route
	}
	return ""
}

// AnnotateCartMode records which cart backend served the request. It is a
// no-op outside an instrumented request.
func AnnotateCartMode(ctx context.Context, mode string) {
	if info := infoFrom(ctx); info != nil {
		info.cartMode = mode
	}
}

// CartModeFromContext returns the cart backend recorded for the request.
func CartModeFromContext(ctx context.Context) string {
	if info := infoFrom(ctx); info != nil {
		return info.cartMode
	}
	return ""
}
