// Package requestctx carries request-scoped values between middleware and handlers.
package requestctx

import (
	"context"

	"go.uber.org/zap"

	"github.com/changerplanet/WebWaka2-sub010/internal/domain"
)

type contextKey string

const (
	loggerContextKey contextKey = "github.com/changerplanet/WebWaka2-sub010/internal/platform/requestctx/logger"
	traceContextKey  contextKey = "github.com/changerplanet/WebWaka2-sub010/internal/platform/requestctx/trace"
	tenantContextKey contextKey = "github.com/changerplanet/WebWaka2-sub010/internal/platform/requestctx/tenant"
)

var noopLogger = zap.NewNop()

// TraceInfo captures trace metadata propagated through request context.
type TraceInfo struct {
	TraceID   string
	SpanID    string
	Sampled   bool
	ProjectID string
}

// WithLogger stores the logger in context for downstream consumers.
func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if logger == nil {
		logger = noopLogger
	}
	return context.WithValue(ctx, loggerContextKey, logger)
}

// Logger retrieves the zap logger from context or returns a no-op logger.
func Logger(ctx context.Context) *zap.Logger {
	if ctx == nil {
		return noopLogger
	}
	if logger, ok := ctx.Value(loggerContextKey).(*zap.Logger); ok && logger != nil {
		return logger
	}
	return noopLogger
}

func NoopLogger() *zap.Logger { return noopLogger }

// WithTrace stores the trace metadata on the context.
func WithTrace(ctx context.Context, info TraceInfo) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, traceContextKey, info)
}

// Trace retrieves the trace metadata from context when available.
func Trace(ctx context.Context) (TraceInfo, bool) {
	if ctx == nil {
		return TraceInfo{}, false
	}
	info, ok := ctx.Value(traceContextKey).(TraceInfo)
	return info, ok
}

func TraceID(ctx context.Context) string {
	info, _ := Trace(ctx)
	return info.TraceID
}

// WithTenant records the tenant resolved from the request path.
func WithTenant(ctx context.Context, tenant domain.Tenant) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, tenantContextKey, tenant)
}

// Tenant returns the tenant resolved for the request, if any.
func Tenant(ctx context.Context) (domain.Tenant, bool) {
	if ctx == nil {
		return domain.Tenant{}, false
	}
	tenant, ok := ctx.Value(tenantContextKey).(domain.Tenant)
	if !ok || tenant.ID == "" {
		return domain.Tenant{}, false
	}
	return tenant, true
}

// TenantID is a convenience accessor used for log fields and idempotency scoping.
func TenantID(ctx context.Context) string {
	tenant, _ := Tenant(ctx)
	return tenant.ID
}
